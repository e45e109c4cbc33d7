// Package interval runs the periodic sweepers that reconcile rows past
// their deadline with the chat: expired captcha challenges and tracked
// messages.
package interval

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tg-moderation-bot/metrics"
)

const (
	defaultCallTimeout = 10 * time.Second
	maxParallelCalls   = 8
)

type Options struct {
	Period time.Duration
	// CallTimeout bounds each remote call of a sweep.
	CallTimeout time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// item is one expired row and the remote action that settles it.
type item struct {
	id  int64
	act func(ctx context.Context) error
}

// Sweeper ticks on a fixed period. Each tick lists expired rows, runs the
// remote action of every row not already in flight and closes out the
// settled rows in one batch.
type Sweeper struct {
	name   string
	opts   Options
	list   func(ctx context.Context, now time.Time) ([]item, error)
	settle func(ctx context.Context, ids []int64) (int64, error)

	inflight sync.Map
	pending  atomic.Int64
	ticks    atomic.Int64
}

func newSweeper(name string, opts Options) *Sweeper {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sweeper{name: name, opts: opts}
}

func (s *Sweeper) Name() string { return s.name }

// Ticks returns how many sweeps have started.
func (s *Sweeper) Ticks() int64 { return s.ticks.Load() }

// InFlight returns how many rows have a remote call in progress.
func (s *Sweeper) InFlight() int64 { return s.pending.Load() }

// Run ticks until ctx is done. Every tick starts its own sweep, so a
// remote call that hangs never delays the next one.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Period)
	defer ticker.Stop()
	slog.Info("interval: sweeper started", "sweeper", s.name, "period", s.opts.Period)

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			slog.Info("interval: sweeper stopped", "sweeper", s.name)
			return
		case <-ticker.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("interval: sweep failed", "sweeper", s.name, "error", err)
				}
			}()
		}
	}
}

// Tick runs one sweep and returns the number of rows closed out.
func (s *Sweeper) Tick(ctx context.Context) (int64, error) {
	s.ticks.Add(1)
	metrics.SweeperTicks.WithLabelValues(s.name).Inc()

	items, err := s.list(ctx, s.opts.Now())
	if err != nil {
		return 0, err
	}

	var (
		mu      sync.Mutex
		settled []int64
		g       errgroup.Group
	)
	g.SetLimit(maxParallelCalls)
	for _, it := range items {
		if _, busy := s.inflight.LoadOrStore(it.id, struct{}{}); busy {
			continue
		}
		s.pending.Add(1)
		g.Go(func() error {
			defer func() {
				s.inflight.Delete(it.id)
				s.pending.Add(-1)
			}()
			callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
			defer cancel()
			err := it.act(callCtx)
			if err != nil {
				slog.Warn("interval: remote call failed", "sweeper", s.name, "row_id", it.id, "error", err)
			}
			// Timed out calls are retried next tick; any other failure is
			// final, the remote side will not change by asking again.
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil
			}
			mu.Lock()
			settled = append(settled, it.id)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(settled) == 0 {
		return 0, nil
	}
	n, err := s.settle(context.WithoutCancel(ctx), settled)
	if err != nil {
		return 0, err
	}
	metrics.SweeperRows.WithLabelValues(s.name).Add(float64(n))
	slog.Debug("interval: sweep settled rows", "sweeper", s.name, "rows", n)
	return n, nil
}
