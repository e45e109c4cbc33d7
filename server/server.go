// Package server is the HTTP surface: the webhook endpoint, a health
// check and the Prometheus metrics.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

const healthTimeout = 5 * time.Second

// Pinger is a dependency the health check pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	// Secret is the path segment the webhook is served under.
	Secret string
	// Updates receives the webhook requests whose secret matched.
	Updates http.Handler
	Store   Pinger
}

type Server struct {
	app    *fiber.App
	secret []byte
	store  Pinger
}

var (
	promOnce sync.Once
	prom     *fiberprometheus.FiberPrometheus
)

// requestMetrics is shared by every server; its collectors live in the
// default registry and may be registered only once.
func requestMetrics() *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		prom = fiberprometheus.NewWithDefaultRegistry("modbot")
	})
	return prom
}

func New(cfg Config) *Server {
	s := &Server{secret: []byte(cfg.Secret), store: cfg.Store}
	s.app = fiber.New(fiber.Config{
		AppName:               "modbot",
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			if code >= fiber.StatusInternalServerError {
				slog.Error("server: request failed", "path", c.Path(), "error", err)
			}
			return c.SendStatus(code)
		},
	})

	m := requestMetrics()
	s.app.Use(recover.New())
	s.app.Use(m.Middleware)
	m.RegisterAt(s.app, "/metrics")

	s.app.Get("/healthz", s.health)
	if cfg.Updates != nil && cfg.Secret != "" {
		s.app.Post("/webhook/:secret", s.checkSecret, adaptor.HTTPHandler(cfg.Updates))
	}
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	slog.Info("server: listening", "addr", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// checkSecret answers 404 for any path secret but ours, so the endpoint
// is indistinguishable from a missing route.
func (s *Server) checkSecret(c *fiber.Ctx) error {
	if subtle.ConstantTimeCompare([]byte(c.Params("secret")), s.secret) != 1 {
		return fiber.ErrNotFound
	}
	return c.Next()
}

func (s *Server) health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
	defer cancel()

	dbStatus := "healthy"
	if s.store == nil {
		dbStatus = "unavailable"
	} else if err := s.store.Ping(ctx); err != nil {
		slog.Warn("server: health check failed", "error", err)
		dbStatus = "unhealthy"
	}

	status := fiber.StatusOK
	if dbStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"status": dbStatus,
		"checks": fiber.Map{"database": dbStatus},
		"time":   time.Now().UTC(),
	})
}
