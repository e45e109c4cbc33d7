// Package metrics holds the bot's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpdatesTotal counts resolved updates by kind.
	UpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modbot_updates_total",
		Help: "Total number of updates received by kind",
	}, []string{"kind"})

	// UnrecognizedUpdates counts updates dropped by the resolver.
	UnrecognizedUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modbot_unrecognized_updates_total",
		Help: "Total number of updates matching no known variant",
	})

	// HandledTotal counts handler invocations by route.
	HandledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modbot_handled_total",
		Help: "Total number of handler invocations by route",
	}, []string{"route"})

	// HandlerFailures counts handler invocations that returned an error or panicked.
	HandlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modbot_handler_failures_total",
		Help: "Total number of failed handler invocations by route",
	}, []string{"route"})

	// RemoteFailures counts rejected bot API calls by method.
	RemoteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modbot_remote_failures_total",
		Help: "Total number of failed bot API calls by method",
	}, []string{"method"})

	// CacheErrors counts redis errors by command.
	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modbot_cache_errors_total",
		Help: "Total number of cache errors by command",
	}, []string{"command"})

	// SweeperTicks counts sweeper runs.
	SweeperTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modbot_sweeper_ticks_total",
		Help: "Total number of sweeper ticks",
	}, []string{"sweeper"})

	// SweeperRows counts rows reconciled by sweepers.
	SweeperRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modbot_sweeper_rows_total",
		Help: "Total number of rows reconciled by sweepers",
	}, []string{"sweeper"})
)
