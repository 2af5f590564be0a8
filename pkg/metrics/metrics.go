package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adshub/adshub-go/pkg/codec"
	"github.com/adshub/adshub-go/pkg/connection"
	"github.com/adshub/adshub-go/pkg/hub"
	"github.com/adshub/adshub-go/pkg/log"
	"github.com/adshub/adshub-go/pkg/subscription"
	"github.com/adshub/adshub-go/pkg/transport"
)

// Config configures metrics collection.
type Config struct {
	// Enabled controls whether metrics are collected.
	Enabled bool

	// ListenAddress is the address of the metrics HTTP endpoint.
	ListenAddress string

	// Path is the HTTP path of the endpoint.
	Path string

	// Namespace prefixes every metric name.
	Namespace string

	// Buckets are the operation duration histogram buckets in seconds.
	Buckets []float64
}

// DefaultConfig returns the default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		ListenAddress: ":9851",
		Path:          "/metrics",
		Namespace:     "adshub",
		Buckets:       []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}
}

// Metrics collects hub metrics.
type Metrics struct {
	config Config

	// Connection metrics
	connectionState   *prometheus.GaugeVec
	stateTransitions  *prometheus.CounterVec
	reconnectsPlanned prometheus.Counter
	reconnectDelay    prometheus.Gauge

	// Operation metrics
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationErrors   *prometheus.CounterVec

	// Subscription metrics
	updates  *prometheus.CounterVec
	degraded prometheus.Counter

	registry *prometheus.Registry
}

var states = []connection.State{
	connection.StateDisconnected,
	connection.StateConnecting,
	connection.StateConnected,
	connection.StateReconnecting,
	connection.StateShuttingDown,
}

// New creates a metrics collector.
func New(cfg Config) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		connectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connection_state",
				Help:      "Current connection state (1 for the active state)",
			},
			[]string{"state"},
		),
		stateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_transitions_total",
				Help:      "Total number of connection state transitions",
			},
			[]string{"from", "to"},
		),
		reconnectsPlanned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnect_attempts_scheduled_total",
				Help:      "Total number of scheduled reconnect attempts",
			},
		),
		reconnectDelay: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reconnect_delay_seconds",
				Help:      "Delay of the most recently scheduled reconnect attempt",
			},
		),

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of session calls",
			},
			[]string{"operation", "result"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of session calls including the wait for the session",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		operationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_errors_total",
				Help:      "Total number of failed session calls by error class",
			},
			[]string{"operation", "class"},
		),

		updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "updates_delivered_total",
				Help:      "Total number of values delivered to consumers",
			},
			[]string{"source"},
		),
		degraded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subscriptions_degraded_total",
				Help:      "Total number of notification registrations that fell back to polling",
			},
		),
	}

	registry.MustRegister(
		m.connectionState,
		m.stateTransitions,
		m.reconnectsPlanned,
		m.reconnectDelay,
		m.operations,
		m.operationDuration,
		m.operationErrors,
		m.updates,
		m.degraded,
	)

	m.setState(connection.StateDisconnected)
	return m, nil
}

// Enabled reports whether metrics are collected.
func (m *Metrics) Enabled() bool {
	return m.registry != nil
}

// Registry returns the underlying registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// StateChanged implements hub.Observer.
func (m *Metrics) StateChanged(oldState, newState connection.State, _ string) {
	if m.registry == nil {
		return
	}
	m.stateTransitions.WithLabelValues(oldState.String(), newState.String()).Inc()
	m.setState(newState)
}

// Reconnecting implements hub.Observer.
func (m *Metrics) Reconnecting(_ int, delay time.Duration) {
	if m.registry == nil {
		return
	}
	m.reconnectsPlanned.Inc()
	m.reconnectDelay.Set(delay.Seconds())
}

// OperationCompleted implements hub.Observer.
func (m *Metrics) OperationCompleted(kind log.OpKind, duration time.Duration, err error) {
	if m.registry == nil {
		return
	}
	op := kind.String()
	m.operationDuration.WithLabelValues(op).Observe(duration.Seconds())
	if err == nil {
		m.operations.WithLabelValues(op, "ok").Inc()
		return
	}
	m.operations.WithLabelValues(op, "error").Inc()
	m.operationErrors.WithLabelValues(op, ErrorClass(err)).Inc()
}

// UpdateDelivered implements hub.Observer.
func (m *Metrics) UpdateDelivered(u subscription.Update) {
	if m.registry == nil {
		return
	}
	m.updates.WithLabelValues(u.Source.String()).Inc()
}

// SubscriptionDegraded implements hub.Observer.
func (m *Metrics) SubscriptionDegraded(subscription.Key, error) {
	if m.registry == nil {
		return
	}
	m.degraded.Inc()
}

// DiagnosticsSource provides hub snapshots.
type DiagnosticsSource interface {
	Diagnostics() hub.Diagnostics
}

// Track exports subscription gauges read from src at scrape time.
func (m *Metrics) Track(src DiagnosticsSource) error {
	if m.registry == nil {
		return nil
	}

	gauge := func(name, help string, fn func(hub.Diagnostics) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: m.config.Namespace, Name: name, Help: help},
			func() float64 { return fn(src.Diagnostics()) },
		)
	}

	collectors := []prometheus.Collector{
		gauge("subscriptions", "Current number of subscriptions",
			func(d hub.Diagnostics) float64 { return float64(d.Subscriptions) }),
		gauge("notifications_active", "Subscriptions served by device notifications",
			func(d hub.Diagnostics) float64 { return float64(d.ActiveNotifications) }),
		gauge("subscriptions_polled", "Subscriptions served by polling",
			func(d hub.Diagnostics) float64 { return float64(d.Polled) }),
		gauge("subscriptions_unavailable", "Subscriptions whose recent reads failed",
			func(d hub.Diagnostics) float64 { return float64(d.Unavailable) }),
		gauge("updates_dropped", "Updates dropped because the dispatch queue was full",
			func(d hub.Diagnostics) float64 { return float64(d.DroppedUpdates) }),
		gauge("operations_pending", "Callers waiting for the session",
			func(d hub.Diagnostics) float64 { return float64(d.PendingOperations) }),
		gauge("circuit_breaker_open", "1 while session calls are rejected by the circuit breaker",
			func(d hub.Diagnostics) float64 {
				if d.Breaker.State == connection.BreakerOpen.String() {
					return 1
				}
				return 0
			}),
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler returns the HTTP handler of the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve runs the metrics endpoint until ctx is done.
func (m *Metrics) Serve(ctx context.Context) error {
	if m.registry == nil {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// ErrorClass labels err for metrics.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case transport.IsTimeout(err):
		return "timeout"
	case transport.IsConnectionError(err):
		return "connection"
	case errors.Is(err, codec.ErrTypeConversion):
		return "conversion"
	}
	if _, ok := transport.DeviceCode(err); ok {
		return "device"
	}
	return "other"
}

func (m *Metrics) setState(current connection.State) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1.0
		}
		m.connectionState.WithLabelValues(s.String()).Set(v)
	}
}

var _ hub.Observer = (*Metrics)(nil)
