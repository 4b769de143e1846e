// Package metrics provides Prometheus metrics for the memkeys server.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CommandsTotal counts the total number of commands processed
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memkeys_commands_total",
			Help: "Total number of commands processed",
		},
		[]string{"command"},
	)

	// CommandDuration measures the duration of command execution
	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memkeys_command_duration_seconds",
			Help:    "Duration of command execution in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16), // 10µs to ~0.3s
		},
		[]string{"command"},
	)

	// CommandErrors counts the number of command errors
	CommandErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memkeys_command_errors_total",
			Help: "Total number of command errors",
		},
		[]string{"command"},
	)

	// ActiveConnections tracks the number of active client connections
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "memkeys_active_connections",
			Help: "Number of active client connections",
		},
	)

	// ConnectionsTotal counts the total number of connections accepted
	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memkeys_connections_total",
			Help: "Total number of connections accepted",
		},
	)

	// ExpiredKeys counts keys removed because their TTL elapsed
	ExpiredKeys = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memkeys_expired_keys_total",
			Help: "Total number of keys removed by expiry",
		},
	)

	// TxAborted counts EXEC calls aborted by WATCH
	TxAborted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memkeys_tx_aborted_total",
			Help: "Total number of transactions aborted because a watched key changed",
		},
	)

	// PubSubMessages counts messages delivered to subscribers
	PubSubMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memkeys_pubsub_messages_total",
			Help: "Total number of pub/sub messages delivered to subscribers",
		},
	)

	// BlockedClients tracks clients waiting in BLPOP, BRPOP, XREAD or XREADGROUP
	BlockedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "memkeys_blocked_clients",
			Help: "Number of clients blocked on a key",
		},
	)

	keyCounter atomic.Pointer[func() int64]

	_ = promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "memkeys_keys",
			Help: "Number of keys in the keyspace",
		},
		func() float64 {
			if fn := keyCounter.Load(); fn != nil {
				return float64((*fn)())
			}
			return 0
		},
	)
)

// RecordCommand records metrics for a command execution
func RecordCommand(command string, duration time.Duration, isError bool) {
	CommandsTotal.WithLabelValues(command).Inc()
	CommandDuration.WithLabelValues(command).Observe(duration.Seconds())
	if isError {
		CommandErrors.WithLabelValues(command).Inc()
	}
}

// SetKeyCounter sets the function backing the memkeys_keys gauge.
func SetKeyCounter(fn func() int64) {
	keyCounter.Store(&fn)
}

// Server represents a metrics HTTP server
type Server struct {
	server *http.Server
	logger hclog.Logger
}

// NewServer creates a new metrics server
func NewServer(addr string, logger hclog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the HTTP handler serving /metrics and /health.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the metrics server
func (s *Server) Start() error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// metrics are optional, keep serving commands
			s.logger.Error("metrics server failed", "addr", s.server.Addr, "error", err)
		}
	}()
	return nil
}

// Stop gracefully stops the metrics server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
