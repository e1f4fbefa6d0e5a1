package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Stream kinds used as the "kind" label.
const (
	KindChat   = "chat"
	KindPreset = "preset"
)

type Metrics struct {
	StreamsStarted   *prometheus.CounterVec
	StreamsCompleted *prometheus.CounterVec
	StreamsFailed    *prometheus.CounterVec
	StreamsCancelled *prometheus.CounterVec
	MessagesStored   *prometheus.CounterVec
	PresetRuns       prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

// Global returns the process-wide metrics registered on the default registry.
func Global() *Metrics {
	once.Do(func() {
		global = New(prometheus.DefaultRegisterer)
	})
	return global
}

// New creates a metrics set registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StreamsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deskchat",
			Name:      "streams_started_total",
			Help:      "Completion streams started",
		}, []string{"kind"}),
		StreamsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deskchat",
			Name:      "streams_completed_total",
			Help:      "Completion streams that finished normally",
		}, []string{"kind"}),
		StreamsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deskchat",
			Name:      "streams_failed_total",
			Help:      "Completion streams aborted by a remote error",
		}, []string{"kind"}),
		StreamsCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deskchat",
			Name:      "streams_cancelled_total",
			Help:      "Completion streams stopped by the user or on shutdown",
		}, []string{"kind"}),
		MessagesStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deskchat",
			Name:      "messages_stored_total",
			Help:      "Chat messages written to the database",
		}, []string{"role"}),
		PresetRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deskchat",
			Name:      "preset_runs_total",
			Help:      "Preset runs recorded",
		}),
	}
	reg.MustRegister(m.StreamsStarted, m.StreamsCompleted, m.StreamsFailed, m.StreamsCancelled, m.MessagesStored, m.PresetRuns)
	return m
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics listener started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
