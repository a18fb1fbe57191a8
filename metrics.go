package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	refreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "srtsniper",
		Name:      "refreshes_total",
		Help:      "Total results-page refreshes",
	})

	passesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "srtsniper",
		Name:      "passes_total",
		Help:      "Total evaluation passes over the configured ranks",
	})

	unreadableTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "srtsniper",
		Name:      "unreadable_candidates_total",
		Help:      "Ranks deferred to the next pass because they could not be read",
	})

	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "srtsniper",
		Name:      "attempts_total",
		Help:      "Booking attempts by kind and outcome",
	}, []string{"kind", "outcome"})

	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "srtsniper",
		Name:      "searches_total",
		Help:      "Search submissions by result",
	}, []string{"result"})
)

func recordAttempt(kind string, outcome AttemptOutcome) {
	attemptsTotal.WithLabelValues(kind, string(outcome)).Inc()
}

func recordSearch(err error) {
	if err != nil {
		searchesTotal.WithLabelValues("error").Inc()
		return
	}
	searchesTotal.WithLabelValues("ok").Inc()
}

// serveMetrics exposes /metrics on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	Log.WithField("addr", addr).Info("metrics listener started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
