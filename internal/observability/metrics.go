package observability

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus counters shared by the pipeline stages.
type Metrics struct {
	MatchingRuns         prometheus.Counter
	MatchesProduced      prometheus.Counter
	FireLocationsMatched prometheus.Counter
	MatchingErrors       prometheus.Counter

	NotifyingRuns     prometheus.Counter
	NotificationsSent prometheus.Counter
	DeliveryFailures  prometheus.Counter

	HarvestRuns           prometheus.Counter
	FireLocationsIngested prometheus.Counter
}

// New creates the pipeline metrics and registers them with reg. Tests pass a
// fresh registry to avoid duplicate-registration panics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MatchingRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emberwatch",
			Name:      "matching_runs_total",
			Help:      "Total matching passes started.",
		}),
		MatchesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emberwatch",
			Name:      "subscription_matches_total",
			Help:      "Total persisted subscription matches.",
		}),
		FireLocationsMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emberwatch",
			Name:      "matched_fire_locations_total",
			Help:      "Total fire locations newly matched to a subscription.",
		}),
		MatchingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emberwatch",
			Name:      "matching_errors_total",
			Help:      "Total failures while loading candidates or persisting a match.",
		}),
		NotifyingRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emberwatch",
			Name:      "notifying_runs_total",
			Help:      "Total notification passes started.",
		}),
		NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emberwatch",
			Name:      "notifications_sent_total",
			Help:      "Total successfully delivered and recorded notifications.",
		}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emberwatch",
			Name:      "delivery_failures_total",
			Help:      "Total failed delivery attempts.",
		}),
		HarvestRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emberwatch",
			Name:      "harvest_runs_total",
			Help:      "Total harvest runs against a source feed.",
		}),
		FireLocationsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emberwatch",
			Name:      "fire_locations_ingested_total",
			Help:      "Total new fire locations persisted by the harvester.",
		}),
	}

	reg.MustRegister(
		m.MatchingRuns,
		m.MatchesProduced,
		m.FireLocationsMatched,
		m.MatchingErrors,
		m.NotifyingRuns,
		m.NotificationsSent,
		m.DeliveryFailures,
		m.HarvestRuns,
		m.FireLocationsIngested,
	)

	return m
}

// ListenAndServe exposes /metrics on addr. Meant to run in its own goroutine
// for the lifetime of the process.
func ListenAndServe(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("metrics listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server stopped", "error", err)
	}
}
