package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores the Prometheus collectors used across the service.
type Metrics struct {
	Generations    *prometheus.CounterVec
	GenerationTime *prometheus.HistogramVec
	QuotaDenials   *prometheus.CounterVec
	OAuthOutcomes  *prometheus.CounterVec
	SyncOperations *prometheus.CounterVec
	QueueReplays   *prometheus.CounterVec
	Migrations     *prometheus.CounterVec
	Errors         *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
	namespace       = "mockupsuite"
)

// Registry builds and registers the metrics singleton.
func Registry() *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			Generations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Generation requests by kind and outcome.",
			}, []string{"kind", "status"}),
			GenerationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Latency of provider generation calls.",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
			}, []string{"kind"}),
			QuotaDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_denials_total",
				Help:      "Operations rejected by the quota gate.",
			}, []string{"kind", "reason"}),
			OAuthOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "oauth_handshakes_total",
				Help:      "OAuth handshakes by platform and final phase.",
			}, []string{"platform", "phase"}),
			SyncOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "integration_sync_total",
				Help:      "Integration sync operations by platform, operation and status.",
			}, []string{"platform", "operation", "status"}),
			QueueReplays: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "offline_replay_total",
				Help:      "Offline queue replay attempts by result.",
			}, []string{"result"}),
			Migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migrations_total",
				Help:      "Legacy data migrations by result.",
			}, []string{"result"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Categorized errors grouped by component and kind.",
			}, []string{"component", "kind"}),
		}

		prometheus.MustRegister(
			metricsInstance.Generations,
			metricsInstance.GenerationTime,
			metricsInstance.QuotaDenials,
			metricsInstance.OAuthOutcomes,
			metricsInstance.SyncOperations,
			metricsInstance.QueueReplays,
			metricsInstance.Migrations,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveGeneration records one provider call.
func ObserveGeneration(kind string, seconds float64, err error) {
	m := Registry()
	m.Generations.WithLabelValues(kind, status(err)).Inc()
	m.GenerationTime.WithLabelValues(kind).Observe(seconds)
}

func QuotaDenied(kind, reason string) {
	Registry().QuotaDenials.WithLabelValues(kind, reason).Inc()
}

func OAuthFinished(platform, phase string) {
	Registry().OAuthOutcomes.WithLabelValues(platform, phase).Inc()
}

func SyncFinished(platform, operation string, err error) {
	Registry().SyncOperations.WithLabelValues(platform, operation, status(err)).Inc()
}

// Replayed counts queue replay results: applied, retry or dropped.
func Replayed(result string) {
	Registry().QueueReplays.WithLabelValues(result).Inc()
}

func MigrationFinished(success bool) {
	result := "failed"
	if success {
		result = "success"
	}
	Registry().Migrations.WithLabelValues(result).Inc()
}

func Error(component, kind string) {
	Registry().Errors.WithLabelValues(component, kind).Inc()
}
