package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes training progress as Prometheus collectors.
type Metrics struct {
	generations    *prometheus.CounterVec
	bestScore      *prometheus.GaugeVec
	meanScore      *prometheus.GaugeVec
	completionRate *prometheus.GaugeVec
	hallOfFameSize prometheus.Gauge
	generalists    prometheus.Gauge
	mode           *prometheus.GaugeVec
	duration       prometheus.Histogram
	persistErrors  prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "racer_generations_total",
			Help: "Generations completed, by strategy.",
		}, []string{"strategy"}),
		bestScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "racer_best_score",
			Help: "Best score of the latest generation per track.",
		}, []string{"track"}),
		meanScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "racer_mean_score",
			Help: "Mean score of the latest generation per track.",
		}, []string{"track"}),
		completionRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "racer_completion_rate",
			Help: "Fraction of vehicles that finished, per track.",
		}, []string{"track"}),
		hallOfFameSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "racer_hall_of_fame_genomes",
			Help: "Distinct genomes in the hall of fame.",
		}),
		generalists: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "racer_hall_of_fame_generalists",
			Help: "Hall of fame genomes that finish every evaluated track.",
		}),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "racer_hyperparameter_mode",
			Help: "1 for the active hyperparameter mode.",
		}, []string{"mode"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "racer_generation_seconds",
			Help:    "Wall time per generation.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "racer_persist_errors_total",
			Help: "Failed snapshot writes.",
		}),
	}
	reg.MustRegister(
		m.generations, m.bestScore, m.meanScore, m.completionRate,
		m.hallOfFameSize, m.generalists, m.mode, m.duration, m.persistErrors,
	)
	return m
}

// Observe records one generation. Safe on a nil receiver.
func (m *Metrics) Observe(r GenerationRecord) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(r.Strategy).Inc()
	m.bestScore.WithLabelValues(r.Track).Set(r.Max)
	m.meanScore.WithLabelValues(r.Track).Set(r.Mean)
	m.completionRate.WithLabelValues(r.Track).Set(r.CompletionRate)
	m.hallOfFameSize.Set(float64(r.HallOfFameSize))
	m.generalists.Set(float64(r.Generalists))
	m.duration.Observe(float64(r.DurationMS) / 1000)

	m.mode.Reset()
	if r.Mode != "" {
		m.mode.WithLabelValues(r.Mode).Set(1)
	}
}

// PersistFailed counts a failed snapshot write. Safe on a nil receiver.
func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.persistErrors.Inc()
}
