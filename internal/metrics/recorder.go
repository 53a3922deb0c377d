// Package metrics exposes run statistics as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"evoprot/internal/evo"
	"evoprot/internal/model"
)

const namespace = "evoprot"

// Recorder implements evo.Observer on its own registry so several runs in one
// process do not collide.
type Recorder struct {
	registry *prometheus.Registry

	units        *prometheus.CounterVec
	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
	churns       prometheus.Counter
	churnSeconds prometheus.Histogram
	iteration    prometheus.Gauge
	bestTotal    prometheus.Gauge
}

var _ evo.Observer = (*Recorder)(nil)

func NewRecorder(runID string) *Recorder {
	labels := prometheus.Labels{"run_id": runID}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "units_dispatched_total",
			Help:        "Prediction units dispatched to the worker pool, by role.",
			ConstLabels: labels,
		}, []string{"role"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "cache_hits_total",
			Help:        "Pool members whose score was already cached.",
			ConstLabels: labels,
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "cache_misses_total",
			Help:        "Pool members that had to be scored.",
			ConstLabels: labels,
		}),
		churns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "churn_calls_total",
			Help:        "Batch dispatch calls.",
			ConstLabels: labels,
		}),
		churnSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "churn_duration_seconds",
			Help:        "Wall time of one batch dispatch.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
		}),
		iteration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "iteration",
			Help:        "Last completed iteration.",
			ConstLabels: labels,
		}),
		bestTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "best_total",
			Help:        "Best total score of the last completed iteration.",
			ConstLabels: labels,
		}),
	}
	r.registry.MustRegister(r.units, r.cacheHits, r.cacheMisses, r.churns, r.churnSeconds, r.iteration, r.bestTotal)
	return r
}

func (r *Recorder) CacheLookups(hits, misses int) {
	r.cacheHits.Add(float64(hits))
	r.cacheMisses.Add(float64(misses))
}

func (r *Recorder) Churned(units []model.WorkUnit, elapsed time.Duration) {
	r.churns.Inc()
	r.churnSeconds.Observe(elapsed.Seconds())
	for _, unit := range units {
		r.units.WithLabelValues(string(unit.Role.Kind)).Inc()
	}
}

func (r *Recorder) IterationCompleted(iteration int, best float64) {
	r.iteration.Set(float64(iteration))
	r.bestTotal.Set(best)
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
