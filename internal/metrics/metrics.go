// Package metrics exposes Prometheus collectors for the stream broker.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ffaiyaz23/streamrelay/internal/stream"
)

const namespace = "streamrelay"

// Collector records registry and job activity. It implements
// stream.Observer so it can be handed straight to stream.NewRegistry.
type Collector struct {
	registry *prometheus.Registry

	pending    prometheus.Gauge
	registered prometheus.Counter
	attaches   *prometheus.CounterVec
	forgotten  prometheus.Counter

	jobs             *prometheus.CounterVec
	jobDuration      prometheus.Histogram
	generatedBytes   prometheus.Counter
	deliveryFailures prometheus.Counter
}

// NewCollector registers all collectors on a fresh registry, together with
// the Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "pending_jobs",
			Help:      "Jobs registered and not yet attached or forgotten.",
		}),
		registered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "registered_total",
			Help:      "Attach handles registered.",
		}),
		attaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "attach_attempts_total",
			Help:      "Attach attempts by result (found, missing).",
		}, []string{"result"}),
		forgotten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "forgotten_total",
			Help:      "Entries dropped because their job gave up before anyone attached.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "finished_total",
			Help:      "Finished generation jobs by outcome.",
		}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Time from job start until its output was delivered or abandoned.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 300},
		}),
		generatedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "generated_bytes_total",
			Help:      "Bytes of text produced by upstream sources.",
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "delivery_failures_total",
			Help:      "Jobs whose consumer went away before the stream ended.",
		}),
	}
	reg.MustRegister(
		c.pending, c.registered, c.attaches, c.forgotten,
		c.jobs, c.jobDuration, c.generatedBytes, c.deliveryFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registered(pending int) {
	c.registered.Inc()
	c.pending.Set(float64(pending))
}

func (c *Collector) Attached(found bool, pending int) {
	result := "missing"
	if found {
		result = "found"
	}
	c.attaches.WithLabelValues(result).Inc()
	c.pending.Set(float64(pending))
}

func (c *Collector) Forgotten(pending int) {
	c.forgotten.Inc()
	c.pending.Set(float64(pending))
}

// ObserveJob records a finished job.
func (c *Collector) ObserveJob(res stream.Result, d time.Duration) {
	c.jobs.WithLabelValues(Outcome(res)).Inc()
	c.jobDuration.Observe(d.Seconds())
	c.generatedBytes.Add(float64(len(res.Text)))
	if res.DeliveryErr != nil {
		c.deliveryFailures.Inc()
	}
}

// Outcome classifies a job result for the outcome label.
func Outcome(res stream.Result) string {
	switch {
	case res.Abandoned:
		return "abandoned"
	case res.Err != nil:
		return "upstream_error"
	case res.DeliveryErr != nil:
		return "consumer_gone"
	default:
		return "delivered"
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

var _ stream.Observer = (*Collector)(nil)
