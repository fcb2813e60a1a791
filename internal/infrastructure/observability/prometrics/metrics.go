// Package prometrics backs the metric ports with Prometheus vectors.
package prometrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wulinbill/loyverse-api/internal/observability"
)

// Registry creates label-keyed vectors, registering each name once.
type Registry interface {
	Counter(name, help string, labelKeys ...string) observability.Counter
	Histogram(name, help string, buckets []float64, labelKeys ...string) observability.Histogram
	Gauge(name, help string, labelKeys ...string) observability.Gauge
}

type registry struct {
	mu         sync.Mutex
	reg        prometheus.Registerer
	namespace  string
	subsystem  string
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// New returns a Registry that registers its vectors on reg.
// A nil reg means prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, namespace, subsystem string) Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &registry{
		reg:        reg,
		namespace:  namespace,
		subsystem:  subsystem,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

type counter struct{ v *prometheus.CounterVec }

func (c counter) Add(d float64, labels ...observability.Label) { c.v.With(labelMap(labels)).Add(d) }

type histogram struct{ v *prometheus.HistogramVec }

func (h histogram) Observe(v float64, labels ...observability.Label) {
	h.v.With(labelMap(labels)).Observe(v)
}

type gauge struct{ v *prometheus.GaugeVec }

func (g gauge) Set(v float64, labels ...observability.Label) { g.v.With(labelMap(labels)).Set(v) }

func labelMap(ls []observability.Label) prometheus.Labels {
	m := make(prometheus.Labels, len(ls))
	for _, l := range ls {
		m[l.Key] = l.Value
	}
	return m
}

func (r *registry) Counter(name, help string, labelKeys ...string) observability.Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.counters[name]; ok {
		return counter{v: v}
	}
	v := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace, Subsystem: r.subsystem, Name: name, Help: help,
	}, labelKeys)
	r.reg.MustRegister(v)
	r.counters[name] = v
	return counter{v: v}
}

func (r *registry) Histogram(name, help string, buckets []float64, labelKeys ...string) observability.Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.histograms[name]; ok {
		return histogram{v: v}
	}
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	v := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace, Subsystem: r.subsystem, Name: name, Help: help, Buckets: buckets,
	}, labelKeys)
	r.reg.MustRegister(v)
	r.histograms[name] = v
	return histogram{v: v}
}

func (r *registry) Gauge(name, help string, labelKeys ...string) observability.Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.gauges[name]; ok {
		return gauge{v: v}
	}
	v := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: r.namespace, Subsystem: r.subsystem, Name: name, Help: help,
	}, labelKeys)
	r.reg.MustRegister(v)
	r.gauges[name] = v
	return gauge{v: v}
}

// upstreamBuckets spans the 5s..15s client timeout range.
var upstreamBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15}

// Set is the gateway's metric catalogue. It implements observability.Metrics;
// keys outside the catalogue get no-op instruments.
type Set struct {
	counters   map[observability.MetricKey]observability.Counter
	histograms map[observability.MetricKey]observability.Histogram
	gauges     map[observability.MetricKey]observability.Gauge
}

// Standard registers the full catalogue on r.
func Standard(r Registry) *Set {
	counter := func(k observability.MetricKey, help string, labels ...string) observability.Counter {
		return r.Counter(string(k), help, labels...)
	}
	return &Set{
		counters: map[observability.MetricKey]observability.Counter{
			observability.MUsecaseRequests:   counter(observability.MUsecaseRequests, "Use case invocations by outcome.", "use_case", "outcome"),
			observability.MHTTPRequests:      counter(observability.MHTTPRequests, "HTTP requests served.", "method", "route", "status"),
			observability.MExternalRequests:  counter(observability.MExternalRequests, "Calls to upstream APIs.", "peer", "endpoint", "outcome"),
			observability.MTokenRefreshes:    counter(observability.MTokenRefreshes, "Token endpoint calls by grant and outcome.", "grant", "outcome"),
			observability.MCatalogRefreshes:  counter(observability.MCatalogRefreshes, "Catalog refreshes by outcome.", "outcome"),
			observability.MPendingEnqueued:   counter(observability.MPendingEnqueued, "Entries offered to the pending queue (new or duplicate).", "kind", "outcome"),
			observability.MPendingDeadLetter: counter(observability.MPendingDeadLetter, "Pending entries dropped by reason.", "kind", "reason"),
			observability.MPendingAttempts:   counter(observability.MPendingAttempts, "Reconciliation attempts by outcome.", "kind", "outcome"),
		},
		histograms: map[observability.MetricKey]observability.Histogram{
			observability.MUsecaseDuration: r.Histogram(string(observability.MUsecaseDuration),
				"Use case duration in seconds.", nil, "use_case"),
			observability.MHTTPRequestDuration: r.Histogram(string(observability.MHTTPRequestDuration),
				"HTTP request duration in seconds.", nil, "method", "route", "status"),
			observability.MExternalRequestDuration: r.Histogram(string(observability.MExternalRequestDuration),
				"Upstream call duration in seconds.", upstreamBuckets, "peer", "endpoint"),
		},
		gauges: map[observability.MetricKey]observability.Gauge{
			observability.MPendingDepth: r.Gauge(string(observability.MPendingDepth), "Entries waiting in the pending queue."),
			observability.MCatalogItems: r.Gauge(string(observability.MCatalogItems), "Items in the current catalog snapshot."),
		},
	}
}

func (s *Set) Counter(k observability.MetricKey) observability.Counter {
	if c, ok := s.counters[k]; ok {
		return c
	}
	return observability.NopCounter()
}

func (s *Set) Histogram(k observability.MetricKey) observability.Histogram {
	if h, ok := s.histograms[k]; ok {
		return h
	}
	return observability.NopHistogram()
}

func (s *Set) Gauge(k observability.MetricKey) observability.Gauge {
	if g, ok := s.gauges[k]; ok {
		return g
	}
	return observability.NopGauge()
}
