// Package observability assembles the concrete tracer, logger and metric
// instruments behind the observability.Observability port.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wulinbill/loyverse-api/internal/infrastructure/observability/prometrics"
	"github.com/wulinbill/loyverse-api/internal/observability"
)

// Options selects the backends. Nil members fall back to no-ops; a nil
// Registerer leaves every metric a no-op.
type Options struct {
	Tracer     observability.Tracer
	Logger     observability.Logger
	Registerer prometheus.Registerer
	// Namespace prefixes every metric name, e.g. "gateway".
	Namespace string
}

type provider struct {
	tracer  observability.Tracer
	logger  observability.Logger
	metrics observability.Metrics
}

// New builds the provider and registers the metric catalogue on
// opts.Registerer. Call it once per registerer.
func New(opts Options) observability.Observability {
	p := &provider{
		tracer:  opts.Tracer,
		logger:  opts.Logger,
		metrics: observability.NopMetrics(),
	}
	if p.tracer == nil {
		p.tracer = observability.NopTracer()
	}
	if p.logger == nil {
		p.logger = observability.NopLogger()
	}
	if opts.Registerer != nil {
		p.metrics = prometrics.Standard(prometrics.New(opts.Registerer, opts.Namespace, ""))
	}
	return p
}

func (p *provider) Tracer() observability.Tracer   { return p.tracer }
func (p *provider) Logger() observability.Logger   { return p.logger }
func (p *provider) Metrics() observability.Metrics { return p.metrics }
