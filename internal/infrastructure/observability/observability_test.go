package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wulinbill/loyverse-api/internal/observability"
)

func TestNewFallsBackToNops(t *testing.T) {
	tel := New(Options{})

	require.NotNil(t, tel.Tracer())
	require.NotNil(t, tel.Logger())
	assert.NotPanics(t, func() {
		tel.Metrics().Counter(observability.MUsecaseRequests).Add(1)
		tel.Metrics().Histogram(observability.MUsecaseDuration).Observe(0.1)
		tel.Metrics().Gauge(observability.MPendingDepth).Set(2)
	})
}

func TestNewRegistersStandardMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	tel := New(Options{Registerer: reg, Namespace: "gateway"})

	tel.Metrics().Counter(observability.MCatalogRefreshes).Add(1, observability.L("outcome", "success"))
	tel.Metrics().Counter("unknown_total").Add(1)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "gateway_catalog_refresh_total", families[0].GetName())
}
