package logctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wulinbill/loyverse-api/internal/observability"
)

type named struct {
	observability.Logger
	name string
}

func TestFromOrPrefersRequestLogger(t *testing.T) {
	request := named{Logger: observability.NopLogger(), name: "request"}
	component := named{Logger: observability.NopLogger(), name: "component"}

	ctx := With(context.Background(), request)
	assert.Equal(t, request, FromOr(ctx, component))
	assert.Equal(t, component, FromOr(context.Background(), component))
	assert.NotNil(t, FromOr(context.Background(), nil))
}

func TestWithNilLoggerKeepsContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, With(ctx, nil))
	assert.Nil(t, From(ctx))
}
