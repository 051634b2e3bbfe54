package fhirpath

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsDispatchCache(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	cfg := NewConfiguration(WithMetrics(m), WithRegistry(DefaultRegistry()))
	ctx := context.Background()

	for range 2 {
		_, err := Evaluate(ctx, "1 + 1", nil, cfg)
		require.NoError(t, err)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatchMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatchHits))
}

func TestMetricsTypeCache(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	p := newCountingProvider(testModel()...)
	cfg := NewConfiguration(WithMetrics(m), WithModelProvider(p))
	cfg.Reflector = NewTypeReflector(0)
	cfg.Reflector.Metrics = m
	patient := MustParseJSON(patientJSON)
	ctx := context.Background()

	for range 2 {
		got, err := Evaluate(ctx, "type().name", patient, cfg)
		require.NoError(t, err)
		assert.Equal(t, Collection{String("Patient")}, got)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.typeMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.typeHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerCalls.WithLabelValues("GetTypeInfo", "found")))

	_, _, err := cfg.Reflector.ClassInfo(ctx, p, "Nothing")
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerCalls.WithLabelValues("GetTypeInfo", "not_found")))
}

func TestMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) }, "registering twice")

	// nil metrics record nothing
	var m *Metrics
	assert.NotPanics(t, func() {
		m.dispatch(true)
		m.typeLookup(false)
		m.providerCall("GetTypeInfo", nil, true)
	})
}
