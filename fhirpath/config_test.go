package fhirpath

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfiguration(t *testing.T) {
	doc := `
timeout: 250ms
precision: 28
maxDepth: 64
dispatchCacheSize: 16
typeCacheSize: 8
variables:
  threshold: 5
  codes: [a, b]
`
	cfg, err := LoadConfiguration(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
	assert.Equal(t, uint32(28), cfg.Precision)
	assert.Equal(t, 64, cfg.MaxDepth)
	require.NotNil(t, cfg.Registry)
	require.NotNil(t, cfg.Reflector)
	assert.Equal(t, Collection{Integer(5)}, cfg.Variables["threshold"])
	assert.Equal(t, Collection{String("a"), String("b")}, cfg.Variables["codes"])

	got, err := Evaluate(context.Background(), "%codes.count() + %threshold", nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, Collection{Integer(7)}, got)
}

func TestLoadConfigurationOptionsOverride(t *testing.T) {
	cfg, err := LoadConfiguration(strings.NewReader("timeout: 1s"), WithTimeout(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Timeout)
}

func TestLoadConfigurationEmpty(t *testing.T) {
	cfg, err := LoadConfiguration(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, cfg.timeout())
	assert.Equal(t, DefaultMaxDepth, cfg.maxDepth())
}

func TestLoadConfigurationInvalid(t *testing.T) {
	for name, doc := range map[string]string{
		"timeout":   "timeout: soon",
		"structure": "variables: [1, 2]",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfiguration(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestMaxDepth(t *testing.T) {
	cfg := Configuration{MaxDepth: 8}
	_, err := Evaluate(context.Background(), "1 + 1 + 1 + 1 + 1 + 1 + 1 + 1 + 1 + 1", nil, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum depth")

	_, err = Evaluate(context.Background(), "1 + 1", nil, cfg)
	assert.NoError(t, err)
}

func TestTraceLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	cfg := NewConfiguration(WithLogger(&logger))
	cfg.Tracer = LogTracer{Logger: &logger}

	got, err := Evaluate(context.Background(), "(1 | 2).trace('numbers')", nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, Collection{Integer(1), Integer(2)}, got)
	assert.Contains(t, buf.String(), `"name":"numbers"`)
	assert.Contains(t, buf.String(), `"count":2`)
}

type recordingTracer struct {
	names  []string
	values []Collection
}

func (r *recordingTracer) Log(_ context.Context, name string, c Collection) error {
	r.names = append(r.names, name)
	r.values = append(r.values, c)
	return nil
}

func TestTraceProjection(t *testing.T) {
	tracer := &recordingTracer{}
	ctx := WithTracer(context.Background(), tracer)

	got, err := Evaluate(ctx, "(1 | 2).trace('doubled', select($this * 2))", nil, Configuration{})
	require.NoError(t, err)
	assert.Equal(t, Collection{Integer(1), Integer(2)}, got)
	assert.Equal(t, []string{"doubled"}, tracer.names)
	assert.Equal(t, []Collection{{Integer(2), Integer(4)}}, tracer.values)
}
