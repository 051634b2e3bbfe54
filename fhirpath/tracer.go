package fhirpath

import (
	"context"

	"github.com/rs/zerolog"
)

// Tracer receives the values passed to trace().
type Tracer interface {
	// Log logs a trace message with the given name and collection
	Log(ctx context.Context, name string, collection Collection) error
}

// LogTracer writes traces as zerolog debug events.
//
// A zero LogTracer uses the logger attached to the context.
type LogTracer struct {
	Logger *zerolog.Logger
}

func (t LogTracer) Log(ctx context.Context, name string, collection Collection) error {
	logger := t.Logger
	if logger == nil {
		logger = zerolog.Ctx(ctx)
	}
	logger.Debug().
		Str("name", name).
		Int("count", len(collection)).
		Str("values", collection.String()).
		Msg("fhirpath trace")
	return nil
}

type tracerKey struct{}

// WithTracer installs the given tracer into the context.
//
// It is used when the Configuration carries no tracer.
//
//	ctx = fhirpath.WithTracer(ctx, MyTracer{})
func WithTracer(ctx context.Context, tracer Tracer) context.Context {
	return context.WithValue(ctx, tracerKey{}, tracer)
}

func tracerFrom(ctx context.Context) Tracer {
	if t, ok := ctx.Value(tracerKey{}).(Tracer); ok && t != nil {
		return t
	}
	return LogTracer{}
}
