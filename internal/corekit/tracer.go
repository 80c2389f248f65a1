package corekit

import "context"

// Tracer starts and finishes spans for cross-cutting observability. Real
// implementations adapt to an external tracing backend; chengis ships only
// NoopTracer, leaving the seam open for callers that want one.
type Tracer interface {
	// StartSpan returns a derived context and a completion callback that
	// must be invoked with the final error (if any) when the span ends.
	StartSpan(ctx context.Context, name string, attributes map[string]string) (context.Context, func(error))
}

type noopTracer struct{}

func (noopTracer) StartSpan(ctx context.Context, _ string, _ map[string]string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// NoopTracer is the default tracer used when none is configured.
var NoopTracer Tracer = noopTracer{}
