package corekit

import (
	"context"
	"time"
)

// ObservationHooks captures optional callbacks for arbitrary operations, let
// the metrics and logging layers attach to executor/lifecycle/engine
// operations without those packages importing metrics or logging directly.
type ObservationHooks struct {
	OnStart    func(ctx context.Context, meta map[string]string)
	OnComplete func(ctx context.Context, meta map[string]string, err error, duration time.Duration)
}

// NoopObservationHooks is the safe default.
var NoopObservationHooks = ObservationHooks{}

// StartObservation fires OnStart and returns a completion callback invoking
// OnComplete with the elapsed duration.
func StartObservation(ctx context.Context, hooks ObservationHooks, meta map[string]string) func(error) {
	if hooks.OnStart != nil {
		hooks.OnStart(ctx, meta)
	}
	start := time.Now()
	return func(err error) {
		if hooks.OnComplete != nil {
			hooks.OnComplete(ctx, meta, err, time.Since(start))
		}
	}
}

// DispatchHooks is an alias used at dispatch sites (scheduler tick, event
// bus publish) that conceptually dispatch rather than observe a single call.
type DispatchHooks = ObservationHooks

// NoopDispatchHooks is the safe default for dispatchers.
var NoopDispatchHooks = NoopObservationHooks

// StartDispatch triggers dispatch hooks and defers to StartObservation.
func StartDispatch(ctx context.Context, hooks DispatchHooks, meta map[string]string) func(error) {
	return StartObservation(ctx, hooks, meta)
}
