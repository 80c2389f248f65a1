// Package eventbus implements the process-wide publish/subscribe hub keyed
// on build id, separating critical lifecycle events (blocking, timeout-
// bounded delivery) from log-line noise (best-effort, drop-on-full).
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sremani/chengis/internal/corekit"
	"github.com/sremani/chengis/internal/domain/event"
	"github.com/sremani/chengis/internal/logging"
)

const (
	// MainChannelBuffer is the minimum main-channel buffer size.
	MainChannelBuffer = 4096
	// SubscriberBuffer is the minimum per-subscriber queue size.
	SubscriberBuffer = 256
)

// PublishResult reports what happened to a published event.
type PublishResult string

const (
	PublishOK      PublishResult = "ok"
	PublishTimeout PublishResult = "timeout"
	PublishDropped PublishResult = "dropped"
)

// Subscription is a per-subscriber bounded queue of events for one build.
type Subscription struct {
	ID      string
	BuildID string
	Events  chan event.Event

	bus *Bus
}

// Close detaches and releases the subscriber queue.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// Bus is the event hub. Zero value is not usable; construct with New.
type Bus struct {
	log            *logging.Logger
	tracer         corekit.Tracer
	publishTimeout time.Duration

	main chan event.Event

	mu   sync.RWMutex
	subs map[string]map[string]*Subscription // buildID -> subID -> sub

	depthGauge func(depth int)

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Bus at construction.
type Option func(*Bus)

// WithTracer attaches a tracer used for publish/dispatch spans.
func WithTracer(tracer corekit.Tracer) Option {
	return func(b *Bus) {
		if tracer != nil {
			b.tracer = tracer
		}
	}
}

// WithDepthGauge registers a callback invoked periodically with the main
// channel's current depth, used to export a queue-depth metric.
func WithDepthGauge(fn func(depth int)) Option {
	return func(b *Bus) { b.depthGauge = fn }
}

// WithPublishTimeout overrides the default blocking-publish timeout for
// critical events.
func WithPublishTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.publishTimeout = d
		}
	}
}

// New constructs a Bus and starts its dispatch and sampler goroutines.
func New(log *logging.Logger, opts ...Option) *Bus {
	b := &Bus{
		log:            log,
		tracer:         corekit.NoopTracer,
		publishTimeout: 30 * time.Second,
		main:           make(chan event.Event, MainChannelBuffer),
		subs:           make(map[string]map[string]*Subscription),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.wg.Add(1)
	go b.dispatchLoop()
	return b
}

// Descriptor describes the Bus for the runtime wiring root.
func (b *Bus) Descriptor() corekit.Descriptor {
	return corekit.Descriptor{
		Name:   "event-bus",
		Domain: "chengis",
		Layer:  corekit.LayerIngress,
	}.WithCapabilities("publish", "subscribe")
}

// Publish enqueues an event. Critical events use a blocking enqueue with
// the configured publish timeout; others use a non-blocking offer.
func (b *Bus) Publish(ctx context.Context, evt event.Event) PublishResult {
	finish := corekit.StartObservation(ctx, corekit.NoopObservationHooks, map[string]string{
		"build_id": evt.BuildID, "event_type": string(evt.Type),
	})
	var result PublishResult

	if event.IsCritical(evt.Type) {
		select {
		case b.main <- evt:
			result = PublishOK
		case <-time.After(b.publishTimeout):
			result = PublishTimeout
			if b.log != nil {
				b.log.WithFields(map[string]any{
					"build_id": evt.BuildID, "event_type": evt.Type,
				}).Error("critical event publish timed out")
			}
		}
	} else {
		select {
		case b.main <- evt:
			result = PublishOK
		default:
			result = PublishDropped
		}
	}

	finish(nil)
	return result
}

// Subscribe returns a per-subscriber bounded queue receiving all future
// events matching buildID.
func (b *Bus) Subscribe(buildID string) *Subscription {
	sub := &Subscription{
		ID:      newSubID(),
		BuildID: buildID,
		Events:  make(chan event.Event, SubscriberBuffer),
		bus:     b,
	}
	b.mu.Lock()
	if b.subs[buildID] == nil {
		b.subs[buildID] = make(map[string]*Subscription)
	}
	b.subs[buildID][sub.ID] = sub
	b.mu.Unlock()
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[sub.BuildID]; ok {
		delete(set, sub.ID)
		if len(set) == 0 {
			delete(b.subs, sub.BuildID)
		}
	}
}

// dispatchLoop fans events out to every subscriber registered for the
// event's build id. A subscriber whose queue is full has that event
// dropped for it only; other subscribers are unaffected.
func (b *Bus) dispatchLoop() {
	defer b.wg.Done()
	for {
		select {
		case evt := <-b.main:
			b.mu.RLock()
			subs := b.subs[evt.BuildID]
			targets := make([]*Subscription, 0, len(subs))
			for _, s := range subs {
				targets = append(targets, s)
			}
			b.mu.RUnlock()

			for _, s := range targets {
				select {
				case s.Events <- evt:
				default:
					// per-subscriber drop; other subscribers still receive it.
				}
			}
		case <-b.done:
			return
		}
	}
}

// Depth returns the current number of buffered events in the main channel.
func (b *Bus) Depth() int {
	return len(b.main)
}

// StartSampler launches a background goroutine that periodically reports
// the main channel depth via the configured depth gauge, stopping when ctx
// is cancelled or Stop is called.
func (b *Bus) StartSampler(ctx context.Context, interval time.Duration) {
	if b.depthGauge == nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.depthGauge(b.Depth())
			case <-ctx.Done():
				return
			case <-b.done:
				return
			}
		}
	}()
}

// Stop terminates the dispatch and sampler goroutines.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
	b.wg.Wait()
}

func newSubID() string {
	return uuid.NewString()
}
