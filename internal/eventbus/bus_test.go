package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/sremani/chengis/internal/domain/event"
	"github.com/sremani/chengis/internal/logging"
)

func TestPublishSubscribeOrdering(t *testing.T) {
	bus := New(logging.NewDefault("test"))
	defer bus.Stop()

	sub := bus.Subscribe("build-1")
	defer sub.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		res := bus.Publish(ctx, event.New("build-1", event.TypeStepStarted, map[string]any{"i": i}))
		if res != PublishOK {
			t.Fatalf("publish %d: got %s", i, res)
		}
	}

	for i := 0; i < 5; i++ {
		select {
		case evt := <-sub.Events:
			if evt.Data["i"] != i {
				t.Fatalf("expected event %d in order, got %v", i, evt.Data["i"])
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := New(logging.NewDefault("test"))
	defer bus.Stop()

	slow := bus.Subscribe("build-2")
	defer slow.Close()
	fast := bus.Subscribe("build-2")
	defer fast.Close()

	ctx := context.Background()
	// Overfill the slow subscriber's queue without ever draining it.
	for i := 0; i < SubscriberBuffer+10; i++ {
		bus.Publish(ctx, event.New("build-2", event.TypeLogLine, map[string]any{"i": i}))
	}

	select {
	case <-fast.Events:
	case <-time.After(time.Second):
		t.Fatalf("fast subscriber starved by slow subscriber")
	}
}

func TestCriticalEventTimesOutWhenFull(t *testing.T) {
	// Construct the Bus without starting its dispatch loop so the main
	// channel can be deterministically filled to capacity.
	bus := &Bus{
		log:            logging.NewDefault("test"),
		publishTimeout: 10 * time.Millisecond,
		main:           make(chan event.Event, 1),
		subs:           make(map[string]map[string]*Subscription),
		done:           make(chan struct{}),
	}
	bus.main <- event.New("x", event.TypeLogLine, nil)

	res := bus.Publish(context.Background(), event.New("build-3", event.TypeBuildStarted, nil))
	if res != PublishTimeout {
		t.Fatalf("expected timeout, got %s", res)
	}
}

func TestDepthGaugeSampling(t *testing.T) {
	depths := make(chan int, 4)
	bus := New(logging.NewDefault("test"), WithDepthGauge(func(d int) { depths <- d }))
	defer bus.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.StartSampler(ctx, 5*time.Millisecond)

	select {
	case <-depths:
	case <-time.After(time.Second):
		t.Fatalf("expected at least one depth sample")
	}
}
