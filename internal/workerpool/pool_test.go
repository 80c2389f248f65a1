package workerpool

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	if r.IsActive("b1") {
		t.Fatalf("expected b1 not active before register")
	}
	flag := r.Register("b1")
	if !r.IsActive("b1") {
		t.Fatalf("expected b1 active after register")
	}
	if flag.Cancelled() {
		t.Fatalf("expected fresh flag not cancelled")
	}
	if !r.Cancel("b1") {
		t.Fatalf("expected cancel to report build was active")
	}
	if !flag.Cancelled() {
		t.Fatalf("expected flag to be cancelled")
	}
	r.Deregister("b1")
	if r.IsActive("b1") {
		t.Fatalf("expected b1 inactive after deregister")
	}
	if r.Cancel("b1") {
		t.Fatalf("expected cancel of unknown build to report false")
	}
}

func TestCancelFlagDoneClosesOnce(t *testing.T) {
	flag := NewCancelFlag()
	flag.Cancel()
	flag.Cancel() // idempotent

	select {
	case <-flag.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected Done channel closed")
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := New(2)
	var running, maxRunning int32

	release := make(chan struct{})
	submitted := make(chan struct{})
	// Submit blocks while both slots are busy, so submit from a separate
	// goroutine and release the workers from this one.
	go func() {
		defer close(submitted)
		for i := 0; i < 5; i++ {
			pool.Submit(func() {
				n := atomic.AddInt32(&running, 1)
				for {
					cur := atomic.LoadInt32(&maxRunning)
					if n <= cur || atomic.CompareAndSwapInt32(&maxRunning, cur, n) {
						break
					}
				}
				<-release
				atomic.AddInt32(&running, -1)
			})
		}
	}()

	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&maxRunning); got > 2 {
		t.Fatalf("expected at most 2 concurrent workers, got %d", got)
	}
	close(release)
	<-submitted
	pool.Wait()
}
