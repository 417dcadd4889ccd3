package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestInFlightRegistryRegisterAndCancel(t *testing.T) {
	r := NewInFlightRegistry()

	cancelled := false
	r.Register("thr_1", func() { cancelled = true })

	if !r.Cancel("thr_1") {
		t.Error("Cancel should return true for a registered thread")
	}
	if !cancelled {
		t.Error("cancel function should have been called")
	}
	if r.Cancel("thr_1") {
		t.Error("Cancel should return false after already cancelled")
	}
}

func TestInFlightRegistryCancelUnknown(t *testing.T) {
	r := NewInFlightRegistry()
	if r.Cancel("thr_missing") {
		t.Error("Cancel should return false for an unknown thread")
	}
}

func TestInFlightRegistryRelease(t *testing.T) {
	r := NewInFlightRegistry()

	cancelled := false
	release := r.Register("thr_1", func() { cancelled = true })
	release()

	if r.Cancel("thr_1") {
		t.Error("Cancel should return false after release")
	}
	if cancelled {
		t.Error("release must not call the cancel function")
	}
	release() // idempotent
}

func TestInFlightRegistryStaleReleaseKeepsNewer(t *testing.T) {
	r := NewInFlightRegistry()

	releaseOld := r.Register("thr_1", func() {})
	var newerCancelled bool
	r.Register("thr_1", func() { newerCancelled = true })

	releaseOld()
	if !r.Cancel("thr_1") || !newerCancelled {
		t.Error("stale release removed the newer registration")
	}
}

func TestInFlightRegistryConcurrentAccess(t *testing.T) {
	r := NewInFlightRegistry()
	var cancelCount atomic.Int64
	const numEntries = 100

	releases := make([]func(), numEntries)
	var wg sync.WaitGroup
	for i := 0; i < numEntries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			releases[i] = r.Register(fmt.Sprintf("thr_%d", i), func() { cancelCount.Add(1) })
		}(i)
	}
	wg.Wait()

	for i := 0; i < numEntries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				r.Cancel(fmt.Sprintf("thr_%d", i))
			} else {
				releases[i]()
			}
		}(i)
	}
	wg.Wait()

	if cancelCount.Load() != numEntries/2 {
		t.Errorf("expected %d cancellations, got %d", numEntries/2, cancelCount.Load())
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d after cancelling and releasing all", r.Len())
	}
}
