package lockutil

import (
	"context"
	"testing"
	"time"
)

func TestNamedSemaphoreCapacity(t *testing.T) {
	sem := NewNamedSemaphore(SemReportsProcessing, 2)
	ctx := context.Background()

	if !sem.TryAcquire() {
		t.Fatal("expected first acquire to succeed")
	}
	if !sem.TryAcquire() {
		t.Fatal("expected second acquire to succeed")
	}
	if sem.TryAcquire() {
		t.Fatal("expected third acquire to fail at capacity 2")
	}

	sem.Release()
	if !sem.TryAcquire() {
		t.Fatal("expected acquire to succeed after a release")
	}

	res := sem.SemOp(ctx, 2, ctx)
	if !res.OK {
		t.Fatalf("unexpected release failure: %+v", res)
	}
}

func TestNamedSemaphoreUnbounded(t *testing.T) {
	sem := NewNamedSemaphore(SemScanUpdate, 0)
	if !sem.Unbounded() {
		t.Fatal("capacity <= 0 must mean unbounded")
	}
	for i := 0; i < 100; i++ {
		if !sem.TryAcquire() {
			t.Fatalf("unbounded semaphore must never refuse an acquire (iteration %d)", i)
		}
	}
}

func TestNamedSemaphoreAcquireTimeout(t *testing.T) {
	sem := NewNamedSemaphore(SemReportsProcessing, 1)
	ctx := context.Background()
	if res := sem.SemOp(ctx, -1, ctx); !res.OK {
		t.Fatalf("first acquire should succeed: %+v", res)
	}

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	res := sem.SemOp(timeoutCtx, -1, timeoutCtx)
	if res.OK || !res.Timeout {
		t.Fatalf("expected a timeout waiting on an exhausted semaphore, got %+v", res)
	}
}
