package lockutil

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// SemResult is the outcome of a SemOp call (spec §4.A).
type SemResult struct {
	OK      bool
	Timeout bool
	Err     error
}

// NamedSemaphore is one of the two mandated counting semaphores
// (SCAN_UPDATE, REPORTS_PROCESSING). It wraps *semaphore.Weighted:
// cancelling the context passed to SemOp aborts a pending acquire, but
// units already acquired stay held until they are released (a positive
// SemOp delta or Release). Nothing releases a holder's units on its behalf.
type NamedSemaphore struct {
	name string
	cap  int64
	sem  *semaphore.Weighted
}

// NewNamedSemaphore creates a semaphore with the given capacity. A
// non-positive capacity means "unlimited": SemOp always succeeds
// immediately, matching spec §4.G's "K = max-concurrent... (if positive)
// else unbounded".
func NewNamedSemaphore(name string, capacity int) *NamedSemaphore {
	if capacity <= 0 {
		return &NamedSemaphore{name: name, cap: 0, sem: nil}
	}
	return &NamedSemaphore{name: name, cap: int64(capacity), sem: semaphore.NewWeighted(int64(capacity))}
}

// Unbounded reports whether this semaphore has no capacity limit.
func (n *NamedSemaphore) Unbounded() bool { return n.sem == nil }

// SemOp implements spec §4.A's delta contract: delta<0 waits (acquires
// |delta| units), delta>0 releases |delta| units, delta==0 waits until the
// semaphore is fully drained (used to confirm no scans are in flight).
func (n *NamedSemaphore) SemOp(ctx context.Context, delta int, timeout context.Context) SemResult {
	if n.sem == nil {
		return SemResult{OK: true}
	}
	switch {
	case delta < 0:
		if err := n.sem.Acquire(ctx, int64(-delta)); err != nil {
			if ctx.Err() != nil {
				return SemResult{Timeout: true, Err: ctx.Err()}
			}
			return SemResult{Err: fmt.Errorf("%s: acquire: %w", n.name, err)}
		}
		return SemResult{OK: true}
	case delta > 0:
		n.sem.Release(int64(delta))
		return SemResult{OK: true}
	default:
		if err := n.sem.Acquire(ctx, n.cap); err != nil {
			if ctx.Err() != nil {
				return SemResult{Timeout: true, Err: ctx.Err()}
			}
			return SemResult{Err: fmt.Errorf("%s: drain: %w", n.name, err)}
		}
		n.sem.Release(n.cap)
		return SemResult{OK: true}
	}
}

// TryAcquire attempts to acquire one unit without blocking; used by the
// Scan Queue and Report Import Queue admission checks.
func (n *NamedSemaphore) TryAcquire() bool {
	if n.sem == nil {
		return true
	}
	return n.sem.TryAcquire(1)
}

// Release releases one unit previously obtained via TryAcquire or SemOp.
func (n *NamedSemaphore) Release() {
	if n.sem == nil {
		return
	}
	n.sem.Release(1)
}

// Named semaphore identifiers, matching spec §4.A exactly.
const (
	SemScanUpdate        = "SCAN_UPDATE"
	SemReportsProcessing = "REPORTS_PROCESSING"
)
