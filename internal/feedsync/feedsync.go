// Package feedsync implements the Feed Sync Coordinator (spec §4.J):
// manage_sync's memory-gated, lock-exclusive refresh of the NVT/SCAP/CERT
// feeds and, optionally, the secondary data-object sync phase.
package feedsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ov-project/govmd/internal/lockutil"
	"github.com/ov-project/govmd/internal/store"
)

// Syncer refreshes one of the three primary feed kinds ("nvt", "scap",
// "cert"). NeedsUpdate mirrors the source's feed status codes 1-4
// ("needs update"); Sync performs the actual refresh and reports the new
// feed version string on success.
type Syncer interface {
	Kind() string
	NeedsUpdate(ctx context.Context) (bool, error)
	Sync(ctx context.Context) (version string, err error)
}

// DataObjectSyncer refreshes one secondary data object kind (configs,
// port-lists, report-formats, agent-installers), run serially in the
// optional second manage_sync phase (spec §4.J step 2).
type DataObjectSyncer interface {
	Kind() string
	Sync(ctx context.Context) error
}

// MemoryGate reports currently-available physical memory in MiB. Real
// deployments read /proc/meminfo; tests substitute a fixed value.
type MemoryGate func() (availableMiB int, err error)

// Coordinator runs manage_sync on each controller tick.
type Coordinator struct {
	Lock              *lockutil.FileLock
	Feed              *store.Feed
	Syncers           []Syncer
	DataObjectSyncers []DataObjectSyncer
	PostSync          func(ctx context.Context) error

	MinMemMiB       int
	MemWaitRetries  int
	LockTimeout     time.Duration
	TickPeriod      time.Duration
	SyncDataObjects bool

	Mem MemoryGate
	Log *slog.Logger
}

func New(lock *lockutil.FileLock, feed *store.Feed, syncers []Syncer, dataObjectSyncers []DataObjectSyncer,
	minMemMiB, memWaitRetries int, lockTimeout, tickPeriod time.Duration, syncDataObjects bool, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		Lock:              lock,
		Feed:              feed,
		Syncers:           syncers,
		DataObjectSyncers: dataObjectSyncers,
		MinMemMiB:         minMemMiB,
		MemWaitRetries:    memWaitRetries,
		LockTimeout:       lockTimeout,
		TickPeriod:        tickPeriod,
		SyncDataObjects:   syncDataObjects,
		Mem:               ReadProcMeminfo,
		Log:               log,
	}
}

// RunTick performs one manage_sync pass. A feed held busy past its
// timeout is logged and retried on the next tick, not returned as an
// error (spec §7 FeedBusy: "retry next tick").
func (c *Coordinator) RunTick(ctx context.Context) error {
	due := make([]Syncer, 0, len(c.Syncers))
	for _, s := range c.Syncers {
		needs, err := s.NeedsUpdate(ctx)
		if err != nil {
			c.Log.Error("feed needs-update check failed", "feed", s.Kind(), "error", err)
			continue
		}
		if needs {
			due = append(due, s)
		}
	}

	if len(due) > 0 {
		if err := c.runPrimaryPhase(ctx, due); err != nil {
			return err
		}
	}

	if c.SyncDataObjects && len(c.DataObjectSyncers) > 0 {
		if err := c.runDataObjectPhase(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) runPrimaryPhase(ctx context.Context, due []Syncer) error {
	if !c.awaitMemory(ctx) {
		c.Log.Warn("feed sync skipped this tick: memory budget unavailable", "min_mem_mib", c.MinMemMiB)
		return nil
	}

	got, err := c.Lock.AcquireTimeout(c.LockTimeout)
	if err != nil {
		return fmt.Errorf("acquire feed lock: %w", err)
	}
	if !got {
		c.Log.Warn("feed sync busy: lock held past timeout, retrying next tick", "timeout", c.LockTimeout)
		return nil
	}
	defer c.Lock.Release()

	c.syncChildren(ctx, due)

	if c.PostSync != nil {
		if err := c.PostSync(ctx); err != nil {
			c.Log.Error("post-sync update_scap_extra failed", "error", err)
		}
	}
	return nil
}

// syncChildren forks one goroutine per due syncer (the "three child
// syncers" of spec §4.J step 1) and waits for all of them; a single
// child's failure is recorded and logged without aborting its siblings
// (per-child failure isolation).
func (c *Coordinator) syncChildren(ctx context.Context, due []Syncer) {
	type outcome struct {
		kind    string
		version string
		err     error
	}
	results := make(chan outcome, len(due))
	for _, s := range due {
		go func(s Syncer) {
			version, err := s.Sync(ctx)
			results <- outcome{kind: s.Kind(), version: version, err: err}
		}(s)
	}

	for range due {
		out := <-results
		if out.err != nil {
			c.Log.Error("feed syncer failed", "feed", out.kind, "error", out.err)
			if rerr := c.Feed.RecordSyncFailure(ctx, out.kind, out.err); rerr != nil {
				c.Log.Error("recording feed sync failure failed", "feed", out.kind, "error", rerr)
			}
			continue
		}
		if rerr := c.Feed.RecordSyncSuccess(ctx, out.kind, time.Now().UTC(), out.version); rerr != nil {
			c.Log.Error("recording feed sync success failed", "feed", out.kind, "error", rerr)
		}
	}
}

func (c *Coordinator) runDataObjectPhase(ctx context.Context) error {
	if !c.awaitMemory(ctx) {
		c.Log.Warn("data-object sync skipped this tick: memory budget unavailable")
		return nil
	}

	got, err := c.Lock.AcquireTimeout(c.LockTimeout)
	if err != nil {
		return fmt.Errorf("acquire feed lock for data-object sync: %w", err)
	}
	if !got {
		c.Log.Warn("data-object sync busy: lock held past timeout, retrying next tick")
		return nil
	}
	defer c.Lock.Release()

	for _, s := range c.DataObjectSyncers {
		if err := s.Sync(ctx); err != nil {
			c.Log.Error("data-object sync failed", "kind", s.Kind(), "error", err)
		}
	}
	return nil
}

// awaitMemory polls Mem up to MemWaitRetries times, spaced one tick
// period apart, until MinMemMiB is available. A non-positive MinMemMiB
// disables the gate entirely.
func (c *Coordinator) awaitMemory(ctx context.Context) bool {
	if c.MinMemMiB <= 0 || c.Mem == nil {
		return true
	}
	attempts := c.MemWaitRetries
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		avail, err := c.Mem()
		if err == nil && avail >= c.MinMemMiB {
			return true
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.TickPeriod):
		}
	}
	return false
}
