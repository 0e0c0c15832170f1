package feedsync

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ov-project/govmd/internal/config"
	"github.com/ov-project/govmd/internal/lockutil"
	"github.com/ov-project/govmd/internal/store"
)

func newHarness(t *testing.T) (*store.Feed, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.NewSQLite(config.DatabaseConfig{Path: filepath.Join(dir, "govmd.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewFeed(db), dir
}

type fakeSyncer struct {
	kind    string
	needs   bool
	version string
	err     error
	calls   *int32call
}

type int32call struct {
	mu sync.Mutex
	n  int
}

func (c *int32call) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (s fakeSyncer) Kind() string { return s.kind }
func (s fakeSyncer) NeedsUpdate(ctx context.Context) (bool, error) {
	return s.needs, nil
}
func (s fakeSyncer) Sync(ctx context.Context) (string, error) {
	if s.calls != nil {
		s.calls.inc()
	}
	return s.version, s.err
}

// Fd-1: feed sync never runs two syncers concurrently across processes.
// Two Coordinators sharing one lock file must not both enter the locked
// section at the same time.
func TestFeedSyncExclusivityAcrossCoordinators(t *testing.T) {
	feed, dir := newHarness(t)
	lockPath := filepath.Join(dir, "feed-update.lock")

	var mu sync.Mutex
	var overlap bool
	var active int

	enter := func() {
		mu.Lock()
		active++
		if active > 1 {
			overlap = true
		}
		mu.Unlock()
	}
	leave := func() {
		mu.Lock()
		active--
		mu.Unlock()
	}

	makeCoord := func() *Coordinator {
		c := New(lockutil.NewFileLock(lockPath), feed,
			[]Syncer{trackingSyncer{fakeSyncer{kind: "nvt", needs: true}, enter, leave}},
			nil, 0, 1, 2*time.Second, 0, false, nil)
		return c
	}

	c1 := makeCoord()
	c2 := makeCoord()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = c1.RunTick(context.Background()) }()
	go func() { defer wg.Done(); _ = c2.RunTick(context.Background()) }()
	wg.Wait()

	if overlap {
		t.Fatal("two coordinators entered the locked feed-sync section concurrently")
	}
}

// trackingSyncer wraps fakeSyncer to observe enter/leave around Sync, so
// the exclusivity test can detect overlap without touching real I/O.
type trackingSyncer struct {
	fakeSyncer
	enter, leave func()
}

func (t trackingSyncer) Sync(ctx context.Context) (string, error) {
	t.enter()
	defer t.leave()
	time.Sleep(20 * time.Millisecond)
	return t.fakeSyncer.Sync(ctx)
}

// One syncer's failure must not prevent its siblings from running or
// recording success (spec §4.J "per-child failure isolation").
func TestSyncChildrenIsolatesFailures(t *testing.T) {
	feed, dir := newHarness(t)
	lockPath := filepath.Join(dir, "feed-update.lock")

	calls := &int32call{}
	c := New(lockutil.NewFileLock(lockPath), feed,
		[]Syncer{
			fakeSyncer{kind: "nvt", needs: true, version: "v1", calls: calls},
			fakeSyncer{kind: "scap", needs: true, err: errors.New("boom"), calls: calls},
			fakeSyncer{kind: "cert", needs: true, version: "v3", calls: calls},
		}, nil, 0, 1, 2*time.Second, 0, false, nil)

	if err := c.RunTick(context.Background()); err != nil {
		t.Fatalf("run tick: %v", err)
	}
	if calls.n != 3 {
		t.Fatalf("expected all 3 syncers invoked, got %d", calls.n)
	}

	nvt, err := feed.Status(context.Background(), "nvt")
	if err != nil {
		t.Fatalf("nvt status: %v", err)
	}
	if nvt.LastSyncAt == nil || nvt.Version != "v1" {
		t.Fatalf("expected nvt sync recorded, got %+v", nvt)
	}

	scap, err := feed.Status(context.Background(), "scap")
	if err != nil {
		t.Fatalf("scap status: %v", err)
	}
	if scap.LastError == "" {
		t.Fatalf("expected scap failure recorded, got %+v", scap)
	}

	cert, err := feed.Status(context.Background(), "cert")
	if err != nil {
		t.Fatalf("cert status: %v", err)
	}
	if cert.LastSyncAt == nil || cert.Version != "v3" {
		t.Fatalf("expected cert sync recorded, got %+v", cert)
	}
}

// A feed with no pending update is skipped entirely.
func TestRunTickSkipsWhenNothingNeedsUpdate(t *testing.T) {
	feed, dir := newHarness(t)
	lockPath := filepath.Join(dir, "feed-update.lock")
	calls := &int32call{}
	c := New(lockutil.NewFileLock(lockPath), feed,
		[]Syncer{fakeSyncer{kind: "nvt", needs: false, calls: calls}},
		nil, 0, 1, 2*time.Second, 0, false, nil)

	if err := c.RunTick(context.Background()); err != nil {
		t.Fatalf("run tick: %v", err)
	}
	if calls.n != 0 {
		t.Fatalf("expected no syncer invocations, got %d", calls.n)
	}
}
