package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Feed tracks the Feed Sync Coordinator's per-kind bookkeeping (spec
// §4.J): last successful sync time, last error, and reported version
// string, one row per feed kind ("nvt", "scap", "cert").
type Feed struct {
	db DB
}

func NewFeed(db DB) *Feed { return &Feed{db: db} }

// FeedSyncStatus is the persisted record for one feed kind.
type FeedSyncStatus struct {
	Kind       string
	LastSyncAt *time.Time
	LastError  string
	Version    string
}

type feedStatusRow struct {
	FeedKind   string       `db:"feed_kind"`
	LastSyncAt sql.NullTime `db:"last_sync_at"`
	LastError  string       `db:"last_error"`
	Version    string       `db:"version"`
}

func (row feedStatusRow) toStatus() FeedSyncStatus {
	st := FeedSyncStatus{Kind: row.FeedKind, LastError: row.LastError, Version: row.Version}
	if row.LastSyncAt.Valid {
		t := row.LastSyncAt.Time
		st.LastSyncAt = &t
	}
	return st
}

// RecordSyncSuccess marks a feed kind synced at now with the given
// reported version, clearing any previous error.
func (f *Feed) RecordSyncSuccess(ctx context.Context, kind string, now time.Time, version string) error {
	row := feedStatusRow{FeedKind: kind, LastSyncAt: sql.NullTime{Time: now, Valid: true}, Version: version}
	return f.db.Upsert(ctx, "feed_status", row, []string{"feed_kind"})
}

// RecordSyncFailure marks a feed kind's last attempt as failed, leaving
// its last successful sync time untouched so failure of one child syncer
// never regresses another's status (spec §4.J per-child isolation).
func (f *Feed) RecordSyncFailure(ctx context.Context, kind string, cause error) error {
	existing, err := f.Status(ctx, kind)
	if err != nil {
		existing = FeedSyncStatus{Kind: kind}
	}
	row := feedStatusRow{FeedKind: kind, LastError: cause.Error(), Version: existing.Version}
	if existing.LastSyncAt != nil {
		row.LastSyncAt = sql.NullTime{Time: *existing.LastSyncAt, Valid: true}
	}
	return f.db.Upsert(ctx, "feed_status", row, []string{"feed_kind"})
}

// Status returns the current bookkeeping row for a feed kind, or a
// zero-value status if it has never synced.
func (f *Feed) Status(ctx context.Context, kind string) (FeedSyncStatus, error) {
	var row feedStatusRow
	err := f.db.Get(ctx, &row, `SELECT feed_kind, last_sync_at, last_error, version
		FROM feed_status WHERE feed_kind = ?`, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return FeedSyncStatus{Kind: kind}, nil
	}
	if err != nil {
		return FeedSyncStatus{Kind: kind}, fmt.Errorf("feed status %s: %w", kind, err)
	}
	return row.toStatus(), nil
}
