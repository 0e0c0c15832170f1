package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ov-project/govmd/internal/model"
)

// NVTCache wraps a DB with the NVT cache (spec glossary "NVT cache — the
// set of VT metadata known to the controller"). Replace is its write
// side; no code in this repository calls it.
type NVTCache struct {
	db DB
}

func NewNVTCache(db DB) *NVTCache { return &NVTCache{db: db} }

// Replace swaps the cache contents for entries, the shape one full NVT
// feed sync produces. The delete and the inserts do not run in one
// transaction, so a failure mid-replace leaves the cache partly filled.
func (c *NVTCache) Replace(ctx context.Context, entries []model.NVTCacheEntry, now time.Time) error {
	if err := c.db.Exec(ctx, `DELETE FROM nvt_cache`); err != nil {
		return fmt.Errorf("clearing nvt cache: %w", err)
	}
	for _, e := range entries {
		row := struct {
			OID         string `db:"oid"`
			Family      string `db:"family"`
			Discovery   bool   `db:"discovery"`
			RefreshedAt string `db:"refreshed_at"`
		}{OID: e.OID, Family: e.Family, Discovery: e.Discovery, RefreshedAt: now.UTC().Format(time.RFC3339)}
		if _, err := c.db.Insert(ctx, "nvt_cache", row); err != nil {
			return fmt.Errorf("inserting nvt cache entry %s: %w", e.OID, err)
		}
	}
	return nil
}

// DiscoveryFlags returns, for each oid present in the cache, whether that
// VT is tagged discovery. An oid absent from the result was never synced
// (treated as non-discovery by callers, same as an unknown VT).
func (c *NVTCache) DiscoveryFlags(ctx context.Context, oids []string) (map[string]bool, error) {
	flags := make(map[string]bool, len(oids))
	if len(oids) == 0 {
		return flags, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(oids)), ",")
	args := make([]any, len(oids))
	for i, oid := range oids {
		args[i] = oid
	}
	var rows []struct {
		OID       string `db:"oid"`
		Discovery bool   `db:"discovery"`
	}
	query := fmt.Sprintf(`SELECT oid, discovery FROM nvt_cache WHERE oid IN (%s)`, placeholders)
	if err := c.db.Select(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("nvt cache discovery flags: %w", err)
	}
	for _, r := range rows {
		flags[r.OID] = r.Discovery
	}
	return flags, nil
}
