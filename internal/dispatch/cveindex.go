package dispatch

import (
	"context"
	"fmt"

	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/store"
)

// StoreCVEIndex is CVEIndex backed by the cve_matches/cve_affected_products
// tables that the Feed Sync Coordinator (internal/feedsync) keeps current.
// Until a concrete feed syncer populates those tables, it simply returns
// empty results — the CVE variant's match-node/affected-products fallback
// degrades to "nothing correlated", not an error.
type StoreCVEIndex struct {
	db      store.DB
	reports *store.Reports
}

func NewStoreCVEIndex(db store.DB, reports *store.Reports) *StoreCVEIndex {
	return &StoreCVEIndex{db: db, reports: reports}
}

type cveMatchRow struct {
	CPEBase               string  `db:"cpe_base"`
	CVEID                 string  `db:"cve_id"`
	Severity              float64 `db:"severity"`
	Vulnerable            bool    `db:"vulnerable"`
	VersionStartIncluding string  `db:"version_start_including"`
	VersionStartExcluding string  `db:"version_start_excluding"`
	VersionEndIncluding   string  `db:"version_end_including"`
	VersionEndExcluding   string  `db:"version_end_excluding"`
}

// MatchNodesForCPE reads every cve_matches row for cpeBase and returns each
// as its own single-leaf OR node. Real NVD match-node trees can nest
// AND/OR arbitrarily deep; the feed sync importer flattens each CVE's
// match criteria into one row per leaf, which covers the overwhelming
// majority of real-world entries (a single version range per CPE per
// CVE) without needing a recursive tree encoding in SQL.
func (idx *StoreCVEIndex) MatchNodesForCPE(ctx context.Context, cpeBase string) ([]MatchNode, error) {
	var rows []cveMatchRow
	if err := idx.db.Select(ctx, &rows, `
		SELECT cpe_base, cve_id, severity, vulnerable, version_start_including,
		       version_start_excluding, version_end_including, version_end_excluding
		FROM cve_matches WHERE cpe_base = ?`, cpeBase); err != nil {
		return nil, fmt.Errorf("match nodes for %s: %w", cpeBase, err)
	}
	nodes := make([]MatchNode, 0, len(rows))
	for _, r := range rows {
		nodes = append(nodes, MatchNode{
			Operator: "OR",
			Criterion: &CPEMatchCriterion{
				CPE23URI:              r.CPEBase,
				VersionStartIncluding: r.VersionStartIncluding,
				VersionStartExcluding: r.VersionStartExcluding,
				VersionEndIncluding:   r.VersionEndIncluding,
				VersionEndExcluding:   r.VersionEndExcluding,
				Vulnerable:            r.Vulnerable,
				CVEID:                 r.CVEID,
				Severity:              model.Severity(r.Severity),
			},
		})
	}
	return nodes, nil
}

func (idx *StoreCVEIndex) AffectedProductsForCPE(ctx context.Context, cpeBase string) ([]AffectedProduct, error) {
	var rows []struct {
		CPEBase  string  `db:"cpe_base"`
		CVEID    string  `db:"cve_id"`
		Severity float64 `db:"severity"`
	}
	if err := idx.db.Select(ctx, &rows, `
		SELECT cpe_base, cve_id, severity FROM cve_affected_products WHERE cpe_base = ?`, cpeBase); err != nil {
		return nil, fmt.Errorf("affected products for %s: %w", cpeBase, err)
	}
	out := make([]AffectedProduct, 0, len(rows))
	for _, r := range rows {
		out = append(out, AffectedProduct{
			CPE23URI: r.CPEBase,
			CVEID:    r.CVEID,
			Severity: model.Severity(r.Severity),
		})
	}
	return out, nil
}

func (idx *StoreCVEIndex) LatestHostDetails(ctx context.Context, host string) ([]model.HostDetail, error) {
	return idx.reports.LatestHostDetails(ctx, host)
}
