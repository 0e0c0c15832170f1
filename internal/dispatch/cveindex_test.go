package dispatch

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ov-project/govmd/internal/config"
	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/store"
)

func newTestStore(t *testing.T) store.DB {
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
	return db
}

func TestStoreCVEIndexMatchNodesAndAffectedProducts(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)

	if _, err := db.Insert(ctx, "cve_matches", cveMatchRow{
		CPEBase:               "cpe:2.3:a:openssl:openssl:*:*:*:*:*:*:*:*",
		CVEID:                 "CVE-2024-0001",
		Severity:              9.8,
		Vulnerable:            true,
		VersionEndExcluding:   "3.0.8",
	}); err != nil {
		t.Fatalf("seed cve_matches: %v", err)
	}
	if _, err := db.Insert(ctx, "cve_affected_products", struct {
		CPEBase  string  `db:"cpe_base"`
		CVEID    string  `db:"cve_id"`
		Severity float64 `db:"severity"`
	}{
		CPEBase:  "cpe:2.3:a:acme:widget:*:*:*:*:*:*:*:*",
		CVEID:    "CVE-2020-9999",
		Severity: 5.0,
	}); err != nil {
		t.Fatalf("seed cve_affected_products: %v", err)
	}

	reports := store.NewReports(db)
	idx := NewStoreCVEIndex(db, reports)

	nodes, err := idx.MatchNodesForCPE(ctx, "cpe:2.3:a:openssl:openssl:*:*:*:*:*:*:*:*")
	if err != nil {
		t.Fatalf("match nodes: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Criterion == nil || nodes[0].Criterion.CVEID != "CVE-2024-0001" {
		t.Fatalf("expected one CVE-2024-0001 match node, got %+v", nodes)
	}

	products, err := idx.AffectedProductsForCPE(ctx, "cpe:2.3:a:acme:widget:*:*:*:*:*:*:*:*")
	if err != nil {
		t.Fatalf("affected products: %v", err)
	}
	if len(products) != 1 || products[0].CVEID != "CVE-2020-9999" {
		t.Fatalf("expected one CVE-2020-9999 affected product, got %+v", products)
	}
}

func TestStoreCVEIndexLatestHostDetailsUsesMostRecentReport(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)

	tasks := store.NewTasks(db)
	task := &model.Task{Name: "t", Owner: "o", ScannerUUID: "s", TargetUUID: "tgt"}
	if err := tasks.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	reports := store.NewReports(db)

	older, err := reports.CreateReport(ctx, task.UUID)
	if err != nil {
		t.Fatalf("create older report: %v", err)
	}
	if err := reports.AddReportHost(ctx, &model.ReportHost{ReportID: older.ID, Host: "10.0.0.1"}); err != nil {
		t.Fatalf("add older report host: %v", err)
	}
	if err := reports.AddHostDetail(ctx, &model.HostDetail{ReportID: older.ID, Host: "10.0.0.1", Kind: "App", Value: "cpe:2.3:a:openssl:openssl:1.0.0:*:*:*:*:*:*:*"}); err != nil {
		t.Fatalf("add older host detail: %v", err)
	}

	newer, err := reports.CreateReport(ctx, task.UUID)
	if err != nil {
		t.Fatalf("create newer report: %v", err)
	}
	if err := reports.AddReportHost(ctx, &model.ReportHost{ReportID: newer.ID, Host: "10.0.0.1"}); err != nil {
		t.Fatalf("add newer report host: %v", err)
	}
	if err := reports.AddHostDetail(ctx, &model.HostDetail{ReportID: newer.ID, Host: "10.0.0.1", Kind: "App", Value: "cpe:2.3:a:openssl:openssl:3.0.2:*:*:*:*:*:*:*"}); err != nil {
		t.Fatalf("add newer host detail: %v", err)
	}

	idx := NewStoreCVEIndex(db, reports)
	details, err := idx.LatestHostDetails(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("latest host details: %v", err)
	}
	if len(details) != 1 || details[0].Value != "cpe:2.3:a:openssl:openssl:3.0.2:*:*:*:*:*:*:*" {
		t.Fatalf("expected only the newer report's host detail, got %+v", details)
	}
}
