package dispatch

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ov-project/govmd/internal/apperror"
	"github.com/ov-project/govmd/internal/config"
	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/store"
)

func newTestReports(t *testing.T) (*store.Reports, int64) {
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

	tasks := store.NewTasks(db)
	task := &model.Task{Name: "t", Owner: "o", ScannerUUID: "s", TargetUUID: "tgt"}
	if err := tasks.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	reports := store.NewReports(db)
	rep, err := reports.CreateReport(context.Background(), task.UUID)
	if err != nil {
		t.Fatalf("create report: %v", err)
	}
	return reports, rep.ID
}

// Sev-1: Append accepts a value from every severity band and every
// sentinel, and still writes an out-of-domain value instead of failing.
func TestIngesterSeverityBanding(t *testing.T) {
	reports, reportID := newTestReports(t)
	ing := &Ingester{Reports: reports, ReportID: reportID}
	ctx := context.Background()

	cases := []struct {
		severity model.Severity
		wantErr  bool
	}{
		{model.SeverityLogSentinel, false},
		{model.SeverityFPSentinel, false},
		{model.SeverityErrorSentinel, false},
		{9.5, false},
		{7.2, false},
		{4.0, false},
		{0.5, false},
		{15, false}, // out of domain, but Append still writes the row (just logs a warning)
	}
	for _, c := range cases {
		if err := ing.Append(ctx, RawResult{Host: "h", NVTOID: "1.2.3", Severity: c.severity}); err != nil {
			t.Fatalf("append severity %v: %v", c.severity, err)
		}
	}
}

type fakeCVEIndex struct {
	nodes    map[string][]MatchNode
	products map[string][]AffectedProduct
	details  map[string][]model.HostDetail
}

func (f *fakeCVEIndex) MatchNodesForCPE(ctx context.Context, cpe string) ([]MatchNode, error) {
	return f.nodes[cpe], nil
}
func (f *fakeCVEIndex) AffectedProductsForCPE(ctx context.Context, cpe string) ([]AffectedProduct, error) {
	return f.products[cpe], nil
}
func (f *fakeCVEIndex) LatestHostDetails(ctx context.Context, host string) ([]model.HostDetail, error) {
	return f.details[host], nil
}

func TestCVEVariantMatchNodeTraversal(t *testing.T) {
	ctx := context.Background()
	index := &fakeCVEIndex{
		details: map[string][]model.HostDetail{
			"10.0.0.1": {{Kind: "App", Value: "cpe:2.3:a:openssl:openssl:3.0.2:*:*:*:*:*:*:*"}},
		},
		nodes: map[string][]MatchNode{
			"cpe:2.3:a:openssl:openssl:*:*:*:*:*:*:*:*": {
				{
					Criterion: &CPEMatchCriterion{
						CPE23URI:            "cpe:2.3:a:openssl:openssl",
						Vulnerable:          true,
						VersionEndExcluding: "3.0.8",
						CVEID:               "CVE-2024-0001",
						Severity:            9.8,
					},
				},
			},
		},
	}
	reports, reportID := newTestReports(t)
	ing := &Ingester{Reports: reports, ReportID: reportID}
	v := NewCVEVariant(index, nil)

	target := model.Target{UUID: "tgt", HostsSpec: "10.0.0.1"}
	if err := v.RunLocalScan(ctx, target, ing); err != nil {
		t.Fatalf("run local scan: %v", err)
	}
}

func TestCVEVariantFallsBackToAffectedProducts(t *testing.T) {
	ctx := context.Background()
	index := &fakeCVEIndex{
		details: map[string][]model.HostDetail{
			"10.0.0.2": {{Kind: "App", Value: "cpe:2.3:a:acme:widget:1.0:*:*:*:*:*:*:*"}},
		},
		products: map[string][]AffectedProduct{
			"cpe:2.3:a:acme:widget:*:*:*:*:*:*:*:*": {
				{CPE23URI: "cpe:2.3:a:acme:widget", CVEID: "CVE-2020-9999", Severity: 5.0},
			},
		},
	}
	reports, reportID := newTestReports(t)
	ing := &Ingester{Reports: reports, ReportID: reportID}
	v := NewCVEVariant(index, nil)

	target := model.Target{UUID: "tgt", HostsSpec: "10.0.0.2"}
	if err := v.RunLocalScan(ctx, target, ing); err != nil {
		t.Fatalf("run local scan: %v", err)
	}
}

func TestHTTPScannerVariantRejectsEmptyVTList(t *testing.T) {
	v := NewHTTPScannerVariant(nil, model.Scanner{Kind: model.ScannerHTTP}, nil, nil, nil, nil)
	err := v.Prepare(context.Background(), model.Task{}, model.Target{}, FromStart)
	if !apperror.Is(err, apperror.ScannerProtocol) {
		t.Fatalf("expected ScannerProtocol for empty VT list, got %v", err)
	}
}

func TestRunTaskRejectsResumeForAgentController(t *testing.T) {
	d := New(nil, nil, nil)
	d.Register(model.ScannerAgentController, &AgentControllerVariant{})
	_, err := d.RunTask(context.Background(),
		model.Task{ScannerUUID: "s"},
		model.Scanner{Kind: model.ScannerAgentController},
		0, FromResume)
	if err == nil {
		t.Fatal("expected RESUMING_NOT_SUPPORTED error for agent controller resume")
	}
}
