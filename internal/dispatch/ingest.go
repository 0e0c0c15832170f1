package dispatch

import (
	"context"
	"log/slog"

	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/store"
)

// RawResult is the (host, port, nvt-oid, severity, qod, description) tuple
// every variant's Ingest implementation normalises its scanner-native reply
// into, before handing it to Ingester (spec §4.E common ingestion contract).
type RawResult struct {
	Host        string
	Port        string
	NVTOID      string
	Severity    model.Severity
	QoD         int
	Description string
}

// Ingester writes RawResults into a report's result set and classifies
// their severity, logging a warning for any value outside the defined
// domain rather than failing the whole ingest (spec §4.E: "any other
// positive value emits a warning and yields no level").
type Ingester struct {
	Reports  *store.Reports
	ReportID int64
	Log      *slog.Logger
}

func (ing *Ingester) Append(ctx context.Context, r RawResult) error {
	if _, err := r.Severity.ToLevel(); err != nil {
		log := ing.Log
		if log == nil {
			log = slog.Default()
		}
		log.Warn("result severity outside defined domain", "nvt_oid", r.NVTOID, "severity", float64(r.Severity), "error", err)
	}
	return ing.Reports.AppendResult(ctx, &model.Result{
		ReportID:    ing.ReportID,
		Host:        r.Host,
		Port:        r.Port,
		NVTOID:      r.NVTOID,
		Severity:    r.Severity,
		QoD:         r.QoD,
		Description: r.Description,
	})
}

// AddHostDetail records a per-host fact (CPE, OS fingerprint, ...).
func (ing *Ingester) AddHostDetail(ctx context.Context, host, kind, name, value, source string) error {
	return ing.Reports.AddHostDetail(ctx, &model.HostDetail{
		ReportID: ing.ReportID,
		Host:     host,
		Kind:     kind,
		Name:     name,
		Value:    value,
		Source:   source,
	})
}

// AddReportHost records per-host scan start/end timing.
func (ing *Ingester) AddReportHost(ctx context.Context, rh *model.ReportHost) error {
	rh.ReportID = ing.ReportID
	return ing.Reports.AddReportHost(ctx, rh)
}
