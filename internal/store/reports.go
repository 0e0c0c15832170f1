package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ov-project/govmd/internal/model"
)

// Reports implements the report-shaped Persistence Contract operations:
// create_report, trim_partial_report, set_scan_times, append_result and
// add_host_detail (spec §4.C, §4.F).
type Reports struct {
	db DB
}

func NewReports(db DB) *Reports { return &Reports{db: db} }

// reportRow is the on-disk shape of model.Report: database/sql only knows
// how to scan NULL into sql.NullTime, not into the **time.Time a pointer
// field's address produces, so the store layer keeps its own nullable row
// shape and converts at the boundary.
type reportRow struct {
	ID                 int64        `db:"id"`
	UUID               string       `db:"uuid"`
	TaskUUID           string       `db:"task_uuid"`
	RunStatus          string       `db:"run_status"`
	ScanStart          sql.NullTime `db:"scan_start"`
	ScanEnd            sql.NullTime `db:"scan_end"`
	ResumeExcludeHosts string       `db:"resume_exclude_hosts"`
	MaxSeverity        float64      `db:"max_severity"`
}

func (r reportRow) toModel() model.Report {
	rep := model.Report{
		ID:                 r.ID,
		UUID:               r.UUID,
		TaskUUID:           r.TaskUUID,
		RunStatus:          model.RunStatus(r.RunStatus),
		ResumeExcludeHosts: r.ResumeExcludeHosts,
		MaxSeverity:        model.Severity(r.MaxSeverity),
	}
	if r.ScanStart.Valid {
		t := r.ScanStart.Time
		rep.ScanStart = &t
	}
	if r.ScanEnd.Valid {
		t := r.ScanEnd.Time
		rep.ScanEnd = &t
	}
	return rep
}

func rowFromReport(rep *model.Report) reportRow {
	row := reportRow{
		ID:                 rep.ID,
		UUID:               rep.UUID,
		TaskUUID:           rep.TaskUUID,
		RunStatus:          string(rep.RunStatus),
		ResumeExcludeHosts: rep.ResumeExcludeHosts,
		MaxSeverity:        float64(rep.MaxSeverity),
	}
	if rep.ScanStart != nil {
		row.ScanStart = sql.NullTime{Time: *rep.ScanStart, Valid: true}
	}
	if rep.ScanEnd != nil {
		row.ScanEnd = sql.NullTime{Time: *rep.ScanEnd, Valid: true}
	}
	return row
}

// CreateReport starts a new report row for a task, in Requested status
// with a fresh UUID, matching spec §4.C create_report.
func (r *Reports) CreateReport(ctx context.Context, taskUUID string) (*model.Report, error) {
	rep := &model.Report{
		UUID:        uuid.NewString(),
		TaskUUID:    taskUUID,
		RunStatus:   model.RunRequested,
		MaxSeverity: model.SeverityLogSentinel,
	}
	row := rowFromReport(rep)
	id, err := r.db.Insert(ctx, "reports", row)
	if err != nil {
		return nil, fmt.Errorf("create report for task %s: %w", taskUUID, err)
	}
	rep.ID = id
	return rep, nil
}

// FindReport looks up a report by UUID.
func (r *Reports) FindReport(ctx context.Context, reportUUID string) (*model.Report, error) {
	var row reportRow
	err := r.db.Get(ctx, &row, `SELECT id, uuid, task_uuid, run_status, scan_start, scan_end,
		resume_exclude_hosts, max_severity FROM reports WHERE uuid = ?`, reportUUID)
	if err != nil {
		return nil, fmt.Errorf("find report %s: %w", reportUUID, err)
	}
	rep := row.toModel()
	return &rep, nil
}

// SetRunStatus advances a report's run_status, refusing the update if it
// would be a regression (spec §3's monotonic-progression invariant; Res-1).
func (r *Reports) SetRunStatus(ctx context.Context, reportUUID string, next model.RunStatus) error {
	rep, err := r.FindReport(ctx, reportUUID)
	if err != nil {
		return err
	}
	if !rep.CanAdvanceTo(next) {
		return fmt.Errorf("report %s: refusing regression from %s to %s", reportUUID, rep.RunStatus, next)
	}
	return r.db.Exec(ctx, `UPDATE reports SET run_status = ? WHERE uuid = ?`, next, reportUUID)
}

// SetScanTimes records the observed start/end wall-clock times for a
// report (spec §4.C set_scan_times). A nil end leaves scan_end untouched.
func (r *Reports) SetScanTimes(ctx context.Context, reportUUID string, start, end *time.Time) error {
	if start != nil {
		if err := r.db.Exec(ctx, `UPDATE reports SET scan_start = ? WHERE uuid = ?`, *start, reportUUID); err != nil {
			return fmt.Errorf("set scan_start for %s: %w", reportUUID, err)
		}
	}
	if end != nil {
		if err := r.db.Exec(ctx, `UPDATE reports SET scan_end = ? WHERE uuid = ?`, *end, reportUUID); err != nil {
			return fmt.Errorf("set scan_end for %s: %w", reportUUID, err)
		}
	}
	return nil
}

// TrimPartialReport deletes a report's results and host rows without
// deleting the report itself, matching spec §4.C trim_partial_report:
// an INTERRUPTED report keeps its identity but its partial findings are
// discarded so a resumed scan starts ingestion clean.
func (r *Reports) TrimPartialReport(ctx context.Context, reportUUID string) error {
	rep, err := r.FindReport(ctx, reportUUID)
	if err != nil {
		return err
	}
	if err := r.db.Exec(ctx, `DELETE FROM results WHERE report_id = ?`, rep.ID); err != nil {
		return fmt.Errorf("trim results for report %s: %w", reportUUID, err)
	}
	if err := r.db.Exec(ctx, `DELETE FROM host_details WHERE report_id = ?`, rep.ID); err != nil {
		return fmt.Errorf("trim host_details for report %s: %w", reportUUID, err)
	}
	if err := r.db.Exec(ctx, `DELETE FROM report_hosts WHERE report_id = ?`, rep.ID); err != nil {
		return fmt.Errorf("trim report_hosts for report %s: %w", reportUUID, err)
	}
	return r.db.Exec(ctx, `UPDATE reports SET max_severity = ? WHERE uuid = ?`,
		float64(model.SeverityLogSentinel), reportUUID)
}

// FinishedHostsSpec returns a comma-joined list of every host whose
// report_hosts row already has an end_time, i.e. every host the scanner
// had fully finished before the run stopped or was interrupted. Callers
// must read this before TrimPartialReport deletes the report_hosts rows
// it is computed from (spec §3 resume semantics).
func (r *Reports) FinishedHostsSpec(ctx context.Context, reportUUID string) (string, error) {
	rep, err := r.FindReport(ctx, reportUUID)
	if err != nil {
		return "", err
	}
	var rows []struct {
		Host string `db:"host"`
	}
	if err := r.db.Select(ctx, &rows, `SELECT host FROM report_hosts
		WHERE report_id = ? AND end_time IS NOT NULL`, rep.ID); err != nil {
		return "", fmt.Errorf("finished hosts for report %s: %w", reportUUID, err)
	}
	hosts := make([]string, len(rows))
	for i, row := range rows {
		hosts[i] = row.Host
	}
	return strings.Join(hosts, ","), nil
}

// SetResumeExcludeHosts persists the finished-host list FinishedHostsSpec
// captured, so the resumed run can fold it into the target's exclude list
// regardless of how long the report sits in the Scan Queue first.
func (r *Reports) SetResumeExcludeHosts(ctx context.Context, reportUUID string, hostsSpec string) error {
	return r.db.Exec(ctx, `UPDATE reports SET resume_exclude_hosts = ? WHERE uuid = ?`, hostsSpec, reportUUID)
}

// ResetForResume puts a trimmed report back into Requested run-status so
// a resumed task can drive it through the run states again. This is the
// one deliberate exception to the monotonic-progression invariant: resume
// starts a new logical run reusing the same report identity (spec §3
// Lifecycles), so it bypasses CanAdvanceTo rather than violating it.
func (r *Reports) ResetForResume(ctx context.Context, reportUUID string) error {
	return r.db.Exec(ctx, `UPDATE reports SET run_status = ? WHERE uuid = ?`, model.RunRequested, reportUUID)
}

// AppendResult appends one finding and, if it raises the report's maximum
// observed severity, updates that running maximum in the same call (spec
// §4.C append_result, Sev-1: severity banding is applied by the caller
// before this is invoked, this only tracks the numeric maximum).
func (r *Reports) AppendResult(ctx context.Context, res *model.Result) error {
	id, err := r.db.Insert(ctx, "results", res)
	if err != nil {
		return fmt.Errorf("append result for report %d: %w", res.ReportID, err)
	}
	res.ID = id

	return r.db.Exec(ctx,
		`UPDATE reports SET max_severity = ? WHERE id = ? AND max_severity < ?`,
		float64(res.Severity), res.ReportID, float64(res.Severity))
}

// AddHostDetail records one host-fact row (spec §4.C add_host_detail).
func (r *Reports) AddHostDetail(ctx context.Context, hd *model.HostDetail) error {
	id, err := r.db.Insert(ctx, "host_details", hd)
	if err != nil {
		return fmt.Errorf("add host detail for report %d: %w", hd.ReportID, err)
	}
	hd.ID = id
	return nil
}

// AddReportHost records per-host scan timing (start_time set on first
// contact, end_time set when the scanner moves on to the next host).
func (r *Reports) AddReportHost(ctx context.Context, rh *model.ReportHost) error {
	row := struct {
		ID        int64        `db:"id"`
		ReportID  int64        `db:"report_id"`
		Host      string       `db:"host"`
		StartTime sql.NullTime `db:"start_time"`
		EndTime   sql.NullTime `db:"end_time"`
	}{ReportID: rh.ReportID, Host: rh.Host}
	if rh.StartTime != nil {
		row.StartTime = sql.NullTime{Time: *rh.StartTime, Valid: true}
	}
	if rh.EndTime != nil {
		row.EndTime = sql.NullTime{Time: *rh.EndTime, Valid: true}
	}
	id, err := r.db.Insert(ctx, "report_hosts", row)
	if err != nil {
		return fmt.Errorf("add report host for report %d: %w", rh.ReportID, err)
	}
	rh.ID = id
	return nil
}

// LatestHostDetails returns host's detail rows from its most recent report
// (by report id, i.e. most recently created), for the CVE correlation
// variant's "looks up the most recent report-host in history" step
// (spec §4.E). Returns nil, nil if host has never been scanned.
func (r *Reports) LatestHostDetails(ctx context.Context, host string) ([]model.HostDetail, error) {
	var rows []model.HostDetail
	err := r.db.Select(ctx, &rows, `
		SELECT id, report_id, host, kind, name, value, source FROM host_details
		WHERE host = ? AND report_id = (
			SELECT MAX(rh.report_id) FROM report_hosts rh WHERE rh.host = ?
		)`, host, host)
	if err != nil {
		return nil, fmt.Errorf("latest host details for %s: %w", host, err)
	}
	return rows, nil
}

// DeleteReportsOlderThan removes every report (and its result/host rows)
// whose scan_end is older than cutoff, for the scheduler's auto-delete
// step (spec §4.I step 1). Reports with no scan_end (never finished) are
// left alone.
func (r *Reports) DeleteReportsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var rows []reportRow
	err := r.db.Select(ctx, &rows, `SELECT id, uuid, task_uuid, run_status, scan_start, scan_end,
		max_severity FROM reports WHERE scan_end IS NOT NULL AND scan_end < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list reports older than %s: %w", cutoff, err)
	}
	for _, row := range rows {
		if err := r.db.Exec(ctx, `DELETE FROM results WHERE report_id = ?`, row.ID); err != nil {
			return 0, fmt.Errorf("delete results for report %s: %w", row.UUID, err)
		}
		if err := r.db.Exec(ctx, `DELETE FROM host_details WHERE report_id = ?`, row.ID); err != nil {
			return 0, fmt.Errorf("delete host_details for report %s: %w", row.UUID, err)
		}
		if err := r.db.Exec(ctx, `DELETE FROM report_hosts WHERE report_id = ?`, row.ID); err != nil {
			return 0, fmt.Errorf("delete report_hosts for report %s: %w", row.UUID, err)
		}
		if err := r.db.Exec(ctx, `DELETE FROM reports WHERE id = ?`, row.ID); err != nil {
			return 0, fmt.Errorf("delete report %s: %w", row.UUID, err)
		}
	}
	return len(rows), nil
}

// IterReportsAwaitingProcessing is the Persistence Contract's
// iter_reports_awaiting_processing: reports whose scanner run finished but
// whose results have not yet been imported (spec §4.H), bounded by limit
// per the report-import-tick-limit knob (default 10).
func (r *Reports) IterReportsAwaitingProcessing(ctx context.Context, limit int) ([]model.Report, error) {
	var rows []reportRow
	err := r.db.Select(ctx, &rows, `SELECT id, uuid, task_uuid, run_status, scan_start, scan_end,
		max_severity FROM reports WHERE run_status = ? ORDER BY id ASC LIMIT ?`,
		model.RunProcessing, limit)
	if err != nil {
		return nil, fmt.Errorf("iter reports awaiting processing: %w", err)
	}
	out := make([]model.Report, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}
