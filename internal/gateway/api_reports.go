package gateway

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/ov-project/govmd/internal/model"
)

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func toReportView(r model.Report) reportView {
	v := reportView{
		UUID:      r.UUID,
		TaskUUID:  r.TaskUUID,
		RunStatus: string(r.RunStatus),
		ScanStart: formatTimePtr(r.ScanStart),
		ScanEnd:   formatTimePtr(r.ScanEnd),
	}
	if lvl, err := r.MaxSeverity.ToLevel(); err == nil {
		v.MaxSeverity = string(lvl)
	}
	return v
}

func (gw *Gateway) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := gw.reports.FindReport(r.Context(), r.PathValue("uuid"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toReportView(*rep))
}
