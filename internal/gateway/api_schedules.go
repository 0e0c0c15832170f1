package gateway

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ov-project/govmd/internal/model"
)

func toScheduleView(s model.Schedule) scheduleView {
	v := scheduleView{
		UUID:         s.UUID,
		ICalendar:    s.ICalendar,
		Zone:         s.Zone,
		PeriodCount:  s.PeriodCount,
		NextFireTime: formatTimePtr(s.NextFireTime),
	}
	if s.Duration != nil {
		secs := int64(*s.Duration / time.Second)
		v.DurationSec = &secs
	}
	return v
}

func (gw *Gateway) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	scheds, err := gw.schedules.ListAllSchedules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]scheduleView, 0, len(scheds))
	for _, s := range scheds {
		out = append(out, toScheduleView(s))
	}
	writeJSON(w, http.StatusOK, out)
}

type createScheduleRequest struct {
	ICalendar       string `json:"icalendar"`
	Zone            string `json:"zone"`
	DurationSeconds int64  `json:"duration_seconds"`
	PeriodCount     *int   `json:"period_count"`
}

func (gw *Gateway) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ICalendar == "" {
		writeError(w, http.StatusBadRequest, "icalendar is required")
		return
	}
	zone := req.Zone
	if zone == "" {
		zone = "UTC"
	}
	sched := &model.Schedule{
		UUID:        uuid.NewString(),
		ICalendar:   req.ICalendar,
		Zone:        zone,
		PeriodCount: req.PeriodCount,
	}
	if req.DurationSeconds > 0 {
		d := time.Duration(req.DurationSeconds) * time.Second
		sched.Duration = &d
	}
	if err := gw.schedules.CreateSchedule(r.Context(), sched); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toScheduleView(*sched))
}

func (gw *Gateway) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	uuid := r.PathValue("uuid")
	if _, err := gw.schedules.FindSchedule(r.Context(), uuid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := gw.schedules.DeleteSchedule(r.Context(), uuid); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
