package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ov-project/govmd/internal/apperror"
	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/taskstate"
)

// principalFromRequest resolves the caller identity the state machine
// checks permissions against. This gateway trusts the X-Principal-UUID
// header set by an authenticated reverse proxy or the scheduler's own
// self-call session (spec §1 Non-goals: the ACL engine populating
// Permissions is an external collaborator this package only consumes).
func principalFromRequest(r *http.Request) taskstate.Principal {
	uuid := r.Header.Get("X-Principal-UUID")
	if uuid == "" {
		return taskstate.System
	}
	return taskstate.Principal{
		UUID: uuid,
		Permissions: map[string]bool{
			model.PermStartTask:  true,
			model.PermStopTask:   true,
			model.PermResumeTask: true,
			model.PermModifyTask: true,
			model.PermDeleteTask: true,
		},
	}
}

func toTaskView(t model.Task) taskView {
	return taskView{
		UUID:           t.UUID,
		Name:           t.Name,
		Owner:          t.Owner,
		ScannerUUID:    t.ScannerUUID,
		TargetUUID:     t.TargetUUID,
		ConfigUUID:     t.ConfigUUID,
		ScheduleUUID:   t.ScheduleUUID,
		AgentGroupUUID: t.AgentGroupUUID,
		Status:         string(t.Status),
		CurrentReport:  t.CurrentReport,
		CreatedAt:      t.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      t.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (gw *Gateway) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	var (
		tasks []model.Task
		err   error
	)
	if status != "" {
		tasks, err = gw.tasks.ListTasksByStatus(r.Context(), model.TaskStatus(status))
	} else {
		tasks, err = gw.tasks.ListAllTasks(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskView(t))
	}
	writeJSON(w, http.StatusOK, out)
}

type createTaskRequest struct {
	Name           string `json:"name"`
	Owner          string `json:"owner"`
	ScannerUUID    string `json:"scanner_uuid"`
	TargetUUID     string `json:"target_uuid"`
	ConfigUUID     string `json:"config_uuid"`
	ScheduleUUID   string `json:"schedule_uuid"`
	AgentGroupUUID string `json:"agent_group_uuid"`
	Preferences    string `json:"preferences"`
}

func (gw *Gateway) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Owner == "" || req.ScannerUUID == "" || req.TargetUUID == "" {
		writeError(w, http.StatusBadRequest, "name, owner, scanner_uuid and target_uuid are required")
		return
	}
	task := &model.Task{
		UUID:           uuid.NewString(),
		Name:           req.Name,
		Owner:          req.Owner,
		ScannerUUID:    req.ScannerUUID,
		TargetUUID:     req.TargetUUID,
		ConfigUUID:     req.ConfigUUID,
		ScheduleUUID:   req.ScheduleUUID,
		AgentGroupUUID: req.AgentGroupUUID,
		Preferences:    req.Preferences,
	}
	if err := gw.tasks.CreateTask(r.Context(), task); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toTaskView(*task))
}

func (gw *Gateway) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := gw.tasks.FindTask(r.Context(), r.PathValue("uuid"))
	if apperror.Is(err, apperror.NotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toTaskView(*task))
}

func (gw *Gateway) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	uuid := r.PathValue("uuid")
	if err := gw.machine.Delete(r.Context(), uuid, principalFromRequest(r)); err != nil {
		writeTaskStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (gw *Gateway) handleStartTask(w http.ResponseWriter, r *http.Request) {
	uuid := r.PathValue("uuid")
	report, err := gw.machine.Start(r.Context(), uuid, principalFromRequest(r))
	if err != nil {
		writeTaskStateError(w, err)
		return
	}
	gw.broadcaster.send(SSEEvent{Type: "task.started", Payload: map[string]string{"task_uuid": uuid, "report_uuid": report.UUID}})
	writeJSON(w, http.StatusOK, map[string]string{"report_uuid": report.UUID})
}

func (gw *Gateway) handleStopTask(w http.ResponseWriter, r *http.Request) {
	uuid := r.PathValue("uuid")
	if err := gw.machine.Stop(r.Context(), uuid, principalFromRequest(r)); err != nil {
		writeTaskStateError(w, err)
		return
	}
	gw.broadcaster.send(SSEEvent{Type: "task.stop_requested", Payload: map[string]string{"task_uuid": uuid}})
	writeJSON(w, http.StatusOK, map[string]string{"status": "stop_requested"})
}

func (gw *Gateway) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	uuid := r.PathValue("uuid")
	report, err := gw.machine.Resume(r.Context(), uuid, principalFromRequest(r))
	if err != nil {
		writeTaskStateError(w, err)
		return
	}
	gw.broadcaster.send(SSEEvent{Type: "task.resumed", Payload: map[string]string{"task_uuid": uuid, "report_uuid": report.UUID}})
	writeJSON(w, http.StatusOK, map[string]string{"report_uuid": report.UUID})
}

type moveTaskRequest struct {
	ScannerUUID string `json:"scanner_uuid"`
}

func (gw *Gateway) handleMoveTask(w http.ResponseWriter, r *http.Request) {
	var req moveTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ScannerUUID == "" {
		writeError(w, http.StatusBadRequest, "scanner_uuid is required")
		return
	}
	uuid := r.PathValue("uuid")
	if err := gw.machine.Move(r.Context(), uuid, req.ScannerUUID, principalFromRequest(r)); err != nil {
		writeTaskStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "moved"})
}

// writeTaskStateError maps apperror kinds onto HTTP status codes (spec §7).
func writeTaskStateError(w http.ResponseWriter, err error) {
	switch {
	case apperror.Is(err, apperror.NotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case apperror.Is(err, apperror.PermissionDenied):
		writeError(w, http.StatusForbidden, err.Error())
	case apperror.Is(err, apperror.Conflict):
		writeError(w, http.StatusConflict, err.Error())
	case apperror.Is(err, apperror.CapacityExhausted):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case apperror.Is(err, apperror.FeedBusy):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
