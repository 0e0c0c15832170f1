package gateway

import "net/http"

// buildHandler wires all REST and SSE routes onto a new ServeMux.
// Uses Go 1.22+ method-prefixed patterns ("GET /path", "POST /path").
func buildHandler(gw *Gateway) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", gw.handleRoot)
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /metrics", gw.handleMetrics)
	mux.HandleFunc("GET /api/status", gw.handleStatus)

	mux.HandleFunc("GET /api/tasks", gw.handleListTasks)
	mux.HandleFunc("POST /api/tasks", gw.handleCreateTask)
	mux.HandleFunc("GET /api/tasks/{uuid}", gw.handleGetTask)
	mux.HandleFunc("DELETE /api/tasks/{uuid}", gw.handleDeleteTask)
	mux.HandleFunc("POST /api/tasks/{uuid}/start", gw.handleStartTask)
	mux.HandleFunc("POST /api/tasks/{uuid}/stop", gw.handleStopTask)
	mux.HandleFunc("POST /api/tasks/{uuid}/resume", gw.handleResumeTask)
	mux.HandleFunc("POST /api/tasks/{uuid}/move", gw.handleMoveTask)

	mux.HandleFunc("GET /api/reports/{uuid}", gw.handleGetReport)

	mux.HandleFunc("GET /api/scanners", gw.handleListScanners)
	mux.HandleFunc("POST /api/scanners", gw.handleCreateScanner)

	mux.HandleFunc("GET /api/schedules", gw.handleListSchedules)
	mux.HandleFunc("POST /api/schedules", gw.handleCreateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{uuid}", gw.handleDeleteSchedule)

	mux.HandleFunc("GET /api/feed/status", gw.handleFeedStatus)
	mux.HandleFunc("POST /api/feed/sync", gw.handleFeedTriggerSync)

	mux.HandleFunc("POST /api/notify/test", gw.handleNotifyTest)

	mux.HandleFunc("GET /events", gw.handleEvents)

	return mux
}
