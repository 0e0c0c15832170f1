package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ov-project/govmd/internal/notify"
)

func (gw *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (gw *Gateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":   "govmd controller",
		"status": "running",
		"endpoints": []string{
			"GET /health",
			"GET /metrics",
			"GET /api/status",
			"GET /api/tasks",
			"POST /api/tasks",
			"GET /api/tasks/{uuid}",
			"DELETE /api/tasks/{uuid}",
			"POST /api/tasks/{uuid}/start",
			"POST /api/tasks/{uuid}/stop",
			"POST /api/tasks/{uuid}/resume",
			"POST /api/tasks/{uuid}/move",
			"GET /api/reports/{uuid}",
			"GET /api/scanners",
			"POST /api/scanners",
			"GET /api/schedules",
			"POST /api/schedules",
			"DELETE /api/schedules/{uuid}",
			"GET /api/feed/status",
			"POST /api/feed/sync",
			"POST /api/notify/test",
			"GET /events",
		},
	})
}

func (gw *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, gw.currentStatus(r.Context()))
}

// handleNotifyTest sends a test notification through all configured channels.
func (gw *Gateway) handleNotifyTest(w http.ResponseWriter, r *http.Request) {
	if gw.notifier == nil || !gw.notifier.IsAnyConfigured() {
		writeError(w, http.StatusBadRequest, "no notification channels configured")
		return
	}
	gw.notifier.Notify(r.Context(), notify.Event{
		Type:  "test",
		Title: "govmd test notification",
		Body:  "Notification delivery is working correctly.",
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// handleEvents streams SSE to the client. Each line is a JSON SSEEvent.
// Clients receive a "connected" event immediately, then live updates.
func (gw *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering if behind a proxy

	ch := gw.broadcaster.subscribe()
	defer gw.broadcaster.unsubscribe(ch)

	connected, _ := json.Marshal(SSEEvent{Type: "connected", Payload: gw.currentStatus(r.Context())})
	fmt.Fprintf(w, "data: %s\n\n", connected)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			w.Write(frame)
			flusher.Flush()
		}
	}
}
