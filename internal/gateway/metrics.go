package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gauges the controller exposes at GET /metrics, scraped
// by whatever Prometheus-compatible collector the deployment runs.
var (
	tasksRunningGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "govmd",
		Name:      "tasks_running",
		Help:      "Number of tasks currently in RUNNING status.",
	})
	tasksQueuedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "govmd",
		Name:      "tasks_queued",
		Help:      "Number of tasks currently in REQUESTED or QUEUED status.",
	})
	scanQueueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "govmd",
		Name:      "scan_queue_depth",
		Help:      "Current depth of the Scan Queue admission table.",
	})
)

func init() {
	prometheus.MustRegister(tasksRunningGauge, tasksQueuedGauge, scanQueueDepthGauge)
}

// handleMetrics delegates to the default promhttp handler over the
// default Prometheus registry the gauges above were registered against.
func (gw *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	status := gw.currentStatus(r.Context())
	tasksRunningGauge.Set(float64(status.TasksRunning))
	tasksQueuedGauge.Set(float64(status.TasksQueued))
	scanQueueDepthGauge.Set(float64(status.ScanQueueDepth))
	promhttp.Handler().ServeHTTP(w, r)
}
