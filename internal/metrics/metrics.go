// Package metrics holds the bridge's Prometheus collectors. They are
// registered with the default registry and served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MotionPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ufvbridge_motion_polls_total",
		Help: "Total number of motion recording polls per NVR",
	}, []string{"nvr", "result"})

	MotionSnapshotRecordings = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ufvbridge_motion_snapshot_recordings",
		Help: "Number of motion recordings in the current snapshot",
	}, []string{"nvr"})

	DiscoveryRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ufvbridge_discovery_runs_total",
		Help: "Total number of camera discovery runs per NVR",
	}, []string{"nvr", "result"})

	DiscoveredCameras = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ufvbridge_discovered_cameras",
		Help: "Number of RTSP enabled cameras found by the last discovery",
	}, []string{"nvr"})

	MotionStateChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ufvbridge_motion_state_changes_total",
		Help: "Total number of published motion state changes per sensor",
	}, []string{"sensor"})

	ServiceUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ufvbridge_service_up",
		Help: "Whether a watched NVR or broker is reachable (1) or not (0)",
	}, []string{"service"})
)

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// RecordDiscovery records the outcome of one discovery run.
func RecordDiscovery(nvr string, cameras int, err error) {
	if err != nil {
		DiscoveryRunsTotal.WithLabelValues(nvr, ResultError).Inc()
		return
	}
	DiscoveryRunsTotal.WithLabelValues(nvr, ResultOK).Inc()
	DiscoveredCameras.WithLabelValues(nvr).Set(float64(cameras))
}
