// Package prometheus (import path internal/pkg/metrics) is the process-wide
// collector registry, grounded on the teacher's internal/pkg/prometheus
// registry.go: a package-level registry plus a GetRegistry accessor for
// wiring promhttp.Handler, expanded with the standard collectors each
// concern (lane, cron, heartbeat, gateway) increments or observes.
package prometheus

import "github.com/prometheus/client_golang/prometheus"

var registry = prometheus.NewRegistry()

// GetRegistry returns the process-wide registry. The gateway Router mounts
// promhttp.HandlerFor(GetRegistry(), ...) at /metrics on its own listener.
func GetRegistry() *prometheus.Registry {
	return registry
}

var (
	LaneTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openclaw_lane_tasks_total",
		Help: "Tasks that finished draining through a command lane, by lane and result.",
	}, []string{"lane", "result"})

	LaneQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "openclaw_lane_queue_depth",
		Help: "Current queued-plus-active task count for a lane.",
	}, []string{"lane"})

	LaneTaskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "openclaw_lane_task_duration_seconds",
		Help:    "Wall time a lane task spent executing, from dispatch to resolution.",
		Buckets: prometheus.DefBuckets,
	}, []string{"lane"})

	CronJobRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openclaw_cron_job_runs_total",
		Help: "Cron job executions, by job id and result.",
	}, []string{"job", "result"})

	CronJobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "openclaw_cron_job_duration_seconds",
		Help:    "Cron job execution time from lane dispatch to completion.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})

	HeartbeatTicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "openclaw_heartbeat_ticks_total",
		Help: "Heartbeat coordinator ticks that evaluated gates, regardless of outcome.",
	})

	HeartbeatDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openclaw_heartbeat_deliveries_total",
		Help: "Heartbeat digest deliveries, by result.",
	}, []string{"result"})

	GatewayConnectionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "openclaw_gateway_connections",
		Help: "Currently connected and authenticated gateway sessions.",
	})

	GatewayRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openclaw_gateway_requests_total",
		Help: "Gateway RPC requests handled, by method and result.",
	}, []string{"method", "result"})

	GatewayFrameBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "openclaw_gateway_frame_bytes",
		Help:    "Size in bytes of decoded inbound gateway wire frames.",
		Buckets: prometheus.ExponentialBuckets(64, 4, 8),
	})
)

func init() {
	registry.MustRegister(
		LaneTasksTotal,
		LaneQueueDepth,
		LaneTaskDuration,
		CronJobRunsTotal,
		CronJobDuration,
		HeartbeatTicksTotal,
		HeartbeatDeliveriesTotal,
		GatewayConnectionsGauge,
		GatewayRequestsTotal,
		GatewayFrameBytes,
	)
}
