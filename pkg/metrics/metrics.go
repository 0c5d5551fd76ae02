package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "malbox_queue_depth",
			Help: "Number of tasks currently waiting in the priority queue",
		},
	)

	QueueDequeueLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "malbox_queue_dequeue_latency_seconds",
			Help:    "Time a task spent enqueued before being dequeued",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Task metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "malbox_tasks_total",
			Help: "Number of tasks by lifecycle state",
		},
		[]string{"state"},
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "malbox_task_duration_seconds",
			Help:    "End-to-end task duration from Running to a terminal state",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"terminal_state"},
	)

	TasksFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "malbox_tasks_failed_total",
			Help: "Total number of tasks that reached the Failed state, by error kind",
		},
		[]string{"kind"},
	)

	TasksCanceledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "malbox_tasks_canceled_total",
			Help: "Total number of tasks that reached the Canceled state",
		},
	)

	// Resource manager metrics
	ResourcesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "malbox_resources_total",
			Help: "Number of resources by kind and state",
		},
		[]string{"kind", "state"},
	)

	AllocationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "malbox_allocation_latency_seconds",
			Help:    "Time taken to satisfy a resource allocation request",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	AllocationsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "malbox_allocations_failed_total",
			Help: "Total number of allocation requests that could not be satisfied",
		},
	)

	ProvisioningFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "malbox_provisioning_failed_total",
			Help: "Total number of InfrastructureProvider.Provision calls that failed",
		},
	)

	// Plugin manager metrics
	PluginInstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "malbox_plugin_instances_total",
			Help: "Number of plugin instances by lifecycle state",
		},
		[]string{"state"},
	)

	PluginStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "malbox_plugin_start_duration_seconds",
			Help:    "Time from Start() to the first heartbeat (Running)",
			Buckets: prometheus.DefBuckets,
		},
	)

	PluginFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "malbox_plugin_failures_total",
			Help: "Total number of plugin instances that transitioned to Failed, by plugin id",
		},
		[]string{"plugin_id"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "malbox_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "malbox_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	ReconciledAllocationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "malbox_reconciled_allocations_total",
			Help: "Total number of orphaned resource allocations released by the reconciler",
		},
	)

	// IPC metrics
	IPCSendFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "malbox_ipc_send_failures_total",
			Help: "Total number of failed IPC channel sends, by topic",
		},
		[]string{"topic"},
	)
)

func init() {
	prometheus.MustRegister(
		QueueDepth,
		QueueDequeueLatency,
		TasksTotal,
		TaskDuration,
		TasksFailedTotal,
		TasksCanceledTotal,
		ResourcesTotal,
		AllocationLatency,
		AllocationsFailedTotal,
		ProvisioningFailedTotal,
		PluginInstancesTotal,
		PluginStartDuration,
		PluginFailuresTotal,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		ReconciledAllocationsTotal,
		IPCSendFailuresTotal,
	)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
