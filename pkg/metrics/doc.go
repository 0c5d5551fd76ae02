/*
Package metrics defines and registers the task-lifecycle engine's Prometheus
metrics (github.com/prometheus/client_golang): module-level
gauges/counters/histograms registered at init via prometheus.MustRegister,
a Timer helper for histogram observation, and an HTTP handler for the
scrape endpoint.

Categories:

  - Queue: depth and dequeue latency (pkg/queue, pkg/coordinator)
  - Tasks: count by lifecycle state, end-to-end duration by terminal state
  - Resources: count by kind and state, allocation latency and method
  - Plugins: running instance count, start duration, failures
  - Reconciler: cycle duration, cycle count, orphaned allocations released

A Collector periodically polls the Resource Manager, Plugin Manager and
Coordinator for point-in-time counts and republishes them as gauges.
*/
package metrics
