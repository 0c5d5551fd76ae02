// Package coordinator ties together pkg/queue, pkg/resource, pkg/plugin and
// pkg/worker into the Task Coordinator described in coordinator.go.
package coordinator
