// Package health tracks the liveness of plugin instances via IPC heartbeats
// rather than network or exec probes: a plugin process sends a Heartbeat
// message on the events topic, and HeartbeatChecker watches for the gap
// between beats exceeding its grace period, exactly the hysteresis pattern
// Status/Config already implement for the rest of this package.
package health
