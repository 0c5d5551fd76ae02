// Package worker implements the per-task state machine: a
// Worker owns exactly one Task from submission to a terminal state, driving
// it through resource allocation, plugin start-up, IPC-polled execution and
// teardown, and reports progress and outcome to the coordinator over a
// FeedbackMessage channel.
package worker
