package types

import "time"

// TaskState is the lifecycle state of a Task. See doc.go for the full state
// machine; transitions are enforced by the coordinator and worker, not by
// this package.
type TaskState string

const (
	TaskStatePending             TaskState = "pending"
	TaskStateInitializing        TaskState = "initializing"
	TaskStatePreparingResources  TaskState = "preparing_resources"
	TaskStateRunning             TaskState = "running"
	TaskStateStopping            TaskState = "stopping"
	TaskStateCompleted           TaskState = "completed"
	TaskStateFailed              TaskState = "failed"
	TaskStateCanceled            TaskState = "canceled"
)

// IsTerminal reports whether s is a terminal state of the task state
// machine (Completed, Failed, Canceled).
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	default:
		return false
	}
}

// validTaskTransitions enumerates the allowed edges of the task state
// machine graph. Canceled is reachable from every non-terminal state, so it
// is checked separately in CanTransition rather than listed here for each
// source state.
var validTaskTransitions = map[TaskState][]TaskState{
	TaskStatePending:            {TaskStateInitializing},
	TaskStateInitializing:       {TaskStatePreparingResources, TaskStateFailed},
	TaskStatePreparingResources: {TaskStateRunning, TaskStateFailed},
	TaskStateRunning:            {TaskStateStopping, TaskStateCompleted, TaskStateFailed},
	TaskStateStopping:           {TaskStateCompleted, TaskStateFailed, TaskStateCanceled},
}

// CanTransition reports whether the task state machine permits moving from
// `from` to `to`.
func CanTransition(from, to TaskState) bool {
	if from.IsTerminal() {
		return false
	}
	if to == TaskStateCanceled {
		return true
	}
	for _, allowed := range validTaskTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Platform names a guest operating system family a task or plugin targets.
type Platform string

const (
	PlatformLinux   Platform = "linux"
	PlatformWindows Platform = "windows"
	PlatformMacOS   Platform = "macos"
	PlatformAny     Platform = ""
)

// TaskOptions is the immutable analysis plan attached to a Task at
// submission time.
type TaskOptions struct {
	Platform       Platform
	EnforceTimeout bool
	Plugins        []string // requested plugin identifiers
	Profile        string   // optional named analysis profile
	Machine        string   // optional preferred resource name
	Timeout        int64    // seconds; 0 means no per-task timeout (analysis.timeout is not substituted)
}

// Task is a unit of analysis work: immutable submission metadata plus
// mutable lifecycle state. Identity is a monotonic integer assigned by the
// store on insert.
type Task struct {
	ID        int64
	SampleID  int64
	Owner     string
	Tags      []string
	Priority  int64
	CreatedAt time.Time
	Options   TaskOptions

	// Mutable lifecycle state.
	State          TaskState
	StartedAt      *time.Time
	CompletedAt    *time.Time
	AssignedResource string // resource UUID, empty if unallocated
	Error          string  // short error kind, set on Failed
}

// Sample is a content-addressed analysis target. Uniqueness is by the full
// hash bundle; inserting a duplicate yields the existing record (enforced
// by the store, not this type).
type Sample struct {
	ID         int64
	Size       int64
	FileType   string
	Hashes     HashBundle
	CreatedAt  time.Time
}

// HashBundle is the set of content hashes used to establish sample
// identity and support downstream fuzzy-matching.
type HashBundle struct {
	MD5    string
	SHA1   string
	SHA256 string
	SHA512 string
	CRC32  string
	Fuzzy  string // ssdeep-style fuzzy hash
}
