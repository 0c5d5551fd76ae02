package types

import "context"

// FeedbackMessage is the sum type carried on the internal channel between
// a Worker and the Coordinator. Exactly one of the Xxx fields is
// meaningful, selected by Kind.
type FeedbackKind string

const (
	FeedbackTaskCompleted FeedbackKind = "task_completed"
	FeedbackTaskFailed    FeedbackKind = "task_failed"
	FeedbackTaskProgress  FeedbackKind = "task_progress"
)

// FeedbackMessage is emitted by a Worker and consumed by the Coordinator's
// feedback loop.
type FeedbackMessage struct {
	Kind   FeedbackKind
	TaskID int64

	// FeedbackTaskCompleted
	Result string

	// FeedbackTaskFailed
	Err error

	// FeedbackTaskProgress
	Progress uint8
	Message  string
}

// TaskStore is the external collaborator contract the coordinator and
// workers consume for durable task state. The database schema behind an
// implementation is its own business; pkg/store ships a reference
// bbolt-backed implementation.
type TaskStore interface {
	LoadTask(ctx context.Context, id int64) (*Task, error)
	LoadPendingTasks(ctx context.Context) ([]*Task, error)
	InsertTask(ctx context.Context, task *Task) (int64, error)
	UpdateTaskState(ctx context.Context, id int64, state TaskState) error
	UpdateTaskResult(ctx context.Context, id int64, result string, taskErr error) error
}

// InfrastructureProvider is the external collaborator the Resource Manager
// calls to provision, start, shut down, and destroy guest VMs.
// It is agnostic to hypervisor: pkg/infra ships a libvirt-backed
// implementation and a Lima-backed implementation (darwin only).
type InfrastructureProvider interface {
	Provision(ctx context.Context, spec ResourceSpec) (*Resource, error)
	Start(ctx context.Context, resourceName string, snapshot string) error
	Shutdown(ctx context.Context, resourceName string) error
	Destroy(ctx context.Context, resourceName string, platform Platform) error
}

// TaskNotificationService is a single-producer single-consumer stream of
// newly submitted task IDs, produced by the (out of scope) HTTP ingestion
// boundary and consumed only by the coordinator's notification listener.
type TaskNotificationService interface {
	Notifications() <-chan int64
}
