package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/dualhorizon/malbox/pkg/errors"
	"github.com/dualhorizon/malbox/pkg/ipc"
	"github.com/dualhorizon/malbox/pkg/log"
	"github.com/dualhorizon/malbox/pkg/plugin"
	"github.com/dualhorizon/malbox/pkg/resource"
	"github.com/dualhorizon/malbox/pkg/types"
	"github.com/rs/zerolog"
)

// pollInterval is how often the Running loop checks IPC topics and start
// grace timeouts when no message is immediately available.
const pollInterval = 200 * time.Millisecond

// stopGrace is how long Stop waits for a plugin instance to exit on its own
// before the Plugin Manager kills it.
const stopGrace = 10 * time.Second

// Worker drives a single Task through its full lifecycle. It is not safe
// for concurrent use by more than one goroutine; the coordinator runs each
// Worker on its own goroutine and never touches it again until Run returns.
type Worker struct {
	task      *types.Task
	store     types.TaskStore
	resources *resource.Manager
	provider  types.InfrastructureProvider
	plugins   *plugin.Manager
	feedback  chan<- types.FeedbackMessage
	logger    zerolog.Logger

	resourceID     string
	instances      []string // instance ids, in start order
	lastReport     uint8
	reported       bool
	lastReportTime time.Time
}

// New creates a Worker for task. provider must be the same
// InfrastructureProvider backing resources: the Resource Manager's Allocate
// only provisions or reserves a Resource record, it never boots it, so
// the Worker calls provider.Start directly once a Resource is allocated.
func New(task *types.Task, store types.TaskStore, resources *resource.Manager, provider types.InfrastructureProvider, plugins *plugin.Manager, feedback chan<- types.FeedbackMessage) *Worker {
	return &Worker{
		task:      task,
		store:     store,
		resources: resources,
		provider:  provider,
		plugins:   plugins,
		feedback:  feedback,
		logger:    log.WithTaskID(task.ID),
	}
}

// Run drives the task from Pending through to a terminal state. It always
// reports exactly one of FeedbackTaskCompleted/FeedbackTaskFailed before
// returning, and always releases any Resource it allocated and stops any
// plugin instance it started, regardless of which step failed.
func (w *Worker) Run(ctx context.Context) {
	err := w.run(ctx)
	if err != nil {
		w.cleanup(ctx)
		w.fail(ctx, err)
		return
	}
	w.milestone(95, "stopping plugins and releasing resources")
	w.cleanup(ctx)
	w.milestone(100, "analysis finished")
	w.complete(ctx)
}

func (w *Worker) run(ctx context.Context) error {
	if err := w.transition(ctx, types.TaskStateInitializing); err != nil {
		return err
	}
	w.milestone(0, "initializing")
	order, err := w.plugins.ResolveStartOrder(w.task.Options.Plugins)
	if err != nil {
		return fmt.Errorf("resolve plugin start order: %w", err)
	}
	w.milestone(10, "plugin start order resolved")

	if err := w.transition(ctx, types.TaskStatePreparingResources); err != nil {
		return err
	}
	if err := w.prepareResource(ctx); err != nil {
		return err
	}
	if err := w.startPlugins(ctx, order); err != nil {
		return err
	}
	w.milestone(40, "plugins started")

	if err := w.transition(ctx, types.TaskStateRunning); err != nil {
		return err
	}
	return w.runLoop(ctx)
}

// prepareResource allocates a Resource for the task and boots it. Allocate
// only provisions or reserves the record; Start performs the actual
// hypervisor boot (with an optional snapshot revert), a separate call the
// Resource Manager deliberately leaves to its caller.
func (w *Worker) prepareResource(ctx context.Context) error {
	req := &types.AllocationRequest{
		TaskID:      w.task.ID,
		Kind:        types.ResourceKindVirtualMachine,
		Constraints: types.ResourceConstraints{Platform: w.task.Options.Platform},
		Preferences: types.ResourcePreferences{AllowProvisioning: true, PreferredResourceID: w.task.Options.Machine},
		Priority:    w.task.Priority,
		CreatedAt:   time.Now(),
	}
	alloc, err := w.resources.Allocate(ctx, req)
	if err != nil {
		return fmt.Errorf("allocate resource for task %d: %w", w.task.ID, err)
	}
	w.resourceID = alloc.Resource.ID
	w.task.AssignedResource = w.resourceID
	w.milestone(20, "resource allocated")

	if err := w.provider.Start(ctx, alloc.Resource.Name, alloc.Resource.Snapshot()); err != nil {
		return fmt.Errorf("start resource %s: %w", alloc.Resource.Name, errors.Wrap(errors.KindProvisioningFailed, "resource failed to boot", err))
	}
	w.milestone(30, "resource booted")
	w.logger.Info().Str("resource_id", w.resourceID).Str("method", string(alloc.Method)).Msg("resource allocated and started")
	return nil
}

// startPlugins creates, assigns and starts one instance per manifest in
// order, honoring each manifest's ExecutionPolicy against the set of
// instances already running for this task. order is a
// dependency-respecting order (StartOrder), so CanStart's view of "already
// running" must reflect that dependency, not merely already-started: each
// instance is awaited up to Running before the next manifest is evaluated,
// otherwise a dependent would be checked against a dependency that has only
// just begun Starting and never appears in Manager.Running() yet.
func (w *Worker) startPlugins(ctx context.Context, order []*types.PluginManifest) error {
	for _, mf := range order {
		if !plugin.CanStart(mf, w.task.ID, w.plugins.Running()) {
			return fmt.Errorf("start plugin %s: %w", mf.ID, errors.Wrap(errors.KindPluginError, "scheduling policy forbids start", nil))
		}
		instanceID, err := w.plugins.CreateInstance(mf.ID)
		if err != nil {
			return fmt.Errorf("create instance of plugin %s: %w", mf.ID, err)
		}
		if err := w.plugins.Assign(instanceID, w.task.ID); err != nil {
			return fmt.Errorf("assign instance %s to task %d: %w", instanceID, w.task.ID, err)
		}
		if err := w.plugins.Start(ctx, instanceID); err != nil {
			return fmt.Errorf("start instance %s of plugin %s: %w", instanceID, mf.ID, err)
		}
		w.instances = append(w.instances, instanceID)
		if err := w.awaitRunning(ctx, instanceID); err != nil {
			return fmt.Errorf("await running instance %s of plugin %s: %w", instanceID, mf.ID, err)
		}
	}
	return nil
}

// awaitRunning blocks until instanceID reaches Running (heartbeat or a
// Started/ResourceReady event) or has already run and Stopped between two
// polls, fails (start grace expired or the instance is Failed), or ctx is
// canceled. It reuses
// the same events-topic drain and grace check runLoop polls with, so a
// plugin that never spawned heartbeats still times out the same way it
// would during a normal run.
func (w *Worker) awaitRunning(ctx context.Context, instanceID string) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.Wrap(errors.KindCanceled, "task canceled while waiting for plugin instance to start", ctx.Err())
		case <-ticker.C:
			if contains(w.plugins.CheckStartGrace(), instanceID) {
				return fmt.Errorf("instance %s: %w", instanceID, errors.Wrap(errors.KindPluginError, "start grace period expired before plugin became running", nil))
			}
			if ch := w.plugins.Channel(instanceID); ch != nil {
				if err := w.drainTopic(ch, instanceID, ipc.TopicEvents); err != nil {
					return err
				}
				if err := w.drainTopic(ch, instanceID, ipc.TopicResults); err != nil {
					return err
				}
			}
			inst, err := w.plugins.Instance(instanceID)
			if err != nil {
				return err
			}
			switch inst.State {
			case types.InstanceStateRunning, types.InstanceStateStopped:
				return nil
			case types.InstanceStateFailed:
				return fmt.Errorf("instance %s: %w", instanceID, errors.ErrPluginError)
			}
		}
	}
}

// runLoop polls every started instance's events and results topics until
// every instance has stopped, a plugin reports failure, ctx is canceled, or
// the task's own per-task timeout elapses. Progress is reported throttled
// to whole deciles.
//
// ctx carries only cooperative cancellation (coordinator.Cancel); the
// per-task timeout is tracked on its own timer so the two can be told
// apart at the point of exit.
func (w *Worker) runLoop(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var timeoutC <-chan time.Time
	if w.task.Options.Timeout > 0 {
		timer := time.NewTimer(time.Duration(w.task.Options.Timeout) * time.Second)
		defer timer.Stop()
		timeoutC = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return errors.Wrap(errors.KindCanceled, "task canceled", ctx.Err())
		case <-timeoutC:
			if w.task.Options.EnforceTimeout {
				return errors.New(errors.KindTimeout, fmt.Sprintf("task %d exceeded its %ds timeout", w.task.ID, w.task.Options.Timeout))
			}
			w.logger.Info().Msg("task timeout elapsed without enforce_timeout, completing gracefully")
			return nil
		case <-ticker.C:
			done, failed, err := w.pollOnce()
			if err != nil {
				return err
			}
			if failed != "" {
				return fmt.Errorf("plugin instance %s reported failure: %w", failed, errors.ErrPluginError)
			}
			if done {
				return nil
			}
		}
	}
}

// pollOnce drains one round of events/results from every instance and
// returns (all instances stopped, id of a failed instance if any, error).
func (w *Worker) pollOnce() (bool, string, error) {
	allStopped := true
	timedOut := w.plugins.CheckStartGrace()

	for _, instanceID := range w.instances {
		if contains(timedOut, instanceID) {
			return false, instanceID, nil
		}

		ch := w.plugins.Channel(instanceID)
		if ch == nil {
			allStopped = false
			continue
		}
		if err := w.drainTopic(ch, instanceID, ipc.TopicEvents); err != nil {
			return false, "", err
		}
		if err := w.drainTopic(ch, instanceID, ipc.TopicResults); err != nil {
			return false, "", err
		}

		inst, err := w.plugins.Instance(instanceID)
		if err != nil {
			return false, "", err
		}
		switch inst.State {
		case types.InstanceStateFailed:
			return false, instanceID, nil
		case types.InstanceStateStopped:
		default:
			allStopped = false
		}
	}
	return allStopped, "", nil
}

func (w *Worker) drainTopic(ch *ipc.Channel, instanceID string, topic ipc.Topic) error {
	for {
		msg, err := ch.TryReceive(topic)
		if err == ipc.ErrNoMessage {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive %s for instance %s: %w", topic, instanceID, err)
		}
		if topic == ipc.TopicEvents {
			w.handleEvent(instanceID, msg)
		}
	}
}

func (w *Worker) handleEvent(instanceID string, msg *ipc.MessagePayload) {
	if msg.MessageType == ipc.MessageTypeHeartbeat {
		_ = w.plugins.MarkRunning(instanceID)
		return
	}
	eventType := msg.Content.EventType
	_ = w.plugins.OnEvent(instanceID, eventType)
	if eventType == ipc.EventProgress {
		w.reportProgress(msg.Content.EventProgressPercent, msg.Content.EventProgressMessage.String())
	}
}

// milestone reports a state-boundary progress value (0/10/20/30/40 while
// setting up, 95/100 while shutting down). Milestones bypass the Running-
// phase throttle but never move progress backwards.
func (w *Worker) milestone(percent uint8, message string) {
	if w.reported && percent <= w.lastReport {
		return
	}
	w.reported = true
	w.lastReport = percent
	w.lastReportTime = time.Now()
	w.feedback <- types.FeedbackMessage{Kind: types.FeedbackTaskProgress, TaskID: w.task.ID, Progress: percent, Message: message}
}

// reportProgress emits a FeedbackTaskProgress message for plugin-driven
// progress while Running: whole deciles only, capped at 90 (95/100 are
// shutdown milestones), never backwards, at most one per 500ms.
func (w *Worker) reportProgress(percent uint8, message string) {
	decile := percent - (percent % 10)
	if decile > 90 {
		decile = 90
	}
	if decile <= w.lastReport {
		return
	}
	if time.Since(w.lastReportTime) < 500*time.Millisecond {
		return
	}
	w.lastReport = decile
	w.lastReportTime = time.Now()
	w.feedback <- types.FeedbackMessage{Kind: types.FeedbackTaskProgress, TaskID: w.task.ID, Progress: decile, Message: message}
}

func (w *Worker) complete(ctx context.Context) {
	if err := w.transition(ctx, types.TaskStateCompleted); err != nil {
		w.logger.Error().Err(err).Msg("failed to persist terminal state")
	}
	if err := w.store.UpdateTaskResult(ctx, w.task.ID, "completed", nil); err != nil {
		w.logger.Error().Err(err).Msg("persist task completion failed")
	}
	w.feedback <- types.FeedbackMessage{Kind: types.FeedbackTaskCompleted, TaskID: w.task.ID, Result: "completed"}
}

func (w *Worker) fail(ctx context.Context, cause error) {
	w.logger.Error().Err(cause).Msg("task failed")
	target := types.TaskStateFailed
	if errors.KindOf(cause) == errors.KindCanceled {
		target = types.TaskStateCanceled
	}
	if w.task.State == types.TaskStateRunning {
		_ = w.transition(ctx, types.TaskStateStopping)
	}
	if err := w.transition(ctx, target); err != nil {
		w.logger.Error().Err(err).Msg("failed to persist terminal state")
	}
	// UpdateTaskResult with an error records Failed, so a canceled task
	// skips it and keeps its Canceled state.
	if target == types.TaskStateFailed {
		if err := w.store.UpdateTaskResult(ctx, w.task.ID, "", cause); err != nil {
			w.logger.Error().Err(err).Msg("persist task failure failed")
		}
	}
	w.feedback <- types.FeedbackMessage{Kind: types.FeedbackTaskFailed, TaskID: w.task.ID, Err: cause}
}

// cleanup stops every started plugin instance and releases the allocated
// resource. It runs unconditionally after run returns, success or failure,
// using a fresh context so a canceled task's resources still get torn down.
// cleanup always runs with a fresh background context: the task's own ctx
// may already be Done (canceled/timed out), but teardown must still happen.
func (w *Worker) cleanup(context.Context) {
	stopCtx := context.Background()
	for _, instanceID := range w.instances {
		if err := w.plugins.Stop(stopCtx, instanceID, stopGrace); err != nil {
			w.logger.Warn().Err(err).Str("instance_id", instanceID).Msg("stop instance failed during cleanup")
		}
		w.plugins.Remove(instanceID)
	}
	if err := w.resources.ReleaseTask(stopCtx, w.task.ID); err != nil {
		w.logger.Error().Err(err).Str("resource_id", w.resourceID).Msg("release resources failed during cleanup")
	}
}

func (w *Worker) transition(ctx context.Context, to types.TaskState) error {
	if !types.CanTransition(w.task.State, to) {
		return errors.New(errors.KindInternal, fmt.Sprintf("task %d: invalid transition %s -> %s", w.task.ID, w.task.State, to))
	}
	w.task.State = to
	if err := w.store.UpdateTaskState(ctx, w.task.ID, to); err != nil {
		return fmt.Errorf("persist task %d state %s: %w", w.task.ID, to, err)
	}
	return nil
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
