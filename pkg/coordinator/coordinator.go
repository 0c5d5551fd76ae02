// Package coordinator implements the Task Coordinator: the single owner of
// the priority task queue, the worker-pool admission semaphore and the
// feedback loop that logs Worker outcomes and publishes them to event
// subscribers. The feedback loop does not write to the store; each Worker
// persists its own task state and result.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dualhorizon/malbox/pkg/events"
	"github.com/dualhorizon/malbox/pkg/log"
	"github.com/dualhorizon/malbox/pkg/plugin"
	"github.com/dualhorizon/malbox/pkg/queue"
	"github.com/dualhorizon/malbox/pkg/resource"
	"github.com/dualhorizon/malbox/pkg/types"
	"github.com/dualhorizon/malbox/pkg/worker"
	"github.com/rs/zerolog"
)

// schedulerTick is the fallback poll interval for the scheduler loop,
// covering any enqueue whose Notify wakeup coalesced with another one.
const schedulerTick = time.Second

// Coordinator owns the task queue and the pool of concurrently running
// Workers. The zero value is not usable; call New.
type Coordinator struct {
	store         types.TaskStore
	queue         *queue.Queue
	resources     *resource.Manager
	provider      types.InfrastructureProvider
	plugins       *plugin.Manager
	notifications types.TaskNotificationService
	broker        *events.Broker
	logger        zerolog.Logger

	sem      chan struct{}
	feedback chan types.FeedbackMessage

	mu      sync.Mutex
	active  map[int64]context.CancelFunc
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Coordinator. maxConcurrent bounds how many Workers may run
// at once; notifications may be nil, in which case the coordinator only
// ever drains tasks already queued at Start or submitted via Submit.
func New(store types.TaskStore, resources *resource.Manager, provider types.InfrastructureProvider, plugins *plugin.Manager, notifications types.TaskNotificationService, maxConcurrent int) *Coordinator {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Coordinator{
		store:         store,
		queue:         queue.New(),
		resources:     resources,
		provider:      provider,
		plugins:       plugins,
		notifications: notifications,
		logger:        log.WithComponent("coordinator"),
		sem: make(chan struct{}, maxConcurrent),
		// Sized so a full pool of Workers can flush a whole task's worth
		// of progress milestones plus its terminal message without
		// blocking, even while the feedback loop is draining on shutdown.
		feedback: make(chan types.FeedbackMessage, maxConcurrent*16),
		active:   make(map[int64]context.CancelFunc),
		stopCh:   make(chan struct{}),
	}
}

// Start recovers any pending tasks from the store and launches the
// notification listener, scheduler and feedback loops, each on its own
// goroutine.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.recoverPendingTasks(ctx); err != nil {
		return fmt.Errorf("recover pending tasks: %w", err)
	}

	c.wg.Add(3)
	go c.notificationLoop(ctx)
	go c.schedulerLoop(ctx)
	go c.feedbackLoop(ctx)
	return nil
}

// Stop signals every loop to exit and waits for them to drain. It does not
// cancel already-running Workers; call Cancel per task first if an
// immediate shutdown is required.
func (c *Coordinator) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// recoverPendingTasks re-enqueues every task the store has in a
// non-terminal state, so a coordinator restart picks up exactly where a
// prior process left off.
func (c *Coordinator) recoverPendingTasks(ctx context.Context) error {
	tasks, err := c.store.LoadPendingTasks(ctx)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}
	batch := make([]queue.Batch, 0, len(tasks))
	for _, t := range tasks {
		batch = append(batch, queue.Batch{TaskID: t.ID, Priority: t.Priority})
	}
	c.queue.EnqueueBatch(batch)
	c.logger.Info().Int("count", len(tasks)).Msg("recovered pending tasks into queue")
	return nil
}

// SetBroker attaches an events.Broker that handleFeedback publishes task
// outcomes to; a Coordinator with no broker still runs, just without
// subscriber fan-out. Call before Start.
func (c *Coordinator) SetBroker(b *events.Broker) {
	c.broker = b
}

// Submit enqueues an already-persisted task for scheduling. Callers outside
// this package (an HTTP ingestion boundary, a CLI) call this directly;
// notificationLoop exists for a TaskNotificationService pushing ids
// asynchronously instead.
func (c *Coordinator) Submit(taskID, priority int64) {
	c.queue.Enqueue(taskID, priority)
}

// QueueDepth returns the number of tasks currently waiting in the priority
// queue, for the metrics Collector to publish as a gauge.
func (c *Coordinator) QueueDepth() int {
	return c.queue.Len()
}

// Cancel requests cancellation of taskID's Worker, if one is currently
// running. It returns false if no Worker is running for that task.
func (c *Coordinator) Cancel(taskID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancel, ok := c.active[taskID]
	if !ok {
		return false
	}
	cancel()
	return true
}

// notificationLoop forwards task ids published on the TaskNotificationService
// into the queue. It is a no-op loop when notifications is nil.
func (c *Coordinator) notificationLoop(ctx context.Context) {
	defer c.wg.Done()
	if c.notifications == nil {
		<-c.stopCh
		return
	}
	ch := c.notifications.Notifications()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case taskID, ok := <-ch:
			if !ok {
				return
			}
			task, err := c.store.LoadTask(ctx, taskID)
			if err != nil {
				c.logger.Error().Err(err).Int64("task_id", taskID).Msg("load notified task failed")
				continue
			}
			c.queue.Enqueue(task.ID, task.Priority)
		}
	}
}

// schedulerLoop dequeues tasks and admits them into the worker pool as
// semaphore slots free up, waking on queue.Notify() and falling back to a
// fixed tick so a coalesced notification is never missed for long.
func (c *Coordinator) schedulerLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-c.queue.Notify():
			c.drainQueue(ctx)
		case <-ticker.C:
			c.drainQueue(ctx)
		}
	}
}

// drainQueue admits as many queued tasks as there are free semaphore slots.
func (c *Coordinator) drainQueue(ctx context.Context) {
	for {
		select {
		case c.sem <- struct{}{}:
		default:
			return // pool is full
		}
		taskID, ok := c.queue.Dequeue()
		if !ok {
			<-c.sem
			return
		}
		c.runTask(ctx, taskID)
	}
}

// runTask loads a dequeued task and spawns a Worker for it on its own
// goroutine, releasing its semaphore slot on completion.
func (c *Coordinator) runTask(ctx context.Context, taskID int64) {
	task, err := c.store.LoadTask(ctx, taskID)
	if err != nil {
		c.logger.Error().Err(err).Int64("task_id", taskID).Msg("load dequeued task failed")
		<-c.sem
		return
	}

	// One Worker per task: a task id queued twice (recovered at Start and
	// submitted again) is skipped while its Worker runs or once it is done.
	c.mu.Lock()
	_, running := c.active[task.ID]
	c.mu.Unlock()
	if running || task.State.IsTerminal() {
		<-c.sem
		return
	}

	// Only cooperative cancellation (Cancel) cancels taskCtx; the per-task
	// timeout is tracked independently inside the Worker's run loop so a
	// timeout and an explicit CancelTask can be told apart at exit (one
	// maps to Failed/Completed depending on enforce_timeout, the other
	// always maps to Canceled; see worker.runLoop).
	taskCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.active[task.ID] = cancel
	c.mu.Unlock()

	w := worker.New(task, c.store, c.resources, c.provider, c.plugins, c.feedback)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		defer func() {
			c.mu.Lock()
			delete(c.active, task.ID)
			c.mu.Unlock()
			<-c.sem
		}()
		w.Run(taskCtx)
	}()
}

// feedbackLoop drains FeedbackMessages emitted by Workers, logging task
// outcomes. Progress messages are forwarded here rather than in the Worker
// itself so a single place can fan them out to subscribers (pkg/events).
func (c *Coordinator) feedbackLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case msg := <-c.feedback:
			c.handleFeedback(msg)
		}
	}
}

func (c *Coordinator) handleFeedback(msg types.FeedbackMessage) {
	switch msg.Kind {
	case types.FeedbackTaskCompleted:
		c.logger.Info().Int64("task_id", msg.TaskID).Str("result", msg.Result).Msg("task completed")
		c.publish(events.EventTaskCompleted, msg.TaskID, msg.Result)
	case types.FeedbackTaskFailed:
		c.logger.Error().Int64("task_id", msg.TaskID).Err(msg.Err).Msg("task failed")
		c.publish(events.EventTaskFailed, msg.TaskID, msg.Err.Error())
	case types.FeedbackTaskProgress:
		c.logger.Debug().Int64("task_id", msg.TaskID).Uint8("progress", msg.Progress).Str("message", msg.Message).Msg("task progress")
		c.publish(events.EventTaskProgress, msg.TaskID, msg.Message)
	}
}

func (c *Coordinator) publish(eventType events.EventType, taskID int64, message string) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(&events.Event{
		Type:     eventType,
		Message:  message,
		Metadata: map[string]string{"task_id": fmt.Sprintf("%d", taskID)},
	})
}
