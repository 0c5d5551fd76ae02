// Package queue implements the Task Coordinator's priority-ordered task
// queue: a max-heap ordered by (priority desc, task_id asc),
// with an event notifier so a scheduler loop can block until work or a new
// enqueue wakes it.
package queue

import (
	"container/heap"
	"sync"
)

// entry is one queued task. Higher priority dequeues first; within a
// priority, the lower task id.
type entry struct {
	taskID   int64
	priority int64
}

// heapSlice implements container/heap.Interface over entry, the underlying
// storage for Queue.
type heapSlice []entry

func (h heapSlice) Len() int { return len(h) }

func (h heapSlice) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].taskID < h[j].taskID
}

func (h heapSlice) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *heapSlice) Push(x any) { *h = append(*h, x.(entry)) }

func (h *heapSlice) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is the Coordinator's priority task queue. The zero value is not
// usable; call New.
type Queue struct {
	mu     sync.RWMutex
	items  heapSlice
	notify chan struct{}
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{
		// buffered by 1: Notify is a level-triggered "something changed"
		// signal, not a per-item counter, so a single pending notification
		// is all a waiting scheduler loop ever needs to wake up and re-check.
		notify: make(chan struct{}, 1),
	}
}

// Enqueue adds a single task_id at the given priority.
func (q *Queue) Enqueue(taskID, priority int64) {
	q.mu.Lock()
	heap.Push(&q.items, entry{taskID: taskID, priority: priority})
	q.mu.Unlock()
	q.wake()
}

// Batch is one (task_id, priority) pair for EnqueueBatch.
type Batch struct {
	TaskID   int64
	Priority int64
}

// EnqueueBatch adds every pair in one locked section, so a concurrent
// Dequeue never interleaves with a partially-applied batch.
func (q *Queue) EnqueueBatch(batch []Batch) {
	if len(batch) == 0 {
		return
	}
	q.mu.Lock()
	for _, b := range batch {
		heap.Push(&q.items, entry{taskID: b.TaskID, priority: b.Priority})
	}
	q.mu.Unlock()
	q.wake()
}

// Dequeue removes and returns the highest-priority task_id, or false if the
// queue is empty.
func (q *Queue) Dequeue() (int64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return 0, false
	}
	e := heap.Pop(&q.items).(entry)
	return e.taskID, true
}

// Peek returns the highest-priority task_id without removing it.
func (q *Queue) Peek() (int64, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if len(q.items) == 0 {
		return 0, false
	}
	return q.items[0].taskID, true
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Notify returns a channel that receives a value after every Enqueue and
// every non-empty EnqueueBatch. A
// scheduler loop should select on it alongside its own shutdown signal and
// re-attempt Dequeue on every wakeup, since multiple enqueues may coalesce
// into a single notification.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
		// a wakeup is already pending; the scheduler loop hasn't consumed
		// it yet, so it will observe this enqueue on its next Dequeue anyway.
	}
}
