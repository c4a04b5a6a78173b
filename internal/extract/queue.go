package extract

import (
	"errors"
	"sync"

	"github.com/jirametrics/jx/internal/types"
)

// ErrSealed is returned by Put once the queue is sealed.
var ErrSealed = errors.New("queue is sealed")

// Queue is a FIFO of tasks filled completely before the workers start.
type Queue struct {
	mu     sync.Mutex
	items  []types.Task
	next   int
	sealed bool
}

// NewQueue returns an empty, open queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Put appends tasks.
func (q *Queue) Put(tasks ...types.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sealed {
		return ErrSealed
	}
	q.items = append(q.items, tasks...)
	return nil
}

// Seal closes the queue to new tasks.
func (q *Queue) Seal() {
	q.mu.Lock()
	q.sealed = true
	q.mu.Unlock()
}

// TryDequeue returns the next task without blocking. ok is false when the queue
// is drained.
func (q *Queue) TryDequeue() (task types.Task, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.next >= len(q.items) {
		return types.Task{}, false
	}
	task = q.items[q.next]
	q.next++
	return task, true
}

// Len returns the number of tasks ever enqueued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Remaining returns the number of tasks not yet dequeued.
func (q *Queue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.next
}
