package task

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultQueueSize is the capacity of each task's client output queue.
const DefaultQueueSize = 100

// Info is a read-only snapshot of one registered task.
type Info struct {
	ID        string    `json:"task_id"`
	CreatedAt time.Time `json:"created_at"`
	Cancelled bool      `json:"cancelled"`
	Pending   int       `json:"pending"`
}

type entry struct {
	queue     *Queue
	cancel    *CancelFlag
	createdAt time.Time
}

// Manager owns the registry of live tasks: one bounded client output queue
// and one cancellation flag per task ID. Pure bookkeeping; all registry
// mutation goes through a single lock. Queue operations themselves do not
// hold it.
type Manager struct {
	mu        sync.Mutex
	tasks     map[string]*entry
	queueSize int
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{
		tasks:     make(map[string]*entry),
		queueSize: DefaultQueueSize,
	}
}

// Register allocates the queue and cancellation flag for taskID, or returns
// the existing pair. Idempotent.
func (m *Manager) Register(taskID string) (*Queue, *CancelFlag) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.tasks[taskID]; ok {
		return e.queue, e.cancel
	}

	e := &entry{
		queue:     NewQueue(m.queueSize),
		cancel:    &CancelFlag{},
		createdAt: time.Now(),
	}
	m.tasks[taskID] = e
	return e.queue, e.cancel
}

// Lookup returns the queue and flag for taskID without creating them.
func (m *Manager) Lookup(taskID string) (*Queue, *CancelFlag, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.tasks[taskID]
	if !ok {
		return nil, nil, false
	}
	return e.queue, e.cancel, true
}

// Cancel sets the task's cancellation flag. Returns false for unknown IDs,
// in which case nothing happens. Safe to call concurrently with everything
// else, any number of times.
func (m *Manager) Cancel(taskID string) bool {
	m.mu.Lock()
	e, ok := m.tasks[taskID]
	m.mu.Unlock()

	if !ok {
		return false
	}
	e.cancel.Set()
	slog.Info("Task cancellation requested", "taskID", taskID)
	return true
}

// IsCancelled reports the task's cancellation flag. Returns false for
// unknown IDs. Never blocks.
func (m *Manager) IsCancelled(taskID string) bool {
	m.mu.Lock()
	e, ok := m.tasks[taskID]
	m.mu.Unlock()

	return ok && e.cancel.IsSet()
}

// Cleanup removes the task's bookkeeping after a best-effort push of the
// stream-end marker. The push is non-blocking: if the client queue is full
// the marker is dropped and the streaming side's own disconnect detection is
// the backstop. Idempotent; must only be called once the owning pipeline
// has returned.
func (m *Manager) Cleanup(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.tasks[taskID]
	if !ok {
		return
	}
	if !e.queue.TryPut(EndMessage()) {
		slog.Warn("Client queue full during cleanup, end marker dropped", "taskID", taskID)
	}
	delete(m.tasks, taskID)
}

// Tasks returns snapshots of all registered tasks, oldest first.
func (m *Manager) Tasks() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, 0, len(m.tasks))
	for id, e := range m.tasks {
		out = append(out, Info{
			ID:        id,
			CreatedAt: e.createdAt,
			Cancelled: e.cancel.IsSet(),
			Pending:   e.queue.Len(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
