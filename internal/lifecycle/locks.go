package lifecycle

import (
	"sync"
)

// TaskLockManager provides per-task mutual exclusion. Every status transition
// holds the task's lock around the read-validate-apply sequence, so two
// concurrent writers (e.g., a retry and a webhook event) serialize instead of
// racing. Uses a keyed mutex pattern: each task id gets its own mutex.
type TaskLockManager struct {
	mu    sync.Mutex             // Guards the locks map itself
	locks map[string]*sync.Mutex // Per-task mutexes
}

// NewTaskLockManager creates a new TaskLockManager.
func NewTaskLockManager() *TaskLockManager {
	return &TaskLockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the per-task mutex for the given task id.
// Creates the mutex on first access.
func (m *TaskLockManager) Lock(taskID string) {
	m.mu.Lock()
	taskLock, exists := m.locks[taskID]
	if !exists {
		taskLock = &sync.Mutex{}
		m.locks[taskID] = taskLock
	}
	m.mu.Unlock()

	// Acquire the per-task lock outside the manager lock to avoid contention
	taskLock.Lock()
}

// Unlock releases the per-task mutex for the given task id.
func (m *TaskLockManager) Unlock(taskID string) {
	m.mu.Lock()
	taskLock, exists := m.locks[taskID]
	m.mu.Unlock()

	if exists {
		taskLock.Unlock()
	}
}

// Forget drops the mutex for a deleted task so the map does not grow
// unboundedly. Callers must not hold the lock when forgetting it.
func (m *TaskLockManager) Forget(taskID string) {
	m.mu.Lock()
	delete(m.locks, taskID)
	m.mu.Unlock()
}
