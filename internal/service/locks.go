package service

import "sync"

// LockManager hands out one mutex per project. Entries are reference
// counted and dropped once no caller holds or waits for them.
type LockManager struct {
	mu    sync.Mutex
	locks map[int64]*projectLock
}

type projectLock struct {
	mu   sync.Mutex
	refs int
}

func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[int64]*projectLock)}
}

// WithProjectLock runs fn while holding the project's lock
func (lm *LockManager) WithProjectLock(projectID int64, fn func() error) error {
	lm.mu.Lock()
	l, ok := lm.locks[projectID]
	if !ok {
		l = &projectLock{}
		lm.locks[projectID] = l
	}
	l.refs++
	lm.mu.Unlock()

	l.mu.Lock()
	defer func() {
		l.mu.Unlock()
		lm.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(lm.locks, projectID)
		}
		lm.mu.Unlock()
	}()

	return fn()
}

func (lm *LockManager) size() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.locks)
}
