package graph

import "sync"

// threadLock holds the mutex serializing invocations of one thread and the
// number of callers holding or waiting on it.
type threadLock struct {
	mu   sync.Mutex
	refs int
}

// threadLocks hands out per-thread mutexes. Entries are reference counted and
// removed once no caller holds or waits on them, so idle threads cost nothing.
type threadLocks struct {
	mu    sync.Mutex
	locks map[string]*threadLock
}

func newThreadLocks() *threadLocks {
	return &threadLocks{locks: make(map[string]*threadLock)}
}

// lock blocks until the caller owns threadID and returns the release func.
func (l *threadLocks) lock(threadID string) func() {
	entry := l.acquire(threadID)
	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.release(threadID)
	}
}

func (l *threadLocks) acquire(threadID string) *threadLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[threadID]
	if !ok {
		entry = &threadLock{}
		l.locks[threadID] = entry
	}
	entry.refs++
	return entry
}

func (l *threadLocks) release(threadID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[threadID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, threadID)
	}
}

// active returns the number of threads currently held or awaited.
func (l *threadLocks) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
