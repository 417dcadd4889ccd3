package engine

import (
	"context"
	"sync"
)

// threadLocks hands out one lock per thread id. Entries are reference
// counted and removed once nobody holds or waits for them.
type threadLocks struct {
	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	sem  chan struct{}
	refs int
}

func newThreadLocks() *threadLocks {
	return &threadLocks{locks: make(map[string]*threadLock)}
}

// acquire blocks until the thread's lock is held or ctx ends.
func (l *threadLocks) acquire(ctx context.Context, id string) (unlock func(), err error) {
	l.mu.Lock()
	tl, ok := l.locks[id]
	if !ok {
		tl = &threadLock{sem: make(chan struct{}, 1)}
		l.locks[id] = tl
	}
	tl.refs++
	l.mu.Unlock()

	select {
	case tl.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-tl.sem
				l.drop(id, tl)
			})
		}, nil
	case <-ctx.Done():
		l.drop(id, tl)
		return nil, ctx.Err()
	}
}

func (l *threadLocks) drop(id string, tl *threadLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tl.refs--
	if tl.refs == 0 {
		delete(l.locks, id)
	}
}

func (l *threadLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
