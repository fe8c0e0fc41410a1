package pkg

import (
	"context"
	"sync"
)

type HasLocker interface{ GetLocker() *sync.RWMutex }

func LockWrap(i HasLocker, f func()) {
	i.GetLocker().Lock()
	defer i.GetLocker().Unlock()
	f()
}

// FIFOLock is a mutex that hands ownership to waiters in arrival order.
// Lock returns immediately when nobody holds it.
type FIFOLock struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

func (l *FIFOLock) Lock(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.held = true
		l.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ch {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// ownership was handed over while we were giving up
		l.Unlock()
		return ctx.Err()
	}
}

func (l *FIFOLock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.waiters) == 0 {
		l.held = false
		return
	}
	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	close(next)
}

// Pending is the number of callers waiting for the lock.
func (l *FIFOLock) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

// QueueRegistry lazily creates one FIFOLock per key.
type QueueRegistry struct {
	locker sync.Mutex
	queues Map[string, *FIFOLock]
}

func NewQueueRegistry() *QueueRegistry {
	return &QueueRegistry{queues: Map[string, *FIFOLock]{}}
}

func (r *QueueRegistry) Get(key string) *FIFOLock {
	r.locker.Lock()
	defer r.locker.Unlock()
	q, ok := r.queues[key]
	if !ok {
		q = &FIFOLock{}
		r.queues[key] = q
	}
	return q
}

func (r *QueueRegistry) Has(key string) bool {
	r.locker.Lock()
	defer r.locker.Unlock()
	return r.queues.Has(key)
}

// Discard forgets the queue for key. Callers still holding it finish normally.
func (r *QueueRegistry) Discard(key string) {
	r.locker.Lock()
	defer r.locker.Unlock()
	r.queues.Delete(key)
}

// QueueWrap runs f while holding the queue for key.
func (r *QueueRegistry) QueueWrap(ctx context.Context, key string, f func() error) error {
	q := r.Get(key)
	if err := q.Lock(ctx); err != nil {
		return err
	}
	defer q.Unlock()
	return f()
}
