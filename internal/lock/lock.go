// Package lock provides per-key mutual exclusion for market mutations.
// Local serialises goroutines inside one process; Redis extends the same
// guarantee across engine instances sharing a database.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrTimeout is returned when a lock could not be obtained before the
// caller's context ended or the locker's wait budget ran out.
var ErrTimeout = errors.New("lock: acquisition timed out")

// Locker grants exclusive access to a key. Acquire blocks until the lock is
// held and returns a release function that is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Local is an in-process keyed mutex. The zero value is ready to use.
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{slots: make(map[string]chan struct{})}
}

func (l *Local) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.slots == nil {
		l.slots = make(map[string]chan struct{})
	}
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Acquire waits for key until ctx is done.
func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ErrTimeout
	}

	var once sync.Once
	return func() { once.Do(func() { <-ch }) }, nil
}

var _ Locker = (*Local)(nil)
