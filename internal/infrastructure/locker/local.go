// Package locker provides lock.Locker implementations: an in-process one for
// single-node deployments and a Redis one for several API and worker processes.
package locker

import (
	"context"
	"sync"
	"time"

	"stockledger/internal/core/lock"
)

// Local is an in-process lock table. Each name maps to a one-slot semaphore.
type Local struct {
	mu      sync.Mutex
	slots   map[string]chan struct{}
	timeout time.Duration
}

// NewLocal creates a local locker. A zero timeout waits as long as ctx allows.
func NewLocal(timeout time.Duration) *Local {
	return &Local{slots: make(map[string]chan struct{}), timeout: timeout}
}

func (l *Local) slot(name string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[name]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[name] = s
	}
	return s
}

// Acquire takes every name in order, or none.
func (l *Local) Acquire(ctx context.Context, names []string) (func(), error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	held := make([]chan struct{}, 0, len(names))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}
	for _, name := range names {
		s := l.slot(name)
		select {
		case s <- struct{}{}:
			held = append(held, s)
		case <-ctx.Done():
			release()
			return nil, lock.ErrNotObtained
		}
	}
	return release, nil
}
