// Package lock provides the shared/exclusive lock guarding the note tree.
package lock

import (
	"context"
	"sync"
)

type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

type waiter struct {
	mode    Mode
	ready   chan struct{}
	granted bool
}

// RWLock is a shared/exclusive lock with a FIFO waiter queue. By default a
// shared request is granted whenever no exclusive lock is held, so a steady
// stream of readers can starve a queued writer. WithWriterPreference closes
// that gap.
type RWLock struct {
	mu         sync.Mutex
	shared     int
	exclusive  bool
	queue      []*waiter
	writerPref bool
}

type Option func(*RWLock)

// WithWriterPreference blocks new shared grants while any exclusive request
// is queued ahead of them.
func WithWriterPreference() Option {
	return func(l *RWLock) { l.writerPref = true }
}

func New(opts ...Option) *RWLock {
	l := &RWLock{}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *RWLock) acquirable(m Mode, exclusiveAhead bool) bool {
	if m == Exclusive {
		return !l.exclusive && l.shared == 0
	}
	if l.writerPref && exclusiveAhead {
		return false
	}
	return !l.exclusive
}

func (l *RWLock) queuedExclusive() bool {
	for _, w := range l.queue {
		if w.mode == Exclusive {
			return true
		}
	}
	return false
}

func (l *RWLock) grant(m Mode) {
	if m == Exclusive {
		l.exclusive = true
	} else {
		l.shared++
	}
}

// Acquire blocks until the lock is held in mode m or ctx is done.
func (l *RWLock) Acquire(ctx context.Context, m Mode) error {
	l.mu.Lock()
	if l.acquirable(m, l.queuedExclusive()) {
		l.grant(m)
		l.mu.Unlock()
		return nil
	}
	w := &waiter{mode: m, ready: make(chan struct{})}
	l.queue = append(l.queue, w)
	l.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		if w.granted {
			l.mu.Unlock()
			l.Release(m)
			return ctx.Err()
		}
		for i, q := range l.queue {
			if q == w {
				l.queue = append(l.queue[:i], l.queue[i+1:]...)
				break
			}
		}
		// A departing exclusive waiter may have been holding back readers.
		l.drain()
		l.mu.Unlock()
		return ctx.Err()
	}
}

// Release gives up one hold in mode m and grants queued requests in order.
func (l *RWLock) Release(m Mode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m == Exclusive {
		if !l.exclusive {
			panic("lock: release of unheld exclusive lock")
		}
		l.exclusive = false
	} else {
		if l.shared == 0 {
			panic("lock: release of unheld shared lock")
		}
		l.shared--
	}
	l.drain()
}

// drain grants every queued request that is acquirable, in FIFO order, and
// stops after granting an exclusive one. Caller holds l.mu.
func (l *RWLock) drain() {
	exclusiveAhead := false
	kept := l.queue[:0]
	stopped := false
	for _, w := range l.queue {
		if stopped || !l.acquirable(w.mode, exclusiveAhead) {
			if w.mode == Exclusive {
				exclusiveAhead = true
			}
			kept = append(kept, w)
			continue
		}
		l.grant(w.mode)
		w.granted = true
		close(w.ready)
		if w.mode == Exclusive {
			stopped = true
		}
	}
	for i := len(kept); i < len(l.queue); i++ {
		l.queue[i] = nil
	}
	l.queue = kept
}

// Do runs fn while holding the lock in mode m. The lock is released however
// fn returns, including by panic.
func (l *RWLock) Do(ctx context.Context, m Mode, fn func() error) error {
	if err := l.Acquire(ctx, m); err != nil {
		return err
	}
	defer l.Release(m)
	return fn()
}

// Held reports the current shared count and whether an exclusive lock is held.
func (l *RWLock) Held() (shared int, exclusive bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shared, l.exclusive
}

// Waiting returns the queue length.
func (l *RWLock) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
