package world

import (
	"fmt"
	"sync"
	"time"
)

type lockMode uint8

const (
	lockBlocking lockMode = iota
	lockImmediate
	lockTimeout
)

// LockStrategy decides how a chunk lock is acquired.
type LockStrategy struct {
	mode    lockMode
	timeout time.Duration
}

var (
	// LockBlocking waits until the lock is available.
	LockBlocking = LockStrategy{mode: lockBlocking}
	// LockImmediate fails with ErrLockUnavailable when the lock is held.
	LockImmediate = LockStrategy{mode: lockImmediate}
)

// LockTimeout waits up to d, then fails with ErrLockTimeout.
func LockTimeout(d time.Duration) LockStrategy {
	return LockStrategy{mode: lockTimeout, timeout: d}
}

func (s LockStrategy) String() string {
	switch s.mode {
	case lockImmediate:
		return "immediate"
	case lockTimeout:
		return fmt.Sprintf("timeout(%s)", s.timeout)
	}
	return "blocking"
}

const (
	minLockBackoff = 20 * time.Microsecond
	maxLockBackoff = time.Millisecond
)

// acquire locks l (exclusive) or l's read side per s.
func (s LockStrategy) acquire(l *sync.RWMutex, write bool) error {
	lock, try := l.RLock, l.TryRLock
	if write {
		lock, try = l.Lock, l.TryLock
	}
	switch s.mode {
	case lockImmediate:
		if !try() {
			return ErrLockUnavailable
		}
		return nil
	case lockTimeout:
		if try() {
			return nil
		}
		deadline := time.Now().Add(s.timeout)
		backoff := minLockBackoff
		for {
			if time.Now().After(deadline) {
				return fmt.Errorf("after %s: %w", s.timeout, ErrLockTimeout)
			}
			time.Sleep(backoff)
			if try() {
				return nil
			}
			backoff = min(backoff*2, maxLockBackoff)
		}
	default:
		lock()
		return nil
	}
}
