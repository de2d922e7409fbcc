// Package lock provides short-lived mutual exclusion keyed by string, used to
// serialize customer resolution for one (organization, student, account)
// across processes.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when a lock could not be obtained before the
// wait deadline or context cancellation.
var ErrNotAcquired = errors.New("lock: not acquired")

// Locker acquires a named lock. The returned release func is safe to call
// more than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Nop is a Locker that always succeeds immediately. Used when no Redis is
// configured; in-process collapse and conditional store writes still apply.
type Nop struct{}

func (Nop) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}
