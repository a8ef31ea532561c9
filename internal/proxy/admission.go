package proxy

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Admission bounds the number of concurrently handled connections with a
// weighted semaphore, and tracks how many are currently active.
type Admission struct {
	sem    *semaphore.Weighted
	active atomic.Int64
}

// NewAdmission returns an admission gate allowing up to maxConnections
// concurrently held permits.
func NewAdmission(maxConnections int64) *Admission {
	return &Admission{sem: semaphore.NewWeighted(maxConnections)}
}

// Permit represents one held connection slot. Release must be called
// exactly once to return it.
type Permit struct {
	admission *Admission
}

// Release returns the permit, decrementing the active-connection count.
func (p *Permit) Release() {
	p.admission.sem.Release(1)
	p.admission.active.Add(-1)
}

// TryAcquire attempts to obtain a permit without blocking. It returns
// (permit, true) on success, or (nil, false) if the admission gate is full.
func (a *Admission) TryAcquire() (*Permit, bool) {
	if !a.sem.TryAcquire(1) {
		return nil, false
	}
	a.active.Add(1)
	return &Permit{admission: a}, true
}

// Acquire blocks until a permit is available or ctx is cancelled.
func (a *Admission) Acquire(ctx context.Context) (*Permit, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	a.active.Add(1)
	return &Permit{admission: a}, nil
}

// CanAccept is a non-blocking pre-admission check an acceptor loop can use
// to decide whether to even attempt TryAcquire for an incoming connection.
func (a *Admission) CanAccept() bool {
	if !a.sem.TryAcquire(1) {
		return false
	}
	a.sem.Release(1)
	return true
}

// ActiveCount reports how many permits are currently held.
func (a *Admission) ActiveCount() int64 {
	return a.active.Load()
}
