package service

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate serializes every interaction with the simulation stepper.
// Unlike sync.Mutex, waiting for it can be abandoned through a context.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate creates an unlocked gate
func NewGate() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// Lock blocks until the gate is held or ctx is done
func (g *Gate) Lock(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// TryLock acquires the gate only if it is free
func (g *Gate) TryLock() bool {
	return g.sem.TryAcquire(1)
}

// Unlock releases the gate. Unlocking a free gate panics.
func (g *Gate) Unlock() {
	g.sem.Release(1)
}

// With runs fn while holding the gate
func (g *Gate) With(ctx context.Context, fn func() error) error {
	if err := g.Lock(ctx); err != nil {
		return err
	}
	defer g.Unlock()
	return fn()
}
