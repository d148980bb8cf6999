package transfer

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate bounds how many operations hold a permit at once
type Gate struct {
	size  int64
	sem   *semaphore.Weighted
	inUse atomic.Int64
}

// Permit is one held slot of a Gate
type Permit struct {
	gate     *Gate
	released atomic.Bool
}

// NewGate creates a gate with size slots. Sizes below one are raised to one.
func NewGate(size int) *Gate {
	if size < 1 {
		size = 1
	}
	return &Gate{
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Acquire blocks until a slot is free or ctx is done
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, cancelled(err)
	}
	g.inUse.Add(1)
	return &Permit{gate: g}, nil
}

// Release returns the slot. Releasing the same permit again does nothing.
func (p *Permit) Release() {
	if p == nil || !p.released.CompareAndSwap(false, true) {
		return
	}
	p.gate.inUse.Add(-1)
	p.gate.sem.Release(1)
}

// Size returns the number of slots
func (g *Gate) Size() int {
	return int(g.size)
}

// InUse returns the number of held permits
func (g *Gate) InUse() int {
	return int(g.inUse.Load())
}
