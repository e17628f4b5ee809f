package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/tsylvester/paynless-framework-sub003/pkg/log"
	"golang.org/x/sync/semaphore"
)

// Pool caps how many claimed jobs a node handles concurrently. The cap
// matches the number of leases a node should hold at once.
type Pool struct {
	size     int64
	slots    *semaphore.Weighted
	running  sync.WaitGroup
	inFlight atomic.Int64
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: int64(size), slots: semaphore.NewWeighted(int64(size))}
}

// Submit blocks for a free slot and runs fn on it. It fails only when ctx
// ends first. A panicking fn is logged and its slot released.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return err
	}

	p.inFlight.Add(1)
	p.running.Add(1)
	go func() {
		defer p.release()
		fn()
	}()
	return nil
}

func (p *Pool) release() {
	if r := recover(); r != nil {
		log.Error("pooled job panicked", "panic", r, "stack", string(debug.Stack()))
	}
	p.inFlight.Add(-1)
	p.slots.Release(1)
	p.running.Done()
}

// Wait blocks until every submitted function has returned.
func (p *Pool) Wait() {
	p.running.Wait()
}

func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// Idle reports whether a slot is free right now.
func (p *Pool) Idle() bool {
	return p.inFlight.Load() < p.size
}
