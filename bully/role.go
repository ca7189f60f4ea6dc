package bully

import (
	"context"
	"sync"
	"sync/atomic"
)

// roleController owns the leadership token. Each leadership generation runs
// its loops under a fresh context and generation number; loops exit once the
// generation moves on or the context is cancelled.
//
// start and stop are called from the listener goroutine only.
type roleController struct {
	mu         sync.RWMutex
	leading    bool
	generation uint64
	cancel     context.CancelFunc

	wg    sync.WaitGroup
	alive int32
}

// loop is one leader activity of a generation.
type loop func(ctx context.Context, gen uint64)

// start begins a new generation running loops. It refuses while any loop of
// the previous generation is still running.
func (r *roleController) start(parent context.Context, loops ...loop) (uint64, error) {
	if atomic.LoadInt32(&r.alive) != 0 {
		return 0, ErrGenerationActive
	}

	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return 0, ErrGenerationActive
	}

	r.generation++
	gen := r.generation
	r.leading = true

	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.mu.Unlock()

	for _, l := range loops {
		r.wg.Add(1)
		atomic.AddInt32(&r.alive, 1)

		go func(l loop) {
			defer r.wg.Done()
			defer atomic.AddInt32(&r.alive, -1)

			l(ctx, gen)
		}(l)
	}

	return gen, nil
}

// stop ends the running generation, if any, and waits until every loop of it
// has returned. It reports whether a generation was running.
func (r *roleController) stop() bool {
	r.mu.Lock()
	cancel := r.cancel
	wasLeading := r.leading
	r.leading = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	r.wg.Wait()

	return wasLeading
}

// Leading reports whether this node holds the token.
func (r *roleController) Leading() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.leading
}

// current reports whether gen is still the active generation.
func (r *roleController) current(gen uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.leading && r.generation == gen
}

func (r *roleController) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.generation
}
