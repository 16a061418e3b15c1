// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

// Package workerpool runs the reference kernels' row loops on a fixed set of
// goroutines that live for the whole compilation.
//
// The compiler itself is sequential and deterministic. Only the bit-exact
// reference GEMM and the serialisation of tensor blocks run on the pool, and
// every worker writes a disjoint range so the result does not depend on
// scheduling.
//
//	pool := workerpool.New(0)
//	defer pool.Close()
//	pool.Rows(m, func(lo, hi int) { computeRows(lo, hi) })
package workerpool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

type task struct {
	run  func()
	done *sync.WaitGroup
}

// Pool is a persistent set of workers. A nil *Pool is valid and runs every
// call inline on the caller's goroutine.
type Pool struct {
	size   int
	tasks  chan task
	once   sync.Once
	closed atomic.Bool
}

// New starts size workers; size <= 0 means GOMAXPROCS.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	p := &Pool{size: size, tasks: make(chan task, size*2)}
	for range size {
		go func() {
			for t := range p.tasks {
				t.run()
				t.done.Done()
			}
		}()
	}
	return p
}

// Size returns the number of workers, 1 for a nil pool.
func (p *Pool) Size() int {
	if p == nil {
		return 1
	}
	return p.size
}

// Close stops the workers after pending work drains. It is idempotent.
func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.closed.Store(true)
		close(p.tasks)
	})
}

func (p *Pool) inline() bool {
	return p == nil || p.closed.Load() || p.size == 1
}

// Rows splits [0, n) into at most Size() contiguous ranges and calls fn on
// each, returning when all ranges are done.
func (p *Pool) Rows(n int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	if p.inline() || n == 1 {
		fn(0, n)
		return
	}
	parts := min(p.size, n)
	chunk := (n + parts - 1) / parts
	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		wg.Add(1)
		p.tasks <- task{run: func() { fn(lo, hi) }, done: &wg}
	}
	wg.Wait()
}

// Each calls fn(i) for every i in [0, n), handing indices out one at a time
// so uneven items balance across workers.
func (p *Pool) Each(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	if p.inline() {
		for i := range n {
			fn(i)
		}
		return
	}
	var next atomic.Int64
	var wg sync.WaitGroup
	workers := min(p.size, n)
	wg.Add(workers)
	for range workers {
		p.tasks <- task{
			run: func() {
				for {
					i := int(next.Add(1)) - 1
					if i >= n {
						return
					}
					fn(i)
				}
			},
			done: &wg,
		}
	}
	wg.Wait()
}
