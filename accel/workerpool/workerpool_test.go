// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package workerpool

import (
	"runtime"
	"sync/atomic"
	"testing"
)

func TestNewDefault(t *testing.T) {
	pool := New(0)
	defer pool.Close()

	if pool.Size() != runtime.GOMAXPROCS(0) {
		t.Errorf("Size() = %d, want %d", pool.Size(), runtime.GOMAXPROCS(0))
	}
}

func TestRowsCoversEveryIndexOnce(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	for _, n := range []int{1, 3, 4, 5, 100, 257} {
		hits := make([]int32, n)
		pool.Rows(n, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				atomic.AddInt32(&hits[i], 1)
			}
		})
		for i, h := range hits {
			if h != 1 {
				t.Fatalf("n=%d: index %d visited %d times, want 1", n, i, h)
			}
		}
	}
}

func TestEach(t *testing.T) {
	pool := New(3)
	defer pool.Close()

	n := 50
	results := make([]int, n)
	pool.Each(n, func(i int) { results[i] = i * i })
	for i := range n {
		if results[i] != i*i {
			t.Errorf("results[%d] = %d, want %d", i, results[i], i*i)
		}
	}
}

func TestNilAndClosedPoolRunInline(t *testing.T) {
	var nilPool *Pool
	if nilPool.Size() != 1 {
		t.Errorf("nil Size() = %d, want 1", nilPool.Size())
	}
	calls := 0
	nilPool.Rows(10, func(lo, hi int) {
		calls++
		if lo != 0 || hi != 10 {
			t.Errorf("nil pool range = [%d,%d), want [0,10)", lo, hi)
		}
	})
	if calls != 1 {
		t.Errorf("nil pool calls = %d, want 1", calls)
	}

	pool := New(4)
	pool.Close()
	pool.Close()
	sum := 0
	pool.Each(5, func(i int) { sum += i })
	if sum != 10 {
		t.Errorf("closed pool sum = %d, want 10", sum)
	}
}
