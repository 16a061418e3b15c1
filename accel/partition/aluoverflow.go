// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package partition

import (
	"cmp"
	"slices"

	"github.com/samber/lo"

	"github.com/ajroetker/tilec/accel"
	"github.com/ajroetker/tilec/accel/program"
)

// entry is one site of one ALU op: the unit the overflow scheduler places.
type entry struct {
	op   *program.Resolved
	site program.Site
	seq  int
}

func flatten(ops []program.Resolved) []entry {
	var out []entry
	for i := range ops {
		for _, s := range ops[i].Sites {
			out = append(out, entry{op: &ops[i], site: s, seq: len(out)})
		}
	}
	return out
}

// orderEntries groups entries by destination vector when that preserves
// every read-after-write, write-after-read and write-after-write ordering of
// the declaration order; otherwise it keeps the declaration order.
func orderEntries(entries []entry, nVectors int) []entry {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b entry) int { return cmp.Compare(a.site.Dst, b.site.Dst) })
	if hazardFree(entries, sorted, nVectors) {
		return sorted
	}
	return entries
}

// hazardFree reports whether order executes conflicting accesses to each
// vector in the same relative order as decl.
func hazardFree(decl, order []entry, nVectors int) bool {
	pos := make([]int, len(order))
	for i, e := range order {
		pos[e.seq] = i
	}
	lastWrite := make([]int, nVectors)
	lastAny := make([]int, nVectors)
	for v := range nVectors {
		lastWrite[v], lastAny[v] = -1, -1
	}
	for _, e := range decl {
		p := pos[e.seq]
		if src := e.site.Src; src != program.NoSrc {
			if p < lastWrite[src] {
				return false
			}
			lastAny[src] = max(lastAny[src], p)
		}
		dst := e.site.Dst
		if p < lastAny[dst] {
			return false
		}
		lastWrite[dst] = max(lastWrite[dst], p)
		lastAny[dst] = max(lastAny[dst], p)
	}
	return true
}

// aluOverflow schedules ALU sites vector by vector when the accumulator
// does not fit. A destination stays resident until its last use and is
// stored then if it holds a result. Vectors that were never written may be
// evicted and reloaded.
func (p *planner) aluOverflow() error {
	capacity := p.caps.Acc * p.d.B
	if capacity < 2 {
		return accel.Errorf(accel.CapacityTooSmall, "alu", "accumulator holds %d vectors, need 2", capacity)
	}
	order := orderEntries(flatten(p.d.Ops), p.d.NVectors())
	lastUse := make(map[int]int)
	for i, e := range order {
		lastUse[e.site.Dst] = i
		if e.site.Src != program.NoSrc {
			lastUse[e.site.Src] = i
		}
	}
	persist := lo.SliceToMap(p.d.StoreMask, func(v int) (int, bool) { return v, true })

	var (
		slots []int
		slot  = map[int]int{}
		dirty = map[int]bool{}
		used  = map[int]bool{}
		cur   Step
	)
	flush := func(next int) {
		var released []int
		for _, v := range slots {
			if v == Free || lastUse[v] >= next {
				continue
			}
			if dirty[v] && persist[v] {
				cur.StoreC = append(cur.StoreC, v)
			}
			released = append(released, v)
		}
		cur.SramResident = slices.Clone(slots)
		cur.ResidentUnit, cur.StoreUnit = UnitVector, UnitVector
		p.emit(cur)
		for _, v := range released {
			slots[slot[v]] = Free
			delete(slot, v)
			delete(dirty, v)
		}
		cur, used = Step{}, map[int]bool{}
	}
	// room counts slots a new vector can take without disturbing the
	// current step or anything in need.
	room := func(need []int) int {
		n := capacity - len(slots)
		for _, v := range slots {
			if v == Free || (!dirty[v] && !used[v] && !slices.Contains(need, v)) {
				n++
			}
		}
		return n
	}
	place := func(v int, need []int) {
		i := slices.Index(slots, Free)
		if i < 0 && len(slots) < capacity {
			i = len(slots)
			slots = append(slots, Free)
		}
		if i < 0 {
			i = slices.IndexFunc(slots, func(u int) bool { return !dirty[u] && !used[u] && !slices.Contains(need, u) })
			delete(slot, slots[i])
		}
		slots[i] = v
		slot[v] = i
		cur.LoadX = append(cur.LoadX, v)
	}

	for t, e := range order {
		need := []int{e.site.Dst}
		if s := e.site.Src; s != program.NoSrc && s != e.site.Dst {
			need = append(need, s)
		}
		missing := lo.Filter(need, func(v int, _ int) bool { _, ok := slot[v]; return !ok })
		if len(missing) > room(need) && len(cur.Ops) > 0 {
			flush(t)
			missing = lo.Filter(need, func(v int, _ int) bool { _, ok := slot[v]; return !ok })
		}
		if len(missing) > room(need) {
			pinned := lo.CountBy(slots, func(v int) bool { return v != Free && dirty[v] })
			return accel.Errorf(accel.CapacityTooSmall, e.op.Object(),
				"%d vectors stay resident until a later use; accumulator holds %d", pinned, capacity)
		}
		for _, v := range missing {
			place(v, need)
		}
		if n := len(cur.Ops); n > 0 && cur.Ops[n-1].Alu == e.op {
			cur.Ops[n-1].Sites = append(cur.Ops[n-1].Sites, e.site)
		} else {
			cur.Ops = append(cur.Ops, Op{Kind: OpAlu, Alu: e.op, Sites: []program.Site{e.site}})
		}
		for _, v := range need {
			used[v] = true
		}
		dirty[e.site.Dst] = true
	}
	if len(cur.Ops) > 0 {
		flush(len(order))
	}
	return nil
}
