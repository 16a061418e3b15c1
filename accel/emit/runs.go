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

package emit

import (
	"github.com/samber/lo"

	"github.com/ajroetker/tilec/accel/isa"
)

// transfer is one block or vector moved between DRAM and a scratchpad.
// Addresses and size are in the buffer's transfer unit. pad units of zeros
// follow the data in the scratchpad, filling out a short block.
type transfer struct {
	index int
	sram  int
	dram  uint32
	size  int
	pad   int
}

// strided reports whether ts can move as one 2-D transfer: indices in
// arithmetic progression, a constant positive DRAM gap, scratchpad
// positions slot apart and every transfer of the full size.
func strided(ts []transfer, full, slot int) bool {
	if len(ts) < 2 {
		return false
	}
	g := ts[1].index - ts[0].index
	gap := int64(ts[1].dram) - int64(ts[0].dram)
	if g <= 0 || gap <= 0 {
		return false
	}
	for i, t := range ts {
		if t.size != full {
			return false
		}
		if i == 0 {
			continue
		}
		p := ts[i-1]
		if t.index-p.index != g || int64(t.dram)-int64(p.dram) != gap || t.sram-p.sram != slot {
			return false
		}
	}
	return true
}

type mover func(sram, dram, ySize, xSize, xStride uint32) isa.Instruction

func loader(buf isa.BufferID) mover {
	return func(sram, dram, ySize, xSize, xStride uint32) isa.Instruction {
		return isa.Load(buf, sram, dram, ySize, xSize, xStride)
	}
}

// moves emits ts as one 2-D transfer with y_size len(ts) when they form a
// stride run, one transfer each otherwise.
func moves(m mover, ts []transfer, full, slot int) []isa.Instruction {
	if strided(ts, full, slot) {
		stride := ts[1].dram - ts[0].dram
		return []isa.Instruction{m(uint32(ts[0].sram), ts[0].dram, uint32(len(ts)), uint32(full), stride)}
	}
	return lo.Map(ts, func(t transfer, _ int) isa.Instruction {
		n := uint32(t.size)
		in := m(uint32(t.sram), t.dram, 1, n, n)
		in.XPadRight = uint32(t.pad)
		return in
	})
}

func loads(buf isa.BufferID, ts []transfer, full, slot int) []isa.Instruction {
	return moves(loader(buf), ts, full, slot)
}

// aluUops builds the micro-ops of one ALU instruction from (dst, src) row
// pairs. When the pairs split into runs of equal length whose rows advance
// together, each run becomes one micro-op swept by the inner loop; otherwise
// every pair is its own micro-op. Immediate ops ignore src.
func aluUops(sites [][2]int, vector bool) ([]isa.Uop, int) {
	var starts, lengths []int
	for i, s := range sites {
		if i > 0 {
			p := sites[i-1]
			if s[0] == p[0]+1 && (!vector || s[1] == p[1]+1) {
				lengths[len(lengths)-1]++
				continue
			}
		}
		starts = append(starts, i)
		lengths = append(lengths, 1)
	}
	uop := func(i int) isa.Uop {
		u := isa.Uop{Dst: uint32(sites[i][0])}
		if vector {
			u.Src = uint32(sites[i][1])
		}
		return u
	}
	if len(lo.Uniq(lengths)) == 1 {
		return lo.Map(starts, func(i int, _ int) isa.Uop { return uop(i) }), lengths[0]
	}
	return lo.Times(len(sites), uop), 1
}
