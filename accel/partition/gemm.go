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
	"math"

	"github.com/samber/lo"

	"github.com/ajroetker/tilec/accel"
)

func (p *planner) gemmOverflow() error {
	if m := min(p.caps.Inp, p.caps.Wgt, p.caps.Acc); m < 2 {
		return accel.Errorf(accel.CapacityTooSmall, "gemm", "smallest scratchpad holds %d blocks, need 2", m)
	}
	if err := p.rejectVector(); err != nil {
		return err
	}
	c := p.c
	xRows := c.NX / c.XCols
	switch p.opts.Strategy {
	case StrategyTiled:
		h, w := tileShape(p.caps.Acc, xRows, c.XCols)
		tileK := min(c.ACols, p.caps.Inp/h, p.caps.Wgt/w)
		if tileK < 1 {
			return accel.Errorf(accel.CapacityTooSmall, "gemm", "%dx%d output tile leaves no room for a k-slice", h, w)
		}
		for ti := 0; ti < xRows; ti += h {
			for tj := 0; tj < c.XCols; tj += w {
				p.tile(lo.RangeFrom(ti, min(h, xRows-ti)), lo.RangeFrom(tj, min(w, c.XCols-tj)), tileK)
			}
		}
	case StrategyColumn:
		band := min(p.caps.Inp, p.caps.Acc, p.caps.Out, xRows)
		for ti := 0; ti < xRows; ti += band {
			rows := lo.RangeFrom(ti, min(band, xRows-ti))
			for j := range c.XCols {
				p.tile(rows, []int{j}, 1)
			}
		}
	case StrategyRow:
		band := min(p.caps.Wgt, p.caps.Acc, p.caps.Out, c.XCols)
		for tj := 0; tj < c.XCols; tj += band {
			cols := lo.RangeFrom(tj, min(band, c.XCols-tj))
			for i := range xRows {
				p.tile([]int{i}, cols, 1)
			}
		}
	default:
		delta := min(p.caps.Inp, p.caps.Wgt, p.caps.Acc, p.caps.Out, c.ACols)
		for i := range xRows {
			for j := range c.XCols {
				p.tile([]int{i}, []int{j}, delta)
			}
		}
	}
	return nil
}

// tileShape picks a near-square h×w output tile with h·w at most acc.
func tileShape(acc, xRows, xCols int) (h, w int) {
	h = int(math.Sqrt(float64(acc)))
	for h > 1 && acc%h != 0 {
		h--
	}
	h = min(max(h, 1), xRows)
	w = min(acc/h, xCols)
	return h, w
}

// tile emits the steps computing the output blocks rows×cols: the k
// dimension is streamed in chunks of kChunk block columns. X is loaded with
// the first chunk; ALU ops and stores follow the last.
func (p *planner) tile(rows, cols []int, kChunk int) {
	c := p.c
	var resident []int
	for _, i := range rows {
		for _, j := range cols {
			resident = append(resident, i*c.XCols+j)
		}
	}
	chunks := lo.Chunk(lo.Range(c.ACols), kChunk)
	for n, ks := range chunks {
		var loadA, loadB []int
		for _, i := range rows {
			for _, k := range ks {
				loadA = append(loadA, i*c.ACols+k)
			}
		}
		for _, k := range ks {
			for _, j := range cols {
				loadB = append(loadB, k*c.BCols+j)
			}
		}
		st := Step{
			LoadA: loadA, LoadB: loadB,
			InpResident: loadA, WgtResident: loadB, SramResident: resident,
			Ops: getOperations(loadA, loadB, c.ACols, c.BCols, c.XCols),
		}
		if n == 0 {
			st.LoadX = resident
		}
		if n == len(chunks)-1 {
			st.Ops = append(st.Ops, p.aluOn(resident)...)
			st.StoreC = p.storable(resident)
		}
		p.emit(st)
	}
}
