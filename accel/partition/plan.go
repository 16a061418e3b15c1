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
	"slices"

	"github.com/samber/lo"

	"github.com/ajroetker/tilec/accel"
	"github.com/ajroetker/tilec/accel/program"
	"github.com/ajroetker/tilec/accel/shaper"
)

// Options tune the partitioner.
type Options struct {
	// Strategy is the GEMM overflow traversal; zero means StrategyOutput.
	Strategy Strategy
	// InclusiveFit lets a component that exactly fills its scratchpad
	// count as fitting.
	InclusiveFit bool
}

// planner carries the inputs shared by every path.
type planner struct {
	d      *shaper.Data
	c      shaper.Counts
	caps   accel.Capacities
	opts   Options
	stores map[int]bool
	steps  []Step
	stored []int
}

// Plan schedules d onto scratchpads of the given capacities.
func Plan(d *shaper.Data, caps accel.Capacities, opts Options) (*Schedule, error) {
	if opts.Strategy == 0 {
		opts.Strategy = StrategyOutput
	}
	if _, err := ParseStrategy(int(opts.Strategy)); err != nil {
		return nil, err
	}
	p := &planner{
		d:      d,
		c:      d.Counts(),
		caps:   caps,
		opts:   opts,
		stores: lo.SliceToMap(d.StoreBlocks(), func(b int) (int, bool) { return b, true }),
	}
	s := &Schedule{Strategy: opts.Strategy, B: d.B, NX: p.c.NX, Caps: caps}

	var err error
	switch d.Kind {
	case shaper.KindAlu:
		if p.fits(p.c.NX, caps.Acc) {
			s.Path = PathAluFit
			p.aluFit()
		} else {
			s.Path, s.Overflow = PathAluOverflow, true
			err = p.aluOverflow()
		}
	case shaper.KindAdd:
		s.Path = PathAdd
		err = p.add()
		s.Overflow = len(p.steps) > 1
	case shaper.KindConstGemm:
		s.Path = PathConstant
		err = p.constant()
		s.Overflow = len(p.steps) > 1
	default:
		if err = p.checkGemmShape(); err != nil {
			break
		}
		if p.fits(p.c.NA, caps.Inp) && p.fits(p.c.NB, caps.Wgt) && p.fits(p.c.NX, caps.Acc) {
			s.Path = PathGemmFit
			p.gemmFit()
		} else {
			s.Path, s.Overflow = PathGemmOverflow, true
			err = p.gemmOverflow()
		}
	}
	if err != nil {
		return nil, err
	}
	s.Steps = p.steps
	return s, nil
}

func (p *planner) fits(n, capacity int) bool {
	if p.opts.InclusiveFit {
		return n <= capacity
	}
	return n < capacity
}

func (p *planner) checkGemmShape() error {
	c := p.c
	switch {
	case c.ACols == 0 || c.NA%c.ACols != 0:
		return accel.Errorf(accel.ShapeMismatch, p.d.A.Name, "%d blocks not a multiple of %d block columns", c.NA, c.ACols)
	case c.BCols == 0 || c.NB%c.BCols != 0:
		return accel.Errorf(accel.ShapeMismatch, p.d.W.Name, "%d blocks not a multiple of %d block columns", c.NB, c.BCols)
	case c.XCols == 0 || c.NX%c.XCols != 0:
		return accel.Errorf(accel.ShapeMismatch, p.d.X.Name, "%d blocks not a multiple of %d block columns", c.NX, c.XCols)
	case c.NA/c.ACols != c.NX/c.XCols:
		return accel.Errorf(accel.ShapeMismatch, p.d.X.Name, "%d block rows, input has %d", c.NX/c.XCols, c.NA/c.ACols)
	case c.BCols != c.XCols:
		return accel.Errorf(accel.ShapeMismatch, p.d.X.Name, "%d block columns, weight has %d", c.XCols, c.BCols)
	}
	return nil
}

// emit appends a step, filling DramState from the stores so far.
func (p *planner) emit(st Step) {
	p.stored = append(p.stored, st.StoreC...)
	st.DramState = slices.Clone(p.stored)
	p.steps = append(p.steps, st)
}

// storable filters blocks to those holding results.
func (p *planner) storable(blocks []int) []int {
	return lo.Filter(blocks, func(b int, _ int) bool { return p.stores[b] })
}

// aluOn restricts every ALU op to the sites whose destination lies in one
// of the resident blocks. Ops left without sites are dropped.
func (p *planner) aluOn(resident []int) []Op {
	in := lo.SliceToMap(resident, func(b int) (int, bool) { return b, true })
	var ops []Op
	for i := range p.d.Ops {
		r := &p.d.Ops[i]
		sites := lo.Filter(r.Sites, func(s program.Site, _ int) bool {
			return in[s.Dst/p.d.B] && (s.Src == program.NoSrc || in[s.Src/p.d.B])
		})
		if len(sites) > 0 {
			ops = append(ops, Op{Kind: OpAlu, Alu: r, Sites: sites})
		}
	}
	return ops
}

// rejectVector fails when any ALU op reads a second vector; such ops cannot
// follow a GEMM that is split over several steps.
func (p *planner) rejectVector() error {
	for i := range p.d.Ops {
		if r := &p.d.Ops[i]; r.Vector() {
			return accel.Errorf(accel.UnsupportedCombination, r.Object(),
				"vector-vector ALU op cannot follow an overflowing GEMM")
		}
	}
	return nil
}

func (p *planner) storeUnit() Unit {
	if p.d.VectorStore {
		return UnitVector
	}
	return UnitBlock
}

func (p *planner) aluFit() {
	all := lo.Range(p.c.NX)
	st := Step{
		LoadX:        all,
		SramResident: all,
		Ops:          p.aluOn(all),
		StoreUnit:    p.storeUnit(),
	}
	if st.StoreUnit == UnitVector {
		st.StoreC = slices.Clone(p.d.StoreMask)
	} else {
		st.StoreC = p.storable(all)
	}
	p.emit(st)
}

// getOperations pairs every loaded A block with every loaded B block whose
// block row matches its block column, in i-k-j order.
func getOperations(loadA, loadB []int, aCols, bCols, xCols int) []Op {
	var ops []Op
	for _, a := range loadA {
		for _, b := range loadB {
			if a%aCols == b/bCols {
				ops = append(ops, GeMM((a/aCols)*xCols+b%bCols, a, b))
			}
		}
	}
	return ops
}

func (p *planner) gemmFit() {
	loadA, loadB, all := lo.Range(p.c.NA), lo.Range(p.c.NB), lo.Range(p.c.NX)
	ops := getOperations(loadA, loadB, p.c.ACols, p.c.BCols, p.c.XCols)
	p.emit(Step{
		LoadA: loadA, LoadB: loadB, LoadX: all,
		InpResident: loadA, WgtResident: loadB, SramResident: all,
		Ops:    append(ops, p.aluOn(all)...),
		StoreC: p.storable(all),
	})
}

// constant streams A through the accumulator against the single diagonal
// weight block, which is loaded once.
func (p *planner) constant() error {
	buffer := min(p.caps.Inp, p.caps.Acc, p.caps.Out)
	if buffer < 2 {
		return accel.Errorf(accel.CapacityTooSmall, "constant multiplier", "buffer of %d blocks, need 2", buffer)
	}
	chunks := lo.Chunk(lo.Range(p.c.NA), buffer)
	if len(chunks) > 1 {
		if err := p.rejectVector(); err != nil {
			return err
		}
	}
	for i, chunk := range chunks {
		st := Step{
			LoadA: chunk, LoadX: chunk,
			InpResident: chunk, WgtResident: []int{0}, SramResident: chunk,
			StoreC: p.storable(chunk),
		}
		if i == 0 {
			st.LoadB = []int{0}
		}
		for _, a := range chunk {
			st.Ops = append(st.Ops, GeMM(a, a, 0))
		}
		st.Ops = append(st.Ops, p.aluOn(chunk)...)
		p.emit(st)
	}
	return nil
}

// add streams X and Y in pairs, half the accumulator each.
func (p *planner) add() error {
	per := p.caps.Acc / 2
	if per < 1 {
		return accel.Errorf(accel.CapacityTooSmall, "ADD_ACC", "accumulator of %d blocks, need 2", p.caps.Acc)
	}
	nx := p.c.NX
	for _, chunk := range lo.Chunk(lo.Range(nx), per) {
		ys := lo.Map(chunk, func(b int, _ int) int { return nx + b })
		resident := append(slices.Clone(chunk), ys...)
		p.emit(Step{
			LoadX: chunk, LoadY: chunk,
			SramResident: resident,
			Ops:          p.aluOn(resident),
			StoreC:       p.storable(chunk),
		})
	}
	return nil
}
