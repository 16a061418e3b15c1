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

// Package emit lowers a schedule into the accelerator's instruction and
// micro-op streams.
//
// Every step is emitted as four phases, each a group of instructions on one
// pipeline stage: LOAD (INP then WGT), COMPUTE (LOAD-ACC, GEMM, ALU), STORE,
// and a closing COMPUTE no-op. The first instruction of a group pops the
// token that admits it and the last pushes the tokens that release the
// following stage; an empty group is replaced by a zero-size no-op carrying
// both. A reset GEMM precedes the first step and FINISH follows the last.
//
// LOAD-UOP instructions carry DRAM addresses relative to the UOP region
// until Program.Relocate is called with the region's logical base.
package emit

import (
	"fmt"
	"math"

	"github.com/samber/lo"

	"github.com/ajroetker/tilec/accel"
	"github.com/ajroetker/tilec/accel/dram"
	"github.com/ajroetker/tilec/accel/isa"
	"github.com/ajroetker/tilec/accel/partition"
	"github.com/ajroetker/tilec/accel/shaper"
)

// Program is an emitted instruction stream and its micro-op table.
type Program struct {
	Insns []isa.Instruction
	Uops  []isa.Uop
}

// Count returns the number of instructions with opcode op.
func (p *Program) Count(op isa.Opcode) int {
	return lo.CountBy(p.Insns, func(in isa.Instruction) bool { return in.Opcode == op })
}

// Relocate adds the logical base of the UOP region to every LOAD-UOP.
func (p *Program) Relocate(uopBase uint64) error {
	for i := range p.Insns {
		in := &p.Insns[i]
		if in.Opcode != isa.OpLoad || in.Buffer != isa.BufUop || in.IsNop() {
			continue
		}
		addr := uint64(in.DramBase) + uopBase
		if addr > math.MaxUint32 {
			return accel.Errorf(accel.EncodingOverflow, fmt.Sprintf("insn[%d]", i), "UOP address %#x exceeds 32 bits", addr)
		}
		in.DramBase = uint32(addr)
	}
	return nil
}

// Encode returns the bytes of instructions.bin and uop.bin.
func (p *Program) Encode() (insns, uops []byte, err error) {
	if insns, err = isa.EncodeProgram(p.Insns); err != nil {
		return nil, nil, err
	}
	if uops, err = isa.EncodeUops(p.Uops); err != nil {
		return nil, nil, err
	}
	return insns, uops, nil
}

type emitter struct {
	s    *partition.Schedule
	d    *shaper.Data
	l    Layout
	b    int
	obj  string
	prog *Program
	sem  Semaphores
}

// Emit lowers s, a schedule of d, against the DRAM objects of l.
func Emit(s *partition.Schedule, d *shaper.Data, l Layout) (*Program, error) {
	if l.Acc == nil || l.Out == nil {
		return nil, accel.Errorf(accel.UnresolvedBlock, "layout", "accumulator and output objects must be placed")
	}
	e := &emitter{s: s, d: d, l: l, b: d.B, obj: "prologue", prog: &Program{}}
	if err := e.prologue(); err != nil {
		return nil, err
	}
	for i := range s.Steps {
		e.obj = fmt.Sprintf("step[%d]", i)
		if err := e.step(&s.Steps[i]); err != nil {
			return nil, err
		}
	}
	e.obj = "epilogue"
	if err := e.epilogue(); err != nil {
		return nil, err
	}
	return e.prog, nil
}

func (e *emitter) push(in isa.Instruction) error {
	if err := e.sem.Apply(len(e.prog.Insns), in); err != nil {
		return err
	}
	e.prog.Insns = append(e.prog.Insns, in)
	return nil
}

func or(a, b isa.Deps) isa.Deps {
	return isa.Deps{
		PopPrev:  a.PopPrev || b.PopPrev,
		PopNext:  a.PopNext || b.PopNext,
		PushPrev: a.PushPrev || b.PushPrev,
		PushNext: a.PushNext || b.PushNext,
	}
}

// group emits insns with first's flags on the first instruction and last's
// on the last, or nop carrying both when insns is empty.
func (e *emitter) group(insns []isa.Instruction, nop isa.Instruction, first, last isa.Deps) error {
	if len(insns) == 0 {
		insns = []isa.Instruction{nop}
	}
	insns[0].Deps = or(insns[0].Deps, first)
	insns[len(insns)-1].Deps = or(insns[len(insns)-1].Deps, last)
	for _, in := range insns {
		if err := e.push(in); err != nil {
			return err
		}
	}
	return nil
}

// batch appends uops to the table and returns LOAD-UOP + in pairs framing
// them, one pair per fragment that fits the UOP scratchpad.
func (e *emitter) batch(uops []isa.Uop, in isa.Instruction) []isa.Instruction {
	var out []isa.Instruction
	for _, chunk := range lo.Chunk(uops, max(e.s.Caps.Uop, 1)) {
		start := len(e.prog.Uops)
		e.prog.Uops = append(e.prog.Uops, chunk...)
		n := uint32(len(chunk))
		out = append(out, isa.Load(isa.BufUop, 0, uint32(start), 1, n, n))
		in.UopBgn, in.UopEnd = 0, n
		out = append(out, in)
	}
	return out
}

func (e *emitter) prologue() error {
	b := uint32(e.b)
	reset := isa.Instruction{
		Opcode:       isa.OpGemm,
		Reset:        true,
		LoopOut:      uint32(e.s.ResetBlocks()),
		LoopIn:       b,
		DstFactorOut: b,
		DstFactorIn:  1,
	}
	return e.group(e.batch([]isa.Uop{{}}, reset), isa.NopCompute(), isa.Deps{}, isa.Deps{PushPrev: true})
}

func (e *emitter) epilogue() error {
	for _, in := range []isa.Instruction{
		{Opcode: isa.OpLoad, Buffer: isa.BufInp, Deps: isa.Deps{PopNext: true, PushNext: true}},
		{Opcode: isa.OpLoad, Buffer: isa.BufUop, Deps: isa.Deps{PopPrev: true}},
		isa.Finish(),
	} {
		if err := e.push(in); err != nil {
			return err
		}
	}
	if !e.sem.Zero() {
		return accel.Errorf(accel.SemaphoreImbalance, e.obj, "tokens outstanding after FINISH: %v", e.sem)
	}
	return nil
}

func (e *emitter) step(st *partition.Step) error {
	load, err := e.loadPhase(st)
	if err != nil {
		return err
	}
	if err := e.group(load, isa.NopLoad(), isa.Deps{PopNext: true}, isa.Deps{PushNext: true}); err != nil {
		return err
	}

	compute, err := e.computePhase(st)
	if err != nil {
		return err
	}
	if err := e.group(compute, isa.NopCompute(), isa.Deps{PopPrev: true}, isa.Deps{PushPrev: true, PushNext: true}); err != nil {
		return err
	}

	stores, err := e.storePhase(st)
	if err != nil {
		return err
	}
	if err := e.group(stores, isa.NopStore(), isa.Deps{PopPrev: true}, isa.Deps{PushPrev: true}); err != nil {
		return err
	}

	closing := isa.NopCompute()
	closing.Deps.PopNext = true
	return e.push(closing)
}

func (e *emitter) loadPhase(st *partition.Step) ([]isa.Instruction, error) {
	inp, err := e.blocks("INP", st.LoadA, st.InpResident, 0, e.l.Inp, e.d.A, true)
	if err != nil {
		return nil, err
	}
	wgt, err := e.blocks("WGT", st.LoadB, st.WgtResident, 0, e.l.Wgt, e.d.W, false)
	if err != nil {
		return nil, err
	}
	out := loads(isa.BufInp, inp, e.b, e.b)
	return append(out, loads(isa.BufWgt, wgt, 1, 1)...), nil
}

func (e *emitter) computePhase(st *partition.Step) ([]isa.Instruction, error) {
	var out []isa.Instruction
	if st.ResidentUnit == partition.UnitVector {
		ts, err := e.vectors(st)
		if err != nil {
			return nil, err
		}
		out = loads(isa.BufAcc, ts, 1, 1)
	} else {
		x, err := e.blocks("ACC", st.LoadX, st.SramResident, 0, e.l.Acc, e.d.X, true)
		if err != nil {
			return nil, err
		}
		out = loads(isa.BufAcc, x, e.b, e.b)
	}
	if len(st.LoadY) > 0 {
		y, err := e.blocks("ACC_BIS", st.LoadY, st.SramResident, e.s.NX, e.l.AccBis, e.d.Y, true)
		if err != nil {
			return nil, err
		}
		out = append(out, loads(isa.BufAcc, y, e.b, e.b)...)
	}

	if gemms := st.Gemms(); len(gemms) > 0 {
		uops := make([]isa.Uop, 0, len(gemms))
		for _, op := range gemms {
			c := lo.IndexOf(st.SramResident, op.C)
			a := lo.IndexOf(st.InpResident, op.A)
			w := lo.IndexOf(st.WgtResident, op.B)
			if c < 0 || a < 0 || w < 0 {
				return nil, accel.Errorf(accel.UnresolvedBlock, e.obj, "%v operand has no scratchpad position", op)
			}
			uops = append(uops, isa.Uop{Dst: uint32(c * e.b), Src: uint32(a * e.b), Wgt: uint32(w)})
		}
		out = append(out, e.batch(uops, isa.Instruction{
			Opcode:      isa.OpGemm,
			LoopOut:     1,
			LoopIn:      uint32(e.b),
			DstFactorIn: 1,
			SrcFactorIn: 1,
		})...)
	}

	for _, op := range st.AluOps() {
		r := op.Alu
		sites := make([][2]int, len(op.Sites))
		for i, s := range op.Sites {
			dst, err := e.row(st, s.Dst)
			if err != nil {
				return nil, err
			}
			sites[i][0] = dst
			if !r.UseImm {
				if sites[i][1], err = e.row(st, s.Src); err != nil {
					return nil, err
				}
			}
		}
		uops, loopIn := aluUops(sites, !r.UseImm)
		in := isa.Instruction{
			Opcode:      isa.OpAlu,
			LoopOut:     1,
			LoopIn:      uint32(loopIn),
			DstFactorIn: 1,
			AluOp:       r.Opcode,
			UseImm:      r.UseImm,
			Imm:         int32(r.Imm),
		}
		if !r.UseImm {
			in.SrcFactorIn = 1
		}
		out = append(out, e.batch(uops, in)...)
	}
	return out, nil
}

// storePhase stores vectors one STORE each, at their DramState index in
// OUT. Blocks go to their own OUT block; contiguous ones share a 2-D STORE.
func (e *emitter) storePhase(st *partition.Step) ([]isa.Instruction, error) {
	if st.StoreUnit == partition.UnitVector {
		var out []isa.Instruction
		for _, v := range st.StoreC {
			row, err := e.row(st, v)
			if err != nil {
				return nil, err
			}
			idx := lo.IndexOf(st.DramState, v)
			if idx < 0 {
				return nil, accel.Errorf(accel.UnresolvedBlock, e.obj, "stored vector %d missing from DramState", v)
			}
			addr, err := e.addr(e.l.Out.Logical + uint64(idx))
			if err != nil {
				return nil, err
			}
			out = append(out, isa.Store(uint32(row), addr, 1, 1, 1))
		}
		return out, nil
	}
	ts, err := e.blocks("OUT", st.StoreC, st.SramResident, 0, e.l.Out, e.d.C, true)
	if err != nil {
		return nil, err
	}
	return moves(isa.Store, ts, e.b, e.b), nil
}

// row returns the accumulator row holding vector v.
func (e *emitter) row(st *partition.Step, v int) (int, error) {
	if st.ResidentUnit == partition.UnitVector {
		if i := lo.IndexOf(st.SramResident, v); i >= 0 {
			return i, nil
		}
	} else if i := lo.IndexOf(st.SramResident, v/e.b); i >= 0 {
		return i*e.b + v%e.b, nil
	}
	return 0, accel.Errorf(accel.UnresolvedBlock, e.obj, "vector %d is not resident", v)
}

func (e *emitter) addr(logical uint64) (uint32, error) {
	if logical > math.MaxUint32 {
		return 0, accel.Errorf(accel.EncodingOverflow, e.obj, "DRAM address %#x exceeds 32 bits", logical)
	}
	return uint32(logical), nil
}

// padBits is the width of the LOAD padding fields.
const padBits = 4

// blocks resolves the transfers of block ids, found in resident as
// id+offset. With rows set a block moves as its rows of B-vectors and sits
// B scratchpad entries apart; a short block is zero-filled to B rows so no
// stale rows of its slot reach the GEMM. Otherwise a block moves as one unit.
func (e *emitter) blocks(what string, ids, resident []int, offset int, obj *dram.Object, t *shaper.Tensor, rows bool) ([]transfer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if obj == nil || t == nil {
		return nil, accel.Errorf(accel.UnresolvedBlock, e.obj, "%s blocks %v referenced but the program has no %s", what, ids, what)
	}
	out := make([]transfer, 0, len(ids))
	for _, id := range ids {
		pos := lo.IndexOf(resident, id+offset)
		if pos < 0 {
			return nil, accel.Errorf(accel.UnresolvedBlock, e.obj, "%s block %d has no scratchpad position", what, id)
		}
		logical, err := obj.Block(id)
		if err != nil {
			return nil, err
		}
		addr, err := e.addr(logical)
		if err != nil {
			return nil, err
		}
		tr := transfer{index: id, sram: pos, dram: addr, size: 1}
		if rows {
			h := t.Blocks[id].Height
			tr.sram, tr.size, tr.pad = pos*e.b, h, e.b-h
			if tr.pad >= 1<<padBits {
				return nil, accel.Errorf(accel.EncodingOverflow, e.obj, "%s block %d has %d rows, zero fill of %d exceeds x_pad_right", what, id, h, tr.pad)
			}
		}
		out = append(out, tr)
	}
	return out, nil
}

// vectors resolves the LOAD-ACC transfers of a vector-resident step.
func (e *emitter) vectors(st *partition.Step) ([]transfer, error) {
	out := make([]transfer, 0, len(st.LoadX))
	for _, v := range st.LoadX {
		slot := lo.IndexOf(st.SramResident, v)
		if slot < 0 {
			return nil, accel.Errorf(accel.UnresolvedBlock, e.obj, "ACC vector %d has no scratchpad position", v)
		}
		logical, err := e.l.Acc.Block(v / e.b)
		if err != nil {
			return nil, err
		}
		addr, err := e.addr(logical + uint64(v%e.b))
		if err != nil {
			return nil, err
		}
		out = append(out, transfer{index: v, sram: slot, dram: addr, size: 1})
	}
	return out, nil
}
