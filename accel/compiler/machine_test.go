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

package compiler

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ajroetker/tilec/accel"
	"github.com/ajroetker/tilec/accel/isa"
	"github.com/ajroetker/tilec/accel/kernel"
	"github.com/ajroetker/tilec/accel/partition"
	"github.com/ajroetker/tilec/accel/program"
)

// machine executes an instruction stream in program order against a DRAM
// image. Scratchpad entries keep their contents until overwritten, so a
// stream that reads rows it never loaded sees the previous step's data.
type machine struct {
	cfg     accel.Config
	b       int
	div     accel.Divisors
	offset  uint64
	clip    bool
	dram    []byte
	uops    []isa.Uop
	uopBase uint64

	uopSram            map[int]isa.Uop
	inp, wgt, acc, out map[int][]int64
}

func newMachine(r *Result) *machine {
	m := &machine{
		cfg: r.Config, b: r.Config.Block(), div: r.Config.Divisors(),
		offset: r.Program.DramOffset, clip: r.Program.Clip,
		uops: r.Stream.Uops, uopBase: r.Uop.Logical,
		uopSram: map[int]isa.Uop{},
		inp:     map[int][]int64{}, wgt: map[int][]int64{}, acc: map[int][]int64{}, out: map[int][]int64{},
	}
	var end uint64
	for _, o := range r.DRAM.Objects() {
		end = max(end, o.End())
	}
	m.dram = make([]byte, end)
	d, l := r.Data, r.Layout
	if d.A != nil {
		copy(m.dram[l.Inp.Physical:], d.A.Bytes())
	}
	if d.W != nil {
		copy(m.dram[l.Wgt.Physical:], d.W.Bytes())
	}
	copy(m.dram[l.Acc.Physical:], d.X.Bytes())
	if d.Y != nil {
		copy(m.dram[l.AccBis.Physical:], d.Y.Bytes())
	}
	return m
}

func (m *machine) shape(buf isa.BufferID) (accel.Dtype, int, int, map[int][]int64) {
	switch buf {
	case isa.BufInp:
		return m.cfg.Inp(), m.b, m.div.Inp, m.inp
	case isa.BufWgt:
		return m.cfg.Wgt(), m.b * m.b, m.div.Wgt, m.wgt
	case isa.BufAcc:
		return m.cfg.Acc(), m.b, m.div.Acc, m.acc
	default:
		return m.cfg.Out(), m.b, m.div.Out, m.out
	}
}

func readLE(b []byte, width int) int64 {
	switch width {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	default:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	}
}

func row(sp map[int][]int64, i, n int) []int64 {
	if v, ok := sp[i]; ok {
		return v
	}
	v := make([]int64, n)
	sp[i] = v
	return v
}

func (m *machine) load(in isa.Instruction) {
	if in.Buffer == isa.BufUop {
		for x := range int(in.XSize) {
			m.uopSram[int(in.SramBase)+x] = m.uops[int(uint64(in.DramBase)-m.uopBase)+x]
		}
		return
	}
	dt, n, div, sp := m.shape(in.Buffer)
	top, left := int(in.YPadTop), int(in.XPadLeft)
	rows := top + int(in.YSize) + int(in.YPadBottom)
	cols := left + int(in.XSize) + int(in.XPadRight)
	idx := int(in.SramBase)
	for y := range rows {
		for x := range cols {
			v := make([]int64, n)
			if y >= top && y < top+int(in.YSize) && x >= left && x < left+int(in.XSize) {
				unit := uint64(in.DramBase) + uint64(y-top)*uint64(in.XStride) + uint64(x-left)
				addr := m.offset + unit*uint64(div)
				for e := range v {
					v[e] = readLE(m.dram[addr+uint64(e*dt.Bytes()):], dt.Bytes())
				}
			}
			sp[idx] = v
			idx++
		}
	}
}

// sweep calls fn with the dst, src and wgt indices of every iteration of a
// GEMM or ALU instruction.
func sweep(in isa.Instruction, uops map[int]isa.Uop, fn func(dst, src, wgt int) error) error {
	for k := in.UopBgn; k < in.UopEnd; k++ {
		u := uops[int(k)]
		for i := range in.LoopOut {
			for j := range in.LoopIn {
				err := fn(int(u.Dst+i*in.DstFactorOut+j*in.DstFactorIn),
					int(u.Src+i*in.SrcFactorOut+j*in.SrcFactorIn),
					int(u.Wgt+i*in.WgtFactorOut+j*in.WgtFactorIn))
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (m *machine) narrow(dst int) {
	c := m.acc[dst]
	o := make([]int64, len(c))
	for e, v := range c {
		o[e] = m.cfg.Out().Narrow(v, m.clip)
	}
	m.out[dst] = o
}

func (m *machine) gemm(in isa.Instruction) error {
	b := m.b
	return sweep(in, m.uopSram, func(dst, src, w int) error {
		if in.Reset {
			m.acc[dst] = make([]int64, b)
			m.narrow(dst)
			return nil
		}
		a, wt, c := row(m.inp, src, b), row(m.wgt, w, b*b), row(m.acc, dst, b)
		for n := range b {
			s := c[n]
			for k := range b {
				s += a[k] * wt[n*b+k]
			}
			c[n] = m.cfg.Acc().Wrap(s)
		}
		m.narrow(dst)
		return nil
	})
}

func (m *machine) alu(in isa.Instruction) error {
	return sweep(in, m.uopSram, func(dst, src, _ int) error {
		c := row(m.acc, dst, m.b)
		for e := range c {
			operand := int64(in.Imm)
			if !in.UseImm {
				operand = row(m.acc, src, m.b)[e]
			}
			v, err := kernel.Alu(in.AluOp, c[e], operand, m.cfg.Acc())
			if err != nil {
				return err
			}
			c[e] = v
		}
		m.narrow(dst)
		return nil
	})
}

func (m *machine) store(in isa.Instruction) {
	dt := m.cfg.Out()
	idx := int(in.SramBase)
	for y := range int(in.YSize) {
		for x := range int(in.XSize) {
			unit := uint64(in.DramBase) + uint64(y)*uint64(in.XStride) + uint64(x)
			addr := m.offset + unit*uint64(m.div.Out)
			var buf []byte
			for _, v := range row(m.out, idx, m.b) {
				buf = dt.AppendLE(buf, v)
			}
			copy(m.dram[addr:], buf)
			idx++
		}
	}
}

func (m *machine) run(insns []isa.Instruction) error {
	for i, in := range insns {
		var err error
		switch in.Opcode {
		case isa.OpLoad:
			m.load(in)
		case isa.OpStore:
			m.store(in)
		case isa.OpGemm:
			err = m.gemm(in)
		case isa.OpAlu:
			err = m.alu(in)
		case isa.OpFinish:
			return nil
		}
		if err != nil {
			return fmt.Errorf("insn[%d]: %w", i, err)
		}
	}
	return fmt.Errorf("stream of %d instructions has no FINISH", len(insns))
}

// checkOut runs r and compares the OUT region with ExpectedOut.
func checkOut(t *testing.T, r *Result) {
	t.Helper()
	m := newMachine(r)
	require.NoError(t, m.run(r.Stream.Insns))
	got := m.dram[r.Layout.Out.Physical:r.Layout.Out.End()]
	want := r.ExpectedOut()
	require.Len(t, got, len(want))
	diffs, first := 0, -1
	for i := range want {
		if got[i] != want[i] {
			if first < 0 {
				first = i
			}
			diffs++
		}
	}
	if diffs > 0 {
		t.Errorf("%d/%d OUT bytes differ from ExpectedOut, first at %d: got %d want %d",
			diffs, len(want), first, got[first], want[first])
	}
}

func TestExecutedStreamMatchesExpectedOut(t *testing.T) {
	relu := func(p *program.Program) *program.Program {
		p.ALU = []program.AluOp{&program.Relu{}}
		return p
	}
	nonSquare := gemmProgram("ns", 72, 48, 32)
	nonSquare.NonSquareInput = true
	nonSquareFit := gemmProgram("nsfit", 20, 16, 16)
	nonSquareFit.NonSquareInput = true

	scalar := program.New("scale").AddMatrix("INPUT", 40, 32)
	scalar.Gemm = &program.Gemm{Input: "INPUT", Constant: true, Scalar: 3}

	add := program.New("add").AddMatrix("ACCUMULATOR", 96, 16).AddMatrix("ADD_ACCUMULATOR", 96, 16)
	add.ALU = []program.AluOp{&program.AddAcc{}}

	pool := program.New("pool").AddMatrix("ACCUMULATOR", 16, 16)
	pool.ALU = []program.AluOp{
		&program.VectorVector{Opcode: isa.AluAdd, Sites: []program.Site{{Dst: 0, Src: 1}, {Dst: 8, Src: 9}}},
		&program.ScalarImm{Opcode: isa.AluShr, Imm: 1, Dst: []int{0, 8}},
	}

	shr := program.New("shr").AddMatrix("ACCUMULATOR", 160, 16)
	shr.ALU = []program.AluOp{&program.ScalarImm{Opcode: isa.AluShr, Imm: 1, Dst: allRows(160)}}

	signed := gemmProgram("signed", 48, 32, 48)
	signed.ValueMin, signed.ValueMax = -128, 127
	signed.Clip = true

	tests := []struct {
		name     string
		cfg      accel.Config
		p        *program.Program
		strategy partition.Strategy
	}{
		{"single tile", accel.DefaultConfig(), gemmProgram("s1", 16, 16, 16), 0},
		{"gemm fit", accel.DefaultConfig(), relu(gemmProgram("fit", 48, 32, 64)), 0},
		{"signed clip", accel.DefaultConfig(), signed, 0},
		{"strategy 1", smallConfig(), relu(gemmProgram("o1", 64, 48, 80)), partition.StrategyOutput},
		{"strategy 2", smallConfig(), relu(gemmProgram("o2", 64, 48, 80)), partition.StrategyTiled},
		{"strategy 3", smallConfig(), relu(gemmProgram("o3", 64, 48, 80)), partition.StrategyColumn},
		{"strategy 4", smallConfig(), relu(gemmProgram("o4", 64, 48, 80)), partition.StrategyRow},
		{"non-square fit", accel.DefaultConfig(), nonSquareFit, 0},
		{"non-square overflow", smallConfig(), nonSquare, partition.StrategyOutput},
		{"constant", smallConfig(), scalar, 0},
		{"add chunks", smallConfig(), add, 0},
		{"vector alu", accel.DefaultConfig(), pool, 0},
		{"relu overflow", smallConfig(), relu(program.New("ro").AddMatrix("ACCUMULATOR", 160, 16)), 0},
		{"shr overflow", smallConfig(), shr, 0},
		{"uop addressable", accel.DefaultConfig(), gemmProgram("wide", 256, 256, 16), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.strategy != 0 {
				opts = append(opts, WithStrategy(tt.strategy))
			}
			r, err := New(tt.cfg, opts...).Compile(tt.p)
			require.NoError(t, err)
			checkOut(t, r)
		})
	}
}
