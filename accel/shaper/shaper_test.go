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

package shaper

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ajroetker/tilec/accel"
	"github.com/ajroetker/tilec/accel/isa"
	"github.com/ajroetker/tilec/accel/kernel"
	"github.com/ajroetker/tilec/accel/program"
	"github.com/ajroetker/tilec/accel/workerpool"
)

func withData(p *program.Program, name string, m kernel.Matrix) {
	for i := range p.Matrices {
		if p.Matrices[i].Name == name {
			p.Matrices[i].Data = &m
		}
	}
}

func randomMatrix(r *rand.Rand, rows, cols int, lo, hi int64) kernel.Matrix {
	m := kernel.NewMatrix(rows, cols)
	for i := range m.Data {
		m.Data[i] = lo + r.Int63n(hi-lo+1)
	}
	return m
}

// naive computes narrow(ops(A·B + X)) directly on unpadded matrices.
func naive(a, b, x kernel.Matrix, ops func(kernel.Matrix), cfg accel.Config) kernel.Matrix {
	c := x.Clone()
	for i := range a.Rows {
		for j := range b.Cols {
			s := c.At(i, j)
			for k := range a.Cols {
				s += a.At(i, k) * b.At(k, j)
			}
			c.Set(i, j, cfg.Acc().Wrap(s))
		}
	}
	if ops != nil {
		ops(c)
	}
	return kernel.Narrow(c, cfg.Out(), false)
}

func TestGemmReferenceMatchesNaive(t *testing.T) {
	cfg := accel.DefaultConfig()
	r := rand.New(rand.NewSource(7))
	pool := workerpool.New(3)
	defer pool.Close()

	for _, shape := range [][3]int{{16, 16, 16}, {20, 40, 24}, {33, 7, 50}} {
		m, k, n := shape[0], shape[1], shape[2]
		p := program.New("ref").
			AddMatrix("INPUT", m, k).AddMatrix("WEIGHT", k, n).AddMatrix("ACCUMULATOR", m, n)
		p.Gemm = &program.Gemm{Input: "INPUT", Weight: "WEIGHT", Accumulator: "ACCUMULATOR"}
		vectors := kernel.RoundUp(m, 16) * kernel.RoundUp(n, 16) / 16
		p.ALU = []program.AluOp{&program.Relu{}, &program.ScalarImm{Opcode: isa.AluShr, Imm: 3, Dst: program.Range(0, 1, vectors)}}
		a := randomMatrix(r, m, k, -128, 127)
		b := randomMatrix(r, k, n, -128, 127)
		x := randomMatrix(r, m, n, -5000, 5000)
		withData(p, "INPUT", a)
		withData(p, "WEIGHT", b)
		withData(p, "ACCUMULATOR", x)

		d, err := Build(p, cfg, pool)
		if err != nil {
			t.Fatalf("%v: Build: %v", shape, err)
		}
		want := naive(a, b, x, func(c kernel.Matrix) {
			for i, v := range c.Data {
				c.Data[i] = max(v, 0) >> 3
			}
		}, cfg)
		if got := d.C.Unpadded(); !got.Equal(want) {
			t.Errorf("%v: reference C differs from naive evaluation", shape)
		}
		if d.Kind != KindGemm || d.VectorStore {
			t.Errorf("%v: kind %v vectorStore %v", shape, d.Kind, d.VectorStore)
		}
		if got, want := len(d.StoreMask), d.NVectors(); got != want {
			t.Errorf("%v: store mask has %d vectors, want all %d", shape, got, want)
		}
	}
}

func TestConstantMultiplier(t *testing.T) {
	cfg := accel.DefaultConfig()
	p := program.New("scale").AddMatrix("INPUT", 16, 32)
	p.Gemm = &program.Gemm{Input: "INPUT", Scalar: 3, Constant: true}
	a := randomMatrix(rand.New(rand.NewSource(1)), 16, 32, -20, 20)
	withData(p, "INPUT", a)

	d, err := Build(p, cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if d.Kind != KindConstGemm || d.W.Len() != 1 || d.X.Len() != 2 {
		t.Fatalf("kind %v, %d weight blocks, %d accumulator blocks", d.Kind, d.W.Len(), d.X.Len())
	}
	if d.W.Blocks[0].Data[17] != 3 || d.W.Blocks[0].Data[1] != 0 {
		t.Errorf("synthetic weight block is not diag(3)")
	}
	want := a.Map(func(v int64) int64 { return cfg.Out().Wrap(3 * v) })
	if got := d.C.Unpadded(); !got.Equal(want) {
		t.Errorf("C = 3·A does not hold")
	}
}

func TestAvgPoolStoreMask(t *testing.T) {
	cfg := accel.DefaultConfig()
	p := program.New("pool").AddMatrix("ACCUMULATOR", 16, 16)
	p.ALU = []program.AluOp{
		&program.ScalarImm{Opcode: isa.AluMax, Imm: 0, Dst: program.Range(0, 1, 16)},
		&program.VectorVector{Opcode: isa.AluAdd, Sites: []program.Site{
			{Dst: 0, Src: 1}, {Dst: 2, Src: 3}, {Dst: 4, Src: 5}, {Dst: 6, Src: 7}, {Dst: 8, Src: 9}, {Dst: 10, Src: 11}, {Dst: 12, Src: 13}, {Dst: 14, Src: 15},
		}},
		&program.VectorVector{Opcode: isa.AluAdd, Sites: []program.Site{{Dst: 0, Src: 4}, {Dst: 2, Src: 6}, {Dst: 8, Src: 12}, {Dst: 10, Src: 14}}},
		&program.ScalarImm{Opcode: isa.AluShr, Imm: 2, Dst: []int{0, 2, 8, 10}},
	}
	x := randomMatrix(rand.New(rand.NewSource(2)), 16, 16, -50, 50)
	withData(p, "ACCUMULATOR", x)

	d, err := Build(p, cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff([]int{0, 2, 8, 10}, d.StoreMask); diff != "" {
		t.Errorf("StoreMask (-want +got):\n%s", diff)
	}
	if !d.VectorStore {
		t.Error("vector-vector ALU program should store by vector")
	}
	for _, out := range []int{0, 2, 8, 10} {
		for col := range 16 {
			sum := int64(0)
			for _, r := range []int{out, out + 1, out + 4, out + 5} {
				sum += max(x.At(r, col), 0)
			}
			if got, want := d.C.Padded.At(out, col), cfg.Out().Wrap(sum>>2); got != want {
				t.Fatalf("C[%d][%d] = %d, want %d", out, col, got, want)
			}
		}
	}
}

func TestAddAccumulators(t *testing.T) {
	cfg := accel.DefaultConfig()
	p := program.New("add").AddMatrix("ACCUMULATOR", 32, 16).AddMatrix("ADD_ACCUMULATOR", 32, 16)
	p.ALU = []program.AluOp{&program.AddAcc{}}
	r := rand.New(rand.NewSource(3))
	x, y := randomMatrix(r, 32, 16, -60, 60), randomMatrix(r, 32, 16, -60, 60)
	withData(p, "ACCUMULATOR", x)
	withData(p, "ADD_ACCUMULATOR", y)

	d, err := Build(p, cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if d.Kind != KindAdd || d.Y.Len() != 2 || d.Acc.Rows != 64 {
		t.Fatalf("kind %v, %d Y blocks, stacked rows %d", d.Kind, d.Y.Len(), d.Acc.Rows)
	}
	if d.Ops[0].Sites[5] != (program.Site{Dst: 5, Src: 37}) {
		t.Errorf("ADD_ACC site 5 = %+v, want {5 37}", d.Ops[0].Sites[5])
	}
	if diff := cmp.Diff([]int{0, 1}, d.StoreBlocks()); diff != "" {
		t.Errorf("StoreBlocks (-want +got):\n%s", diff)
	}
	for i := range x.Data {
		if got, want := d.C.Unpadded().Data[i], cfg.Out().Wrap(x.Data[i]+y.Data[i]); got != want {
			t.Fatalf("C[%d] = %d, want %d", i, got, want)
		}
	}
}

func TestNonSquareInput(t *testing.T) {
	cfg := accel.DefaultConfig()
	p := program.New("ns").AddMatrix("INPUT", 20, 16).AddMatrix("WEIGHT", 16, 16)
	p.Gemm = &program.Gemm{Input: "INPUT", Weight: "WEIGHT"}
	p.NonSquareInput = true
	d, err := Build(p, cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff([]int{16, 4}, d.A.Heights()); diff != "" {
		t.Errorf("input heights (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{16, 16}, d.X.Heights()); diff != "" {
		t.Errorf("accumulator heights (-want +got):\n%s", diff)
	}
	if got := d.A.BlockBytes(1); got != 4*16 {
		t.Errorf("tail block bytes = %d, want 64", got)
	}
}

func TestShapeErrors(t *testing.T) {
	cfg := accel.DefaultConfig()
	tests := []struct {
		name  string
		build func() *program.Program
	}{
		{"inner dimension", func() *program.Program {
			p := program.New("e").AddMatrix("INPUT", 16, 16).AddMatrix("WEIGHT", 32, 16)
			p.Gemm = &program.Gemm{Input: "INPUT", Weight: "WEIGHT"}
			return p
		}},
		{"accumulator shape", func() *program.Program {
			p := program.New("e").AddMatrix("INPUT", 16, 16).AddMatrix("WEIGHT", 16, 16).AddMatrix("ACCUMULATOR", 16, 32)
			p.Gemm = &program.Gemm{Input: "INPUT", Weight: "WEIGHT"}
			return p
		}},
		{"add shape", func() *program.Program {
			p := program.New("e").AddMatrix("ACCUMULATOR", 16, 16).AddMatrix("ADD_ACCUMULATOR", 32, 16)
			p.ALU = []program.AluOp{&program.AddAcc{}}
			return p
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Build(tt.build(), cfg, nil); !errors.Is(err, accel.ErrShapeMismatch) {
				t.Errorf("Build error = %v, want ShapeMismatch", err)
			}
		})
	}
}

func TestWeightBytesAreTransposed(t *testing.T) {
	cfg := accel.DefaultConfig()
	w := kernel.NewMatrix(16, 16)
	w.Set(0, 1, 5)
	tensor, err := newTensor(RoleWgt, "W", w, cfg.Wgt(), 16, true)
	if err != nil {
		t.Fatal(err)
	}
	raw := tensor.Bytes()
	if raw[1] != 0 || raw[16] != 5 {
		t.Errorf("WGT element (0,1) serialised at %d, want offset 16", 1)
	}
	acc, _ := newTensor(RoleAcc, "X", w, cfg.Acc(), 16, true)
	if raw := acc.Bytes(); len(raw) != 16*16*4 || raw[4] != 5 {
		t.Errorf("ACC element (0,1) not at byte 4 of a row-major block")
	}
}

func TestEncodeOnPoolMatchesSerialOrder(t *testing.T) {
	cfg := accel.DefaultConfig()
	r := rand.New(rand.NewSource(3))
	pool := workerpool.New(4)
	defer pool.Close()
	for _, role := range []Role{RoleInp, RoleWgt, RoleAcc} {
		dt := cfg.Acc()
		switch role {
		case RoleInp:
			dt = cfg.Inp()
		case RoleWgt:
			dt = cfg.Wgt()
		}
		// 53 rows leave a short tail block when rows are not padded.
		m := randomMatrix(r, 53, 40, -100, 100)
		tensor, err := newTensor(role, role.String(), m, dt, 16, role != RoleInp)
		if err != nil {
			t.Fatal(err)
		}
		var want []byte
		for _, blk := range tensor.Blocks {
			data := blk.Data
			if role == RoleWgt {
				data = kernel.TransposeBlock(data, 16)
			}
			for _, v := range data {
				want = dt.AppendLE(want, v)
			}
		}
		if diff := cmp.Diff(want, tensor.Encode(pool)); diff != "" {
			t.Errorf("%v Encode (-want +got):\n%s", role, diff)
		}
		if diff := cmp.Diff(want, tensor.Bytes()); diff != "" {
			t.Errorf("%v Bytes (-want +got):\n%s", role, diff)
		}
	}
}
