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

// Package shaper turns a program into tiled block streams and computes the
// bit-exact reference results the accelerator must reproduce.
//
// The accumulator is viewed as a stack of vectors: vector v is row v%B of
// accumulator block v/B. ALU sites and the store mask are vector indices in
// that view. When two accumulators are added, the second one follows the
// first, so its vector k is nX·B+k.
package shaper

import (
	"fmt"
	"math/rand"

	"github.com/ajroetker/tilec/accel"
	"github.com/ajroetker/tilec/accel/kernel"
	"github.com/ajroetker/tilec/accel/program"
	"github.com/ajroetker/tilec/accel/workerpool"
)

// Kind is the shape of the computation, which selects the scheduling path.
type Kind int

const (
	KindGemm Kind = iota
	KindConstGemm
	KindAlu
	KindAdd
)

func (k Kind) String() string {
	switch k {
	case KindGemm:
		return "gemm"
	case KindConstGemm:
		return "const-gemm"
	case KindAlu:
		return "alu"
	case KindAdd:
		return "add"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Data is the shaped program: block streams, resolved ALU ops and the
// reference results.
type Data struct {
	Kind   Kind
	B      int
	Scalar int64

	// A and W are absent for ALU-only programs. For a constant multiplier W
	// holds the single synthetic diagonal block.
	A *Tensor
	W *Tensor
	X *Tensor
	// Y is the second accumulator of an add program.
	Y *Tensor

	Ops []program.Resolved

	// Acc is the stacked accumulator view (X then Y) after the GEMM and
	// before any ALU op, in the wide type.
	Acc kernel.Matrix
	// Final is the stacked view after every ALU op, still wide.
	Final kernel.Matrix
	// StoreMask lists, ascending, the X vectors that hold results.
	StoreMask []int
	// C is the narrowed result in the layout of X.
	C *Tensor
	// VectorStore makes a fitting ALU program store vector by vector. ALU
	// overflow schedules store vectors regardless; see Schedule.StoreUnit.
	VectorStore bool
}

// Counts are the block counts consumed by the scheduler.
type Counts struct {
	NA, ACols int
	NB, BCols int
	NX, XCols int
}

// Counts returns the block counts of A, B and X.
func (d *Data) Counts() Counts {
	c := Counts{NX: d.X.Len(), XCols: d.X.BlocksCol}
	if d.A != nil {
		c.NA, c.ACols = d.A.Len(), d.A.BlocksCol
	}
	if d.W != nil {
		c.NB, c.BCols = d.W.Len(), d.W.BlocksCol
	}
	return c
}

// NVectors returns the number of X vectors.
func (d *Data) NVectors() int { return d.X.Len() * d.B }

// StoreBlocks returns, ascending, the X blocks holding at least one masked vector.
func (d *Data) StoreBlocks() []int {
	var out []int
	for _, v := range d.StoreMask {
		if blk := v / d.B; len(out) == 0 || out[len(out)-1] != blk {
			out = append(out, blk)
		}
	}
	return out
}

// Build shapes p for the accelerator described by cfg. Matrices without data
// are filled from p.Seed. The reference GEMM runs on pool, which may be nil.
func Build(p *program.Program, cfg accel.Config, pool *workerpool.Pool) (*Data, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	roles, err := p.Roles()
	if err != nil {
		return nil, err
	}
	b := cfg.Block()
	d := &Data{B: b}
	values := materialise(p, cfg)

	switch {
	case p.Gemm != nil:
		if err := d.shapeGemm(p, cfg, roles, values, pool); err != nil {
			return nil, err
		}
	case p.HasAddAcc():
		d.Kind = KindAdd
		if err := d.shapeAccumulators(cfg, roles, values); err != nil {
			return nil, err
		}
	default:
		d.Kind = KindAlu
		if err := d.shapeAccumulators(cfg, roles, values); err != nil {
			return nil, err
		}
	}

	if d.Ops, err = program.Resolve(p.ALU, d.NVectors()); err != nil {
		return nil, err
	}
	if d.Final, err = applyAlu(d.Acc, d.Ops, cfg.Acc()); err != nil {
		return nil, err
	}
	d.StoreMask = storeMask(d.Kind, d.NVectors(), d.Ops)
	d.VectorStore = d.Kind == KindAlu && hasVectorOp(d.Ops)

	n := d.NVectors()
	narrowed := kernel.Narrow(kernel.Matrix{Rows: n, Cols: b, Data: d.Final.Data[:n*b]}, cfg.Out(), p.Clip)
	d.C = &Tensor{
		Role: RoleOut, Name: program.NameOutput, Rows: d.X.Rows, Cols: d.X.Cols,
		Dtype: cfg.Out(), B: b, BlocksRow: d.X.BlocksRow, BlocksCol: d.X.BlocksCol,
		Blocks: kernel.Unstack(narrowed, d.X.Heights()),
	}
	d.C.Padded = kernel.Unsplit(d.C.Blocks, d.C.BlocksCol, b, d.X.Padded.Rows, d.X.Padded.Cols)
	return d, nil
}

func (d *Data) shapeGemm(p *program.Program, cfg accel.Config, roles program.Roles, values map[string]kernel.Matrix, pool *workerpool.Pool) error {
	b := d.B
	a := values[roles.Input]
	var err error
	if d.A, err = newTensor(RoleInp, roles.Input, a, cfg.Inp(), b, !p.NonSquareInput); err != nil {
		return err
	}

	var wPadded kernel.Matrix
	outCols := 0
	if p.Gemm.Constant {
		d.Kind = KindConstGemm
		d.Scalar = p.Gemm.Scalar
		if !cfg.Wgt().Contains(d.Scalar) {
			return accel.Errorf(accel.DtypeUnsupported, "GEMM", "scalar %d does not fit %v", d.Scalar, cfg.Wgt())
		}
		diag := kernel.Diagonal(b, d.Scalar)
		d.W = &Tensor{
			Role: RoleWgt, Name: "SCALAR", Rows: b, Cols: b, Dtype: cfg.Wgt(), B: b,
			BlocksRow: 1, BlocksCol: 1, Blocks: []kernel.Block{diag},
			Padded: kernel.Matrix{Rows: b, Cols: b, Data: diag.Data},
		}
		n := d.A.Padded.Cols
		wPadded = kernel.NewMatrix(n, n)
		for i := range n {
			wPadded.Set(i, i, d.Scalar)
		}
		outCols = a.Cols
	} else {
		d.Kind = KindGemm
		w := values[roles.Weight]
		if w.Rows != a.Cols {
			return accel.Errorf(accel.ShapeMismatch, roles.Weight, "has %d rows, %s has %d columns", w.Rows, roles.Input, a.Cols)
		}
		if d.W, err = newTensor(RoleWgt, roles.Weight, w, cfg.Wgt(), b, true); err != nil {
			return err
		}
		if d.W.BlocksRow != d.A.BlocksCol {
			return accel.Errorf(accel.ShapeMismatch, roles.Weight, "%d block rows, input has %d block columns", d.W.BlocksRow, d.A.BlocksCol)
		}
		wPadded = d.W.Padded
		outCols = w.Cols
	}

	name := roles.Accumulator
	x, ok := values[name]
	if !ok {
		name = program.NameAccumulator
		x = kernel.NewMatrix(a.Rows, outCols)
	}
	if x.Rows != a.Rows || x.Cols != outCols {
		return accel.Errorf(accel.ShapeMismatch, name, "is %dx%d, product is %dx%d", x.Rows, x.Cols, a.Rows, outCols)
	}
	if d.X, err = newTensor(RoleAcc, name, x, cfg.Acc(), b, true); err != nil {
		return err
	}
	acc, err := kernel.MatMulAcc(d.A.Padded, wPadded, d.X.Padded, cfg.Acc(), pool)
	if err != nil {
		return fmt.Errorf("reference gemm: %w", err)
	}
	blocks, _, _, err := kernel.Split(acc, b)
	if err != nil {
		return err
	}
	d.Acc = kernel.Stack(blocks, b)
	return nil
}

func (d *Data) shapeAccumulators(cfg accel.Config, roles program.Roles, values map[string]kernel.Matrix) error {
	var err error
	x := values[roles.Accumulator]
	if d.X, err = newTensor(RoleAcc, roles.Accumulator, x, cfg.Acc(), d.B, true); err != nil {
		return err
	}
	stacked := []kernel.Block{}
	stacked = append(stacked, d.X.Blocks...)
	if roles.AddAccumulator != "" {
		y := values[roles.AddAccumulator]
		if y.Rows != x.Rows || y.Cols != x.Cols {
			return accel.Errorf(accel.ShapeMismatch, roles.AddAccumulator, "is %dx%d, %s is %dx%d",
				y.Rows, y.Cols, roles.Accumulator, x.Rows, x.Cols)
		}
		if d.Y, err = newTensor(RoleAccBis, roles.AddAccumulator, y, cfg.Acc(), d.B, true); err != nil {
			return err
		}
		stacked = append(stacked, d.Y.Blocks...)
	}
	d.Acc = kernel.Stack(stacked, d.B)
	return nil
}

// materialise returns the values of every declared matrix: its Data when
// given, seeded random values in the program's range otherwise. The range is
// clipped to the dtype of the matrix's role.
func materialise(p *program.Program, cfg accel.Config) map[string]kernel.Matrix {
	roles, _ := p.Roles()
	rng := rand.New(rand.NewSource(p.Seed))
	out := make(map[string]kernel.Matrix, len(p.Matrices))
	for _, m := range p.Matrices {
		if m.Data != nil {
			out[m.Name] = m.Data.Clone()
			continue
		}
		dt := cfg.Acc()
		switch m.Name {
		case roles.Input:
			dt = cfg.Inp()
		case roles.Weight:
			dt = cfg.Wgt()
		}
		lo, hi := dt.Clip(p.ValueMin), dt.Clip(p.ValueMax)
		mat := kernel.NewMatrix(m.Rows, m.Cols)
		for i := range mat.Data {
			mat.Data[i] = lo + rng.Int63n(hi-lo+1)
		}
		out[m.Name] = mat
	}
	return out
}
