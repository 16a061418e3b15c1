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

// Package program holds the in-memory description of what to compile:
// named matrices, an optional GEMM, and an ordered list of ALU operations.
//
// A Program can be built directly in Go or decoded from its JSON form with
// Decode.
package program

import (
	"fmt"
	"math"
	"slices"

	"github.com/ajroetker/tilec/accel"
	"github.com/ajroetker/tilec/accel/kernel"
)

// Well-known matrix names.
const (
	NameInput          = "INPUT"
	NameWeight         = "WEIGHT"
	NameAccumulator    = "ACCUMULATOR"
	NameAddAccumulator = "ADD_ACCUMULATOR"
	NameOutput         = "OUTPUT"
)

// Matrix declares a named matrix. Data is optional; when nil the compiler
// fills the matrix with seeded random values.
type Matrix struct {
	Name string
	Rows int
	Cols int
	Data *kernel.Matrix
}

// Gemm describes C = Input·Weight + Accumulator. When Constant is set the
// weight is the scalar Scalar rather than a matrix.
type Gemm struct {
	Input       string
	Weight      string
	Scalar      int64
	Constant    bool
	Accumulator string
}

// Program is a complete compilation unit.
type Program struct {
	// Name is appended to artefact file names when non-empty.
	Name     string
	Matrices []Matrix
	Gemm     *Gemm
	ALU      []AluOp

	BaseAddress uint64
	DramOffset  uint64

	// Clip narrows outputs with saturation instead of bit masking.
	Clip bool

	// NonSquareInput pads only the columns of the input matrix, leaving a
	// short tail block row.
	NonSquareInput bool

	// Seed, ValueMin and ValueMax control the generated matrix contents.
	Seed     int64
	ValueMin int64
	ValueMax int64
}

// New returns an empty program with the default value range [0, 3].
func New(name string) *Program {
	return &Program{Name: name, ValueMax: 3}
}

// AddMatrix declares a rows×cols matrix and returns p for chaining.
func (p *Program) AddMatrix(name string, rows, cols int) *Program {
	p.Matrices = append(p.Matrices, Matrix{Name: CanonicalName(name), Rows: rows, Cols: cols})
	return p
}

// Lookup returns the matrix called name.
func (p *Program) Lookup(name string) (Matrix, bool) {
	name = CanonicalName(name)
	i := slices.IndexFunc(p.Matrices, func(m Matrix) bool { return m.Name == name })
	if i < 0 {
		return Matrix{}, false
	}
	return p.Matrices[i], true
}

// HasAddAcc reports whether the program adds two accumulator matrices.
func (p *Program) HasAddAcc() bool {
	return slices.ContainsFunc(p.ALU, func(op AluOp) bool {
		_, ok := op.(*AddAcc)
		return ok
	})
}

// Roles are the matrix names bound to each tensor role. Empty names mean the
// role is absent: no Weight for a constant multiplier, no Accumulator when
// the GEMM starts from zero, no AddAccumulator unless ADD_ACC is used.
type Roles struct {
	Input          string
	Weight         string
	Accumulator    string
	AddAccumulator string
}

// Roles binds matrix names to tensor roles.
func (p *Program) Roles() (Roles, error) {
	var r Roles
	need := func(name string) error {
		if _, ok := p.Lookup(name); !ok {
			return accel.Errorf(accel.ShapeMismatch, name, "matrix is not declared")
		}
		return nil
	}
	if g := p.Gemm; g != nil {
		r.Input = CanonicalName(g.Input)
		if err := need(r.Input); err != nil {
			return r, err
		}
		if !g.Constant {
			r.Weight = CanonicalName(g.Weight)
			if err := need(r.Weight); err != nil {
				return r, err
			}
		}
		r.Accumulator = CanonicalName(g.Accumulator)
		if r.Accumulator == "" {
			if _, ok := p.Lookup(NameAccumulator); ok {
				r.Accumulator = NameAccumulator
			}
		} else if err := need(r.Accumulator); err != nil {
			return r, err
		}
	} else {
		if _, ok := p.Lookup(NameAccumulator); ok {
			r.Accumulator = NameAccumulator
		} else {
			var others []string
			for _, m := range p.Matrices {
				if m.Name != NameOutput && m.Name != NameAddAccumulator {
					others = append(others, m.Name)
				}
			}
			if len(others) != 1 {
				return r, accel.Errorf(accel.ShapeMismatch, NameAccumulator,
					"no GEMM and no unique accumulator matrix among %v", others)
			}
			r.Accumulator = others[0]
		}
	}
	if p.HasAddAcc() {
		r.AddAccumulator = NameAddAccumulator
		if err := need(r.AddAccumulator); err != nil {
			return r, err
		}
	}
	return r, nil
}

// Validate checks the program for errors that do not depend on the
// accelerator configuration.
func (p *Program) Validate() error {
	seen := make(map[string]bool, len(p.Matrices))
	for _, m := range p.Matrices {
		if m.Rows <= 0 || m.Cols <= 0 {
			return accel.Errorf(accel.ShapeMismatch, m.Name, "shape %dx%d", m.Rows, m.Cols)
		}
		if seen[m.Name] {
			return accel.Errorf(accel.ShapeMismatch, m.Name, "declared twice")
		}
		seen[m.Name] = true
		if m.Data != nil && (m.Data.Rows != m.Rows || m.Data.Cols != m.Cols) {
			return accel.Errorf(accel.ShapeMismatch, m.Name, "data is %dx%d, declared %dx%d",
				m.Data.Rows, m.Data.Cols, m.Rows, m.Cols)
		}
	}
	if p.ValueMin > p.ValueMax {
		return fmt.Errorf("program %q: value range [%d, %d] is empty", p.Name, p.ValueMin, p.ValueMax)
	}
	if p.Gemm == nil && len(p.ALU) == 0 {
		return accel.Errorf(accel.UnsupportedCombination, p.Name, "program has neither GEMM nor ALU ops")
	}
	if p.HasAddAcc() {
		if p.Gemm != nil {
			return accel.Errorf(accel.UnsupportedCombination, "ADD_ACC", "cannot be combined with GEMM")
		}
		if len(p.ALU) != 1 {
			return accel.Errorf(accel.UnsupportedCombination, "ADD_ACC", "must be the only ALU op, have %d", len(p.ALU))
		}
	}
	for i, op := range p.ALU {
		if o, ok := op.(*ScalarImm); ok && (o.Imm < math.MinInt16 || o.Imm > math.MaxInt16) {
			return accel.Errorf(accel.EncodingOverflow, fmt.Sprintf("alu[%d] %s", i, op.Name()),
				"immediate %d does not fit 16 bits", o.Imm)
		}
	}
	_, err := p.Roles()
	return err
}
