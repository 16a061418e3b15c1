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

package program

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ajroetker/tilec/accel"
	"github.com/ajroetker/tilec/accel/isa"
)

// NoSrc marks a site without a source vector (immediate operand).
const NoSrc = -1

// Site is one vector touched by an ALU op. Vectors are rows of the stacked
// block view of the accumulator: vector v is row v%B of block v/B.
type Site struct {
	Dst int
	Src int
}

// AluOp is one entry of the ordered ALU list. It is a closed sum type:
// *ScalarImm, *VectorVector, *Relu or *AddAcc.
type AluOp interface {
	// Name is the canonical op name, e.g. "MAX_IMM" or "RELU".
	Name() string
	aluOp()
}

// ScalarImm applies Opcode with an immediate operand to every Dst vector.
type ScalarImm struct {
	Opcode isa.AluOpcode
	Imm    int64
	Dst    []int
}

// VectorVector applies Opcode pairwise: dst = op(dst, src) for each site.
type VectorVector struct {
	Opcode isa.AluOpcode
	Sites  []Site
}

// Relu is MAX_IMM 0. A nil Dst means every accumulator vector.
type Relu struct {
	Dst []int
}

// AddAcc adds the second accumulator matrix into the first, element-wise.
type AddAcc struct{}

func (o *ScalarImm) Name() string    { return o.Opcode.String() + "_IMM" }
func (o *VectorVector) Name() string { return o.Opcode.String() }
func (*Relu) Name() string           { return "RELU" }
func (*AddAcc) Name() string         { return "ADD_ACC" }

func (*ScalarImm) aluOp()    {}
func (*VectorVector) aluOp() {}
func (*Relu) aluOp()         {}
func (*AddAcc) aluOp()       {}

var upper = cases.Upper(language.Und)

// CanonicalName normalises an op or matrix name: trimmed, upper-cased.
func CanonicalName(s string) string {
	return upper.String(strings.TrimSpace(s))
}

var aluOpcodes = map[string]isa.AluOpcode{
	"MIN": isa.AluMin,
	"MAX": isa.AluMax,
	"ADD": isa.AluAdd,
	"SHR": isa.AluShr,
	"MUL": isa.AluMul,
}

// LookupOp classifies a canonical op name. It returns the opcode and whether
// the op takes an immediate; RELU and ADD_ACC are reported through ok with
// their lowered opcode.
func LookupOp(name string) (op isa.AluOpcode, imm bool, ok bool) {
	switch name {
	case "RELU":
		return isa.AluMax, true, true
	case "ADD_ACC":
		return isa.AluAdd, false, true
	}
	base, isImm := strings.CutSuffix(name, "_IMM")
	op, ok = aluOpcodes[base]
	return op, isImm, ok
}

// Range expands a [first, step, count] triple into vector indices.
func Range(first, step, count int) []int {
	out := make([]int, count)
	for i := range out {
		out[i] = first + i*step
	}
	return out
}

// Resolved is an ALU op lowered to explicit sites; the form every later
// stage consumes.
type Resolved struct {
	// Index is the op's position in the program's ALU list.
	Index  int
	Name   string
	Opcode isa.AluOpcode
	UseImm bool
	Imm    int64
	Sites  []Site
}

// Object names the op for diagnostics.
func (r *Resolved) Object() string { return fmt.Sprintf("alu[%d] %s", r.Index, r.Name) }

// Vector reports whether the op reads a second vector.
func (r *Resolved) Vector() bool { return !r.UseImm }

// Resolve lowers ops to explicit sites over an accumulator of nVectors
// vectors. For ADD_ACC the second matrix is addressed at vectors
// [nVectors, 2·nVectors).
func Resolve(ops []AluOp, nVectors int) ([]Resolved, error) {
	out := make([]Resolved, 0, len(ops))
	inRange := func(i int, v int) error {
		if v < 0 || v >= nVectors {
			return accel.Errorf(accel.ShapeMismatch, fmt.Sprintf("alu[%d] %s", i, ops[i].Name()),
				"vector %d outside accumulator of %d vectors", v, nVectors)
		}
		return nil
	}
	for i, op := range ops {
		r := Resolved{Index: i, Name: op.Name()}
		switch o := op.(type) {
		case *ScalarImm:
			r.Opcode, r.UseImm, r.Imm = o.Opcode, true, o.Imm
			for _, d := range o.Dst {
				if err := inRange(i, d); err != nil {
					return nil, err
				}
				r.Sites = append(r.Sites, Site{Dst: d, Src: NoSrc})
			}
		case *Relu:
			r.Opcode, r.UseImm = isa.AluMax, true
			dst := o.Dst
			if dst == nil {
				dst = Range(0, 1, nVectors)
			}
			for _, d := range dst {
				if err := inRange(i, d); err != nil {
					return nil, err
				}
				r.Sites = append(r.Sites, Site{Dst: d, Src: NoSrc})
			}
		case *VectorVector:
			r.Opcode = o.Opcode
			for _, s := range o.Sites {
				if err := inRange(i, s.Dst); err != nil {
					return nil, err
				}
				if err := inRange(i, s.Src); err != nil {
					return nil, err
				}
			}
			r.Sites = append(r.Sites, o.Sites...)
		case *AddAcc:
			r.Opcode = isa.AluAdd
			for v := range nVectors {
				r.Sites = append(r.Sites, Site{Dst: v, Src: nVectors + v})
			}
		default:
			return nil, accel.Errorf(accel.UnknownOp, fmt.Sprintf("alu[%d]", i), "unsupported op type %T", op)
		}
		if len(r.Sites) == 0 {
			return nil, accel.Errorf(accel.ShapeMismatch, r.Object(), "op touches no vectors")
		}
		out = append(out, r)
	}
	return out, nil
}
