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

// Package partition schedules a shaped program onto the accelerator's
// scratchpads. It produces an ordered list of steps; each step names the
// blocks (or vectors) transferred in, the scratchpad residents during
// compute, the operations executed and the results stored back.
//
// Operations address operands by block index; the emitter turns indices
// into scratchpad positions through the step's residency lists.
package partition

import (
	"fmt"
	"strings"

	"github.com/ajroetker/tilec/accel"
	"github.com/ajroetker/tilec/accel/program"
)

// Free marks an unoccupied accumulator slot.
const Free = -1

// Unit is the granularity of accumulator residency and stores.
type Unit int

const (
	UnitBlock Unit = iota
	UnitVector
)

func (u Unit) String() string {
	if u == UnitVector {
		return "vector"
	}
	return "block"
}

// OpKind distinguishes GEMM from ALU operations.
type OpKind int

const (
	OpGemm OpKind = iota
	OpAlu
)

// Op is one operation of a step.
//
// A GEMM accumulates INP block A times WGT block B into accumulator block C.
// An ALU op applies Alu to the listed sites, which are vector indices in
// the stacked accumulator view (see package shaper).
type Op struct {
	Kind    OpKind
	C, A, B int
	Alu     *program.Resolved
	Sites   []program.Site
}

// GeMM builds a GEMM op.
func GeMM(c, a, b int) Op { return Op{Kind: OpGemm, C: c, A: a, B: b} }

func (o Op) String() string {
	if o.Kind == OpGemm {
		return fmt.Sprintf("GeMM(%d, %d, %d)", o.C, o.A, o.B)
	}
	return fmt.Sprintf("%s×%d", o.Alu.Name, len(o.Sites))
}

// Step is the scheduling atom. Load* lists are transferred during the step;
// the *Resident lists are the scratchpad contents, by position, while the
// step computes.
type Step struct {
	LoadA []int
	LoadB []int
	// LoadX holds accumulator blocks or, for UnitVector residency, vectors.
	LoadX []int
	// LoadY holds blocks of the second accumulator. In SramResident block y
	// of Y appears as nX+y.
	LoadY []int

	InpResident  []int
	WgtResident  []int
	SramResident []int

	// DramState lists every unit stored so far, including StoreC, in store order.
	DramState []int
	StoreC    []int
	Ops       []Op

	ResidentUnit Unit
	StoreUnit    Unit
}

// Gemms returns the GEMM prefix of Ops.
func (s *Step) Gemms() []Op {
	n := 0
	for n < len(s.Ops) && s.Ops[n].Kind == OpGemm {
		n++
	}
	return s.Ops[:n]
}

// AluOps returns the ALU suffix of Ops.
func (s *Step) AluOps() []Op { return s.Ops[len(s.Gemms()):] }

func (s *Step) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "loadA=%v loadB=%v loadX=%v", s.LoadA, s.LoadB, s.LoadX)
	if len(s.LoadY) > 0 {
		fmt.Fprintf(&sb, " loadY=%v", s.LoadY)
	}
	fmt.Fprintf(&sb, " sram=%v store=%v ops=%v", s.SramResident, s.StoreC, s.Ops)
	return sb.String()
}

// Path identifies the scheduling algorithm that produced a schedule.
type Path int

const (
	PathAluFit Path = iota
	PathAluOverflow
	PathGemmFit
	PathGemmOverflow
	PathConstant
	PathAdd
)

func (p Path) String() string {
	switch p {
	case PathAluFit:
		return "alu"
	case PathAluOverflow:
		return "alu-overflow"
	case PathGemmFit:
		return "gemm"
	case PathGemmOverflow:
		return "gemm-overflow"
	case PathConstant:
		return "constant"
	case PathAdd:
		return "add"
	default:
		return fmt.Sprintf("Path(%d)", int(p))
	}
}

// Strategy selects the GEMM overflow traversal.
type Strategy int

const (
	// StrategyOutput walks output blocks one at a time, streaming k.
	StrategyOutput Strategy = 1
	// StrategyTiled walks near-square output tiles.
	StrategyTiled Strategy = 2
	// StrategyColumn walks row bands, one output column at a time.
	StrategyColumn Strategy = 3
	// StrategyRow walks column bands, one output row at a time.
	StrategyRow Strategy = 4
)

// ParseStrategy validates a strategy number.
func ParseStrategy(n int) (Strategy, error) {
	if n < 1 || n > 4 {
		return 0, accel.Errorf(accel.UnsupportedCombination, "strategy", "%d not in 1..4", n)
	}
	return Strategy(n), nil
}

// Schedule is the partitioner's output.
type Schedule struct {
	Path     Path
	Strategy Strategy
	// Overflow is set when the program did not fit the scratchpads at once.
	Overflow bool
	B        int
	NX       int
	Caps     accel.Capacities
	Steps    []Step
}

// ResetBlocks returns how many B-row groups of the accumulator the
// prologue must clear: the largest LoadX of any step, or for vector
// residency the largest slot count rounded up to whole blocks.
func (s *Schedule) ResetBlocks() int {
	m := 0
	for i := range s.Steps {
		st := &s.Steps[i]
		n := len(st.LoadX)
		if st.ResidentUnit == UnitVector {
			n = (len(st.SramResident) + s.B - 1) / s.B
		}
		m = max(m, n)
	}
	return max(m, 1)
}

// Stored returns the final DramState.
func (s *Schedule) Stored() []int {
	if len(s.Steps) == 0 {
		return nil
	}
	return s.Steps[len(s.Steps)-1].DramState
}

// StoreUnit returns the store granularity of the schedule.
func (s *Schedule) StoreUnit() Unit {
	if len(s.Steps) == 0 {
		return UnitBlock
	}
	return s.Steps[0].StoreUnit
}
