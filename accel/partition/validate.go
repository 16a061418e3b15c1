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
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/ajroetker/tilec/accel"
	"github.com/ajroetker/tilec/accel/program"
)

// Validate checks every step of s: scratchpad capacities, operand residency,
// GEMMs ahead of ALU ops, stores only of resident data, and a DramState
// that grows by exactly each step's stores.
func Validate(s *Schedule) error {
	var stored []int
	for i := range s.Steps {
		st := &s.Steps[i]
		obj := fmt.Sprintf("step[%d]", i)
		fail := func(kind accel.ErrorKind, format string, args ...any) error {
			return accel.Errorf(kind, obj, format, args...)
		}

		accCap := s.Caps.Acc
		if st.ResidentUnit == UnitVector {
			accCap *= s.B
		}
		switch {
		case len(st.LoadA) > s.Caps.Inp || len(st.InpResident) > s.Caps.Inp:
			return fail(accel.CapacityTooSmall, "%d INP blocks, capacity %d", len(st.InpResident), s.Caps.Inp)
		case len(st.LoadB) > s.Caps.Wgt || len(st.WgtResident) > s.Caps.Wgt:
			return fail(accel.CapacityTooSmall, "%d WGT blocks, capacity %d", len(st.WgtResident), s.Caps.Wgt)
		case len(st.SramResident) > accCap:
			return fail(accel.CapacityTooSmall, "%d accumulator %ss, capacity %d", len(st.SramResident), st.ResidentUnit, accCap)
		}

		occupied := lo.Filter(st.SramResident, func(v int, _ int) bool { return v != Free })
		if dup := lo.FindDuplicates(occupied); len(dup) > 0 {
			return fail(accel.UnresolvedBlock, "accumulator holds %v twice", dup)
		}
		inp := lo.SliceToMap(st.InpResident, func(b int) (int, bool) { return b, true })
		wgt := lo.SliceToMap(st.WgtResident, func(b int) (int, bool) { return b, true })
		acc := lo.SliceToMap(occupied, func(b int) (int, bool) { return b, true })
		// vector reports whether vector v is addressable in the accumulator.
		vector := func(v int) bool {
			if st.ResidentUnit == UnitVector {
				return acc[v]
			}
			return acc[v/s.B]
		}

		for _, a := range st.LoadA {
			if !inp[a] {
				return fail(accel.UnresolvedBlock, "loaded INP block %d has no position", a)
			}
		}
		for _, b := range st.LoadB {
			if !wgt[b] {
				return fail(accel.UnresolvedBlock, "loaded WGT block %d has no position", b)
			}
		}
		for _, x := range st.LoadX {
			if !acc[x] {
				return fail(accel.UnresolvedBlock, "loaded accumulator %s %d has no position", st.ResidentUnit, x)
			}
		}
		for _, y := range st.LoadY {
			if !acc[s.NX+y] {
				return fail(accel.UnresolvedBlock, "loaded Y block %d has no position", y)
			}
		}

		seenAlu := false
		for _, op := range st.Ops {
			switch op.Kind {
			case OpGemm:
				if seenAlu {
					return fail(accel.UnsupportedCombination, "%v follows an ALU op", op)
				}
				if !inp[op.A] || !wgt[op.B] || !acc[op.C] {
					return fail(accel.UnresolvedBlock, "%v operand not resident", op)
				}
			case OpAlu:
				seenAlu = true
				for _, site := range op.Sites {
					if !vector(site.Dst) || (site.Src != program.NoSrc && !vector(site.Src)) {
						return fail(accel.UnresolvedBlock, "%s site %+v not resident", op.Alu.Object(), site)
					}
				}
			}
		}

		for _, c := range st.StoreC {
			resident := acc[c]
			if st.StoreUnit == UnitVector {
				resident = vector(c)
			}
			if !resident {
				return fail(accel.UnresolvedBlock, "stores %s %d which is not resident", st.StoreUnit, c)
			}
		}
		stored = append(stored, st.StoreC...)
		if !slices.Equal(stored, st.DramState) {
			return fail(accel.UnresolvedBlock, "DramState %v, stores so far %v", st.DramState, stored)
		}
	}
	return nil
}
