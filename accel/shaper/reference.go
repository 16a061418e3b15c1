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
	"fmt"

	"github.com/ajroetker/tilec/accel"
	"github.com/ajroetker/tilec/accel/kernel"
	"github.com/ajroetker/tilec/accel/program"
)

// applyAlu runs ops in declaration order over the stacked vector view.
func applyAlu(acc kernel.Matrix, ops []program.Resolved, dt accel.Dtype) (kernel.Matrix, error) {
	out := acc.Clone()
	for i := range ops {
		op := &ops[i]
		for _, s := range op.Sites {
			dst := out.Row(s.Dst)
			var err error
			if op.UseImm {
				err = kernel.AluImm(op.Opcode, dst, op.Imm, dt)
			} else {
				err = kernel.AluVector(op.Opcode, dst, out.Row(s.Src), dt)
			}
			if err != nil {
				return kernel.Matrix{}, fmt.Errorf("%s: %w", op.Object(), err)
			}
		}
	}
	return out, nil
}

// storeMask returns the X vectors that carry results. After a GEMM every
// vector does; otherwise only ALU destinations do. In both cases a vector
// written by the ALU and read again as a source after its last write is
// scratch and is dropped.
func storeMask(kind Kind, nVectors int, ops []program.Resolved) []int {
	const never = -1
	lastWrite := make([]int, nVectors)
	lastRead := make([]int, nVectors)
	for v := range nVectors {
		lastWrite[v], lastRead[v] = never, never
	}
	t := 0
	for i := range ops {
		for _, s := range ops[i].Sites {
			t++
			if s.Src != program.NoSrc && s.Src < nVectors {
				lastRead[s.Src] = t
			}
			lastWrite[s.Dst] = t
		}
	}
	var mask []int
	for v := range nVectors {
		written := lastWrite[v] != never
		if !written && (kind == KindAlu || kind == KindAdd) {
			continue
		}
		if written && lastRead[v] > lastWrite[v] {
			continue
		}
		mask = append(mask, v)
	}
	return mask
}

func hasVectorOp(ops []program.Resolved) bool {
	for i := range ops {
		if ops[i].Vector() {
			return true
		}
	}
	return false
}
