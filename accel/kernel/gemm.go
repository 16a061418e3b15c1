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

package kernel

import (
	"fmt"

	"github.com/ajroetker/tilec/accel"
	"github.com/ajroetker/tilec/accel/isa"
	"github.com/ajroetker/tilec/accel/workerpool"
)

// MatMulAcc computes x + a·b in the accumulator type acc, wrapping on
// overflow. Rows of x beyond a.Rows (a non-square input) receive x unchanged.
// Output rows are distributed over pool; a nil pool runs inline.
func MatMulAcc(a, b, x Matrix, acc accel.Dtype, pool *workerpool.Pool) (Matrix, error) {
	if a.Cols != b.Rows {
		return Matrix{}, fmt.Errorf("matmul: a is %dx%d, b is %dx%d", a.Rows, a.Cols, b.Rows, b.Cols)
	}
	if x.Cols != b.Cols || x.Rows < a.Rows {
		return Matrix{}, fmt.Errorf("matmul: accumulator is %dx%d, want at least %dx%d", x.Rows, x.Cols, a.Rows, b.Cols)
	}
	out := x.Clone()
	k, n := a.Cols, b.Cols
	pool.Rows(a.Rows, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			dst := out.Data[i*n : (i+1)*n]
			for p := range k {
				av := a.Data[i*k+p]
				if av == 0 {
					continue
				}
				brow := b.Data[p*n : (p+1)*n]
				for j, bv := range brow {
					dst[j] += av * bv
				}
			}
		}
	})
	for i, v := range out.Data {
		out.Data[i] = acc.Wrap(v)
	}
	return out, nil
}

// Narrow converts a wide matrix to dt, by bit masking or by saturation.
func Narrow(m Matrix, dt accel.Dtype, clip bool) Matrix {
	return m.Map(func(v int64) int64 { return dt.Narrow(v, clip) })
}

// Alu evaluates one accelerator ALU operation on accumulator values a (the
// destination) and b (the source vector element or the immediate).
// Arithmetic results wrap to acc. SHR with a negative amount shifts left.
func Alu(op isa.AluOpcode, a, b int64, acc accel.Dtype) (int64, error) {
	switch op {
	case isa.AluMin:
		return min(a, b), nil
	case isa.AluMax:
		return max(a, b), nil
	case isa.AluAdd:
		return acc.Wrap(a + b), nil
	case isa.AluMul:
		return acc.Wrap(a * b), nil
	case isa.AluShr:
		if b >= 0 {
			return a >> min(b, 63), nil
		}
		if -b >= 64 {
			return 0, nil
		}
		return acc.Wrap(a << -b), nil
	default:
		return 0, accel.Errorf(accel.UnknownOp, op.String(), "no reference semantics")
	}
}

// AluVector applies op element-wise: dst[i] = op(dst[i], src[i]).
func AluVector(op isa.AluOpcode, dst, src []int64, acc accel.Dtype) error {
	for i := range dst {
		v, err := Alu(op, dst[i], src[i], acc)
		if err != nil {
			return err
		}
		dst[i] = v
	}
	return nil
}

// AluImm applies op with a scalar immediate: dst[i] = op(dst[i], imm).
func AluImm(op isa.AluOpcode, dst []int64, imm int64, acc accel.Dtype) error {
	for i := range dst {
		v, err := Alu(op, dst[i], imm, acc)
		if err != nil {
			return err
		}
		dst[i] = v
	}
	return nil
}
