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

	"github.com/samber/lo"

	"github.com/ajroetker/tilec/accel"
	"github.com/ajroetker/tilec/accel/kernel"
	"github.com/ajroetker/tilec/accel/workerpool"
)

// Role is the part a tensor plays in the computation.
type Role int

const (
	RoleInp Role = iota
	RoleWgt
	RoleAcc
	RoleAccBis
	RoleOut
)

func (r Role) String() string {
	switch r {
	case RoleInp:
		return "INP"
	case RoleWgt:
		return "WGT"
	case RoleAcc:
		return "ACC"
	case RoleAccBis:
		return "ACC_BIS"
	case RoleOut:
		return "OUT"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Tensor is a matrix descriptor: the original shape plus the padded matrix
// cut into blocks in row-major block order.
type Tensor struct {
	Role      Role
	Name      string
	Rows      int
	Cols      int
	Dtype     accel.Dtype
	B         int
	BlocksRow int
	BlocksCol int
	Blocks    []kernel.Block
	Padded    kernel.Matrix
}

// newTensor pads m and splits it into blocks of side b. With padRows false
// only the columns are padded.
func newTensor(role Role, name string, m kernel.Matrix, dt accel.Dtype, b int, padRows bool) (*Tensor, error) {
	p := kernel.Pad(m, b, padRows)
	blocks, br, bc, err := kernel.Split(p, b)
	if err != nil {
		return nil, accel.Errorf(accel.ShapeMismatch, name, "%v", err)
	}
	return &Tensor{
		Role: role, Name: name, Rows: m.Rows, Cols: m.Cols, Dtype: dt, B: b,
		BlocksRow: br, BlocksCol: bc, Blocks: blocks, Padded: p,
	}, nil
}

// Len returns the number of blocks.
func (t *Tensor) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Blocks)
}

// Heights returns the row count of every block.
func (t *Tensor) Heights() []int {
	return lo.Map(t.Blocks, func(b kernel.Block, _ int) int { return b.Height })
}

// BlockBytes returns the serialised size of block i.
func (t *Tensor) BlockBytes(i int) int {
	return len(t.Blocks[i].Data) * t.Dtype.Bytes()
}

// BlockSizes returns the serialised size of every block, in block order.
func (t *Tensor) BlockSizes() []int {
	return lo.Times(len(t.Blocks), t.BlockBytes)
}

// Bytes serialises the blocks in order, little-endian. WGT blocks are written
// transposed; every other role is row-major.
func (t *Tensor) Bytes() []byte { return t.Encode(nil) }

// Encode is Bytes with one block per task on pool. Blocks land at fixed
// offsets, so the result does not depend on scheduling.
func (t *Tensor) Encode(pool *workerpool.Pool) []byte {
	if t == nil {
		return nil
	}
	offs := make([]int, len(t.Blocks)+1)
	for i := range t.Blocks {
		offs[i+1] = offs[i] + t.BlockBytes(i)
	}
	out := make([]byte, offs[len(t.Blocks)])
	pool.Each(len(t.Blocks), func(i int) {
		data := t.Blocks[i].Data
		if t.Role == RoleWgt {
			data = kernel.TransposeBlock(data, t.B)
		}
		buf := out[offs[i]:offs[i]:offs[i+1]]
		for _, v := range data {
			buf = t.Dtype.AppendLE(buf, v)
		}
	})
	return out
}

// Unpadded returns the tensor contents at the original shape.
func (t *Tensor) Unpadded() kernel.Matrix {
	return kernel.Unsplit(t.Blocks, t.BlocksCol, t.B, t.Rows, t.Cols)
}
