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

import "fmt"

// Block is one tile of a padded matrix: Height rows of B columns, row-major.
// Height equals B except for the tail row of a non-square input.
type Block struct {
	Height int
	Data   []int64
}

// Vector returns row r of the block (B elements).
func (b Block) Vector(r, size int) []int64 { return b.Data[r*size : (r+1)*size] }

// Pad zero-extends m so both dimensions are multiples of b. With padRows
// false only the columns are padded and the row count is kept.
// Padding an already padded matrix returns an identical copy.
func Pad(m Matrix, b int, padRows bool) Matrix {
	rows := m.Rows
	if padRows {
		rows = RoundUp(m.Rows, b)
	}
	cols := RoundUp(m.Cols, b)
	out := NewMatrix(rows, cols)
	for i := range m.Rows {
		copy(out.Data[i*cols:i*cols+m.Cols], m.Row(i))
	}
	return out
}

// Split cuts a column-padded matrix into blocks in row-major block order:
// block i·blocksCol+j covers rows [i·b, i·b+b) and columns [j·b, j·b+b).
// The last block row is shorter than b when m.Rows is not a multiple of b.
func Split(m Matrix, b int) (blocks []Block, blocksRow, blocksCol int, err error) {
	if m.Cols%b != 0 {
		return nil, 0, 0, fmt.Errorf("split: %d columns not a multiple of block %d", m.Cols, b)
	}
	blocksRow = CeilDiv(m.Rows, b)
	blocksCol = m.Cols / b
	blocks = make([]Block, 0, blocksRow*blocksCol)
	for bi := range blocksRow {
		h := min(b, m.Rows-bi*b)
		for bj := range blocksCol {
			blk := Block{Height: h, Data: make([]int64, h*b)}
			for r := range h {
				copy(blk.Data[r*b:(r+1)*b], m.Data[(bi*b+r)*m.Cols+bj*b:])
			}
			blocks = append(blocks, blk)
		}
	}
	return blocks, blocksRow, blocksCol, nil
}

// Unsplit reassembles blocks into a rows×cols matrix, dropping padding.
func Unsplit(blocks []Block, blocksCol, b, rows, cols int) Matrix {
	out := NewMatrix(rows, cols)
	for idx, blk := range blocks {
		bi, bj := idx/blocksCol, idx%blocksCol
		for r := range blk.Height {
			i := bi*b + r
			if i >= rows {
				break
			}
			for c := range b {
				j := bj*b + c
				if j >= cols {
					break
				}
				out.Data[i*cols+j] = blk.Data[r*b+c]
			}
		}
	}
	return out
}

// TransposeBlock returns the b×b block transposed. Weight blocks are
// serialised in this order because the GEMM core consumes them column-major.
func TransposeBlock(data []int64, b int) []int64 {
	out := make([]int64, b*b)
	for i := range b {
		for j := range b {
			out[j*b+i] = data[i*b+j]
		}
	}
	return out
}

// Diagonal returns a b×b block holding c on the diagonal, standing in for a
// scalar GEMM multiplier.
func Diagonal(b int, c int64) Block {
	blk := Block{Height: b, Data: make([]int64, b*b)}
	for i := range b {
		blk.Data[i*b+i] = c
	}
	return blk
}

// Stack concatenates blocks into a (Σheight)×b matrix: the "vector" view in
// which row v is vector v of the block stream.
func Stack(blocks []Block, b int) Matrix {
	rows := 0
	for _, blk := range blocks {
		rows += blk.Height
	}
	out := NewMatrix(rows, b)
	off := 0
	for _, blk := range blocks {
		copy(out.Data[off:], blk.Data)
		off += len(blk.Data)
	}
	return out
}

// Unstack is the inverse of Stack for blocks of the given heights.
func Unstack(m Matrix, heights []int) []Block {
	blocks := make([]Block, len(heights))
	off := 0
	for i, h := range heights {
		n := h * m.Cols
		blocks[i] = Block{Height: h, Data: append([]int64(nil), m.Data[off:off+n]...)}
		off += n
	}
	return blocks
}
