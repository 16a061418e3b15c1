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

// Package kernel holds the bit-exact reference kernels the compiler uses to
// produce expected outputs: padding, block tiling, widened matrix multiply,
// narrowing and the accelerator's ALU operations.
//
// Every value is carried as int64 regardless of the dtype it represents;
// callers narrow explicitly with accel.Dtype.Wrap or Clip.
package kernel

import "fmt"

// Matrix is a dense row-major matrix.
type Matrix struct {
	Rows int
	Cols int
	Data []int64
}

// NewMatrix allocates a zero matrix.
func NewMatrix(rows, cols int) Matrix {
	return Matrix{Rows: rows, Cols: cols, Data: make([]int64, rows*cols)}
}

// FromRows builds a matrix from a slice of equal-length rows.
func FromRows(rows [][]int64) (Matrix, error) {
	if len(rows) == 0 {
		return Matrix{}, nil
	}
	m := NewMatrix(len(rows), len(rows[0]))
	for i, r := range rows {
		if len(r) != m.Cols {
			return Matrix{}, fmt.Errorf("row %d has %d columns, want %d", i, len(r), m.Cols)
		}
		copy(m.Data[i*m.Cols:], r)
	}
	return m, nil
}

// At returns element (i, j).
func (m Matrix) At(i, j int) int64 { return m.Data[i*m.Cols+j] }

// Set stores element (i, j).
func (m Matrix) Set(i, j int, v int64) { m.Data[i*m.Cols+j] = v }

// Row returns row i as a sub-slice of Data.
func (m Matrix) Row(i int) []int64 { return m.Data[i*m.Cols : (i+1)*m.Cols] }

// Clone returns a deep copy.
func (m Matrix) Clone() Matrix {
	c := m
	c.Data = append([]int64(nil), m.Data...)
	return c
}

// Equal reports whether both matrices have the same shape and contents.
func (m Matrix) Equal(o Matrix) bool {
	if m.Rows != o.Rows || m.Cols != o.Cols {
		return false
	}
	for i := range m.Data {
		if m.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}

// Map returns a new matrix with fn applied to every element.
func (m Matrix) Map(fn func(int64) int64) Matrix {
	out := NewMatrix(m.Rows, m.Cols)
	for i, v := range m.Data {
		out.Data[i] = fn(v)
	}
	return out
}

// CeilDiv returns ⌈a/b⌉ for positive b.
func CeilDiv(a, b int) int { return (a + b - 1) / b }

// RoundUp returns a rounded up to a multiple of b.
func RoundUp(a, b int) int { return CeilDiv(a, b) * b }
