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

// Package dram places the compiled program's objects in the accelerator's
// DRAM window. Every object starts on a page boundary and is addressed by
// instructions through a logical index: its byte offset from the DRAM
// window origin divided by the native transfer granularity of its type.
//
// Allocation is incremental: data objects are placed before instruction
// emission, and the UOP and instruction regions after it, on the same
// Allocator.
package dram

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/ajroetker/tilec/accel"
)

// PageSize is the alignment of every object.
const PageSize = 4096

// Type selects the logical divisor of an object.
type Type int

const (
	TypeInp Type = iota
	TypeWgt
	TypeAcc
	TypeOut
	TypeUop
	TypeInsn
)

func (t Type) String() string {
	switch t {
	case TypeInp:
		return "INP"
	case TypeWgt:
		return "WGT"
	case TypeAcc:
		return "ACC"
	case TypeOut:
		return "OUT"
	case TypeUop:
		return "UOP"
	case TypeInsn:
		return "INSN"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// BlockAddr is the address of one block inside an object.
type BlockAddr struct {
	Index    int
	Physical uint64
	Logical  uint64
}

// Object is a placed DRAM object.
type Object struct {
	Name     string
	Type     Type
	Physical uint64
	Logical  uint64
	Size     uint64
	Blocks   []BlockAddr
}

// End returns the first byte after the object.
func (o *Object) End() uint64 { return o.Physical + o.Size }

// Block returns the logical address of block i.
func (o *Object) Block(i int) (uint64, error) {
	if i < 0 || i >= len(o.Blocks) {
		return 0, accel.Errorf(accel.UnresolvedBlock, o.Name, "block %d not in object of %d blocks", i, len(o.Blocks))
	}
	return o.Blocks[i].Logical, nil
}

// Allocator hands out page-aligned DRAM regions from a moving cursor.
type Allocator struct {
	offset  uint64
	div     accel.Divisors
	cursor  uint64
	objects []*Object
}

// New returns an allocator whose first object is placed at or after base.
// Logical addresses are relative to dramOffset.
func New(base, dramOffset uint64, div accel.Divisors) *Allocator {
	return &Allocator{offset: dramOffset, div: div, cursor: max(base, dramOffset)}
}

// Divisor returns the logical divisor of t.
func (a *Allocator) Divisor(t Type) uint64 {
	switch t {
	case TypeInp:
		return uint64(a.div.Inp)
	case TypeWgt:
		return uint64(a.div.Wgt)
	case TypeAcc:
		return uint64(a.div.Acc)
	case TypeOut:
		return uint64(a.div.Out)
	case TypeUop:
		return uint64(a.div.Uop)
	default:
		return uint64(a.div.Insn)
	}
}

func alignUp(v, to uint64) uint64 { return (v + to - 1) / to * to }

// logical converts a physical address of type t.
func (a *Allocator) logical(name string, t Type, phys uint64) (uint64, error) {
	div := a.Divisor(t)
	if phys < a.offset || (phys-a.offset)%div != 0 {
		return 0, accel.Errorf(accel.AddressMisaligned, name,
			"address %#x is not a multiple of %d bytes past DRAM offset %#x", phys, div, a.offset)
	}
	return (phys - a.offset) / div, nil
}

// base picks the next page boundary whose offset is a multiple of the
// divisor of t.
func (a *Allocator) base(name string, t Type) (uint64, error) {
	phys := alignUp(a.cursor, PageSize)
	div := a.Divisor(t)
	for range max(1, div/PageSize) {
		if (phys-a.offset)%div == 0 {
			return phys, nil
		}
		phys += PageSize
	}
	return 0, accel.Errorf(accel.AddressMisaligned, name,
		"DRAM offset %#x admits no page-aligned address divisible by %d", a.offset, div)
}

// Place allocates an object made of blocks of the given byte sizes and
// records the address of every block.
func (a *Allocator) Place(name string, t Type, blockSizes []int) (*Object, error) {
	phys, err := a.base(name, t)
	if err != nil {
		return nil, err
	}
	o := &Object{Name: name, Type: t, Physical: phys}
	if o.Logical, err = a.logical(name, t, phys); err != nil {
		return nil, err
	}
	addr := phys
	for i, size := range blockSizes {
		l, err := a.logical(fmt.Sprintf("%s[%d]", name, i), t, addr)
		if err != nil {
			return nil, err
		}
		o.Blocks = append(o.Blocks, BlockAddr{Index: i, Physical: addr, Logical: l})
		addr += uint64(size)
	}
	o.Size = addr - phys
	a.commit(o)
	return o, nil
}

// Reserve allocates size bytes without block structure.
func (a *Allocator) Reserve(name string, t Type, size int) (*Object, error) {
	phys, err := a.base(name, t)
	if err != nil {
		return nil, err
	}
	o := &Object{Name: name, Type: t, Physical: phys, Size: uint64(size)}
	if o.Logical, err = a.logical(name, t, phys); err != nil {
		return nil, err
	}
	a.commit(o)
	return o, nil
}

func (a *Allocator) commit(o *Object) {
	a.cursor = o.End()
	a.objects = append(a.objects, o)
}

// Objects returns the placed objects in allocation order.
func (a *Allocator) Objects() []*Object { return a.objects }

// Lookup returns the object called name.
func (a *Allocator) Lookup(name string) (*Object, bool) {
	for _, o := range a.objects {
		if o.Name == name {
			return o, true
		}
	}
	return nil, false
}

// WriteCSV writes one row per object: name, physical and logical base in hex.
func (a *Allocator) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	for _, o := range a.objects {
		if err := cw.Write([]string{o.Name, fmt.Sprintf("0x%08x", o.Physical), fmt.Sprintf("0x%08x", o.Logical)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
