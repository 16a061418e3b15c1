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

package emit

import (
	"github.com/ajroetker/tilec/accel/dram"
	"github.com/ajroetker/tilec/accel/partition"
	"github.com/ajroetker/tilec/accel/shaper"
)

// DRAM object names, also the rows of memory_addresses.csv.
const (
	ObjInp    = "INP"
	ObjWgt    = "WGT"
	ObjAcc    = "ACC"
	ObjAccBis = "ACC_BIS"
	ObjOut    = "OUT"
	ObjUop    = "UOP"
	ObjInsn   = "INSN"
)

// Layout holds the DRAM objects the emitted instructions address. Inp, Wgt
// and AccBis are nil when the program has no such operand.
type Layout struct {
	Inp    *dram.Object
	Wgt    *dram.Object
	Acc    *dram.Object
	AccBis *dram.Object
	Out    *dram.Object
}

// Allocate performs the first allocation pass: the data objects of d, in
// the order INP, WGT, ACC, ACC_BIS, OUT. When s stores vectors, OUT is
// sized for the stored vectors rather than for whole blocks.
func Allocate(a *dram.Allocator, d *shaper.Data, s *partition.Schedule) (Layout, error) {
	var (
		l   Layout
		err error
	)
	if d.A != nil {
		if l.Inp, err = a.Place(ObjInp, dram.TypeInp, d.A.BlockSizes()); err != nil {
			return l, err
		}
	}
	if d.W != nil {
		if l.Wgt, err = a.Place(ObjWgt, dram.TypeWgt, d.W.BlockSizes()); err != nil {
			return l, err
		}
	}
	if l.Acc, err = a.Place(ObjAcc, dram.TypeAcc, d.X.BlockSizes()); err != nil {
		return l, err
	}
	if d.Y != nil {
		if l.AccBis, err = a.Place(ObjAccBis, dram.TypeAcc, d.Y.BlockSizes()); err != nil {
			return l, err
		}
	}
	if s.StoreUnit() == partition.UnitVector {
		l.Out, err = a.Reserve(ObjOut, dram.TypeOut, len(s.Stored())*d.B*d.C.Dtype.Bytes())
	} else {
		l.Out, err = a.Place(ObjOut, dram.TypeOut, d.C.BlockSizes())
	}
	return l, err
}
