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

package accel

import (
	"encoding/binary"
	"fmt"
)

// Dtype is a signed scalar type of 2^LogWidth bits. Only int8, int16 and int32
// (LogWidth 3, 4, 5) exist on the accelerator.
//
// Values of every dtype are carried as int64 inside the compiler; Wrap and Clip
// bring an int64 back into the dtype's range.
type Dtype struct {
	LogWidth int
}

var (
	Int8  = Dtype{LogWidth: 3}
	Int16 = Dtype{LogWidth: 4}
	Int32 = Dtype{LogWidth: 5}
)

// NewDtype validates logWidth and returns the matching dtype.
func NewDtype(name string, logWidth int) (Dtype, error) {
	if logWidth < 3 || logWidth > 5 {
		return Dtype{}, Errorf(DtypeUnsupported, name, "log width %d not in {3,4,5}", logWidth)
	}
	return Dtype{LogWidth: logWidth}, nil
}

// Bits returns the width in bits.
func (d Dtype) Bits() int { return 1 << d.LogWidth }

// Bytes returns the width in bytes.
func (d Dtype) Bytes() int { return d.Bits() / 8 }

// Min returns the smallest representable value.
func (d Dtype) Min() int64 { return -(int64(1) << (d.Bits() - 1)) }

// Max returns the largest representable value.
func (d Dtype) Max() int64 { return int64(1)<<(d.Bits()-1) - 1 }

func (d Dtype) String() string { return fmt.Sprintf("int%d", d.Bits()) }

// Wrap keeps the low Bits() bits of v and reinterprets them as signed.
// This is two's-complement narrowing, not saturation.
func (d Dtype) Wrap(v int64) int64 {
	shift := 64 - d.Bits()
	return (v << shift) >> shift
}

// Clip saturates v to [Min, Max].
func (d Dtype) Clip(v int64) int64 {
	if lo := d.Min(); v < lo {
		return lo
	}
	if hi := d.Max(); v > hi {
		return hi
	}
	return v
}

// Narrow applies Clip when clip is set and Wrap otherwise.
func (d Dtype) Narrow(v int64, clip bool) int64 {
	if clip {
		return d.Clip(v)
	}
	return d.Wrap(v)
}

// Contains reports whether v is representable without narrowing.
func (d Dtype) Contains(v int64) bool {
	return v >= d.Min() && v <= d.Max()
}

// AppendLE appends v as a little-endian value of Bytes() bytes.
func (d Dtype) AppendLE(dst []byte, v int64) []byte {
	switch d.LogWidth {
	case 3:
		return append(dst, byte(int8(v)))
	case 4:
		return binary.LittleEndian.AppendUint16(dst, uint16(int16(v)))
	default:
		return binary.LittleEndian.AppendUint32(dst, uint32(int32(v)))
	}
}
