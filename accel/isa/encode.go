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

package isa

import (
	"encoding/binary"
	"fmt"

	"github.com/ajroetker/tilec/accel"
)

const (
	// InsnBytes is the size of one encoded instruction.
	InsnBytes = 16
	// UopBytes is the size of one encoded micro-op.
	UopBytes = 4
)

// Field widths of the UOP word, low bits first.
const (
	UopDstBits = accel.UopRowBits
	UopSrcBits = accel.UopRowBits
	UopWgtBits = accel.UopBlockBits
)

// bits128 is a little-endian 128-bit word: w[0] holds bits [0,64).
type bits128 [2]uint64

// packer appends fields LSB-first, tracking the bit cursor across the
// 64-bit boundary the same way a bit-packed stream tracks its byte cursor.
type packer struct {
	w   bits128
	pos int
	err error
	ctx string
}

func (p *packer) put(name string, v uint64, width int) {
	if p.err != nil {
		return
	}
	if width < 64 && v>>width != 0 {
		p.err = accel.Errorf(accel.EncodingOverflow, p.ctx, "field %s = %d does not fit in %d bits", name, v, width)
		return
	}
	remaining := width
	for remaining > 0 {
		word := p.pos / 64
		off := p.pos % 64
		n := min(remaining, 64-off)
		mask := uint64(1)<<n - 1
		if n == 64 {
			mask = ^uint64(0)
		}
		p.w[word] |= (v & mask) << off
		v >>= n
		remaining -= n
		p.pos += n
	}
}

func (p *packer) flag(name string, b bool) {
	var v uint64
	if b {
		v = 1
	}
	p.put(name, v, 1)
}

type unpacker struct {
	w   bits128
	pos int
}

func (u *unpacker) get(width int) uint64 {
	var v uint64
	shift := 0
	remaining := width
	for remaining > 0 {
		word := u.pos / 64
		off := u.pos % 64
		n := min(remaining, 64-off)
		mask := uint64(1)<<n - 1
		if n == 64 {
			mask = ^uint64(0)
		}
		v |= ((u.w[word] >> off) & mask) << shift
		shift += n
		remaining -= n
		u.pos += n
	}
	return v
}

func (u *unpacker) flag() bool { return u.get(1) == 1 }

// Encode packs the instruction into its 16-byte little-endian form.
func (in *Instruction) Encode() ([InsnBytes]byte, error) {
	var out [InsnBytes]byte
	p := &packer{ctx: in.Opcode.String()}
	p.put("opcode", uint64(in.Opcode), 3)
	p.flag("pop_prev_dep", in.Deps.PopPrev)
	p.flag("pop_next_dep", in.Deps.PopNext)
	p.flag("push_prev_dep", in.Deps.PushPrev)
	p.flag("push_next_dep", in.Deps.PushNext)

	switch in.Opcode {
	case OpLoad, OpStore, OpFinish:
		p.put("buffer_id", uint64(in.Buffer), 3)
		p.put("sram_base", uint64(in.SramBase), 16)
		p.put("dram_base", uint64(in.DramBase), 32)
		p.put("unused", 0, 6)
		p.put("y_size", uint64(in.YSize), 16)
		p.put("x_size", uint64(in.XSize), 16)
		p.put("x_stride", uint64(in.XStride), 16)
		p.put("y_pad_top", uint64(in.YPadTop), 4)
		p.put("y_pad_bottom", uint64(in.YPadBottom), 4)
		p.put("x_pad_left", uint64(in.XPadLeft), 4)
		p.put("x_pad_right", uint64(in.XPadRight), 4)
	case OpGemm, OpAlu:
		p.flag("reset", in.Reset)
		p.put("uop_bgn", uint64(in.UopBgn), 13)
		p.put("uop_end", uint64(in.UopEnd), 14)
		p.put("loop_out", uint64(in.LoopOut), 14)
		p.put("loop_in", uint64(in.LoopIn), 14)
		p.put("unused", 0, 1)
		p.put("dst_factor_out", uint64(in.DstFactorOut), 11)
		p.put("dst_factor_in", uint64(in.DstFactorIn), 11)
		p.put("src_factor_out", uint64(in.SrcFactorOut), 11)
		p.put("src_factor_in", uint64(in.SrcFactorIn), 11)
		if in.Opcode == OpGemm {
			p.put("wgt_factor_out", uint64(in.WgtFactorOut), 10)
			p.put("wgt_factor_in", uint64(in.WgtFactorIn), 10)
		} else {
			p.put("alu_opcode", uint64(in.AluOp), 3)
			p.flag("use_imm", in.UseImm)
			if in.Imm < -(1<<15) || in.Imm >= 1<<15 {
				return out, accel.Errorf(accel.EncodingOverflow, p.ctx, "imm %d does not fit in 16 bits", in.Imm)
			}
			p.put("imm", uint64(uint16(int16(in.Imm))), 16)
		}
	default:
		return out, accel.Errorf(accel.UnknownOp, "instruction", "opcode %d", in.Opcode)
	}
	if p.err != nil {
		return out, p.err
	}
	binary.LittleEndian.PutUint64(out[0:8], p.w[0])
	binary.LittleEndian.PutUint64(out[8:16], p.w[1])
	return out, nil
}

// Decode is the inverse of Encode.
func Decode(b []byte) (Instruction, error) {
	var in Instruction
	if len(b) < InsnBytes {
		return in, fmt.Errorf("decode instruction: need %d bytes, have %d", InsnBytes, len(b))
	}
	u := &unpacker{w: bits128{binary.LittleEndian.Uint64(b[0:8]), binary.LittleEndian.Uint64(b[8:16])}}
	in.Opcode = Opcode(u.get(3))
	in.Deps.PopPrev = u.flag()
	in.Deps.PopNext = u.flag()
	in.Deps.PushPrev = u.flag()
	in.Deps.PushNext = u.flag()

	switch in.Opcode {
	case OpLoad, OpStore, OpFinish:
		in.Buffer = BufferID(u.get(3))
		in.SramBase = uint32(u.get(16))
		in.DramBase = uint32(u.get(32))
		u.get(6)
		in.YSize = uint32(u.get(16))
		in.XSize = uint32(u.get(16))
		in.XStride = uint32(u.get(16))
		in.YPadTop = uint32(u.get(4))
		in.YPadBottom = uint32(u.get(4))
		in.XPadLeft = uint32(u.get(4))
		in.XPadRight = uint32(u.get(4))
	case OpGemm, OpAlu:
		in.Reset = u.flag()
		in.UopBgn = uint32(u.get(13))
		in.UopEnd = uint32(u.get(14))
		in.LoopOut = uint32(u.get(14))
		in.LoopIn = uint32(u.get(14))
		u.get(1)
		in.DstFactorOut = uint32(u.get(11))
		in.DstFactorIn = uint32(u.get(11))
		in.SrcFactorOut = uint32(u.get(11))
		in.SrcFactorIn = uint32(u.get(11))
		if in.Opcode == OpGemm {
			in.WgtFactorOut = uint32(u.get(10))
			in.WgtFactorIn = uint32(u.get(10))
		} else {
			in.AluOp = AluOpcode(u.get(3))
			in.UseImm = u.flag()
			in.Imm = int32(int16(uint16(u.get(16))))
		}
	default:
		return in, accel.Errorf(accel.UnknownOp, "instruction", "opcode %d", in.Opcode)
	}
	return in, nil
}

// Encode packs the micro-op as [dst:11][src:11][wgt:10], LSB first.
func (u Uop) Encode() (uint32, error) {
	if u.Dst >= 1<<UopDstBits || u.Src >= 1<<UopSrcBits || u.Wgt >= 1<<UopWgtBits {
		return 0, accel.Errorf(accel.EncodingOverflow, "uop", "(%d, %d, %d) exceeds 11/11/10-bit fields", u.Dst, u.Src, u.Wgt)
	}
	return u.Dst | u.Src<<UopDstBits | u.Wgt<<(UopDstBits+UopSrcBits), nil
}

// DecodeUop unpacks a micro-op word.
func DecodeUop(w uint32) Uop {
	return Uop{
		Dst: w & (1<<UopDstBits - 1),
		Src: (w >> UopDstBits) & (1<<UopSrcBits - 1),
		Wgt: w >> (UopDstBits + UopSrcBits),
	}
}

// EncodeProgram serialises an instruction stream.
func EncodeProgram(insns []Instruction) ([]byte, error) {
	out := make([]byte, 0, len(insns)*InsnBytes)
	for i := range insns {
		b, err := insns[i].Encode()
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		out = append(out, b[:]...)
	}
	return out, nil
}

// DecodeProgram parses a serialised instruction stream.
func DecodeProgram(b []byte) ([]Instruction, error) {
	if len(b)%InsnBytes != 0 {
		return nil, fmt.Errorf("decode program: %d bytes is not a multiple of %d", len(b), InsnBytes)
	}
	insns := make([]Instruction, 0, len(b)/InsnBytes)
	for off := 0; off < len(b); off += InsnBytes {
		in, err := Decode(b[off : off+InsnBytes])
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", off/InsnBytes, err)
		}
		insns = append(insns, in)
	}
	return insns, nil
}

// EncodeUops serialises a UOP table as little-endian 32-bit words.
func EncodeUops(uops []Uop) ([]byte, error) {
	out := make([]byte, 0, len(uops)*UopBytes)
	for i, u := range uops {
		w, err := u.Encode()
		if err != nil {
			return nil, fmt.Errorf("uop %d: %w", i, err)
		}
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out, nil
}

// DecodeUops parses a serialised UOP table.
func DecodeUops(b []byte) ([]Uop, error) {
	if len(b)%UopBytes != 0 {
		return nil, fmt.Errorf("decode uops: %d bytes is not a multiple of %d", len(b), UopBytes)
	}
	uops := make([]Uop, 0, len(b)/UopBytes)
	for off := 0; off < len(b); off += UopBytes {
		uops = append(uops, DecodeUop(binary.LittleEndian.Uint32(b[off:])))
	}
	return uops, nil
}
