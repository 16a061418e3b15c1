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
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ajroetker/tilec/accel"
)

func TestUopLayout(t *testing.T) {
	w, err := Uop{Dst: 1, Src: 2, Wgt: 3}.Encode()
	require.NoError(t, err)
	require.Equal(t, uint32(1|2<<11|3<<22), w)
	require.Equal(t, Uop{Dst: 1, Src: 2, Wgt: 3}, DecodeUop(w))

	_, err = Uop{Dst: 2048}.Encode()
	require.True(t, errors.Is(err, accel.ErrEncodingOverflow), "err = %v", err)
	_, err = Uop{Wgt: 1024}.Encode()
	require.True(t, errors.Is(err, accel.ErrEncodingOverflow), "err = %v", err)
}

func TestMemoryLayout(t *testing.T) {
	in := Load(BufInp, 0x12, 0x345, 1, 16, 16)
	in.Deps = Deps{PopNext: true, PushNext: true}
	b, err := in.Encode()
	require.NoError(t, err)

	lo := binary.LittleEndian.Uint64(b[0:8])
	hi := binary.LittleEndian.Uint64(b[8:16])
	require.Equal(t, uint64(OpLoad), lo&0x7, "opcode")
	require.Equal(t, uint64(0b1010), (lo>>3)&0xf, "deps: pop_next and push_next")
	require.Equal(t, uint64(BufInp), (lo>>7)&0x7, "buffer_id")
	require.Equal(t, uint64(0x12), (lo>>10)&0xffff, "sram_base")
	require.Equal(t, uint64(0x345), (lo>>26)&0xffffffff, "dram_base")
	require.Equal(t, uint64(1), hi&0xffff, "y_size")
	require.Equal(t, uint64(16), (hi>>16)&0xffff, "x_size")
	require.Equal(t, uint64(16), (hi>>32)&0xffff, "x_stride")
	require.Equal(t, uint64(0), hi>>48, "padding")
}

func TestGemmLayout(t *testing.T) {
	in := Instruction{
		Opcode: OpGemm, Reset: true, UopBgn: 1, UopEnd: 2, LoopOut: 3, LoopIn: 16,
		DstFactorOut: 16, DstFactorIn: 1, SrcFactorIn: 1, WgtFactorOut: 5, WgtFactorIn: 7,
	}
	b, err := in.Encode()
	require.NoError(t, err)
	lo := binary.LittleEndian.Uint64(b[0:8])
	hi := binary.LittleEndian.Uint64(b[8:16])
	require.Equal(t, uint64(OpGemm), lo&0x7)
	require.Equal(t, uint64(1), (lo>>7)&1, "reset")
	require.Equal(t, uint64(1), (lo>>8)&(1<<13-1), "uop_bgn")
	require.Equal(t, uint64(2), (lo>>21)&(1<<14-1), "uop_end")
	require.Equal(t, uint64(3), (lo>>35)&(1<<14-1), "loop_out")
	require.Equal(t, uint64(16), (lo>>49)&(1<<14-1), "loop_in")
	require.Equal(t, uint64(0), lo>>63, "unused")
	require.Equal(t, uint64(16), hi&(1<<11-1), "dst_factor_out")
	require.Equal(t, uint64(1), (hi>>11)&(1<<11-1), "dst_factor_in")
	require.Equal(t, uint64(0), (hi>>22)&(1<<11-1), "src_factor_out")
	require.Equal(t, uint64(1), (hi>>33)&(1<<11-1), "src_factor_in")
	require.Equal(t, uint64(5), (hi>>44)&(1<<10-1), "wgt_factor_out")
	require.Equal(t, uint64(7), hi>>54, "wgt_factor_in")
}

func TestAluLayout(t *testing.T) {
	in := Instruction{Opcode: OpAlu, UopEnd: 1, LoopOut: 1, LoopIn: 16, DstFactorIn: 1, AluOp: AluShr, UseImm: true, Imm: -2}
	b, err := in.Encode()
	require.NoError(t, err)
	hi := binary.LittleEndian.Uint64(b[8:16])
	require.Equal(t, uint64(AluShr), (hi>>44)&0x7, "alu_opcode")
	require.Equal(t, uint64(1), (hi>>47)&1, "use_imm")
	require.Equal(t, uint64(0xfffe), hi>>48, "imm")

	in.Imm = 1 << 15
	_, err = in.Encode()
	require.True(t, errors.Is(err, accel.ErrEncodingOverflow), "err = %v", err)
}

func TestFieldOverflow(t *testing.T) {
	in := Load(BufAcc, 1<<16, 0, 1, 16, 16)
	_, err := in.Encode()
	require.True(t, errors.Is(err, accel.ErrEncodingOverflow), "err = %v", err)
	require.Contains(t, err.Error(), "sram_base")
}

func randomInstruction(r *rand.Rand) Instruction {
	deps := Deps{r.Intn(2) == 1, r.Intn(2) == 1, r.Intn(2) == 1, r.Intn(2) == 1}
	switch r.Intn(4) {
	case 0:
		in := Load(BufferID(r.Intn(6)), uint32(r.Intn(1<<16)), r.Uint32(), uint32(r.Intn(1<<16)), uint32(r.Intn(1<<16)), uint32(r.Intn(1<<16)))
		in.YPadTop, in.YPadBottom, in.XPadLeft, in.XPadRight = uint32(r.Intn(16)), uint32(r.Intn(16)), uint32(r.Intn(16)), uint32(r.Intn(16))
		in.Deps = deps
		return in
	case 1:
		in := Store(uint32(r.Intn(1<<16)), r.Uint32(), uint32(r.Intn(1<<16)), uint32(r.Intn(1<<16)), uint32(r.Intn(1<<16)))
		in.Deps = deps
		return in
	case 2:
		return Instruction{
			Opcode: OpGemm, Deps: deps, Reset: r.Intn(2) == 1,
			UopBgn: uint32(r.Intn(1 << 13)), UopEnd: uint32(r.Intn(1 << 14)),
			LoopOut: uint32(r.Intn(1 << 14)), LoopIn: uint32(r.Intn(1 << 14)),
			DstFactorOut: uint32(r.Intn(1 << 11)), DstFactorIn: uint32(r.Intn(1 << 11)),
			SrcFactorOut: uint32(r.Intn(1 << 11)), SrcFactorIn: uint32(r.Intn(1 << 11)),
			WgtFactorOut: uint32(r.Intn(1 << 10)), WgtFactorIn: uint32(r.Intn(1 << 10)),
		}
	default:
		return Instruction{
			Opcode: OpAlu, Deps: deps,
			UopBgn: uint32(r.Intn(1 << 13)), UopEnd: uint32(r.Intn(1 << 14)),
			LoopOut: uint32(r.Intn(1 << 14)), LoopIn: uint32(r.Intn(1 << 14)),
			DstFactorOut: uint32(r.Intn(1 << 11)), DstFactorIn: uint32(r.Intn(1 << 11)),
			SrcFactorOut: uint32(r.Intn(1 << 11)), SrcFactorIn: uint32(r.Intn(1 << 11)),
			AluOp: AluOpcode(r.Intn(5)), UseImm: r.Intn(2) == 1, Imm: int32(r.Intn(1<<16) - 1<<15),
		}
	}
}

func TestProgramRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	insns := make([]Instruction, 500)
	for i := range insns {
		insns[i] = randomInstruction(r)
	}
	insns = append(insns, Finish())

	b, err := EncodeProgram(insns)
	require.NoError(t, err)
	require.Len(t, b, len(insns)*InsnBytes)

	got, err := DecodeProgram(b)
	require.NoError(t, err)
	require.Equal(t, insns, got)
}

func TestUopsRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	uops := make([]Uop, 300)
	for i := range uops {
		uops[i] = Uop{Dst: uint32(r.Intn(1 << 11)), Src: uint32(r.Intn(1 << 11)), Wgt: uint32(r.Intn(1 << 10))}
	}
	b, err := EncodeUops(uops)
	require.NoError(t, err)
	got, err := DecodeUops(b)
	require.NoError(t, err)
	require.Equal(t, uops, got)
}

func TestStage(t *testing.T) {
	tests := []struct {
		in   Instruction
		want Stage
	}{
		{Load(BufInp, 0, 0, 1, 16, 16), StageLoad},
		{Load(BufWgt, 0, 0, 1, 1, 1), StageLoad},
		{Load(BufAcc, 0, 0, 1, 16, 16), StageCompute},
		{Load(BufUop, 0, 0, 1, 1, 1), StageCompute},
		{Instruction{Opcode: OpGemm}, StageCompute},
		{Instruction{Opcode: OpAlu}, StageCompute},
		{Store(0, 0, 1, 16, 16), StageStore},
		{NopLoad(), StageLoad},
		{NopCompute(), StageCompute},
		{NopStore(), StageStore},
		{Finish(), StageCompute},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.in.Stage(), "%s", tt.in)
	}
}

func TestDisassemble(t *testing.T) {
	insns := []Instruction{NopLoad(), Load(BufInp, 0, 4, 2, 16, 16), Finish()}
	insns[1].Deps.PushNext = true
	var buf bytes.Buffer
	require.NoError(t, Disassemble(&buf, insns))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "NOP-LOAD")
	require.Contains(t, lines[1], "[---N]")
	require.Contains(t, lines[1], "y=2 x=16 stride=16")
	require.Contains(t, lines[2], "FINISH")
}
