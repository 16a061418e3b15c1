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

// Package isa describes the accelerator's instruction set: 128-bit
// LOAD/STORE/GEMM/ALU/FINISH instructions and 32-bit micro-ops, together
// with their bit-exact little-endian encodings.
package isa

import "fmt"

// Opcode is the 3-bit instruction opcode.
type Opcode uint8

const (
	OpLoad   Opcode = 0
	OpStore  Opcode = 1
	OpGemm   Opcode = 2
	OpFinish Opcode = 3
	OpAlu    Opcode = 4
)

func (o Opcode) String() string {
	switch o {
	case OpLoad:
		return "LOAD"
	case OpStore:
		return "STORE"
	case OpGemm:
		return "GEMM"
	case OpFinish:
		return "FINISH"
	case OpAlu:
		return "ALU"
	default:
		return fmt.Sprintf("Opcode(%d)", uint8(o))
	}
}

// BufferID selects the scratchpad a memory instruction transfers to or from.
type BufferID uint8

const (
	BufUop  BufferID = 0
	BufWgt  BufferID = 1
	BufInp  BufferID = 2
	BufAcc  BufferID = 3
	BufOut  BufferID = 4
	BufAcc8 BufferID = 5
)

func (b BufferID) String() string {
	switch b {
	case BufUop:
		return "UOP"
	case BufWgt:
		return "WGT"
	case BufInp:
		return "INP"
	case BufAcc:
		return "ACC"
	case BufOut:
		return "OUT"
	case BufAcc8:
		return "ACC8"
	default:
		return fmt.Sprintf("BufferID(%d)", uint8(b))
	}
}

// AluOpcode is the 3-bit ALU operation selector.
type AluOpcode uint8

const (
	AluMin AluOpcode = 0
	AluMax AluOpcode = 1
	AluAdd AluOpcode = 2
	AluShr AluOpcode = 3
	AluMul AluOpcode = 4
)

func (a AluOpcode) String() string {
	switch a {
	case AluMin:
		return "MIN"
	case AluMax:
		return "MAX"
	case AluAdd:
		return "ADD"
	case AluShr:
		return "SHR"
	case AluMul:
		return "MUL"
	default:
		return fmt.Sprintf("AluOpcode(%d)", uint8(a))
	}
}

// Deps are the four semaphore bits carried by every instruction.
// "prev" and "next" are relative to the issuing stage: LOAD's next is
// COMPUTE, COMPUTE's prev is LOAD and its next is STORE, STORE's prev is
// COMPUTE.
type Deps struct {
	PopPrev  bool
	PopNext  bool
	PushPrev bool
	PushNext bool
}

// Stage is a pipeline stage of the accelerator.
type Stage int

const (
	StageLoad Stage = iota
	StageCompute
	StageStore
)

func (s Stage) String() string {
	switch s {
	case StageLoad:
		return "load"
	case StageCompute:
		return "compute"
	case StageStore:
		return "store"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Instruction is the decoded form of a 128-bit instruction. It is a union:
// memory fields are meaningful for LOAD/STORE/FINISH, the loop fields for
// GEMM and ALU, and the Alu* fields for ALU only.
type Instruction struct {
	Opcode Opcode
	Deps   Deps

	// Memory instructions.
	Buffer     BufferID
	SramBase   uint32
	DramBase   uint32
	YSize      uint32
	XSize      uint32
	XStride    uint32
	YPadTop    uint32
	YPadBottom uint32
	XPadLeft   uint32
	XPadRight  uint32

	// GEMM and ALU.
	Reset        bool
	UopBgn       uint32
	UopEnd       uint32
	LoopOut      uint32
	LoopIn       uint32
	DstFactorOut uint32
	DstFactorIn  uint32
	SrcFactorOut uint32
	SrcFactorIn  uint32
	WgtFactorOut uint32
	WgtFactorIn  uint32

	// ALU only.
	AluOp  AluOpcode
	UseImm bool
	Imm    int32
}

// Stage returns the pipeline stage that executes the instruction.
// LOAD of INP or WGT runs on the load stage; LOAD of UOP or ACC, GEMM, ALU
// and FINISH run on the compute stage; STORE runs on the store stage.
func (in Instruction) Stage() Stage {
	switch in.Opcode {
	case OpLoad:
		if in.Buffer == BufInp || in.Buffer == BufWgt {
			return StageLoad
		}
		return StageCompute
	case OpStore:
		return StageStore
	default:
		return StageCompute
	}
}

// IsNop reports whether the instruction is a zero-size memory transfer used
// only to carry semaphore flags.
func (in Instruction) IsNop() bool {
	return (in.Opcode == OpLoad || in.Opcode == OpStore) && in.YSize == 0 && in.XSize == 0
}

// Uop is a micro-op naming three scratchpad positions. GEMM and ALU
// instructions replay a contiguous range of UOPs under two nested loops.
type Uop struct {
	Dst uint32
	Src uint32
	Wgt uint32
}

// Load builds a LOAD instruction.
func Load(buf BufferID, sram, dram, ySize, xSize, xStride uint32) Instruction {
	return Instruction{Opcode: OpLoad, Buffer: buf, SramBase: sram, DramBase: dram, YSize: ySize, XSize: xSize, XStride: xStride}
}

// Store builds a STORE instruction from the OUT scratchpad.
func Store(sram, dram, ySize, xSize, xStride uint32) Instruction {
	return Instruction{Opcode: OpStore, Buffer: BufOut, SramBase: sram, DramBase: dram, YSize: ySize, XSize: xSize, XStride: xStride}
}

// NopLoad is a zero-size INP load executed by the load stage.
func NopLoad() Instruction { return Instruction{Opcode: OpLoad, Buffer: BufInp} }

// NopCompute is a zero-size UOP load executed by the compute stage.
func NopCompute() Instruction { return Instruction{Opcode: OpLoad, Buffer: BufUop} }

// NopStore is a zero-size OUT store executed by the store stage.
func NopStore() Instruction { return Instruction{Opcode: OpStore, Buffer: BufOut} }

// Finish builds the terminating FINISH instruction.
func Finish() Instruction { return Instruction{Opcode: OpFinish} }
