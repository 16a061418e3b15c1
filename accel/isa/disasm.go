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
	"fmt"
	"io"
	"strings"
)

func (d Deps) String() string {
	var b strings.Builder
	for _, f := range []struct {
		set  bool
		name byte
	}{{d.PopPrev, 'p'}, {d.PopNext, 'n'}, {d.PushPrev, 'P'}, {d.PushNext, 'N'}} {
		if f.set {
			b.WriteByte(f.name)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// String renders the instruction in a one-line assembly-like form.
// Dependency flags print as "pnPN": pop prev, pop next, push prev, push next.
func (in Instruction) String() string {
	switch in.Opcode {
	case OpLoad, OpStore:
		if in.IsNop() {
			return fmt.Sprintf("NOP-%-7s [%s] %s", strings.ToUpper(in.Stage().String()), in.Deps, in.Buffer)
		}
		return fmt.Sprintf("%-11s [%s] %-4s sram=%#x dram=%#x y=%d x=%d stride=%d pad=(%d,%d,%d,%d)",
			in.Opcode, in.Deps, in.Buffer, in.SramBase, in.DramBase, in.YSize, in.XSize, in.XStride,
			in.YPadTop, in.YPadBottom, in.XPadLeft, in.XPadRight)
	case OpGemm:
		return fmt.Sprintf("%-11s [%s] reset=%t uop=[%d,%d) loop=(%d,%d) dst=(%d,%d) src=(%d,%d) wgt=(%d,%d)",
			in.Opcode, in.Deps, in.Reset, in.UopBgn, in.UopEnd, in.LoopOut, in.LoopIn,
			in.DstFactorOut, in.DstFactorIn, in.SrcFactorOut, in.SrcFactorIn, in.WgtFactorOut, in.WgtFactorIn)
	case OpAlu:
		operand := "vec"
		if in.UseImm {
			operand = fmt.Sprintf("imm=%d", in.Imm)
		}
		return fmt.Sprintf("%-11s [%s] %s %s uop=[%d,%d) loop=(%d,%d) dst=(%d,%d) src=(%d,%d)",
			in.Opcode, in.Deps, in.AluOp, operand, in.UopBgn, in.UopEnd, in.LoopOut, in.LoopIn,
			in.DstFactorOut, in.DstFactorIn, in.SrcFactorOut, in.SrcFactorIn)
	case OpFinish:
		return fmt.Sprintf("%-11s [%s]", in.Opcode, in.Deps)
	default:
		return fmt.Sprintf("%v", in.Opcode)
	}
}

func (u Uop) String() string {
	return fmt.Sprintf("(dst=%d, src=%d, wgt=%d)", u.Dst, u.Src, u.Wgt)
}

// Disassemble writes one numbered line per instruction.
func Disassemble(w io.Writer, insns []Instruction) error {
	for i, in := range insns {
		if _, err := fmt.Fprintf(w, "%5d  %s\n", i, in); err != nil {
			return err
		}
	}
	return nil
}

// DumpUops writes one numbered line per micro-op.
func DumpUops(w io.Writer, uops []Uop) error {
	for i, u := range uops {
		if _, err := fmt.Fprintf(w, "%5d  %s\n", i, u); err != nil {
			return err
		}
	}
	return nil
}
