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
	"fmt"

	"github.com/ajroetker/tilec/accel"
	"github.com/ajroetker/tilec/accel/isa"
)

// Semaphores counts the outstanding tokens of the four directional
// semaphores between the pipeline stages.
type Semaphores struct {
	LdCmp int // LOAD -> COMPUTE
	CmpLd int // COMPUTE -> LOAD
	CmpSt int // COMPUTE -> STORE
	StCmp int // STORE -> COMPUTE
}

func (s Semaphores) String() string {
	return fmt.Sprintf("ld→cmp=%d cmp→ld=%d cmp→st=%d st→cmp=%d", s.LdCmp, s.CmpLd, s.CmpSt, s.StCmp)
}

// Zero reports whether no token is outstanding.
func (s Semaphores) Zero() bool { return s == Semaphores{} }

// Apply replays the flags of instruction i, pops before pushes. A pop with
// no outstanding token is a SemaphoreUnderflow; a push onto an outstanding
// token, or a flag naming a stage that does not exist, is a
// SemaphoreImbalance.
func (s *Semaphores) Apply(i int, in isa.Instruction) error {
	obj := fmt.Sprintf("insn[%d]", i)
	pop := func(c *int, name string) error {
		if *c == 0 {
			return accel.Errorf(accel.SemaphoreUnderflow, obj, "%v pops %s with no token outstanding", in.Opcode, name)
		}
		*c--
		return nil
	}
	push := func(c *int, name string) error {
		if *c != 0 {
			return accel.Errorf(accel.SemaphoreImbalance, obj, "%v pushes %s while a token is outstanding", in.Opcode, name)
		}
		*c++
		return nil
	}

	d := in.Deps
	var err error
	switch in.Stage() {
	case isa.StageLoad:
		if d.PopPrev || d.PushPrev {
			return accel.Errorf(accel.SemaphoreImbalance, obj, "load stage has no previous stage")
		}
		if d.PopNext {
			err = pop(&s.CmpLd, "cmp→ld")
		}
		if err == nil && d.PushNext {
			err = push(&s.LdCmp, "ld→cmp")
		}
	case isa.StageCompute:
		if d.PopPrev {
			err = pop(&s.LdCmp, "ld→cmp")
		}
		if err == nil && d.PopNext {
			err = pop(&s.StCmp, "st→cmp")
		}
		if err == nil && d.PushPrev {
			err = push(&s.CmpLd, "cmp→ld")
		}
		if err == nil && d.PushNext {
			err = push(&s.CmpSt, "cmp→st")
		}
	case isa.StageStore:
		if d.PopNext || d.PushNext {
			return accel.Errorf(accel.SemaphoreImbalance, obj, "store stage has no next stage")
		}
		if d.PopPrev {
			err = pop(&s.CmpSt, "cmp→st")
		}
		if err == nil && d.PushPrev {
			err = push(&s.StCmp, "st→cmp")
		}
	}
	return err
}

// Audit replays the semaphore flags of a finished instruction stream and
// checks that every token pushed is popped.
func Audit(insns []isa.Instruction) error {
	var s Semaphores
	for i, in := range insns {
		if err := s.Apply(i, in); err != nil {
			return err
		}
	}
	if !s.Zero() {
		return accel.Errorf(accel.SemaphoreImbalance, "program", "tokens outstanding after FINISH: %v", s)
	}
	return nil
}
