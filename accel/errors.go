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

import "fmt"

// ErrorKind classifies compilation failures. All kinds are fatal.
type ErrorKind int

const (
	// ShapeMismatch reports incompatible matrix shapes (A.cols != B.rows, X != A·B, Y != X).
	ShapeMismatch ErrorKind = iota + 1

	// UnknownOp reports an ALU op name outside the recognised vocabulary.
	UnknownOp

	// UnsupportedCombination reports a valid op used in a context the scheduler
	// cannot lower (vector-vector ALU with an overflowing GEMM, ADD_ACC mixed with GEMM).
	UnsupportedCombination

	// CapacityTooSmall reports a scratchpad below the minimum a strategy needs.
	CapacityTooSmall

	// SemaphoreUnderflow reports a token pop with no outstanding token.
	SemaphoreUnderflow

	// DtypeUnsupported reports a LOG_*_WIDTH outside {3, 4, 5}.
	DtypeUnsupported

	// UnresolvedBlock reports an op or transfer naming a block that is not resident
	// or has no DRAM address.
	UnresolvedBlock

	// EncodingOverflow reports an instruction or UOP field value that does not fit
	// its bit width.
	EncodingOverflow

	// SemaphoreImbalance reports tokens still outstanding after FINISH.
	SemaphoreImbalance

	// AddressMisaligned reports a DRAM region whose offset is not an exact multiple
	// of its transfer granularity.
	AddressMisaligned
)

// String returns the diagnostic name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case ShapeMismatch:
		return "ShapeMismatch"
	case UnknownOp:
		return "UnknownOp"
	case UnsupportedCombination:
		return "UnsupportedCombination"
	case CapacityTooSmall:
		return "CapacityTooSmall"
	case SemaphoreUnderflow:
		return "SemaphoreUnderflow"
	case DtypeUnsupported:
		return "DtypeUnsupported"
	case UnresolvedBlock:
		return "UnresolvedBlock"
	case EncodingOverflow:
		return "EncodingOverflow"
	case SemaphoreImbalance:
		return "SemaphoreImbalance"
	case AddressMisaligned:
		return "AddressMisaligned"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is the single error type produced by the compiler core.
// Object names the offending entity: a matrix name, "alu[3]", "step[7]", ...
type Error struct {
	Kind   ErrorKind
	Object string
	Msg    string
}

func (e *Error) Error() string {
	if e.Object == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Object, e.Msg)
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrShapeMismatch          = &Error{Kind: ShapeMismatch}
	ErrUnknownOp              = &Error{Kind: UnknownOp}
	ErrUnsupportedCombination = &Error{Kind: UnsupportedCombination}
	ErrCapacityTooSmall       = &Error{Kind: CapacityTooSmall}
	ErrSemaphoreUnderflow     = &Error{Kind: SemaphoreUnderflow}
	ErrDtypeUnsupported       = &Error{Kind: DtypeUnsupported}
	ErrUnresolvedBlock        = &Error{Kind: UnresolvedBlock}
	ErrEncodingOverflow       = &Error{Kind: EncodingOverflow}
	ErrSemaphoreImbalance     = &Error{Kind: SemaphoreImbalance}
	ErrAddressMisaligned      = &Error{Kind: AddressMisaligned}
)

// Errorf builds an *Error of the given kind for object.
func Errorf(kind ErrorKind, object, format string, args ...any) error {
	return &Error{Kind: kind, Object: object, Msg: fmt.Sprintf(format, args...)}
}
