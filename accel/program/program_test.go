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

package program

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ajroetker/tilec/accel"
	"github.com/ajroetker/tilec/accel/isa"
)

func TestDecodeGemmProgram(t *testing.T) {
	src := `{
		"NAME": "mm",
		"MATRICES": {"accumulator": [32, 32], "INPUT": [32, 32], "WEIGHT": [32, 32]},
		"GEMM": ["input", "weight", "ACCUMULATOR"],
		"ALU": [["relu", [0, 0]], ["shr_imm", [[0, 1, 32], 2]]],
		"BASE_ADDRESS": "0x1000",
		"DRAM_OFFSET": "0x800"
	}`
	p, err := Decode(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Name != "mm" || p.BaseAddress != 0x1000 || p.DramOffset != 0x800 {
		t.Errorf("header = %q %#x %#x", p.Name, p.BaseAddress, p.DramOffset)
	}
	var names []string
	for _, m := range p.Matrices {
		names = append(names, m.Name)
	}
	if diff := cmp.Diff([]string{"INPUT", "WEIGHT", "ACCUMULATOR"}, names); diff != "" {
		t.Errorf("matrix order (-want +got):\n%s", diff)
	}
	roles, err := p.Roles()
	if err != nil {
		t.Fatal(err)
	}
	want := Roles{Input: "INPUT", Weight: "WEIGHT", Accumulator: "ACCUMULATOR"}
	if roles != want {
		t.Errorf("Roles = %+v, want %+v", roles, want)
	}
	if len(p.ALU) != 2 {
		t.Fatalf("len(ALU) = %d, want 2", len(p.ALU))
	}
	if r, ok := p.ALU[0].(*Relu); !ok || r.Dst != nil {
		t.Errorf("ALU[0] = %#v, want RELU over all rows", p.ALU[0])
	}
	shr, ok := p.ALU[1].(*ScalarImm)
	if !ok || shr.Opcode != isa.AluShr || shr.Imm != 2 || len(shr.Dst) != 32 || shr.Dst[31] != 31 {
		t.Errorf("ALU[1] = %#v, want SHR_IMM 2 over 32 rows", p.ALU[1])
	}
}

func TestDecodeReluRows(t *testing.T) {
	tests := []struct {
		name string
		alu  string
		want []int
	}{
		{"placeholder", `["RELU", [0, 0]]`, nil},
		{"no params", `["RELU"]`, nil},
		{"row zero", `["RELU", [0]]`, []int{0}},
		{"single row", `["RELU", [5, 0]]`, []int{5}},
		{"range", `["RELU", [[0, 2, 3], 0]]`, []int{0, 2, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := `{"MATRICES": {"ACCUMULATOR": [16, 16]}, "ALU": [` + tt.alu + `]}`
			p, err := Decode(strings.NewReader(src))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			r, ok := p.ALU[0].(*Relu)
			if !ok {
				t.Fatalf("ALU[0] = %#v, want RELU", p.ALU[0])
			}
			if diff := cmp.Diff(tt.want, r.Dst); diff != "" {
				t.Errorf("Dst (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeConstantGemm(t *testing.T) {
	src := `{"MATRICES": {"INPUT": [16, 16]}, "GEMM": ["INPUT", 3]}`
	p, err := Decode(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !p.Gemm.Constant || p.Gemm.Scalar != 3 {
		t.Errorf("Gemm = %+v, want constant 3", p.Gemm)
	}
	roles, err := p.Roles()
	if err != nil {
		t.Fatal(err)
	}
	if roles.Weight != "" || roles.Accumulator != "" {
		t.Errorf("Roles = %+v, want no weight and no accumulator", roles)
	}
}

func TestDecodeVectorOps(t *testing.T) {
	src := `{
		"MATRICES": {"ACCUMULATOR": [16, 16]},
		"ALU": [
			["ADD", [[0, 2, 4], [1, 2, 4]]],
			["MAX", [0, 0], [[3, 4], [5, 6]]],
			["MIN", [[0, 1, 3], 7]]
		]
	}`
	p, err := Decode(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []AluOp{
		&VectorVector{Opcode: isa.AluAdd, Sites: []Site{{0, 1}, {2, 3}, {4, 5}, {6, 7}}},
		&VectorVector{Opcode: isa.AluMax, Sites: []Site{{3, 4}, {5, 6}}},
		&VectorVector{Opcode: isa.AluMin, Sites: []Site{{0, 7}, {1, 7}, {2, 7}}},
	}
	if diff := cmp.Diff(want, p.ALU); diff != "" {
		t.Errorf("ALU (-want +got):\n%s", diff)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind accel.ErrorKind
	}{
		{"unknown op", `{"MATRICES": {"ACCUMULATOR": [16, 16]}, "ALU": [["DIV_IMM", [0, 1]]]}`, accel.UnknownOp},
		{"imm too wide", `{"MATRICES": {"ACCUMULATOR": [16, 16]}, "ALU": [["ADD_IMM", [0, 70000]]]}`, accel.EncodingOverflow},
		{"add acc with gemm", `{"MATRICES": {"INPUT": [16, 16], "WEIGHT": [16, 16], "ADD_ACCUMULATOR": [16, 16]},
			"GEMM": ["INPUT", "WEIGHT"], "ALU": [["ADD_ACC"]]}`, accel.UnsupportedCombination},
		{"add acc not alone", `{"MATRICES": {"ACCUMULATOR": [16, 16], "ADD_ACCUMULATOR": [16, 16]},
			"ALU": [["ADD_ACC"], ["RELU"]]}`, accel.UnsupportedCombination},
		{"missing weight", `{"MATRICES": {"INPUT": [16, 16]}, "GEMM": ["INPUT", "W"]}`, accel.ShapeMismatch},
		{"bad shape", `{"MATRICES": {"ACCUMULATOR": [16]}, "ALU": [["RELU"]]}`, accel.ShapeMismatch},
		{"site count", `{"MATRICES": {"ACCUMULATOR": [16, 16]}, "ALU": [["ADD", [[0, 1, 4], [1, 1, 3]]]]}`, accel.ShapeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.src))
			if err == nil {
				t.Fatal("Decode succeeded")
			}
			var e *accel.Error
			if !errors.As(err, &e) || e.Kind != tt.kind {
				t.Errorf("Decode error = %v, want kind %v", err, tt.kind)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	ops := []AluOp{
		&Relu{},
		&ScalarImm{Opcode: isa.AluShr, Imm: 2, Dst: []int{1, 3}},
		&VectorVector{Opcode: isa.AluAdd, Sites: []Site{{Dst: 0, Src: 2}}},
	}
	res, err := Resolve(ops, 4)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := len(res[0].Sites); got != 4 {
		t.Errorf("RELU sites = %d, want 4", got)
	}
	if !res[0].UseImm || res[0].Opcode != isa.AluMax || res[0].Imm != 0 {
		t.Errorf("RELU resolved to %+v", res[0])
	}
	if diff := cmp.Diff([]Site{{1, NoSrc}, {3, NoSrc}}, res[1].Sites); diff != "" {
		t.Errorf("SHR_IMM sites (-want +got):\n%s", diff)
	}
	if !res[2].Vector() || res[2].Object() != "alu[2] ADD" {
		t.Errorf("ADD resolved to %+v (%s)", res[2], res[2].Object())
	}

	add, err := Resolve([]AluOp{&AddAcc{}}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Site{{0, 3}, {1, 4}, {2, 5}}, add[0].Sites); diff != "" {
		t.Errorf("ADD_ACC sites (-want +got):\n%s", diff)
	}

	if _, err := Resolve([]AluOp{&ScalarImm{Opcode: isa.AluMax, Dst: []int{4}}}, 4); !errors.Is(err, accel.ErrShapeMismatch) {
		t.Errorf("out of range site error = %v, want ShapeMismatch", err)
	}
}

func TestCanonicalName(t *testing.T) {
	for in, want := range map[string]string{" relu ": "RELU", "Max_Imm": "MAX_IMM", "add_acc": "ADD_ACC"} {
		if got := CanonicalName(in); got != want {
			t.Errorf("CanonicalName(%q) = %q, want %q", in, got, want)
		}
	}
}
