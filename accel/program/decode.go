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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/ajroetker/tilec/accel"
	"github.com/ajroetker/tilec/accel/kernel"
)

// document is the JSON form of a program:
//
//	{
//	  "NAME": "relu",
//	  "MATRICES": {"INPUT": [16, 16], "WEIGHT": [16, 16], "ACCUMULATOR": [16, 16]},
//	  "GEMM": ["INPUT", "WEIGHT", "ACCUMULATOR"],
//	  "ALU": [["RELU"], ["SHR_IMM", [[0, 1, 16], 2]], ["ADD", [0, 1]]],
//	  "BASE_ADDRESS": "0x0",
//	  "DRAM_OFFSET": "0x0"
//	}
type document struct {
	Name           string               `json:"NAME"`
	Matrices       map[string][]int     `json:"MATRICES"`
	Data           map[string][][]int64 `json:"DATA"`
	Gemm           []json.RawMessage    `json:"GEMM"`
	ALU            [][]json.RawMessage  `json:"ALU"`
	BaseAddress    json.RawMessage      `json:"BASE_ADDRESS"`
	DramOffset     json.RawMessage      `json:"DRAM_OFFSET"`
	Clip           bool                 `json:"CLIP"`
	NonSquareInput bool                 `json:"NON_SQUARE_INPUT"`
	Seed           int64                `json:"SEED"`
	ValueRange     []int64              `json:"VALUE_RANGE"`
}

// Load reads and decodes a program file.
func Load(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	p, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Decode parses the JSON form of a program and validates it.
func Decode(r io.Reader) (*Program, error) {
	var doc document
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding program: %w", err)
	}
	p := New(doc.Name)
	p.Clip = doc.Clip
	p.NonSquareInput = doc.NonSquareInput
	p.Seed = doc.Seed
	if doc.ValueRange != nil {
		if len(doc.ValueRange) != 2 {
			return nil, fmt.Errorf("VALUE_RANGE: want [min, max], got %v", doc.ValueRange)
		}
		p.ValueMin, p.ValueMax = doc.ValueRange[0], doc.ValueRange[1]
	}

	var err error
	if p.BaseAddress, err = parseAddress("BASE_ADDRESS", doc.BaseAddress); err != nil {
		return nil, err
	}
	if p.DramOffset, err = parseAddress("DRAM_OFFSET", doc.DramOffset); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(doc.Matrices))
	for name := range doc.Matrices {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		return compareNames(CanonicalName(a), CanonicalName(b))
	})
	for _, name := range names {
		shape := doc.Matrices[name]
		if len(shape) != 2 {
			return nil, accel.Errorf(accel.ShapeMismatch, name, "shape must be [rows, cols], got %v", shape)
		}
		p.AddMatrix(name, shape[0], shape[1])
	}
	for name, rows := range doc.Data {
		i := slices.IndexFunc(p.Matrices, func(m Matrix) bool { return m.Name == CanonicalName(name) })
		if i < 0 {
			return nil, accel.Errorf(accel.ShapeMismatch, name, "DATA for undeclared matrix")
		}
		m, err := kernel.FromRows(rows)
		if err != nil {
			return nil, accel.Errorf(accel.ShapeMismatch, name, "%v", err)
		}
		p.Matrices[i].Data = &m
	}

	if doc.Gemm != nil {
		if p.Gemm, err = decodeGemm(doc.Gemm); err != nil {
			return nil, err
		}
	}
	for i, entry := range doc.ALU {
		op, err := decodeAlu(entry)
		if err != nil {
			return nil, fmt.Errorf("alu[%d]: %w", i, err)
		}
		p.ALU = append(p.ALU, op)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

var roleOrder = []string{NameInput, NameWeight, NameAccumulator, NameAddAccumulator, NameOutput}

// compareNames orders well-known roles first, then user names alphabetically.
func compareNames(a, b string) int {
	ia, ib := slices.Index(roleOrder, a), slices.Index(roleOrder, b)
	switch {
	case ia >= 0 && ib >= 0:
		return ia - ib
	case ia >= 0:
		return -1
	case ib >= 0:
		return 1
	}
	return strings.Compare(a, b)
}

// parseAddress accepts a hex (or decimal) string or a JSON number.
func parseAddress(field string, raw json.RawMessage) (uint64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n uint64
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, fmt.Errorf("%s: want hex string or number, got %s", field, raw)
		}
		return n, nil
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

func decodeGemm(fields []json.RawMessage) (*Gemm, error) {
	if len(fields) < 2 || len(fields) > 3 {
		return nil, fmt.Errorf("GEMM: want [input, weight|scalar, accumulator?], got %d fields", len(fields))
	}
	g := &Gemm{}
	if err := json.Unmarshal(fields[0], &g.Input); err != nil {
		return nil, fmt.Errorf("GEMM input: %w", err)
	}
	if err := json.Unmarshal(fields[1], &g.Weight); err != nil {
		if err := json.Unmarshal(fields[1], &g.Scalar); err != nil {
			return nil, fmt.Errorf("GEMM weight: want matrix name or integer, got %s", fields[1])
		}
		g.Constant = true
	}
	if len(fields) == 3 {
		if err := json.Unmarshal(fields[2], &g.Accumulator); err != nil {
			return nil, fmt.Errorf("GEMM accumulator: %w", err)
		}
	}
	return g, nil
}

// decodeIndices accepts a single index or a [first, step, count] triple.
func decodeIndices(raw json.RawMessage) ([]int, error) {
	var v int
	if err := json.Unmarshal(raw, &v); err == nil {
		return []int{v}, nil
	}
	var triple []int
	if err := json.Unmarshal(raw, &triple); err != nil || len(triple) != 3 {
		return nil, fmt.Errorf("want index or [first, step, count], got %s", raw)
	}
	if triple[2] < 0 {
		return nil, fmt.Errorf("negative count in %v", triple)
	}
	return Range(triple[0], triple[1], triple[2]), nil
}

// allRows reports whether RELU params are the [0, 0] placeholder for every
// accumulator row.
func allRows(params []json.RawMessage) bool {
	if len(params) != 2 {
		return false
	}
	for _, p := range params {
		var v int
		if err := json.Unmarshal(p, &v); err != nil || v != 0 {
			return false
		}
	}
	return true
}

func decodeAlu(entry []json.RawMessage) (AluOp, error) {
	if len(entry) == 0 {
		return nil, accel.Errorf(accel.UnknownOp, "", "empty ALU entry")
	}
	var raw string
	if err := json.Unmarshal(entry[0], &raw); err != nil {
		return nil, fmt.Errorf("op name: %w", err)
	}
	name := CanonicalName(raw)
	opcode, imm, ok := LookupOp(name)
	if !ok {
		return nil, accel.Errorf(accel.UnknownOp, raw, "not one of MIN, MAX, ADD, MUL, SHR (optionally _IMM), RELU, ADD_ACC")
	}
	var params []json.RawMessage
	if len(entry) > 1 && !bytes.Equal(entry[1], []byte("null")) {
		if err := json.Unmarshal(entry[1], &params); err != nil {
			return nil, fmt.Errorf("%s params: %w", name, err)
		}
	}
	var sites json.RawMessage
	if len(entry) > 2 {
		sites = entry[2]
	}

	switch {
	case name == "ADD_ACC":
		return &AddAcc{}, nil
	case name == "RELU":
		op := &Relu{}
		if sites != nil {
			if err := json.Unmarshal(sites, &op.Dst); err != nil {
				return nil, fmt.Errorf("RELU sites: %w", err)
			}
		} else if len(params) > 0 && !allRows(params) {
			dst, err := decodeIndices(params[0])
			if err != nil {
				return nil, fmt.Errorf("RELU: %w", err)
			}
			op.Dst = dst
		}
		return op, nil
	case imm:
		if len(params) != 2 {
			return nil, fmt.Errorf("%s: params must be [dst, imm]", name)
		}
		op := &ScalarImm{Opcode: opcode}
		if err := json.Unmarshal(params[1], &op.Imm); err != nil {
			return nil, fmt.Errorf("%s immediate: %w", name, err)
		}
		if sites != nil {
			if err := json.Unmarshal(sites, &op.Dst); err != nil {
				return nil, fmt.Errorf("%s sites: %w", name, err)
			}
			return op, nil
		}
		dst, err := decodeIndices(params[0])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		op.Dst = dst
		return op, nil
	default:
		op := &VectorVector{Opcode: opcode}
		if sites != nil {
			var pairs [][2]int
			if err := json.Unmarshal(sites, &pairs); err != nil {
				return nil, fmt.Errorf("%s sites: %w", name, err)
			}
			for _, pr := range pairs {
				op.Sites = append(op.Sites, Site{Dst: pr[0], Src: pr[1]})
			}
			return op, nil
		}
		if len(params) != 2 {
			return nil, fmt.Errorf("%s: params must be [dst, src]", name)
		}
		dst, err := decodeIndices(params[0])
		if err != nil {
			return nil, fmt.Errorf("%s dst: %w", name, err)
		}
		src, err := decodeIndices(params[1])
		if err != nil {
			return nil, fmt.Errorf("%s src: %w", name, err)
		}
		if len(src) == 1 && len(dst) > 1 {
			src = slices.Repeat(src, len(dst))
		}
		if len(src) != len(dst) {
			return nil, accel.Errorf(accel.ShapeMismatch, name, "%d destinations but %d sources", len(dst), len(src))
		}
		for i := range dst {
			op.Sites = append(op.Sites, Site{Dst: dst[i], Src: src[i]})
		}
		return op, nil
	}
}
