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

package compiler

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/ajroetker/tilec/accel/partition"
	"github.com/ajroetker/tilec/accel/workerpool"
	"github.com/ajroetker/tilec/internal/hostinfo"
)

// Artefact stems. Binary artefacts are named <stem>_<NAME>.bin, or
// <stem>.bin for an unnamed program.
const (
	StemInput          = "input"
	StemWeight         = "weight"
	StemAccumulator    = "accumulator"
	StemAddAccumulator = "add_accumulator"
	StemExpectedOut    = "expected_out"
	StemOutInit        = "out_init"
	StemExpectedSram   = "expected_out_sram"
	StemInstructions   = "instructions"
	StemUop            = "uop"

	// AddressFile lists the DRAM objects.
	AddressFile = "memory_addresses.csv"
)

// Artifact is one output file.
type Artifact struct {
	Name string
	Data []byte
}

// FileName returns the artefact file name of stem.
func (r *Result) FileName(stem string) string {
	if r.Program.Name == "" {
		return stem + ".bin"
	}
	return stem + "_" + r.Program.Name + ".bin"
}

// ExpectedOut returns the OUT region as it must read after the program
// runs. Blocks sit at their own OUT offsets; vectors are packed in store
// order.
func (r *Result) ExpectedOut() []byte {
	d := r.Data
	out := make([]byte, r.Layout.Out.Size)
	dt := d.C.Dtype
	vecBytes := d.B * dt.Bytes()
	vectors := r.Schedule.StoreUnit() == partition.UnitVector
	for i, u := range r.Schedule.Stored() {
		var buf []byte
		off := uint64(i * vecBytes)
		if vectors {
			for _, v := range d.C.Blocks[u/d.B].Vector(u%d.B, d.B) {
				buf = dt.AppendLE(buf, v)
			}
		} else {
			for _, v := range d.C.Blocks[u].Data {
				buf = dt.AppendLE(buf, v)
			}
			off = r.Layout.Out.Blocks[u].Physical - r.Layout.Out.Physical
		}
		copy(out[off:], buf)
	}
	return out
}

// Artifacts returns every output file of the compilation.
func (r *Result) Artifacts() ([]Artifact, error) {
	insns, uops, err := r.Stream.Encode()
	if err != nil {
		return nil, err
	}
	var csv bytes.Buffer
	if err := r.DRAM.WriteCSV(&csv); err != nil {
		return nil, err
	}
	pool := workerpool.New(hostinfo.Workers())
	defer pool.Close()
	d := r.Data
	var out []Artifact
	add := func(stem string, data []byte) {
		out = append(out, Artifact{Name: r.FileName(stem), Data: data})
	}
	if d.A != nil {
		add(StemInput, d.A.Encode(pool))
	}
	if d.W != nil {
		add(StemWeight, d.W.Encode(pool))
	}
	add(StemAccumulator, d.X.Encode(pool))
	if d.Y != nil {
		add(StemAddAccumulator, d.Y.Encode(pool))
	}
	add(StemExpectedOut, r.ExpectedOut())
	add(StemOutInit, make([]byte, r.Layout.Out.Size))
	add(StemExpectedSram, d.C.Encode(pool))
	add(StemInstructions, insns)
	add(StemUop, uops)
	out = append(out, Artifact{Name: AddressFile, Data: csv.Bytes()})
	return out, nil
}

// WriteArtifacts writes every artefact into dir, creating it if needed,
// and returns the paths written.
func (r *Result) WriteArtifacts(dir string) ([]string, error) {
	files, err := r.Artifacts()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	paths := make([]string, len(files))
	var g errgroup.Group
	g.SetLimit(hostinfo.Workers())
	for i, f := range files {
		paths[i] = filepath.Join(dir, f.Name)
		g.Go(func() error {
			if err := os.WriteFile(paths[i], f.Data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", f.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}
