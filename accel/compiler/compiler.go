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

// Package compiler runs the full pipeline: shape the program, place its
// data in DRAM, partition it into steps, emit instructions, place the
// instruction and UOP streams, and write the artefacts the accelerator
// test bench consumes.
package compiler

import (
	"fmt"
	"io"

	"github.com/ajroetker/tilec/accel"
	"github.com/ajroetker/tilec/accel/dram"
	"github.com/ajroetker/tilec/accel/emit"
	"github.com/ajroetker/tilec/accel/isa"
	"github.com/ajroetker/tilec/accel/partition"
	"github.com/ajroetker/tilec/accel/program"
	"github.com/ajroetker/tilec/accel/shaper"
	"github.com/ajroetker/tilec/accel/workerpool"
	"github.com/ajroetker/tilec/internal/hostinfo"
)

// Compiler compiles programs for one accelerator configuration.
type Compiler struct {
	cfg     accel.Config
	opts    partition.Options
	workers int
	verbose io.Writer
	outDir  string
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithStrategy selects the GEMM overflow traversal.
func WithStrategy(s partition.Strategy) Option {
	return func(c *Compiler) {
		c.opts.Strategy = s
	}
}

// WithInclusiveFit lets an operand that exactly fills its scratchpad count
// as fitting.
func WithInclusiveFit(inclusive bool) Option {
	return func(c *Compiler) {
		c.opts.InclusiveFit = inclusive
	}
}

// WithVerbose prints one line per pipeline stage to w.
func WithVerbose(w io.Writer) Option {
	return func(c *Compiler) {
		c.verbose = w
	}
}

// WithWorkers sets the size of the reference kernel worker pool; 0 uses
// one worker per available CPU.
func WithWorkers(n int) Option {
	return func(c *Compiler) {
		c.workers = n
	}
}

// WithOutput sets the directory Run writes artefacts to.
func WithOutput(dir string) Option {
	return func(c *Compiler) {
		c.outDir = dir
	}
}

// New returns a compiler for cfg.
func New(cfg accel.Config, opts ...Option) *Compiler {
	c := &Compiler{cfg: cfg, outDir: "."}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the accelerator configuration.
func (c *Compiler) Config() accel.Config { return c.cfg }

// Result is everything a compilation produced.
type Result struct {
	Program  *program.Program
	Config   accel.Config
	Data     *shaper.Data
	Schedule *partition.Schedule
	Layout   emit.Layout
	DRAM     *dram.Allocator
	Stream   *emit.Program
	Uop      *dram.Object
	Insn     *dram.Object
}

func (c *Compiler) logf(format string, args ...any) {
	if c.verbose != nil {
		fmt.Fprintf(c.verbose, format+"\n", args...)
	}
}

func (c *Compiler) pool() *workerpool.Pool {
	n := c.workers
	if n == 0 {
		n = hostinfo.Workers()
	}
	return workerpool.New(n)
}

// Compile lowers p. Nothing is written to disk.
func (c *Compiler) Compile(p *program.Program) (*Result, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	caps := c.cfg.SchedulingCapacities()
	c.logf("host: %s", hostinfo.Banner())
	c.logf("config: B=%d inp=%v wgt=%v acc=%v capacities %+v", c.cfg.Block(), c.cfg.Inp(), c.cfg.Wgt(), c.cfg.Acc(), caps)

	pool := c.pool()
	defer pool.Close()
	d, err := shaper.Build(p, c.cfg, pool)
	if err != nil {
		return nil, fmt.Errorf("shape: %w", err)
	}
	counts := d.Counts()
	c.logf("shape: %v program, A=%d (%d cols) W=%d (%d cols) X=%d (%d cols) blocks, %d ALU ops, %d stored vectors",
		d.Kind, counts.NA, counts.ACols, counts.NB, counts.BCols, counts.NX, counts.XCols, len(d.Ops), len(d.StoreMask))

	r := &Result{Program: p, Config: c.cfg, Data: d}
	if r.Schedule, err = partition.Plan(d, caps, c.opts); err != nil {
		return nil, fmt.Errorf("partition: %w", err)
	}
	if err := partition.Validate(r.Schedule); err != nil {
		return nil, fmt.Errorf("partition: %w", err)
	}
	c.logf("partition: %v path, strategy %d, %d steps, overflow=%t, %s stores",
		r.Schedule.Path, r.Schedule.Strategy, len(r.Schedule.Steps), r.Schedule.Overflow, r.Schedule.StoreUnit())

	r.DRAM = dram.New(p.BaseAddress, p.DramOffset, c.cfg.Divisors())
	if r.Layout, err = emit.Allocate(r.DRAM, d, r.Schedule); err != nil {
		return nil, fmt.Errorf("dram: %w", err)
	}

	if r.Stream, err = emit.Emit(r.Schedule, d, r.Layout); err != nil {
		return nil, fmt.Errorf("emit: %w", err)
	}
	if r.Uop, err = r.DRAM.Reserve(emit.ObjUop, dram.TypeUop, len(r.Stream.Uops)*isa.UopBytes); err != nil {
		return nil, fmt.Errorf("dram: %w", err)
	}
	if r.Insn, err = r.DRAM.Reserve(emit.ObjInsn, dram.TypeInsn, len(r.Stream.Insns)*isa.InsnBytes); err != nil {
		return nil, fmt.Errorf("dram: %w", err)
	}
	if err := r.Stream.Relocate(r.Uop.Logical); err != nil {
		return nil, fmt.Errorf("emit: %w", err)
	}
	if err := emit.Audit(r.Stream.Insns); err != nil {
		return nil, fmt.Errorf("emit: %w", err)
	}
	c.logf("emit: %d instructions (%d LOAD, %d GEMM, %d ALU, %d STORE), %d UOPs",
		len(r.Stream.Insns), r.Stream.Count(isa.OpLoad), r.Stream.Count(isa.OpGemm),
		r.Stream.Count(isa.OpAlu), r.Stream.Count(isa.OpStore), len(r.Stream.Uops))
	for _, o := range r.DRAM.Objects() {
		c.logf("dram: %-7s phys=0x%08x logical=0x%08x size=%d", o.Name, o.Physical, o.Logical, o.Size)
	}
	return r, nil
}

// Run compiles p and writes its artefacts to the output directory.
func (c *Compiler) Run(p *program.Program) (*Result, error) {
	r, err := c.Compile(p)
	if err != nil {
		return nil, err
	}
	files, err := r.WriteArtifacts(c.outDir)
	if err != nil {
		return nil, fmt.Errorf("write artefacts: %w", err)
	}
	for _, f := range files {
		c.logf("wrote %s", f)
	}
	return r, nil
}
