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


package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ajroetker/tilec/accel"
	"github.com/ajroetker/tilec/accel/compiler"
	"github.com/ajroetker/tilec/accel/isa"
	"github.com/ajroetker/tilec/accel/partition"
	"github.com/ajroetker/tilec/accel/program"
)

type compileFlags struct {
	config       string
	output       string
	strategy     int
	inclusiveFit bool
	verbose      bool
	workers      int
	disasm       bool
}

func newCompileCmd() *cobra.Command {
	var f compileFlags
	cmd := &cobra.Command{
		Use:   "compile PROGRAM.json",
		Short: "Compile a program descriptor and write its artefacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, args[0], f)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&f.config, "config", "c", "", "accelerator configuration JSON (default: reference configuration)")
	flags.StringVarP(&f.output, "output", "o", ".", "directory for the generated artefacts")
	flags.IntVar(&f.strategy, "strategy", int(partition.StrategyOutput), "GEMM overflow traversal, 1 to 4")
	flags.BoolVar(&f.inclusiveFit, "inclusive-fit", false, "treat an operand that exactly fills its scratchpad as fitting")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "log every pipeline stage to stderr")
	flags.IntVar(&f.workers, "workers", 0, "reference kernel workers (0: one per CPU)")
	flags.BoolVar(&f.disasm, "disasm", false, "print the instruction stream after compiling")
	return cmd
}

func runCompile(cmd *cobra.Command, path string, f compileFlags) error {
	cfg := accel.DefaultConfig()
	if f.config != "" {
		var err error
		if cfg, err = accel.LoadConfig(f.config); err != nil {
			return err
		}
	}
	strategy, err := partition.ParseStrategy(f.strategy)
	if err != nil {
		return err
	}
	p, err := program.Load(path)
	if err != nil {
		return err
	}

	opts := []compiler.Option{
		compiler.WithStrategy(strategy),
		compiler.WithInclusiveFit(f.inclusiveFit),
		compiler.WithWorkers(f.workers),
		compiler.WithOutput(f.output),
	}
	if f.verbose {
		opts = append(opts, compiler.WithVerbose(cmd.ErrOrStderr()))
	}
	r, err := compiler.New(cfg, opts...).Run(p)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d steps, %d instructions, %d micro-ops -> %s\n",
		describe(p), len(r.Schedule.Steps), len(r.Stream.Insns), len(r.Stream.Uops), f.output)
	if f.disasm {
		return dump(out, r.Stream.Insns, r.Stream.Uops)
	}
	return nil
}

func describe(p *program.Program) string {
	if p.Name == "" {
		return "program"
	}
	return p.Name
}

func dump(w io.Writer, insns []isa.Instruction, uops []isa.Uop) error {
	if err := isa.Disassemble(w, insns); err != nil {
		return err
	}
	if len(uops) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w, "micro-ops:"); err != nil {
		return err
	}
	return isa.DumpUops(w, uops)
}
