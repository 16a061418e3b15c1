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

// Package hostinfo describes the machine the compiler runs on: the CPU
// features detected by Go and the worker count used for reference kernels.
package hostinfo

import (
	"fmt"
	"io"
	"runtime"

	"golang.org/x/sys/cpu"
)

// Feature is one named CPU capability.
type Feature struct {
	Name string
	Has  bool
	Note string
}

// Features returns the CPU features relevant to the reference kernels on
// the running architecture, or nil on other architectures.
func Features() []Feature {
	switch runtime.GOARCH {
	case "arm64":
		return []Feature{
			{"ASIMD", cpu.ARM64.HasASIMD, "NEON baseline"},
			{"FPHP", cpu.ARM64.HasFPHP, "FP16 scalar"},
			{"ASIMDHP", cpu.ARM64.HasASIMDHP, "FP16 NEON"},
			{"SVE", cpu.ARM64.HasSVE, ""},
			{"SVE2", cpu.ARM64.HasSVE2, ""},
			{"ATOMICS", cpu.ARM64.HasATOMICS, "large system extensions"},
		}
	case "amd64":
		return []Feature{
			{"SSE41", cpu.X86.HasSSE41, ""},
			{"AVX", cpu.X86.HasAVX, ""},
			{"AVX2", cpu.X86.HasAVX2, ""},
			{"FMA", cpu.X86.HasFMA, ""},
			{"AVX512F", cpu.X86.HasAVX512F, ""},
			{"AVX512BW", cpu.X86.HasAVX512BW, ""},
		}
	}
	return nil
}

// Workers returns the default size of the reference kernel worker pool.
func Workers() int {
	return max(1, runtime.GOMAXPROCS(0))
}

// Banner returns a one-line host summary.
func Banner() string {
	return fmt.Sprintf("%s/%s, %d CPUs, %d workers", runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), Workers())
}

// Report writes the host summary and one line per feature.
func Report(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "GOOS: %s\nGOARCH: %s\nNumCPU: %d\nWorkers: %d\n",
		runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), Workers()); err != nil {
		return err
	}
	for _, f := range Features() {
		note := ""
		if f.Note != "" {
			note = " (" + f.Note + ")"
		}
		if _, err := fmt.Fprintf(w, "  Has%-9s %v%s\n", f.Name+":", f.Has, note); err != nil {
			return err
		}
	}
	return nil
}
