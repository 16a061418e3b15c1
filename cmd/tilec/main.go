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


// Command tilec compiles matrix programs for the tiled accelerator.
//
// Usage:
//
//	tilec compile relu.json -c config.json -o out/      # write all artefacts
//	tilec compile mm.json --strategy 2 -v               # log every pipeline stage
//	tilec disasm out/instructions_relu.bin --uops out/uop_relu.bin
//	tilec info                                          # host CPU features
//
// The program descriptor is JSON:
//
//	{
//	  "NAME": "relu",
//	  "MATRICES": {"INPUT": [16, 16], "WEIGHT": [16, 16]},
//	  "GEMM": ["INPUT", "WEIGHT"],
//	  "ALU": [["RELU"]]
//	}
//
// The configuration file holds the LOG_* keys of the accelerator build; keys
// that are absent keep their default value.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tilec",
		Short:         "Compile matrix programs into accelerator instruction and micro-op streams",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newCompileCmd(), newDisasmCmd(), newInfoCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
