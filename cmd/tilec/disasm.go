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
	"os"

	"github.com/spf13/cobra"

	"github.com/ajroetker/tilec/accel/isa"
)

func newDisasmCmd() *cobra.Command {
	var uopPath string
	cmd := &cobra.Command{
		Use:   "disasm INSTRUCTIONS.bin",
		Short: "Print an encoded instruction stream, and optionally its micro-ops",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			insns, err := isa.DecodeProgram(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			var uops []isa.Uop
			if uopPath != "" {
				if raw, err = os.ReadFile(uopPath); err != nil {
					return err
				}
				if uops, err = isa.DecodeUops(raw); err != nil {
					return fmt.Errorf("%s: %w", uopPath, err)
				}
			}
			return dump(cmd.OutOrStdout(), insns, uops)
		},
	}
	cmd.Flags().StringVarP(&uopPath, "uops", "u", "", "micro-op stream to print after the instructions")
	return cmd
}
