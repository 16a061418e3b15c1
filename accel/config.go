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

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Config is the accelerator configuration record. Field names follow the
// hardware configuration keys (LOG_INP_WIDTH, ...), so the JSON form is the
// same file the hardware build consumes.
type Config struct {
	LogInpWidth    int `json:"LOG_INP_WIDTH"`
	LogWgtWidth    int `json:"LOG_WGT_WIDTH"`
	LogAccWidth    int `json:"LOG_ACC_WIDTH"`
	LogBlock       int `json:"LOG_BLOCK"`
	LogInpBuffSize int `json:"LOG_INP_BUFF_SIZE"`
	LogWgtBuffSize int `json:"LOG_WGT_BUFF_SIZE"`
	LogAccBuffSize int `json:"LOG_ACC_BUFF_SIZE"`
	LogUopBuffSize int `json:"LOG_UOP_BUFF_SIZE"`
}

// DefaultConfig returns the reference configuration: int8 inputs and weights,
// int32 accumulators, 16×16 blocks.
func DefaultConfig() Config {
	return Config{
		LogInpWidth:    3,
		LogWgtWidth:    3,
		LogAccWidth:    5,
		LogBlock:       4,
		LogInpBuffSize: 15,
		LogWgtBuffSize: 18,
		LogAccBuffSize: 17,
		LogUopBuffSize: 15,
	}
}

// Validate checks the scalar widths and that block size and buffers are sane.
func (c Config) Validate() error {
	for _, w := range []struct {
		name string
		log  int
	}{
		{"LOG_INP_WIDTH", c.LogInpWidth},
		{"LOG_WGT_WIDTH", c.LogWgtWidth},
		{"LOG_ACC_WIDTH", c.LogAccWidth},
	} {
		if _, err := NewDtype(w.name, w.log); err != nil {
			return err
		}
	}
	if c.LogBlock < 0 || c.LogBlock > 6 {
		return Errorf(CapacityTooSmall, "LOG_BLOCK", "block size 2^%d unsupported", c.LogBlock)
	}
	caps := c.SchedulingCapacities()
	if caps.Inp < 1 || caps.Wgt < 1 || caps.Acc < 1 || caps.Uop < 1 {
		return Errorf(CapacityTooSmall, "config", "scratchpad cannot hold a single block: %+v", caps)
	}
	return nil
}

// Block returns B, the side of a square block.
func (c Config) Block() int { return 1 << c.LogBlock }

// Inp returns the INP (and OUT) scalar type.
func (c Config) Inp() Dtype { return Dtype{LogWidth: c.LogInpWidth} }

// Wgt returns the WGT scalar type.
func (c Config) Wgt() Dtype { return Dtype{LogWidth: c.LogWgtWidth} }

// Acc returns the accumulator scalar type.
func (c Config) Acc() Dtype { return Dtype{LogWidth: c.LogAccWidth} }

// Out returns the OUT scalar type; outputs are narrowed back to the input width.
func (c Config) Out() Dtype { return c.Inp() }

// Capacities holds per-scratchpad capacities in blocks (UOP in micro-ops).
// Acc and Out are equal by construction.
type Capacities struct {
	Inp int
	Wgt int
	Acc int
	Out int
	Uop int
}

// Capacities derives the scratchpad capacities:
//
//	INP/ACC/OUT: 2^LOG_BUFF / (scalarBytes·B)
//	WGT:         2^LOG_BUFF / (scalarBytes·B²)
//	UOP:         2^LOG_BUFF / 4
func (c Config) Capacities() Capacities {
	b := c.Block()
	acc := (1 << c.LogAccBuffSize) / (c.Acc().Bytes() * b)
	return Capacities{
		Inp: (1 << c.LogInpBuffSize) / (c.Inp().Bytes() * b),
		Wgt: (1 << c.LogWgtBuffSize) / (c.Wgt().Bytes() * b * b),
		Acc: acc,
		Out: acc,
		Uop: (1 << c.LogUopBuffSize) / 4,
	}
}

// Micro-op index widths: dst and src name accumulator and input rows, wgt
// names a weight block.
const (
	UopRowBits   = 11
	UopBlockBits = 10
)

// SchedulingCapacities returns Capacities clamped to what a micro-op can
// address: 2^UopRowBits rows of INP and ACC, 2^UopBlockBits WGT blocks.
// The partitioner plans against these.
func (c Config) SchedulingCapacities() Capacities {
	caps := c.Capacities()
	rows := (1 << UopRowBits) / c.Block()
	caps.Inp = min(caps.Inp, rows)
	caps.Acc = min(caps.Acc, rows)
	caps.Out = min(caps.Out, rows)
	caps.Wgt = min(caps.Wgt, 1<<UopBlockBits)
	return caps
}

// Divisors returns the native transfer granularity in bytes of each DRAM
// object type: one B-vector for INP/ACC/OUT, one block for WGT.
func (c Config) Divisors() Divisors {
	b := c.Block()
	return Divisors{
		Inp:  b * c.Inp().Bytes(),
		Wgt:  b * b * c.Wgt().Bytes(),
		Acc:  b * c.Acc().Bytes(),
		Out:  b * c.Out().Bytes(),
		Uop:  4,
		Insn: 16,
	}
}

// Divisors are the logicalDivisor values of the DRAM allocator.
type Divisors struct {
	Inp, Wgt, Acc, Out, Uop, Insn int
}

// DecodeConfig reads a JSON configuration. Keys that are absent keep their
// DefaultConfig value.
func DecodeConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadConfig reads the JSON configuration file at path.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	cfg, err := DecodeConfig(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
