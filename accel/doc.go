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

// Package accel holds the pieces shared by every stage of the tiled
// matrix-accelerator compiler: the accelerator configuration, the scalar
// types it computes in, scratchpad capacities and the error kinds.
//
// # Pipeline
//
// A program flows through the subpackages in dependency order:
//
//  1. program   - typed program descriptor (matrices, GEMM, ALU list)
//  2. shaper    - padding, block tiling and the bit-exact reference result
//  3. partition - the tiling scheduler producing an ordered []Step
//  4. dram      - page-aligned DRAM placement of every tile stream
//  5. emit      - LOAD/GEMM/ALU/STORE/FINISH instructions and the UOP table
//  6. compiler  - glues the stages together and writes the binary artefacts
//
// The accelerator works on square B×B blocks with explicit INP, WGT, ACC,
// OUT and UOP scratchpads. Its LOAD, COMPUTE and STORE stages run
// concurrently and synchronise through four single-bit semaphores; the
// emitter is responsible for keeping those balanced.
package accel
