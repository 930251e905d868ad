// Copyright 2026 The Reptyr-Go Authors.
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

//go:build linux && amd64
// +build linux,amd64

package tracer

import "syscall"

// regsT is the linux/amd64 register set. This tool only ever runs against
// an amd64 target, so a single concrete type is enough; grabbing a
// different arch's ptrace regs from here would be a compile error, not a
// runtime branch.
type regsT = syscall.PtraceRegs

// setSyscall stages nr and up to six arguments into the amd64 syscall ABI
// registers: rdi, rsi, rdx, r10, r8, r9, with the syscall number in
// orig_rax (the register the kernel reads __NR_xxx from at syscall entry).
func setSyscall(r *regsT, nr uintptr, args [6]uintptr) {
	r.Orig_rax = uint64(nr)
	r.Rax = uint64(nr)
	r.Rdi = uint64(args[0])
	r.Rsi = uint64(args[1])
	r.Rdx = uint64(args[2])
	r.R10 = uint64(args[3])
	r.R8 = uint64(args[4])
	r.R9 = uint64(args[5])
}

func syscallReturn(r *regsT) uintptr {
	return uintptr(r.Rax)
}
