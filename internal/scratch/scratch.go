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

// Package scratch allocates and frees a single scratch page inside a
// traced target via remote mmap/munmap, used to stage short-lived blobs
// (paths, sockaddrs, sigaction structs, control messages) that a remote
// syscall needs to point at.
package scratch

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/talismancer/reptyr-go/internal/tracer"
)

// notAllocated is the sentinel address meaning Unmap is a no-op.
const notAllocated = 0

// Page is one page of remote scratch memory, owned by its allocator until
// Unmap is called. The zero value is "not allocated" and Unmap on it is a
// harmless no-op, so callers can always `defer page.Unmap(...)` right after
// a (possibly failing) Map call.
type Page struct {
	addr uintptr
}

// Addr returns the remote address of the mapped page, or 0 if unmapped.
func (p *Page) Addr() uintptr {
	return p.addr
}

// Map issues a remote mmap for one page, PROT_READ|PROT_WRITE, anonymous
// and private. A returned address in the top 4KiB of
// the address space is treated as a negated errno, not a valid mapping.
func Map(t tracer.Tracer, pid int) (*Page, error) {
	tbl := t.SyscallNumbers(pid)
	size := uintptr(unix.Getpagesize())

	nr := tbl.Mmap
	if tbl.HasMmap2 {
		nr = tbl.Mmap2
	}

	raw, err := t.Syscall(pid, nr, [6]uintptr{
		0, // addr: let the kernel choose
		size,
		unix.PROT_READ | unix.PROT_WRITE,
		unix.MAP_ANONYMOUS | unix.MAP_PRIVATE,
		^uintptr(0), // fd: -1
		0,
	})
	if err != nil {
		return nil, fmt.Errorf("remote mmap in %d: %w", pid, err)
	}

	if _, errno, isErr := tracer.SyscallResult(raw); isErr {
		return nil, &mmapError{errno: errno}
	}

	return &Page{addr: raw}, nil
}

// Unmap releases the page if one is mapped. It is always safe to call,
// including on a nil (failed Map), zero-value or already-unmapped Page.
func (p *Page) Unmap(t tracer.Tracer, pid int) error {
	if p == nil || p.addr == notAllocated {
		return nil
	}
	tbl := t.SyscallNumbers(pid)
	size := uintptr(unix.Getpagesize())

	raw, err := t.Syscall(pid, tbl.Munmap, [6]uintptr{p.addr, size, 0, 0, 0, 0})
	p.addr = notAllocated
	if err != nil {
		return fmt.Errorf("remote munmap: %w", err)
	}
	if _, errno, isErr := tracer.SyscallResult(raw); isErr {
		return &mmapError{errno: errno}
	}
	return nil
}

type mmapError struct {
	errno int
}

func (e *mmapError) Error() string {
	return fmt.Sprintf("remote mmap/munmap failed: errno %d", e.errno)
}
