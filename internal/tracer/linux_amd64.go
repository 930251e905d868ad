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

import (
	"fmt"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// linuxTracer implements Tracer using the stdlib syscall package's
// PTRACE_GETREGS/PTRACE_SETREGS/PTRACE_SYSCALL family, the same primitive
// set used by other_examples' pendulm/fileflip ptrace.Child. A single
// linuxTracer instance is safe to use against several distinct, unrelated
// pids (the target and, during steal, the emulator and session leader);
// each pid gets its own saved-registers slot; only one remote syscall is
// ever in flight per pid at a time.
type linuxTracer struct {
	mu     sync.Mutex
	saved  map[int]*regsT
}

// New returns the linux/amd64 Tracer implementation.
func New() Tracer {
	return &linuxTracer{saved: make(map[int]*regsT)}
}

func (t *linuxTracer) Attach(pid int) error {
	if err := syscall.PtraceAttach(pid); err != nil {
		return fmt.Errorf("ptrace attach %d: %w", pid, err)
	}
	if _, _, err := t.Wait(pid); err != nil {
		return fmt.Errorf("wait after attach %d: %w", pid, err)
	}
	return nil
}

func (t *linuxTracer) Detach(pid int) error {
	t.mu.Lock()
	delete(t.saved, pid)
	t.mu.Unlock()
	if err := syscall.PtraceDetach(pid); err != nil {
		return fmt.Errorf("ptrace detach %d: %w", pid, err)
	}
	return nil
}

func (t *linuxTracer) Wait(pid int) (stopped bool, signal unix.Signal, err error) {
	var ws unix.WaitStatus
	_, err = unix.Wait4(pid, &ws, 0, nil)
	if err != nil {
		return false, 0, err
	}
	if ws.Stopped() {
		return true, ws.StopSignal(), nil
	}
	return false, 0, nil
}

func (t *linuxTracer) GetRegs(pid int) (Regs, error) {
	var r regsT
	if err := syscall.PtraceGetRegs(pid, &r); err != nil {
		return regsT{}, fmt.Errorf("ptrace getregs %d: %w", pid, err)
	}
	return r, nil
}

func (t *linuxTracer) SetRegs(pid int, regs Regs) error {
	r := regs
	if err := syscall.PtraceSetRegs(pid, &r); err != nil {
		return fmt.Errorf("ptrace setregs %d: %w", pid, err)
	}
	return nil
}

func (t *linuxTracer) PeekData(pid int, addr uintptr, out []byte) (int, error) {
	n, err := syscall.PtracePeekData(pid, addr, out)
	if err != nil {
		return 0, fmt.Errorf("ptrace peekdata %d@%#x: %w", pid, addr, err)
	}
	return n, nil
}

func (t *linuxTracer) PokeData(pid int, addr uintptr, data []byte) (int, error) {
	n, err := syscall.PtracePokeData(pid, addr, data)
	if err != nil {
		return 0, fmt.Errorf("ptrace pokedata %d@%#x: %w", pid, addr, err)
	}
	if n != len(data) {
		return n, fmt.Errorf("ptrace pokedata %d@%#x: short write %d/%d", pid, addr, n, len(data))
	}
	return n, nil
}

// catchSyscallBoundary single-steps pid (via PTRACE_SYSCALL) until it is
// stopped at a syscall-enter boundary, then caches the registers observed
// there as the "real" call we're about to hijack. If we've already cached
// a boundary for pid, it's reused (the core may call Syscall several times
// in a row without the target otherwise running).
func (t *linuxTracer) catchSyscallBoundary(pid int) (*regsT, error) {
	t.mu.Lock()
	if r, ok := t.saved[pid]; ok {
		t.mu.Unlock()
		return r, nil
	}
	t.mu.Unlock()

	// Without TRACESYSGOOD the kernel reports syscall-stops as plain
	// SIGTRAP, and the SIGTRAP|0x80 check below would never match.
	if err := syscall.PtraceSetOptions(pid, syscall.PTRACE_O_TRACESYSGOOD); err != nil {
		return nil, fmt.Errorf("ptrace setoptions %d: %w", pid, err)
	}

	for {
		if err := syscall.PtraceSyscall(pid, 0); err != nil {
			return nil, fmt.Errorf("ptrace syscall-step %d: %w", pid, err)
		}
		var ws unix.WaitStatus
		if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
			return nil, fmt.Errorf("wait for syscall-enter %d: %w", pid, err)
		}
		if ws.Exited() || ws.Signaled() {
			return nil, fmt.Errorf("pid %d exited waiting for syscall boundary", pid)
		}
		if !ws.Stopped() {
			continue
		}
		if ws.StopSignal() != syscall.SIGTRAP|0x80 {
			// A stop for some other signal: the next PTRACE_SYSCALL
			// resumes with signal 0, so that signal is discarded, and
			// the loop keeps waiting for the syscall-stop we want.
			continue
		}
		var r regsT
		if err := syscall.PtraceGetRegs(pid, &r); err != nil {
			return nil, fmt.Errorf("getregs at syscall boundary %d: %w", pid, err)
		}
		t.mu.Lock()
		t.saved[pid] = &r
		t.mu.Unlock()
		return &r, nil
	}
}

func (t *linuxTracer) Syscall(pid int, nr uintptr, args [6]uintptr) (uintptr, error) {
	orig, err := t.catchSyscallBoundary(pid)
	if err != nil {
		return 0, err
	}

	inject := *orig
	setSyscall(&inject, nr, args)
	if err := syscall.PtraceSetRegs(pid, &inject); err != nil {
		return 0, fmt.Errorf("setregs for injected syscall %d on %d: %w", nr, pid, err)
	}

	if err := syscall.PtraceSyscall(pid, 0); err != nil {
		return 0, fmt.Errorf("ptrace syscall-run %d on %d: %w", nr, pid, err)
	}
	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return 0, fmt.Errorf("wait for syscall-exit %d on %d: %w", nr, pid, err)
	}
	if !ws.Stopped() {
		return 0, fmt.Errorf("pid %d left stopped state mid syscall %d", pid, nr)
	}

	var result regsT
	if err := syscall.PtraceGetRegs(pid, &result); err != nil {
		return 0, fmt.Errorf("getregs after syscall %d on %d: %w", nr, pid, err)
	}
	ret := syscallReturn(&result)

	// Put the target's own in-flight syscall back exactly as it was, so
	// resuming it re-issues (and this time actually executes) whatever it
	// was originally trying to do.
	restore := *orig
	if err := syscall.PtraceSetRegs(pid, &restore); err != nil {
		return 0, fmt.Errorf("restore regs after syscall %d on %d: %w", nr, pid, err)
	}

	return ret, nil
}

func (t *linuxTracer) SyscallNumbers(pid int) *SyscallTable {
	return &amd64SyscallTable
}

var amd64SyscallTable = SyscallTable{
	Mmap:          unix.SYS_MMAP,
	HasMmap2:      false,
	Munmap:        unix.SYS_MUNMAP,
	Fork:          unix.SYS_CLONE,
	HasFork:       true,
	Wait4:         unix.SYS_WAIT4,
	Setpgid:       unix.SYS_SETPGID,
	Setsid:        unix.SYS_SETSID,
	Getsid:        unix.SYS_GETSID,
	Kill:          unix.SYS_KILL,
	Open:          unix.SYS_OPEN,
	Close:         unix.SYS_CLOSE,
	Dup2:          unix.SYS_DUP2,
	Ioctl:         unix.SYS_IOCTL,
	Signal:        0,
	HasSignal:     false,
	RtSigaction:   unix.SYS_RT_SIGACTION,
	Socket:        unix.SYS_SOCKET,
	Connect:       unix.SYS_CONNECT,
	Sendmsg:       unix.SYS_SENDMSG,
	Socketcall:    0,
	HasSocketcall: false,
	Exit:          unix.SYS_EXIT,
}
