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

// Package masterfd locates, inside an already-attached terminal emulator,
// the fds that are master ends of the Unix-98 pty multiplexer and that
// back the target's controlling terminal.
package masterfd

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/talismancer/reptyr-go/internal/fdlist"
	"github.com/talismancer/reptyr-go/internal/procfs"
	"github.com/talismancer/reptyr-go/internal/scratch"
	"github.com/talismancer/reptyr-go/internal/tracer"
)

// Unix-98 pty multiplexer device, per devpts (see teacher's
// pkg/sentry/fsimpl/devpts/master.go: linux.TTYAUX_MAJOR, linux.PTMX_MINOR).
const (
	ttyauxMajor = 5
	ptmxMinor   = 2
)

// ErrNoMaster means no emulator fd's TIOCGPTN matched the target's ctty
// minor.
var ErrNoMaster = fmt.Errorf("no master pty fd found in emulator")

// Locate scans the emulator's open fds for ones backed by /dev/ptmx whose
// TIOCGPTN number equals minor(targetCtty).
func Locate(t tracer.Tracer, emulatorPid int, page *scratch.Page, targetCttyMinor uint32) (*fdlist.List, error) {
	fds, err := procfs.ListFds(emulatorPid)
	if err != nil {
		return nil, err
	}

	tbl := t.SyscallNumbers(emulatorPid)
	out := fdlist.New()

	for _, fd := range fds {
		rdev, _, err := procfs.FdDevice(emulatorPid, fd)
		if err != nil {
			continue
		}
		if unix.Major(rdev) != ttyauxMajor || unix.Minor(rdev) != ptmxMinor {
			continue
		}

		raw, err := t.Syscall(emulatorPid, tbl.Ioctl, [6]uintptr{uintptr(fd), unix.TIOCGPTN, page.Addr(), 0, 0, 0})
		if err != nil {
			continue
		}
		if _, _, isErr := tracer.SyscallResult(raw); isErr {
			continue
		}

		var buf [4]byte
		if _, err := t.PeekData(emulatorPid, page.Addr(), buf[:]); err != nil {
			continue
		}
		ptn := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24

		if ptn == targetCttyMinor {
			out.Push(fd)
		}
	}

	if out.Len() == 0 {
		return nil, ErrNoMaster
	}
	return out, nil
}
