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

package reptyr

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/talismancer/reptyr-go/internal/config"
	"github.com/talismancer/reptyr-go/internal/fdchan"
	"github.com/talismancer/reptyr-go/internal/masterfd"
	"github.com/talismancer/reptyr-go/internal/procfs"
	"github.com/talismancer/reptyr-go/internal/scratch"
	"github.com/talismancer/reptyr-go/internal/tracer"
)

// Unix-98 pty slave multiplexer major on Linux; a target whose controlling
// terminal isn't on this major has no master fd to steal.
const ptsMajor = 136

// Steal extracts the master pty fd backing target's controlling terminal
// from target's terminal emulator (the parent of target's session leader),
// returning it as an fd open in the calling process. The emulator's own
// reference to that fd is replaced with /dev/null so it can no longer
// drive the terminal, and the session leader has SIGHUP set to ignore
// first so the hangup that would otherwise follow doesn't kill it during
// the handoff.
func Steal(ctx context.Context, pid int) (int, error) {
	log := NewLogger(logrus.PanicLevel).WithField("target", pid)
	cfg := config.Default()

	target, err := procfs.Read(pid)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if unix.Major(target.Ctty) != ptsMajor {
		return 0, fmt.Errorf("%w: target's controlling terminal is not a pty slave", ErrNotPTY)
	}

	leader, err := procfs.Read(target.Sid)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	emulatorPid := leader.PPid
	log = log.WithField("emulator", emulatorPid)

	ch, err := fdchan.Prepare(cfg.SocketDirPrefix, fmt.Sprintf("reptyr-%d", pid))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer ch.Close()

	t := tracer.New()
	if err := t.Attach(emulatorPid); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer t.Detach(emulatorPid)

	savedRegs, err := t.GetRegs(emulatorPid)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer t.SetRegs(emulatorPid, savedRegs)

	page, err := scratch.Map(t, emulatorPid)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer page.Unmap(t, emulatorPid)

	masters, err := masterfd.Locate(t, emulatorPid, page, uint32(unix.Minor(target.Ctty)))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	masterFd := masters.Fds()[0]
	log.WithField("master_fd", masterFd).Debug("located master pty fd in emulator")

	emulatorSockFd, err := fdchan.ConnectEmulator(t, emulatorPid, page, ch.Path())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}

	receivedFd, err := ch.Transfer(ctx, t, emulatorPid, emulatorSockFd, masterFd, page)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if err := ignoreSIGHUPInSessionLeader(log, t, target.Sid); err != nil {
		unix.Close(receivedFd)
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}

	if err := sanitiseEmulatorFds(t, emulatorPid, page, masters.Fds()); err != nil {
		unix.Close(receivedFd)
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}

	tbl := t.SyscallNumbers(emulatorPid)
	if _, err := t.Syscall(emulatorPid, tbl.Close, [6]uintptr{uintptr(emulatorSockFd), 0, 0, 0, 0, 0}); err != nil {
		log.WithError(err).Debug("remote close of transfer socket failed, continuing")
	}

	return receivedFd, nil
}

// ignoreSIGHUPInSessionLeader attaches leaderPid just long enough to run
// ignoreSIGHUP against it.
func ignoreSIGHUPInSessionLeader(log *logrus.Entry, t tracer.Tracer, leaderPid int) error {
	if err := t.Attach(leaderPid); err != nil {
		return fmt.Errorf("attach session leader %d: %w", leaderPid, err)
	}
	defer t.Detach(leaderPid)

	regs, err := t.GetRegs(leaderPid)
	if err != nil {
		return err
	}
	defer t.SetRegs(leaderPid, regs)

	page, err := scratch.Map(t, leaderPid)
	if err != nil {
		return err
	}
	defer page.Unmap(t, leaderPid)

	tbl := t.SyscallNumbers(leaderPid)
	return ignoreSIGHUP(t, leaderPid, tbl, page)
}

// sanitiseEmulatorFds replaces every master fd discovered in the emulator
// with a read-only /dev/null, so it can no longer deliver terminal I/O
// once the stolen fd is in the caller's hands.
func sanitiseEmulatorFds(t tracer.Tracer, emulatorPid int, page *scratch.Page, masterFds []int) error {
	tbl := t.SyscallNumbers(emulatorPid)

	devNull := append([]byte("/dev/null"), 0)
	if _, err := t.PokeData(emulatorPid, page.Addr(), devNull); err != nil {
		return err
	}

	raw, err := t.Syscall(emulatorPid, tbl.Open, [6]uintptr{page.Addr(), unix.O_RDONLY, 0, 0, 0, 0})
	if err != nil {
		return err
	}
	nullFdVal, errno, isErr := tracer.SyscallResult(raw)
	if isErr {
		return &RemoteError{Op: "open(/dev/null)", Errno: errno}
	}
	nullFd := int(nullFdVal)

	for _, fd := range masterFds {
		raw, err := t.Syscall(emulatorPid, tbl.Dup2, [6]uintptr{uintptr(nullFd), uintptr(fd), 0, 0, 0, 0})
		if err != nil {
			return err
		}
		if _, errno, isErr := tracer.SyscallResult(raw); isErr {
			return &RemoteError{Op: "dup2(/dev/null)", Errno: errno}
		}
	}

	if _, err := t.Syscall(emulatorPid, tbl.Close, [6]uintptr{uintptr(nullFd), 0, 0, 0, 0, 0}); err != nil {
		return err
	}
	return nil
}
