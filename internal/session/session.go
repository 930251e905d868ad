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

// Package session makes a target a session leader via setsid, parking any
// process-group peers it would otherwise orphan in a throwaway child's
// process group first.
package session

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/talismancer/reptyr-go/internal/procfs"
	"github.com/talismancer/reptyr-go/internal/tracer"
)

// Setsid makes target a session leader. It always forks a disposable child
// inside target first and moves every member of target's old pgroup
// (target included) into the child's new pgroup, so target is no longer a
// pgroup leader when it calls setsid and its old peers are not orphaned.
func Setsid(log *logrus.Entry, t tracer.Tracer, target int) error {
	tbl := t.SyscallNumbers(target)

	forkRegs, err := t.GetRegs(target)
	if err != nil {
		return fmt.Errorf("save target regs before fork: %w", err)
	}

	raw, err := t.Syscall(target, tbl.Fork, [6]uintptr{uintptr(unix.SIGCHLD), 0, 0, 0, 0, 0})
	if err != nil {
		return fmt.Errorf("remote fork in %d: %w", target, err)
	}
	if _, errno, isErr := tracer.SyscallResult(raw); isErr {
		return &tracer.RemoteError{Op: "fork", Errno: errno}
	}
	forkPid := int(raw)
	log = log.WithField("fork_pid", forkPid)
	log.Debug("created dummy pgroup-holder child")

	if err := t.Attach(forkPid); err != nil {
		return fmt.Errorf("attach to dummy child %d: %w", forkPid, err)
	}
	// The fork must not execute any further target code: pin it back to
	// the parent's pre-fork registers so it sits wherever we attach it,
	// doing nothing until we kill it.
	if err := t.SetRegs(forkPid, forkRegs); err != nil {
		return fmt.Errorf("pin dummy child regs: %w", err)
	}

	cleanupFork := func() {
		unix.Kill(forkPid, unix.SIGKILL)
		t.Detach(forkPid)
		// The fork is target's child, not ours: have target reap it so it
		// doesn't become a zombie the controller can't wait on.
		reapArgs := [6]uintptr{uintptr(forkPid), 0, unix.WNOHANG, 0, 0, 0}
		if _, err := t.Syscall(target, tbl.Wait4, reapArgs); err != nil {
			log.WithError(err).Debug("remote wait4 reap of dummy child failed")
		}
	}
	defer cleanupFork()

	if err := remoteSetpgid(t, forkPid, tbl.Setpgid, 0, 0); err != nil {
		return fmt.Errorf("setpgid(0,0) on dummy child: %w", err)
	}

	oldPgid := target
	migrated, err := migratePeers(log, t, target, tbl, oldPgid, forkPid)
	if err != nil {
		return err
	}

	raw, err = t.Syscall(target, tbl.Setsid, [6]uintptr{0, 0, 0, 0, 0, 0})
	if err != nil {
		return fmt.Errorf("remote setsid on %d: %w", target, err)
	}
	if _, errno, isErr := tracer.SyscallResult(raw); isErr {
		// Reverse the pgid migration (arguments swapped) before giving up.
		for _, pid := range migrated {
			if rerr := remoteSetpgid(t, target, tbl.Setpgid, pid, oldPgid); rerr != nil {
				log.WithError(rerr).WithField("pid", pid).Warn("failed to reverse pgid migration")
			}
		}
		return &tracer.RemoteError{Op: "setsid", Errno: errno}
	}

	return nil
}

// migratePeers moves every process currently in oldPgid (target included)
// into newPgid, so setsid doesn't orphan them. Non-terminal per-process
// failures are logged and skipped, not fatal.
func migratePeers(log *logrus.Entry, t tracer.Tracer, target int, tbl *tracer.SyscallTable, oldPgid, newPgid int) ([]int, error) {
	pids, err := procfs.ListPids()
	if err != nil {
		return nil, fmt.Errorf("enumerate /proc for pgroup migration: %w", err)
	}

	var migrated []int
	for _, pid := range pids {
		st, err := procfs.Read(pid)
		if err != nil {
			continue // pid raced away between ListPids and Read
		}
		if st.PGid != oldPgid {
			continue
		}
		if err := remoteSetpgid(t, target, tbl.Setpgid, pid, newPgid); err != nil {
			log.WithError(err).WithField("pid", pid).Warn("failed to migrate pgroup peer, continuing")
			continue
		}
		migrated = append(migrated, pid)
	}
	return migrated, nil
}

// remoteSetpgid has `via` (an attached, controllable pid) call
// setpgid(pid, pgid) on its own behalf — pid need not itself be traced,
// but the kernel only accepts pid if it is via itself or a child of via
// that has not yet exec'd.
func remoteSetpgid(t tracer.Tracer, via int, nr uintptr, pid, pgid int) error {
	raw, err := t.Syscall(via, nr, [6]uintptr{uintptr(pid), uintptr(pgid), 0, 0, 0, 0})
	if err != nil {
		return err
	}
	if _, errno, isErr := tracer.SyscallResult(raw); isErr {
		return &tracer.RemoteError{Op: "setpgid", Errno: errno}
	}
	return nil
}
