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
	"errors"
	"fmt"
	"os"

	"github.com/containerd/console"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/talismancer/reptyr-go/internal/config"
	"github.com/talismancer/reptyr-go/internal/fdlist"
	"github.com/talismancer/reptyr-go/internal/jobctl"
	"github.com/talismancer/reptyr-go/internal/preflight"
	"github.com/talismancer/reptyr-go/internal/procfs"
	"github.com/talismancer/reptyr-go/internal/scratch"
	"github.com/talismancer/reptyr-go/internal/session"
	"github.com/talismancer/reptyr-go/internal/tracer"
	"github.com/talismancer/reptyr-go/internal/ttyfd"
)

// AttachOptions tunes Attach's behaviour.
type AttachOptions struct {
	// ForceStdio skips tty discovery/termios-copy entirely and rewires
	// fds {0,1,2} unconditionally, per the original tool's -T flag.
	ForceStdio bool
	// Logger receives Attach's debug lines (progress steps and non-fatal
	// failures); individual remote syscalls are not logged. Defaults to a
	// silent logger (logrus at PanicLevel) if nil.
	Logger *logrus.Entry
	// Config overrides the default poll interval / stop timeout. Defaults
	// to config.Default() if nil.
	Config *config.Config
}

func (o AttachOptions) logger() *logrus.Entry {
	if o.Logger != nil {
		return o.Logger
	}
	return NewLogger(logrus.PanicLevel)
}

func (o AttachOptions) config() *config.Config {
	if o.Config != nil {
		return o.Config
	}
	return config.Default()
}

// Attach reparents target's controlling terminal onto ptySlavePath,
// an already-open pty slave the caller owns. On success, target's stdio
// fds refer to the new terminal and target has become (or remains) its
// own session leader attached to it.
//
// After the rewire, Attach pauses target once more and delivers SIGWINCH
// before resuming it: most programs don't redraw their display until they
// think the terminal has changed size, and the new pty slave's window
// size differs from the one target last saw.
func Attach(ctx context.Context, pid int, ptySlavePath string, opts AttachOptions) error {
	log := opts.logger().WithField("target", pid)
	cfg := opts.config()

	if err := preflight.CheckCapability(); err != nil {
		return err
	}

	var pgroupErr, donorErr error
	var donorTermios *unix.Termios
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		pgroupErr = preflight.CheckPgroup(pid)
		return nil
	})
	g.Go(func() error {
		if opts.ForceStdio {
			return nil
		}
		donorTermios, donorErr = findTermiosDonor(pid)
		return nil
	})
	g.Wait()

	if pgroupErr != nil {
		var busy *preflight.PgroupBusyError
		if errors.As(pgroupErr, &busy) {
			return fmt.Errorf("%w: %v", ErrBusy, pgroupErr)
		}
		return fmt.Errorf("%w: %v", ErrIO, pgroupErr)
	}
	if !opts.ForceStdio && donorErr != nil {
		return fmt.Errorf("%w: %v", ErrNoTTY, donorErr)
	}
	if donorTermios != nil {
		if err := applyTermios(ptySlavePath, donorTermios); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
	}

	if _, err := jobctl.WaitForStop(log, pid, unix.SIGTSTP, cfg.PollInterval, cfg.StopTimeout); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer jobctl.Resume(log, pid)

	t := tracer.New()
	if err := t.Attach(pid); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer t.Detach(pid)

	savedRegs, err := t.GetRegs(pid)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer t.SetRegs(pid, savedRegs)

	page, err := scratch.Map(t, pid)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer page.Unmap(t, pid)

	st, err := procfs.Read(pid)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	var oldFds *fdlist.List
	if opts.ForceStdio {
		oldFds = ttyfd.ForceStdio()
	} else {
		l, err := ttyfd.Discover(pid, st.Ctty)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		if l.Len() == 0 {
			return fmt.Errorf("%w: target has no fds aliasing its controlling terminal", ErrNoTTY)
		}
		oldFds = l
	}

	tbl := t.SyscallNumbers(pid)
	log.Debug("opening new pty slave in target")

	pathBuf := append([]byte(ptySlavePath), 0)
	if _, err := t.PokeData(pid, page.Addr(), pathBuf); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	raw, err := t.Syscall(pid, tbl.Open, [6]uintptr{page.Addr(), unix.O_RDWR | unix.O_NOCTTY, 0, 0, 0, 0})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	newFdVal, errno, isErr := tracer.SyscallResult(raw)
	if isErr {
		return &RemoteError{Op: "open", Errno: errno}
	}
	newFd := int(newFdVal)

	if err := ignoreSIGHUP(t, pid, tbl, page); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	raw, err = t.Syscall(pid, tbl.Getsid, [6]uintptr{0, 0, 0, 0, 0, 0})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	sid, _, isErr := tracer.SyscallResult(raw)
	if isErr {
		return fmt.Errorf("remote getsid failed")
	}
	if int(sid) == pid {
		oldFirst := oldFds.Fds()[0]
		raw, err = t.Syscall(pid, tbl.Ioctl, [6]uintptr{uintptr(oldFirst), unix.TIOCNOTTY, 0, 0, 0, 0})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		if _, errno, isErr := tracer.SyscallResult(raw); isErr {
			return &RemoteError{Op: "ioctl(TIOCNOTTY)", Errno: errno}
		}
	} else if err := session.Setsid(log, t, pid); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	raw, err = t.Syscall(pid, tbl.Ioctl, [6]uintptr{uintptr(newFd), unix.TIOCSCTTY, 0, 0, 0, 0})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if _, errno, isErr := tracer.SyscallResult(raw); isErr {
		return &RemoteError{Op: "ioctl(TIOCSCTTY)", Errno: errno}
	}

	for _, oldFd := range oldFds.Fds() {
		raw, err = t.Syscall(pid, tbl.Dup2, [6]uintptr{uintptr(newFd), uintptr(oldFd), 0, 0, 0, 0})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		if _, errno, isErr := tracer.SyscallResult(raw); isErr {
			return &RemoteError{Op: "dup2", Errno: errno}
		}
	}

	if _, err := t.Syscall(pid, tbl.Close, [6]uintptr{uintptr(newFd), 0, 0, 0, 0, 0}); err != nil {
		log.WithError(err).Debug("remote close of new fd failed, continuing")
	}

	if _, err := jobctl.WaitForStop(log, pid, unix.SIGSTOP, cfg.PollInterval, cfg.StopTimeout); err != nil {
		log.WithError(err).Debug("nudge re-stop failed, sending SIGWINCH anyway")
	}
	if err := unix.Kill(pid, unix.SIGWINCH); err != nil {
		log.WithError(err).Debug("failed to deliver SIGWINCH nudge")
	}

	return nil
}

// ignoreSIGHUP sets SIGHUP to SIG_IGN in pid, preferring the plain
// signal(2) syscall when the architecture's table has one and falling
// back to rt_sigaction otherwise.
func ignoreSIGHUP(t tracer.Tracer, pid int, tbl *tracer.SyscallTable, page *scratch.Page) error {
	if tbl.HasSignal {
		raw, err := t.Syscall(pid, tbl.Signal, [6]uintptr{uintptr(unix.SIGHUP), 1 /* SIG_IGN */, 0, 0, 0, 0})
		if err != nil {
			return err
		}
		if _, errno, isErr := tracer.SyscallResult(raw); isErr {
			return &RemoteError{Op: "signal", Errno: errno}
		}
		return nil
	}

	act := marshalIgnoreSigaction()
	if _, err := t.PokeData(pid, page.Addr(), act); err != nil {
		return err
	}
	raw, err := t.Syscall(pid, tbl.RtSigaction, [6]uintptr{uintptr(unix.SIGHUP), page.Addr(), 0, 8, 0, 0})
	if err != nil {
		return err
	}
	if _, errno, isErr := tracer.SyscallResult(raw); isErr {
		return &RemoteError{Op: "rt_sigaction", Errno: errno}
	}
	return nil
}

// marshalIgnoreSigaction builds the raw 32-byte kernel_sigaction struct
// (handler, flags, restorer, 8-byte sigset mask) rt_sigaction expects on
// linux/amd64, with sa_handler = SIG_IGN and everything else zeroed.
func marshalIgnoreSigaction() []byte {
	buf := make([]byte, 32)
	buf[0] = 1 // sa_handler = SIG_IGN, little-endian low byte
	return buf
}

// findTermiosDonor returns the termios of the first of target's fds 0,1,2
// that is a tty.
func findTermiosDonor(pid int) (*unix.Termios, error) {
	for _, fd := range []int{0, 1, 2} {
		path := fmt.Sprintf("/proc/%d/fd/%d", pid, fd)
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			continue
		}
		if _, cerr := console.ConsoleFromFile(f); cerr != nil {
			f.Close()
			continue
		}
		term, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
		f.Close()
		if err != nil {
			continue
		}
		return term, nil
	}
	return nil, fmt.Errorf("no tty among target's stdio fds")
}

// applyTermios copies term onto the pty slave at path.
func applyTermios(path string, term *unix.Termios) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return unix.IoctlSetTermios(int(f.Fd()), unix.TCSETS, term)
}
