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

// Package fdchan implements an fd-passing channel: a Unix-domain datagram
// socket used to move an open file description from an emulator (under
// remote control) to the controller via SCM_RIGHTS.
package fdchan

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/talismancer/reptyr-go/internal/scratch"
	"github.com/talismancer/reptyr-go/internal/tracer"
)

// sockaddrUnSize is sizeof(struct sockaddr_un) on Linux: a 2-byte family
// plus a 108-byte path buffer.
const sockaddrUnSize = 2 + 108

// msghdrSize is sizeof(struct msghdr) on linux/amd64, including the
// compiler-inserted padding after msg_namelen and after msg_flags.
const msghdrSize = 56

// Channel is the controller side of an fd-passing exchange: a bound,
// listening datagram socket under a freshly made, exclusive temp
// directory.
type Channel struct {
	dir      string
	sockPath string
	fd       int
}

// Prepare creates "<prefix>.XXXXXX" under /tmp, binds a datagram Unix
// socket named "<name>.sock" inside it, sets the directory to 0755 and the
// socket node to world-writable 0666 so a target/emulator running as a
// different uid (common under sudo) can still connect.
func Prepare(prefix, name string) (*Channel, error) {
	dir, err := os.MkdirTemp("/tmp", prefix+".")
	if err != nil {
		return nil, fmt.Errorf("mkdtemp: %w", err)
	}
	if err := os.Chmod(dir, 0755); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("chmod tempdir: %w", err)
	}

	sockPath := filepath.Join(dir, name+".sock")

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("socket: %w", err)
	}

	addr := &unix.SockaddrUnix{Name: sockPath}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		os.RemoveAll(dir)
		return nil, fmt.Errorf("bind %s: %w", sockPath, err)
	}
	if err := os.Chmod(sockPath, 0666); err != nil {
		unix.Close(fd)
		os.RemoveAll(dir)
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	return &Channel{dir: dir, sockPath: sockPath, fd: fd}, nil
}

// Path returns the bound socket's filesystem path, the address an
// emulator-side remote connect targets.
func (c *Channel) Path() string {
	return c.sockPath
}

// Close unlinks the socket node, removes the temp directory, and closes
// the local socket fd. Safe to call once the channel was bound,
// idempotent on a zero Channel.
func (c *Channel) Close() error {
	if c == nil || c.fd == 0 {
		return nil
	}
	unix.Close(c.fd)
	return os.RemoveAll(c.dir)
}

// ConnectEmulator has the emulator (already attached, via t) create a
// datagram socket and connect it to the controller's listening socket.
// Returns the fd number inside the emulator's fd table.
func ConnectEmulator(t tracer.Tracer, emulatorPid int, page *scratch.Page, sockPath string) (int, error) {
	tbl := t.SyscallNumbers(emulatorPid)

	raw, err := t.Syscall(emulatorPid, tbl.Socket, [6]uintptr{unix.AF_UNIX, unix.SOCK_DGRAM, 0, 0, 0, 0})
	if err != nil {
		return 0, fmt.Errorf("remote socket in emulator %d: %w", emulatorPid, err)
	}
	if _, errno, isErr := tracer.SyscallResult(raw); isErr {
		return 0, &tracer.RemoteError{Op: "socket", Errno: errno}
	}
	emulatorFd := int(raw)

	addrBuf := marshalSockaddrUn(sockPath)
	if _, err := t.PokeData(emulatorPid, page.Addr(), addrBuf); err != nil {
		return 0, fmt.Errorf("write sockaddr to scratch: %w", err)
	}

	raw, err = t.Syscall(emulatorPid, tbl.Connect, [6]uintptr{uintptr(emulatorFd), page.Addr(), uintptr(len(addrBuf)), 0, 0, 0})
	if err != nil {
		return 0, fmt.Errorf("remote connect in emulator %d: %w", emulatorPid, err)
	}
	if _, errno, isErr := tracer.SyscallResult(raw); isErr {
		return 0, &tracer.RemoteError{Op: "connect", Errno: errno}
	}

	return emulatorFd, nil
}

// Transfer has the emulator sendmsg the masterFd (one of its own fds) over
// emulatorFd to the controller, then recvmsg's it locally. The msghdr's
// msg_iov/msg_control pointers and the iovec's iov_base are written as
// scratch-page addresses from the start (page base plus each part's byte
// offset within the blob), so no controller-side address is ever copied
// into the emulator.
func (c *Channel) Transfer(ctx context.Context, t tracer.Tracer, emulatorPid, emulatorFd, masterFd int, page *scratch.Page) (int, error) {
	rights := unix.UnixRights(masterFd)

	const (
		dummyOff  = 0
		iovOff    = 8 // aligned
		cmsgOff   = iovOff + 16
	)
	msghdrOff := cmsgOff + len(rights)
	// Round msghdrOff up to 8-byte alignment for the pointer fields inside it.
	if rem := msghdrOff % 8; rem != 0 {
		msghdrOff += 8 - rem
	}
	total := msghdrOff + msghdrSize
	if total > unix.Getpagesize() {
		return 0, fmt.Errorf("fd-passing blob (%d bytes) does not fit in one scratch page", total)
	}

	blob := make([]byte, total)
	blob[dummyOff] = 0

	iov := new(bytes.Buffer)
	binary.Write(iov, binary.LittleEndian, uint64(page.Addr()+dummyOff)) // iov_base
	binary.Write(iov, binary.LittleEndian, uint64(1))                    // iov_len
	copy(blob[iovOff:], iov.Bytes())

	copy(blob[cmsgOff:], rights)

	msg := new(bytes.Buffer)
	binary.Write(msg, binary.LittleEndian, uint64(0))                        // msg_name
	binary.Write(msg, binary.LittleEndian, uint32(0))                        // msg_namelen
	binary.Write(msg, binary.LittleEndian, uint32(0))                        // pad
	binary.Write(msg, binary.LittleEndian, uint64(page.Addr())+uint64(iovOff)) // msg_iov
	binary.Write(msg, binary.LittleEndian, uint64(1))                        // msg_iovlen
	binary.Write(msg, binary.LittleEndian, uint64(page.Addr())+uint64(cmsgOff)) // msg_control
	binary.Write(msg, binary.LittleEndian, uint64(len(rights)))              // msg_controllen
	binary.Write(msg, binary.LittleEndian, uint32(0))                        // msg_flags
	binary.Write(msg, binary.LittleEndian, uint32(0))                        // pad
	copy(blob[msghdrOff:], msg.Bytes())

	if _, err := t.PokeData(emulatorPid, page.Addr(), blob); err != nil {
		return 0, fmt.Errorf("write fd-passing blob to scratch: %w", err)
	}

	tbl := t.SyscallNumbers(emulatorPid)
	raw, err := t.Syscall(emulatorPid, tbl.Sendmsg, [6]uintptr{
		uintptr(emulatorFd), page.Addr() + uintptr(msghdrOff), unix.MSG_DONTWAIT, 0, 0, 0,
	})
	if err != nil {
		return 0, fmt.Errorf("remote sendmsg in emulator %d: %w", emulatorPid, err)
	}
	if _, errno, isErr := tracer.SyscallResult(raw); isErr {
		return 0, &tracer.RemoteError{Op: "sendmsg", Errno: errno}
	}

	return c.recv(ctx)
}

// recvPollInterval is how often recv retries a non-blocking recvmsg while
// waiting on the emulator's sendmsg to land.
const recvPollInterval = 5 * time.Millisecond

// recv performs the controller-side, non-blocking recvmsg, retrying until
// data arrives, ctx is done, or a non-EAGAIN error occurs, then extracts
// the passed fd from the first SCM_RIGHTS control header.
func (c *Channel) recv(ctx context.Context) (int, error) {
	p := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))

	var oobn int
	for {
		var err error
		_, oobn, _, _, err = unix.Recvmsg(c.fd, p, oob, unix.MSG_DONTWAIT)
		if err == nil {
			break
		}
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			return 0, fmt.Errorf("recvmsg: %w", err)
		}
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("recvmsg: %w", ctx.Err())
		case <-time.After(recvPollInterval):
		}
	}

	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil || len(cmsgs) == 0 {
		return 0, fmt.Errorf("malformed control message: %w", err)
	}

	fds, err := unix.ParseUnixRights(&cmsgs[0])
	if err != nil || len(fds) == 0 {
		return 0, fmt.Errorf("malformed SCM_RIGHTS payload: %w", err)
	}

	return fds[0], nil
}

// marshalSockaddrUn builds the raw bytes of a struct sockaddr_un for path,
// matching the layout t's remote connect/bind expect.
func marshalSockaddrUn(path string) []byte {
	buf := make([]byte, sockaddrUnSize)
	binary.LittleEndian.PutUint16(buf[0:2], unix.AF_UNIX)
	copy(buf[2:], path)
	return buf
}
