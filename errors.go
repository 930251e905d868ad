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

import "fmt"

// ErrorKind identifies the class of failure returned by Attach or Steal.
// It satisfies the error interface and is comparable with errors.Is.
type ErrorKind int

const (
	// ErrBusy means another process shares the target's process group.
	ErrBusy ErrorKind = iota + 1
	// ErrNoTTY means the target has no tty among its stdio fds and
	// ForceStdio was not requested.
	ErrNoTTY
	// ErrNotPTY means the target's controlling tty is not a Unix-98 pty
	// slave, so it cannot be stolen from an emulator.
	ErrNotPTY
	// ErrNotFound means no master pty fd was found in the emulator.
	ErrNotFound
	// ErrMalformed means a /proc/pid/stat record or a control message did
	// not have the expected shape.
	ErrMalformed
	// ErrIO means a filesystem or socket operation failed.
	ErrIO
	// ErrTimeout is informational: the target never reached the stopped
	// state within the poll deadline. Attach/Steal still proceed.
	ErrTimeout
	// ErrOOM means fd-list growth failed to allocate.
	ErrOOM
)

func (k ErrorKind) String() string {
	switch k {
	case ErrBusy:
		return "BUSY"
	case ErrNoTTY:
		return "NOTTY"
	case ErrNotPTY:
		return "NOT_PTY"
	case ErrNotFound:
		return "NOT_FOUND"
	case ErrMalformed:
		return "MALFORMED"
	case ErrIO:
		return "IO"
	case ErrTimeout:
		return "TIMEOUT"
	case ErrOOM:
		return "OOM"
	default:
		return "UNKNOWN"
	}
}

func (k ErrorKind) Error() string { return k.String() }

// RemoteError wraps a negated remote-syscall return value: the positive
// errno the target's syscall reported.
type RemoteError struct {
	Errno int
	Op    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: errno %d", e.Op, e.Errno)
}

// Is reports whether target is also a *RemoteError, so
// errors.Is(err, &RemoteError{}) matches any remote-syscall failure
// whatever its Op or Errno. It does not match ErrIO or any other
// ErrorKind; use errors.As to read Op and Errno.
func (e *RemoteError) Is(target error) bool {
	_, ok := target.(*RemoteError)
	return ok
}
