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

package procfs

import (
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// ListFds returns every fd number the process currently has open, read
// from /proc/pid/fd. A failure here is IO, not malformed: the directory
// either exists and is readable, or the pid is gone/inaccessible.
func ListFds(pid int) ([]int, error) {
	dir := filepath.Join("/proc", strconv.Itoa(pid), "fd")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &StatError{Err: err}
	}
	fds := make([]int, 0, len(entries))
	for _, e := range entries {
		fd, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		fds = append(fds, fd)
	}
	return fds, nil
}

// FdDevice stats the target's fd N through /proc/pid/fd/N and returns the
// device number of whatever it refers to. Returns the underlying stat
// error so callers can skip individual fds that raced closed (ENOENT) and
// treat anything else as fatal.
func FdDevice(pid, fd int) (rdev uint64, ino uint64, err error) {
	path := filepath.Join("/proc", strconv.Itoa(pid), "fd", strconv.Itoa(fd))
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, err
	}
	return st.Rdev, st.Ino, nil
}

// DeviceOf stats a plain path (e.g. /dev/tty, /dev/console) and returns its
// device number.
func DeviceOf(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, &StatError{Err: err}
	}
	return st.Rdev, nil
}
