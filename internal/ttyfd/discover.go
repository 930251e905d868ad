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

// Package ttyfd enumerates a target's open fds and keeps the ones aliasing
// its controlling terminal, /dev/tty, or /dev/console.
package ttyfd

import (
	"github.com/talismancer/reptyr-go/internal/fdlist"
	"github.com/talismancer/reptyr-go/internal/procfs"
)

// Discover returns every fd in pid's fd table whose underlying device
// matches ctty, /dev/tty, or /dev/console. A stat failure on an individual
// fd (e.g. it raced closed) is skipped, not fatal.
func Discover(pid int, ctty uint64) (*fdlist.List, error) {
	devTTY, errTTY := procfs.DeviceOf("/dev/tty")
	devConsole, errConsole := procfs.DeviceOf("/dev/console")

	fds, err := procfs.ListFds(pid)
	if err != nil {
		return nil, err
	}

	out := fdlist.New()
	for _, fd := range fds {
		rdev, _, err := procfs.FdDevice(pid, fd)
		if err != nil {
			continue
		}
		if rdev == ctty {
			out.Push(fd)
			continue
		}
		if errTTY == nil && rdev == devTTY {
			out.Push(fd)
			continue
		}
		if errConsole == nil && rdev == devConsole {
			out.Push(fd)
			continue
		}
	}
	return out, nil
}

// ForceStdio returns the fixed {0, 1, 2} list used when force_stdio is set,
// bypassing device discovery entirely.
func ForceStdio() *fdlist.List {
	l := fdlist.New()
	l.Push(0)
	l.Push(1)
	l.Push(2)
	return l
}
