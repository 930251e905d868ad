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

// Package procfs reads /proc/pid/stat records and resolves the
// controlling-tty, fd-table, and process-group facts the core needs to
// reason about a target's current state.
package procfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mohae/deepcopy"
	"golang.org/x/sys/unix"
)

const commMax = 16

// ProcStat is a read-only snapshot of a process's kernel stat record, per
// proc(5): pid, comm, state, ppid, pgid, sid, and controlling-tty device.
type ProcStat struct {
	Pid   int
	Comm  string
	State byte
	PPid  int
	PGid  int
	Sid   int
	Ctty  uint64 // packed major/minor, 0 if the process has no ctty
}

// Clone returns a deep copy of s. Read already returns a fresh snapshot on
// every call, so a snapshot stays valid across later Reads without it.
func (s *ProcStat) Clone() *ProcStat {
	return deepcopy.Copy(s).(*ProcStat)
}

// StatError classifies why parsing or reading a stat record failed.
type StatError struct {
	Malformed bool
	Err       error
}

func (e *StatError) Error() string {
	if e.Malformed {
		return fmt.Sprintf("malformed stat record: %v", e.Err)
	}
	return fmt.Sprintf("stat read: %v", e.Err)
}

func (e *StatError) Unwrap() error { return e.Err }

// Reader holds a /proc/pid/stat fd open across repeated Read calls, so
// polling loops (see package jobctl) don't reopen it every iteration and
// don't race the pid being recycled in the same namespace slot.
type Reader struct {
	pid int
	f   *os.File
}

// Open opens /proc/pid/stat for repeated reads.
func Open(pid int) (*Reader, error) {
	f, err := os.Open(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return nil, &StatError{Err: err}
	}
	return &Reader{pid: pid, f: f}, nil
}

// Close releases the held-open fd.
func (r *Reader) Close() error {
	return r.f.Close()
}

// Read re-reads and re-parses the stat record in one short read.
func (r *Reader) Read() (*ProcStat, error) {
	if _, err := r.f.Seek(0, 0); err != nil {
		return nil, &StatError{Err: err}
	}
	buf := make([]byte, 1024)
	n, err := r.f.Read(buf)
	if err != nil {
		return nil, &StatError{Err: err}
	}
	return parseStat(buf[:n])
}

// Read opens /proc/pid/stat, reads it once, and parses it. Prefer Reader
// for repeated polling of the same pid.
func Read(pid int) (*ProcStat, error) {
	r, err := Open(pid)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Read()
}

// parseStat parses the fixed leading prefix "pid (comm) state ppid pgid sid
// tty_nr ...". comm is bounded by the outermost ')': this scans backward
// from the end of the buffer for the last ')' rather than the first, so a
// comm containing ')' (truncated to commMax bytes by the kernel) is parsed
// correctly, unlike a naive Fscanf("%d (%s) %c ...") split on the first
// ')'.
func parseStat(buf []byte) (*ProcStat, error) {
	s := string(buf)

	open := strings.IndexByte(s, '(')
	close := strings.LastIndexByte(s, ')')
	if open < 0 || close < 0 || close <= open {
		return nil, &StatError{Malformed: true, Err: fmt.Errorf("no comm parens in %q", s)}
	}

	pidStr := strings.TrimSpace(s[:open])
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return nil, &StatError{Malformed: true, Err: fmt.Errorf("bad pid field: %w", err)}
	}

	comm := s[open+1 : close]
	if len(comm) > commMax {
		comm = comm[:commMax]
	}

	rest := strings.Fields(s[close+1:])
	// rest[0]=state rest[1]=ppid rest[2]=pgid rest[3]=sid rest[4]=tty_nr
	if len(rest) < 5 {
		return nil, &StatError{Malformed: true, Err: fmt.Errorf("missing fields after comm in %q", s)}
	}
	if len(rest[0]) != 1 {
		return nil, &StatError{Malformed: true, Err: fmt.Errorf("bad state field %q", rest[0])}
	}

	ppid, err1 := strconv.Atoi(rest[1])
	pgid, err2 := strconv.Atoi(rest[2])
	sid, err3 := strconv.Atoi(rest[3])
	ttyNr, err4 := strconv.ParseInt(rest[4], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return nil, &StatError{Malformed: true, Err: fmt.Errorf("bad integer field in %q", s)}
	}

	return &ProcStat{
		Pid:   pid,
		Comm:  comm,
		State: rest[0][0],
		PPid:  ppid,
		PGid:  pgid,
		Sid:   sid,
		Ctty:  ttyNrToDev(ttyNr),
	}, nil
}

// ttyNrToDev unpacks the kernel's tty_nr encoding (minor bits 31-20 and
// 7-0, major bits 15-8) into a normal packed dev_t as returned by
// unix.Stat_t.Rdev, so it can be compared directly against stat() results.
func ttyNrToDev(ttyNr int64) uint64 {
	v := uint32(ttyNr)
	major := (v >> 8) & 0xfff
	minor := (v & 0xff) | (((v >> 20) & 0xfff) << 8)
	return unix.Mkdev(major, minor)
}

// ListPids enumerates /proc entries that parse as a pid.
func ListPids() ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, &StatError{Err: err}
	}
	var pids []int
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}
