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

// Package preflight implements pre-attach sanity checks: a process-group
// busy scan and a capability check that fails fast with a clear error
// instead of a confusing mid-sequence EPERM.
package preflight

import (
	"fmt"
	"os"

	"github.com/syndtr/gocapability/capability"

	"github.com/talismancer/reptyr-go/internal/procfs"
)

// PgroupBusyError reports that another pid shares the target's pgid.
type PgroupBusyError struct {
	Target   int
	Pgid     int
	OtherPid int
}

func (e *PgroupBusyError) Error() string {
	return fmt.Sprintf("pid %d shares process group %d with target %d", e.OtherPid, e.Pgid, e.Target)
}

// CheckPgroup refuses attach if any other pid shares target's
// process group. A not-yet-exec'd child could in
// principle be safely reparented, but detecting that is fragile, so this
// errs conservative.
func CheckPgroup(target int) error {
	st, err := procfs.Read(target)
	if err != nil {
		return err
	}

	pids, err := procfs.ListPids()
	if err != nil {
		return err
	}

	for _, pid := range pids {
		if pid == target {
			continue
		}
		other, err := procfs.Read(pid)
		if err != nil {
			continue
		}
		if other.PGid == st.PGid {
			return &PgroupBusyError{Target: target, Pgid: st.PGid, OtherPid: pid}
		}
	}
	return nil
}

// CheckCapability verifies the caller holds CAP_SYS_PTRACE (or is root,
// which implies it), failing fast instead of letting PTRACE_ATTACH fail
// deep inside the attach sequence with a bare EPERM.
func CheckCapability() error {
	if os.Geteuid() == 0 {
		return nil
	}

	caps, err := capability.NewPid2(os.Getpid())
	if err != nil {
		return fmt.Errorf("load capability set: %w", err)
	}
	if err := caps.Load(); err != nil {
		return fmt.Errorf("load capability set: %w", err)
	}
	if !caps.Get(capability.EFFECTIVE, capability.CAP_SYS_PTRACE) {
		return fmt.Errorf("missing CAP_SYS_PTRACE: run as root or grant the capability")
	}
	return nil
}
