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

package reptyr_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/kr/pty"
	"github.com/stretchr/testify/require"

	"github.com/talismancer/reptyr-go"
)

// requirePtrace skips the test unless it runs as root. A non-root caller
// holding CAP_SYS_PTRACE is skipped as well, and the Yama ptrace policy is
// not consulted.
func requirePtrace(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("requires root or CAP_SYS_PTRACE to ptrace a sibling process")
	}
}

// spawnOnPty starts `sleep 60` with its stdio attached to a fresh pty
// slave, returning the child and the master end.
func spawnOnPty(t *testing.T) (*exec.Cmd, *os.File) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close() })

	cmd := exec.Command("sleep", "60")
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}
	require.NoError(t, cmd.Start())
	slave.Close()

	t.Cleanup(func() { cmd.Process.Kill(); cmd.Wait() })
	return cmd, master
}

func TestAttachRewiresControllingTerminal(t *testing.T) {
	requirePtrace(t)

	cmd, _ := spawnOnPty(t)

	newMaster, newSlave, err := pty.Open()
	require.NoError(t, err)
	defer newMaster.Close()
	defer newSlave.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = reptyr.Attach(ctx, cmd.Process.Pid, newSlave.Name(), reptyr.AttachOptions{})
	require.NoError(t, err)

	link, err := os.Readlink(fmt.Sprintf("/proc/%d/fd/0", cmd.Process.Pid))
	require.NoError(t, err)
	require.Equal(t, newSlave.Name(), link)
}

func TestAttachForceStdioSkipsDiscovery(t *testing.T) {
	requirePtrace(t)

	cmd, _ := spawnOnPty(t)

	_, newSlave, err := pty.Open()
	require.NoError(t, err)
	defer newSlave.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = reptyr.Attach(ctx, cmd.Process.Pid, newSlave.Name(), reptyr.AttachOptions{ForceStdio: true})
	require.NoError(t, err)
}

func TestAttachUnknownPidFails(t *testing.T) {
	requirePtrace(t)

	_, slave, err := pty.Open()
	require.NoError(t, err)
	defer slave.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// A pid this large is vanishingly unlikely to exist.
	err = reptyr.Attach(ctx, 1<<30-1, slave.Name(), reptyr.AttachOptions{})
	require.Error(t, err)
}
