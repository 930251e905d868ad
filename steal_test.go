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
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/kr/pty"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/talismancer/reptyr-go"
)

// emulatorHelperEnv, when set to "1" in the test binary's own environment,
// re-execs this same binary as a stand-in terminal emulator instead of
// running the test suite: it opens a pty, execs the target onto the slave
// with Setsid+Setctty, reports the target's pid and the master's device
// number on stdout, then blocks forever holding the master fd open. This
// is the only way to get a real "emulator holds the pty master, target's
// session leader is its direct child" process tree for Steal to walk,
// short of spawning an actual terminal program.
const emulatorHelperEnv = "REPTYR_TEST_EMULATOR_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(emulatorHelperEnv) == "1" {
		runEmulatorHelper()
		return
	}
	os.Exit(m.Run())
}

func runEmulatorHelper() {
	master, slave, err := pty.Open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "emulator helper: pty.Open: %v\n", err)
		os.Exit(1)
	}

	var st unix.Stat_t
	if err := unix.Fstat(int(master.Fd()), &st); err != nil {
		fmt.Fprintf(os.Stderr, "emulator helper: fstat master: %v\n", err)
		os.Exit(1)
	}

	cmd := exec.Command("sleep", "60")
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "emulator helper: start target: %v\n", err)
		os.Exit(1)
	}
	slave.Close()

	fmt.Printf("TARGET_PID %d\n", cmd.Process.Pid)
	fmt.Printf("MASTER_RDEV %d\n", st.Rdev)
	os.Stdout.Sync()

	// Hold the master fd open (and this process alive) until the test
	// kills us; that's the whole of the emulator role Steal needs.
	select {}
}

// spawnEmulator starts this test binary as an emulator helper and returns
// its pid, the target pid it reports spawning onto the pty, and the
// master pty's device number as the helper itself observed it.
func spawnEmulator(t *testing.T) (emulatorPid, targetPid int, masterRdev uint64) {
	t.Helper()

	cmd := exec.Command(os.Args[0], "-test.run=^$")
	cmd.Env = append(os.Environ(), emulatorHelperEnv+"=1")
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	cmd.Stderr = os.Stderr
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	sc := bufio.NewScanner(stdout)
	var gotPid, gotRdev bool
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "TARGET_PID "):
			_, err := fmt.Sscanf(line, "TARGET_PID %d", &targetPid)
			require.NoError(t, err)
			gotPid = true
		case strings.HasPrefix(line, "MASTER_RDEV "):
			_, err := fmt.Sscanf(line, "MASTER_RDEV %d", &masterRdev)
			require.NoError(t, err)
			gotRdev = true
		}
		if gotPid && gotRdev {
			break
		}
	}
	require.True(t, gotPid && gotRdev, "emulator helper never reported target pid and master device")

	return cmd.Process.Pid, targetPid, masterRdev
}

func TestStealReturnsEmulatorsMasterFd(t *testing.T) {
	requirePtrace(t)

	_, targetPid, masterRdev := spawnEmulator(t)

	// Give the target a moment to finish setsid/Setctty before Steal
	// reads its /proc/pid/stat looking for a pty-slave ctty.
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fd, err := reptyr.Steal(ctx, targetPid)
	require.NoError(t, err)
	defer unix.Close(fd)

	var st unix.Stat_t
	require.NoError(t, unix.Fstat(fd, &st))
	require.Equal(t, uint32(unix.S_IFCHR), st.Mode&unix.S_IFMT, "stolen fd should be a character device")
	require.Equal(t, masterRdev, st.Rdev, "stolen fd's device should be the same pty master the emulator held open")
}

func TestStealNonPtyCttyFails(t *testing.T) {
	requirePtrace(t)

	// The test binary's own controlling terminal (if any) is not a
	// Unix-98 pty slave under the emulator-helper process tree Steal
	// expects; an unrelated, freshly spawned process with no controlling
	// terminal at all exercises the same rejection path more reliably.
	cmd := exec.Command("sleep", "60")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := reptyr.Steal(ctx, cmd.Process.Pid)
	require.Error(t, err)
}
