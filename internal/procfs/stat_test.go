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
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestParseStatBasic(t *testing.T) {
	raw := "1234 (bash) S 1 1234 1234 34816 1234 4194304 100 0 0 0 1 1 0 0 20 0 1 0 100 0 0 0 0 0 0 0 0 0 0 0 0 0 0 17 0 0 0 0 0 0"
	st, err := parseStat([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, 1234, st.Pid)
	require.Equal(t, "bash", st.Comm)
	require.Equal(t, byte('S'), st.State)
	require.Equal(t, 1, st.PPid)
	require.Equal(t, 1234, st.PGid)
	require.Equal(t, 1234, st.Sid)
}

func TestParseStatCommWithParenAndSpaces(t *testing.T) {
	// comm = "a (b) c", which would defeat a naive first-")" split.
	raw := "5 (a (b) c) R 1 5 5 34816 5 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0"
	st, err := parseStat([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, 5, st.Pid)
	require.Equal(t, "a (b) c", st.Comm)
	require.Equal(t, byte('R'), st.State)
}

func TestParseStatCommTruncatedTo16(t *testing.T) {
	longComm := "0123456789abcdefXXXX" // 20 bytes
	raw := "6 (" + longComm + ") S 0 6 6 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0"
	st, err := parseStat([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, longComm[:16], st.Comm)
	require.Len(t, st.Comm, 16)
}

func TestParseStatMalformedMissingParens(t *testing.T) {
	_, err := parseStat([]byte("not a stat record at all"))
	require.Error(t, err)
	var se *StatError
	require.ErrorAs(t, err, &se)
	require.True(t, se.Malformed)
}

func TestParseStatMalformedMissingFields(t *testing.T) {
	_, err := parseStat([]byte("1 (x) S 1"))
	require.Error(t, err)
	var se *StatError
	require.ErrorAs(t, err, &se)
	require.True(t, se.Malformed)
}

func TestTtyNrToDevMinorAbove255(t *testing.T) {
	// tty_nr packs minor across two disjoint ranges: bits 7-0 hold the low
	// byte, bits 31-20 hold the rest, shifted up by 8 once reassembled.
	// major=136 (pts), minor=300 (300 >= 256, so the high range is
	// exercised) encodes to 1083436; a decode that forgets the <<8 on the
	// high term recovers the wrong minor.
	raw := "1 (x) S 0 0 0 1083436 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0"
	st, err := parseStat([]byte(raw))
	require.NoError(t, err)
	require.EqualValues(t, 136, unix.Major(st.Ctty))
	require.EqualValues(t, 300, unix.Minor(st.Ctty))
}

func TestCloneIsIndependent(t *testing.T) {
	st := &ProcStat{Pid: 1, Comm: "init"}
	clone := st.Clone()
	clone.Comm = "changed"
	require.Equal(t, "init", st.Comm)
	require.Equal(t, "changed", clone.Comm)
}
