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

package fdlist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPushGrowsByDoubling(t *testing.T) {
	l := New()
	require.Equal(t, 0, l.Cap())

	for i := 0; i < 200; i++ {
		l.Push(i)
		require.Equal(t, i+1, l.Len())
		require.True(t, l.Cap() >= l.Len())
		require.True(t, isPowerOfTwo(l.Cap()), "cap %d is not a power of two at n=%d", l.Cap(), i+1)
	}
}

func TestFdsPreservesOrder(t *testing.T) {
	l := New()
	want := []int{3, 1, 4, 1, 5, 9}
	for _, fd := range want {
		l.Push(fd)
	}
	require.Equal(t, want, l.Fds())
}

func TestEach(t *testing.T) {
	l := New()
	for i := 0; i < 5; i++ {
		l.Push(i * 10)
	}
	var seen []int
	l.Each(func(fd int) { seen = append(seen, fd) })
	require.Equal(t, []int{0, 10, 20, 30, 40}, seen)
}

func isPowerOfTwo(n int) bool {
	if n <= 0 {
		return false
	}
	return n&(n-1) == 0
}
