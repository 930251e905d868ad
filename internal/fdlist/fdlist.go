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

// Package fdlist implements a growable list of file descriptors with
// amortised doubling, mirroring the original reptyr's fd_array.
package fdlist

// List is a dynamic array of fds. The zero value is an empty list.
// Invariants: len(l.fds) <= cap(l.fds), and cap(l.fds) only grows.
type List struct {
	fds []int
}

// New returns an empty list.
func New() *List {
	return &List{}
}

// Len returns the number of fds currently held.
func (l *List) Len() int {
	return len(l.fds)
}

// Cap returns the backing capacity, always a power of two >= 2 once
// anything has been pushed.
func (l *List) Cap() int {
	return cap(l.fds)
}

// Push appends fd, growing the backing array by doubling (starting at 2)
// when exhausted. It never shrinks.
func (l *List) Push(fd int) {
	if len(l.fds) == cap(l.fds) {
		newCap := cap(l.fds) * 2
		if newCap == 0 {
			newCap = 2
		}
		grown := make([]int, len(l.fds), newCap)
		copy(grown, l.fds)
		l.fds = grown
	}
	l.fds = append(l.fds, fd)
}

// Fds returns the backing slice of fds in push order. Callers must not
// retain it across further Push calls.
func (l *List) Fds() []int {
	return l.fds
}

// Each calls fn for every fd in push order.
func (l *List) Each(fn func(fd int)) {
	for _, fd := range l.fds {
		fn(fd)
	}
}
