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

package jobctl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPollBudget(t *testing.T) {
	require.Equal(t, byte('T'), byte(StateStopped))
	maxPolls := uint64(DefaultStopTimeout / DefaultPollInterval)
	require.True(t, maxPolls >= 90 && maxPolls <= 110, "default poll budget should be ~100 for a 1s/10ms default, got %d", maxPolls)
}
