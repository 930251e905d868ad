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

// Package jobctl freezes a target via job-control signal, polls its /proc
// stat record until it reaches state T, then resumes it with SIGCONT.
package jobctl

import (
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/talismancer/reptyr-go/internal/procfs"
)

// Defaults used when the caller doesn't have a loaded config handy (tests,
// or config.Default()'s values pre-parse).
const (
	DefaultPollInterval = 10 * time.Millisecond
	DefaultStopTimeout  = 1 * time.Second
)

// StateStopped is the proc(5) state letter for "stopped" (job control).
const StateStopped = 'T'

// WaitForStop sends signal to pid and polls its stat record at
// pollInterval for up to stopTimeout, returning once it observes state T.
// Timeout is not an error: the caller proceeds regardless,
// logging that the target never cleanly stopped. Callers pick the signal:
// a catchable job-control stop (SIGTSTP) lets a target that masks or
// ignores it keep running, while SIGSTOP guarantees the stop.
func WaitForStop(log *logrus.Entry, pid int, signal unix.Signal, pollInterval, stopTimeout time.Duration) (reachedStop bool, err error) {
	if err := unix.Kill(pid, signal); err != nil {
		return false, err
	}

	r, err := procfs.Open(pid)
	if err != nil {
		return false, err
	}
	defer r.Close()

	stallLogger := rate.Sometimes{Interval: 200 * time.Millisecond}

	reached := false
	op := func() error {
		st, err := r.Read()
		if err != nil {
			return backoff.Permanent(err)
		}
		if st.State == StateStopped {
			reached = true
			return nil
		}
		stallLogger.Do(func() {
			log.WithField("state", string(st.State)).Debug("still waiting for target to stop")
		})
		return errNotStopped
	}

	maxPolls := uint64(stopTimeout / pollInterval)
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(pollInterval), maxPolls)
	if retryErr := backoff.Retry(op, b); retryErr != nil && retryErr != errNotStopped {
		return false, retryErr
	}
	if !reached {
		log.WithField("timeout", stopTimeout).Debug("target did not reach stopped state in time, proceeding anyway")
	}
	return reached, nil
}

// Resume sends SIGCONT to pid. A caller that stops a target via
// WaitForStop must Resume it before returning, regardless of outcome; one
// SIGCONT continues the target however many stops preceded it, so Attach
// covers its freeze and its nudge with a single deferred Resume.
func Resume(log *logrus.Entry, pid int) error {
	if err := unix.Kill(pid, unix.SIGCONT); err != nil {
		log.WithError(err).Warn("failed to resume target with SIGCONT")
		return err
	}
	return nil
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

const errNotStopped = sentinelErr("target has not reached stopped state yet")
