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

package reptyr

import "github.com/sirupsen/logrus"

// NewLogger returns a logrus-backed logger preconfigured for the debug
// traces Attach/Steal emit (a few progress and non-fatal failure lines at
// Debug level, not one per remote syscall; silent at Info and above on
// success). Callers that want
// their own logrus.Logger can build an *logrus.Entry directly instead and
// pass it through AttachOptions.
func NewLogger(level logrus.Level) *logrus.Entry {
	l := logrus.New()
	l.SetLevel(level)
	return logrus.NewEntry(l)
}
