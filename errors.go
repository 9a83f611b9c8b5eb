// Copyright 2026 The Lunch Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lunch

import (
	"errors"
)

var (
	ErrNoCommand       = errors.New("No command to run")
	ErrBadIdentifier   = errors.New("Bad worker identifier")
	ErrNoExecutable    = errors.New("Could not find executable")
	ErrBusy            = errors.New("Transition in progress")
	ErrNotRunning      = errors.New("Agent is not running")
	ErrLogLocked       = errors.New("Log file owned by another master")
	ErrDuplicate       = errors.New("Duplicate worker identifier")
	ErrUnknownWorker   = errors.New("No such worker")
	ErrDependencyCycle = errors.New("Dependency cycle between workers")
	ErrBadManifest     = errors.New("Bad manifest")
	ErrClosed          = errors.New("Worker supervisor closed")
	ErrBadState        = errors.New("Bad state name")
)
