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
	"strings"
)

// State is the state of either an agent or the child it manages.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

var stateNames = map[State]string{
	StateStopped:  "STOPPED",
	StateStarting: "STARTING",
	StateRunning:  "RUNNING",
	StateStopping: "STOPPING",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "INVALID"
}

// Active is true for a starting or running state.
func (s State) Active() bool {
	return s == StateStarting || s == StateRunning
}

// Transitioning is true while a start or stop is in progress.
func (s State) Transitioning() bool {
	return s == StateStarting || s == StateStopping
}

// MarshalText renders the protocol name of the state.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	v, ok := ParseState(string(b))
	if !ok {
		return ErrBadState
	}
	*s = v
	return nil
}

// ParseState converts a protocol state name.  Names are matched without
// regard to case.  Anything other than the four known names is rejected.
func ParseState(name string) (State, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for s, n := range stateNames {
		if n == name {
			return s, true
		}
	}
	return StateStopped, false
}

// AgentStateChange is published when the agent of a worker changes state.
type AgentStateChange struct {
	Worker *Command
	State  State
}

// ChildStateChange is published when the child of a worker changes state.
type ChildStateChange struct {
	Worker *Command
	State  State
}
