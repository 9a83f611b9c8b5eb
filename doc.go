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

// Package lunch supervises a fleet of long-lived worker processes.
//
// Each worker is run by an agent process (lunch-slave), which is launched
// either locally or on a remote host through ssh.  The master talks to
// the agent over a line oriented protocol on the agent's standard input
// and output: it tells the agent what to run, and the agent reports back
// the state of the child it manages.
//
// A Command is the master side of one such session.  It tracks two state
// machines, one for the agent and one for the child, and applies the
// respawn policy: a child that stops after running for less than its
// minimum lifetime disables further restarts until it is explicitly
// enabled again.
//
// A Master holds a set of Commands and starts them in dependency order.
//
package lunch
