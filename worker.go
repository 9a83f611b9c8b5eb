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
	"fmt"
	"strings"
	"time"
	"unicode"
)

const (
	DefaultAgent           = "lunch-slave"
	DefaultLogDir          = "/var/tmp/lunch"
	DefaultSleepAfter      = 250 * time.Millisecond
	DefaultMinimumLifetime = 500 * time.Millisecond
)

// WorkerSpec is the static configuration of one worker.  It is not
// changed once the worker's Command has been created.
type WorkerSpec struct {
	// Identifier names the worker.  It is used in file names, so it
	// may not hold path separators or white space.
	Identifier string

	// Command is the shell command line the agent runs as its child.
	Command string

	Env  map[string]string
	User string

	// Host, when set, makes the master reach the agent through ssh.
	Host string

	Order      int
	SleepAfter time.Duration

	// Respawn is the static wish to have the child restarted.  Whether
	// it actually is depends also on the worker being enabled.
	Respawn bool

	// MinimumLifetime is how long a child must have run for its exit
	// to be worth a respawn.  A shorter run disables the worker.
	MinimumLifetime time.Duration

	LogDir  string
	Depends []string
	Verbose bool

	// Agent is the agent executable, on the (possibly remote) PATH.
	Agent string
}

// NewWorkerSpec returns a spec with the default settings.
func NewWorkerSpec(id string, command string) WorkerSpec {
	return WorkerSpec{
		Identifier:      id,
		Command:         command,
		SleepAfter:      DefaultSleepAfter,
		Respawn:         true,
		MinimumLifetime: DefaultMinimumLifetime,
		LogDir:          DefaultLogDir,
		Agent:           DefaultAgent,
	}
}

// Validate checks for configuration errors.
func (w *WorkerSpec) Validate() error {
	if strings.TrimSpace(w.Command) == "" {
		return fmt.Errorf("%w: worker %q", ErrNoCommand, w.Identifier)
	}
	if w.Identifier == "" {
		return fmt.Errorf("%w: empty", ErrBadIdentifier)
	}
	for _, r := range w.Identifier {
		if r == '/' || r == '\\' || unicode.IsSpace(r) {
			return fmt.Errorf("%w: %q", ErrBadIdentifier, w.Identifier)
		}
	}
	return nil
}

func (w *WorkerSpec) withDefaults() WorkerSpec {
	c := *w
	if c.Agent == "" {
		c.Agent = DefaultAgent
	}
	if c.LogDir == "" {
		c.LogDir = DefaultLogDir
	}
	env := make(map[string]string, len(w.Env))
	for k, v := range w.Env {
		env[k] = v
	}
	c.Env = env
	c.Depends = append([]string{}, w.Depends...)
	return c
}

// Remote is true when the agent runs on another host.
func (w *WorkerSpec) Remote() bool {
	return w.Host != ""
}

// AgentArgs is the argument vector that launches the agent, either
// directly or through ssh.
func (w *WorkerSpec) AgentArgs() []string {
	agent := w.Agent
	if agent == "" {
		agent = DefaultAgent
	}
	args := []string{agent, "--id", w.Identifier}
	if !w.Remote() {
		return args
	}
	ssh := []string{"ssh"}
	if w.User != "" {
		ssh = append(ssh, "-l", w.User)
	}
	ssh = append(ssh, w.Host)
	return append(ssh, args...)
}
