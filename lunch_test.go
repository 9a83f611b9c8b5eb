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
	"log"
	"strings"
	"sync"
	"testing"
	"time"
)

// testLog sends log output to the test, and remembers it so that tests
// can look for particular messages.
type testLog struct {
	t     *testing.T
	lines []string
	sync.Mutex
}

func (tl *testLog) Write(p []byte) (n int, err error) {
	s := strings.Trim(string(p), "\n")
	tl.t.Log(s)
	tl.Lock()
	tl.lines = append(tl.lines, s)
	tl.Unlock()
	return len(p), nil
}

func (tl *testLog) Contains(sub string) bool {
	tl.Lock()
	defer tl.Unlock()
	for _, l := range tl.lines {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}

type testProcess struct {
	ev         ProcessEvents
	sent       []string
	terminated int
	killed     int
	sync.Mutex
}

func (p *testProcess) WriteLine(line string) error {
	p.Lock()
	p.sent = append(p.sent, line)
	p.Unlock()
	return nil
}

func (p *testProcess) Terminate() error {
	p.Lock()
	p.terminated++
	p.Unlock()
	return nil
}

func (p *testProcess) Kill() error {
	p.Lock()
	p.killed++
	p.Unlock()
	return nil
}

func (p *testProcess) Pid() int {
	return 4242
}

func (p *testProcess) Sent() []string {
	p.Lock()
	defer p.Unlock()
	return append([]string{}, p.sent...)
}

func (p *testProcess) Terminated() int {
	p.Lock()
	defer p.Unlock()
	return p.terminated
}

func (p *testProcess) Killed() int {
	p.Lock()
	defer p.Unlock()
	return p.killed
}

// testSpawner hands out testProcesses, and lets the test play the
// part of the transport.
type testSpawner struct {
	reqs  []SpawnRequest
	procs []*testProcess
	fail  error
	sync.Mutex
}

func (s *testSpawner) Spawn(req SpawnRequest, ev ProcessEvents) (Process, error) {
	s.Lock()
	defer s.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	p := &testProcess{ev: ev}
	s.reqs = append(s.reqs, req)
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *testSpawner) Count() int {
	s.Lock()
	defer s.Unlock()
	return len(s.procs)
}

func (s *testSpawner) Last() *testProcess {
	s.Lock()
	defer s.Unlock()
	if len(s.procs) == 0 {
		return nil
	}
	return s.procs[len(s.procs)-1]
}

func (s *testSpawner) LastRequest() SpawnRequest {
	s.Lock()
	defer s.Unlock()
	return s.reqs[len(s.reqs)-1]
}

// settle waits until the event loop has handled everything posted so
// far.
func settle(c *Command) {
	c.call(func() error { return nil })
}

func (p *testProcess) connect(c *Command) {
	p.ev.Connected()
	settle(c)
}

func (p *testProcess) say(c *Command, lines ...string) {
	for _, l := range lines {
		p.ev.Stdout(l)
	}
	settle(c)
}

func (p *testProcess) exit(c *Command, code int) {
	p.ev.Exited(code)
	settle(c)
}

func fakeLookPath(name string) (string, error) {
	return "/usr/local/bin/" + name, nil
}

// newTestCommand returns a command wired to a testSpawner, logging to
// the test, with its log directory in a temporary directory.
func newTestCommand(t *testing.T, spec WorkerSpec) (*Command, *testSpawner, *testLog) {
	if spec.LogDir == "" || spec.LogDir == DefaultLogDir {
		spec.LogDir = t.TempDir()
	}
	c, e := NewCommand(spec)
	if e != nil {
		t.Fatalf("NewCommand: %v", e)
	}
	c.lookPath = fakeLookPath
	sp := &testSpawner{}
	c.SetSpawner(sp)
	tl := &testLog{t: t}
	c.SetLogger(log.New(tl, "", 0))
	return c, sp, tl
}

// waitFor polls cond for up to five seconds.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
