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
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// Agent state machine events.
const (
	evSpawn   = "spawn"
	evConnect = "connect"
	evStop    = "stop"
	evExit    = "exit"
)

func newAgentFSM() *fsm.FSM {
	stopped := StateStopped.String()
	starting := StateStarting.String()
	running := StateRunning.String()
	stopping := StateStopping.String()
	return fsm.NewFSM(
		stopped,
		fsm.Events{
			{Name: evSpawn, Src: []string{stopped}, Dst: starting},
			{Name: evConnect, Src: []string{starting}, Dst: running},
			{Name: evStop, Src: []string{starting, running}, Dst: stopping},
			{Name: evExit, Src: []string{starting, running, stopping}, Dst: stopped},
		},
		fsm.Callbacks{},
	)
}

// Command supervises one worker: it launches the agent, tells it what
// child to run, and follows the states of both.
//
// All the work is done on a goroutine of its own, which handles one
// event at a time: requests made through the methods below, and what the
// transport reports about the agent process.  The methods that make
// requests wait until the request has been handled, but never for the
// agent to act on it.  They must not be called from a subscriber of the
// state change signals, since those run on the same goroutine.
type Command struct {
	spec     WorkerSpec
	spawner  Spawner
	lookPath func(string) (string, error)

	agent    *fsm.FSM
	proc     Process
	gen      int
	handlers map[MessageKind]func(Message)

	// Read from other goroutines, so guarded by mx.  Only the event
	// loop writes them.
	agentState State
	childState State
	enabled    bool
	runs       int
	mx         sync.Mutex

	mlog    *MultiLogger
	master  *log.Logger
	records *Log
	slog    *slaveLog
	slogger *log.Logger

	events chan func()
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once

	// AgentStateChanged and ChildStateChanged are published when the
	// state actually changes, on the event loop goroutine.
	AgentStateChanged Signal[AgentStateChange]
	ChildStateChanged Signal[ChildStateChange]
}

// NewCommand validates the spec and returns a stopped supervisor for it.
func NewCommand(spec WorkerSpec) (*Command, error) {
	if e := spec.Validate(); e != nil {
		return nil, e
	}
	c := &Command{
		spec:       spec.withDefaults(),
		spawner:    ExecSpawner{},
		lookPath:   exec.LookPath,
		agent:      newAgentFSM(),
		agentState: StateStopped,
		childState: StateStopped,
		enabled:    true,
		mlog:       NewMultiLogger(),
		records:    NewLog(0),
		events:     make(chan func()),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	c.handlers = map[MessageKind]func(Message){
		KindReady: c.recvReady,
		KindState: c.recvState,
		KindOk:    func(Message) {},
		KindMsg:   c.recvMsg,
		KindLog:   c.recvLog,
		KindError: c.recvError,
		KindPong:  func(Message) {},
		KindBye:   c.recvBye,
	}
	c.mlog.AddLogger(log.New(c.records, "", 0))
	c.master = log.New(os.Stderr, "["+c.spec.Identifier+"] ", log.LstdFlags)
	c.mlog.AddLogger(c.master)
	go c.loop()
	return c, nil
}

func (c *Command) loop() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-c.quit:
			return
		}
	}
}

// post hands fn to the event loop.  It returns false once the command
// has been closed.
func (c *Command) post(fn func()) bool {
	select {
	case c.events <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// call runs fn on the event loop, and returns its result.
func (c *Command) call(fn func() error) error {
	rv := make(chan error, 1)
	if !c.post(func() { rv <- fn() }) {
		return ErrClosed
	}
	select {
	case e := <-rv:
		return e
	case <-c.done:
		return ErrClosed
	}
}

// Identifier returns the worker identifier.
func (c *Command) Identifier() string {
	return c.spec.Identifier
}

// Spec returns a copy of the worker configuration.
func (c *Command) Spec() WorkerSpec {
	return c.spec.withDefaults()
}

func (c *Command) String() string {
	return c.spec.Identifier
}

// AgentState returns the state of the agent process.
func (c *Command) AgentState() State {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.agentState
}

// ChildState returns the state of the child, as last reported by the
// agent.
func (c *Command) ChildState() State {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.childState
}

// Enabled reports whether the child is restarted when the agent asks
// for it.  The crash loop guard clears it.
func (c *Command) Enabled() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.enabled
}

// RunCount returns how many times the child has been seen running.
func (c *Command) RunCount() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.runs
}

// GetLog returns the recent log lines of this worker; see Log.GetRecords.
func (c *Command) GetLog(last int64) ([]LogRecord, int64) {
	return c.records.GetRecords(last)
}

// WatchLog waits for the log of this worker to change.
func (c *Command) WatchLog(last int64, expire time.Duration) int64 {
	return c.records.Watch(last, expire)
}

// SetLogger replaces the logger that worker messages are copied to,
// besides the worker's own log.  A nil logger stops the copying.
func (c *Command) SetLogger(l *log.Logger) {
	c.call(func() error {
		if c.master != nil {
			c.mlog.DelLogger(c.master)
		}
		c.master = l
		if l != nil {
			c.mlog.AddLogger(l)
		}
		return nil
	})
}

// SetSpawner replaces the way agent processes are launched.
func (c *Command) SetSpawner(s Spawner) {
	c.call(func() error {
		c.spawner = s
		return nil
	})
}

// Start launches the agent, which then runs the child.  If the agent is
// already up with its child stopped, the child is started again.  Start
// also enables the worker, clearing the crash loop guard.
func (c *Command) Start() error {
	return c.call(c.start)
}

// Stop shuts the agent down.  The first call asks the agent to stop the
// child gracefully, or terminates the agent if there is no child.  A
// second call while the agent is still stopping kills it.
func (c *Command) Stop() error {
	return c.call(c.stop)
}

// StopChild asks the agent to stop the child, and disables the worker so
// that it is not restarted.  The agent stays up.
func (c *Command) StopChild() error {
	return c.call(c.stopChild)
}

// Enable allows the child to be restarted again, e.g. after the crash
// loop guard disabled it.
func (c *Command) Enable() error {
	return c.call(func() error {
		c.setEnabled(true)
		return nil
	})
}

// Disable keeps the child from being restarted.
func (c *Command) Disable() error {
	return c.call(func() error {
		c.setEnabled(false)
		return nil
	})
}

// Ping sends a liveness probe to the agent.
func (c *Command) Ping() error {
	return c.call(func() error {
		if c.proc == nil {
			return ErrNotRunning
		}
		c.send(NewMessage(KindPing, ""))
		return nil
	})
}

// Close kills the agent if it is still running, releases the log file
// and stops the event loop.  The Command cannot be used afterwards.
func (c *Command) Close() error {
	c.once.Do(func() {
		c.call(func() error {
			if c.proc != nil {
				c.logf("Killing agent %s on close.", c.spec.Identifier)
				c.kill()
			}
			c.closeLog()
			return nil
		})
		close(c.quit)
		<-c.done
	})
	return nil
}

func (c *Command) logf(format string, v ...interface{}) {
	c.mlog.Logger().Printf(format, v...)
}

func (c *Command) errorf(format string, v ...interface{}) {
	c.mlog.Logger().Printf("ERROR "+format, v...)
}

func (c *Command) warnf(format string, v ...interface{}) {
	c.mlog.Logger().Printf("WARNING "+format, v...)
}

// workerLog records a line in the worker's own log only.
func (c *Command) workerLog(line string) {
	c.records.Write([]byte(line))
	if c.slogger != nil {
		c.slogger.Println(line)
	}
}

func (c *Command) openLog() error {
	if c.slog != nil {
		return nil
	}
	l, e := openSlaveLog(c.spec.LogDir, c.spec.Identifier)
	if e != nil {
		return e
	}
	c.slog = l
	c.slogger = log.New(l, "", 0)
	c.mlog.AddLogger(c.slogger)
	return nil
}

func (c *Command) closeLog() {
	if c.slog == nil {
		return
	}
	c.mlog.DelLogger(c.slogger)
	c.slog.Close()
	c.slog = nil
	c.slogger = nil
}

func (c *Command) setEnabled(v bool) {
	c.mx.Lock()
	c.enabled = v
	c.mx.Unlock()
}

// fire moves the agent state machine, and publishes the new state.
func (c *Command) fire(event string) bool {
	if e := c.agent.Event(context.Background(), event); e != nil {
		c.errorf("Agent %s: %s: %v", c.spec.Identifier, event, e)
		return false
	}
	s, _ := ParseState(c.agent.Current())
	c.logf("Slave %s is %s.", c.spec.Identifier, s)
	c.mx.Lock()
	changed := c.agentState != s
	c.agentState = s
	c.mx.Unlock()
	if changed {
		c.AgentStateChanged.Publish(AgentStateChange{Worker: c, State: s})
	}
	return true
}

func (c *Command) setChildState(s State) {
	c.mx.Lock()
	if c.childState == s {
		c.mx.Unlock()
		return
	}
	c.childState = s
	if s == StateRunning {
		c.runs++
	}
	c.mx.Unlock()
	c.ChildStateChanged.Publish(ChildStateChange{Worker: c, State: s})
}

func (c *Command) start() error {
	id := c.spec.Identifier
	if e := c.openLog(); e != nil {
		c.errorf("Cannot open log of %s: %v", id, e)
		return e
	}

	agent, child := c.agentState, c.childState
	switch {
	case child.Transitioning():
		c.logf("Cannot start child %s that is %s.", id, child)
		return ErrBusy
	case agent.Transitioning():
		c.logf("Cannot start slave %s that is %s.", id, agent)
		return ErrBusy
	}
	c.setEnabled(true)
	switch {
	case agent == StateRunning && child == StateStopped:
		c.sendStartup()
		return nil
	case agent == StateRunning:
		c.logf("Child %s is already %s.", id, child)
		return nil
	}

	args := c.spec.AgentArgs()
	if c.spec.Remote() {
		c.logf("We will use SSH since host is %s", c.spec.Host)
	}
	path, e := c.lookPath(args[0])
	if e != nil {
		c.errorf("Could not find path of executable %s.", args[0])
		return fmt.Errorf("%w: %s", ErrNoExecutable, args[0])
	}
	c.logf("Will run command: %s", strings.Join(args, " "))

	c.gen++
	req := SpawnRequest{
		Path: path,
		Args: args,
		Env:  os.Environ(),
		PTY:  c.spec.Remote(),
	}
	proc, e := c.spawner.Spawn(req, &commandEvents{c: c, gen: c.gen})
	if e != nil {
		c.errorf("Failed to start slave %s: %v", id, e)
		return e
	}
	c.proc = proc
	c.logf("Starting: %s", id)
	c.fire(evSpawn)
	return nil
}

func (c *Command) stop() error {
	id := c.spec.Identifier
	switch c.agentState {
	case StateStopped:
		c.errorf("Cannot stop the slave process %s that is in %q state.", id, c.agentState)
		return ErrNotRunning
	case StateStopping:
		c.logf("kill -9 Slave %s", id)
		c.kill()
		return nil
	}
	switch c.childState {
	case StateStarting, StateRunning:
		c.stopChild()
	case StateStopped:
		c.terminate()
	}
	c.fire(evStop)
	c.logf("Master will stop slave %s.", id)
	return nil
}

func (c *Command) stopChild() error {
	c.setEnabled(false)
	if !c.childState.Active() {
		c.errorf("Cannot stop child %s that is %s.", c.spec.Identifier, c.childState)
		return ErrNotRunning
	}
	c.logf("Will stop process %s.", c.spec.Identifier)
	c.send(NewMessage(KindStop, ""))
	return nil
}

func (c *Command) terminate() {
	if c.proc == nil {
		return
	}
	if e := c.proc.Terminate(); e != nil {
		c.errorf("Failed to terminate slave %s: %v", c.spec.Identifier, e)
	}
}

func (c *Command) kill() {
	if c.proc == nil {
		return
	}
	if e := c.proc.Kill(); e != nil {
		c.errorf("Failed to kill slave %s: %v", c.spec.Identifier, e)
	}
}

func (c *Command) send(m Message) {
	line := m.String()
	if c.proc == nil {
		c.errorf("Cannot send %q to slave %s: no process.", line, c.spec.Identifier)
		return
	}
	if c.spec.Verbose {
		c.logf("Master->%s: %s", c.spec.Identifier, line)
	}
	if e := c.proc.WriteLine(line); e != nil {
		c.errorf("Failed to write to slave %s: %v", c.spec.Identifier, e)
	}
}

// sendStartup tells the agent what to run, and to run it.
func (c *Command) sendStartup() {
	c.send(NewMessage(KindDo, c.spec.Command))
	c.send(NewMessage(KindLogDir, c.spec.LogDir))
	c.send(NewMessage(KindEnv, formatEnv(c.spec.Env)))
	c.send(NewMessage(KindRun, ""))
}

func (c *Command) connected() {
	if c.agentState != StateStarting {
		c.errorf("Connection made with slave %s, even if not expecting it.", c.spec.Identifier)
		return
	}
	c.fire(evConnect)
}

func (c *Command) exited(code int) {
	id := c.spec.Identifier
	switch c.agentState {
	case StateStarting:
		c.errorf("Slave %s died during startup.", id)
	case StateRunning:
		if code == 0 {
			c.logf("Slave %s exited.", id)
		} else {
			c.errorf("Slave %s exited with error %d.", id, code)
		}
	case StateStopping:
		c.logf("Slave %s exited as expected.", id)
	}
	c.proc = nil
	if c.agentState != StateStopped {
		c.fire(evExit)
	}
	// Without an agent, there is no child.
	c.setChildState(StateStopped)
}

// dispatch handles one line the agent wrote on its standard output.
func (c *Command) dispatch(line string) {
	id := c.spec.Identifier
	m, e := ParseMessage(line)
	if e != nil {
		c.errorf("From slave %s: %s", id, line)
		return
	}
	if passwordPrompt(line) {
		c.logf("%s", line)
		c.errorf("SSH ERROR: Trying to connect to %s using SSH, but the SSH server is asking for a password. Set up key authentication.", c.spec.Host)
		return
	}
	if m.Kind.OutboundOnly() {
		c.warnf("Slave %s echoes its standard input: received %q.", id, line)
		return
	}
	h, ok := c.handlers[m.Kind]
	if !ok {
		c.errorf("From slave %s: %s", id, line)
		return
	}
	h(m)
}

func (c *Command) recvReady(Message) {
	if !c.enabled {
		c.logf("Slave %s is ready, but %s is disabled.", c.spec.Identifier, c.spec.Identifier)
		return
	}
	c.sendStartup()
}

func (c *Command) recvState(m Message) {
	id := c.spec.Identifier
	r, e := ParseStateReport(m.Payload)
	if e != nil {
		c.errorf("From slave %s: %v", id, e)
		return
	}
	c.setChildState(r.State)
	c.logf("%s->Master: child STATE is %s", id, r.State)

	switch r.State {
	case StateRunning:
		c.logf("Child %s is running.", id)
	case StateStopped:
		if c.enabled && c.spec.Respawn {
			min := c.spec.MinimumLifetime.Seconds()
			if !r.HasElapsed {
				c.errorf("Slave %s did not say how long its child ran.", id)
			} else if r.Elapsed < min {
				c.logf("Not respawning child since its running time of %g has been shorter than the minimum of %g.", r.Elapsed, min)
				c.setEnabled(false)
			}
		}
		// A graceful shutdown is complete once the child is gone.
		if c.agentState == StateStopping {
			c.terminate()
		}
	}
}

func (c *Command) recvMsg(m Message) {
	c.logf("%s->Master: %s", c.spec.Identifier, m.Payload)
}

func (c *Command) recvLog(m Message) {
	c.logf("%s->Master: log %s", c.spec.Identifier, m.Payload)
}

func (c *Command) recvError(m Message) {
	c.errorf("%s->Master: %s", c.spec.Identifier, m.Payload)
}

func (c *Command) recvBye(Message) {
	c.errorf("%s->Master: BYE (slave quits)", c.spec.Identifier)
}

// commandEvents feeds what the transport reports into the event loop of
// a Command.  Events from an earlier agent process are dropped.
type commandEvents struct {
	c   *Command
	gen int
}

func (ev *commandEvents) handle(fn func()) {
	ev.c.post(func() {
		if ev.gen == ev.c.gen {
			fn()
		}
	})
}

func (ev *commandEvents) Connected() {
	ev.handle(ev.c.connected)
}

func (ev *commandEvents) Stdout(line string) {
	ev.handle(func() { ev.c.dispatch(line) })
}

func (ev *commandEvents) Stderr(line string) {
	ev.handle(func() { ev.c.workerLog("stderr: " + line) })
}

func (ev *commandEvents) Exited(code int) {
	ev.handle(func() { ev.c.exited(code) })
}
