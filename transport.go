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
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// drainTime bounds how long we keep reading the output of a process
// after it has exited.  A descendant that inherited a pipe or the
// terminal would otherwise keep it open forever.
const drainTime = time.Second

// SpawnRequest describes an agent process to launch.
type SpawnRequest struct {
	Path string   // Resolved executable
	Args []string // Argument vector, Args[0] being the program name
	Env  []string // Complete environment, as "key=value"
	PTY  bool     // Attach stdin and stdout to a pseudo-terminal
}

// ProcessEvents receives what happens to a spawned process.  Stdout and
// Stderr get one complete line at a time, in the order the process wrote
// them.  Exited is always the last call.  It comes once both streams
// are drained, or drainTime after the process exited if a descendant
// keeps them open.
type ProcessEvents interface {
	Connected()
	Stdout(line string)
	Stderr(line string)
	Exited(code int)
}

// Process is the handle on a spawned process.
type Process interface {
	// WriteLine writes a line, followed by a newline, to standard input.
	WriteLine(line string) error

	// Terminate asks the process to exit.
	Terminate() error

	// Kill forces the process to exit.
	Kill() error

	Pid() int
}

// Spawner launches processes.  ExecSpawner is the real one; tests use
// their own.
type Spawner interface {
	Spawn(req SpawnRequest, ev ProcessEvents) (Process, error)
}

// ExecSpawner launches processes with os/exec.
type ExecSpawner struct{}

type execProcess struct {
	cmd   *exec.Cmd
	stdin io.Writer
	pty   *os.File
	lock  sync.Mutex
}

func (ExecSpawner) Spawn(req SpawnRequest, ev ProcessEvents) (Process, error) {
	cmd := &exec.Cmd{
		Path: req.Path,
		Args: append([]string{}, req.Args...),
		Env:  append([]string{}, req.Env...),
	}
	p := &execProcess{cmd: cmd}

	// Standard error stays a pipe of its own even with a terminal, so
	// that it never mixes with the protocol.  We make the pipes
	// ourselves, so that Wait does not close them under the readers.
	errR, errW, e := os.Pipe()
	if e != nil {
		return nil, e
	}
	cmd.Stderr = errW

	var stdout *os.File
	if req.PTY {
		ptmx, e := pty.Start(cmd)
		errW.Close()
		if e != nil {
			errR.Close()
			return nil, e
		}
		// No echo, and no newline translation, so that what we write
		// does not come back to us.
		if _, e := term.MakeRaw(int(ptmx.Fd())); e != nil {
			ptmx.Close()
			errR.Close()
			cmd.Process.Kill()
			cmd.Wait()
			return nil, e
		}
		p.pty = ptmx
		p.stdin = ptmx
		stdout = ptmx
	} else {
		stdin, e := cmd.StdinPipe()
		if e != nil {
			errR.Close()
			errW.Close()
			return nil, e
		}
		outR, outW, e := os.Pipe()
		if e != nil {
			errR.Close()
			errW.Close()
			return nil, e
		}
		cmd.Stdout = outW
		e = cmd.Start()
		outW.Close()
		errW.Close()
		if e != nil {
			outR.Close()
			errR.Close()
			return nil, e
		}
		p.stdin = stdin
		stdout = outR
	}

	go p.monitor(stdout, errR, ev)
	return p, nil
}

// pumpLines reads r until it fails, handing each line to fn.  With
// prompts set, an unterminated password prompt is delivered at once,
// since the program that wrote it is now waiting for an answer.
func pumpLines(r io.Reader, fn func(string), prompts bool) {
	var lb lineBuffer
	buf := make([]byte, 4096)
	for {
		n, e := r.Read(buf)
		if n > 0 {
			lb.Feed(buf[:n], fn)
			if prompts && passwordPrompt(lb.Pending()) {
				lb.Flush(fn)
			}
		}
		if e != nil {
			lb.Flush(fn)
			return
		}
	}
}

func (p *execProcess) monitor(stdout, stderr io.ReadCloser, ev ProcessEvents) {
	ev.Connected()

	outDone := make(chan struct{})
	errDone := make(chan struct{})
	go func() {
		pumpLines(stdout, ev.Stdout, true)
		close(outDone)
	}()
	go func() {
		pumpLines(stderr, ev.Stderr, false)
		close(errDone)
	}()
	drained := make(chan struct{})
	go func() {
		<-outDone
		<-errDone
		close(drained)
	}()

	// The streams are ours, so Wait returns as soon as the process is
	// gone.  What it wrote before exiting is still read, for a while.
	code := exitCode(p.cmd.Wait())
	select {
	case <-drained:
	case <-time.After(drainTime):
	}
	stdout.Close()
	stderr.Close()
	<-drained
	ev.Exited(code)
}

func exitCode(e error) int {
	if e == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(e, &ee) {
		return ee.ExitCode()
	}
	return -1
}

func (p *execProcess) WriteLine(line string) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	_, e := io.WriteString(p.stdin, line+"\n")
	return e
}

func (p *execProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}
