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
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultDependencyTimeout is how long StartAll waits for the
// dependencies of a worker to be running.
const DefaultDependencyTimeout = 30 * time.Second

var errNotYet = errors.New("dependency not running yet")

// Master owns a set of workers.  It starts them in dependency order and
// stops them all on shutdown.
type Master struct {
	name       string
	commands   map[string]*Command
	unwatch    map[string]func()
	logger     *log.Logger
	log        *Log
	mlog       *MultiLogger
	registry   *prometheus.Registry
	metrics    *Metrics
	depTimeout time.Duration
	createTime time.Time
	mx         sync.Mutex
}

type MasterInfo struct {
	Name       string
	Workers    int
	CreateTime time.Time
}

func NewMaster(name string) *Master {
	if name == "" {
		name = "lunch"
	}
	m := &Master{
		name:       name,
		commands:   make(map[string]*Command),
		unwatch:    make(map[string]func()),
		log:        NewLog(0),
		mlog:       NewMultiLogger(),
		registry:   prometheus.NewRegistry(),
		depTimeout: DefaultDependencyTimeout,
		createTime: time.Now(),
	}
	m.metrics = NewMetrics(m.registry)
	m.mlog.AddLogger(log.New(m.log, "", 0))
	m.logger = log.New(os.Stderr, "", log.LstdFlags)
	m.mlog.AddLogger(m.logger)
	return m
}

// Name returns the name the master was created with.
func (m *Master) Name() string {
	return m.name
}

func (m *Master) GetInfo() *MasterInfo {
	m.mx.Lock()
	defer m.mx.Unlock()
	return &MasterInfo{
		Name:       m.name,
		Workers:    len(m.commands),
		CreateTime: m.createTime,
	}
}

// SetLogger replaces the default logger, which writes to stderr.
func (m *Master) SetLogger(l *log.Logger) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.logger != nil {
		m.mlog.DelLogger(m.logger)
	}
	m.logger = l
	if l != nil {
		m.mlog.AddLogger(l)
	}
}

// SetDependencyTimeout changes how long StartAll waits on dependencies.
func (m *Master) SetDependencyTimeout(d time.Duration) {
	m.mx.Lock()
	m.depTimeout = d
	m.mx.Unlock()
}

// Registry returns the Prometheus registry holding worker metrics.
func (m *Master) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Master) logf(format string, v ...interface{}) {
	m.mlog.Logger().Printf(format, v...)
}

// AddCommand registers a worker.  Its messages are copied to the master
// log from now on.
func (m *Master) AddCommand(c *Command) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	id := c.Identifier()
	if _, ok := m.commands[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	c.SetLogger(log.New(m.mlog, "["+id+"] ", 0))
	m.commands[id] = c
	m.unwatch[id] = m.metrics.Watch(c)
	m.logf("Added worker %s: %s", id, c.spec.Command)
	return nil
}

// AddManifest creates and registers a worker for every entry of the
// manifest.  Workers added before an error remain registered.
func (m *Master) AddManifest(mf *MasterManifest) error {
	specs, e := mf.Specs()
	if e != nil {
		return e
	}
	for _, spec := range specs {
		c, e := NewCommand(spec)
		if e != nil {
			return e
		}
		if e := m.AddCommand(c); e != nil {
			c.Close()
			return e
		}
	}
	return nil
}

// RemoveCommand unregisters a worker and closes it.
func (m *Master) RemoveCommand(id string) error {
	m.mx.Lock()
	c, ok := m.commands[id]
	if !ok {
		m.mx.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownWorker, id)
	}
	delete(m.commands, id)
	m.unwatch[id]()
	delete(m.unwatch, id)
	m.mx.Unlock()
	m.logf("Removed worker %s", id)
	return c.Close()
}

// Find returns the worker with the given identifier.
func (m *Master) Find(id string) (*Command, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if c, ok := m.commands[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, id)
}

// Commands returns all workers, in the order they are started: by Order,
// then by identifier, except that a worker always comes after the
// workers it depends on.
func (m *Master) Commands() ([]*Command, error) {
	m.mx.Lock()
	defer m.mx.Unlock()

	all := make([]*Command, 0, len(m.commands))
	for _, c := range m.commands {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i].spec, all[j].spec
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.Identifier < b.Identifier
	})

	const (
		unvisited = iota
		visiting
		visited
	)
	marks := make(map[*Command]int, len(all))
	rv := make([]*Command, 0, len(all))
	var visit func(c *Command) error
	visit = func(c *Command) error {
		switch marks[c] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("%w: %s", ErrDependencyCycle, c.Identifier())
		}
		marks[c] = visiting
		for _, d := range c.spec.Depends {
			dep, ok := m.commands[d]
			if !ok {
				m.logf("Worker %s depends on unknown worker %s", c.Identifier(), d)
				continue
			}
			if e := visit(dep); e != nil {
				return e
			}
		}
		marks[c] = visited
		rv = append(rv, c)
		return nil
	}
	for _, c := range all {
		if e := visit(c); e != nil {
			return nil, e
		}
	}
	return rv, nil
}

// waitDepends waits until the child of every dependency of c runs.  It
// gives up early on a dependency that is disabled or has no agent.
func (m *Master) waitDepends(ctx context.Context, c *Command) error {
	m.mx.Lock()
	timeout := m.depTimeout
	m.mx.Unlock()
	for _, d := range c.spec.Depends {
		dep, e := m.Find(d)
		if e != nil {
			continue
		}
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 50 * time.Millisecond
		b.MaxInterval = 2 * time.Second
		b.MaxElapsedTime = timeout
		e = backoff.Retry(func() error {
			if dep.ChildState() == StateRunning {
				return nil
			}
			if !dep.Enabled() {
				return backoff.Permanent(fmt.Errorf("dependency %s of %s is disabled", d, c.Identifier()))
			}
			// Dependencies come first in start order, so a stopped
			// agent here failed to start or died.
			if dep.AgentState() == StateStopped {
				return backoff.Permanent(fmt.Errorf("dependency %s of %s is not running", d, c.Identifier()))
			}
			return errNotYet
		}, backoff.WithContext(b, ctx))
		if e != nil {
			return fmt.Errorf("waiting for %s: %w", d, e)
		}
	}
	return nil
}

// StartAll starts every worker in order.  Before a worker is started,
// the workers it depends on must be running; afterwards, the master
// pauses for its SleepAfter.  A worker that cannot be started does not
// keep the others from starting.
func (m *Master) StartAll(ctx context.Context) error {
	cmds, e := m.Commands()
	if e != nil {
		return e
	}
	var errs []error
	for _, c := range cmds {
		if e := ctx.Err(); e != nil {
			return errors.Join(append(errs, e)...)
		}
		if e := m.waitDepends(ctx, c); e != nil {
			m.logf("Not starting %s: %v", c.Identifier(), e)
			errs = append(errs, e)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if e := c.Start(); e != nil {
			m.logf("Failed to start %s: %v", c.Identifier(), e)
			errs = append(errs, fmt.Errorf("%s: %w", c.Identifier(), e))
			continue
		}
		if d := c.spec.SleepAfter; d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return errors.Join(append(errs, ctx.Err())...)
			}
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every running worker, in the reverse of start order.
// Calling it again while workers are still stopping kills them.
func (m *Master) StopAll() {
	cmds, e := m.Commands()
	if e != nil {
		// Order does not matter much when stopping.
		cmds = m.unordered()
	}
	for i := len(cmds) - 1; i >= 0; i-- {
		if cmds[i].AgentState() != StateStopped {
			cmds[i].Stop()
		}
	}
}

func (m *Master) unordered() []*Command {
	m.mx.Lock()
	defer m.mx.Unlock()
	rv := make([]*Command, 0, len(m.commands))
	for _, c := range m.commands {
		rv = append(rv, c)
	}
	return rv
}

// Running reports whether any agent is not yet stopped.
func (m *Master) Running() bool {
	for _, c := range m.unordered() {
		if c.AgentState() != StateStopped {
			return true
		}
	}
	return false
}

// Close closes every worker, killing agents still running.
func (m *Master) Close() {
	m.mx.Lock()
	cmds := make([]*Command, 0, len(m.commands))
	for id, c := range m.commands {
		cmds = append(cmds, c)
		m.unwatch[id]()
		delete(m.unwatch, id)
		delete(m.commands, id)
	}
	m.mx.Unlock()
	for _, c := range cmds {
		c.Close()
	}
	m.logf("*** Lunch master shut down: %s ***", m.name)
}

// GetLog returns the records of the master log.
func (m *Master) GetLog(last int64) ([]LogRecord, int64) {
	return m.log.GetRecords(last)
}

// WatchLog waits for the master log to change.
func (m *Master) WatchLog(last int64, expire time.Duration) int64 {
	return m.log.Watch(last, expire)
}
