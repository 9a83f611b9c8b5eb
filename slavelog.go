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
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const slaveLogTimeFormat = "2006-01-02 15:04:05"

// SlaveLogPath returns where the log file of a worker lives.
func SlaveLogPath(dir string, id string) string {
	return filepath.Join(dir, "slave-"+id+".log")
}

// slaveLog is the log file of one worker.  Every line written to it gets
// a time stamp, and goes straight to the file.  A lock file next to it
// keeps two masters from writing the same log.
type slaveLog struct {
	path string
	file *os.File
	lock *flock.Flock
	now  func() time.Time
	mx   sync.Mutex
}

func openSlaveLog(dir string, id string) (*slaveLog, error) {
	if e := os.MkdirAll(dir, 0755); e != nil {
		return nil, fmt.Errorf("creating log directory: %w", e)
	}
	path := SlaveLogPath(dir, id)
	lock := flock.New(path + ".lock")
	if ok, e := lock.TryLock(); e != nil {
		return nil, fmt.Errorf("locking %s: %w", path, e)
	} else if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLogLocked, path)
	}
	f, e := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if e != nil {
		lock.Unlock()
		return nil, e
	}
	return &slaveLog{path: path, file: f, lock: lock, now: time.Now}, nil
}

// Write implements io.Writer, so that a log.Logger can write to us.
func (l *slaveLog) Write(b []byte) (int, error) {
	stamp := l.now().Format(slaveLogTimeFormat)
	var sb strings.Builder
	for _, line := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
		sb.WriteString(stamp)
		sb.WriteByte(' ')
		sb.WriteString(line)
		sb.WriteByte('\n')
	}

	l.mx.Lock()
	defer l.mx.Unlock()
	if l.file == nil {
		return 0, os.ErrClosed
	}
	if _, e := l.file.WriteString(sb.String()); e != nil {
		return 0, e
	}
	return len(b), nil
}

func (l *slaveLog) Close() error {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.file == nil {
		return nil
	}
	e := l.file.Close()
	l.file = nil
	l.lock.Unlock()
	return e
}
