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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// WorkerManifest is how a worker is written in a manifest file.
// Durations left out take their defaults.
type WorkerManifest struct {
	Identifier      string            `json:"identifier" toml:"identifier" yaml:"identifier"`
	Command         string            `json:"command" toml:"command" yaml:"command"`
	Env             map[string]string `json:"env" toml:"env" yaml:"env"`
	User            string            `json:"user" toml:"user" yaml:"user"`
	Host            string            `json:"host" toml:"host" yaml:"host"`
	Order           int               `json:"order" toml:"order" yaml:"order"`
	SleepAfter      *Duration         `json:"sleepAfter" toml:"sleep_after" yaml:"sleep_after"`
	Respawn         *bool             `json:"respawn" toml:"respawn" yaml:"respawn"`
	MinimumLifetime *Duration         `json:"minimumLifetime" toml:"minimum_lifetime" yaml:"minimum_lifetime"`
	LogDir          string            `json:"logDir" toml:"log_dir" yaml:"log_dir"`
	Depends         []string          `json:"depends" toml:"depends" yaml:"depends"`
	Verbose         bool              `json:"verbose" toml:"verbose" yaml:"verbose"`
	Agent           string            `json:"agent" toml:"agent" yaml:"agent"`
}

// MasterManifest describes a master and all of its workers.  LogDir and
// Agent apply to workers that do not set their own.
type MasterManifest struct {
	Name    string           `json:"name" toml:"name" yaml:"name"`
	LogDir  string           `json:"logDir" toml:"log_dir" yaml:"log_dir"`
	Agent   string           `json:"agent" toml:"agent" yaml:"agent"`
	Workers []WorkerManifest `json:"workers" toml:"worker" yaml:"workers"`
}

// Duration is a duration in a manifest.  It is written either as a Go
// duration string, such as "250ms", or as a number of seconds.
type Duration time.Duration

func parseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	d, e := time.ParseDuration(s)
	if e != nil {
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad duration %q", ErrBadManifest, s)
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: negative duration %q", ErrBadManifest, s)
	}
	return Duration(d), nil
}

func (d *Duration) set(s string) error {
	v, e := parseDuration(s)
	if e != nil {
		return e
	}
	*d = v
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if len(b) > 0 && b[0] == '"' {
		if e := json.Unmarshal(b, &s); e != nil {
			return e
		}
	} else {
		s = string(b)
	}
	return d.set(s)
}

// UnmarshalTOML implements toml.Unmarshaler.
func (d *Duration) UnmarshalTOML(v interface{}) error {
	switch v := v.(type) {
	case string:
		return d.set(v)
	case int64:
		return d.set(strconv.FormatInt(v, 10))
	case float64:
		return d.set(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return fmt.Errorf("%w: bad duration %v", ErrBadManifest, v)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: bad duration at line %d", ErrBadManifest, n.Line)
	}
	return d.set(n.Value)
}

func durationOr(d *Duration, def time.Duration) time.Duration {
	if d == nil {
		return def
	}
	return time.Duration(*d)
}

// Spec converts the manifest entry, applying defaults.
func (wm *WorkerManifest) Spec(m *MasterManifest) (WorkerSpec, error) {
	w := NewWorkerSpec(wm.Identifier, wm.Command)
	w.Env = wm.Env
	w.User = wm.User
	w.Host = wm.Host
	w.Order = wm.Order
	w.Depends = wm.Depends
	w.Verbose = wm.Verbose
	if wm.Respawn != nil {
		w.Respawn = *wm.Respawn
	}
	w.SleepAfter = durationOr(wm.SleepAfter, DefaultSleepAfter)
	w.MinimumLifetime = durationOr(wm.MinimumLifetime, DefaultMinimumLifetime)
	switch {
	case wm.LogDir != "":
		w.LogDir = wm.LogDir
	case m != nil && m.LogDir != "":
		w.LogDir = m.LogDir
	}
	switch {
	case wm.Agent != "":
		w.Agent = wm.Agent
	case m != nil && m.Agent != "":
		w.Agent = m.Agent
	}
	if e := w.Validate(); e != nil {
		return w, e
	}
	return w, nil
}

// Specs converts every worker of the manifest.
func (m *MasterManifest) Specs() ([]WorkerSpec, error) {
	specs := make([]WorkerSpec, 0, len(m.Workers))
	for i := range m.Workers {
		w, e := m.Workers[i].Spec(m)
		if e != nil {
			return nil, fmt.Errorf("worker %d: %w", i, e)
		}
		specs = append(specs, w)
	}
	return specs, nil
}

// DecodeManifest reads a manifest in the given format: "json", "toml"
// or "yaml".
func DecodeManifest(r io.Reader, format string) (*MasterManifest, error) {
	m := &MasterManifest{}
	switch strings.ToLower(format) {
	case "json":
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if e := dec.Decode(m); e != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadManifest, e)
		}
	case "toml":
		md, e := toml.NewDecoder(r).Decode(m)
		if e != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadManifest, e)
		}
		if keys := md.Undecoded(); len(keys) != 0 {
			return nil, fmt.Errorf("%w: unknown keys %v", ErrBadManifest, keys)
		}
	case "yaml", "yml":
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if e := dec.Decode(m); e != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadManifest, e)
		}
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrBadManifest, format)
	}
	return m, nil
}

// LoadManifest reads a manifest file, picking the format from its
// extension.
func LoadManifest(path string) (*MasterManifest, error) {
	f, e := os.Open(path)
	if e != nil {
		return nil, e
	}
	defer f.Close()
	return DecodeManifest(f, strings.TrimPrefix(filepath.Ext(path), "."))
}
