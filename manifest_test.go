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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

const tomlManifest = `
name = "show"
log_dir = "/tmp/show"

[[worker]]
identifier = "xeyes"
command = "xeyes -geometry 100x100"
order = 2
sleep_after = "1s"
minimum_lifetime = 2.5
depends = ["sound"]
env = { DISPLAY = ":0.0" }

[[worker]]
identifier = "sound"
command = "jackd -d alsa"
host = "audio1"
user = "lunch"
respawn = false
log_dir = "/var/log/lunch"
`

const jsonManifest = `{
  "name": "show",
  "agent": "/opt/lunch/bin/lunch-slave",
  "workers": [
    {"identifier": "xeyes", "command": "xeyes", "sleepAfter": "0.5", "verbose": true}
  ]
}`

const yamlManifest = `
name: show
workers:
  - identifier: xeyes
    command: xeyes
    minimum_lifetime: 100ms
    env:
      DISPLAY: ":1"
  - identifier: clock
    command: xclock
    depends: [xeyes]
`

func TestDecodeManifest(t *testing.T) {
	Convey("Decoding manifests", t, func() {
		Convey("TOML", func() {
			m, e := DecodeManifest(strings.NewReader(tomlManifest), "toml")
			So(e, ShouldBeNil)
			So(m.Name, ShouldEqual, "show")
			specs, e := m.Specs()
			So(e, ShouldBeNil)
			So(len(specs), ShouldEqual, 2)

			x := specs[0]
			So(x.Identifier, ShouldEqual, "xeyes")
			So(x.Command, ShouldEqual, "xeyes -geometry 100x100")
			So(x.Order, ShouldEqual, 2)
			So(x.SleepAfter, ShouldEqual, time.Second)
			So(x.MinimumLifetime, ShouldEqual, 2500*time.Millisecond)
			So(x.Depends, ShouldResemble, []string{"sound"})
			So(x.Env, ShouldResemble, map[string]string{"DISPLAY": ":0.0"})
			So(x.LogDir, ShouldEqual, "/tmp/show")
			So(x.Respawn, ShouldBeTrue)
			So(x.Agent, ShouldEqual, DefaultAgent)

			s := specs[1]
			So(s.Remote(), ShouldBeTrue)
			So(s.User, ShouldEqual, "lunch")
			So(s.Respawn, ShouldBeFalse)
			So(s.LogDir, ShouldEqual, "/var/log/lunch")
			So(s.SleepAfter, ShouldEqual, DefaultSleepAfter)
			So(s.MinimumLifetime, ShouldEqual, DefaultMinimumLifetime)
		})

		Convey("JSON", func() {
			m, e := DecodeManifest(strings.NewReader(jsonManifest), "json")
			So(e, ShouldBeNil)
			specs, e := m.Specs()
			So(e, ShouldBeNil)
			So(len(specs), ShouldEqual, 1)
			So(specs[0].Agent, ShouldEqual, "/opt/lunch/bin/lunch-slave")
			So(specs[0].SleepAfter, ShouldEqual, 500*time.Millisecond)
			So(specs[0].Verbose, ShouldBeTrue)
			So(specs[0].LogDir, ShouldEqual, DefaultLogDir)
		})

		Convey("YAML", func() {
			m, e := DecodeManifest(strings.NewReader(yamlManifest), "yaml")
			So(e, ShouldBeNil)
			specs, e := m.Specs()
			So(e, ShouldBeNil)
			So(len(specs), ShouldEqual, 2)
			So(specs[0].MinimumLifetime, ShouldEqual, 100*time.Millisecond)
			So(specs[0].Env["DISPLAY"], ShouldEqual, ":1")
			So(specs[1].Depends, ShouldResemble, []string{"xeyes"})
		})

		Convey("Unknown fields are refused", func() {
			_, e := DecodeManifest(strings.NewReader(`{"name":"x","bogus":1}`), "json")
			So(errors.Is(e, ErrBadManifest), ShouldBeTrue)
			_, e = DecodeManifest(strings.NewReader("bogus: 1\n"), "yaml")
			So(errors.Is(e, ErrBadManifest), ShouldBeTrue)
			_, e = DecodeManifest(strings.NewReader(
				"[[worker]]\nidentifier = \"a\"\ncommand = \"true\"\nminimum_lifetme = 1\n"), "toml")
			So(errors.Is(e, ErrBadManifest), ShouldBeTrue)
			So(e.Error(), ShouldContainSubstring, "minimum_lifetme")
		})

		Convey("Unknown formats are refused", func() {
			_, e := DecodeManifest(strings.NewReader(""), "ini")
			So(errors.Is(e, ErrBadManifest), ShouldBeTrue)
		})

		Convey("Durations may be bare numbers of seconds", func() {
			m, e := DecodeManifest(strings.NewReader(
				`{"workers":[{"identifier":"a","command":"true","minimumLifetime":1.5,"sleepAfter":0}]}`), "json")
			So(e, ShouldBeNil)
			specs, e := m.Specs()
			So(e, ShouldBeNil)
			So(specs[0].MinimumLifetime, ShouldEqual, 1500*time.Millisecond)
			So(specs[0].SleepAfter, ShouldEqual, 0)

			m, e = DecodeManifest(strings.NewReader(
				"[[worker]]\nidentifier = \"a\"\ncommand = \"true\"\nsleep_after = 2\n"), "toml")
			So(e, ShouldBeNil)
			specs, e = m.Specs()
			So(e, ShouldBeNil)
			So(specs[0].SleepAfter, ShouldEqual, 2*time.Second)
		})

		Convey("Bad durations are refused", func() {
			for _, in := range []string{`"soon"`, `-1`, `"-2s"`, `true`} {
				_, e := DecodeManifest(strings.NewReader(
					`{"workers":[{"identifier":"a","command":"true","sleepAfter":`+in+`}]}`), "json")
				So(errors.Is(e, ErrBadManifest), ShouldBeTrue)
			}
			_, e := DecodeManifest(strings.NewReader(
				"workers:\n  - identifier: a\n    command: \"true\"\n    sleep_after: [1]\n"), "yaml")
			So(errors.Is(e, ErrBadManifest), ShouldBeTrue)
		})

		Convey("Workers are validated", func() {
			m := &MasterManifest{Workers: []WorkerManifest{
				{Identifier: "a b", Command: "true"},
			}}
			_, e := m.Specs()
			So(errors.Is(e, ErrBadIdentifier), ShouldBeTrue)
		})
	})
}

func TestLoadManifest(t *testing.T) {
	Convey("Loading a manifest picks the format from the extension", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, "show.toml")
		So(os.WriteFile(path, []byte(tomlManifest), 0644), ShouldBeNil)
		m, e := LoadManifest(path)
		So(e, ShouldBeNil)
		So(len(m.Workers), ShouldEqual, 2)

		path = filepath.Join(dir, "show.yml")
		So(os.WriteFile(path, []byte(yamlManifest), 0644), ShouldBeNil)
		m, e = LoadManifest(path)
		So(e, ShouldBeNil)
		So(m.Workers[1].Identifier, ShouldEqual, "clock")

		_, e = LoadManifest(filepath.Join(dir, "missing.json"))
		So(e, ShouldNotBeNil)
	})
}
