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
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestWorkerSpec(t *testing.T) {
	Convey("A new worker spec", t, func() {
		w := NewWorkerSpec("w1", "xeyes")
		So(w.Validate(), ShouldBeNil)
		So(w.Respawn, ShouldBeTrue)
		So(w.SleepAfter, ShouldEqual, DefaultSleepAfter)
		So(w.MinimumLifetime, ShouldEqual, DefaultMinimumLifetime)
		So(w.LogDir, ShouldEqual, DefaultLogDir)
		So(w.Remote(), ShouldBeFalse)

		Convey("Runs the agent locally", func() {
			So(w.AgentArgs(), ShouldResemble, []string{"lunch-slave", "--id", "w1"})
		})

		Convey("Or through ssh", func() {
			w.Host = "box"
			So(w.AgentArgs(), ShouldResemble, []string{"ssh", "box", "lunch-slave", "--id", "w1"})
			w.User = "me"
			w.Agent = "/opt/bin/agent"
			So(w.AgentArgs(), ShouldResemble,
				[]string{"ssh", "-l", "me", "box", "/opt/bin/agent", "--id", "w1"})
		})

		Convey("Copies do not share maps", func() {
			w.Env = map[string]string{"A": "1"}
			w.Depends = []string{"x"}
			c := w.withDefaults()
			c.Env["A"] = "2"
			c.Depends[0] = "y"
			So(w.Env["A"], ShouldEqual, "1")
			So(w.Depends[0], ShouldEqual, "x")
		})

		Convey("Fills in empty defaults", func() {
			w.Agent = ""
			w.LogDir = ""
			c := w.withDefaults()
			So(c.Agent, ShouldEqual, DefaultAgent)
			So(c.LogDir, ShouldEqual, DefaultLogDir)
		})
	})
}
