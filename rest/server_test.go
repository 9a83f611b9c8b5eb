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

//go:build unix

package rest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/sat-mtl/lunch"
)

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

func WithServer(t *testing.T, fn func(m *lunch.Master, h *Handler, c *Client)) func() {
	return func() {
		agent, e := filepath.Abs("../testdata/fake-slave.sh")
		So(e, ShouldBeNil)

		m := lunch.NewMaster("test")
		m.SetLogger(nil)
		e = m.AddManifest(&lunch.MasterManifest{
			LogDir: t.TempDir(),
			Agent:  agent,
			Workers: []lunch.WorkerManifest{
				{Identifier: "w1", Command: "xeyes", Order: 1},
				{Identifier: "w0", Command: "xclock", Depends: []string{"w1"}},
			},
		})
		So(e, ShouldBeNil)

		h := NewHandler(m)
		srv := httptest.NewServer(h)
		Reset(func() {
			srv.Close()
			m.Close()
		})
		fn(m, h, NewClient(srv.Client(), srv.URL+"/"))
	}
}

func statusOf(e error) int {
	var re *Error
	if errors.As(e, &re) {
		return re.Code
	}
	return 0
}

func TestServer(t *testing.T) {
	ctx := context.Background()

	Convey("Given a master served over HTTP", t, WithServer(t, func(m *lunch.Master, h *Handler, c *Client) {

		Convey("Info describes the master", func() {
			mi, e := c.Info(ctx)
			So(e, ShouldBeNil)
			So(mi.Name, ShouldEqual, "test")
			So(mi.Workers, ShouldEqual, 2)
		})

		Convey("Workers are listed in start order", func() {
			l, e := c.Workers(ctx)
			So(e, ShouldBeNil)
			So(l, ShouldResemble, []string{"w1", "w0"})
		})

		Convey("A worker can be looked at", func() {
			w, e := c.Worker(ctx, "w0")
			So(e, ShouldBeNil)
			So(w.Command, ShouldEqual, "xclock")
			So(w.Depends, ShouldResemble, []string{"w1"})
			So(w.AgentState, ShouldEqual, lunch.StateStopped)
			So(w.Enabled, ShouldBeTrue)
			So(w.Respawn, ShouldBeTrue)
		})

		Convey("Unknown workers are not found", func() {
			_, e := c.Worker(ctx, "nosuch")
			So(statusOf(e), ShouldEqual, http.StatusNotFound)
			So(statusOf(c.Start(ctx, "nosuch")), ShouldEqual, http.StatusNotFound)
		})

		Convey("Stopping a stopped worker conflicts", func() {
			So(statusOf(c.Stop(ctx, "w1")), ShouldEqual, http.StatusConflict)
			So(statusOf(c.Ping(ctx, "w1")), ShouldEqual, http.StatusConflict)
		})

		Convey("Actions need POST", func() {
			res, e := http.Get(c.url("w1", "start"))
			So(e, ShouldBeNil)
			res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusMethodNotAllowed)
		})

		Convey("Disable and enable", func() {
			So(c.Disable(ctx, "w1"), ShouldBeNil)
			w, e := c.Worker(ctx, "w1")
			So(e, ShouldBeNil)
			So(w.Enabled, ShouldBeFalse)
			So(c.Enable(ctx, "w1"), ShouldBeNil)
			w, e = c.Worker(ctx, "w1")
			So(e, ShouldBeNil)
			So(w.Enabled, ShouldBeTrue)
		})

		Convey("A worker can be started and stopped", func() {
			So(c.Start(ctx, "w1"), ShouldBeNil)
			So(waitFor(func() bool {
				w, e := c.Worker(ctx, "w1")
				return e == nil && w.ChildState == lunch.StateRunning
			}), ShouldBeTrue)
			So(c.Ping(ctx, "w1"), ShouldBeNil)

			recs, e := c.Log(ctx, "w1")
			So(e, ShouldBeNil)
			So(len(recs), ShouldBeGreaterThan, 0)

			So(c.StopChild(ctx, "w1"), ShouldBeNil)
			So(waitFor(func() bool {
				w, e := c.Worker(ctx, "w1")
				return e == nil && w.ChildState == lunch.StateStopped
			}), ShouldBeTrue)
			w, e := c.Worker(ctx, "w1")
			So(e, ShouldBeNil)
			So(w.AgentState, ShouldEqual, lunch.StateRunning)
			So(w.Enabled, ShouldBeFalse)
			So(w.RunCount, ShouldEqual, 1)

			So(c.Stop(ctx, "w1"), ShouldBeNil)
			So(waitFor(func() bool {
				w, e := c.Worker(ctx, "w1")
				return e == nil && w.AgentState == lunch.StateStopped
			}), ShouldBeTrue)
		})

		Convey("The master log supports ETags", func() {
			recs, e := c.Log(ctx, "")
			So(e, ShouldBeNil)
			So(len(recs), ShouldBeGreaterThan, 0)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", "/log", nil))
			So(rec.Code, ShouldEqual, http.StatusOK)
			tag := rec.Header().Get("ETag")
			So(tag, ShouldNotBeEmpty)

			req := httptest.NewRequest("GET", "/log", nil)
			req.Header.Set("If-None-Match", tag)
			rec = httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			So(rec.Code, ShouldEqual, http.StatusNotModified)
		})

		Convey("Metrics are exported", func() {
			res, e := http.Get(c.base + "/metrics")
			So(e, ShouldBeNil)
			b, e := io.ReadAll(res.Body)
			res.Body.Close()
			So(e, ShouldBeNil)
			So(res.StatusCode, ShouldEqual, http.StatusOK)
			So(strings.Contains(string(b), `lunch_agent_state{worker="w1"} 0`), ShouldBeTrue)
			So(strings.Contains(string(b), `lunch_enabled{worker="w0"} 1`), ShouldBeTrue)
		})
	}))
}
