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

// Command lunchd is the lunch master.  It reads a manifest describing
// the workers, launches them in dependency order, and serves their
// state over HTTP until it is told to quit.
//
// The first SIGINT or SIGTERM asks every worker to stop gracefully.  A
// second one, or the stop timeout expiring, kills the agents that are
// still around.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sat-mtl/lunch"
	"github.com/sat-mtl/lunch/rest"
)

var (
	addr        = "127.0.0.1:8321"
	name        = ""
	logDir      = ""
	verbose     = false
	stopTimeout = 10 * time.Second
)

func main() {
	root := &cobra.Command{
		Use:          "lunchd <manifest>",
		Short:        "Launch and supervise the workers described by a manifest",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         run,
	}
	root.Flags().StringVarP(&addr, "addr", "a", addr, "listen address")
	root.Flags().StringVarP(&name, "name", "n", name, "master name (defaults to the manifest's)")
	root.Flags().StringVarP(&logDir, "log-dir", "d", logDir, "log directory for workers that set none")
	root.Flags().BoolVarP(&verbose, "verbose", "v", verbose, "log every protocol line")
	root.Flags().DurationVar(&stopTimeout, "stop-timeout", stopTimeout, "time to wait before killing agents on shutdown")

	if e := root.Execute(); e != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	mf, e := lunch.LoadManifest(args[0])
	if e != nil {
		return e
	}
	if logDir != "" {
		mf.LogDir = logDir
	}
	if verbose {
		for i := range mf.Workers {
			mf.Workers[i].Verbose = true
		}
	}
	if name == "" {
		name = mf.Name
	}

	m := lunch.NewMaster(name)
	if e := m.AddManifest(mf); e != nil {
		m.Close()
		return e
	}

	srv := &http.Server{Addr: addr, Handler: rest.NewHandler(m)}
	go func() {
		if e := srv.ListenAndServe(); e != nil && !errors.Is(e, http.ErrServerClosed) {
			log.Printf("HTTP server failed: %v", e)
		}
	}()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	go func() {
		defer close(started)
		if e := m.StartAll(ctx); e != nil && ctx.Err() == nil {
			log.Printf("Not all workers started: %v", e)
		}
	}()

	<-sigs
	cancel()
	<-started
	log.Printf("Stopping all workers")
	m.StopAll()

	deadline := time.After(stopTimeout)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for m.Running() {
		select {
		case <-sigs:
			log.Printf("Killing remaining workers")
			m.StopAll()
		case <-deadline:
			log.Printf("Timed out stopping workers, killing them")
			m.StopAll()
		case <-tick.C:
		}
	}

	shutdown, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	srv.Shutdown(shutdown)
	m.Close()
	return nil
}
