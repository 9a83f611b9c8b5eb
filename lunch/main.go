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

// Command lunch is a client for lunchd.
//
// Subcommands are
//
//	workers              - list all workers, in start order
//	status [<w> ...]     - show the state of the named workers (or all)
//	info <w>             - show more detailed worker info
//	start <w>            - start the worker (and re-enable it)
//	stop <w>             - stop the worker's agent; again to kill it
//	stopchild <w>        - stop the worker's child, leaving the agent up
//	enable <w>           - allow the child to be respawned
//	disable <w>          - keep the child from being respawned
//	ping <w>             - probe the agent
//	log [<w>]            - show the log of a worker, or of the master
package main

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/context"

	"github.com/sat-mtl/lunch"
	"github.com/sat-mtl/lunch/rest"
)

var addr = "http://127.0.0.1:8321"
var timeout = 10 * time.Second

func status(w *rest.WorkerInfo) string {
	switch {
	case !w.Enabled && w.ChildState == lunch.StateStopped:
		return "disabled"
	default:
		return strings.ToLower(w.ChildState.String())
	}
}

func showStatus(w *rest.WorkerInfo) {
	fmt.Printf("%-16s %-10s %-10s %5d\n", w.Identifier,
		strings.ToLower(w.AgentState.String()), status(w), w.RunCount)
}

type sorted []*rest.WorkerInfo

func (s sorted) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s sorted) Len() int {
	return len(s)
}

func (s sorted) Less(i, j int) bool {
	a := s[i]
	b := s[j]

	if a.Enabled != b.Enabled {
		// disabled workers are the ones to look at
		return !a.Enabled
	}
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	return a.Identifier < b.Identifier
}

func client() *rest.Client {
	return rest.NewClient(nil, addr)
}

func ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// action builds a subcommand calling op on one worker.
func action(use string, short string,
	op func(*rest.Client, context.Context, string) error) *cobra.Command {

	return &cobra.Command{
		Use:   use + " <worker>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cancel := ctx()
			defer cancel()
			return op(client(), c, args[0])
		},
	}
}

func main() {
	log.SetFlags(0)
	root := &cobra.Command{
		Use:          "lunch",
		Short:        "Control a lunch master",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&addr, "addr", "a", addr, "lunchd address")
	root.PersistentFlags().DurationVarP(&timeout, "timeout", "t", timeout, "request timeout")

	root.AddCommand(&cobra.Command{
		Use:   "workers",
		Short: "List all workers, in start order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cancel := ctx()
			defer cancel()
			names, e := client().Workers(c)
			if e != nil {
				return e
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "status [<worker> ...]",
		Short: "Show the state of workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cancel := ctx()
			defer cancel()
			cl := client()
			names := args
			if len(names) == 0 {
				var e error
				if names, e = cl.Workers(c); e != nil {
					return e
				}
			}
			infos := []*rest.WorkerInfo{}
			for _, n := range names {
				info, e := cl.Worker(c, n)
				if e != nil {
					log.Printf("Failed: %v", e)
					continue
				}
				infos = append(infos, info)
			}
			sort.Sort(sorted(infos))
			for _, info := range infos {
				showStatus(info)
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "info <worker>",
		Short: "Show detailed worker info",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cancel := ctx()
			defer cancel()
			w, e := client().Worker(c, args[0])
			if e != nil {
				return e
			}
			fmt.Printf("Identifier: %s\n", w.Identifier)
			fmt.Printf("Command:    %s\n", w.Command)
			if w.Host != "" {
				fmt.Printf("Host:       %s@%s\n", w.User, w.Host)
			}
			fmt.Printf("Agent:      %s\n", w.AgentState)
			fmt.Printf("Child:      %s\n", w.ChildState)
			fmt.Printf("Enabled:    %v\n", w.Enabled)
			fmt.Printf("Respawn:    %v\n", w.Respawn)
			fmt.Printf("Runs:       %d\n", w.RunCount)
			fmt.Printf("Depends:    %s\n", strings.Join(w.Depends, " "))
			return nil
		},
	})

	root.AddCommand(
		action("start", "Start a worker", (*rest.Client).Start),
		action("stop", "Stop a worker's agent (twice to kill it)", (*rest.Client).Stop),
		action("stopchild", "Stop a worker's child", (*rest.Client).StopChild),
		action("enable", "Allow a worker's child to respawn", (*rest.Client).Enable),
		action("disable", "Keep a worker's child from respawning", (*rest.Client).Disable),
		action("ping", "Probe a worker's agent", (*rest.Client).Ping),
	)

	root.AddCommand(&cobra.Command{
		Use:   "log [<worker>]",
		Short: "Show the log of a worker, or of the master",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cancel := ctx()
			defer cancel()
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			recs, e := client().Log(c, id)
			if e != nil {
				return e
			}
			for _, r := range recs {
				fmt.Printf("%s %s\n", r.Time.Format("2006-01-02 15:04:05"), r.Text)
			}
			return nil
		},
	})

	if e := root.Execute(); e != nil {
		os.Exit(1)
	}
}
