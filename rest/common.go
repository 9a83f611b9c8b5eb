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

package rest

import (
	"time"

	"github.com/sat-mtl/lunch"
)

const (
	mimeJson = "application/json; charset=UTF-8"
)

var ok struct{}

// WorkerInfo is the state of one worker, as served to clients.
type WorkerInfo struct {
	Identifier string      `json:"identifier"`
	Command    string      `json:"command"`
	Host       string      `json:"host,omitempty"`
	User       string      `json:"user,omitempty"`
	Order      int         `json:"order"`
	Depends    []string    `json:"depends"`
	AgentState lunch.State `json:"agentState"`
	ChildState lunch.State `json:"childState"`
	Enabled    bool        `json:"enabled"`
	Respawn    bool        `json:"respawn"`
	RunCount   int         `json:"runCount"`
}

// MasterInfo describes the master itself.
type MasterInfo struct {
	Name       string    `json:"name"`
	Workers    int       `json:"workers"`
	CreateTime time.Time `json:"created"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

func workerInfo(c *lunch.Command) *WorkerInfo {
	spec := c.Spec()
	return &WorkerInfo{
		Identifier: spec.Identifier,
		Command:    spec.Command,
		Host:       spec.Host,
		User:       spec.User,
		Order:      spec.Order,
		Depends:    spec.Depends,
		AgentState: c.AgentState(),
		ChildState: c.ChildState(),
		Enabled:    c.Enabled(),
		Respawn:    spec.Respawn,
		RunCount:   c.RunCount(),
	}
}
