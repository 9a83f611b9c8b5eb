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
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MessageKind identifies one line of the master/agent protocol.  The kind
// is the first space delimited word of the line.
type MessageKind int

const (
	KindUnknown MessageKind = iota

	// Sent by the master to the agent.
	KindDo
	KindLogDir
	KindEnv
	KindRun
	KindStop
	KindPing

	// Sent by the agent to the master.
	KindReady
	KindState
	KindOk
	KindMsg
	KindLog
	KindError
	KindPong
	KindBye
)

var kindKeys = map[MessageKind]string{
	KindDo:     "do",
	KindLogDir: "logdir",
	KindEnv:    "env",
	KindRun:    "run",
	KindStop:   "stop",
	KindPing:   "ping",
	KindReady:  "ready",
	KindState:  "state",
	KindOk:     "ok",
	KindMsg:    "msg",
	KindLog:    "log",
	KindError:  "error",
	KindPong:   "pong",
	KindBye:    "bye",
}

var keyKinds = func() map[string]MessageKind {
	m := make(map[string]MessageKind, len(kindKeys))
	for k, v := range kindKeys {
		m[v] = k
	}
	return m
}()

func (k MessageKind) String() string {
	if s, ok := kindKeys[k]; ok {
		return s
	}
	return "unknown"
}

// OutboundOnly is true for the kinds that only the master ever sends.  If
// the agent appears to send one of these, its standard input is being
// echoed back on its standard output.
func (k MessageKind) OutboundOnly() bool {
	switch k {
	case KindDo, KindEnv, KindRun, KindLogDir:
		return true
	}
	return false
}

var errNoKey = errors.New("no message key")

// Message is one protocol line.  Key holds the word as it was received,
// so that messages of an unknown kind can still be reported.
type Message struct {
	Kind    MessageKind
	Key     string
	Payload string
}

// ParseMessage splits a line into its key and payload.  The payload is
// everything after the first space, untouched.
func ParseMessage(line string) (Message, error) {
	key, payload, _ := strings.Cut(line, " ")
	if key == "" {
		return Message{}, errNoKey
	}
	return Message{Kind: keyKinds[key], Key: key, Payload: payload}, nil
}

// NewMessage builds an outbound message.
func NewMessage(kind MessageKind, payload string) Message {
	return Message{Kind: kind, Key: kind.String(), Payload: payload}
}

// String renders the message as a protocol line, without the newline.
func (m Message) String() string {
	key := m.Key
	if key == "" {
		key = m.Kind.String()
	}
	if m.Payload == "" {
		return key
	}
	return key + " " + m.Payload
}

// Words splits the payload on single spaces.
func (m Message) Words() []string {
	if m.Payload == "" {
		return nil
	}
	return strings.Split(m.Payload, " ")
}

// passwordPrompt is true when the second word of a line is "password:",
// which is what ssh prints when key authentication is not set up.
func passwordPrompt(line string) bool {
	words := strings.Split(line, " ")
	return len(words) > 1 && words[1] == "password:"
}

// StateReport is the payload of a "state" message.
type StateReport struct {
	State State
	// Elapsed is how long the child ran, when the agent sent it.
	Elapsed    float64
	HasElapsed bool
}

// ParseStateReport decodes "<NAME> [<seconds>]".
func ParseStateReport(payload string) (StateReport, error) {
	var r StateReport
	words := strings.Fields(payload)
	if len(words) == 0 {
		return r, ErrBadState
	}
	s, ok := ParseState(words[0])
	if !ok {
		return r, fmt.Errorf("%w: %q", ErrBadState, words[0])
	}
	r.State = s
	if len(words) > 1 {
		if secs, e := strconv.ParseFloat(words[1], 64); e == nil {
			r.Elapsed = secs
			r.HasElapsed = true
		}
	}
	return r, nil
}

// formatEnv renders an environment as space separated k=v pairs, sorted
// by name.  Values are not escaped, so a value holding a space will not
// survive the trip to the agent.
func formatEnv(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+env[k])
	}
	return strings.Join(pairs, " ")
}
