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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/context"

	"github.com/sat-mtl/lunch"
)

// Client talks to the REST API of a master.
type Client struct {
	base   string // URI to root of tree on server
	client *http.Client
}

// NewClient returns a client for the master at base, such as
// "http://127.0.0.1:8321".  A nil http.Client means http.DefaultClient.
func NewClient(client *http.Client, base string) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(base, "/"), client: client}
}

func (c *Client) url(worker string, op string) string {
	if worker == "" {
		return c.base + "/workers"
	}
	u := c.base + "/workers/" + url.PathEscape(worker)
	if op != "" {
		u += "/" + op
	}
	return u
}

func (c *Client) do(ctx context.Context, method string, u string, v interface{}) error {
	req, e := http.NewRequestWithContext(ctx, method, u, nil)
	if e != nil {
		return e
	}
	req.Header.Set("Accept", mimeJson)
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	defer res.Body.Close()

	body, e := io.ReadAll(res.Body)
	if e != nil {
		return e
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		re := &Error{}
		if json.Unmarshal(body, re) != nil || re.Message == "" {
			re.Code = res.StatusCode
			re.Message = fmt.Sprintf("%s: %s", res.Status, strings.TrimSpace(string(body)))
		}
		return re
	}
	if v == nil {
		return nil
	}
	return json.Unmarshal(body, v)
}

// Info returns information about the master.
func (c *Client) Info(ctx context.Context) (*MasterInfo, error) {
	mi := &MasterInfo{}
	if e := c.do(ctx, "GET", c.base+"/", mi); e != nil {
		return nil, e
	}
	return mi, nil
}

// Workers returns worker identifiers, in start order.
func (c *Client) Workers(ctx context.Context) ([]string, error) {
	var names []string
	if e := c.do(ctx, "GET", c.url("", ""), &names); e != nil {
		return nil, e
	}
	return names, nil
}

// Worker returns the state of one worker.
func (c *Client) Worker(ctx context.Context, id string) (*WorkerInfo, error) {
	info := &WorkerInfo{}
	if e := c.do(ctx, "GET", c.url(id, ""), info); e != nil {
		return nil, e
	}
	return info, nil
}

func (c *Client) Start(ctx context.Context, id string) error {
	return c.do(ctx, "POST", c.url(id, "start"), nil)
}

func (c *Client) Stop(ctx context.Context, id string) error {
	return c.do(ctx, "POST", c.url(id, "stop"), nil)
}

func (c *Client) StopChild(ctx context.Context, id string) error {
	return c.do(ctx, "POST", c.url(id, "stopchild"), nil)
}

func (c *Client) Enable(ctx context.Context, id string) error {
	return c.do(ctx, "POST", c.url(id, "enable"), nil)
}

func (c *Client) Disable(ctx context.Context, id string) error {
	return c.do(ctx, "POST", c.url(id, "disable"), nil)
}

func (c *Client) Ping(ctx context.Context, id string) error {
	return c.do(ctx, "POST", c.url(id, "ping"), nil)
}

// Log returns the log of a worker, or of the master itself if id is
// empty.
func (c *Client) Log(ctx context.Context, id string) ([]lunch.LogRecord, error) {
	u := c.base + "/log"
	if id != "" {
		u = c.url(id, "log")
	}
	var recs []lunch.LogRecord
	if e := c.do(ctx, "GET", u, &recs); e != nil {
		return nil, e
	}
	return recs, nil
}
