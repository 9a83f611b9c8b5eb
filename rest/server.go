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
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sat-mtl/lunch"
)

// Handler wraps a Master, adding http.Handler functionality.
type Handler struct {
	m *lunch.Master
	r *mux.Router
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.Write(b)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	if b, err := json.Marshal(e); err != nil {
		h.internalError(w, err)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(e.Code)
		w.Write(b)
	}
}

// errorFor maps the errors of the lunch package to HTTP errors.
func errorFor(e error) *Error {
	code := http.StatusBadRequest
	switch {
	case errors.Is(e, lunch.ErrUnknownWorker):
		code = http.StatusNotFound
	case errors.Is(e, lunch.ErrBusy), errors.Is(e, lunch.ErrNotRunning):
		code = http.StatusConflict
	case errors.Is(e, lunch.ErrClosed):
		code = http.StatusGone
	}
	return &Error{Code: code, Message: e.Error()}
}

func (h *Handler) getInfo(w http.ResponseWriter, r *http.Request) {
	mi := h.m.GetInfo()
	h.writeJson(w, &MasterInfo{
		Name:       mi.Name,
		Workers:    mi.Workers,
		CreateTime: mi.CreateTime,
	})
}

func (h *Handler) listWorkers(w http.ResponseWriter, r *http.Request) {
	cmds, e := h.m.Commands()
	if e != nil {
		h.writeError(w, errorFor(e))
		return
	}
	l := make([]string, 0, len(cmds))
	for _, c := range cmds {
		l = append(l, c.Identifier())
	}
	h.writeJson(w, l)
}

func (h *Handler) findWorker(w http.ResponseWriter, r *http.Request) *lunch.Command {
	c, e := h.m.Find(mux.Vars(r)["worker"])
	if e != nil {
		h.writeError(w, errorFor(e))
		return nil
	}
	return c
}

func (h *Handler) getWorker(w http.ResponseWriter, r *http.Request) {
	if c := h.findWorker(w, r); c != nil {
		h.writeJson(w, workerInfo(c))
	}
}

// action returns a handler that applies op to the named worker.
func (h *Handler) action(op func(*lunch.Command) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := h.findWorker(w, r)
		if c == nil {
			return
		}
		if e := op(c); e != nil {
			h.writeError(w, errorFor(e))
			return
		}
		h.writeJson(w, ok)
	}
}

// writeLog serves log records, using the ID of the last record as ETag.
func (h *Handler) writeLog(w http.ResponseWriter, r *http.Request,
	get func(int64) ([]lunch.LogRecord, int64)) {

	var last int64
	if tag := r.Header.Get("If-None-Match"); tag != "" {
		last, _ = strconv.ParseInt(tag, 10, 64)
	}
	recs, id := get(last)
	w.Header().Set("ETag", strconv.FormatInt(id, 10))
	if recs == nil && last != 0 {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if recs == nil {
		recs = []lunch.LogRecord{}
	}
	h.writeJson(w, recs)
}

func (h *Handler) getWorkerLog(w http.ResponseWriter, r *http.Request) {
	if c := h.findWorker(w, r); c != nil {
		h.writeLog(w, r, c.GetLog)
	}
}

func (h *Handler) getMasterLog(w http.ResponseWriter, r *http.Request) {
	h.writeLog(w, r, h.m.GetLog)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

func NewHandler(m *lunch.Master) *Handler {
	r := mux.NewRouter()
	h := &Handler{m: m, r: r}
	r.HandleFunc("/", h.getInfo).Methods("GET")
	r.HandleFunc("/log", h.getMasterLog).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/workers", h.listWorkers).Methods("GET")
	r.HandleFunc("/workers/{worker}", h.getWorker).Methods("GET")
	r.HandleFunc("/workers/{worker}/log", h.getWorkerLog).Methods("GET")
	r.HandleFunc("/workers/{worker}/start", h.action((*lunch.Command).Start)).Methods("POST")
	r.HandleFunc("/workers/{worker}/stop", h.action((*lunch.Command).Stop)).Methods("POST")
	r.HandleFunc("/workers/{worker}/stopchild", h.action((*lunch.Command).StopChild)).Methods("POST")
	r.HandleFunc("/workers/{worker}/enable", h.action((*lunch.Command).Enable)).Methods("POST")
	r.HandleFunc("/workers/{worker}/disable", h.action((*lunch.Command).Disable)).Methods("POST")
	r.HandleFunc("/workers/{worker}/ping", h.action((*lunch.Command).Ping)).Methods("POST")
	return h
}
