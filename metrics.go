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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "lunch"

// Metrics exports the state of workers to Prometheus.  It follows the
// state change signals of each worker it watches.  State gauges hold
// the numeric State: 0 stopped, 1 starting, 2 running, 3 stopping.
type Metrics struct {
	reg        prometheus.Registerer
	agentState *prometheus.GaugeVec
	childState *prometheus.GaugeVec
	funcs      map[*Command][]prometheus.Collector
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		agentState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "agent_state",
			Help:      "State of the agent process (0=stopped 1=starting 2=running 3=stopping)",
		}, []string{"worker"}),
		childState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "child_state",
			Help:      "State of the child process (0=stopped 1=starting 2=running 3=stopping)",
		}, []string{"worker"}),
		funcs: make(map[*Command][]prometheus.Collector),
	}
}

// Watch starts exporting c.  The returned function stops it again.
func (mt *Metrics) Watch(c *Command) func() {
	id := c.Identifier()
	labels := prometheus.Labels{"worker": id}
	mt.agentState.With(labels).Set(float64(c.AgentState()))
	mt.childState.With(labels).Set(float64(c.ChildState()))

	starts := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Name:        "child_starts_total",
		Help:        "Number of times the child was seen running",
		ConstLabels: labels,
	}, func() float64 { return float64(c.RunCount()) })
	enabled := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   metricsNamespace,
		Name:        "enabled",
		Help:        "Whether the child gets restarted (0 once the crash loop guard trips)",
		ConstLabels: labels,
	}, func() float64 {
		if c.Enabled() {
			return 1
		}
		return 0
	})
	for _, col := range []prometheus.Collector{starts, enabled} {
		if e := mt.reg.Register(col); e == nil {
			mt.funcs[c] = append(mt.funcs[c], col)
		}
	}

	unAgent := c.AgentStateChanged.Subscribe(func(ch AgentStateChange) {
		mt.agentState.With(labels).Set(float64(ch.State))
	})
	unChild := c.ChildStateChanged.Subscribe(func(ch ChildStateChange) {
		mt.childState.With(labels).Set(float64(ch.State))
	})
	return func() {
		unAgent()
		unChild()
		mt.agentState.Delete(labels)
		mt.childState.Delete(labels)
		for _, col := range mt.funcs[c] {
			mt.reg.Unregister(col)
		}
		delete(mt.funcs, c)
	}
}
