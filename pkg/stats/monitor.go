// Copyright 2024 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stats

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// durBucketsCall lists histogram buckets for connected call durations.
var durBucketsCall = []float64{
	1, 10, 60, 10 * 60, 30 * 60, 3600, 6 * 3600, 12 * 3600, 24 * 3600,
}

// Monitor exports call-coordination metrics. All methods are safe on a nil
// receiver so metrics stay optional in tests and embedded use.
type Monitor struct {
	callsStarted    *prometheus.CounterVec
	callsActive     prometheus.Gauge
	callsEnded      *prometheus.CounterVec
	recordsEmitted  *prometheus.CounterVec
	invitesIgnored  prometheus.Counter
	signalsDropped  prometheus.Counter
	durCall         prometheus.Histogram

	metrics []prometheus.Collector
}

func mustRegister[T prometheus.Collector](m *Monitor, c T) T {
	err := prometheus.Register(c)
	if err != nil {
		var e prometheus.AlreadyRegisteredError
		if errors.As(err, &e) {
			return e.ExistingCollector.(T)
		} else {
			panic(err)
		}
	}
	m.metrics = append(m.metrics, c)
	return c
}

func NewMonitor(identity string) *Monitor {
	m := &Monitor{}
	labels := prometheus.Labels{"identity": identity}

	m.callsStarted = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "callkit",
		Subsystem:   "calls",
		Name:        "started",
		Help:        "Call sessions created",
		ConstLabels: labels,
	}, []string{"dir", "media_type"}))
	m.callsActive = mustRegister(m, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "callkit",
		Subsystem:   "calls",
		Name:        "active",
		Help:        "Call sessions currently alive",
		ConstLabels: labels,
	}))
	m.callsEnded = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "callkit",
		Subsystem:   "calls",
		Name:        "ended",
		Help:        "Call sessions that reached the terminal state",
		ConstLabels: labels,
	}, []string{"role"}))
	m.recordsEmitted = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "callkit",
		Subsystem:   "calls",
		Name:        "records_emitted",
		Help:        "Terminal call records sent to the remote party",
		ConstLabels: labels,
	}, []string{"terminal_state"}))
	m.invitesIgnored = mustRegister(m, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "callkit",
		Subsystem:   "signals",
		Name:        "invites_ignored",
		Help:        "Invites dropped because another call was active",
		ConstLabels: labels,
	}))
	m.signalsDropped = mustRegister(m, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "callkit",
		Subsystem:   "signals",
		Name:        "dropped",
		Help:        "Stale or mismatched signals ignored",
		ConstLabels: labels,
	}))
	m.durCall = mustRegister(m, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   "callkit",
		Subsystem:   "calls",
		Name:        "duration_seconds",
		Help:        "Connected call duration",
		ConstLabels: labels,
		Buckets:     durBucketsCall,
	}))

	return m
}

func (m *Monitor) Stop() {
	if m == nil {
		return
	}
	for _, c := range m.metrics {
		prometheus.Unregister(c)
	}
}

func (m *Monitor) CallStarted(dir, mediaType string) {
	if m == nil {
		return
	}
	m.callsStarted.WithLabelValues(dir, mediaType).Inc()
	m.callsActive.Inc()
}

func (m *Monitor) CallEnded(role string) {
	if m == nil {
		return
	}
	m.callsEnded.WithLabelValues(role).Inc()
	m.callsActive.Dec()
}

func (m *Monitor) CallDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.durCall.Observe(d.Seconds())
}

func (m *Monitor) RecordEmitted(terminalState string) {
	if m == nil {
		return
	}
	m.recordsEmitted.WithLabelValues(terminalState).Inc()
}

func (m *Monitor) InviteIgnored() {
	if m == nil {
		return
	}
	m.invitesIgnored.Inc()
}

func (m *Monitor) SignalDropped() {
	if m == nil {
		return
	}
	m.signalsDropped.Inc()
}
