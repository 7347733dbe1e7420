// Copyright 2026 The Holidesk Authors
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

package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// MultiSink fans an event out to several sinks. It stamps the event id and
// timestamp once so every sink sees the same values, and isolates sinks from
// each other: a panicking sink is logged and skipped.
type MultiSink struct {
	sinks []Sink
	now   func() time.Time
}

// NewMultiSink creates a fan-out sink
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks, now: time.Now}
}

// Record forwards event to every sink
func (m *MultiSink) Record(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = m.now()
	}
	for _, s := range m.sinks {
		recordSafely(ctx, s, event)
	}
}

func recordSafely(ctx context.Context, s Sink, event Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "audit sink panicked",
				slog.String("audit_type", event.Type),
				slog.Any("panic", r),
			)
		}
	}()
	s.Record(ctx, event)
}

// MetricsSink counts security events by type and outcome
type MetricsSink struct {
	events *prometheus.CounterVec
}

// NewMetricsSink creates the counter and registers it with reg.
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holidesk_security_events_total",
			Help: "Security events recorded by the authentication core.",
		},
		[]string{"type", "outcome"},
	)
	if err := reg.Register(events); err != nil {
		return nil, err
	}
	return &MetricsSink{events: events}, nil
}

// Record increments the counter for the event
func (m *MetricsSink) Record(_ context.Context, event Event) {
	m.events.WithLabelValues(event.Type, string(event.Outcome)).Inc()
}

// Discard drops every event
type Discard struct{}

// Record does nothing
func (Discard) Record(context.Context, Event) {}
