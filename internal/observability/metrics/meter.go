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

// Package metrics owns the OpenTelemetry instruments of the auth core.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Auth records the outcome and latency of every orchestrator operation and
// the number of sessions opened and closed. A nil *Auth records nothing.
type Auth struct {
	operations metric.Int64Counter
	duration   metric.Float64Histogram
	sessions   metric.Int64UpDownCounter
}

// New creates the auth instruments from the global meter provider, or from
// a no-op provider when metrics are disabled.
func New(cfg Config, serviceName string) (*Auth, error) {
	var meter metric.Meter
	if cfg.Enabled {
		meter = otel.Meter(serviceName)
	} else {
		meter = noop.NewMeterProvider().Meter(serviceName)
	}
	return NewWithMeter(meter)
}

// NewWithMeter creates the auth instruments on meter
func NewWithMeter(meter metric.Meter) (*Auth, error) {
	operations, err := meter.Int64Counter("auth.operations",
		metric.WithDescription("Auth operations by name and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter auth.operations: %w", err)
	}

	duration, err := meter.Float64Histogram("auth.operation.duration",
		metric.WithDescription("Auth operation latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram auth.operation.duration: %w", err)
	}

	sessions, err := meter.Int64UpDownCounter("auth.sessions.open",
		metric.WithDescription("Sessions opened minus sessions revoked by this instance"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create up/down counter auth.sessions.open: %w", err)
	}

	return &Auth{operations: operations, duration: duration, sessions: sessions}, nil
}

// Observe records one finished operation
func (a *Auth) Observe(ctx context.Context, operation, outcome string, elapsed time.Duration) {
	if a == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)
	a.operations.Add(ctx, 1, attrs)
	a.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// SessionsOpened adds n to the open sessions gauge; negative n closes
func (a *Auth) SessionsOpened(ctx context.Context, n int) {
	if a == nil || n == 0 {
		return
	}
	a.sessions.Add(ctx, int64(n))
}
