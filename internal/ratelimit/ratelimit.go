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

// Package ratelimit provides admission control shared by every instance of
// the service. Counters live in Redis; nothing here keeps in-process state.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Domain errors
var (
	ErrLimited     = errors.New("rate limit exceeded")
	ErrUnavailable = errors.New("rate limiter unavailable")
)

// Decision is the outcome of one CheckAndConsume call
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter consumes one unit from the window identified by key.
type Limiter interface {
	CheckAndConsume(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Refunder is implemented by limiters that can hand a consumed unit back,
// for windows that should only count failed attempts.
type Refunder interface {
	Refund(ctx context.Context, key string) error
}

// Refund returns one unit to the window when l supports it.
func Refund(ctx context.Context, l Limiter, key string) error {
	r, ok := l.(Refunder)
	if !ok {
		return nil
	}
	return r.Refund(ctx, key)
}

// ExceededError reports a denied admission and when the window resets.
type ExceededError struct {
	Key     string
	ResetAt time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s", e.Key)
}

// Is matches ErrLimited
func (e *ExceededError) Is(target error) bool {
	return target == ErrLimited
}

// RetryAfter returns the time left until the window resets, at least one second.
func (e *ExceededError) RetryAfter(now time.Time) time.Duration {
	d := e.ResetAt.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d.Truncate(time.Second)
}

// Enforce consumes one unit and converts a denial into *ExceededError.
func Enforce(ctx context.Context, l Limiter, key string, limit int, window time.Duration) error {
	d, err := l.CheckAndConsume(ctx, key, limit, window)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return &ExceededError{Key: key, ResetAt: d.ResetAt}
	}
	return nil
}

// Unlimited admits everything. Useful for local development only.
type Unlimited struct{}

// CheckAndConsume always allows
func (Unlimited) CheckAndConsume(_ context.Context, _ string, limit int, window time.Duration) (Decision, error) {
	return Decision{Allowed: true, Remaining: limit, ResetAt: time.Now().Add(window)}, nil
}
