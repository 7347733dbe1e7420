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

package auth

import (
	"context"
	"errors"
	"time"
)

// Challenge defaults
const (
	DefaultChallengeTTL         = 5 * time.Minute
	DefaultChallengeMaxAttempts = 5
)

// ErrChallengeNotFound is returned by a ChallengeStore for unknown, expired
// or already consumed challenges.
var ErrChallengeNotFound = errors.New("challenge not found")

// Challenge records that a password was verified and a second factor is
// still outstanding. It is single use.
type Challenge struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id"`
	TenantID    *string   `json:"tenant_id,omitempty"`
	Attempts    int       `json:"attempts"`
	Method      string    `json:"method"`
	IPAddress   string    `json:"ip_address,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ChallengeStore keeps challenges between login and second-factor completion.
type ChallengeStore interface {
	Save(ctx context.Context, c *Challenge, ttl time.Duration) error

	// Get returns ErrChallengeNotFound once expired or consumed
	Get(ctx context.Context, id string) (*Challenge, error)

	// Consume atomically removes and returns the challenge; only one caller
	// ever receives it
	Consume(ctx context.Context, id string) (*Challenge, error)

	// Release puts back a consumed challenge that did not complete. A failed
	// attempt is counted and the maxAttempts-th failure burns it instead.
	Release(ctx context.Context, c *Challenge, failed bool, maxAttempts int) (exceeded bool, err error)
}
