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

// Package redisstore holds the short-lived, single-use records of the auth flow:
// second-factor challenges and OAuth states.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/holidesk/holidesk/internal/auth"
)

// ErrBackend wraps Redis failures
var ErrBackend = errors.New("redis backend unavailable")

// ChallengeStore implements auth.ChallengeStore
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewChallengeStore creates a challenge store
func NewChallengeStore(client redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "mfa:challenge"
	}
	return &ChallengeStore{redis: client, prefix: prefix, now: time.Now}
}

func (s *ChallengeStore) key(id string) string {
	return s.prefix + ":" + id
}

// Save implements auth.ChallengeStore
func (s *ChallengeStore) Save(ctx context.Context, c *auth.Challenge, ttl time.Duration) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode challenge: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(c.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// Get implements auth.ChallengeStore
func (s *ChallengeStore) Get(ctx context.Context, id string) (*auth.Challenge, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, auth.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return s.decode(data)
}

// Consume implements auth.ChallengeStore
func (s *ChallengeStore) Consume(ctx context.Context, id string) (*auth.Challenge, error) {
	data, err := s.redis.GetDel(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, auth.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return s.decode(data)
}

// Release implements auth.ChallengeStore. The challenge keeps its original
// expiry; one that has already run out is not put back.
func (s *ChallengeStore) Release(ctx context.Context, c *auth.Challenge, failed bool, maxAttempts int) (bool, error) {
	if failed {
		c.Attempts++
		if c.Attempts >= maxAttempts {
			return true, nil
		}
	}
	ttl := c.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return false, nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return false, fmt.Errorf("failed to encode challenge: %w", err)
	}
	if err := s.redis.SetNX(ctx, s.key(c.ID), data, ttl).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return false, nil
}

func (s *ChallengeStore) decode(data []byte) (*auth.Challenge, error) {
	var c auth.Challenge
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", err)
	}
	if !s.now().Before(c.ExpiresAt) {
		return nil, auth.ErrChallengeNotFound
	}
	return &c, nil
}
