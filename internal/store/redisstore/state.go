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

package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/holidesk/holidesk/internal/oauthlink"
)

// StateStore implements oauthlink.StateStore
type StateStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStateStore creates an OAuth state store
func NewStateStore(client redis.UniversalClient, prefix string) *StateStore {
	if prefix == "" {
		prefix = "oauth:state"
	}
	return &StateStore{redis: client, prefix: prefix}
}

// Save implements oauthlink.StateStore
func (s *StateStore) Save(ctx context.Context, state string, data oauthlink.StateData, ttl time.Duration) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode oauth state: %w", err)
	}
	ok, err := s.redis.SetNX(ctx, s.prefix+":"+state, encoded, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if !ok {
		return fmt.Errorf("%w: state collision", ErrBackend)
	}
	return nil
}

// Consume implements oauthlink.StateStore with GETDEL so a state is
// returned to at most one caller.
func (s *StateStore) Consume(ctx context.Context, state string) (*oauthlink.StateData, error) {
	raw, err := s.redis.GetDel(ctx, s.prefix+":"+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, oauthlink.ErrStateNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	var data oauthlink.StateData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode oauth state: %w", err)
	}
	return &data, nil
}
