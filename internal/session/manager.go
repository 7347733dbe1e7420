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

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/holidesk/holidesk/internal/id"
	"github.com/holidesk/holidesk/internal/observability/logger"
)

// Config holds session policy
type Config struct {
	// SingleSession revokes every earlier session when a new one is created
	SingleSession bool
	// TTL bounds a session's lifetime; rotation extends it
	TTL time.Duration
}

// Manager tracks active sessions per principal
type Manager struct {
	store  Store
	single bool
	ttl    time.Duration
	now    func() time.Time
}

// NewManager creates a session manager
func NewManager(store Store, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	return &Manager{
		store:  store,
		single: cfg.SingleSession,
		ttl:    cfg.TTL,
		now:    time.Now,
	}
}

// Create registers a new session for the principal. Under the
// single-session policy all earlier sessions are revoked first.
func (m *Manager) Create(ctx context.Context, principalID string, tenantID *string, dev Device) (*Session, error) {
	now := m.now()

	if m.single {
		n, err := m.store.RevokeAll(ctx, principalID, "", now)
		if err != nil {
			return nil, fmt.Errorf("failed to enforce single session: %w", err)
		}
		if n > 0 {
			slog.InfoContext(ctx, "single-session policy revoked earlier sessions",
				logger.PrincipalID(principalID), slog.Int("count", n))
		}
	}

	s := &Session{
		ID:          id.NewUUIDv7(),
		PrincipalID: principalID,
		TenantID:    tenantID,
		IPAddress:   dev.IPAddress,
		UserAgent:   dev.UserAgent,
		CreatedAt:   now,
		LastUsedAt:  now,
		ExpiresAt:   now.Add(m.ttl),
	}
	if err := m.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return s, nil
}

// Get returns a session by id
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	return m.store.Get(ctx, sessionID)
}

// List returns the principal's active sessions, most recently used first
func (m *Manager) List(ctx context.Context, principalID string) ([]*Session, error) {
	return m.store.ListActive(ctx, principalID, m.now())
}

// Revoke revokes one session of the principal. The result is false when
// the session had already been revoked.
func (m *Manager) Revoke(ctx context.Context, principalID, sessionID string) (bool, error) {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if s.PrincipalID != principalID {
		return false, ErrNotOwner
	}
	if s.Revoked() {
		return false, nil
	}
	return m.store.Revoke(ctx, sessionID, m.now())
}

// RevokeAll revokes all sessions of the principal except exceptSessionID,
// which may be empty.
func (m *Manager) RevokeAll(ctx context.Context, principalID, exceptSessionID string) (int, error) {
	return m.store.RevokeAll(ctx, principalID, exceptSessionID, m.now())
}

// CleanupExpired purges sessions that ended before the cutoff
func (m *Manager) CleanupExpired(ctx context.Context, before time.Time) (int64, error) {
	n, err := m.store.Purge(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	return n, nil
}

// IsActive reports whether the session exists and is usable
func (m *Manager) IsActive(ctx context.Context, sessionID string) (bool, error) {
	s, err := m.store.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.Active(m.now()), nil
}
