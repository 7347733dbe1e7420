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
	"time"
)

// Domain errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotOwner        = errors.New("session belongs to another principal")
)

// Session represents one signed-in device of a principal. Revocation sets
// RevokedAt; rows are kept for the audit trail until retention cleanup.
type Session struct {
	ID             string
	PrincipalID    string
	TenantID       *string
	RefreshTokenID string
	IPAddress      string
	UserAgent      string
	CreatedAt      time.Time
	LastUsedAt     time.Time
	ExpiresAt      time.Time
	RevokedAt      *time.Time
}

// Revoked reports whether the session was revoked
func (s *Session) Revoked() bool {
	return s.RevokedAt != nil
}

// Active reports whether the session can still be refreshed at now
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Device describes the client a session was created from
type Device struct {
	IPAddress string
	UserAgent string
}

// Store defines the interface for session persistence
type Store interface {
	// Create persists a new session
	Create(ctx context.Context, s *Session) error

	// Get retrieves a session by ID, revoked or not
	Get(ctx context.Context, sessionID string) (*Session, error)

	// ListActive returns unrevoked, unexpired sessions, most recently used first
	ListActive(ctx context.Context, principalID string, now time.Time) ([]*Session, error)

	// Revoke marks the session and its refresh tokens revoked and reports
	// whether the session was still unrevoked. Revoking an already revoked
	// session is not an error.
	Revoke(ctx context.Context, sessionID string, now time.Time) (bool, error)

	// RevokeAll revokes every active session of the principal except
	// exceptSessionID and returns how many were revoked
	RevokeAll(ctx context.Context, principalID, exceptSessionID string, now time.Time) (int, error)

	// Purge deletes sessions revoked or expired before the cutoff together
	// with their refresh tokens
	Purge(ctx context.Context, before time.Time) (int64, error)
}
