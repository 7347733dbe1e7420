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

// Package token issues and verifies access and refresh tokens. Access tokens
// are stateless; refresh tokens are backed by a server-side record so they
// can be revoked and are rotated on every use.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Domain errors
var (
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("token expired")
	ErrMalformed        = errors.New("malformed token")
	ErrRevoked          = errors.New("token revoked")
	ErrNotFound         = errors.New("refresh token not found")
	ErrSessionRevoked   = fmt.Errorf("session revoked: %w", ErrRevoked)
	ErrReuseDetected    = fmt.Errorf("refresh token reuse: %w", ErrRevoked)
	ErrWeakSigningKey   = errors.New("signing key must be at least 32 bytes")
)

// Token use values carried in the typ claim
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

// Subject is the identity a token pair is issued for
type Subject struct {
	PrincipalID string
	TenantID    *string
	IsAdmin     bool
}

// SubjectSource reloads the current subject on refresh so that tenant or
// admin changes and deactivation take effect at the next rotation.
type SubjectSource interface {
	LoadSubject(ctx context.Context, principalID string) (Subject, error)
}

// Claims are the JWT claims of both token kinds
type Claims struct {
	TenantID  *string `json:"tid"`
	Admin     bool    `json:"adm"`
	SessionID string  `json:"sid"`
	Use       string  `json:"typ"`
	jwt.RegisteredClaims
}

// PrincipalID returns the subject claim
func (c *Claims) PrincipalID() string {
	return c.Subject
}

// Pair is an issued access and refresh token
type Pair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
}

// RefreshRecord is the server-side state of a refresh token
type RefreshRecord struct {
	ID          string
	PrincipalID string
	SessionID   string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	RevokedAt   *time.Time
	ReplacedBy  string
}

// Revoked reports whether the record can no longer be used
func (r *RefreshRecord) Revoked() bool {
	return r.RevokedAt != nil
}

// RefreshStore persists refresh token records.
type RefreshStore interface {
	// Create inserts rec and binds it to its session
	Create(ctx context.Context, rec *RefreshRecord) error

	// Get returns ErrNotFound for unknown ids
	Get(ctx context.Context, id string) (*RefreshRecord, error)

	// Rotate revokes oldID, provided it is still active, and inserts next in
	// the same transaction, updating the session's current token and
	// last-used time. It returns ErrRevoked when oldID was already revoked
	// and ErrSessionRevoked when the session is gone or revoked.
	Rotate(ctx context.Context, oldID string, next *RefreshRecord, now time.Time) error

	// Revoke marks the record revoked; revoking twice is not an error
	Revoke(ctx context.Context, id string, now time.Time) error

	// RevokeSession revokes the session and every refresh record bound to it
	RevokeSession(ctx context.Context, sessionID string, now time.Time) error
}
