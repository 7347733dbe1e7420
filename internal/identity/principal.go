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

package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Domain errors
var (
	ErrPrincipalNotFound  = errors.New("principal not found")
	ErrPrincipalExists    = errors.New("principal already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account is inactive")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password does not meet security requirements")
)

// Principal is a tenant-scoped user identity. A nil TenantID marks a
// platform administrator. Principals are deactivated, never deleted.
type Principal struct {
	ID               string
	Email            string
	TenantID         *string
	IsAdmin          bool
	IsActive         bool
	PasswordHash     string // empty for provider-only principals
	TwoFactorEnabled bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TenantIDValue returns the tenant id or "" for platform principals
func (p *Principal) TenantIDValue() string {
	if p.TenantID == nil {
		return ""
	}
	return *p.TenantID
}

// Store defines the interface for principal persistence. Emails are stored
// normalized and are unique across the installation.
type Store interface {
	// Create persists a new principal; ErrPrincipalExists on duplicate email
	Create(ctx context.Context, p *Principal) error

	// FindByEmail returns ErrPrincipalNotFound when no principal matches
	FindByEmail(ctx context.Context, email string) (*Principal, error)

	// FindByID returns ErrPrincipalNotFound when no principal matches
	FindByID(ctx context.Context, id string) (*Principal, error)

	UpdatePasswordHash(ctx context.Context, id, hash string) error
	SetActive(ctx context.Context, id string, active bool) error
	SetTwoFactorState(ctx context.Context, id string, enabled bool) error
}

// HistoryStore keeps the most recent password hashes per principal.
type HistoryStore interface {
	// Append adds hash and evicts entries beyond keep, oldest first
	Append(ctx context.Context, principalID, hash string, keep int) error

	// Recent returns up to n hashes, newest first
	Recent(ctx context.Context, principalID string, n int) ([]string, error)
}

// NormalizeEmail lowercases and trims an address for storage and lookup
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
