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

// Package oauthlink signs principals in through external OAuth providers and
// links provider accounts to local principals.
package oauthlink

import (
	"context"
	"errors"
	"time"

	"github.com/holidesk/holidesk/internal/identity"
)

// Domain errors
var (
	ErrStateMismatch    = errors.New("oauth state missing or mismatched")
	ErrProviderError    = errors.New("oauth provider exchange failed")
	ErrEmailNotVerified = errors.New("provider email is not verified")
	ErrLinkRequired     = errors.New("account exists or auto-provisioning disabled; explicit linking required")
	ErrUnknownProvider  = errors.New("unknown oauth provider")
	ErrLinkNotFound     = errors.New("oauth link not found")
	ErrLinkExists       = errors.New("oauth link already exists")
	ErrAlreadyLinked    = errors.New("provider account is linked to another principal")
	ErrStateNotFound    = errors.New("oauth state not found")
)

// Result of a completed callback
type Result string

const (
	ResultLinked  Result = "linked"
	ResultCreated Result = "created"
)

// Link binds a provider account to a principal. (Provider, ProviderUserID)
// is unique.
type Link struct {
	Provider       string
	ProviderUserID string
	PrincipalID    string
	Email          string
	CreatedAt      time.Time
}

// ProviderIdentity is what a provider asserts about the signed-in user
type ProviderIdentity struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
}

// ProviderClient talks to the external providers
type ProviderClient interface {
	// AuthCodeURL builds the redirect to the provider's consent page
	AuthCodeURL(provider, state string) (string, error)

	// Exchange trades an authorization code for the provider identity
	Exchange(ctx context.Context, provider, code string) (*ProviderIdentity, error)
}

// LinkStore persists links
type LinkStore interface {
	// FindLink returns ErrLinkNotFound when no link matches
	FindLink(ctx context.Context, provider, providerUserID string) (*Link, error)

	// CreateLink returns ErrLinkExists on a duplicate (provider, provider user id)
	CreateLink(ctx context.Context, link *Link) error

	ListLinks(ctx context.Context, principalID string) ([]*Link, error)

	// CreatePrincipalWithLink stores a new principal and its first link as
	// one unit; on any error neither exists. Returns
	// identity.ErrPrincipalExists or ErrLinkExists on duplicates.
	CreatePrincipalWithLink(ctx context.Context, p *identity.Principal, link *Link) error
}

// StateData is bound to an issued state value. PrincipalID is set only for
// explicit linking by a signed-in principal.
type StateData struct {
	Provider    string    `json:"provider"`
	TenantHint  string    `json:"tenant_hint,omitempty"`
	PrincipalID string    `json:"principal_id,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
}

// StateStore keeps issued states until their single use
type StateStore interface {
	Save(ctx context.Context, state string, data StateData, ttl time.Duration) error

	// Consume atomically reads and deletes; ErrStateNotFound when absent
	Consume(ctx context.Context, state string) (*StateData, error)
}

// Principals is the identity surface the linker needs
type Principals interface {
	FindByEmail(ctx context.Context, email string) (*identity.Principal, error)
	FindByID(ctx context.Context, principalID string) (*identity.Principal, error)
	NewProviderPrincipal(email string, tenantID *string) (*identity.Principal, error)
}

// Redirect is an issued authorization request
type Redirect struct {
	URL   string
	State string
}

// Outcome of a successful sign-in callback
type Outcome struct {
	Principal *identity.Principal
	Result    Result
	Provider  string
}
