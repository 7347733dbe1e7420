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

package oauthlink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/holidesk/holidesk/internal/id"
	"github.com/holidesk/holidesk/internal/identity"
	"github.com/holidesk/holidesk/internal/observability/logger"
)

// DefaultStateTTL bounds the time between redirect and callback
const DefaultStateTTL = 10 * time.Minute

// Config holds linker policy
type Config struct {
	AutoProvision bool
	StateTTL      time.Duration
}

// Linker runs the provider sign-in state machine:
// redirect issued, code received, identity exchanged, then linked, created
// or failed.
type Linker struct {
	client     ProviderClient
	links      LinkStore
	states     StateStore
	principals Principals
	cfg        Config
	now        func() time.Time
}

// NewLinker creates a linker
func NewLinker(client ProviderClient, links LinkStore, states StateStore, principals Principals, cfg Config) *Linker {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultStateTTL
	}
	return &Linker{
		client:     client,
		links:      links,
		states:     states,
		principals: principals,
		cfg:        cfg,
		now:        time.Now,
	}
}

// AuthorizationURL issues a single-use state bound to provider and tenant
// hint and returns the provider redirect.
func (l *Linker) AuthorizationURL(ctx context.Context, provider, tenantHint string) (*Redirect, error) {
	return l.redirect(ctx, StateData{Provider: provider, TenantHint: tenantHint})
}

// BeginLink issues a state for linking provider to a signed-in principal
func (l *Linker) BeginLink(ctx context.Context, principalID, provider string) (*Redirect, error) {
	return l.redirect(ctx, StateData{Provider: provider, PrincipalID: principalID})
}

func (l *Linker) redirect(ctx context.Context, data StateData) (*Redirect, error) {
	state := id.NewOpaque(32)
	target, err := l.client.AuthCodeURL(data.Provider, state)
	if err != nil {
		return nil, err
	}
	data.IssuedAt = l.now()
	if err := l.states.Save(ctx, state, data, l.cfg.StateTTL); err != nil {
		return nil, fmt.Errorf("failed to store oauth state: %w", err)
	}
	return &Redirect{URL: target, State: state}, nil
}

// HandleCallback completes a sign-in. The state is consumed before the code
// is exchanged, so a state is never usable twice. Nothing is created unless
// every check passes.
func (l *Linker) HandleCallback(ctx context.Context, provider, code, state string) (*Outcome, error) {
	data, err := l.consumeState(ctx, provider, state)
	if err != nil {
		return nil, err
	}
	if data.PrincipalID != "" {
		return nil, ErrStateMismatch
	}

	ident, err := l.exchange(ctx, provider, code)
	if err != nil {
		return nil, err
	}

	link, err := l.links.FindLink(ctx, provider, ident.ProviderUserID)
	switch {
	case err == nil:
		p, err := l.principals.FindByID(ctx, link.PrincipalID)
		if err != nil {
			return nil, fmt.Errorf("failed to load linked principal: %w", err)
		}
		return &Outcome{Principal: p, Result: ResultLinked, Provider: provider}, nil
	case !errors.Is(err, ErrLinkNotFound):
		return nil, fmt.Errorf("failed to look up oauth link: %w", err)
	}

	_, err = l.principals.FindByEmail(ctx, ident.Email)
	switch {
	case err == nil:
		// a local account with this email must link explicitly after signing in
		return nil, ErrLinkRequired
	case !errors.Is(err, identity.ErrPrincipalNotFound):
		return nil, fmt.Errorf("failed to look up principal: %w", err)
	}
	if !l.cfg.AutoProvision {
		return nil, ErrLinkRequired
	}

	var tenantID *string
	if data.TenantHint != "" {
		hint := data.TenantHint
		tenantID = &hint
	}
	p, err := l.principals.NewProviderPrincipal(ident.Email, tenantID)
	if err != nil {
		return nil, err
	}
	err = l.links.CreatePrincipalWithLink(ctx, p, &Link{
		Provider:       provider,
		ProviderUserID: ident.ProviderUserID,
		PrincipalID:    p.ID,
		Email:          p.Email,
		CreatedAt:      l.now(),
	})
	switch {
	case errors.Is(err, identity.ErrPrincipalExists), errors.Is(err, ErrLinkExists):
		// a concurrent callback for the same identity won
		return nil, ErrLinkRequired
	case err != nil:
		return nil, fmt.Errorf("failed to provision principal from provider: %w", err)
	}

	slog.InfoContext(ctx, "provisioned principal from provider", logger.PrincipalID(p.ID), logger.Provider(provider))
	return &Outcome{Principal: p, Result: ResultCreated, Provider: provider}, nil
}

// LinkProvider completes an explicit link for a signed-in principal. Linking
// the same provider account twice is idempotent.
func (l *Linker) LinkProvider(ctx context.Context, principalID, provider, code, state string) (*Link, error) {
	data, err := l.consumeState(ctx, provider, state)
	if err != nil {
		return nil, err
	}
	if data.PrincipalID != principalID {
		return nil, ErrStateMismatch
	}

	ident, err := l.exchange(ctx, provider, code)
	if err != nil {
		return nil, err
	}

	existing, err := l.links.FindLink(ctx, provider, ident.ProviderUserID)
	switch {
	case err == nil && existing.PrincipalID == principalID:
		return existing, nil
	case err == nil:
		return nil, ErrAlreadyLinked
	case !errors.Is(err, ErrLinkNotFound):
		return nil, fmt.Errorf("failed to look up oauth link: %w", err)
	}

	link := &Link{
		Provider:       provider,
		ProviderUserID: ident.ProviderUserID,
		PrincipalID:    principalID,
		Email:          ident.Email,
		CreatedAt:      l.now(),
	}
	if err := l.links.CreateLink(ctx, link); err != nil {
		if errors.Is(err, ErrLinkExists) {
			return nil, ErrAlreadyLinked
		}
		return nil, fmt.Errorf("failed to create oauth link: %w", err)
	}
	return link, nil
}

// Links returns the provider accounts linked to a principal
func (l *Linker) Links(ctx context.Context, principalID string) ([]*Link, error) {
	return l.links.ListLinks(ctx, principalID)
}

func (l *Linker) consumeState(ctx context.Context, provider, state string) (*StateData, error) {
	if state == "" {
		return nil, ErrStateMismatch
	}
	data, err := l.states.Consume(ctx, state)
	if errors.Is(err, ErrStateNotFound) {
		return nil, ErrStateMismatch
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume oauth state: %w", err)
	}
	if data.Provider != provider {
		return nil, ErrStateMismatch
	}
	return data, nil
}

func (l *Linker) exchange(ctx context.Context, provider, code string) (*ProviderIdentity, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrProviderError)
	}
	ident, err := l.client.Exchange(ctx, provider, code)
	if err != nil {
		if errors.Is(err, ErrProviderError) || errors.Is(err, ErrUnknownProvider) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	if ident.ProviderUserID == "" {
		return nil, fmt.Errorf("%w: provider returned no subject", ErrProviderError)
	}
	if !ident.EmailVerified || ident.Email == "" {
		return nil, ErrEmailNotVerified
	}
	ident.Email = identity.NormalizeEmail(ident.Email)
	return ident, nil
}
