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
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/holidesk/holidesk/internal/audit"
	"github.com/holidesk/holidesk/internal/identity"
	"github.com/holidesk/holidesk/internal/oauthlink"
	"github.com/holidesk/holidesk/internal/session"
)

// OAuthCallbackRequest is the provider redirect back to us. BrowserState is
// the state the browser carried from the start of the flow and must equal
// State. ProviderError is the provider's error parameter, set when the user
// denied consent or the provider refused the request.
type OAuthCallbackRequest struct {
	Provider      string
	Code          string
	State         string
	BrowserState  string
	ProviderError string
	Device        session.Device
}

// StartOAuth issues a single-use state and returns the provider redirect
func (o *Orchestrator) StartOAuth(ctx context.Context, provider, tenantHint string, dev session.Device) (r *oauthlink.Redirect, err error) {
	ctx, done := o.begin(ctx, "start_oauth")
	defer func() { err = done(err) }()

	if o.oauth == nil {
		return nil, ErrNotImplemented
	}
	ev := audit.Event{
		Type:      audit.TypeOAuthFailed,
		IPAddress: dev.IPAddress,
		UserAgent: dev.UserAgent,
		Metadata:  map[string]any{audit.AttrProvider: provider},
	}
	if err := o.throttle(ctx, ev, "oauth:ip:", dev.IPAddress, o.cfg.FlowMaxPerIP, o.cfg.FlowWindow); err != nil {
		return nil, err
	}
	return o.oauth.AuthorizationURL(ctx, provider, tenantHint)
}

// OAuthCallback completes provider sign-in. A principal with a second
// factor still has to pass CompleteTwoFactor. On any failure no principal,
// link or token is created.
func (o *Orchestrator) OAuthCallback(ctx context.Context, req OAuthCallbackRequest) (res *LoginResult, err error) {
	ctx, done := o.begin(ctx, "oauth_callback")
	defer func() { err = done(err) }()

	if o.oauth == nil || o.sessions == nil {
		return nil, ErrNotImplemented
	}
	ev := audit.Event{
		Type:      audit.TypeOAuthFailed,
		IPAddress: req.Device.IPAddress,
		UserAgent: req.Device.UserAgent,
		Metadata:  map[string]any{audit.AttrProvider: req.Provider},
	}
	if err := o.throttle(ctx, ev, "oauth:ip:", req.Device.IPAddress, o.cfg.FlowMaxPerIP, o.cfg.FlowWindow); err != nil {
		return nil, err
	}
	if req.ProviderError != "" {
		o.fail(ctx, ev, "provider_denied")
		return nil, fmt.Errorf("%w: %s", oauthlink.ErrProviderError, req.ProviderError)
	}
	if req.State == "" || subtle.ConstantTimeCompare([]byte(req.State), []byte(req.BrowserState)) != 1 {
		o.fail(ctx, ev, "state_mismatch")
		return nil, oauthlink.ErrStateMismatch
	}

	outcome, err := o.oauth.HandleCallback(ctx, req.Provider, req.Code, req.State)
	if err != nil {
		o.fail(ctx, ev, oauthReason(err))
		return nil, err
	}
	p := outcome.Principal
	ev.PrincipalID = p.ID
	ev.TenantID = p.TenantIDValue()

	if outcome.Result == oauthlink.ResultCreated {
		created := ev
		created.Type = audit.TypeOAuthPrincipalCreated
		created.Outcome = audit.OutcomeSuccess
		o.record(ctx, created)
	}
	if !p.IsActive {
		o.fail(ctx, ev, "account_inactive")
		return nil, identity.ErrAccountInactive
	}

	ev.Type = audit.TypeOAuthLogin
	ev.Outcome = audit.OutcomeSuccess
	o.record(ctx, ev)
	return o.completePrimary(ctx, p, req.Device, ev, "oauth:"+req.Provider)
}

// BeginLink issues a state for linking a provider to a signed-in principal
func (o *Orchestrator) BeginLink(ctx context.Context, principalID, provider string) (r *oauthlink.Redirect, err error) {
	ctx, done := o.begin(ctx, "begin_link")
	defer func() { err = done(err) }()

	if o.oauth == nil {
		return nil, ErrNotImplemented
	}
	ev := audit.Event{Type: audit.TypeOAuthLinked, PrincipalID: principalID}
	if err := o.throttle(ctx, ev, "oauth:account:", principalID, o.cfg.SensitiveMaxPerAccount, o.cfg.SensitiveWindow); err != nil {
		return nil, err
	}
	return o.oauth.BeginLink(ctx, principalID, provider)
}

// LinkProvider completes an explicit link started with BeginLink
func (o *Orchestrator) LinkProvider(ctx context.Context, principalID, provider, code, state string) (link *oauthlink.Link, err error) {
	ctx, done := o.begin(ctx, "link_provider")
	defer func() { err = done(err) }()

	if o.oauth == nil {
		return nil, ErrNotImplemented
	}
	ev := audit.Event{
		Type:        audit.TypeOAuthLinked,
		PrincipalID: principalID,
		Metadata:    map[string]any{audit.AttrProvider: provider},
	}
	link, err = o.oauth.LinkProvider(ctx, principalID, provider, code, state)
	if err != nil {
		o.fail(ctx, ev, oauthReason(err))
		return nil, err
	}
	ev.Outcome = audit.OutcomeSuccess
	o.record(ctx, ev)
	return link, nil
}

// LinkedProviders lists the provider accounts linked to the principal
func (o *Orchestrator) LinkedProviders(ctx context.Context, principalID string) (links []*oauthlink.Link, err error) {
	ctx, done := o.begin(ctx, "linked_providers")
	defer func() { err = done(err) }()

	if o.oauth == nil {
		return nil, ErrNotImplemented
	}
	return o.oauth.Links(ctx, principalID)
}

func oauthReason(err error) string {
	switch {
	case errors.Is(err, oauthlink.ErrStateMismatch):
		return "state_mismatch"
	case errors.Is(err, oauthlink.ErrEmailNotVerified):
		return "email_not_verified"
	case errors.Is(err, oauthlink.ErrLinkRequired):
		return "link_required"
	case errors.Is(err, oauthlink.ErrAlreadyLinked):
		return "already_linked"
	case errors.Is(err, oauthlink.ErrUnknownProvider):
		return "unknown_provider"
	case errors.Is(err, oauthlink.ErrProviderError):
		return "provider_error"
	default:
		return "internal_error"
	}
}
