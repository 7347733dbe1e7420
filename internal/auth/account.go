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

	"github.com/holidesk/holidesk/internal/audit"
	"github.com/holidesk/holidesk/internal/identity"
	"github.com/holidesk/holidesk/internal/password"
	"github.com/holidesk/holidesk/internal/ratelimit"
	"github.com/holidesk/holidesk/internal/twofactor"
)

// SetupTwoFactor starts enrollment and returns the secret and otpauth URI.
// Login is not gated until ConfirmTwoFactor succeeds.
func (o *Orchestrator) SetupTwoFactor(ctx context.Context, principalID string) (prov *twofactor.Provisioning, err error) {
	ctx, done := o.begin(ctx, "setup_two_factor")
	defer func() { err = done(err) }()

	ev := audit.Event{Type: audit.TypeTwoFactorSetup, PrincipalID: principalID}
	if err := o.throttle(ctx, ev, "2fa:manage:", principalID, o.cfg.SensitiveMaxPerAccount, o.cfg.SensitiveWindow); err != nil {
		return nil, err
	}

	p, err := o.identity.FindByID(ctx, principalID)
	if err != nil {
		return nil, err
	}
	ev.TenantID = p.TenantIDValue()

	prov, err = o.twoFactor.BeginEnrollment(ctx, p.ID, p.Email)
	if err != nil {
		o.fail(ctx, ev, "enrollment_rejected")
		return nil, err
	}
	ev.Outcome = audit.OutcomeSuccess
	o.record(ctx, ev)
	return prov, nil
}

// ConfirmTwoFactor activates enrollment with a live code and returns the
// backup codes. They are shown once and never stored in plain text.
func (o *Orchestrator) ConfirmTwoFactor(ctx context.Context, principalID, code string) (codes []string, err error) {
	ctx, done := o.begin(ctx, "confirm_two_factor")
	defer func() { err = done(err) }()

	ev := audit.Event{Type: audit.TypeTwoFactorEnabled, PrincipalID: principalID}
	codes, err = o.twoFactor.ConfirmEnrollment(ctx, principalID, code)
	if err != nil {
		o.twoFactorFailure(ctx, ev, principalID, err)
		return nil, err
	}
	ev.Outcome = audit.OutcomeSuccess
	o.record(ctx, ev)
	return codes, nil
}

// DisableTwoFactor removes the second factor after proof of possession:
// the current password or a valid code.
func (o *Orchestrator) DisableTwoFactor(ctx context.Context, principalID string, proof twofactor.Proof) (err error) {
	ctx, done := o.begin(ctx, "disable_two_factor")
	defer func() { err = done(err) }()

	ev := audit.Event{Type: audit.TypeTwoFactorDisabled, PrincipalID: principalID}
	if err := o.throttle(ctx, ev, "2fa:manage:", principalID, o.cfg.SensitiveMaxPerAccount, o.cfg.SensitiveWindow); err != nil {
		return err
	}

	if err := o.twoFactor.Disable(ctx, principalID, proof); err != nil {
		if errors.Is(err, twofactor.ErrProofRequired) {
			ev.Type = audit.TypeTwoFactorDisableDenied
			o.fail(ctx, ev, "proof_rejected")
		} else {
			o.twoFactorFailure(ctx, ev, principalID, err)
		}
		return err
	}
	ev.Outcome = audit.OutcomeSuccess
	o.record(ctx, ev)
	return nil
}

// RegenerateBackupCodes replaces all backup codes; a live authenticator
// code is required.
func (o *Orchestrator) RegenerateBackupCodes(ctx context.Context, principalID, code string) (codes []string, err error) {
	ctx, done := o.begin(ctx, "regenerate_backup_codes")
	defer func() { err = done(err) }()

	ev := audit.Event{Type: audit.TypeBackupCodesRegenerated, PrincipalID: principalID}
	codes, err = o.twoFactor.RegenerateBackupCodes(ctx, principalID, code)
	if err != nil {
		o.twoFactorFailure(ctx, ev, principalID, err)
		return nil, err
	}
	ev.Outcome = audit.OutcomeSuccess
	ev.Metadata = map[string]any{audit.AttrCount: len(codes)}
	o.record(ctx, ev)
	return codes, nil
}

// TwoFactorStatus reports enrollment state and remaining backup codes
func (o *Orchestrator) TwoFactorStatus(ctx context.Context, principalID string) (st *twofactor.Status, err error) {
	ctx, done := o.begin(ctx, "two_factor_status")
	defer func() { err = done(err) }()

	return o.twoFactor.Status(ctx, principalID)
}

func (o *Orchestrator) twoFactorFailure(ctx context.Context, ev audit.Event, principalID string, err error) {
	switch {
	case errors.Is(err, ratelimit.ErrLimited):
		o.limited(ctx, ev, "2fa:"+principalID, err)
	case errors.Is(err, twofactor.ErrInvalidCode):
		o.fail(ctx, ev, "invalid_code")
	}
}

// PasswordCheck is the outcome of ValidatePassword
type PasswordCheck struct {
	password.Result
	Strength password.Strength `json:"strength"`
}

// ValidatePassword reports every policy violation at once plus an advisory
// strength score. It is pure and not audited.
func (o *Orchestrator) ValidatePassword(pw string) PasswordCheck {
	return PasswordCheck{
		Result:   o.passwords.Validate(pw),
		Strength: o.passwords.Score(pw),
	}
}

// GeneratePassword returns a random password that passes the policy
func (o *Orchestrator) GeneratePassword(length int) (string, error) {
	if length < 0 || length > password.MaxGeneratedLength {
		out := newError(KindInvalidInput, nil)
		out.Message = "length is out of range"
		return "", out
	}
	pw, err := o.passwords.Generate(length)
	if err != nil {
		return "", translate(err, o.now())
	}
	return pw, nil
}

// ChangePassword replaces the principal's password after checking the
// current one, the policy and recent history. Every other session is
// revoked.
func (o *Orchestrator) ChangePassword(ctx context.Context, principalID, currentSessionID, current, next string) (err error) {
	ctx, done := o.begin(ctx, "change_password")
	defer func() { err = done(err) }()

	ev := audit.Event{Type: audit.TypePasswordChanged, PrincipalID: principalID, SessionID: currentSessionID}
	if err := o.throttle(ctx, ev, "password:account:", principalID, o.cfg.SensitiveMaxPerAccount, o.cfg.SensitiveWindow); err != nil {
		return err
	}

	if err := o.identity.ChangePassword(ctx, principalID, current, next); err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCredentials):
			o.fail(ctx, ev, "bad_password")
		case errors.Is(err, identity.ErrWeakPassword):
			// validation failures are not security events
		default:
			o.fail(ctx, ev, "internal_error")
		}
		return err
	}

	revoked := 0
	if o.sessions != nil {
		if revoked, err = o.sessions.RevokeAll(ctx, principalID, currentSessionID); err != nil {
			return err
		}
		o.metrics.SessionsOpened(ctx, -revoked)
	}

	ev.Outcome = audit.OutcomeSuccess
	ev.Metadata = map[string]any{audit.AttrCount: revoked}
	o.record(ctx, ev)
	return nil
}
