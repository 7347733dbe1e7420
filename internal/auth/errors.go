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
	"fmt"
	"time"

	"github.com/holidesk/holidesk/internal/identity"
	"github.com/holidesk/holidesk/internal/oauthlink"
	"github.com/holidesk/holidesk/internal/password"
	"github.com/holidesk/holidesk/internal/ratelimit"
	"github.com/holidesk/holidesk/internal/session"
	"github.com/holidesk/holidesk/internal/token"
	"github.com/holidesk/holidesk/internal/twofactor"
)

// Kind is the stable, client-visible class of a failure
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindAccountInactive    Kind = "account_inactive"
	KindInvalidCode        Kind = "invalid_code"
	KindChallengeExpired   Kind = "challenge_expired"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindRateLimited        Kind = "rate_limited"
	KindStateMismatch      Kind = "state_mismatch"
	KindProviderError      Kind = "provider_error"
	KindEmailNotVerified   Kind = "email_not_verified"
	KindLinkRequired       Kind = "link_required"
	KindServiceUnavailable Kind = "service_unavailable"
	KindNotImplemented     Kind = "not_implemented"
)

var messages = map[Kind]string{
	KindInvalidInput:       "the request is invalid",
	KindInvalidCredentials: "invalid credentials",
	KindAccountInactive:    "the account is disabled",
	KindInvalidCode:        "invalid verification code",
	KindChallengeExpired:   "the sign-in attempt expired, start again",
	KindForbidden:          "not allowed",
	KindNotFound:           "not found",
	KindRateLimited:        "too many attempts, try again later",
	KindStateMismatch:      "the sign-in request could not be verified",
	KindProviderError:      "the sign-in provider is unavailable",
	KindEmailNotVerified:   "the provider has not verified this email address",
	KindLinkRequired:       "sign in with your password and link this provider from your account",
	KindServiceUnavailable: "service temporarily unavailable",
	KindNotImplemented:     "not available",
}

// Error is returned by every Orchestrator operation. Message is safe to show
// to the caller; the wrapped cause is for logs only.
type Error struct {
	Kind       Kind
	Message    string
	Violations []password.Violation
	RetryAfter time.Duration
	cause      error
}

// Kind sentinels for errors.Is
var (
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrAccountInactive    = &Error{Kind: KindAccountInactive}
	ErrInvalidCode        = &Error{Kind: KindInvalidCode}
	ErrChallengeExpired   = &Error{Kind: KindChallengeExpired}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrStateMismatch      = &Error{Kind: KindStateMismatch}
	ErrProviderError      = &Error{Kind: KindProviderError}
	ErrEmailNotVerified   = &Error{Kind: KindEmailNotVerified}
	ErrLinkRequired       = &Error{Kind: KindLinkRequired}
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
	ErrNotImplemented     = &Error{Kind: KindNotImplemented}
)

func newError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Message: messages[kind], cause: cause}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = messages[e.Kind]
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// SafeMessage is the text a caller may see
func (e *Error) SafeMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return messages[e.Kind]
}

// Unwrap exposes the domain cause
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of err, or service_unavailable for errors that
// did not come from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServiceUnavailable
}

// translate maps domain errors onto the closed kind set. Anything not
// recognised is an infrastructure failure.
func translate(err error, now time.Time) *Error {
	var e *Error
	if errors.As(err, &e) {
		if e.Message == "" {
			cp := *e
			cp.Message = messages[e.Kind]
			return &cp
		}
		return e
	}

	var limited *ratelimit.ExceededError
	if errors.As(err, &limited) {
		out := newError(KindRateLimited, err)
		out.RetryAfter = limited.RetryAfter(now)
		return out
	}

	var weak *identity.PolicyError
	if errors.As(err, &weak) {
		out := newError(KindInvalidInput, err)
		out.Message = "the password does not meet the requirements"
		out.Violations = weak.Violations
		return out
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		errors.Is(err, ratelimit.ErrUnavailable):
		return newError(KindServiceUnavailable, err)

	case errors.Is(err, identity.ErrInvalidCredentials), errors.Is(err, identity.ErrPrincipalNotFound),
		errors.Is(err, token.ErrInvalidSignature), errors.Is(err, token.ErrExpired),
		errors.Is(err, token.ErrMalformed), errors.Is(err, token.ErrRevoked),
		errors.Is(err, token.ErrNotFound):
		return newError(KindInvalidCredentials, err)
	case errors.Is(err, identity.ErrAccountInactive):
		return newError(KindAccountInactive, err)
	case errors.Is(err, identity.ErrInvalidEmail):
		out := newError(KindInvalidInput, err)
		out.Message = "invalid email address"
		return out
	case errors.Is(err, identity.ErrPrincipalExists):
		out := newError(KindInvalidInput, err)
		out.Message = "an account with this email already exists"
		return out

	case errors.Is(err, twofactor.ErrInvalidCode):
		return newError(KindInvalidCode, err)
	case errors.Is(err, twofactor.ErrProofRequired):
		return newError(KindForbidden, err)
	case errors.Is(err, twofactor.ErrNoEnrollment):
		out := newError(KindInvalidInput, err)
		out.Message = "two-factor authentication is not set up"
		return out
	case errors.Is(err, twofactor.ErrAlreadyEnrolled):
		out := newError(KindInvalidInput, err)
		out.Message = "two-factor authentication is already enabled"
		return out
	case errors.Is(err, twofactor.ErrTOTPCodeRequired):
		out := newError(KindInvalidInput, err)
		out.Message = "a current authenticator code is required"
		return out
	case errors.Is(err, ErrChallengeNotFound):
		return newError(KindChallengeExpired, err)

	case errors.Is(err, session.ErrNotOwner):
		return newError(KindForbidden, err)
	case errors.Is(err, session.ErrSessionNotFound):
		return newError(KindNotFound, err)

	case errors.Is(err, oauthlink.ErrStateMismatch), errors.Is(err, oauthlink.ErrStateNotFound):
		return newError(KindStateMismatch, err)
	case errors.Is(err, oauthlink.ErrProviderError):
		return newError(KindProviderError, err)
	case errors.Is(err, oauthlink.ErrEmailNotVerified):
		return newError(KindEmailNotVerified, err)
	case errors.Is(err, oauthlink.ErrLinkRequired):
		return newError(KindLinkRequired, err)
	case errors.Is(err, oauthlink.ErrUnknownProvider):
		return newError(KindNotFound, err)
	case errors.Is(err, oauthlink.ErrAlreadyLinked), errors.Is(err, oauthlink.ErrLinkExists):
		out := newError(KindForbidden, err)
		out.Message = "this provider account is linked to another user"
		return out
	}

	return newError(KindServiceUnavailable, err)
}
