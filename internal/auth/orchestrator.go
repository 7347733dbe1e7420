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

// Package auth composes identity, second factor, sessions, tokens and
// provider sign-in into the login, refresh and logout flows.
//
// A login moves from credentials submitted to either authenticated (tokens
// issued) or awaiting second factor (challenge issued, no tokens). Every
// transition is rate limited per IP and per account and emits a security
// event, and every operation runs under a deadline.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holidesk/holidesk/internal/audit"
	"github.com/holidesk/holidesk/internal/id"
	"github.com/holidesk/holidesk/internal/identity"
	"github.com/holidesk/holidesk/internal/oauthlink"
	"github.com/holidesk/holidesk/internal/observability/logger"
	"github.com/holidesk/holidesk/internal/observability/metrics"
	"github.com/holidesk/holidesk/internal/observability/tracing"
	"github.com/holidesk/holidesk/internal/password"
	"github.com/holidesk/holidesk/internal/ratelimit"
	"github.com/holidesk/holidesk/internal/session"
	"github.com/holidesk/holidesk/internal/token"
	"github.com/holidesk/holidesk/internal/twofactor"
)

const tracerName = "github.com/holidesk/holidesk/internal/auth"

// Login result statuses
const (
	StatusAuthenticated = "authenticated"
	StatusMFARequired   = "mfa_required"
)

// Deps are the collaborators of the orchestrator. Sessions and OAuth may be
// nil; the operations that need them then fail with not_implemented.
type Deps struct {
	Identity   *identity.Service
	Tokens     *token.Service
	Sessions   *session.Manager
	TwoFactor  *twofactor.Service
	OAuth      *oauthlink.Linker
	Passwords  *password.Policy
	Challenges ChallengeStore
	Limiter    ratelimit.Limiter
	Audit      audit.Sink
	Metrics    *metrics.Auth
}

// Config holds orchestrator policy
type Config struct {
	LoginMaxPerAccount int
	LoginMaxPerIP      int
	LoginWindow        time.Duration

	// Refresh, second-factor and provider callbacks share this per-IP budget
	FlowMaxPerIP int
	FlowWindow   time.Duration

	// Password changes and two-factor management per account
	SensitiveMaxPerAccount int
	SensitiveWindow        time.Duration

	ChallengeTTL         time.Duration
	ChallengeMaxAttempts int

	OperationTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.LoginMaxPerAccount <= 0 {
		c.LoginMaxPerAccount = 5
	}
	if c.LoginMaxPerIP <= 0 {
		c.LoginMaxPerIP = 20
	}
	if c.LoginWindow <= 0 {
		c.LoginWindow = 15 * time.Minute
	}
	if c.FlowMaxPerIP <= 0 {
		c.FlowMaxPerIP = 60
	}
	if c.FlowWindow <= 0 {
		c.FlowWindow = time.Minute
	}
	if c.SensitiveMaxPerAccount <= 0 {
		c.SensitiveMaxPerAccount = 10
	}
	if c.SensitiveWindow <= 0 {
		c.SensitiveWindow = 15 * time.Minute
	}
	if c.ChallengeTTL <= 0 {
		c.ChallengeTTL = DefaultChallengeTTL
	}
	if c.ChallengeMaxAttempts <= 0 {
		c.ChallengeMaxAttempts = DefaultChallengeMaxAttempts
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 10 * time.Second
	}
}

// Orchestrator is constructed once per process and shared by all requests
type Orchestrator struct {
	identity   *identity.Service
	tokens     *token.Service
	sessions   *session.Manager
	twoFactor  *twofactor.Service
	oauth      *oauthlink.Linker
	passwords  *password.Policy
	challenges ChallengeStore
	limiter    ratelimit.Limiter
	audit      audit.Sink
	metrics    *metrics.Auth
	tracer     trace.Tracer
	cfg        Config
	now        func() time.Time
}

// New validates deps and creates an orchestrator
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Identity == nil:
		return nil, errors.New("auth: identity service is required")
	case deps.Tokens == nil:
		return nil, errors.New("auth: token service is required")
	case deps.TwoFactor == nil:
		return nil, errors.New("auth: two-factor service is required")
	case deps.Passwords == nil:
		return nil, errors.New("auth: password policy is required")
	case deps.Challenges == nil:
		return nil, errors.New("auth: challenge store is required")
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.Unlimited{}
	}
	if deps.Audit == nil {
		deps.Audit = audit.Discard{}
	}
	cfg.setDefaults()

	return &Orchestrator{
		identity:   deps.Identity,
		tokens:     deps.Tokens,
		sessions:   deps.Sessions,
		twoFactor:  deps.TwoFactor,
		oauth:      deps.OAuth,
		passwords:  deps.Passwords,
		challenges: deps.Challenges,
		limiter:    deps.Limiter,
		audit:      deps.Audit,
		metrics:    deps.Metrics,
		tracer:     tracing.Tracer(tracerName),
		cfg:        cfg,
		now:        time.Now,
	}, nil
}

// LoginRequest carries submitted credentials. TenantID, when set, must match
// the principal's tenant.
type LoginRequest struct {
	Email    string
	Password string
	TenantID string
	Device   session.Device
}

// LoginResult is either authenticated with tokens or awaiting a second
// factor with a challenge id; never both.
type LoginResult struct {
	Status             string      `json:"status"`
	Tokens             *token.Pair `json:"tokens,omitempty"`
	ChallengeID        string      `json:"challenge_id,omitempty"`
	ChallengeExpiresAt *time.Time  `json:"challenge_expires_at,omitempty"`
	PrincipalID        string      `json:"principal_id,omitempty"`
}

// Login verifies email and password. Principals with a second factor get a
// challenge instead of tokens.
func (o *Orchestrator) Login(ctx context.Context, req LoginRequest) (res *LoginResult, err error) {
	ctx, done := o.begin(ctx, "login")
	defer func() { err = done(err) }()

	if o.sessions == nil {
		return nil, ErrNotImplemented
	}
	email := identity.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		out := newError(KindInvalidInput, nil)
		out.Message = "email and password are required"
		return nil, out
	}

	ev := audit.Event{
		Type:      audit.TypeLoginFailed,
		IPAddress: req.Device.IPAddress,
		UserAgent: req.Device.UserAgent,
		Metadata:  map[string]any{audit.AttrEmail: email},
	}
	if err := o.throttle(ctx, ev, "login:ip:", req.Device.IPAddress, o.cfg.LoginMaxPerIP, o.cfg.LoginWindow); err != nil {
		return nil, err
	}
	if err := o.throttle(ctx, ev, "login:account:", email, o.cfg.LoginMaxPerAccount, o.cfg.LoginWindow); err != nil {
		return nil, err
	}

	p, err := o.identity.Authenticate(ctx, email, req.Password)
	if err != nil {
		if p != nil {
			ev.PrincipalID = p.ID
			ev.TenantID = p.TenantIDValue()
		}
		o.fail(ctx, ev, loginReason(err))
		return nil, err
	}
	ev.PrincipalID = p.ID
	ev.TenantID = p.TenantIDValue()

	if req.TenantID != "" && req.TenantID != p.TenantIDValue() {
		o.fail(ctx, ev, "tenant_mismatch")
		return nil, fmt.Errorf("%w: tenant mismatch", identity.ErrInvalidCredentials)
	}

	return o.completePrimary(ctx, p, req.Device, ev, "password")
}

// completePrimary runs after the first factor succeeded: it either issues a
// challenge or opens the session.
func (o *Orchestrator) completePrimary(ctx context.Context, p *identity.Principal, dev session.Device, ev audit.Event, via string) (*LoginResult, error) {
	enrolled := p.TwoFactorEnabled
	if !enrolled {
		var err error
		if enrolled, err = o.twoFactor.Enrolled(ctx, p.ID); err != nil {
			return nil, err
		}
	}

	if enrolled {
		now := o.now()
		ch := &Challenge{
			ID:          id.NewOpaque(32),
			PrincipalID: p.ID,
			TenantID:    p.TenantID,
			Method:      via,
			IPAddress:   dev.IPAddress,
			UserAgent:   dev.UserAgent,
			IssuedAt:    now,
			ExpiresAt:   now.Add(o.cfg.ChallengeTTL),
		}
		if err := o.challenges.Save(ctx, ch, o.cfg.ChallengeTTL); err != nil {
			return nil, fmt.Errorf("failed to store challenge: %w", err)
		}
		ev.Type = audit.TypeChallengeIssued
		ev.Outcome = audit.OutcomeSuccess
		o.record(ctx, ev)
		return &LoginResult{
			Status:             StatusMFARequired,
			ChallengeID:        ch.ID,
			ChallengeExpiresAt: &ch.ExpiresAt,
			PrincipalID:        p.ID,
		}, nil
	}

	pair, err := o.openSession(ctx, p, dev)
	if err != nil {
		return nil, err
	}
	ev.Type = audit.TypeLoginSuccess
	ev.Outcome = audit.OutcomeSuccess
	ev.SessionID = pair.SessionID
	ev.Reason = ""
	ev.Metadata[audit.AttrMethod] = via
	o.record(ctx, ev)
	return &LoginResult{Status: StatusAuthenticated, Tokens: pair, PrincipalID: p.ID}, nil
}

// CompleteTwoFactor exchanges a challenge and a TOTP or backup code for
// tokens. A challenge is burned after too many wrong codes and can be
// completed only once.
func (o *Orchestrator) CompleteTwoFactor(ctx context.Context, challengeID, code string, dev session.Device) (res *LoginResult, err error) {
	ctx, done := o.begin(ctx, "complete_two_factor")
	defer func() { err = done(err) }()

	if o.sessions == nil {
		return nil, ErrNotImplemented
	}
	if challengeID == "" || code == "" {
		out := newError(KindInvalidInput, nil)
		out.Message = "challenge id and code are required"
		return nil, out
	}

	ev := audit.Event{
		Type:      audit.TypeTwoFactorFailed,
		IPAddress: dev.IPAddress,
		UserAgent: dev.UserAgent,
		Metadata:  map[string]any{},
	}
	if err := o.throttle(ctx, ev, "2fa:ip:", dev.IPAddress, o.cfg.FlowMaxPerIP, o.cfg.FlowWindow); err != nil {
		return nil, err
	}

	// the challenge is claimed before the code is checked so a backup code
	// is only ever spent by the completion that holds it
	ch, err := o.challenges.Consume(ctx, challengeID)
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			o.fail(ctx, ev, "challenge_expired")
		}
		return nil, err
	}
	ev.PrincipalID = ch.PrincipalID
	if ch.TenantID != nil {
		ev.TenantID = *ch.TenantID
	}

	method, err := o.twoFactor.VerifyLogin(ctx, ch.PrincipalID, code)
	if err != nil {
		invalid := errors.Is(err, twofactor.ErrInvalidCode)
		exceeded, rerr := o.challenges.Release(ctx, ch, invalid, o.cfg.ChallengeMaxAttempts)
		if rerr != nil {
			slog.WarnContext(ctx, "failed to release challenge", logger.PrincipalID(ch.PrincipalID), logger.Error(rerr))
		}
		switch {
		case invalid && exceeded:
			o.fail(ctx, ev, "challenge_attempts_exceeded")
		case invalid:
			o.fail(ctx, ev, "invalid_code")
		case errors.Is(err, ratelimit.ErrLimited):
			o.limited(ctx, ev, "2fa:"+ch.PrincipalID, err)
		}
		return nil, err
	}

	p, err := o.identity.FindByID(ctx, ch.PrincipalID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		o.fail(ctx, ev, "account_inactive")
		return nil, identity.ErrAccountInactive
	}

	pair, err := o.openSession(ctx, p, dev)
	if err != nil {
		return nil, err
	}

	ev.Type = audit.TypeTwoFactorSuccess
	ev.Outcome = audit.OutcomeSuccess
	ev.SessionID = pair.SessionID
	ev.Metadata[audit.AttrMethod] = string(method)
	o.record(ctx, ev)
	if method == twofactor.MethodBackupCode {
		ev.Type = audit.TypeBackupCodeUsed
		o.record(ctx, ev)
	}

	return &LoginResult{Status: StatusAuthenticated, Tokens: pair, PrincipalID: p.ID}, nil
}

// Refresh rotates a refresh token. Presenting an already rotated token
// revokes its whole session.
func (o *Orchestrator) Refresh(ctx context.Context, refreshToken string, dev session.Device) (pair *token.Pair, err error) {
	ctx, done := o.begin(ctx, "refresh")
	defer func() { err = done(err) }()

	ev := audit.Event{
		Type:      audit.TypeRefreshFailed,
		IPAddress: dev.IPAddress,
		UserAgent: dev.UserAgent,
	}
	if err := o.throttle(ctx, ev, "refresh:ip:", dev.IPAddress, o.cfg.FlowMaxPerIP, o.cfg.FlowWindow); err != nil {
		return nil, err
	}

	claims, err := o.tokens.ParseRefresh(refreshToken)
	if err != nil {
		o.fail(ctx, ev, tokenReason(err))
		return nil, err
	}
	ev.PrincipalID = claims.PrincipalID()
	ev.SessionID = claims.SessionID
	if err := o.throttle(ctx, ev, "refresh:account:", claims.PrincipalID(), o.cfg.FlowMaxPerIP, o.cfg.FlowWindow); err != nil {
		return nil, err
	}

	pair, err = o.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, token.ErrReuseDetected) {
			ev.Type = audit.TypeRefreshReuse
			o.fail(ctx, ev, "refresh_token_reuse")
			o.metrics.SessionsOpened(ctx, -1)
		} else {
			o.fail(ctx, ev, tokenReason(err))
		}
		return nil, err
	}

	ev.Type = audit.TypeTokenRefreshed
	ev.Outcome = audit.OutcomeSuccess
	o.record(ctx, ev)
	return pair, nil
}

// Logout revokes the session bound to refreshToken. Logging out twice, or
// with an expired token, succeeds.
func (o *Orchestrator) Logout(ctx context.Context, refreshToken string, dev session.Device) (err error) {
	ctx, done := o.begin(ctx, "logout")
	defer func() { err = done(err) }()

	ev := audit.Event{
		Type:      audit.TypeLogout,
		IPAddress: dev.IPAddress,
		UserAgent: dev.UserAgent,
	}
	if err := o.throttle(ctx, ev, "logout:ip:", dev.IPAddress, o.cfg.FlowMaxPerIP, o.cfg.FlowWindow); err != nil {
		return err
	}

	claims, err := o.tokens.ParseRefresh(refreshToken)
	if errors.Is(err, token.ErrExpired) {
		return nil
	}
	if err != nil {
		o.fail(ctx, ev, tokenReason(err))
		return err
	}
	ev.PrincipalID = claims.PrincipalID()
	ev.SessionID = claims.SessionID

	closed := false
	if o.sessions != nil {
		closed, err = o.sessions.Revoke(ctx, claims.PrincipalID(), claims.SessionID)
		if errors.Is(err, session.ErrSessionNotFound) {
			err = o.tokens.Revoke(ctx, claims.ID)
		}
	} else {
		err = o.tokens.Revoke(ctx, claims.ID)
	}
	if err != nil {
		return err
	}

	if closed {
		o.metrics.SessionsOpened(ctx, -1)
	}
	ev.Outcome = audit.OutcomeSuccess
	o.record(ctx, ev)
	return nil
}

// Authenticate verifies a bearer access token and, when sessions are
// tracked, that its session was not revoked since issuance.
func (o *Orchestrator) Authenticate(ctx context.Context, accessToken string) (claims *token.Claims, err error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.OperationTimeout)
	defer cancel()

	claims, err = o.tokens.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, translate(err, o.now())
	}
	if o.sessions == nil {
		return claims, nil
	}
	active, err := o.sessions.IsActive(ctx, claims.SessionID)
	if err != nil {
		return nil, translate(err, o.now())
	}
	if !active {
		return nil, newError(KindInvalidCredentials, token.ErrSessionRevoked)
	}
	return claims, nil
}

func (o *Orchestrator) openSession(ctx context.Context, p *identity.Principal, dev session.Device) (*token.Pair, error) {
	s, err := o.sessions.Create(ctx, p.ID, p.TenantID, dev)
	if err != nil {
		return nil, err
	}
	pair, err := o.tokens.IssuePair(ctx, identity.SubjectOf(p), s.ID)
	if err != nil {
		// a session without a refresh token is unusable; do not list it
		if _, rerr := o.sessions.Revoke(ctx, p.ID, s.ID); rerr != nil {
			slog.WarnContext(ctx, "failed to revoke orphaned session", logger.SessionID(s.ID), logger.Error(rerr))
		}
		return nil, err
	}
	o.metrics.SessionsOpened(ctx, 1)
	return pair, nil
}

// begin starts the span and deadline of one operation. The returned
// function translates the error, records metrics and ends the span.
func (o *Orchestrator) begin(ctx context.Context, op string) (context.Context, func(error) error) {
	start := o.now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.OperationTimeout)
	ctx, span := o.tracer.Start(ctx, "auth."+op)

	return ctx, func(err error) error {
		defer cancel()
		defer span.End()

		outcome := "success"
		var out *Error
		if err != nil {
			if ctx.Err() != nil && !errors.As(err, &out) {
				err = fmt.Errorf("%w: %w", ctx.Err(), err)
			}
			out = translate(err, o.now())
			outcome = string(out.Kind)
			if out.Kind == KindServiceUnavailable {
				slog.ErrorContext(ctx, "auth operation failed", logger.Operation(op), logger.Error(err))
			}
			span.SetAttributes(attribute.String("auth.error_kind", outcome))
			span.SetStatus(codes.Error, outcome)
		}
		o.metrics.Observe(ctx, op, outcome, o.now().Sub(start))
		if out == nil {
			return nil
		}
		return out
	}
}

// throttle consumes one unit of the limiter for prefix+subject. An empty
// subject is not limited.
func (o *Orchestrator) throttle(ctx context.Context, ev audit.Event, prefix, subject string, limit int, window time.Duration) error {
	if subject == "" {
		return nil
	}
	key := prefix + subject
	err := ratelimit.Enforce(ctx, o.limiter, key, limit, window)
	if errors.Is(err, ratelimit.ErrLimited) {
		o.limited(ctx, ev, key, err)
	}
	return err
}

func (o *Orchestrator) limited(ctx context.Context, ev audit.Event, key string, err error) {
	ev.Type = audit.TypeRateLimited
	ev.Outcome = audit.OutcomeDenied
	ev.Reason = "rate_limited"
	md := map[string]any{audit.AttrLimitKey: key}
	var exceeded *ratelimit.ExceededError
	if errors.As(err, &exceeded) {
		md[audit.AttrRetryAfter] = int(exceeded.RetryAfter(o.now()).Seconds())
	}
	ev.Metadata = md
	o.record(ctx, ev)
}

func (o *Orchestrator) fail(ctx context.Context, ev audit.Event, reason string) {
	ev.Outcome = audit.OutcomeFailure
	ev.Reason = reason
	o.record(ctx, ev)
}

func (o *Orchestrator) record(ctx context.Context, ev audit.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = o.now()
	}
	o.audit.Record(ctx, ev)
}

func loginReason(err error) string {
	switch {
	case errors.Is(err, identity.ErrPrincipalNotFound):
		return "unknown_email"
	case errors.Is(err, identity.ErrInvalidCredentials):
		return "bad_password"
	case errors.Is(err, identity.ErrAccountInactive):
		return "account_inactive"
	default:
		return "internal_error"
	}
}

func tokenReason(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return "token_expired"
	case errors.Is(err, token.ErrInvalidSignature):
		return "bad_signature"
	case errors.Is(err, token.ErrReuseDetected):
		return "refresh_token_reuse"
	case errors.Is(err, token.ErrSessionRevoked):
		return "session_revoked"
	case errors.Is(err, token.ErrRevoked):
		return "token_revoked"
	case errors.Is(err, token.ErrNotFound):
		return "unknown_token"
	case errors.Is(err, identity.ErrAccountInactive):
		return "account_inactive"
	case errors.Is(err, token.ErrMalformed):
		return "malformed_token"
	default:
		return "internal_error"
	}
}
