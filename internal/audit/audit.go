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

package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Event types
const (
	TypeLoginSuccess           = "login_success"
	TypeLoginFailed            = "login_failed"
	TypeChallengeIssued        = "mfa_challenge_issued"
	TypeTwoFactorSuccess       = "mfa_success"
	TypeTwoFactorFailed        = "mfa_failed"
	TypeTokenRefreshed         = "token_refreshed"
	TypeRefreshFailed          = "refresh_failed"
	TypeRefreshReuse           = "refresh_reuse_detected"
	TypeLogout                 = "logout"
	TypeSessionRevoked         = "session_revoked"
	TypeSessionsRevokedAll     = "sessions_revoked_all"
	TypeTwoFactorSetup         = "2fa_enrollment_started"
	TypeTwoFactorEnabled       = "2fa_enabled"
	TypeTwoFactorDisabled      = "2fa_disabled"
	TypeTwoFactorDisableDenied = "2fa_disable_denied"
	TypeBackupCodeUsed         = "backup_code_used"
	TypeBackupCodesRegenerated = "backup_codes_regenerated"
	TypePasswordChanged        = "password_changed"
	TypeOAuthLogin             = "oauth_login"
	TypeOAuthPrincipalCreated  = "oauth_principal_created"
	TypeOAuthLinked            = "oauth_linked"
	TypeOAuthFailed            = "oauth_failed"
	TypeRateLimited            = "rate_limited"
)

// Outcome of the audited action
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Metadata keys
const (
	AttrReason     = "reason"
	AttrEmail      = "email"
	AttrProvider   = "provider"
	AttrMethod     = "method"
	AttrCount      = "count"
	AttrLimitKey   = "limiter"
	AttrRetryAfter = "retry_after_seconds"
)

// Event represents an auditable security action
type Event struct {
	ID          string
	Type        string
	Outcome     Outcome
	PrincipalID string
	TenantID    string
	SessionID   string
	Reason      string
	Metadata    map[string]any
	Timestamp   time.Time
	IPAddress   string
	UserAgent   string
}

// Sink receives security events. Record must not block the caller for long
// and must never surface an error; sinks that can fail log and continue.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// SlogSink implements Sink using slog
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a new audit sink writing to logger, or to the
// process default logger when logger is nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

// Record writes an audit event
func (s *SlogSink) Record(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []any{
		slog.String("audit_id", event.ID),
		slog.String("audit_type", event.Type),
		slog.String("outcome", string(event.Outcome)),
		slog.Time("timestamp", event.Timestamp),
	}

	if event.PrincipalID != "" {
		attrs = append(attrs, slog.String("principal_id", event.PrincipalID))
	}
	if event.TenantID != "" {
		attrs = append(attrs, slog.String("tenant_id", event.TenantID))
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String(AttrReason, event.Reason))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}

	if len(event.Metadata) > 0 {
		group := []any{}
		for k, v := range event.Metadata {
			if isSecret(k) {
				v = "[REDACTED]"
			}
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", group...))
	}

	l := s.logger
	if l == nil {
		l = slog.Default()
	}

	level := slog.LevelInfo
	if event.Outcome != OutcomeSuccess {
		level = slog.LevelWarn
	}
	l.Log(ctx, level, "AUDIT_EVENT", append(attrs, slog.String("component", "audit"))...)
}

// isSecret checks if a key likely contains a secret
func isSecret(key string) bool {
	k := strings.ToLower(key)
	if k == "code" || strings.HasSuffix(k, "_code") {
		return true
	}
	for _, s := range []string{"password", "secret", "token", "key", "hash", "credential", "authorization"} {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
