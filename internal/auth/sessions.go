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
	"time"

	"github.com/holidesk/holidesk/internal/audit"
)

// SessionView is a session as shown to its owner
type SessionView struct {
	ID         string    `json:"session_id"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	IsCurrent  bool      `json:"is_current"`
}

// ListSessions returns the principal's active sessions, marking the one
// the request was made with.
func (o *Orchestrator) ListSessions(ctx context.Context, principalID, currentSessionID string) (views []SessionView, err error) {
	ctx, done := o.begin(ctx, "list_sessions")
	defer func() { err = done(err) }()

	if o.sessions == nil {
		return nil, ErrNotImplemented
	}
	list, err := o.sessions.List(ctx, principalID)
	if err != nil {
		return nil, err
	}

	views = make([]SessionView, 0, len(list))
	for _, s := range list {
		views = append(views, SessionView{
			ID:         s.ID,
			IPAddress:  s.IPAddress,
			UserAgent:  s.UserAgent,
			CreatedAt:  s.CreatedAt,
			LastUsedAt: s.LastUsedAt,
			ExpiresAt:  s.ExpiresAt,
			IsCurrent:  s.ID == currentSessionID,
		})
	}
	return views, nil
}

// RevokeSession revokes one of the principal's own sessions. Its refresh
// token stops working immediately.
func (o *Orchestrator) RevokeSession(ctx context.Context, principalID, sessionID string) (err error) {
	ctx, done := o.begin(ctx, "revoke_session")
	defer func() { err = done(err) }()

	if o.sessions == nil {
		return ErrNotImplemented
	}

	ev := audit.Event{
		Type:        audit.TypeSessionRevoked,
		PrincipalID: principalID,
		SessionID:   sessionID,
	}
	closed, err := o.sessions.Revoke(ctx, principalID, sessionID)
	if err != nil {
		o.fail(ctx, ev, "revoke_denied")
		return err
	}

	if closed {
		o.metrics.SessionsOpened(ctx, -1)
	}
	ev.Outcome = audit.OutcomeSuccess
	o.record(ctx, ev)
	return nil
}

// RevokeAllSessions revokes every session of the principal, keeping the
// current one when exceptCurrent is set. It returns how many were revoked.
func (o *Orchestrator) RevokeAllSessions(ctx context.Context, principalID, currentSessionID string, exceptCurrent bool) (n int, err error) {
	ctx, done := o.begin(ctx, "revoke_all_sessions")
	defer func() { err = done(err) }()

	if o.sessions == nil {
		return 0, ErrNotImplemented
	}

	except := ""
	if exceptCurrent {
		except = currentSessionID
	}
	n, err = o.sessions.RevokeAll(ctx, principalID, except)
	if err != nil {
		return 0, err
	}

	o.metrics.SessionsOpened(ctx, -n)
	o.record(ctx, audit.Event{
		Type:        audit.TypeSessionsRevokedAll,
		Outcome:     audit.OutcomeSuccess,
		PrincipalID: principalID,
		SessionID:   currentSessionID,
		Metadata:    map[string]any{audit.AttrCount: n},
	})
	return n, nil
}

// CleanupSessions purges sessions and refresh tokens that ended before the
// cutoff.
func (o *Orchestrator) CleanupSessions(ctx context.Context, before time.Time) (n int64, err error) {
	ctx, done := o.begin(ctx, "cleanup_sessions")
	defer func() { err = done(err) }()

	if o.sessions == nil {
		return 0, ErrNotImplemented
	}
	return o.sessions.CleanupExpired(ctx, before)
}
