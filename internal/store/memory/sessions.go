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

package memory

import (
	"context"
	"sort"
	"time"

	"github.com/holidesk/holidesk/internal/session"
	"github.com/holidesk/holidesk/internal/token"
)

// SessionStore implements session.Store
type SessionStore struct {
	db *DB
}

// Create implements session.Store
func (s *SessionStore) Create(_ context.Context, sess *session.Session) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cp := *sess
	s.db.sessions[sess.ID] = &cp
	return nil
}

// Get implements session.Store
func (s *SessionStore) Get(_ context.Context, id string) (*session.Session, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	sess, ok := s.db.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

// ListActive implements session.Store
func (s *SessionStore) ListActive(_ context.Context, principalID string, now time.Time) ([]*session.Session, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := []*session.Session{}
	for _, sess := range s.db.sessions {
		if sess.PrincipalID == principalID && sess.Active(now) {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsedAt.After(out[j].LastUsedAt) })
	return out, nil
}

// Revoke implements session.Store
func (s *SessionStore) Revoke(_ context.Context, id string, now time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	sess, ok := s.db.sessions[id]
	if !ok {
		return false, session.ErrSessionNotFound
	}
	active := sess.RevokedAt == nil
	s.db.revokeSessionLocked(sess, now)
	return active, nil
}

// RevokeAll implements session.Store
func (s *SessionStore) RevokeAll(_ context.Context, principalID, except string, now time.Time) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	n := 0
	for _, sess := range s.db.sessions {
		if sess.PrincipalID == principalID && sess.ID != except && sess.RevokedAt == nil {
			s.db.revokeSessionLocked(sess, now)
			n++
		}
	}
	return n, nil
}

// Purge implements session.Store
func (s *SessionStore) Purge(_ context.Context, before time.Time) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var n int64
	for id, sess := range s.db.sessions {
		if (sess.RevokedAt != nil && sess.RevokedAt.Before(before)) || sess.ExpiresAt.Before(before) {
			delete(s.db.sessions, id)
			for rid, rec := range s.db.refresh {
				if rec.SessionID == id {
					delete(s.db.refresh, rid)
				}
			}
			n++
		}
	}
	for rid, rec := range s.db.refresh {
		if rec.ExpiresAt.Before(before) {
			delete(s.db.refresh, rid)
		}
	}
	return n, nil
}

// RefreshStore implements token.RefreshStore
type RefreshStore struct {
	db *DB
}

// Create implements token.RefreshStore
func (s *RefreshStore) Create(_ context.Context, rec *token.RefreshRecord) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	sess, ok := s.db.sessions[rec.SessionID]
	if !ok || sess.Revoked() {
		return token.ErrSessionRevoked
	}
	cp := *rec
	s.db.refresh[rec.ID] = &cp
	sess.RefreshTokenID = rec.ID
	return nil
}

// Get implements token.RefreshStore
func (s *RefreshStore) Get(_ context.Context, id string) (*token.RefreshRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rec, ok := s.db.refresh[id]
	if !ok {
		return nil, token.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Rotate implements token.RefreshStore
func (s *RefreshStore) Rotate(_ context.Context, oldID string, next *token.RefreshRecord, now time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	old, ok := s.db.refresh[oldID]
	if !ok {
		return token.ErrNotFound
	}
	sess, ok := s.db.sessions[old.SessionID]
	if !ok || sess.Revoked() {
		return token.ErrSessionRevoked
	}
	if old.RevokedAt != nil {
		return token.ErrRevoked
	}

	t := now
	old.RevokedAt = &t
	old.ReplacedBy = next.ID
	cp := *next
	s.db.refresh[next.ID] = &cp
	sess.RefreshTokenID = next.ID
	sess.LastUsedAt = now
	sess.ExpiresAt = next.ExpiresAt
	return nil
}

// Revoke implements token.RefreshStore
func (s *RefreshStore) Revoke(_ context.Context, id string, now time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rec, ok := s.db.refresh[id]
	if !ok {
		return token.ErrNotFound
	}
	if rec.RevokedAt == nil {
		t := now
		rec.RevokedAt = &t
	}
	return nil
}

// RevokeSession implements token.RefreshStore
func (s *RefreshStore) RevokeSession(_ context.Context, sessionID string, now time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	sess, ok := s.db.sessions[sessionID]
	if !ok {
		return nil
	}
	s.db.revokeSessionLocked(sess, now)
	return nil
}
