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
	"time"

	"github.com/holidesk/holidesk/internal/identity"
)

// PrincipalStore implements identity.Store
type PrincipalStore struct {
	db *DB
}

// Create implements identity.Store
func (s *PrincipalStore) Create(_ context.Context, p *identity.Principal) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.emails[p.Email]; ok {
		return identity.ErrPrincipalExists
	}
	cp := *p
	s.db.principals[p.ID] = &cp
	s.db.emails[p.Email] = p.ID
	return nil
}

// FindByEmail implements identity.Store
func (s *PrincipalStore) FindByEmail(_ context.Context, email string) (*identity.Principal, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	id, ok := s.db.emails[email]
	if !ok {
		return nil, identity.ErrPrincipalNotFound
	}
	cp := *s.db.principals[id]
	return &cp, nil
}

// FindByID implements identity.Store
func (s *PrincipalStore) FindByID(_ context.Context, id string) (*identity.Principal, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.principals[id]
	if !ok {
		return nil, identity.ErrPrincipalNotFound
	}
	cp := *p
	return &cp, nil
}

// UpdatePasswordHash implements identity.Store
func (s *PrincipalStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return s.update(id, func(p *identity.Principal) { p.PasswordHash = hash })
}

// SetActive implements identity.Store
func (s *PrincipalStore) SetActive(_ context.Context, id string, active bool) error {
	return s.update(id, func(p *identity.Principal) { p.IsActive = active })
}

// SetTwoFactorState implements identity.Store
func (s *PrincipalStore) SetTwoFactorState(_ context.Context, id string, enabled bool) error {
	return s.update(id, func(p *identity.Principal) { p.TwoFactorEnabled = enabled })
}

func (s *PrincipalStore) update(id string, fn func(*identity.Principal)) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.principals[id]
	if !ok {
		return identity.ErrPrincipalNotFound
	}
	fn(p)
	p.UpdatedAt = time.Now()
	return nil
}

// HistoryStore implements identity.HistoryStore
type HistoryStore struct {
	db *DB
}

// Append implements identity.HistoryStore
func (s *HistoryStore) Append(_ context.Context, principalID, hash string, keep int) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	h := append([]string{hash}, s.db.history[principalID]...)
	if len(h) > keep {
		h = h[:keep]
	}
	s.db.history[principalID] = h
	return nil
}

// Recent implements identity.HistoryStore
func (s *HistoryStore) Recent(_ context.Context, principalID string, n int) ([]string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	h := s.db.history[principalID]
	if len(h) > n {
		h = h[:n]
	}
	return append([]string(nil), h...), nil
}
