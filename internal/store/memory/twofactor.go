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
	"github.com/holidesk/holidesk/internal/oauthlink"
	"github.com/holidesk/holidesk/internal/twofactor"
)

// TwoFactorStore implements twofactor.Store
type TwoFactorStore struct {
	db *DB
}

// GetEnrollment implements twofactor.Store
func (s *TwoFactorStore) GetEnrollment(_ context.Context, principalID string) (*twofactor.Enrollment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	e, ok := s.db.enrollments[principalID]
	if !ok {
		return nil, twofactor.ErrNoEnrollment
	}
	cp := *e
	return &cp, nil
}

// SavePending implements twofactor.Store
func (s *TwoFactorStore) SavePending(_ context.Context, principalID, secret string, now time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if e, ok := s.db.enrollments[principalID]; ok && e.State == twofactor.StateEnrolled {
		return twofactor.ErrAlreadyEnrolled
	}
	s.db.enrollments[principalID] = &twofactor.Enrollment{
		PrincipalID: principalID,
		Secret:      secret,
		State:       twofactor.StatePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return nil
}

// Activate implements twofactor.Store
func (s *TwoFactorStore) Activate(_ context.Context, principalID string, counter int64, hashes []string, now time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	e, ok := s.db.enrollments[principalID]
	if !ok || e.State != twofactor.StatePending {
		return twofactor.ErrNoEnrollment
	}
	t := now
	e.State = twofactor.StateEnrolled
	e.LastCounter = counter
	e.EnabledAt = &t
	e.UpdatedAt = now
	s.replaceLocked(principalID, hashes)
	return nil
}

// AdvanceCounter implements twofactor.Store
func (s *TwoFactorStore) AdvanceCounter(_ context.Context, principalID string, counter int64) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	e, ok := s.db.enrollments[principalID]
	if !ok || counter <= e.LastCounter {
		return false, nil
	}
	e.LastCounter = counter
	return true, nil
}

// ConsumeBackupCode implements twofactor.Store
func (s *TwoFactorStore) ConsumeBackupCode(_ context.Context, principalID, hash string, now time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	codes := s.db.backupCodes[principalID]
	usedAt, ok := codes[hash]
	if !ok || usedAt != nil {
		return false, nil
	}
	t := now
	codes[hash] = &t
	return true, nil
}

// ReplaceBackupCodes implements twofactor.Store
func (s *TwoFactorStore) ReplaceBackupCodes(_ context.Context, principalID string, hashes []string, _ time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.replaceLocked(principalID, hashes)
	return nil
}

func (s *TwoFactorStore) replaceLocked(principalID string, hashes []string) {
	codes := make(map[string]*time.Time, len(hashes))
	for _, h := range hashes {
		codes[h] = nil
	}
	s.db.backupCodes[principalID] = codes
}

// CountBackupCodes implements twofactor.Store
func (s *TwoFactorStore) CountBackupCodes(_ context.Context, principalID string) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	n := 0
	for _, usedAt := range s.db.backupCodes[principalID] {
		if usedAt == nil {
			n++
		}
	}
	return n, nil
}

// Delete implements twofactor.Store
func (s *TwoFactorStore) Delete(_ context.Context, principalID string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	delete(s.db.enrollments, principalID)
	delete(s.db.backupCodes, principalID)
	return nil
}

// LinkStore implements oauthlink.LinkStore
type LinkStore struct {
	db *DB
}

func linkKey(provider, subject string) string {
	return provider + "\x00" + subject
}

// FindLink implements oauthlink.LinkStore
func (s *LinkStore) FindLink(_ context.Context, provider, subject string) (*oauthlink.Link, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	l, ok := s.db.links[linkKey(provider, subject)]
	if !ok {
		return nil, oauthlink.ErrLinkNotFound
	}
	cp := *l
	return &cp, nil
}

// CreateLink implements oauthlink.LinkStore
func (s *LinkStore) CreateLink(_ context.Context, l *oauthlink.Link) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	key := linkKey(l.Provider, l.ProviderUserID)
	if _, ok := s.db.links[key]; ok {
		return oauthlink.ErrLinkExists
	}
	cp := *l
	s.db.links[key] = &cp
	return nil
}

// CreatePrincipalWithLink implements oauthlink.LinkStore. Both rows are
// checked before either is written.
func (s *LinkStore) CreatePrincipalWithLink(_ context.Context, p *identity.Principal, l *oauthlink.Link) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.emails[p.Email]; ok {
		return identity.ErrPrincipalExists
	}
	key := linkKey(l.Provider, l.ProviderUserID)
	if _, ok := s.db.links[key]; ok {
		return oauthlink.ErrLinkExists
	}
	cp := *p
	s.db.principals[p.ID] = &cp
	s.db.emails[p.Email] = p.ID
	lc := *l
	s.db.links[key] = &lc
	return nil
}

// ListLinks implements oauthlink.LinkStore
func (s *LinkStore) ListLinks(_ context.Context, principalID string) ([]*oauthlink.Link, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := []*oauthlink.Link{}
	for _, l := range s.db.links {
		if l.PrincipalID == principalID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}
