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

// Package memory is an in-process implementation of every repository
// interface. It backs local development (STORE_DRIVER=memory) and the
// end-to-end tests; state is lost on restart.
package memory

import (
	"sync"
	"time"

	"github.com/holidesk/holidesk/internal/identity"
	"github.com/holidesk/holidesk/internal/oauthlink"
	"github.com/holidesk/holidesk/internal/session"
	"github.com/holidesk/holidesk/internal/token"
	"github.com/holidesk/holidesk/internal/twofactor"
)

// DB holds all tables behind one lock so multi-table operations such as
// refresh rotation stay atomic.
type DB struct {
	mu          sync.Mutex
	principals  map[string]*identity.Principal
	emails      map[string]string
	history     map[string][]string
	sessions    map[string]*session.Session
	refresh     map[string]*token.RefreshRecord
	enrollments map[string]*twofactor.Enrollment
	backupCodes map[string]map[string]*time.Time
	links       map[string]*oauthlink.Link
}

// New creates an empty database
func New() *DB {
	return &DB{
		principals:  make(map[string]*identity.Principal),
		emails:      make(map[string]string),
		history:     make(map[string][]string),
		sessions:    make(map[string]*session.Session),
		refresh:     make(map[string]*token.RefreshRecord),
		enrollments: make(map[string]*twofactor.Enrollment),
		backupCodes: make(map[string]map[string]*time.Time),
		links:       make(map[string]*oauthlink.Link),
	}
}

// Principals returns the identity.Store view
func (db *DB) Principals() *PrincipalStore { return &PrincipalStore{db: db} }

// PasswordHistory returns the identity.HistoryStore view
func (db *DB) PasswordHistory() *HistoryStore { return &HistoryStore{db: db} }

// Sessions returns the session.Store view
func (db *DB) Sessions() *SessionStore { return &SessionStore{db: db} }

// RefreshTokens returns the token.RefreshStore view
func (db *DB) RefreshTokens() *RefreshStore { return &RefreshStore{db: db} }

// TwoFactor returns the twofactor.Store view
func (db *DB) TwoFactor() *TwoFactorStore { return &TwoFactorStore{db: db} }

// Links returns the oauthlink.LinkStore view
func (db *DB) Links() *LinkStore { return &LinkStore{db: db} }

// revokeSessionLocked flags the session and its refresh tokens. Caller holds mu.
func (db *DB) revokeSessionLocked(s *session.Session, now time.Time) {
	if s.RevokedAt == nil {
		t := now
		s.RevokedAt = &t
	}
	for _, rec := range db.refresh {
		if rec.SessionID == s.ID && rec.RevokedAt == nil {
			t := now
			rec.RevokedAt = &t
		}
	}
}
