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

package session

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockSessionStore is a simple in-memory implementation of Store
type MockSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewMockSessionStore() *MockSessionStore {
	return &MockSessionStore{sessions: make(map[string]*Session)}
}

func (m *MockSessionStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MockSessionStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MockSessionStore) ListActive(_ context.Context, principalID string, now time.Time) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*Session{}
	for _, s := range m.sessions {
		if s.PrincipalID == principalID && s.Active(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsedAt.After(out[j].LastUsedAt) })
	return out, nil
}

func (m *MockSessionStore) Revoke(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, ErrSessionNotFound
	}
	if s.RevokedAt != nil {
		return false, nil
	}
	s.RevokedAt = &now
	return true, nil
}

func (m *MockSessionStore) RevokeAll(_ context.Context, principalID, except string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.PrincipalID == principalID && s.ID != except && s.RevokedAt == nil {
			s.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *MockSessionStore) Purge(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if (s.RevokedAt != nil && s.RevokedAt.Before(before)) || s.ExpiresAt.Before(before) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func newTestManager(cfg Config) (*Manager, *MockSessionStore, *time.Time) {
	store := NewMockSessionStore()
	m := NewManager(store, cfg)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, store, &now
}

// TestPurpose: Validates session creation and listing order.
// Scope: Unit Test
// Expected: Sessions are listed newest-used first and carry device information.
// Test Case ID: SES-01
func TestManager_CreateAndList(t *testing.T) {
	m, _, now := newTestManager(Config{TTL: time.Hour})
	ctx := context.Background()

	first, err := m.Create(ctx, "p1", nil, Device{IPAddress: "10.0.0.1", UserAgent: "phone"})
	require.NoError(t, err)
	*now = now.Add(time.Minute)
	second, err := m.Create(ctx, "p1", nil, Device{IPAddress: "10.0.0.2", UserAgent: "laptop"})
	require.NoError(t, err)
	_, err = m.Create(ctx, "p2", nil, Device{})
	require.NoError(t, err)

	list, err := m.List(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
	assert.Equal(t, "laptop", list[0].UserAgent)
	assert.Equal(t, first.CreatedAt.Add(time.Hour), first.ExpiresAt)
}

// TestPurpose: Validates ownership checks on single-session revocation.
// Scope: Unit Test
// Security: Horizontal privilege escalation (CWE-639)
// Expected: ErrNotOwner for a foreign session, ErrSessionNotFound for unknown ids, an idempotent repeat that reports no change.
// Test Case ID: SES-02
func TestManager_RevokeOwnership(t *testing.T) {
	m, _, _ := newTestManager(Config{})
	ctx := context.Background()

	s, err := m.Create(ctx, "p1", nil, Device{})
	require.NoError(t, err)

	_, err = m.Revoke(ctx, "p2", s.ID)
	assert.ErrorIs(t, err, ErrNotOwner)
	_, err = m.Revoke(ctx, "p1", "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	changed, err := m.Revoke(ctx, "p1", s.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = m.Revoke(ctx, "p1", s.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	active, err := m.IsActive(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, active)

	list, err := m.List(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

// TestPurpose: Validates revoke-all with an exception and the single-session policy.
// Scope: Unit Test
// Expected: RevokeAll keeps the excepted session; single-session mode leaves exactly one active session.
// Test Case ID: SES-03
func TestManager_RevokeAllAndSingleSession(t *testing.T) {
	ctx := context.Background()

	t.Run("revoke all except current", func(t *testing.T) {
		m, _, _ := newTestManager(Config{})
		keep, _ := m.Create(ctx, "p1", nil, Device{})
		_, _ = m.Create(ctx, "p1", nil, Device{})
		_, _ = m.Create(ctx, "p1", nil, Device{})

		n, err := m.RevokeAll(ctx, "p1", keep.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		list, err := m.List(ctx, "p1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, keep.ID, list[0].ID)
	})

	t.Run("single session policy", func(t *testing.T) {
		m, _, _ := newTestManager(Config{SingleSession: true})
		_, _ = m.Create(ctx, "p1", nil, Device{})
		latest, err := m.Create(ctx, "p1", nil, Device{})
		require.NoError(t, err)

		list, err := m.List(ctx, "p1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, latest.ID, list[0].ID)
	})
}

// TestPurpose: Validates expiry filtering and retention purge.
// Scope: Unit Test
// Expected: Expired sessions are not listed and are purged after the cutoff.
// Test Case ID: SES-04
func TestManager_ExpiryAndCleanup(t *testing.T) {
	m, store, now := newTestManager(Config{TTL: time.Hour})
	ctx := context.Background()

	_, err := m.Create(ctx, "p1", nil, Device{})
	require.NoError(t, err)

	*now = now.Add(2 * time.Hour)
	list, err := m.List(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, list)

	n, err := m.CleanupExpired(ctx, *now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, store.sessions)
}
