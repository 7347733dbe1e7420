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

package token

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockRefreshStore is a simple in-memory implementation of RefreshStore
type MockRefreshStore struct {
	mu              sync.Mutex
	records         map[string]*RefreshRecord
	revokedSessions map[string]bool
}

func NewMockRefreshStore() *MockRefreshStore {
	return &MockRefreshStore{
		records:         make(map[string]*RefreshRecord),
		revokedSessions: make(map[string]bool),
	}
}

func (m *MockRefreshStore) Create(_ context.Context, rec *RefreshRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *MockRefreshStore) Get(_ context.Context, id string) (*RefreshRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MockRefreshStore) Rotate(_ context.Context, oldID string, next *RefreshRecord, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.records[oldID]
	if !ok {
		return ErrNotFound
	}
	if m.revokedSessions[old.SessionID] {
		return ErrSessionRevoked
	}
	if old.RevokedAt != nil {
		return ErrRevoked
	}
	old.RevokedAt = &now
	old.ReplacedBy = next.ID
	cp := *next
	m.records[next.ID] = &cp
	return nil
}

func (m *MockRefreshStore) Revoke(_ context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.RevokedAt == nil {
		rec.RevokedAt = &now
	}
	return nil
}

func (m *MockRefreshStore) RevokeSession(_ context.Context, sessionID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokedSessions[sessionID] = true
	for _, rec := range m.records {
		if rec.SessionID == sessionID && rec.RevokedAt == nil {
			rec.RevokedAt = &now
		}
	}
	return nil
}

// MockSubjectSource returns a fixed subject per principal
type MockSubjectSource struct {
	mu       sync.Mutex
	subjects map[string]Subject
	inactive map[string]bool
}

var errInactive = errors.New("inactive")

func (m *MockSubjectSource) LoadSubject(_ context.Context, principalID string) (Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inactive[principalID] {
		return Subject{}, errInactive
	}
	return m.subjects[principalID], nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestService(t *testing.T) (*Service, *MockRefreshStore, *MockSubjectSource, *testClock) {
	t.Helper()
	tenant := "tenant-1"
	subjects := &MockSubjectSource{
		subjects: map[string]Subject{"p1": {PrincipalID: "p1", TenantID: &tenant}},
		inactive: map[string]bool{},
	}
	store := NewMockRefreshStore()
	svc, err := NewService(Config{
		SigningKey: testKey,
		Issuer:     "holidesk-test",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}, store, subjects)
	require.NoError(t, err)

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc.now = clock.Now
	return svc, store, subjects, clock
}

// TestPurpose: Validates that a short signing key is rejected at construction.
// Scope: Unit Test
// Security: HS256 key strength
// Expected: ErrWeakSigningKey for a 16 byte key.
// Test Case ID: TOK-01
func TestTokenService_RejectsWeakKey(t *testing.T) {
	_, err := NewService(Config{SigningKey: []byte("too-short-key!!!")}, NewMockRefreshStore(), &MockSubjectSource{})
	assert.ErrorIs(t, err, ErrWeakSigningKey)
}

// TestPurpose: Validates the access token round trip and expiry under a controllable clock.
// Scope: Unit Test
// Security: Stateless access token validation
// Expected: Claims survive the round trip; the token verifies until exp and fails with ErrExpired after.
// Test Case ID: TOK-02
func TestTokenService_AccessTokenRoundTrip(t *testing.T) {
	svc, _, _, clock := newTestService(t)
	tenant := "tenant-1"

	pair, err := svc.IssuePair(context.Background(), Subject{PrincipalID: "p1", TenantID: &tenant, IsAdmin: true}, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, "s1", pair.SessionID)

	claims, err := svc.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "p1", claims.PrincipalID())
	assert.Equal(t, "s1", claims.SessionID)
	require.NotNil(t, claims.TenantID)
	assert.Equal(t, "tenant-1", *claims.TenantID)
	assert.True(t, claims.Admin)
	assert.Equal(t, UseAccess, claims.Use)

	clock.Advance(15*time.Minute - time.Second)
	_, err = svc.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	_, err = svc.VerifyAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrExpired)
}

// TestPurpose: Validates rejection of tampered, foreign, malformed and wrong-use tokens.
// Scope: Unit Test
// Security: Signature verification and algorithm pinning (CWE-347)
// Expected: ErrInvalidSignature for tampered or foreign-key tokens, ErrMalformed otherwise.
// Test Case ID: TOK-03
func TestTokenService_VerifyRejects(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	pair, err := svc.IssuePair(context.Background(), Subject{PrincipalID: "p1"}, "s1")
	require.NoError(t, err)

	parts := strings.Split(pair.AccessToken, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		SessionID: "s1",
		Use:       UseAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "p1",
			Issuer:    "holidesk-test",
			ExpiresAt: jwt.NewNumericDate(svc.now().Add(time.Hour)),
		},
	}).SignedString([]byte("another-key-another-key-another-k"))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		SessionID: "s1",
		Use:       UseAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "p1",
			Issuer:    "holidesk-test",
			ExpiresAt: jwt.NewNumericDate(svc.now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(tampered)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = svc.VerifyAccessToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = svc.VerifyAccessToken(unsigned)
	assert.Error(t, err)

	_, err = svc.VerifyAccessToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = svc.VerifyAccessToken("")
	assert.ErrorIs(t, err, ErrMalformed)

	// A refresh token is never accepted as an access token
	_, err = svc.VerifyAccessToken(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrMalformed)
}

// TestPurpose: Validates refresh rotation: the old token is revoked and the new pair works.
// Scope: Unit Test
// Security: Mandatory refresh token rotation
// Expected: Second use of the original token fails with ErrRevoked; the rotated token refreshes.
// Test Case ID: TOK-04
func TestTokenService_RefreshRotates(t *testing.T) {
	svc, store, _, clock := newTestService(t)
	ctx := context.Background()

	first, err := svc.IssuePair(ctx, Subject{PrincipalID: "p1"}, "s1")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	second, err := svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, "s1", second.SessionID)

	// Tenant claim reloaded from the subject source
	claims, err := svc.VerifyAccessToken(second.AccessToken)
	require.NoError(t, err)
	require.NotNil(t, claims.TenantID)

	_, err = svc.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, ErrRevoked)

	third, err := svc.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, third.AccessToken)

	firstClaims, err := svc.ParseRefresh(first.RefreshToken)
	require.NoError(t, err)
	rec, err := store.Get(ctx, firstClaims.ID)
	require.NoError(t, err)
	assert.True(t, rec.Revoked())
	assert.NotEmpty(t, rec.ReplacedBy)
}

// TestPurpose: Validates that concurrent refreshes with the same token produce exactly one winner.
// Scope: Unit Test
// Security: Rotation race safety
// Expected: One of 10 goroutines succeeds; all others get ErrRevoked; the session survives.
// Test Case ID: TOK-05
func TestTokenService_ConcurrentRefreshSingleWinner(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, Subject{PrincipalID: "p1"}, "s1")
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refresh(ctx, pair.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrRevoked)
		assert.NotErrorIs(t, err, ErrReuseDetected)
	}
	assert.Equal(t, 1, wins)
	assert.False(t, store.revokedSessions["s1"])
}

// TestPurpose: Validates that replaying a token rotated earlier revokes the whole session.
// Scope: Unit Test
// Security: Refresh token theft detection
// Expected: ErrReuseDetected on replay; the legitimately rotated token then fails too.
// Test Case ID: TOK-06
func TestTokenService_ReuseRevokesSession(t *testing.T) {
	svc, store, _, clock := newTestService(t)
	ctx := context.Background()

	first, err := svc.IssuePair(ctx, Subject{PrincipalID: "p1"}, "s1")
	require.NoError(t, err)
	second, err := svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = svc.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, ErrReuseDetected)
	assert.ErrorIs(t, err, ErrRevoked)
	assert.True(t, store.revokedSessions["s1"])

	_, err = svc.Refresh(ctx, second.RefreshToken)
	assert.ErrorIs(t, err, ErrRevoked)
}

// TestPurpose: Validates refresh failure modes: expiry, unknown record, explicit revoke, inactive subject.
// Scope: Unit Test
// Expected: ErrExpired, ErrNotFound, ErrRevoked and the subject source error respectively.
// Test Case ID: TOK-07
func TestTokenService_RefreshFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("expired", func(t *testing.T) {
		svc, _, _, clock := newTestService(t)
		pair, err := svc.IssuePair(ctx, Subject{PrincipalID: "p1"}, "s1")
		require.NoError(t, err)
		clock.Advance(25 * time.Hour)
		_, err = svc.Refresh(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, ErrExpired)
	})

	t.Run("unknown record", func(t *testing.T) {
		svc, store, _, _ := newTestService(t)
		pair, err := svc.IssuePair(ctx, Subject{PrincipalID: "p1"}, "s1")
		require.NoError(t, err)
		store.records = map[string]*RefreshRecord{}
		_, err = svc.Refresh(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("revoked", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)
		pair, err := svc.IssuePair(ctx, Subject{PrincipalID: "p1"}, "s1")
		require.NoError(t, err)
		claims, err := svc.ParseRefresh(pair.RefreshToken)
		require.NoError(t, err)

		require.NoError(t, svc.Revoke(ctx, claims.ID))
		require.NoError(t, svc.Revoke(ctx, claims.ID))
		require.NoError(t, svc.Revoke(ctx, "unknown"))

		_, err = svc.Refresh(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, ErrRevoked)
	})

	t.Run("session revoked", func(t *testing.T) {
		svc, store, _, _ := newTestService(t)
		pair, err := svc.IssuePair(ctx, Subject{PrincipalID: "p1"}, "s1")
		require.NoError(t, err)
		require.NoError(t, store.RevokeSession(ctx, "s1", svc.now()))
		_, err = svc.Refresh(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, ErrRevoked)
	})

	t.Run("inactive subject", func(t *testing.T) {
		svc, _, subjects, _ := newTestService(t)
		pair, err := svc.IssuePair(ctx, Subject{PrincipalID: "p1"}, "s1")
		require.NoError(t, err)
		subjects.inactive["p1"] = true
		_, err = svc.Refresh(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, errInactive)
	})

	t.Run("access token presented", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)
		pair, err := svc.IssuePair(ctx, Subject{PrincipalID: "p1"}, "s1")
		require.NoError(t, err)
		_, err = svc.Refresh(ctx, pair.AccessToken)
		assert.ErrorIs(t, err, ErrMalformed)
	})
}
