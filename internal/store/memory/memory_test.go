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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holidesk/holidesk/internal/identity"
	"github.com/holidesk/holidesk/internal/oauthlink"
	"github.com/holidesk/holidesk/internal/session"
	"github.com/holidesk/holidesk/internal/token"
	"github.com/holidesk/holidesk/internal/twofactor"
)

func seedSession(t *testing.T, db *DB, id string, now time.Time) {
	t.Helper()
	require.NoError(t, db.Sessions().Create(context.Background(), &session.Session{
		ID:          id,
		PrincipalID: "p1",
		CreatedAt:   now,
		LastUsedAt:  now,
		ExpiresAt:   now.Add(time.Hour),
	}))
}

// TestPurpose: Validates refresh rotation as a single conditional step.
// Scope: Unit Test
// Security: Only one of several concurrent rotations of the same token succeeds
// Expected: One rotation wins, the rest get ErrRevoked; the session points at the winner.
// Test Case ID: MEM-01
func TestMemory_RotateOnce(t *testing.T) {
	db := New()
	ctx := context.Background()
	now := time.Now()
	seedSession(t, db, "s1", now)
	refresh := db.RefreshTokens()
	require.NoError(t, refresh.Create(ctx, &token.RefreshRecord{ID: "r0", PrincipalID: "p1", SessionID: "s1", ExpiresAt: now.Add(time.Hour)}))

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := &token.RefreshRecord{ID: string(rune('a' + i)), PrincipalID: "p1", SessionID: "s1", ExpiresAt: now.Add(2 * time.Hour)}
			errs[i] = refresh.Rotate(ctx, "r0", next, now)
		}(i)
	}
	wg.Wait()

	wins := 0
	winner := ""
	for i, err := range errs {
		if err == nil {
			wins++
			winner = string(rune('a' + i))
			continue
		}
		assert.ErrorIs(t, err, token.ErrRevoked)
	}
	require.Equal(t, 1, wins)

	s, err := db.Sessions().Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, winner, s.RefreshTokenID)
	assert.Equal(t, now.Add(2*time.Hour), s.ExpiresAt)

	old, err := refresh.Get(ctx, "r0")
	require.NoError(t, err)
	assert.Equal(t, winner, old.ReplacedBy)
}

// TestPurpose: Validates that revoking sessions revokes their refresh tokens and blocks rotation.
// Scope: Unit Test
// Security: No session survives revocation through a racing refresh
// Expected: Rotation on a revoked session fails with ErrSessionRevoked; RevokeAll honours the exception.
// Test Case ID: MEM-02
func TestMemory_RevokeCascade(t *testing.T) {
	db := New()
	ctx := context.Background()
	now := time.Now()
	seedSession(t, db, "s1", now)
	seedSession(t, db, "s2", now)
	refresh := db.RefreshTokens()
	require.NoError(t, refresh.Create(ctx, &token.RefreshRecord{ID: "r1", PrincipalID: "p1", SessionID: "s1", ExpiresAt: now.Add(time.Hour)}))

	n, err := db.Sessions().RevokeAll(ctx, "p1", "s2", now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := refresh.Get(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, rec.Revoked())

	err = refresh.Rotate(ctx, "r1", &token.RefreshRecord{ID: "r2", SessionID: "s1"}, now)
	assert.ErrorIs(t, err, token.ErrSessionRevoked)
	err = refresh.Create(ctx, &token.RefreshRecord{ID: "r3", SessionID: "s1"})
	assert.ErrorIs(t, err, token.ErrSessionRevoked)

	active, err := db.Sessions().ListActive(ctx, "p1", now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "s2", active[0].ID)

	purged, err := db.Sessions().Purge(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	_, err = refresh.Get(ctx, "r1")
	assert.ErrorIs(t, err, token.ErrNotFound)
}

// TestPurpose: Validates principal uniqueness and password history bounds.
// Scope: Unit Test
// Expected: Duplicate emails are rejected; history keeps the newest entries only.
// Test Case ID: MEM-03
func TestMemory_PrincipalsAndHistory(t *testing.T) {
	db := New()
	ctx := context.Background()
	principals := db.Principals()

	require.NoError(t, principals.Create(ctx, &identity.Principal{ID: "p1", Email: "a@b.com", IsActive: true}))
	err := principals.Create(ctx, &identity.Principal{ID: "p2", Email: "a@b.com"})
	assert.ErrorIs(t, err, identity.ErrPrincipalExists)

	require.NoError(t, principals.SetTwoFactorState(ctx, "p1", true))
	p, err := principals.FindByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	assert.True(t, p.TwoFactorEnabled)

	err = principals.SetActive(ctx, "missing", false)
	assert.ErrorIs(t, err, identity.ErrPrincipalNotFound)

	history := db.PasswordHistory()
	for _, h := range []string{"h1", "h2", "h3", "h4"} {
		require.NoError(t, history.Append(ctx, "p1", h, 3))
	}
	recent, err := history.Recent(ctx, "p1", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"h4", "h3", "h2"}, recent)
}

// TestPurpose: Validates single use of backup codes and TOTP counter monotonicity.
// Scope: Unit Test
// Security: Replay of one-time codes
// Expected: A code is consumed once; the counter only moves forward.
// Test Case ID: MEM-04
func TestMemory_TwoFactor(t *testing.T) {
	db := New()
	ctx := context.Background()
	now := time.Now()
	tf := db.TwoFactor()

	require.NoError(t, tf.SavePending(ctx, "p1", "SECRET", now))
	require.NoError(t, tf.Activate(ctx, "p1", 10, []string{"c1", "c2"}, now))
	assert.ErrorIs(t, tf.SavePending(ctx, "p1", "OTHER", now), twofactor.ErrAlreadyEnrolled)

	ok, err := tf.AdvanceCounter(ctx, "p1", 10)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = tf.AdvanceCounter(ctx, "p1", 11)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tf.ConsumeBackupCode(ctx, "p1", "c1", now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = tf.ConsumeBackupCode(ctx, "p1", "c1", now)
	require.NoError(t, err)
	assert.False(t, ok)

	left, err := tf.CountBackupCodes(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, left)

	require.NoError(t, tf.Delete(ctx, "p1"))
	_, err = tf.GetEnrollment(ctx, "p1")
	assert.ErrorIs(t, err, twofactor.ErrNoEnrollment)
}

// TestPurpose: Validates that a provider-provisioned principal and its link are stored together or not at all.
// Scope: Unit Test
// Security: No passwordless principal may exist without the provider link that is its only way in
// Expected: A duplicate link or email rejects the pair and leaves neither row behind.
// Test Case ID: MEM-05
func TestMemory_CreatePrincipalWithLink(t *testing.T) {
	db := New()
	ctx := context.Background()
	now := time.Now()
	links := db.Links()
	principals := db.Principals()

	require.NoError(t, links.CreateLink(ctx, &oauthlink.Link{Provider: "google", ProviderUserID: "g-taken", PrincipalID: "someone", CreatedAt: now}))

	orphan := &identity.Principal{ID: "p-orphan", Email: "orphan@example.com", IsActive: true, CreatedAt: now}
	err := links.CreatePrincipalWithLink(ctx, orphan, &oauthlink.Link{Provider: "google", ProviderUserID: "g-taken", PrincipalID: orphan.ID, CreatedAt: now})
	assert.ErrorIs(t, err, oauthlink.ErrLinkExists)
	_, err = principals.FindByEmail(ctx, "orphan@example.com")
	assert.ErrorIs(t, err, identity.ErrPrincipalNotFound)

	p := &identity.Principal{ID: "p-new", Email: "new@example.com", IsActive: true, CreatedAt: now}
	require.NoError(t, links.CreatePrincipalWithLink(ctx, p, &oauthlink.Link{Provider: "google", ProviderUserID: "g-new", PrincipalID: p.ID, CreatedAt: now}))
	got, err := principals.FindByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, "p-new", got.ID)

	dup := &identity.Principal{ID: "p-dup", Email: "new@example.com", CreatedAt: now}
	err = links.CreatePrincipalWithLink(ctx, dup, &oauthlink.Link{Provider: "github", ProviderUserID: "gh-1", PrincipalID: dup.ID, CreatedAt: now})
	assert.ErrorIs(t, err, identity.ErrPrincipalExists)
	_, err = links.FindLink(ctx, "github", "gh-1")
	assert.ErrorIs(t, err, oauthlink.ErrLinkNotFound)
}
