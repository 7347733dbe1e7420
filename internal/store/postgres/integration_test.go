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

//go:build integration
// +build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holidesk/holidesk/internal/id"
	"github.com/holidesk/holidesk/internal/identity"
	"github.com/holidesk/holidesk/internal/oauthlink"
	"github.com/holidesk/holidesk/internal/session"
	"github.com/holidesk/holidesk/internal/token"
	"github.com/holidesk/holidesk/internal/twofactor"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := Config{URL: os.Getenv("DATABASE_URL")}
	if cfg.URL == "" {
		// docker-compose defaults
		cfg = Config{
			Host:         "localhost",
			Port:         "5432",
			User:         "holidesk",
			Password:     "holidesk",
			Database:     "holidesk_test",
			SSLMode:      "disable",
			MaxOpenConns: 10,
			MaxIdleConns: 2,
		}
	}

	ctx := context.Background()
	db, err := New(ctx, cfg)
	if err != nil {
		t.Skipf("Skipping integration test: failed to connect to database: %v", err)
	}
	t.Cleanup(db.Close)

	_, err = db.Migrate(ctx)
	require.NoError(t, err)
	return db
}

func seedPrincipal(t *testing.T, db *DB) *identity.Principal {
	t.Helper()
	tenant := "tenant-" + id.NewOpaque(6)
	now := time.Now().UTC().Truncate(time.Microsecond)
	p := &identity.Principal{
		ID:        id.NewUUIDv7(),
		Email:     id.NewOpaque(8) + "@example.com",
		TenantID:  &tenant,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, NewPrincipalRepository(db).Create(context.Background(), p))
	return p
}

func seedSession(t *testing.T, db *DB, p *identity.Principal, now time.Time) (*session.Session, *token.RefreshRecord) {
	t.Helper()
	ctx := context.Background()
	s := &session.Session{
		ID:          id.NewUUIDv7(),
		PrincipalID: p.ID,
		TenantID:    p.TenantID,
		IPAddress:   "203.0.113.7",
		UserAgent:   "integration",
		CreatedAt:   now,
		LastUsedAt:  now,
		ExpiresAt:   now.Add(time.Hour),
	}
	require.NoError(t, NewSessionRepository(db).Create(ctx, s))
	rec := &token.RefreshRecord{
		ID:          id.NewUUIDv7(),
		PrincipalID: p.ID,
		SessionID:   s.ID,
		ExpiresAt:   s.ExpiresAt,
		CreatedAt:   now,
	}
	require.NoError(t, NewRefreshTokenRepository(db).Create(ctx, rec))
	return s, rec
}

// TestPurpose: Validates that migrations are idempotent and that email uniqueness is enforced by the database.
// Scope: Database Integration Test
// Security: Account takeover via duplicate identities (CWE-287)
// Expected: A second Migrate applies nothing and a duplicate email yields ErrPrincipalExists.
// Test Case ID: PG-01
func TestPrincipalRepository_Uniqueness(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	applied, err := db.Migrate(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)

	p := seedPrincipal(t, db)
	repo := NewPrincipalRepository(db)

	dup := *p
	dup.ID = id.NewUUIDv7()
	assert.ErrorIs(t, repo.Create(ctx, &dup), identity.ErrPrincipalExists)

	got, err := repo.FindByEmail(ctx, p.Email)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.TenantIDValue(), got.TenantIDValue())

	require.NoError(t, repo.SetTwoFactorState(ctx, p.ID, true))
	got, err = repo.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.TwoFactorEnabled)

	assert.ErrorIs(t, repo.SetActive(ctx, "missing", false), identity.ErrPrincipalNotFound)

	history := NewHistoryRepository(db)
	for _, h := range []string{"h1", "h2", "h3", "h4"} {
		require.NoError(t, history.Append(ctx, p.ID, h, 3))
	}
	recent, err := history.Recent(ctx, p.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"h4", "h3", "h2"}, recent)
}

// TestPurpose: Validates that concurrent rotations of one refresh token produce exactly one successor.
// Scope: Database Integration Test
// Security: Refresh token replay (CWE-294)
// Expected: One Rotate succeeds; the rest return ErrRevoked.
// Test Case ID: PG-02
func TestRefreshTokenRepository_ConcurrentRotate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	p := seedPrincipal(t, db)
	_, rec := seedSession(t, db, p, now)
	repo := NewRefreshTokenRepository(db)

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		replayed int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := &token.RefreshRecord{
				ID:          id.NewUUIDv7(),
				PrincipalID: p.ID,
				SessionID:   rec.SessionID,
				ExpiresAt:   now.Add(2 * time.Hour),
				CreatedAt:   now,
			}
			err := repo.Rotate(ctx, rec.ID, next, now)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, token.ErrRevoked) {
				replayed++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, replayed)

	old, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, old.Revoked())
	assert.NotEmpty(t, old.ReplacedBy)
}

// TestPurpose: Validates session revocation cascades to refresh tokens and that cleanup removes ended sessions.
// Scope: Database Integration Test
// Security: Session fixation after logout (CWE-613)
// Expected: Rotation on a revoked session fails with ErrSessionRevoked and Purge deletes it.
// Test Case ID: PG-03
func TestSessionRepository_RevokeAndPurge(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	p := seedPrincipal(t, db)
	keep, _ := seedSession(t, db, p, now)
	drop, dropRec := seedSession(t, db, p, now)

	sessions := NewSessionRepository(db)
	refresh := NewRefreshTokenRepository(db)

	active, err := sessions.ListActive(ctx, p.ID, now)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	n, err := sessions.RevokeAll(ctx, p.ID, keep.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := refresh.Get(ctx, dropRec.ID)
	require.NoError(t, err)
	assert.True(t, got.Revoked())

	next := &token.RefreshRecord{ID: id.NewUUIDv7(), PrincipalID: p.ID, SessionID: drop.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	assert.ErrorIs(t, refresh.Rotate(ctx, dropRec.ID, next, now), token.ErrSessionRevoked)

	changed, err := sessions.Revoke(ctx, drop.ID, now)
	require.NoError(t, err)
	assert.False(t, changed, "already revoked by RevokeAll")
	_, err = sessions.Revoke(ctx, "missing", now)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	require.NoError(t, refresh.RevokeSession(ctx, "missing", now))

	purged, err := sessions.Purge(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, purged, int64(1))

	_, err = sessions.Get(ctx, drop.ID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	_, err = refresh.Get(ctx, dropRec.ID)
	assert.ErrorIs(t, err, token.ErrNotFound)

	_, err = sessions.Get(ctx, keep.ID)
	assert.NoError(t, err)
}

// TestPurpose: Validates two-factor persistence enforces monotonic TOTP counters and single-use backup codes.
// Scope: Database Integration Test
// Security: OTP replay (CWE-294)
// Expected: Counters only advance, backup codes consume once, and enrolled state blocks re-enrollment.
// Test Case ID: PG-04
func TestTwoFactorRepository_Lifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	p := seedPrincipal(t, db)
	repo := NewTwoFactorRepository(db)

	_, err := repo.GetEnrollment(ctx, p.ID)
	assert.ErrorIs(t, err, twofactor.ErrNoEnrollment)

	require.NoError(t, repo.SavePending(ctx, p.ID, "SECRET1", now))
	require.NoError(t, repo.SavePending(ctx, p.ID, "SECRET2", now))
	require.NoError(t, repo.Activate(ctx, p.ID, 100, []string{"a", "b"}, now))
	assert.ErrorIs(t, repo.SavePending(ctx, p.ID, "SECRET3", now), twofactor.ErrAlreadyEnrolled)

	e, err := repo.GetEnrollment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, twofactor.StateEnrolled, e.State)
	assert.Equal(t, "SECRET2", e.Secret)

	ok, err := repo.AdvanceCounter(ctx, p.ID, 100)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = repo.AdvanceCounter(ctx, p.ID, 101)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ConsumeBackupCode(ctx, p.ID, "a", now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.ConsumeBackupCode(ctx, p.ID, "a", now)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := repo.CountBackupCodes(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, repo.Delete(ctx, p.ID))
	n, err = repo.CountBackupCodes(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestPurpose: Validates that one provider account links to at most one principal.
// Scope: Database Integration Test
// Security: Account linking confusion (CWE-287)
// Expected: The second CreateLink for the same provider subject returns ErrLinkExists.
// Test Case ID: PG-05
func TestLinkRepository_Unique(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	p := seedPrincipal(t, db)
	repo := NewLinkRepository(db)

	link := &oauthlink.Link{
		Provider:       "google",
		ProviderUserID: id.NewOpaque(8),
		PrincipalID:    p.ID,
		Email:          p.Email,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, repo.CreateLink(ctx, link))
	assert.ErrorIs(t, repo.CreateLink(ctx, link), oauthlink.ErrLinkExists)

	got, err := repo.FindLink(ctx, "google", link.ProviderUserID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.PrincipalID)

	_, err = repo.FindLink(ctx, "github", link.ProviderUserID)
	assert.ErrorIs(t, err, oauthlink.ErrLinkNotFound)

	links, err := repo.ListLinks(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

// TestPurpose: Validates that a provider-provisioned principal and its link commit together.
// Scope: Database Integration Test
// Security: A passwordless principal must never exist without its provider link
// Expected: When the link insert fails the principal insert rolls back; otherwise both rows exist.
// Test Case ID: PG-06
func TestLinkRepository_CreatePrincipalWithLink(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	owner := seedPrincipal(t, db)
	repo := NewLinkRepository(db)
	principals := NewPrincipalRepository(db)
	now := time.Now().UTC()

	taken := &oauthlink.Link{Provider: "google", ProviderUserID: id.NewOpaque(8), PrincipalID: owner.ID, Email: owner.Email, CreatedAt: now}
	require.NoError(t, repo.CreateLink(ctx, taken))

	orphan := &identity.Principal{ID: id.NewUUIDv7(), Email: id.NewOpaque(6) + "@example.com", IsActive: true, CreatedAt: now, UpdatedAt: now}
	err := repo.CreatePrincipalWithLink(ctx, orphan, &oauthlink.Link{
		Provider: "google", ProviderUserID: taken.ProviderUserID, PrincipalID: orphan.ID, Email: orphan.Email, CreatedAt: now,
	})
	assert.ErrorIs(t, err, oauthlink.ErrLinkExists)
	_, err = principals.FindByID(ctx, orphan.ID)
	assert.ErrorIs(t, err, identity.ErrPrincipalNotFound)

	p := &identity.Principal{ID: id.NewUUIDv7(), Email: id.NewOpaque(6) + "@example.com", IsActive: true, CreatedAt: now, UpdatedAt: now}
	link := &oauthlink.Link{Provider: "github", ProviderUserID: id.NewOpaque(8), PrincipalID: p.ID, Email: p.Email, CreatedAt: now}
	require.NoError(t, repo.CreatePrincipalWithLink(ctx, p, link))
	got, err := repo.FindLink(ctx, "github", link.ProviderUserID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.PrincipalID)
	_, err = principals.FindByEmail(ctx, p.Email)
	require.NoError(t, err)
}
