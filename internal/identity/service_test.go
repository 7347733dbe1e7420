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

package identity

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/holidesk/holidesk/internal/password"
)

// MockPrincipalStore is a simple in-memory implementation of Store
type MockPrincipalStore struct {
	mu         sync.Mutex
	principals map[string]*Principal
}

func NewMockPrincipalStore() *MockPrincipalStore {
	return &MockPrincipalStore{principals: make(map[string]*Principal)}
}

func (m *MockPrincipalStore) Create(_ context.Context, p *Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.principals {
		if existing.Email == p.Email {
			return ErrPrincipalExists
		}
	}
	cp := *p
	m.principals[p.ID] = &cp
	return nil
}

func (m *MockPrincipalStore) FindByEmail(_ context.Context, email string) (*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.principals {
		if p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPrincipalNotFound
}

func (m *MockPrincipalStore) FindByID(_ context.Context, id string) (*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockPrincipalStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return m.update(id, func(p *Principal) { p.PasswordHash = hash })
}

func (m *MockPrincipalStore) SetActive(_ context.Context, id string, active bool) error {
	return m.update(id, func(p *Principal) { p.IsActive = active })
}

func (m *MockPrincipalStore) SetTwoFactorState(_ context.Context, id string, enabled bool) error {
	return m.update(id, func(p *Principal) { p.TwoFactorEnabled = enabled })
}

func (m *MockPrincipalStore) update(id string, fn func(*Principal)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	fn(p)
	return nil
}

func (m *MockPrincipalStore) hashOf(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.principals[id].PasswordHash
}

// MockHistoryStore keeps password history in memory
type MockHistoryStore struct {
	hashes map[string][]string
}

func NewMockHistoryStore() *MockHistoryStore {
	return &MockHistoryStore{hashes: make(map[string][]string)}
}

func (m *MockHistoryStore) Append(_ context.Context, principalID, hash string, keep int) error {
	h := append([]string{hash}, m.hashes[principalID]...)
	if len(h) > keep {
		h = h[:keep]
	}
	m.hashes[principalID] = h
	return nil
}

func (m *MockHistoryStore) Recent(_ context.Context, principalID string, n int) ([]string, error) {
	h := m.hashes[principalID]
	if len(h) > n {
		h = h[:n]
	}
	return h, nil
}

type fixture struct {
	store   *MockPrincipalStore
	history *MockHistoryStore
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewMockPrincipalStore()
	history := NewMockHistoryStore()
	hasher := NewPasswordHasher(8*1024, 1, 1, 16, 32)
	svc, err := NewService(store, history, hasher, password.NewPolicy(password.Config{CheckCommon: true}), 3)
	require.NoError(t, err)
	return &fixture{store: store, history: history, svc: svc}
}

// TestPurpose: Validates the password authentication outcomes.
// Scope: Unit Test
// Security: Credential verification and enumeration resistance
// Expected: Correct credentials succeed; unknown email and wrong password fail with distinct internal causes; inactive fails only after the password verifies.
// Test Case ID: IDN-01
func TestIdentity_Service_Authenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := "tenant-1"

	p, err := f.svc.Create(ctx, " A@B.com ", "Str0ng!Pass", &tenant, false)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", p.Email)
	assert.True(t, strings.HasPrefix(p.PasswordHash, "$argon2id$"))

	got, err := f.svc.Authenticate(ctx, "a@b.com", "Str0ng!Pass")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = f.svc.Authenticate(ctx, "a@b.com", "Wr0ng!Pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Authenticate(ctx, "nobody@b.com", "Str0ng!Pass")
	assert.ErrorIs(t, err, ErrPrincipalNotFound)

	require.NoError(t, f.svc.SetActive(ctx, p.ID, false))
	_, err = f.svc.Authenticate(ctx, "a@b.com", "Wr0ng!Pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	got, err = f.svc.Authenticate(ctx, "a@b.com", "Str0ng!Pass")
	assert.ErrorIs(t, err, ErrAccountInactive)
	require.NotNil(t, got)
	assert.Equal(t, p.ID, got.ID)
}

// TestPurpose: Validates transparent migration of legacy bcrypt hashes.
// Scope: Unit Test
// Security: Imported hashes are upgraded to Argon2id on the next successful login
// Expected: A bcrypt hash verifies and is replaced by an Argon2id hash.
// Test Case ID: IDN-02
func TestIdentity_Service_BcryptRehash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	legacy, err := bcrypt.GenerateFromPassword([]byte("Str0ng!Pass"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, f.store.Create(ctx, &Principal{ID: "p1", Email: "a@b.com", IsActive: true, PasswordHash: string(legacy)}))

	_, err = f.svc.Authenticate(ctx, "a@b.com", "Str0ng!Pass")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(f.store.hashOf("p1"), "$argon2id$"))

	_, err = f.svc.Authenticate(ctx, "a@b.com", "Str0ng!Pass")
	require.NoError(t, err)
}

// TestPurpose: Validates password changes against policy and history.
// Scope: Unit Test
// Security: Password reuse prevention
// Expected: Wrong current password, weak and recently used passwords are rejected; the replaced hash enters the history.
// Test Case ID: IDN-03
func TestIdentity_Service_ChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Create(ctx, "a@b.com", "Str0ng!Pass", nil, false)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.ChangePassword(ctx, p.ID, "Wr0ng!Pass", "N3w!Passw0rd"), ErrInvalidCredentials)

	err = f.svc.ChangePassword(ctx, p.ID, "Str0ng!Pass", "short")
	var policyErr *PolicyError
	require.ErrorAs(t, err, &policyErr)
	assert.ErrorIs(t, err, ErrWeakPassword)
	assert.Contains(t, policyErr.Violations, password.TooShort)

	require.NoError(t, f.svc.ChangePassword(ctx, p.ID, "Str0ng!Pass", "N3w!Passw0rd"))
	assert.Len(t, f.history.hashes[p.ID], 1)

	err = f.svc.ChangePassword(ctx, p.ID, "N3w!Passw0rd", "Str0ng!Pass")
	require.ErrorAs(t, err, &policyErr)
	assert.Equal(t, []password.Violation{password.ReusedRecently}, policyErr.Violations)

	require.NoError(t, f.svc.VerifyPassword(ctx, p.ID, "N3w!Passw0rd"))
	assert.ErrorIs(t, f.svc.VerifyPassword(ctx, p.ID, "Str0ng!Pass"), ErrInvalidCredentials)
}

// TestPurpose: Validates principal creation rules.
// Scope: Unit Test
// Expected: Duplicate and malformed emails are rejected; provider principals have no password.
// Test Case ID: IDN-04
func TestIdentity_Service_Create(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, "a@b.com", "Str0ng!Pass", nil, false)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, "A@b.com", "Str0ng!Pass", nil, false)
	assert.ErrorIs(t, err, ErrPrincipalExists)

	_, err = f.svc.Create(ctx, "not-an-email", "Str0ng!Pass", nil, false)
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = f.svc.Create(ctx, "weak@b.com", "password", nil, false)
	assert.ErrorIs(t, err, ErrWeakPassword)

	p, err := f.svc.NewProviderPrincipal("Guest@Example.com", nil)
	require.NoError(t, err)
	assert.Empty(t, p.PasswordHash)
	assert.Equal(t, "guest@example.com", p.Email)
	assert.True(t, p.IsActive)
	_, err = f.svc.FindByEmail(ctx, "guest@example.com")
	assert.ErrorIs(t, err, ErrPrincipalNotFound, "building a provider principal stores nothing")
	require.NoError(t, f.store.Create(ctx, p))
	_, err = f.svc.Authenticate(ctx, "guest@example.com", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

// TestPurpose: Validates bootstrap of the platform administrator and subject loading.
// Scope: Unit Test
// Security: Deactivated principals cannot obtain new tokens
// Expected: Bootstrap is idempotent and creates a tenantless admin; LoadSubject rejects inactive principals.
// Test Case ID: IDN-05
func TestIdentity_Service_BootstrapAndSubject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Bootstrap(ctx, "", ""))
	require.NoError(t, f.svc.Bootstrap(ctx, "admin@holidesk.test", "Adm1n!Passw0rd"))
	require.NoError(t, f.svc.Bootstrap(ctx, "admin@holidesk.test", "Adm1n!Passw0rd"))

	admin, err := f.svc.FindByEmail(ctx, "admin@holidesk.test")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin)
	assert.Nil(t, admin.TenantID)

	sub, err := f.svc.LoadSubject(ctx, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, sub.PrincipalID)
	assert.True(t, sub.IsAdmin)

	require.NoError(t, f.svc.SetActive(ctx, admin.ID, false))
	_, err = f.svc.LoadSubject(ctx, admin.ID)
	assert.ErrorIs(t, err, ErrAccountInactive)
}
