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
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/holidesk/holidesk/internal/id"
	"github.com/holidesk/holidesk/internal/observability/logger"
	"github.com/holidesk/holidesk/internal/password"
	"github.com/holidesk/holidesk/internal/token"
)

// PolicyError carries the violations of a rejected password
type PolicyError struct {
	Violations []password.Violation
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("password policy violated: %v", e.Violations)
}

// Is matches ErrWeakPassword
func (e *PolicyError) Is(target error) bool {
	return target == ErrWeakPassword
}

// Service provides identity-related business logic
type Service struct {
	store       Store
	history     HistoryStore
	hasher      *PasswordHasher
	policy      *password.Policy
	historySize int
	dummyHash   string
	now         func() time.Time
}

// NewService creates a new identity service
func NewService(
	store Store,
	history HistoryStore,
	hasher *PasswordHasher,
	policy *password.Policy,
	historySize int,
) (*Service, error) {
	dummy, err := hasher.Hash(id.NewOpaque(24))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	return &Service{
		store:       store,
		history:     history,
		hasher:      hasher,
		policy:      policy,
		historySize: historySize,
		dummyHash:   dummy,
		now:         time.Now,
	}, nil
}

// Authenticate verifies email and password. Unknown emails and
// provider-only principals still pay for one hash verification so response
// time does not reveal whether an account exists. The active flag is checked
// only after the password verifies.
func (s *Service) Authenticate(ctx context.Context, email, pw string) (*Principal, error) {
	p, err := s.store.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			_, _, _ = s.hasher.Verify(pw, s.dummyHash)
			return nil, ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("failed to find principal: %w", err)
	}

	if p.PasswordHash == "" {
		_, _, _ = s.hasher.Verify(pw, s.dummyHash)
		return nil, ErrInvalidCredentials
	}

	ok, needsRehash, err := s.hasher.Verify(pw, p.PasswordHash)
	if err != nil {
		slog.ErrorContext(ctx, "stored password hash unreadable", logger.PrincipalID(p.ID), logger.Error(err))
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if !p.IsActive {
		return p, ErrAccountInactive
	}

	if needsRehash {
		s.rehash(ctx, p, pw)
	}
	return p, nil
}

func (s *Service) rehash(ctx context.Context, p *Principal, pw string) {
	hash, err := s.hasher.Hash(pw)
	if err != nil {
		slog.WarnContext(ctx, "password rehash failed", logger.PrincipalID(p.ID), logger.Error(err))
		return
	}
	if err := s.store.UpdatePasswordHash(ctx, p.ID, hash); err != nil {
		slog.WarnContext(ctx, "password rehash not persisted", logger.PrincipalID(p.ID), logger.Error(err))
		return
	}
	p.PasswordHash = hash
}

// VerifyPassword checks pw against the principal's current password
func (s *Service) VerifyPassword(ctx context.Context, principalID, pw string) error {
	p, err := s.store.FindByID(ctx, principalID)
	if err != nil {
		return err
	}
	if p.PasswordHash == "" {
		return ErrInvalidCredentials
	}
	ok, _, err := s.hasher.Verify(pw, p.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}
	return nil
}

// ChangePassword verifies the current password, applies the policy including
// reuse of recent passwords, and stores the new hash. The replaced hash is
// appended to the history.
func (s *Service) ChangePassword(ctx context.Context, principalID, current, next string) error {
	p, err := s.store.FindByID(ctx, principalID)
	if err != nil {
		return err
	}
	if p.PasswordHash != "" {
		ok, _, err := s.hasher.Verify(current, p.PasswordHash)
		if err != nil || !ok {
			return ErrInvalidCredentials
		}
	}

	reused, err := s.historyMatcher(ctx, p)
	if err != nil {
		return err
	}
	if res := s.policy.Validate(next, reused); !res.Valid {
		return &PolicyError{Violations: res.Violations}
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.store.UpdatePasswordHash(ctx, p.ID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if p.PasswordHash != "" && s.historySize > 0 {
		if err := s.history.Append(ctx, p.ID, p.PasswordHash, s.historySize); err != nil {
			slog.WarnContext(ctx, "password history not recorded", logger.PrincipalID(p.ID), logger.Error(err))
		}
	}
	return nil
}

// historyMatcher returns a matcher over the current hash and the stored history
func (s *Service) historyMatcher(ctx context.Context, p *Principal) (password.HistoryMatcher, error) {
	hashes := []string{}
	if p.PasswordHash != "" {
		hashes = append(hashes, p.PasswordHash)
	}
	if s.historySize > 0 {
		recent, err := s.history.Recent(ctx, p.ID, s.historySize)
		if err != nil {
			return nil, fmt.Errorf("failed to load password history: %w", err)
		}
		hashes = append(hashes, recent...)
	}
	return func(pw string) bool {
		for _, h := range hashes {
			if ok, _, _ := s.hasher.Verify(pw, h); ok {
				return true
			}
		}
		return false
	}, nil
}

// Create registers a principal with a password that satisfies the policy
func (s *Service) Create(ctx context.Context, email, pw string, tenantID *string, isAdmin bool) (*Principal, error) {
	email, err := validateEmail(email)
	if err != nil {
		return nil, err
	}
	if res := s.policy.Validate(pw); !res.Valid {
		return nil, &PolicyError{Violations: res.Violations}
	}
	hash, err := s.hasher.Hash(pw)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return s.create(ctx, email, hash, tenantID, isAdmin)
}

// NewProviderPrincipal builds, without storing, a principal for a verified
// external identity. It has no password and can only sign in through its
// provider until one is set. The caller persists it together with the
// provider link.
func (s *Service) NewProviderPrincipal(email string, tenantID *string) (*Principal, error) {
	email, err := validateEmail(email)
	if err != nil {
		return nil, err
	}
	return s.newPrincipal(email, "", tenantID, false), nil
}

func (s *Service) newPrincipal(email, hash string, tenantID *string, isAdmin bool) *Principal {
	now := s.now()
	return &Principal{
		ID:           id.NewUUIDv7(),
		Email:        email,
		TenantID:     tenantID,
		IsAdmin:      isAdmin,
		IsActive:     true,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s *Service) create(ctx context.Context, email, hash string, tenantID *string, isAdmin bool) (*Principal, error) {
	p := s.newPrincipal(email, hash, tenantID, isAdmin)
	if err := s.store.Create(ctx, p); err != nil {
		if errors.Is(err, ErrPrincipalExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create principal: %w", err)
	}
	return p, nil
}

// FindByEmail looks up a principal by normalized email
func (s *Service) FindByEmail(ctx context.Context, email string) (*Principal, error) {
	return s.store.FindByEmail(ctx, NormalizeEmail(email))
}

// FindByID looks up a principal by id
func (s *Service) FindByID(ctx context.Context, principalID string) (*Principal, error) {
	return s.store.FindByID(ctx, principalID)
}

// SetActive activates or deactivates a principal
func (s *Service) SetActive(ctx context.Context, principalID string, active bool) error {
	return s.store.SetActive(ctx, principalID, active)
}

// SetTwoFactorState records whether the principal has two-factor enabled
func (s *Service) SetTwoFactorState(ctx context.Context, principalID string, enabled bool) error {
	return s.store.SetTwoFactorState(ctx, principalID, enabled)
}

// LoadSubject implements token.SubjectSource. Inactive principals cannot
// obtain new tokens.
func (s *Service) LoadSubject(ctx context.Context, principalID string) (token.Subject, error) {
	p, err := s.store.FindByID(ctx, principalID)
	if err != nil {
		return token.Subject{}, err
	}
	if !p.IsActive {
		return token.Subject{}, ErrAccountInactive
	}
	return SubjectOf(p), nil
}

// SubjectOf builds the token subject for a principal
func SubjectOf(p *Principal) token.Subject {
	return token.Subject{PrincipalID: p.ID, TenantID: p.TenantID, IsAdmin: p.IsAdmin}
}

func validateEmail(email string) (string, error) {
	email = NormalizeEmail(email)
	if len(email) < 3 || len(email) > 254 {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
