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
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/holidesk/holidesk/internal/id"
	"github.com/holidesk/holidesk/internal/observability/logger"
)

// reuseGrace separates a concurrent refresh race from replay of a token that
// was rotated earlier. Within the grace the caller only loses the race.
const reuseGrace = 5 * time.Second

// Config holds token settings
type Config struct {
	SigningKey []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Service issues, verifies, rotates and revokes tokens
type Service struct {
	key        []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	store      RefreshStore
	subjects   SubjectSource
	now        func() time.Time
}

// NewService creates a token service. The HS256 signing key must be at
// least 32 bytes.
func NewService(cfg Config, store RefreshStore, subjects SubjectSource) (*Service, error) {
	if len(cfg.SigningKey) < 32 {
		return nil, ErrWeakSigningKey
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	return &Service{
		key:        cfg.SigningKey,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		store:      store,
		subjects:   subjects,
		now:        time.Now,
	}, nil
}

// IssuePair signs a new access and refresh token for sub bound to sessionID
// and persists the refresh record.
func (s *Service) IssuePair(ctx context.Context, sub Subject, sessionID string) (*Pair, error) {
	now := s.now()
	rec := s.newRecord(sub.PrincipalID, sessionID, now)
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}
	return s.sign(sub, rec, now)
}

// VerifyAccessToken validates an access token without any I/O
func (s *Service) VerifyAccessToken(raw string) (*Claims, error) {
	return s.parse(raw, UseAccess)
}

// ParseRefresh validates signature and expiry of a refresh token without
// consulting its server-side record.
func (s *Service) ParseRefresh(raw string) (*Claims, error) {
	return s.parse(raw, UseRefresh)
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// revoked in the same step; presenting a token that was rotated earlier is
// treated as theft and revokes the whole session.
func (s *Service) Refresh(ctx context.Context, raw string) (*Pair, error) {
	claims, err := s.ParseRefresh(raw)
	if err != nil {
		return nil, err
	}

	rec, err := s.store.Get(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if rec.PrincipalID != claims.Subject || rec.SessionID != claims.SessionID {
		return nil, ErrMalformed
	}

	now := s.now()
	if rec.Revoked() {
		if rec.ReplacedBy != "" && now.Sub(*rec.RevokedAt) > reuseGrace {
			slog.WarnContext(ctx, "refresh token reuse detected, revoking session",
				logger.PrincipalID(rec.PrincipalID), logger.SessionID(rec.SessionID))
			if err := s.store.RevokeSession(ctx, rec.SessionID, now); err != nil {
				return nil, fmt.Errorf("failed to revoke session after reuse: %w", err)
			}
			return nil, ErrReuseDetected
		}
		return nil, ErrRevoked
	}
	if !now.Before(rec.ExpiresAt) {
		return nil, ErrExpired
	}

	sub, err := s.subjects.LoadSubject(ctx, rec.PrincipalID)
	if err != nil {
		return nil, err
	}

	next := s.newRecord(rec.PrincipalID, rec.SessionID, now)
	if err := s.store.Rotate(ctx, rec.ID, next, now); err != nil {
		return nil, err
	}
	return s.sign(sub, next, now)
}

// Revoke revokes a refresh record. Unknown or already revoked ids are not
// an error.
func (s *Service) Revoke(ctx context.Context, refreshTokenID string) error {
	err := s.store.Revoke(ctx, refreshTokenID, s.now())
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (s *Service) newRecord(principalID, sessionID string, now time.Time) *RefreshRecord {
	return &RefreshRecord{
		ID:          id.NewUUIDv7(),
		PrincipalID: principalID,
		SessionID:   sessionID,
		ExpiresAt:   now.Add(s.refreshTTL),
		CreatedAt:   now,
	}
}

func (s *Service) sign(sub Subject, rec *RefreshRecord, now time.Time) (*Pair, error) {
	accessExp := now.Add(s.accessTTL)
	access, err := s.signClaims(&Claims{
		TenantID:  sub.TenantID,
		Admin:     sub.IsAdmin,
		SessionID: rec.SessionID,
		Use:       UseAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.NewOpaque(16),
			Subject:   sub.PrincipalID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
	})
	if err != nil {
		return nil, err
	}

	refresh, err := s.signClaims(&Claims{
		SessionID: rec.SessionID,
		Use:       UseRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        rec.ID,
			Subject:   sub.PrincipalID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(rec.ExpiresAt),
		},
	})
	if err != nil {
		return nil, err
	}

	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
		SessionID:        rec.SessionID,
	}, nil
}

func (s *Service) signClaims(c *Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) parse(raw, use string) (*Claims, error) {
	if raw == "" {
		return nil, ErrMalformed
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, ErrInvalidSignature
	default:
		return nil, ErrMalformed
	}

	if claims.Use != use || claims.Subject == "" || claims.SessionID == "" {
		return nil, ErrMalformed
	}
	if use == UseRefresh && claims.ID == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}
