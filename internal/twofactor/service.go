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

package twofactor

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/holidesk/holidesk/internal/observability/logger"
	"github.com/holidesk/holidesk/internal/ratelimit"
)

const (
	totpPeriod = 30
	totpDigits = otp.DigitsSix
)

// Config holds two-factor settings
type Config struct {
	Issuer      string
	BackupCodes int
	MaxAttempts int
	Window      time.Duration
}

// Service manages the enrollment state machine and code verification
type Service struct {
	store      Store
	principals PrincipalState
	passwords  PasswordVerifier
	limiter    ratelimit.Limiter
	cfg        Config
	now        func() time.Time
}

// NewService creates a two-factor service
func NewService(store Store, principals PrincipalState, passwords PasswordVerifier, limiter ratelimit.Limiter, cfg Config) *Service {
	if cfg.Issuer == "" {
		cfg.Issuer = "Holidesk"
	}
	if cfg.BackupCodes <= 0 {
		cfg.BackupCodes = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	return &Service{
		store:      store,
		principals: principals,
		passwords:  passwords,
		limiter:    limiter,
		cfg:        cfg,
		now:        time.Now,
	}
}

// BeginEnrollment generates a new secret and stores it as pending. Login is
// not gated on a pending enrollment.
func (s *Service) BeginEnrollment(ctx context.Context, principalID, accountName string) (*Provisioning, error) {
	enr, err := s.store.GetEnrollment(ctx, principalID)
	if err != nil && !errors.Is(err, ErrNoEnrollment) {
		return nil, err
	}
	if enr != nil && enr.State == StateEnrolled {
		return nil, ErrAlreadyEnrolled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.Issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		SecretSize:  20,
		Digits:      totpDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp secret: %w", err)
	}

	if err := s.store.SavePending(ctx, principalID, key.Secret(), s.now()); err != nil {
		return nil, err
	}
	return &Provisioning{Secret: key.Secret(), URI: key.URL()}, nil
}

// ConfirmEnrollment activates a pending enrollment with a live code and
// returns freshly generated backup codes. The plaintext codes are never
// stored.
func (s *Service) ConfirmEnrollment(ctx context.Context, principalID, code string) ([]string, error) {
	if err := s.throttle(ctx, principalID); err != nil {
		return nil, err
	}

	enr, err := s.store.GetEnrollment(ctx, principalID)
	if err != nil {
		return nil, err
	}
	switch enr.State {
	case StateEnrolled:
		return nil, ErrAlreadyEnrolled
	case StatePending:
	default:
		return nil, ErrNoEnrollment
	}

	counter, ok, err := matchTOTP(enr.Secret, code, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCode
	}

	codes, hashes, err := newBackupCodes(principalID, s.cfg.BackupCodes)
	if err != nil {
		return nil, err
	}
	if err := s.store.Activate(ctx, principalID, counter, hashes, s.now()); err != nil {
		return nil, err
	}
	if err := s.principals.SetTwoFactorState(ctx, principalID, true); err != nil {
		return nil, fmt.Errorf("failed to flag principal two-factor state: %w", err)
	}
	s.refund(ctx, principalID)
	return codes, nil
}

// VerifyLogin checks a live TOTP code or consumes an unused backup code.
// The rate limiter is consulted before the code is evaluated.
func (s *Service) VerifyLogin(ctx context.Context, principalID, code string) (Method, error) {
	if err := s.throttle(ctx, principalID); err != nil {
		return "", err
	}

	enr, err := s.store.GetEnrollment(ctx, principalID)
	if err != nil {
		return "", err
	}
	if enr.State != StateEnrolled {
		return "", ErrNoEnrollment
	}
	method, err := s.verify(ctx, enr, code, true)
	if err != nil {
		return "", err
	}
	s.refund(ctx, principalID)
	return method, nil
}

// Enrolled reports whether login must be gated on a second factor
func (s *Service) Enrolled(ctx context.Context, principalID string) (bool, error) {
	enr, err := s.store.GetEnrollment(ctx, principalID)
	if errors.Is(err, ErrNoEnrollment) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return enr.State == StateEnrolled, nil
}

// Status returns the enrollment state and remaining backup codes
func (s *Service) Status(ctx context.Context, principalID string) (*Status, error) {
	enr, err := s.store.GetEnrollment(ctx, principalID)
	if errors.Is(err, ErrNoEnrollment) {
		return &Status{State: StateUnenrolled}, nil
	}
	if err != nil {
		return nil, err
	}
	st := &Status{State: enr.State}
	if enr.State == StateEnrolled {
		if st.BackupCodesRemaining, err = s.store.CountBackupCodes(ctx, principalID); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// Disable removes the enrollment after re-proof of possession: the current
// password or a valid two-factor code.
func (s *Service) Disable(ctx context.Context, principalID string, proof Proof) error {
	enr, err := s.store.GetEnrollment(ctx, principalID)
	if err != nil {
		return err
	}

	switch {
	case proof.Password != "":
		if err := s.passwords.VerifyPassword(ctx, principalID, proof.Password); err != nil {
			return ErrProofRequired
		}
	case proof.Code != "" && enr.State == StateEnrolled:
		if err := s.throttle(ctx, principalID); err != nil {
			return err
		}
		if _, err := s.verify(ctx, enr, proof.Code, true); err != nil {
			if errors.Is(err, ErrInvalidCode) {
				return ErrProofRequired
			}
			return err
		}
		s.refund(ctx, principalID)
	default:
		return ErrProofRequired
	}

	if err := s.store.Delete(ctx, principalID); err != nil {
		return err
	}
	if err := s.principals.SetTwoFactorState(ctx, principalID, false); err != nil {
		return fmt.Errorf("failed to clear principal two-factor state: %w", err)
	}
	return nil
}

// RegenerateBackupCodes replaces all backup codes. A live authenticator code
// is required; a backup code cannot mint new backup codes.
func (s *Service) RegenerateBackupCodes(ctx context.Context, principalID, code string) ([]string, error) {
	if err := s.throttle(ctx, principalID); err != nil {
		return nil, err
	}

	enr, err := s.store.GetEnrollment(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if enr.State != StateEnrolled {
		return nil, ErrNoEnrollment
	}
	if !looksLikeTOTP(code) {
		return nil, ErrTOTPCodeRequired
	}
	if _, err := s.verify(ctx, enr, code, false); err != nil {
		return nil, err
	}

	codes, hashes, err := newBackupCodes(principalID, s.cfg.BackupCodes)
	if err != nil {
		return nil, err
	}
	if err := s.store.ReplaceBackupCodes(ctx, principalID, hashes, s.now()); err != nil {
		return nil, err
	}
	s.refund(ctx, principalID)
	return codes, nil
}

// verify accepts a TOTP code for a step not used before, or, when
// allowBackup is set, an unused backup code.
func (s *Service) verify(ctx context.Context, enr *Enrollment, code string, allowBackup bool) (Method, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrInvalidCode
	}

	if looksLikeTOTP(code) {
		counter, ok, err := matchTOTP(enr.Secret, code, s.now())
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrInvalidCode
		}
		advanced, err := s.store.AdvanceCounter(ctx, enr.PrincipalID, counter)
		if err != nil {
			return "", err
		}
		if !advanced {
			slog.WarnContext(ctx, "totp code replay rejected", logger.PrincipalID(enr.PrincipalID))
			return "", ErrInvalidCode
		}
		return MethodTOTP, nil
	}

	if !allowBackup {
		return "", ErrInvalidCode
	}
	canonical := canonicalBackupCode(code)
	if len(canonical) != backupCodeLength {
		return "", ErrInvalidCode
	}
	ok, err := s.store.ConsumeBackupCode(ctx, enr.PrincipalID, hashBackupCode(enr.PrincipalID, canonical), s.now())
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrInvalidCode
	}
	return MethodBackupCode, nil
}

// throttle spends an attempt before any code is evaluated, which bounds
// parallel guessing. Callers refund it once the code is accepted so the
// window counts failures only.
func (s *Service) throttle(ctx context.Context, principalID string) error {
	return ratelimit.Enforce(ctx, s.limiter, "2fa:"+principalID, s.cfg.MaxAttempts, s.cfg.Window)
}

func (s *Service) refund(ctx context.Context, principalID string) {
	if err := ratelimit.Refund(ctx, s.limiter, "2fa:"+principalID); err != nil {
		slog.WarnContext(ctx, "failed to refund two-factor attempt", logger.PrincipalID(principalID), logger.Error(err))
	}
}

func looksLikeTOTP(code string) bool {
	code = strings.TrimSpace(code)
	if len(code) != totpDigits.Length() {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// matchTOTP checks code against the current step and one step either side
// and returns the matching step counter.
func matchTOTP(secret, code string, now time.Time) (int64, bool, error) {
	code = strings.TrimSpace(code)
	current := now.Unix() / totpPeriod
	for _, delta := range []int64{0, -1, 1} {
		counter := current + delta
		want, err := totp.GenerateCodeCustom(secret, time.Unix(counter*totpPeriod, 0), totp.ValidateOpts{
			Period:    totpPeriod,
			Digits:    totpDigits,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			return 0, false, fmt.Errorf("failed to compute totp code: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return counter, true, nil
		}
	}
	return 0, false, nil
}
