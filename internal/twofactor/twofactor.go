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

// Package twofactor implements TOTP enrollment, verification with replay
// protection, and single-use backup codes.
package twofactor

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrNoEnrollment     = errors.New("two-factor authentication is not enrolled")
	ErrAlreadyEnrolled  = errors.New("two-factor authentication is already enabled")
	ErrInvalidCode      = errors.New("invalid two-factor code")
	ErrProofRequired    = errors.New("password or two-factor code required")
	ErrTOTPCodeRequired = errors.New("a current authenticator code is required")
)

// State of a principal's enrollment
type State string

const (
	StateUnenrolled State = "unenrolled"
	StatePending    State = "pending"
	StateEnrolled   State = "enrolled"
)

// Method identifies which factor satisfied a verification
type Method string

const (
	MethodTOTP       Method = "totp"
	MethodBackupCode Method = "backup_code"
)

// Enrollment is the stored TOTP state of a principal. LastCounter is the
// highest time step accepted so far; codes for earlier or equal steps are
// rejected as replays.
type Enrollment struct {
	PrincipalID string
	Secret      string
	State       State
	LastCounter int64
	EnabledAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Provisioning is returned when enrollment begins
type Provisioning struct {
	Secret string `json:"secret"`
	URI    string `json:"otpauth_uri"`
}

// Status summarises a principal's two-factor state
type Status struct {
	State                State `json:"state"`
	BackupCodesRemaining int   `json:"backup_codes_remaining"`
}

// Proof is a re-authentication for sensitive changes. One of the fields
// must be set.
type Proof struct {
	Password string
	Code     string
}

// Store persists enrollments and backup code hashes.
type Store interface {
	// GetEnrollment returns ErrNoEnrollment when the principal never started one
	GetEnrollment(ctx context.Context, principalID string) (*Enrollment, error)

	// SavePending creates or replaces a pending enrollment; ErrAlreadyEnrolled
	// when an active one exists
	SavePending(ctx context.Context, principalID, secret string, now time.Time) error

	// Activate moves a pending enrollment to enrolled and replaces the backup
	// codes; ErrNoEnrollment when nothing is pending
	Activate(ctx context.Context, principalID string, counter int64, codeHashes []string, now time.Time) error

	// AdvanceCounter records counter if it is greater than the stored one
	AdvanceCounter(ctx context.Context, principalID string, counter int64) (bool, error)

	// ConsumeBackupCode marks an unused code used; false when no unused code matched
	ConsumeBackupCode(ctx context.Context, principalID, codeHash string, now time.Time) (bool, error)

	ReplaceBackupCodes(ctx context.Context, principalID string, codeHashes []string, now time.Time) error
	CountBackupCodes(ctx context.Context, principalID string) (int, error)

	// Delete removes the enrollment and all backup codes
	Delete(ctx context.Context, principalID string) error
}

// PrincipalState mirrors the enrollment onto the principal record
type PrincipalState interface {
	SetTwoFactorState(ctx context.Context, principalID string, enabled bool) error
}

// PasswordVerifier checks a principal's current password
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, principalID, password string) error
}
