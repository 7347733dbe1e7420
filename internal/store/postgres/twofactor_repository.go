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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/holidesk/holidesk/internal/twofactor"
)

// TwoFactorRepository implements twofactor.Store
type TwoFactorRepository struct {
	db *DB
}

// NewTwoFactorRepository creates a new two-factor repository
func NewTwoFactorRepository(db *DB) *TwoFactorRepository {
	return &TwoFactorRepository{db: db}
}

// GetEnrollment retrieves the principal's enrollment
func (r *TwoFactorRepository) GetEnrollment(ctx context.Context, principalID string) (*twofactor.Enrollment, error) {
	var (
		e     twofactor.Enrollment
		state string
	)
	err := r.db.pool.QueryRow(ctx, `
		SELECT principal_id, secret, state, last_counter, enabled_at, created_at, updated_at
		FROM two_factor_enrollments
		WHERE principal_id = $1
	`, principalID).Scan(&e.PrincipalID, &e.Secret, &state, &e.LastCounter, &e.EnabledAt, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, twofactor.ErrNoEnrollment
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	e.State = twofactor.State(state)
	return &e, nil
}

// SavePending starts or restarts an enrollment. The upsert only overwrites
// a pending row, so an active enrollment is never replaced.
func (r *TwoFactorRepository) SavePending(ctx context.Context, principalID, secret string, now time.Time) error {
	tag, err := r.db.pool.Exec(ctx, `
		INSERT INTO two_factor_enrollments (principal_id, secret, state, last_counter, created_at, updated_at)
		VALUES ($1, $2, 'pending', 0, $3, $3)
		ON CONFLICT (principal_id) DO UPDATE
		SET secret = EXCLUDED.secret, last_counter = 0, enabled_at = NULL,
		    created_at = EXCLUDED.created_at, updated_at = EXCLUDED.updated_at
		WHERE two_factor_enrollments.state = 'pending'
	`, principalID, secret, now)
	if err != nil {
		return fmt.Errorf("failed to save enrollment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return twofactor.ErrAlreadyEnrolled
	}
	return nil
}

// Activate enables a pending enrollment and installs its backup codes
func (r *TwoFactorRepository) Activate(ctx context.Context, principalID string, counter int64, codeHashes []string, now time.Time) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE two_factor_enrollments
			SET state = 'enrolled', last_counter = $2, enabled_at = $3, updated_at = $3
			WHERE principal_id = $1 AND state = 'pending'
		`, principalID, counter, now)
		if err != nil {
			return fmt.Errorf("failed to activate enrollment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return twofactor.ErrNoEnrollment
		}
		return replaceBackupCodes(ctx, tx, principalID, codeHashes, now)
	})
}

// AdvanceCounter records the accepted time step if it moves forward
func (r *TwoFactorRepository) AdvanceCounter(ctx context.Context, principalID string, counter int64) (bool, error) {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE two_factor_enrollments
		SET last_counter = $2, updated_at = NOW()
		WHERE principal_id = $1 AND last_counter < $2
	`, principalID, counter)
	if err != nil {
		return false, fmt.Errorf("failed to advance counter: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ConsumeBackupCode marks a matching unused code as used
func (r *TwoFactorRepository) ConsumeBackupCode(ctx context.Context, principalID, codeHash string, now time.Time) (bool, error) {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE backup_codes SET used_at = $3
		WHERE principal_id = $1 AND code_hash = $2 AND used_at IS NULL
	`, principalID, codeHash, now)
	if err != nil {
		return false, fmt.Errorf("failed to consume backup code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReplaceBackupCodes discards every existing code for a new set
func (r *TwoFactorRepository) ReplaceBackupCodes(ctx context.Context, principalID string, codeHashes []string, now time.Time) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		return replaceBackupCodes(ctx, tx, principalID, codeHashes, now)
	})
}

// CountBackupCodes returns the number of unused codes
func (r *TwoFactorRepository) CountBackupCodes(ctx context.Context, principalID string) (int, error) {
	var n int
	err := r.db.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM backup_codes WHERE principal_id = $1 AND used_at IS NULL
	`, principalID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count backup codes: %w", err)
	}
	return n, nil
}

// Delete removes the enrollment and its backup codes
func (r *TwoFactorRepository) Delete(ctx context.Context, principalID string) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE principal_id = $1`, principalID); err != nil {
			return fmt.Errorf("failed to delete backup codes: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM two_factor_enrollments WHERE principal_id = $1`, principalID); err != nil {
			return fmt.Errorf("failed to delete enrollment: %w", err)
		}
		return nil
	})
}

func replaceBackupCodes(ctx context.Context, tx pgx.Tx, principalID string, codeHashes []string, now time.Time) error {
	if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE principal_id = $1`, principalID); err != nil {
		return fmt.Errorf("failed to delete backup codes: %w", err)
	}
	rows := make([][]any, 0, len(codeHashes))
	for _, h := range codeHashes {
		rows = append(rows, []any{principalID, h, now})
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"backup_codes"},
		[]string{"principal_id", "code_hash", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to insert backup codes: %w", err)
	}
	return nil
}
