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

	"github.com/holidesk/holidesk/internal/token"
)

// RefreshTokenRepository implements token.RefreshStore
type RefreshTokenRepository struct {
	db *DB
}

// NewRefreshTokenRepository creates a new refresh token repository
func NewRefreshTokenRepository(db *DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create stores rec and makes it the session's current token
func (r *RefreshTokenRepository) Create(ctx context.Context, rec *token.RefreshRecord) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockLiveSession(ctx, tx, rec.SessionID); err != nil {
			return err
		}
		if err := insertRefresh(ctx, tx, rec); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE sessions SET refresh_token_id = $2 WHERE id = $1`, rec.SessionID, rec.ID)
		if err != nil {
			return fmt.Errorf("failed to bind refresh token: %w", err)
		}
		return nil
	})
}

// Get retrieves a refresh record by ID
func (r *RefreshTokenRepository) Get(ctx context.Context, id string) (*token.RefreshRecord, error) {
	var (
		rec        token.RefreshRecord
		replacedBy *string
	)
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, principal_id, session_id, expires_at, created_at, revoked_at, replaced_by
		FROM refresh_tokens
		WHERE id = $1
	`, id).Scan(
		&rec.ID, &rec.PrincipalID, &rec.SessionID, &rec.ExpiresAt, &rec.CreatedAt, &rec.RevokedAt, &replacedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, token.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	if replacedBy != nil {
		rec.ReplacedBy = *replacedBy
	}
	return &rec, nil
}

// Rotate swaps oldID for next. The session row lock serializes concurrent
// rotations of the same session and the conditional update lets exactly
// one of them revoke oldID.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldID string, next *token.RefreshRecord, now time.Time) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		var sessionID string
		err := tx.QueryRow(ctx, `SELECT session_id FROM refresh_tokens WHERE id = $1`, oldID).Scan(&sessionID)
		if errors.Is(err, pgx.ErrNoRows) {
			return token.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get refresh token: %w", err)
		}

		if err := lockLiveSession(ctx, tx, sessionID); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE refresh_tokens SET revoked_at = $2, replaced_by = $3
			WHERE id = $1 AND revoked_at IS NULL
		`, oldID, now, next.ID)
		if err != nil {
			return fmt.Errorf("failed to revoke refresh token: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return token.ErrRevoked
		}

		if err := insertRefresh(ctx, tx, next); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE sessions
			SET refresh_token_id = $2, last_used_at = $3, expires_at = $4
			WHERE id = $1
		`, sessionID, next.ID, now, next.ExpiresAt)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		return nil
	})
}

// Revoke revokes one refresh record
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id string, now time.Time) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = COALESCE(revoked_at, $2)
		WHERE id = $1
	`, id, now)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return token.ErrNotFound
	}
	return nil
}

// RevokeSession revokes the session and all of its refresh records. A
// missing session is not an error.
func (r *RefreshTokenRepository) RevokeSession(ctx context.Context, sessionID string, now time.Time) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		_, err := revokeSession(ctx, tx, sessionID, now)
		return err
	})
}

func lockLiveSession(ctx context.Context, tx pgx.Tx, sessionID string) error {
	var revokedAt *time.Time
	err := tx.QueryRow(ctx, `SELECT revoked_at FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&revokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return token.ErrSessionRevoked
	}
	if err != nil {
		return fmt.Errorf("failed to lock session: %w", err)
	}
	if revokedAt != nil {
		return token.ErrSessionRevoked
	}
	return nil
}

func insertRefresh(ctx context.Context, tx pgx.Tx, rec *token.RefreshRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO refresh_tokens (id, principal_id, session_id, expires_at, created_at, revoked_at, replaced_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.PrincipalID, rec.SessionID, rec.ExpiresAt, rec.CreatedAt, rec.RevokedAt, nullable(rec.ReplacedBy))
	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}
