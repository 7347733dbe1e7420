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

	"github.com/holidesk/holidesk/internal/session"
)

const sessionColumns = `
	id, principal_id, tenant_id, refresh_token_id, ip_address, user_agent,
	created_at, last_used_at, expires_at, revoked_at
`

// SessionRepository implements session.Store
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create creates a new session
func (r *SessionRepository) Create(ctx context.Context, s *session.Session) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		s.ID, s.PrincipalID, s.TenantID, nullable(s.RefreshTokenID), s.IPAddress, s.UserAgent,
		s.CreatedAt, s.LastUsedAt, s.ExpiresAt, s.RevokedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// ListActive returns the principal's live sessions, most recently used first
func (r *SessionRepository) ListActive(ctx context.Context, principalID string, now time.Time) ([]*session.Session, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE principal_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY last_used_at DESC
	`, principalID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	out := []*session.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Revoke revokes a session and its refresh tokens. The row lock makes
// concurrent revokes agree on which of them changed the session.
func (r *SessionRepository) Revoke(ctx context.Context, sessionID string, now time.Time) (bool, error) {
	var active bool
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT revoked_at IS NULL FROM sessions WHERE id = $1 FOR UPDATE
		`, sessionID).Scan(&active)
		if errors.Is(err, pgx.ErrNoRows) {
			return session.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock session: %w", err)
		}
		_, err = revokeSession(ctx, tx, sessionID, now)
		return err
	})
	if err != nil {
		return false, err
	}
	return active, nil
}

// RevokeAll revokes every unrevoked session of the principal except one
func (r *SessionRepository) RevokeAll(ctx context.Context, principalID, exceptSessionID string, now time.Time) (int, error) {
	var n int
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE sessions SET revoked_at = $3
			WHERE principal_id = $1 AND id <> $2 AND revoked_at IS NULL
			RETURNING id
		`, principalID, exceptSessionID, now)
		if err != nil {
			return fmt.Errorf("failed to revoke sessions: %w", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("failed to revoke sessions: %w", err)
		}
		n = len(ids)
		if n == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE refresh_tokens SET revoked_at = $2
			WHERE session_id = ANY($1) AND revoked_at IS NULL
		`, ids, now)
		if err != nil {
			return fmt.Errorf("failed to revoke refresh tokens: %w", err)
		}
		return nil
	})
	return n, err
}

// Purge deletes sessions that ended before the cutoff. Their refresh tokens
// go with them through the foreign key cascade.
func (r *SessionRepository) Purge(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM sessions
			WHERE revoked_at < $1 OR expires_at < $1
		`, before)
		if err != nil {
			return fmt.Errorf("failed to purge sessions: %w", err)
		}
		n = tag.RowsAffected()
		if _, err := tx.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, before); err != nil {
			return fmt.Errorf("failed to purge refresh tokens: %w", err)
		}
		return nil
	})
	return n, err
}

// revokeSession marks the session and its tokens revoked inside tx. The
// first revocation time is preserved.
func revokeSession(ctx context.Context, tx pgx.Tx, sessionID string, now time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE sessions SET revoked_at = COALESCE(revoked_at, $2)
		WHERE id = $1
	`, sessionID, now)
	if err != nil {
		return false, fmt.Errorf("failed to revoke session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	_, err = tx.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2
		WHERE session_id = $1 AND revoked_at IS NULL
	`, sessionID, now)
	if err != nil {
		return false, fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	return true, nil
}

func scanSession(row pgx.Row) (*session.Session, error) {
	var (
		s         session.Session
		refreshID *string
	)
	err := row.Scan(
		&s.ID, &s.PrincipalID, &s.TenantID, &refreshID, &s.IPAddress, &s.UserAgent,
		&s.CreatedAt, &s.LastUsedAt, &s.ExpiresAt, &s.RevokedAt,
	)
	if err != nil {
		return nil, err
	}
	if refreshID != nil {
		s.RefreshTokenID = *refreshID
	}
	return &s, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
