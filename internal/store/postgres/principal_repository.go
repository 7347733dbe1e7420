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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/holidesk/holidesk/internal/identity"
)

const principalColumns = `
	id, email, tenant_id, is_admin, is_active, password_hash,
	two_factor_enabled, created_at, updated_at
`

// PrincipalRepository implements identity.Store
type PrincipalRepository struct {
	db *DB
}

// NewPrincipalRepository creates a new principal repository
func NewPrincipalRepository(db *DB) *PrincipalRepository {
	return &PrincipalRepository{db: db}
}

// Create creates a new principal
func (r *PrincipalRepository) Create(ctx context.Context, p *identity.Principal) error {
	return insertPrincipal(ctx, r.db.pool, p)
}

// execer is satisfied by both the pool and a transaction
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertPrincipal(ctx context.Context, q execer, p *identity.Principal) error {
	_, err := q.Exec(ctx, `
		INSERT INTO principals (`+principalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		p.ID, p.Email, p.TenantID, p.IsAdmin, p.IsActive, p.PasswordHash,
		p.TwoFactorEnabled, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return identity.ErrPrincipalExists
	}
	if err != nil {
		return fmt.Errorf("failed to create principal: %w", err)
	}
	return nil
}

// FindByEmail retrieves a principal by normalized email
func (r *PrincipalRepository) FindByEmail(ctx context.Context, email string) (*identity.Principal, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+principalColumns+` FROM principals WHERE email = $1`, email)
	return scanPrincipal(row)
}

// FindByID retrieves a principal by ID
func (r *PrincipalRepository) FindByID(ctx context.Context, id string) (*identity.Principal, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+principalColumns+` FROM principals WHERE id = $1`, id)
	return scanPrincipal(row)
}

// UpdatePasswordHash replaces the stored hash
func (r *PrincipalRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return r.update(ctx, `UPDATE principals SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
}

// SetActive activates or deactivates a principal
func (r *PrincipalRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.update(ctx, `UPDATE principals SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
}

// SetTwoFactorState mirrors the enrollment state onto the principal
func (r *PrincipalRepository) SetTwoFactorState(ctx context.Context, id string, enabled bool) error {
	return r.update(ctx, `UPDATE principals SET two_factor_enabled = $2, updated_at = NOW() WHERE id = $1`, id, enabled)
}

func (r *PrincipalRepository) update(ctx context.Context, query, id string, value any) error {
	tag, err := r.db.pool.Exec(ctx, query, id, value)
	if err != nil {
		return fmt.Errorf("failed to update principal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrPrincipalNotFound
	}
	return nil
}

func scanPrincipal(row pgx.Row) (*identity.Principal, error) {
	var p identity.Principal
	err := row.Scan(
		&p.ID, &p.Email, &p.TenantID, &p.IsAdmin, &p.IsActive, &p.PasswordHash,
		&p.TwoFactorEnabled, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, identity.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	return &p, nil
}

// HistoryRepository implements identity.HistoryStore
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository creates a new password history repository
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append records hash and trims the history to keep entries
func (r *HistoryRepository) Append(ctx context.Context, principalID, hash string, keep int) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO password_history (principal_id, password_hash) VALUES ($1, $2)
		`, principalID, hash); err != nil {
			return fmt.Errorf("failed to append password history: %w", err)
		}
		_, err := tx.Exec(ctx, `
			DELETE FROM password_history
			WHERE principal_id = $1 AND id NOT IN (
				SELECT id FROM password_history
				WHERE principal_id = $1
				ORDER BY id DESC
				LIMIT $2
			)
		`, principalID, keep)
		if err != nil {
			return fmt.Errorf("failed to trim password history: %w", err)
		}
		return nil
	})
}

// Recent returns up to n hashes, newest first
func (r *HistoryRepository) Recent(ctx context.Context, principalID string, n int) ([]string, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT password_hash FROM password_history
		WHERE principal_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, principalID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list password history: %w", err)
	}
	hashes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan password history: %w", err)
	}
	return hashes, nil
}
