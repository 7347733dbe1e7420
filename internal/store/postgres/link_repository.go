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

	"github.com/holidesk/holidesk/internal/identity"
	"github.com/holidesk/holidesk/internal/oauthlink"
)

// LinkRepository implements oauthlink.LinkStore
type LinkRepository struct {
	db *DB
}

// NewLinkRepository creates a new provider link repository
func NewLinkRepository(db *DB) *LinkRepository {
	return &LinkRepository{db: db}
}

// FindLink retrieves the link for a provider account
func (r *LinkRepository) FindLink(ctx context.Context, provider, providerUserID string) (*oauthlink.Link, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT provider, provider_user_id, principal_id, email, created_at
		FROM oauth_links
		WHERE provider = $1 AND provider_user_id = $2
	`, provider, providerUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get oauth link: %w", err)
	}
	link, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByPos[oauthlink.Link])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oauthlink.ErrLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get oauth link: %w", err)
	}
	return link, nil
}

// CreateLink stores a new link
func (r *LinkRepository) CreateLink(ctx context.Context, link *oauthlink.Link) error {
	return insertLink(ctx, r.db.pool, link)
}

// CreatePrincipalWithLink inserts a provider-provisioned principal and its
// link in one transaction
func (r *LinkRepository) CreatePrincipalWithLink(ctx context.Context, p *identity.Principal, link *oauthlink.Link) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertPrincipal(ctx, tx, p); err != nil {
			return err
		}
		return insertLink(ctx, tx, link)
	})
}

func insertLink(ctx context.Context, q execer, link *oauthlink.Link) error {
	_, err := q.Exec(ctx, `
		INSERT INTO oauth_links (provider, provider_user_id, principal_id, email, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, link.Provider, link.ProviderUserID, link.PrincipalID, link.Email, link.CreatedAt)
	if isUniqueViolation(err) {
		return oauthlink.ErrLinkExists
	}
	if err != nil {
		return fmt.Errorf("failed to create oauth link: %w", err)
	}
	return nil
}

// ListLinks returns the principal's links, oldest first
func (r *LinkRepository) ListLinks(ctx context.Context, principalID string) ([]*oauthlink.Link, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT provider, provider_user_id, principal_id, email, created_at
		FROM oauth_links
		WHERE principal_id = $1
		ORDER BY created_at
	`, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list oauth links: %w", err)
	}
	links, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByPos[oauthlink.Link])
	if err != nil {
		return nil, fmt.Errorf("failed to list oauth links: %w", err)
	}
	return links, nil
}
