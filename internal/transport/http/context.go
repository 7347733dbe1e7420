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

package http

import (
	"context"

	"github.com/holidesk/holidesk/internal/token"
)

type contextKey string

const claimsKey contextKey = "claims"

func withClaims(ctx context.Context, c *token.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFrom returns the verified access token claims of the request
func ClaimsFrom(ctx context.Context) *token.Claims {
	if c, ok := ctx.Value(claimsKey).(*token.Claims); ok {
		return c
	}
	return nil
}

// GetPrincipalID returns the authenticated principal or ""
func GetPrincipalID(ctx context.Context) string {
	if c := ClaimsFrom(ctx); c != nil {
		return c.PrincipalID()
	}
	return ""
}

// GetSessionID returns the session the access token belongs to or ""
func GetSessionID(ctx context.Context) string {
	if c := ClaimsFrom(ctx); c != nil {
		return c.SessionID
	}
	return ""
}
