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
)

// Bootstrap creates the initial platform administrator when the bootstrap
// variables are set and no principal with that email exists yet. Platform
// administrators carry no tenant.
func (s *Service) Bootstrap(ctx context.Context, email, pw string) error {
	if email == "" {
		return nil
	}

	_, err := s.store.FindByEmail(ctx, NormalizeEmail(email))
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrPrincipalNotFound) {
		return fmt.Errorf("failed to check for bootstrap admin: %w", err)
	}

	p, err := s.Create(ctx, email, pw, nil, true)
	if err != nil {
		return fmt.Errorf("failed to create bootstrap admin: %w", err)
	}

	slog.InfoContext(ctx, "bootstrapped platform administrator", slog.String("principal_id", p.ID))
	return nil
}
