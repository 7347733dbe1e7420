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
	"net/http"

	"github.com/holidesk/holidesk/internal/auth"
)

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email" example:"guest@example.com"`
	Password string `json:"password" example:"correct horse battery staple"`
	// TenantID optionally pins the tenant the caller expects to sign in to
	TenantID string `json:"tenant_id,omitempty"`
}

// CompleteTwoFactorRequest answers an mfa_required login
type CompleteTwoFactorRequest struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
}

// RefreshRequest carries a refresh token
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login handles password sign-in
// @Summary Login
// @Description Verify credentials; returns tokens or a two-factor challenge
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} auth.LoginResult
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	res, err := h.auth.Login(r.Context(), auth.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
		TenantID: req.TenantID,
		Device:   deviceOf(r),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// CompleteTwoFactor finishes a challenged sign-in
// @Summary Complete two-factor sign-in
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body CompleteTwoFactorRequest true "Challenge and code"
// @Success 200 {object} auth.LoginResult
// @Failure 401 {object} ErrorResponse
// @Router /auth/2fa/complete [post]
func (h *Handler) CompleteTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req CompleteTwoFactorRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	res, err := h.auth.CompleteTwoFactor(r.Context(), req.ChallengeID, req.Code, deviceOf(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// Refresh rotates a refresh token
// @Summary Refresh tokens
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh token"
// @Success 200 {object} token.Pair
// @Failure 401 {object} ErrorResponse
// @Router /auth/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	pair, err := h.auth.Refresh(r.Context(), req.RefreshToken, deviceOf(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, pair)
}

// Logout ends the session bound to a refresh token
// @Summary Logout
// @Tags Auth
// @Accept json
// @Param request body RefreshRequest true "Refresh token"
// @Success 204
// @Failure 401 {object} ErrorResponse
// @Router /auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	if err := h.auth.Logout(r.Context(), req.RefreshToken, deviceOf(r)); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
