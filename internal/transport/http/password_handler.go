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
	"strconv"

	"github.com/holidesk/holidesk/internal/auth"
)

// ValidatePasswordRequest carries a candidate password
type ValidatePasswordRequest struct {
	Password string `json:"password"`
}

// ChangePasswordRequest represents password change data
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ValidatePassword checks a candidate against the policy
// @Summary Validate a password
// @Tags Password
// @Accept json
// @Produce json
// @Param request body ValidatePasswordRequest true "Candidate"
// @Success 200 {object} auth.PasswordCheck
// @Router /auth/password/validate [post]
func (h *Handler) ValidatePassword(w http.ResponseWriter, r *http.Request) {
	var req ValidatePasswordRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.auth.ValidatePassword(req.Password))
}

// GeneratePassword returns a random password that passes the policy
// @Summary Generate a password
// @Tags Password
// @Produce json
// @Param length query int false "Length; 0 or absent for the default"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Router /auth/password/generate [get]
func (h *Handler) GeneratePassword(w http.ResponseWriter, r *http.Request) {
	length := 0
	if v := r.URL.Query().Get("length"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, r, &auth.Error{Kind: auth.KindInvalidInput, Message: "length must be an integer"})
			return
		}
		length = n
	}

	pw, err := h.auth.GeneratePassword(length)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"password": pw})
}

// ChangePassword changes the caller's password and signs out other devices
// @Summary Change password
// @Tags Password
// @Accept json
// @Security BearerAuth
// @Param request body ChangePasswordRequest true "Password change data"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/password/change [post]
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	ctx := r.Context()
	err := h.auth.ChangePassword(ctx, GetPrincipalID(ctx), GetSessionID(ctx), req.CurrentPassword, req.NewPassword)
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
