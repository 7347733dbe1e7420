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

	"github.com/holidesk/holidesk/internal/twofactor"
)

// CodeRequest carries an authenticator or backup code
type CodeRequest struct {
	Code string `json:"code"`
}

// DisableTwoFactorRequest must carry one proof of the principal
type DisableTwoFactorRequest struct {
	Password string `json:"password,omitempty"`
	Code     string `json:"code,omitempty"`
}

// BackupCodesResponse is shown to the principal exactly once
type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// TwoFactorStatus reports the enrollment state
// @Summary Two-factor status
// @Tags TwoFactor
// @Produce json
// @Security BearerAuth
// @Success 200 {object} twofactor.Status
// @Router /auth/2fa/status [get]
func (h *Handler) TwoFactorStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.auth.TwoFactorStatus(r.Context(), GetPrincipalID(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// SetupTwoFactor starts enrollment and returns the provisioning secret
// @Summary Start two-factor enrollment
// @Tags TwoFactor
// @Produce json
// @Security BearerAuth
// @Success 200 {object} twofactor.Provisioning
// @Failure 403 {object} ErrorResponse
// @Router /auth/2fa/setup [post]
func (h *Handler) SetupTwoFactor(w http.ResponseWriter, r *http.Request) {
	prov, err := h.auth.SetupTwoFactor(r.Context(), GetPrincipalID(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, prov)
}

// ConfirmTwoFactor activates enrollment with a first valid code
// @Summary Confirm two-factor enrollment
// @Tags TwoFactor
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CodeRequest true "Authenticator code"
// @Success 200 {object} BackupCodesResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/2fa/confirm [post]
func (h *Handler) ConfirmTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	codes, err := h.auth.ConfirmTwoFactor(r.Context(), GetPrincipalID(r.Context()), req.Code)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, BackupCodesResponse{BackupCodes: codes})
}

// DisableTwoFactor removes the second factor
// @Summary Disable two-factor authentication
// @Tags TwoFactor
// @Accept json
// @Security BearerAuth
// @Param request body DisableTwoFactorRequest true "Password or code"
// @Success 204
// @Failure 401 {object} ErrorResponse
// @Router /auth/2fa/disable [post]
func (h *Handler) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req DisableTwoFactorRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	proof := twofactor.Proof{Password: req.Password, Code: req.Code}
	if err := h.auth.DisableTwoFactor(r.Context(), GetPrincipalID(r.Context()), proof); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegenerateBackupCodes replaces all backup codes
// @Summary Regenerate backup codes
// @Tags TwoFactor
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CodeRequest true "Current authenticator code"
// @Success 200 {object} BackupCodesResponse
// @Router /auth/2fa/backup-codes [post]
func (h *Handler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	codes, err := h.auth.RegenerateBackupCodes(r.Context(), GetPrincipalID(r.Context()), req.Code)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, BackupCodesResponse{BackupCodes: codes})
}
