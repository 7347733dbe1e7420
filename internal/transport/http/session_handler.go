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

	"github.com/go-chi/chi/v5"

	"github.com/holidesk/holidesk/internal/auth"
)

// ListSessions returns the caller's active sessions
// @Summary List sessions
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string][]auth.SessionView
// @Router /auth/sessions [get]
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	views, err := h.auth.ListSessions(ctx, GetPrincipalID(ctx), GetSessionID(ctx))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

// RevokeSession signs one of the caller's devices out
// @Summary Revoke a session
// @Tags Sessions
// @Security BearerAuth
// @Param sessionID path string true "Session ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /auth/sessions/{sessionID} [delete]
func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.auth.RevokeSession(ctx, GetPrincipalID(ctx), chi.URLParam(r, "sessionID")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokeAllSessions signs out every device, by default keeping the current one
// @Summary Revoke all sessions
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param except_current query bool false "Keep the calling session" default(true)
// @Success 200 {object} map[string]int
// @Router /auth/sessions [delete]
func (h *Handler) RevokeAllSessions(w http.ResponseWriter, r *http.Request) {
	exceptCurrent := true
	if v := r.URL.Query().Get("except_current"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, r, &auth.Error{Kind: auth.KindInvalidInput, Message: "except_current must be a boolean"})
			return
		}
		exceptCurrent = b
	}

	ctx := r.Context()
	n, err := h.auth.RevokeAllSessions(ctx, GetPrincipalID(ctx), GetSessionID(ctx), exceptCurrent)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"revoked": n})
}
