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
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/holidesk/holidesk/internal/auth"
	"github.com/holidesk/holidesk/internal/oauthlink"
)

const (
	stateCookieName = "holidesk_oauth_state"
	stateCookiePath = "/api/v1/auth/oauth"
)

// AuthorizationResponse is returned instead of a redirect to API clients
type AuthorizationResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}

// LinkRequest completes an explicit provider link
type LinkRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// LinkView is a provider account linked to the caller
type LinkView struct {
	Provider       string    `json:"provider"`
	ProviderUserID string    `json:"provider_user_id"`
	Email          string    `json:"email"`
	CreatedAt      time.Time `json:"created_at"`
}

func linkView(l *oauthlink.Link) LinkView {
	return LinkView{
		Provider:       l.Provider,
		ProviderUserID: l.ProviderUserID,
		Email:          l.Email,
		CreatedAt:      l.CreatedAt,
	}
}

// StartOAuth redirects the browser to the provider's consent page. The
// issued state is also bound to the browser with a short-lived cookie.
// @Summary Start provider sign-in
// @Tags OAuth
// @Param provider path string true "google or github"
// @Param tenant query string false "Tenant hint for auto-provisioned principals"
// @Success 302
// @Success 200 {object} AuthorizationResponse
// @Router /auth/oauth/{provider}/start [get]
func (h *Handler) StartOAuth(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	redirect, err := h.auth.StartOAuth(r.Context(), provider, r.URL.Query().Get("tenant"), deviceOf(r))
	if err != nil {
		respondError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    redirect.State,
		Path:     stateCookiePath,
		MaxAge:   int(h.config.StateTTL.Seconds()),
		Secure:   h.config.CookieSecure,
		HttpOnly: true,
		// Lax lets the cookie ride along on the provider's top-level redirect back
		SameSite: http.SameSiteLaxMode,
	})

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		respondJSON(w, http.StatusOK, AuthorizationResponse{AuthorizationURL: redirect.URL, State: redirect.State})
		return
	}
	http.Redirect(w, r, redirect.URL, http.StatusFound)
}

// OAuthCallback completes provider sign-in
// @Summary Provider sign-in callback
// @Tags OAuth
// @Produce json
// @Param provider path string true "google or github"
// @Param code query string true "Authorization code"
// @Param state query string true "State issued by start"
// @Success 200 {object} auth.LoginResult
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /auth/oauth/{provider}/callback [get]
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	q := r.URL.Query()

	cookieState := ""
	if c, err := r.Cookie(stateCookieName); err == nil {
		cookieState = c.Value
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     stateCookiePath,
		MaxAge:   -1,
		Secure:   h.config.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	res, err := h.auth.OAuthCallback(r.Context(), auth.OAuthCallbackRequest{
		Provider:      provider,
		Code:          q.Get("code"),
		State:         q.Get("state"),
		BrowserState:  cookieState,
		ProviderError: q.Get("error"),
		Device:        deviceOf(r),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// LinkedProviders lists the caller's provider links
// @Summary List linked providers
// @Tags OAuth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string][]LinkView
// @Router /auth/oauth/links [get]
func (h *Handler) LinkedProviders(w http.ResponseWriter, r *http.Request) {
	links, err := h.auth.LinkedProviders(r.Context(), GetPrincipalID(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	views := make([]LinkView, 0, len(links))
	for _, l := range links {
		views = append(views, linkView(l))
	}
	respondJSON(w, http.StatusOK, map[string]any{"links": views})
}

// BeginLink issues an authorization URL for linking a provider account
// @Summary Start linking a provider
// @Tags OAuth
// @Produce json
// @Security BearerAuth
// @Param provider path string true "google or github"
// @Success 200 {object} AuthorizationResponse
// @Router /auth/oauth/{provider}/link [post]
func (h *Handler) BeginLink(w http.ResponseWriter, r *http.Request) {
	redirect, err := h.auth.BeginLink(r.Context(), GetPrincipalID(r.Context()), chi.URLParam(r, "provider"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, AuthorizationResponse{AuthorizationURL: redirect.URL, State: redirect.State})
}

// CompleteLink binds the provider account to the caller
// @Summary Complete linking a provider
// @Tags OAuth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param provider path string true "google or github"
// @Param request body LinkRequest true "Code and state"
// @Success 201 {object} LinkView
// @Failure 409 {object} ErrorResponse
// @Router /auth/oauth/{provider}/link/complete [post]
func (h *Handler) CompleteLink(w http.ResponseWriter, r *http.Request) {
	var req LinkRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	link, err := h.auth.LinkProvider(r.Context(), GetPrincipalID(r.Context()), chi.URLParam(r, "provider"), req.Code, req.State)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, linkView(link))
}
