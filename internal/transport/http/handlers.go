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

// @title Holidesk Auth API
// @version 1.0.0
// @description Authentication and session management for Holidesk

// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// Package http exposes the authentication orchestrator over JSON/HTTP.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/holidesk/holidesk/internal/auth"
	"github.com/holidesk/holidesk/internal/session"
)

const maxBodyBytes = 64 << 10

// Handler holds HTTP handlers and dependencies
type Handler struct {
	auth   *auth.Orchestrator
	config HandlerConfig
}

// HandlerConfig holds transport settings
type HandlerConfig struct {
	ServiceName string
	// CookieSecure marks the OAuth state cookie Secure; only disable for
	// plain-HTTP local development
	CookieSecure bool
	StateTTL     time.Duration
	// RequestTimeout bounds every request, on top of the per-operation
	// timeout inside the orchestrator
	RequestTimeout time.Duration
}

// NewHandler creates a new HTTP handler
func NewHandler(orch *auth.Orchestrator, cfg HandlerConfig) *Handler {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "holidesk-auth"
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Handler{auth: orch, config: cfg}
}

// NewRouter creates a new HTTP router. gatherer may be nil to omit /metrics.
func NewRouter(h *Handler, rateLimiter *RateLimiter, gatherer prometheus.Gatherer) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if rateLimiter != nil {
		r.Use(RateLimitMiddleware(rateLimiter))
	}
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.config.RequestTimeout))

	r.Get("/health", h.HealthCheck)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/2fa/complete", h.CompleteTwoFactor)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)

		r.Post("/password/validate", h.ValidatePassword)
		r.Get("/password/generate", h.GeneratePassword)

		r.Get("/oauth/{provider}/start", h.StartOAuth)
		r.Get("/oauth/{provider}/callback", h.OAuthCallback)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.BearerAuth)

			r.Get("/sessions", h.ListSessions)
			r.Delete("/sessions", h.RevokeAllSessions)
			r.Delete("/sessions/{sessionID}", h.RevokeSession)

			r.Get("/2fa/status", h.TwoFactorStatus)
			r.Post("/2fa/setup", h.SetupTwoFactor)
			r.Post("/2fa/confirm", h.ConfirmTwoFactor)
			r.Post("/2fa/disable", h.DisableTwoFactor)
			r.Post("/2fa/backup-codes", h.RegenerateBackupCodes)

			r.Post("/password/change", h.ChangePassword)

			r.Get("/oauth/links", h.LinkedProviders)
			r.Post("/oauth/{provider}/link", h.BeginLink)
			r.Post("/oauth/{provider}/link/complete", h.CompleteLink)
		})
	})

	return r
}

// HealthCheck returns the health status
// @Summary Health Check
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": h.config.ServiceName,
	})
}

// decode reads a JSON body into dst. An empty or malformed body is an
// invalid_input error.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return &auth.Error{Kind: auth.KindInvalidInput, Message: "request body is required"}
	}
	return &auth.Error{Kind: auth.KindInvalidInput, Message: "invalid request body"}
}

func deviceOf(r *http.Request) session.Device {
	return session.Device{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
