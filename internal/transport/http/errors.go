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
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/holidesk/holidesk/internal/auth"
	"github.com/holidesk/holidesk/internal/observability/logger"
	"github.com/holidesk/holidesk/internal/password"
)

var statusByKind = map[auth.Kind]int{
	auth.KindInvalidInput:       http.StatusBadRequest,
	auth.KindInvalidCredentials: http.StatusUnauthorized,
	auth.KindAccountInactive:    http.StatusForbidden,
	auth.KindInvalidCode:        http.StatusUnauthorized,
	auth.KindChallengeExpired:   http.StatusUnauthorized,
	auth.KindForbidden:          http.StatusForbidden,
	auth.KindNotFound:           http.StatusNotFound,
	auth.KindRateLimited:        http.StatusTooManyRequests,
	auth.KindStateMismatch:      http.StatusBadRequest,
	auth.KindProviderError:      http.StatusBadGateway,
	auth.KindEmailNotVerified:   http.StatusForbidden,
	auth.KindLinkRequired:       http.StatusConflict,
	auth.KindServiceUnavailable: http.StatusServiceUnavailable,
	auth.KindNotImplemented:     http.StatusNotImplemented,
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error      auth.Kind            `json:"error"`
	Message    string               `json:"message"`
	Violations []password.Violation `json:"violations,omitempty"`
	RetryAfter int                  `json:"retry_after,omitempty"`
}

// StatusFor returns the HTTP status of an error kind
func StatusFor(kind auth.Kind) int {
	if status, ok := statusByKind[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError writes err as an ErrorResponse. Only the kind and the safe
// message leave the process; the cause is logged for server failures.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var e *auth.Error
	if !errors.As(err, &e) {
		e = auth.ErrServiceUnavailable
	}
	status := StatusFor(e.Kind)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			logger.Error(err),
			logger.ErrorType(string(e.Kind)),
			logger.Path(r.URL.Path),
		)
	}

	body := ErrorResponse{
		Error:      e.Kind,
		Message:    e.SafeMessage(),
		Violations: e.Violations,
	}
	if e.RetryAfter > 0 {
		secs := int(math.Ceil(e.RetryAfter.Seconds()))
		body.RetryAfter = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	respondJSON(w, status, body)
}
