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

package oauthlink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// ProviderConfig describes one OAuth provider
type ProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	// EmailsURL is consulted when the userinfo response carries no verified
	// email, as with GitHub.
	EmailsURL   string
	RedirectURL string
	Scopes      []string
}

// Google returns the configuration for Google sign-in
func Google(clientID, clientSecret, redirectURL string) ProviderConfig {
	return ProviderConfig{
		Name:         "google",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AuthURL:      endpoints.Google.AuthURL,
		TokenURL:     endpoints.Google.TokenURL,
		UserInfoURL:  "https://openidconnect.googleapis.com/v1/userinfo",
		RedirectURL:  redirectURL,
		Scopes:       []string{"openid", "email"},
	}
}

// GitHub returns the configuration for GitHub sign-in
func GitHub(clientID, clientSecret, redirectURL string) ProviderConfig {
	return ProviderConfig{
		Name:         "github",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AuthURL:      endpoints.GitHub.AuthURL,
		TokenURL:     endpoints.GitHub.TokenURL,
		UserInfoURL:  "https://api.github.com/user",
		EmailsURL:    "https://api.github.com/user/emails",
		RedirectURL:  redirectURL,
		Scopes:       []string{"read:user", "user:email"},
	}
}

type provider struct {
	oauth       *oauth2.Config
	userInfoURL string
	emailsURL   string
}

// HTTPProviderClient implements ProviderClient over the authorization code
// grant followed by a userinfo request.
type HTTPProviderClient struct {
	providers  map[string]*provider
	httpClient *http.Client
}

// NewHTTPProviderClient creates a client for the given providers. Every
// outbound call is bounded by timeout and traced.
func NewHTTPProviderClient(timeout time.Duration, configs ...ProviderConfig) *HTTPProviderClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &HTTPProviderClient{
		providers: make(map[string]*provider, len(configs)),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, cfg := range configs {
		c.providers[cfg.Name] = &provider{
			oauth: &oauth2.Config{
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
				Endpoint: oauth2.Endpoint{
					AuthURL:  cfg.AuthURL,
					TokenURL: cfg.TokenURL,
				},
				RedirectURL: cfg.RedirectURL,
				Scopes:      cfg.Scopes,
			},
			userInfoURL: cfg.UserInfoURL,
			emailsURL:   cfg.EmailsURL,
		}
	}
	return c
}

// Providers returns the configured provider names, sorted
func (c *HTTPProviderClient) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for name := range c.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AuthCodeURL implements ProviderClient
func (c *HTTPProviderClient) AuthCodeURL(name, state string) (string, error) {
	p, ok := c.providers[name]
	if !ok {
		return "", ErrUnknownProvider
	}
	return p.oauth.AuthCodeURL(state), nil
}

// Exchange implements ProviderClient
func (c *HTTPProviderClient) Exchange(ctx context.Context, name, code string) (*ProviderIdentity, error) {
	p, ok := c.providers[name]
	if !ok {
		return nil, ErrUnknownProvider
	}

	tok, err := p.oauth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient), code)
	if err != nil {
		return nil, fmt.Errorf("%w: token exchange: %v", ErrProviderError, err)
	}

	var info map[string]any
	if err := c.getJSON(ctx, tok, p.userInfoURL, &info); err != nil {
		return nil, err
	}

	ident := &ProviderIdentity{
		ProviderUserID: stringField(info, "sub", "id"),
		Email:          stringField(info, "email"),
		EmailVerified:  boolField(info, "email_verified", "verified_email"),
	}

	if (!ident.EmailVerified || ident.Email == "") && p.emailsURL != "" {
		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		if err := c.getJSON(ctx, tok, p.emailsURL, &emails); err != nil {
			return nil, err
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				ident.Email, ident.EmailVerified = e.Email, true
				break
			}
		}
	}
	return ident, nil
}

func (c *HTTPProviderClient) getJSON(ctx context.Context, tok *oauth2.Token, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s returned %d", ErrProviderError, url, resp.StatusCode)
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, 1<<20))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrProviderError, url, err)
	}
	return nil
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func boolField(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch v := m[k].(type) {
		case bool:
			return v
		case string:
			return strings.EqualFold(v, "true")
		}
	}
	return false
}
