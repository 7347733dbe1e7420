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

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/holidesk/holidesk/internal/audit"
	"github.com/holidesk/holidesk/internal/auth"
	"github.com/holidesk/holidesk/internal/config"
	"github.com/holidesk/holidesk/internal/identity"
	"github.com/holidesk/holidesk/internal/oauthlink"
	"github.com/holidesk/holidesk/internal/observability/metrics"
	"github.com/holidesk/holidesk/internal/password"
	"github.com/holidesk/holidesk/internal/ratelimit"
	"github.com/holidesk/holidesk/internal/session"
	"github.com/holidesk/holidesk/internal/store/memory"
	"github.com/holidesk/holidesk/internal/store/postgres"
	"github.com/holidesk/holidesk/internal/store/redisstore"
	"github.com/holidesk/holidesk/internal/token"
	"github.com/holidesk/holidesk/internal/twofactor"
)

// stores groups the persistence backends selected by STORE_DRIVER
type stores struct {
	principals identity.Store
	history    identity.HistoryStore
	sessions   session.Store
	refresh    token.RefreshStore
	twoFactor  twofactor.Store
	links      oauthlink.LinkStore
	close      func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Store.Driver == "memory" {
		slog.WarnContext(ctx, "using in-memory store; all state is lost on restart")
		db := memory.New()
		return &stores{
			principals: db.Principals(),
			history:    db.PasswordHistory(),
			sessions:   db.Sessions(),
			refresh:    db.RefreshTokens(),
			twoFactor:  db.TwoFactor(),
			links:      db.Links(),
			close:      func() {},
		}, nil
	}

	db, err := postgres.New(ctx, databaseConfig(cfg))
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "connected to database")
	return &stores{
		principals: postgres.NewPrincipalRepository(db),
		history:    postgres.NewHistoryRepository(db),
		sessions:   postgres.NewSessionRepository(db),
		refresh:    postgres.NewRefreshTokenRepository(db),
		twoFactor:  postgres.NewTwoFactorRepository(db),
		links:      postgres.NewLinkRepository(db),
		close:      db.Close,
	}, nil
}

func databaseConfig(cfg *config.Config) postgres.Config {
	return postgres.Config{
		URL:          cfg.Database.URL,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}
}

func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
	}
	return client, nil
}

func providerConfigs(cfg *config.Config) []oauthlink.ProviderConfig {
	var out []oauthlink.ProviderConfig
	if g := cfg.OAuth.Google; g.Enabled() {
		out = append(out, oauthlink.Google(g.ClientID, g.ClientSecret, g.RedirectURL))
	}
	if gh := cfg.OAuth.GitHub; gh.Enabled() {
		out = append(out, oauthlink.GitHub(gh.ClientID, gh.ClientSecret, gh.RedirectURL))
	}
	return out
}

// application is the fully wired service
type application struct {
	orch     *auth.Orchestrator
	identity *identity.Service
	registry *prometheus.Registry
}

func newHasher(cfg *config.Config) *identity.PasswordHasher {
	return identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)
}

func buildApplication(cfg *config.Config, st *stores, rdb redis.UniversalClient) (*application, error) {
	policy := password.NewPolicy(password.Config{
		MinLength:   cfg.Password.MinLength,
		CheckCommon: cfg.Password.CheckCommon,
	})

	identityService, err := identity.NewService(st.principals, st.history, newHasher(cfg), policy, cfg.Password.HistorySize)
	if err != nil {
		return nil, err
	}

	tokenService, err := token.NewService(token.Config{
		SigningKey: []byte(cfg.JWT.SigningKey),
		Issuer:     cfg.JWT.Issuer,
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
	}, st.refresh, identityService)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewRedisLimiter(rdb, "holidesk:rl")

	twoFactorService := twofactor.NewService(st.twoFactor, identityService, identityService, limiter, twofactor.Config{
		Issuer:      cfg.TwoFactor.Issuer,
		BackupCodes: cfg.TwoFactor.BackupCodes,
		MaxAttempts: cfg.TwoFactor.MaxAttempts,
		Window:      cfg.TwoFactor.Window,
	})

	sessionManager := session.NewManager(st.sessions, session.Config{
		SingleSession: cfg.Session.Single,
		TTL:           cfg.Session.TTL,
	})

	var linker *oauthlink.Linker
	if providers := providerConfigs(cfg); len(providers) > 0 {
		client := oauthlink.NewHTTPProviderClient(cfg.Server.OperationTimeout, providers...)
		linker = oauthlink.NewLinker(client, st.links, redisstore.NewStateStore(rdb, "holidesk:oauth:state"), identityService,
			oauthlink.Config{
				AutoProvision: cfg.OAuth.AutoProvision,
				StateTTL:      cfg.OAuth.StateTTL,
			})
	} else {
		slog.Info("no oauth providers configured; provider sign-in is disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsSink, err := audit.NewMetricsSink(registry)
	if err != nil {
		return nil, err
	}

	authMetrics, err := metrics.New(metrics.Config{Enabled: cfg.Observability.MetricsEnabled}, cfg.Observability.ServiceName)
	if err != nil {
		return nil, err
	}

	orch, err := auth.New(auth.Deps{
		Identity:   identityService,
		Tokens:     tokenService,
		Sessions:   sessionManager,
		TwoFactor:  twoFactorService,
		OAuth:      linker,
		Passwords:  policy,
		Challenges: redisstore.NewChallengeStore(rdb, "holidesk:2fa:challenge"),
		Limiter:    limiter,
		Audit:      audit.NewMultiSink(audit.NewSlogSink(slog.Default()), metricsSink),
		Metrics:    authMetrics,
	}, auth.Config{
		LoginMaxPerAccount:   cfg.Login.MaxPerAccount,
		LoginMaxPerIP:        cfg.Login.MaxPerIP,
		LoginWindow:          cfg.Login.Window,
		ChallengeTTL:         cfg.TwoFactor.ChallengeTTL,
		ChallengeMaxAttempts: cfg.TwoFactor.MaxAttempts,
		OperationTimeout:     cfg.Server.OperationTimeout,
	})
	if err != nil {
		return nil, err
	}

	return &application{
		orch:     orch,
		identity: identityService,
		registry: registry,
	}, nil
}
