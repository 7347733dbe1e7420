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

// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MinSigningKeyLength is the shortest accepted HS256 key in bytes
const MinSigningKeyLength = 32

type Config struct {
	Server        ServerConfig
	Store         StoreConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Session       SessionConfig
	TwoFactor     TwoFactorConfig
	Password      PasswordConfig
	Login         LoginConfig
	OAuth         OAuthConfig
	Observability ObservabilityConfig
	Security      SecurityConfig
	RateLimit     RateLimitConfig
	Bootstrap     BootstrapConfig
}

// RateLimitConfig configures the per-instance HTTP flood guard
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type ServerConfig struct {
	Host             string
	Port             string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	OperationTimeout time.Duration
	// CookieSecure marks the OAuth state cookie Secure
	CookieSecure bool
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Driver string // postgres or memory
}

type DatabaseConfig struct {
	URL          string
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	SigningKey string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type SessionConfig struct {
	Single bool
	TTL    time.Duration
	// Retention keeps revoked and expired sessions for the audit trail
	// before the cleanup job deletes them
	Retention       time.Duration
	CleanupInterval time.Duration
}

type TwoFactorConfig struct {
	Issuer       string
	BackupCodes  int
	MaxAttempts  int
	Window       time.Duration
	ChallengeTTL time.Duration
}

type PasswordConfig struct {
	MinLength   int
	HistorySize int
	CheckCommon bool
}

type LoginConfig struct {
	MaxPerAccount int
	MaxPerIP      int
	Window        time.Duration
}

// ProviderCredentials configures one OAuth provider. A provider without a
// client id is disabled.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

func (p ProviderCredentials) Enabled() bool {
	return p.ClientID != ""
}

type OAuthConfig struct {
	AutoProvision bool
	StateTTL      time.Duration
	Google        ProviderCredentials
	GitHub        ProviderCredentials
}

type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	OTELEndpoint   string
	OTELInsecure   bool
	SamplingRate   float64
	MetricsEnabled bool
	ServiceName    string
	ServiceVersion string
}

type SecurityConfig struct {
	Argon2Memory      uint32
	Argon2Iterations  uint32
	Argon2Parallelism uint8
	Argon2SaltLength  uint32
	Argon2KeyLength   uint32
}

// BootstrapConfig creates the first platform administrator when both
// fields are set
type BootstrapConfig struct {
	AdminEmail    string
	AdminPassword string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:             getEnv("SERVER_HOST", "0.0.0.0"),
			Port:             getEnv("SERVER_PORT", "8080"),
			ReadTimeout:      parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout:     parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:      parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
			OperationTimeout: parseDuration("AUTH_OPERATION_TIMEOUT", "10s"),
			CookieSecure:     parseBool("COOKIE_SECURE", true),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
		},
		Database: DatabaseConfig{
			URL:          getEnv("DATABASE_URL", ""),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "holidesk"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "holidesk"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: parseInt("DB_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       parseInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			SigningKey: getEnv("JWT_SIGNING_KEY", ""),
			Issuer:     getEnv("JWT_ISSUER", "holidesk"),
			AccessTTL:  parseDuration("JWT_ACCESS_TTL", "15m"),
			RefreshTTL: parseDuration("JWT_REFRESH_TTL", "720h"),
		},
		Session: SessionConfig{
			Single:          parseBool("SESSION_SINGLE", false),
			TTL:             parseDuration("SESSION_TTL", "720h"),
			Retention:       parseDuration("SESSION_RETENTION", "720h"),
			CleanupInterval: parseDuration("SESSION_CLEANUP_INTERVAL", "1h"),
		},
		TwoFactor: TwoFactorConfig{
			Issuer:       getEnv("TOTP_ISSUER", "Holidesk"),
			BackupCodes:  parseInt("TOTP_BACKUP_CODES", 10),
			MaxAttempts:  parseInt("TWO_FACTOR_MAX_ATTEMPTS", 5),
			Window:       parseDuration("TWO_FACTOR_WINDOW", "15m"),
			ChallengeTTL: parseDuration("TWO_FACTOR_CHALLENGE_TTL", "5m"),
		},
		Password: PasswordConfig{
			MinLength:   parseInt("PASSWORD_MIN_LENGTH", 8),
			HistorySize: parseInt("PASSWORD_HISTORY_SIZE", 5),
			CheckCommon: parseBool("PASSWORD_COMMON_CHECK", true),
		},
		Login: LoginConfig{
			MaxPerAccount: parseInt("LOGIN_MAX_PER_ACCOUNT", 5),
			MaxPerIP:      parseInt("LOGIN_MAX_PER_IP", 20),
			Window:        parseDuration("LOGIN_WINDOW", "15m"),
		},
		OAuth: OAuthConfig{
			AutoProvision: parseBool("OAUTH_AUTO_PROVISION", false),
			StateTTL:      parseDuration("OAUTH_STATE_TTL", "10m"),
			Google:        providerCredentials("GOOGLE"),
			GitHub:        providerCredentials("GITHUB"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			OTELEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTELInsecure:   parseBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			SamplingRate:   parseFloat("OTEL_SAMPLING_RATE", 1.0),
			MetricsEnabled: parseBool("METRICS_ENABLED", true),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "holidesk-auth"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		Security: SecurityConfig{
			Argon2Memory:      uint32(parseInt("ARGON2_MEMORY", 65536)),
			Argon2Iterations:  uint32(parseInt("ARGON2_ITERATIONS", 3)),
			Argon2Parallelism: uint8(parseInt("ARGON2_PARALLELISM", 4)),
			Argon2SaltLength:  uint32(parseInt("ARGON2_SALT_LENGTH", 16)),
			Argon2KeyLength:   uint32(parseInt("ARGON2_KEY_LENGTH", 32)),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: parseFloat("RATELIMIT_RPS", 10),
			Burst:             parseInt("RATELIMIT_BURST", 20),
		},
		Bootstrap: BootstrapConfig{
			AdminEmail:    getEnv("BOOTSTRAP_ADMIN_EMAIL", ""),
			AdminPassword: getEnv("BOOTSTRAP_ADMIN_PASSWORD", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate reports every problem at once so a misconfigured deployment
// fails on its first start
func (c *Config) Validate() error {
	var errs []error
	if len(c.JWT.SigningKey) < MinSigningKeyLength {
		errs = append(errs, fmt.Errorf("JWT_SIGNING_KEY must be at least %d bytes", MinSigningKeyLength))
	}
	switch c.Store.Driver {
	case "postgres":
		if c.Database.URL == "" && c.Database.Password == "" {
			errs = append(errs, errors.New("DATABASE_URL or DB_PASSWORD is required"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not one of postgres, memory", c.Store.Driver))
	}
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required"))
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must exceed a positive JWT_ACCESS_TTL"))
	}
	if c.TwoFactor.MaxAttempts < 1 {
		errs = append(errs, errors.New("TWO_FACTOR_MAX_ATTEMPTS must be positive"))
	}
	if c.Login.MaxPerAccount < 1 || c.Login.MaxPerIP < 1 {
		errs = append(errs, errors.New("LOGIN_MAX_PER_ACCOUNT and LOGIN_MAX_PER_IP must be positive"))
	}
	if c.Server.OperationTimeout <= 0 {
		errs = append(errs, errors.New("AUTH_OPERATION_TIMEOUT must be positive"))
	}
	for name, p := range map[string]ProviderCredentials{"GOOGLE": c.OAuth.Google, "GITHUB": c.OAuth.GitHub} {
		if p.Enabled() && (p.ClientSecret == "" || p.RedirectURL == "") {
			errs = append(errs, fmt.Errorf("OAUTH_%s_CLIENT_SECRET and OAUTH_%s_REDIRECT_URL are required", name, name))
		}
	}
	return errors.Join(errs...)
}

func providerCredentials(name string) ProviderCredentials {
	return ProviderCredentials{
		ClientID:     getEnv("OAUTH_"+name+"_CLIENT_ID", ""),
		ClientSecret: getEnv("OAUTH_"+name+"_CLIENT_SECRET", ""),
		RedirectURL:  getEnv("OAUTH_"+name+"_REDIRECT_URL", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
