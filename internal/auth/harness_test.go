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

package auth_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/holidesk/holidesk/internal/audit"
	"github.com/holidesk/holidesk/internal/auth"
	"github.com/holidesk/holidesk/internal/identity"
	"github.com/holidesk/holidesk/internal/observability/metrics"
	"github.com/holidesk/holidesk/internal/oauthlink"
	"github.com/holidesk/holidesk/internal/password"
	"github.com/holidesk/holidesk/internal/ratelimit"
	"github.com/holidesk/holidesk/internal/session"
	"github.com/holidesk/holidesk/internal/store/memory"
	"github.com/holidesk/holidesk/internal/store/redisstore"
	"github.com/holidesk/holidesk/internal/token"
	"github.com/holidesk/holidesk/internal/twofactor"
)

var device = session.Device{IPAddress: "203.0.113.7", UserAgent: "holidesk-test/1.0"}

// recordingSink captures security events
type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Record(_ context.Context, e audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) find(typ string, outcome audit.Outcome) []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.Type == typ && e.Outcome == outcome {
			out = append(out, e)
		}
	}
	return out
}

// stubProvider maps authorization codes to provider identities
type stubProvider struct {
	identities map[string]*oauthlink.ProviderIdentity
}

func (p *stubProvider) AuthCodeURL(provider, state string) (string, error) {
	if provider != "google" {
		return "", oauthlink.ErrUnknownProvider
	}
	return "https://accounts.example.test/auth?state=" + state, nil
}

func (p *stubProvider) Exchange(_ context.Context, provider, code string) (*oauthlink.ProviderIdentity, error) {
	ident, ok := p.identities[code]
	if !ok {
		return nil, oauthlink.ErrProviderError
	}
	cp := *ident
	return &cp, nil
}

// sessionGauge tracks the open sessions up/down counter
type sessionGauge struct {
	noop.Int64UpDownCounter
	mu    sync.Mutex
	value int64
}

func (g *sessionGauge) Add(_ context.Context, n int64, _ ...metric.AddOption) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value += n
}

func (g *sessionGauge) open() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

type gaugeMeter struct {
	noop.Meter
	gauge *sessionGauge
}

func (m gaugeMeter) Int64UpDownCounter(string, ...metric.Int64UpDownCounterOption) (metric.Int64UpDownCounter, error) {
	return m.gauge, nil
}

type harness struct {
	orch     *auth.Orchestrator
	db       *memory.DB
	identity *identity.Service
	tokens   *token.Service
	provider *stubProvider
	sink     *recordingSink
	gauge    *sessionGauge
	redis    *miniredis.Miniredis
}

type harnessOptions struct {
	cfg           auth.Config
	autoProvision bool
	noSessions    bool
	limiter       ratelimit.Limiter
}

func newHarness(t *testing.T, opts ...func(*harnessOptions)) *harness {
	t.Helper()
	o := harnessOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db := memory.New()
	policy := password.NewPolicy(password.Config{CheckCommon: true})
	hasher := identity.NewPasswordHasher(8*1024, 1, 1, 16, 32)
	ids, err := identity.NewService(db.Principals(), db.PasswordHistory(), hasher, policy, 5)
	require.NoError(t, err)

	tokens, err := token.NewService(token.Config{
		SigningKey: []byte(strings.Repeat("s", 32)),
		Issuer:     "holidesk-test",
	}, db.RefreshTokens(), ids)
	require.NoError(t, err)

	limiter := o.limiter
	if limiter == nil {
		limiter = ratelimit.NewRedisLimiter(rdb, "rl")
	}
	tf := twofactor.NewService(db.TwoFactor(), ids, ids, limiter, twofactor.Config{Issuer: "Holidesk"})

	provider := &stubProvider{identities: map[string]*oauthlink.ProviderIdentity{}}
	linker := oauthlink.NewLinker(provider, db.Links(), redisstore.NewStateStore(rdb, ""), ids,
		oauthlink.Config{AutoProvision: o.autoProvision})

	var sessions *session.Manager
	if !o.noSessions {
		sessions = session.NewManager(db.Sessions(), session.Config{})
	}

	gauge := &sessionGauge{}
	instruments, err := metrics.NewWithMeter(gaugeMeter{gauge: gauge})
	require.NoError(t, err)

	sink := &recordingSink{}
	orch, err := auth.New(auth.Deps{
		Identity:   ids,
		Tokens:     tokens,
		Sessions:   sessions,
		TwoFactor:  tf,
		OAuth:      linker,
		Passwords:  policy,
		Challenges: redisstore.NewChallengeStore(rdb, ""),
		Limiter:    limiter,
		Audit:      sink,
		Metrics:    instruments,
	}, o.cfg)
	require.NoError(t, err)

	return &harness{
		orch:     orch,
		db:       db,
		identity: ids,
		tokens:   tokens,
		provider: provider,
		sink:     sink,
		gauge:    gauge,
		redis:    mr,
	}
}

func (h *harness) createPrincipal(t *testing.T, email, pw string) *identity.Principal {
	t.Helper()
	tenant := "tenant-1"
	p, err := h.identity.Create(context.Background(), email, pw, &tenant, false)
	require.NoError(t, err)
	return p
}

// enrollTwoFactor enables a second factor and returns its secret and backup codes
func (h *harness) enrollTwoFactor(t *testing.T, principalID string) (string, []string) {
	t.Helper()
	ctx := context.Background()
	prov, err := h.orch.SetupTwoFactor(ctx, principalID)
	require.NoError(t, err)
	code, err := totp.GenerateCode(prov.Secret, time.Now())
	require.NoError(t, err)
	codes, err := h.orch.ConfirmTwoFactor(ctx, principalID, code)
	require.NoError(t, err)
	return prov.Secret, codes
}

func (h *harness) login(t *testing.T, email, pw string) *auth.LoginResult {
	t.Helper()
	res, err := h.orch.Login(context.Background(), auth.LoginRequest{Email: email, Password: pw, Device: device})
	require.NoError(t, err)
	return res
}
