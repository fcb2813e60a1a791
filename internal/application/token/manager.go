// Package token owns the upstream OAuth2 credential.
//
// Refresh tokens rotate on every use, so two concurrent refreshes would burn
// the credential: the second one presents a refresh token the first already
// consumed. Manager therefore funnels every refresh through one singleflight
// key. A rejected refresh poisons the manager until an operator re-authorizes.
package token

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wulinbill/loyverse-api/internal/domain/credential"
	"github.com/wulinbill/loyverse-api/internal/domain/fault"
	"github.com/wulinbill/loyverse-api/internal/observability"
	"github.com/wulinbill/loyverse-api/internal/observability/logctx"
	"github.com/wulinbill/loyverse-api/internal/pkg/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

const (
	componentToken = "token_manager"
	refreshFlight  = "refresh"
	defaultTimeout = 10 * time.Second
	grantRefresh   = "refresh_token"
	grantAuthorize = "authorization_code"
	spanTokenGrant = "token.grant"
)

var errNoRefreshToken = errors.New("no refresh token configured")

// Refresher performs the token-endpoint grants.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (credential.Credential, error)
	Exchange(ctx context.Context, code string) (credential.Credential, error)
}

// Status is a secret-free view of the credential for health reporting.
type Status struct {
	HasAccessToken bool
	CanRefresh     bool
	ExpiresAt      time.Time
	Poisoned       bool
	LastError      string
}

type Manager struct {
	refresher Refresher
	clock     clock.Clock
	skew      time.Duration
	timeout   time.Duration

	mu       sync.RWMutex
	cred     credential.Credential
	gen      uint64 // bumped by Set; a refresh only lands on the generation it read
	poisoned error

	flight singleflight.Group

	tel       observability.Observability
	log       observability.Logger
	refreshes observability.Counter
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = clock.OrReal(c) }
}

// WithSkew sets how long before expiry a token stops being handed out.
func WithSkew(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.skew = d
		}
	}
}

// WithTimeout bounds each token-endpoint call.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func NewManager(refresher Refresher, initial credential.Credential, tel observability.Observability, opts ...Option) *Manager {
	tel = observability.OrNop(tel)
	m := &Manager{
		refresher: refresher,
		clock:     clock.Real(),
		skew:      credential.DefaultSkew,
		timeout:   defaultTimeout,
		cred:      initial,
		tel:       tel,
		log:       tel.Logger().With(observability.F("component", componentToken)),
		refreshes: tel.Metrics().Counter(observability.MTokenRefreshes),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Token returns an access token valid for at least the skew window,
// refreshing it first when needed. Concurrent callers share one refresh.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if tok, ok, err := m.cached(); ok || err != nil {
		return tok, err
	}

	v, err, _ := m.flight.Do(refreshFlight, func() (any, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) cached() (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.poisoned != nil {
		return "", false, m.poisoned
	}
	if m.cred.Usable(m.clock.Now(), m.skew) {
		return m.cred.AccessToken, true, nil
	}
	return "", false, nil
}

// refresh runs inside the flight. It re-checks the cache first so a caller
// that arrives just after another flight finished does not refresh again.
func (m *Manager) refresh(ctx context.Context) (string, error) {
	if tok, ok, err := m.cached(); ok || err != nil {
		return tok, err
	}

	m.mu.RLock()
	current, gen := m.cred, m.gen
	m.mu.RUnlock()

	logger := logctx.FromOr(ctx, m.log).With(observability.F("component", componentToken))
	if !current.CanRefresh() {
		err := fault.Auth("token: refresh", errNoRefreshToken)
		m.poison(gen, err)
		logger.Error("token_refresh_unavailable", observability.Err(err))
		return "", err
	}

	next, err := m.grant(ctx, grantRefresh, func(ctx context.Context) (credential.Credential, error) {
		return m.refresher.Refresh(ctx, current.RefreshToken)
	})
	if err != nil {
		if errors.Is(err, fault.ErrAuth) {
			if !m.poison(gen, err) {
				return m.superseded(logger)
			}
			logger.Error("token_refresh_rejected", observability.Err(err))
		} else {
			logger.Warn("token_refresh_failed", observability.Err(err))
		}
		return "", err
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return m.superseded(logger)
	}
	m.cred = current.Rotate(next)
	m.mu.Unlock()

	logger.Info("token_refreshed",
		observability.F("expires_at", next.ExpiresAt),
		observability.F("refresh_rotated", next.RefreshToken != "" && next.RefreshToken != current.RefreshToken),
	)
	return next.AccessToken, nil
}

// grant runs one token-endpoint call detached from the caller's cancellation
// (waiters share its result) but bounded by the manager timeout.
func (m *Manager) grant(ctx context.Context, grant string, call func(context.Context) (credential.Credential, error)) (credential.Credential, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	ctx, span := m.tel.Tracer().Start(ctx, spanTokenGrant, attribute.String("oauth.grant", grant))
	defer span.End()

	cred, err := call(ctx)
	outcome := "success"
	switch {
	case err == nil && cred.AccessToken == "":
		err = fault.Upstream("token: "+grant, errors.New("empty access token in response"))
		outcome = "error"
	case errors.Is(err, fault.ErrAuth):
		outcome = "rejected"
	case err != nil:
		outcome = "error"
	}
	m.refreshes.Add(1, observability.L("grant", grant), observability.L("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return credential.Credential{}, err
	}
	span.SetStatus(codes.Ok, outcome)
	return cred, nil
}

// poison marks the manager unusable unless a credential newer than gen has
// been installed meanwhile. It reports whether it did.
func (m *Manager) poison(gen uint64, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return false
	}
	m.poisoned = err
	return true
}

// superseded discards a refresh outcome because Set installed a newer
// credential while the grant was in flight.
func (m *Manager) superseded(logger observability.Logger) (string, error) {
	logger.Info("token_refresh_superseded")
	if tok, ok, err := m.cached(); ok || err != nil {
		return tok, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cred.AccessToken, nil
}

// Invalidate drops the cached access token after the resource API rejected
// it, so the next Token call refreshes. It is a no-op when the token has
// already been replaced or when no refresh is possible.
func (m *Manager) Invalidate(rejected string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred.AccessToken != rejected || !m.cred.CanRefresh() {
		return
	}
	m.cred.AccessToken = ""
	m.cred.ExpiresAt = time.Time{}
	m.log.Warn("token_invalidated")
}

// Authorize exchanges a one-time authorization code for a new credential
// and clears a poisoned state.
func (m *Manager) Authorize(ctx context.Context, code string) error {
	if code == "" {
		return fault.Validation("authorization code is required")
	}
	cred, err := m.grant(ctx, grantAuthorize, func(ctx context.Context) (credential.Credential, error) {
		return m.refresher.Exchange(ctx, code)
	})
	if err != nil {
		logctx.FromOr(ctx, m.log).Error("token_authorize_failed", observability.Err(err))
		return err
	}
	m.Set(cred)
	logctx.FromOr(ctx, m.log).Info("token_authorized", observability.F("expires_at", cred.ExpiresAt))
	return nil
}

// Set installs a credential obtained out of band.
func (m *Manager) Set(cred credential.Credential) {
	m.mu.Lock()
	m.cred = cred
	m.gen++
	m.poisoned = nil
	m.mu.Unlock()
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Status{
		HasAccessToken: m.cred.AccessToken != "",
		CanRefresh:     m.cred.CanRefresh(),
		ExpiresAt:      m.cred.ExpiresAt,
		Poisoned:       m.poisoned != nil,
	}
	if m.poisoned != nil {
		s.LastError = m.poisoned.Error()
	}
	return s
}
