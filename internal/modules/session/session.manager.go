// Package session owns the authenticated session of one account for the
// duration of a run.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/waqasmani/autopunch/internal/infrastructure/gateway"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"github.com/waqasmani/autopunch/internal/modules/state"
	"github.com/waqasmani/autopunch/internal/shared/domain"
	"github.com/waqasmani/autopunch/internal/shared/errors"
)

// Authenticator is the part of the attendance service the manager needs.
type Authenticator interface {
	Login(ctx context.Context, creds domain.Credentials, device string) (*domain.Session, error)
	Probe(ctx context.Context, session *domain.Session) (*gateway.Plan, error)
}

// Func runs one authenticated operation.
type Func func(ctx context.Context, session *domain.Session) error

// Manager serializes use of a single account's session. It is never shared
// between accounts.
type Manager struct {
	mu        sync.Mutex
	accountID string
	creds     domain.Credentials
	device    string
	auth      Authenticator
	cache     state.SessionCache
	inspector TokenInspector
	session   *domain.Session
	metrics   *observability.Metrics
	logger    *observability.Logger
	now       func() time.Time
}

func NewManager(account *domain.Account, auth Authenticator, cache state.SessionCache, metrics *observability.Metrics, logger *observability.Logger) *Manager {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Manager{
		accountID: account.ID,
		creds:     account.Credentials,
		device:    account.Device,
		auth:      auth,
		cache:     cache,
		inspector: TokenInspector{Leeway: time.Minute},
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// WithSession runs fn with a valid session. If fn reports an expired
// session, the manager logs in again exactly once and retries fn; a second
// expiry is returned as an authentication error.
func (m *Manager) WithSession(ctx context.Context, fn Func) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.acquire(ctx)
	if err != nil {
		return err
	}

	err = fn(ctx, session)
	if !isExpired(err) {
		return err
	}

	m.logger.Warn(ctx, "Session expired, logging in again")
	m.invalidate(ctx)

	session, err = m.login(ctx)
	if err != nil {
		return err
	}

	err = fn(ctx, session)
	if isExpired(err) {
		m.invalidate(ctx)
		return errors.Wrap(err, errors.ErrCodeAuth, "session rejected again after re-login")
	}
	return err
}

// Current returns the session in use, if any.
func (m *Manager) Current() *domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// Invalidate drops the in-memory and cached session.
func (m *Manager) Invalidate(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidate(ctx)
}

func (m *Manager) invalidate(ctx context.Context) {
	m.session = nil
	if m.cache == nil {
		return
	}
	if err := m.cache.DeleteSession(ctx, m.accountID); err != nil {
		m.logger.Warn(ctx, "Failed to drop cached session", m.logger.Field("error", err.Error()))
	}
}

func (m *Manager) acquire(ctx context.Context) (*domain.Session, error) {
	if m.session != nil {
		m.recordReuse("memory")
		return m.session, nil
	}

	if cached := m.loadCached(ctx); cached != nil {
		plan, err := m.auth.Probe(ctx, cached)
		switch {
		case err == nil:
			applyPlan(cached, plan)
			m.session = cached
			m.recordReuse("cache")
			return cached, nil
		case isExpired(err) || errors.CodeOf(err) == errors.ErrCodeRejected:
			m.logger.Info(ctx, "Cached session no longer valid")
			m.invalidate(ctx)
		default:
			return nil, err
		}
	}

	return m.login(ctx)
}

func (m *Manager) loadCached(ctx context.Context) *domain.Session {
	if m.cache == nil {
		return nil
	}

	cached, err := m.cache.LoadSession(ctx, m.accountID)
	if err != nil {
		m.logger.Warn(ctx, "Failed to read cached session", m.logger.Field("error", err.Error()))
		return nil
	}
	if cached == nil || cached.Token == "" {
		return nil
	}
	if m.inspector.Expired(cached.Token, m.now()) {
		m.logger.Info(ctx, "Cached token past its expiry")
		return nil
	}
	return cached
}

func (m *Manager) login(ctx context.Context) (*domain.Session, error) {
	session, err := m.auth.Login(ctx, m.creds, m.device)
	if err != nil {
		m.recordLogin("failed")
		return nil, err
	}

	plan, err := m.auth.Probe(ctx, session)
	if err != nil {
		m.recordLogin("failed")
		if isExpired(err) {
			return nil, errors.Wrap(err, errors.ErrCodeAuth, "fresh session rejected")
		}
		return nil, err
	}
	applyPlan(session, plan)

	m.recordLogin("ok")
	m.session = session

	if m.cache != nil {
		if err := m.cache.SaveSession(ctx, m.accountID, *session); err != nil {
			m.logger.Warn(ctx, "Failed to cache session", m.logger.Field("error", err.Error()))
		}
	}
	return session, nil
}

func applyPlan(session *domain.Session, plan *gateway.Plan) {
	if plan == nil {
		return
	}
	session.PlanID = plan.PlanID.String()
	session.PlanName = plan.PlanName
}

func isExpired(err error) bool {
	return err != nil && errors.CodeOf(err) == errors.ErrCodeAuthExpired
}

func (m *Manager) recordLogin(result string) {
	if m.metrics != nil {
		m.metrics.SessionLogins.WithLabelValues(result).Inc()
	}
}

func (m *Manager) recordReuse(source string) {
	if m.metrics != nil {
		m.metrics.SessionReuse.WithLabelValues(source).Inc()
	}
}
