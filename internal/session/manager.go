// Package session owns the credential lifecycle: login, logout, silent
// renewal and re-evaluation after out-of-band storage changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"

	"billtrack/internal/core"
	"billtrack/internal/gateway"
	"billtrack/internal/log"
	"billtrack/internal/storage"
)

// State of the session machine.
type State int

const (
	Anonymous State = iota
	Authenticated
	Renewing
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	case Renewing:
		return "renewing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session is the process-wide credential pair and its decoded identity.
type Session struct {
	Access   string
	Refresh  string
	Identity Identity
}

// Store is the persisted state the manager reads and writes.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error
	Subscribe(fn func(storage.Change)) func()
}

var credentialKeys = []string{storage.KeyAccessToken, storage.KeyRefreshToken, storage.KeyUsername}

// Manager is the SessionManager. It implements gateway.Authenticator.
type Manager struct {
	store  Store
	api    gateway.Doer
	logger *log.Logger

	renewals singleflight.Group

	mu      sync.Mutex
	state   State
	current *Session
	changed map[int]func(Session, bool)
	failed  map[int]func(error)
	nextSub int

	// epoch changes whenever a session ends or a new one starts. A renewal
	// only commits if the epoch it started under is still current.
	epoch uint64
}

var _ gateway.Authenticator = (*Manager)(nil)

// NewManager creates a manager in the anonymous state. api must be a
// gateway without an authenticator: session calls never renew.
func NewManager(store Store, api gateway.Doer, logger *log.Logger) *Manager {
	return &Manager{
		store:   store,
		api:     api,
		logger:  logger.WithComponent(log.ComponentSession),
		changed: make(map[int]func(Session, bool)),
		failed:  make(map[int]func(error)),
	}
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Login exchanges credentials for a session and persists it.
func (m *Manager) Login(ctx context.Context, username, password string) (Session, error) {
	var pair tokenPair
	err := m.api.Do(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   "/api/token/",
		Body:   map[string]string{"username": username, "password": password},
		NoAuth: true,
	}, &pair)
	if err != nil {
		var ve *core.ValidationError
		var se *core.StatusError
		if errors.Is(err, core.ErrUnauthorized) || errors.As(err, &ve) ||
			(errors.As(err, &se) && se.Code == http.StatusForbidden) {
			m.logger.InfoContext(ctx, "Login rejected", log.FieldUsername, username)
			return Session{}, &core.AuthError{Err: err}
		}
		return Session{}, fmt.Errorf("login: %w", err)
	}

	identity, err := DecodeIdentity(pair.Access)
	if err != nil {
		m.logger.WarnContext(ctx, "Login returned undecodable access token", log.FieldError, err)
		return Session{}, err
	}

	if err := m.store.Set(ctx, map[string]string{
		storage.KeyAccessToken:  pair.Access,
		storage.KeyRefreshToken: pair.Refresh,
		storage.KeyUsername:     identity.Username,
	}); err != nil {
		return Session{}, fmt.Errorf("persist session: %w", err)
	}

	s := Session{Access: pair.Access, Refresh: pair.Refresh, Identity: identity}
	m.mu.Lock()
	m.epoch++
	m.current = &s
	m.state = Authenticated
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "Logged in", log.FieldUsername, identity.Username)
	m.emitChanged(s, true)
	return s, nil
}

// Logout clears persisted credentials and identity. The in-memory session
// is dropped even if the store cannot be cleared.
func (m *Manager) Logout(ctx context.Context) error {
	m.reset()
	err := m.store.Delete(ctx, credentialKeys...)
	m.logger.InfoContext(ctx, "Logged out")
	m.emitChanged(Session{}, false)
	if err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// Renew exchanges the refresh credential for a new access credential.
// Concurrent callers share a single in-flight renewal. When rejected is
// set and the current credential already differs from it, that credential
// is returned without contacting the server; an empty rejected forces a
// renewal.
func (m *Manager) Renew(ctx context.Context, rejected string) (string, error) {
	// The shared renewal must not be cut short by the first caller leaving.
	shared := context.WithoutCancel(ctx)
	v, err, _ := m.renewals.Do("renew", func() (any, error) {
		return m.renew(shared, rejected)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) renew(ctx context.Context, rejected string) (string, error) {
	m.mu.Lock()
	if rejected != "" && m.current != nil && m.current.Access != "" && m.current.Access != rejected {
		access := m.current.Access
		m.mu.Unlock()
		return access, nil
	}
	refresh := ""
	if m.current != nil {
		refresh = m.current.Refresh
	}
	epoch := m.epoch
	prev := m.state
	m.state = Renewing
	m.mu.Unlock()

	if refresh == "" {
		stored, _, err := m.store.Get(ctx, storage.KeyRefreshToken)
		if err != nil {
			return "", m.failRenewal(ctx, epoch, fmt.Errorf("read refresh credential: %w", err))
		}
		refresh = stored
	}
	if refresh == "" {
		return "", m.failRenewal(ctx, epoch, core.ErrNotAuthenticated)
	}

	var pair tokenPair
	err := m.api.Do(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   "/api/token/refresh/",
		Body:   map[string]string{"refresh": refresh},
		NoAuth: true,
	}, &pair)
	if err != nil {
		return "", m.failRenewal(ctx, epoch, err)
	}

	identity, err := DecodeIdentity(pair.Access)
	if err != nil {
		return "", m.failRenewal(ctx, epoch, err)
	}

	values := map[string]string{
		storage.KeyAccessToken: pair.Access,
		storage.KeyUsername:    identity.Username,
	}
	// Servers rotating refresh credentials return a new one as well.
	if pair.Refresh != "" {
		refresh = pair.Refresh
		values[storage.KeyRefreshToken] = refresh
	}

	// The epoch check, the write and the swap happen under one lock so a
	// logout either sees the renewed credential and deletes it, or ends the
	// epoch first and nothing is written.
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		m.logger.DebugContext(ctx, "Discarding renewal for an ended session")
		return "", core.ErrNotAuthenticated
	}
	if err := m.store.Set(ctx, values); err != nil {
		m.mu.Unlock()
		return "", m.failRenewal(ctx, epoch, fmt.Errorf("persist renewed credential: %w", err))
	}
	m.current = &Session{Access: pair.Access, Refresh: refresh, Identity: identity}
	m.state = Authenticated
	m.mu.Unlock()

	m.logger.DebugContext(ctx, "Access credential renewed",
		log.FieldUsername, identity.Username, "previous_state", prev.String())
	return pair.Access, nil
}

// failRenewal clears every credential and notifies auth-failed subscribers.
// A session that already ended, or was replaced, since epoch is left alone.
func (m *Manager) failRenewal(ctx context.Context, epoch uint64, cause error) error {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return core.ErrNotAuthenticated
	}
	m.epoch++
	m.current = nil
	m.state = Anonymous
	m.mu.Unlock()

	if err := m.store.Delete(ctx, credentialKeys...); err != nil {
		m.logger.ErrorContext(ctx, "Failed to clear credentials after renewal failure", log.FieldError, err)
	}

	failure := &core.RefreshFailed{Err: cause}
	m.logger.WarnContext(ctx, "Credential renewal failed", log.FieldError, cause)
	m.emitFailed(failure)
	return failure
}

// Register creates a new account and returns the server's message.
func (m *Manager) Register(ctx context.Context, username, password string) (string, error) {
	var resp struct {
		Message  string `json:"message"`
		Username string `json:"username"`
	}
	err := m.api.Do(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   "/api/register/",
		Body:   map[string]string{"username": username, "password": password},
		NoAuth: true,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("register: %w", err)
	}
	m.logger.InfoContext(ctx, "Registered account", log.FieldUsername, username)
	return resp.Message, nil
}

// Restore rebuilds the session from persisted credentials at startup.
// An undecodable credential clears the persisted state.
func (m *Manager) Restore(ctx context.Context) error {
	s, ok, err := m.load(ctx)
	if err != nil {
		var de *core.IdentityDecodeError
		if errors.As(err, &de) {
			if derr := m.store.Delete(ctx, credentialKeys...); derr != nil {
				m.logger.ErrorContext(ctx, "Failed to clear undecodable credentials", log.FieldError, derr)
			}
			m.reset()
		}
		return err
	}

	m.mu.Lock()
	m.epoch++
	if ok {
		m.current = &s
		m.state = Authenticated
	} else {
		m.current = nil
		m.state = Anonymous
	}
	m.mu.Unlock()
	return nil
}

// Reevaluate re-reads persisted credentials after an out-of-band change
// and moves between anonymous and authenticated accordingly.
func (m *Manager) Reevaluate(ctx context.Context) {
	s, ok, err := m.load(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "Re-evaluating session failed", log.FieldError, err)
		ok = false
	}

	m.mu.Lock()
	wasAuthenticated := m.current != nil
	prevUser := ""
	if m.current != nil {
		prevUser = m.current.Identity.Username
	}
	if !ok || prevUser != s.Identity.Username {
		m.epoch++
	}
	if ok {
		m.current = &s
		m.state = Authenticated
	} else {
		m.current = nil
		m.state = Anonymous
	}
	m.mu.Unlock()

	switch {
	case ok && (!wasAuthenticated || prevUser != s.Identity.Username):
		m.logger.InfoContext(ctx, "Session appeared in storage", log.FieldUsername, s.Identity.Username)
		m.emitChanged(s, true)
	case !ok && wasAuthenticated:
		m.logger.InfoContext(ctx, "Session removed from storage")
		m.emitChanged(Session{}, false)
	}
}

// Watch re-evaluates the session whenever another process changes a
// credential key. The returned func stops watching.
func (m *Manager) Watch() func() {
	return m.store.Subscribe(func(c storage.Change) {
		if !c.Remote {
			return
		}
		if c.Key == storage.KeyAccessToken || c.Key == storage.KeyUsername {
			m.Reevaluate(context.Background())
		}
	})
}

func (m *Manager) load(ctx context.Context) (Session, bool, error) {
	access, ok, err := m.store.Get(ctx, storage.KeyAccessToken)
	if err != nil {
		return Session{}, false, fmt.Errorf("read access credential: %w", err)
	}
	if !ok || access == "" {
		return Session{}, false, nil
	}
	refresh, _, err := m.store.Get(ctx, storage.KeyRefreshToken)
	if err != nil {
		return Session{}, false, fmt.Errorf("read refresh credential: %w", err)
	}
	identity, err := DecodeIdentity(access)
	if err != nil {
		return Session{}, false, err
	}
	return Session{Access: access, Refresh: refresh, Identity: identity}, true, nil
}

func (m *Manager) reset() {
	m.mu.Lock()
	m.epoch++
	m.current = nil
	m.state = Anonymous
	m.mu.Unlock()
}

// AccessToken returns the current access credential or "".
func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.Access
}

// Current returns a copy of the session, if any.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnSessionChanged registers fn for login, logout and out-of-band changes.
// fn receives the new session and whether one exists.
func (m *Manager) OnSessionChanged(fn func(Session, bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.changed[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.changed, id)
	}
}

// OnAuthFailed registers fn for renewal failures, after which the user
// must authenticate again.
func (m *Manager) OnAuthFailed(fn func(error)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.failed[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.failed, id)
	}
}

func (m *Manager) emitChanged(s Session, ok bool) {
	m.mu.Lock()
	fns := make([]func(Session, bool), 0, len(m.changed))
	for _, fn := range m.changed {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(s, ok)
	}
}

func (m *Manager) emitFailed(err error) {
	m.mu.Lock()
	fns := make([]func(error), 0, len(m.failed))
	for _, fn := range m.failed {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}
