// Package services contains the application services of the classdesk client.
// This file defines the session manager: bootstrap from the credential store,
// login/register/logout, forced logout after a rejected credential, and
// read-only snapshots of the session for the view layer.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/classdesk/internal/client/client"
	"github.com/dmitrijs2005/classdesk/internal/client/models"
	"github.com/dmitrijs2005/classdesk/internal/common"
	"github.com/dmitrijs2005/classdesk/internal/logging"
	"github.com/dmitrijs2005/classdesk/internal/metrics"
)

var (
	// ErrOperationInProgress is returned when a login or register is started
	// while another one has not finished. The second call is ignored.
	ErrOperationInProgress = errors.New("another operation is in progress")

	// ErrSessionSuperseded is returned by a login whose result arrived after
	// the session was cleared by a logout. The result is discarded.
	ErrSessionSuperseded = errors.New("session changed while the operation was in flight")

	// ErrNotAuthenticated is returned by operations that need a session.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Messages shown when the backend gives nothing more specific.
const (
	MsgLoginFailed    = "login failed, check username and password"
	MsgRegisterFailed = "registration failed"
	MsgSessionExpired = "your session has expired, please sign in again"
)

// Gateway is the part of the auth gateway the session manager uses.
type Gateway interface {
	SignIn(ctx context.Context, username, password string) (*models.SignInResult, error)
	SignUp(ctx context.Context, req models.SignUpRequest) (json.RawMessage, error)
	SignOut(ctx context.Context) error
	Me(ctx context.Context) (*models.User, error)
}

// CredentialStore is the persistence the session manager mirrors its state to.
type CredentialStore interface {
	Session(ctx context.Context) (string, *models.User, error)
	SaveSession(ctx context.Context, token string, user models.User) error
	ClearSession(ctx context.Context) error
	ClearRemembered(ctx context.Context) error
}

// State is the lifecycle state of the session.
type State int

const (
	StateBootstrapping State = iota
	StateUnauthenticated
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Snapshot is a copy of the session state. Changing it has no effect on the
// manager.
type Snapshot struct {
	State         State
	User          *models.User
	Token         string
	Authenticated bool
	Loading       bool
	LastError     string
}

// SessionManager owns the in-memory session and keeps the credential store
// in step with it.
type SessionManager struct {
	gw      Gateway
	store   CredentialStore
	log     logging.Logger
	metrics metrics.Recorder

	mu         sync.Mutex
	state      State
	user       *models.User
	token      string
	caps       models.Capabilities
	lastErr    string
	inFlight   int
	busy       bool
	loggingOut bool
	// generation changes whenever the session is cleared, so late results of
	// operations started before the clear can be recognized.
	generation uint64
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

func WithSessionMetrics(r metrics.Recorder) SessionOption {
	return func(m *SessionManager) { m.metrics = r }
}

// NewSessionManager creates a manager in the Bootstrapping state.
func NewSessionManager(gw Gateway, store CredentialStore, log logging.Logger, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		gw:      gw,
		store:   store,
		log:     log.With("component", "session"),
		metrics: metrics.Nop{},
		state:   StateBootstrapping,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bootstrap restores the session persisted by a previous run. Partial or
// unreadable records are cleared. It never fails.
func (m *SessionManager) Bootstrap(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight++
	defer func() { m.inFlight-- }()

	token, user, err := m.store.Session(ctx)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			m.log.Info(ctx, "discarding unusable stored session", "error", err)
		}
		if clearErr := m.store.ClearSession(ctx); clearErr != nil {
			m.log.Warn(ctx, "failed to clear stored session", "error", clearErr)
		}
		m.resetLocked()
		return
	}

	m.setLocked(token, user)
	m.log.Info(ctx, "session restored", "username", user.Username, "role", user.Role)
}

// Login signs the user in and persists the session. A second call while one
// is running returns ErrOperationInProgress. On failure LastError holds the
// message to show.
func (m *SessionManager) Login(ctx context.Context, username, password string) error {
	gen, ok := m.begin()
	if !ok {
		m.metrics.RecordLogin(metrics.LoginIgnored)
		return ErrOperationInProgress
	}

	res, err := m.gw.SignIn(ctx, username, password)
	if err == nil && !common.Present(res.Token) {
		err = common.ErrInvalidToken
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.endLocked()

	if gen != m.generation {
		m.log.Info(ctx, "discarding login result, session was cleared meanwhile", "username", username)
		m.metrics.RecordLogin(metrics.LoginDiscarded)
		return ErrSessionSuperseded
	}

	if err == nil {
		if saveErr := m.store.SaveSession(ctx, res.Token, res.User); saveErr != nil {
			err = fmt.Errorf("persist session: %w", saveErr)
		}
	}
	if err != nil {
		m.lastErr = loginMessage(err)
		m.metrics.RecordLogin(metrics.LoginFailure)
		m.log.Warn(ctx, "login failed", "username", username, "error", err)
		return err
	}

	user := res.User
	m.setLocked(res.Token, &user)
	m.metrics.RecordLogin(metrics.LoginSuccess)
	m.log.Info(ctx, "logged in", "username", user.Username, "role", user.Role)
	return nil
}

func loginMessage(err error) string {
	if msg, ok := client.BackendMessage(err); ok {
		return msg
	}
	if errors.Is(err, common.ErrInvalidToken) {
		return common.ErrInvalidToken.Error()
	}
	return MsgLoginFailed
}

// Register creates an account without signing it in and returns the
// backend's answer.
func (m *SessionManager) Register(ctx context.Context, req models.SignUpRequest) (json.RawMessage, error) {
	if _, ok := m.begin(); !ok {
		return nil, ErrOperationInProgress
	}

	raw, err := m.gw.SignUp(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.endLocked()

	if err != nil {
		msg, ok := client.BackendMessage(err)
		if !ok {
			msg = MsgRegisterFailed
		}
		m.lastErr = msg
		m.log.Warn(ctx, "registration failed", "username", req.Username, "error", err)
		return nil, err
	}
	m.log.Info(ctx, "account registered", "username", req.Username)
	return raw, nil
}

// Logout ends the session. The remote sign-out is best effort; local state
// and the stored credentials are always cleared. Calling it without a
// session, or while another logout runs, does nothing harmful.
func (m *SessionManager) Logout(ctx context.Context) {
	m.mu.Lock()
	if m.loggingOut {
		m.mu.Unlock()
		return
	}
	m.loggingOut = true
	m.inFlight++
	m.generation++
	hadSession := m.token != ""
	m.mu.Unlock()

	if hadSession {
		_ = m.gw.SignOut(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	if err := errors.Join(m.store.ClearSession(ctx), m.store.ClearRemembered(ctx)); err != nil {
		m.log.Error(ctx, "failed to clear stored credentials", "error", err)
	}
	m.resetLocked()
	m.lastErr = ""
	m.loggingOut = false
	m.inFlight--
	m.log.Info(ctx, "logged out")
}

// ForceLogout drops the in-memory session after the backend rejected the
// credential. The pipeline has already cleared the store. Its signature
// matches client.UnauthorizedFunc.
func (m *SessionManager) ForceLogout(ctx context.Context, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
	if m.state != StateAuthenticated || m.loggingOut {
		m.resetLocked()
		return
	}
	m.resetLocked()
	m.lastErr = MsgSessionExpired
	m.log.Info(ctx, "session ended by server", "path", path)
}

// Refresh re-reads the signed-in user from the backend so role changes take
// effect.
func (m *SessionManager) Refresh(ctx context.Context) (*models.User, error) {
	m.mu.Lock()
	if m.state != StateAuthenticated {
		m.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	gen, token := m.generation, m.token
	m.mu.Unlock()

	user, err := m.gw.Me(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return nil, ErrSessionSuperseded
	}
	if err := m.store.SaveSession(ctx, token, *user); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	m.setLocked(token, user)
	return copyUser(user), nil
}

// ClearError drops the last error message.
func (m *SessionManager) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = ""
}

// Snapshot returns a copy of the current session.
func (m *SessionManager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:         m.state,
		User:          copyUser(m.user),
		Token:         m.token,
		Authenticated: m.state == StateAuthenticated && common.Present(m.token),
		Loading:       m.inFlight > 0 || m.state == StateBootstrapping,
		LastError:     m.lastErr,
	}
}

// CurrentUser returns a copy of the signed-in user, or nil.
func (m *SessionManager) CurrentUser() *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyUser(m.user)
}

// Capabilities returns the permission flags resolved for the current session.
func (m *SessionManager) Capabilities() models.Capabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.caps
}

// begin claims the operation slot. It fails while another operation or a
// logout is running.
func (m *SessionManager) begin() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy || m.loggingOut {
		return 0, false
	}
	m.busy = true
	m.inFlight++
	m.lastErr = ""
	return m.generation, true
}

func (m *SessionManager) endLocked() {
	m.busy = false
	m.inFlight--
}

func (m *SessionManager) setLocked(token string, user *models.User) {
	m.state = StateAuthenticated
	m.token = token
	m.user = copyUser(user)
	m.caps = models.CapabilitiesFor(user.Role)
}

func (m *SessionManager) resetLocked() {
	m.state = StateUnauthenticated
	m.token = ""
	m.user = nil
	m.caps = models.Capabilities{}
}

func copyUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
