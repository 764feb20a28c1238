package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/dmitrijs2005/classdesk/internal/authtest"
	"github.com/dmitrijs2005/classdesk/internal/client/config"
	"github.com/dmitrijs2005/classdesk/internal/client/credstore"
	"github.com/dmitrijs2005/classdesk/internal/client/models"
	"github.com/dmitrijs2005/classdesk/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/classdesk/internal/common"
	"github.com/dmitrijs2005/classdesk/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T) *authtest.Server {
	t.Helper()
	srv := authtest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddAccount(authtest.Account{
		ID: 1, Username: "alice", Password: "pw-alice", Name: "Alice Smith",
		Email: "alice@school.org", Roles: []string{common.RoleTeacher},
	})
	srv.AddAccount(authtest.Account{
		ID: 2, Username: "root", Password: "pw-root", Name: "Admin",
		Email: "root@school.org", Roles: []string{common.RoleAdmin},
	})
	return srv
}

// newTestApp builds an App over an in-memory credential store with input
// fed from a string.
func newTestApp(t *testing.T, srv *authtest.Server, repo metadata.Repository, input string) (*App, *bytes.Buffer) {
	t.Helper()
	stubTerminal(t, false)

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.ServerURL = srv.URL
	if repo == nil {
		repo = metadata.NewMemoryRepository()
	}

	var out bytes.Buffer
	a, err := newApp(cfg, logging.Discard(), repo, strings.NewReader(input), &out)
	require.NoError(t, err)
	return a, &out
}

func TestNewApp_InvalidServerURL(t *testing.T) {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.ServerURL = "://nope"

	_, err := newApp(cfg, logging.Discard(), metadata.NewMemoryRepository(), strings.NewReader(""), &bytes.Buffer{})
	require.Error(t, err)
}

func TestIsLoggedInAndStatus(t *testing.T) {
	srv := newBackend(t)
	a, _ := newTestApp(t, srv, nil, "alice\npw-alice\nn\n")
	ctx := context.Background()

	assert.False(t, a.isLoggedIn())
	assert.Equal(t, common.LoginPath, a.getStatus())

	require.NoError(t, a.Login(ctx))
	assert.True(t, a.isLoggedIn())
	assert.Equal(t, "(alice ROLE_TEACHER) /dashboard", a.getStatus())
}

func TestApp_RestoresStoredSession(t *testing.T) {
	srv := newBackend(t)
	ctx := context.Background()
	token, err := srv.TokenFor("alice")
	require.NoError(t, err)

	repo := metadata.NewMemoryRepository()
	store := credstore.New(repo, logging.Discard())
	require.NoError(t, store.SaveSession(ctx, token, models.User{ID: 1, Username: "alice", Role: common.RoleTeacher}))

	a, out := newTestApp(t, srv, repo, "")
	a.session.Bootstrap(ctx)
	require.True(t, a.isLoggedIn())

	require.NoError(t, a.Open(ctx, "/classes"))
	assert.Equal(t, "/classes", a.router.Current())
	assert.Contains(t, out.String(), "Maria Ivanova")
}

func TestApp_PartialStoredSessionIsDiscarded(t *testing.T) {
	srv := newBackend(t)
	ctx := context.Background()

	repo := metadata.NewMemoryRepository()
	require.NoError(t, repo.Set(ctx, credstore.KeyToken, []byte("orphan-token")))

	a, out := newTestApp(t, srv, repo, "")
	a.session.Bootstrap(ctx)
	assert.False(t, a.isLoggedIn())

	require.NoError(t, a.Open(ctx, "/profile"))
	assert.Equal(t, "/login?redirect=%2Fprofile", a.router.Current())
	assert.Contains(t, out.String(), "Please sign in to continue.")

	v, err := repo.Get(ctx, credstore.KeyToken)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestApp_UnauthenticatedRedirectThenLoginReturns(t *testing.T) {
	srv := newBackend(t)
	a, out := newTestApp(t, srv, nil, "alice\npw-alice\nn\n")
	ctx := context.Background()

	require.NoError(t, a.Open(ctx, "/classes"))
	assert.Equal(t, "/login?redirect=%2Fclasses", a.router.Current())

	require.NoError(t, a.Login(ctx))
	assert.Equal(t, "/classes", a.router.Current())
	assert.Contains(t, out.String(), "Signed in as alice (ROLE_TEACHER).")
	assert.Contains(t, out.String(), "Maria Ivanova")
}

func TestApp_RoleGuard(t *testing.T) {
	srv := newBackend(t)
	ctx := context.Background()

	teacher, out := newTestApp(t, srv, nil, "alice\npw-alice\nn\n")
	require.NoError(t, teacher.Login(ctx))
	require.NoError(t, teacher.Open(ctx, "/admin/users"))
	assert.Equal(t, common.LandingPath, teacher.router.Current())
	assert.Contains(t, out.String(), "Access denied (role ROLE_TEACHER not permitted)")

	admin, out := newTestApp(t, srv, nil, "root\npw-root\nn\n")
	require.NoError(t, admin.Login(ctx))
	require.NoError(t, admin.Open(ctx, "/admin/users"))
	assert.Equal(t, "/admin/users", admin.router.Current())
	assert.Contains(t, out.String(), `"username": "alice"`)
}

func TestApp_SessionExpiredWhileBrowsing(t *testing.T) {
	srv := newBackend(t)
	a, out := newTestApp(t, srv, nil, "alice\npw-alice\nn\n")
	ctx := context.Background()

	require.NoError(t, a.Login(ctx))
	token, ok := a.store.Token(ctx)
	require.True(t, ok)
	srv.Revoke(token)

	err := a.Open(ctx, "/classes")
	require.Error(t, err)
	assert.Equal(t, "Session expired", errorText(err))

	assert.False(t, a.isLoggedIn())
	assert.Equal(t, "/login?redirect=%2Fclasses", a.router.Current())
	assert.Contains(t, out.String(), "your session has expired")
	_, ok = a.store.Token(ctx)
	assert.False(t, ok)
}

func TestApp_OpenUnknownView(t *testing.T) {
	srv := newBackend(t)
	a, _ := newTestApp(t, srv, nil, "")

	err := a.Open(context.Background(), "/nowhere")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown view")
	assert.Contains(t, err.Error(), "/dashboard")
	assert.Equal(t, common.LoginPath, a.router.Current())
}

func TestApp_GetPrintsJSON(t *testing.T) {
	srv := newBackend(t)
	a, out := newTestApp(t, srv, nil, "alice\npw-alice\nn\n")
	ctx := context.Background()
	require.NoError(t, a.Login(ctx))
	out.Reset()

	require.NoError(t, a.Get(ctx, "/api/students"))
	assert.Contains(t, out.String(), `"name": "Anna Sidorova"`)
}

func TestApp_Run(t *testing.T) {
	capturePrint(t)
	srv := newBackend(t)
	input := strings.Join([]string{
		"login", "alice", "pw-alice", "y",
		"whoami",
		"open /profile",
		"logout",
		"exit",
	}, "\n")
	a, out := newTestApp(t, srv, nil, input)

	a.Run(context.Background())

	text := out.String()
	assert.Contains(t, text, "Welcome to classdesk")
	assert.Contains(t, text, "== Sign in ==")
	assert.Contains(t, text, "Username: alice")
	assert.Contains(t, text, "Email:    alice@school.org")
	assert.Contains(t, text, "== Profile ==")
	assert.Contains(t, text, "Signed out.")
	assert.False(t, a.isLoggedIn())
	assert.Equal(t, common.LoginPath, a.router.Current())
}
