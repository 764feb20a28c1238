package guard

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/classdesk/internal/client/credstore"
	"github.com/dmitrijs2005/classdesk/internal/client/models"
	"github.com/dmitrijs2005/classdesk/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/classdesk/internal/common"
	"github.com/dmitrijs2005/classdesk/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticUser struct{ u *models.User }

func (s staticUser) CurrentUser() *models.User { return s.u }

func newRouter(t *testing.T, role string) (*Router, *credstore.Store, *metadata.MemoryRepository) {
	t.Helper()
	repo := metadata.NewMemoryRepository()
	store := credstore.New(repo, logging.Discard())
	var user *models.User
	if role != "" {
		user = &models.User{ID: 1, Username: "alice", Role: role}
		require.NoError(t, store.SaveSession(context.Background(), "abc123", *user))
	}
	return NewRouter(store, staticUser{u: user}, logging.Discard()), store, repo
}

func TestPublicViewsAlwaysOpen(t *testing.T) {
	r, _, _ := newRouter(t, "")
	for _, path := range []string{"/login", "/register", "/forgot-password", "/login?redirect=%2Fprofile"} {
		d, err := r.Go(context.Background(), path)
		require.NoError(t, err)
		assert.True(t, d.Allowed, path)
		assert.Equal(t, path, d.Location)
	}
}

func TestProtectedViewWithoutSessionRedirectsToLogin(t *testing.T) {
	r, _, _ := newRouter(t, "")

	d, err := r.Go(context.Background(), "/profile")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "/login?redirect=%2Fprofile", d.Location)
	assert.Equal(t, common.LoginPath, d.Route.Path)
	assert.Equal(t, "/login?redirect=%2Fprofile", r.Current())
	assert.Equal(t, "/profile", RedirectTarget(r.Current()))
}

func TestAuthGuardClearsPartialSession(t *testing.T) {
	tests := map[string]map[string]string{
		"token only":        {credstore.KeyToken: "abc123"},
		"sentinel token":    {credstore.KeyToken: "undefined", credstore.KeyUser: `{"id":1,"role":"ROLE_ADMIN"}`},
		"user without id":   {credstore.KeyToken: "abc123", credstore.KeyUser: `{"username":"alice"}`},
		"unparsable user":   {credstore.KeyToken: "abc123", credstore.KeyUser: `{`},
		"user, null token":  {credstore.KeyToken: "null", credstore.KeyUser: `{"id":1}`},
		"user and no token": {credstore.KeyUser: `{"id":1}`},
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			repo := metadata.NewMemoryRepository()
			ctx := context.Background()
			for k, v := range data {
				require.NoError(t, repo.Set(ctx, k, []byte(v)))
			}
			r := NewRouter(credstore.New(repo, logging.Discard()), nil, logging.Discard())

			d, err := r.Check(ctx, "/dashboard")
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, "/login?redirect=%2Fdashboard", d.Location)

			all, err := repo.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestRoleGuard(t *testing.T) {
	restricted := Route{
		Path:      "/reports",
		Protected: true,
		Roles:     []string{common.RoleAdmin, common.RoleHeadTeacher},
	}

	tests := []struct {
		role    string
		allowed bool
	}{
		{common.RoleTeacher, false},
		{common.RoleUser, false},
		{common.RoleAdmin, true},
		{common.RoleHeadTeacher, true},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			repo := metadata.NewMemoryRepository()
			store := credstore.New(repo, logging.Discard())
			user := &models.User{ID: 1, Username: "alice", Role: tt.role}
			require.NoError(t, store.SaveSession(context.Background(), "abc123", *user))

			r := NewRouter(store, staticUser{u: user}, logging.Discard(),
				Route{Path: common.LandingPath, Protected: true},
				restricted,
			)

			d, err := r.Go(context.Background(), "/reports")
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)
			if tt.allowed {
				assert.Equal(t, "/reports", d.Location)
			} else {
				assert.Equal(t, common.LandingPath, d.Location)
				assert.Equal(t, common.LandingPath, d.Route.Path)
			}
		})
	}
}

func TestRoleGuardCustomFallback(t *testing.T) {
	repo := metadata.NewMemoryRepository()
	store := credstore.New(repo, logging.Discard())
	user := &models.User{ID: 1, Role: common.RoleTeacher}
	require.NoError(t, store.SaveSession(context.Background(), "abc123", *user))

	r := NewRouter(store, staticUser{u: user}, logging.Discard(),
		Route{Path: "/denied"},
		Route{Path: "/admin", Protected: true, Roles: []string{common.RoleAdmin}, Fallback: "/denied"},
	)
	d, err := r.Check(context.Background(), "/admin")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "/denied", d.Location)
}

func TestEmptyRoleSetAllowsAnySignedInUser(t *testing.T) {
	r, _, _ := newRouter(t, common.RoleUser)
	d, err := r.Go(context.Background(), "profile")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "/profile", d.Location)
}

func TestRoleGuardPrefersLiveSessionUser(t *testing.T) {
	repo := metadata.NewMemoryRepository()
	store := credstore.New(repo, logging.Discard())
	require.NoError(t, store.SaveSession(context.Background(), "abc123", models.User{ID: 1, Role: common.RoleTeacher}))

	promoted := &models.User{ID: 1, Role: common.RoleAdmin}
	r := NewRouter(store, staticUser{u: promoted}, logging.Discard())

	d, err := r.Check(context.Background(), "/admin/users")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestDefaultRoutes(t *testing.T) {
	for _, tt := range []struct {
		role    string
		target  string
		allowed bool
	}{
		{common.RoleTeacher, "/classes", true},
		{common.RoleTeacher, "/admin/users", false},
		{common.RoleUser, "/classes", false},
		{common.RoleAdmin, "/admin/users", true},
		{common.RoleHeadTeacher, "/classes", true},
	} {
		r, _, _ := newRouter(t, tt.role)
		d, err := r.Check(context.Background(), tt.target)
		require.NoError(t, err)
		assert.Equal(t, tt.allowed, d.Allowed, "%s -> %s", tt.role, tt.target)
	}
}

func TestUnknownView(t *testing.T) {
	r, _, _ := newRouter(t, common.RoleAdmin)
	_, err := r.Go(context.Background(), "/nowhere")
	require.ErrorIs(t, err, ErrUnknownView)
	assert.Equal(t, common.LoginPath, r.Current())

	r.Navigate("/nowhere")
	assert.Equal(t, common.LoginPath, r.Current())
}

func TestNavigateAndListeners(t *testing.T) {
	r, _, _ := newRouter(t, common.RoleTeacher)
	var seen []Decision
	r.OnChange(func(d Decision) { seen = append(seen, d) })

	r.Navigate("/dashboard")
	r.Navigate("/admin/users")

	require.Len(t, seen, 2)
	assert.True(t, seen[0].Allowed)
	assert.False(t, seen[1].Allowed)
	assert.Equal(t, common.LandingPath, r.Current())
}

func TestRedirectTarget(t *testing.T) {
	tests := map[string]string{
		"/login?redirect=%2Fadmin%2Fusers":       "/admin/users",
		"/login?redirect=%2Fclasses%3Fgrade%3D7": "/classes?grade=7",
		"/login":                                 common.LandingPath,
		"/login?redirect=":                       common.LandingPath,
		"/login?redirect=https%3A%2F%2Fevil.org": common.LandingPath,
		"/login?redirect=%2F%2Fevil.org":         common.LandingPath,
		"/login?redirect=%2Flogin":               common.LandingPath,
		"/login?redirect=%zz":                    common.LandingPath,
	}
	for in, want := range tests {
		assert.Equal(t, want, RedirectTarget(in), in)
	}
}
