// Package guard decides which client view may be shown. A protected view
// needs a usable stored session; a role-restricted view also needs the
// signed-in user to hold one of its roles. Checks are synchronous and never
// touch the network.
package guard

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/dmitrijs2005/classdesk/internal/client/client"
	"github.com/dmitrijs2005/classdesk/internal/client/models"
	"github.com/dmitrijs2005/classdesk/internal/common"
	"github.com/dmitrijs2005/classdesk/internal/logging"
)

// ErrUnknownView is returned for a location no route matches.
var ErrUnknownView = errors.New("unknown view")

// Route describes one view.
type Route struct {
	Path  string
	Title string
	// Protected views require a session.
	Protected bool
	// Roles, when not empty, restricts the view to users holding one of them.
	Roles []string
	// Fallback is shown instead when the role check fails. Defaults to the
	// landing view.
	Fallback string
}

// DefaultRoutes lists the views of the terminal client.
func DefaultRoutes() []Route {
	return []Route{
		{Path: common.LoginPath, Title: "Sign in"},
		{Path: common.RegisterPath, Title: "Create account"},
		{Path: common.ForgotPasswordPath, Title: "Forgot password"},
		{Path: common.LandingPath, Title: "Dashboard", Protected: true},
		{Path: "/profile", Title: "Profile", Protected: true},
		{
			Path: "/classes", Title: "Classes", Protected: true,
			Roles: []string{common.RoleAdmin, common.RoleHeadTeacher, common.RoleTeacher},
		},
		{
			Path: "/admin/users", Title: "User management", Protected: true,
			Roles: []string{common.RoleAdmin},
		},
	}
}

// CredentialReader is the credential-store view the authentication guard
// reads.
type CredentialReader interface {
	Session(ctx context.Context) (string, *models.User, error)
	ClearSession(ctx context.Context) error
}

// UserSource exposes the session manager's current user.
type UserSource interface {
	CurrentUser() *models.User
}

// Decision is the outcome of checking a navigation target.
type Decision struct {
	// Location is where the client ends up.
	Location string
	Route    Route
	// Allowed is false when the guard replaced the target.
	Allowed bool
	Reason  string
}

// Router tracks the current view and applies the guards to every navigation.
type Router struct {
	routes  map[string]Route
	store   CredentialReader
	session UserSource
	log     logging.Logger

	mu        sync.Mutex
	current   string
	listeners []func(Decision)
}

var _ client.Navigator = (*Router)(nil)

func NewRouter(store CredentialReader, session UserSource, log logging.Logger, routes ...Route) *Router {
	if len(routes) == 0 {
		routes = DefaultRoutes()
	}
	r := &Router{
		routes:  make(map[string]Route, len(routes)),
		store:   store,
		session: session,
		log:     log.With("component", "router"),
		current: common.LoginPath,
	}
	for _, rt := range routes {
		if rt.Fallback == "" {
			rt.Fallback = common.LandingPath
		}
		r.routes[rt.Path] = rt
	}
	return r
}

// Routes returns the known routes.
func (r *Router) Routes() map[string]Route {
	out := make(map[string]Route, len(r.routes))
	for k, v := range r.routes {
		out[k] = v
	}
	return out
}

// OnChange registers fn to run after every navigation.
func (r *Router) OnChange(fn func(Decision)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Current returns the location of the view on screen, query included.
func (r *Router) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Navigate moves to target, subject to the guards. Unknown targets are
// logged and ignored.
func (r *Router) Navigate(target string) {
	if _, err := r.Go(context.Background(), target); err != nil {
		r.log.Warn(context.Background(), "navigation ignored", "target", target, "error", err)
	}
}

// Go moves to target, subject to the guards, and reports where the client
// ended up.
func (r *Router) Go(ctx context.Context, target string) (Decision, error) {
	d, err := r.Check(ctx, target)
	if err != nil {
		return d, err
	}

	r.mu.Lock()
	r.current = d.Location
	listeners := append([]func(Decision){}, r.listeners...)
	r.mu.Unlock()

	if !d.Allowed {
		r.log.Info(ctx, "navigation redirected", "target", target, "location", d.Location, "reason", d.Reason)
	}
	for _, fn := range listeners {
		fn(d)
	}
	return d, nil
}

// Check evaluates the guards for target without moving. A partial or
// unreadable stored session found by the authentication guard is cleared.
func (r *Router) Check(ctx context.Context, target string) (Decision, error) {
	path := routePath(target)
	rt, ok := r.routes[path]
	if !ok {
		return Decision{}, ErrUnknownView
	}
	if _, query, found := strings.Cut(target, "?"); found {
		target = path + "?" + query
	} else {
		target = path
	}
	if !rt.Protected {
		return Decision{Location: target, Route: rt, Allowed: true}, nil
	}

	user, ok := r.authenticated(ctx)
	if !ok {
		return r.deny(common.LoginPath, client.LoginLocation(target), "not authenticated"), nil
	}

	if len(rt.Roles) > 0 {
		if r.session != nil {
			if current := r.session.CurrentUser(); current != nil {
				user = current
			}
		}
		if !user.HasRole(rt.Roles...) {
			return r.deny(rt.Fallback, rt.Fallback, "role "+user.Role+" not permitted"), nil
		}
	}
	return Decision{Location: target, Route: rt, Allowed: true}, nil
}

func (r *Router) deny(routeKey, location, reason string) Decision {
	return Decision{Location: location, Route: r.routes[routeKey], Reason: reason}
}

// authenticated reports whether the store holds a usable token and user.
func (r *Router) authenticated(ctx context.Context) (*models.User, bool) {
	_, user, err := r.store.Session(ctx)
	if err == nil {
		return user, true
	}
	if !errors.Is(err, common.ErrorNotFound) {
		r.log.Info(ctx, "stored session unusable, clearing", "error", err)
	}
	if clearErr := r.store.ClearSession(ctx); clearErr != nil {
		r.log.Warn(ctx, "failed to clear stored session", "error", clearErr)
	}
	return nil, false
}

func routePath(location string) string {
	path, _, _ := strings.Cut(strings.TrimSpace(location), "?")
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

// RedirectTarget returns the location queued in a login view's redirect
// parameter, or the landing view when there is none or it is not a local
// path.
func RedirectTarget(location string) string {
	_, rawQuery, _ := strings.Cut(location, "?")
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return common.LandingPath
	}
	target := q.Get(common.RedirectParam)
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return common.LandingPath
	}
	if routePath(target) == common.LoginPath {
		return common.LandingPath
	}
	return target
}
