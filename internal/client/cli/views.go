package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/classdesk/internal/client/guard"
	"github.com/dmitrijs2005/classdesk/internal/client/models"
	"github.com/dmitrijs2005/classdesk/internal/common"
)

// viewData maps data-backed views to the backend path they list.
var viewData = map[string]string{
	"/classes":     "/api/classes",
	"/admin/users": "/api/admin/users",
}

// Open navigates to view and renders it. A guard redirect is announced by
// the router listener and the view actually reached is rendered instead.
func (a *App) Open(ctx context.Context, view string) error {
	d, err := a.router.Go(ctx, view)
	if err != nil {
		if errors.Is(err, guard.ErrUnknownView) {
			return fmt.Errorf("%w: %s (known: %s)", err, view, strings.Join(a.viewNames(), ", "))
		}
		return err
	}
	return a.render(ctx, d)
}

func (a *App) viewNames() []string {
	routes := guard.DefaultRoutes()
	names := make([]string, 0, len(routes))
	for _, rt := range routes {
		names = append(names, rt.Path)
	}
	return names
}

func (a *App) render(ctx context.Context, d guard.Decision) error {
	fmt.Fprintf(a.out, "== %s ==\n", d.Route.Title)

	switch d.Route.Path {
	case common.LoginPath:
		fmt.Fprintln(a.out, "Type 'login' to sign in, 'register' to create an account or 'forgot' to recover a password.")
	case common.RegisterPath:
		fmt.Fprintln(a.out, "Type 'register' to create an account.")
	case common.ForgotPasswordPath:
		fmt.Fprintln(a.out, "Type 'forgot' to receive a verification code, or 'reset <token>' to use a reset link.")
	case common.LandingPath:
		u := a.session.CurrentUser()
		if u == nil {
			return nil
		}
		name := u.Name
		if name == "" {
			name = u.Username
		}
		fmt.Fprintf(a.out, "Hello, %s.\n", name)
		printCapabilities(a.out, a.session.Capabilities())
	case "/profile":
		if u := a.session.CurrentUser(); u != nil {
			printUser(a.out, u, a.session.Capabilities())
		}
	default:
		if path, ok := viewData[d.Route.Path]; ok {
			return a.Get(ctx, path)
		}
	}
	return nil
}

// Get fetches an API path with the current session and prints the answer.
func (a *App) Get(ctx context.Context, path string) error {
	raw, err := a.gateway.Get(ctx, path)
	if err != nil {
		return err
	}
	return printJSON(a.out, raw)
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		_, err := fmt.Fprintln(w, "(empty)")
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	_, err := fmt.Fprintln(w, buf.String())
	return err
}

func decodeJSON(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return io.EOF
	}
	return json.Unmarshal(raw, v)
}

func printUser(w io.Writer, u *models.User, caps models.Capabilities) {
	fmt.Fprintf(w, "Username: %s\n", u.Username)
	if u.Name != "" {
		fmt.Fprintf(w, "Name:     %s\n", u.Name)
	}
	if u.Email != "" {
		fmt.Fprintf(w, "Email:    %s\n", u.Email)
	}
	if u.Phone != "" {
		fmt.Fprintf(w, "Phone:    %s\n", u.Phone)
	}
	fmt.Fprintf(w, "Role:     %s\n", u.Role)
	printCapabilities(w, caps)
}

func printCapabilities(w io.Writer, caps models.Capabilities) {
	var granted []string
	if caps.ManageUsers {
		granted = append(granted, "manage users")
	}
	if caps.ManageClasses {
		granted = append(granted, "manage classes")
	}
	if caps.ReadOnly {
		granted = append(granted, "read only")
	}
	if len(granted) == 0 {
		granted = append(granted, "none")
	}
	fmt.Fprintf(w, "Access:   %s\n", strings.Join(granted, ", "))
}
