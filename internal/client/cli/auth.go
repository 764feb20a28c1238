package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/classdesk/internal/client/client"
	"github.com/dmitrijs2005/classdesk/internal/client/guard"
	"github.com/dmitrijs2005/classdesk/internal/client/models"
	"github.com/dmitrijs2005/classdesk/internal/client/services"
	"github.com/dmitrijs2005/classdesk/internal/common"
)

// getSimpleText, getPassword and getConfirm are indirections used to
// facilitate testing. They point to interactive input helpers and can be
// swapped in tests.
var (
	getSimpleText = GetSimpleText
	getPassword   = GetPassword
	getConfirm    = GetConfirm
)

var errNotLoggedIn = errors.New("not signed in, use 'login' first")

// errorText is the message shown for err.
func errorText(err error) string {
	return client.Message(err)
}

// Login prompts for credentials and signs in. After success the user is
// taken to the view that sent them to the login screen, or the dashboard.
func (a *App) Login(ctx context.Context) error {
	if a.isLoggedIn() {
		fmt.Fprintln(a.out, "Already signed in, use 'logout' first.")
		return nil
	}

	prompt := "Username"
	remembered, hasRemembered := a.store.RememberedUsername(ctx)
	if hasRemembered {
		prompt = fmt.Sprintf("Username [%s]", remembered)
	}
	username, err := getSimpleText(a.reader, prompt, a.out)
	if err != nil {
		return err
	}
	if username == "" && hasRemembered {
		username = remembered
	}

	password, err := getPassword(a.reader, "Password", a.out)
	if err != nil {
		return err
	}
	defer wipe(password)

	a.session.ClearError()
	if err := a.session.Login(ctx, username, string(password)); err != nil {
		if errors.Is(err, services.ErrOperationInProgress) || errors.Is(err, services.ErrSessionSuperseded) {
			return err
		}
		if msg := a.session.Snapshot().LastError; msg != "" {
			return errors.New(msg)
		}
		return err
	}

	remember, err := getConfirm(a.reader, "Remember username on this device?", a.out)
	if err == nil {
		if remember {
			err = a.store.Remember(ctx, username)
		} else {
			err = a.store.ClearRemembered(ctx)
		}
	}
	if err != nil {
		a.log.Warn(ctx, "updating remembered username", "error", err)
	}

	u := a.session.CurrentUser()
	fmt.Fprintf(a.out, "Signed in as %s (%s).\n", u.Username, u.Role)
	return a.Open(ctx, guard.RedirectTarget(a.router.Current()))
}

// Register creates an account. The new account is not signed in.
func (a *App) Register(ctx context.Context) error {
	username, err := getSimpleText(a.reader, "Username", a.out)
	if err != nil {
		return err
	}
	name, err := getSimpleText(a.reader, "Full name", a.out)
	if err != nil {
		return err
	}
	email, err := getSimpleText(a.reader, "Email", a.out)
	if err != nil {
		return err
	}
	gender, err := getSimpleText(a.reader, "Gender (optional)", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.reader, "Password", a.out)
	if err != nil {
		return err
	}
	defer wipe(password)
	confirm, err := getPassword(a.reader, "Repeat password", a.out)
	if err != nil {
		return err
	}
	defer wipe(confirm)
	if string(password) != string(confirm) {
		return errors.New("passwords do not match")
	}

	a.session.ClearError()
	raw, err := a.session.Register(ctx, models.SignUpRequest{
		Username: username,
		Password: string(password),
		Email:    email,
		Name:     name,
		Gender:   gender,
	})
	if err != nil {
		return err
	}

	msg := "Account created."
	var body struct {
		Message string `json:"message"`
	}
	if decodeJSON(raw, &body) == nil && body.Message != "" {
		msg = body.Message + "."
	}
	fmt.Fprintln(a.out, msg, "You can now sign in with 'login'.")
	return a.Open(ctx, common.LoginPath)
}

// Logout ends the session. It always succeeds locally.
func (a *App) Logout(ctx context.Context) error {
	a.session.Logout(ctx)
	fmt.Fprintln(a.out, "Signed out.")
	return a.Open(ctx, common.LoginPath)
}

// WhoAmI prints the signed-in user.
func (a *App) WhoAmI(ctx context.Context) error {
	u := a.session.CurrentUser()
	if u == nil {
		return errNotLoggedIn
	}
	printUser(a.out, u, a.session.Capabilities())
	return nil
}

// Refresh re-reads the user profile so role changes take effect.
func (a *App) Refresh(ctx context.Context) error {
	u, err := a.session.Refresh(ctx)
	if err != nil {
		if errors.Is(err, services.ErrNotAuthenticated) {
			return errNotLoggedIn
		}
		return err
	}
	fmt.Fprintf(a.out, "Profile refreshed, role: %s.\n", u.Role)
	return nil
}
