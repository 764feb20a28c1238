package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/classdesk/internal/common"
)

// Passwd changes the password of the signed-in user.
func (a *App) Passwd(ctx context.Context) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}

	old, err := getPassword(a.reader, "Current password", a.out)
	if err != nil {
		return err
	}
	defer wipe(old)
	password, confirm, err := a.readNewPassword()
	if err != nil {
		return err
	}
	defer wipe(password)
	defer wipe(confirm)

	if err := a.recovery.ChangePassword(ctx, string(old), string(password), string(confirm)); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Password changed.")
	return nil
}

// Forgot walks through code-based password recovery: identity check,
// verification code, new password.
func (a *App) Forgot(ctx context.Context) error {
	if err := a.Open(ctx, common.ForgotPasswordPath); err != nil {
		return err
	}

	username, err := getSimpleText(a.reader, "Username", a.out)
	if err != nil {
		return err
	}
	email, err := getSimpleText(a.reader, "Email", a.out)
	if err != nil {
		return err
	}
	if err := a.recovery.VerifyIdentity(ctx, username, email); err != nil {
		return err
	}
	if err := a.recovery.SendCode(ctx, email); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "A verification code was sent to %s.\n", email)

	code, err := getSimpleText(a.reader, "Verification code", a.out)
	if err != nil {
		return err
	}
	password, confirm, err := a.readNewPassword()
	if err != nil {
		return err
	}
	defer wipe(password)
	defer wipe(confirm)

	if err := a.recovery.ResetWithCode(ctx, username, email, code, string(password), string(confirm)); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Password reset, you can sign in now.")
	return a.Open(ctx, common.LoginPath)
}

// Reset sets a new password with the token from a reset link.
func (a *App) Reset(ctx context.Context, token string) error {
	password, confirm, err := a.readNewPassword()
	if err != nil {
		return err
	}
	defer wipe(password)
	defer wipe(confirm)

	if err := a.recovery.ResetWithToken(ctx, token, string(password), string(confirm)); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Password reset, you can sign in now.")
	return a.Open(ctx, common.LoginPath)
}

func (a *App) readNewPassword() (password, confirm []byte, err error) {
	password, err = getPassword(a.reader, "New password", a.out)
	if err != nil {
		return nil, nil, err
	}
	confirm, err = getPassword(a.reader, "Repeat new password", a.out)
	if err != nil {
		wipe(password)
		return nil, nil, err
	}
	return password, confirm, nil
}
