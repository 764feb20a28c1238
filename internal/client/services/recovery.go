package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/dmitrijs2005/classdesk/internal/client/client"
	"github.com/dmitrijs2005/classdesk/internal/logging"
)

// MinPasswordLength is the shortest password the forms accept.
const MinPasswordLength = 6

var (
	// ErrIdentityMismatch means username and email belong to different
	// accounts, or to none.
	ErrIdentityMismatch = errors.New("username and email do not match")

	// ErrCodeNotSent means the backend declined to send a verification code.
	ErrCodeNotSent = errors.New("verification code was not sent")

	// ErrResetLinkInvalid means the reset-link token is unknown or expired.
	ErrResetLinkInvalid = errors.New("reset link is invalid or has expired")
)

// RecoveryGateway is the part of the auth gateway used by password flows.
type RecoveryGateway interface {
	VerifyIdentity(ctx context.Context, username, email string) bool
	RequestVerificationCode(ctx context.Context, email string) (bool, error)
	ResetPasswordWithCode(ctx context.Context, username, email, code, newPassword string) error
	ResetPasswordByToken(ctx context.Context, token, newPassword string) error
	ValidateResetToken(ctx context.Context, token string) (bool, error)
	ChangePassword(ctx context.Context, oldPassword, newPassword string) error
}

// RecoveryService runs the forgot-password, reset-link and change-password
// flows. Input is checked locally before anything is sent; such failures
// match client.ErrValidation.
type RecoveryService struct {
	gw  RecoveryGateway
	log logging.Logger
}

func NewRecoveryService(gw RecoveryGateway, log logging.Logger) *RecoveryService {
	return &RecoveryService{gw: gw, log: log.With("component", "recovery")}
}

func invalid(fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(fields))
	for _, k := range []string{"username", "email", "code", "token", "oldPassword", "password", "confirm"} {
		if m, ok := fields[k]; ok {
			msgs = append(msgs, m)
		}
	}
	return &client.APIError{Kind: client.KindValidation, Message: strings.Join(msgs, "; "), Fields: fields}
}

func checkEmail(fields map[string]string, email string) {
	if strings.TrimSpace(email) == "" {
		fields["email"] = "email is required"
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != strings.TrimSpace(email) {
		fields["email"] = "email is not valid"
	}
}

func checkNewPassword(fields map[string]string, password, confirm string) {
	switch {
	case len(password) < MinPasswordLength:
		fields["password"] = "password must be at least 6 characters"
	case password != confirm:
		fields["confirm"] = "passwords do not match"
	}
}

// VerifyIdentity checks that username and email belong to one account.
func (s *RecoveryService) VerifyIdentity(ctx context.Context, username, email string) error {
	fields := map[string]string{}
	if strings.TrimSpace(username) == "" {
		fields["username"] = "username is required"
	}
	checkEmail(fields, email)
	if err := invalid(fields); err != nil {
		return err
	}

	if !s.gw.VerifyIdentity(ctx, username, strings.TrimSpace(email)) {
		return ErrIdentityMismatch
	}
	return nil
}

// SendCode asks the backend to mail a verification code to email.
func (s *RecoveryService) SendCode(ctx context.Context, email string) error {
	fields := map[string]string{}
	checkEmail(fields, email)
	if err := invalid(fields); err != nil {
		return err
	}

	sent, err := s.gw.RequestVerificationCode(ctx, strings.TrimSpace(email))
	if err != nil {
		return err
	}
	if !sent {
		return ErrCodeNotSent
	}
	s.log.Info(ctx, "verification code requested")
	return nil
}

// ResetWithCode sets a new password using a mailed verification code.
func (s *RecoveryService) ResetWithCode(ctx context.Context, username, email, code, password, confirm string) error {
	fields := map[string]string{}
	if strings.TrimSpace(username) == "" {
		fields["username"] = "username is required"
	}
	checkEmail(fields, email)
	if strings.TrimSpace(code) == "" {
		fields["code"] = "verification code is required"
	}
	checkNewPassword(fields, password, confirm)
	if err := invalid(fields); err != nil {
		return err
	}

	return s.gw.ResetPasswordWithCode(ctx, username, strings.TrimSpace(email), strings.TrimSpace(code), password)
}

// ResetWithToken sets a new password through a reset link.
func (s *RecoveryService) ResetWithToken(ctx context.Context, token, password, confirm string) error {
	fields := map[string]string{}
	if strings.TrimSpace(token) == "" {
		fields["token"] = "reset link is incomplete"
	}
	checkNewPassword(fields, password, confirm)
	if err := invalid(fields); err != nil {
		return err
	}

	ok, err := s.gw.ValidateResetToken(ctx, token)
	if err != nil {
		return err
	}
	if !ok {
		return ErrResetLinkInvalid
	}
	return s.gw.ResetPasswordByToken(ctx, token, password)
}

// ChangePassword changes the signed-in user's password. A wrong old password
// is reported without ending the session.
func (s *RecoveryService) ChangePassword(ctx context.Context, oldPassword, password, confirm string) error {
	fields := map[string]string{}
	if oldPassword == "" {
		fields["oldPassword"] = "current password is required"
	}
	checkNewPassword(fields, password, confirm)
	if _, bad := fields["password"]; !bad && oldPassword != "" && password == oldPassword {
		fields["password"] = "new password must differ from the current one"
	}
	if err := invalid(fields); err != nil {
		return err
	}

	return s.gw.ChangePassword(ctx, oldPassword, password)
}
