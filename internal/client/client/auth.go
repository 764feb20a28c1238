package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/classdesk/internal/client/models"
	"github.com/dmitrijs2005/classdesk/internal/common"
	"github.com/dmitrijs2005/classdesk/internal/logging"
)

// Backend auth endpoints.
const (
	PathSignIn                = "/api/auth/signin"
	PathSignUp                = "/api/auth/signup"
	PathSignOut               = "/api/auth/signout"
	PathMe                    = "/api/auth/me"
	PathSendVerificationCode  = "/api/auth/send-verification-code"
	PathVerifyUsernameEmail   = "/api/auth/verify-username-email"
	PathResetPasswordWithCode = "/api/auth/reset-password-with-code"
	PathResetPassword         = "/api/auth/reset-password"
	PathValidateResetToken    = "/api/auth/reset-password/validate"
	PathChangePassword        = "/api/auth/change-password"
)

// AuthClient talks to the backend's auth endpoints and irons out the
// differences between the response shapes it may send.
type AuthClient struct {
	p   *Pipeline
	log logging.Logger
}

func NewAuthClient(p *Pipeline, log logging.Logger) *AuthClient {
	return &AuthClient{p: p, log: log.With("component", "auth-gateway")}
}

// userPayload covers the shapes seen for a user record: flat or nested
// under "user", roles as a list or a single "role".
type userPayload struct {
	Token       string       `json:"token"`
	AccessToken string       `json:"accessToken"`
	ID          int64        `json:"id"`
	Username    string       `json:"username"`
	Name        string       `json:"name"`
	Email       string       `json:"email"`
	Gender      string       `json:"gender"`
	Phone       string       `json:"phone"`
	Roles       []string     `json:"roles"`
	Role        string       `json:"role"`
	User        *userPayload `json:"user"`
}

func (u *userPayload) toUser() models.User {
	src := u
	if u.User != nil {
		src = u.User
	}
	role := common.DefaultRole
	switch {
	case len(src.Roles) > 0 && src.Roles[0] != "":
		role = src.Roles[0]
	case common.Present(src.Role):
		role = src.Role
	}
	return models.User{
		ID:       src.ID,
		Username: src.Username,
		Name:     src.Name,
		Email:    src.Email,
		Role:     role,
		Gender:   src.Gender,
		Phone:    src.Phone,
	}
}

func (u *userPayload) token() string {
	for _, t := range []string{u.Token, u.AccessToken} {
		if common.Present(t) {
			return t
		}
	}
	return ""
}

// unwrapData strips a {"data": {...}} envelope when present.
func unwrapData(raw json.RawMessage) json.RawMessage {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if json.Unmarshal(raw, &env) == nil {
		d := bytes.TrimSpace(env.Data)
		if len(d) > 0 && d[0] == '{' {
			return d
		}
	}
	return raw
}

func decodeUser(raw json.RawMessage) (*userPayload, error) {
	var payload userPayload
	if err := json.Unmarshal(unwrapData(raw), &payload); err != nil {
		return nil, &APIError{Kind: KindServer, Message: "malformed response", Err: err}
	}
	return &payload, nil
}

// SignIn authenticates the user. The returned Token is empty when the
// backend did not issue one; no placeholder is ever made up.
func (c *AuthClient) SignIn(ctx context.Context, username, password string) (*models.SignInResult, error) {
	var raw json.RawMessage
	err := c.p.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   PathSignIn,
		Body:   map[string]string{"username": username, "password": password},
		Public: true,
	}, &raw)
	if err != nil {
		return nil, err
	}

	payload, err := decodeUser(raw)
	if err != nil {
		return nil, err
	}
	res := &models.SignInResult{Token: payload.token(), User: payload.toUser()}
	if res.Token == "" {
		c.log.Warn(ctx, "sign-in answer carries no token", "username", username)
	}
	return res, nil
}

// SignUp creates an account. It does not sign the new user in.
func (c *AuthClient) SignUp(ctx context.Context, req models.SignUpRequest) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.p.Do(ctx, Request{Method: http.MethodPost, Path: PathSignUp, Body: req, Public: true}, &raw)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// SignOut tells the backend the session ends. Failures are logged only. A
// rejected token does not trigger the forced logout; the caller is ending
// the session anyway.
func (c *AuthClient) SignOut(ctx context.Context) error {
	req := Request{Method: http.MethodPost, Path: PathSignOut, KeepSession: true}
	if err := c.p.Do(ctx, req, nil); err != nil {
		c.log.Warn(ctx, "remote sign-out failed", "error", err)
	}
	return nil
}

// Me fetches the current user's profile.
func (c *AuthClient) Me(ctx context.Context) (*models.User, error) {
	var raw json.RawMessage
	if err := c.p.Do(ctx, Request{Method: http.MethodGet, Path: PathMe}, &raw); err != nil {
		return nil, err
	}
	payload, err := decodeUser(raw)
	if err != nil {
		return nil, err
	}
	u := payload.toUser()
	return &u, nil
}

// boolField reads the first boolean among keys from a JSON object. ok is false
// when none is present.
func boolField(raw json.RawMessage, keys ...string) (value bool, ok bool) {
	var m map[string]any
	if json.Unmarshal(unwrapData(raw), &m) != nil {
		return false, false
	}
	for _, k := range keys {
		if b, isBool := m[k].(bool); isBool {
			return b, true
		}
	}
	return false, false
}

// VerifyIdentity checks that username and email belong to the same account.
// Any failure reads as "not matched".
func (c *AuthClient) VerifyIdentity(ctx context.Context, username, email string) bool {
	var raw json.RawMessage
	err := c.p.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   PathVerifyUsernameEmail,
		Body:   map[string]string{"username": username, "email": email},
		Public: true,
	}, &raw)
	if err != nil {
		c.log.Warn(ctx, "identity verification failed", "error", err)
		return false
	}
	matched, _ := boolField(raw, "matched", "valid", "exists", "success")
	return matched
}

// RequestVerificationCode asks the backend to mail a reset code to email.
func (c *AuthClient) RequestVerificationCode(ctx context.Context, email string) (bool, error) {
	var raw json.RawMessage
	err := c.p.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   PathSendVerificationCode,
		Body:   map[string]string{"email": email},
		Public: true,
	}, &raw)
	if err != nil {
		return false, err
	}
	if sent, ok := boolField(raw, "sent", "success"); ok {
		return sent, nil
	}
	return true, nil
}

// ResetPasswordWithCode sets a new password using a mailed code.
func (c *AuthClient) ResetPasswordWithCode(ctx context.Context, username, email, code, newPassword string) error {
	return c.p.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   PathResetPasswordWithCode,
		Body: map[string]string{
			"username":    username,
			"email":       email,
			"code":        code,
			"newPassword": newPassword,
		},
		Public: true,
	}, nil)
}

// ResetPasswordByToken sets a new password using a reset-link token.
func (c *AuthClient) ResetPasswordByToken(ctx context.Context, token, newPassword string) error {
	return c.p.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   PathResetPassword,
		Body:   map[string]string{"token": token, "password": newPassword},
		Public: true,
	}, nil)
}

// ValidateResetToken reports whether a reset-link token is still usable.
// A 4xx answer means "not valid"; other failures are returned.
func (c *AuthClient) ValidateResetToken(ctx context.Context, token string) (bool, error) {
	var raw json.RawMessage
	err := c.p.Do(ctx, Request{
		Method: http.MethodGet,
		Path:   PathValidateResetToken,
		Query:  url.Values{"token": {token}},
		Public: true,
	}, &raw)
	if err != nil {
		if errors.Is(err, ErrValidation) || errors.Is(err, ErrUnauthorized) {
			return false, nil
		}
		return false, err
	}
	if valid, ok := boolField(raw, "valid", "success"); ok {
		return valid, nil
	}
	return true, nil
}

// ChangePassword changes the signed-in user's password. A rejected old
// password comes back as an error without ending the session.
func (c *AuthClient) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	return c.p.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   PathChangePassword,
		Body:   map[string]string{"oldPassword": oldPassword, "newPassword": newPassword},
	}, nil)
}

// Get performs an authorized GET of an arbitrary backend path and returns
// the raw JSON answer.
func (c *AuthClient) Get(ctx context.Context, path string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.p.Do(ctx, Request{Method: http.MethodGet, Path: strings.TrimSpace(path)}, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
