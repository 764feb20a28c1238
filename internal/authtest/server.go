// Package authtest runs an in-process stand-in for the backend's /api/auth
// endpoints, plus a couple of protected resources, for tests of the client.
package authtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/classdesk/internal/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Account is a user known to the fake backend.
type Account struct {
	ID       int64
	Username string
	Password string
	Name     string
	Email    string
	Gender   string
	Phone    string
	Roles    []string

	hash []byte
}

// Recorded is one request seen by the backend.
type Recorded struct {
	Method        string
	Path          string
	Authorization string
	RequestID     string
}

type claims struct {
	jwt.RegisteredClaims
	UserID int64 `json:"uid"`
}

// Server is the fake backend.
type Server struct {
	*httptest.Server

	secret      []byte
	tokenTTL    time.Duration
	omitToken   bool
	envelope    bool
	signInLimit int
	delay       time.Duration

	mu          sync.Mutex
	nextID      int64
	accounts    map[string]*Account
	revoked     map[string]bool
	codes       map[string]string
	resetTokens map[string]string
	requests    []Recorded
	jti         atomic.Int64
}

// Option tweaks the fake backend.
type Option func(*Server)

// WithoutToken makes sign-in answers omit the token field.
func WithoutToken() Option {
	return func(s *Server) { s.omitToken = true }
}

// WithEnvelope wraps sign-in and profile answers in {"data": ...}.
func WithEnvelope() Option {
	return func(s *Server) { s.envelope = true }
}

// WithSignInRateLimit allows n sign-in attempts per minute per client.
func WithSignInRateLimit(n int) Option {
	return func(s *Server) { s.signInLimit = n }
}

// WithTokenTTL sets the lifetime of issued tokens.
func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) { s.tokenTTL = d }
}

// WithDelay holds every answer for d.
func WithDelay(d time.Duration) Option {
	return func(s *Server) { s.delay = d }
}

// NewServer starts the fake backend. Close it when done.
func NewServer(opts ...Option) *Server {
	s := &Server{
		secret:      []byte("authtest-secret"),
		tokenTTL:    time.Hour,
		nextID:      1,
		accounts:    map[string]*Account{},
		revoked:     map[string]bool{},
		codes:       map[string]string{},
		resetTokens: map[string]string{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

// AddAccount registers a user and returns it with its assigned id.
func (s *Server) AddAccount(a Account) *Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(a)
}

func (s *Server) addLocked(a Account) *Account {
	hash, err := bcrypt.GenerateFromPassword([]byte(a.Password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	acc := a
	acc.hash = hash
	acc.Password = ""
	if acc.ID == 0 {
		acc.ID = s.nextID
	}
	if acc.ID >= s.nextID {
		s.nextID = acc.ID + 1
	}
	s.accounts[acc.Username] = &acc
	return &acc
}

// SetRoles replaces the roles of username.
func (s *Server) SetRoles(username string, roles ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[username]; ok {
		a.Roles = roles
	}
}

// Revoke makes the backend reject token from now on.
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[token] = true
}

// VerificationCode returns the last code mailed to email.
func (s *Server) VerificationCode(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[email]
}

// IssueResetToken creates a reset-link token for username.
func (s *Server) IssueResetToken(username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := fmt.Sprintf("reset-%s-%d", username, len(s.resetTokens)+1)
	s.resetTokens[token] = username
	return token
}

// Requests returns the requests seen so far.
func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recorded(nil), s.requests...)
}

// TokenFor issues a valid token for username without a sign-in round trip.
func (s *Server) TokenFor(username string) (string, error) {
	s.mu.Lock()
	a, ok := s.accounts[username]
	s.mu.Unlock()
	if !ok {
		return "", errors.New("unknown account")
	}
	return s.issue(a)
}

func (s *Server) issue(a *Account) (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        fmt.Sprint(s.jti.Add(1)),
			Subject:   a.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
		UserID: a.ID,
	})
	return t.SignedString(s.secret)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)

	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.signInLimit > 0 {
				r.Use(httprate.LimitByIP(s.signInLimit, time.Minute))
			}
			r.Post("/signin", s.signIn)
		})
		r.Post("/signup", s.signUp)
		r.Post("/send-verification-code", s.sendCode)
		r.Post("/verify-username-email", s.verifyIdentity)
		r.Post("/reset-password-with-code", s.resetWithCode)
		r.Post("/reset-password", s.resetWithToken)
		r.Get("/reset-password/validate", s.validateResetToken)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Post("/signout", s.signOut)
			r.Get("/me", s.me)
			r.Post("/change-password", s.changePassword)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/api/students", s.students)
		r.Get("/api/classes", s.classes)
		r.With(s.requireRole(common.RoleAdmin)).Get("/api/admin/users", s.users)
	})

	return r
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Recorded{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get(common.AuthorizationHeaderName),
			RequestID:     r.Header.Get(common.RequestIDHeaderName),
		})
		s.mu.Unlock()
		if s.delay > 0 {
			select {
			case <-time.After(s.delay):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type ctxKey struct{}

type principal struct {
	account *Account
	token   string
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get(common.AuthorizationHeaderName), common.BearerPrefix)
		if !ok || raw == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Full authentication is required"})
			return
		}

		c := &claims{}
		_, err := jwt.ParseWithClaims(raw, c, func(t *jwt.Token) (any, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

		s.mu.Lock()
		revoked := s.revoked[raw]
		var acc *Account
		if err == nil {
			acc = s.accounts[c.Subject]
		}
		s.mu.Unlock()

		if err != nil || acc == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid token"})
			return
		}
		if revoked {
			writeJSON(w, http.StatusForbidden, map[string]any{"message": "Session expired"})
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, principal{account: acc, token: raw})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := r.Context().Value(ctxKey{}).(principal)
			for _, have := range p.account.Roles {
				for _, want := range roles {
					if have == want {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			writeJSON(w, http.StatusForbidden, map[string]any{"message": "Access denied"})
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "malformed body"})
		return false
	}
	return true
}

func (s *Server) profile(a *Account) map[string]any {
	roles := a.Roles
	if roles == nil {
		roles = []string{}
	}
	return map[string]any{
		"id":       a.ID,
		"username": a.Username,
		"name":     a.Name,
		"email":    a.Email,
		"gender":   a.Gender,
		"phone":    a.Phone,
		"roles":    roles,
	}
}

func (s *Server) wrap(v map[string]any) any {
	if s.envelope {
		return map[string]any{"data": v}
	}
	return v
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}

	s.mu.Lock()
	acc, ok := s.accounts[body.Username]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(acc.hash, []byte(body.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Bad credentials"})
		return
	}

	resp := s.profile(acc)
	if !s.omitToken {
		token, err := s.issue(acc)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"message": err.Error()})
			return
		}
		resp["token"] = token
	}
	writeJSON(w, http.StatusOK, s.wrap(resp))
}

func (s *Server) signUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Email    string `json:"email"`
		Name     string `json:"name"`
		Gender   string `json:"gender"`
		Role     string `json:"role"`
	}
	if !decode(w, r, &body) {
		return
	}

	fields := map[string]string{}
	if body.Username == "" {
		fields["username"] = "must not be blank"
	}
	if len(body.Password) < 6 {
		fields["password"] = "must be at least 6 characters"
	}
	if !strings.Contains(body.Email, "@") {
		fields["email"] = "must be a well-formed email address"
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Validation failed", "errors": fields})
		return
	}

	role := body.Role
	if role == "" {
		role = common.RoleTeacher
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[body.Username]; exists {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Username is already taken"})
		return
	}
	acc := s.addLocked(Account{
		Username: body.Username,
		Password: body.Password,
		Email:    body.Email,
		Name:     body.Name,
		Gender:   body.Gender,
		Roles:    []string{role},
	})
	writeJSON(w, http.StatusOK, map[string]any{"message": "User registered successfully", "id": acc.ID})
}

func (s *Server) signOut(w http.ResponseWriter, r *http.Request) {
	p := r.Context().Value(ctxKey{}).(principal)
	s.Revoke(p.token)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Signed out"})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	p := r.Context().Value(ctxKey{}).(principal)
	s.mu.Lock()
	resp := s.profile(p.account)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.wrap(resp))
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if !decode(w, r, &body) {
		return
	}
	p := r.Context().Value(ctxKey{}).(principal)
	if bcrypt.CompareHashAndPassword(p.account.hash, []byte(body.OldPassword)) != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Old password is incorrect"})
		return
	}
	s.setPassword(p.account.Username, body.NewPassword)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Password changed"})
}

func (s *Server) setPassword(username, password string) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[username]; ok {
		a.hash = hash
	}
}

func (s *Server) findByEmail(email string) *Account {
	for _, a := range s.accounts {
		if strings.EqualFold(a.Email, email) {
			return a
		}
	}
	return nil
}

func (s *Server) sendCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findByEmail(body.Email) == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Email is not registered"})
		return
	}
	s.codes[body.Email] = fmt.Sprintf("%06d", 100000+len(s.codes)+1)
	writeJSON(w, http.StatusOK, map[string]any{"sent": true})
}

func (s *Server) verifyIdentity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	a, ok := s.accounts[body.Username]
	matched := ok && strings.EqualFold(a.Email, body.Email)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"matched": matched})
}

func (s *Server) resetWithCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username    string `json:"username"`
		Email       string `json:"email"`
		Code        string `json:"code"`
		NewPassword string `json:"newPassword"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	a, ok := s.accounts[body.Username]
	valid := ok && strings.EqualFold(a.Email, body.Email) && body.Code != "" && s.codes[body.Email] == body.Code
	s.mu.Unlock()
	if !valid {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Invalid verification code"})
		return
	}
	s.setPassword(body.Username, body.NewPassword)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Password reset"})
}

func (s *Server) resetWithToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	username, ok := s.resetTokens[body.Token]
	delete(s.resetTokens, body.Token)
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Reset link is invalid or expired"})
		return
	}
	s.setPassword(username, body.Password)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Password reset"})
}

func (s *Server) validateResetToken(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	_, ok := s.resetTokens[r.URL.Query().Get("token")]
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"valid": ok})
}

func (s *Server) students(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []map[string]any{
		{"id": 1, "name": "Ivan Petrov", "class": "7A"},
		{"id": 2, "name": "Anna Sidorova", "class": "7A"},
	})
}

func (s *Server) classes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []map[string]any{
		{"id": 1, "name": "7A", "teacher": "Maria Ivanova", "students": 2},
	})
}

func (s *Server) users(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, s.profile(a))
	}
	writeJSON(w, http.StatusOK, out)
}
