// Package credstore persists the bearer token and the signed-in user between
// client runs.
//
// Values are kept in a metadata.Repository. Legacy records may contain the
// literal strings "undefined" or "null"; every read normalizes them to
// "absent", so callers only ever see (value, true) or ("", false).
//
// The store is not transactional: the token and the user are two independent
// writes. SaveSession compensates a failed second write by removing the
// first, so a half-written pair is never left behind on error.
package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/classdesk/internal/client/models"
	"github.com/dmitrijs2005/classdesk/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/classdesk/internal/common"
	"github.com/dmitrijs2005/classdesk/internal/logging"
)

// Persisted keys.
const (
	KeyToken              = "token"
	KeyUser               = "user"
	KeyRememberedUsername = "remembered_username"
	KeyRememberMe         = "remember_me"
)

// Store is the process-wide credential store.
type Store struct {
	repo metadata.Repository
	log  logging.Logger
}

func New(repo metadata.Repository, log logging.Logger) *Store {
	return &Store{repo: repo, log: log.With("component", "credstore")}
}

// Get returns the stored value for key. Missing keys, empty values, sentinel
// strings and read failures all report ok=false.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	raw, err := s.repo.Get(ctx, key)
	if err != nil {
		s.log.Warn(ctx, "credential read failed, treating as absent", "key", key, "error", err)
		return "", false
	}
	if raw == nil {
		return "", false
	}
	v := string(raw)
	if !common.Present(v) {
		return "", false
	}
	return v, true
}

// Set overwrites key with value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.repo.Set(ctx, key, []byte(value))
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	return s.repo.Delete(ctx, key)
}

// Token returns the persisted bearer token.
func (s *Store) Token(ctx context.Context) (string, bool) {
	return s.Get(ctx, KeyToken)
}

// User decodes the persisted user record. It returns common.ErrorNotFound
// when nothing is stored and common.ErrStateCorruption when the record
// cannot be used.
func (s *Store) User(ctx context.Context) (*models.User, error) {
	raw, ok := s.Get(ctx, KeyUser)
	if !ok {
		return nil, common.ErrorNotFound
	}

	var u models.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStateCorruption, err)
	}
	if !u.Valid() {
		return nil, fmt.Errorf("%w: user record without id", common.ErrStateCorruption)
	}
	return &u, nil
}

// Session returns the persisted token and user when both are usable.
func (s *Store) Session(ctx context.Context) (string, *models.User, error) {
	token, ok := s.Token(ctx)
	if !ok {
		return "", nil, common.ErrorNotFound
	}
	u, err := s.User(ctx)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

// SaveSession writes token and user together.
func (s *Store) SaveSession(ctx context.Context, token string, user models.User) error {
	if !common.Present(token) {
		return common.ErrInvalidToken
	}
	if !user.Valid() {
		return fmt.Errorf("%w: user record without id", common.ErrStateCorruption)
	}

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}

	if err := s.Set(ctx, KeyToken, token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	if err := s.Set(ctx, KeyUser, string(data)); err != nil {
		_ = s.Remove(ctx, KeyToken)
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// ClearSession removes token and user.
func (s *Store) ClearSession(ctx context.Context) error {
	return errors.Join(s.Remove(ctx, KeyToken), s.Remove(ctx, KeyUser))
}

// Remember stores the username for the next login prompt.
func (s *Store) Remember(ctx context.Context, username string) error {
	if err := s.Set(ctx, KeyRememberedUsername, username); err != nil {
		return err
	}
	return s.Set(ctx, KeyRememberMe, "true")
}

// RememberedUsername returns the username saved by Remember.
func (s *Store) RememberedUsername(ctx context.Context) (string, bool) {
	if v, ok := s.Get(ctx, KeyRememberMe); !ok || v != "true" {
		return "", false
	}
	return s.Get(ctx, KeyRememberedUsername)
}

// ClearRemembered removes the remembered-credentials keys.
func (s *Store) ClearRemembered(ctx context.Context) error {
	return errors.Join(s.Remove(ctx, KeyRememberedUsername), s.Remove(ctx, KeyRememberMe))
}
