package credstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/dmitrijs2005/classdesk/internal/client/migrations"
	"github.com/dmitrijs2005/classdesk/internal/client/models"
	"github.com/dmitrijs2005/classdesk/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/classdesk/internal/common"
	"github.com/dmitrijs2005/classdesk/internal/logging"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// failingRepo wraps a MemoryRepository and fails writes of selected keys.
type failingRepo struct {
	*metadata.MemoryRepository
	failSet map[string]bool
	failGet bool
}

func (f *failingRepo) Set(ctx context.Context, key string, value []byte) error {
	if f.failSet[key] {
		return errors.New("disk full")
	}
	return f.MemoryRepository.Set(ctx, key, value)
}

func (f *failingRepo) Get(ctx context.Context, key string) ([]byte, error) {
	if f.failGet {
		return nil, errors.New("io error")
	}
	return f.MemoryRepository.Get(ctx, key)
}

func newStore(t *testing.T) (*Store, *metadata.MemoryRepository) {
	t.Helper()
	repo := metadata.NewMemoryRepository()
	return New(repo, logging.Discard()), repo
}

func TestGet_NormalizesSentinels(t *testing.T) {
	s, repo := newStore(t)
	ctx := context.Background()

	for _, v := range []string{"undefined", "null", ""} {
		require.NoError(t, repo.Set(ctx, KeyToken, []byte(v)))
		got, ok := s.Get(ctx, KeyToken)
		assert.False(t, ok, "value %q must read as absent", v)
		assert.Empty(t, got)
	}

	require.NoError(t, repo.Set(ctx, KeyToken, []byte("abc123")))
	got, ok := s.Get(ctx, KeyToken)
	assert.True(t, ok)
	assert.Equal(t, "abc123", got)
}

func TestGet_ReadErrorIsAbsent(t *testing.T) {
	repo := &failingRepo{MemoryRepository: metadata.NewMemoryRepository(), failGet: true}
	s := New(repo, logging.Discard())

	_, ok := s.Get(context.Background(), KeyToken)
	assert.False(t, ok)
}

func TestUser_DecodeOutcomes(t *testing.T) {
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		s, _ := newStore(t)
		_, err := s.User(ctx)
		require.ErrorIs(t, err, common.ErrorNotFound)
	})

	t.Run("sentinel", func(t *testing.T) {
		s, repo := newStore(t)
		require.NoError(t, repo.Set(ctx, KeyUser, []byte("undefined")))
		_, err := s.User(ctx)
		require.ErrorIs(t, err, common.ErrorNotFound)
	})

	t.Run("garbage", func(t *testing.T) {
		s, repo := newStore(t)
		require.NoError(t, repo.Set(ctx, KeyUser, []byte("{not json")))
		_, err := s.User(ctx)
		require.ErrorIs(t, err, common.ErrStateCorruption)
	})

	t.Run("no id", func(t *testing.T) {
		s, repo := newStore(t)
		require.NoError(t, repo.Set(ctx, KeyUser, []byte(`{"username":"alice"}`)))
		_, err := s.User(ctx)
		require.ErrorIs(t, err, common.ErrStateCorruption)
	})

	t.Run("valid", func(t *testing.T) {
		s, repo := newStore(t)
		require.NoError(t, repo.Set(ctx, KeyUser, []byte(`{"id":7,"username":"alice","role":"ROLE_TEACHER"}`)))
		u, err := s.User(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(7), u.ID)
		assert.Equal(t, common.RoleTeacher, u.Role)
	})
}

func TestSaveSession_WritesPair(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	user := models.User{ID: 1, Username: "alice", Role: common.RoleTeacher}
	require.NoError(t, s.SaveSession(ctx, "abc123", user))

	token, got, err := s.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)
	assert.Equal(t, user, *got)

	require.NoError(t, s.ClearSession(ctx))
	_, ok := s.Token(ctx)
	assert.False(t, ok)
	_, err = s.User(ctx)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSaveSession_RejectsUnusableInput(t *testing.T) {
	s, repo := newStore(t)
	ctx := context.Background()

	require.ErrorIs(t, s.SaveSession(ctx, "", models.User{ID: 1}), common.ErrInvalidToken)
	require.ErrorIs(t, s.SaveSession(ctx, "null", models.User{ID: 1}), common.ErrInvalidToken)
	require.ErrorIs(t, s.SaveSession(ctx, "abc", models.User{}), common.ErrStateCorruption)

	m, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestSaveSession_UserWriteFailureRollsBackToken(t *testing.T) {
	repo := &failingRepo{MemoryRepository: metadata.NewMemoryRepository(), failSet: map[string]bool{KeyUser: true}}
	s := New(repo, logging.Discard())
	ctx := context.Background()

	err := s.SaveSession(ctx, "abc123", models.User{ID: 1})
	require.Error(t, err)

	_, ok := s.Token(ctx)
	assert.False(t, ok, "token must not outlive a failed user write")
}

func TestSession_TokenWithoutUser(t *testing.T) {
	s, repo := newStore(t)
	ctx := context.Background()
	require.NoError(t, repo.Set(ctx, KeyToken, []byte("abc")))

	_, _, err := s.Session(ctx)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRemembered(t *testing.T) {
	s, repo := newStore(t)
	ctx := context.Background()

	_, ok := s.RememberedUsername(ctx)
	assert.False(t, ok)

	require.NoError(t, s.Remember(ctx, "alice"))
	name, ok := s.RememberedUsername(ctx)
	assert.True(t, ok)
	assert.Equal(t, "alice", name)

	require.NoError(t, repo.Set(ctx, KeyRememberMe, []byte("false")))
	_, ok = s.RememberedUsername(ctx)
	assert.False(t, ok)

	require.NoError(t, s.ClearRemembered(ctx))
	m, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestStore_SQLiteRoundTrip(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	goose.SetBaseFS(migrations.Migrations)
	require.NoError(t, goose.SetDialect("sqlite3"))
	require.NoError(t, goose.UpContext(context.Background(), db, "."))

	s := New(metadata.NewSQLiteRepository(db), logging.Discard())
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, "tok", models.User{ID: 3, Username: "bob", Role: common.RoleAdmin}))

	token, u, err := s.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
	assert.Equal(t, "bob", u.Username)
}
