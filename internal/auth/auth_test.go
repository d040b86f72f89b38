package auth

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/rail-scheduler/internal/db"
)

type user struct {
	id   int64
	hash string
}

// fakeDB serves the two user queries from memory.
type fakeDB struct {
	users map[string]user
	next  int64
}

type row struct {
	vals []any
	err  error
}

func (r row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = r.vals[i].(int64)
		case *string:
			*p = r.vals[i].(string)
		}
	}
	return nil
}

func (f *fakeDB) Exec(context.Context, string, ...any) error { return nil }

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) db.Row {
	name := args[0].(string)
	if len(args) == 2 {
		f.next++
		f.users[name] = user{id: f.next, hash: args[1].(string)}
		return row{vals: []any{f.next}}
	}
	u, ok := f.users[name]
	if !ok {
		return row{err: pgx.ErrNoRows}
	}
	return row{vals: []any{u.id, u.hash}}
}

func newStore() *Store {
	return NewStore(&fakeDB{users: map[string]user{}}, bytes.Repeat([]byte{1}, 32), bytes.Repeat([]byte{2}, 32))
}

func TestCreateAndAuthenticate(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	id, err := s.CreateUser(ctx, " alice ", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	got, err := s.Authenticate(ctx, "alice", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = s.Authenticate(ctx, "alice", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Authenticate(ctx, "mallory", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCreateUser_Validates(t *testing.T) {
	s := newStore()
	_, err := s.CreateUser(context.Background(), "", "long enough")
	assert.Error(t, err)
	_, err = s.CreateUser(context.Background(), "bob", "short")
	assert.Error(t, err)
}

func TestSessionCookieRoundTrip(t *testing.T) {
	s := newStore()
	rec := httptest.NewRecorder()
	sess, err := s.SetSession(rec, httptest.NewRequest(http.MethodPost, "/login", nil), 42)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.SID)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	got, ok := s.GetSession(req)
	require.True(t, ok)
	assert.Equal(t, sess, got)

	other, err := s.SetSession(httptest.NewRecorder(), req, 42)
	require.NoError(t, err)
	assert.NotEqual(t, sess.SID, other.SID)
}

func TestGetSession_RejectsTampered(t *testing.T) {
	s := newStore()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: "forged"})
	_, ok := s.GetSession(req)
	assert.False(t, ok)
}

func TestRequireAuth(t *testing.T) {
	s := newStore()
	var seen Session
	h := s.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.UserID, _ = UserIDFromContext(r.Context())
		seen.SID, _ = SessionIDFromContext(r.Context())
	}))

	t.Run("page redirects", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/login", rec.Header().Get("Location"))
	})
	t.Run("event stream gets 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runs/x/events", nil)
		req.Header.Set("Accept", "text/event-stream")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
	t.Run("post gets 401", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
	t.Run("valid cookie passes session through", func(t *testing.T) {
		login := httptest.NewRecorder()
		sess, err := s.SetSession(login, httptest.NewRequest(http.MethodPost, "/login", nil), 7)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		for _, c := range login.Result().Cookies() {
			req.AddCookie(c)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, sess, seen)
	})
}
