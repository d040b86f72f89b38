package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/rail-scheduler/internal/db"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

const (
	cookieName = "railsched_session"
	sessionTTL = 14 * 24 * time.Hour
)

// dummyHash keeps Authenticate's timing the same for unknown users.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("railsched-dummy"), bcrypt.DefaultCost)

type Store struct {
	sc *securecookie.SecureCookie
	db db.Querier
}

type ctxKey string

const (
	userIDKey    ctxKey = "userID"
	sessionIDKey ctxKey = "sessionID"
)

func NewStore(d db.Querier, hashKey, blockKey []byte) *Store {
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(sessionTTL.Seconds()))
	return &Store{sc: sc, db: d}
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func (s *Store) CreateUser(ctx context.Context, username, password string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(password) < 8 {
		return 0, errors.New("username required and password must be at least 8 characters")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRow(ctx, `INSERT INTO users(username, password_bcrypt) VALUES ($1,$2) RETURNING id`, username, hash).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create user %q: %w", username, db.WrapNotFound(err))
	}
	return id, nil
}

func (s *Store) Authenticate(ctx context.Context, username, password string) (int64, error) {
	var id int64
	var hash string
	err := s.db.QueryRow(ctx, `SELECT id, password_bcrypt FROM users WHERE username=$1`, username).Scan(&id, &hash)
	if err != nil {
		if db.IsNotFound(err) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return 0, ErrInvalidCredentials
		}
		return 0, db.WrapNotFound(err)
	}
	if !CheckPassword(hash, password) {
		return 0, ErrInvalidCredentials
	}
	return id, nil
}

// Session is the decoded cookie. SID identifies the browser session and keys
// its scratch data; it changes on every login.
type Session struct {
	UserID int64
	SID    string
}

type cookieValue struct {
	UID int64
	SID string
	V   int
}

func (s *Store) SetSession(w http.ResponseWriter, r *http.Request, userID int64) (Session, error) {
	sess := Session{UserID: userID, SID: uuid.NewString()}
	encoded, err := s.sc.Encode(cookieName, cookieValue{UID: userID, SID: sess.SID, V: 1})
	if err != nil {
		return Session{}, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(sessionTTL.Seconds()),
	})
	return sess, nil
}

func (s *Store) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (s *Store) GetSession(r *http.Request) (Session, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return Session{}, false
	}
	var val cookieValue
	if err := s.sc.Decode(cookieName, c.Value, &val); err != nil {
		return Session{}, false
	}
	if val.UID <= 0 || val.SID == "" {
		return Session{}, false
	}
	return Session{UserID: val.UID, SID: val.SID}, true
}

// RequireAuth redirects page loads to /login and answers API and event
// stream requests with 401.
func (s *Store) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.GetSession(r)
		if !ok {
			if wantsPage(r) {
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}

func wantsPage(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	accept := r.Header.Get("Accept")
	return !strings.Contains(accept, "text/event-stream") && !strings.Contains(accept, "application/json")
}

func WithSession(ctx context.Context, sess Session) context.Context {
	ctx = context.WithValue(ctx, userIDKey, sess.UserID)
	return context.WithValue(ctx, sessionIDKey, sess.SID)
}

func UserIDFromContext(ctx context.Context) (int64, bool) {
	uid, ok := ctx.Value(userIDKey).(int64)
	return uid, ok
}

func SessionIDFromContext(ctx context.Context) (string, bool) {
	sid, ok := ctx.Value(sessionIDKey).(string)
	return sid, ok
}
