package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/rail-scheduler/internal/auth"
	"github.com/example/rail-scheduler/internal/rail"
	"github.com/example/rail-scheduler/internal/reservation"
	"github.com/example/rail-scheduler/internal/runs"
	"github.com/example/rail-scheduler/internal/sessions"
)

//go:embed templates/*.html static/*
var fs embed.FS

// CredentialStore holds each user's ticketing login.
type CredentialStore interface {
	Get(ctx context.Context, userID int64) (rail.Credentials, error)
	Save(ctx context.Context, userID int64, creds rail.Credentials) error
}

// SearchStore keeps the last result table of each browser session.
type SearchStore interface {
	SaveSearch(sid string, sr sessions.Search) error
	LastSearch(sid string) (sessions.Search, error)
	Forget(sid string) error
}

// ClientFactory opens a fresh, logged-in backend session.
type ClientFactory interface {
	Open(ctx context.Context, creds rail.Credentials) (reservation.BookingClient, error)
}

type Server struct {
	Auth     *auth.Store
	Creds    CredentialStore
	Searches SearchStore
	Clients  ClientFactory
	Runs     *runs.Manager
	Logger   *slog.Logger

	BaseURL string
	// Stations are the names the search form offers; nil means the rail
	// package's list.
	Stations []string
	// Heartbeat is the idle interval after which the event stream sends a
	// comment line; zero means 15s.
	Heartbeat time.Duration
	// Now is the clock for form defaults; nil means time.Now.
	Now func() time.Time
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(RequestLogger(s.logger()))

	r.Handle("/static/*", http.FileServer(http.FS(fs)))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/login", s.handleLoginPage)
	r.Post("/login", s.handleLogin)
	r.Get("/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.RequireAuth)

		r.Get("/", s.handleHome)
		r.Get("/credentials", s.handleCredentialsPage)
		r.Post("/credentials", s.handleCredentials)
		r.Post("/search", s.handleSearch)
		r.Get("/reserve", s.handleReserve)

		r.Post("/runs", s.handleRunStart)
		r.Get("/runs/{id}", s.handleRunStatus)
		r.Get("/runs/{id}/events", s.handleRunEvents)
		r.Post("/runs/{id}/cancel", s.handleRunCancel)
	})
	return r
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Server) stations() []string {
	if len(s.Stations) == 0 {
		return rail.Stations()
	}
	return s.Stations
}

func (s *Server) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// owner scopes runs to the logged-in user.
func owner(ctx context.Context) string {
	uid, _ := auth.UserIDFromContext(ctx)
	return strconv.FormatInt(uid, 10)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// Start serves h on addr until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("http listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
