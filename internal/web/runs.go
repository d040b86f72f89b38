package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/rail-scheduler/internal/auth"
	"github.com/example/rail-scheduler/internal/credentials"
	"github.com/example/rail-scheduler/internal/logger"
	"github.com/example/rail-scheduler/internal/reservation"
	"github.com/example/rail-scheduler/internal/runs"
	"github.com/example/rail-scheduler/internal/scheduler"
	"github.com/example/rail-scheduler/internal/sessions"
)

type startRequest struct {
	Selections     []string `json:"selections"`
	SeatPreference string   `json:"seat_preference"`
}

type runStatus struct {
	ID          string                   `json:"run_id"`
	Started     time.Time                `json:"started"`
	Done        bool                     `json:"done"`
	Outcome     scheduler.Outcome        `json:"outcome,omitempty"`
	Candidate   string                   `json:"candidate,omitempty"`
	Attempts    int                      `json:"attempts,omitempty"`
	Reservation *reservation.Reservation `json:"reservation,omitempty"`
	Error       string                   `json:"error,omitempty"`
	Events      int                      `json:"events"`
}

type sseEvent struct {
	scheduler.Event
	Line string `json:"line"`
}

func decodeStart(r *http.Request) (startRequest, error) {
	var req startRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, fmt.Errorf("invalid JSON body: %w", err)
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.Selections = r.Form["selection"]
	req.SeatPreference = r.FormValue("seat_preference")
	return req, nil
}

func (s *Server) handleRunStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx, s.logger())
	uid, _ := auth.UserIDFromContext(ctx)
	sid, _ := auth.SessionIDFromContext(ctx)

	req, err := decodeStart(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pref, err := reservation.ParseSeatPreference(req.SeatPreference)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Selections) == 0 {
		writeError(w, http.StatusBadRequest, "select at least one train")
		return
	}
	sr, err := s.Searches.LastSearch(sid)
	if errors.Is(err, sessions.ErrNoSearch) {
		writeError(w, http.StatusConflict, "search for trains first")
		return
	}
	if err != nil {
		log.Error("load search", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	creds, err := s.Creds.Get(ctx, uid)
	if errors.Is(err, credentials.ErrNotSet) {
		writeError(w, http.StatusConflict, "save your rail account first")
		return
	}
	if err != nil {
		log.Error("load credentials", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	client, err := s.Clients.Open(ctx, creds)
	if err != nil {
		log.Warn("backend login", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "rail login failed: "+err.Error())
		return
	}
	run, err := s.Runs.Start(owner(ctx), sr.Offers, req.Selections, pref, client)
	if errors.Is(err, runs.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info("run requested", slog.String("run_id", run.ID), slog.Int("selections", len(req.Selections)), slog.String("preference", string(pref)))
	w.Header().Set("Location", "/runs/"+run.ID)
	writeJSON(w, http.StatusCreated, map[string]string{"run_id": run.ID})
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*runs.Run, bool) {
	run, err := s.Runs.Get(owner(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return run, true
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	st := runStatus{ID: run.ID, Started: run.Started, Events: len(run.Stream.Events())}
	if res, done := run.Result(); done {
		st.Done = true
		st.Outcome = res.Outcome
		st.Attempts = res.Attempts
		st.Reservation = res.Reservation
		if res.Candidate != nil {
			st.Candidate = res.Candidate.Label()
		}
		if res.Err != nil {
			st.Error = res.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRunCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.Runs.Cancel(owner(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// resumeFrom reads the last sequence number the client has seen.
func resumeFrom(r *http.Request) int {
	v := r.Header.Get("Last-Event-ID")
	if v == "" {
		v = r.URL.Query().Get("after")
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// handleRunEvents streams the run's progress log as server-sent events. A
// client that goes away only stops its own stream; the run keeps going.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := s.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ctx := r.Context()
	after := resumeFrom(r)
	for {
		waitCtx, cancel := context.WithTimeout(ctx, heartbeat)
		events, err := run.Stream.Next(waitCtx, after)
		cancel()
		switch {
		case errors.Is(err, io.EOF):
			return
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			if _, werr := io.WriteString(w, ": ping\n\n"); werr != nil {
				return
			}
			flusher.Flush()
			continue
		}
		for _, e := range events {
			if err := writeEvent(w, e); err != nil {
				logger.FromContext(ctx, s.logger()).Debug("event stream closed", slog.String("run_id", run.ID), slog.String("error", err.Error()))
				return
			}
			after = e.Seq
		}
		flusher.Flush()
	}
}

func writeEvent(w io.Writer, e scheduler.Event) error {
	b, err := json.Marshal(sseEvent{Event: e, Line: e.String()})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, e.Kind, b)
	return err
}
