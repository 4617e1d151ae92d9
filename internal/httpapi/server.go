// Package httpapi is the web surface: session-gated dashboard API,
// WebSocket live status, and the card-reader device endpoint. It only
// ever enqueues triggers or reads snapshots; the actuator is never
// touched from here.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/canmetro/turnstiled/internal/auth"
	"github.com/canmetro/turnstiled/internal/turnstile/controller"
	"github.com/canmetro/turnstiled/internal/turnstile/gateway"
	"github.com/canmetro/turnstiled/internal/turnstile/telemetry"
	"github.com/canmetro/turnstiled/internal/turnstile/types"
)

const sessionCookie = "turnstile_session"

type Dependencies struct {
	Logger     *log.Logger
	Addr       string
	Controller *controller.Controller
	Access     *gateway.AccessService
	Users      *auth.Store
	Sessions   *auth.SessionManager
	Sink       telemetry.Sink
	History    telemetry.Reader // nil when telemetry storage is disabled
}

type Server struct {
	httpServer *http.Server
	logger     *log.Logger
	mux        *http.ServeMux

	controller *controller.Controller
	access     *gateway.AccessService
	users      *auth.Store
	sessions   *auth.SessionManager
	sink       telemetry.Sink
	history    telemetry.Reader
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:     d.Logger,
		mux:        mux,
		controller: d.Controller,
		access:     d.Access,
		users:      d.Users,
		sessions:   d.Sessions,
		sink:       d.Sink,
		history:    d.History,
	}

	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.requireAuth(s.handleLogout))
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("GET /api/state", s.requireAuth(s.handleState))
	mux.HandleFunc("POST /api/simulate_access", s.requireAuth(s.handleSimulateAccess))
	mux.HandleFunc("POST /api/reset_counters", s.requireAdmin(s.handleResetCounters))
	mux.HandleFunc("GET /api/users", s.requireAdmin(s.handleUsers))
	mux.HandleFunc("GET /api/accesses/recent", s.requireAuth(s.handleRecentAccesses))
	mux.HandleFunc("GET /api/stats", s.requireAuth(s.handleStats))
	mux.HandleFunc("GET /ws", s.requireAuth(s.handleWS))
	mux.HandleFunc("POST /v1/access_request", s.handleDeviceAccess)

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── Auth ─────────────────────────────────────────────────────────────────────

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess auth.Session)

func (s *Server) requireAuth(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.currentSession(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "not_authenticated", "log in first")
			return
		}
		next(w, r, sess)
	}
}

func (s *Server) requireAdmin(next sessionHandler) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request, sess auth.Session) {
		if sess.User.Role != auth.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin_required", "admin privileges required")
			return
		}
		next(w, r, sess)
	})
}

func (s *Server) currentSession(r *http.Request) (auth.Session, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return auth.Session{}, false
	}
	return s.sessions.Get(c.Value)
}

// ── Login / logout / session ─────────────────────────────────────────────────

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	OK   bool      `json:"ok"`
	User auth.User `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials", "username and password are required")
		return
	}

	user, err := s.users.Authenticate(req.Username, req.Password)
	if err != nil {
		s.notifyLogin(r.Context(), req.Username, false)
		switch {
		case errors.Is(err, auth.ErrLockedOut):
			writeError(w, http.StatusForbidden, "locked_out", "account temporarily locked")
		case errors.Is(err, auth.ErrInvalidCredentials):
			s.logger.Printf("httpapi: failed login for %q", req.Username)
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		default:
			s.logger.Printf("httpapi: login error: %v", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		}
		return
	}

	sess := s.sessions.Create(user)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.Token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	s.controller.EnableAccess(user.Name)
	s.notifyLogin(r.Context(), req.Username, true)
	s.logger.Printf("httpapi: login %q (%s)", user.Username, user.Role)

	writeJSON(w, http.StatusOK, loginResponse{OK: true, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, sess auth.Session) {
	s.sessions.Delete(sess.Token)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	s.controller.DisableAccess()
	s.logger.Printf("httpapi: logout %q", sess.User.Username)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.currentSession(r); ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"user":          sess.User,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
}

// ── State and triggers ───────────────────────────────────────────────────────

type stateResponse struct {
	types.Snapshot
	SessionUser string `json:"session_user"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request, sess auth.Session) {
	writeJSON(w, http.StatusOK, stateResponse{
		Snapshot:    s.controller.Snapshot(),
		SessionUser: sess.User.Name,
	})
}

func (s *Server) handleSimulateAccess(w http.ResponseWriter, _ *http.Request, sess auth.Session) {
	err := s.access.SimulateAccess(sess.User.Name)
	switch {
	case errors.Is(err, gateway.ErrAccessDisabled):
		writeError(w, http.StatusForbidden, "access_disabled", "log in first")
	case errors.Is(err, gateway.ErrBusy):
		writeError(w, http.StatusConflict, "busy", "door sequence in progress")
	case err != nil:
		s.logger.Printf("httpapi: simulate_access error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func (s *Server) handleResetCounters(w http.ResponseWriter, _ *http.Request, sess auth.Session) {
	s.controller.ResetCounters()
	s.logger.Printf("httpapi: counters reset by %q", sess.User.Username)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleUsers(w http.ResponseWriter, _ *http.Request, _ auth.Session) {
	writeJSON(w, http.StatusOK, s.users.List())
}

// ── History ──────────────────────────────────────────────────────────────────

func (s *Server) handleRecentAccesses(w http.ResponseWriter, r *http.Request, _ auth.Session) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "telemetry_disabled", "event storage is not enabled")
		return
	}

	minutes := queryInt(r, "minutes", 60)
	since := time.Now().UTC().Add(-time.Duration(minutes) * time.Minute)

	events, err := s.history.RecentAccess(r.Context(), since)
	if err != nil {
		s.logger.Printf("httpapi: recent accesses query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "query failed")
		return
	}

	type accessJSON struct {
		User      string    `json:"user"`
		DoorID    string    `json:"door_id"`
		Granted   bool      `json:"granted"`
		AccessSeq int64     `json:"access_seq,omitempty"`
		At        time.Time `json:"at"`
	}
	out := make([]accessJSON, 0, len(events))
	for _, ev := range events {
		out = append(out, accessJSON{
			User: ev.User, DoorID: ev.DoorID, Granted: ev.Granted,
			AccessSeq: ev.AccessSeq, At: ev.OccurredAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(out), "accesses": out})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, _ auth.Session) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "telemetry_disabled", "event storage is not enabled")
		return
	}

	hours := queryInt(r, "hours", 24)
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	st, err := s.history.Stats(r.Context(), since)
	if err != nil {
		s.logger.Printf("httpapi: stats query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "query failed")
		return
	}

	var pct float64
	if st.Total > 0 {
		pct = float64(st.Granted) / float64(st.Total) * 100
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":         st.Total,
		"granted":       st.Granted,
		"denied":        st.Denied,
		"grant_percent": pct,
	})
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func (s *Server) notifyLogin(ctx context.Context, username string, success bool) {
	if err := s.sink.Login(ctx, telemetry.LoginEvent{
		Username:   username,
		Success:    success,
		OccurredAt: time.Now().UTC(),
	}); err != nil {
		s.logger.Printf("httpapi: telemetry login failed: %v", err)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
