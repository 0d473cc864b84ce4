package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"fuzzyracer/racer/internal/auth"
	"fuzzyracer/racer/internal/control"
	"fuzzyracer/racer/internal/logging"
	"fuzzyracer/racer/internal/race"
	"fuzzyracer/racer/internal/session"
)

const (
	maxBodyBytes    = 16 << 10
	defaultTokenTTL = 15 * time.Minute
	maximumTokenTTL = 24 * time.Hour
)

// SessionStore is the subset of the registry the REST surface needs.
type SessionStore interface {
	Create(req session.CreateRequest) (*session.Session, error)
	Get(id string) (*session.Session, error)
	Remove(id string) error
	List() []session.Info
}

// SessionOptions configures the session REST handlers. Tokens together with AdminToken
// enables POST /sessions/{id}/token.
type SessionOptions struct {
	Logger      *logging.Logger
	Store       SessionStore
	Tokens      *auth.HMACTokens
	AdminToken  string
	RateLimiter RateLimiter
}

// SessionHandlers exposes session lifecycle over REST.
type SessionHandlers struct {
	logger      *logging.Logger
	store       SessionStore
	tokens      *auth.HMACTokens
	adminToken  string
	rateLimiter RateLimiter
}

// NewSessionHandlers builds the REST handlers.
func NewSessionHandlers(opts SessionOptions) *SessionHandlers {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	return &SessionHandlers{
		logger:      logger,
		store:       opts.Store,
		tokens:      opts.Tokens,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
	}
}

// Register attaches the session routes to the mux.
func (h *SessionHandlers) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("POST /sessions", h.create)
	mux.HandleFunc("GET /sessions", h.list)
	mux.HandleFunc("GET /sessions/{id}", h.info)
	mux.HandleFunc("GET /sessions/{id}/state", h.state)
	mux.HandleFunc("POST /sessions/{id}/start", h.start)
	mux.HandleFunc("POST /sessions/{id}/reset", h.reset)
	mux.HandleFunc("POST /sessions/{id}/stop", h.stop)
	mux.HandleFunc("POST /sessions/{id}/control", h.control)
	mux.HandleFunc("POST /sessions/{id}/token", h.token)
	mux.HandleFunc("DELETE /sessions/{id}", h.remove)
}

type commandResponse struct {
	Session   string         `json:"session"`
	Command   string         `json:"command"`
	Changed   bool           `json:"changed"`
	Lifecycle race.Lifecycle `json:"lifecycle"`
}

func (h *SessionHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess, err := h.store.Create(req)
	if err != nil {
		logging.LoggerFromContext(r.Context()).Warn("session create failed", logging.Error(err))
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, sess.Info())
}

func (h *SessionHandlers) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.List())
}

func (h *SessionHandlers) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := h.store.Get(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return nil, false
	}
	return sess, true
}

func (h *SessionHandlers) info(w http.ResponseWriter, r *http.Request) {
	if sess, ok := h.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, sess.Info())
	}
}

func (h *SessionHandlers) state(w http.ResponseWriter, r *http.Request) {
	if sess, ok := h.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, sess.Snapshot())
	}
}

func (h *SessionHandlers) start(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	changed, err := sess.Start()
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Session: sess.ID(), Command: "start", Changed: changed, Lifecycle: sess.Snapshot().Lifecycle})
}

func (h *SessionHandlers) reset(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.Reset(); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Session: sess.ID(), Command: "reset", Changed: true, Lifecycle: sess.Snapshot().Lifecycle})
}

func (h *SessionHandlers) stop(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	changed := sess.Stop()
	writeJSON(w, http.StatusOK, commandResponse{Session: sess.ID(), Command: "stop", Changed: changed, Lifecycle: sess.Snapshot().Lifecycle})
}

func (h *SessionHandlers) control(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var raw control.RawSample
	if err := decodeBody(r, &raw); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	//1.- Echo the sanitised sample so callers can see how their input was clamped.
	sample := control.Sanitize(raw)
	sess.Submit(sample)
	writeJSON(w, http.StatusAccepted, sample)
}

func (h *SessionHandlers) remove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.Remove(id); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	logging.LoggerFromContext(r.Context()).Info("session removed", logging.String("session_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// token issues a driver token scoped to one session for the websocket endpoint.
func (h *SessionHandlers) token(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Driver     string `json:"driver"`
		TTLSeconds int    `json:"ttl_seconds,omitempty"`
	}
	type response struct {
		Token     string    `json:"token"`
		Driver    string    `json:"driver"`
		Session   string    `json:"session"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if h.tokens == nil || h.adminToken == "" {
		http.Error(w, "token issuing is not configured", http.StatusForbidden)
		return
	}
	if !authorise(r, h.adminToken) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if h.rateLimiter != nil && !h.rateLimiter.Allow() {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req request
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	driver := strings.TrimSpace(req.Driver)
	if driver == "" {
		http.Error(w, "driver must not be empty", http.StatusBadRequest)
		return
	}
	ttl := defaultTokenTTL
	if req.TTLSeconds > 0 {
		ttl = min(time.Duration(req.TTLSeconds)*time.Second, maximumTokenTTL)
	}
	token, err := h.tokens.Issue(driver, sess.ID(), ttl)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	claims, err := h.tokens.Verify(token, sess.ID())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.logger.Info("driver token issued", logging.String("session_id", sess.ID()), logging.String("driver", driver))
	writeJSON(w, http.StatusCreated, response{Token: token, Driver: driver, Session: sess.ID(), ExpiresAt: claims.ExpiresAt})
}

// decodeBody decodes an optional JSON body; an empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrCapacityReached):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, session.ErrReplayDisabled):
		return http.StatusConflict
	case errors.Is(err, race.ErrUnknownPreset):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
