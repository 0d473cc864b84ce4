package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"fuzzyracer/racer/internal/control"
	"fuzzyracer/racer/internal/logging"
	"fuzzyracer/racer/internal/networking"
	"fuzzyracer/racer/internal/replay"
	"fuzzyracer/racer/internal/session"
)

// ReadinessProvider exposes service state required for readiness checks.
type ReadinessProvider interface {
	StartupError() error
	Uptime() time.Duration
}

// ReplayDumper flushes replay bundles and returns their locations. An empty session id
// selects every recording session.
type ReplayDumper interface {
	DumpReplay(ctx context.Context, sessionID string) ([]string, error)
}

// ReplayDumperFunc adapts a function into a ReplayDumper.
type ReplayDumperFunc func(ctx context.Context, sessionID string) ([]string, error)

// DumpReplay implements ReplayDumper.
func (f ReplayDumperFunc) DumpReplay(ctx context.Context, sessionID string) ([]string, error) {
	return f(ctx, sessionID)
}

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Readiness   ReadinessProvider
	Sessions    func() []session.Info
	Clients     func() int
	Bandwidth   *networking.Throttle
	Gate        *control.Gate
	Replay      ReplayDumper
	ReplayStats func() replay.StorageStats
	AdminToken  string
	RateLimiter RateLimiter
	TimeSource  func() time.Time
}

// HandlerSet bundles the operational handlers.
type HandlerSet struct {
	logger      *logging.Logger
	readiness   ReadinessProvider
	sessions    func() []session.Info
	clients     func() int
	bandwidth   *networking.Throttle
	gate        *control.Gate
	replay      ReplayDumper
	replayStats func() replay.StorageStats
	adminToken  string
	rateLimiter RateLimiter
	now         func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		readiness:   opts.Readiness,
		sessions:    opts.Sessions,
		clients:     opts.Clients,
		bandwidth:   opts.Bandwidth,
		gate:        opts.Gate,
		replay:      opts.Replay,
		replayStats: opts.ReplayStats,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
		now:         now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/health", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/replay/dump", h.ReplayDumpHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports readiness, including session and client counts and startup status.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Sessions      int     `json:"sessions"`
		Clients       int     `json:"clients"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok", Sessions: len(h.sessionInfos()), Clients: h.clientCount()}
		if h.readiness != nil {
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos := h.sessionInfos()
		running := 0
		for _, info := range infos {
			if info.Running {
				running++
			}
		}
		uptime := 0.0
		if h.readiness != nil {
			uptime = h.readiness.Uptime().Seconds()
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "# HELP racer_uptime_seconds Service uptime in seconds.\n")
		fmt.Fprintf(w, "# TYPE racer_uptime_seconds gauge\n")
		fmt.Fprintf(w, "racer_uptime_seconds %.0f\n", uptime)

		fmt.Fprintf(w, "# HELP racer_sessions Hosted race sessions.\n")
		fmt.Fprintf(w, "# TYPE racer_sessions gauge\n")
		fmt.Fprintf(w, "racer_sessions %d\n", len(infos))

		fmt.Fprintf(w, "# HELP racer_sessions_running Sessions whose tick loop is running.\n")
		fmt.Fprintf(w, "# TYPE racer_sessions_running gauge\n")
		fmt.Fprintf(w, "racer_sessions_running %d\n", running)

		fmt.Fprintf(w, "# HELP racer_clients Connected websocket clients.\n")
		fmt.Fprintf(w, "# TYPE racer_clients gauge\n")
		fmt.Fprintf(w, "racer_clients %d\n", h.clientCount())

		if len(infos) > 0 {
			fmt.Fprintf(w, "# HELP racer_session_tick Simulation ticks executed per session.\n")
			fmt.Fprintf(w, "# TYPE racer_session_tick counter\n")
			for _, info := range infos {
				fmt.Fprintf(w, "racer_session_tick{session=%q} %d\n", info.ID, info.Tick)
			}
			fmt.Fprintf(w, "# HELP racer_session_score Current score per session.\n")
			fmt.Fprintf(w, "# TYPE racer_session_score gauge\n")
			for _, info := range infos {
				fmt.Fprintf(w, "racer_session_score{session=%q} %d\n", info.ID, info.Score)
			}
			fmt.Fprintf(w, "# HELP racer_session_game_overs_total Crashed runs per session.\n")
			fmt.Fprintf(w, "# TYPE racer_session_game_overs_total counter\n")
			for _, info := range infos {
				fmt.Fprintf(w, "racer_session_game_overs_total{session=%q} %d\n", info.ID, info.GameOvers)
			}
			fmt.Fprintf(w, "# HELP racer_tick_duration_seconds Average step duration per session.\n")
			fmt.Fprintf(w, "# TYPE racer_tick_duration_seconds gauge\n")
			for _, info := range infos {
				fmt.Fprintf(w, "racer_tick_duration_seconds{session=%q} %.6f\n", info.ID, info.Timing.Average.Seconds())
			}
			fmt.Fprintf(w, "# HELP racer_tick_overruns_total Steps that exceeded the tick budget.\n")
			fmt.Fprintf(w, "# TYPE racer_tick_overruns_total counter\n")
			for _, info := range infos {
				fmt.Fprintf(w, "racer_tick_overruns_total{session=%q} %d\n", info.ID, info.Timing.Overruns)
			}
		}

		if h.bandwidth != nil {
			usage := h.bandwidth.Usage()
			if len(usage) > 0 {
				fmt.Fprintf(w, "# HELP racer_bandwidth_available_bytes Remaining bandwidth tokens per client.\n")
				fmt.Fprintf(w, "# TYPE racer_bandwidth_available_bytes gauge\n")
				for _, sample := range usage {
					fmt.Fprintf(w, "racer_bandwidth_available_bytes{client=%q} %.2f\n", sample.ClientID, sample.AvailableBytes)
				}
				fmt.Fprintf(w, "# HELP racer_bandwidth_sent_frames_total Frames delivered per client.\n")
				fmt.Fprintf(w, "# TYPE racer_bandwidth_sent_frames_total counter\n")
				for _, sample := range usage {
					fmt.Fprintf(w, "racer_bandwidth_sent_frames_total{client=%q} %d\n", sample.ClientID, sample.SentFrames)
				}
				fmt.Fprintf(w, "# HELP racer_bandwidth_dropped_frames_total State frames throttled per client.\n")
				fmt.Fprintf(w, "# TYPE racer_bandwidth_dropped_frames_total counter\n")
				for _, sample := range usage {
					fmt.Fprintf(w, "racer_bandwidth_dropped_frames_total{client=%q} %d\n", sample.ClientID, sample.DroppedFrames)
				}
			}
		}

		if h.gate != nil {
			drops := h.gate.Metrics()
			if len(drops) > 0 {
				clients := make([]string, 0, len(drops))
				for id := range drops {
					clients = append(clients, id)
				}
				sort.Strings(clients)
				fmt.Fprintf(w, "# HELP racer_control_drops_total Control frames rejected per client and reason.\n")
				fmt.Fprintf(w, "# TYPE racer_control_drops_total counter\n")
				for _, id := range clients {
					counters := drops[id]
					fmt.Fprintf(w, "racer_control_drops_total{client=%q,reason=%q} %d\n", id, string(control.DropReasonSequence), counters.Sequence)
					fmt.Fprintf(w, "racer_control_drops_total{client=%q,reason=%q} %d\n", id, string(control.DropReasonStale), counters.Stale)
					fmt.Fprintf(w, "racer_control_drops_total{client=%q,reason=%q} %d\n", id, string(control.DropReasonRateLimited), counters.RateLimited)
				}
			}
		}

		if h.replayStats != nil {
			stats := h.replayStats()
			fmt.Fprintf(w, "# HELP racer_replay_bundles Replay bundles retained on disk.\n")
			fmt.Fprintf(w, "# TYPE racer_replay_bundles gauge\n")
			fmt.Fprintf(w, "racer_replay_bundles %d\n", stats.Bundles)
			fmt.Fprintf(w, "# HELP racer_replay_bytes Disk usage of retained replay bundles.\n")
			fmt.Fprintf(w, "# TYPE racer_replay_bytes gauge\n")
			fmt.Fprintf(w, "racer_replay_bytes %d\n", stats.Bytes)
			fmt.Fprintf(w, "# HELP racer_replay_removed Bundles removed by the last retention sweep.\n")
			fmt.Fprintf(w, "# TYPE racer_replay_removed gauge\n")
			fmt.Fprintf(w, "racer_replay_removed %d\n", stats.Removed)
		}
	}
}

// ReplayDumpHandler authorises and triggers replay bundle flushes.
func (h *HandlerSet) ReplayDumpHandler() http.HandlerFunc {
	type response struct {
		Status    string   `json:"status"`
		Locations []string `json:"locations,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "replay_dump"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("replay dump denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !authorise(r, h.adminToken) {
			reqLogger.Warn("replay dump denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			if limiter, ok := h.rateLimiter.(*SlidingWindowLimiter); ok {
				if wait := limiter.RetryAfter(); wait > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				}
			}
			reqLogger.Warn("replay dump denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.replay == nil {
			reqLogger.Warn("replay dump denied: no dumper configured")
			http.Error(w, "replay dumping is unavailable", http.StatusServiceUnavailable)
			return
		}
		sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
		locations, err := h.replay.DumpReplay(r.Context(), sessionID)
		if err != nil {
			reqLogger.Error("replay dump trigger failed", logging.Error(err), logging.String("session_id", sessionID))
			http.Error(w, "failed to trigger replay dump: "+err.Error(), statusFor(err))
			return
		}
		reqLogger.Info("replay dump triggered", logging.Strings("locations", locations))
		writeJSON(w, http.StatusAccepted, response{Status: "accepted", Locations: locations})
	}
}

func (h *HandlerSet) sessionInfos() []session.Info {
	if h.sessions == nil {
		return nil
	}
	return h.sessions()
}

func (h *HandlerSet) clientCount() int {
	if h.clients == nil {
		return 0
	}
	return h.clients()
}

// authorise checks the bearer, X-Admin-Token or ?token= credential against the expected token.
func authorise(r *http.Request, expected string) bool {
	if expected == "" {
		return false
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
