package transport

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fuzzyracer/racer/internal/auth"
	"fuzzyracer/racer/internal/control"
	"fuzzyracer/racer/internal/logging"
	"fuzzyracer/racer/internal/networking"
	"fuzzyracer/racer/internal/session"
)

const (
	writeWait          = 10 * time.Second
	sendBuffer         = 16
	defaultPingPeriod  = 30 * time.Second
	defaultPayloadSize = 64 << 10
)

// SessionSource resolves the session a websocket connects to.
type SessionSource interface {
	Get(id string) (*session.Session, error)
}

// Options configures the websocket hub. Nil collaborators disable the matching feature.
type Options struct {
	Logger          *logging.Logger
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration
	Gate            *control.Gate
	Throttle        *networking.Throttle
	Tokens          *auth.HMACTokens
	Buffer          int
	Now             func() time.Time
}

// ClientInfo describes one connected websocket client.
type ClientInfo struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Encoding    Encoding  `json:"encoding"`
	ConnectedAt time.Time `json:"connected_at"`
	Dropped     int       `json:"dropped"`
}

// Hub upgrades websocket requests and bridges each connection to one session: inbound
// control and lifecycle messages flow into the session, its updates flow back out.
type Hub struct {
	sessions SessionSource
	opts     Options
	log      *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
}

type client struct {
	id        string
	sessionID string
	encoding  Encoding
	connected time.Time
	conn      *websocket.Conn
	sess      *session.Session
	sub       *session.Subscription
	send      chan any
	done      chan struct{}
	once      sync.Once
	log       *logging.Logger
}

// NewHub builds a websocket hub bound to the session source.
func NewHub(sessions SessionSource, opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = logging.L()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingPeriod
	}
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = defaultPayloadSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	h := &Hub{
		sessions: sessions,
		opts:     opts,
		log:      opts.Logger,
		clients:  make(map[string]*client),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}
	return false
}

// authenticate returns the client identifier for the request.
func (h *Hub) authenticate(r *http.Request, sessionID string) (string, error) {
	if h.opts.Tokens == nil {
		return uuid.NewString(), nil
	}
	token := strings.TrimSpace(r.URL.Query().Get("auth_token"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Auth-Token"))
	}
	if token == "" {
		return "", errors.New("missing auth token")
	}
	claims, err := h.opts.Tokens.Verify(token, sessionID)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return uuid.NewString(), nil
	}
	return claims.Subject, nil
}

// ServeHTTP handles GET /ws/sessions/{id}.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	logger := logging.LoggerFromContext(r.Context()).With(logging.String("session_id", sessionID))

	//1.- Resolve everything that can fail with a plain HTTP status before upgrading.
	sess, err := h.sessions.Get(sessionID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	encoding, err := ParseEncoding(r.URL.Query().Get("encoding"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	clientID, err := h.authenticate(r, sessionID)
	if err != nil {
		logger.Warn("websocket authentication failed", logging.Error(err), logging.String("remote_addr", r.RemoteAddr))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	h.mu.Lock()
	closed := h.closed
	_, duplicate := h.clients[clientID]
	h.mu.Unlock()
	switch {
	case closed:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	case duplicate:
		http.Error(w, "client already connected", http.StatusConflict)
		return
	}

	sub, err := sess.Subscribe(h.opts.Buffer)
	if err != nil {
		http.Error(w, err.Error(), http.StatusGone)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}

	c := &client{
		id:        clientID,
		sessionID: sessionID,
		encoding:  encoding,
		connected: h.opts.Now().UTC(),
		conn:      conn,
		sess:      sess,
		sub:       sub,
		send:      make(chan any, sendBuffer),
		done:      make(chan struct{}),
		log:       logger.With(logging.String("client_id", clientID)),
	}
	if !h.register(c) {
		sub.Close()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "unavailable"), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	c.log.Info("websocket client connected", logging.String("encoding", string(encoding)))

	//2.- The writer owns outbound frames; the reader runs on the request goroutine.
	go h.writeLoop(c)
	h.readLoop(c)
	h.disconnect(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if _, exists := h.clients[c.id]; exists {
		return false
	}
	h.clients[c.id] = c
	return true
}

func (h *Hub) disconnect(c *client) {
	c.stop()
	c.sub.Close()
	h.opts.Gate.Forget(c.id)
	h.opts.Throttle.Forget(c.id)
	h.mu.Lock()
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
	c.conn.Close()
	c.log.Info("websocket client disconnected", logging.Int("dropped_updates", c.sub.Dropped()))
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// enqueue schedules a reply without blocking the reader. Replies are dropped when the
// writer is behind.
func (c *client) enqueue(msg any) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.log.Debug("websocket reply dropped")
	}
}

func (h *Hub) readLoop(c *client) {
	readTimeout := 2 * h.opts.PingInterval
	c.conn.SetReadLimit(h.opts.MaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("websocket read failed", logging.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		msg, err := DecodeInbound(messageType, data)
		if err != nil {
			c.enqueue(ErrorMessage{Type: TypeError, Error: err.Error()})
			continue
		}
		h.handle(c, msg)
	}
}

func (h *Hub) handle(c *client, msg InboundMessage) {
	switch kind := msg.Kind(); kind {
	case TypeControl:
		//1.- Sequenced frames pass the gate; unsequenced ones are applied as they arrive.
		if msg.Seq > 0 {
			decision := h.opts.Gate.Evaluate(control.Frame{ClientID: c.id, SequenceID: msg.Seq, SentAt: msg.SentAt()})
			if !decision.Accepted {
				return
			}
		}
		c.sess.SubmitRaw(msg.Raw())
	case TypeStart:
		changed, err := c.sess.Start()
		if err != nil {
			c.enqueue(ErrorMessage{Type: TypeError, Error: err.Error()})
			return
		}
		c.enqueue(AckMessage{Type: TypeAck, Command: kind, Changed: changed})
	case TypeReset:
		if err := c.sess.Reset(); err != nil {
			c.enqueue(ErrorMessage{Type: TypeError, Error: err.Error()})
			return
		}
		c.enqueue(AckMessage{Type: TypeAck, Command: kind, Changed: true})
	case TypeStop:
		c.enqueue(AckMessage{Type: TypeAck, Command: kind, Changed: c.sess.Stop()})
	default:
		c.enqueue(ErrorMessage{Type: TypeError, Error: "unknown message type " + kind})
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	updates := c.sub.Updates()
	for {
		select {
		case <-c.done:
			return
		case update, ok := <-updates:
			if !ok {
				//1.- The session closed; say goodbye so the reader unblocks.
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"), time.Now().Add(writeWait))
				return
			}
			if !h.writeUpdate(c, update) {
				return
			}
		case msg := <-c.send:
			if !h.write(c, msg, networking.PriorityCritical) {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Hub) writeUpdate(c *client, update session.Update) bool {
	if update.Kind == session.UpdateGameOver {
		msg := GameOverMessage{Type: TypeGameOver, Score: update.GameOver.Score, Distance: update.GameOver.Distance}
		return h.write(c, msg, networking.PriorityCritical)
	}
	msg := StateMessage{Type: TypeState, Tick: update.Snapshot.Tick, Game: update.Snapshot}
	return h.write(c, msg, networking.PriorityState)
}

// write reports false once the connection is unusable.
func (h *Hub) write(c *client, msg any, priority networking.Priority) bool {
	messageType, payload, err := encode(c.encoding, msg)
	if err != nil {
		c.log.Error("websocket encode failed", logging.Error(err))
		return true
	}
	if !h.opts.Throttle.Admit(c.id, len(payload), priority) {
		return true
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(messageType, payload); err != nil {
		c.log.Debug("websocket write failed", logging.Error(err))
		return false
	}
	return true
}

// Clients lists connected clients ordered by identifier.
func (h *Hub) Clients() []ClientInfo {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	infos := make([]ClientInfo, 0, len(clients))
	for _, c := range clients {
		infos = append(infos, ClientInfo{
			ID:          c.id,
			SessionID:   c.sessionID,
			Encoding:    c.encoding,
			ConnectedAt: c.connected,
			Dropped:     c.sub.Dropped(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Close rejects new connections and closes every connected client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"), time.Now().Add(writeWait))
		c.conn.Close()
	}
}
