package control

import (
	"sync"
	"time"

	"fuzzyracer/racer/internal/logging"
)

// Clock exposes the current time for gate decisions.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (c ClockFunc) Now() time.Time { return c() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// GateConfig controls the freshness and throughput checks for sequenced frames.
type GateConfig struct {
	MaxAge      time.Duration
	MinInterval time.Duration
}

// DropReason enumerates why a frame was rejected by the gate.
type DropReason string

const (
	DropReasonNone        DropReason = ""
	DropReasonSequence    DropReason = "sequence"
	DropReasonStale       DropReason = "stale"
	DropReasonRateLimited DropReason = "rate_limit"
)

// Decision summarises whether a frame passed the gate.
type Decision struct {
	Accepted bool
	Reason   DropReason
	Delay    time.Duration
}

// Frame carries the delivery metadata of one network control message.
type Frame struct {
	ClientID   string
	SequenceID uint64
	SentAt     time.Time
}

// DropCounters aggregates per-reason drop counts.
type DropCounters struct {
	Sequence    uint64 `json:"sequence"`
	Stale       uint64 `json:"stale"`
	RateLimited uint64 `json:"rate_limited"`
}

// Total sums all drop reasons.
func (c DropCounters) Total() uint64 { return c.Sequence + c.Stale + c.RateLimited }

type clientState struct {
	lastSequence uint64
	lastAccepted time.Time
	drops        DropCounters
}

// Gate filters out-of-order, stale and flooding control frames per client. Frames
// without a sequence number are always accepted so simple clients keep working.
type Gate struct {
	mu      sync.Mutex
	cfg     GateConfig
	clock   Clock
	logger  *logging.Logger
	clients map[string]*clientState
}

// GateOption customises gate construction.
type GateOption func(*Gate)

// WithClock overrides the clock used for freshness and interval checks.
func WithClock(clock Clock) GateOption {
	return func(g *Gate) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// NewGate constructs a gate. Non-positive limits disable the corresponding check.
func NewGate(cfg GateConfig, logger *logging.Logger, opts ...GateOption) *Gate {
	if cfg.MaxAge < 0 {
		cfg.MaxAge = 0
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	if logger == nil {
		logger = logging.L()
	}
	gate := &Gate{
		cfg:     cfg,
		clock:   systemClock{},
		logger:  logger,
		clients: make(map[string]*clientState),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(gate)
		}
	}
	return gate
}

// Evaluate applies ordering, freshness and throughput checks to the frame.
func (g *Gate) Evaluate(frame Frame) Decision {
	decision := Decision{Accepted: true}
	if g == nil || frame.ClientID == "" || frame.SequenceID == 0 {
		return decision
	}
	now := g.clock.Now()
	if !frame.SentAt.IsZero() {
		//1.- Capture-to-arrival delay, floored at zero for skewed client clocks.
		if delay := now.Sub(frame.SentAt); delay > 0 {
			decision.Delay = delay
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	state := g.clients[frame.ClientID]
	if state == nil {
		state = &clientState{}
		g.clients[frame.ClientID] = state
	}

	//2.- Pick the first failing check; the order mirrors how cheap each one is to evaluate.
	reason := DropReasonNone
	switch {
	case state.lastSequence != 0 && frame.SequenceID <= state.lastSequence:
		reason = DropReasonSequence
	case g.cfg.MaxAge > 0 && decision.Delay > g.cfg.MaxAge:
		reason = DropReasonStale
	case state.lastSequence != 0 && g.cfg.MinInterval > 0 && now.Sub(state.lastAccepted) < g.cfg.MinInterval:
		reason = DropReasonRateLimited
	}

	if reason != DropReasonNone {
		//3.- Count the drop so operators can spot misbehaving controllers.
		switch reason {
		case DropReasonSequence:
			state.drops.Sequence++
		case DropReasonStale:
			state.drops.Stale++
		case DropReasonRateLimited:
			state.drops.RateLimited++
		}
		g.logger.Debug("control frame dropped",
			logging.String("client_id", frame.ClientID),
			logging.Uint64("sequence", frame.SequenceID),
			logging.String("reason", string(reason)),
		)
		decision.Accepted = false
		decision.Reason = reason
		return decision
	}

	//4.- Promote the frame as the latest accepted event for this client.
	state.lastSequence = frame.SequenceID
	state.lastAccepted = now
	return decision
}

// Forget clears sequencing state and counters for a disconnected client.
func (g *Gate) Forget(clientID string) {
	if g == nil || clientID == "" {
		return
	}
	g.mu.Lock()
	delete(g.clients, clientID)
	g.mu.Unlock()
}

// Metrics returns a copy of the per-client drop counters. Clients without drops are omitted.
func (g *Gate) Metrics() map[string]DropCounters {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var out map[string]DropCounters
	for id, state := range g.clients {
		if state.drops.Total() == 0 {
			continue
		}
		if out == nil {
			out = make(map[string]DropCounters)
		}
		out[id] = state.drops
	}
	return out
}
