package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fuzzyracer/racer/internal/control"
	"fuzzyracer/racer/internal/logging"
	"fuzzyracer/racer/internal/race"
	"fuzzyracer/racer/internal/replay"
	"fuzzyracer/racer/internal/simulation"
)

// ErrSessionClosed is returned when operating on a closed session.
var ErrSessionClosed = errors.New("session closed")

// ErrReplayDisabled is returned when a replay dump is requested for a session without a writer.
var ErrReplayDisabled = errors.New("replay recording disabled")

// UpdateKind distinguishes per-tick state from terminal events.
type UpdateKind string

const (
	UpdateState    UpdateKind = "state"
	UpdateGameOver UpdateKind = "game_over"
)

// Update is delivered to subscribers after every tick and once per crashed run.
type Update struct {
	Kind     UpdateKind
	Snapshot race.Snapshot
	GameOver race.GameOver
}

// Settings configures a session.
type Settings struct {
	Tuning    race.Tuning
	Seed      uint64
	TickHz    float64
	ReplayDir string
	Clock     func() time.Time
}

// Info is the externally visible summary of a session.
type Info struct {
	ID          string                         `json:"id"`
	Tuning      string                         `json:"tuning"`
	Seed        uint64                         `json:"seed"`
	TickHz      float64                        `json:"tick_hz"`
	CreatedAt   time.Time                      `json:"created_at"`
	Running     bool                           `json:"running"`
	Lifecycle   race.Lifecycle                 `json:"lifecycle"`
	Tick        uint64                         `json:"tick"`
	Score       int                            `json:"score"`
	GameOvers   int                            `json:"game_overs"`
	Subscribers int                            `json:"subscribers"`
	Timing      simulation.TickMetricsSnapshot `json:"timing"`
	ReplayDir   string                         `json:"replay_dir,omitempty"`
}

// Session binds one engine to one tick loop and fans its snapshots out to subscribers.
type Session struct {
	id       string
	settings Settings
	created  time.Time
	log      *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	engine  *race.Engine
	loop    *simulation.Loop
	monitor *simulation.TickMonitor

	//1.- mu serialises Step, Start and Reset; it also guards the replay bookkeeping.
	mu        sync.Mutex
	pending   []replay.Command
	crash     *race.GameOver
	gameOvers int
	writer    *replay.Writer
	closed    bool

	subsMu     sync.Mutex
	subs       map[uint64]*Subscription
	nextSub    uint64
	subsClosed bool
}

// New builds a session in the Uninitialized state. The loop is not started until Start.
func New(id string, settings Settings, logger *logging.Logger) (*Session, error) {
	if logger == nil {
		logger = logging.L()
	}
	if settings.TickHz <= 0 {
		settings.TickHz = 60
	}
	if settings.Clock == nil {
		settings.Clock = time.Now
	}

	s := &Session{
		id:       id,
		settings: settings,
		created:  settings.Clock().UTC(),
		log:      logger.With(logging.String("session_id", id)),
		subs:     make(map[uint64]*Subscription),
	}
	engine, err := race.NewEngine(settings.Tuning, race.NewSource(settings.Seed),
		race.WithGameOverHandler(s.onGameOver),
		race.WithSpawnObserver(s.onSpawn))
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	s.engine = engine

	maxStep := time.Duration(settings.Tuning.MaxStep * float64(time.Second))
	interval := time.Duration(float64(time.Second) / settings.TickHz)
	s.monitor = simulation.NewTickMonitor(interval)
	s.loop = simulation.NewLoop(settings.TickHz, maxStep, func(dt time.Duration) { s.Step(dt) },
		simulation.WithClock(settings.Clock), simulation.WithMonitor(s.monitor))

	if settings.ReplayDir != "" {
		writer, _, err := replay.NewWriter(settings.ReplayDir, id, settings.Clock)
		if err != nil {
			return nil, fmt.Errorf("session %s: open replay: %w", id, err)
		}
		writer.SetHeader(replay.Header{SessionID: id, Seed: settings.Seed, TickHz: settings.TickHz, Tuning: settings.Tuning})
		s.writer = writer
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Tuning returns the tuning the engine runs with.
func (s *Session) Tuning() race.Tuning { return s.engine.Tuning() }

// Submit stores a sanitised control sample for the next tick.
func (s *Session) Submit(sample control.Sample) { s.engine.Submit(sample) }

// SubmitRaw sanitises a wire-level sample and stores it for the next tick.
func (s *Session) SubmitRaw(raw control.RawSample) { s.engine.SubmitRaw(raw) }

// Snapshot returns the latest published snapshot.
func (s *Session) Snapshot() race.Snapshot { return s.engine.Snapshot() }

// Start launches the tick loop and moves a fresh engine to Running. It reports whether
// anything changed.
func (s *Session) Start() (bool, error) {
	changed, err := s.startRace()
	if err != nil {
		return false, err
	}
	if s.loop.Start(s.ctx) {
		s.log.Info("session loop started", logging.Float64("tick_hz", s.settings.TickHz))
		changed = true
	}
	return changed, nil
}

func (s *Session) startRace() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrSessionClosed
	}
	changed := s.engine.Start()
	if changed {
		s.pending = append(s.pending, replay.CommandStart)
	}
	return changed, nil
}

// Stop halts the tick loop without touching the simulation state.
func (s *Session) Stop() bool {
	stopped := s.loop.Stop()
	if stopped {
		s.log.Info("session loop stopped", logging.Uint64("tick", s.engine.Snapshot().Tick))
	}
	return stopped
}

// Reset replaces the race with a fresh running one. The loop keeps its current state.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.engine.Reset()
	s.pending = append(s.pending, replay.CommandReset)
	s.log.Debug("session reset")
	return nil
}

// Step advances the engine by dt and publishes the result. The loop calls it on every
// tick; tests and tools may call it directly while the loop is stopped.
func (s *Session) Step(dt time.Duration) race.Snapshot {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.engine.Snapshot()
	}
	commands := s.pending
	s.pending = nil
	seconds := dt.Seconds()
	snap := s.engine.Step(seconds)
	crash := s.crash
	s.crash = nil
	s.recordLocked(seconds, commands, snap)
	s.mu.Unlock()

	s.broadcast(Update{Kind: UpdateState, Snapshot: snap})
	if crash != nil {
		s.broadcast(Update{Kind: UpdateGameOver, Snapshot: snap, GameOver: *crash})
	}
	return snap
}

// onGameOver runs inside engine.Step while mu is held.
func (s *Session) onGameOver(over race.GameOver) {
	s.crash = &over
	s.gameOvers++
	s.log.Info("race ended", logging.Int("score", over.Score), logging.Int("distance", over.Distance))
	if s.writer != nil {
		if err := s.writer.AppendEvent(s.engine.Snapshot().Tick, "game_over", over); err != nil {
			s.replayFailedLocked(err)
		}
	}
}

// onSpawn runs inside engine.Step while mu is held.
func (s *Session) onSpawn(event race.SpawnEvent) {
	if s.log.Enabled(logging.DebugLevel) {
		s.log.Debug("traffic spawned", logging.Uint64("tick", event.Tick), logging.Int("lane", event.Car.Lane))
	}
	if s.writer != nil {
		if err := s.writer.AppendEvent(event.Tick, "spawn", event); err != nil {
			s.replayFailedLocked(err)
		}
	}
}

func (s *Session) recordLocked(dt float64, commands []replay.Command, snap race.Snapshot) {
	if s.writer == nil {
		return
	}
	if err := s.writer.AppendTick(replay.NewRecord(dt, commands, snap)); err != nil {
		s.replayFailedLocked(err)
	}
}

// replayFailedLocked abandons recording after the first write failure.
func (s *Session) replayFailedLocked(err error) {
	s.log.Warn("replay recording disabled", logging.Error(err))
	if closeErr := s.writer.Close(); closeErr != nil {
		s.log.Warn("replay close failed", logging.Error(closeErr))
	}
	s.writer = nil
}

// DumpReplay flushes the replay bundle so it can be read while the session keeps running.
func (s *Session) DumpReplay() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return "", ErrReplayDisabled
	}
	if err := s.writer.Flush(); err != nil {
		return "", err
	}
	return s.writer.Directory(), nil
}

// ReplayDirectory returns the bundle directory, or "" when recording is off.
func (s *Session) ReplayDirectory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Directory()
}

// Info summarises the session for listings.
func (s *Session) Info() Info {
	snap := s.engine.Snapshot()
	s.mu.Lock()
	gameOvers := s.gameOvers
	replayDir := s.writer.Directory()
	s.mu.Unlock()
	s.subsMu.Lock()
	subscribers := len(s.subs)
	s.subsMu.Unlock()
	return Info{
		ID:          s.id,
		Tuning:      s.settings.Tuning.Name,
		Seed:        s.settings.Seed,
		TickHz:      s.settings.TickHz,
		CreatedAt:   s.created,
		Running:     s.loop.Running(),
		Lifecycle:   snap.Lifecycle,
		Tick:        snap.Tick,
		Score:       snap.Score,
		GameOvers:   gameOvers,
		Subscribers: subscribers,
		Timing:      s.monitor.Snapshot(),
		ReplayDir:   replayDir,
	}
}

// Close stops the loop, ends every subscription and finalises the replay bundle.
func (s *Session) Close() error {
	s.loop.Stop()
	s.cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	writer := s.writer
	s.writer = nil
	s.mu.Unlock()

	s.subsMu.Lock()
	subs := s.subs
	s.subs = make(map[uint64]*Subscription)
	s.subsClosed = true
	s.subsMu.Unlock()
	for _, sub := range subs {
		sub.close()
	}

	if writer != nil {
		if err := writer.Close(); err != nil {
			return fmt.Errorf("close replay: %w", err)
		}
	}
	s.log.Info("session closed")
	return nil
}
