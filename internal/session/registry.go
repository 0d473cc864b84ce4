package session

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"fuzzyracer/racer/internal/logging"
	"fuzzyracer/racer/internal/race"
)

var (
	// ErrSessionNotFound is returned when an identifier does not match a hosted session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrCapacityReached indicates that the registry already hosts the maximum number of sessions.
	ErrCapacityReached = errors.New("session capacity reached")
)

// CreateRequest carries the optional per-session overrides.
type CreateRequest struct {
	Seed   *uint64 `json:"seed,omitempty"`
	Tuning string  `json:"tuning,omitempty"`
}

// RegistryOption customises registry construction.
type RegistryOption func(*Registry)

// WithIDGenerator overrides how session identifiers are minted.
func WithIDGenerator(next func() string) RegistryOption {
	return func(r *Registry) {
		if next != nil {
			r.newID = next
		}
	}
}

// WithSeedSource overrides the source of seeds for sessions created without one.
func WithSeedSource(next func() uint64) RegistryOption {
	return func(r *Registry) {
		if next != nil {
			r.newSeed = next
		}
	}
}

// Registry owns every hosted session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	max      int
	defaults Settings
	log      *logging.Logger
	newID    func() string
	newSeed  func() uint64
}

// NewRegistry builds a registry. A non-positive max disables the session limit. A zero
// default seed makes every session draw a fresh random seed.
func NewRegistry(max int, defaults Settings, logger *logging.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = logging.L()
	}
	r := &Registry{
		sessions: make(map[string]*Session),
		max:      max,
		defaults: defaults,
		log:      logger,
		newID:    uuid.NewString,
		newSeed:  rand.Uint64,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Create builds and registers a session. The loop is not started.
func (r *Registry) Create(req CreateRequest) (*Session, error) {
	settings := r.defaults
	if name := strings.TrimSpace(req.Tuning); name != "" && name != settings.Tuning.Name {
		tuning, err := race.Preset(name)
		if err != nil {
			return nil, err
		}
		settings.Tuning = tuning
	}
	switch {
	case req.Seed != nil:
		settings.Seed = *req.Seed
	case settings.Seed == 0:
		settings.Seed = r.newSeed()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	//1.- Check capacity before allocating the engine and replay files.
	if r.max > 0 && len(r.sessions) >= r.max {
		return nil, fmt.Errorf("%w: %d sessions", ErrCapacityReached, r.max)
	}
	id := r.newID()
	if _, exists := r.sessions[id]; exists {
		return nil, fmt.Errorf("session id %q already in use", id)
	}
	s, err := New(id, settings, r.log)
	if err != nil {
		return nil, err
	}
	r.sessions[id] = s
	r.log.Info("session created",
		logging.String("session_id", id),
		logging.String("tuning", settings.Tuning.Name),
		logging.Uint64("seed", settings.Seed))
	return s, nil
}

// Get returns the session with the given identifier.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Remove closes and forgets a session.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.Close()
}

// List summarises every session ordered by creation time.
func (r *Registry) List() []Info {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Len reports how many sessions are hosted.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Capacity returns the configured session limit; zero means unlimited.
func (r *Registry) Capacity() int {
	if r.max < 0 {
		return 0
	}
	return r.max
}

// ReplayDirectories lists the bundles still being written so retention never removes them.
func (r *Registry) ReplayDirectories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dirs := make([]string, 0, len(r.sessions))
	for _, s := range r.sessions {
		if dir := s.ReplayDirectory(); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// CloseAll closes every session; used on shutdown.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var errs error
	for id, s := range sessions {
		if err := s.Close(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("session %s: %w", id, err))
		}
	}
	return errs
}

// DumpReplays flushes the replay bundle of one session, or of every recording session
// when id is empty, and returns the bundle directories.
func (r *Registry) DumpReplays(id string) ([]string, error) {
	if id != "" {
		s, err := r.Get(id)
		if err != nil {
			return nil, err
		}
		dir, err := s.DumpReplay()
		if err != nil {
			return nil, err
		}
		return []string{dir}, nil
	}

	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	var (
		dirs []string
		errs error
	)
	for _, s := range sessions {
		dir, err := s.DumpReplay()
		switch {
		case errors.Is(err, ErrReplayDisabled):
			continue
		case err != nil:
			errs = errors.Join(errs, fmt.Errorf("session %s: %w", s.ID(), err))
		default:
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	if len(dirs) == 0 && errs == nil {
		return nil, ErrReplayDisabled
	}
	return dirs, errs
}
