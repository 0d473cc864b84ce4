package race

import (
	"math"
	"sync/atomic"

	"fuzzyracer/racer/internal/control"
)

// Engine owns one simulation. Step, Start and Reset must be serialised by the caller;
// Submit and Snapshot are safe from any goroutine.
type Engine struct {
	tuning Tuning
	src    Source
	input  control.Slot
	state  *State
	tick   uint64
	latest atomic.Pointer[Snapshot]

	onGameOver func(GameOver)
	onSpawn    func(SpawnEvent)
}

// Option customises engine construction.
type Option func(*Engine)

// WithGameOverHandler registers the callback fired once per crashed run.
func WithGameOverHandler(fn func(GameOver)) Option {
	return func(e *Engine) {
		e.onGameOver = fn
	}
}

// WithSpawnObserver registers a callback fired for every spawned car.
func WithSpawnObserver(fn func(SpawnEvent)) Option {
	return func(e *Engine) {
		e.onSpawn = fn
	}
}

// NewEngine validates the tuning and builds an engine in the Uninitialized state.
func NewEngine(t Tuning, src Source, opts ...Option) (*Engine, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		src = NewSource(0)
	}
	engine := &Engine{tuning: t.clone(), src: src}
	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}
	engine.state = newState(engine.tuning, Uninitialized)
	engine.publish()
	return engine, nil
}

// Tuning returns a copy of the engine's tuning.
func (e *Engine) Tuning() Tuning { return e.tuning.clone() }

// Submit stores the latest control sample after clamping it.
func (e *Engine) Submit(sample control.Sample) { e.input.Store(sample) }

// SubmitRaw sanitises a wire-level sample and stores it.
func (e *Engine) SubmitRaw(raw control.RawSample) { e.input.Store(control.Sanitize(raw)) }

// Input returns the sample the next tick will consume.
func (e *Engine) Input() control.Sample { return e.input.Load() }

// Snapshot returns the snapshot published by the most recent tick or lifecycle change.
func (e *Engine) Snapshot() Snapshot {
	if current := e.latest.Load(); current != nil {
		return *current
	}
	return Snapshot{}
}

// Lifecycle reports the current lifecycle.
func (e *Engine) Lifecycle() Lifecycle { return e.Snapshot().Lifecycle }

// Start moves a fresh engine to Running. It returns false and does nothing otherwise.
func (e *Engine) Start() bool {
	if e.state.Lifecycle != Uninitialized {
		return false
	}
	e.state.Lifecycle = Running
	e.publish()
	return true
}

// Reset replaces the whole state with a fresh running one.
func (e *Engine) Reset() {
	e.state = newState(e.tuning, Running)
	e.publish()
}

// Step advances the simulation by dt seconds, clamped to the tuning's maximum step, and
// returns the resulting snapshot. Only a running engine changes state.
func (e *Engine) Step(dt float64) Snapshot {
	if math.IsNaN(dt) || dt < 0 {
		dt = 0
	}
	if dt > e.tuning.MaxStep {
		dt = e.tuning.MaxStep
	}
	e.tick++
	input := e.input.Load()

	var spawned []SpawnEvent
	crashed := false
	if e.state.Lifecycle == Running {
		spawned, crashed = e.advance(input, dt)
	}
	snap := e.publishWith(input)

	for _, event := range spawned {
		if e.onSpawn != nil {
			event.Tick = e.tick
			e.onSpawn(event)
		}
	}
	if crashed && e.onGameOver != nil {
		e.onGameOver(*snap.GameOver)
	}
	return snap
}

// advance runs one tick of the pipeline in its fixed order.
func (e *Engine) advance(input control.Sample, dt float64) ([]SpawnEvent, bool) {
	s, t := e.state, e.tuning
	s.Elapsed += dt

	//1.- Boost activation feeds the same tick's target speed.
	resolveBoost(s, t, input)
	//2.- Vehicle motion.
	integrateVehicle(s, t, input, dt)
	//3.- Resource drain or regeneration.
	updateBoost(s, t, dt)
	//4.- Traffic and pickups.
	spawned := updateTraffic(s, t, e.src, dt)
	updatePowerUps(s, t, e.src, dt)
	//5.- A crash freezes everything, including this tick's distance.
	if detectCollision(s, t) {
		return spawned, true
	}
	//6.- Score.
	accumulateScore(s, t, dt)
	return spawned, false
}

func (e *Engine) publish() { e.publishWith(e.input.Load()) }

func (e *Engine) publishWith(input control.Sample) Snapshot {
	snap := e.state.snapshot(e.tuning, e.tick, input)
	e.latest.Store(&snap)
	return snap
}
