package simulation

import (
	"context"
	"sync"
	"time"
)

// StepFunc advances the simulation by the measured, clamped wall-clock delta.
type StepFunc func(dt time.Duration)

// Loop schedules ticks at a target rate. Each tick measures the wall-clock time since the
// previous one, clamps it to the maximum step and hands it to the step function.
type Loop struct {
	interval time.Duration
	maxStep  time.Duration
	stepFunc StepFunc
	now      func() time.Time
	monitor  *TickMonitor

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	last    time.Time
}

// LoopOption customises loop construction.
type LoopOption func(*Loop)

// WithClock overrides the wall clock used to measure tick deltas.
func WithClock(now func() time.Time) LoopOption {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// WithMonitor records how long each step takes.
func WithMonitor(monitor *TickMonitor) LoopOption {
	return func(l *Loop) {
		l.monitor = monitor
	}
}

// NewLoop configures a loop that targets targetHz ticks per second.
func NewLoop(targetHz float64, maxStep time.Duration, step StepFunc, opts ...LoopOption) *Loop {
	if targetHz <= 0 {
		targetHz = 60
	}
	if step == nil {
		step = func(time.Duration) {}
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 60
	}
	if maxStep <= 0 {
		maxStep = 50 * time.Millisecond
	}
	loop := &Loop{
		interval: interval,
		maxStep:  maxStep,
		stepFunc: step,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(loop)
		}
	}
	return loop
}

// Start begins ticking until the context is cancelled or Stop is invoked. Starting a
// running loop is a no-op and returns false.
func (l *Loop) Start(ctx context.Context) bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true
	l.last = l.now()

	go l.run(ctx, l.done)
	return true
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(l.interval)
	defer func() {
		ticker.Stop()
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
		close(done)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			//1.- Cancellation is cooperative: a stop request wins before the next tick starts.
			if ctx.Err() != nil {
				return
			}
			l.Tick(l.now())
		}
	}
}

// Tick runs one step using the delta between now and the previous tick.
func (l *Loop) Tick(now time.Time) time.Duration {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	dt := now.Sub(l.last)
	if l.last.IsZero() || dt < 0 {
		dt = 0
	}
	l.last = now
	l.mu.Unlock()

	//1.- Bound the integration error caused by scheduling hitches.
	if dt > l.maxStep {
		dt = l.maxStep
	}
	started := time.Now()
	l.stepFunc(dt)
	if l.monitor != nil {
		l.monitor.Observe(time.Since(started))
	}
	return dt
}

// Stop halts scheduling and waits for the tick goroutine to exit. It never runs a step
// itself and must not be called from inside the step function.
func (l *Loop) Stop() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	cancel, done, running := l.cancel, l.done, l.running
	l.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	<-done
	l.mu.Lock()
	if l.done == done {
		l.cancel = nil
	}
	l.mu.Unlock()
	return running
}

// Running reports whether the tick goroutine is active.
func (l *Loop) Running() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Interval exposes the scheduling period.
func (l *Loop) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}

// MaxStep exposes the clamp applied to measured deltas.
func (l *Loop) MaxStep() time.Duration {
	if l == nil {
		return 0
	}
	return l.maxStep
}
