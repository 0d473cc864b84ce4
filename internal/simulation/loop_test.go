package simulation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopTicksUntilStopped(t *testing.T) {
	var ticks int32
	loop := NewLoop(200, 50*time.Millisecond, func(time.Duration) {
		atomic.AddInt32(&ticks, 1)
	})
	if !loop.Start(context.Background()) {
		t.Fatal("expected first Start to launch the loop")
	}
	if loop.Start(context.Background()) {
		t.Fatal("Start on a running loop should be a no-op")
	}
	time.Sleep(60 * time.Millisecond)
	if !loop.Stop() {
		t.Fatal("expected Stop to report a running loop")
	}
	after := atomic.LoadInt32(&ticks)
	if after == 0 {
		t.Fatal("expected the loop to tick at least once")
	}
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&ticks) != after {
		t.Fatal("loop kept ticking after Stop")
	}
	if loop.Running() {
		t.Fatal("loop still reports running")
	}
}

func TestLoopStopsOnContextCancel(t *testing.T) {
	loop := NewLoop(200, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	loop.Start(ctx)
	cancel()
	loop.Stop()
	if loop.Running() {
		t.Fatal("loop running after cancellation")
	}
	if !loop.Start(context.Background()) {
		t.Fatal("expected a stopped loop to restart")
	}
	loop.Stop()
}

func TestTickClampsMeasuredDelta(t *testing.T) {
	var mu sync.Mutex
	var steps []time.Duration
	base := time.Unix(100, 0)
	loop := NewLoop(60, 50*time.Millisecond, func(dt time.Duration) {
		mu.Lock()
		steps = append(steps, dt)
		mu.Unlock()
	}, WithClock(func() time.Time { return base }))

	loop.Tick(base)
	loop.Tick(base.Add(16 * time.Millisecond))
	loop.Tick(base.Add(2 * time.Second))
	loop.Tick(base.Add(time.Second))

	want := []time.Duration{0, 16 * time.Millisecond, 50 * time.Millisecond, 0}
	if len(steps) != len(want) {
		t.Fatalf("got %d steps, want %d", len(steps), len(want))
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("step %d = %v, want %v", i, steps[i], want[i])
		}
	}
}

func TestLoopIntervalFromRate(t *testing.T) {
	loop := NewLoop(120, 0, nil)
	if loop.Interval() != time.Second/120 {
		t.Fatalf("unexpected interval %v", loop.Interval())
	}
	if loop.MaxStep() != 50*time.Millisecond {
		t.Fatalf("unexpected default max step %v", loop.MaxStep())
	}
}

func TestLoopFeedsMonitor(t *testing.T) {
	monitor := NewTickMonitor(time.Nanosecond)
	loop := NewLoop(60, 0, func(time.Duration) { time.Sleep(time.Millisecond) }, WithMonitor(monitor))
	loop.Tick(time.Now())
	loop.Tick(time.Now())
	snap := monitor.Snapshot()
	if snap.Samples != 2 || snap.Overruns != 2 {
		t.Fatalf("unexpected monitor snapshot %+v", snap)
	}
	if snap.AverageFPS() <= 0 {
		t.Fatal("expected a positive average rate")
	}
	monitor.Reset()
	if monitor.Snapshot().Samples != 0 {
		t.Fatal("reset did not clear samples")
	}
}
