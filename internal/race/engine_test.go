package race

import (
	"math"
	"reflect"
	"testing"

	"fuzzyracer/racer/internal/control"
)

const tick = 0.016

// quietTuning is the canvas preset with spawning switched off so tests control traffic.
func quietTuning() Tuning {
	tuning := MustPreset("canvas")
	tuning.SpawnInterval = 1e9
	tuning.SpawnIntervalMin = 1e9
	tuning.SpawnWhenEmpty = false
	return tuning
}

func newRunning(t *testing.T, tuning Tuning, seed uint64, opts ...Option) *Engine {
	t.Helper()
	engine, err := NewEngine(tuning, NewSource(seed), opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if !engine.Start() {
		t.Fatal("expected Start to transition a fresh engine")
	}
	return engine
}

func TestNewEngineRejectsInvalidTuning(t *testing.T) {
	tuning := quietTuning()
	tuning.MaxSpeed = 0
	if _, err := NewEngine(tuning, nil); err == nil {
		t.Fatal("expected invalid tuning to be rejected")
	}
}

func TestStepBeforeStartLeavesStateUntouched(t *testing.T) {
	engine, err := NewEngine(quietTuning(), NewSource(1))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	engine.Submit(control.Sample{Steering: 100, Speed: 100})
	before := engine.Snapshot()
	snap := engine.Step(tick)
	if snap.Lifecycle != Uninitialized {
		t.Fatalf("lifecycle = %s, want uninitialized", snap.Lifecycle)
	}
	if snap.Lateral != before.Lateral || snap.Distance != 0 || snap.Speed != before.Speed {
		t.Fatalf("state changed before start: %+v", snap)
	}
	if snap.Tick != 1 {
		t.Fatalf("expected a snapshot for every tick, got tick %d", snap.Tick)
	}
}

func TestStartIsNoOpOnceRunning(t *testing.T) {
	engine := newRunning(t, quietTuning(), 1)
	if engine.Start() {
		t.Fatal("second Start should be a no-op")
	}
}

func TestStepClampsLargeDelta(t *testing.T) {
	tuning := quietTuning()
	engine := newRunning(t, tuning, 1)
	snap := engine.Step(1.0)
	want := tuning.MinSpeed * tuning.MaxStep
	if math.Abs(snap.Distance-want) > 1e-12 {
		t.Fatalf("distance = %v, want %v", snap.Distance, want)
	}
	if snap = engine.Step(-3); snap.Distance != want {
		t.Fatalf("negative dt advanced the simulation: %v", snap.Distance)
	}
}

func TestSpeedApproachesTargetMonotonically(t *testing.T) {
	tuning := quietTuning()
	engine := newRunning(t, tuning, 1)

	//1.- Accelerate toward a mid-range target and never overshoot it.
	engine.Submit(control.Sample{Speed: 60})
	target := 0.6 * tuning.MaxSpeed
	prev := engine.Snapshot().Speed
	for i := 0; i < 200; i++ {
		snap := engine.Step(tick)
		if snap.Speed < prev || snap.Speed > target {
			t.Fatalf("tick %d: speed %v left (%v, %v]", i, snap.Speed, prev, target)
		}
		prev = snap.Speed
	}
	if prev != target {
		t.Fatalf("speed settled at %v, want %v", prev, target)
	}

	//2.- Releasing the throttle decays to the minimum without dropping below it.
	engine.Submit(control.Sample{})
	for i := 0; i < 200; i++ {
		snap := engine.Step(tick)
		if snap.Speed > prev || snap.Speed < tuning.MinSpeed {
			t.Fatalf("tick %d: speed %v not decaying within bounds", i, snap.Speed)
		}
		prev = snap.Speed
	}
	if prev != tuning.MinSpeed {
		t.Fatalf("speed settled at %v, want minimum %v", prev, tuning.MinSpeed)
	}
}

func TestBoostRequiresEnoughHands(t *testing.T) {
	tuning := quietTuning()
	engine := newRunning(t, tuning, 1)
	engine.Submit(control.Sample{Speed: 100, Gesture: control.GestureNitro, Hands: 1})
	for i := 0; i < 300; i++ {
		snap := engine.Step(tick)
		if snap.BoostActive {
			t.Fatalf("tick %d: boost active with one hand", i)
		}
		if snap.Speed > tuning.MaxSpeed {
			t.Fatalf("tick %d: unboosted speed %v above max", i, snap.Speed)
		}
	}
}

func TestMalformedHandCountNeverFiresBoost(t *testing.T) {
	engine := newRunning(t, quietTuning(), 1)
	for _, hands := range []float64{7, 1.5, math.Inf(1)} {
		nitro, speed, count := float64(control.GestureNitro), 100.0, hands
		engine.SubmitRaw(control.RawSample{Speed: &speed, Gesture: &nitro, Hands: &count})
		for i := 0; i < 30; i++ {
			if snap := engine.Step(tick); snap.BoostActive {
				t.Fatalf("hands=%v tick %d: boost active", hands, i)
			}
		}
	}
}

func TestBoostStaysWithinBounds(t *testing.T) {
	tuning := quietTuning()
	engine := newRunning(t, tuning, 1)
	engine.Submit(control.Sample{Speed: 100, Gesture: control.GestureNitro, Hands: 2})

	sawActive := false
	topSpeed := 0.0
	for i := 0; i < 1000; i++ {
		snap := engine.Step(tick)
		if snap.Boost < 0 || snap.Boost > 100 {
			t.Fatalf("tick %d: boost %v out of range", i, snap.Boost)
		}
		if snap.Speed > tuning.BoostedCeiling() || snap.Speed < tuning.MinSpeed {
			t.Fatalf("tick %d: speed %v out of range", i, snap.Speed)
		}
		sawActive = sawActive || snap.BoostActive
		topSpeed = math.Max(topSpeed, snap.Speed)
	}
	if !sawActive {
		t.Fatal("boost never activated with both hands and the nitro gesture")
	}
	if topSpeed <= tuning.MaxSpeed {
		t.Fatalf("boost never lifted speed above %v", tuning.MaxSpeed)
	}
}

func TestBoostCannotActivateAtFloor(t *testing.T) {
	tuning := quietTuning()
	engine := newRunning(t, tuning, 1)
	engine.state.Boost = tuning.BoostFloor
	engine.Submit(control.Sample{Speed: 100, Gesture: control.GestureOpen, Hands: 2})
	if snap := engine.Step(tick); snap.BoostActive {
		t.Fatal("boost activated at the depletion floor")
	}
}

func TestIdleInputDecaysSpeedAndRegeneratesBoost(t *testing.T) {
	tuning := quietTuning()
	engine := newRunning(t, tuning, 1)
	engine.Submit(control.Sample{Speed: 100})
	for i := 0; i < 100; i++ {
		engine.Step(tick)
	}
	engine.state.Boost = 40

	engine.Submit(control.Sample{Steering: 0, Speed: 0, Gesture: control.GestureNone, Hands: 0})
	prevBoost := 40.0
	for i := 0; i < 1900; i++ {
		snap := engine.Step(tick)
		if snap.Boost < prevBoost {
			t.Fatalf("tick %d: boost fell from %v to %v while idle", i, prevBoost, snap.Boost)
		}
		prevBoost = snap.Boost
	}
	snap := engine.Snapshot()
	if snap.Speed != tuning.MinSpeed {
		t.Fatalf("speed = %v, want minimum %v", snap.Speed, tuning.MinSpeed)
	}
	if snap.Boost != 100 {
		t.Fatalf("boost = %v, want full", snap.Boost)
	}
}

func TestLateralNeverLeavesRoad(t *testing.T) {
	for _, name := range PresetNames() {
		t.Run(name, func(t *testing.T) {
			tuning := MustPreset(name)
			tuning.SpawnInterval, tuning.SpawnIntervalMin, tuning.SpawnWhenEmpty = 1e9, 1e9, false
			tuning.PowerUps = false
			engine := newRunning(t, tuning, 7)
			lo, hi := tuning.LateralBounds()
			driver := NewSource(99)
			for i := 0; i < 4000; i++ {
				steering := -100.0
				switch {
				case i < 1000:
				case i < 2000:
					steering = 100
				default:
					steering = driver.Float64()*200 - 100
				}
				engine.Submit(control.Sample{Steering: steering, Speed: 80})
				snap := engine.Step(tick)
				if snap.Lateral < lo || snap.Lateral > hi {
					t.Fatalf("tick %d: lateral %v outside [%v, %v]", i, snap.Lateral, lo, hi)
				}
			}
		})
	}
}

func TestSustainedSteeringHitsWallAndPenalisesSpeed(t *testing.T) {
	tuning := quietTuning()
	tuning.MinSpeed = 0
	engine := newRunning(t, tuning, 1)
	engine.Submit(control.Sample{Steering: 100, Speed: 100})
	_, hi := tuning.LateralBounds()

	var atWall Snapshot
	for i := 0; ; i++ {
		if i > 1000 {
			t.Fatal("never reached the right bound")
		}
		atWall = engine.Step(tick)
		if atWall.Lateral == hi {
			break
		}
	}
	next := engine.Step(tick)
	expected := math.Min(tuning.MaxSpeed, atWall.Speed+tuning.Acceleration*tick) * tuning.WallPenalty
	if !next.WallContact {
		t.Fatal("expected wall contact on the tick after reaching the bound")
	}
	if math.Abs(next.Speed-expected) > 1e-9 {
		t.Fatalf("speed = %v, want penalised %v", next.Speed, expected)
	}
	if next.Lateral != hi {
		t.Fatalf("lateral moved off the wall: %v", next.Lateral)
	}
}

func TestWheelAngleScalesSteering(t *testing.T) {
	tuning := quietTuning()
	engine := newRunning(t, tuning, 1)
	engine.Submit(control.Sample{Steering: -30})
	if snap := engine.Step(tick); snap.WheelAngle != -30*tuning.WheelAngleScale {
		t.Fatalf("wheel angle = %v", snap.WheelAngle)
	}
}

func TestStationaryCarClosesOnPlayerSpeed(t *testing.T) {
	tuning := quietTuning()
	tuning.ClosingScale = 1
	engine := newRunning(t, tuning, 1)
	engine.state.Traffic = []TrafficCar{{ID: 500, Lane: 2, Position: 0, Speed: 0}}

	for i := 0; i < 187; i++ {
		engine.Step(tick)
	}
	snap := engine.Step(0.008)

	if snap.Speed != 20 {
		t.Fatalf("player speed = %v, want 20", snap.Speed)
	}
	for _, car := range snap.Traffic {
		if car.ID == 500 {
			if math.Abs(car.Position-60) > 1e-9 {
				t.Fatalf("car advanced %v, want 60", car.Position)
			}
			return
		}
	}
	t.Fatal("tracked car disappeared")
}

func TestFasterCarStillClearsAtMinimumRate(t *testing.T) {
	tuning := quietTuning()
	engine := newRunning(t, tuning, 1)
	engine.state.Traffic = []TrafficCar{{ID: 9, Lane: 0, Position: 0, Speed: 40}}
	for i := 0; i < 100; i++ {
		engine.Step(0.01)
	}
	got := engine.Snapshot().Traffic[0].Position
	if math.Abs(got-tuning.MinClosingRate) > 1e-9 {
		t.Fatalf("position = %v, want %v after one second", got, tuning.MinClosingRate)
	}
}

func TestCollisionFiresGameOverOnceAndFreezes(t *testing.T) {
	tuning := quietTuning()
	var events []GameOver
	engine := newRunning(t, tuning, 1, WithGameOverHandler(func(over GameOver) {
		events = append(events, over)
	}))
	engine.Submit(control.Sample{Speed: 100})
	engine.state.Traffic = []TrafficCar{{ID: 1, Lane: 2, Position: tuning.PlayerDistance - 100}}

	var crash Snapshot
	for i := 0; ; i++ {
		if i > 500 {
			t.Fatal("collision never happened")
		}
		crash = engine.Step(tick)
		if crash.Lifecycle == Crashed {
			break
		}
	}
	if len(events) != 1 {
		t.Fatalf("game over fired %d times", len(events))
	}
	if crash.GameOver == nil || *crash.GameOver != events[0] {
		t.Fatalf("snapshot game over %+v does not match event %+v", crash.GameOver, events[0])
	}
	if events[0].Distance != int(crash.Distance) || events[0].Score != int(math.Floor(crash.Distance/5)) {
		t.Fatalf("unexpected game over payload %+v for distance %v", events[0], crash.Distance)
	}

	//1.- Further ticks keep publishing identical frozen state.
	engine.Submit(control.Sample{Steering: 100, Speed: 100, Gesture: control.GestureNitro, Hands: 2})
	for i := 0; i < 50; i++ {
		snap := engine.Step(tick)
		if snap.Distance != crash.Distance || snap.Score != crash.Score || snap.Lateral != crash.Lateral {
			t.Fatalf("state mutated after crash: %+v", snap)
		}
	}
	if len(events) != 1 {
		t.Fatalf("game over fired again: %d", len(events))
	}
	if engine.Start() {
		t.Fatal("Start after a crash must be a no-op")
	}

	//2.- Reset starts a new run that can end again.
	engine.Reset()
	fresh := engine.Snapshot()
	if fresh.Lifecycle != Running || fresh.Distance != 0 || fresh.GameOver != nil || len(fresh.Traffic) != 0 {
		t.Fatalf("reset did not restore initial state: %+v", fresh)
	}
	engine.Submit(control.Sample{Speed: 100})
	engine.state.Traffic = []TrafficCar{{ID: 2, Lane: 2, Position: tuning.PlayerDistance - 50}}
	for i := 0; i < 500 && engine.Lifecycle() == Running; i++ {
		engine.Step(tick)
	}
	if len(events) != 2 {
		t.Fatalf("expected one game over per run, got %d", len(events))
	}
}

func TestSnapshotsAreIsolatedFromLaterTicks(t *testing.T) {
	engine := newRunning(t, MustPreset("canvas"), 3)
	engine.Submit(control.Sample{Steering: -100, Speed: 100})
	first := engine.Step(tick)
	if len(first.Traffic) == 0 {
		t.Fatal("expected the empty road to be refilled")
	}
	position := first.Traffic[0].Position
	for i := 0; i < 20; i++ {
		engine.Step(tick)
	}
	if first.Traffic[0].Position != position {
		t.Fatal("earlier snapshot observed later mutation")
	}
}

func TestConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	engine := newRunning(t, MustPreset("canvas"), 5)
	done := make(chan struct{})
	failures := make(chan string, 1)
	go func() {
		defer close(failures)
		for {
			select {
			case <-done:
				return
			default:
			}
			snap := engine.Snapshot()
			if snap.Boost < 0 || snap.Boost > 100 || (snap.Lifecycle != Running && snap.Lifecycle != Crashed) {
				failures <- "inconsistent snapshot observed"
				return
			}
		}
	}()
	engine.Submit(control.Sample{Steering: -100, Speed: 100, Gesture: control.GestureNitro, Hands: 2})
	for i := 0; i < 2000; i++ {
		engine.Step(tick)
		if i%250 == 0 {
			engine.Reset()
		}
	}
	close(done)
	if msg, ok := <-failures; ok {
		t.Fatal(msg)
	}
}

func TestSameSeedAndInputsReplayIdentically(t *testing.T) {
	run := func() []Snapshot {
		engine := newRunning(t, MustPreset("arena"), 2024)
		driver := NewSource(11)
		var out []Snapshot
		for i := 0; i < 3000; i++ {
			engine.Submit(control.Sample{
				Steering: driver.Float64()*200 - 100,
				Speed:    driver.Float64() * 100,
				Gesture:  control.Gesture(driver.IntN(4)),
				Hands:    driver.IntN(3),
			})
			out = append(out, engine.Step(tick))
			if engine.Lifecycle() == Crashed {
				engine.Reset()
			}
		}
		return out
	}
	if !reflect.DeepEqual(run(), run()) {
		t.Fatal("identical seeds and inputs produced different runs")
	}
}
