package race

import (
	"testing"

	"fuzzyracer/racer/internal/control"
)

// fixedSource returns scripted values so lane picks are predictable.
type fixedSource struct {
	float float64
	index int
}

func (f fixedSource) Float64() float64 { return f.float }

func (f fixedSource) IntN(n int) int { return f.index % n }

func TestSpawnSkipsWhenEveryLaneIsReserved(t *testing.T) {
	tuning := MustPreset("canvas")
	state := newState(tuning, Running)
	for lane := 0; lane < tuning.Lanes; lane++ {
		state.Traffic = append(state.Traffic, TrafficCar{ID: uint64(lane + 1), Lane: lane, Position: 10})
	}
	if _, ok := trySpawn(state, tuning, fixedSource{}); ok {
		t.Fatal("spawned into a fully reserved road")
	}
	if state.SpawnSkips != 1 {
		t.Fatalf("skips = %d, want 1", state.SpawnSkips)
	}
}

func TestSpawnTimerResetsEvenWithoutFreeLane(t *testing.T) {
	tuning := MustPreset("canvas")
	tuning.MaxTraffic = 10
	state := newState(tuning, Running)
	for lane := 0; lane < tuning.Lanes; lane++ {
		state.Traffic = append(state.Traffic, TrafficCar{Lane: lane, Position: 0, Speed: 1000})
	}
	state.SpawnTimer = tuning.SpawnInterval
	updateTraffic(state, tuning, fixedSource{}, 0.01)
	if state.SpawnTimer != 0 {
		t.Fatalf("spawn timer = %v, want reset", state.SpawnTimer)
	}
	if len(state.Traffic) != tuning.Lanes {
		t.Fatalf("traffic count changed to %d", len(state.Traffic))
	}
}

func TestSpawnPicksOnlyFreeLanes(t *testing.T) {
	tuning := MustPreset("canvas")
	state := newState(tuning, Running)
	state.Traffic = []TrafficCar{
		{ID: 1, Lane: 0, Position: 5},
		{ID: 2, Lane: 1, Position: tuning.ReservationWindow + 1},
	}
	event, ok := trySpawn(state, tuning, fixedSource{index: 0, float: 0.5})
	if !ok {
		t.Fatal("expected a spawn")
	}
	if event.Car.Lane != 1 {
		t.Fatalf("lane = %d, want first free lane 1", event.Car.Lane)
	}
	if len(event.Reserved) != 1 || event.Reserved[0] != 0 {
		t.Fatalf("reserved = %v, want [0]", event.Reserved)
	}
	if event.Car.Speed != (tuning.TrafficMinSpeed+tuning.TrafficMaxSpeed)/2 {
		t.Fatalf("speed = %v, want midpoint", event.Car.Speed)
	}
}

func TestSpawnCapHonoured(t *testing.T) {
	tuning := MustPreset("canvas")
	state := newState(tuning, Running)
	for i := 0; i < tuning.MaxTraffic; i++ {
		state.Traffic = append(state.Traffic, TrafficCar{Lane: i, Position: 200})
	}
	state.SpawnTimer = 100
	if spawned := updateTraffic(state, tuning, fixedSource{}, 0.01); len(spawned) != 0 {
		t.Fatalf("spawned beyond the cap: %+v", spawned)
	}
}

func TestCarsRetirePastPlayer(t *testing.T) {
	tuning := MustPreset("canvas")
	state := newState(tuning, Running)
	state.Traffic = []TrafficCar{
		{ID: 1, Lane: 0, Position: tuning.RetireDistance - 0.01},
		{ID: 2, Lane: 4, Position: 100},
	}
	state.SpawnTimer = -100
	updateTraffic(state, tuning, fixedSource{}, 0.05)
	if len(state.Traffic) != 1 || state.Traffic[0].ID != 2 {
		t.Fatalf("unexpected traffic after retirement: %+v", state.Traffic)
	}
}

func TestSpawnIntervalShrinksToMinimum(t *testing.T) {
	tuning := MustPreset("arena")
	if got := tuning.SpawnIntervalAt(0); got != 3 {
		t.Fatalf("initial interval = %v", got)
	}
	if got := tuning.SpawnIntervalAt(30); got <= 2.49 || got >= 2.51 {
		t.Fatalf("interval after 30s = %v, want about 2.5", got)
	}
	if got := tuning.SpawnIntervalAt(600); got != tuning.SpawnIntervalMin {
		t.Fatalf("interval after 10min = %v, want floor", got)
	}
}

func TestSpawnedLanesAvoidReservedSet(t *testing.T) {
	tuning := MustPreset("canvas")
	var events []SpawnEvent
	engine := newRunning(t, tuning, 42, WithSpawnObserver(func(event SpawnEvent) {
		events = append(events, event)
	}))
	prev := engine.Snapshot()
	maxID := uint64(0)
	for i := 0; i < 6000; i++ {
		// Parking between lanes 0 and 1 keeps the player clear of every car.
		steering := 0.0
		if prev.Lateral > -200 {
			steering = -100
		}
		engine.Submit(control.Sample{Steering: steering, Speed: 100})
		snap := engine.Step(tick)
		if snap.Lifecycle != Running {
			t.Fatalf("tick %d: unexpected crash", i)
		}
		//1.- Rebuild the reserved set from the previous frame independently of the engine.
		reserved := make(map[int]bool)
		for _, car := range prev.Traffic {
			if car.Position < tuning.ReservationWindow {
				reserved[car.Lane] = true
			}
		}
		for _, car := range snap.Traffic {
			if car.ID <= maxID {
				continue
			}
			if reserved[car.Lane] {
				t.Fatalf("tick %d: car %d spawned into reserved lane %d", i, car.ID, car.Lane)
			}
			reserved[car.Lane] = true
			maxID = car.ID
		}
		prev = snap
	}

	if len(events) < 8 {
		t.Fatalf("expected steady spawning, got %d events", len(events))
	}
	for _, event := range events {
		for _, lane := range event.Reserved {
			if lane == event.Car.Lane {
				t.Fatalf("spawn event %+v reused a reserved lane", event)
			}
		}
		if event.Car.Speed < tuning.TrafficMinSpeed || event.Car.Speed > tuning.TrafficMaxSpeed {
			t.Fatalf("car speed %v outside range", event.Car.Speed)
		}
	}
}
