package race

import "testing"

func arenaState(t *testing.T) (*State, Tuning) {
	t.Helper()
	tuning := MustPreset("arena")
	state := newState(tuning, Running)
	state.Speed = 50
	return state, tuning
}

func TestNitroPickupRefillsBoost(t *testing.T) {
	state, tuning := arenaState(t)
	state.Boost = 20
	state.PowerUps = []PowerUp{{ID: 1, Lane: 1, Position: tuning.PlayerDistance, Kind: PowerUpNitro}}

	updatePowerUps(state, tuning, fixedSource{float: 0.99}, 0.01)

	if state.Boost != 70 {
		t.Fatalf("boost = %v, want 70", state.Boost)
	}
	if len(state.PowerUps) != 0 {
		t.Fatal("collected pickup still on the road")
	}
}

func TestShieldAbsorbsOneHit(t *testing.T) {
	state, tuning := arenaState(t)
	state.PowerUps = []PowerUp{{ID: 1, Lane: 1, Position: tuning.PlayerDistance, Kind: PowerUpShield}}
	updatePowerUps(state, tuning, fixedSource{float: 0.99}, 0.01)
	if !state.Shield || state.ShieldTimer != tuning.ShieldDuration {
		t.Fatalf("shield not granted: %+v", state)
	}

	//1.- The first hit breaks the shield and removes the car.
	state.Traffic = []TrafficCar{{ID: 2, Lane: 1, Position: tuning.PlayerDistance}}
	if detectCollision(state, tuning) {
		t.Fatal("shielded hit ended the run")
	}
	if state.Shield || !state.Invulnerable || len(state.Traffic) != 0 {
		t.Fatalf("unexpected state after absorbed hit: %+v", state)
	}

	//2.- Invulnerability expires and the next hit is fatal.
	updatePowerUps(state, tuning, fixedSource{float: 0.99}, tuning.InvulnerableDuration+0.01)
	if state.Invulnerable {
		t.Fatal("invulnerability did not expire")
	}
	state.Traffic = []TrafficCar{{ID: 3, Lane: 1, Position: tuning.PlayerDistance}}
	if !detectCollision(state, tuning) || state.Lifecycle != Crashed {
		t.Fatal("unshielded hit did not crash")
	}
}

func TestPickupSpawnsAtMostOne(t *testing.T) {
	state, tuning := arenaState(t)
	for i := 0; i < 10; i++ {
		updatePowerUps(state, tuning, fixedSource{float: 0, index: 0}, 0.01)
	}
	if len(state.PowerUps) != 1 {
		t.Fatalf("expected exactly one pickup, got %d", len(state.PowerUps))
	}
}

func TestPowerUpsDisabledOnCanvas(t *testing.T) {
	tuning := MustPreset("canvas")
	state := newState(tuning, Running)
	updatePowerUps(state, tuning, fixedSource{float: 0}, 0.05)
	if len(state.PowerUps) != 0 {
		t.Fatal("canvas preset spawned a pickup")
	}
}
