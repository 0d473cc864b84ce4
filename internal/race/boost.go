package race

import "fuzzyracer/racer/internal/control"

const boostMax = 100.0

// resolveBoost decides whether boost is active this tick. It runs before kinematics so
// the boosted target applies on the same tick the gesture is seen.
func resolveBoost(s *State, t Tuning, input control.Sample) {
	s.BoostActive = t.boostGesture(input.Gesture) && input.Hands >= t.BoostHands && s.Boost > t.BoostFloor
}

// updateBoost drains while active and regenerates while idle. Regeneration from an
// empty tank uses the slower rate.
func updateBoost(s *State, t Tuning, dt float64) {
	if s.BoostActive {
		s.Boost = clampFloat(s.Boost-t.BoostDrain*dt, 0, boostMax)
		return
	}
	rate := t.BoostRegen
	if s.Boost <= 0 {
		rate = t.BoostRegenEmpty
	}
	s.Boost = clampFloat(s.Boost+rate*dt, 0, boostMax)
}
