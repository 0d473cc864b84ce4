package race

import (
	"math"

	"fuzzyracer/racer/internal/control"
)

// targetSpeed converts the speed command into the speed the car steers toward.
func targetSpeed(t Tuning, input control.Sample, boosted bool) float64 {
	command := input.Speed
	if t.BrakeFactor > 0 && input.Gesture == control.GestureBrake {
		command *= t.BrakeFactor
	}
	target := command / control.SpeedLimit * t.MaxSpeed
	if boosted {
		target = math.Min(t.BoostedCeiling(), target*t.BoostMultiplier)
	}
	return target
}

// approach moves current toward target by at most up or down per step without overshoot.
func approach(current, target, up, down float64) float64 {
	switch {
	case current < target:
		return math.Min(target, current+up)
	case current > target:
		return math.Max(target, current-down)
	default:
		return current
	}
}

func clampFloat(value, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, value))
}

// integrateVehicle advances speed, lateral position and the wheel indicator.
func integrateVehicle(s *State, t Tuning, input control.Sample, dt float64) {
	//1.- Speed eases toward the (possibly boosted) target with asymmetric response.
	target := targetSpeed(t, input, s.BoostActive)
	s.Speed = approach(s.Speed, target, t.Acceleration*dt, t.Deceleration*dt)
	s.Speed = clampFloat(s.Speed, t.MinSpeed, t.BoostedCeiling())

	//2.- Lateral motion integrates steering and stops at the margins.
	lo, hi := t.LateralBounds()
	desired := s.Lateral + input.Steering/control.SteeringLimit*t.LateralGain*dt
	s.Lateral = clampFloat(desired, lo, hi)
	clamped := desired < lo || desired > hi

	//3.- Scraping a wall costs speed, never below the minimum.
	s.WallContact = clamped || s.Lateral <= lo+t.WallContactZone || s.Lateral >= hi-t.WallContactZone
	if s.WallContact {
		s.Speed = math.Max(t.MinSpeed, s.Speed*t.WallPenalty)
	}

	//4.- The wheel indicator is display-only.
	s.WheelAngle = input.Steering * t.WheelAngleScale
}
