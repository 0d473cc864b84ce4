package race

import "math"

// overlaps tests two axis-aligned boxes given by centre and size. Touching edges do not count.
func overlaps(ax, ay, aw, al, bx, by, bw, bl float64) bool {
	return math.Abs(ax-bx) < (aw+bw)/2 && math.Abs(ay-by) < (al+bl)/2
}

// firstHit returns the index of the first car overlapping the player, or -1.
func firstHit(s *State, t Tuning) int {
	for i, car := range s.Traffic {
		if overlaps(s.Lateral, t.PlayerDistance, t.PlayerWidth, t.PlayerLength,
			t.LaneCenter(car.Lane), car.Position, t.TrafficWidth, t.TrafficLength) {
			return i
		}
	}
	return -1
}

// detectCollision ends the run on the first hit unless a shield or invulnerability absorbs it.
// It reports whether the run crashed this tick.
func detectCollision(s *State, t Tuning) bool {
	if s.Invulnerable {
		return false
	}
	hit := firstHit(s, t)
	if hit < 0 {
		return false
	}
	if s.Shield {
		//1.- The shield breaks, the car is cleared and a short grace period starts.
		s.Shield = false
		s.ShieldTimer = 0
		s.Invulnerable = true
		s.InvulnerableTimer = t.InvulnerableDuration
		s.Traffic = append(s.Traffic[:hit], s.Traffic[hit+1:]...)
		return false
	}
	s.Lifecycle = Crashed
	s.GameOver = &GameOver{Score: s.Score, Distance: int(s.Distance)}
	return true
}
