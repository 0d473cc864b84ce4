package race

import "math"

// accumulateScore integrates distance and derives the score from it.
func accumulateScore(s *State, t Tuning, dt float64) {
	s.Distance += s.Speed * dt
	s.Score = int(math.Floor(s.Distance / t.ScoreDivisor))
}
