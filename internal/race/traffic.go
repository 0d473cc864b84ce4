package race

import "math"

// SpawnEvent describes one spawn attempt that placed a car.
type SpawnEvent struct {
	Tick     uint64
	Car      TrafficCar
	Reserved []int
}

// closingRate is how fast a car approaches the player. Overtaken cars close faster;
// cars pulling away still drift toward the player at the minimum rate.
func closingRate(t Tuning, playerSpeed, carSpeed float64) float64 {
	return math.Max((playerSpeed-carSpeed)*t.ClosingScale, t.MinClosingRate)
}

// reservedLanes lists lanes holding a car still inside the reservation window.
func reservedLanes(s *State, t Tuning) []int {
	var reserved []int
	seen := make(map[int]bool, t.Lanes)
	for _, car := range s.Traffic {
		if car.Position < t.ReservationWindow && !seen[car.Lane] {
			seen[car.Lane] = true
			reserved = append(reserved, car.Lane)
		}
	}
	return reserved
}

// trySpawn places one car in a random free lane. It returns false when every lane is reserved.
func trySpawn(s *State, t Tuning, src Source) (SpawnEvent, bool) {
	reserved := reservedLanes(s, t)
	free := make([]int, 0, t.Lanes)
	for lane := 0; lane < t.Lanes; lane++ {
		taken := false
		for _, r := range reserved {
			if r == lane {
				taken = true
				break
			}
		}
		if !taken {
			free = append(free, lane)
		}
	}
	if len(free) == 0 {
		s.SpawnSkips++
		return SpawnEvent{}, false
	}
	car := TrafficCar{
		ID:    s.NextID,
		Lane:  free[src.IntN(len(free))],
		Speed: uniform(src, t.TrafficMinSpeed, t.TrafficMaxSpeed),
		Color: src.IntN(len(t.Palette)),
	}
	s.NextID++
	s.Traffic = append(s.Traffic, car)
	return SpawnEvent{Car: car, Reserved: reserved}, true
}

// updateTraffic runs the spawn timer, moves every car and retires the ones past the player.
func updateTraffic(s *State, t Tuning, src Source, dt float64) []SpawnEvent {
	var spawned []SpawnEvent

	//1.- Timer-driven spawn; the timer resets even when no lane was free.
	s.SpawnTimer += dt
	if s.SpawnTimer > t.SpawnIntervalAt(s.Elapsed) && len(s.Traffic) < t.MaxTraffic {
		s.SpawnTimer = 0
		if event, ok := trySpawn(s, t, src); ok {
			spawned = append(spawned, event)
		}
	}
	//2.- An empty road is refilled immediately when the preset asks for it.
	if t.SpawnWhenEmpty && len(s.Traffic) == 0 {
		if event, ok := trySpawn(s, t, src); ok {
			spawned = append(spawned, event)
		}
	}

	//3.- Advance and retire in one pass, preserving order.
	kept := s.Traffic[:0]
	for _, car := range s.Traffic {
		car.Position += closingRate(t, s.Speed, car.Speed) * dt
		if car.Position > t.RetireDistance {
			continue
		}
		kept = append(kept, car)
	}
	s.Traffic = kept
	return spawned
}
