package race

var powerUpKinds = [...]PowerUpKind{PowerUpNitro, PowerUpShield}

// updatePowerUps spawns, moves, collects and retires pickups and ticks the shield timers.
func updatePowerUps(s *State, t Tuning, src Source, dt float64) {
	if !t.PowerUps {
		return
	}
	//1.- Timers count down first so a pickup collected this tick starts a full window.
	if s.Shield {
		s.ShieldTimer -= dt
		if s.ShieldTimer <= 0 {
			s.Shield, s.ShieldTimer = false, 0
		}
	}
	if s.Invulnerable {
		s.InvulnerableTimer -= dt
		if s.InvulnerableTimer <= 0 {
			s.Invulnerable, s.InvulnerableTimer = false, 0
		}
	}

	//2.- At most one pickup is on the road at a time.
	if len(s.PowerUps) == 0 && src.Float64() < t.PowerUpChance*dt {
		s.PowerUps = append(s.PowerUps, PowerUp{
			ID:   s.NextID,
			Lane: src.IntN(t.Lanes),
			Kind: powerUpKinds[src.IntN(len(powerUpKinds))],
		})
		s.NextID++
	}

	//3.- Pickups ride the road surface, so they close at the player's own speed.
	kept := s.PowerUps[:0]
	for _, pickup := range s.PowerUps {
		pickup.Position += closingRate(t, s.Speed, 0) * dt
		if overlaps(s.Lateral, t.PlayerDistance, t.PlayerWidth, t.PlayerLength,
			t.LaneCenter(pickup.Lane), pickup.Position, t.PowerUpWidth, t.PowerUpLength) {
			collect(s, t, pickup.Kind)
			continue
		}
		if pickup.Position > t.RetireDistance {
			continue
		}
		kept = append(kept, pickup)
	}
	s.PowerUps = kept
}

func collect(s *State, t Tuning, kind PowerUpKind) {
	switch kind {
	case PowerUpNitro:
		s.Boost = clampFloat(s.Boost+t.PowerUpBoost, 0, boostMax)
	case PowerUpShield:
		s.Shield = true
		s.ShieldTimer = t.ShieldDuration
	}
}
