package race

import "fuzzyracer/racer/internal/control"

// Lifecycle is the engine's coarse state.
type Lifecycle string

const (
	Uninitialized Lifecycle = "uninitialized"
	Running       Lifecycle = "running"
	Crashed       Lifecycle = "crashed"
)

// TrafficCar is one oncoming vehicle. Position grows from the spawn horizon toward the player.
type TrafficCar struct {
	ID       uint64
	Lane     int
	Position float64
	Speed    float64
	Color    int
}

// PowerUpKind identifies what a pickup grants.
type PowerUpKind string

const (
	PowerUpNitro  PowerUpKind = "nitro"
	PowerUpShield PowerUpKind = "shield"
)

// PowerUp is a collectible travelling down a lane like traffic.
type PowerUp struct {
	ID       uint64
	Lane     int
	Position float64
	Kind     PowerUpKind
}

// GameOver is emitted once when a run ends in a collision.
type GameOver struct {
	Score    int `json:"score" msgpack:"score"`
	Distance int `json:"distance" msgpack:"distance"`
}

// State is the mutable simulation owned by one engine.
type State struct {
	Lateral     float64
	Speed       float64
	MaxSpeed    float64
	Distance    float64
	Score       int
	Boost       float64
	BoostActive bool
	WheelAngle  float64
	WallContact bool
	Lifecycle   Lifecycle
	Traffic     []TrafficCar
	PowerUps    []PowerUp

	Elapsed           float64
	SpawnTimer        float64
	SpawnSkips        uint64
	Shield            bool
	ShieldTimer       float64
	Invulnerable      bool
	InvulnerableTimer float64
	GameOver          *GameOver
	NextID            uint64
}

func newState(t Tuning, lifecycle Lifecycle) *State {
	return &State{
		Lateral:   t.RoadCenter(),
		Speed:     t.MinSpeed,
		MaxSpeed:  t.MaxSpeed,
		Boost:     boostMax,
		Lifecycle: lifecycle,
		NextID:    1,
	}
}

// CarView is the render-facing projection of a traffic car.
type CarView struct {
	ID       uint64  `json:"id" msgpack:"id"`
	Lane     int     `json:"lane" msgpack:"lane"`
	X        float64 `json:"x" msgpack:"x"`
	Position float64 `json:"position" msgpack:"position"`
	Speed    float64 `json:"speed" msgpack:"speed"`
	Color    string  `json:"color" msgpack:"color"`
}

// PowerUpView is the render-facing projection of a pickup.
type PowerUpView struct {
	ID       uint64      `json:"id" msgpack:"id"`
	Lane     int         `json:"lane" msgpack:"lane"`
	X        float64     `json:"x" msgpack:"x"`
	Position float64     `json:"position" msgpack:"position"`
	Kind     PowerUpKind `json:"kind" msgpack:"kind"`
}

// Snapshot is an immutable copy of the state taken after a tick.
type Snapshot struct {
	Tick         uint64         `json:"tick" msgpack:"tick"`
	Lifecycle    Lifecycle      `json:"lifecycle" msgpack:"lifecycle"`
	Lateral      float64        `json:"lateral" msgpack:"lateral"`
	Speed        float64        `json:"speed" msgpack:"speed"`
	MaxSpeed     float64        `json:"max_speed" msgpack:"max_speed"`
	Distance     float64        `json:"distance" msgpack:"distance"`
	Score        int            `json:"score" msgpack:"score"`
	Boost        float64        `json:"boost" msgpack:"boost"`
	BoostActive  bool           `json:"boost_active" msgpack:"boost_active"`
	WheelAngle   float64        `json:"wheel_angle" msgpack:"wheel_angle"`
	WallContact  bool           `json:"wall_contact" msgpack:"wall_contact"`
	Shield       bool           `json:"shield" msgpack:"shield"`
	Invulnerable bool           `json:"invulnerable" msgpack:"invulnerable"`
	Elapsed      float64        `json:"elapsed" msgpack:"elapsed"`
	Control      control.Sample `json:"control" msgpack:"control"`
	Traffic      []CarView      `json:"traffic" msgpack:"traffic"`
	PowerUps     []PowerUpView  `json:"power_ups,omitempty" msgpack:"power_ups,omitempty"`
	GameOver     *GameOver      `json:"game_over,omitempty" msgpack:"game_over,omitempty"`
}

func (s *State) snapshot(t Tuning, tick uint64, input control.Sample) Snapshot {
	snap := Snapshot{
		Tick:         tick,
		Lifecycle:    s.Lifecycle,
		Lateral:      s.Lateral,
		Speed:        s.Speed,
		MaxSpeed:     s.MaxSpeed,
		Distance:     s.Distance,
		Score:        s.Score,
		Boost:        s.Boost,
		BoostActive:  s.BoostActive,
		WheelAngle:   s.WheelAngle,
		WallContact:  s.WallContact,
		Shield:       s.Shield,
		Invulnerable: s.Invulnerable,
		Elapsed:      s.Elapsed,
		Control:      input,
		Traffic:      make([]CarView, 0, len(s.Traffic)),
	}
	for _, car := range s.Traffic {
		snap.Traffic = append(snap.Traffic, CarView{
			ID:       car.ID,
			Lane:     car.Lane,
			X:        t.LaneCenter(car.Lane),
			Position: car.Position,
			Speed:    car.Speed,
			Color:    t.Palette[car.Color%len(t.Palette)],
		})
	}
	for _, pickup := range s.PowerUps {
		snap.PowerUps = append(snap.PowerUps, PowerUpView{
			ID:       pickup.ID,
			Lane:     pickup.Lane,
			X:        t.LaneCenter(pickup.Lane),
			Position: pickup.Position,
			Kind:     pickup.Kind,
		})
	}
	if s.GameOver != nil {
		over := *s.GameOver
		snap.GameOver = &over
	}
	return snap
}
