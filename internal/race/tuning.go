package race

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	_ "embed"

	"fuzzyracer/racer/internal/control"
)

// Tuning holds every constant the simulation uses. Distances share one unit per preset.
type Tuning struct {
	Name string `json:"name,omitempty"`

	MaxSpeed        float64 `json:"max_speed"`
	MinSpeed        float64 `json:"min_speed"`
	Acceleration    float64 `json:"acceleration"`
	Deceleration    float64 `json:"deceleration"`
	BoostMultiplier float64 `json:"boost_multiplier"`
	// BoostCap bounds the boosted speed as a multiple of MaxSpeed.
	BoostCap float64 `json:"boost_cap"`
	// BrakeFactor scales the speed command while the brake gesture is held. Zero disables it.
	BrakeFactor float64 `json:"brake_factor,omitempty"`

	BoostDrain      float64           `json:"boost_drain"`
	BoostRegen      float64           `json:"boost_regen"`
	BoostRegenEmpty float64           `json:"boost_regen_empty"`
	BoostFloor      float64           `json:"boost_floor"`
	BoostHands      int               `json:"boost_hands"`
	BoostGestures   []control.Gesture `json:"boost_gestures"`

	LateralGain     float64 `json:"lateral_gain"`
	RoadLeft        float64 `json:"road_left"`
	RoadRight       float64 `json:"road_right"`
	WallMargin      float64 `json:"wall_margin"`
	WallContactZone float64 `json:"wall_contact_zone"`
	WallPenalty     float64 `json:"wall_penalty"`
	WheelAngleScale float64 `json:"wheel_angle_scale"`

	Lanes              int     `json:"lanes"`
	LaneWidth          float64 `json:"lane_width"`
	SpawnInterval      float64 `json:"spawn_interval"`
	SpawnIntervalMin   float64 `json:"spawn_interval_min"`
	SpawnIntervalDecay float64 `json:"spawn_interval_decay"`
	MaxTraffic         int     `json:"max_traffic"`
	SpawnWhenEmpty     bool    `json:"spawn_when_empty"`
	ReservationWindow  float64 `json:"reservation_window"`
	RetireDistance     float64 `json:"retire_distance"`
	TrafficMinSpeed    float64 `json:"traffic_min_speed"`
	TrafficMaxSpeed    float64 `json:"traffic_max_speed"`
	ClosingScale       float64 `json:"closing_scale"`
	MinClosingRate     float64 `json:"min_closing_rate"`

	PlayerDistance float64 `json:"player_distance"`
	PlayerWidth    float64 `json:"player_width"`
	PlayerLength   float64 `json:"player_length"`
	TrafficWidth   float64 `json:"traffic_width"`
	TrafficLength  float64 `json:"traffic_length"`

	ScoreDivisor float64  `json:"score_divisor"`
	MaxStep      float64  `json:"max_step"`
	Palette      []string `json:"palette"`

	PowerUps             bool    `json:"power_ups,omitempty"`
	PowerUpChance        float64 `json:"power_up_chance,omitempty"`
	PowerUpBoost         float64 `json:"power_up_boost,omitempty"`
	PowerUpWidth         float64 `json:"power_up_width,omitempty"`
	PowerUpLength        float64 `json:"power_up_length,omitempty"`
	ShieldDuration       float64 `json:"shield_duration,omitempty"`
	InvulnerableDuration float64 `json:"invulnerable_duration,omitempty"`
}

// ErrUnknownPreset is returned when a preset name is not embedded.
var ErrUnknownPreset = errors.New("race: unknown tuning preset")

//go:embed presets.json
var presetPayload []byte

var (
	presetOnce sync.Once
	presetData map[string]Tuning
	presetErr  error
)

func loadPresets() (map[string]Tuning, error) {
	presetOnce.Do(func() {
		//1.- Decode the embedded presets once and stamp each with its key.
		var decoded map[string]Tuning
		if err := json.Unmarshal(presetPayload, &decoded); err != nil {
			presetErr = fmt.Errorf("decode presets: %w", err)
			return
		}
		for name, tuning := range decoded {
			tuning.Name = name
			if err := tuning.Validate(); err != nil {
				presetErr = fmt.Errorf("preset %s: %w", name, err)
				return
			}
			decoded[name] = tuning
		}
		presetData = decoded
	})
	return presetData, presetErr
}

// Preset returns a copy of the named embedded tuning.
func Preset(name string) (Tuning, error) {
	presets, err := loadPresets()
	if err != nil {
		return Tuning{}, err
	}
	tuning, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Tuning{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return tuning.clone(), nil
}

// MustPreset is Preset for names known at compile time.
func MustPreset(name string) Tuning {
	tuning, err := Preset(name)
	if err != nil {
		panic(err)
	}
	return tuning
}

// PresetNames lists the embedded presets in sorted order.
func PresetNames() []string {
	presets, err := loadPresets()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadTuningFile overlays the JSON object at path onto base. Fields absent from the
// file keep the base values.
func LoadTuningFile(path string, base Tuning) (Tuning, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("read tuning file: %w", err)
	}
	tuning := base.clone()
	if err := json.Unmarshal(payload, &tuning); err != nil {
		return Tuning{}, fmt.Errorf("decode tuning file %s: %w", path, err)
	}
	if tuning.Name == "" || tuning.Name == base.Name {
		tuning.Name = base.Name + "+file"
	}
	if err := tuning.Validate(); err != nil {
		return Tuning{}, fmt.Errorf("tuning file %s: %w", path, err)
	}
	return tuning, nil
}

// Validate reports every inconsistent field at once.
func (t Tuning) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}
	check(t.MaxSpeed > 0, "max_speed must be positive")
	check(t.MinSpeed >= 0 && t.MinSpeed <= t.MaxSpeed, "min_speed must be within [0, max_speed]")
	check(t.Acceleration > 0 && t.Deceleration > 0, "acceleration and deceleration must be positive")
	check(t.BoostMultiplier >= 1 && t.BoostCap >= 1, "boost multiplier and cap must be at least 1")
	check(t.BoostDrain >= 0 && t.BoostRegen >= 0 && t.BoostRegenEmpty >= 0, "boost rates must be non-negative")
	check(t.BoostFloor >= 0 && t.BoostFloor < 100, "boost_floor must be within [0, 100)")
	check(t.BoostHands >= 0 && t.BoostHands <= control.MaxHands, "boost_hands must be within [0, %d]", control.MaxHands)
	check(t.RoadRight-t.WallMargin > t.RoadLeft+t.WallMargin, "road bounds minus margins must leave room to drive")
	check(t.WallPenalty > 0 && t.WallPenalty <= 1, "wall_penalty must be within (0, 1]")
	check(t.Lanes > 0 && t.LaneWidth > 0, "lanes and lane_width must be positive")
	check(t.SpawnInterval > 0 && t.SpawnIntervalMin > 0, "spawn intervals must be positive")
	check(t.MaxTraffic > 0, "max_traffic must be positive")
	check(t.ReservationWindow >= 0 && t.RetireDistance > t.PlayerDistance, "retire_distance must lie beyond player_distance")
	check(t.TrafficMinSpeed <= t.TrafficMaxSpeed, "traffic speed range is inverted")
	check(t.ClosingScale > 0 && t.MinClosingRate > 0, "closing scale and minimum closing rate must be positive")
	check(t.PlayerWidth > 0 && t.PlayerLength > 0, "player footprint must be positive")
	check(t.TrafficWidth >= 0 && t.TrafficLength >= 0, "traffic footprint must be non-negative")
	check(t.ScoreDivisor > 0, "score_divisor must be positive")
	check(t.MaxStep > 0, "max_step must be positive")
	check(len(t.Palette) > 0, "palette must not be empty")
	if t.PowerUps {
		check(t.PowerUpChance > 0 && t.PowerUpWidth > 0, "power-up chance and width must be positive")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// BoostedCeiling is the highest reachable speed.
func (t Tuning) BoostedCeiling() float64 { return t.MaxSpeed * t.BoostCap }

// LateralBounds returns the drivable interval after wall margins.
func (t Tuning) LateralBounds() (float64, float64) {
	return t.RoadLeft + t.WallMargin, t.RoadRight - t.WallMargin
}

// RoadCenter is the lateral coordinate the player starts at.
func (t Tuning) RoadCenter() float64 { return (t.RoadLeft + t.RoadRight) / 2 }

// LaneCenter maps a lane index to its lateral coordinate. Lanes are centred on the road.
func (t Tuning) LaneCenter(lane int) float64 {
	return t.RoadCenter() + (float64(lane)-float64(t.Lanes-1)/2)*t.LaneWidth
}

// SpawnIntervalAt returns the spawn cadence after elapsed seconds of running.
func (t Tuning) SpawnIntervalAt(elapsed float64) float64 {
	interval := t.SpawnInterval - elapsed*t.SpawnIntervalDecay
	if interval < t.SpawnIntervalMin {
		return t.SpawnIntervalMin
	}
	return interval
}

func (t Tuning) boostGesture(g control.Gesture) bool {
	for _, candidate := range t.BoostGestures {
		if candidate == g {
			return true
		}
	}
	return false
}

func (t Tuning) clone() Tuning {
	clone := t
	clone.BoostGestures = append([]control.Gesture(nil), t.BoostGestures...)
	clone.Palette = append([]string(nil), t.Palette...)
	return clone
}
