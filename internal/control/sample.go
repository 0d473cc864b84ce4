package control

import (
	"math"
	"sync/atomic"
)

// Gesture is the classified hand pose forwarded by the external recogniser.
type Gesture int

const (
	GestureNone Gesture = iota
	GestureBrake
	GestureOpen
	GestureNitro
)

var gestureNames = [...]string{"none", "brake", "open", "nitro"}

// String returns the lowercase gesture label used in docs and logs.
func (g Gesture) String() string {
	if g < GestureNone || int(g) >= len(gestureNames) {
		return "none"
	}
	return gestureNames[g]
}

// Valid reports whether g is one of the known gesture classes.
func (g Gesture) Valid() bool {
	return g >= GestureNone && g <= GestureNitro
}

const (
	// SteeringLimit bounds the steering command symmetrically.
	SteeringLimit = 100.0
	// SpeedLimit is the upper bound of the speed command.
	SpeedLimit = 100.0
	// MaxHands is the largest hand count the recogniser reports.
	MaxHands = 2
)

// Sample is one sanitised control command. All fields are within range.
type Sample struct {
	Steering float64 `json:"steering" msgpack:"steering"`
	Speed    float64 `json:"speed" msgpack:"speed"`
	Gesture  Gesture `json:"gesture" msgpack:"gesture"`
	Hands    int     `json:"hands" msgpack:"hands"`
}

// Neutral is the sample assumed before any control data arrives.
func Neutral() Sample { return Sample{} }

// RawSample mirrors the wire shape; nil fields were absent from the message.
type RawSample struct {
	Steering *float64 `json:"steering,omitempty"`
	Speed    *float64 `json:"speed,omitempty"`
	Gesture  *float64 `json:"gesture,omitempty"`
	Hands    *float64 `json:"hands,omitempty"`
}

// Sanitize clamps numeric commands and maps malformed categorical fields to neutral values.
func Sanitize(raw RawSample) Sample {
	var sample Sample
	//1.- Continuous commands clamp into range; non-finite values fall back to neutral.
	if raw.Steering != nil {
		sample.Steering = clamp(*raw.Steering, -SteeringLimit, SteeringLimit)
	}
	if raw.Speed != nil {
		sample.Speed = clamp(*raw.Speed, 0, SpeedLimit)
	}
	//2.- Gesture must be an exact known class; anything else reads as none.
	if raw.Gesture != nil {
		value := *raw.Gesture
		if value >= 0 && value <= float64(GestureNitro) && value == math.Trunc(value) {
			sample.Gesture = Gesture(int(value))
		}
	}
	//3.- Hand counts follow the same rule: only a whole count the recogniser can report is kept.
	if raw.Hands != nil {
		value := *raw.Hands
		if value >= 0 && value <= MaxHands && value == math.Trunc(value) {
			sample.Hands = int(value)
		}
	}
	return sample
}

// Normalize re-applies the sanitising rules to an already typed sample.
func Normalize(s Sample) Sample {
	steering, speed, gesture, hands := s.Steering, s.Speed, float64(s.Gesture), float64(s.Hands)
	return Sanitize(RawSample{Steering: &steering, Speed: &speed, Gesture: &gesture, Hands: &hands})
}

func clamp(value, lo, hi float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// Slot holds the most recent accepted sample. Store and Load are safe across goroutines.
type Slot struct {
	latest atomic.Pointer[Sample]
}

// Store overwrites the held sample after normalising it.
func (s *Slot) Store(sample Sample) {
	if s == nil {
		return
	}
	normalized := Normalize(sample)
	s.latest.Store(&normalized)
}

// Load returns the held sample or the neutral sample when nothing was stored.
func (s *Slot) Load() Sample {
	if s == nil {
		return Neutral()
	}
	if current := s.latest.Load(); current != nil {
		return *current
	}
	return Neutral()
}

// Clear forgets the held sample so the next Load returns neutral input.
func (s *Slot) Clear() {
	if s == nil {
		return
	}
	s.latest.Store(nil)
}
