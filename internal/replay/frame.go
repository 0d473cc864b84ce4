package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"fuzzyracer/racer/internal/control"
	"fuzzyracer/racer/internal/race"
)

// Command is a lifecycle change applied between ticks.
type Command uint8

const (
	CommandStart Command = 1
	CommandReset Command = 2
)

func (c Command) String() string {
	switch c {
	case CommandStart:
		return "start"
	case CommandReset:
		return "reset"
	default:
		return fmt.Sprintf("command(%d)", uint8(c))
	}
}

// TickRecord captures everything needed to re-run one tick and check its outcome.
type TickRecord struct {
	Tick      uint64
	Dt        float64
	Commands  []Command
	Input     control.Sample
	Lifecycle race.Lifecycle
	Lateral   float64
	Speed     float64
	Distance  float64
	Boost     float64
	Score     int64
	Traffic   uint32
	Digest    uint64
}

// Field numbers of the tick record wire format.
const (
	fieldTick      protowire.Number = 1
	fieldDt        protowire.Number = 2
	fieldCommand   protowire.Number = 3
	fieldSteering  protowire.Number = 4
	fieldThrottle  protowire.Number = 5
	fieldGesture   protowire.Number = 6
	fieldHands     protowire.Number = 7
	fieldLifecycle protowire.Number = 8
	fieldLateral   protowire.Number = 9
	fieldSpeed     protowire.Number = 10
	fieldDistance  protowire.Number = 11
	fieldBoost     protowire.Number = 12
	fieldScore     protowire.Number = 13
	fieldTraffic   protowire.Number = 14
	fieldDigest    protowire.Number = 15
)

// ErrMalformedRecord reports a tick record that cannot be decoded.
var ErrMalformedRecord = errors.New("replay: malformed tick record")

// NewRecord summarises the snapshot produced by stepping dt after applying commands.
func NewRecord(dt float64, commands []Command, snap race.Snapshot) TickRecord {
	return TickRecord{
		Tick:      snap.Tick,
		Dt:        dt,
		Commands:  append([]Command(nil), commands...),
		Input:     snap.Control,
		Lifecycle: snap.Lifecycle,
		Lateral:   snap.Lateral,
		Speed:     snap.Speed,
		Distance:  snap.Distance,
		Boost:     snap.Boost,
		Score:     int64(snap.Score),
		Traffic:   uint32(len(snap.Traffic)),
		Digest:    Digest(snap),
	}
}

// Digest fingerprints a snapshot; identical simulations produce identical digests.
func Digest(snap race.Snapshot) uint64 {
	payload, err := json.Marshal(snap)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(payload)
	return h.Sum64()
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// MarshalRecord encodes the record in protobuf wire format.
func MarshalRecord(rec TickRecord) []byte {
	b := make([]byte, 0, 128)
	b = appendUint(b, fieldTick, rec.Tick)
	b = appendDouble(b, fieldDt, rec.Dt)
	for _, cmd := range rec.Commands {
		b = appendUint(b, fieldCommand, uint64(cmd))
	}
	b = appendDouble(b, fieldSteering, rec.Input.Steering)
	b = appendDouble(b, fieldThrottle, rec.Input.Speed)
	b = appendUint(b, fieldGesture, uint64(rec.Input.Gesture))
	b = appendUint(b, fieldHands, uint64(rec.Input.Hands))
	b = protowire.AppendTag(b, fieldLifecycle, protowire.BytesType)
	b = protowire.AppendString(b, string(rec.Lifecycle))
	b = appendDouble(b, fieldLateral, rec.Lateral)
	b = appendDouble(b, fieldSpeed, rec.Speed)
	b = appendDouble(b, fieldDistance, rec.Distance)
	b = appendDouble(b, fieldBoost, rec.Boost)
	b = appendUint(b, fieldScore, protowire.EncodeZigZag(rec.Score))
	b = appendUint(b, fieldTraffic, uint64(rec.Traffic))
	b = protowire.AppendTag(b, fieldDigest, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, rec.Digest)
	return b
}

// UnmarshalRecord decodes a record, skipping fields it does not know.
func UnmarshalRecord(b []byte) (TickRecord, error) {
	var rec TickRecord
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return TickRecord{}, fmt.Errorf("%w: %v", ErrMalformedRecord, protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return TickRecord{}, fmt.Errorf("%w: field %d: %v", ErrMalformedRecord, num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldTick:
				rec.Tick = v
			case fieldCommand:
				rec.Commands = append(rec.Commands, Command(v))
			case fieldGesture:
				rec.Input.Gesture = control.Gesture(v)
			case fieldHands:
				rec.Input.Hands = int(v)
			case fieldScore:
				rec.Score = protowire.DecodeZigZag(v)
			case fieldTraffic:
				rec.Traffic = uint32(v)
			}
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return TickRecord{}, fmt.Errorf("%w: field %d: %v", ErrMalformedRecord, num, protowire.ParseError(n))
			}
			b = b[n:]
			f := math.Float64frombits(v)
			switch num {
			case fieldDt:
				rec.Dt = f
			case fieldSteering:
				rec.Input.Steering = f
			case fieldThrottle:
				rec.Input.Speed = f
			case fieldLateral:
				rec.Lateral = f
			case fieldSpeed:
				rec.Speed = f
			case fieldDistance:
				rec.Distance = f
			case fieldBoost:
				rec.Boost = f
			case fieldDigest:
				rec.Digest = v
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return TickRecord{}, fmt.Errorf("%w: field %d: %v", ErrMalformedRecord, num, protowire.ParseError(n))
			}
			b = b[n:]
			if num == fieldLifecycle {
				rec.Lifecycle = race.Lifecycle(v)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return TickRecord{}, fmt.Errorf("%w: field %d: %v", ErrMalformedRecord, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return rec, nil
}
