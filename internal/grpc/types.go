package grpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"

	"fuzzyracer/racer/internal/control"
	"fuzzyracer/racer/internal/race"
	"fuzzyracer/racer/internal/session"
)

// CodecName is the gRPC content subtype carrying the race service messages.
const CodecName = "json"

// jsonCodec marshals the plain Go message structs below. It is registered globally so
// the server picks it from the content subtype while other services keep protobuf.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json codec: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// SessionSource resolves the session an RPC targets.
type SessionSource interface {
	Get(id string) (*session.Session, error)
}

// Frame kinds streamed by Watch.
const (
	FrameState    = "state"
	FrameGameOver = "game_over"
)

// WatchRequest subscribes to one session. MaxHz caps the state frame rate; game-over
// frames are never held back.
type WatchRequest struct {
	SessionID string  `json:"session_id"`
	Encoding  string  `json:"encoding,omitempty"`
	MaxHz     float64 `json:"max_hz,omitempty"`
}

// Frame carries one compressed snapshot or a game-over event.
type Frame struct {
	SessionID string         `json:"session_id"`
	Kind      string         `json:"kind"`
	Tick      uint64         `json:"tick"`
	Encoding  string         `json:"encoding,omitempty"`
	Payload   []byte         `json:"payload,omitempty"`
	GameOver  *race.GameOver `json:"game_over,omitempty"`
}

// Snapshot decompresses and decodes a state frame payload.
func (f *Frame) Snapshot() (race.Snapshot, error) {
	var snap race.Snapshot
	if f == nil || f.Kind != FrameState {
		return snap, fmt.Errorf("frame carries no snapshot")
	}
	compressor, err := defaultCompressors().lookup(f.Encoding)
	if err != nil {
		return snap, err
	}
	raw, err := compressor.Decompress(f.Payload)
	if err != nil {
		return snap, err
	}
	err = json.Unmarshal(raw, &snap)
	return snap, err
}

// ControlFrame is one control sample sent over Drive. Pointer fields keep absent values
// distinguishable from zero.
type ControlFrame struct {
	SessionID string   `json:"session_id"`
	ClientID  string   `json:"client_id,omitempty"`
	Seq       uint64   `json:"seq,omitempty"`
	SentAtMs  int64    `json:"sent_at_ms,omitempty"`
	Steering  *float64 `json:"steering,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Gesture   *float64 `json:"gesture,omitempty"`
	Hands     *float64 `json:"hands,omitempty"`
}

func (f *ControlFrame) raw() control.RawSample {
	return control.RawSample{Steering: f.Steering, Speed: f.Speed, Gesture: f.Gesture, Hands: f.Hands}
}

// DriveAck summarises a Drive stream once the client closes it.
type DriveAck struct {
	Accepted uint32 `json:"accepted"`
	Rejected uint32 `json:"rejected"`
}

// Lifecycle commands accepted by Command.
const (
	CommandStart = "start"
	CommandReset = "reset"
	CommandStop  = "stop"
)

// CommandRequest asks a session to change lifecycle.
type CommandRequest struct {
	SessionID string `json:"session_id"`
	Command   string `json:"command"`
}

// CommandResponse reports whether the command changed anything.
type CommandResponse struct {
	SessionID string         `json:"session_id"`
	Command   string         `json:"command"`
	Changed   bool           `json:"changed"`
	Lifecycle race.Lifecycle `json:"lifecycle"`
}
