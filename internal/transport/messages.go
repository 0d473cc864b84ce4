package transport

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"fuzzyracer/racer/internal/control"
	"fuzzyracer/racer/internal/race"
)

// Encoding selects the outbound frame format for a websocket client.
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// ParseEncoding maps the ?encoding= query value onto a known encoding. Empty selects JSON.
func ParseEncoding(raw string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(raw))) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingMsgpack:
		return EncodingMsgpack, nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", raw)
	}
}

// Inbound message types. A message without a type is treated as control.
const (
	TypeControl  = "control"
	TypeStart    = "start"
	TypeReset    = "reset"
	TypeStop     = "stop"
	TypeState    = "state"
	TypeGameOver = "game_over"
	TypeAck      = "ack"
	TypeError    = "error"
)

// InboundMessage is the union of every client message. Control fields are pointers so an
// absent field is distinguishable from zero.
type InboundMessage struct {
	Type     string   `json:"type,omitempty" msgpack:"type,omitempty"`
	Steering *float64 `json:"steering,omitempty" msgpack:"steering,omitempty"`
	Speed    *float64 `json:"speed,omitempty" msgpack:"speed,omitempty"`
	Gesture  *float64 `json:"gesture,omitempty" msgpack:"gesture,omitempty"`
	Hands    *float64 `json:"hands,omitempty" msgpack:"hands,omitempty"`
	Seq      uint64   `json:"seq,omitempty" msgpack:"seq,omitempty"`
	SentAtMs int64    `json:"sent_at_ms,omitempty" msgpack:"sent_at_ms,omitempty"`
}

// Kind returns the normalised message type.
func (m InboundMessage) Kind() string {
	kind := strings.ToLower(strings.TrimSpace(m.Type))
	if kind == "" {
		return TypeControl
	}
	return kind
}

// Raw projects the control fields onto the wire-level sample.
func (m InboundMessage) Raw() control.RawSample {
	return control.RawSample{Steering: m.Steering, Speed: m.Speed, Gesture: m.Gesture, Hands: m.Hands}
}

// SentAt converts the client capture timestamp; zero when the client did not send one.
func (m InboundMessage) SentAt() time.Time {
	if m.SentAtMs <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.SentAtMs)
}

// StateMessage carries one tick snapshot.
type StateMessage struct {
	Type string        `json:"type" msgpack:"type"`
	Tick uint64        `json:"tick" msgpack:"tick"`
	Game race.Snapshot `json:"game" msgpack:"game"`
}

// GameOverMessage is sent once per crashed run.
type GameOverMessage struct {
	Type     string `json:"type" msgpack:"type"`
	Score    int    `json:"score" msgpack:"score"`
	Distance int    `json:"distance" msgpack:"distance"`
}

// AckMessage answers lifecycle commands.
type AckMessage struct {
	Type    string `json:"type" msgpack:"type"`
	Command string `json:"command" msgpack:"command"`
	Changed bool   `json:"changed" msgpack:"changed"`
}

// ErrorMessage reports a rejected client message.
type ErrorMessage struct {
	Type  string `json:"type" msgpack:"type"`
	Error string `json:"error" msgpack:"error"`
}

// DecodeInbound decodes a client frame. Binary frames carry msgpack, text frames JSON.
func DecodeInbound(messageType int, data []byte) (InboundMessage, error) {
	var msg InboundMessage
	var err error
	if messageType == websocket.BinaryMessage {
		err = msgpack.Unmarshal(data, &msg)
	} else {
		err = json.Unmarshal(data, &msg)
	}
	if err != nil {
		return InboundMessage{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

// encode serialises an outbound message and returns the websocket frame type to use.
func encode(enc Encoding, v any) (int, []byte, error) {
	if enc == EncodingMsgpack {
		data, err := msgpack.Marshal(v)
		return websocket.BinaryMessage, data, err
	}
	data, err := json.Marshal(v)
	return websocket.TextMessage, data, err
}
