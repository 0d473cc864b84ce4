package networking

import (
	"math"
	"sort"
	"sync"
	"time"
)

// DefaultBytesPerSecond caps per-client snapshot throughput when no budget is configured.
const DefaultBytesPerSecond = 256 * 1024

// Priority separates frames that may be dropped from frames that must be delivered.
type Priority int

const (
	// PriorityState frames are superseded by the next tick and may be skipped.
	PriorityState Priority = iota
	// PriorityCritical frames (game over, command acks) are always delivered and still charged.
	PriorityCritical
)

// Usage captures the throttling state for a single client.
type Usage struct {
	ClientID       string    `json:"client_id"`
	AvailableBytes float64   `json:"available_bytes"`
	BytesPerSecond float64   `json:"bytes_per_second"`
	SentFrames     int64     `json:"sent_frames"`
	DroppedFrames  int64     `json:"dropped_frames"`
	LastUpdated    time.Time `json:"last_updated"`
}

type bucket struct {
	tokens  float64
	last    time.Time
	window  time.Time
	sent    int64
	frames  int64
	dropped int64
}

// Throttle enforces a token-bucket byte budget per client so a slow or metered link
// receives fewer state frames instead of an ever-growing send queue.
type Throttle struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity float64
	refill   float64
	now      func() time.Time
}

// NewThrottle constructs a throttle enforcing the supplied byte rate.
func NewThrottle(bytesPerSecond float64, clock func() time.Time) *Throttle {
	if bytesPerSecond <= 0 {
		bytesPerSecond = DefaultBytesPerSecond
	}
	if clock == nil {
		clock = time.Now
	}
	return &Throttle{
		buckets:  make(map[string]*bucket),
		capacity: bytesPerSecond,
		refill:   bytesPerSecond,
		now:      clock,
	}
}

func (t *Throttle) replenish(b *bucket, now time.Time) {
	//1.- Skip negative intervals to protect against clock skew.
	if now.Before(b.last) {
		return
	}
	b.tokens = math.Min(t.capacity, b.tokens+now.Sub(b.last).Seconds()*t.refill)
	b.last = now
}

// Admit charges a frame against the client's budget and reports whether to send it.
func (t *Throttle) Admit(clientID string, size int, priority Priority) bool {
	if t == nil || clientID == "" || size <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	b := t.buckets[clientID]
	if b == nil {
		//1.- New clients start with a full bucket so the first frames go out immediately.
		b = &bucket{tokens: t.capacity, last: now, window: now}
		t.buckets[clientID] = b
	}
	t.replenish(b, now)

	request := float64(size)
	if priority != PriorityCritical && request > b.tokens {
		b.dropped++
		return false
	}
	//2.- Critical frames may overdraw; the debt delays the following state frames.
	b.tokens -= request
	b.sent += int64(size)
	b.frames++
	return true
}

// Forget removes the bucket for a disconnected client.
func (t *Throttle) Forget(clientID string) {
	if t == nil || clientID == "" {
		return
	}
	t.mu.Lock()
	delete(t.buckets, clientID)
	t.mu.Unlock()
}

// Usage reports the current throttling statistics ordered by client id.
func (t *Throttle) Usage() []Usage {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	usage := make([]Usage, 0, len(t.buckets))
	for clientID, b := range t.buckets {
		t.replenish(b, now)
		rate := 0.0
		if observed := now.Sub(b.window).Seconds(); observed > 0 {
			rate = float64(b.sent) / observed
		}
		usage = append(usage, Usage{
			ClientID:       clientID,
			AvailableBytes: math.Max(b.tokens, 0),
			BytesPerSecond: rate,
			SentFrames:     b.frames,
			DroppedFrames:  b.dropped,
			LastUpdated:    b.last,
		})
	}
	sort.Slice(usage, func(i, j int) bool { return usage[i].ClientID < usage[j].ClientID })
	return usage
}
