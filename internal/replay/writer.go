package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

var writerSessionCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

const (
	flushInterval = 200 * time.Millisecond

	manifestFile = "manifest.json"
	headerFile   = "header.json"
	eventsFile   = "events.jsonl.sz"
	ticksFile    = "ticks.bin.zst"
)

// ErrWriterClosed is returned when appending to a closed writer.
var ErrWriterClosed = errors.New("replay: writer closed")

// Manifest describes the replay bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version         int    `json:"version"`
	CreatedAt       string `json:"created_at"`
	FlushIntervalMs int    `json:"flush_interval_ms"`
	EventsPath      string `json:"events_path"`
	TicksPath       string `json:"ticks_path"`
	HeaderPath      string `json:"header_path"`
}

// Event is one line of the compressed event log.
type Event struct {
	Tick       uint64          `json:"tick"`
	CapturedAt string          `json:"captured_at"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Writer streams a session's tick records and notable events to a bundle directory.
type Writer struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	eventFile   *os.File
	eventStream *snappy.Writer
	tickFile    *os.File
	tickStream  *zstd.Encoder
	pending     [][]byte
	lastFlush   time.Time
	header      Header
	ticks       uint64
	closed      bool
}

// NewWriter prepares the bundle directory and opens compressed sinks.
func NewWriter(root, sessionID string, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("replay root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := writerSessionCleaner.ReplaceAllString(sessionID, "")
	if cleaned == "" {
		cleaned = "session"
	}
	created := clock().UTC()
	path := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	eventFile, err := os.Create(filepath.Join(path, eventsFile))
	if err != nil {
		return nil, Manifest{}, err
	}
	eventStream := snappy.NewBufferedWriter(eventFile)

	tickFile, err := os.Create(filepath.Join(path, ticksFile))
	if err != nil {
		eventFile.Close()
		return nil, Manifest{}, err
	}
	tickStream, err := zstd.NewWriter(tickFile)
	if err != nil {
		eventStream.Close()
		eventFile.Close()
		tickFile.Close()
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:         2,
		CreatedAt:       created.Format(time.RFC3339Nano),
		FlushIntervalMs: int(flushInterval / time.Millisecond),
		EventsPath:      eventsFile,
		TicksPath:       ticksFile,
		HeaderPath:      headerFile,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(path, manifestFile), data, 0o644)
	}
	if err != nil {
		tickStream.Close()
		tickFile.Close()
		eventStream.Close()
		eventFile.Close()
		return nil, Manifest{}, err
	}

	writer := &Writer{
		dir:         path,
		now:         clock,
		eventFile:   eventFile,
		eventStream: eventStream,
		tickFile:    tickFile,
		tickStream:  tickStream,
		header:      Header{SchemaVersion: HeaderSchemaVersion, SessionID: sessionID, FilePointer: manifestFile},
	}
	return writer, manifest, nil
}

// Directory exposes the directory backing the replay bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// SetHeader records the seed, rate and tuning persisted when the bundle is closed or dumped.
func (w *Writer) SetHeader(header Header) {
	if w == nil {
		return
	}
	w.mu.Lock()
	header.SchemaVersion = HeaderSchemaVersion
	header.FilePointer = manifestFile
	if header.SessionID == "" {
		header.SessionID = w.header.SessionID
	}
	w.header = header
	w.mu.Unlock()
}

// Ticks reports how many tick records have been appended.
func (w *Writer) Ticks() uint64 {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ticks
}

// AppendEvent writes a single JSON event line to the compressed event log.
func (w *Writer) AppendEvent(tick uint64, eventType string, payload any) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = encoded
	}
	line, err := json.Marshal(Event{
		Tick:       tick,
		CapturedAt: w.now().UTC().Format(time.RFC3339Nano),
		Type:       eventType,
		Payload:    raw,
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if _, err := w.eventStream.Write(append(line, '\n')); err != nil {
		return err
	}
	return w.eventStream.Flush()
}

// AppendTick stages a tick record and flushes staged records every flush interval.
func (w *Writer) AppendTick(rec TickRecord) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	encoded := MarshalRecord(rec)
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	w.pending = append(w.pending, encoded)
	w.ticks++
	if w.lastFlush.IsZero() {
		w.lastFlush = captured
		return nil
	}
	if captured.Sub(w.lastFlush) >= flushInterval {
		if err := w.flushLocked(); err != nil {
			return err
		}
		w.lastFlush = captured
	}
	return nil
}

// Flush forces staged records and the header to disk so the bundle can be read while
// the session keeps running.
func (w *Writer) Flush() error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	//1.- A zstd flush ends the current block so readers see every record so far.
	if err := w.tickStream.Flush(); err != nil {
		return err
	}
	if err := w.eventStream.Flush(); err != nil {
		return err
	}
	w.lastFlush = w.now().UTC()
	return WriteHeader(filepath.Join(w.dir, headerFile), w.header)
}

// Close synchronously flushes all buffers and releases file handles.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	//1.- Attempt every flush/close and surface the first failure for callers to inspect.
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(WriteHeader(filepath.Join(w.dir, headerFile), w.header))
	keep(w.flushLocked())
	keep(w.eventStream.Flush())
	keep(w.eventStream.Close())
	keep(w.eventFile.Close())
	keep(w.tickStream.Close())
	keep(w.tickFile.Close())
	return firstErr
}

// flushLocked writes staged records to the zstd stream; callers must hold the mutex.
func (w *Writer) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}
	//1.- Length-prefix each record so readers can step through the stream.
	var buf []byte
	for _, record := range w.pending {
		buf = protowire.AppendBytes(buf, record)
	}
	if _, err := w.tickStream.Write(buf); err != nil {
		return err
	}
	w.pending = w.pending[:0]
	return nil
}
