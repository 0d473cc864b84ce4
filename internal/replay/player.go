package replay

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"

	"fuzzyracer/racer/internal/race"
)

// Bundle is a fully decoded replay directory.
type Bundle struct {
	Directory string       `json:"directory"`
	Manifest  Manifest     `json:"manifest"`
	Header    Header       `json:"header"`
	Events    []Event      `json:"events"`
	Ticks     []TickRecord `json:"-"`
}

// LoadBundle reads the manifest, header, events and tick records of a bundle. The path
// may point at the directory or at its manifest.json.
func LoadBundle(path string) (Bundle, error) {
	if strings.TrimSpace(path) == "" {
		return Bundle{}, fmt.Errorf("path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Bundle{}, err
	}
	dir := path
	if !info.IsDir() {
		dir = filepath.Dir(path)
	}

	manifestBytes, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return Bundle{}, err
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return Bundle{}, err
	}
	if manifest.Version != 2 {
		return Bundle{}, fmt.Errorf("unsupported manifest version %d", manifest.Version)
	}

	headerPath := manifest.HeaderPath
	if headerPath == "" {
		headerPath = headerFile
	}
	header, err := ReadHeader(filepath.Join(dir, headerPath))
	if err != nil {
		return Bundle{}, fmt.Errorf("read header: %w", err)
	}

	//1.- Events first so tooling can rebuild the timeline even if the tick stream is cut short.
	events, err := loadEvents(filepath.Join(dir, manifest.EventsPath))
	if err != nil {
		return Bundle{}, fmt.Errorf("read events: %w", err)
	}
	ticks, err := loadTicks(filepath.Join(dir, manifest.TicksPath))
	if err != nil {
		return Bundle{}, fmt.Errorf("read ticks: %w", err)
	}
	return Bundle{Directory: dir, Manifest: manifest, Header: header, Events: events, Ticks: ticks}, nil
}

func loadEvents(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var events []Event
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func loadTicks(path string) ([]TickRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	payload, err := io.ReadAll(reader)
	//1.- A bundle dumped from a live session has no zstd end marker yet.
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}

	var ticks []TickRecord
	for len(payload) > 0 {
		record, n := protowire.ConsumeBytes(payload)
		if n < 0 {
			return nil, fmt.Errorf("%w: truncated length prefix", ErrMalformedRecord)
		}
		payload = payload[n:]
		rec, err := UnmarshalRecord(record)
		if err != nil {
			return nil, err
		}
		ticks = append(ticks, rec)
	}
	return ticks, nil
}

// Mismatch describes the first tick whose re-simulated outcome differs from the recording.
type Mismatch struct {
	Tick     uint64        `json:"tick"`
	Recorded TickRecord    `json:"-"`
	Replayed race.Snapshot `json:"replayed"`
	Reason   string        `json:"reason"`
}

// Report summarises a verification run.
type Report struct {
	Ticks      int       `json:"ticks"`
	Verified   bool      `json:"verified"`
	FinalScore int       `json:"final_score"`
	Crashes    int       `json:"crashes"`
	Mismatch   *Mismatch `json:"mismatch,omitempty"`
}

// Verify rebuilds the engine from the header, replays every recorded command and input,
// and compares each resulting snapshot digest with the recording.
func Verify(bundle Bundle) (Report, error) {
	crashes := 0
	engine, err := race.NewEngine(bundle.Header.Tuning, race.NewSource(bundle.Header.Seed),
		race.WithGameOverHandler(func(race.GameOver) { crashes++ }))
	if err != nil {
		return Report{}, err
	}

	report := Report{Verified: true}
	for _, rec := range bundle.Ticks {
		//1.- Lifecycle commands land between ticks exactly as the session applied them.
		for _, cmd := range rec.Commands {
			switch cmd {
			case CommandStart:
				engine.Start()
			case CommandReset:
				engine.Reset()
			default:
				return report, fmt.Errorf("tick %d: unknown %s", rec.Tick, cmd)
			}
		}
		engine.Submit(rec.Input)
		snap := engine.Step(rec.Dt)
		report.Ticks++
		report.FinalScore = snap.Score
		report.Crashes = crashes

		reason := ""
		switch {
		case snap.Tick != rec.Tick:
			reason = fmt.Sprintf("tick counter %d, recorded %d", snap.Tick, rec.Tick)
		case Digest(snap) != rec.Digest:
			reason = "snapshot digest differs"
		}
		if reason != "" {
			report.Verified = false
			report.Mismatch = &Mismatch{Tick: rec.Tick, Recorded: rec, Replayed: snap, Reason: reason}
			return report, nil
		}
	}
	return report, nil
}

// Entry captures a bundle header alongside its directory.
type Entry struct {
	Directory string `json:"directory"`
	Header    Header `json:"header"`
}

// List walks root and returns every bundle with a readable header, ordered by directory.
func List(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []Entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != headerFile {
			return nil
		}
		header, err := ReadHeader(path)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Directory: filepath.Dir(path), Header: header})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Directory < entries[j].Directory })
	return entries, nil
}
