package replayverify

import (
	"encoding/json"
	"fmt"
	"sort"

	"fuzzyracer/racer/internal/replay"
)

// Summary describes one bundle and the outcome of re-simulating it.
type Summary struct {
	Directory  string         `json:"directory"`
	SessionID  string         `json:"session_id"`
	Seed       uint64         `json:"seed"`
	Tuning     string         `json:"tuning"`
	TickHz     float64        `json:"tick_hz"`
	EventTypes map[string]int `json:"event_types"`
	Report     replay.Report  `json:"report"`
}

// Inspect loads the bundle at path and verifies it.
func Inspect(path string) (Summary, error) {
	bundle, err := replay.LoadBundle(path)
	if err != nil {
		return Summary{}, err
	}
	report, err := replay.Verify(bundle)
	if err != nil {
		return Summary{}, fmt.Errorf("verify %s: %w", bundle.Directory, err)
	}
	summary := Summary{
		Directory:  bundle.Directory,
		SessionID:  bundle.Header.SessionID,
		Seed:       bundle.Header.Seed,
		Tuning:     bundle.Header.Tuning.Name,
		TickHz:     bundle.Header.TickHz,
		EventTypes: make(map[string]int),
		Report:     report,
	}
	for _, event := range bundle.Events {
		summary.EventTypes[event.Type]++
	}
	return summary, nil
}

// InspectAll verifies every bundle found under root. A bundle that cannot be read is
// reported in the error list and does not stop the walk.
func InspectAll(root string) ([]Summary, []error) {
	entries, err := replay.List(root)
	if err != nil {
		return nil, []error{err}
	}
	summaries := make([]Summary, 0, len(entries))
	var problems []error
	for _, entry := range entries {
		summary, err := Inspect(entry.Directory)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Directory < summaries[j].Directory })
	return summaries, problems
}

// MarshalSummaries produces indented JSON for CLI output.
func MarshalSummaries(summaries []Summary) ([]byte, error) {
	return json.MarshalIndent(summaries, "", "  ")
}

// Failed reports whether any summary diverged from its recording.
func Failed(summaries []Summary) bool {
	for _, summary := range summaries {
		if !summary.Report.Verified {
			return true
		}
	}
	return false
}
