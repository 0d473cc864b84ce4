package replayverify

import (
	"os"
	"path/filepath"
	"testing"

	"fuzzyracer/racer/internal/control"
	"fuzzyracer/racer/internal/race"
	"fuzzyracer/racer/internal/replay"
)

func writeBundle(t *testing.T, root, id string, ticks int) string {
	t.Helper()
	tuning := race.MustPreset("canvas")
	writer, _, err := replay.NewWriter(root, id, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	writer.SetHeader(replay.Header{Seed: 5, TickHz: 60, Tuning: tuning})
	engine, err := race.NewEngine(tuning, race.NewSource(5))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	engine.Start()
	commands := []replay.Command{replay.CommandStart}
	for i := 0; i < ticks; i++ {
		engine.Submit(control.Sample{Steering: 30, Speed: 70})
		snap := engine.Step(1.0 / 60)
		if err := writer.AppendTick(replay.NewRecord(1.0/60, commands, snap)); err != nil {
			t.Fatalf("AppendTick: %v", err)
		}
		commands = nil
	}
	if err := writer.AppendEvent(0, "session_started", nil); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return writer.Directory()
}

func TestInspectVerifiesBundle(t *testing.T) {
	dir := writeBundle(t, t.TempDir(), "alpha", 90)
	summary, err := Inspect(dir)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !summary.Report.Verified || summary.Report.Ticks != 90 {
		t.Fatalf("unexpected report %+v", summary.Report)
	}
	if summary.SessionID != "alpha" || summary.Tuning != "canvas" || summary.EventTypes["session_started"] != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestInspectAllCollectsProblems(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "alpha", 30)
	writeBundle(t, root, "bravo", 30)

	broken := filepath.Join(root, "zulu")
	if err := os.MkdirAll(broken, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	header := replay.Header{SchemaVersion: replay.HeaderSchemaVersion, Tuning: race.MustPreset("canvas"), FilePointer: "manifest.json"}
	if err := replay.WriteHeader(filepath.Join(broken, "header.json"), header); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}

	summaries, problems := InspectAll(root)
	if len(summaries) != 2 || len(problems) != 1 {
		t.Fatalf("got %d summaries and %d problems", len(summaries), len(problems))
	}
	if Failed(summaries) {
		t.Fatal("healthy bundles reported as diverged")
	}
	payload, err := MarshalSummaries(summaries)
	if err != nil || len(payload) == 0 {
		t.Fatalf("MarshalSummaries: %v", err)
	}
}
