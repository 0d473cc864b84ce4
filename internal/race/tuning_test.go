package race

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"fuzzyracer/racer/internal/control"
)

func TestPresetsLoadAndValidate(t *testing.T) {
	names := PresetNames()
	if len(names) != 2 || names[0] != "arena" || names[1] != "canvas" {
		t.Fatalf("unexpected presets %v", names)
	}
	canvas := MustPreset("Canvas")
	if canvas.Name != "canvas" || canvas.MaxSpeed != 45 || canvas.Lanes != 5 {
		t.Fatalf("canvas preset decoded incorrectly: %+v", canvas)
	}
	arena := MustPreset("arena")
	if !arena.PowerUps || arena.MaxSpeed != 150 || arena.Lanes != 3 {
		t.Fatalf("arena preset decoded incorrectly: %+v", arena)
	}
}

func TestPresetsBoostOnOpenHandAndNitro(t *testing.T) {
	want := []control.Gesture{control.GestureOpen, control.GestureNitro}
	for _, name := range PresetNames() {
		tuning := MustPreset(name)
		if !reflect.DeepEqual(tuning.BoostGestures, want) {
			t.Fatalf("%s boost gestures = %v, want %v", name, tuning.BoostGestures, want)
		}
		if tuning.boostGesture(control.GestureBrake) || tuning.boostGesture(control.GestureNone) {
			t.Fatalf("%s boosts on a non-boost gesture", name)
		}
	}
}

func TestPresetReturnsIndependentCopies(t *testing.T) {
	first := MustPreset("canvas")
	first.Palette[0] = "#000000"
	if second := MustPreset("canvas"); second.Palette[0] == "#000000" {
		t.Fatal("preset palette shared between callers")
	}
}

func TestUnknownPreset(t *testing.T) {
	if _, err := Preset("rally"); !errors.Is(err, ErrUnknownPreset) {
		t.Fatalf("expected ErrUnknownPreset, got %v", err)
	}
}

func TestLaneCentresAreSymmetric(t *testing.T) {
	canvas := MustPreset("canvas")
	if canvas.LaneCenter(0) != -300 || canvas.LaneCenter(2) != 0 || canvas.LaneCenter(4) != 300 {
		t.Fatalf("unexpected canvas lane centres")
	}
	arena := MustPreset("arena")
	if arena.LaneCenter(0) != -0.55 || arena.LaneCenter(1) != 0 {
		t.Fatalf("unexpected arena lane centres: %v %v", arena.LaneCenter(0), arena.LaneCenter(1))
	}
}

func TestLoadTuningFileOverlaysBase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.json")
	if err := os.WriteFile(path, []byte(`{"max_speed": 60, "boost_drain": 25}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tuning, err := LoadTuningFile(path, MustPreset("canvas"))
	if err != nil {
		t.Fatalf("LoadTuningFile: %v", err)
	}
	if tuning.MaxSpeed != 60 || tuning.BoostDrain != 25 {
		t.Fatalf("overrides not applied: %+v", tuning)
	}
	if tuning.Acceleration != 60 || tuning.Lanes != 5 {
		t.Fatalf("base values lost: %+v", tuning)
	}
	if tuning.Name != "canvas+file" {
		t.Fatalf("unexpected name %q", tuning.Name)
	}
}

func TestLoadTuningFileRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.json")
	if err := os.WriteFile(path, []byte(`{"lanes": 0}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadTuningFile(path, MustPreset("canvas")); err == nil {
		t.Fatal("expected validation failure")
	}
}
