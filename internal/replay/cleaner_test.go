package replay

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"fuzzyracer/racer/internal/logging"
)

func TestCleanerEnforcesMaxBundles(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)
	//1.- Seed three synthetic bundles so the cleaner has something to prune.
	writeBundleDirectory(t, tmp, "alpha-20240715T090000Z", now.Add(-3*time.Hour), 4)
	writeBundleDirectory(t, tmp, "bravo-20240715T100000Z", now.Add(-2*time.Hour), 2)
	writeBundleDirectory(t, tmp, "charlie-20240715T110000Z", now.Add(-time.Hour), 3)

	cleaner := NewCleaner(tmp, RetentionPolicy{MaxBundles: 2}, nil, logging.NewTestLogger())
	cleaner.now = func() time.Time { return now }
	cleaner.RunOnce()

	remaining := listBundles(t, tmp)
	expected := []string{"bravo-20240715T100000Z", "charlie-20240715T110000Z"}
	if len(remaining) != 2 || remaining[0] != expected[0] || remaining[1] != expected[1] {
		t.Fatalf("unexpected retained bundles: %v", remaining)
	}

	stats := cleaner.Stats()
	if stats.Bundles != 2 || stats.Removed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Bytes != 5 {
		t.Fatalf("expected byte total 5, got %d", stats.Bytes)
	}
	if stats.LastSweep.IsZero() {
		t.Fatalf("expected last sweep timestamp to be recorded")
	}
}

func TestCleanerPrunesByAgeButSparesLiveBundles(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2024, 7, 16, 9, 0, 0, 0, time.UTC)
	writeBundleDirectory(t, tmp, "echo-20240714T080000Z", now.Add(-72*time.Hour), 3)
	live := writeBundleDirectory(t, tmp, "golf-20240713T080000Z", now.Add(-96*time.Hour), 1)
	writeBundleDirectory(t, tmp, "foxtrot-20240716T070000Z", now.Add(-time.Hour), 5)

	cleaner := NewCleaner(tmp, RetentionPolicy{MaxAge: 36 * time.Hour, MaxBundles: 5},
		func() []string { return []string{live} }, logging.NewTestLogger())
	cleaner.now = func() time.Time { return now }
	cleaner.RunOnce()

	remaining := listBundles(t, tmp)
	expected := []string{"foxtrot-20240716T070000Z", "golf-20240713T080000Z"}
	if len(remaining) != 2 || remaining[0] != expected[0] || remaining[1] != expected[1] {
		t.Fatalf("unexpected retained bundles: %v", remaining)
	}
}

func writeBundleDirectory(t *testing.T, dir, name string, mod time.Time, files int) string {
	t.Helper()
	bundleDir := filepath.Join(dir, name)
	if err := os.MkdirAll(bundleDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	for i := 0; i < files; i++ {
		path := filepath.Join(bundleDir, fmt.Sprintf("part-%d.bin", i))
		if err := os.WriteFile(path, []byte{byte(i)}, 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatalf("Chtimes file: %v", err)
		}
	}
	if err := os.Chtimes(bundleDir, mod, mod); err != nil {
		t.Fatalf("Chtimes dir: %v", err)
	}
	return bundleDir
}

func listBundles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names
}
