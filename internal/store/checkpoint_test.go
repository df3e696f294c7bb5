package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckpointMissingFile(t *testing.T) {
	n, err := LoadCheckpoint(filepath.Join(t.TempDir(), "missing.txt"))
	if err != nil {
		t.Fatalf("LoadCheckpoint() error = %v, want nil for missing file", err)
	}
	if n != 0 {
		t.Errorf("LoadCheckpoint() = %d, want 0", n)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed_count.txt")

	for _, want := range []int{0, 50, 1234} {
		if err := SaveCheckpoint(path, want); err != nil {
			t.Fatalf("SaveCheckpoint(%d) error = %v", want, err)
		}
		got, err := LoadCheckpoint(path)
		if err != nil {
			t.Fatalf("LoadCheckpoint() error = %v", err)
		}
		if got != want {
			t.Errorf("LoadCheckpoint() = %d, want %d", got, want)
		}
	}
}

func TestCheckpointGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed_count.txt")
	if err := os.WriteFile(path, []byte("not a number"), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := LoadCheckpoint(path)
	if err == nil {
		t.Error("LoadCheckpoint() should fail on garbage")
	}
	if n != 0 {
		t.Errorf("LoadCheckpoint() = %d, want 0 on failure", n)
	}
}

func TestSaveCheckpointRejectsNegative(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed_count.txt")
	if err := SaveCheckpoint(path, -1); err == nil {
		t.Error("SaveCheckpoint(-1) should fail")
	}
}
