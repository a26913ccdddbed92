package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error loading a missing file")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Camera.Framerate = 7
	path := filepath.Join(t.TempDir(), "config.json")
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Camera.Framerate != 7 {
		t.Fatalf("Camera.Framerate = %d, want 7", got.Camera.Framerate)
	}
}

func TestDumpJSONSortedKeys(t *testing.T) {
	cfg := Default()
	text, err := DumpJSON(cfg)
	if err != nil {
		t.Fatalf("DumpJSON() error = %v", err)
	}
	idxCamera := strings.Index(text, `"camera"`)
	idxRing := strings.Index(text, `"ring"`)
	idxExport := strings.Index(text, `"export"`)
	if !(idxCamera < idxExport && idxExport < idxRing) {
		t.Fatalf("top-level keys not sorted: camera=%d export=%d ring=%d", idxCamera, idxExport, idxRing)
	}
}

func TestSetTypeCoercion(t *testing.T) {
	live := NewLive(Default(), "unused.json")

	oldV, newV, err := live.Set("camera.framerate", "5")
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if oldV.(int) != 10 || newV.(int) != 5 {
		t.Fatalf("Set() = %v -> %v, want 10 -> 5", oldV, newV)
	}
	if live.Snapshot().Camera.Framerate != 5 {
		t.Fatal("snapshot does not reflect mutation")
	}

	if _, _, err := live.Set("night.enable", "0"); err != nil {
		t.Fatalf("Set(bool) error = %v", err)
	}
	if live.Snapshot().Night.Enable {
		t.Fatal("night.enable should be false")
	}

	if _, _, err := live.Set("night.dark_threshold", "not-a-number"); err == nil {
		t.Fatal("expected coercion error")
	}
	if live.Snapshot().Night.DarkThreshold != Default().Night.DarkThreshold {
		t.Fatal("failed Set must not mutate state")
	}
}

func TestSetUnknownKey(t *testing.T) {
	live := NewLive(Default(), "unused.json")
	if _, _, err := live.Set("camera.bogus", "1"); err == nil {
		t.Fatal("expected ErrUnknownKey")
	}
}
