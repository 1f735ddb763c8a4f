package huntmodule

import (
	"path/filepath"
	"testing"

	"github.com/huntrelay/huntrelay/internal/ids"
)

func TestFileBackendSaveDeleteLoadAll(t *testing.T) {
	dir := t.TempDir()

	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}

	id := ids.HuntModuleID("linux-persistence-triage")
	if err := backend.Save(id, sampleModule); err != nil {
		t.Fatalf("Save: %v", err)
	}

	store := NewStore(backend)
	if err := LoadAll(store, dir); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	m, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get after LoadAll: %v", err)
	}
	if len(m.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(m.Steps))
	}

	if err := backend.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := backend.Delete(id); err != nil {
		t.Fatalf("Delete on already-absent file should be a no-op: %v", err)
	}
}

func TestLoadAllToleratesMissingDirectory(t *testing.T) {
	store := NewStore(nil)
	if err := LoadAll(store, filepath.Join(t.TempDir(), "does-not-exist")); err != nil {
		t.Fatalf("LoadAll on missing dir should not error: %v", err)
	}
}

func TestLoadAllCollectsPerFileErrors(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	if err := backend.Save("good", sampleModule); err != nil {
		t.Fatalf("Save good: %v", err)
	}
	if err := backend.Save("bad", "not a valid module"); err != nil {
		t.Fatalf("Save bad: %v", err)
	}

	store := NewStore(backend)
	err = LoadAll(store, dir)
	if err == nil {
		t.Fatalf("expected an error describing the bad file")
	}
	if _, getErr := store.Get("linux-persistence-triage"); getErr != nil {
		t.Fatalf("good module should still have loaded: %v", getErr)
	}
}

func TestETagChangesWithContent(t *testing.T) {
	m, err := Parse(sampleModule)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tag1, err := ETag(m)
	if err != nil {
		t.Fatalf("ETag: %v", err)
	}

	m.Name = "Linux Persistence Triage (revised)"
	tag2, err := ETag(m)
	if err != nil {
		t.Fatalf("ETag: %v", err)
	}
	if tag1 == tag2 {
		t.Fatalf("ETag did not change after content changed")
	}
}
