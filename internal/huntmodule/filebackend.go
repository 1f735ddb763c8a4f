package huntmodule

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/huntrelay/huntrelay/internal/apperr"
	"github.com/huntrelay/huntrelay/internal/ids"
)

// FileBackend persists each HuntModule as a ".module" file named by
// its ID in a single directory — the on-disk counterpart to the
// markdown spec documents the loader is grounded on.
type FileBackend struct {
	dir string
}

// NewFileBackend constructs a FileBackend rooted at dir, creating it
// if absent.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.New(apperr.DBError, "huntmodule: creating module directory: %v", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(id ids.HuntModuleID) string {
	return filepath.Join(b.dir, id.String()+".module")
}

// Save writes text to id's file, replacing any existing content.
func (b *FileBackend) Save(id ids.HuntModuleID, text string) error {
	if err := os.WriteFile(b.path(id), []byte(text), 0o644); err != nil {
		return apperr.New(apperr.DBError, "huntmodule: saving %s: %v", id, err)
	}
	return nil
}

// Delete removes id's file. Idempotent if already absent.
func (b *FileBackend) Delete(id ids.HuntModuleID) error {
	if err := os.Remove(b.path(id)); err != nil && !os.IsNotExist(err) {
		return apperr.New(apperr.DBError, "huntmodule: deleting %s: %v", id, err)
	}
	return nil
}

// LoadAll reads every ".module" file in dir and loads it into store,
// for bootstrapping the Store from disk at server start-up. Parse
// errors on individual files are collected and returned together so
// one malformed module doesn't block every other one from loading.
func LoadAll(store *Store, dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return apperr.New(apperr.DBError, "huntmodule: reading module directory: %v", err)
	}

	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".module") {
			continue
		}
		text, readErr := os.ReadFile(filepath.Join(dir, entry.Name()))
		if readErr != nil {
			errs = append(errs, readErr)
			continue
		}
		if _, parseErr := store.Load(string(text)); parseErr != nil {
			errs = append(errs, parseErr)
		}
	}
	if len(errs) > 0 {
		joined := errs[0]
		for _, e := range errs[1:] {
			joined = apperr.New(apperr.DBError, "%v; %v", joined, e)
		}
		return joined
	}
	return nil
}
