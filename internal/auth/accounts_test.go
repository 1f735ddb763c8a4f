package auth

import (
	"path/filepath"
	"testing"

	"github.com/huntrelay/huntrelay/internal/ids"
)

func TestAccountStoreCreateLookupPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")

	store, err := OpenAccountStore(path)
	if err != nil {
		t.Fatalf("OpenAccountStore: %v", err)
	}

	analyst := ids.AnalystID("analyst-1")
	if err := store.CreateAccount("jdoe", analyst, "correct horse battery staple"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := store.CreateAccount("jdoe", analyst, "anything"); err == nil {
		t.Fatalf("expected creating a duplicate username to fail")
	}

	gotAnalyst, hash, err := store.PasswordHash("jdoe")
	if err != nil {
		t.Fatalf("PasswordHash: %v", err)
	}
	if gotAnalyst != analyst {
		t.Fatalf("expected analyst %s, got %s", analyst, gotAnalyst)
	}
	if !CheckPassword(hash, "correct horse battery staple") {
		t.Fatalf("stored hash did not verify against the original password")
	}

	newHash, err := HashPassword("a new password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := store.SetPasswordHash(analyst, newHash); err != nil {
		t.Fatalf("SetPasswordHash: %v", err)
	}

	// Reopening from disk should see the updated hash.
	reopened, err := OpenAccountStore(path)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	_, gotHash, err := reopened.PasswordHash("jdoe")
	if err != nil {
		t.Fatalf("PasswordHash after reopen: %v", err)
	}
	if gotHash != newHash {
		t.Fatalf("password hash was not persisted across reopen")
	}
}

func TestAccountStoreMissingFileStartsEmpty(t *testing.T) {
	store, err := OpenAccountStore(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("OpenAccountStore on missing file: %v", err)
	}
	if _, _, err := store.PasswordHash("nobody"); err == nil {
		t.Fatalf("expected lookup on empty store to fail")
	}
}
