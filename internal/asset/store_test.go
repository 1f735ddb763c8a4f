package asset

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/huntrelay/huntrelay/internal/db"
	"github.com/huntrelay/huntrelay/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	pool, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "test.db"), PoolSize: 1})
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	if _, err := db.Migrate(context.Background(), pool); err != nil {
		t.Fatalf("db.Migrate: %v", err)
	}
	return NewStore(pool)
}

func TestCreateGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	created, err := s.Create(context.Background(), domain.Asset{Hostname: "web-01", IP: "10.0.0.5", OS: domain.OSLinux, Username: "ubuntu"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.SSHPort != 22 {
		t.Fatalf("expected default SSH port 22, got %d", created.SSHPort)
	}

	got, err := s.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Hostname != "web-01" {
		t.Fatalf("unexpected hostname: %s", got.Hostname)
	}
}

func TestDeleteRemovesAsset(t *testing.T) {
	s := newTestStore(t)
	a, err := s.Create(context.Background(), domain.Asset{Hostname: "db-01", OS: domain.OSLinux})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete(context.Background(), a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(context.Background(), a.ID); err == nil {
		t.Fatalf("expected NotFound after delete")
	}
}

func TestCreateRejectsEmptyHostname(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create(context.Background(), domain.Asset{}); err == nil {
		t.Fatalf("expected error for empty hostname")
	}
}
