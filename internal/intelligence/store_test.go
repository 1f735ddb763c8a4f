package intelligence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/huntrelay/huntrelay/internal/db"
	"github.com/huntrelay/huntrelay/internal/domain"
	"github.com/huntrelay/huntrelay/internal/ids"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	pool, err := db.Open(db.Config{Path: filepath.Join(dir, "test.db"), PoolSize: 1})
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	if _, err := db.Migrate(context.Background(), pool); err != nil {
		t.Fatalf("db.Migrate: %v", err)
	}

	return NewStore(pool)
}

// seedAsset inserts the parent assets row a finding's foreign key
// requires (foreign_keys=ON in internal/db, see pool.go).
func seedAsset(t *testing.T, s *Store, assetID ids.AssetID) {
	t.Helper()
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO assets (id, hostname, ip, os, ssh_port, username, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{assetID.String(), "host", "10.0.0.1", "linux", 22, "analyst", time.Now().UTC().Format(time.RFC3339Nano)}})
	if err != nil {
		t.Fatalf("seeding asset: %v", err)
	}
}

func TestUpsertFindingCreatesThenMerges(t *testing.T) {
	s := newTestStore(t)
	assetID := ids.NewAssetID()
	seedAsset(t, s, assetID)

	f := domain.Finding{
		AssetID:      assetID,
		Kind:         domain.FindingAIReport,
		Title:        "Suspicious cron persistence",
		TechniqueIDs: []string{"T1053.003"},
		Severity:     domain.SeverityMedium,
		Tags:         []string{"persistence"},
	}

	created, wasNew, err := s.UpsertFinding(context.Background(), f)
	if err != nil {
		t.Fatalf("UpsertFinding: %v", err)
	}
	if !wasNew {
		t.Fatalf("expected first upsert to create")
	}
	if created.SightingCount != 1 {
		t.Fatalf("expected sighting_count=1, got %d", created.SightingCount)
	}

	f2 := f
	f2.Severity = domain.SeverityCritical
	f2.Tags = []string{"persistence", "cron"}

	merged, wasNew2, err := s.UpsertFinding(context.Background(), f2)
	if err != nil {
		t.Fatalf("second UpsertFinding: %v", err)
	}
	if wasNew2 {
		t.Fatalf("expected second upsert to merge, not create")
	}
	if merged.SightingCount != 2 {
		t.Fatalf("expected sighting_count=2, got %d", merged.SightingCount)
	}
	if merged.Severity != domain.SeverityCritical {
		t.Fatalf("expected severity promoted to critical, got %s", merged.Severity)
	}
	if len(merged.Tags) != 2 {
		t.Fatalf("expected tags union of 2, got %v", merged.Tags)
	}

	timeline, err := s.GetTimeline(context.Background(), assetID, 10)
	if err != nil {
		t.Fatalf("GetTimeline: %v", err)
	}
	if len(timeline) != 2 {
		t.Fatalf("expected 2 timeline events from 2 upserts, got %d", len(timeline))
	}
	for _, ev := range timeline {
		if ev.EventType != "ai.finding_generated" {
			t.Fatalf("unexpected timeline event type: %s", ev.EventType)
		}
	}
}

func TestFingerprintIsStableAcrossEquivalentFindings(t *testing.T) {
	assetID := ids.NewAssetID()
	a := Fingerprint(assetID, "Title", []string{"T1053.003", "T1059"})
	b := Fingerprint(assetID, "Title", []string{"T1053.003", "T1059"})
	if a != b {
		t.Fatalf("fingerprint not stable: %s vs %s", a, b)
	}
	c := Fingerprint(assetID, "Title", []string{"T1059"})
	if a == c {
		t.Fatalf("fingerprint should differ on distinct primary technique")
	}
}

func TestUpdateStatusRejectsUnknownFinding(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateStatus(context.Background(), ids.FindingID("does-not-exist"), domain.FindingResolved)
	if err == nil {
		t.Fatalf("expected NotFound error")
	}
}

func TestSTIXBundleSurvivesCompression(t *testing.T) {
	s := newTestStore(t)
	assetID := ids.NewAssetID()
	seedAsset(t, s, assetID)

	bundle := `{"type":"bundle","id":"bundle--1234","objects":[{"type":"indicator"}]}`
	f := domain.Finding{
		AssetID:      assetID,
		Kind:         domain.FindingAIReport,
		Title:        "STIX-bearing finding",
		TechniqueIDs: []string{"T1053.003"},
		Severity:     domain.SeverityLow,
		STIXBundle:   bundle,
	}

	created, _, err := s.UpsertFinding(context.Background(), f)
	if err != nil {
		t.Fatalf("UpsertFinding: %v", err)
	}

	got, err := s.GetFinding(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetFinding: %v", err)
	}
	if got.STIXBundle != bundle {
		t.Fatalf("STIX bundle did not round-trip through compression: got %q want %q", got.STIXBundle, bundle)
	}
}
