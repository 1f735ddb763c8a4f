// Package intelligence implements the Intelligence Store (C6,
// spec.md §4.6): persisted Findings, Timeline, and AI Reports backed
// by the SQLite pool in internal/db. The fingerprint-based upsert
// rule and append-only timeline are this package's core contract.
package intelligence

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/gzip"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/huntrelay/huntrelay/internal/apperr"
	"github.com/huntrelay/huntrelay/internal/db"
	"github.com/huntrelay/huntrelay/internal/domain"
	"github.com/huntrelay/huntrelay/internal/ids"
)

// Store implements the Intelligence Store's operations against a
// db.Pool.
type Store struct {
	pool *db.Pool
}

// NewStore constructs a Store.
func NewStore(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

// Fingerprint computes the dedup key for a Finding: the original
// system's documented algorithm (recovered from original_source and
// preserved verbatim as a supplemented-feature Open Question
// resolution, SPEC_FULL.md §3) is sha256(asset_id|title|primary_technique_id),
// hex-encoded. The "primary" technique is the first entry of
// TechniqueIDs, or the empty string if none were extracted.
func Fingerprint(assetID ids.AssetID, title string, techniqueIDs []string) string {
	primary := ""
	if len(techniqueIDs) > 0 {
		primary = techniqueIDs[0]
	}
	sum := sha256.Sum256([]byte(assetID.String() + "|" + title + "|" + primary))
	return hex.EncodeToString(sum[:])
}

// UpsertFinding implements spec.md §4.6's upsert rule: find existing
// by (asset_id, fingerprint); if present, increment sighting_count,
// bump last_seen, promote severity, union tags, overwrite remediation;
// if absent, insert with sighting_count=1. Every upsert also appends a
// timeline.event_recorded event of type ai.finding_generated. Returns
// the stored Finding and whether it was newly created.
func (s *Store) UpsertFinding(ctx context.Context, f domain.Finding) (domain.Finding, bool, error) {
	if f.Fingerprint == "" {
		f.Fingerprint = Fingerprint(f.AssetID, f.Title, f.TechniqueIDs)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return domain.Finding{}, false, apperr.New(apperr.DBError, "intelligence: %v", err)
	}
	defer s.pool.Put(conn)

	var created bool
	err = func() (err error) {
		defer sqlitex.Save(conn)(&err)

		existing, ok, err := findByFingerprint(conn, f.AssetID, f.Fingerprint)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if ok {
			existing.SightingCount++
			existing.LastSeen = now
			existing.Severity = domain.MaxSeverity(existing.Severity, f.Severity)
			existing.Tags = unionTags(existing.Tags, f.Tags)
			if f.Remediation != nil {
				existing.Remediation = f.Remediation
			}
			if f.STIXBundle != "" {
				existing.STIXBundle = f.STIXBundle
			}
			if err := updateFinding(conn, existing); err != nil {
				return err
			}
			f = existing
		} else {
			f.ID = ids.NewFindingID()
			f.SightingCount = 1
			f.FirstSeen = now
			f.LastSeen = now
			if f.Status == "" {
				f.Status = domain.FindingOpen
			}
			if err := insertFinding(conn, f); err != nil {
				return err
			}
			created = true
		}

		return appendTimelineLocked(conn, domain.TimelineEvent{
			ID:         ids.NewFindingID().String(),
			AssetID:    f.AssetID,
			EventType:  "ai.finding_generated",
			OccurredAt: now,
		})
	}()
	if err != nil {
		return domain.Finding{}, false, apperr.New(apperr.DBError, "intelligence: upserting finding: %v", err)
	}
	return f, created, nil
}

func unionTags(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, t := range append(append([]string{}, a...), b...) {
		if _, ok := set[t]; ok {
			continue
		}
		set[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func findByFingerprint(conn *sqlite.Conn, assetID ids.AssetID, fingerprint string) (domain.Finding, bool, error) {
	var found domain.Finding
	var ok bool
	err := sqlitex.Execute(conn, `SELECT * FROM findings WHERE asset_id = ? AND fingerprint = ?`, &sqlitex.ExecOptions{
		Args: []any{assetID.String(), fingerprint},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = scanFinding(stmt)
			ok = true
			return nil
		},
	})
	return found, ok, err
}

func scanFinding(stmt *sqlite.Stmt) domain.Finding {
	var techniqueIDs, tags []string
	_ = json.Unmarshal([]byte(stmt.GetText("technique_ids")), &techniqueIDs)
	_ = json.Unmarshal([]byte(stmt.GetText("tags")), &tags)
	var remediation domain.RemediationPlan
	_ = json.Unmarshal([]byte(stmt.GetText("remediation")), &remediation)

	return domain.Finding{
		ID:            ids.FindingID(stmt.GetText("id")),
		AssetID:       ids.AssetID(stmt.GetText("asset_id")),
		SessionID:     ids.SessionID(stmt.GetText("session_id")),
		HuntID:        ids.HuntID(stmt.GetText("hunt_id")),
		Kind:          domain.FindingKind(stmt.GetText("kind")),
		Title:         stmt.GetText("title"),
		TechniqueIDs:  techniqueIDs,
		Severity:      domain.Severity(stmt.GetText("severity")),
		Confidence:    stmt.GetFloat("confidence"),
		Status:        domain.FindingStatus(stmt.GetText("status")),
		SightingCount: int(stmt.GetInt64("sighting_count")),
		FirstSeen:     parseTime(stmt.GetText("first_seen")),
		LastSeen:      parseTime(stmt.GetText("last_seen")),
		Tags:          tags,
		STIXBundle:    decompressSTIX(stmt.GetText("stix_bundle")),
		Remediation:   &remediation,
		Fingerprint:   stmt.GetText("fingerprint"),
	}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// compressSTIX gzips a STIX bundle before it hits the stix_bundle
// column — bundles are verbose JSON and findings accumulate without
// bound, so this keeps the database small as sightings pile up.
func compressSTIX(bundle string) (string, error) {
	if bundle == "" {
		return "", nil
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(bundle)); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func decompressSTIX(stored string) string {
	if stored == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return stored // pre-compression rows, or not a bundle at all
	}
	r, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return stored
	}
	defer r.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		return stored
	}
	return out.String()
}

func insertFinding(conn *sqlite.Conn, f domain.Finding) error {
	techniqueIDs, _ := json.Marshal(f.TechniqueIDs)
	tags, _ := json.Marshal(f.Tags)
	remediation, _ := json.Marshal(f.Remediation)
	stixBundle, err := compressSTIX(f.STIXBundle)
	if err != nil {
		return fmt.Errorf("intelligence: compressing STIX bundle: %w", err)
	}

	return sqlitex.Execute(conn, `
		INSERT INTO findings (id, asset_id, session_id, hunt_id, kind, title, technique_ids, severity,
			confidence, status, sighting_count, first_seen, last_seen, tags, stix_bundle, remediation, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			f.ID.String(), f.AssetID.String(), f.SessionID.String(), f.HuntID.String(), string(f.Kind), f.Title,
			string(techniqueIDs), string(f.Severity), f.Confidence, string(f.Status), f.SightingCount,
			f.FirstSeen.Format(time.RFC3339Nano), f.LastSeen.Format(time.RFC3339Nano), string(tags),
			stixBundle, string(remediation), f.Fingerprint,
		}})
}

func updateFinding(conn *sqlite.Conn, f domain.Finding) error {
	tags, _ := json.Marshal(f.Tags)
	remediation, _ := json.Marshal(f.Remediation)
	stixBundle, err := compressSTIX(f.STIXBundle)
	if err != nil {
		return fmt.Errorf("intelligence: compressing STIX bundle: %w", err)
	}

	return sqlitex.Execute(conn, `
		UPDATE findings SET sighting_count = ?, last_seen = ?, severity = ?, tags = ?, remediation = ?, stix_bundle = ?
		WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{
			f.SightingCount, f.LastSeen.Format(time.RFC3339Nano), string(f.Severity), string(tags),
			string(remediation), stixBundle, f.ID.String(),
		}})
}

// GetFinding returns one finding by ID.
func (s *Store) GetFinding(ctx context.Context, id ids.FindingID) (domain.Finding, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return domain.Finding{}, apperr.New(apperr.DBError, "intelligence: %v", err)
	}
	defer s.pool.Put(conn)

	var found domain.Finding
	var ok bool
	err = sqlitex.Execute(conn, `SELECT * FROM findings WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = scanFinding(stmt)
			ok = true
			return nil
		},
	})
	if err != nil {
		return domain.Finding{}, apperr.New(apperr.DBError, "intelligence: %v", err)
	}
	if !ok {
		return domain.Finding{}, apperr.NotFoundf("intelligence: finding %s not found", id)
	}
	return found, nil
}

// ListFindings returns findings scoped to assetID and/or sessionID
// (either may be zero to mean "don't filter on this").
func (s *Store) ListFindings(ctx context.Context, assetID ids.AssetID, sessionID ids.SessionID) ([]domain.Finding, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, apperr.New(apperr.DBError, "intelligence: %v", err)
	}
	defer s.pool.Put(conn)

	query := `SELECT * FROM findings WHERE 1=1`
	var args []any
	if !assetID.IsZero() {
		query += ` AND asset_id = ?`
		args = append(args, assetID.String())
	}
	if !sessionID.IsZero() {
		query += ` AND session_id = ?`
		args = append(args, sessionID.String())
	}
	query += ` ORDER BY last_seen DESC`

	var out []domain.Finding
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			out = append(out, scanFinding(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, apperr.New(apperr.DBError, "intelligence: %v", err)
	}
	return out, nil
}

// UpdateStatus changes a finding's analyst-managed status.
func (s *Store) UpdateStatus(ctx context.Context, id ids.FindingID, status domain.FindingStatus) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return apperr.New(apperr.DBError, "intelligence: %v", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE findings SET status = ? WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{string(status), id.String()},
	})
	if err != nil {
		return apperr.New(apperr.DBError, "intelligence: %v", err)
	}
	if conn.Changes() == 0 {
		return apperr.NotFoundf("intelligence: finding %s not found", id)
	}
	return nil
}

// DeleteFinding removes a finding.
func (s *Store) DeleteFinding(ctx context.Context, id ids.FindingID) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return apperr.New(apperr.DBError, "intelligence: %v", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, `DELETE FROM findings WHERE id = ?`, &sqlitex.ExecOptions{Args: []any{id.String()}}); err != nil {
		return apperr.New(apperr.DBError, "intelligence: %v", err)
	}
	return nil
}

// AppendTimeline appends an append-only timeline event for an asset.
func (s *Store) AppendTimeline(ctx context.Context, ev domain.TimelineEvent) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return apperr.New(apperr.DBError, "intelligence: %v", err)
	}
	defer s.pool.Put(conn)

	if ev.ID == "" {
		ev.ID = ids.NewFindingID().String()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	return appendTimelineLocked(conn, ev)
}

func appendTimelineLocked(conn *sqlite.Conn, ev domain.TimelineEvent) error {
	return sqlitex.Execute(conn, `
		INSERT INTO timeline_events (id, asset_id, event_type, payload, occurred_at, analyst_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			ev.ID, ev.AssetID.String(), ev.EventType, ev.Payload, ev.OccurredAt.Format(time.RFC3339Nano), ev.AnalystID.String(),
		}})
}

// GetTimeline returns the most recent limit timeline events for an
// asset, newest first.
func (s *Store) GetTimeline(ctx context.Context, assetID ids.AssetID, limit int) ([]domain.TimelineEvent, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, apperr.New(apperr.DBError, "intelligence: %v", err)
	}
	defer s.pool.Put(conn)

	if limit <= 0 {
		limit = 100
	}

	var out []domain.TimelineEvent
	err = sqlitex.Execute(conn, `SELECT * FROM timeline_events WHERE asset_id = ? ORDER BY occurred_at DESC LIMIT ?`, &sqlitex.ExecOptions{
		Args: []any{assetID.String(), limit},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			out = append(out, domain.TimelineEvent{
				ID:         stmt.GetText("id"),
				AssetID:    ids.AssetID(stmt.GetText("asset_id")),
				EventType:  stmt.GetText("event_type"),
				Payload:    stmt.GetText("payload"),
				OccurredAt: parseTime(stmt.GetText("occurred_at")),
				AnalystID:  ids.AnalystID(stmt.GetText("analyst_id")),
			})
			return nil
		},
	})
	if err != nil {
		return nil, apperr.New(apperr.DBError, "intelligence: %v", err)
	}
	return out, nil
}

// ClearTimeline deletes every timeline event for an asset.
func (s *Store) ClearTimeline(ctx context.Context, assetID ids.AssetID) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return apperr.New(apperr.DBError, "intelligence: %v", err)
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `DELETE FROM timeline_events WHERE asset_id = ?`, &sqlitex.ExecOptions{Args: []any{assetID.String()}})
}

// SaveAIReport persists a hunt's full AI-authored report text.
func (s *Store) SaveAIReport(ctx context.Context, assetID ids.AssetID, huntID ids.HuntID, reportText string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return apperr.New(apperr.DBError, "intelligence: %v", err)
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `
		INSERT INTO ai_reports (id, asset_id, hunt_id, report_text, created_at) VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			ids.NewFindingID().String(), assetID.String(), huntID.String(), reportText, time.Now().UTC().Format(time.RFC3339Nano),
		}})
}

// ListAIReports returns every saved AI report for an asset, newest first.
func (s *Store) ListAIReports(ctx context.Context, assetID ids.AssetID) ([]string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, apperr.New(apperr.DBError, "intelligence: %v", err)
	}
	defer s.pool.Put(conn)

	var out []string
	err = sqlitex.Execute(conn, `SELECT report_text FROM ai_reports WHERE asset_id = ? ORDER BY created_at DESC`, &sqlitex.ExecOptions{
		Args: []any{assetID.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			out = append(out, stmt.GetText("report_text"))
			return nil
		},
	})
	if err != nil {
		return nil, apperr.New(apperr.DBError, "intelligence: %v", err)
	}
	return out, nil
}
