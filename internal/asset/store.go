// Package asset provides a reference Asset CRUD store — the external
// collaborator spec.md §1 and §3 name but leave out of scope for the
// eight core components. It persists the non-secret Asset fields
// (hostname, IP, OS, SSH port, username) in the same SQLite pool the
// Intelligence Store uses; credentials live only in internal/vault.
// Deleting an asset here cascades to its sessions, findings, timeline
// events, and AI reports via the ON DELETE CASCADE foreign keys
// internal/db's schema declares (spec.md §4.6).
package asset

import (
	"context"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/huntrelay/huntrelay/internal/apperr"
	"github.com/huntrelay/huntrelay/internal/db"
	"github.com/huntrelay/huntrelay/internal/domain"
	"github.com/huntrelay/huntrelay/internal/ids"
)

// Store persists Assets.
type Store struct {
	pool *db.Pool
}

// NewStore constructs a Store.
func NewStore(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

// Create inserts a new Asset, generating its ID if unset.
func (s *Store) Create(ctx context.Context, a domain.Asset) (domain.Asset, error) {
	if a.ID.IsZero() {
		a.ID = ids.NewAssetID()
	}
	if a.Hostname == "" {
		return domain.Asset{}, apperr.BadRequestf("asset: hostname is required")
	}
	if a.SSHPort == 0 {
		a.SSHPort = 22
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return domain.Asset{}, apperr.New(apperr.DBError, "asset: %v", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO assets (id, hostname, ip, os, ssh_port, username, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			a.ID.String(), a.Hostname, a.IP, string(a.OS), a.SSHPort, a.Username, time.Now().UTC().Format(time.RFC3339Nano),
		}})
	if err != nil {
		return domain.Asset{}, apperr.New(apperr.DBError, "asset: creating %s: %v", a.Hostname, err)
	}
	return a, nil
}

// Get returns one asset by ID.
func (s *Store) Get(ctx context.Context, id ids.AssetID) (domain.Asset, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return domain.Asset{}, apperr.New(apperr.DBError, "asset: %v", err)
	}
	defer s.pool.Put(conn)

	var found domain.Asset
	var ok bool
	err = sqlitex.Execute(conn, `SELECT * FROM assets WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = scanAsset(stmt)
			ok = true
			return nil
		},
	})
	if err != nil {
		return domain.Asset{}, apperr.New(apperr.DBError, "asset: %v", err)
	}
	if !ok {
		return domain.Asset{}, apperr.NotFoundf("asset: %s not found", id)
	}
	return found, nil
}

// List returns every asset, ordered by hostname.
func (s *Store) List(ctx context.Context) ([]domain.Asset, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, apperr.New(apperr.DBError, "asset: %v", err)
	}
	defer s.pool.Put(conn)

	var out []domain.Asset
	err = sqlitex.Execute(conn, `SELECT * FROM assets ORDER BY hostname`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			out = append(out, scanAsset(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, apperr.New(apperr.DBError, "asset: %v", err)
	}
	return out, nil
}

// Update overwrites an asset's mutable fields.
func (s *Store) Update(ctx context.Context, a domain.Asset) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return apperr.New(apperr.DBError, "asset: %v", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE assets SET hostname = ?, ip = ?, os = ?, ssh_port = ?, username = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{a.Hostname, a.IP, string(a.OS), a.SSHPort, a.Username, a.ID.String()}})
	if err != nil {
		return apperr.New(apperr.DBError, "asset: updating %s: %v", a.ID, err)
	}
	if conn.Changes() == 0 {
		return apperr.NotFoundf("asset: %s not found", a.ID)
	}
	return nil
}

// Delete removes an asset. The schema's ON DELETE CASCADE foreign
// keys take care of its sessions, findings, timeline events, and AI
// reports.
func (s *Store) Delete(ctx context.Context, id ids.AssetID) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return apperr.New(apperr.DBError, "asset: %v", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, `DELETE FROM assets WHERE id = ?`, &sqlitex.ExecOptions{Args: []any{id.String()}}); err != nil {
		return apperr.New(apperr.DBError, "asset: deleting %s: %v", id, err)
	}
	return nil
}

func scanAsset(stmt *sqlite.Stmt) domain.Asset {
	return domain.Asset{
		ID:       ids.AssetID(stmt.GetText("id")),
		Hostname: stmt.GetText("hostname"),
		IP:       stmt.GetText("ip"),
		OS:       domain.OSTag(stmt.GetText("os")),
		SSHPort:  int(stmt.GetInt64("ssh_port")),
		Username: stmt.GetText("username"),
	}
}
