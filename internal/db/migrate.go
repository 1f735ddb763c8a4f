package db

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// migrations is the forward-only, monotonically versioned migration
// ledger required by spec.md §6. Each entry's index+1 is its version
// number; nothing is ever edited or removed once shipped — a fix to
// an old migration ships as a new, later migration.
var migrations = []string{
	// version 1
	`
	CREATE TABLE schema_version (version INTEGER NOT NULL);
	INSERT INTO schema_version (version) VALUES (0);

	CREATE TABLE assets (
		id TEXT PRIMARY KEY,
		hostname TEXT NOT NULL,
		ip TEXT NOT NULL,
		os TEXT NOT NULL,
		ssh_port INTEGER NOT NULL DEFAULT 22,
		username TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE sessions (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
		analyst_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		state TEXT NOT NULL,
		locked_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		terminated_at TEXT
	);
	CREATE INDEX sessions_asset_idx ON sessions(asset_id);

	CREATE TABLE hunt_module_runs (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		module_id TEXT NOT NULL,
		run_ai INTEGER NOT NULL,
		status TEXT NOT NULL,
		started_at TEXT NOT NULL,
		ended_at TEXT,
		findings_count INTEGER NOT NULL DEFAULT 0,
		ai_report_text TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX hunt_module_runs_session_idx ON hunt_module_runs(session_id);

	CREATE TABLE findings (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
		session_id TEXT NOT NULL DEFAULT '',
		hunt_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		title TEXT NOT NULL,
		technique_ids TEXT NOT NULL DEFAULT '[]',
		severity TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'open',
		sighting_count INTEGER NOT NULL DEFAULT 1,
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		stix_bundle TEXT NOT NULL DEFAULT '',
		remediation TEXT NOT NULL DEFAULT '{}',
		fingerprint TEXT NOT NULL
	);
	CREATE UNIQUE INDEX findings_asset_fingerprint_idx ON findings(asset_id, fingerprint);

	CREATE TABLE timeline_events (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		occurred_at TEXT NOT NULL,
		analyst_id TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX timeline_events_asset_idx ON timeline_events(asset_id, occurred_at);

	CREATE TABLE ai_reports (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
		hunt_id TEXT NOT NULL,
		report_text TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX ai_reports_asset_idx ON ai_reports(asset_id);
	`,
}

// Migrate brings the database at conn up to the latest schema
// version, applying any migrations newer than the recorded version.
// Returns the resulting version.
func Migrate(ctx context.Context, pool *Pool) (int, error) {
	conn, err := pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer pool.Put(conn)

	current, err := currentVersion(conn)
	if err != nil {
		return 0, err
	}

	for i := current; i < len(migrations); i++ {
		if err := sqlitex.ExecuteScript(conn, migrations[i], nil); err != nil {
			return current, fmt.Errorf("db: migration %d failed: %w", i+1, err)
		}
		if err := sqlitex.Execute(conn, `UPDATE schema_version SET version = ?`, &sqlitex.ExecOptions{
			Args: []any{i + 1},
		}); err != nil {
			return current, fmt.Errorf("db: recording migration %d: %w", i+1, err)
		}
	}
	return len(migrations), nil
}

func currentVersion(conn *sqlite.Conn) (int, error) {
	exists, err := tableExists(conn, "schema_version")
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = sqlitex.Execute(conn, `SELECT version FROM schema_version LIMIT 1`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = int(stmt.GetInt64("version"))
			return nil
		},
	})
	return version, err
}

func tableExists(conn *sqlite.Conn, name string) (bool, error) {
	found := false
	err := sqlitex.Execute(conn, `SELECT 1 FROM sqlite_master WHERE type='table' AND name=?`, &sqlitex.ExecOptions{
		Args: []any{name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			return nil
		},
	})
	return found, err
}
