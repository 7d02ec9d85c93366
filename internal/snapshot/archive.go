package snapshot

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"leakhound/internal/leak"
)

// Archive persists snapshots and baselines to a local SQLite database so
// regression baselines survive across processes. The in-memory engine
// map stays the primary store; archive writes happen only on explicit
// Save calls.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens (creating if needed) an archive database.
func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("verify snapshot archive: %w", err)
	}
	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) migrate() error {
	_, err := a.db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			key         TEXT PRIMARY KEY,
			is_baseline INTEGER NOT NULL DEFAULT 0,
			captured_at INTEGER NOT NULL,
			payload     TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_captured_at ON snapshots(captured_at);
	`)
	if err != nil {
		return fmt.Errorf("migrate snapshot archive: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (a *Archive) Close() error { return a.db.Close() }

// Save writes the engine's current snapshots and baselines, replacing
// any archived entry with the same key.
func (a *Archive) Save(e *Engine) error {
	e.mu.RLock()
	snapshots := sortedPairs(e.snapshots)
	baselines := sortedPairs(e.baselines)
	e.mu.RUnlock()

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("begin archive save: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO snapshots (key, is_baseline, captured_at, payload) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare archive insert: %w", err)
	}
	defer stmt.Close()

	write := func(pairs []exportPair, baseline int) error {
		for _, p := range pairs {
			payload, err := json.Marshal(p.Snapshot)
			if err != nil {
				return fmt.Errorf("encode snapshot %q: %w", p.Key, err)
			}
			if _, err := stmt.Exec(p.Key, baseline, p.Snapshot.Timestamp.UnixMilli(), string(payload)); err != nil {
				return fmt.Errorf("archive snapshot %q: %w", p.Key, err)
			}
		}
		return nil
	}
	if err := write(snapshots, 0); err != nil {
		return err
	}
	if err := write(baselines, 1); err != nil {
		return err
	}
	return tx.Commit()
}

// Load reads every archived entry into the engine, overwriting
// in-memory entries with the same key.
func (a *Archive) Load(e *Engine) error {
	rows, err := a.db.Query(`SELECT key, is_baseline, payload FROM snapshots ORDER BY captured_at`)
	if err != nil {
		return fmt.Errorf("read snapshot archive: %w", err)
	}
	defer rows.Close()

	e.mu.Lock()
	defer e.mu.Unlock()
	for rows.Next() {
		var key, payload string
		var isBaseline int
		if err := rows.Scan(&key, &isBaseline, &payload); err != nil {
			return fmt.Errorf("scan archive row: %w", err)
		}
		snap := &leak.MemorySnapshot{}
		if err := json.Unmarshal([]byte(payload), snap); err != nil {
			return fmt.Errorf("decode archived snapshot %q: %w", key, err)
		}
		if isBaseline == 1 {
			e.baselines[key] = snap
		} else {
			e.snapshots[key] = snap
		}
	}
	return rows.Err()
}

// Prune drops archived snapshots older than maxAge. Baselines are kept
// regardless of age.
func (a *Archive) Prune(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	res, err := a.db.Exec(`DELETE FROM snapshots WHERE is_baseline = 0 AND captured_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune snapshot archive: %w", err)
	}
	return res.RowsAffected()
}
