package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"croncat/internal/domain"
)

// Cell keys of the state table.
const (
	cellConfig       = "config"
	cellActiveQueue  = "active_queue"
	cellPendingQueue = "pending_queue"
	cellNomination   = "nomination_begin_time"
	cellLedger       = "ledger"
)

// SQLiteStore implements domain.StateStore and domain.TaskIndex using SQLite.
// Every commit is one transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	// One writer; the contract serializes calls anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cells (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS agents (
			account_id TEXT PRIMARY KEY,
			data       TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS tasks (
			hash       TEXT PRIMARY KEY,
			owner      TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context) (*domain.State, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM cells")
	if err != nil {
		return nil, fmt.Errorf("load cells: %w", err)
	}
	cells := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan cell: %w", err)
		}
		cells[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load cells: %w", err)
	}
	if _, ok := cells[cellConfig]; !ok {
		return nil, domain.ErrGenesisMissing
	}

	st := &domain.State{Agents: make(map[string]domain.Agent)}
	var nomination *int64
	for key, dst := range map[string]any{
		cellConfig:       &st.Config,
		cellActiveQueue:  &st.Registry.Active,
		cellPendingQueue: &st.Registry.Pending,
		cellNomination:   &nomination,
		cellLedger:       &st.Ledger,
	} {
		raw, ok := cells[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return nil, fmt.Errorf("decode cell %s: %w", key, err)
		}
	}
	if nomination != nil {
		t := time.Unix(*nomination, 0).UTC()
		st.Registry.NominationBeginTime = &t
	}

	agentRows, err := s.db.QueryContext(ctx, "SELECT data FROM agents")
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	defer agentRows.Close()
	for agentRows.Next() {
		var data string
		if err := agentRows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		var a domain.Agent
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, fmt.Errorf("decode agent: %w", err)
		}
		st.Agents[a.AccountID] = a
	}
	return st, agentRows.Err()
}

func (s *SQLiteStore) Commit(ctx context.Context, st *domain.State, tasks ...domain.TaskChange) (err error) {
	var nomination *int64
	if st.Registry.NominationBeginTime != nil {
		sec := st.Registry.NominationBeginTime.Unix()
		nomination = &sec
	}
	cells := []struct {
		key   string
		value any
	}{
		{cellConfig, st.Config},
		{cellActiveQueue, nonNil(st.Registry.Active)},
		{cellPendingQueue, nonNil(st.Registry.Pending)},
		{cellNomination, nomination},
		{cellLedger, st.Ledger},
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", domain.ErrStore, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, c := range cells {
		data, mErr := json.Marshal(c.value)
		if mErr != nil {
			return fmt.Errorf("%w: encode cell %s: %w", domain.ErrStore, c.key, mErr)
		}
		if _, err = tx.ExecContext(ctx,
			"INSERT INTO cells (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
			c.key, string(data),
		); err != nil {
			return fmt.Errorf("%w: write cell %s: %w", domain.ErrStore, c.key, err)
		}
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM agents"); err != nil {
		return fmt.Errorf("%w: clear agents: %w", domain.ErrStore, err)
	}
	for id, a := range st.Agents {
		data, mErr := json.Marshal(a)
		if mErr != nil {
			return fmt.Errorf("%w: encode agent %s: %w", domain.ErrStore, id, mErr)
		}
		if _, err = tx.ExecContext(ctx, "INSERT INTO agents (account_id, data) VALUES (?, ?)", id, string(data)); err != nil {
			return fmt.Errorf("%w: write agent %s: %w", domain.ErrStore, id, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, tc := range tasks {
		if tc.Remove {
			_, err = tx.ExecContext(ctx, "DELETE FROM tasks WHERE hash = ?", tc.Hash)
		} else {
			_, err = tx.ExecContext(ctx, "INSERT INTO tasks (hash, owner, created_at) VALUES (?, ?, ?)", tc.Hash, tc.Owner, now)
		}
		if err != nil {
			return fmt.Errorf("%w: task %s: %w", domain.ErrStore, tc.Hash, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", domain.ErrStore, err)
	}
	return nil
}

func (s *SQLiteStore) Total(ctx context.Context) (uint64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&n); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return uint64(n), nil
}

func (s *SQLiteStore) HasTask(ctx context.Context, hash string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM tasks WHERE hash = ?", hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup task: %w", err)
	}
	return true, nil
}

// Tasks lists task hashes in insertion order.
func (s *SQLiteStore) Tasks(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT hash FROM tasks ORDER BY created_at, hash")
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
