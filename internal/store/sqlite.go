package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath. Use
// ":memory:" for an in-memory database in tests.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// SaveEmission inserts an emission and its per-task samples atomically.
func (s *SQLiteStore) SaveEmission(ctx context.Context, em *Emission) error {
	s.logger.Debug("sql", "op", "insert", "table", "emissions", "tasks", len(em.Tasks))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO emissions (received_at, delta_us, system_us, app_us, main_us, uptime_sec, free_mem, task_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		em.ReceivedAt.UTC().Format(time.RFC3339Nano),
		em.Delta, em.SystemTime, em.AppTime, em.MainTime,
		int64(em.Uptime), int64(em.FreeMem), em.TaskCount,
	)
	if err != nil {
		return fmt.Errorf("insert emission: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("emission id: %w", err)
	}
	em.ID = id

	for _, ts := range em.Tasks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_samples (emission_id, task_id, name, interval_us, call_count, cpu_us, late_us)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, ts.TaskID, ts.Name, ts.Interval, int64(ts.CallCount), ts.CPUTime, ts.LateTime,
		); err != nil {
			return fmt.Errorf("insert task sample %d: %w", ts.TaskID, err)
		}
	}

	return tx.Commit()
}

// ListEmissions returns the most recent emissions, newest first, with their
// task samples attached.
func (s *SQLiteStore) ListEmissions(ctx context.Context, limit int) ([]*Emission, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, received_at, delta_us, system_us, app_us, main_us, uptime_sec, free_mem, task_count
		FROM emissions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query emissions: %w", err)
	}
	defer rows.Close()

	var emissions []*Emission
	for rows.Next() {
		var em Emission
		var receivedAt string
		var uptime, freeMem int64
		if err := rows.Scan(&em.ID, &receivedAt, &em.Delta, &em.SystemTime, &em.AppTime,
			&em.MainTime, &uptime, &freeMem, &em.TaskCount); err != nil {
			return nil, fmt.Errorf("scan emission: %w", err)
		}
		em.Uptime = uint64(uptime)
		em.FreeMem = uint64(freeMem)
		if ts, err := time.Parse(time.RFC3339Nano, receivedAt); err == nil {
			em.ReceivedAt = ts
		}
		emissions = append(emissions, &em)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate emissions: %w", err)
	}

	for _, em := range emissions {
		if err := s.loadSamples(ctx, em); err != nil {
			return nil, err
		}
	}
	return emissions, nil
}

func (s *SQLiteStore) loadSamples(ctx context.Context, em *Emission) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, name, interval_us, call_count, cpu_us, late_us
		FROM task_samples WHERE emission_id = ? ORDER BY task_id`, em.ID)
	if err != nil {
		return fmt.Errorf("query task samples: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ts TaskSample
		var calls int64
		if err := rows.Scan(&ts.TaskID, &ts.Name, &ts.Interval, &calls, &ts.CPUTime, &ts.LateTime); err != nil {
			return fmt.Errorf("scan task sample: %w", err)
		}
		ts.CallCount = uint64(calls)
		em.Tasks = append(em.Tasks, ts)
	}
	return rows.Err()
}

// TaskTotals aggregates call counts and cpu/late time per task across the
// whole archive.
func (s *SQLiteStore) TaskTotals(ctx context.Context) ([]TaskTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, name, SUM(call_count), SUM(cpu_us), SUM(late_us)
		FROM task_samples GROUP BY task_id, name ORDER BY task_id`)
	if err != nil {
		return nil, fmt.Errorf("query task totals: %w", err)
	}
	defer rows.Close()

	var totals []TaskTotal
	for rows.Next() {
		var tt TaskTotal
		var calls int64
		if err := rows.Scan(&tt.TaskID, &tt.Name, &calls, &tt.CPUTime, &tt.LateTime); err != nil {
			return nil, fmt.Errorf("scan task total: %w", err)
		}
		tt.CallCount = uint64(calls)
		totals = append(totals, tt)
	}
	return totals, rows.Err()
}
