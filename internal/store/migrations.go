package store

import (
	"context"
	"database/sql"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS emissions (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		received_at TEXT    NOT NULL,
		delta_us    INTEGER NOT NULL,
		system_us   INTEGER NOT NULL,
		app_us      INTEGER NOT NULL,
		main_us     INTEGER NOT NULL,
		uptime_sec  INTEGER NOT NULL,
		free_mem    INTEGER NOT NULL,
		task_count  INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS task_samples (
		emission_id INTEGER NOT NULL REFERENCES emissions(id) ON DELETE CASCADE,
		task_id     INTEGER NOT NULL,
		name        TEXT    NOT NULL,
		interval_us INTEGER NOT NULL,
		call_count  INTEGER NOT NULL,
		cpu_us      INTEGER NOT NULL,
		late_us     INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_samples_emission ON task_samples(emission_id)`,
	`CREATE INDEX IF NOT EXISTS idx_emissions_received ON emissions(received_at)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
