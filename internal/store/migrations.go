package store

import "fmt"

// migrations are applied in order; the schema version is the number applied.
var migrations = [][]string{
	{
		// Keyboard bounds and rectified size computed from a reference frame
		`CREATE TABLE IF NOT EXISTS calibrations (
			id TEXT PRIMARY KEY,
			video TEXT NOT NULL,
			frame_width INTEGER NOT NULL,
			frame_height INTEGER NOT NULL,
			bounds TEXT NOT NULL,
			keyboard_width INTEGER NOT NULL,
			keyboard_height INTEGER NOT NULL,
			first_note TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		// Key rectangles in rectified keyboard space
		`CREATE TABLE IF NOT EXISTS calibration_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			calibration_id TEXT NOT NULL REFERENCES calibrations(id) ON DELETE CASCADE,
			color TEXT NOT NULL CHECK(color IN ('black', 'white')),
			key_index INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_calibrations_video ON calibrations(video)`,
		`CREATE INDEX IF NOT EXISTS idx_calibration_keys_calibration_id ON calibration_keys(calibration_id)`,
	},
	{
		// One row per pipeline run over a video or camera
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			calibration_id TEXT NOT NULL REFERENCES calibrations(id) ON DELETE CASCADE,
			source TEXT NOT NULL,
			frames INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			finished_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_calibration_id ON runs(calibration_id)`,
	},
	{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	},
}

// runMigrations applies every migration newer than the recorded schema version.
func (s *Store) runMigrations() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return err
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return err
	}

	for i := current; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		for _, stmt := range migrations[i] {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d: %w", i+1, err)
			}
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", i+1); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}
