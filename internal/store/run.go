package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Run records one pass of the pipeline over a frame source.
type Run struct {
	ID            string     `json:"id"`
	CalibrationID string     `json:"calibration_id"`
	Source        string     `json:"source"`
	Frames        int        `json:"frames"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// RunRepository provides operations for pipeline runs.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

// Start inserts a new run. An empty ID is filled with a new UUID.
func (r *RunRepository) Start(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	run.StartedAt = time.Now()

	_, err := r.db.Exec(
		`INSERT INTO runs (id, calibration_id, source, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.CalibrationID, run.Source, run.StartedAt,
	)
	return err
}

// Finish records the frame count and outcome of a run.
func (r *RunRepository) Finish(id string, frames int, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}

	result, err := r.db.Exec(
		`UPDATE runs SET frames = ?, error = ?, finished_at = ? WHERE id = ?`,
		frames, msg, time.Now(), id,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// ListByCalibration retrieves the runs of a calibration, newest first.
func (r *RunRepository) ListByCalibration(calibrationID string) ([]*Run, error) {
	rows, err := r.db.Query(
		`SELECT id, calibration_id, source, frames, error, started_at, finished_at
		 FROM runs WHERE calibration_id = ? ORDER BY started_at DESC, rowid DESC`,
		calibrationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.CalibrationID, &run.Source, &run.Frames, &run.Error, &run.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			run.FinishedAt = &finished.Time
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}
