package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayusman/pianovision/internal/geometry"
	"github.com/google/uuid"
)

// Calibration is a persisted keyboard calibration: the bounds found on a
// reference frame and the key layout of the rectified keyboard.
type Calibration struct {
	ID             string             `json:"id"`
	Video          string             `json:"video"`
	FrameWidth     int                `json:"frame_width"`
	FrameHeight    int                `json:"frame_height"`
	Bounds         geometry.Quad      `json:"bounds"`
	KeyboardWidth  int                `json:"keyboard_width"`
	KeyboardHeight int                `json:"keyboard_height"`
	FirstNote      string             `json:"first_note,omitempty"`
	Black          []geometry.KeyRect `json:"black_keys,omitempty"`
	White          []geometry.KeyRect `json:"white_keys,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// CalibrationRepository provides CRUD operations for calibrations.
type CalibrationRepository struct {
	db *sql.DB
}

// Calibrations returns the calibration repository for this store.
func (s *Store) Calibrations() *CalibrationRepository {
	return &CalibrationRepository{db: s.db}
}

// Create inserts a calibration and its keys in a single transaction.
// An empty ID is filled with a new UUID.
func (r *CalibrationRepository) Create(c *Calibration) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now()

	bounds, err := json.Marshal(c.Bounds)
	if err != nil {
		return fmt.Errorf("encode bounds: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO calibrations (id, video, frame_width, frame_height, bounds, keyboard_width, keyboard_height, first_note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Video, c.FrameWidth, c.FrameHeight, string(bounds), c.KeyboardWidth, c.KeyboardHeight, c.FirstNote, c.CreatedAt,
	)
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO calibration_keys (calibration_id, color, key_index, x, y, width, height)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, keys := range [][]geometry.KeyRect{c.Black, c.White} {
		for _, k := range keys {
			if _, err := stmt.Exec(c.ID, string(k.Color), k.Index, k.X, k.Y, k.Width, k.Height); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

const calibrationColumns = `id, video, frame_width, frame_height, bounds, keyboard_width, keyboard_height, first_note, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanCalibration(row scanner) (*Calibration, error) {
	c := &Calibration{}
	var bounds string

	err := row.Scan(&c.ID, &c.Video, &c.FrameWidth, &c.FrameHeight, &bounds,
		&c.KeyboardWidth, &c.KeyboardHeight, &c.FirstNote, &c.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(bounds), &c.Bounds); err != nil {
		return nil, fmt.Errorf("decode bounds of calibration %s: %w", c.ID, err)
	}
	return c, nil
}

// GetByID retrieves a calibration, including its keys, by ID.
func (r *CalibrationRepository) GetByID(id string) (*Calibration, error) {
	c, err := scanCalibration(r.db.QueryRow(
		`SELECT `+calibrationColumns+` FROM calibrations WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := r.loadKeys(c); err != nil {
		return nil, err
	}
	return c, nil
}

// LatestForVideo retrieves the most recent calibration, including its keys,
// recorded for the given video.
func (r *CalibrationRepository) LatestForVideo(video string) (*Calibration, error) {
	c, err := scanCalibration(r.db.QueryRow(
		`SELECT `+calibrationColumns+` FROM calibrations WHERE video = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, video,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := r.loadKeys(c); err != nil {
		return nil, err
	}
	return c, nil
}

// List retrieves all calibrations, newest first. Keys are not loaded.
func (r *CalibrationRepository) List() ([]*Calibration, error) {
	rows, err := r.db.Query(
		`SELECT ` + calibrationColumns + ` FROM calibrations ORDER BY created_at DESC, rowid DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calibrations []*Calibration
	for rows.Next() {
		c, err := scanCalibration(rows)
		if err != nil {
			return nil, err
		}
		calibrations = append(calibrations, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return calibrations, nil
}

// Delete removes a calibration, its keys and its runs.
func (r *CalibrationRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM calibrations WHERE id = ?`, id)
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

func (r *CalibrationRepository) loadKeys(c *Calibration) error {
	rows, err := r.db.Query(
		`SELECT color, key_index, x, y, width, height FROM calibration_keys
		 WHERE calibration_id = ? ORDER BY color, key_index`,
		c.ID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	c.Black, c.White = nil, nil
	for rows.Next() {
		var k geometry.KeyRect
		var color string
		if err := rows.Scan(&color, &k.Index, &k.X, &k.Y, &k.Width, &k.Height); err != nil {
			return err
		}
		k.Color = geometry.KeyColor(color)

		switch k.Color {
		case geometry.Black:
			c.Black = append(c.Black, k)
		case geometry.White:
			c.White = append(c.White, k)
		}
	}

	return rows.Err()
}
