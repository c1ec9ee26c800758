// Package store persists the detection history to SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store handles SQLite database operations.
type Store struct {
	db *sql.DB
}

// DetectionRecord is one qualifying detection in the history.
type DetectionRecord struct {
	ID              string    `json:"id"`
	EntityID        string    `json:"entity_id"`
	Timestamp       time.Time `json:"timestamp"`
	Confidence      float64   `json:"confidence"`
	DetectionCount  int       `json:"detection_count"`
	Classes         []string  `json:"classes_detected"`
	AnalysisSummary string    `json:"analysis_summary,omitempty"`
	ImagePath       string    `json:"image_path,omitempty"`
	InferenceTimeMs float64   `json:"inference_time_ms"`
}

// Open opens (or creates) the database and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS detections (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		confidence REAL NOT NULL,
		detection_count INTEGER NOT NULL,
		classes TEXT NOT NULL,
		analysis_summary TEXT,
		image_path TEXT,
		inference_time_ms REAL NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_detections_entity_time
		ON detections(entity_id, timestamp DESC);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Insert records a qualifying detection. Assigns an id when none is set.
func (s *Store) Insert(rec DetectionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	classes, err := json.Marshal(rec.Classes)
	if err != nil {
		return fmt.Errorf("failed to marshal classes: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO detections
			(id, entity_id, timestamp, confidence, detection_count, classes,
			 analysis_summary, image_path, inference_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.EntityID, rec.Timestamp.UTC(), rec.Confidence,
		rec.DetectionCount, string(classes), rec.AnalysisSummary,
		rec.ImagePath, rec.InferenceTimeMs)
	if err != nil {
		return fmt.Errorf("failed to insert detection: %w", err)
	}
	return nil
}

// Recent returns the newest detections, optionally filtered by entity.
// limit <= 0 defaults to 50.
func (s *Store) Recent(entityID string, limit int) ([]DetectionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, entity_id, timestamp, confidence, detection_count, classes,
		       analysis_summary, image_path, inference_time_ms
		FROM detections`
	args := []any{}
	if entityID != "" {
		query += " WHERE entity_id = ?"
		args = append(args, entityID)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var records []DetectionRecord
	for rows.Next() {
		var rec DetectionRecord
		var classes string
		var summary, imagePath sql.NullString
		if err := rows.Scan(&rec.ID, &rec.EntityID, &rec.Timestamp, &rec.Confidence,
			&rec.DetectionCount, &classes, &summary, &imagePath, &rec.InferenceTimeMs); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		if err := json.Unmarshal([]byte(classes), &rec.Classes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal classes: %w", err)
		}
		rec.AnalysisSummary = summary.String
		rec.ImagePath = imagePath.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
