package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id TEXT NOT NULL,
        model_name VARCHAR(50),
        data_path TEXT,
        target_col VARCHAR(100),
        accuracy REAL,
        data_points INTEGER,
        feature_count INTEGER,
        trained_at DATETIME,
        UNIQUE(run_id)
    );
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id TEXT NOT NULL,
        features TEXT NOT NULL,
        probability REAL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_run ON predictions(run_id);
    `

// Store persists training history and scored requests in SQLite
type Store struct {
	database *sql.DB
}

// Open opens (creating if needed) the SQLite database at path
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, err
	}
	return &Store{database: database}, nil
}

func (s *Store) Close() error {
	if s == nil || s.database == nil {
		return nil
	}
	return s.database.Close()
}

type TrainingLog struct {
	RunID        string    `json:"run_id"`
	ModelName    string    `json:"model_name"`
	DataPath     string    `json:"data_path"`
	TargetCol    string    `json:"target_col"`
	Accuracy     float64   `json:"accuracy"`
	DataPoints   int       `json:"data_points"`
	FeatureCount int       `json:"feature_count"`
	TrainedAt    time.Time `json:"trained_at"`
}

// SaveTrainingLog records one finished training run
func (s *Store) SaveTrainingLog(ctx context.Context, entry TrainingLog) error {
	if s == nil || s.database == nil {
		return errors.New("database not initialized")
	}
	if entry.RunID == "" {
		return errors.New("run id required")
	}
	_, err := s.database.ExecContext(ctx, `
        INSERT INTO training_log (
            run_id, model_name, data_path, target_col, accuracy, data_points, feature_count, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `,
		entry.RunID,
		entry.ModelName,
		entry.DataPath,
		entry.TargetCol,
		entry.Accuracy,
		entry.DataPoints,
		entry.FeatureCount,
		entry.TrainedAt.UTC(),
	)
	return err
}

// LoadTrainingLog returns the most recent runs first; limit <= 0 returns all
func (s *Store) LoadTrainingLog(ctx context.Context, limit int) ([]TrainingLog, error) {
	if s == nil || s.database == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.database.QueryContext(ctx, `
        SELECT run_id, model_name, data_path, target_col, accuracy, data_points, feature_count, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		if err := rows.Scan(&log.RunID, &log.ModelName, &log.DataPath, &log.TargetCol,
			&log.Accuracy, &log.DataPoints, &log.FeatureCount, &log.TrainedAt); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

type Prediction struct {
	RunID       string             `json:"run_id"`
	Features    map[string]float64 `json:"features"`
	Probability float64            `json:"probability"`
	CreatedAt   time.Time          `json:"created_at"`
}

// SavePrediction records one scored feature vector
func (s *Store) SavePrediction(ctx context.Context, prediction Prediction) error {
	if s == nil || s.database == nil {
		return errors.New("database not initialized")
	}
	payload, err := json.Marshal(prediction.Features)
	if err != nil {
		return err
	}
	createdAt := prediction.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.database.ExecContext(ctx, `
        INSERT INTO predictions (run_id, features, probability, created_at)
        VALUES (?, ?, ?, ?)
    `, prediction.RunID, string(payload), prediction.Probability, createdAt.UTC())
	return err
}

// LoadPredictions returns the predictions recorded for one model run, oldest first
func (s *Store) LoadPredictions(ctx context.Context, runID string) ([]Prediction, error) {
	if s == nil || s.database == nil {
		return nil, errors.New("database not initialized")
	}
	rows, err := s.database.QueryContext(ctx, `
        SELECT run_id, features, probability, created_at
        FROM predictions
        WHERE run_id = ?
        ORDER BY id ASC
    `, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	predictions := make([]Prediction, 0)
	for rows.Next() {
		var p Prediction
		var features string
		if err := rows.Scan(&p.RunID, &features, &p.Probability, &p.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(features), &p.Features); err != nil {
			return nil, err
		}
		predictions = append(predictions, p)
	}
	return predictions, rows.Err()
}
