package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ticket-classifier/backend/internal/storage/models"
	"github.com/ticket-classifier/backend/pkg/logger"
)

// LatestTrainingLog returns the newest entry, or nil when no retrain has run.
func (c *Client) LatestTrainingLog(ctx context.Context) (*models.TrainingLogEntry, error) {
	query := `SELECT id, timestamp, num_examples, accuracy, model_version, revision FROM training_logs ORDER BY id DESC LIMIT 1`

	var entry models.TrainingLogEntry
	var ts int64
	err := c.db.QueryRowContext(ctx, query).Scan(&entry.ID, &ts, &entry.NumExamples, &entry.Accuracy, &entry.ModelVersion, &entry.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest training log: %w", err)
	}
	entry.Timestamp = fromUnix(ts)
	return &entry, nil
}

func (c *Client) ListTrainingLogs(ctx context.Context) ([]models.TrainingLogEntry, error) {
	query := `SELECT id, timestamp, num_examples, accuracy, model_version, revision FROM training_logs ORDER BY id`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list training logs: %w", err)
	}
	defer rows.Close()

	var entries []models.TrainingLogEntry
	for rows.Next() {
		var entry models.TrainingLogEntry
		var ts int64
		if err := rows.Scan(&entry.ID, &ts, &entry.NumExamples, &entry.Accuracy, &entry.ModelVersion, &entry.Revision); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		entry.Timestamp = fromUnix(ts)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// AppendTrainingLog records a finished pass. The artifact is already saved
// by the time this runs, so the insert is the only write.
func (c *Client) AppendTrainingLog(ctx context.Context, entry *models.TrainingLogEntry) error {
	query := `INSERT INTO training_logs (timestamp, num_examples, accuracy, model_version, revision) VALUES (?, ?, ?, ?, ?)`
	res, err := c.db.ExecContext(ctx, query, toUnix(entry.Timestamp), entry.NumExamples, entry.Accuracy, entry.ModelVersion, entry.Revision)
	if err != nil {
		return fmt.Errorf("failed to insert training log: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}

	logger.Info("Training log appended",
		zap.Int64("model_version", entry.ModelVersion),
		zap.Int("num_examples", entry.NumExamples),
		zap.Float64("accuracy", entry.Accuracy),
		zap.Int64("revision", entry.Revision),
	)
	return nil
}
