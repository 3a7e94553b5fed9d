package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ticket-classifier/backend/internal/apperrors"
	"github.com/ticket-classifier/backend/internal/storage/models"
	"github.com/ticket-classifier/backend/pkg/logger"
)

const recordColumns = `ticket_id, description, product, created_date, category, confidence,
	mode_of_tagging, embedding, embedding_degraded, job_id, created_at, updated_at, revision`

// nextRevision is evaluated inside the writing statement. Writes are
// serialized, so revisions follow commit order.
const nextRevision = `(SELECT COALESCE(MAX(revision), 0) + 1 FROM classification_records)`

// UpsertRecord writes one record per ticket id. A re-classification replaces
// the row wholesale, timestamps included. record.Revision is set to the
// revision the write was given.
func (c *Client) UpsertRecord(ctx context.Context, record *models.ClassificationRecord) error {
	embeddingJSON, err := json.Marshal(record.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	query := `
		INSERT INTO classification_records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ` + nextRevision + `)
		ON CONFLICT(ticket_id) DO UPDATE SET
			description = excluded.description,
			product = excluded.product,
			created_date = excluded.created_date,
			category = excluded.category,
			confidence = excluded.confidence,
			mode_of_tagging = excluded.mode_of_tagging,
			embedding = excluded.embedding,
			embedding_degraded = excluded.embedding_degraded,
			job_id = excluded.job_id,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			revision = excluded.revision
		RETURNING revision
	`

	degraded := 0
	if record.EmbeddingDegraded {
		degraded = 1
	}

	err = c.db.QueryRowContext(
		ctx,
		query,
		record.TicketID,
		record.Description,
		record.Product,
		record.CreatedDate,
		record.Category,
		record.Confidence,
		string(record.Mode),
		string(embeddingJSON),
		degraded,
		record.JobID,
		toUnix(record.CreatedAt),
		toUnix(record.UpdatedAt),
	).Scan(&record.Revision)
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}

	logger.Debug("Classification record stored",
		zap.Int64("ticket_id", record.TicketID),
		zap.String("category", record.Category),
		zap.String("mode", string(record.Mode)),
	)
	return nil
}

func (c *Client) GetRecord(ctx context.Context, ticketID int64) (*models.ClassificationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM classification_records WHERE ticket_id = ?`

	record, err := scanRecord(c.db.QueryRowContext(ctx, query, ticketID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket %d: %w", ticketID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return record, nil
}

// CorrectCategory applies a manual edit. updated_at is forced strictly past
// created_at so the row is always picked up as a correction.
func (c *Client) CorrectCategory(ctx context.Context, ticketID int64, category string, at time.Time) (*models.ClassificationRecord, error) {
	query := `
		UPDATE classification_records SET
			category = ?,
			confidence = 1.0,
			mode_of_tagging = ?,
			updated_at = MAX(?, created_at + 1),
			revision = ` + nextRevision + `
		WHERE ticket_id = ?
	`

	res, err := c.db.ExecContext(ctx, query, category, string(models.ModeManualEdit), toUnix(at), ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to correct record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to correct record: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("ticket %d: %w", ticketID, apperrors.ErrNotFound)
	}

	logger.Info("Ticket category corrected",
		zap.Int64("ticket_id", ticketID),
		zap.String("category", category),
	)

	return c.GetRecord(ctx, ticketID)
}

func (c *Client) RecordsByJob(ctx context.Context, jobID string) ([]models.ClassificationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM classification_records WHERE job_id = ? ORDER BY ticket_id`
	return c.queryRecords(ctx, query, jobID)
}

// LabeledExamples returns every record with a usable embedding. These are
// the candidates for the similarity shortlist.
func (c *Client) LabeledExamples(ctx context.Context) ([]models.ClassificationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM classification_records
		WHERE embedding_degraded = 0 AND embedding IS NOT NULL
		ORDER BY ticket_id`
	return c.queryRecords(ctx, query)
}

// TrainingDelta returns externally labeled records written after revision
// since, plus any other record corrected after it. Zero means no watermark.
// Degraded rows are included; the trainer decides what to do with them.
func (c *Client) TrainingDelta(ctx context.Context, since int64) ([]models.ClassificationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM classification_records
		WHERE revision > ?
		AND (mode_of_tagging = ? OR created_at != updated_at)
		ORDER BY ticket_id`
	return c.queryRecords(ctx, query, since, string(models.ModeExternalLabel))
}

func (c *Client) queryRecords(ctx context.Context, query string, args ...interface{}) ([]models.ClassificationRecord, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []models.ClassificationRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}

	return records, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*models.ClassificationRecord, error) {
	var r models.ClassificationRecord
	var createdDate, embedding, jobID sql.NullString
	var mode string
	var degraded int
	var createdAt, updatedAt int64

	err := s.Scan(
		&r.TicketID,
		&r.Description,
		&r.Product,
		&createdDate,
		&r.Category,
		&r.Confidence,
		&mode,
		&embedding,
		&degraded,
		&jobID,
		&createdAt,
		&updatedAt,
		&r.Revision,
	)
	if err != nil {
		return nil, err
	}

	r.CreatedDate = createdDate.String
	r.Mode = models.TaggingMode(mode)
	r.EmbeddingDegraded = degraded == 1
	r.JobID = jobID.String
	r.CreatedAt = fromUnix(createdAt)
	r.UpdatedAt = fromUnix(updatedAt)

	if embedding.Valid && embedding.String != "" && embedding.String != "null" {
		if err := json.Unmarshal([]byte(embedding.String), &r.Embedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
		}
	}

	return &r, nil
}
