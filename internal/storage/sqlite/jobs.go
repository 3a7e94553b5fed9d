package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ticket-classifier/backend/internal/apperrors"
	"github.com/ticket-classifier/backend/internal/storage/models"
)

func (c *Client) InsertJob(ctx context.Context, job *models.Job) error {
	query := `INSERT INTO jobs (job_id, request_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.RequestID,
		string(job.Status),
		toUnix(job.CreatedAt),
		toUnix(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (c *Client) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	query := `SELECT job_id, request_id, status, created_at, updated_at FROM jobs WHERE job_id = ?`

	var job models.Job
	var requestID sql.NullString
	var status string
	var createdAt, updatedAt int64

	err := c.db.QueryRowContext(ctx, query, jobID).Scan(
		&job.JobID,
		&requestID,
		&status,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.RequestID = requestID.String
	job.Status = models.JobStatus(status)
	job.CreatedAt = fromUnix(createdAt)
	job.UpdatedAt = fromUnix(updatedAt)

	return &job, nil
}

// TransitionJob moves an IN_PROGRESS job to a terminal status in a single
// conditional update. It reports false when the job was not IN_PROGRESS.
func (c *Client) TransitionJob(ctx context.Context, jobID string, status models.JobStatus, at time.Time) (bool, error) {
	query := `UPDATE jobs SET status = ?, updated_at = ? WHERE job_id = ? AND status = ?`

	res, err := c.db.ExecContext(ctx, query, string(status), toUnix(at), jobID, string(models.JobInProgress))
	if err != nil {
		return false, fmt.Errorf("failed to update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update job: %w", err)
	}
	return n == 1, nil
}
