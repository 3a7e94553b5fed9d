package models

import "time"

// Ticket is an inbound support ticket. Only ticket_id, description and
// product are required.
type Ticket struct {
	TicketID    int64  `json:"ticket_id"`
	Description string `json:"description"`
	Product     string `json:"product"`
	CreatedDate string `json:"created_date,omitempty"`
}

// Text is the ticket as the embedding model and external labelers see it.
func (t Ticket) Text() string {
	return t.Description + " in " + t.Product
}

type TaggingMode string

const (
	ModeModel         TaggingMode = "model"
	ModeManualEdit    TaggingMode = "manual_edit"
	ModeExternalLabel TaggingMode = "external_label"
)

type ClassificationRecord struct {
	TicketID          int64       `json:"ticket_id"`
	Description       string      `json:"description"`
	Product           string      `json:"product"`
	CreatedDate       string      `json:"created_date,omitempty"`
	Category          string      `json:"category"`
	Confidence        float64     `json:"confidence_score"`
	Mode              TaggingMode `json:"mode_of_tagging"`
	Embedding         []float32   `json:"-"`
	EmbeddingDegraded bool        `json:"-"`
	JobID             string      `json:"job_id,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
	// Revision is assigned by the store on every write and grows in commit
	// order across all records.
	Revision int64 `json:"-"`
}

// Corrected reports whether the record was changed after it was first written.
func (r ClassificationRecord) Corrected() bool {
	return !r.CreatedAt.Equal(r.UpdatedAt)
}

type JobStatus string

const (
	JobInProgress JobStatus = "IN_PROGRESS"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

type Job struct {
	JobID     string    `json:"job_id"`
	RequestID string    `json:"request_id"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TrainingLogEntry struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	NumExamples  int       `json:"num_examples"`
	Accuracy     float64   `json:"accuracy"`
	ModelVersion int64     `json:"model_version"`
	// Revision is the highest record revision the pass consumed. The next
	// pass trains on records written after it.
	Revision int64 `json:"revision"`
}
