package pipeline

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ticket-classifier/backend/internal/apperrors"
	"github.com/ticket-classifier/backend/internal/storage/models"
)

var batchSchema = gojsonschema.NewStringLoader(`{
  "type": "object",
  "required": ["tickets"],
  "properties": {
    "tickets": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["ticket_id", "description", "product"],
        "properties": {
          "ticket_id":    {"type": "integer"},
          "description":  {"type": "string", "pattern": "\\S"},
          "product":      {"type": "string", "pattern": "\\S"},
          "created_date": {"type": "string"}
        }
      }
    }
  }
}`)

// Batch is the upload format for classification and labeling requests.
type Batch struct {
	Tickets []models.Ticket `json:"tickets"`
}

// ParseBatch validates raw JSON against the batch schema and decodes it.
func ParseBatch(data []byte) ([]models.Ticket, error) {
	result, err := gojsonschema.Validate(batchSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidBatch, http.StatusBadRequest, "invalid JSON: %v", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, apperrors.New(apperrors.ErrInvalidBatch, http.StatusBadRequest, "uploaded file failed validation: "+strings.Join(msgs, "; "))
	}

	var batch Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidBatch, http.StatusBadRequest, "invalid JSON: %v", err)
	}
	if err := Validate(batch.Tickets); err != nil {
		return nil, err
	}
	return batch.Tickets, nil
}

// Validate applies the batch rules to already decoded tickets.
func Validate(tickets []models.Ticket) error {
	if len(tickets) == 0 {
		return apperrors.New(apperrors.ErrInvalidBatch, http.StatusBadRequest, "uploaded file is empty")
	}
	for _, t := range tickets {
		if strings.TrimSpace(t.Description) == "" || strings.TrimSpace(t.Product) == "" {
			return apperrors.Newf(apperrors.ErrInvalidBatch, http.StatusBadRequest,
				"ticket %d is missing description or product", t.TicketID)
		}
	}
	return nil
}
