package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedResponse means the model answered but not with the JSON we
// asked for. Asking again usually fixes it.
var ErrMalformedResponse = errors.New("malformed labeler response")

// FallbackCategory is used when the model does not name a category.
const FallbackCategory = "Others"

type TicketLabel struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence_score"`
}

const labelSystemPrompt = `You are a support ticket triage assistant. You assign each ticket to exactly one feature category from the product taxonomy you are given.

Respond with a single JSON object and nothing else:
{"category": "<feature name from the taxonomy, or Others>", "confidence_score": <number between 0 and 1>}`

func labelUserPrompt(ticketText, taxonomy string) string {
	return fmt.Sprintf(`Product taxonomy (features and their known issues):
%s

Ticket:
%s

Pick the feature this ticket is about. Use "Others" if none fits.`, taxonomy, ticketText)
}

// ParseTicketLabel reads the model's answer. Code fences and text around the
// JSON object are ignored. A missing category becomes FallbackCategory and
// the confidence is clamped to [0,1].
func ParseTicketLabel(content string) (*TicketLabel, error) {
	raw := extractJSONObject(content)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON object in %q", ErrMalformedResponse, truncate(content, 200))
	}

	var label TicketLabel
	if err := json.Unmarshal([]byte(raw), &label); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	label.Category = strings.TrimSpace(label.Category)
	if label.Category == "" {
		label.Category = FallbackCategory
	}
	switch {
	case label.Confidence < 0:
		label.Confidence = 0
	case label.Confidence > 1:
		label.Confidence = 1
	}
	return &label, nil
}

func extractJSONObject(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return ""
	}
	return content[start : end+1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
