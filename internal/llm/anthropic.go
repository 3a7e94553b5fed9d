package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/ticket-classifier/backend/internal/metrics"
	"github.com/ticket-classifier/backend/pkg/circuitbreaker"
	"github.com/ticket-classifier/backend/pkg/logger"
)

// AnthropicLabeler labels tickets with Claude models. Retrying is left to
// the caller; the SDK already retries transport failures.
type AnthropicLabeler struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
	cb        *circuitbreaker.CircuitBreaker
}

func NewAnthropicLabeler(apiKey, model string, maxTokens int, timeout time.Duration) *AnthropicLabeler {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	logger.Info("Anthropic labeler initialized", zap.String("model", model))

	return &AnthropicLabeler{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: int64(maxTokens),
		timeout:   timeout,
		cb: circuitbreaker.NewCircuitBreaker("anthropic", circuitbreaker.Config{
			MaxRequests:      5,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			Logger:           logger.GetLogger(),
		}),
	}
}

func (a *AnthropicLabeler) LabelTicket(ctx context.Context, ticketText, taxonomy string) (*TicketLabel, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var text string
	err := a.cb.Execute(ctx, func() error {
		message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(a.model),
			MaxTokens: a.maxTokens,
			System: []anthropic.TextBlockParam{
				{Text: labelSystemPrompt},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(labelUserPrompt(ticketText, taxonomy))),
			},
		})
		if err != nil {
			return fmt.Errorf("anthropic API error: %w", err)
		}

		metrics.LLMTokensUsed.WithLabelValues(a.model, "prompt").Add(float64(message.Usage.InputTokens))
		metrics.LLMTokensUsed.WithLabelValues(a.model, "completion").Add(float64(message.Usage.OutputTokens))

		for _, block := range message.Content {
			if block.Type == "text" {
				text = block.Text
				return nil
			}
		}
		return fmt.Errorf("%w: no text content in anthropic response", ErrMalformedResponse)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to label ticket: %w", err)
	}

	return ParseTicketLabel(text)
}
