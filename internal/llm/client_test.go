package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOpenAI struct {
	replies   []string
	errs      []error
	calls     int
	lastReq   openai.ChatCompletionRequest
	embedding []float32
}

func (f *fakeOpenAI) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	i := f.calls
	f.calls++
	f.lastReq = req
	if i < len(f.errs) && f.errs[i] != nil {
		return openai.ChatCompletionResponse{}, f.errs[i]
	}
	reply := f.replies[len(f.replies)-1]
	if i < len(f.replies) {
		reply = f.replies[i]
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: reply}}},
		Usage:   openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (f *fakeOpenAI) CreateEmbeddings(context.Context, openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	return openai.EmbeddingResponse{Data: []openai.Embedding{{Embedding: f.embedding}}}, nil
}

func TestParseTicketLabel(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		category   string
		confidence float64
		malformed  bool
	}{
		{name: "plain", content: `{"category": "FVU Generation", "confidence_score": 0.8}`, category: "FVU Generation", confidence: 0.8},
		{name: "fenced", content: "```json\n{\"category\": \"Billing\", \"confidence_score\": 0.6}\n```", category: "Billing", confidence: 0.6},
		{name: "surrounding prose", content: `Sure! {"category": "TDS", "confidence_score": 0.7} Hope this helps.`, category: "TDS", confidence: 0.7},
		{name: "missing category", content: `{"confidence_score": 0.4}`, category: FallbackCategory, confidence: 0.4},
		{name: "confidence clamped high", content: `{"category": "A", "confidence_score": 7}`, category: "A", confidence: 1},
		{name: "confidence clamped low", content: `{"category": "A", "confidence_score": -1}`, category: "A", confidence: 0},
		{name: "no json", content: `I think it is billing`, malformed: true},
		{name: "broken json", content: `{"category": }`, malformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, err := ParseTicketLabel(tt.content)
			if tt.malformed {
				assert.True(t, errors.Is(err, ErrMalformedResponse))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.category, label.Category)
			assert.Equal(t, tt.confidence, label.Confidence)
		})
	}
}

func TestLabelTicket(t *testing.T) {
	fake := &fakeOpenAI{replies: []string{`{"category": "FVU Generation", "confidence_score": 0.9}`}}
	client := newClient(fake, Options{Model: "gpt-test"})

	label, err := client.LabelTicket(context.Background(), "error in fvu in FVU", "features: []")
	require.NoError(t, err)
	assert.Equal(t, "FVU Generation", label.Category)

	require.NotNil(t, fake.lastReq.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, fake.lastReq.ResponseFormat.Type)
	assert.Contains(t, fake.lastReq.Messages[1].Content, "error in fvu in FVU")
}

func TestComplete_DoesNotRetryClientErrors(t *testing.T) {
	fake := &fakeOpenAI{
		replies: []string{"unused"},
		errs:    []error{&openai.APIError{HTTPStatusCode: http.StatusBadRequest, Message: "bad"}},
	}
	client := newClient(fake, Options{Model: "gpt-test"})

	_, err := client.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
	assert.Error(t, err)
	assert.Equal(t, 1, fake.calls)
}

func TestEmbedText(t *testing.T) {
	fake := &fakeOpenAI{embedding: []float32{0.1, 0.2}}
	client := newClient(fake, Options{EmbeddingModel: "text-embedding-3-small"})

	vec, err := client.EmbedText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)
}
