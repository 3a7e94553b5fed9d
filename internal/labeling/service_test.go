package labeling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticket-classifier/backend/internal/apperrors"
	"github.com/ticket-classifier/backend/internal/embedding"
	"github.com/ticket-classifier/backend/internal/embedding/mock"
	"github.com/ticket-classifier/backend/internal/llm"
	"github.com/ticket-classifier/backend/internal/storage/models"
)

const testTaxonomy = `
features:
  - name: FVU Generation
    description: File validation utility output
    potential_issues:
      - FVU file not generated
      - validation errors in FVU
  - name: Billing
    potential_issues:
      - invoice mismatch
`

type fakeLabeler struct {
	mu        sync.Mutex
	calls     map[string]int
	malformed map[string]int
	fail      map[string]error
	taxonomy  string
}

func newFakeLabeler() *fakeLabeler {
	return &fakeLabeler{
		calls:     map[string]int{},
		malformed: map[string]int{},
		fail:      map[string]error{},
	}
}

func (f *fakeLabeler) LabelTicket(_ context.Context, text, taxonomy string) (*llm.TicketLabel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[text]++
	f.taxonomy = taxonomy
	if err, ok := f.fail[text]; ok {
		return nil, err
	}
	if f.calls[text] <= f.malformed[text] {
		return nil, fmt.Errorf("%w: try again", llm.ErrMalformedResponse)
	}
	if strings.Contains(text, "fvu") {
		return &llm.TicketLabel{Category: "FVU Generation", Confidence: 0.9}, nil
	}
	return &llm.TicketLabel{Category: "Billing", Confidence: 0.7}, nil
}

type fixedClusterer struct {
	groups [][]models.Ticket
	err    error
}

func (c fixedClusterer) Cluster(context.Context, []models.Ticket, int) ([][]models.Ticket, error) {
	return c.groups, c.err
}

type memStore struct {
	mu      sync.Mutex
	records map[int64]models.ClassificationRecord
}

func (s *memStore) UpsertRecord(_ context.Context, r *models.ClassificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = map[int64]models.ClassificationRecord{}
	}
	s.records[r.TicketID] = *r
	return nil
}

func newTestService(t *testing.T, labeler Labeler, clusterer Clusterer, store RecordStore) *Service {
	t.Helper()
	cache, err := embedding.NewCache(mock.NewEmbedder(16), mock.NewStore(), 64, 16, nil)
	require.NoError(t, err)
	taxonomy, err := ParseTaxonomy([]byte(testTaxonomy))
	require.NoError(t, err)

	s := NewService(labeler, clusterer, cache, store, taxonomy, Config{RetryDelay: time.Millisecond}, nil)
	s.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	return s
}

var (
	fvu1    = models.Ticket{TicketID: 1, Description: "fvu not generated", Product: "TDS"}
	fvu2    = models.Ticket{TicketID: 2, Description: "fvu validation error", Product: "TDS"}
	billing = models.Ticket{TicketID: 3, Description: "invoice mismatch", Product: "GST"}
)

func TestLabel_BroadcastsRepresentativeLabel(t *testing.T) {
	labeler := newFakeLabeler()
	store := &memStore{}
	svc := newTestService(t, labeler, fixedClusterer{groups: [][]models.Ticket{{fvu1, fvu2}, {billing}}}, store)

	out, err := svc.Label(context.Background(), []models.Ticket{fvu1, fvu2, billing})
	require.NoError(t, err)
	require.Len(t, out.Labeled, 3)
	assert.Empty(t, out.Failed)

	// One call per cluster, made with the first member.
	assert.Equal(t, 1, labeler.calls[fvu1.Text()])
	assert.Zero(t, labeler.calls[fvu2.Text()])
	assert.Contains(t, labeler.taxonomy, "FVU Generation")
	assert.Contains(t, labeler.taxonomy, "invoice mismatch")

	for _, id := range []int64{1, 2} {
		rec := store.records[id]
		assert.Equal(t, "FVU Generation", rec.Category)
		assert.Equal(t, models.ModeExternalLabel, rec.Mode)
		assert.Len(t, rec.Embedding, 16)
		assert.False(t, rec.Corrected())
	}
	assert.Equal(t, "Billing", store.records[3].Category)
}

func TestLabel_SingleTicketSkipsClustering(t *testing.T) {
	labeler := newFakeLabeler()
	store := &memStore{}
	svc := newTestService(t, labeler, fixedClusterer{err: errors.New("must not be called")}, store)

	out, err := svc.Label(context.Background(), []models.Ticket{billing})
	require.NoError(t, err)
	require.Len(t, out.Labeled, 1)
	assert.Equal(t, "Billing", out.Labeled[0].Category)
}

func TestLabel_RetriesMalformedResponses(t *testing.T) {
	labeler := newFakeLabeler()
	labeler.malformed[billing.Text()] = 2
	svc := newTestService(t, labeler, nil, &memStore{})

	out, err := svc.Label(context.Background(), []models.Ticket{billing})
	require.NoError(t, err)
	assert.Len(t, out.Labeled, 1)
	assert.Equal(t, 3, labeler.calls[billing.Text()])
}

func TestLabel_FailedClusterDoesNotAbortBatch(t *testing.T) {
	labeler := newFakeLabeler()
	labeler.fail[billing.Text()] = errors.New("provider down")
	store := &memStore{}
	svc := newTestService(t, labeler, fixedClusterer{groups: [][]models.Ticket{{fvu1, fvu2}, {billing}}}, store)

	out, err := svc.Label(context.Background(), []models.Ticket{fvu1, fvu2, billing})
	require.NoError(t, err)
	assert.Len(t, out.Labeled, 2)
	require.Len(t, out.Failed, 1)
	assert.Equal(t, []int64{3}, out.Failed[0].TicketIDs)
	assert.Equal(t, 1, labeler.calls[billing.Text()], "non-malformed errors are not retried here")
	assert.NotContains(t, store.records, int64(3))
}

func TestLabel_AllClustersFailed(t *testing.T) {
	labeler := newFakeLabeler()
	labeler.fail[billing.Text()] = errors.New("provider down")
	svc := newTestService(t, labeler, nil, &memStore{})

	out, err := svc.Label(context.Background(), []models.Ticket{billing})
	assert.True(t, errors.Is(err, apperrors.ErrExternalLabelingFailure))
	require.NotNil(t, out)
	assert.Len(t, out.Failed, 1)
}

func TestLabel_EmptyBatch(t *testing.T) {
	svc := newTestService(t, newFakeLabeler(), nil, &memStore{})
	_, err := svc.Label(context.Background(), nil)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidBatch))
}

func TestTaxonomy(t *testing.T) {
	_, err := ParseTaxonomy([]byte("features:\n  - description: nameless\n"))
	assert.Error(t, err)

	tax, err := ParseTaxonomy([]byte(testTaxonomy))
	require.NoError(t, err)
	assert.Equal(t, "- FVU Generation: File validation utility output\n"+
		"  * FVU file not generated\n"+
		"  * validation errors in FVU\n"+
		"- Billing\n"+
		"  * invoice mismatch", tax.Describe())
}
