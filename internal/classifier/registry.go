package classifier

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ticket-classifier/backend/internal/metrics"
)

// Registry serves the current model. Publishing swaps a pointer, so readers
// see either the old or the new snapshot and never a model mid-update.
type Registry struct {
	current atomic.Pointer[Snapshot]
	store   ArtifactStore
	logger  *zap.Logger
}

func NewRegistry(store ArtifactStore, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: store, logger: logger}
}

// Load reads the stored artifact. A missing artifact leaves the registry
// empty and is not an error.
func (r *Registry) Load(ctx context.Context) error {
	data, err := r.store.Load(ctx)
	if errors.Is(err, ErrArtifactNotFound) {
		r.logger.Info("No model artifact found, classifier starts untrained")
		return nil
	}
	if err != nil {
		return err
	}

	snapshot, err := Decode(data)
	if err != nil {
		return fmt.Errorf("failed to decode artifact: %w", err)
	}
	r.Publish(snapshot)
	return nil
}

func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

func (r *Registry) Publish(s *Snapshot) {
	r.current.Store(s)
	metrics.ModelVersion.Set(float64(s.Version))
	r.logger.Info("Model published",
		zap.Int64("model_version", s.Version),
		zap.String("kind", s.Model.Kind()),
		zap.Strings("classes", s.Model.Classes()),
	)
}

func (r *Registry) Store() ArtifactStore {
	return r.store
}
