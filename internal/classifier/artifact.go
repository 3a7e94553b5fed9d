package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// FormatVersion is the artifact layout written by Encode.
const FormatVersion = 1

var ErrUnsupportedArtifact = errors.New("unsupported model artifact")

type envelope struct {
	FormatVersion int             `json:"format_version"`
	Kind          string          `json:"kind"`
	ModelVersion  int64           `json:"model_version"`
	TrainedAt     time.Time       `json:"trained_at"`
	Dim           int             `json:"dim"`
	Classes       []string        `json:"classes"`
	Params        json.RawMessage `json:"params"`
}

// Encode serializes a snapshot into a self-describing JSON artifact.
func Encode(s *Snapshot) ([]byte, error) {
	var params interface{}
	switch m := s.Model.(type) {
	case *Softmax:
		params = m.params()
	case *Centroid:
		params = m.params()
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrUnsupportedArtifact, s.Model)
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal model params: %w", err)
	}

	return json.Marshal(envelope{
		FormatVersion: FormatVersion,
		Kind:          s.Model.Kind(),
		ModelVersion:  s.Version,
		TrainedAt:     s.TrainedAt.UTC(),
		Dim:           s.Model.Dim(),
		Classes:       s.Model.Classes(),
		Params:        raw,
	})
}

func Decode(data []byte) (*Snapshot, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedArtifact, err)
	}

	switch env.FormatVersion {
	case 1:
		return decodeV1(env)
	default:
		return nil, fmt.Errorf("%w: format version %d", ErrUnsupportedArtifact, env.FormatVersion)
	}
}

func decodeV1(env envelope) (*Snapshot, error) {
	if env.Dim <= 0 || len(env.Classes) == 0 {
		return nil, fmt.Errorf("%w: empty model", ErrUnsupportedArtifact)
	}

	var model Trainable
	switch env.Kind {
	case KindSoftmax:
		var p softmaxParams
		if err := json.Unmarshal(env.Params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedArtifact, err)
		}
		m, err := softmaxFromParams(env.Dim, env.Classes, p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedArtifact, err)
		}
		model = m
	case KindCentroid:
		var p centroidParams
		if err := json.Unmarshal(env.Params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedArtifact, err)
		}
		m, err := centroidFromParams(env.Dim, env.Classes, p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedArtifact, err)
		}
		model = m
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnsupportedArtifact, env.Kind)
	}

	return &Snapshot{Model: model, Version: env.ModelVersion, TrainedAt: env.TrainedAt}, nil
}
