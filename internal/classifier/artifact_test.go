package classifier

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trainedSnapshot(t *testing.T, kind string) *Snapshot {
	t.Helper()
	m, err := New(kind, 4, SoftmaxOptions{Epochs: 20})
	require.NoError(t, err)
	x, y := separable()
	require.NoError(t, m.PartialFit(x, y))
	return &Snapshot{Model: m, Version: 3, TrainedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestArtifact_RoundTripPreservesPredictions(t *testing.T) {
	for _, kind := range []string{KindSoftmax, KindCentroid} {
		t.Run(kind, func(t *testing.T) {
			original := trainedSnapshot(t, kind)

			data, err := Encode(original)
			require.NoError(t, err)

			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, int64(3), decoded.Version)
			assert.True(t, decoded.TrainedAt.Equal(original.TrainedAt))
			assert.Equal(t, original.Model.Classes(), decoded.Model.Classes())

			sample := []float32{0.2, 0.1, 0.8, 0}
			want, err := original.Model.Predict(sample)
			require.NoError(t, err)
			got, err := decoded.Model.Predict(sample)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestArtifact_RejectsUnknownVersions(t *testing.T) {
	_, err := Decode([]byte(`{"format_version": 2, "kind": "softmax"}`))
	assert.True(t, errors.Is(err, ErrUnsupportedArtifact))

	_, err = Decode([]byte(`not json`))
	assert.True(t, errors.Is(err, ErrUnsupportedArtifact))

	_, err = Decode([]byte(`{"format_version": 1, "kind": "forest", "dim": 4, "classes": ["a"]}`))
	assert.True(t, errors.Is(err, ErrUnsupportedArtifact))
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "models", "model.json"))

	_, err := store.Load(ctx)
	assert.True(t, errors.Is(err, ErrArtifactNotFound))

	require.NoError(t, store.Save(ctx, []byte("v1")))
	require.NoError(t, store.Save(ctx, []byte("v2")))
	data, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)

	require.NoError(t, store.Delete(ctx))
	require.NoError(t, store.Delete(ctx))
	_, err = store.Load(ctx)
	assert.True(t, errors.Is(err, ErrArtifactNotFound))
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}}
	store := NewS3Store(fake, "models", "classifier.json")

	_, err := store.Load(ctx)
	assert.True(t, errors.Is(err, ErrArtifactNotFound))

	require.NoError(t, store.Save(ctx, []byte(`{"format_version":1}`)))
	assert.Contains(t, fake.objects, "models/classifier.json")

	data, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"format_version":1}`), data)

	require.NoError(t, store.Delete(ctx))
	assert.Empty(t, fake.objects)
}

func TestRegistry_Load(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "model.json"))

	registry := NewRegistry(store, nil)
	require.NoError(t, registry.Load(ctx))
	assert.Nil(t, registry.Current())

	data, err := Encode(trainedSnapshot(t, KindSoftmax))
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, data))

	require.NoError(t, registry.Load(ctx))
	require.NotNil(t, registry.Current())
	assert.Equal(t, int64(3), registry.Current().Version)
}
