package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewFromClient(rdb), mr
}

func TestEmbedding_Miss(t *testing.T) {
	client, _ := newTestClient(t)

	vec, found, err := client.GetEmbedding(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, vec)
}

func TestEmbedding_WriteOnce(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)

	require.NoError(t, client.SetEmbedding(ctx, "abc", []float32{1, 2, 3}))
	require.NoError(t, client.SetEmbedding(ctx, "abc", []float32{9, 9, 9}))

	vec, found, err := client.GetEmbedding(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []float32{1, 2, 3}, vec)

	assert.True(t, mr.Exists("embedding:abc"))
	assert.Zero(t, mr.TTL("embedding:abc"))
}
