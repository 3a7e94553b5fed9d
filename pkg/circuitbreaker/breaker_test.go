package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{FailureThreshold: 2, Timeout: time.Minute})
	boom := errors.New("boom")
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, func() error { return boom }), boom)
	assert.ErrorIs(t, cb.Execute(ctx, func() error { return boom }), boom)
	assert.Equal(t, "open", cb.State())

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_IgnoresSuccessfulErrors(t *testing.T) {
	benign := errors.New("bad input")
	cb := NewCircuitBreaker("test", Config{
		FailureThreshold: 1,
		IsSuccessful:     func(err error) bool { return errors.Is(err, benign) },
	})

	assert.ErrorIs(t, cb.Execute(context.Background(), func() error { return benign }), benign)
	assert.Equal(t, "closed", cb.State())
}
