package util

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBounded_ReturnsValue(t *testing.T) {
	v, err := RunBounded(context.Background(), time.Second, func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestRunBounded_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := RunBounded(context.Background(), time.Second, func(context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestRunBounded_TimesOutWhenCalleeIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := RunBounded(context.Background(), 30*time.Millisecond, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrStageTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunBounded_CalleeDeadlineMapsToTimeout(t *testing.T) {
	_, err := RunBounded(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, ErrStageTimeout)
}

func TestRunBounded_RecoversPanic(t *testing.T) {
	_, err := RunBounded(context.Background(), time.Second, func(context.Context) (int, error) {
		panic("agent exploded")
	})
	assert.ErrorIs(t, err, ErrStagePanic)
}
