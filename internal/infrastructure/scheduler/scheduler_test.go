package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskWithRecover_SwallowsPanic(t *testing.T) {
	task := taskWithRecover(func(ctx context.Context) error {
		panic("boom")
	}, "panicky")
	assert.NotPanics(t, func() { task(context.Background()) })
}

func TestTaskWithRecover_RunsBody(t *testing.T) {
	var calls atomic.Int32
	task := taskWithRecover(func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("ignored")
	}, "failing")
	task(context.Background())
	assert.Equal(t, int32(1), calls.Load())
}

func TestScheduler_StartImmediately(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	done := make(chan struct{}, 1)
	require.NoError(t, s.NewIntervalJob("tick", func(ctx context.Context) error {
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	}, time.Hour, true))
	assert.Equal(t, 1, s.Jobs())

	s.Start()
	defer func() { _ = s.Stop() }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
}
