package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingOptimizer struct {
	calls atomic.Int32
	err   error
	block chan struct{}
}

func (c *countingOptimizer) Optimize(ctx context.Context) error {
	c.calls.Add(1)
	if c.block != nil {
		<-c.block
	}
	return c.err
}

func TestNewValidatesSchedule(t *testing.T) {
	_, err := New(&countingOptimizer{}, "not a schedule")
	assert.Error(t, err)

	_, err = New(nil, "")
	assert.Error(t, err)

	s, err := New(&countingOptimizer{}, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultSchedule, s.Schedule())
}

func TestRunOnceRecordsResult(t *testing.T) {
	boom := errors.New("disk full")
	opt := &countingOptimizer{err: boom}
	s, err := New(opt, "@daily")
	require.NoError(t, err)

	err = s.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)

	last, lastErr := s.LastRun()
	require.NotNil(t, last)
	assert.ErrorIs(t, lastErr, boom)
	assert.Equal(t, int32(1), opt.calls.Load())
}

func TestRunOnceSkipsWhenBusy(t *testing.T) {
	opt := &countingOptimizer{block: make(chan struct{})}
	s, err := New(opt, "@daily")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.RunOnce(context.Background()) }()
	require.Eventually(t, func() bool { return opt.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, int32(1), opt.calls.Load())

	close(opt.block)
	assert.NoError(t, <-done)
}

func TestStartRunsOnSchedule(t *testing.T) {
	opt := &countingOptimizer{}
	s, err := New(opt, "@every 1s")
	require.NoError(t, err)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool { return opt.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	s.Stop()
	s.Stop()
}
