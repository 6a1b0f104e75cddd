package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNew_InvalidTimezone(t *testing.T) {
	_, err := New("Not/AZone", zap.NewNop())
	require.Error(t, err)

	s, err := New("", nil)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, s.timezone)
}

func TestIntervalJobRuns(t *testing.T) {
	s, err := New("UTC", zap.NewNop())
	require.NoError(t, err)

	var runs atomic.Int32
	require.NoError(t, s.AddIntervalJob("poll", time.Second, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))
	s.Start()
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	<-s.Stop().Done()
}

func TestAddJob_ReplacesAndLists(t *testing.T) {
	s, err := New("UTC", zap.NewNop())
	require.NoError(t, err)
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.AddJob("poll", "@every 1m", noop))
	require.NoError(t, s.AddJob("poll", "@every 2m", noop))
	require.NoError(t, s.AddJob("prune", "0 3 * * *", noop))
	assert.Len(t, s.ListJobs(), 2)

	s.RemoveJob("prune")
	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "poll", jobs[0].Name)

	require.Error(t, s.AddJob("bad", "not a schedule", noop))
	require.Error(t, s.AddIntervalJob("zero", 0, noop))
}

func TestRunNow_ReturnsJobError(t *testing.T) {
	s, err := New("UTC", zap.NewNop())
	require.NoError(t, err)
	boom := errors.New("boom")

	err = s.RunNow("poll", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return boom
	})
	require.ErrorIs(t, err, boom)
}
