package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-engine/internal/lock"
	"github.com/spec-kit/helpdesk-engine/internal/service"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) Sweep(context.Context) (service.SweepResult, error) {
	s.calls.Add(1)
	return service.SweepResult{Escalated: 1}, s.err
}

func TestRunOnceSweeps(t *testing.T) {
	sweeper := &countingSweeper{}
	locker := lock.NewMemoryLocker(time.Millisecond)
	w, err := NewEscalationWorker(sweeper, locker, "@every 1h", time.Second, nil)
	require.NoError(t, err)

	require.NoError(t, w.RunOnce(context.Background()))
	assert.EqualValues(t, 1, sweeper.calls.Load())
	assert.False(t, locker.Held(SweepLockName))
}

func TestRunOnceSkipsWhenSweepLockHeld(t *testing.T) {
	sweeper := &countingSweeper{}
	locker := lock.NewMemoryLocker(time.Millisecond)
	w, err := NewEscalationWorker(sweeper, locker, "@every 1h", time.Second, nil)
	require.NoError(t, err)

	held, err := locker.Acquire(context.Background(), SweepLockName, lock.Options{Timeout: time.Minute})
	require.NoError(t, err)
	defer held.Release(context.Background())

	require.NoError(t, w.RunOnce(context.Background()))
	assert.Zero(t, sweeper.calls.Load())
}

func TestRunOnceReturnsSweepError(t *testing.T) {
	boom := errors.New("store down")
	w, err := NewEscalationWorker(&countingSweeper{err: boom}, lock.NewMemoryLocker(0), "@every 1h", time.Second, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, w.RunOnce(context.Background()), boom)
}

func TestInvalidSchedule(t *testing.T) {
	_, err := NewEscalationWorker(&countingSweeper{}, lock.NewMemoryLocker(0), "every so often", time.Second, nil)
	assert.Error(t, err)
}

func TestScheduledSweepRuns(t *testing.T) {
	sweeper := &countingSweeper{}
	w, err := NewEscalationWorker(sweeper, lock.NewMemoryLocker(time.Millisecond), "@every 1s", time.Second, nil)
	require.NoError(t, err)
	w.Start()
	defer w.Stop(context.Background())

	assert.Eventually(t, func() bool { return sweeper.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}
