package runner

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sightline-hq/sightline/internal/model"
	"github.com/sightline-hq/sightline/internal/processor"
	"github.com/sightline-hq/sightline/internal/testutil"
)

func newTestManager(store *fakeStore, proc processor.Processor) *Manager {
	return NewManager(store, proc, func() Pacer { return FixedDelay(0) }, testutil.TestLogger(), 50)
}

func waitForStatus(t *testing.T, store *fakeStore, want model.RunStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return store.runSnapshot().Status == want
	}, 5*time.Second, 5*time.Millisecond, "run never reached status %s", want)
}

func TestManagerRunsPassToCompletion(t *testing.T) {
	store := newFakeStore(uuid.New(), uuid.New())
	store.addPending("q1", 0)
	store.addPending("q2", 0)

	m := newTestManager(store, &fakeProcessor{})

	_, err := m.Start(context.Background(), store.run.OrgID, store.run.AppID, store.run.ID, Options{})
	require.NoError(t, err)

	waitForStatus(t, store, model.RunStatusCompleted)

	r, ok := m.Runner(store.run.ID)
	require.True(t, ok)
	assert.Equal(t, 2, r.Progress().Snapshot().Completed)
}

func TestManagerRejectsSecondStart(t *testing.T) {
	store := newFakeStore(uuid.New(), uuid.New())
	store.addPending("slow", 0)

	started := make(chan struct{})
	release := make(chan struct{})
	proc := &fakeProcessor{fn: func(processor.Request) (processor.Result, error) {
		close(started)
		<-release
		return processor.Result{}, nil
	}}
	m := newTestManager(store, proc)

	_, err := m.Start(context.Background(), store.run.OrgID, store.run.AppID, store.run.ID, Options{})
	require.NoError(t, err)
	<-started

	_, err = m.Start(context.Background(), store.run.OrgID, store.run.AppID, store.run.ID, Options{})
	assert.ErrorIs(t, err, ErrRunActive)

	close(release)
	waitForStatus(t, store, model.RunStatusCompleted)

	// Once the pass finished the run can be started again (no-op here since
	// nothing is pending, but no ErrRunActive).
	_, err = m.Start(context.Background(), store.run.OrgID, store.run.AppID, store.run.ID, Options{})
	require.NoError(t, err)
}

func TestManagerStopUnknownRun(t *testing.T) {
	m := newTestManager(newFakeStore(uuid.New(), uuid.New()), &fakeProcessor{})
	assert.False(t, m.Stop(uuid.New()))
}

func TestManagerStopPausesActivePass(t *testing.T) {
	store := newFakeStore(uuid.New(), uuid.New())
	for i := 0; i < 3; i++ {
		store.addPending("q", 0)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	first := true
	proc := &fakeProcessor{fn: func(processor.Request) (processor.Result, error) {
		if first {
			first = false
			close(started)
			<-release
		}
		return processor.Result{}, nil
	}}
	m := newTestManager(store, proc)

	_, err := m.Start(context.Background(), store.run.OrgID, store.run.AppID, store.run.ID, Options{})
	require.NoError(t, err)
	<-started

	assert.True(t, m.Stop(store.run.ID))
	close(release)

	waitForStatus(t, store, model.RunStatusPaused)
	// The in-flight item finished before the pause took effect.
	assert.Equal(t, 1, len(proc.processed()))
}

func TestManagerShutdownStopsActivePasses(t *testing.T) {
	store := newFakeStore(uuid.New(), uuid.New())
	for i := 0; i < 100; i++ {
		store.addPending("q", 0)
	}
	proc := &fakeProcessor{fn: func(processor.Request) (processor.Result, error) {
		time.Sleep(time.Millisecond)
		return processor.Result{}, nil
	}}
	m := newTestManager(store, proc)

	_, err := m.Start(context.Background(), store.run.OrgID, store.run.AppID, store.run.ID, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	assert.Equal(t, model.RunStatusPaused, store.runSnapshot().Status)
}
