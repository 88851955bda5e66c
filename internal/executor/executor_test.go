package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendharma/archive-migrate/internal/conf"
	"github.com/opendharma/archive-migrate/internal/datastore"
	"github.com/opendharma/archive-migrate/internal/objectstore"
	"github.com/opendharma/archive-migrate/internal/observability"
	"github.com/opendharma/archive-migrate/internal/runstate"
)

// fakeStore records copies and deletes and fails configured source keys.
type fakeStore struct {
	mu       sync.Mutex
	copied   map[string]string // src -> dst
	deleted  map[string]bool
	failSrcs map[string]bool
	onCopy   func(srcKey string) // invoked before each copy, outside the lock
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		copied:   make(map[string]string),
		deleted:  make(map[string]bool),
		failSrcs: make(map[string]bool),
	}
}

func (f *fakeStore) Name() string    { return "fake" }
func (f *fakeStore) Validate() error { return nil }
func (f *fakeStore) List(ctx context.Context, prefix string) ([]objectstore.ObjectInfo, error) {
	return nil, nil
}
func (f *fakeStore) Stat(ctx context.Context, key string) (*objectstore.ObjectInfo, error) {
	return &objectstore.ObjectInfo{Key: key}, nil
}

func (f *fakeStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	if f.onCopy != nil {
		f.onCopy(srcKey)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSrcs[srcKey] {
		return fmt.Errorf("simulated copy failure for %s", srcKey)
	}
	f.copied[srcKey] = dstKey
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[key] = true
	return nil
}

func (f *fakeStore) copyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.copied)
}

func (f *fakeStore) wasCopied(src string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.copied[src]
	return ok
}

func testPolicy() *conf.PolicySettings {
	return &conf.PolicySettings{
		StoragePlacement:   conf.PlacementEventFolder,
		LegacyTracks:       conf.LegacyRetainUnique,
		Mismatch:           conf.MismatchWarn,
		NoAudio:            conf.NoAudioError,
		UnmappedLookup:     conf.UnmappedCreateMissing,
		Rollback:           conf.RollbackKeepCompleted,
		BatchSize:          2,
		BatchDelayMs:       0,
		Concurrency:        2,
		MinSuccessRate:     0.5,
		CheckpointInterval: 1,
	}
}

func newManager(t *testing.T, store objectstore.Client, policy *conf.PolicySettings) (*Manager, datastore.Interface) {
	t.Helper()
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = ":memory:"

	ds := datastore.New(settings)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { _ = ds.Close() })

	states := runstate.NewStateManager(ds)
	return NewManager(ds, store, states, policy, observability.NewMetrics()), ds
}

// seedRun creates an approved run with the given number of events, each
// with one include-decided audio file.
func seedRun(t *testing.T, ds datastore.Interface, eventCount int) *datastore.MigrationRun {
	t.Helper()
	run := &datastore.MigrationRun{Title: "archive", Status: datastore.RunStatusApproved, TotalEvents: eventCount}
	require.NoError(t, ds.CreateRun(run))

	var events []datastore.EventRecord
	var files []datastore.CatalogedFile
	for i := 1; i <= eventCount; i++ {
		code := fmt.Sprintf("E%d", i)
		events = append(events, datastore.EventRecord{
			MigrationID: run.ID, EventCode: code, Title: code, Status: datastore.EventStatusPending,
		})
		meta, _ := json.Marshal(map[string]string{"target_key": fmt.Sprintf("media/%s/01 talk.mp3", code)})
		files = append(files, datastore.CatalogedFile{
			MigrationID:       run.ID,
			EventCode:         code,
			Filename:          "01 talk.mp3",
			ObjectKey:         fmt.Sprintf("%s/audio/01 talk.mp3", code),
			FileType:          datastore.FileTypeAudio,
			SuggestedAction:   datastore.ActionInclude,
			SuggestedCategory: "track",
			Metadata:          string(meta),
		})
	}
	require.NoError(t, ds.SaveEventRecords(events))
	require.NoError(t, ds.SaveCatalogedFiles(files))

	catalog, err := ds.GetCatalogedFiles(run.ID)
	require.NoError(t, err)
	for i := range catalog {
		require.NoError(t, ds.UpsertDecision(&datastore.FileDecision{
			MigrationID: run.ID,
			CatalogID:   catalog[i].ID,
			Action:      datastore.ActionInclude,
			DecidedAt:   time.Now(),
		}, nil))
	}
	return run
}

func waitForTerminal(t *testing.T, ds datastore.Interface, runID uint) *datastore.MigrationRun {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		run, err := ds.GetRun(runID)
		require.NoError(t, err)
		switch run.Status {
		case datastore.RunStatusCompleted, datastore.RunStatusFailed, datastore.RunStatusCancelled:
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run did not reach a terminal state in time")
	return nil
}

func TestExecuteCompletesRun(t *testing.T) {
	store := newFakeStore()
	m, ds := newManager(t, store, testPolicy())
	run := seedRun(t, ds, 5)

	require.NoError(t, m.Start(run.ID))
	got := waitForTerminal(t, ds, run.ID)

	assert.Equal(t, datastore.RunStatusCompleted, got.Status)
	assert.Equal(t, 5, got.ProcessedEvents)
	assert.Equal(t, 5, got.SuccessfulEvents)
	assert.InDelta(t, 100.0, got.ProgressPercentage, 0.01)
	assert.Equal(t, 5, store.copyCount())
	assert.False(t, m.IsRunning(run.ID))
}

func TestExecuteRejectsUnapprovedRun(t *testing.T) {
	store := newFakeStore()
	m, ds := newManager(t, store, testPolicy())

	run := &datastore.MigrationRun{Title: "archive", Status: datastore.RunStatusDecisionsPending}
	require.NoError(t, ds.CreateRun(run))

	err := m.Start(run.ID)
	require.Error(t, err)

	var te *runstate.TransitionError
	assert.ErrorAs(t, err, &te)
}

// Scenario: one failing event out of five with fail_fast off. The run
// completes when the realized success rate clears the gate and fails when
// it does not; failedEvents is incremented exactly once either way.
func TestExecuteSuccessRateGate(t *testing.T) {
	t.Run("above threshold completes", func(t *testing.T) {
		store := newFakeStore()
		store.failSrcs["E2/audio/01 talk.mp3"] = true

		policy := testPolicy()
		policy.MinSuccessRate = 0.5
		m, ds := newManager(t, store, policy)
		run := seedRun(t, ds, 5)

		require.NoError(t, m.Start(run.ID))
		got := waitForTerminal(t, ds, run.ID)

		assert.Equal(t, datastore.RunStatusCompleted, got.Status)
		assert.Equal(t, 1, got.FailedEvents)
		assert.Equal(t, 4, got.SuccessfulEvents)
	})

	t.Run("below threshold fails", func(t *testing.T) {
		store := newFakeStore()
		store.failSrcs["E2/audio/01 talk.mp3"] = true

		policy := testPolicy()
		policy.MinSuccessRate = 0.95
		m, ds := newManager(t, store, policy)
		run := seedRun(t, ds, 5)

		require.NoError(t, m.Start(run.ID))
		got := waitForTerminal(t, ds, run.ID)

		assert.Equal(t, datastore.RunStatusFailed, got.Status)
		assert.Equal(t, 1, got.FailedEvents)
		assert.Contains(t, got.ErrorMessage, "success rate")
	})
}

func TestExecuteFailFastAborts(t *testing.T) {
	store := newFakeStore()
	store.failSrcs["E1/audio/01 talk.mp3"] = true

	policy := testPolicy()
	policy.FailFast = true
	policy.BatchSize = 1
	policy.Concurrency = 1
	m, ds := newManager(t, store, policy)
	run := seedRun(t, ds, 5)

	require.NoError(t, m.Start(run.ID))
	got := waitForTerminal(t, ds, run.ID)

	assert.Equal(t, datastore.RunStatusFailed, got.Status)
	assert.Equal(t, 1, got.FailedEvents)
	assert.Less(t, got.ProcessedEvents, 5, "remaining events were not processed")
}

// Resumed executions never redo events already marked successful.
func TestResumeSkipsFinishedEvents(t *testing.T) {
	store := newFakeStore()
	m, ds := newManager(t, store, testPolicy())
	run := seedRun(t, ds, 4)

	// Simulate a crashed execution: the run is stuck in executing with two
	// events already recorded successful at the last checkpoint.
	claimed, err := ds.TransitionRun(run.ID,
		[]datastore.RunStatus{datastore.RunStatusApproved}, datastore.RunStatusExecuting, nil)
	require.NoError(t, err)
	require.True(t, claimed)

	events, err := ds.GetEventRecords(run.ID)
	require.NoError(t, err)
	require.NoError(t, ds.RecordEventOutcome(run.ID, events[0].ID, datastore.EventStatusSuccessful, ""))
	require.NoError(t, ds.RecordEventOutcome(run.ID, events[1].ID, datastore.EventStatusSuccessful, ""))
	require.NoError(t, ds.SaveCheckpoint(run.ID, 2))

	require.NoError(t, m.Resume(run.ID))
	got := waitForTerminal(t, ds, run.ID)

	assert.Equal(t, datastore.RunStatusCompleted, got.Status)
	assert.Equal(t, 4, got.ProcessedEvents)
	assert.Equal(t, 4, got.SuccessfulEvents)

	assert.False(t, store.wasCopied("E1/audio/01 talk.mp3"), "finished event redone")
	assert.False(t, store.wasCopied("E2/audio/01 talk.mp3"), "finished event redone")
	assert.True(t, store.wasCopied("E3/audio/01 talk.mp3"))
	assert.True(t, store.wasCopied("E4/audio/01 talk.mp3"))
}

func TestResumeRejectsNonExecutingRun(t *testing.T) {
	store := newFakeStore()
	m, ds := newManager(t, store, testPolicy())
	run := seedRun(t, ds, 1)

	err := m.Resume(run.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not executing")
}

func TestCancellationObservedBetweenEvents(t *testing.T) {
	store := newFakeStore()
	policy := testPolicy()
	policy.BatchSize = 1
	policy.Concurrency = 1
	m, ds := newManager(t, store, policy)
	run := seedRun(t, ds, 3)

	// The first event's copy sets the flag, so the check before the next
	// batch observes it; the in-flight event still finishes.
	var once sync.Once
	store.onCopy = func(string) {
		once.Do(func() { require.NoError(t, m.RequestCancel(run.ID)) })
	}

	require.NoError(t, m.Start(run.ID))
	got := waitForTerminal(t, ds, run.ID)

	assert.Equal(t, datastore.RunStatusCancelled, got.Status)
	assert.Equal(t, 1, got.ProcessedEvents, "only the in-flight event completed")
	assert.Equal(t, 1, got.SuccessfulEvents, "completed work is left intact")
}

func TestRollbackAllUndoesCompletedEvents(t *testing.T) {
	store := newFakeStore()
	store.failSrcs["E3/audio/01 talk.mp3"] = true

	policy := testPolicy()
	policy.Rollback = conf.RollbackAll
	policy.MinSuccessRate = 1.0
	policy.BatchSize = 1
	policy.Concurrency = 1
	m, ds := newManager(t, store, policy)
	run := seedRun(t, ds, 3)

	require.NoError(t, m.Start(run.ID))
	got := waitForTerminal(t, ds, run.ID)

	require.Equal(t, datastore.RunStatusFailed, got.Status)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.True(t, store.deleted["media/E1/01 talk.mp3"], "successful event rolled back")
	assert.True(t, store.deleted["media/E2/01 talk.mp3"], "successful event rolled back")
}

func TestSkippedEventsWithNoDecidedFiles(t *testing.T) {
	store := newFakeStore()
	m, ds := newManager(t, store, testPolicy())

	run := &datastore.MigrationRun{Title: "archive", Status: datastore.RunStatusApproved, TotalEvents: 1}
	require.NoError(t, ds.CreateRun(run))
	require.NoError(t, ds.SaveEventRecords([]datastore.EventRecord{
		{MigrationID: run.ID, EventCode: "E1", Status: datastore.EventStatusPending},
	}))

	require.NoError(t, m.Start(run.ID))
	got := waitForTerminal(t, ds, run.ID)

	assert.Equal(t, datastore.RunStatusCompleted, got.Status)
	assert.Equal(t, 1, got.SkippedEvents)
	assert.Equal(t, 0, store.copyCount())
}
