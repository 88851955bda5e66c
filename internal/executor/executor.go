// Package executor replays the approved decisions of a run against object
// storage and the database. Events are processed in batches with an
// inter-batch delay; within a batch a bounded worker pool performs the
// object copies. Per-event outcomes are persisted immediately, which makes
// a restarted execution resume without redoing finished events.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opendharma/archive-migrate/internal/analyzer"
	"github.com/opendharma/archive-migrate/internal/conf"
	"github.com/opendharma/archive-migrate/internal/datastore"
	"github.com/opendharma/archive-migrate/internal/dedup"
	"github.com/opendharma/archive-migrate/internal/errors"
	"github.com/opendharma/archive-migrate/internal/logging"
	"github.com/opendharma/archive-migrate/internal/objectstore"
	"github.com/opendharma/archive-migrate/internal/observability"
	"github.com/opendharma/archive-migrate/internal/runstate"
)

// Manager owns the background execution of runs. Exclusivity per run is
// guaranteed by the state machine's conditional claim, not by this registry;
// the registry only tracks in-process handles for shutdown and resume.
type Manager struct {
	ds      datastore.Interface
	store   objectstore.Client
	states  *runstate.StateManager
	policy  *conf.PolicySettings
	metrics *observability.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	running map[uint]context.CancelFunc
}

// NewManager creates an execution manager.
func NewManager(ds datastore.Interface, store objectstore.Client, states *runstate.StateManager, policy *conf.PolicySettings, metrics *observability.Metrics) *Manager {
	return &Manager{
		ds:      ds,
		store:   store,
		states:  states,
		policy:  policy,
		metrics: metrics,
		logger:  logging.ForService("executor"),
		running: make(map[uint]context.CancelFunc),
	}
}

// IsRunning reports whether this process holds an execution handle for the run.
func (m *Manager) IsRunning(runID uint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[runID]
	return ok
}

// Start claims execution for an approved run and processes it in the
// background. The claim is the approved-to-executing transition; a second
// concurrent Start loses the claim and returns the transition error.
func (m *Manager) Start(runID uint) error {
	if err := m.states.BeginExecution(runID); err != nil {
		return err
	}
	m.launch(runID)
	return nil
}

// Resume picks up a run left in executing by a crashed or restarted
// process. Events already recorded successful or skipped are not redone.
func (m *Manager) Resume(runID uint) error {
	run, err := m.ds.GetRun(runID)
	if err != nil {
		return err
	}
	if run.Status != datastore.RunStatusExecuting {
		return errors.Newf("migration %d is %q, not executing; nothing to resume", runID, run.Status).
			Component("executor").
			Category(errors.CategoryState).
			Build()
	}
	if m.IsRunning(runID) {
		return errors.Newf("migration %d is already executing in this process", runID).
			Component("executor").
			Category(errors.CategoryConflict).
			Build()
	}
	m.logger.Info("resuming execution from checkpoint",
		"run_id", runID, "checkpoint_events", run.CheckpointEvents)
	m.launch(runID)
	return nil
}

// RequestCancel sets the cooperative cancellation flag. The engine observes
// it between events, never mid-event.
func (m *Manager) RequestCancel(runID uint) error {
	requested, err := m.ds.RequestCancel(runID)
	if err != nil {
		return err
	}
	if requested {
		m.logger.Info("cancellation requested", "run_id", runID)
	}
	return nil
}

// Shutdown cancels the contexts of all in-process executions. Runs stay in
// executing and are resumed on the next start.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for runID, cancel := range m.running {
		m.logger.Info("interrupting execution for shutdown", "run_id", runID)
		cancel()
	}
}

func (m *Manager) launch(runID uint) {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.running[runID] = cancel
	m.mu.Unlock()
	m.metrics.RunsActive.Inc()

	go func() {
		defer func() {
			cancel()
			m.mu.Lock()
			delete(m.running, runID)
			m.mu.Unlock()
			m.metrics.RunsActive.Dec()
		}()
		m.run(ctx, runID)
	}()
}

// run drives one execution to a terminal state.
func (m *Manager) run(ctx context.Context, runID uint) {
	started := time.Now()
	defer func() {
		m.metrics.ExecSeconds.Observe(time.Since(started).Seconds())
	}()

	plan, err := m.loadPlan(runID)
	if err != nil {
		m.fail(runID, fmt.Sprintf("failed to load execution plan: %v", err))
		return
	}

	var pending []eventTask
	processedBase := 0
	for _, task := range plan {
		if task.event.Status == datastore.EventStatusPending {
			pending = append(pending, task)
		} else {
			processedBase++
		}
	}

	var processed atomic.Int64
	processed.Store(int64(processedBase))
	var failedEvents atomic.Int64
	var abort atomic.Bool

	for start := 0; start < len(pending); start += m.policy.BatchSize {
		if ctx.Err() != nil {
			// Process shutdown: leave the run executing for a later resume.
			return
		}
		cancelled, err := m.ds.IsCancelRequested(runID)
		if err != nil {
			m.fail(runID, fmt.Sprintf("failed to read cancellation flag: %v", err))
			return
		}
		if cancelled {
			m.cancel(ctx, runID, plan)
			return
		}

		end := min(start+m.policy.BatchSize, len(pending))
		batch := pending[start:end]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.policy.Concurrency)
		for i := range batch {
			task := batch[i]
			g.Go(func() error {
				if abort.Load() || gctx.Err() != nil {
					return nil
				}
				outcome, errMsg := m.processEvent(gctx, runID, task)
				if err := m.recordOutcome(runID, task.event, outcome, errMsg, &processed); err != nil {
					return err
				}
				if outcome == datastore.EventStatusFailed {
					failedEvents.Add(1)
					if m.policy.FailFast {
						abort.Store(true)
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			m.fail(runID, fmt.Sprintf("execution aborted: %v", err))
			return
		}

		if abort.Load() {
			m.rollbackIfConfigured(ctx, runID, plan)
			m.fail(runID, "execution aborted on first event failure")
			return
		}

		if end < len(pending) && m.policy.BatchDelay() > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.policy.BatchDelay()):
			}
		}
	}

	m.finish(ctx, runID, plan)
}

// loadPlan reads everything the execution needs in one pass.
func (m *Manager) loadPlan(runID uint) ([]eventTask, error) {
	events, err := m.ds.GetEventRecords(runID)
	if err != nil {
		return nil, err
	}
	catalog, err := m.ds.GetCatalogedFiles(runID)
	if err != nil {
		return nil, err
	}
	decisions, err := m.ds.GetDecisions(runID)
	if err != nil {
		return nil, err
	}
	return buildPlan(events, catalog, decisions), nil
}

// processEvent copies every decided file of one event and creates the
// matching database records. The first file failure fails the event; files
// within an event are processed serially.
func (m *Manager) processEvent(ctx context.Context, runID uint, task eventTask) (datastore.EventStatus, string) {
	if len(task.files) == 0 {
		return datastore.EventStatusSkipped, ""
	}

	for _, ft := range task.files {
		if err := m.store.Copy(ctx, ft.file.ObjectKey, ft.target); err != nil {
			m.metrics.CopyFailures.Inc()
			msg := fmt.Sprintf("copy %q to %q failed: %v", ft.file.ObjectKey, ft.target, err)
			m.log(runID, datastore.SeverityError, task.event.EventCode, msg, nil)
			return datastore.EventStatusFailed, msg
		}
		m.metrics.FilesCopied.Inc()

		if err := m.createRecord(runID, task.event, ft); err != nil {
			msg := fmt.Sprintf("database record for %q failed: %v", ft.target, err)
			m.log(runID, datastore.SeverityError, task.event.EventCode, msg, nil)
			return datastore.EventStatusFailed, msg
		}
	}

	m.log(runID, datastore.SeverityInfo, task.event.EventCode,
		fmt.Sprintf("event %q migrated: %d files", task.event.EventCode, len(task.files)),
		map[string]any{"files": len(task.files)})
	return datastore.EventStatusSuccessful, ""
}

// createRecord creates the track, transcript, or generic media record for
// one migrated file, linked to the owning event.
func (m *Manager) createRecord(runID uint, event *datastore.EventRecord, ft fileTask) error {
	filename := ft.file.Filename
	if ft.decision.Action == datastore.ActionRename && ft.decision.NewFilename != "" {
		filename = ft.decision.NewFilename
	}

	category := ft.file.SuggestedCategory
	if ft.decision.TargetCategory != "" {
		category = ft.decision.TargetCategory
	}
	meta := ft.file.MetadataMap()

	switch category {
	case analyzer.CategoryTrack, analyzer.CategoryTranslation, analyzer.CategoryLegacy:
		number, title := dedup.NormalizeTitle(filename)
		if title == "" {
			title = filename
		}
		return m.ds.CreateTrack(&datastore.Track{
			MigrationID: runID,
			EventCode:   event.EventCode,
			Title:       title,
			ObjectKey:   ft.target,
			TrackNumber: number,
			Language:    meta["language"],
			Legacy:      category == analyzer.CategoryLegacy || meta["legacy"] == "true",
		})
	case analyzer.CategoryTranscript:
		return m.ds.CreateTranscript(&datastore.Transcript{
			MigrationID: runID,
			EventCode:   event.EventCode,
			Title:       filename,
			ObjectKey:   ft.target,
			Language:    meta["language"],
		})
	default:
		return m.ds.CreateMediaFile(&datastore.MediaFile{
			MigrationID: runID,
			EventCode:   event.EventCode,
			Filename:    filename,
			ObjectKey:   ft.target,
			FileType:    ft.file.FileType,
		})
	}
}

// recordOutcome persists the event outcome with the counter update and
// checkpoints every CheckpointInterval events.
func (m *Manager) recordOutcome(runID uint, event *datastore.EventRecord, outcome datastore.EventStatus, errMsg string, processed *atomic.Int64) error {
	if err := m.ds.RecordEventOutcome(runID, event.ID, outcome, errMsg); err != nil {
		return err
	}
	m.metrics.EventsProcessed.WithLabelValues(string(outcome)).Inc()

	count := processed.Add(1)
	if int(count)%m.policy.CheckpointInterval == 0 {
		if err := m.ds.SaveCheckpoint(runID, int(count)); err != nil {
			m.logger.Warn("failed to save checkpoint", "run_id", runID, "error", err)
		}
	}
	return nil
}

// finish evaluates the realized success rate against the configured gate
// and moves the run to its terminal state.
func (m *Manager) finish(ctx context.Context, runID uint, plan []eventTask) {
	run, err := m.ds.GetRun(runID)
	if err != nil {
		m.fail(runID, fmt.Sprintf("failed to load run for completion: %v", err))
		return
	}

	attempted := run.SuccessfulEvents + run.FailedEvents
	rate := 1.0
	if attempted > 0 {
		rate = float64(run.SuccessfulEvents) / float64(attempted)
	}

	if rate < m.policy.MinSuccessRate {
		m.rollbackIfConfigured(ctx, runID, plan)
		m.fail(runID, fmt.Sprintf("success rate %.2f below required %.2f (%d/%d events succeeded)",
			rate, m.policy.MinSuccessRate, run.SuccessfulEvents, attempted))
		return
	}

	if err := m.states.CompleteExecution(runID); err != nil {
		m.logger.Error("failed to complete run", "run_id", runID, "error", err)
		return
	}
	m.log(runID, datastore.SeverityInfo, "",
		fmt.Sprintf("execution completed: %d successful, %d failed, %d skipped",
			run.SuccessfulEvents, run.FailedEvents, run.SkippedEvents), nil)
}

// cancel transitions an executing run to cancelled after the cooperative
// flag was observed. Completed events stay intact unless rollback_all.
func (m *Manager) cancel(ctx context.Context, runID uint, plan []eventTask) {
	m.rollbackIfConfigured(ctx, runID, plan)
	if err := m.states.CancelFromExecution(runID); err != nil {
		m.logger.Error("failed to cancel run", "run_id", runID, "error", err)
		return
	}
	m.log(runID, datastore.SeverityInfo, "", "execution cancelled by operator", nil)
}

func (m *Manager) fail(runID uint, reason string) {
	m.log(runID, datastore.SeverityError, "", reason, nil)
	if err := m.states.Fail(runID, reason); err != nil {
		m.logger.Error("failed to mark run failed", "run_id", runID, "error", err)
	}
}

// rollbackIfConfigured undoes the copied objects and database records of
// every successful event when the rollback_all policy is set. Delete
// failures are logged and skipped so rollback makes maximal progress.
func (m *Manager) rollbackIfConfigured(ctx context.Context, runID uint, plan []eventTask) {
	if m.policy.Rollback != conf.RollbackAll {
		return
	}

	events, err := m.ds.GetEventRecords(runID)
	if err != nil {
		m.logger.Error("rollback: failed to load events", "run_id", runID, "error", err)
		return
	}
	succeeded := make(map[string]bool)
	for i := range events {
		if events[i].Status == datastore.EventStatusSuccessful {
			succeeded[events[i].EventCode] = true
		}
	}

	deleted := 0
	for _, task := range plan {
		if !succeeded[task.event.EventCode] {
			continue
		}
		for _, ft := range task.files {
			if err := m.store.Delete(ctx, ft.target); err != nil {
				m.logger.Warn("rollback: delete failed",
					"run_id", runID, "key", ft.target, "error", err)
				continue
			}
			deleted++
		}
	}

	if err := m.ds.DeleteRunMediaRecords(runID); err != nil {
		m.logger.Error("rollback: failed to delete media records", "run_id", runID, "error", err)
	}
	m.log(runID, datastore.SeverityWarning, "",
		fmt.Sprintf("rollback removed %d migrated objects", deleted), nil)
}

func (m *Manager) log(runID uint, level datastore.Severity, eventCode, message string, details map[string]any) {
	entry := &datastore.MigrationLog{
		MigrationID: runID,
		Level:       level,
		EventCode:   eventCode,
		Message:     message,
	}
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			entry.Details = string(b)
		}
	}
	if err := m.ds.AppendLog(entry); err != nil {
		m.logger.Warn("failed to append migration log", "run_id", runID, "error", err)
	}
}
