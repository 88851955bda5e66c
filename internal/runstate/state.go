// Package runstate owns the migration run lifecycle and the transition
// rules between phases. Every transition is persisted atomically with the
// triggering counters through a conditional UPDATE, so the state machine —
// not a hope of single invocation — is what guarantees exclusivity.
package runstate

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/opendharma/archive-migrate/internal/datastore"
	"github.com/opendharma/archive-migrate/internal/logging"
)

// allowedSources maps each target status to the statuses a run may come from.
// Any transition not in this table is rejected and leaves status unchanged.
var allowedSources = map[datastore.RunStatus][]datastore.RunStatus{
	datastore.RunStatusAnalyzing: {
		datastore.RunStatusUploaded,
	},
	datastore.RunStatusAnalyzed: {
		datastore.RunStatusAnalyzing,
	},
	datastore.RunStatusDecisionsPending: {
		datastore.RunStatusAnalyzed,
		datastore.RunStatusDecisionsComplete,
	},
	datastore.RunStatusDecisionsComplete: {
		datastore.RunStatusAnalyzed,
		datastore.RunStatusDecisionsPending,
	},
	datastore.RunStatusApproved: {
		datastore.RunStatusAnalyzed,
		datastore.RunStatusDecisionsPending,
		datastore.RunStatusDecisionsComplete,
	},
	datastore.RunStatusExecuting: {
		datastore.RunStatusApproved,
	},
	datastore.RunStatusCompleted: {
		datastore.RunStatusExecuting,
	},
	datastore.RunStatusFailed: {
		datastore.RunStatusAnalyzing,
		datastore.RunStatusExecuting,
	},
	// Cancellation is reachable from every state except executing;
	// an executing run must first observe the cooperative cancel flag.
	datastore.RunStatusCancelled: {
		datastore.RunStatusUploaded,
		datastore.RunStatusAnalyzing,
		datastore.RunStatusAnalyzed,
		datastore.RunStatusDecisionsPending,
		datastore.RunStatusDecisionsComplete,
		datastore.RunStatusApproved,
		datastore.RunStatusFailed,
	},
}

// TransitionError reports a rejected transition with the reason an operator
// can act on.
type TransitionError struct {
	RunID   uint
	Current datastore.RunStatus
	Target  datastore.RunStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("migration %d cannot move from %q to %q", e.RunID, e.Current, e.Target)
}

// StateManager applies lifecycle transitions against the datastore.
type StateManager struct {
	ds     datastore.Interface
	logger *slog.Logger
}

// NewStateManager creates a state manager bound to the datastore.
func NewStateManager(ds datastore.Interface) *StateManager {
	return &StateManager{
		ds:     ds,
		logger: logging.ForService("runstate"),
	}
}

// Transition moves a run to the target status, applying extra fields in the
// same statement. Rejected transitions return a *TransitionError carrying
// the run's current status.
func (sm *StateManager) Transition(runID uint, target datastore.RunStatus, fields map[string]any) error {
	sources, ok := allowedSources[target]
	if !ok {
		return fmt.Errorf("unknown target status %q", target)
	}

	claimed, err := sm.ds.TransitionRun(runID, sources, target, fields)
	if err != nil {
		return err
	}
	if !claimed {
		run, getErr := sm.ds.GetRun(runID)
		if getErr != nil {
			return getErr
		}
		return &TransitionError{RunID: runID, Current: run.Status, Target: target}
	}

	sm.logger.Info("run transitioned", "run_id", runID, "status", string(target))
	return nil
}

// BeginAnalysis claims the one-shot analysis phase. Re-entering analysis
// from any state other than uploaded is rejected.
func (sm *StateManager) BeginAnalysis(runID uint) error {
	return sm.Transition(runID, datastore.RunStatusAnalyzing, nil)
}

// CompleteAnalysis records the analysis summary and moves the run on to the
// decision phase.
func (sm *StateManager) CompleteAnalysis(runID uint, analysisData string, totalEvents int) error {
	now := time.Now()
	if err := sm.Transition(runID, datastore.RunStatusAnalyzed, map[string]any{
		"analysis_data": analysisData,
		"total_events":  totalEvents,
		"analyzed_at":   &now,
	}); err != nil {
		return err
	}
	return sm.Transition(runID, datastore.RunStatusDecisionsPending, nil)
}

// SetDecisionCompleteness toggles the run between decisions_pending and
// decisions_complete based on decided/total counts. Runs in other states
// are left alone.
func (sm *StateManager) SetDecisionCompleteness(runID uint, complete bool) error {
	target := datastore.RunStatusDecisionsPending
	source := datastore.RunStatusDecisionsComplete
	if complete {
		target, source = source, target
	}

	claimed, err := sm.ds.TransitionRun(runID, []datastore.RunStatus{source}, target, nil)
	if err != nil {
		return err
	}
	if claimed {
		sm.logger.Info("run decision completeness updated", "run_id", runID, "status", string(target))
	}
	return nil
}

// Approve marks the run approved. The caller must have verified readiness.
func (sm *StateManager) Approve(runID uint) error {
	now := time.Now()
	return sm.Transition(runID, datastore.RunStatusApproved, map[string]any{
		"approved_at": &now,
	})
}

// BeginExecution atomically claims execution for an approved run, zeroing
// the progress counters. A second concurrent claim fails because the
// conditional UPDATE no longer matches.
func (sm *StateManager) BeginExecution(runID uint) error {
	now := time.Now()
	return sm.Transition(runID, datastore.RunStatusExecuting, map[string]any{
		"progress_percentage": 0.0,
		"processed_events":    0,
		"successful_events":   0,
		"failed_events":       0,
		"skipped_events":      0,
		"cancel_requested":    false,
		"error_message":       "",
		"executed_at":         &now,
	})
}

// CompleteExecution marks an executing run completed.
func (sm *StateManager) CompleteExecution(runID uint) error {
	now := time.Now()
	return sm.Transition(runID, datastore.RunStatusCompleted, map[string]any{
		"progress_percentage": 100.0,
		"finished_at":         &now,
	})
}

// Fail moves a run to failed with the phase-fatal reason, preserving all
// completed work.
func (sm *StateManager) Fail(runID uint, reason string) error {
	now := time.Now()
	return sm.Transition(runID, datastore.RunStatusFailed, map[string]any{
		"error_message": reason,
		"finished_at":   &now,
	})
}

// Cancel soft-deletes a run. Rejected while executing.
func (sm *StateManager) Cancel(runID uint) error {
	now := time.Now()
	return sm.Transition(runID, datastore.RunStatusCancelled, map[string]any{
		"finished_at": &now,
	})
}

// CancelFromExecution transitions an executing run to cancelled after the
// execution engine observed the cooperative cancel flag. This is the only
// path from executing to cancelled.
func (sm *StateManager) CancelFromExecution(runID uint) error {
	now := time.Now()
	claimed, err := sm.ds.TransitionRun(runID,
		[]datastore.RunStatus{datastore.RunStatusExecuting},
		datastore.RunStatusCancelled,
		map[string]any{"finished_at": &now})
	if err != nil {
		return err
	}
	if !claimed {
		run, getErr := sm.ds.GetRun(runID)
		if getErr != nil {
			return getErr
		}
		return &TransitionError{RunID: runID, Current: run.Status, Target: datastore.RunStatusCancelled}
	}
	sm.logger.Info("run cancelled during execution", "run_id", runID)
	return nil
}
