// runs.go implements MigrationRun persistence, atomic status transitions
// and the single authoritative progress counters per run.
package datastore

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/opendharma/archive-migrate/internal/errors"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.NewStd("migration run not found")

// CreateRun persists a new migration run.
func (ds *DataStore) CreateRun(run *MigrationRun) error {
	if err := ds.DB.Create(run).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "create_run").
			Build()
	}
	return nil
}

// GetRun fetches a run by id.
func (ds *DataStore) GetRun(id uint) (*MigrationRun, error) {
	var run MigrationRun
	if err := ds.DB.First(&run, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run %d: %w", id, err)
	}
	return &run, nil
}

// ListRuns returns runs ordered newest first.
func (ds *DataStore) ListRuns(limit, offset int) ([]MigrationRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []MigrationRun
	err := ds.DB.Order("created_at DESC").Limit(limit).Offset(offset).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// UpdateRunFields applies a partial update to a run.
func (ds *DataStore) UpdateRunFields(id uint, fields map[string]any) error {
	result := ds.DB.Model(&MigrationRun{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update run %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// TransitionRun atomically moves a run from one of the given statuses to the
// target status. The conditional UPDATE is the exclusivity guard: two callers
// racing into the same transition cannot both claim it.
func (ds *DataStore) TransitionRun(id uint, from []RunStatus, to RunStatus, fields map[string]any) (bool, error) {
	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}

	result := ds.DB.Model(&MigrationRun{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, errors.New(result.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "transition_run").
			Context("target_status", string(to)).
			Build()
	}
	return result.RowsAffected > 0, nil
}

// RecordEventOutcome persists one event's execution outcome and updates the
// run's counters and progress percentage in one transaction. Counters are
// incremented with SQL expressions so concurrent event completions cannot
// lose updates; the progress percentage is recomputed from the persisted
// counters, never from in-memory state.
func (ds *DataStore) RecordEventOutcome(runID, eventID uint, outcome EventStatus, errMsg string) error {
	var counterColumn string
	switch outcome {
	case EventStatusSuccessful:
		counterColumn = "successful_events"
	case EventStatusFailed:
		counterColumn = "failed_events"
	case EventStatusSkipped:
		counterColumn = "skipped_events"
	default:
		return fmt.Errorf("invalid event outcome %q", outcome)
	}

	return ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&EventRecord{}).
			Where("id = ?", eventID).
			Updates(map[string]any{"status": outcome, "error_message": errMsg}).Error; err != nil {
			return fmt.Errorf("failed to update event %d outcome: %w", eventID, err)
		}

		if err := tx.Model(&MigrationRun{}).
			Where("id = ?", runID).
			Updates(map[string]any{
				"processed_events": gorm.Expr("processed_events + 1"),
				counterColumn:      gorm.Expr(counterColumn + " + 1"),
			}).Error; err != nil {
			return fmt.Errorf("failed to increment run %d counters: %w", runID, err)
		}

		if err := tx.Model(&MigrationRun{}).
			Where("id = ? AND total_events > 0", runID).
			Update("progress_percentage",
				gorm.Expr("processed_events * 100.0 / total_events")).Error; err != nil {
			return fmt.Errorf("failed to update run %d progress: %w", runID, err)
		}
		return nil
	})
}

// RequestCancel sets the cooperative cancellation flag. It reports whether
// the flag was newly set.
func (ds *DataStore) RequestCancel(id uint) (bool, error) {
	result := ds.DB.Model(&MigrationRun{}).
		Where("id = ? AND cancel_requested = ?", id, false).
		Update("cancel_requested", true)
	if result.Error != nil {
		return false, fmt.Errorf("failed to request cancel for run %d: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// IsCancelRequested reads the cooperative cancellation flag.
func (ds *DataStore) IsCancelRequested(id uint) (bool, error) {
	var run MigrationRun
	if err := ds.DB.Select("cancel_requested").First(&run, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrRunNotFound
		}
		return false, fmt.Errorf("failed to read cancel flag for run %d: %w", id, err)
	}
	return run.CancelRequested, nil
}

// SaveCheckpoint persists the execution checkpoint marker.
func (ds *DataStore) SaveCheckpoint(runID uint, processedEvents int) error {
	return ds.UpdateRunFields(runID, map[string]any{"checkpoint_events": processedEvents})
}
