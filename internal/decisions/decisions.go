// Package decisions holds the operator's per-file decisions for a run,
// seeded with the analyzer's suggestions and edited through idempotent
// batch upserts.
package decisions

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/opendharma/archive-migrate/internal/datastore"
	"github.com/opendharma/archive-migrate/internal/errors"
	"github.com/opendharma/archive-migrate/internal/logging"
	"github.com/opendharma/archive-migrate/internal/runstate"
)

// Request is one batch upsert. Nil optional fields are left untouched on
// existing decisions; on new decisions a nil Action defaults to the
// analyzer's suggested action for the file.
type Request struct {
	CatalogIDs     []uint
	Action         *datastore.DecisionAction
	NewFilename    *string
	TargetCategory *string
	Note           *string
	DecidedBy      string
}

// Completeness is the decided/total state after an upsert.
type Completeness struct {
	Decided int64 `json:"decided"`
	Total   int64 `json:"total"`
}

// Complete reports whether every catalog entry has a decision.
func (c Completeness) Complete() bool {
	return c.Total > 0 && c.Decided >= c.Total
}

// Store applies operator decisions and keeps the run's decision phase in
// sync with completeness.
type Store struct {
	ds     datastore.Interface
	states *runstate.StateManager
	logger *slog.Logger
}

// NewStore creates a decision store.
func NewStore(ds datastore.Interface, states *runstate.StateManager) *Store {
	return &Store{
		ds:     ds,
		states: states,
		logger: logging.ForService("decisions"),
	}
}

// Upsert applies one batch of decisions. Every catalog id must reference a
// cataloged file of the same run. After the writes it recomputes
// completeness and moves the run between decisions_pending and
// decisions_complete.
func (s *Store) Upsert(runID uint, req *Request) (Completeness, error) {
	if len(req.CatalogIDs) == 0 {
		return Completeness{}, errors.Newf("no catalog ids supplied").
			Component("decisions").
			Category(errors.CategoryValidation).
			Build()
	}
	if req.Action != nil {
		if err := validateAction(*req.Action); err != nil {
			return Completeness{}, err
		}
	}

	catalog, err := s.ds.GetCatalogedFiles(runID)
	if err != nil {
		return Completeness{}, err
	}
	byID := make(map[uint]*datastore.CatalogedFile, len(catalog))
	for i := range catalog {
		byID[catalog[i].ID] = &catalog[i]
	}

	now := time.Now()
	for _, catalogID := range req.CatalogIDs {
		file, ok := byID[catalogID]
		if !ok {
			return Completeness{}, errors.Newf("catalog entry %d does not belong to migration %d", catalogID, runID).
				Component("decisions").
				Category(errors.CategoryNotFound).
				Context("catalog_id", catalogID).
				Build()
		}

		decision := &datastore.FileDecision{
			MigrationID: runID,
			CatalogID:   catalogID,
			Action:      file.SuggestedAction,
			DecidedBy:   req.DecidedBy,
			DecidedAt:   now,
		}
		fields := map[string]any{
			"decided_by": req.DecidedBy,
			"decided_at": now,
		}
		if req.Action != nil {
			decision.Action = *req.Action
			fields["action"] = *req.Action
		}
		if req.NewFilename != nil {
			decision.NewFilename = *req.NewFilename
			fields["new_filename"] = *req.NewFilename
		}
		if req.TargetCategory != nil {
			decision.TargetCategory = *req.TargetCategory
			fields["target_category"] = *req.TargetCategory
		}
		if req.Note != nil {
			decision.Note = *req.Note
			fields["note"] = *req.Note
		}

		if err := s.ds.UpsertDecision(decision, fields); err != nil {
			return Completeness{}, err
		}
	}

	return s.Recompute(runID)
}

// Recompute refreshes decided/total completeness and advances or holds the
// run between the two decision states.
func (s *Store) Recompute(runID uint) (Completeness, error) {
	decided, total, err := s.ds.CountDecided(runID)
	if err != nil {
		return Completeness{}, err
	}
	c := Completeness{Decided: decided, Total: total}

	if err := s.states.SetDecisionCompleteness(runID, c.Complete()); err != nil {
		return c, err
	}
	s.logger.Debug("decision completeness recomputed",
		"run_id", runID, "decided", decided, "total", total)
	return c, nil
}

func validateAction(action datastore.DecisionAction) error {
	switch action {
	case datastore.ActionInclude, datastore.ActionIgnore, datastore.ActionRename, datastore.ActionReview:
		return nil
	default:
		return errors.New(fmt.Errorf("unknown decision action %q", action)).
			Component("decisions").
			Category(errors.CategoryValidation).
			Build()
	}
}
