package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/opendharma/archive-migrate/internal/datastore"
	"github.com/opendharma/archive-migrate/internal/decisions"
	"github.com/opendharma/archive-migrate/internal/errors"
	"github.com/opendharma/archive-migrate/internal/readiness"
	"github.com/opendharma/archive-migrate/internal/runstate"
)

// decisionRequest is the batch decision upsert payload.
type decisionRequest struct {
	CatalogIDs     []uint  `json:"catalogIds" validate:"required,min=1"`
	Action         *string `json:"action" validate:"omitempty,oneof=include ignore rename review"`
	NewFilename    *string `json:"newFilename"`
	TargetCategory *string `json:"targetCategory"`
	Note           *string `json:"note"`
	DecidedBy      string  `json:"decidedBy"`
}

// eventGroup is the catalog of one event in the run detail response.
type eventGroup struct {
	Event datastore.EventRecord     `json:"event"`
	Files []datastore.CatalogedFile `json:"files"`
}

// Upload creates a run in uploaded and persists the source file.
func (c *Controller) Upload(ctx echo.Context) error {
	title := ctx.FormValue("title")
	if title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title is required")
	}
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "a tabular file is required")
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.HandleError(ctx, err, "failed to open uploaded file", http.StatusInternalServerError)
	}
	defer src.Close()

	uploadDir := filepath.Join(c.Settings.Main.DataDir, "uploads")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return c.HandleError(ctx, err, "failed to create upload directory", http.StatusInternalServerError)
	}
	storedPath := filepath.Join(uploadDir, uuid.NewString()+"_"+filepath.Base(fileHeader.Filename))
	dst, err := os.Create(storedPath)
	if err != nil {
		return c.HandleError(ctx, err, "failed to persist uploaded file", http.StatusInternalServerError)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return c.HandleError(ctx, err, "failed to persist uploaded file", http.StatusInternalServerError)
	}

	run := &datastore.MigrationRun{
		Title:      title,
		SourceFile: storedPath,
		Status:     datastore.RunStatusUploaded,
	}
	if err := c.ds.CreateRun(run); err != nil {
		return c.HandleError(ctx, err, "failed to create migration run", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusCreated, run)
}

// List returns runs, newest first.
func (c *Controller) List(ctx echo.Context) error {
	limit, _ := strconv.Atoi(ctx.QueryParam("limit"))
	offset, _ := strconv.Atoi(ctx.QueryParam("offset"))
	runs, err := c.ds.ListRuns(limit, offset)
	if err != nil {
		return c.HandleError(ctx, err, "failed to list migration runs", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, runs)
}

// Get returns the run plus its catalog grouped by event.
func (c *Controller) Get(ctx echo.Context) error {
	run, err := c.runParam(ctx)
	if err != nil {
		return err
	}
	events, err := c.ds.GetEventRecords(run.ID)
	if err != nil {
		return c.HandleError(ctx, err, "failed to load event records", http.StatusInternalServerError)
	}
	catalog, err := c.ds.GetCatalogedFiles(run.ID)
	if err != nil {
		return c.HandleError(ctx, err, "failed to load catalog", http.StatusInternalServerError)
	}

	filesByEvent := make(map[string][]datastore.CatalogedFile)
	for i := range catalog {
		filesByEvent[catalog[i].EventCode] = append(filesByEvent[catalog[i].EventCode], catalog[i])
	}
	groups := make([]eventGroup, 0, len(events))
	for i := range events {
		groups = append(groups, eventGroup{
			Event: events[i],
			Files: filesByEvent[events[i].EventCode],
		})
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"run":    run,
		"events": groups,
	})
}

// Analyze claims the one-shot analysis phase and runs import, cataloging,
// and deduplication in the background.
func (c *Controller) Analyze(ctx echo.Context) error {
	run, err := c.runParam(ctx)
	if err != nil {
		return err
	}
	if err := c.states.BeginAnalysis(run.ID); err != nil {
		return c.rejectTransition(ctx, err, "analysis can only start on an uploaded migration")
	}

	go c.runAnalysis(run.ID, run.SourceFile)

	updated, err := c.ds.GetRun(run.ID)
	if err != nil {
		return c.HandleError(ctx, err, "failed to reload migration run", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusAccepted, updated)
}

// runAnalysis is the background analysis phase: import the source file,
// catalog and classify the store objects, resolve duplicates, then move the
// run into the decision phase. Structural and store failures fail the run.
func (c *Controller) runAnalysis(runID uint, sourceFile string) {
	started := time.Now()
	defer func() {
		c.metrics.AnalysisSeconds.Observe(time.Since(started).Seconds())
	}()

	imported, err := c.importer.ImportFile(runID, sourceFile)
	if err != nil {
		c.failRun(runID, fmt.Sprintf("import failed: %v", err))
		return
	}

	data, err := c.analyzer.Analyze(context.Background(), runID, imported.Events)
	if err != nil {
		c.failRun(runID, fmt.Sprintf("analysis failed: %v", err))
		return
	}
	data.Issues = append(imported.Issues, data.Issues...)

	blob, err := data.Encode()
	if err != nil {
		c.failRun(runID, fmt.Sprintf("failed to encode analysis summary: %v", err))
		return
	}
	if err := c.states.CompleteAnalysis(runID, blob, len(imported.Events)); err != nil {
		c.logger.Error("failed to complete analysis", "run_id", runID, "error", err)
	}
}

func (c *Controller) failRun(runID uint, reason string) {
	c.logger.Error("analysis phase failed", "run_id", runID, "reason", reason)
	if err := c.states.Fail(runID, reason); err != nil {
		c.logger.Error("failed to mark run failed", "run_id", runID, "error", err)
	}
}

// PostDecisions applies a batch decision upsert and returns completeness.
func (c *Controller) PostDecisions(ctx echo.Context) error {
	run, err := c.runParam(ctx)
	if err != nil {
		return err
	}
	var req decisionRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid decision payload")
	}
	if err := c.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	storeReq := &decisions.Request{
		CatalogIDs:     req.CatalogIDs,
		NewFilename:    req.NewFilename,
		TargetCategory: req.TargetCategory,
		Note:           req.Note,
		DecidedBy:      req.DecidedBy,
	}
	if req.Action != nil {
		action := datastore.DecisionAction(*req.Action)
		storeReq.Action = &action
	}

	completeness, err := c.decisions.Upsert(run.ID, storeReq)
	if err != nil {
		var enhanced *errors.EnhancedError
		if errors.As(err, &enhanced) && enhanced.Category != errors.CategoryDatabase {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return c.HandleError(ctx, err, "failed to apply decisions", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, completeness)
}

// GetDecisions returns all decisions for the run.
func (c *Controller) GetDecisions(ctx echo.Context) error {
	run, err := c.runParam(ctx)
	if err != nil {
		return err
	}
	list, err := c.ds.GetDecisions(run.ID)
	if err != nil {
		return c.HandleError(ctx, err, "failed to load decisions", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, list)
}

// Approve validates readiness and marks the run approved. A rejection names
// the blocking files and errors.
func (c *Controller) Approve(ctx echo.Context) error {
	run, err := c.runParam(ctx)
	if err != nil {
		return err
	}

	catalog, err := c.ds.GetCatalogedFiles(run.ID)
	if err != nil {
		return c.HandleError(ctx, err, "failed to load catalog", http.StatusInternalServerError)
	}
	decided, err := c.ds.GetDecisions(run.ID)
	if err != nil {
		return c.HandleError(ctx, err, "failed to load decisions", http.StatusInternalServerError)
	}
	data, err := datastore.DecodeAnalysisData(run.AnalysisData)
	if err != nil {
		return c.HandleError(ctx, err, "failed to decode analysis summary", http.StatusInternalServerError)
	}

	result := readiness.Evaluate(catalog, decided, data)
	if !result.Ready {
		return ctx.JSON(http.StatusBadRequest, map[string]any{
			"message":   "migration is not ready for approval: " + result.Reason(),
			"readiness": result,
		})
	}

	if err := c.states.Approve(run.ID); err != nil {
		return c.rejectTransition(ctx, err, "migration cannot be approved in its current state")
	}
	updated, err := c.ds.GetRun(run.ID)
	if err != nil {
		return c.HandleError(ctx, err, "failed to reload migration run", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, updated)
}

// Execute claims execution of an approved run and starts it in the background.
func (c *Controller) Execute(ctx echo.Context) error {
	run, err := c.runParam(ctx)
	if err != nil {
		return err
	}
	if err := c.executor.Start(run.ID); err != nil {
		return c.rejectTransition(ctx, err, "migration must be approved before execution")
	}
	snapshot, err := c.publisher.Progress(run.ID)
	if err != nil {
		return c.HandleError(ctx, err, "failed to read progress", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusAccepted, snapshot)
}

// RequestCancel cancels a run. While executing it sets the cooperative flag
// observed between events; otherwise it cancels immediately.
func (c *Controller) RequestCancel(ctx echo.Context) error {
	run, err := c.runParam(ctx)
	if err != nil {
		return err
	}
	if run.Status == datastore.RunStatusExecuting {
		if err := c.executor.RequestCancel(run.ID); err != nil {
			return c.HandleError(ctx, err, "failed to request cancellation", http.StatusInternalServerError)
		}
		return ctx.JSON(http.StatusAccepted, map[string]string{
			"message": "cancellation requested; the run stops after the current event",
		})
	}
	if err := c.states.Cancel(run.ID); err != nil {
		return c.rejectTransition(ctx, err, "migration cannot be cancelled in its current state")
	}
	return ctx.JSON(http.StatusOK, map[string]string{"message": "migration cancelled"})
}

// Logs returns the severity-filtered migration logs, newest first.
func (c *Controller) Logs(ctx echo.Context) error {
	run, err := c.runParam(ctx)
	if err != nil {
		return err
	}
	level := datastore.Severity(ctx.QueryParam("level"))
	limit, _ := strconv.Atoi(ctx.QueryParam("limit"))
	logs, err := c.ds.GetLogs(run.ID, level, limit)
	if err != nil {
		return c.HandleError(ctx, err, "failed to load migration logs", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, logs)
}

// Report returns the archival report. Reports of finished runs are cached.
func (c *Controller) Report(ctx echo.Context) error {
	run, err := c.runParam(ctx)
	if err != nil {
		return err
	}

	cacheKey := fmt.Sprintf("report-%d", run.ID)
	if cached, ok := c.reportCache.Get(cacheKey); ok {
		return ctx.JSON(http.StatusOK, cached)
	}

	rep, err := c.publisher.Build(run.ID)
	if err != nil {
		return c.HandleError(ctx, err, "failed to build report", http.StatusInternalServerError)
	}
	switch run.Status {
	case datastore.RunStatusCompleted, datastore.RunStatusFailed, datastore.RunStatusCancelled:
		c.reportCache.Set(cacheKey, rep, 0)
	}
	return ctx.JSON(http.StatusOK, rep)
}

// Delete soft-cancels a run. Rejected with 400 while executing; use the
// cancel endpoint for a cooperative stop.
func (c *Controller) Delete(ctx echo.Context) error {
	run, err := c.runParam(ctx)
	if err != nil {
		return err
	}
	if run.Status == datastore.RunStatusExecuting {
		return echo.NewHTTPError(http.StatusBadRequest,
			"migration is executing; request cancellation instead of deleting")
	}
	if err := c.states.Cancel(run.ID); err != nil {
		return c.rejectTransition(ctx, err, "migration cannot be cancelled in its current state")
	}
	return ctx.JSON(http.StatusOK, map[string]string{"message": "migration cancelled"})
}

// rejectTransition maps a rejected state transition to a 400 with the
// specific reason; everything else is a 500.
func (c *Controller) rejectTransition(ctx echo.Context, err error, message string) error {
	var te *runstate.TransitionError
	if errors.As(err, &te) {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"message": message,
			"error":   te.Error(),
		})
	}
	var enhanced *errors.EnhancedError
	if errors.As(err, &enhanced) {
		switch enhanced.Category {
		case errors.CategoryState, errors.CategoryConflict, errors.CategoryValidation:
			return ctx.JSON(http.StatusBadRequest, map[string]string{
				"message": message,
				"error":   err.Error(),
			})
		}
	}
	return c.HandleError(ctx, err, message, http.StatusInternalServerError)
}
