package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/opendharma/archive-migrate/internal/datastore"
)

// progressPollInterval is how often the stream re-reads the persisted
// counter row while a run is live.
const progressPollInterval = 500 * time.Millisecond

// Progress streams run progress as server-sent events. The stream polls the
// persisted counters, pushes a snapshot whenever they change, emits one
// terminal event when the run reaches a final state, and frees itself when
// the client disconnects.
func (c *Controller) Progress(ctx echo.Context) error {
	run, err := c.runParam(ctx)
	if err != nil {
		return err
	}

	h := ctx.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	ctx.Response().WriteHeader(http.StatusOK)

	flusher, ok := ctx.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}

	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()

	var lastPayload string
	send := func() (terminal bool, err error) {
		snapshot, err := c.publisher.Progress(run.ID)
		if err != nil {
			return false, err
		}
		payload, err := json.Marshal(snapshot)
		if err != nil {
			return false, err
		}

		eventName := "progress"
		if snapshot.Terminal() {
			eventName = "terminal"
		}
		// Unchanged snapshots are suppressed for idle runs, but an
		// executing run keeps emitting so subscribers see a live update
		// at least once per second even during a long event.
		if string(payload) == lastPayload && eventName == "progress" &&
			snapshot.Status != datastore.RunStatusExecuting {
			return false, nil
		}
		lastPayload = string(payload)

		if _, err := fmt.Fprintf(ctx.Response(), "event: %s\ndata: %s\n\n", eventName, payload); err != nil {
			return false, err
		}
		flusher.Flush()
		return snapshot.Terminal(), nil
	}

	if terminal, err := send(); err != nil || terminal {
		return err
	}

	clientGone := ctx.Request().Context().Done()
	for {
		select {
		case <-clientGone:
			return nil
		case <-ticker.C:
			terminal, err := send()
			if err != nil {
				return err
			}
			if terminal {
				return nil
			}
		}
	}
}
