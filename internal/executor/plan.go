package executor

import (
	"path"

	"github.com/opendharma/archive-migrate/internal/datastore"
)

// fileTask is one planned object operation: copy the source object to its
// resolved target key, then create the matching database record.
type fileTask struct {
	file     *datastore.CatalogedFile
	decision *datastore.FileDecision
	target   string
}

// eventTask groups the decided files of one event. Events are the unit of
// processing and of outcome accounting.
type eventTask struct {
	event *datastore.EventRecord
	files []fileTask
}

// buildPlan joins events, catalog, and decisions into per-event work. Only
// include and rename decisions produce file tasks; an event without any
// lands in the plan with no files and is later recorded as skipped.
func buildPlan(events []datastore.EventRecord, catalog []datastore.CatalogedFile, decisions []datastore.FileDecision) []eventTask {
	filesByID := make(map[uint]*datastore.CatalogedFile, len(catalog))
	for i := range catalog {
		filesByID[catalog[i].ID] = &catalog[i]
	}

	tasksByEvent := make(map[string][]fileTask)
	for i := range decisions {
		decision := &decisions[i]
		if decision.Action != datastore.ActionInclude && decision.Action != datastore.ActionRename {
			continue
		}
		file, ok := filesByID[decision.CatalogID]
		if !ok {
			continue
		}
		tasksByEvent[file.EventCode] = append(tasksByEvent[file.EventCode], fileTask{
			file:     file,
			decision: decision,
			target:   resolveTarget(file, decision),
		})
	}

	plan := make([]eventTask, 0, len(events))
	for i := range events {
		plan = append(plan, eventTask{
			event: &events[i],
			files: tasksByEvent[events[i].EventCode],
		})
	}
	return plan
}

// resolveTarget applies the rename decision on top of the analyzer/dedup
// computed target key. Files without a computed key keep their source key.
func resolveTarget(file *datastore.CatalogedFile, decision *datastore.FileDecision) string {
	target := file.TargetKey()
	if target == "" {
		target = file.ObjectKey
	}
	if decision.Action == datastore.ActionRename && decision.NewFilename != "" {
		target = path.Join(path.Dir(target), decision.NewFilename)
	}
	return target
}
