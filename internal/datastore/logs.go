// logs.go implements the append-only migration log.
package datastore

import (
	"fmt"
)

// AppendLog appends one timestamped log record to a run's log.
func (ds *DataStore) AppendLog(entry *MigrationLog) error {
	if err := ds.DB.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append migration log: %w", err)
	}
	return nil
}

// GetLogs returns log records for a run, optionally filtered by severity,
// newest first, capped at limit.
func (ds *DataStore) GetLogs(migrationID uint, level Severity, limit int) ([]MigrationLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := ds.DB.Where("migration_id = ?", migrationID)
	if level != "" {
		query = query.Where("level = ?", level)
	}
	var logs []MigrationLog
	if err := query.Order("id DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to get logs for run %d: %w", migrationID, err)
	}
	return logs, nil
}
