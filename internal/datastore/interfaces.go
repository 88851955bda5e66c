// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/opendharma/archive-migrate/internal/conf"
)

// Interface abstracts the underlying database implementation and defines
// the operations the migration pipeline performs against it.
type Interface interface {
	Open() error
	Close() error

	// Migration runs
	CreateRun(run *MigrationRun) error
	GetRun(id uint) (*MigrationRun, error)
	ListRuns(limit, offset int) ([]MigrationRun, error)
	UpdateRunFields(id uint, fields map[string]any) error
	// TransitionRun atomically moves a run from one of the given statuses to
	// the target status, applying extra fields in the same statement. It
	// reports whether the transition was claimed.
	TransitionRun(id uint, from []RunStatus, to RunStatus, fields map[string]any) (bool, error)
	// RecordEventOutcome persists one event's execution outcome and updates
	// the run's counters and progress in a single atomic read-modify-write.
	RecordEventOutcome(runID, eventID uint, outcome EventStatus, errMsg string) error
	RequestCancel(id uint) (bool, error)
	IsCancelRequested(id uint) (bool, error)
	SaveCheckpoint(runID uint, processedEvents int) error

	// Event records
	SaveEventRecords(events []EventRecord) error
	GetEventRecords(migrationID uint) ([]EventRecord, error)

	// Cataloged files
	SaveCatalogedFiles(files []CatalogedFile) error
	GetCatalogedFiles(migrationID uint) ([]CatalogedFile, error)
	CountCatalogedFiles(migrationID uint) (int64, error)

	// File decisions
	UpsertDecision(decision *FileDecision, fields map[string]any) error
	GetDecisions(migrationID uint) ([]FileDecision, error)
	CountDecided(migrationID uint) (decided, total int64, err error)

	// Migration logs
	AppendLog(entry *MigrationLog) error
	GetLogs(migrationID uint, level Severity, limit int) ([]MigrationLog, error)

	// Teacher/place lookups
	FindTeacherByName(name string) (*Teacher, error)
	CreateTeacher(teacher *Teacher) error
	FindPlaceByName(name string) (*Place, error)
	CreatePlace(place *Place) error

	// Media records created during execution
	CreateTrack(track *Track) error
	CreateTranscript(transcript *Transcript) error
	CreateMediaFile(media *MediaFile) error
	DeleteRunMediaRecords(migrationID uint) error
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new datastore instance based on the provided configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

// performAutoMigration runs GORM auto-migration for all pipeline entities.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(
		&MigrationRun{},
		&EventRecord{},
		&CatalogedFile{},
		&FileDecision{},
		&MigrationLog{},
		&Teacher{},
		&Place{},
		&Track{},
		&Transcript{},
		&MediaFile{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}
	if debug {
		getLogger().Info("database auto-migration complete", "type", dbType, "connection", connectionInfo)
	}
	return nil
}

// Close closes the underlying database connection.
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access underlying connection: %w", err)
	}
	return sqlDB.Close()
}
