// lookups.go implements teacher/place reference lookups and the media
// records created during execution.
package datastore

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/opendharma/archive-migrate/internal/errors"
)

// ErrNotFound is returned by lookup queries with no match.
var ErrNotFound = errors.NewStd("record not found")

// FindTeacherByName looks up a teacher by exact name.
func (ds *DataStore) FindTeacherByName(name string) (*Teacher, error) {
	var teacher Teacher
	if err := ds.DB.Where("name = ?", name).First(&teacher).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find teacher %q: %w", name, err)
	}
	return &teacher, nil
}

// CreateTeacher persists a new teacher.
func (ds *DataStore) CreateTeacher(teacher *Teacher) error {
	if err := ds.DB.Create(teacher).Error; err != nil {
		return fmt.Errorf("failed to create teacher %q: %w", teacher.Name, err)
	}
	return nil
}

// FindPlaceByName looks up a place by exact name.
func (ds *DataStore) FindPlaceByName(name string) (*Place, error) {
	var place Place
	if err := ds.DB.Where("name = ?", name).First(&place).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find place %q: %w", name, err)
	}
	return &place, nil
}

// CreatePlace persists a new place.
func (ds *DataStore) CreatePlace(place *Place) error {
	if err := ds.DB.Create(place).Error; err != nil {
		return fmt.Errorf("failed to create place %q: %w", place.Name, err)
	}
	return nil
}

// CreateTrack persists an audio track record.
func (ds *DataStore) CreateTrack(track *Track) error {
	if err := ds.DB.Create(track).Error; err != nil {
		return fmt.Errorf("failed to create track %q: %w", track.Title, err)
	}
	return nil
}

// CreateTranscript persists a transcript record.
func (ds *DataStore) CreateTranscript(transcript *Transcript) error {
	if err := ds.DB.Create(transcript).Error; err != nil {
		return fmt.Errorf("failed to create transcript %q: %w", transcript.Title, err)
	}
	return nil
}

// CreateMediaFile persists a generic media record.
func (ds *DataStore) CreateMediaFile(media *MediaFile) error {
	if err := ds.DB.Create(media).Error; err != nil {
		return fmt.Errorf("failed to create media file %q: %w", media.Filename, err)
	}
	return nil
}

// DeleteRunMediaRecords removes all track/transcript/media records created
// for a run. Used by the rollback_all policy after a failed or cancelled run.
func (ds *DataStore) DeleteRunMediaRecords(migrationID uint) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("migration_id = ?", migrationID).Delete(&Track{}).Error; err != nil {
			return fmt.Errorf("failed to delete tracks for run %d: %w", migrationID, err)
		}
		if err := tx.Where("migration_id = ?", migrationID).Delete(&Transcript{}).Error; err != nil {
			return fmt.Errorf("failed to delete transcripts for run %d: %w", migrationID, err)
		}
		if err := tx.Where("migration_id = ?", migrationID).Delete(&MediaFile{}).Error; err != nil {
			return fmt.Errorf("failed to delete media files for run %d: %w", migrationID, err)
		}
		return nil
	})
}
