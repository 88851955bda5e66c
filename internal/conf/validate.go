// conf/validate.go

package conf

import (
	"fmt"
	"strconv"
	"time"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateOutputSettings(settings); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateObjectStoreSettings(&settings.ObjectStore); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateWebServerSettings(&settings.WebServer); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := ValidatePolicy(&settings.Policy); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateOutputSettings(settings *Settings) error {
	if !settings.Output.SQLite.Enabled && !settings.Output.MySQL.Enabled {
		return fmt.Errorf("output: either sqlite or mysql must be enabled")
	}
	if settings.Output.SQLite.Enabled && settings.Output.SQLite.Path == "" {
		return fmt.Errorf("output: sqlite path must not be empty")
	}
	if settings.Output.MySQL.Enabled {
		if settings.Output.MySQL.Database == "" {
			return fmt.Errorf("output: mysql database name must not be empty")
		}
		if settings.Output.MySQL.Host == "" {
			return fmt.Errorf("output: mysql host must not be empty")
		}
	}
	return nil
}

func validateObjectStoreSettings(os *ObjectStoreSettings) error {
	switch os.Backend {
	case "sftp":
		if os.Host == "" {
			return fmt.Errorf("objectstore: host is required for sftp backend")
		}
		if os.Port <= 0 || os.Port > 65535 {
			return fmt.Errorf("objectstore: invalid sftp port %d", os.Port)
		}
	case "local":
		if os.BasePath == "" {
			return fmt.Errorf("objectstore: basepath is required for local backend")
		}
	default:
		return fmt.Errorf("objectstore: unknown backend %q (must be sftp or local)", os.Backend)
	}
	if os.Timeout != "" {
		if _, err := time.ParseDuration(os.Timeout); err != nil {
			return fmt.Errorf("objectstore: invalid timeout %q: %w", os.Timeout, err)
		}
	}
	if os.MaxRetries < 0 {
		return fmt.Errorf("objectstore: maxretries must not be negative")
	}
	return nil
}

func validateWebServerSettings(ws *WebServerSettings) error {
	if !ws.Enabled {
		return nil
	}
	port, err := strconv.Atoi(ws.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("webserver: invalid port %q", ws.Port)
	}
	return nil
}

// ValidatePolicy validates the policy document. Unknown enum values or
// out-of-range knobs fail before any pipeline phase runs.
func ValidatePolicy(p *PolicySettings) error {
	switch p.StoragePlacement {
	case PlacementEventFolder, PlacementFlat:
	default:
		return fmt.Errorf("policy: unknown storageplacement %q", p.StoragePlacement)
	}
	switch p.LegacyTracks {
	case LegacyRetainUnique, LegacyIgnoreAll:
	default:
		return fmt.Errorf("policy: unknown legacytracks %q", p.LegacyTracks)
	}
	switch p.Mismatch {
	case MismatchWarn, MismatchFail:
	default:
		return fmt.Errorf("policy: unknown mismatch %q", p.Mismatch)
	}
	switch p.NoAudio {
	case NoAudioError, NoAudioAllowPlaceholder:
	default:
		return fmt.Errorf("policy: unknown noaudio %q", p.NoAudio)
	}
	switch p.UnmappedLookup {
	case UnmappedCreateMissing, UnmappedSkipEvent, UnmappedFail:
	default:
		return fmt.Errorf("policy: unknown unmappedlookup %q", p.UnmappedLookup)
	}
	switch p.Rollback {
	case RollbackKeepCompleted, RollbackAll:
	default:
		return fmt.Errorf("policy: unknown rollback %q", p.Rollback)
	}

	if p.BatchSize < 1 {
		return fmt.Errorf("policy: batchsize must be at least 1, got %d", p.BatchSize)
	}
	if p.BatchDelayMs < 0 {
		return fmt.Errorf("policy: batchdelayms must not be negative, got %d", p.BatchDelayMs)
	}
	if p.Concurrency < 1 {
		return fmt.Errorf("policy: concurrency must be at least 1, got %d", p.Concurrency)
	}
	if p.MinSuccessRate < 0 || p.MinSuccessRate > 1 {
		return fmt.Errorf("policy: minsuccessrate must be between 0 and 1, got %v", p.MinSuccessRate)
	}
	if p.CheckpointInterval < 1 {
		return fmt.Errorf("policy: checkpointinterval must be at least 1, got %d", p.CheckpointInterval)
	}
	return nil
}

// BatchDelay returns the configured inter-batch delay as a duration.
func (p *PolicySettings) BatchDelay() time.Duration {
	return time.Duration(p.BatchDelayMs) * time.Millisecond
}
