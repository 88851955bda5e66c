// config.go: This file contains the configuration for the archive migration service.
// It defines the settings struct and functions to load and validate the settings.
package conf

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// StoragePlacementStrategy controls where migrated objects are placed in the store.
type StoragePlacementStrategy string

const (
	PlacementEventFolder StoragePlacementStrategy = "event_folder" // one prefix per event code
	PlacementFlat        StoragePlacementStrategy = "flat"         // all objects under a single prefix
)

// LegacyTrackStrategy controls how non-canonical audio collections are handled.
type LegacyTrackStrategy string

const (
	LegacyRetainUnique LegacyTrackStrategy = "retain_unique" // keep unmatched tracks under legacy/
	LegacyIgnoreAll    LegacyTrackStrategy = "ignore_all"    // drop the whole non-canonical collection
)

// MismatchStrategy controls how expected-vs-parsed track count mismatches resolve.
type MismatchStrategy string

const (
	MismatchWarn MismatchStrategy = "warn" // emit a warning issue and continue
	MismatchFail MismatchStrategy = "fail" // emit an error issue, blocking approval
)

// NoAudioStrategy controls events with no discovered audio objects.
type NoAudioStrategy string

const (
	NoAudioError            NoAudioStrategy = "error"
	NoAudioAllowPlaceholder NoAudioStrategy = "allow_placeholder"
)

// UnmappedLookupStrategy controls teacher/place names with no database match.
type UnmappedLookupStrategy string

const (
	UnmappedCreateMissing UnmappedLookupStrategy = "create_missing"
	UnmappedSkipEvent     UnmappedLookupStrategy = "skip_event"
	UnmappedFail          UnmappedLookupStrategy = "fail"
)

// RollbackStrategy controls what happens to copied objects when a run fails or is cancelled.
type RollbackStrategy string

const (
	RollbackKeepCompleted RollbackStrategy = "keep_completed"
	RollbackAll           RollbackStrategy = "rollback_all"
)

// PolicySettings is the declarative policy document gating every pipeline phase.
// It is validated eagerly at load time; unknown enum values fail before any phase runs.
type PolicySettings struct {
	StoragePlacement StoragePlacementStrategy `yaml:"storageplacement"` // object placement strategy
	LegacyTracks     LegacyTrackStrategy      `yaml:"legacytracks"`     // non-canonical collection handling
	Mismatch         MismatchStrategy         `yaml:"mismatch"`         // track count mismatch resolution
	NoAudio          NoAudioStrategy          `yaml:"noaudio"`          // events without audio
	UnmappedLookup   UnmappedLookupStrategy   `yaml:"unmappedlookup"`   // unknown teacher/place names
	Rollback         RollbackStrategy         `yaml:"rollback"`         // failure/cancel rollback policy

	FailFast           bool    `yaml:"failfast"`           // abort execution on the first event failure
	BatchSize          int     `yaml:"batchsize"`          // events per execution batch
	BatchDelayMs       int     `yaml:"batchdelayms"`       // delay between batches in milliseconds
	Concurrency        int     `yaml:"concurrency"`        // concurrent object-store operations per batch
	MinSuccessRate     float64 `yaml:"minsuccessrate"`     // 0..1, hard gate during execution
	CheckpointInterval int     `yaml:"checkpointinterval"` // events between execution checkpoints
}

// SQLiteSettings contains settings for the SQLite database output.
type SQLiteSettings struct {
	Enabled bool   // true to enable sqlite
	Path    string // path to sqlite database file
}

// MySQLSettings contains settings for the MySQL database output.
type MySQLSettings struct {
	Enabled  bool   // true to enable mysql
	Username string // mysql username
	Password string // mysql password
	Database string // mysql database name
	Host     string // mysql host
	Port     string // mysql port
}

// ObjectStoreSettings configures access to the object store holding legacy media.
type ObjectStoreSettings struct {
	Backend      string // "sftp" or "local"
	Host         string // sftp host
	Port         int    // sftp port
	Username     string // sftp username
	Password     string // sftp password
	KeyFile      string // path to ssh private key
	BasePath     string // base prefix for all object keys
	Timeout      string // connection timeout, e.g. "30s"
	MaxRetries   int    // retries for transient operations
	TargetPrefix string // prefix under which migrated objects are written
}

// WebServerSettings contains settings for the HTTP control surface.
type WebServerSettings struct {
	Enabled bool   // true to enable the web server
	Port    string // port for the web server
	Debug   bool   // true to enable debug logging for the API
	LogPath string // path to the API log file
}

// Settings contains all runtime settings for the migration service.
type Settings struct {
	Debug bool // true to enable debug level logging

	Main struct {
		Name    string // service instance name
		DataDir string // directory for uploaded source files and reports
		LogDir  string // directory for service log files
	}

	Output struct {
		SQLite SQLiteSettings
		MySQL  MySQLSettings
	}

	ObjectStore ObjectStoreSettings
	WebServer   WebServerSettings
	Policy      PolicySettings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration into the global settings instance and validates it.
func Load() (*Settings, error) {
	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()
	return settings, nil
}

// initViper initializes viper with the config file search paths and defaults.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !asConfigFileNotFound(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file found, create one from the defaults.
		configPath := filepath.Join(configPaths[0], "config.yaml")
		if err := createDefaultConfig(configPath); err != nil {
			return fmt.Errorf("error creating default config file: %w", err)
		}
		log.Printf("Created default config file at %s", configPath)
		return viper.ReadInConfig()
	}
	return nil
}

// Setting returns the global settings instance, loading it if necessary.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("error loading settings: %v", err)
			}
		}
	})
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// GetDefaultConfigPaths returns the default config file search paths.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user home directory: %w", err)
	}
	return []string{
		filepath.Join(homeDir, ".config", "archive-migrate"),
		".",
	}, nil
}
