package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// setDefaultConfig sets the default configuration values in viper.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "archive-migrate")
	viper.SetDefault("main.datadir", "data")
	viper.SetDefault("main.logdir", "logs")

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "archive.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("objectstore.backend", "sftp")
	viper.SetDefault("objectstore.port", 22)
	viper.SetDefault("objectstore.basepath", "archive")
	viper.SetDefault("objectstore.timeout", "30s")
	viper.SetDefault("objectstore.maxretries", 3)
	viper.SetDefault("objectstore.targetprefix", "media")

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8090")
	viper.SetDefault("webserver.debug", false)
	viper.SetDefault("webserver.logpath", "logs/api.log")

	viper.SetDefault("policy.storageplacement", string(PlacementEventFolder))
	viper.SetDefault("policy.legacytracks", string(LegacyRetainUnique))
	viper.SetDefault("policy.mismatch", string(MismatchWarn))
	viper.SetDefault("policy.noaudio", string(NoAudioError))
	viper.SetDefault("policy.unmappedlookup", string(UnmappedCreateMissing))
	viper.SetDefault("policy.rollback", string(RollbackKeepCompleted))
	viper.SetDefault("policy.failfast", false)
	viper.SetDefault("policy.batchsize", 10)
	viper.SetDefault("policy.batchdelayms", 500)
	viper.SetDefault("policy.concurrency", 4)
	viper.SetDefault("policy.minsuccessrate", 0.9)
	viper.SetDefault("policy.checkpointinterval", 5)
}

// createDefaultConfig writes the current viper defaults to a new config file.
func createDefaultConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	settings := viper.AllSettings()
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling default settings: %w", err)
	}

	if err := os.WriteFile(configPath, yamlData, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}
	return nil
}

// asConfigFileNotFound reports whether err is viper's config-file-not-found error.
func asConfigFileNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	return errors.As(err, target)
}
