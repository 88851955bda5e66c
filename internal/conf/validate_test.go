package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPolicy() PolicySettings {
	return PolicySettings{
		StoragePlacement:   PlacementEventFolder,
		LegacyTracks:       LegacyRetainUnique,
		Mismatch:           MismatchWarn,
		NoAudio:            NoAudioError,
		UnmappedLookup:     UnmappedCreateMissing,
		Rollback:           RollbackKeepCompleted,
		BatchSize:          10,
		BatchDelayMs:       500,
		Concurrency:        4,
		MinSuccessRate:     0.9,
		CheckpointInterval: 5,
	}
}

func TestValidatePolicyAcceptsDefaults(t *testing.T) {
	p := validPolicy()
	require.NoError(t, ValidatePolicy(&p))
	assert.Equal(t, 500*time.Millisecond, p.BatchDelay())
}

func TestValidatePolicyRejectsUnknownEnums(t *testing.T) {
	mutations := []struct {
		name   string
		mutate func(*PolicySettings)
	}{
		{"placement", func(p *PolicySettings) { p.StoragePlacement = "scattered" }},
		{"legacy", func(p *PolicySettings) { p.LegacyTracks = "keep_some" }},
		{"mismatch", func(p *PolicySettings) { p.Mismatch = "shrug" }},
		{"noaudio", func(p *PolicySettings) { p.NoAudio = "whatever" }},
		{"lookup", func(p *PolicySettings) { p.UnmappedLookup = "guess" }},
		{"rollback", func(p *PolicySettings) { p.Rollback = "partial" }},
	}
	for _, tc := range mutations {
		t.Run(tc.name, func(t *testing.T) {
			p := validPolicy()
			tc.mutate(&p)
			assert.Error(t, ValidatePolicy(&p))
		})
	}
}

func TestValidatePolicyRejectsOutOfRangeKnobs(t *testing.T) {
	mutations := []struct {
		name   string
		mutate func(*PolicySettings)
	}{
		{"batchsize", func(p *PolicySettings) { p.BatchSize = 0 }},
		{"delay", func(p *PolicySettings) { p.BatchDelayMs = -1 }},
		{"concurrency", func(p *PolicySettings) { p.Concurrency = 0 }},
		{"rate above one", func(p *PolicySettings) { p.MinSuccessRate = 1.5 }},
		{"rate below zero", func(p *PolicySettings) { p.MinSuccessRate = -0.1 }},
		{"checkpoint", func(p *PolicySettings) { p.CheckpointInterval = 0 }},
	}
	for _, tc := range mutations {
		t.Run(tc.name, func(t *testing.T) {
			p := validPolicy()
			tc.mutate(&p)
			assert.Error(t, ValidatePolicy(&p))
		})
	}
}

func TestValidateSettingsRequiresDatabaseOutput(t *testing.T) {
	settings := &Settings{}
	settings.ObjectStore.Backend = "local"
	settings.ObjectStore.BasePath = "/tmp/archive"
	settings.Policy = validPolicy()

	err := ValidateSettings(settings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite or mysql")
}

func TestValidateObjectStoreSettings(t *testing.T) {
	s := &ObjectStoreSettings{Backend: "sftp", Port: 22}
	assert.Error(t, validateObjectStoreSettings(s), "sftp requires a host")

	s.Host = "archive.example.org"
	assert.NoError(t, validateObjectStoreSettings(s))

	s.Timeout = "not-a-duration"
	assert.Error(t, validateObjectStoreSettings(s))

	s = &ObjectStoreSettings{Backend: "ftp"}
	assert.Error(t, validateObjectStoreSettings(s), "unknown backend")
}
