package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_CreatesDefault(t *testing.T) {
	for _, name := range []string{"vital.config", "vital.yaml"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, name)

			cfg, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, 8089, cfg.Server.Port)
			assert.Equal(t, filepath.Join(dir, "data", "uploads"), cfg.GetUploadDir())

			_, err = os.Stat(path)
			require.NoError(t, err, "default config is written")

			again, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, cfg.Processing, again.Processing)
			assert.Equal(t, cfg.Storage, again.Storage)
		})
	}
}

func TestLoadConfig_XML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vital.config")
	xmlDoc := `<?xml version="1.0" encoding="UTF-8"?>
<VitalVisualizer>
  <Server><Port>9000</Port></Server>
  <Storage><EnablePersistence>false</EnablePersistence></Storage>
  <Processing><Timezone>Asia/Seoul</Timezone><MaxConcurrentDecodes>4</MaxConcurrentDecodes></Processing>
</VitalVisualizer>`
	require.NoError(t, os.WriteFile(path, []byte(xmlDoc), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Processing.MaxConcurrentDecodes)
	assert.Empty(t, cfg.ParsedDir())
	assert.Equal(t, 30, cfg.Processing.SessionTimeoutMinutes, "unset fields keep defaults")

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Seoul", loc.String())
}

func TestLoadConfig_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vital.yml")
	doc := "server:\n  port: 7000\nprocessing:\n  timezone: UTC\nadvanced:\n  logLevel: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Advanced.LogLevel)
	assert.Equal(t, filepath.Join(dir, "data", "parsed"), cfg.ParsedDir())
}

func TestLoadConfig_InvalidTimezone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vital.yaml")
	require.NoError(t, os.WriteFile(path, []byte("processing:\n  timezone: Mars/Olympus\n"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("PORT", "9999")
	t.Setenv("DATA_DIR", dataDir)
	t.Setenv("VITAL_TZ", "Europe/Berlin")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "vital.config"))
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, dataDir, cfg.GetDataDir())
	assert.Equal(t, filepath.Join(dataDir, "uploads"), cfg.GetUploadDir())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLocationDefaultsToUTC(t *testing.T) {
	loc, err := DefaultConfig().Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestAllowedOrigins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.AllowOrigins = " http://a , ,http://b"
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.AllowedOrigins())

	cfg.Server.AllowOrigins = ""
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins())
}

func TestAllowedFileTypes(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, []string{".vital", ".gz"}, cfg.AllowedFileTypes())
	cfg.Security.AllowedFileTypes = " .vital , ,"
	assert.Equal(t, []string{".vital"}, cfg.AllowedFileTypes())
	cfg.Security.AllowedFileTypes = ""
	assert.Empty(t, cfg.AllowedFileTypes())
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.resolvePaths(dir)
	require.NoError(t, cfg.EnsureDirectories())

	for _, d := range []string{cfg.GetDataDir(), cfg.GetUploadDir(), cfg.Storage.ParsedDataDirectory} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
