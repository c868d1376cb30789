package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Run from an empty directory so no settings file is picked up
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "/static", cfg.Paths.StaticPrefix)
	assert.Equal(t, "static", cfg.Paths.StaticDir)

	assert.True(t, cfg.Store.Enabled)
	assert.Equal(t, filepath.Join("data", "txtconv.db"), cfg.Store.Path)

	assert.Equal(t, "utf-8", cfg.Convert.DefaultTarget)
	assert.EqualValues(t, 1<<20, cfg.Convert.MaxTextBytes)
	assert.Equal(t, 4, cfg.Convert.BatchWorkers)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromSettingsFileInParentDir(t *testing.T) {
	// settings.yml one directory above the working directory, as deployed
	parent := t.TempDir()
	workDir := filepath.Join(parent, "server")
	require.NoError(t, os.Mkdir(workDir, 0755))

	settings := `
server:
  port: 9090
  read_timeout: 5s
convert:
  default_target: gbk
  batch_workers: 2
paths:
  static_prefix: /assets
`
	require.NoError(t, os.WriteFile(filepath.Join(parent, "settings.yml"), []byte(settings), 0644))

	chdir(t, workDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "gbk", cfg.Convert.DefaultTarget)
	assert.Equal(t, 2, cfg.Convert.BatchWorkers)
	assert.Equal(t, "/assets", cfg.Paths.StaticPrefix)

	// Values the file does not mention keep their defaults
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "static", cfg.Paths.StaticDir)
}

func TestLoadBooleanFalseFromFileWinsOverDefault(t *testing.T) {
	// "enabled: false" must turn features off even when the default is true
	dir := t.TempDir()
	settings := `
store:
  enabled: false
security:
  enable_cors: false
  rate_limit:
    enabled: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.yml"), []byte(settings), 0644))

	chdir(t, dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Store.Enabled)
	assert.False(t, cfg.Security.EnableCORS)
	assert.False(t, cfg.Security.RateLimit.Enabled)
}

func TestLoadBooleansAbsentFromFileKeepDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.yml"),
		[]byte("store:\n  path: other.db\n"), 0644))

	chdir(t, dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Store.Enabled)
	assert.Equal(t, "other.db", cfg.Store.Path)
	assert.True(t, cfg.Security.EnableCORS)
	assert.True(t, cfg.Security.RateLimit.Enabled)
}

func TestLoadLocalSettingsTakePrecedenceOverParent(t *testing.T) {
	parent := t.TempDir()
	workDir := filepath.Join(parent, "server")
	require.NoError(t, os.Mkdir(workDir, 0755))

	require.NoError(t, os.WriteFile(filepath.Join(parent, "settings.yml"),
		[]byte("server:\n  port: 9090\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "settings.yml"),
		[]byte("server:\n  port: 7070\n"), 0644))

	chdir(t, workDir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.yml"),
		[]byte("server:\n  port: 9090\n"), 0644))

	chdir(t, dir)
	t.Setenv("TXTCONV_SERVER_PORT", "6060")
	t.Setenv("TXTCONV_CONVERT_DEFAULT_TARGET", "big5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Server.Port)
	assert.Equal(t, "big5", cfg.Convert.DefaultTarget)
}

func TestLoadInvalidSettingsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.yml"),
		[]byte("server: [not a mapping"), 0644))

	chdir(t, dir)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settings")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default",
			mutate: func(c *Config) {},
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = -1 },
			wantErr: "invalid server port",
		},
		{
			name:    "zero read timeout",
			mutate:  func(c *Config) { c.Server.ReadTimeout = 0 },
			wantErr: "read timeout",
		},
		{
			name:    "static prefix without slash",
			mutate:  func(c *Config) { c.Paths.StaticPrefix = "static" },
			wantErr: "static prefix",
		},
		{
			name:    "zero upload limit",
			mutate:  func(c *Config) { c.Convert.MaxUploadBytes = 0 },
			wantErr: "max upload bytes",
		},
		{
			name:    "no allowed origins",
			mutate:  func(c *Config) { c.Security.AllowedOrigins = nil },
			wantErr: "allowed origin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateNormalizesLoggingFormat(t *testing.T) {
	cfg := Default()
	cfg.Logging.Format = "text"
	require.NoError(t, cfg.validate())
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.LogsDir = filepath.Join(dir, "logs")
	cfg.Store.Path = filepath.Join(dir, "db", "txtconv.db")

	require.NoError(t, cfg.EnsureDirectories())

	for _, d := range []string{cfg.Paths.DataDir, cfg.Paths.LogsDir, filepath.Join(dir, "db")} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

// chdir switches the working directory for the duration of a test
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
