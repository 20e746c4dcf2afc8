package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateEnv points the .env lookup at an empty directory so a developer's
// local .env never leaks into tests.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SUBVERT_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("SUBVERT_CONFIG", "")
	for _, key := range []string{
		"STASH_URL", "STASH_API_KEY", "STASH_TIMEOUT", "BATCH_QUANTITY", "PAGE_DELAY",
		"PATH_REGEX", "SUBTITLE_TAG_ID", "EXCLUDE_MARKED", "FFMPEG_PATH", "STASH_TMPDIR",
		"LOG_LEVEL", "LOG_FORMAT", "STASH_LOGFILE", "CRON_EXPR", "HTTP_ADDR", "DATA_DIR",
		"HISTORY_RETENTION",
	} {
		t.Setenv(key, "")
	}
}

func TestNew_Defaults(t *testing.T) {
	isolateEnv(t)

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9999", cfg.Stash.URL)
	assert.Equal(t, 10, cfg.Walk.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Walk.PageDelay)
	assert.True(t, cfg.Walk.ExcludeMarked)
	assert.Equal(t, "updated_at", cfg.Walk.SortField)
	assert.Equal(t, "", cfg.MarkerTag())
	assert.Equal(t, "/root/stash_tmp/", cfg.Media.ScratchDir)
	assert.Equal(t, filepath.Join("/app/data", "subvert.db"), cfg.DBPath())
	assert.Equal(t, 720*time.Hour, cfg.System.HistoryRetention)
}

func TestNew_FromEnv(t *testing.T) {
	isolateEnv(t)
	t.Setenv("STASH_URL", "http://stash:9999")
	t.Setenv("BATCH_QUANTITY", "25")
	t.Setenv("PAGE_DELAY", "2")
	t.Setenv("SUBTITLE_TAG_ID", "42")
	t.Setenv("EXCLUDE_MARKED", "false")
	t.Setenv("DATA_DIR", "/tmp/subvert-data")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "http://stash:9999", cfg.Stash.URL)
	assert.Equal(t, 25, cfg.Walk.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Walk.PageDelay)
	assert.Equal(t, "42", cfg.MarkerTag())
	assert.False(t, cfg.Walk.ExcludeMarked)
	assert.Equal(t, filepath.Join("/tmp/subvert-data", "subvert.lock"), cfg.LockPath())
}

func TestLoad_FileThenEnvThenOptions(t *testing.T) {
	isolateEnv(t)

	path := filepath.Join(t.TempDir(), "subvert.toml")
	content := `
[stash]
url = "http://from-file:9999"
api_key = "file-key"

[walk]
batch_size = 50
page_delay = "250ms"
marker_tag_id = 7
exclude_marked = false

[media]
scratch_dir = "/scratch"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("BATCH_QUANTITY", "20")

	cfg, err := Load(path, WithMarkerTag("9"))
	require.NoError(t, err)

	assert.Equal(t, "http://from-file:9999", cfg.Stash.URL)
	assert.Equal(t, "file-key", cfg.Stash.APIKey)
	assert.Equal(t, 20, cfg.Walk.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Walk.PageDelay)
	assert.False(t, cfg.Walk.ExcludeMarked)
	assert.Equal(t, "9", cfg.MarkerTag())
	assert.Equal(t, "/scratch", cfg.Media.ScratchDir)
}

func TestLoad_EnvFile(t *testing.T) {
	isolateEnv(t)

	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("STASH_TMPDIR=/from-dotenv\n"), 0o644))
	t.Setenv("SUBVERT_ENV_FILE", envFile)
	// godotenv never overrides variables that already exist, even empty ones.
	require.NoError(t, os.Unsetenv("STASH_TMPDIR"))

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "/from-dotenv", cfg.Media.ScratchDir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty url", mutate: func(c *Config) { c.Stash.URL = "" }},
		{name: "relative url", mutate: func(c *Config) { c.Stash.URL = "localhost" }},
		{name: "zero batch", mutate: func(c *Config) { c.Walk.BatchSize = 0 }},
		{name: "negative delay", mutate: func(c *Config) { c.Walk.PageDelay = -time.Second }},
		{name: "bad regex", mutate: func(c *Config) { c.Walk.PathRegex = "([" }},
		{name: "non numeric marker", mutate: func(c *Config) { c.Walk.MarkerTagID = "subs" }},
		{name: "empty ffmpeg", mutate: func(c *Config) { c.Media.FFmpegPath = " " }},
		{name: "bad cron", mutate: func(c *Config) { c.Schedule.CronExpr = "bad cron" }},
	}

	valid := Default()
	require.NoError(t, valid.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMarkerTag_ZeroDisables(t *testing.T) {
	cfg := Default()
	cfg.Walk.MarkerTagID = "0"
	assert.Equal(t, "", cfg.MarkerTag())
}

func TestString_RedactsAPIKey(t *testing.T) {
	cfg := Default()
	cfg.Stash.APIKey = "secret-value"
	assert.NotContains(t, cfg.String(), "secret-value")
	assert.Contains(t, cfg.String(), "api_key=***")
}
