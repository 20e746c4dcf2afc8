package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/MimeLyc/subvert/pkg/icron"
	"github.com/MimeLyc/subvert/pkg/log"
)

// Config holds all application configuration.
// It is built once at process start and passed by value afterwards.
//
// Sources, lowest precedence first: built-in defaults, the TOML file named by
// SUBVERT_CONFIG, a .env file (SUBVERT_ENV_FILE, default ".env"), environment
// variables, then Option funcs.
//
// Environment Variables:
// Stash Configuration:
// - STASH_URL: Stash server base URL (default: http://localhost:9999)
// - STASH_API_KEY: API key sent in the ApiKey header (optional)
// - STASH_TIMEOUT: HTTP timeout for catalog and download calls (default: 60s)
//
// Walk Configuration:
// - BATCH_QUANTITY: page size (default: 10)
// - PAGE_DELAY: pause between pages (default: 5s)
// - PATH_REGEX: only visit scenes whose path matches (optional)
// - SUBTITLE_TAG_ID: marker tag id, 0 disables completion tracking (default: 0)
// - EXCLUDE_MARKED: skip scenes already carrying the marker tag (default: true)
//
// Media Configuration:
// - FFMPEG_PATH: ffmpeg binary (default: ffmpeg)
// - STASH_TMPDIR: scratch directory for downloads (default: /root/stash_tmp/)
//
// System Configuration:
// - STASH_LOGFILE: log file (optional)
// - LOG_LEVEL: trace, debug, info, warn, error (default: info)
// - LOG_FORMAT: plain or plugin (default: plain)
// - CRON_EXPR: schedule for the daemon (default: 0 3 * * *)
// - HTTP_ADDR: status API listen address (default: :8080)
// - DATA_DIR: run ledger directory (default: /app/data)
// - HISTORY_RETENTION: how long run history is kept, 0 keeps everything (default: 720h)
type Config struct {
	Stash    StashConfig    `json:"stash"`
	Walk     WalkConfig     `json:"walk"`
	Media    MediaConfig    `json:"media"`
	Log      LogConfig      `json:"log"`
	Schedule ScheduleConfig `json:"schedule"`
	HTTP     HTTPConfig     `json:"http"`
	System   SystemConfig   `json:"system"`
}

type StashConfig struct {
	URL           string        `json:"url"`
	APIKey        string        `json:"-"`
	SessionCookie SessionCookie `json:"-"`
	Timeout       time.Duration `json:"timeout"`
}

// SessionCookie is the Stash session cookie handed to plugins.
type SessionCookie struct {
	Name  string
	Value string
}

type WalkConfig struct {
	BatchSize     int           `json:"batch_size"`
	PageDelay     time.Duration `json:"page_delay"`
	PathRegex     string        `json:"path_regex"`
	MarkerTagID   string        `json:"marker_tag_id"`
	ExcludeMarked bool          `json:"exclude_marked"`
	SortField     string        `json:"sort_field"`
}

type MediaConfig struct {
	FFmpegPath string `json:"ffmpeg_path"`
	ScratchDir string `json:"scratch_dir"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	File   string `json:"file"`
}

type ScheduleConfig struct {
	CronExpr string `json:"cron_expr"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type SystemConfig struct {
	DataDir          string        `json:"data_dir"`
	HistoryRetention time.Duration `json:"history_retention"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// fileConfig mirrors the TOML file layout. Durations are Go duration strings.
type fileConfig struct {
	Stash struct {
		URL     string `toml:"url"`
		APIKey  string `toml:"api_key"`
		Timeout string `toml:"timeout"`
	} `toml:"stash"`
	Walk struct {
		BatchSize     int    `toml:"batch_size"`
		PageDelay     string `toml:"page_delay"`
		PathRegex     string `toml:"path_regex"`
		MarkerTagID   *int   `toml:"marker_tag_id"`
		ExcludeMarked *bool  `toml:"exclude_marked"`
	} `toml:"walk"`
	Media struct {
		FFmpegPath string `toml:"ffmpeg_path"`
		ScratchDir string `toml:"scratch_dir"`
	} `toml:"media"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
		File   string `toml:"file"`
	} `toml:"log"`
	Schedule struct {
		CronExpr string `toml:"cron_expr"`
	} `toml:"schedule"`
	HTTP struct {
		Addr string `toml:"addr"`
	} `toml:"http"`
	System struct {
		DataDir          string `toml:"data_dir"`
		HistoryRetention string `toml:"history_retention"`
	} `toml:"system"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Stash: StashConfig{
			URL:     "http://localhost:9999",
			Timeout: 60 * time.Second,
		},
		Walk: WalkConfig{
			BatchSize:     10,
			PageDelay:     5 * time.Second,
			MarkerTagID:   "",
			ExcludeMarked: true,
			SortField:     "updated_at",
		},
		Media: MediaConfig{
			FFmpegPath: "ffmpeg",
			ScratchDir: "/root/stash_tmp/",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "plain",
		},
		Schedule: ScheduleConfig{
			CronExpr: "0 3 * * *",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		System: SystemConfig{
			DataDir:          "/app/data",
			HistoryRetention: 30 * 24 * time.Hour,
		},
	}
}

// New loads configuration using the TOML file named by SUBVERT_CONFIG, if any.
func New(opts ...Option) (*Config, error) {
	return Load(os.Getenv("SUBVERT_CONFIG"), opts...)
}

// Load builds a Config from defaults, the optional TOML file at path, the
// .env file, environment variables and opts, then validates it.
func Load(path string, opts ...Option) (*Config, error) {
	config := Default()

	if strings.TrimSpace(path) != "" {
		if err := applyFile(&config, path); err != nil {
			return nil, err
		}
	}

	envFile := getEnvString("SUBVERT_ENV_FILE", ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	applyEnv(&config)

	for _, opt := range opts {
		opt(&config)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %s", config)
	return &config, nil
}

func applyFile(c *Config, path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	setString(&c.Stash.URL, fc.Stash.URL)
	setString(&c.Stash.APIKey, fc.Stash.APIKey)
	if err := setDuration(&c.Stash.Timeout, fc.Stash.Timeout, "stash.timeout"); err != nil {
		return err
	}

	if fc.Walk.BatchSize != 0 {
		c.Walk.BatchSize = fc.Walk.BatchSize
	}
	if err := setDuration(&c.Walk.PageDelay, fc.Walk.PageDelay, "walk.page_delay"); err != nil {
		return err
	}
	setString(&c.Walk.PathRegex, fc.Walk.PathRegex)
	if fc.Walk.MarkerTagID != nil {
		c.Walk.MarkerTagID = strconv.Itoa(*fc.Walk.MarkerTagID)
	}
	if fc.Walk.ExcludeMarked != nil {
		c.Walk.ExcludeMarked = *fc.Walk.ExcludeMarked
	}

	setString(&c.Media.FFmpegPath, fc.Media.FFmpegPath)
	setString(&c.Media.ScratchDir, fc.Media.ScratchDir)
	setString(&c.Log.Level, fc.Log.Level)
	setString(&c.Log.Format, fc.Log.Format)
	setString(&c.Log.File, fc.Log.File)
	setString(&c.Schedule.CronExpr, fc.Schedule.CronExpr)
	setString(&c.HTTP.Addr, fc.HTTP.Addr)
	setString(&c.System.DataDir, fc.System.DataDir)
	if err := setDuration(&c.System.HistoryRetention, fc.System.HistoryRetention, "system.history_retention"); err != nil {
		return err
	}
	return nil
}

func applyEnv(c *Config) {
	c.Stash.URL = getEnvString("STASH_URL", c.Stash.URL)
	c.Stash.APIKey = getEnvString("STASH_API_KEY", c.Stash.APIKey)
	c.Stash.Timeout = getEnvDuration("STASH_TIMEOUT", c.Stash.Timeout)

	c.Walk.BatchSize = getEnvInt("BATCH_QUANTITY", c.Walk.BatchSize)
	c.Walk.PageDelay = getEnvDuration("PAGE_DELAY", c.Walk.PageDelay)
	c.Walk.PathRegex = getEnvString("PATH_REGEX", c.Walk.PathRegex)
	c.Walk.MarkerTagID = getEnvString("SUBTITLE_TAG_ID", c.Walk.MarkerTagID)
	c.Walk.ExcludeMarked = getEnvBool("EXCLUDE_MARKED", c.Walk.ExcludeMarked)

	c.Media.FFmpegPath = getEnvString("FFMPEG_PATH", c.Media.FFmpegPath)
	c.Media.ScratchDir = getEnvString("STASH_TMPDIR", c.Media.ScratchDir)

	c.Log.Level = getEnvString("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnvString("LOG_FORMAT", c.Log.Format)
	c.Log.File = getEnvString("STASH_LOGFILE", c.Log.File)

	c.Schedule.CronExpr = getEnvString("CRON_EXPR", c.Schedule.CronExpr)
	c.HTTP.Addr = getEnvString("HTTP_ADDR", c.HTTP.Addr)
	c.System.DataDir = getEnvString("DATA_DIR", c.System.DataDir)
	c.System.HistoryRetention = getEnvDuration("HISTORY_RETENTION", c.System.HistoryRetention)
}

// Validate checks if all required configuration is properly set
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Stash.URL) == "" {
		return fmt.Errorf("STASH_URL is required")
	}
	if u, err := url.Parse(c.Stash.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid STASH_URL %q", c.Stash.URL)
	}
	if c.Walk.BatchSize <= 0 {
		return fmt.Errorf("BATCH_QUANTITY must be positive, got %d", c.Walk.BatchSize)
	}
	if c.Walk.PageDelay < 0 {
		return fmt.Errorf("PAGE_DELAY must not be negative")
	}
	if c.Walk.PathRegex != "" {
		if _, err := regexp.Compile(c.Walk.PathRegex); err != nil {
			return fmt.Errorf("invalid PATH_REGEX: %w", err)
		}
	}
	if c.Walk.MarkerTagID != "" {
		if _, err := strconv.Atoi(c.Walk.MarkerTagID); err != nil {
			return fmt.Errorf("SUBTITLE_TAG_ID must be numeric, got %q", c.Walk.MarkerTagID)
		}
	}
	if strings.TrimSpace(c.Media.FFmpegPath) == "" {
		return fmt.Errorf("FFMPEG_PATH is required")
	}
	if strings.TrimSpace(c.Media.ScratchDir) == "" {
		return fmt.Errorf("STASH_TMPDIR is required")
	}
	if c.System.HistoryRetention < 0 {
		return fmt.Errorf("HISTORY_RETENTION must not be negative")
	}
	if _, err := icron.Parse(c.Schedule.CronExpr); err != nil {
		return fmt.Errorf("invalid CRON_EXPR: %w", err)
	}
	return nil
}

// MarkerTag returns the marker tag id, or "" when completion tracking is disabled.
func (c Config) MarkerTag() string {
	id := strings.TrimSpace(c.Walk.MarkerTagID)
	if id == "" || id == "0" {
		return ""
	}
	return id
}

func (c Config) DBPath() string {
	return filepath.Join(c.System.DataDir, "subvert.db")
}

func (c Config) LockPath() string {
	return filepath.Join(c.System.DataDir, "subvert.lock")
}

// String renders the config with secrets redacted.
func (c Config) String() string {
	apiKey := ""
	if c.Stash.APIKey != "" {
		apiKey = "***"
	}
	return fmt.Sprintf(
		"stash=%s api_key=%s batch=%d delay=%s path_regex=%q marker=%q exclude_marked=%t ffmpeg=%s scratch=%s cron=%q data_dir=%s",
		c.Stash.URL, apiKey, c.Walk.BatchSize, c.Walk.PageDelay, c.Walk.PathRegex, c.Walk.MarkerTagID,
		c.Walk.ExcludeMarked, c.Media.FFmpegPath, c.Media.ScratchDir, c.Schedule.CronExpr, c.System.DataDir,
	)
}

func WithStashURL(u string) Option {
	return func(c *Config) {
		if strings.TrimSpace(u) != "" {
			c.Stash.URL = u
		}
	}
}

func WithAPIKey(key string) Option {
	return func(c *Config) {
		if strings.TrimSpace(key) != "" {
			c.Stash.APIKey = key
		}
	}
}

func WithSessionCookie(name, value string) Option {
	return func(c *Config) {
		if name != "" && value != "" {
			c.Stash.SessionCookie = SessionCookie{Name: name, Value: value}
		}
	}
}

func WithBatchSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Walk.BatchSize = n
		}
	}
}

func WithPageDelay(d time.Duration) Option {
	return func(c *Config) {
		c.Walk.PageDelay = d
	}
}

func WithPathRegex(expr string) Option {
	return func(c *Config) {
		if expr != "" {
			c.Walk.PathRegex = expr
		}
	}
}

func WithMarkerTag(id string) Option {
	return func(c *Config) {
		if id != "" {
			c.Walk.MarkerTagID = id
		}
	}
}

func WithLogFormat(format string) Option {
	return func(c *Config) {
		if format != "" {
			c.Log.Format = format
		}
	}
}

func WithLogLevel(level string) Option {
	return func(c *Config) {
		if level != "" {
			c.Log.Level = level
		}
	}
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, key string) error {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("5s") or bare seconds ("5").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
