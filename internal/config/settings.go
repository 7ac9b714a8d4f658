package config

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Settings holds the resolved application configuration.
type Settings struct {
	DataDir string `mapstructure:"data_dir"`

	Server ServerSettings `mapstructure:"server"`
	Sync   SyncSettings   `mapstructure:"sync"`
	Search SearchSettings `mapstructure:"search"`
}

// ServerSettings configuration for the HTTP search API.
type ServerSettings struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// SyncSettings configuration for the periodic index synchronizer.
type SyncSettings struct {
	BatchSize     int    `mapstructure:"batch_size"`
	RetryAttempts int    `mapstructure:"retry_attempts"`
	LogPath       string `mapstructure:"log_path"`
}

// SearchSettings configuration for the query surface.
type SearchSettings struct {
	PageSize      int    `mapstructure:"page_size"`
	HighlightPre  string `mapstructure:"highlight_pre"`
	HighlightPost string `mapstructure:"highlight_post"`
}

// DBPath returns the sqlite database path under the data directory.
func (s *Settings) DBPath() string {
	return filepath.Join(s.DataDir, "posts.db")
}

// IndexPath returns the bleve index path under the data directory.
func (s *Settings) IndexPath() string {
	return filepath.Join(s.DataDir, "posts.bleve")
}

// StatePath returns the sync watermark state file path.
func (s *Settings) StatePath() string {
	return filepath.Join(s.DataDir, "sync_state.json")
}

// RegisterFlags registers CLI flags on the given FlagSet.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("data-dir", "d", "", "Directory for database, index and state files")
	flags.String("host", "", "Host for the HTTP server")
	flags.IntP("port", "p", 0, "Port for the HTTP server")
	flags.String("sync-log", "", "Path of the append-only sync log file")
}

// LoadSettings loads settings from environment variables and optional .env file.
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	v.SetDefault("data_dir", "./data")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 6893)
	v.SetDefault("server.probe_timeout", 10*time.Second)
	v.SetDefault("sync.batch_size", 500)
	v.SetDefault("sync.retry_attempts", 3)
	v.SetDefault("sync.log_path", "./data/sync.log")
	v.SetDefault("search.page_size", 10)
	v.SetDefault("search.highlight_pre", "<mark>")
	v.SetDefault("search.highlight_post", "</mark>")

	v.SetEnvPrefix("POSTSEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("data_dir", "POSTSEARCH_DATA_DIR")
	_ = v.BindEnv("server.host", "POSTSEARCH_SERVER_HOST")
	_ = v.BindEnv("server.port", "POSTSEARCH_SERVER_PORT")
	_ = v.BindEnv("server.probe_timeout", "POSTSEARCH_SERVER_PROBE_TIMEOUT")
	_ = v.BindEnv("sync.batch_size", "POSTSEARCH_SYNC_BATCH_SIZE")
	_ = v.BindEnv("sync.retry_attempts", "POSTSEARCH_SYNC_RETRY_ATTEMPTS")
	_ = v.BindEnv("sync.log_path", "POSTSEARCH_SYNC_LOG_PATH")
	_ = v.BindEnv("search.page_size", "POSTSEARCH_SEARCH_PAGE_SIZE")
	_ = v.BindEnv("search.highlight_pre", "POSTSEARCH_SEARCH_HIGHLIGHT_PRE")
	_ = v.BindEnv("search.highlight_post", "POSTSEARCH_SEARCH_HIGHLIGHT_POST")

	if flags != nil {
		_ = v.BindPFlag("data_dir", flags.Lookup("data-dir"))
		_ = v.BindPFlag("server.host", flags.Lookup("host"))
		_ = v.BindPFlag("server.port", flags.Lookup("port"))
		_ = v.BindPFlag("sync.log_path", flags.Lookup("sync-log"))
	}

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	return &settings, nil
}

// ValidateSettings checks the resolved settings for invalid values.
func ValidateSettings(s *Settings) error {
	if s.DataDir == "" {
		return errors.New("data-dir cannot be empty")
	}
	if s.Server.Port <= 0 || s.Server.Port > 65535 {
		return errors.New("port must be in range 1-65535")
	}
	if s.Server.ProbeTimeout <= 0 {
		return errors.New("probe-timeout must be positive")
	}
	if s.Sync.BatchSize <= 0 {
		return errors.New("sync batch-size must be positive")
	}
	if s.Sync.RetryAttempts <= 0 {
		return errors.New("sync retry-attempts must be positive")
	}
	if s.Sync.LogPath == "" {
		return errors.New("sync log path cannot be empty")
	}
	if s.Search.PageSize <= 0 {
		return errors.New("search page-size must be positive")
	}
	return nil
}
