// Package switcher selects and writes the APT source configuration
// for the detected region, wrapping the mutation in a
// backup/apply/verify/rollback transaction.
package switcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

// Environment variables forming the runtime configuration surface.
const (
	EnvForceCountry     = "FORCE_COUNTRY"
	EnvDisableSpeedTest = "DISABLE_SPEED_TEST"
	EnvDebug            = "DEBUG"
)

// LogConfig represents slog configuration options.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Apply configures the global slog logger based on the configuration.
func (logConfig *LogConfig) Apply() error {
	var level slog.Level
	switch strings.ToLower(logConfig.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return errors.New("invalid log level: " + logConfig.Level)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(logConfig.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "plain", "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return errors.New("invalid log format: " + logConfig.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// Config is a struct to read TOML configurations.
//
// Use https://github.com/BurntSushi/toml as follows:
//
//	config := switcher.NewConfig()
//	md, err := toml.DecodeFile("/path/to/sourcectl.toml", config)
//	if err != nil {
//	    ...
//	}
type Config struct {
	// SourcesList is the primary source file.
	SourcesList string `toml:"sources_list"`
	// SourcesDir is the drop-in directory of supplementary fragments.
	SourcesDir string `toml:"sources_dir"`
	// CacheDir holds the downloaded package index files.
	CacheDir string `toml:"cache_dir"`
	// BackupDir receives one timestamped backup set per run.
	BackupDir string `toml:"backup_dir"`
	// AuxFiles are known stale files removed best-effort during cleanup.
	AuxFiles []string `toml:"aux_files"`
	// ScanDirs are searched for files referencing known mirrors.
	ScanDirs []string `toml:"scan_dirs"`

	// PGPKeyPath enables signature verification of the probed
	// InRelease file when set.
	PGPKeyPath string `toml:"pgp_key_path,omitempty"`

	ForceRegion      string `toml:"force_region,omitempty"`
	DisableSpeedTest bool   `toml:"disable_speed_test,omitempty"`

	Log LogConfig `toml:"log"`
}

// NewConfig creates Config with default values.
func NewConfig() *Config {
	return &Config{
		SourcesList: "/etc/apt/sources.list",
		SourcesDir:  "/etc/apt/sources.list.d",
		CacheDir:    "/var/lib/apt/lists",
		BackupDir:   "/var/backups/sourcectl",
		AuxFiles: []string{
			"/etc/apt/sources.list.save",
			"/etc/apt/sources.list.distUpgrade",
			"/etc/apt/sources.list.bak",
		},
		ScanDirs: []string{
			"/etc/apt",
			"/etc/apt/sources.list.d",
			"/var/lib/apt/lists",
		},
	}
}

// Check validates the configuration.
func (c *Config) Check() error {
	for name, p := range map[string]string{
		"sources_list": c.SourcesList,
		"sources_dir":  c.SourcesDir,
		"cache_dir":    c.CacheDir,
		"backup_dir":   c.BackupDir,
	} {
		if p == "" {
			return errors.New(name + " is not set")
		}
		if !filepath.IsAbs(p) {
			return errors.New(name + " must be an absolute path")
		}
	}

	if c.PGPKeyPath != "" {
		if !filepath.IsAbs(c.PGPKeyPath) {
			return errors.New("pgp_key_path must be an absolute path")
		}
		if _, err := os.Stat(c.PGPKeyPath); err != nil {
			return errors.Wrap(err, "pgp_key_path")
		}
	}

	return nil
}

// ApplyEnvironment overlays the environment configuration surface on
// top of the decoded configuration.  A .env file in the working
// directory is honored when present; its absence is not an error.
func (c *Config) ApplyEnvironment() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Debug("no .env file loaded", "error", err)
	}

	if v := os.Getenv(EnvForceCountry); v != "" {
		c.ForceRegion = v
	}

	if v := os.Getenv(EnvDisableSpeedTest); v != "" {
		disabled, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s value %q", EnvDisableSpeedTest, v)
		}
		c.DisableSpeedTest = disabled
	}

	if v := os.Getenv(EnvDebug); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s value %q", EnvDebug, v)
		}
		if debug {
			c.Log.Level = "debug"
		}
	}

	return nil
}
