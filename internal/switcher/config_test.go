package switcher

import (
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
)

func TestNewConfigDefaults(t *testing.T) {
	config := NewConfig()

	if config.SourcesList != "/etc/apt/sources.list" {
		t.Errorf("SourcesList = %q", config.SourcesList)
	}
	if config.SourcesDir != "/etc/apt/sources.list.d" {
		t.Errorf("SourcesDir = %q", config.SourcesDir)
	}
	if config.CacheDir != "/var/lib/apt/lists" {
		t.Errorf("CacheDir = %q", config.CacheDir)
	}
	if len(config.AuxFiles) == 0 {
		t.Error("no default auxiliary files")
	}
	if len(config.ScanDirs) == 0 {
		t.Error("no default scan directories")
	}
	if err := config.Check(); err != nil {
		t.Errorf("default configuration does not validate: %v", err)
	}
}

func TestConfigCheck(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		expectErr bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(_ *Config) {},
		},
		{
			name:      "empty sources_list",
			mutate:    func(c *Config) { c.SourcesList = "" },
			expectErr: true,
		},
		{
			name:      "relative backup_dir",
			mutate:    func(c *Config) { c.BackupDir = "backups" },
			expectErr: true,
		},
		{
			name:      "relative pgp_key_path",
			mutate:    func(c *Config) { c.PGPKeyPath = "key.asc" },
			expectErr: true,
		},
		{
			name:      "missing pgp_key_path",
			mutate:    func(c *Config) { c.PGPKeyPath = "/nonexistent/key.asc" },
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewConfig()
			tt.mutate(config)

			err := config.Check()
			if tt.expectErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestConfigDecodeTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sourcectl.toml")
	writeTestFile(t, path, `
sources_list = "/etc/apt/sources.list"
backup_dir = "/var/backups/sourcectl"
force_region = "CN"
disable_speed_test = true

[log]
level = "debug"
format = "json"
`)

	config := NewConfig()
	meta, err := toml.DecodeFile(path, config)
	if err != nil {
		t.Fatal(err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		t.Errorf("undecoded keys: %v", undecoded)
	}

	if config.ForceRegion != "CN" {
		t.Errorf("ForceRegion = %q", config.ForceRegion)
	}
	if !config.DisableSpeedTest {
		t.Error("DisableSpeedTest not decoded")
	}
	if config.Log.Level != "debug" || config.Log.Format != "json" {
		t.Errorf("Log = %+v", config.Log)
	}
}

func TestApplyEnvironment(t *testing.T) {
	tests := []struct {
		name      string
		envVars   map[string]string
		check     func(*testing.T, *Config)
		expectErr bool
	}{
		{
			name:    "force country",
			envVars: map[string]string{EnvForceCountry: "JP"},
			check: func(t *testing.T, c *Config) {
				if c.ForceRegion != "JP" {
					t.Errorf("ForceRegion = %q, expected JP", c.ForceRegion)
				}
			},
		},
		{
			name:    "disable speed test",
			envVars: map[string]string{EnvDisableSpeedTest: "true"},
			check: func(t *testing.T, c *Config) {
				if !c.DisableSpeedTest {
					t.Error("DisableSpeedTest not set")
				}
			},
		},
		{
			name:    "debug raises log level",
			envVars: map[string]string{EnvDebug: "1"},
			check: func(t *testing.T, c *Config) {
				if c.Log.Level != "debug" {
					t.Errorf("Log.Level = %q, expected debug", c.Log.Level)
				}
			},
		},
		{
			name:    "debug disabled keeps level",
			envVars: map[string]string{EnvDebug: "false"},
			check: func(t *testing.T, c *Config) {
				if c.Log.Level != "" {
					t.Errorf("Log.Level = %q, expected empty", c.Log.Level)
				}
			},
		},
		{
			name:    "no variables leave config untouched",
			envVars: map[string]string{},
			check: func(t *testing.T, c *Config) {
				if c.ForceRegion != "" || c.DisableSpeedTest {
					t.Errorf("config changed: %+v", c)
				}
			},
		},
		{
			name:      "invalid boolean",
			envVars:   map[string]string{EnvDisableSpeedTest: "not-a-bool"},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			config := NewConfig()
			err := config.ApplyEnvironment()

			if tt.expectErr {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, config)
		})
	}
}

func TestLogConfigApply(t *testing.T) {
	tests := []struct {
		level     string
		format    string
		expectErr bool
	}{
		{"debug", "text", false},
		{"info", "json", false},
		{"", "", false},
		{"warning", "plain", false},
		{"verbose", "text", true},
		{"info", "xml", true},
	}

	for _, tt := range tests {
		logConfig := &LogConfig{Level: tt.level, Format: tt.format}
		err := logConfig.Apply()
		if tt.expectErr && err == nil {
			t.Errorf("Apply(%q, %q): expected error", tt.level, tt.format)
		}
		if !tt.expectErr && err != nil {
			t.Errorf("Apply(%q, %q): %v", tt.level, tt.format, err)
		}
	}
}
