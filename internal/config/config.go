// Package config handles TOML-based configuration loading and validation.
// YAML files are accepted as well, decoded into the same structure.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a string ("8s", "1m30s") in config files.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// Config holds all application configuration.
type Config struct {
	StartURLs []string        `toml:"start_urls" yaml:"start_urls"`
	Debug     bool            `toml:"debug" yaml:"debug"`
	Browser   BrowserConfig   `toml:"browser" yaml:"browser"`
	Extract   ExtractConfig   `toml:"extract" yaml:"extract"`
	Intercept InterceptConfig `toml:"intercept" yaml:"intercept"`
	Download  DownloadConfig  `toml:"download" yaml:"download"`
	Repair    RepairConfig    `toml:"repair" yaml:"repair"`
	Output    OutputConfig    `toml:"output" yaml:"output"`
}

// BrowserConfig controls the single browser session.
type BrowserConfig struct {
	Headless          bool     `toml:"headless" yaml:"headless"`
	Bin               string   `toml:"bin" yaml:"bin"`
	UserAgent         string   `toml:"user_agent" yaml:"user_agent"`
	NavigationTimeout Duration `toml:"navigation_timeout" yaml:"navigation_timeout"`
	SettleDelay       Duration `toml:"settle_delay" yaml:"settle_delay"`
	ShortWindow       Duration `toml:"short_window" yaml:"short_window"`
	ExtendedWindow    Duration `toml:"extended_window" yaml:"extended_window"`
}

// ExtractConfig names the embedded player variable.
type ExtractConfig struct {
	Variable   string `toml:"variable" yaml:"variable"`
	BaseOrigin string `toml:"base_origin" yaml:"base_origin"`
}

// InterceptConfig lists media extensions in priority order.
type InterceptConfig struct {
	Extensions []string `toml:"extensions" yaml:"extensions"`
}

// DownloadConfig controls acquisition.
type DownloadConfig struct {
	Enabled         bool   `toml:"enabled" yaml:"enabled"`
	SaveDir         string `toml:"save_dir" yaml:"save_dir"`
	FilenameTpl     string `toml:"filename_tpl" yaml:"filename_tpl"`
	Retries         int    `toml:"retries" yaml:"retries"`
	FragmentRetries int    `toml:"fragment_retries" yaml:"fragment_retries"`
	Workers         int    `toml:"workers" yaml:"workers"`
	FFmpeg          string `toml:"ffmpeg" yaml:"ffmpeg"`
	FFprobe         string `toml:"ffprobe" yaml:"ffprobe"`
	Verify          bool   `toml:"verify" yaml:"verify"`
}

// RepairConfig controls repair-only mode.
type RepairConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Dir     string `toml:"dir" yaml:"dir"`
	Workers int    `toml:"workers" yaml:"workers"`
}

// OutputConfig locates the record sinks. Empty paths disable a sink.
type OutputConfig struct {
	JSONPath   string `toml:"json_path" yaml:"json_path"`
	CSVPath    string `toml:"csv_path" yaml:"csv_path"`
	SQLitePath string `toml:"sqlite_path" yaml:"sqlite_path"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:          true,
			UserAgent:         "auto",
			NavigationTimeout: Duration{30 * time.Second},
			SettleDelay:       Duration{3 * time.Second},
			ShortWindow:       Duration{8 * time.Second},
			ExtendedWindow:    Duration{5 * time.Second},
		},
		Extract: ExtractConfig{
			Variable: "player_aaaa",
		},
		Intercept: InterceptConfig{
			Extensions: []string{"m3u8", "mp4", "ts", "flv", "avi", "mkv"},
		},
		Download: DownloadConfig{
			Enabled:         false,
			SaveDir:         "downloads",
			FilenameTpl:     "{title}_E{episode}.mp4",
			Retries:         5,
			FragmentRetries: 5,
			Workers:         2,
			FFmpeg:          "ffmpeg",
			FFprobe:         "ffprobe",
			Verify:          true,
		},
		Repair: RepairConfig{
			Enabled: false,
			Dir:     "downloads",
			Workers: 2,
		},
		Output: OutputConfig{
			JSONPath:   "data/items.jsonl",
			CSVPath:    "data/items.csv",
			SQLitePath: "data/items.db",
		},
	}
}

// configDir returns the XDG-compliant config directory.
func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "vodgrab"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".config", "vodgrab"), nil
}

// ConfigPath returns the path to the default config file.
func ConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the default config file and merges with defaults.
// If the config file doesn't exist, defaults are returned.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Default(), nil
	}
	cfg, err := LoadFile(path)
	if err != nil && os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// LoadFile reads an explicit config file (TOML, or YAML by extension) over the defaults.
// A missing file is reported with an error satisfying os.IsNotExist.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks config values are within acceptable bounds.
func (c *Config) Validate() error {
	for _, raw := range c.StartURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid start URL %q", raw)
		}
	}

	if c.Extract.Variable == "" {
		return fmt.Errorf("extract.variable cannot be empty")
	}
	if c.Extract.BaseOrigin != "" {
		u, err := url.Parse(c.Extract.BaseOrigin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid extract.base_origin %q", c.Extract.BaseOrigin)
		}
	}

	if len(c.Intercept.Extensions) == 0 {
		return fmt.Errorf("intercept.extensions cannot be empty")
	}

	if c.Browser.SettleDelay.Duration < 0 || c.Browser.ShortWindow.Duration < 0 || c.Browser.ExtendedWindow.Duration < 0 {
		return fmt.Errorf("browser wait durations cannot be negative")
	}
	if c.Browser.NavigationTimeout.Duration <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be positive")
	}

	if c.Download.Retries < 0 || c.Download.Retries > 50 {
		return fmt.Errorf("download.retries %d out of range (0-50)", c.Download.Retries)
	}
	if c.Download.FragmentRetries < 0 || c.Download.FragmentRetries > 50 {
		return fmt.Errorf("download.fragment_retries %d out of range (0-50)", c.Download.FragmentRetries)
	}
	if c.Download.Workers < 1 || c.Download.Workers > 32 {
		return fmt.Errorf("download.workers %d out of range (1-32)", c.Download.Workers)
	}
	if c.Download.Enabled {
		if c.Download.SaveDir == "" {
			return fmt.Errorf("download.save_dir cannot be empty")
		}
		for _, ph := range []string{"{title}", "{episode}"} {
			if !strings.Contains(c.Download.FilenameTpl, ph) {
				return fmt.Errorf("download.filename_tpl must contain %s", ph)
			}
		}
	}

	if c.Repair.Workers < 1 || c.Repair.Workers > 32 {
		return fmt.Errorf("repair.workers %d out of range (1-32)", c.Repair.Workers)
	}
	if c.Repair.Enabled && c.Repair.Dir == "" {
		return fmt.Errorf("repair.dir cannot be empty")
	}

	return nil
}

// ExpandPath resolves ~ in a configured path.
func ExpandPath(p string) (string, error) {
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding home dir: %w", err)
		}
		p = filepath.Join(home, p[2:])
	}
	return filepath.Abs(p)
}

// LockPath returns the path of the run lock guarding the browser session.
func LockPath() (string, error) {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "vodgrab", "session.lock"), nil
}
