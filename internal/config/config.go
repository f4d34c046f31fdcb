// Package config provides configuration loading and structs for the dress-api server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Source modes.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// ErrMissingAPIKey is returned when no sync credential is configured.
var ErrMissingAPIKey = errors.New("server.api_key (or ARK_API_KEY) must be set")

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Server  ServerConfig  `yaml:"server"`
	Source  SourceConfig  `yaml:"source"`
	Index   IndexConfig   `yaml:"index"`
	Storage StorageConfig `yaml:"storage"`
	Sync    SyncConfig    `yaml:"sync"`
	Mirror  MirrorConfig  `yaml:"mirror"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`
	// APIKey authorizes POST /dresses/v1/sync.
	APIKey string `yaml:"api_key"`
	// ImgBaseURL prefixes image paths in responses. Empty means "<request base>/img/".
	ImgBaseURL string `yaml:"img_base_url" validate:"omitempty,url"`
	Notice     string `yaml:"notice"`
}

// SourceConfig describes where images and their history come from.
type SourceConfig struct {
	Mode string `yaml:"mode" validate:"oneof=local remote"`
	// RepoDir is the local checkout of the tracked repository.
	RepoDir          string        `yaml:"repo_dir" validate:"required_if=Mode local"`
	CloneURL         string        `yaml:"clone_url"`
	Branch           string        `yaml:"branch"`
	CloneAttempts    int           `yaml:"clone_attempts" validate:"min=1"`
	RespectGitignore bool          `yaml:"respect_gitignore"`
	GitTimeout       time.Duration `yaml:"git_timeout"`
	GitHub           GitHubConfig  `yaml:"github"`
}

// GitHubConfig holds settings for the remote commits API.
type GitHubConfig struct {
	APIURL      string        `yaml:"api_url" validate:"url"`
	Owner       string        `yaml:"owner"`
	Repo        string        `yaml:"repo"`
	Token       string        `yaml:"token"`
	PerPage     int           `yaml:"per_page" validate:"min=1,max=100"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries" validate:"min=0"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MinInterval time.Duration `yaml:"min_interval"`
}

// IndexConfig holds index assembly settings.
type IndexConfig struct {
	// SentinelAuthor is a bot identity never credited as first author when a human exists.
	SentinelAuthor string `yaml:"sentinel_author"`
	Workers        int    `yaml:"workers" validate:"min=1,max=64"`
}

// StorageConfig holds paths for persisted indices and the build ledger.
type StorageConfig struct {
	IndexDir     string `yaml:"index_dir" validate:"required"`
	DatabasePath string `yaml:"database_path" validate:"required"`
}

// SyncConfig holds resynchronization settings.
type SyncConfig struct {
	// Interval between scheduled pull+rebuild cycles; zero disables the schedule.
	Interval    time.Duration `yaml:"interval"`
	Watch       bool          `yaml:"watch"`
	Debounce    time.Duration `yaml:"debounce"`
	PullTimeout time.Duration `yaml:"pull_timeout"`
}

// MirrorConfig lists CDN mirrors of the published index pair. They seed the
// served state when no pair is persisted and a build cannot run.
type MirrorConfig struct {
	Disabled bool     `yaml:"disabled"`
	BaseURLs []string `yaml:"base_urls" validate:"dive,url"`
	// Path is joined to each base URL before the document name.
	Path       string        `yaml:"path"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries" validate:"min=0"`
}

// Load reads and parses the config file at path, expands paths, applies defaults
// and environment overrides, then validates the result.
// Returns an error if the file cannot be read or parsed, or if validation fails.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Source.RepoDir = expandPath(cfg.Source.RepoDir, configDir)
	cfg.Storage.IndexDir = expandPath(cfg.Storage.IndexDir, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides secrets and the port from the environment.
// lookup is usually os.LookupEnv; it is injected so tests do not touch process state.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("ARK_API_KEY"); ok && v != "" {
		cfg.Server.APIKey = v
	}
	if v, ok := lookup("GITHUB_TOKEN"); ok && v != "" {
		cfg.Source.GitHub.Token = v
	}
	if v, ok := lookup("PORTS"); ok && v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid PORTS %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the cross-field rules validator tags cannot express.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Source.Mode == ModeRemote && (c.Source.GitHub.Owner == "" || c.Source.GitHub.Repo == "") {
		return fmt.Errorf("invalid config: source.github.owner and source.github.repo are required in remote mode")
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
