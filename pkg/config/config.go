// Package config loads and validates the pipeline configuration.
// Configuration is an explicit value constructed once at startup and
// passed into the orchestrator; there are no package-level globals.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	scrivenererrors "github.com/odvcencio/scrivener/pkg/errors"
)

const apiKeyPlaceholder = "PASTE_YOUR_GEMINI_API_KEY_HERE"

// Default configuration values exported for documentation and validation
const (
	DefaultModel            = "gemini-2.5-flash"
	DefaultBaseURL          = "https://generativelanguage.googleapis.com/v1beta"
	DefaultRewriteCycles    = 3
	DefaultMaxRetries       = 3
	DefaultRetryDelay       = 2 * time.Second
	DefaultCallTimeout      = 10 * time.Minute
	DefaultRunInterval      = 5 * time.Minute
	DefaultTotalRuns        = 100
	DefaultMinScenes        = 8
	DefaultMaxScenes        = 14
	DefaultOpenWorldScenes  = 4
	DefaultRetroMinSpeakers = 1
	DefaultSummaryCharCount = 300
)

// Config represents the complete pipeline configuration
type Config struct {
	Gemini   GeminiConfig   `yaml:"gemini"`
	Paths    PathsConfig    `yaml:"paths"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Git      GitConfig      `yaml:"git"`
}

// GeminiConfig configures the generative text service
type GeminiConfig struct {
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// PathsConfig names every persisted document and directory
type PathsConfig struct {
	OutputDir     string `yaml:"output_dir"`
	NovelFile     string `yaml:"novel_file"`
	ArcStateFile  string `yaml:"arc_state_file"`
	DossierDir    string `yaml:"dossier_dir"`
	CheckpointDir string `yaml:"checkpoint_dir"`
	MinutesDir    string `yaml:"minutes_dir"`
	LogDir        string `yaml:"log_dir"`
	AuditDB       string `yaml:"audit_db"`
}

// PipelineConfig holds the tunable pipeline policy knobs
type PipelineConfig struct {
	RewriteCycles   int           `yaml:"rewrite_cycles"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	RunInterval     time.Duration `yaml:"run_interval"`
	TotalRuns       int           `yaml:"total_runs"`
	MinScenes       int           `yaml:"min_scenes"`
	MaxScenes       int           `yaml:"max_scenes"`
	OpenWorldScenes int           `yaml:"open_world_scenes"`
	// RetroMinParticipants is the minimum number of retrospective
	// participants that must answer for the session to proceed to
	// aggregation. Tunable policy, not a load-bearing invariant.
	RetroMinParticipants int `yaml:"retro_min_participants"`
	SummaryCharCount     int `yaml:"summary_char_count"`
}

// GitConfig configures the version-control artifact store
type GitConfig struct {
	Enabled     bool   `yaml:"enabled"`
	RepoPath    string `yaml:"repo_path"`
	Branch      string `yaml:"branch"`
	Remote      string `yaml:"remote"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// Default returns a config populated with every default value
func Default() *Config {
	return &Config{
		Gemini: GeminiConfig{
			APIKey:      apiKeyPlaceholder,
			Model:       DefaultModel,
			BaseURL:     DefaultBaseURL,
			CallTimeout: DefaultCallTimeout,
		},
		Paths: PathsConfig{
			OutputDir:     "output",
			NovelFile:     "output/novel.json",
			ArcStateFile:  "output/world_state.json",
			DossierDir:    "output/characters",
			CheckpointDir: "output/checkpoints",
			MinutesDir:    "output/meetings",
			LogDir:        "output/logs",
			AuditDB:       "output/audit.db",
		},
		Pipeline: PipelineConfig{
			RewriteCycles:        DefaultRewriteCycles,
			MaxRetries:           DefaultMaxRetries,
			RetryDelay:           DefaultRetryDelay,
			RunInterval:          DefaultRunInterval,
			TotalRuns:            DefaultTotalRuns,
			MinScenes:            DefaultMinScenes,
			MaxScenes:            DefaultMaxScenes,
			OpenWorldScenes:      DefaultOpenWorldScenes,
			RetroMinParticipants: DefaultRetroMinSpeakers,
			SummaryCharCount:     DefaultSummaryCharCount,
		},
		Git: GitConfig{
			Enabled:     true,
			RepoPath:    ".",
			Branch:      "main",
			Remote:      "origin",
			AuthorName:  "Scrivener",
			AuthorEmail: "scrivener@localhost",
		},
	}
}

// Load reads the YAML config at path. If the file does not exist a
// template is written there and a fatal error is returned so the
// operator can fill in the API key before the next run.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if writeErr := WriteTemplate(path); writeErr != nil {
			return nil, scrivenererrors.Wrap(writeErr, scrivenererrors.ErrCodeConfigLoad, "writing config template")
		}
		return nil, scrivenererrors.New(scrivenererrors.ErrCodeConfigLoad,
			fmt.Sprintf("config %s did not exist; template written, fill in gemini.api_key and rerun", path))
	}
	if err != nil {
		return nil, scrivenererrors.Wrap(err, scrivenererrors.ErrCodeConfigLoad, "reading config")
	}

	// Paths start empty so unset ones derive from the configured
	// output_dir in applyDefaults instead of the stock "output" tree.
	cfg := Default()
	cfg.Paths = PathsConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, scrivenererrors.Wrap(err, scrivenererrors.ErrCodeConfigLoad, "parsing YAML")
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// WriteTemplate writes a starter config file with every default value
func WriteTemplate(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// applyDefaults fills zero values so a sparse config file still works
func (c *Config) applyDefaults() {
	def := Default()

	if c.Gemini.Model == "" {
		c.Gemini.Model = def.Gemini.Model
	}
	if c.Gemini.BaseURL == "" {
		c.Gemini.BaseURL = def.Gemini.BaseURL
	}
	if c.Gemini.CallTimeout <= 0 {
		c.Gemini.CallTimeout = def.Gemini.CallTimeout
	}

	if c.Paths.OutputDir == "" {
		c.Paths.OutputDir = def.Paths.OutputDir
	}
	if c.Paths.NovelFile == "" {
		c.Paths.NovelFile = filepath.Join(c.Paths.OutputDir, "novel.json")
	}
	if c.Paths.ArcStateFile == "" {
		c.Paths.ArcStateFile = filepath.Join(c.Paths.OutputDir, "world_state.json")
	}
	if c.Paths.DossierDir == "" {
		c.Paths.DossierDir = filepath.Join(c.Paths.OutputDir, "characters")
	}
	if c.Paths.CheckpointDir == "" {
		c.Paths.CheckpointDir = filepath.Join(c.Paths.OutputDir, "checkpoints")
	}
	if c.Paths.MinutesDir == "" {
		c.Paths.MinutesDir = filepath.Join(c.Paths.OutputDir, "meetings")
	}
	if c.Paths.LogDir == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.OutputDir, "logs")
	}
	if c.Paths.AuditDB == "" {
		c.Paths.AuditDB = filepath.Join(c.Paths.OutputDir, "audit.db")
	}

	if c.Pipeline.RewriteCycles <= 0 {
		c.Pipeline.RewriteCycles = def.Pipeline.RewriteCycles
	}
	if c.Pipeline.MaxRetries <= 0 {
		c.Pipeline.MaxRetries = def.Pipeline.MaxRetries
	}
	if c.Pipeline.RetryDelay <= 0 {
		c.Pipeline.RetryDelay = def.Pipeline.RetryDelay
	}
	if c.Pipeline.RunInterval <= 0 {
		c.Pipeline.RunInterval = def.Pipeline.RunInterval
	}
	if c.Pipeline.TotalRuns <= 0 {
		c.Pipeline.TotalRuns = def.Pipeline.TotalRuns
	}
	if c.Pipeline.MinScenes <= 0 {
		c.Pipeline.MinScenes = def.Pipeline.MinScenes
	}
	if c.Pipeline.MaxScenes <= 0 {
		c.Pipeline.MaxScenes = def.Pipeline.MaxScenes
	}
	if c.Pipeline.OpenWorldScenes <= 0 {
		c.Pipeline.OpenWorldScenes = def.Pipeline.OpenWorldScenes
	}
	if c.Pipeline.RetroMinParticipants <= 0 {
		c.Pipeline.RetroMinParticipants = def.Pipeline.RetroMinParticipants
	}
	if c.Pipeline.SummaryCharCount <= 0 {
		c.Pipeline.SummaryCharCount = def.Pipeline.SummaryCharCount
	}

	if c.Git.RepoPath == "" {
		c.Git.RepoPath = def.Git.RepoPath
	}
	if c.Git.Branch == "" {
		c.Git.Branch = def.Git.Branch
	}
	if c.Git.Remote == "" {
		c.Git.Remote = def.Git.Remote
	}
	if c.Git.AuthorName == "" {
		c.Git.AuthorName = def.Git.AuthorName
	}
	if c.Git.AuthorEmail == "" {
		c.Git.AuthorEmail = def.Git.AuthorEmail
	}
}

// Validate checks the config for fatal problems
func (c *Config) Validate() error {
	key := strings.TrimSpace(c.Gemini.APIKey)
	if key == "" || key == apiKeyPlaceholder || strings.Contains(key, "PASTE_YOUR") {
		return scrivenererrors.New(scrivenererrors.ErrCodeConfigInvalid,
			"gemini.api_key is missing or still the placeholder")
	}

	if c.Pipeline.MinScenes > c.Pipeline.MaxScenes {
		return scrivenererrors.New(scrivenererrors.ErrCodeConfigInvalid,
			fmt.Sprintf("pipeline.min_scenes (%d) exceeds pipeline.max_scenes (%d)",
				c.Pipeline.MinScenes, c.Pipeline.MaxScenes))
	}

	return nil
}
