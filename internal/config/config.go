package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	ierrors "github.com/serhiybutz/docindexer/internal/errors"
	"github.com/serhiybutz/docindexer/internal/store"
	"github.com/serhiybutz/docindexer/pkg/docindex"
)

// ProjectConfigName is the per-directory configuration file.
const ProjectConfigName = ".docindexer.yaml"

// Config represents the complete docindexer configuration.
type Config struct {
	Version       int                 `yaml:"version" json:"version"`
	Index         IndexConfig         `yaml:"index" json:"index"`
	Analysis      AnalysisConfig      `yaml:"analysis" json:"analysis"`
	Search        SearchConfig        `yaml:"search" json:"search"`
	Fragmentation FragmentationConfig `yaml:"fragmentation" json:"fragmentation"`
	Compaction    CompactionConfig    `yaml:"compaction" json:"compaction"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Watch         WatchConfig         `yaml:"watch" json:"watch"`
}

// IndexConfig locates the index and fixes how it is maintained.
type IndexConfig struct {
	// Path is the index location without extension. Empty means in-memory.
	Path string `yaml:"path" json:"path"`

	// Backend is "sqlite" (default) or "bleve". Only used on creation.
	Backend string `yaml:"backend" json:"backend"`

	// Type is "inverted" (default), "vector", "inverted_vector".
	Type string `yaml:"type" json:"type"`

	// Autoflush is "none", "before_each_search" or "after_each_update".
	Autoflush string `yaml:"autoflush" json:"autoflush"`

	// Workers bounds parallel file indexing.
	Workers int `yaml:"workers" json:"workers"`
}

// AnalysisConfig controls term extraction. Only used on index creation.
type AnalysisConfig struct {
	MinTermLength     int               `yaml:"min_term_length" json:"min_term_length"`
	MaximumTerms      int               `yaml:"maximum_terms" json:"maximum_terms"`
	ProximityIndexing bool              `yaml:"proximity_indexing" json:"proximity_indexing"`
	TermChars         string            `yaml:"term_chars" json:"term_chars"`
	StartTermChars    string            `yaml:"start_term_chars" json:"start_term_chars"`
	EndTermChars      string            `yaml:"end_term_chars" json:"end_term_chars"`
	StopwordLanguage  string            `yaml:"stopword_language" json:"stopword_language"`
	Stopwords         []string          `yaml:"stopwords" json:"stopwords"`
	Substitutions     map[string]string `yaml:"substitutions" json:"substitutions"`
}

// SearchConfig sets the batch bounds of searches.
type SearchConfig struct {
	HitsPerBatch    int    `yaml:"hits_per_batch" json:"hits_per_batch"`
	MaxTimePerBatch string `yaml:"max_time_per_batch" json:"max_time_per_batch"`
	SpaceMeansOr    bool   `yaml:"space_means_or" json:"space_means_or"`
	MaxResults      int    `yaml:"max_results" json:"max_results"`
}

// FragmentationConfig selects where the fragmentation baseline is kept.
type FragmentationConfig struct {
	// Preserver is a location understood by preserver.Open. Empty disables
	// fragmentation tracking.
	Preserver string `yaml:"preserver" json:"preserver"`

	// Key names the index in shared preservers. Defaults to the base name
	// of the index path.
	Key string `yaml:"key" json:"key"`
}

// CompactionConfig configures automatic background compaction.
type CompactionConfig struct {
	// Enabled enables automatic background compaction in serve mode.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Threshold is the uncompacted document count that triggers compaction.
	Threshold int64 `yaml:"threshold" json:"threshold"`

	// CheckInterval is how often the estimate is read.
	CheckInterval string `yaml:"check_interval" json:"check_interval"`

	// Cooldown is the minimum time between compactions.
	Cooldown string `yaml:"cooldown" json:"cooldown"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	Format    string `yaml:"format" json:"format"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// MetricsConfig configures the Prometheus endpoint of serve mode.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// WatchConfig configures directory watching in serve mode.
type WatchConfig struct {
	Enabled    bool     `yaml:"enabled" json:"enabled"`
	Paths      []string `yaml:"paths" json:"paths"`
	Extensions []string `yaml:"extensions" json:"extensions"`
	Ignore     []string `yaml:"ignore" json:"ignore"`
	Debounce   string   `yaml:"debounce" json:"debounce"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Index: IndexConfig{
			Path:      filepath.Join(".docindexer", "index"),
			Backend:   string(store.BackendSQLite),
			Type:      string(docindex.IndexTypeInverted),
			Autoflush: docindex.AutoflushNone.String(),
			Workers:   4,
		},
		Analysis: AnalysisConfig{
			MinTermLength: 2,
		},
		Search: SearchConfig{
			HitsPerBatch:    docindex.DefaultHitsPerBatch,
			MaxTimePerBatch: docindex.DefaultMaxTimePerBatch.String(),
			MaxResults:      20,
		},
		Fragmentation: FragmentationConfig{
			Preserver: filepath.Join(".docindexer", "fragmentation.yaml"),
		},
		Compaction: CompactionConfig{
			Enabled:       true,
			Threshold:     1000,
			CheckInterval: "1m",
			Cooldown:      "1h",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Watch: WatchConfig{
			Extensions: []string{".txt", ".md", ".markdown", ".html", ".htm"},
			Ignore:     []string{"node_modules", "*.tmp", "*~"},
			Debounce:   "200ms",
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/docindexer/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/docindexer/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "docindexer", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "docindexer", "config.yaml")
	}
	return filepath.Join(home, ".config", "docindexer", "config.yaml")
}

// Load loads configuration for the given directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/docindexer/config.yaml)
//  3. Project config (.docindexer.yaml in dir)
//  4. Environment variables (DOCINDEXER_*)
//
// Relative index and preserver paths are resolved against dir.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if projectPath := filepath.Join(dir, ProjectConfigName); fileExists(projectPath) {
		if err := cfg.loadYAML(projectPath); err != nil {
			return nil, err
		}
	}

	return cfg.finish(dir)
}

// LoadFile loads defaults, then path, then environment overrides. Relative
// paths are resolved against the directory of path.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	return cfg.finish(filepath.Dir(path))
}

func (c *Config) finish(dir string) (*Config, error) {
	c.applyEnvOverrides()
	c.resolvePaths(dir)

	if err := c.Validate(); err != nil {
		return nil, ierrors.ConfigError("invalid configuration", err).
			WithSuggestion("run 'docindexer config show --defaults' to see valid values")
	}
	return c, nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c. Booleans can only be
// switched on from a file; use the environment to switch them off.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Index
	if other.Index.Path != "" {
		c.Index.Path = other.Index.Path
	}
	if other.Index.Backend != "" {
		c.Index.Backend = other.Index.Backend
	}
	if other.Index.Type != "" {
		c.Index.Type = other.Index.Type
	}
	if other.Index.Autoflush != "" {
		c.Index.Autoflush = other.Index.Autoflush
	}
	if other.Index.Workers != 0 {
		c.Index.Workers = other.Index.Workers
	}

	// Analysis
	if other.Analysis.MinTermLength != 0 {
		c.Analysis.MinTermLength = other.Analysis.MinTermLength
	}
	if other.Analysis.MaximumTerms != 0 {
		c.Analysis.MaximumTerms = other.Analysis.MaximumTerms
	}
	if other.Analysis.ProximityIndexing {
		c.Analysis.ProximityIndexing = true
	}
	if other.Analysis.TermChars != "" {
		c.Analysis.TermChars = other.Analysis.TermChars
	}
	if other.Analysis.StartTermChars != "" {
		c.Analysis.StartTermChars = other.Analysis.StartTermChars
	}
	if other.Analysis.EndTermChars != "" {
		c.Analysis.EndTermChars = other.Analysis.EndTermChars
	}
	if other.Analysis.StopwordLanguage != "" {
		c.Analysis.StopwordLanguage = other.Analysis.StopwordLanguage
	}
	if len(other.Analysis.Stopwords) > 0 {
		c.Analysis.Stopwords = append(c.Analysis.Stopwords, other.Analysis.Stopwords...)
	}
	if len(other.Analysis.Substitutions) > 0 {
		if c.Analysis.Substitutions == nil {
			c.Analysis.Substitutions = make(map[string]string, len(other.Analysis.Substitutions))
		}
		for k, v := range other.Analysis.Substitutions {
			c.Analysis.Substitutions[k] = v
		}
	}

	// Search
	if other.Search.HitsPerBatch != 0 {
		c.Search.HitsPerBatch = other.Search.HitsPerBatch
	}
	if other.Search.MaxTimePerBatch != "" {
		c.Search.MaxTimePerBatch = other.Search.MaxTimePerBatch
	}
	if other.Search.SpaceMeansOr {
		c.Search.SpaceMeansOr = true
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}

	// Fragmentation
	if other.Fragmentation.Preserver != "" {
		c.Fragmentation.Preserver = other.Fragmentation.Preserver
	}
	if other.Fragmentation.Key != "" {
		c.Fragmentation.Key = other.Fragmentation.Key
	}

	// Compaction
	if other.Compaction.Enabled {
		c.Compaction.Enabled = true
	}
	if other.Compaction.Threshold != 0 {
		c.Compaction.Threshold = other.Compaction.Threshold
	}
	if other.Compaction.CheckInterval != "" {
		c.Compaction.CheckInterval = other.Compaction.CheckInterval
	}
	if other.Compaction.Cooldown != "" {
		c.Compaction.Cooldown = other.Compaction.Cooldown
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.Format != "" {
		c.Logging.Format = other.Logging.Format
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}

	// Metrics
	if other.Metrics.Enabled {
		c.Metrics.Enabled = true
	}
	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}

	// Watch
	if other.Watch.Enabled {
		c.Watch.Enabled = true
	}
	if len(other.Watch.Paths) > 0 {
		c.Watch.Paths = other.Watch.Paths
	}
	if len(other.Watch.Extensions) > 0 {
		c.Watch.Extensions = other.Watch.Extensions
	}
	if len(other.Watch.Ignore) > 0 {
		c.Watch.Ignore = append(c.Watch.Ignore, other.Watch.Ignore...)
	}
	if other.Watch.Debounce != "" {
		c.Watch.Debounce = other.Watch.Debounce
	}
}

// applyEnvOverrides applies DOCINDEXER_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCINDEXER_INDEX_PATH"); v != "" {
		c.Index.Path = v
	}
	if v := os.Getenv("DOCINDEXER_BACKEND"); v != "" {
		c.Index.Backend = v
	}
	if v := os.Getenv("DOCINDEXER_AUTOFLUSH"); v != "" {
		c.Index.Autoflush = v
	}
	if v := os.Getenv("DOCINDEXER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Index.Workers = n
		}
	}

	if v := os.Getenv("DOCINDEXER_HITS_PER_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.HitsPerBatch = n
		}
	}
	if v := os.Getenv("DOCINDEXER_MAX_TIME_PER_BATCH"); v != "" {
		c.Search.MaxTimePerBatch = v
	}

	if v, ok := os.LookupEnv("DOCINDEXER_PRESERVER"); ok {
		c.Fragmentation.Preserver = v
	}

	if v := os.Getenv("DOCINDEXER_COMPACTION_ENABLED"); v != "" {
		c.Compaction.Enabled = parseBool(v)
	}
	if v := os.Getenv("DOCINDEXER_COMPACTION_THRESHOLD"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Compaction.Threshold = n
		}
	}

	if v := os.Getenv("DOCINDEXER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DOCINDEXER_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("DOCINDEXER_LOG_FILE"); v != "" {
		c.Logging.File = v
	}

	if v := os.Getenv("DOCINDEXER_METRICS_ENABLED"); v != "" {
		c.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("DOCINDEXER_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("DOCINDEXER_WATCH_ENABLED"); v != "" {
		c.Watch.Enabled = parseBool(v)
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

// resolvePaths makes relative file locations absolute against dir.
func (c *Config) resolvePaths(dir string) {
	if c.Index.Path != "" && !filepath.IsAbs(c.Index.Path) {
		c.Index.Path = filepath.Join(dir, c.Index.Path)
	}
	if isFilePreserver(c.Fragmentation.Preserver) && !filepath.IsAbs(c.Fragmentation.Preserver) {
		c.Fragmentation.Preserver = filepath.Join(dir, c.Fragmentation.Preserver)
	}
	if c.Fragmentation.Key == "" {
		c.Fragmentation.Key = filepath.Base(c.Index.Path)
		if c.Index.Path == "" {
			c.Fragmentation.Key = "memory"
		}
	}
	for i, p := range c.Watch.Paths {
		if !filepath.IsAbs(p) {
			c.Watch.Paths[i] = filepath.Join(dir, p)
		}
	}
}

func isFilePreserver(loc string) bool {
	return loc != "" && loc != "memory" && !strings.Contains(loc, "://")
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if _, err := store.ParseBackend(c.Index.Backend); err != nil {
		return fmt.Errorf("index.backend: %w", err)
	}
	validTypes := map[string]bool{"inverted": true, "vector": true, "inverted_vector": true}
	if !validTypes[strings.ToLower(c.Index.Type)] {
		return fmt.Errorf("index.type must be 'inverted', 'vector' or 'inverted_vector', got %s", c.Index.Type)
	}
	if _, err := docindex.ParseAutoflushStrategy(c.Index.Autoflush); err != nil {
		return fmt.Errorf("index.autoflush: %w", err)
	}
	if c.Index.Workers < 1 {
		return fmt.Errorf("index.workers must be positive, got %d", c.Index.Workers)
	}

	if c.Analysis.MinTermLength < 0 {
		return fmt.Errorf("analysis.min_term_length must be non-negative, got %d", c.Analysis.MinTermLength)
	}
	if c.Analysis.MaximumTerms < 0 {
		return fmt.Errorf("analysis.maximum_terms must be non-negative, got %d", c.Analysis.MaximumTerms)
	}

	if c.Search.HitsPerBatch < 1 {
		return fmt.Errorf("search.hits_per_batch must be positive, got %d", c.Search.HitsPerBatch)
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("search.max_results must be non-negative, got %d", c.Search.MaxResults)
	}

	durations := map[string]string{
		"search.max_time_per_batch": c.Search.MaxTimePerBatch,
		"compaction.check_interval": c.Compaction.CheckInterval,
		"compaction.cooldown":       c.Compaction.Cooldown,
		"watch.debounce":            c.Watch.Debounce,
	}
	for name, v := range durations {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d < 0 {
			return fmt.Errorf("%s must be a non-negative duration, got %q", name, v)
		}
	}

	if c.Compaction.Threshold < 1 {
		return fmt.Errorf("compaction.threshold must be positive, got %d", c.Compaction.Threshold)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %s", c.Logging.Format)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Autoflush returns the parsed autoflush strategy.
func (c *Config) Autoflush() docindex.AutoflushStrategy {
	s, _ := docindex.ParseAutoflushStrategy(c.Index.Autoflush)
	return s
}

// IndexConfig returns the configuration of a newly created index.
func (c *Config) IndexConfig() docindex.IndexConfig {
	return docindex.IndexConfig{
		Type: docindex.IndexType(strings.ToLower(c.Index.Type)),
		TextAnalysis: docindex.TextAnalysisProperties{
			MinTermLength:     c.Analysis.MinTermLength,
			Substitutions:     c.Analysis.Substitutions,
			MaximumTerms:      c.Analysis.MaximumTerms,
			ProximityIndexing: c.Analysis.ProximityIndexing,
			TermChars:         c.Analysis.TermChars,
			StartTermChars:    c.Analysis.StartTermChars,
			EndTermChars:      c.Analysis.EndTermChars,
			StopwordLanguage:  c.Analysis.StopwordLanguage,
			Stopwords:         c.Analysis.Stopwords,
		},
	}
}

// SearchRequest builds a request for query with the configured bounds.
func (c *Config) SearchRequest(query string) docindex.SearchRequest {
	req := docindex.NewSearchRequest(query)
	req.HitsPerBatch = c.Search.HitsPerBatch
	req.MaxTimePerBatch = mustDuration(c.Search.MaxTimePerBatch, docindex.DefaultMaxTimePerBatch)
	if c.Search.SpaceMeansOr {
		req.Options |= docindex.SearchOptionSpaceMeansOr
	}
	return req
}

// CompactionCheckInterval returns the parsed check interval.
func (c *Config) CompactionCheckInterval() time.Duration {
	return mustDuration(c.Compaction.CheckInterval, time.Minute)
}

// CompactionCooldown returns the parsed cooldown.
func (c *Config) CompactionCooldown() time.Duration {
	return mustDuration(c.Compaction.Cooldown, time.Hour)
}

// WatchDebounce returns the parsed debounce window.
func (c *Config) WatchDebounce() time.Duration {
	return mustDuration(c.Watch.Debounce, 200*time.Millisecond)
}

// mustDuration parses a validated duration, falling back to def when empty.
func mustDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
