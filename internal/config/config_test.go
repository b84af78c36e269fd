package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/serhiybutz/docindexer/internal/errors"
	"github.com/serhiybutz/docindexer/pkg/docindex"
)

// isolate points the user config at an empty directory and clears the
// environment overrides.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, k := range []string{
		"DOCINDEXER_INDEX_PATH", "DOCINDEXER_BACKEND", "DOCINDEXER_AUTOFLUSH",
		"DOCINDEXER_WORKERS", "DOCINDEXER_HITS_PER_BATCH", "DOCINDEXER_MAX_TIME_PER_BATCH",
		"DOCINDEXER_COMPACTION_ENABLED", "DOCINDEXER_COMPACTION_THRESHOLD",
		"DOCINDEXER_LOG_LEVEL", "DOCINDEXER_LOG_FORMAT", "DOCINDEXER_LOG_FILE",
		"DOCINDEXER_METRICS_ENABLED", "DOCINDEXER_METRICS_ADDR", "DOCINDEXER_WATCH_ENABLED",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: all defaults should be applied
	require.NotNil(t, cfg)
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "sqlite", cfg.Index.Backend)
	assert.Equal(t, "inverted", cfg.Index.Type)
	assert.Equal(t, "none", cfg.Index.Autoflush)
	assert.Equal(t, docindex.DefaultHitsPerBatch, cfg.Search.HitsPerBatch)
	assert.Equal(t, "5s", cfg.Search.MaxTimePerBatch)
	assert.Equal(t, int64(1000), cfg.Compaction.Threshold)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestGetUserConfigPath_UsesXDG(t *testing.T) {
	// Given: XDG_CONFIG_HOME is set
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	// Then: the user config lives below it
	assert.Equal(t, filepath.Join(dir, "docindexer", "config.yaml"), GetUserConfigPath())
}

func TestLoad_NoFiles_ResolvesPaths(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".docindexer", "index"), cfg.Index.Path)
	assert.Equal(t, filepath.Join(dir, ".docindexer", "fragmentation.yaml"), cfg.Fragmentation.Preserver)
	assert.Equal(t, "index", cfg.Fragmentation.Key)
}

func TestLoad_ProjectOverridesUser(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	// Given: a user config and a project config that disagree
	writeFile(t, GetUserConfigPath(), "index:\n  backend: bleve\n  workers: 2\nlogging:\n  level: debug\n")
	writeFile(t, filepath.Join(dir, ProjectConfigName), "index:\n  backend: sqlite\n  autoflush: after_each_update\n")

	// When: loading
	cfg, err := Load(dir)

	// Then: the project wins and unset project values fall through to the user
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Index.Backend)
	assert.Equal(t, 2, cfg.Index.Workers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, docindex.AutoflushAfterEachUpdate, cfg.Autoflush())
}

func TestLoad_EnvOverridesFiles(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), "index:\n  backend: sqlite\n")

	// Given: environment overrides
	t.Setenv("DOCINDEXER_BACKEND", "bleve")
	t.Setenv("DOCINDEXER_HITS_PER_BATCH", "7")
	t.Setenv("DOCINDEXER_COMPACTION_ENABLED", "false")
	t.Setenv("DOCINDEXER_PRESERVER", "memory")

	// When: loading
	cfg, err := Load(dir)

	// Then: the environment wins
	require.NoError(t, err)
	assert.Equal(t, "bleve", cfg.Index.Backend)
	assert.Equal(t, 7, cfg.Search.HitsPerBatch)
	assert.False(t, cfg.Compaction.Enabled)
	assert.Equal(t, "memory", cfg.Fragmentation.Preserver)
}

func TestLoad_InvalidYAML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), "index: [unclosed\n")

	_, err := Load(dir)

	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestLoad_InvalidValues(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), "index:\n  autoflush: sometimes\n")

	_, err := Load(dir)

	assert.ErrorContains(t, err, "invalid configuration")
	assert.ErrorContains(t, err, "index.autoflush")
	assert.Equal(t, ierrors.ErrCodeConfigInvalid, ierrors.GetCode(err))
}

func TestLoadFile_ResolvesAgainstFileDirectory(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "docindexer.yaml")
	writeFile(t, path, "index:\n  path: data/notes\nfragmentation:\n  preserver: sqlite:///tmp/state.db\nwatch:\n  paths: [docs]\n")

	cfg, err := LoadFile(path)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "conf", "data", "notes"), cfg.Index.Path)
	assert.Equal(t, "sqlite:///tmp/state.db", cfg.Fragmentation.Preserver)
	assert.Equal(t, "notes", cfg.Fragmentation.Key)
	assert.Equal(t, []string{filepath.Join(dir, "conf", "docs")}, cfg.Watch.Paths)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.Index.Backend = "lucene" }, "index.backend"},
		{"unknown type", func(c *Config) { c.Index.Type = "graph" }, "index.type"},
		{"zero workers", func(c *Config) { c.Index.Workers = 0 }, "index.workers"},
		{"negative min term", func(c *Config) { c.Analysis.MinTermLength = -1 }, "analysis.min_term_length"},
		{"zero batch", func(c *Config) { c.Search.HitsPerBatch = 0 }, "search.hits_per_batch"},
		{"bad duration", func(c *Config) { c.Search.MaxTimePerBatch = "soon" }, "search.max_time_per_batch"},
		{"negative duration", func(c *Config) { c.Compaction.Cooldown = "-1s" }, "compaction.cooldown"},
		{"zero threshold", func(c *Config) { c.Compaction.Threshold = 0 }, "compaction.threshold"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestMergeWith_AppendsStopwordsAndMergesSubstitutions(t *testing.T) {
	cfg := NewConfig()
	cfg.Analysis.Stopwords = []string{"a"}
	cfg.Analysis.Substitutions = map[string]string{"colour": "color"}

	cfg.mergeWith(&Config{Analysis: AnalysisConfig{
		Stopwords:     []string{"b"},
		Substitutions: map[string]string{"grey": "gray"},
	}})

	assert.Equal(t, []string{"a", "b"}, cfg.Analysis.Stopwords)
	assert.Equal(t, map[string]string{"colour": "color", "grey": "gray"}, cfg.Analysis.Substitutions)
}

func TestConfig_IndexConfig(t *testing.T) {
	cfg := NewConfig()
	cfg.Analysis.MinTermLength = 3
	cfg.Analysis.StopwordLanguage = "en"
	cfg.Analysis.ProximityIndexing = true

	ic := cfg.IndexConfig()

	assert.Equal(t, docindex.IndexTypeInverted, ic.Type)
	assert.Equal(t, 3, ic.TextAnalysis.MinTermLength)
	assert.Equal(t, "en", ic.TextAnalysis.StopwordLanguage)
	assert.True(t, ic.TextAnalysis.ProximityIndexing)
}

func TestConfig_SearchRequest(t *testing.T) {
	cfg := NewConfig()
	cfg.Search.HitsPerBatch = 10
	cfg.Search.MaxTimePerBatch = "250ms"
	cfg.Search.SpaceMeansOr = true

	req := cfg.SearchRequest("tomatoes")

	assert.Equal(t, "tomatoes", req.Query)
	assert.Equal(t, 10, req.HitsPerBatch)
	assert.Equal(t, 250*time.Millisecond, req.MaxTimePerBatch)
	assert.NotZero(t, req.Options&docindex.SearchOptionSpaceMeansOr)
}

func TestConfig_Durations(t *testing.T) {
	cfg := NewConfig()
	cfg.Compaction.CheckInterval = ""

	assert.Equal(t, time.Minute, cfg.CompactionCheckInterval())
	assert.Equal(t, time.Hour, cfg.CompactionCooldown())
	assert.Equal(t, 200*time.Millisecond, cfg.WatchDebounce())
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	// Given: a modified config written to the project file
	cfg := NewConfig()
	cfg.Index.Backend = "bleve"
	cfg.Search.HitsPerBatch = 32
	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, ProjectConfigName)))

	// When: loading the directory
	loaded, err := Load(dir)

	// Then: the values survive
	require.NoError(t, err)
	assert.Equal(t, "bleve", loaded.Index.Backend)
	assert.Equal(t, 32, loaded.Search.HitsPerBatch)
}
