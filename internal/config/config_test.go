package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return &cfg
}

func TestDefaults_AreValid(t *testing.T) {
	cfg := defaultConfig(t)
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Analysis.EnableStatic)
	assert.False(t, cfg.Analysis.EnableDynamic)
	assert.Equal(t, int64(1), cfg.Dynamic.MaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.Dynamic.Budget)
}

func TestValidate_NoAnalysisEnabled(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Analysis.EnableStatic = false
	cfg.Analysis.EnableDynamic = false
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrNoAnalysisEnabled)
}

func TestValidate_DynamicBudgetRequired(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Analysis.EnableDynamic = true
	cfg.Dynamic.Budget = 0
	require.Error(t, cfg.Validate())
}

func TestValidate_AgentNeedsKey(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Agent.Enabled = true
	cfg.Agent.APIKey = "  "
	require.Error(t, cfg.Validate())

	cfg.Agent.APIKey = "test-key"
	require.NoError(t, cfg.Validate())
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "argus.yaml")
	content := []byte(`
logger:
  level: debug
analysis:
  workers: 8
dynamic:
  budget: 5s
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 8, cfg.Analysis.Workers)
	assert.Equal(t, 5*time.Second, cfg.Dynamic.Budget)
	// Values absent from the file keep their defaults.
	assert.Equal(t, "https://api.osv.dev", cfg.Advisory.Endpoint)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	// viper treats an explicit missing file as an error; the default search
	// path case is exercised by not passing a file at all.
	if err != nil {
		cfg, err = Load("")
	}
	require.NoError(t, err)
	assert.Equal(t, "argus", cfg.Logger.ServiceName)
}
