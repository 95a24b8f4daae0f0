package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "agentindex.db", cfg.Store.Path)
	assert.Equal(t, 10, cfg.API.MaxResults)
	assert.Equal(t, 24*time.Hour, cfg.Oracle.RetryAfter)
	assert.True(t, cfg.Jobs.Enabled)
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentindex.yaml")
	data := []byte("api:\n  addr: \":9999\"\njobs:\n  rank_schedule: \"0 5 * * *\"\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.API.Addr)
	assert.Equal(t, "0 5 * * *", cfg.Jobs.RankSchedule)
	// Untouched keys keep their defaults.
	assert.Equal(t, 10, cfg.API.MaxResults)
	assert.Equal(t, "*/10 * * * *", cfg.Jobs.ParseSchedule)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentindex.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  path: from-file.db\n"), 0o644))
	t.Setenv("AGENTINDEX_STORE_PATH", "from-env.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.Store.Path, "environment must win over file")
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentindex.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty store path", func(c *Config) { c.Store.Path = "" }},
		{"zero max results", func(c *Config) { c.API.MaxResults = 0 }},
		{"zero oracle timeout", func(c *Config) { c.Oracle.Timeout = 0 }},
		{"zero dimensions", func(c *Config) { c.Embedding.Dimensions = 0 }},
		{"bad provider", func(c *Config) { c.Embedding.Provider = "cohere" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
