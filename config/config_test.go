package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "territory.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	// GIVEN: No config file in the search path and no overrides
	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, "territoryd", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Env)
	assert.False(t, cfg.App.Scenarios)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 15*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:8080"}, cfg.HTTP.CORSAllowedOrigins)
	assert.Equal(t, "territory.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, 25*time.Millisecond, cfg.Retry.InitialInterval)
	assert.Equal(t, 100, cfg.Payout.ChunkSize)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_FileAndEnv(t *testing.T) {
	// GIVEN: A TOML file
	path := writeFile(t, `
[app]
env = "production"

[http]
addr = ":9090"
request_timeout = "5s"

[database]
path = "/var/lib/territoryd/territory.db"

[log]
level = "debug"
format = "console"

[retry]
max_attempts = 6
initial_interval = "10ms"
max_interval = "1s"

[payout]
chunk_size = 250
`)
	// AND: An environment override
	t.Setenv("TERRITORY_HTTP_ADDR", ":7070")
	t.Setenv("TERRITORY_PAYOUT_CHUNK_SIZE", "50")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, ":7070", cfg.HTTP.Addr, "environment wins over the file")
	assert.Equal(t, 50, cfg.Payout.ChunkSize)
	assert.Equal(t, 5*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, "/var/lib/territoryd/territory.db", cfg.Database.Path)
	assert.Equal(t, "console", cfg.Log.Format)

	policy := cfg.Retry.Policy()
	assert.Equal(t, 6, policy.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, policy.InitialInterval)
	assert.Equal(t, time.Second, policy.MaxInterval)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want string
	}{
		{"unknown env", "[app]\nenv = \"staging\"", "app.env"},
		{"scenarios in production", "[app]\nenv = \"production\"\nscenarios = true", "app.scenarios"},
		{"bad log level", "[log]\nlevel = \"loud\"", "log.level"},
		{"bad log format", "[log]\nformat = \"xml\"", "log.format"},
		{"zero chunk", "[payout]\nchunk_size = 0", "payout.chunk_size"},
		{"zero attempts", "[retry]\nmax_attempts = 0", "retry.max_attempts"},
		{"inverted intervals", "[retry]\ninitial_interval = \"2s\"\nmax_interval = \"1s\"", "retry.max_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.toml))

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
