package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Accessors(t *testing.T) {
	cfg := config.New(map[string]any{
		"name":    "canvas",
		"timeout": "1500ms",
		"secs":    2,
		"ratio":   1.5,
		"count":   float64(3),
		"on":      true,
		"nested":  map[string]any{"k": "v"},
	})

	assert.Equal(t, "canvas", cfg.String("name", "x"))
	assert.Equal(t, "x", cfg.String("missing", "x"))
	assert.Equal(t, 1500*time.Millisecond, cfg.Duration("timeout", 0))
	assert.Equal(t, 2*time.Second, cfg.Duration("secs", 0))
	assert.Equal(t, 3, cfg.Int("count", 0))
	assert.Equal(t, 7, cfg.Int("ratio", 7), "fractional floats fall back")
	assert.True(t, cfg.Bool("on", false))
	assert.Equal(t, "v", cfg.Sub("nested").String("k", ""))
	assert.False(t, cfg.Sub("missing").Has("k"))
}

// TestClientFrom_YAML verifies a file round-trips into validated settings.
func TestClientFrom_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canvaskit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: https://builder.example.com/v1/
save_debounce: 5s
upload_concurrency: 2
surface: owner
stream:
  mode: incremental
  idle_timeout: 45s
snapshot:
  driver: sqlite
  path: /tmp/snapshots.db
`), 0o600))

	cfg, err := config.FromFile(path)
	require.NoError(t, err)
	c, err := config.ClientFrom(cfg)
	require.NoError(t, err)

	assert.Equal(t, "https://builder.example.com/v1", c.BaseURL)
	assert.Equal(t, 5*time.Second, c.SaveDebounce)
	assert.Equal(t, 2, c.UploadConcurrency)
	assert.Equal(t, config.SurfaceOwner, c.Surface)
	assert.Equal(t, config.StreamIncremental, c.StreamMode)
	assert.Equal(t, 45*time.Second, c.StreamIdleTimeout)
	assert.Equal(t, config.SnapshotSQLite, c.SnapshotDriver)
	assert.Equal(t, 3, c.RetryAttempts, "unset keys keep defaults")
}

func TestClientFrom_JSON(t *testing.T) {
	cfg, err := config.FromJSON([]byte(`{"base_url":"http://localhost:9380","request_timeout":10}`))
	require.NoError(t, err)
	c, err := config.ClientFrom(cfg)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, c.RequestTimeout)
}

func TestClientFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
	}{
		{"missing base url", map[string]any{}},
		{"bad url", map[string]any{"base_url": "not a url"}},
		{"bad stream mode", map[string]any{"base_url": "http://x", "stream": map[string]any{"mode": "chunked"}}},
		{"zero concurrency", map[string]any{"base_url": "http://x", "upload_concurrency": 0}},
		{"sqlite without path", map[string]any{"base_url": "http://x", "snapshot": map[string]any{"driver": "sqlite"}}},
		{"bad surface", map[string]any{"base_url": "http://x", "surface": "public"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.ClientFrom(config.New(tt.data))
			require.Error(t, err)
			var verrs validator.ValidationErrors
			assert.True(t, errors.As(err, &verrs))
		})
	}
}

func TestFromFile_Errors(t *testing.T) {
	_, err := config.FromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "cfg.toml")
	require.NoError(t, os.WriteFile(path, []byte("a = 1"), 0o600))
	_, err = config.FromFile(path)
	assert.ErrorContains(t, err, "unsupported")

	_, err = config.FromYAML([]byte(":\n  - ["))
	assert.Error(t, err)
}
