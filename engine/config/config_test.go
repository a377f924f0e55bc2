package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Renderer.FramesInFlight)
	assert.Equal(t, 2*time.Second, cfg.Renderer.AcquireTimeout())
	assert.Equal(t, uint64(48), cfg.Arena.Vertex.Alignment)
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anima.toml")
	data := `
[renderer]
backend = "headless"
frames_in_flight = 2
log_level = "debug"

[arena.vertex]
mode = "fixed"
initial_size = 960
max_size = 960
alignment = 48
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendHeadless, cfg.Renderer.Backend)
	assert.Equal(t, 2, cfg.Renderer.FramesInFlight)
	assert.Equal(t, ArenaModeFixed, cfg.Arena.Vertex.Mode)
	assert.Equal(t, uint64(960), cfg.Arena.Vertex.InitialSize)
	// untouched sections keep their defaults
	assert.Equal(t, Default().Arena.Index, cfg.Arena.Index)
	assert.Equal(t, 1280, cfg.Window.Width)
}

func TestReadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown backend", "[renderer]\nbackend = \"metal\"\n"},
		{"too many frames", "[renderer]\nframes_in_flight = 9\n"},
		{"zero frames", "[renderer]\nframes_in_flight = 0\n"},
		{"bad log level", "[renderer]\nlog_level = \"loud\"\n"},
		{"bad arena mode", "[arena.index]\nmode = \"pool\"\n"},
		{"max below initial", "[arena.index]\ninitial_size = 100\nmax_size = 10\n"},
		{"vertex alignment", "[arena.vertex]\nalignment = 16\n"},
		{"unknown field", "[renderer]\nframes = 3\n"},
		{"malformed", "[renderer\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.data))
			assert.Error(t, err)
		})
	}
}
