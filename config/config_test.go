package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenfox/gc-viz/config"
	"github.com/kenfox/gc-viz/gc"
)

func TestDefaultConfigResolvesMarkSweep(t *testing.T) {
	r := require.New(t)
	cfg := config.Default()
	mode, err := cfg.Mode()
	r.NoError(err)
	r.Equal(gc.ModeMarkSweep, mode)
}

func TestLoadOverlaysOntoDefaults(t *testing.T) {
	r := require.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "gc-viz.toml")
	data := `
collector = "copy"
heap_size = 500
`
	r.NoError(os.WriteFile(path, []byte(data), 0o600))

	cfg, err := config.Load(path)
	r.NoError(err)
	r.Equal(500, cfg.HeapSize)
	r.Equal(5, cfg.GCEveryLines) // untouched default survives the overlay

	mode, err := cfg.Mode()
	r.NoError(err)
	r.Equal(gc.ModeCopy, mode)
}

func TestModeRejectsUnknownCollector(t *testing.T) {
	r := require.New(t)
	cfg := config.Default()
	cfg.Collector = "bogus"
	_, err := cfg.Mode()
	r.Error(err)
}
