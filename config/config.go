// Package config loads the simulator's optional TOML configuration file:
// heap size, the active collector policy, the GC cadence during parsing,
// and the snapshot directory. CLI flags (cmd/gc-viz)
// override whatever a config file sets.
package config

import (
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/kenfox/gc-viz/gc"
)

// Config is the fully-resolved simulator configuration. The Copy
// collector's semi-space boundary is always HeapSize/2 (spec.md §3.1);
// there is no separate knob for it here.
type Config struct {
	HeapSize     int    `toml:"heap_size"`
	Collector    string `toml:"collector"`
	GCEveryLines int    `toml:"gc_every_lines"`
	SnapshotDir  string `toml:"snapshot_dir"`
}

// Default returns the simulator's built-in defaults, used when no config
// file is present and no flags override them.
func Default() Config {
	return Config{
		HeapSize:     2000,
		Collector:    "marksweep",
		GCEveryLines: 5,
		SnapshotDir:  "",
	}
}

// Load reads path (a TOML file of top-level keys) and overlays it onto
// Default(). A key missing from the file simply leaves the default in
// place — unlike surge.toml's manifest, nothing here is mandatory.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "config: failed to parse %s", path)
	}
	return cfg, nil
}

// Mode resolves the configured collector name to a gc.Mode.
func (c Config) Mode() (gc.Mode, error) {
	switch strings.ToLower(c.Collector) {
	case "nogc", "no-op", "noop":
		return gc.ModeNoGC, nil
	case "refcount", "ref-count":
		return gc.ModeRefCount, nil
	case "marksweep", "mark-sweep":
		return gc.ModeMarkSweep, nil
	case "markcompact", "mark-compact":
		return gc.ModeMarkCompact, nil
	case "copy":
		return gc.ModeCopy, nil
	default:
		return 0, errors.Errorf("config: unknown collector %q", c.Collector)
	}
}
