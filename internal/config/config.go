// Package config defines the driver Options from spec.md §6 and an
// optional YAML overlay, grounded on khushveer007-tdm/internal/config
// (yaml.v3 struct tags, defaults-then-overlay layering).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Options mirrors spec.md §6's Options enumeration exactly.
type Options struct {
	Port          int    `yaml:"port"`
	MaxPeers      int    `yaml:"max_peers"`
	PipelineDepth int    `yaml:"pipeline_depth"`
	IdleTimeoutS  int    `yaml:"idle_timeout_s"`
	BlockTimeoutS int    `yaml:"block_timeout_s"`
	PeerIDPrefix  string `yaml:"peer_id_prefix"`
}

// Defaults returns spec.md §6's literal default Options.
func Defaults() Options {
	return Options{
		Port:          6881,
		MaxPeers:      50,
		PipelineDepth: 5,
		IdleTimeoutS:  120,
		BlockTimeoutS: 60,
		PeerIDPrefix:  "-PY0001-",
	}
}

func (o Options) IdleTimeout() time.Duration {
	return time.Duration(o.IdleTimeoutS) * time.Second
}

func (o Options) BlockTimeout() time.Duration {
	return time.Duration(o.BlockTimeoutS) * time.Second
}

// LoadFile overlays a YAML options file on top of base; keys absent from
// the file are left at base's values (file values always win when
// present, even zero ones, since YAML unmarshal into a pre-populated struct
// only touches keys it finds). Callers should apply CLI flag overrides after this, so
// flags always win over the file per SPEC_FULL.md's ambient-stack section.
func LoadFile(path string, base Options) (Options, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("config: read %s: %w", path, err)
	}
	out := base
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return base, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return out, nil
}
