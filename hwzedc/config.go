// Package hwzedc is the public facade: the switching shim that wraps
// a hardware Engine and a software fallback behind one streaming
// interface (spec.md §4.6), plus the environment-controls Config that
// selects how a Stream is built.
package hwzedc

import (
	"encoding/json"

	"github.com/hwzedc/hwzedc/transport"
)

// DirectionFlags selects, per direction, whether hardware is even a
// candidate — spec.md §6's "hardware/software selection per direction".
type DirectionFlags struct {
	Deflate bool `json:"deflate"`
	Inflate bool `json:"inflate"`
}

// Config is the full set of environment controls from spec.md §6,
// unmarshaled from JSON the way standalone/config.LoadConfig unmarshals
// a MachineConfig, then defaulted by applyDefaults.
type Config struct {
	ForceSoftware      bool           `json:"force_software"`
	HardwareDirection  DirectionFlags `json:"hardware_direction"`
	InputStagingSize   int            `json:"input_staging_size"`
	OutputStagingSize  int            `json:"output_staging_size"`

	// InflateSmallInputThreshold is the avail_in cutoff below which a
	// hardware-selected inflate stream switches to software on its
	// first call, per spec.md §4.6.
	InflateSmallInputThreshold int `json:"inflate_small_input_threshold"`

	AcceleratorKind transport.Kind `json:"accelerator_kind"`
	CardIndex       int            `json:"card_index"`

	Verbosity        int  `json:"verbosity"`
	CollectDebugData bool `json:"collect_debug_data"`
}

const defaultInflateSmallInputThreshold = 16 * 1024

// LoadConfig parses a JSON configuration document and applies
// defaults, matching standalone/config.LoadConfig's
// unmarshal-then-applyDefaults shape.
func LoadConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// DefaultConfig returns a Config with every default applied and no
// JSON document to parse, for callers building a Stream programmatically.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills in zero-valued fields with sensible defaults,
// mirroring standalone/config.go's per-field defaulting pass.
func applyDefaults(cfg *Config) {
	if !cfg.ForceSoftware {
		if !cfg.HardwareDirection.Deflate && !cfg.HardwareDirection.Inflate {
			cfg.HardwareDirection = DirectionFlags{Deflate: true, Inflate: true}
		}
	}
	if cfg.InflateSmallInputThreshold == 0 {
		cfg.InflateSmallInputThreshold = defaultInflateSmallInputThreshold
	}
	// AcceleratorKind's zero value (transport.KindGeneric) is already
	// the correct default; CardIndex's zero value (card 0) likewise.
}
