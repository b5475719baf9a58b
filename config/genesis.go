package config

import (
	"time"

	"github.com/tolelom/repochain/semantic"
)

// BuildGenesisEvent turns the config's reserved state into the genesis
// event a fresh repository's first commit encodes.
func BuildGenesisEvent(cfg *Config) semantic.Event {
	return semantic.Event{
		Kind: semantic.KindGenesis,
		Genesis: &semantic.Genesis{
			ReservedState: cfg.Genesis.ReservedState,
			Timestamp:     time.Now().Unix(),
		},
	}
}
