package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tolelom/repochain/chainstate"
	"github.com/tolelom/repochain/crypto"
)

// TLSConfig holds paths to the PEM files needed for mTLS.
// When nil or all paths empty, the node falls back to plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`   // CA certificate PEM path
	NodeCert string `json:"node_cert"` // node certificate PEM path
	NodeKey  string `json:"node_key"`  // node private key PEM path
}

// SeedPeer identifies a remote node to connect to on startup.
type SeedPeer struct {
	ID        string `json:"id"`         // remote node ID
	Addr      string `json:"addr"`       // gossip host:port
	RemoteURL string `json:"remote_url"` // rawrepo fetch URL for that node's repository
}

// GenesisConfig describes the repository's initial reserved state.
type GenesisConfig struct {
	ReservedState chainstate.ReservedState `json:"reserved_state"`
}

// Config holds all node configuration.
type Config struct {
	NodeID       string        `json:"node_id"`
	DataDir      string        `json:"data_dir"`       // root of the managed rawrepo repository
	P2PPort      int           `json:"p2p_port"`       // gossip listen port
	RemoteURL    string        `json:"remote_url"`      // this node's own repo, as advertised to peers
	MaxBlockTxs  int           `json:"max_block_txs"`  // transactions-per-agenda setting (DefaultConfig: 500); no operation reads it
	Genesis      GenesisConfig `json:"genesis"`
	SeedPeers    []SeedPeer    `json:"seed_peers,omitempty"`
	TLS          *TLSConfig    `json:"tls,omitempty"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:      "node0",
		DataDir:     "./data",
		P2PPort:     30303,
		MaxBlockTxs: 500,
		Genesis: GenesisConfig{
			ReservedState: chainstate.ReservedState{Quorum: 1},
		},
	}
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.P2PPort <= 0 || c.P2PPort > 65535 {
		return fmt.Errorf("p2p_port must be 1-65535, got %d", c.P2PPort)
	}
	if len(c.Genesis.ReservedState.Validators) == 0 {
		return fmt.Errorf("genesis.reserved_state.validators must not be empty")
	}
	if c.Genesis.ReservedState.Quorum <= 0 {
		return fmt.Errorf("genesis.reserved_state.quorum must be positive")
	}
	if c.Genesis.ReservedState.Quorum > c.Genesis.ReservedState.TotalWeight() {
		return fmt.Errorf("genesis.reserved_state.quorum (%d) exceeds total validator weight (%d)",
			c.Genesis.ReservedState.Quorum, c.Genesis.ReservedState.TotalWeight())
	}
	for i, v := range c.Genesis.ReservedState.Validators {
		if _, err := crypto.PubKeyFromHex(v.PubKeyHex); err != nil {
			return fmt.Errorf("genesis.reserved_state.validators[%d]: invalid pubkey: %w", i, err)
		}
		if v.Weight <= 0 {
			return fmt.Errorf("genesis.reserved_state.validators[%d]: weight must be positive", i)
		}
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
