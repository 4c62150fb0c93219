// Package config loads and saves node and client configuration files as
// TOML, creating a default on first load when no file exists yet.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the default node config file name.
const FileName = "at2node.toml"

// ClientFileName is the default client config file name.
const ClientFileName = "at2client.toml"

// PeerConfig is one row of the fixed peer directory: a node's listen
// multiaddr and its network public key, hex-encoded.
type PeerConfig struct {
	Address   string `toml:"address"`
	PublicKey string `toml:"public_key"`
}

// AddressesConfig holds the node's own listen/RPC endpoints.
type AddressesConfig struct {
	Node string `toml:"node"`
	RPC  string `toml:"rpc"`
}

// KeysConfig holds this node's private key material, hex-encoded.
type KeysConfig struct {
	// Sign is the Ed25519 signing seed, not used by the node itself (node
	// keys are per-account, owned by clients) but mirrored here so a
	// single-binary test deployment can self-issue transactions.
	Sign string `toml:"sign,omitempty"`
	// Network is the Ed25519 seed backing this node's libp2p identity.
	Network string `toml:"network"`
}

// ConnMgr holds connection manager watermarks.
type ConnMgr struct {
	LowWater  int `toml:"low_water"`
	HighWater int `toml:"high_water"`
}

// Thresholds holds the Sieve/Contagion/sampling parameters.
type Thresholds struct {
	EchoThreshold  int `toml:"echo_threshold"`
	ReadyThreshold int `toml:"ready_threshold"`
	SampleSize     int `toml:"sample_size"`
}

// Config is the full at2node configuration file shape.
type Config struct {
	Addresses  AddressesConfig `toml:"addresses"`
	Keys       KeysConfig      `toml:"keys"`
	Nodes      []PeerConfig    `toml:"nodes"`
	ConnMgr    ConnMgr         `toml:"conn_mgr"`
	Thresholds Thresholds      `toml:"thresholds"`
	LogLevel   string          `toml:"log_level"`
}

// DefaultConfig returns a Config with sensible defaults; Keys.Network and
// Nodes are left empty for the caller to fill in.
func DefaultConfig() *Config {
	return &Config{
		Addresses: AddressesConfig{
			Node: "/ip4/0.0.0.0/tcp/4001",
			RPC:  "127.0.0.1:4101",
		},
		ConnMgr: ConnMgr{
			LowWater:  8,
			HighWater: 32,
		},
		Thresholds: Thresholds{
			EchoThreshold:  1,
			ReadyThreshold: 1,
			SampleSize:     0, // 0 = full membership, i.e. AllPeersOracle
		},
		LogLevel: "info",
	}
}

// Load reads a node config file. If it doesn't exist, a default config is
// created and written in its place.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("config: create default: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as TOML, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("config: create directory: %w", err)
		}
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// ClientConfig is the at2client configuration file shape: a single RPC
// endpoint to dial and the account signing key to transact with.
type ClientConfig struct {
	RPCAddress string `toml:"rpc_address"`
	SignKey    string `toml:"sign_key"`
}

// LoadClient reads a client config file, creating nothing if absent --
// unlike the node, a client config is meaningless without a caller-supplied
// RPC address and key.
func LoadClient(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg ClientConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg to path as TOML, creating parent directories as needed.
func (c *ClientConfig) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("config: create directory: %w", err)
		}
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
