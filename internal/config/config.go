// Package config loads the node's YAML configuration: network identity,
// listen/bootstrap addresses, storage paths, the milestone committee and
// snapshot sources, and logging.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// NetworkType distinguishes mainnet from testnet peer populations.
type NetworkType string

const (
	NetworkMainnet NetworkType = "mainnet"
	NetworkTestnet NetworkType = "testnet"
)

// DHT/discovery namespace prefixes, kept per-network so a testnet node never
// rendezvous with a mainnet one.
const (
	MainnetProtocolPrefix = "/tnode-gossip"
	TestnetProtocolPrefix = "/tnode-gossip-testnet"
)

// Config is the full node configuration.
type Config struct {
	NetworkType NetworkType `yaml:"network_type"`
	NetworkId   uint64      `yaml:"network_id"`

	Identity  IdentityConfig  `yaml:"identity"`
	Network   NetworkConfig   `yaml:"network"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Milestone MilestoneConfig `yaml:"milestone"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
}

// IdentityConfig holds identity-related settings.
type IdentityConfig struct {
	KeyFile string `yaml:"key_file"`
}

// NetworkConfig holds P2P network settings.
type NetworkConfig struct {
	ListenAddrs        []string `yaml:"listen_addrs"`
	BootstrapPeers     []string `yaml:"bootstrap_peers"`
	EnableMDNS         bool     `yaml:"enable_mdns"`
	EnableDHT          bool     `yaml:"enable_dht"`
	EnableRelay        bool     `yaml:"enable_relay"`
	EnableNAT          bool     `yaml:"enable_nat"`
	EnableHolePunching bool     `yaml:"enable_hole_punching"`

	ConnMgr ConnMgrConfig `yaml:"conn_mgr"`
}

// ConnMgrConfig holds connection manager settings.
type ConnMgrConfig struct {
	LowWater    int           `yaml:"low_water"`
	HighWater   int           `yaml:"high_water"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// MilestoneConfig names the committee this node trusts to sign milestones
// and the minimum number of committee signatures a milestone must carry.
type MilestoneConfig struct {
	ApplicablePublicKeys []HexKey `yaml:"applicable_public_keys"`
	MinThreshold         int      `yaml:"min_threshold"`
	TotalSupply          uint64   `yaml:"total_supply"`
}

// HexKey is a 32-byte public key round-tripped through YAML as hex.
type HexKey [32]byte

func (k HexKey) MarshalYAML() (interface{}, error) {
	return hex.EncodeToString(k[:]), nil
}

func (k *HexKey) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("config: invalid hex public key %q: %w", s, err)
	}
	if len(b) != 32 {
		return fmt.Errorf("config: public key %q must be 32 bytes, got %d", s, len(b))
	}
	copy(k[:], b)
	return nil
}

// PublicKeys returns the configured committee as raw [32]byte values, ready
// for tmsg.MilestonePayload.Validate.
func (c MilestoneConfig) PublicKeys() [][32]byte {
	out := make([][32]byte, len(c.ApplicablePublicKeys))
	for i, k := range c.ApplicablePublicKeys {
		out[i] = [32]byte(k)
	}
	return out
}

// SnapshotConfig locates the snapshot files this node imports at startup.
// ExportIntervalMilestones is loaded and saved but no component reads it;
// the node does not export snapshots on its own.
type SnapshotConfig struct {
	FullPath                 string `yaml:"full_path"`
	DeltaPath                string `yaml:"delta_path"`
	FullURL                  string `yaml:"full_url"`
	DeltaURL                 string `yaml:"delta_url"`
	ExportIntervalMilestones uint32 `yaml:"export_interval_milestones"`
}

// DHTPrefix returns the DHT protocol prefix for the configured network. The
// gossip protocol id (gossip.ProtocolID) does not use it.
func (c *Config) DHTPrefix() string {
	if c.NetworkType == NetworkTestnet {
		return TestnetProtocolPrefix
	}
	return MainnetProtocolPrefix
}

// DiscoveryNamespace returns the rendezvous string mDNS and DHT peer
// discovery advertise and search under, namespaced per network so a
// testnet node never discovers a mainnet one.
func (c *Config) DiscoveryNamespace() string {
	return fmt.Sprintf("%s/%d", c.DHTPrefix(), c.NetworkId)
}

// IsTestnet returns true if running on testnet.
func (c *Config) IsTestnet() bool {
	return c.NetworkType == NetworkTestnet
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		NetworkType: NetworkMainnet,
		NetworkId:   1,
		Identity: IdentityConfig{
			KeyFile: "node.key",
		},
		Network: NetworkConfig{
			ListenAddrs: []string{
				"/ip4/0.0.0.0/tcp/15600",
				"/ip4/0.0.0.0/udp/15600/quic-v1",
			},
			BootstrapPeers:     []string{},
			EnableMDNS:         true,
			EnableDHT:          true,
			EnableRelay:        true,
			EnableNAT:          true,
			EnableHolePunching: true,
			ConnMgr: ConnMgrConfig{
				LowWater:    50,
				HighWater:   200,
				GracePeriod: time.Minute,
			},
		},
		Storage: StorageConfig{
			DataDir: "~/.tnode",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		Milestone: MilestoneConfig{
			MinThreshold: 1,
			TotalSupply:  2_779_530_283_277_761,
		},
		Snapshot: SnapshotConfig{
			FullPath:                 "snapshot-full.bin",
			DeltaPath:                "snapshot-delta.bin",
			ExportIntervalMilestones: 50,
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from a YAML file under dataDir. If the file
// doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := ExpandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# tnode configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ConfigPath returns the full path to the config file for the given data
// directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), ConfigFileName)
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
