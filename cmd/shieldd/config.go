package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shadowvault/core/internal/economics"
	"github.com/shadowvault/core/internal/ledger"
	"github.com/shadowvault/core/internal/p2p"
	"github.com/shadowvault/core/internal/ratelimit"
	"github.com/shadowvault/core/internal/storage"
	"github.com/shadowvault/core/internal/zkp"
	"github.com/shadowvault/core/pkg/types"
)

// Duration is a time.Duration read from strings such as "24h"
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config holds node configuration
type Config struct {
	DataDir string `json:"data_dir"`

	// Logging
	LogLevel string `json:"log_level"`
	LogJSON  bool   `json:"log_json"`

	// Storage: "memory" or "postgres"
	Store    string          `json:"store"`
	Postgres *storage.Config `json:"postgres,omitempty"`

	// Proofs. Hasher "keccak" is for key-less test networks only: the
	// circuits hash with mimc, so startup fails if verifying keys are
	// found under KeysDir with any other hasher.
	Hasher            string `json:"hasher"`
	KeysDir           string `json:"keys_dir"`
	VerifierCacheSize int    `json:"verifier_cache_size"`

	// Protocol parameters
	FeeBps        uint16     `json:"fee_bps"`
	FeeRecipient  types.Hash `json:"fee_recipient"`
	PrivacyDelay  Duration   `json:"privacy_delay"`
	DisclosureTTL Duration   `json:"disclosure_ttl"`
	Paused        bool       `json:"paused"`

	// Request admission
	RequireAuth     bool     `json:"require_auth"`
	AuthMaxSkew     Duration `json:"auth_max_skew"`
	ShieldsPerEpoch uint64   `json:"shields_per_epoch"`
	Epoch           Duration `json:"epoch"`

	// Network
	RPCAddr     string   `json:"rpc_addr"`
	MetricsAddr string   `json:"metrics_addr"`
	P2PEnabled  bool     `json:"p2p_enabled"`
	ListenAddrs []string `json:"listen_addrs"`
	Bootstrap   []string `json:"bootstrap_peers"`
	EnableMDNS  bool     `json:"enable_mdns"`
	NetworkID   uint32   `json:"network_id"`
}

// DefaultConfig returns default node configuration
func DefaultConfig() *Config {
	rl := ratelimit.DefaultConfig()
	p := ledger.DefaultParams()
	return &Config{
		DataDir:           "./data",
		LogLevel:          "info",
		Store:             "memory",
		Postgres:          storage.DefaultConfig(),
		Hasher:            zkp.HasherMiMC,
		KeysDir:           "./keys",
		VerifierCacheSize: zkp.DefaultVerifierConfig().CacheSize,
		FeeBps:            p.FeeBps,
		PrivacyDelay:      Duration{p.PrivacyDelay},
		DisclosureTTL:     Duration{p.DisclosureTTL},
		AuthMaxSkew:       Duration{5 * time.Minute},
		ShieldsPerEpoch:   rl.MaxPerEpoch,
		Epoch:             Duration{rl.Epoch},
		RPCAddr:           "127.0.0.1:9401",
		MetricsAddr:       "127.0.0.1:9402",
		ListenAddrs:       p2p.DefaultConfig().ListenAddrs,
		EnableMDNS:        true,
		NetworkID:         p2p.DefaultConfig().NetworkID,
	}
}

// LoadConfig reads a JSON config file over the defaults
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Params builds the protocol parameter snapshot
func (c *Config) Params() ledger.Params {
	return ledger.Params{
		FeeBps:        c.FeeBps,
		PrivacyDelay:  c.PrivacyDelay.Duration,
		DisclosureTTL: c.DisclosureTTL.Duration,
		Paused:        c.Paused,
	}
}

// RateLimit builds the limiter configuration
func (c *Config) RateLimit() *ratelimit.Config {
	rl := ratelimit.DefaultConfig()
	rl.MaxPerEpoch = c.ShieldsPerEpoch
	rl.Epoch = c.Epoch.Duration
	return rl
}

// P2P builds the event bus configuration
func (c *Config) P2P() *p2p.Config {
	pc := p2p.DefaultConfig()
	pc.ListenAddrs = c.ListenAddrs
	pc.BootstrapPeers = c.Bootstrap
	pc.EnableMDNS = c.EnableMDNS
	pc.NetworkID = c.NetworkID
	return pc
}

// Validate checks the configuration
func (c *Config) Validate() error {
	var errs []error

	switch c.Store {
	case "memory":
	case "postgres":
		if c.Postgres == nil {
			errs = append(errs, errors.New("postgres store selected without postgres settings"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}

	if _, err := zkp.NewHasher(c.Hasher); err != nil {
		errs = append(errs, err)
	}
	if c.VerifierCacheSize < 0 {
		errs = append(errs, fmt.Errorf("negative verifier cache size %d", c.VerifierCacheSize))
	}
	if c.FeeBps > economics.BpsDenominator {
		errs = append(errs, fmt.Errorf("%w: %d bps", economics.ErrFeeTooHigh, c.FeeBps))
	}
	if err := c.Params().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.RateLimit().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.RPCAddr == "" {
		errs = append(errs, errors.New("rpc_addr is required"))
	}
	if c.P2PEnabled && len(c.ListenAddrs) == 0 {
		errs = append(errs, errors.New("p2p enabled without listen addresses"))
	}

	return errors.Join(errs...)
}
