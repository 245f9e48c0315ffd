// Package config holds the benchmark's structured input and loads it from a
// YAML file; everything downstream only sees the typed Config struct.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ContractSource is exactly one of V0 or V1: a legacy (Cairo 0) compiled
// program path, or a Sierra program + CASM path pair.
type ContractSource struct {
	V0 *struct {
		Path string `yaml:"path"`
	} `yaml:"v0,omitempty"`
	V1 *struct {
		Path     string `yaml:"path"`
		CasmPath string `yaml:"casm_path"`
	} `yaml:"v1,omitempty"`
}

// Validate enforces the exactly-one-of rule for a contract source.
func (c ContractSource) Validate(name string) error {
	if c.V0 == nil && c.V1 == nil {
		return fmt.Errorf("setup.%s: exactly one of v0/v1 must be set, got neither", name)
	}
	if c.V0 != nil && c.V1 != nil {
		return fmt.Errorf("setup.%s: exactly one of v0/v1 must be set, got both", name)
	}
	return nil
}

type RPCConfig struct {
	URL string `yaml:"url"`
}

type SetupConfig struct {
	ERC20Contract    ContractSource `yaml:"erc20_contract"`
	ERC721Contract   ContractSource `yaml:"erc721_contract"`
	AccountContract  ContractSource `yaml:"account_contract"`
	FeeTokenAddress  string         `yaml:"fee_token_address"`
	NumAccounts      uint32         `yaml:"num_accounts"`
	ChainID          string         `yaml:"chain_id"`
}

type ShooterConfig struct {
	Name   string `yaml:"name"` // "transfer" | "mint"
	Shoot  uint64 `yaml:"shoot"`
}

type ReadBenchConfig struct {
	Name                string `yaml:"name"`
	NumRequests         uint64 `yaml:"num_requests"`
	Method              string `yaml:"method"`
	ParametersLocation  string `yaml:"parameters_location"`
}

type RunConfig struct {
	Concurrency uint32            `yaml:"concurrency"`
	Shooters    []ShooterConfig   `yaml:"shooters"`
	ReadBenches []ReadBenchConfig `yaml:"read_benches"`

	// VerifyConcurrency bounds in-flight receipt polls; defaults to 4x
	// submit concurrency when unset.
	VerifyConcurrency uint32 `yaml:"verify_concurrency"`
	// MaxWaitMS bounds how long the verification stage polls before
	// producing Err(Timeout); conservative defaults apply when zero.
	MaxWaitMS uint64 `yaml:"max_wait_ms"`
	// BlockTimeMS sizes the block watcher's poll interval (~block_time/4,
	// floored at 250ms).
	BlockTimeMS uint64 `yaml:"block_time_ms"`
}

const (
	DefaultMaxWaitMS   = 30_000
	DefaultBlockTimeMS = 2_000
)

// EffectiveVerifyConcurrency returns the configured verify concurrency, or
// 4x submit concurrency when unset.
func (r RunConfig) EffectiveVerifyConcurrency() uint32 {
	if r.VerifyConcurrency > 0 {
		return r.VerifyConcurrency
	}
	return 4 * r.Concurrency
}

// EffectiveMaxWaitMS returns the configured max_wait, or DefaultMaxWaitMS
// when unset.
func (r RunConfig) EffectiveMaxWaitMS() uint64 {
	if r.MaxWaitMS > 0 {
		return r.MaxWaitMS
	}
	return DefaultMaxWaitMS
}

// EffectiveBlockTimeMS returns the configured block_time, or
// DefaultBlockTimeMS when unset.
func (r RunConfig) EffectiveBlockTimeMS() uint64 {
	if r.BlockTimeMS > 0 {
		return r.BlockTimeMS
	}
	return DefaultBlockTimeMS
}

type ReportConfig struct {
	NumBlocks      uint32 `yaml:"num_blocks"`
	OutputLocation string `yaml:"output_location"`
}

type DeployerConfig struct {
	Address        string `yaml:"address"`
	SigningKey     string `yaml:"signing_key"`
	Salt           string `yaml:"salt"`
	LegacyAccount  bool   `yaml:"legacy_account"`
}

// MetricsConfig controls the optional Prometheus exposition endpoint. It is
// off by default: benchmarks that never want an HTTP listener running
// alongside them don't get one.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// EffectiveListenAddr returns the configured listen address, or a default
// port when unset.
func (m MetricsConfig) EffectiveListenAddr() string {
	if m.ListenAddr != "" {
		return m.ListenAddr
	}
	return ":9090"
}

// Config is the root of the benchmark configuration tree.
type Config struct {
	RPC      RPCConfig      `yaml:"rpc"`
	Setup    SetupConfig    `yaml:"setup"`
	Run      RunConfig      `yaml:"run"`
	Report   ReportConfig   `yaml:"report"`
	Deployer DeployerConfig `yaml:"deployer"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// Load reads and parses a YAML config file at path, then validates the
// structural invariants that must hold before any RPC call is made.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the config's structural invariants.
func (c *Config) Validate() error {
	if c.RPC.URL == "" {
		return fmt.Errorf("rpc.url is required")
	}
	if err := c.Setup.ERC20Contract.Validate("erc20_contract"); err != nil {
		return err
	}
	if err := c.Setup.ERC721Contract.Validate("erc721_contract"); err != nil {
		return err
	}
	if err := c.Setup.AccountContract.Validate("account_contract"); err != nil {
		return err
	}
	if c.Setup.NumAccounts < 1 {
		return fmt.Errorf("setup.num_accounts must be >= 1")
	}
	if c.Setup.ChainID == "" {
		return fmt.Errorf("setup.chain_id is required")
	}
	if c.Run.Concurrency < 1 {
		return fmt.Errorf("run.concurrency must be >= 1")
	}
	for _, s := range c.Run.Shooters {
		if s.Name != "transfer" && s.Name != "mint" {
			return fmt.Errorf("run.shooters: unknown shooter name %q", s.Name)
		}
	}
	if c.Report.NumBlocks < 1 {
		return fmt.Errorf("report.num_blocks must be >= 1")
	}
	if c.Report.OutputLocation == "" {
		return fmt.Errorf("report.output_location is required")
	}
	if c.Deployer.Address == "" || c.Deployer.SigningKey == "" {
		return fmt.Errorf("deployer.address and deployer.signing_key are required")
	}
	return nil
}
