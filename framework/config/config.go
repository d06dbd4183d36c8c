// Package config describes the chains, relayer, contract artifacts and mesh
// parameters a docker backed harness run is wired from.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/BurntSushi/toml"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/osmosis-labs/mesh-harness/framework/mesh/msg"
	"github.com/osmosis-labs/mesh-harness/framework/testutil/deploy"
	"github.com/osmosis-labs/mesh-harness/framework/types"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the root of the harness configuration file.
type Config struct {
	Chains    []Chain   `toml:"chains"`
	Relayer   Relayer   `toml:"relayer"`
	Contracts Contracts `toml:"contracts"`
	Mesh      Mesh      `toml:"mesh"`
}

// Chain is one entry of the network registry.
type Chain struct {
	Name           string        `toml:"name"`
	ChainID        string        `toml:"chain_id"`
	Bin            string        `toml:"bin"`
	Container      string        `toml:"container"`
	Home           string        `toml:"home"`
	KeyringBackend string        `toml:"keyring_backend"`
	FaucetKey      string        `toml:"faucet_key"`
	RPC            string        `toml:"rpc"`
	GRPC           string        `toml:"grpc"`

	// RelayerRPC and RelayerGRPC are the node endpoints as seen from the
	// relayer container. They default to the chain container's standard ports.
	RelayerRPC  string `toml:"relayer_rpc"`
	RelayerGRPC string `toml:"relayer_grpc"`

	Bech32Prefix  string        `toml:"bech32_prefix"`
	Denom         string        `toml:"denom"`
	StakingDenom  string        `toml:"staking_denom"`
	GasPrices     string        `toml:"gas_prices"`
	GasAdjustment float64       `toml:"gas_adjustment"`
	ICS20Port     string        `toml:"ics20_port"`
	BlockTime     time.Duration `toml:"block_time"`
}

// ChainConfig converts the registry entry into the chain description used by
// chain clients.
func (c Chain) ChainConfig() types.ChainConfig {
	return types.ChainConfig{
		Name:          c.Name,
		ChainID:       c.ChainID,
		Bin:           c.Bin,
		Bech32Prefix:  c.Bech32Prefix,
		Denom:         c.Denom,
		StakingDenom:  c.StakingDenom,
		GasPrices:     c.GasPrices,
		GasAdjustment: c.GasAdjustment,
		RPCAddress:    c.RPC,
		GRPCAddress:   c.GRPC,
		ICS20Port:     c.ICS20Port,
		BlockTime:     c.BlockTime,
	}
}

// RelayerChainConfig is ChainConfig with the endpoints the relayer dials.
func (c Chain) RelayerChainConfig() types.ChainConfig {
	cfg := c.ChainConfig()
	cfg.RPCAddress = c.RelayerRPC
	cfg.GRPCAddress = c.RelayerGRPC
	return cfg
}

// Relayer locates the Hermes container.
type Relayer struct {
	Container string `toml:"container"`
	Bin       string `toml:"bin"`
	// Home holds .hermes/config.toml.
	Home string `toml:"home"`
	// Funds is the amount of each chain's fee denom given to the relayer key.
	Funds string `toml:"funds"`
	// Overrides is merged into the generated Hermes config.
	Overrides map[string]any `toml:"overrides"`
}

// Contracts locates the wasm artifacts. Paths are relative to Dir.
type Contracts struct {
	Dir      string            `toml:"dir"`
	Provider map[string]string `toml:"provider"`
	Consumer map[string]string `toml:"consumer"`
}

// Mesh holds the parameters the contracts are instantiated with.
type Mesh struct {
	Consumer        string        `toml:"consumer"`
	Provider        string        `toml:"provider"`
	IBCVersion      string        `toml:"ibc_version"`
	UnbondingPeriod time.Duration `toml:"unbonding_period"`
	ExchangeRate    string        `toml:"exchange_rate"`
	StakingReserve  string        `toml:"staking_reserve"`
	AdminFunds      string        `toml:"admin_funds"`
	Validator       string        `toml:"validator"`
}

// Default returns the local wasmd (consumer) and osmosis (provider) pair.
func Default() Config {
	return Config{
		Chains: []Chain{
			{
				Name:           "wasmd",
				ChainID:        "testing",
				Bin:            "wasmd",
				Container:      "wasmd",
				Home:           "/root/.wasmd",
				KeyringBackend: "test",
				FaucetKey:      "validator",
				RPC:            "http://localhost:26659",
				GRPC:           "localhost:9090",
				RelayerRPC:     "http://wasmd:26657",
				RelayerGRPC:    "http://wasmd:9090",
				Bech32Prefix:   "wasm",
				Denom:          "ucosm",
				StakingDenom:   "ustake",
				GasPrices:      "0.025ucosm",
				GasAdjustment:  1.5,
				ICS20Port:      "transfer",
				BlockTime:      time.Second,
			},
			{
				Name:           "osmosis",
				ChainID:        "osmo-testing",
				Bin:            "osmosisd",
				Container:      "osmosis",
				Home:           "/root/.osmosisd",
				KeyringBackend: "test",
				FaucetKey:      "validator",
				RPC:            "http://localhost:26653",
				GRPC:           "localhost:9092",
				RelayerRPC:     "http://osmosis:26657",
				RelayerGRPC:    "http://osmosis:9090",
				Bech32Prefix:   "osmo",
				Denom:          "uosmo",
				StakingDenom:   "uosmo",
				GasPrices:      "0.025uosmo",
				GasAdjustment:  1.5,
				ICS20Port:      "transfer",
				BlockTime:      time.Second,
			},
		},
		Relayer: Relayer{
			Container: "hermes",
			Bin:       "hermes",
			Home:      "/home/hermes",
			Funds:     "10000000",
		},
		Contracts: Contracts{
			Dir: "./internal",
			Provider: map[string]string{
				msg.ContractVault:    "mesh_vault.wasm",
				msg.ContractProvider: "mesh_provider.wasm",
				msg.ContractSlasher:  "mesh_slasher.wasm",
			},
			Consumer: map[string]string{
				msg.ContractConsumer:    "mesh_consumer.wasm",
				msg.ContractMetaStaking: "meta_staking.wasm",
			},
		},
		Mesh: Mesh{
			Consumer:        "wasmd",
			Provider:        "osmosis",
			IBCVersion:      msg.IBCAppVersion,
			UnbondingPeriod: 14 * 24 * time.Hour,
			ExchangeRate:    "0.3",
			StakingReserve:  "100000000",
			AdminFunds:      "10000000",
		},
	}
}

// Load reads a config file. Sections missing from the file keep their defaults.
func Load(path string) (Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown keys %v in %s", ErrInvalidConfig, undecoded, path)
	}
	cfg.applyDefaults(Default())
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults(def Config) {
	if len(c.Chains) == 0 {
		c.Chains = def.Chains
	}
	for i := range c.Chains {
		if c.Chains[i].ICS20Port == "" {
			c.Chains[i].ICS20Port = "transfer"
		}
		if c.Chains[i].KeyringBackend == "" {
			c.Chains[i].KeyringBackend = "test"
		}
		if c.Chains[i].GasAdjustment == 0 {
			c.Chains[i].GasAdjustment = 1.5
		}
		if c.Chains[i].BlockTime == 0 {
			c.Chains[i].BlockTime = time.Second
		}
		if c.Chains[i].RelayerRPC == "" && c.Chains[i].Container != "" {
			c.Chains[i].RelayerRPC = fmt.Sprintf("http://%s:26657", c.Chains[i].Container)
		}
		if c.Chains[i].RelayerGRPC == "" && c.Chains[i].Container != "" {
			c.Chains[i].RelayerGRPC = fmt.Sprintf("http://%s:9090", c.Chains[i].Container)
		}
	}
	r := &c.Relayer
	if r.Container == "" {
		r.Container = def.Relayer.Container
	}
	if r.Bin == "" {
		r.Bin = def.Relayer.Bin
	}
	if r.Home == "" {
		r.Home = def.Relayer.Home
	}
	if r.Funds == "" {
		r.Funds = def.Relayer.Funds
	}
	if c.Contracts.Dir == "" {
		c.Contracts.Dir = def.Contracts.Dir
	}
	if c.Contracts.Provider == nil {
		c.Contracts.Provider = def.Contracts.Provider
	}
	if c.Contracts.Consumer == nil {
		c.Contracts.Consumer = def.Contracts.Consumer
	}

	m, d := &c.Mesh, def.Mesh
	if m.Consumer == "" {
		m.Consumer = d.Consumer
	}
	if m.Provider == "" {
		m.Provider = d.Provider
	}
	if m.IBCVersion == "" {
		m.IBCVersion = d.IBCVersion
	}
	if m.UnbondingPeriod == 0 {
		m.UnbondingPeriod = d.UnbondingPeriod
	}
	if m.ExchangeRate == "" {
		m.ExchangeRate = d.ExchangeRate
	}
	if m.StakingReserve == "" {
		m.StakingReserve = d.StakingReserve
	}
	if m.AdminFunds == "" {
		m.AdminFunds = d.AdminFunds
	}
}

// Validate checks the config is complete and consistent.
func (c Config) Validate() error {
	seen := make(map[string]bool)
	for i, ch := range c.Chains {
		if ch.Name == "" {
			return fmt.Errorf("%w: chain %d has no name", ErrInvalidConfig, i)
		}
		if seen[ch.Name] {
			return fmt.Errorf("%w: duplicate chain %q", ErrInvalidConfig, ch.Name)
		}
		seen[ch.Name] = true
		if ch.ChainID == "" || ch.Bech32Prefix == "" || ch.Denom == "" || ch.StakingDenom == "" {
			return fmt.Errorf("%w: chain %q requires chain_id, bech32_prefix, denom and staking_denom", ErrInvalidConfig, ch.Name)
		}
		if ch.ICS20Port == "" {
			return fmt.Errorf("%w: chain %q has no ics20_port", ErrInvalidConfig, ch.Name)
		}
	}

	for _, role := range []struct{ name, chain string }{
		{"consumer", c.Mesh.Consumer},
		{"provider", c.Mesh.Provider},
	} {
		if !seen[role.chain] {
			return fmt.Errorf("%w: %s chain %q is not in the registry", ErrInvalidConfig, role.name, role.chain)
		}
	}
	if c.Mesh.Consumer == c.Mesh.Provider {
		return fmt.Errorf("%w: consumer and provider must be different chains", ErrInvalidConfig)
	}
	if c.Mesh.IBCVersion != msg.IBCAppVersion {
		return fmt.Errorf("%w: unsupported ibc version %q", ErrInvalidConfig, c.Mesh.IBCVersion)
	}
	if c.Mesh.UnbondingPeriod <= 0 {
		return fmt.Errorf("%w: unbonding_period must be positive", ErrInvalidConfig)
	}
	if _, err := c.Params(); err != nil {
		return err
	}
	if funds, ok := sdkmath.NewIntFromString(c.Relayer.Funds); !ok || funds.IsNegative() {
		return fmt.Errorf("%w: relayer funds %q", ErrInvalidConfig, c.Relayer.Funds)
	}

	for name, files := range map[string]map[string]string{"provider": c.Contracts.Provider, "consumer": c.Contracts.Consumer} {
		for _, contract := range contractsFor(name) {
			if files[contract] == "" {
				return fmt.Errorf("%w: no %s artifact for %s", ErrInvalidConfig, name, contract)
			}
		}
	}
	return nil
}

func contractsFor(role string) []string {
	if role == "provider" {
		return []string{msg.ContractVault, msg.ContractProvider, msg.ContractSlasher}
	}
	return []string{msg.ContractConsumer, msg.ContractMetaStaking}
}

// Chain returns the registry entry called name.
func (c Config) Chain(name string) (Chain, error) {
	for _, ch := range c.Chains {
		if ch.Name == name {
			return ch, nil
		}
	}
	return Chain{}, fmt.Errorf("chain %q not found", name)
}

// RelayerFunds returns the relayer funding for chain in its fee denom.
func (c Config) RelayerFunds(chain Chain) sdk.Coins {
	funds, ok := sdkmath.NewIntFromString(c.Relayer.Funds)
	if !ok {
		return nil
	}
	return sdk.NewCoins(sdk.NewCoin(chain.Denom, funds))
}

// Params converts the mesh section into deployment parameters.
func (c Config) Params() (deploy.Params, error) {
	rate, err := sdkmath.LegacyNewDecFromStr(c.Mesh.ExchangeRate)
	if err != nil {
		return deploy.Params{}, fmt.Errorf("%w: exchange_rate %q: %w", ErrInvalidConfig, c.Mesh.ExchangeRate, err)
	}
	if !rate.IsPositive() {
		return deploy.Params{}, fmt.Errorf("%w: exchange_rate must be positive", ErrInvalidConfig)
	}
	reserve, ok := sdkmath.NewIntFromString(c.Mesh.StakingReserve)
	if !ok || reserve.IsNegative() {
		return deploy.Params{}, fmt.Errorf("%w: staking_reserve %q", ErrInvalidConfig, c.Mesh.StakingReserve)
	}
	adminFunds := sdkmath.ZeroInt()
	if c.Mesh.AdminFunds != "" {
		adminFunds, ok = sdkmath.NewIntFromString(c.Mesh.AdminFunds)
		if !ok || adminFunds.IsNegative() {
			return deploy.Params{}, fmt.Errorf("%w: admin_funds %q", ErrInvalidConfig, c.Mesh.AdminFunds)
		}
	}
	return deploy.Params{
		UnbondingPeriod: c.Mesh.UnbondingPeriod,
		ExchangeRate:    rate,
		StakingReserve:  reserve,
		AdminFunds:      adminFunds,
	}, nil
}

// Artifacts reads every configured wasm file.
func (c Config) Artifacts() (deploy.Artifacts, error) {
	provider, err := readArtifacts(c.Contracts.Dir, c.Contracts.Provider)
	if err != nil {
		return deploy.Artifacts{}, err
	}
	consumer, err := readArtifacts(c.Contracts.Dir, c.Contracts.Consumer)
	if err != nil {
		return deploy.Artifacts{}, err
	}
	return deploy.Artifacts{Provider: provider, Consumer: consumer}, nil
}

func readArtifacts(dir string, files map[string]string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(files))
	for name, file := range files {
		path := file
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, file)
		}
		bz, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read artifact %s: %w", name, err)
		}
		out[name] = bz
	}
	return out, nil
}
