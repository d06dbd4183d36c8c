package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/osmosis-labs/mesh-harness/framework/mesh/msg"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	consumer, err := cfg.Chain(cfg.Mesh.Consumer)
	require.NoError(t, err)
	require.Equal(t, "wasm", consumer.Bech32Prefix)
	require.Equal(t, "transfer", consumer.ChainConfig().ICS20Port)

	params, err := cfg.Params()
	require.NoError(t, err)
	require.True(t, sdkmath.LegacyMustNewDecFromStr("0.3").Equal(params.ExchangeRate))
	require.True(t, sdkmath.NewInt(100_000_000).Equal(params.StakingReserve))
	require.Equal(t, 14*24*time.Hour, params.UnbondingPeriod)
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "mesh.toml", `
[[chains]]
name = "juno"
chain_id = "uni-5"
bin = "junod"
rpc = "https://juno-testnet-rpc.polkachu.com:443"
bech32_prefix = "juno"
denom = "ujunox"
staking_denom = "ujunox"
gas_prices = "0.05ujunox"
block_time = "6s"

[[chains]]
name = "osmosis"
chain_id = "osmo-test-4"
bin = "osmosisd"
bech32_prefix = "osmo"
denom = "uosmo"
staking_denom = "uosmo"
gas_prices = "0.025uosmo"

[mesh]
consumer = "juno"
provider = "osmosis"
unbonding_period = "10s"
exchange_rate = "0.5"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Chains, 2)

	juno, err := cfg.Chain("juno")
	require.NoError(t, err)
	require.Equal(t, "uni-5", juno.ChainID)
	require.Equal(t, 6*time.Second, juno.BlockTime)
	require.Equal(t, "transfer", juno.ICS20Port)
	require.Equal(t, "test", juno.KeyringBackend)

	osmo, err := cfg.Chain("osmosis")
	require.NoError(t, err)
	require.Equal(t, time.Second, osmo.BlockTime)

	require.Equal(t, 10*time.Second, cfg.Mesh.UnbondingPeriod)
	require.Equal(t, msg.IBCAppVersion, cfg.Mesh.IBCVersion)
	require.Equal(t, Default().Relayer, cfg.Relayer)
	require.Equal(t, Default().Contracts.Provider, cfg.Contracts.Provider)

	params, err := cfg.Params()
	require.NoError(t, err)
	require.True(t, sdkmath.LegacyMustNewDecFromStr("0.5").Equal(params.ExchangeRate))

	_, err = cfg.Chain("stargaze")
	require.Error(t, err)
}

func TestRelayerEndpoints(t *testing.T) {
	path := writeFile(t, "mesh.toml", `
[[chains]]
name = "wasmd"
chain_id = "testing"
container = "consumer-node"
rpc = "http://localhost:26659"
bech32_prefix = "wasm"
denom = "ucosm"
staking_denom = "ustake"

[[chains]]
name = "osmosis"
chain_id = "osmo-testing"
relayer_rpc = "http://osmo.internal:36657"
bech32_prefix = "osmo"
denom = "uosmo"
staking_denom = "uosmo"

[relayer]
container = "hermes-1"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	wasmd, err := cfg.Chain("wasmd")
	require.NoError(t, err)
	relayerView := wasmd.RelayerChainConfig()
	require.Equal(t, "http://consumer-node:26657", relayerView.RPCAddress)
	require.Equal(t, "http://consumer-node:9090", relayerView.GRPCAddress)
	require.Equal(t, "http://localhost:26659", wasmd.ChainConfig().RPCAddress)

	osmo, err := cfg.Chain("osmosis")
	require.NoError(t, err)
	require.Equal(t, "http://osmo.internal:36657", osmo.RelayerChainConfig().RPCAddress)
	require.Empty(t, osmo.RelayerGRPC)

	require.Equal(t, "hermes-1", cfg.Relayer.Container)
	require.Equal(t, Default().Relayer.Funds, cfg.Relayer.Funds)
	require.Equal(t, "10000000ucosm", cfg.RelayerFunds(wasmd).String())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "mesh.toml", `
[mesh]
exchange_rat = "0.5"
`)
	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"duplicate chain", func(c *Config) { c.Chains[1].Name = c.Chains[0].Name }},
		{"missing prefix", func(c *Config) { c.Chains[0].Bech32Prefix = "" }},
		{"unknown consumer", func(c *Config) { c.Mesh.Consumer = "juno" }},
		{"same chain", func(c *Config) { c.Mesh.Provider = c.Mesh.Consumer }},
		{"wrong version", func(c *Config) { c.Mesh.IBCVersion = "ics20-1" }},
		{"zero unbonding", func(c *Config) { c.Mesh.UnbondingPeriod = 0 }},
		{"bad rate", func(c *Config) { c.Mesh.ExchangeRate = "abc" }},
		{"negative rate", func(c *Config) { c.Mesh.ExchangeRate = "-1" }},
		{"bad reserve", func(c *Config) { c.Mesh.StakingReserve = "1.5" }},
		{"missing artifact", func(c *Config) { delete(c.Contracts.Consumer, msg.ContractMetaStaking) }},
		{"bad relayer funds", func(c *Config) { c.Relayer.Funds = "lots" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestArtifacts(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Contracts.Dir = dir
	for _, files := range []map[string]string{cfg.Contracts.Provider, cfg.Contracts.Consumer} {
		for name, file := range files {
			require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(name), 0o644))
		}
	}

	artifacts, err := cfg.Artifacts()
	require.NoError(t, err)
	require.Equal(t, []byte(msg.ContractVault), artifacts.Provider[msg.ContractVault])
	require.Equal(t, []byte(msg.ContractMetaStaking), artifacts.Consumer[msg.ContractMetaStaking])

	cfg.Contracts.Dir = t.TempDir()
	_, err = cfg.Artifacts()
	require.Error(t, err)
}
