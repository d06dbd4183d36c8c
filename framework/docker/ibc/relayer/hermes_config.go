package relayer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/osmosis-labs/mesh-harness/framework/types"
)

// HermesConfig represents the full Hermes configuration
type HermesConfig struct {
	Global        GlobalConfig    `toml:"global"`
	Mode          ModeConfig      `toml:"mode"`
	Rest          RestConfig      `toml:"rest"`
	Telemetry     TelemetryConfig `toml:"telemetry"`
	TracingServer TracingConfig   `toml:"tracing_server"`
	Chains        []ChainConfig   `toml:"chains"`
}

// GlobalConfig contains global Hermes settings
type GlobalConfig struct {
	LogLevel string `toml:"log_level"`
}

// ModeConfig defines the relayer operation modes. Packets are relayed on
// demand with `tx packet-recv` and `tx packet-ack`, so the workers stay off.
type ModeConfig struct {
	Clients     ClientsConfig     `toml:"clients"`
	Connections ConnectionsConfig `toml:"connections"`
	Channels    ChannelsConfig    `toml:"channels"`
	Packets     PacketsConfig     `toml:"packets"`
}

type ClientsConfig struct {
	Enabled      bool `toml:"enabled"`
	Refresh      bool `toml:"refresh"`
	Misbehaviour bool `toml:"misbehaviour"`
}

type ConnectionsConfig struct {
	Enabled bool `toml:"enabled"`
}

type ChannelsConfig struct {
	Enabled bool `toml:"enabled"`
}

type PacketsConfig struct {
	Enabled        bool `toml:"enabled"`
	ClearInterval  int  `toml:"clear_interval"`
	ClearOnStart   bool `toml:"clear_on_start"`
	TxConfirmation bool `toml:"tx_confirmation"`
}

// RestConfig for REST API
type RestConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

// TelemetryConfig for telemetry
type TelemetryConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

// TracingConfig for tracing server
type TracingConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// ChainConfig represents configuration for a single chain
type ChainConfig struct {
	ID             string            `toml:"id"`
	Type           string            `toml:"type"`
	RPCAddr        string            `toml:"rpc_addr"`
	GRPCAddr       string            `toml:"grpc_addr"`
	EventSource    EventSourceConfig `toml:"event_source"`
	RPCTimeout     string            `toml:"rpc_timeout"`
	TrustedNode    bool              `toml:"trusted_node"`
	AccountPrefix  string            `toml:"account_prefix"`
	KeyName        string            `toml:"key_name"`
	KeyStoreType   string            `toml:"key_store_type"`
	StorePrefix    string            `toml:"store_prefix"`
	DefaultGas     int               `toml:"default_gas"`
	MaxGas         int               `toml:"max_gas"`
	GasPrice       GasPrice          `toml:"gas_price"`
	GasMultiplier  float64           `toml:"gas_multiplier"`
	MaxMsgNum      int               `toml:"max_msg_num"`
	MaxTxSize      int               `toml:"max_tx_size"`
	ClockDrift     string            `toml:"clock_drift"`
	MaxBlockTime   string            `toml:"max_block_time"`
	TrustingPeriod string            `toml:"trusting_period"`
	TrustThreshold TrustThreshold    `toml:"trust_threshold"`
	AddressType    AddressType       `toml:"address_type"`
	MemoPrefix     string            `toml:"memo_prefix"`
}

type EventSourceConfig struct {
	Mode       string `toml:"mode"`
	URL        string `toml:"url"`
	BatchDelay string `toml:"batch_delay"`
}

type GasPrice struct {
	Price float64 `toml:"price"`
	Denom string  `toml:"denom"`
}

type TrustThreshold struct {
	Numerator   int `toml:"numerator"`
	Denominator int `toml:"denominator"`
}

type AddressType struct {
	Derivation string `toml:"derivation"`
}

// KeyName is the Hermes key used to sign on chainID.
func KeyName(chainID string) string {
	return fmt.Sprintf("relayer-%s", chainID)
}

// NewHermesConfig creates a Hermes configuration for chains. RPCAddress and
// GRPCAddress must be reachable from the Hermes container.
func NewHermesConfig(chains []types.ChainConfig) (*HermesConfig, error) {
	hermesChains := make([]ChainConfig, len(chains))

	for i, chainCfg := range chains {
		gasPrice, err := parseGasPrice(chainCfg.GasPrices, chainCfg.Denom)
		if err != nil {
			return nil, fmt.Errorf("failed to parse gas prices for chain %s: %w", chainCfg.ChainID, err)
		}
		if chainCfg.RPCAddress == "" || chainCfg.GRPCAddress == "" {
			return nil, fmt.Errorf("chain %s needs rpc and grpc addresses", chainCfg.ChainID)
		}

		hermesChains[i] = ChainConfig{
			ID:       chainCfg.ChainID,
			Type:     "CosmosSdk",
			RPCAddr:  chainCfg.RPCAddress,
			GRPCAddr: chainCfg.GRPCAddress,
			EventSource: EventSourceConfig{
				Mode:       "push",
				URL:        websocketURL(chainCfg.RPCAddress),
				BatchDelay: "500ms",
			},
			RPCTimeout:    "10s",
			TrustedNode:   true,
			AccountPrefix: chainCfg.Bech32Prefix,
			KeyName:       KeyName(chainCfg.ChainID),
			KeyStoreType:  "Test",
			StorePrefix:   "ibc",
			DefaultGas:    100000,
			MaxGas:        4000000,
			GasPrice: GasPrice{
				Price: gasPrice,
				Denom: chainCfg.Denom,
			},
			GasMultiplier:  1.3,
			MaxMsgNum:      30,
			MaxTxSize:      2097152,
			ClockDrift:     "5s",
			MaxBlockTime:   "30s",
			TrustingPeriod: "14days",
			TrustThreshold: TrustThreshold{
				Numerator:   1,
				Denominator: 3,
			},
			AddressType: AddressType{
				Derivation: "cosmos",
			},
		}
	}

	return &HermesConfig{
		Global: GlobalConfig{
			LogLevel: "info",
		},
		Mode: ModeConfig{
			Clients: ClientsConfig{
				Enabled: true,
				Refresh: true,
			},
			Connections: ConnectionsConfig{
				Enabled: false,
			},
			Channels: ChannelsConfig{
				Enabled: false,
			},
			Packets: PacketsConfig{
				Enabled:        false,
				ClearInterval:  0,
				ClearOnStart:   false,
				TxConfirmation: true,
			},
		},
		Rest: RestConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    3000,
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    3001,
		},
		TracingServer: TracingConfig{
			Enabled: false,
			Port:    5555,
		},
		Chains: hermesChains,
	}, nil
}

// ToTOML converts the Hermes config to TOML
func (c *HermesConfig) ToTOML() ([]byte, error) {
	var buf strings.Builder
	encoder := toml.NewEncoder(&buf)
	err := encoder.Encode(c)
	if err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

// parseGasPrice turns "0.025uosmo" into 0.025. An empty price is free.
func parseGasPrice(gasPrices, denom string) (float64, error) {
	amount := strings.TrimSuffix(strings.TrimSpace(gasPrices), denom)
	if amount == "" {
		return 0, nil
	}
	return strconv.ParseFloat(amount, 64)
}

// websocketURL derives the CometBFT websocket endpoint from its RPC address.
func websocketURL(rpc string) string {
	switch {
	case strings.HasPrefix(rpc, "https://"):
		rpc = "wss://" + strings.TrimPrefix(rpc, "https://")
	case strings.HasPrefix(rpc, "http://"):
		rpc = "ws://" + strings.TrimPrefix(rpc, "http://")
	case strings.HasPrefix(rpc, "tcp://"):
		rpc = "ws://" + strings.TrimPrefix(rpc, "tcp://")
	}
	return strings.TrimSuffix(rpc, "/") + "/websocket"
}
