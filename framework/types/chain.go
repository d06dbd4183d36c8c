package types

import (
	"context"
	"time"

	sdk "github.com/cosmos/cosmos-sdk/types"
)

// Chain is a ledger client able to drive CosmWasm contracts.
type Chain interface {
	// GetChainID returns the chain ID.
	GetChainID() string
	// Config returns the static configuration of the chain.
	Config() ChainConfig
	// Height returns the latest block height.
	Height(ctx context.Context) (int64, error)

	// CreateWallet creates a new key on the chain. The wallet is not funded.
	CreateWallet(ctx context.Context, keyName string) (*Wallet, error)
	// GetFaucetWallet returns the pre-funded wallet used to fund test accounts.
	GetFaucetWallet() *Wallet
	// SendFunds sends coins from a wallet to an address.
	SendFunds(ctx context.Context, from *Wallet, toAddress string, amount sdk.Coins) (TxResult, error)
	// Transfer sends amount over the ICS20 channel to an address on the counterparty chain.
	Transfer(ctx context.Context, from *Wallet, channelID, toAddress string, amount sdk.Coin) (TxResult, error)
	// GetBalance returns the balance of address in denom.
	GetBalance(ctx context.Context, address, denom string) (sdk.Coin, error)

	// Upload stores wasm bytecode and returns its code ID.
	Upload(ctx context.Context, sender *Wallet, wasm []byte) (uint64, error)
	// Instantiate creates a contract from a code ID and returns its address.
	Instantiate(ctx context.Context, sender *Wallet, codeID uint64, label string, msg any, funds sdk.Coins) (string, error)
	// Execute runs an execute message against a contract.
	Execute(ctx context.Context, sender *Wallet, contract string, msg any, funds sdk.Coins) (TxResult, error)
	// QueryContractSmart runs a smart query and decodes the JSON response into out.
	QueryContractSmart(ctx context.Context, contract string, query any, out any) error
	// GetContract returns contract metadata, including its IBC port.
	GetContract(ctx context.Context, address string) (ContractInfo, error)
}

// ChainConfig is the static description of a chain participating in a test.
type ChainConfig struct {
	// Name is the human readable name of the chain, e.g. "wasmd".
	Name string
	// ChainID is the chain ID, e.g. "testing".
	ChainID string
	// Bin is the binary name used inside the node container.
	Bin string
	// Bech32Prefix is the account address prefix.
	Bech32Prefix string
	// Denom is the fee denomination.
	Denom string
	// StakingDenom is the bonded denomination.
	StakingDenom string
	// GasPrices is the minimum gas price, e.g. "0.025ucosm".
	GasPrices string
	// GasAdjustment multiplies the simulated gas.
	GasAdjustment float64
	// RPCAddress is the CometBFT RPC endpoint.
	RPCAddress string
	// GRPCAddress is the gRPC endpoint.
	GRPCAddress string
	// ICS20Port is the port bound by the token transfer module.
	ICS20Port string
	// BlockTime is the expected time between blocks.
	BlockTime time.Duration
}

// ContractInfo describes an instantiated contract.
type ContractInfo struct {
	Address   string
	CodeID    uint64
	Creator   string
	Admin     string
	Label     string
	IBCPortID string
}

// TxResult is the outcome of a committed transaction.
type TxResult struct {
	TxHash  string
	Height  int64
	Code    uint32
	RawLog  string
	GasUsed int64
	Fee     sdk.Coins
}
