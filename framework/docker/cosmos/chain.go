// Package cosmos drives a running Cosmos SDK node through its CLI inside the
// node container. Transactions and wasm queries go through `<bin> tx` and
// `<bin> query`; block height comes from CometBFT RPC and balances from the
// bank gRPC service.
package cosmos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	coretypes "github.com/cometbft/cometbft/rpc/core/types"
	libclient "github.com/cometbft/cometbft/rpc/jsonrpc/client"
	sdk "github.com/cosmos/cosmos-sdk/types"
	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/osmosis-labs/mesh-harness/framework/testutil/random"
	"github.com/osmosis-labs/mesh-harness/framework/types"
)

var _ types.Chain = &Chain{}

// ErrTxNotFound is returned while a broadcast transaction is not yet committed.
var ErrTxNotFound = errors.New("tx not found")

// Runner executes commands inside the node container.
type Runner interface {
	Exec(ctx context.Context, cmd ...string) ([]byte, []byte, error)
	WriteFile(ctx context.Context, dst string, content []byte) error
}

// StatusClient is the part of the CometBFT RPC client used for block height.
type StatusClient interface {
	Status(ctx context.Context) (*coretypes.ResultStatus, error)
}

// Config describes a chain reached through its node container.
type Config struct {
	types.ChainConfig
	// Home is the node home directory inside the container.
	Home string
	// KeyringBackend is passed to every key and tx command.
	KeyringBackend string
	// FaucetKey names the pre-funded key used to fund test accounts.
	FaucetKey string
}

// Option configures a Chain.
type Option func(*Chain)

// WithStatusClient replaces the CometBFT RPC client.
func WithStatusClient(c StatusClient) Option {
	return func(ch *Chain) {
		ch.status = c
	}
}

// WithBankClient replaces the bank gRPC query client.
func WithBankClient(c banktypes.QueryClient) Option {
	return func(ch *Chain) {
		ch.bank = c
	}
}

// WithInclusionPolling sets how often, and how many times, a broadcast
// transaction is looked up before giving up.
func WithInclusionPolling(interval time.Duration, attempts uint) Option {
	return func(ch *Chain) {
		ch.pollInterval = interval
		ch.pollAttempts = attempts
	}
}

// Chain implements types.Chain against a node container.
type Chain struct {
	cfg    Config
	runner Runner
	logger *zap.Logger

	status   StatusClient
	bank     banktypes.QueryClient
	grpcConn *grpc.ClientConn

	pollInterval time.Duration
	pollAttempts uint

	// txMu serialises broadcasts so account sequences stay in order.
	txMu   sync.Mutex
	faucet *types.Wallet
}

// NewChain connects to the chain's RPC and gRPC endpoints and resolves the
// faucet key.
func NewChain(ctx context.Context, logger *zap.Logger, cfg Config, runner Runner, opts ...Option) (*Chain, error) {
	if cfg.ChainID == "" || cfg.Bin == "" {
		return nil, fmt.Errorf("chain config requires chain id and bin")
	}
	if cfg.KeyringBackend == "" {
		cfg.KeyringBackend = "test"
	}
	if cfg.GasAdjustment == 0 {
		cfg.GasAdjustment = 1.5
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Chain{
		cfg:          cfg,
		runner:       runner,
		logger:       logger.With(zap.String("chain_id", cfg.ChainID)),
		pollInterval: cfg.BlockTime / 2,
		pollAttempts: 30,
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 500 * time.Millisecond
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.initClients(); err != nil {
		return nil, err
	}

	addr, err := c.keyAddress(ctx, cfg.FaucetKey)
	if err != nil {
		return nil, fmt.Errorf("faucet key %q: %w", cfg.FaucetKey, err)
	}
	c.faucet = types.NewWallet(cfg.FaucetKey, addr, cfg.Bech32Prefix)
	return c, nil
}

func (c *Chain) initClients() error {
	if c.status == nil && c.cfg.RPCAddress != "" {
		httpClient, err := libclient.DefaultHTTPClient(c.cfg.RPCAddress)
		if err != nil {
			return err
		}
		httpClient.Timeout = 10 * time.Second
		rpcClient, err := rpchttp.NewWithClient(c.cfg.RPCAddress, "/websocket", httpClient)
		if err != nil {
			return fmt.Errorf("rpc client: %w", err)
		}
		c.status = rpcClient
	}
	if c.bank == nil && c.cfg.GRPCAddress != "" {
		conn, err := grpc.NewClient(c.cfg.GRPCAddress, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("grpc dial: %w", err)
		}
		c.grpcConn = conn
		c.bank = banktypes.NewQueryClient(conn)
	}
	return nil
}

// Close releases the gRPC connection.
func (c *Chain) Close() error {
	if c.grpcConn == nil {
		return nil
	}
	return c.grpcConn.Close()
}

// GetChainID returns the chain ID.
func (c *Chain) GetChainID() string {
	return c.cfg.ChainID
}

// Config returns the static chain configuration.
func (c *Chain) Config() types.ChainConfig {
	return c.cfg.ChainConfig
}

// Height returns the latest block height reported by the node.
func (c *Chain) Height(ctx context.Context) (int64, error) {
	if c.status == nil {
		return 0, fmt.Errorf("chain %s has no rpc address", c.cfg.ChainID)
	}
	res, err := c.status.Status(ctx)
	if err != nil {
		return 0, fmt.Errorf("tendermint rpc client status: %w", err)
	}
	return res.SyncInfo.LatestBlockHeight, nil
}

// CreateWallet adds a key to the node keyring.
func (c *Chain) CreateWallet(ctx context.Context, keyName string) (*types.Wallet, error) {
	stdout, stderr, err := c.execBin(ctx, "keys", "add", keyName, "--output", "json")
	if err != nil {
		return nil, fmt.Errorf("create key %q: %w", keyName, err)
	}
	// older SDKs print the new key to stderr
	out := stdout
	if len(strings.TrimSpace(string(out))) == 0 {
		out = stderr
	}
	var key keyOutput
	if err := json.Unmarshal(lastJSONLine(out), &key); err != nil {
		return nil, fmt.Errorf("decode key %q: %w", keyName, err)
	}
	w := types.NewWallet(keyName, key.Address, c.cfg.Bech32Prefix)
	w.Mnemonic = key.Mnemonic
	return w, nil
}

// GetFaucetWallet returns the faucet key.
func (c *Chain) GetFaucetWallet() *types.Wallet {
	return c.faucet
}

// SendFunds sends coins with a bank send transaction.
func (c *Chain) SendFunds(ctx context.Context, from *types.Wallet, toAddress string, amount sdk.Coins) (types.TxResult, error) {
	res, err := c.execTx(ctx, from, "bank", "send", from.GetKeyName(), toAddress, amount.String())
	if err != nil {
		return types.TxResult{}, err
	}
	return res.result()
}

// Transfer sends an ICS20 transfer over channelID.
func (c *Chain) Transfer(ctx context.Context, from *types.Wallet, channelID, toAddress string, amount sdk.Coin) (types.TxResult, error) {
	res, err := c.execTx(ctx, from, "ibc-transfer", "transfer", c.cfg.ICS20Port, channelID, toAddress, amount.String())
	if err != nil {
		return types.TxResult{}, err
	}
	return res.result()
}

// GetBalance queries the bank module over gRPC.
func (c *Chain) GetBalance(ctx context.Context, address, denom string) (sdk.Coin, error) {
	if c.bank == nil {
		return sdk.Coin{}, fmt.Errorf("chain %s has no grpc address", c.cfg.ChainID)
	}
	res, err := c.bank.Balance(ctx, &banktypes.QueryBalanceRequest{Address: address, Denom: denom})
	if err != nil {
		return sdk.Coin{}, fmt.Errorf("query balance of %s: %w", address, err)
	}
	if res.Balance == nil {
		return sdk.NewInt64Coin(denom, 0), nil
	}
	return *res.Balance, nil
}

// Upload copies wasm into the container and stores it.
func (c *Chain) Upload(ctx context.Context, sender *types.Wallet, wasm []byte) (uint64, error) {
	path := fmt.Sprintf("/tmp/%s.wasm", random.LowerCaseLetterString(10))
	if err := c.runner.WriteFile(ctx, path, wasm); err != nil {
		return 0, err
	}
	res, err := c.execTx(ctx, sender, "wasm", "store", path)
	if err != nil {
		return 0, fmt.Errorf("store code: %w", err)
	}
	if err := checkCode(res); err != nil {
		return 0, fmt.Errorf("store code: %w", err)
	}
	v, ok := res.attribute("store_code", "code_id")
	if !ok {
		return 0, fmt.Errorf("store code: no code_id in tx %s", res.TxHash)
	}
	codeID, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse code id %q: %w", v, err)
	}
	c.logger.Info("stored code", zap.Uint64("code_id", codeID), zap.Int("bytes", len(wasm)))
	return codeID, nil
}

// Instantiate creates a contract administered by sender.
func (c *Chain) Instantiate(ctx context.Context, sender *types.Wallet, codeID uint64, label string, msg any, funds sdk.Coins) (string, error) {
	m, err := encodeMsg(msg)
	if err != nil {
		return "", err
	}
	args := []string{"wasm", "instantiate", strconv.FormatUint(codeID, 10), m,
		"--label", label,
		"--admin", sender.GetFormattedAddress(),
	}
	args = append(args, fundsFlag(funds)...)

	res, err := c.execTx(ctx, sender, args...)
	if err != nil {
		return "", fmt.Errorf("instantiate code %d: %w", codeID, err)
	}
	if err := checkCode(res); err != nil {
		return "", fmt.Errorf("instantiate code %d: %w", codeID, err)
	}
	addr, ok := res.attribute("instantiate", "_contract_address")
	if !ok {
		return "", fmt.Errorf("instantiate code %d: no contract address in tx %s", codeID, res.TxHash)
	}
	return addr, nil
}

// Execute runs a contract execute message.
func (c *Chain) Execute(ctx context.Context, sender *types.Wallet, contract string, msg any, funds sdk.Coins) (types.TxResult, error) {
	m, err := encodeMsg(msg)
	if err != nil {
		return types.TxResult{}, err
	}
	args := append([]string{"wasm", "execute", contract, m}, fundsFlag(funds)...)
	res, err := c.execTx(ctx, sender, args...)
	if err != nil {
		return types.TxResult{}, fmt.Errorf("execute %s: %w", contract, err)
	}
	return res.result()
}

// QueryContractSmart runs a smart query.
func (c *Chain) QueryContractSmart(ctx context.Context, contract string, query any, out any) error {
	q, err := encodeMsg(query)
	if err != nil {
		return err
	}
	stdout, _, err := c.execBin(ctx, "query", "wasm", "contract-state", "smart", contract, q, "--output", "json")
	if err != nil {
		return fmt.Errorf("query %s: %w", contract, err)
	}
	var res contractStateResponse
	if err := json.Unmarshal(lastJSONLine(stdout), &res); err != nil {
		return fmt.Errorf("decode query response: %w", err)
	}
	if err := json.Unmarshal(res.Data, out); err != nil {
		return fmt.Errorf("decode query data: %w", err)
	}
	return nil
}

// GetContract returns contract metadata.
func (c *Chain) GetContract(ctx context.Context, address string) (types.ContractInfo, error) {
	stdout, _, err := c.execBin(ctx, "query", "wasm", "contract", address, "--output", "json")
	if err != nil {
		return types.ContractInfo{}, fmt.Errorf("query contract %s: %w", address, err)
	}
	var res contractResponse
	if err := json.Unmarshal(lastJSONLine(stdout), &res); err != nil {
		return types.ContractInfo{}, fmt.Errorf("decode contract %s: %w", address, err)
	}
	return res.info()
}

// Validators returns the operator addresses of the bonded validators.
func (c *Chain) Validators(ctx context.Context) ([]string, error) {
	stdout, _, err := c.execBin(ctx, "query", "staking", "validators", "--output", "json")
	if err != nil {
		return nil, fmt.Errorf("query validators: %w", err)
	}
	var res validatorsResponse
	if err := json.Unmarshal(lastJSONLine(stdout), &res); err != nil {
		return nil, fmt.Errorf("decode validators: %w", err)
	}
	out := make([]string, 0, len(res.Validators))
	for _, v := range res.Validators {
		out = append(out, v.OperatorAddress)
	}
	return out, nil
}

// Delegation returns how much delegator has bonded to validator.
func (c *Chain) Delegation(ctx context.Context, delegator, validator string) (sdk.Coin, error) {
	stdout, _, err := c.execBin(ctx, "query", "staking", "delegation", delegator, validator, "--output", "json")
	if err != nil {
		return sdk.Coin{}, fmt.Errorf("query delegation: %w", err)
	}
	var res delegationResponse
	if err := json.Unmarshal(lastJSONLine(stdout), &res); err != nil {
		return sdk.Coin{}, fmt.Errorf("decode delegation: %w", err)
	}
	return res.DelegationResponse.Balance, nil
}

func (c *Chain) keyAddress(ctx context.Context, keyName string) (string, error) {
	stdout, _, err := c.execBin(ctx, "keys", "show", keyName, "--address")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(stdout)), nil
}

// binCommand returns the full command for the node binary, with the home
// directory appended.
func (c *Chain) binCommand(command ...string) []string {
	command = append([]string{c.cfg.Bin}, command...)
	command = append(command, "--home", c.cfg.Home)
	if len(command) > 2 && command[1] == "keys" {
		command = append(command, "--keyring-backend", c.cfg.KeyringBackend)
	}
	return command
}

func (c *Chain) execBin(ctx context.Context, command ...string) ([]byte, []byte, error) {
	return c.runner.Exec(ctx, c.binCommand(command...)...)
}

// txCommand returns the full command for a transaction signed by from.
func (c *Chain) txCommand(from *types.Wallet, command ...string) []string {
	command = append([]string{c.cfg.Bin, "tx"}, command...)
	return append(command,
		"--from", from.GetKeyName(),
		"--chain-id", c.cfg.ChainID,
		"--home", c.cfg.Home,
		"--keyring-backend", c.cfg.KeyringBackend,
		"--gas", "auto",
		"--gas-adjustment", strconv.FormatFloat(c.cfg.GasAdjustment, 'f', -1, 64),
		"--gas-prices", c.cfg.GasPrices,
		"--broadcast-mode", "sync",
		"--output", "json",
		"--yes",
	)
}

// execTx broadcasts a transaction and waits until it is committed. A
// transaction rejected by CheckTx is returned without waiting.
func (c *Chain) execTx(ctx context.Context, from *types.Wallet, command ...string) (txResponse, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	stdout, _, err := c.runner.Exec(ctx, c.txCommand(from, command...)...)
	if err != nil {
		return txResponse{}, err
	}
	broadcast, err := parseTxResponse(stdout)
	if err != nil {
		return txResponse{}, err
	}
	if broadcast.Code != 0 {
		return broadcast, nil
	}
	return c.waitForTx(ctx, broadcast.TxHash)
}

func (c *Chain) waitForTx(ctx context.Context, hash string) (txResponse, error) {
	var res txResponse
	err := retry.Do(
		func() error {
			stdout, _, err := c.execBin(ctx, "query", "tx", hash, "--output", "json")
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrTxNotFound, hash, err)
			}
			res, err = parseTxResponse(stdout)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.pollAttempts),
		retry.Delay(c.pollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return txResponse{}, err
	}
	c.logger.Debug("tx committed", zap.String("tx_hash", hash), zap.String("height", res.Height), zap.Uint32("code", res.Code))
	return res, nil
}

func checkCode(res txResponse) error {
	if res.Code != 0 {
		return fmt.Errorf("tx %s failed with code %d: %s", res.TxHash, res.Code, res.RawLog)
	}
	return nil
}

func fundsFlag(funds sdk.Coins) []string {
	if funds.Empty() {
		return nil
	}
	return []string{"--amount", funds.String()}
}
