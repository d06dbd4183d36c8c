// Package simnet is an in-process ledger that runs Go renditions of CosmWasm
// contracts together with the bank, staking, distribution, ICS20 and IBC core
// modules they depend on. It implements types.Chain and ibc.Relayer so the
// mesh scenarios run without containers.
package simnet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/cosmos/cosmos-sdk/types/bech32"
	authtypes "github.com/cosmos/cosmos-sdk/x/auth/types"
	"go.uber.org/zap"

	"github.com/osmosis-labs/mesh-harness/framework/types"
)

var _ types.Chain = &Chain{}

const (
	faucetKeyName        = "faucet"
	defaultICS20Port     = "transfer"
	defaultNumValidators = 2
)

// Chain is a single in-process ledger. All state transitions are serialized;
// each transaction is committed as its own block.
type Chain struct {
	mu     sync.Mutex
	cfg    types.ChainConfig
	logger *zap.Logger

	now           func() time.Time
	store         *memStore
	height        int64
	lastBlockTime time.Time

	registry      Registry
	wallets       map[string]*types.Wallet
	faucet        *types.Wallet
	faucetFunds   sdk.Coins
	numValidators int
	unbondingTime time.Duration
}

// Option configures a Chain.
type Option func(*Chain)

// WithRegistry sets the contracts that can be uploaded.
func WithRegistry(r Registry) Option {
	return func(c *Chain) {
		c.registry = r
	}
}

// WithClock overrides the wall clock used for block times.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) {
		c.now = now
	}
}

// WithValidators sets the size of the genesis validator set.
func WithValidators(n int) Option {
	return func(c *Chain) {
		c.numValidators = n
	}
}

// WithFaucetFunds sets the genesis balance of the faucet wallet.
func WithFaucetFunds(coins sdk.Coins) Option {
	return func(c *Chain) {
		c.faucetFunds = coins
	}
}

// WithUnbondingTime sets the staking module unbonding time.
func WithUnbondingTime(d time.Duration) Option {
	return func(c *Chain) {
		c.unbondingTime = d
	}
}

// NewChain creates a chain at height 0 with a funded faucet and a genesis validator set.
func NewChain(cfg types.ChainConfig, logger *zap.Logger, opts ...Option) (*Chain, error) {
	if cfg.ChainID == "" || cfg.Bech32Prefix == "" || cfg.StakingDenom == "" || cfg.Denom == "" {
		return nil, fmt.Errorf("chain config requires chain id, bech32 prefix, denom and staking denom")
	}
	if cfg.ICS20Port == "" {
		cfg.ICS20Port = defaultICS20Port
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Chain{
		cfg:           cfg,
		logger:        logger.With(zap.String("chain_id", cfg.ChainID)),
		now:           time.Now,
		store:         newMemStore(),
		registry:      Registry{},
		wallets:       make(map[string]*types.Wallet),
		numValidators: defaultNumValidators,
		faucetFunds:   genesisFunds(cfg),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.faucet = types.NewWallet(faucetKeyName, c.accountAddress("wallet", faucetKeyName), cfg.Bech32Prefix)
	c.wallets[faucetKeyName] = c.faucet

	_, err := c.deliverTx(context.Background(), func(tx *txContext) error {
		if err := tx.mint(c.faucet.Address, c.faucetFunds); err != nil {
			return err
		}
		for i := 0; i < c.numValidators; i++ {
			operator := c.validatorAddress(i)
			if err := validators.Save(tx.store, validator{Operator: operator, Tokens: sdkmath.ZeroInt()}, operator); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}

	c.logger.Info("simnet chain created", zap.Int("validators", c.numValidators))
	return c, nil
}

// GetChainID returns the chain ID.
func (c *Chain) GetChainID() string {
	return c.cfg.ChainID
}

// Config returns the chain configuration.
func (c *Chain) Config() types.ChainConfig {
	return c.cfg
}

// Height returns the latest block height.
func (c *Chain) Height(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height, nil
}

// CreateWallet derives a new account from keyName.
func (c *Chain) CreateWallet(ctx context.Context, keyName string) (*types.Wallet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.wallets[keyName]; ok {
		return nil, fmt.Errorf("key %s already exists", keyName)
	}
	w := types.NewWallet(keyName, c.accountAddress("wallet", keyName), c.cfg.Bech32Prefix)
	c.wallets[keyName] = w
	return w, nil
}

// genesisFunds gives the faucet the same amount of the fee and staking
// denoms, which may be the same denom.
func genesisFunds(cfg types.ChainConfig) sdk.Coins {
	amount := sdkmath.NewInt(1_000_000_000_000)
	funds := sdk.NewCoins(sdk.NewCoin(cfg.Denom, amount))
	if cfg.StakingDenom != cfg.Denom {
		funds = funds.Add(sdk.NewCoin(cfg.StakingDenom, amount))
	}
	return funds
}

// GetFaucetWallet returns the genesis funded wallet.
func (c *Chain) GetFaucetWallet() *types.Wallet {
	return c.faucet
}

// SendFunds sends coins between accounts.
func (c *Chain) SendFunds(ctx context.Context, from *types.Wallet, toAddress string, amount sdk.Coins) (types.TxResult, error) {
	return c.deliverTx(ctx, func(tx *txContext) error {
		if err := tx.ValidateAddress(toAddress); err != nil {
			return err
		}
		return tx.send(from.GetFormattedAddress(), toAddress, amount)
	})
}

// Transfer sends amount over an ICS20 channel.
func (c *Chain) Transfer(ctx context.Context, from *types.Wallet, channelID, toAddress string, amount sdk.Coin) (types.TxResult, error) {
	return c.deliverTx(ctx, func(tx *txContext) error {
		return tx.sendTransfer(from.GetFormattedAddress(), channelID, toAddress, amount)
	})
}

// GetBalance returns the balance of address in denom.
func (c *Chain) GetBalance(ctx context.Context, address, denom string) (sdk.Coin, error) {
	var out sdk.Coin
	err := c.query(ctx, func(tx *txContext) error {
		out = tx.balance(address, denom)
		return nil
	})
	return out, err
}

// Upload stores a simnet artifact produced by Wasm.
func (c *Chain) Upload(ctx context.Context, sender *types.Wallet, wasm []byte) (uint64, error) {
	var codeID uint64
	_, err := c.deliverTx(ctx, func(tx *txContext) error {
		id, err := tx.storeCode(sender.GetFormattedAddress(), wasm)
		codeID = id
		return err
	})
	return codeID, err
}

// Instantiate creates a contract and returns its address.
func (c *Chain) Instantiate(ctx context.Context, sender *types.Wallet, codeID uint64, label string, msg any, funds sdk.Coins) (string, error) {
	bz, err := toJSON(msg)
	if err != nil {
		return "", err
	}
	var addr string
	_, err = c.deliverTx(ctx, func(tx *txContext) error {
		a, err := tx.instantiate(sender.GetFormattedAddress(), codeID, bz, funds, label, sender.GetFormattedAddress())
		addr = a
		return err
	})
	return addr, err
}

// Execute runs an execute message against a contract.
func (c *Chain) Execute(ctx context.Context, sender *types.Wallet, contract string, msg any, funds sdk.Coins) (types.TxResult, error) {
	bz, err := toJSON(msg)
	if err != nil {
		return types.TxResult{}, err
	}
	return c.deliverTx(ctx, func(tx *txContext) error {
		_, err := tx.execute(sender.GetFormattedAddress(), contract, bz, funds)
		return err
	})
}

// QueryContractSmart runs a smart query against a contract.
func (c *Chain) QueryContractSmart(ctx context.Context, contract string, query any, out any) error {
	bz, err := toJSON(query)
	if err != nil {
		return err
	}
	var res []byte
	if err := c.query(ctx, func(tx *txContext) error {
		r, err := tx.queryContract(contract, bz)
		res = r
		return err
	}); err != nil {
		return err
	}
	return json.Unmarshal(res, out)
}

// GetContract returns contract metadata.
func (c *Chain) GetContract(ctx context.Context, address string) (types.ContractInfo, error) {
	var out types.ContractInfo
	err := c.query(ctx, func(tx *txContext) error {
		info, err := contractInfos.Load(tx.store, address)
		if err != nil {
			return fmt.Errorf("contract %s: %w", address, err)
		}
		out = types.ContractInfo{
			Address:   address,
			CodeID:    info.CodeID,
			Creator:   info.Creator,
			Admin:     info.Admin,
			Label:     info.Label,
			IBCPortID: info.IBCPortID,
		}
		return nil
	})
	return out, err
}

// AllocateRewards mints rewards and splits them among the delegators of a
// validator pro rata to their delegation.
func (c *Chain) AllocateRewards(ctx context.Context, validator string, amount sdk.Coins) error {
	_, err := c.deliverTx(ctx, func(tx *txContext) error {
		return tx.allocateRewards(validator, amount)
	})
	return err
}

// Validators returns the operator addresses of the validator set.
func (c *Chain) Validators(ctx context.Context) ([]string, error) {
	var out []string
	err := c.query(ctx, func(tx *txContext) error {
		vals, err := tx.Validators()
		out = vals
		return err
	})
	return out, err
}

// Delegation returns the amount delegator has bonded to validator.
func (c *Chain) Delegation(ctx context.Context, delegator, validator string) (sdkmath.Int, error) {
	var out sdkmath.Int
	err := c.query(ctx, func(tx *txContext) error {
		d, err := tx.Delegation(delegator, validator)
		out = d
		return err
	})
	return out, err
}

// deliverTx runs fn as a transaction in a new block. State changes are
// committed only if fn succeeds.
func (c *Chain) deliverTx(ctx context.Context, fn func(tx *txContext) error) (types.TxResult, error) {
	if err := ctx.Err(); err != nil {
		return types.TxResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.height++
	c.lastBlockTime = c.nextBlockTime()

	begin := c.newTx(newCacheStore(c.store))
	if err := begin.matureUnbondings(); err != nil {
		return types.TxResult{}, fmt.Errorf("begin block %d: %w", c.height, err)
	}
	begin.store.(*cacheStore).Write()

	cache := newCacheStore(c.store)
	res := types.TxResult{TxHash: c.txHash(), Height: c.height}
	if err := fn(c.newTx(cache)); err != nil {
		res.Code = 1
		res.RawLog = err.Error()
		c.logger.Debug("tx failed", zap.Int64("height", c.height), zap.Error(err))
		return res, err
	}
	cache.Write()
	return res, nil
}

// query runs fn against a throwaway branch of the committed state.
func (c *Chain) query(ctx context.Context, fn func(tx *txContext) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(c.newTx(newCacheStore(c.store)))
}

func (c *Chain) newTx(store KVStore) *txContext {
	return &txContext{chain: c, store: store, height: c.height, time: c.lastBlockTime}
}

func (c *Chain) nextBlockTime() time.Time {
	t := c.now()
	if !t.After(c.lastBlockTime) {
		t = c.lastBlockTime.Add(time.Millisecond)
	}
	return t
}

func (c *Chain) txHash() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/%d", c.cfg.ChainID, c.height)))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func (c *Chain) formatAddress(bz []byte) string {
	addr, err := bech32.ConvertAndEncode(c.cfg.Bech32Prefix, bz)
	if err != nil {
		panic(fmt.Errorf("encode address: %w", err))
	}
	return addr
}

func (c *Chain) accountAddress(parts ...string) string {
	sum := sha256.Sum256([]byte(c.cfg.ChainID + "/" + strings.Join(parts, "/")))
	return c.formatAddress(sum[:20])
}

func (c *Chain) contractAddress(codeID, instanceID uint64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/contract/%d/%d", c.cfg.ChainID, codeID, instanceID)))
	return c.formatAddress(sum[:])
}

func (c *Chain) moduleAddress(name string) string {
	return c.formatAddress(authtypes.NewModuleAddress(name))
}

func (c *Chain) validatorAddress(i int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/validator/%d", c.cfg.ChainID, i)))
	addr, err := bech32.ConvertAndEncode(c.cfg.Bech32Prefix+"valoper", sum[:20])
	if err != nil {
		panic(fmt.Errorf("encode validator address: %w", err))
	}
	return addr
}

func toJSON(msg any) ([]byte, error) {
	switch m := msg.(type) {
	case []byte:
		return m, nil
	case json.RawMessage:
		return m, nil
	case string:
		return []byte(m), nil
	default:
		bz, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("encode message: %w", err)
		}
		return bz, nil
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
