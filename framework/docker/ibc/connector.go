package ibc

import (
	"context"
	"fmt"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"go.uber.org/zap"

	meshibc "github.com/osmosis-labs/mesh-harness/framework/ibc"
	"github.com/osmosis-labs/mesh-harness/framework/testutil/wallet"
	"github.com/osmosis-labs/mesh-harness/framework/types"
)

// Connector prepares a relayer for two chains and creates links between them.
type Connector struct {
	chainA  types.Chain
	chainB  types.Chain
	relayer Relayer
	logger  *zap.Logger

	// chain descriptions handed to the relayer
	configA types.ChainConfig
	configB types.ChainConfig

	// Relayer wallets (created during setup)
	relayerWalletA *types.Wallet
	relayerWalletB *types.Wallet
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithRelayerChainConfigs sets the chain descriptions given to the relayer,
// for when it reaches the nodes through other endpoints than the harness.
func WithRelayerChainConfigs(a, b types.ChainConfig) ConnectorOption {
	return func(c *Connector) {
		c.configA = a
		c.configB = b
	}
}

// NewConnector creates a new Connector for connecting two chains via a relayer.
func NewConnector(chainA, chainB types.Chain, relayer Relayer, logger *zap.Logger, opts ...ConnectorOption) *Connector {
	c := &Connector{
		chainA:  chainA,
		chainB:  chainB,
		relayer: relayer,
		logger:  logger,
		configA: chainA.Config(),
		configB: chainB.Config(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetupRelayerWallets configures both chains on the relayer, then creates a
// wallet on each chain funded with the matching entry of funds and hands it
// to the relayer.
func (c *Connector) SetupRelayerWallets(ctx context.Context, fundsA, fundsB sdk.Coins) error {
	if err := c.relayer.Init(ctx, c.configA, c.configB); err != nil {
		return fmt.Errorf("failed to configure relayer: %w", err)
	}

	walletA, err := c.setupWallet(ctx, c.chainA, fundsA)
	if err != nil {
		return fmt.Errorf("failed to set up relayer wallet on chain A: %w", err)
	}
	walletB, err := c.setupWallet(ctx, c.chainB, fundsB)
	if err != nil {
		return fmt.Errorf("failed to set up relayer wallet on chain B: %w", err)
	}

	// Store for later use
	c.relayerWalletA = walletA
	c.relayerWalletB = walletB
	return nil
}

func (c *Connector) setupWallet(ctx context.Context, chain types.Chain, funds sdk.Coins) (*types.Wallet, error) {
	w, err := wallet.CreateAndFund(ctx, fmt.Sprintf("relayer-%s", chain.GetChainID()), funds, chain)
	if err != nil {
		return nil, err
	}
	if err := c.relayer.AddKey(ctx, chain.GetChainID(), w); err != nil {
		return nil, err
	}
	c.logger.Info("relayer wallet ready",
		zap.String("chain_id", chain.GetChainID()),
		zap.String("address", w.GetFormattedAddress()),
		zap.Stringer("funds", funds))
	return w, nil
}

// RelayerWallets returns the wallets created by SetupRelayerWallets.
func (c *Connector) RelayerWallets() (a, b *types.Wallet) {
	return c.relayerWalletA, c.relayerWalletB
}

// CreateLink creates a fresh connection with chain A as its A side.
func (c *Connector) CreateLink(ctx context.Context) (meshibc.Link, error) {
	if c.relayerWalletA == nil || c.relayerWalletB == nil {
		return nil, fmt.Errorf("relayer wallets must be set up before creating links")
	}
	link, err := c.relayer.CreateLink(ctx, c.chainA, c.chainB)
	if err != nil {
		return nil, fmt.Errorf("failed to create IBC link: %w", err)
	}
	return link, nil
}
