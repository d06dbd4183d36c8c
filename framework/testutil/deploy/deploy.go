package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/osmosis-labs/mesh-harness/framework/ibc"
	"github.com/osmosis-labs/mesh-harness/framework/mesh/msg"
	"github.com/osmosis-labs/mesh-harness/framework/testutil/coin"
	"github.com/osmosis-labs/mesh-harness/framework/testutil/wallet"
	"github.com/osmosis-labs/mesh-harness/framework/types"
)

// ICS20Version is the version of the token transfer channel.
const ICS20Version = "ics20-1"

// Artifacts holds contract bytecode keyed by contract name, one set per chain.
type Artifacts struct {
	Provider map[string][]byte
	Consumer map[string][]byte
}

// CodeIDs are the code IDs of the uploaded mesh contracts. They are passed
// explicitly into every deployment.
type CodeIDs struct {
	Vault    uint64
	Provider uint64
	Slasher  uint64

	Consumer    uint64
	MetaStaking uint64
}

// Params are the mesh parameters a deployment is instantiated with.
type Params struct {
	// UnbondingPeriod is how long unstaked tokens stay locked in the vault.
	UnbondingPeriod time.Duration
	// ExchangeRate converts provider tokens into consumer tokens.
	ExchangeRate sdkmath.LegacyDec
	// StakingReserve is the amount of consumer staking denom handed to
	// meta-staking for the consumer contract.
	StakingReserve sdkmath.Int
	// AdminFunds is the fee denom amount given to each admin wallet.
	AdminFunds sdkmath.Int
}

// DefaultParams returns parameters suitable for short lived tests.
func DefaultParams() Params {
	return Params{
		UnbondingPeriod: 14 * 24 * time.Hour,
		ExchangeRate:    sdkmath.LegacyMustNewDecFromStr("0.3"),
		StakingReserve:  sdkmath.NewInt(100_000_000),
		AdminFunds:      sdkmath.NewInt(10_000_000),
	}
}

// Contracts are the addresses and ports of one mesh deployment.
type Contracts struct {
	Vault        string
	Provider     string
	ProviderPort string
	Slasher      string

	Consumer     string
	ConsumerPort string
	MetaStaking  string
}

// Stack is a deployed mesh: a consumer chain (A) and a provider chain (B)
// joined by a link that carries the mesh and ICS20 channels.
type Stack struct {
	Consumer types.Chain
	Provider types.Chain
	Link     ibc.Link

	// ConsumerAdmin instantiated the consumer side contracts and administers meta-staking.
	ConsumerAdmin *types.Wallet
	// ProviderAdmin instantiated the provider side contracts.
	ProviderAdmin *types.Wallet

	Contracts Contracts
	CodeIDs   CodeIDs
	Params    Params

	// ICS20 is the transfer channel, described from the consumer side.
	ICS20 *ibc.Channel
	// Mesh is the consumer/provider channel, described from the consumer
	// side. It is nil until Connect succeeds.
	Mesh *ibc.Channel
}

// RewardsDenom is the voucher denom consumer rewards arrive in on the provider.
func (s *Stack) RewardsDenom() string {
	return coin.IBCDenom(s.Provider.Config().ICS20Port, s.ICS20.CounterpartyID, s.Consumer.Config().StakingDenom)
}

// Config describes what to deploy and where.
type Config struct {
	Consumer types.Chain
	Provider types.Chain
	Relayer  ibc.Relayer
	CodeIDs  CodeIDs
	Params   Params
	Logger   *zap.Logger
}

// WithDefaults uploads the artifacts and deploys a connected mesh with default
// parameters, for when the deployment is not the focus of the test.
func WithDefaults(t *testing.T, consumer, provider types.Chain, relayer ibc.Relayer, artifacts Artifacts) (*Stack, error) {
	t.Helper()

	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	codeIDs, err := Upload(ctx, logger, consumer, provider, artifacts)
	if err != nil {
		return nil, err
	}
	return Deploy(ctx, Config{
		Consumer: consumer,
		Provider: provider,
		Relayer:  relayer,
		CodeIDs:  codeIDs,
		Params:   DefaultParams(),
		Logger:   logger,
	})
}

// Upload stores every artifact on its chain, both chains in parallel, and
// returns the resulting code IDs.
func Upload(ctx context.Context, logger *zap.Logger, consumer, provider types.Chain, artifacts Artifacts) (CodeIDs, error) {
	var ids CodeIDs
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return uploadAll(gctx, logger, provider, artifacts.Provider, map[string]*uint64{
			msg.ContractVault:    &ids.Vault,
			msg.ContractProvider: &ids.Provider,
			msg.ContractSlasher:  &ids.Slasher,
		})
	})
	g.Go(func() error {
		return uploadAll(gctx, logger, consumer, artifacts.Consumer, map[string]*uint64{
			msg.ContractConsumer:    &ids.Consumer,
			msg.ContractMetaStaking: &ids.MetaStaking,
		})
	})

	if err := g.Wait(); err != nil {
		return CodeIDs{}, err
	}
	return ids, nil
}

func uploadAll(ctx context.Context, logger *zap.Logger, chain types.Chain, artifacts map[string][]byte, targets map[string]*uint64) error {
	for name, target := range targets {
		bz, ok := artifacts[name]
		if !ok {
			return fmt.Errorf("missing artifact %s for %s", name, chain.GetChainID())
		}
		codeID, err := chain.Upload(ctx, chain.GetFaucetWallet(), bz)
		if err != nil {
			return fmt.Errorf("upload %s to %s: %w", name, chain.GetChainID(), err)
		}
		*target = codeID
		logger.Info("uploaded contract",
			zap.String("chain_id", chain.GetChainID()),
			zap.String("contract", name),
			zap.Uint64("code_id", codeID))
	}
	return nil
}

// Deploy installs the contracts on a fresh link and opens the mesh channel.
func Deploy(ctx context.Context, cfg Config) (*Stack, error) {
	stack, err := Install(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Connect(ctx, cfg.Logger, stack); err != nil {
		return nil, err
	}
	return stack, nil
}

// Install creates a fresh link with an ICS20 channel, instantiates every
// contract in dependency order and registers the consumer with meta-staking.
// The mesh channel is not opened.
func Install(ctx context.Context, cfg Config) (*Stack, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	consumerCfg, providerCfg := cfg.Consumer.Config(), cfg.Provider.Config()

	link, err := cfg.Relayer.CreateLink(ctx, cfg.Consumer, cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("create link: %w", err)
	}

	ics20, err := link.CreateChannel(ctx, ibc.SideA, ibc.CreateChannelOptions{
		SourcePortName: consumerCfg.ICS20Port,
		DestPortName:   providerCfg.ICS20Port,
		Order:          ibc.OrderUnordered,
		Version:        ICS20Version,
	})
	if err != nil {
		return nil, fmt.Errorf("create ics20 channel: %w", err)
	}

	stack := &Stack{
		Consumer: cfg.Consumer,
		Provider: cfg.Provider,
		Link:     link,
		CodeIDs:  cfg.CodeIDs,
		Params:   cfg.Params,
		ICS20:    ics20,
	}

	stack.ProviderAdmin, err = wallet.CreateAndFund(ctx, "provider-admin", feeFunds(providerCfg, cfg.Params), cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("fund provider admin: %w", err)
	}
	consumerFunds := feeFunds(consumerCfg, cfg.Params).Add(sdk.NewCoin(consumerCfg.StakingDenom, cfg.Params.StakingReserve))
	stack.ConsumerAdmin, err = wallet.CreateAndFund(ctx, "consumer-admin", consumerFunds, cfg.Consumer)
	if err != nil {
		return nil, fmt.Errorf("fund consumer admin: %w", err)
	}

	if err := installProvider(ctx, stack, link.EndB().ConnectionID()); err != nil {
		return nil, err
	}
	if err := installConsumer(ctx, stack, link.EndA().ConnectionID()); err != nil {
		return nil, err
	}

	logger.Info("mesh contracts installed",
		zap.String("connection_a", link.EndA().ConnectionID()),
		zap.String("connection_b", link.EndB().ConnectionID()),
		zap.String("provider_port", stack.Contracts.ProviderPort),
		zap.String("consumer_port", stack.Contracts.ConsumerPort),
		zap.String("ics20_channel", ics20.ChannelID))
	return stack, nil
}

func feeFunds(cfg types.ChainConfig, params Params) sdk.Coins {
	if params.AdminFunds.IsNil() || !params.AdminFunds.IsPositive() {
		return sdk.NewCoins()
	}
	return sdk.NewCoins(sdk.NewCoin(cfg.Denom, params.AdminFunds))
}

func installProvider(ctx context.Context, stack *Stack, connectionID string) error {
	chain, admin := stack.Provider, stack.ProviderAdmin
	c := &stack.Contracts

	var err error
	c.Vault, err = chain.Instantiate(ctx, admin, stack.CodeIDs.Vault, msg.ContractVault,
		msg.VaultInstantiate{Denom: chain.Config().StakingDenom}, nil)
	if err != nil {
		return fmt.Errorf("instantiate %s: %w", msg.ContractVault, err)
	}

	slasherMsg, err := json.Marshal(msg.SlasherInstantiate{Owner: admin.GetFormattedAddress()})
	if err != nil {
		return fmt.Errorf("encode slasher message: %w", err)
	}
	c.Provider, err = chain.Instantiate(ctx, admin, stack.CodeIDs.Provider, msg.ContractProvider, msg.ProviderInstantiate{
		Consumer:        msg.ConsumerInfo{ConnectionID: connectionID},
		Slasher:         msg.SlasherInfo{CodeID: stack.CodeIDs.Slasher, Msg: slasherMsg},
		Vault:           c.Vault,
		UnbondingPeriod: uint64(stack.Params.UnbondingPeriod / time.Second),
		RewardsIBCDenom: stack.RewardsDenom(),
	}, nil)
	if err != nil {
		return fmt.Errorf("instantiate %s: %w", msg.ContractProvider, err)
	}

	c.ProviderPort, err = ibcPort(ctx, chain, c.Provider)
	if err != nil {
		return err
	}

	var providerCfg msg.ProviderConfigResponse
	if err := chain.QueryContractSmart(ctx, c.Provider, msg.ProviderQuery{Config: &msg.Empty{}}, &providerCfg); err != nil {
		return fmt.Errorf("query %s config: %w", msg.ContractProvider, err)
	}
	if providerCfg.Slasher == "" {
		return fmt.Errorf("%s did not instantiate a slasher", msg.ContractProvider)
	}
	c.Slasher = providerCfg.Slasher
	return nil
}

func installConsumer(ctx context.Context, stack *Stack, connectionID string) error {
	chain, admin := stack.Consumer, stack.ConsumerAdmin
	consumerCfg := chain.Config()
	c := &stack.Contracts

	var err error
	c.MetaStaking, err = chain.Instantiate(ctx, admin, stack.CodeIDs.MetaStaking, msg.ContractMetaStaking, msg.MetaStakingInstantiate{
		LocalDenom:                   consumerCfg.StakingDenom,
		ProviderDenom:                stack.Provider.Config().StakingDenom,
		ConsumerProviderExchangeRate: stack.Params.ExchangeRate,
	}, nil)
	if err != nil {
		return fmt.Errorf("instantiate %s: %w", msg.ContractMetaStaking, err)
	}

	c.Consumer, err = InstantiateConsumer(ctx, stack, c.ProviderPort, connectionID)
	if err != nil {
		return err
	}
	c.ConsumerPort, err = ibcPort(ctx, chain, c.Consumer)
	if err != nil {
		return err
	}

	reserve := sdk.NewCoin(consumerCfg.StakingDenom, stack.Params.StakingReserve)
	if err := checkTx(chain.SendFunds(ctx, admin, c.MetaStaking, sdk.NewCoins(reserve))); err != nil {
		return fmt.Errorf("fund %s: %w", msg.ContractMetaStaking, err)
	}
	return AddConsumer(ctx, stack, c.Consumer, reserve)
}

// InstantiateConsumer instantiates a consumer contract that trusts the given
// provider port over the given consumer side connection.
func InstantiateConsumer(ctx context.Context, stack *Stack, providerPort, connectionID string) (string, error) {
	addr, err := stack.Consumer.Instantiate(ctx, stack.ConsumerAdmin, stack.CodeIDs.Consumer, msg.ContractConsumer, msg.ConsumerInstantiate{
		Provider: msg.ProviderInfo{
			PortID:       providerPort,
			ConnectionID: connectionID,
		},
		RemoteToLocalExchangeRate:  stack.Params.ExchangeRate,
		MetaStakingContractAddress: stack.Contracts.MetaStaking,
		ICS20Channel:               stack.ICS20.ChannelID,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("instantiate %s: %w", msg.ContractConsumer, err)
	}
	return addr, nil
}

// AddConsumer registers consumer with meta-staking with the given budget.
func AddConsumer(ctx context.Context, stack *Stack, consumer string, budget sdk.Coin) error {
	err := checkTx(stack.Consumer.Execute(ctx, stack.ConsumerAdmin, stack.Contracts.MetaStaking, msg.MetaStakingExecute{
		Sudo: &msg.MetaStakingSudo{
			AddConsumer: &msg.AddConsumer{
				ConsumerAddress:          consumer,
				FundsAvailableForStaking: budget,
			},
		},
	}, nil))
	if err != nil {
		return fmt.Errorf("add consumer %s to %s: %w", consumer, msg.ContractMetaStaking, err)
	}
	return nil
}

// Connect opens the mesh channel from the consumer side and relays the
// provider's initial validator request.
func Connect(ctx context.Context, logger *zap.Logger, stack *Stack) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	channel, err := OpenMeshChannel(ctx, stack.Link, stack.Contracts.ConsumerPort, stack.Contracts.ProviderPort)
	if err != nil {
		return err
	}
	stack.Mesh = channel

	relay, err := stack.Link.RelayAll(ctx)
	if err != nil {
		return fmt.Errorf("relay validator request: %w", err)
	}
	if err := ibc.AssertPacketsFromB(relay, 1, true); err != nil {
		return fmt.Errorf("validator request: %w", err)
	}

	logger.Info("mesh channel open",
		zap.String("channel_a", channel.ChannelID),
		zap.String("channel_b", channel.CounterpartyID))
	return nil
}

// OpenMeshChannel runs the mesh channel handshake from the consumer side of link.
func OpenMeshChannel(ctx context.Context, link ibc.Link, consumerPort, providerPort string) (*ibc.Channel, error) {
	channel, err := link.CreateChannel(ctx, ibc.SideA, ibc.CreateChannelOptions{
		SourcePortName: consumerPort,
		DestPortName:   providerPort,
		Order:          ibc.OrderUnordered,
		Version:        msg.IBCAppVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("create mesh channel %s <> %s: %w", consumerPort, providerPort, err)
	}
	return channel, nil
}

func ibcPort(ctx context.Context, chain types.Chain, addr string) (string, error) {
	info, err := chain.GetContract(ctx, addr)
	if err != nil {
		return "", fmt.Errorf("get contract %s: %w", addr, err)
	}
	if info.IBCPortID == "" {
		return "", fmt.Errorf("contract %s has no ibc port", addr)
	}
	return info.IBCPortID, nil
}

func checkTx(res types.TxResult, err error) error {
	if err != nil {
		return err
	}
	if res.Code != 0 {
		return fmt.Errorf("tx %s failed with code %d: %s", res.TxHash, res.Code, res.RawLog)
	}
	return nil
}
