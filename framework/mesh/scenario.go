// Package mesh drives cross-chain staking scenarios against a deployed mesh:
// locking tokens in the vault, cross-staking them to consumer validators,
// unstaking, unbonding and moving rewards back to the provider. Every
// cross-chain step relays the packets it produced and returns what was relayed.
package mesh

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"go.uber.org/zap"

	"github.com/osmosis-labs/mesh-harness/framework/ibc"
	"github.com/osmosis-labs/mesh-harness/framework/mesh/msg"
	"github.com/osmosis-labs/mesh-harness/framework/testutil/deploy"
	"github.com/osmosis-labs/mesh-harness/framework/testutil/wallet"
	"github.com/osmosis-labs/mesh-harness/framework/types"
)

// Scenario runs steps against one deployed stack. Steps are sequential; a
// scenario is not safe for concurrent use, but independent scenarios are.
type Scenario struct {
	stack  *deploy.Stack
	logger *zap.Logger
}

// NewScenario returns a scenario over stack.
func NewScenario(stack *deploy.Stack, logger *zap.Logger) *Scenario {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scenario{
		stack: stack,
		logger: logger.With(
			zap.String("consumer", stack.Consumer.GetChainID()),
			zap.String("provider", stack.Provider.GetChainID()),
		),
	}
}

// Stack returns the deployment the scenario runs against.
func (s *Scenario) Stack() *deploy.Stack {
	return s.stack
}

// FundProviderUser creates a provider account holding amount of the provider
// staking denom plus fee funds.
func (s *Scenario) FundProviderUser(ctx context.Context, keyPrefix string, amount sdkmath.Int) (*types.Wallet, error) {
	return s.fundUser(ctx, s.stack.Provider, keyPrefix, amount)
}

// FundConsumerUser creates a consumer account holding amount of the consumer
// staking denom plus fee funds.
func (s *Scenario) FundConsumerUser(ctx context.Context, keyPrefix string, amount sdkmath.Int) (*types.Wallet, error) {
	return s.fundUser(ctx, s.stack.Consumer, keyPrefix, amount)
}

func (s *Scenario) fundUser(ctx context.Context, chain types.Chain, keyPrefix string, amount sdkmath.Int) (*types.Wallet, error) {
	cfg := chain.Config()
	coins := sdk.NewCoins(sdk.NewCoin(cfg.StakingDenom, amount))
	if fees := s.stack.Params.AdminFunds; !fees.IsNil() && fees.IsPositive() {
		coins = coins.Add(sdk.NewCoin(cfg.Denom, fees))
	}
	w, err := wallet.CreateAndFund(ctx, keyPrefix, coins, chain)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("funded user",
		zap.String("chain_id", chain.GetChainID()),
		zap.String("address", w.GetFormattedAddress()),
		zap.Stringer("coins", coins))
	return w, nil
}

// Lock bonds amount of the provider staking denom in the vault.
func (s *Scenario) Lock(ctx context.Context, user *types.Wallet, amount sdkmath.Int) error {
	funds := sdk.NewCoins(sdk.NewCoin(s.stack.Provider.Config().StakingDenom, amount))
	if err := s.execute(ctx, s.stack.Provider, user, s.stack.Contracts.Vault, msg.VaultExecute{Bond: &msg.Empty{}}, funds); err != nil {
		return fmt.Errorf("lock %s: %w", amount, err)
	}
	s.logger.Info("locked", zap.String("user", user.GetFormattedAddress()), zap.Stringer("amount", amount))
	return nil
}

// Unbond withdraws amount of free tokens from the vault.
func (s *Scenario) Unbond(ctx context.Context, user *types.Wallet, amount sdkmath.Int) error {
	if err := s.execute(ctx, s.stack.Provider, user, s.stack.Contracts.Vault, msg.VaultExecute{Unbond: &msg.Unbond{Amount: amount}}, nil); err != nil {
		return fmt.Errorf("unbond %s: %w", amount, err)
	}
	s.logger.Info("unbonded", zap.String("user", user.GetFormattedAddress()), zap.Stringer("amount", amount))
	return nil
}

// CrossStake grants the provider a claim on locked tokens for validator and
// relays the resulting stake packet.
func (s *Scenario) CrossStake(ctx context.Context, user *types.Wallet, validator string, amount sdkmath.Int) (ibc.RelayInfo, error) {
	err := s.execute(ctx, s.stack.Provider, user, s.stack.Contracts.Vault, msg.VaultExecute{
		GrantClaim: &msg.GrantClaim{
			Leinholder: s.stack.Contracts.Provider,
			Amount:     amount,
			Validator:  validator,
		},
	}, nil)
	if err != nil {
		return ibc.RelayInfo{}, fmt.Errorf("cross stake %s on %s: %w", amount, validator, err)
	}
	return s.Relay(ctx, "cross_stake")
}

// Unstake asks the provider to undelegate amount from validator and relays
// the resulting unstake packet.
func (s *Scenario) Unstake(ctx context.Context, user *types.Wallet, validator string, amount sdkmath.Int) (ibc.RelayInfo, error) {
	err := s.execute(ctx, s.stack.Provider, user, s.stack.Contracts.Provider, msg.ProviderExecute{
		Unstake: &msg.Unstake{Amount: amount, Validator: validator},
	}, nil)
	if err != nil {
		return ibc.RelayInfo{}, fmt.Errorf("unstake %s from %s: %w", amount, validator, err)
	}
	return s.Relay(ctx, "unstake")
}

// WithdrawRewards has meta-staking withdraw the consumer's rewards on
// validator and relays the transfer and rewards packets to the provider.
func (s *Scenario) WithdrawRewards(ctx context.Context, validator string) (ibc.RelayInfo, error) {
	err := s.execute(ctx, s.stack.Consumer, s.stack.ConsumerAdmin, s.stack.Contracts.MetaStaking, msg.MetaStakingExecute{
		WithdrawToConsumer: &msg.WithdrawToConsumer{
			Consumer:  s.stack.Contracts.Consumer,
			Validator: validator,
		},
	}, nil)
	if err != nil {
		return ibc.RelayInfo{}, fmt.Errorf("withdraw rewards on %s: %w", validator, err)
	}
	return s.Relay(ctx, "withdraw_rewards")
}

// ClaimRewards pays user the rewards the provider holds for them on validator.
func (s *Scenario) ClaimRewards(ctx context.Context, user *types.Wallet, validator string) error {
	err := s.execute(ctx, s.stack.Provider, user, s.stack.Contracts.Provider, msg.ProviderExecute{
		ClaimRewards: &msg.ClaimRewards{Validator: validator},
	}, nil)
	if err != nil {
		return fmt.Errorf("claim rewards on %s: %w", validator, err)
	}
	return nil
}

// Transfer sends amount from a consumer account to a provider address over
// the ICS20 channel and relays it.
func (s *Scenario) Transfer(ctx context.Context, from *types.Wallet, toAddress string, amount sdk.Coin) (ibc.RelayInfo, error) {
	res, err := s.stack.Consumer.Transfer(ctx, from, s.stack.ICS20.ChannelID, toAddress, amount)
	if err := txError(res, err); err != nil {
		return ibc.RelayInfo{}, fmt.Errorf("transfer %s: %w", amount, err)
	}
	return s.Relay(ctx, "transfer")
}

// Relay delivers every pending packet on the link, in both directions.
func (s *Scenario) Relay(ctx context.Context, step string) (ibc.RelayInfo, error) {
	relay, err := s.stack.Link.RelayAll(ctx)
	if err != nil {
		return ibc.RelayInfo{}, fmt.Errorf("relay after %s: %w", step, err)
	}
	s.logger.Info("relayed",
		zap.String("step", step),
		zap.Int("packets_from_a", relay.PacketsFromA),
		zap.Int("packets_from_b", relay.PacketsFromB))
	return relay, nil
}

// Validators returns the consumer validators the provider knows about.
func (s *Scenario) Validators(ctx context.Context) ([]string, error) {
	var res msg.ListValidatorsResponse
	if err := s.stack.Provider.QueryContractSmart(ctx, s.stack.Contracts.Provider, msg.ProviderQuery{ListValidators: &msg.Empty{}}, &res); err != nil {
		return nil, fmt.Errorf("query validators: %w", err)
	}
	return res.Validators, nil
}

// ProviderAccount returns the stake and rewards the provider tracks for user.
func (s *Scenario) ProviderAccount(ctx context.Context, user *types.Wallet) (msg.ProviderAccountResponse, error) {
	var res msg.ProviderAccountResponse
	q := msg.ProviderQuery{Account: &msg.AccountQuery{Address: user.GetFormattedAddress()}}
	if err := s.stack.Provider.QueryContractSmart(ctx, s.stack.Contracts.Provider, q, &res); err != nil {
		return res, fmt.Errorf("query provider account: %w", err)
	}
	return res, nil
}

// StakedAmount returns how much user has cross-staked on validator.
func (s *Scenario) StakedAmount(ctx context.Context, user *types.Wallet, validator string) (sdkmath.Int, error) {
	acct, err := s.ProviderAccount(ctx, user)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return acct.StakedOn(validator), nil
}

// VaultAccount returns the vault balances of user.
func (s *Scenario) VaultAccount(ctx context.Context, user *types.Wallet) (msg.VaultAccountResponse, error) {
	var res msg.VaultAccountResponse
	q := msg.VaultQuery{Account: &msg.AccountQuery{Address: user.GetFormattedAddress()}}
	if err := s.stack.Provider.QueryContractSmart(ctx, s.stack.Contracts.Vault, q, &res); err != nil {
		return res, fmt.Errorf("query vault account: %w", err)
	}
	return res, nil
}

// ConsumerBudget returns the meta-staking budget of the consumer contract.
func (s *Scenario) ConsumerBudget(ctx context.Context) (msg.ConsumerInfoResponse, error) {
	var res msg.ConsumerInfoResponse
	q := msg.MetaStakingQuery{Consumer: &msg.ConsumerLookup{Address: s.stack.Contracts.Consumer}}
	if err := s.stack.Consumer.QueryContractSmart(ctx, s.stack.Contracts.MetaStaking, q, &res); err != nil {
		return res, fmt.Errorf("query consumer budget: %w", err)
	}
	return res, nil
}

// MetaStakingDelegation returns what meta-staking delegated to validator for the consumer.
func (s *Scenario) MetaStakingDelegation(ctx context.Context, validator string) (sdkmath.Int, error) {
	var res msg.DelegationResponse
	q := msg.MetaStakingQuery{Delegation: &msg.DelegationQuery{Consumer: s.stack.Contracts.Consumer, Validator: validator}}
	if err := s.stack.Consumer.QueryContractSmart(ctx, s.stack.Contracts.MetaStaking, q, &res); err != nil {
		return sdkmath.Int{}, fmt.Errorf("query meta-staking delegation: %w", err)
	}
	return res.Amount, nil
}

func (s *Scenario) execute(ctx context.Context, chain types.Chain, sender *types.Wallet, contract string, m any, funds sdk.Coins) error {
	res, err := chain.Execute(ctx, sender, contract, m, funds)
	return txError(res, err)
}

func txError(res types.TxResult, err error) error {
	if err != nil {
		return err
	}
	if res.Code != 0 {
		return fmt.Errorf("tx %s failed with code %d: %s", res.TxHash, res.Code, res.RawLog)
	}
	return nil
}
