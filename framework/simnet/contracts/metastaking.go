package contracts

import (
	"encoding/json"
	"sort"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"go.uber.org/zap"

	"github.com/osmosis-labs/mesh-harness/framework/mesh/msg"
	"github.com/osmosis-labs/mesh-harness/framework/simnet"
)

const replyWithdrawRewards = 1

// MetaStaking delegates its own funds on behalf of consumer contracts, each
// limited to the budget the admin granted it.
type MetaStaking struct{}

var _ simnet.Replier = MetaStaking{}

type metaStakingConfig struct {
	Admin         string            `json:"admin"`
	LocalDenom    string            `json:"local_denom"`
	ProviderDenom string            `json:"provider_denom"`
	Rate          sdkmath.LegacyDec `json:"rate"`
}

type consumerBudget struct {
	AvailableFunds sdkmath.Int `json:"available_funds"`
	TotalStaked    sdkmath.Int `json:"total_staked"`
}

// pendingWithdraw remembers which consumer asked for a reward withdrawal
// while the withdraw message is in flight.
type pendingWithdraw struct {
	Consumer  string `json:"consumer"`
	Validator string `json:"validator"`
}

var (
	metaConfigItem   simnet.Item[metaStakingConfig] = "config"
	metaConsumers    simnet.Map[consumerBudget]     = "consumers"
	metaDelegations  simnet.Map[sdkmath.Int]        = "delegations"
	metaWithdrawItem simnet.Item[pendingWithdraw]   = "pending_withdraw"
)

func (MetaStaking) Instantiate(ctx simnet.Ctx, info simnet.MessageInfo, bz []byte) (*simnet.Response, error) {
	m, err := decode[msg.MetaStakingInstantiate](bz)
	if err != nil {
		return nil, err
	}
	if m.LocalDenom == "" {
		return nil, errorsmod.Wrap(ErrInvalidMessage, "local denom is required")
	}
	rate := m.ConsumerProviderExchangeRate
	if rate.IsNil() {
		rate = sdkmath.LegacyOneDec()
	}
	cfg := metaStakingConfig{
		Admin:         info.Sender,
		LocalDenom:    m.LocalDenom,
		ProviderDenom: m.ProviderDenom,
		Rate:          rate,
	}
	return simnet.NewResponse(), metaConfigItem.Save(ctx.Store, cfg)
}

func (ms MetaStaking) Execute(ctx simnet.Ctx, info simnet.MessageInfo, bz []byte) (*simnet.Response, error) {
	m, err := decode[msg.MetaStakingExecute](bz)
	if err != nil {
		return nil, err
	}
	cfg, err := metaConfigItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}

	switch {
	case m.Sudo != nil:
		if info.Sender != cfg.Admin {
			return nil, errorsmod.Wrap(ErrUnauthorized, "sudo is restricted to the admin")
		}
		return ms.sudo(ctx, cfg, *m.Sudo)
	case m.Delegate != nil:
		return ms.delegate(ctx, cfg, info.Sender, *m.Delegate)
	case m.Undelegate != nil:
		return ms.undelegate(ctx, cfg, info.Sender, *m.Undelegate)
	case m.WithdrawDelegatorReward != nil:
		return ms.withdrawToConsumer(ctx, info.Sender, m.WithdrawDelegatorReward.Validator)
	case m.WithdrawToConsumer != nil:
		return ms.withdrawToConsumer(ctx, m.WithdrawToConsumer.Consumer, m.WithdrawToConsumer.Validator)
	}
	return nil, errorsmod.Wrap(ErrInvalidMessage, "unknown meta-staking message")
}

func (MetaStaking) sudo(ctx simnet.Ctx, cfg metaStakingConfig, m msg.MetaStakingSudo) (*simnet.Response, error) {
	switch {
	case m.AddConsumer != nil:
		addr := m.AddConsumer.ConsumerAddress
		if err := ctx.Querier.ValidateAddress(addr); err != nil {
			return nil, err
		}
		if metaConsumers.Has(ctx.Store, addr) {
			return nil, errorsmod.Wrapf(ErrConsumerAlreadyExists, "%s", addr)
		}
		funds := m.AddConsumer.FundsAvailableForStaking
		if funds.Denom != cfg.LocalDenom {
			return nil, errorsmod.Wrapf(ErrIncorrectDenom, "expected %s, got %s", cfg.LocalDenom, funds.Denom)
		}
		balance, err := ctx.Querier.Balance(ctx.Env.Contract, cfg.LocalDenom)
		if err != nil {
			return nil, err
		}
		if balance.Amount.LT(funds.Amount) {
			return nil, errorsmod.Wrapf(ErrNotEnoughFunds, "balance %s, requested %s", balance, funds)
		}
		budget := consumerBudget{AvailableFunds: funds.Amount, TotalStaked: sdkmath.ZeroInt()}
		return simnet.NewResponse().AddAttribute("action", "add_consumer"), metaConsumers.Save(ctx.Store, budget, addr)

	case m.RemoveConsumer != nil:
		addr := m.RemoveConsumer.ConsumerAddress
		if !metaConsumers.Has(ctx.Store, addr) {
			return nil, errorsmod.Wrapf(ErrNoConsumer, "%s", addr)
		}
		type delegation struct {
			validator string
			amount    sdkmath.Int
		}
		var existing []delegation
		err := metaDelegations.Range(ctx.Store, func(key string, amount sdkmath.Int) (bool, error) {
			_, val, _ := splitPair(key)
			existing = append(existing, delegation{validator: val, amount: amount})
			return true, nil
		}, addr)
		if err != nil {
			return nil, err
		}

		resp := simnet.NewResponse().AddAttribute("action", "remove_consumer")
		for _, d := range existing {
			metaDelegations.Remove(ctx.Store, addr, d.validator)
			resp.AddMessage(simnet.Undelegate{Validator: d.validator, Amount: sdk.NewCoin(cfg.LocalDenom, d.amount)})
		}
		metaConsumers.Remove(ctx.Store, addr)
		return resp, nil
	}
	return nil, errorsmod.Wrap(ErrInvalidMessage, "unknown sudo message")
}

func loadBudget(store simnet.KVStore, consumer string) (consumerBudget, error) {
	b, ok, err := metaConsumers.May(store, consumer)
	if err != nil {
		return b, err
	}
	if !ok {
		return b, errorsmod.Wrapf(ErrNoConsumer, "%s", consumer)
	}
	return b, nil
}

func (MetaStaking) delegate(ctx simnet.Ctx, cfg metaStakingConfig, consumer string, d msg.Delegation) (*simnet.Response, error) {
	budget, err := loadBudget(ctx.Store, consumer)
	if err != nil {
		return nil, err
	}
	if d.Amount.Denom != cfg.LocalDenom {
		return nil, errorsmod.Wrapf(ErrIncorrectDenom, "expected %s, got %s", cfg.LocalDenom, d.Amount.Denom)
	}
	if budget.AvailableFunds.LT(d.Amount.Amount) {
		return nil, errorsmod.Wrapf(ErrNoFundsToDelegate, "available %s, requested %s", budget.AvailableFunds, d.Amount.Amount)
	}

	budget.AvailableFunds = budget.AvailableFunds.Sub(d.Amount.Amount)
	budget.TotalStaked = budget.TotalStaked.Add(d.Amount.Amount)
	if err := metaConsumers.Save(ctx.Store, budget, consumer); err != nil {
		return nil, err
	}
	current, err := loadInt(ctx.Store, metaDelegations, consumer, d.Validator)
	if err != nil {
		return nil, err
	}
	if err := saveInt(ctx.Store, metaDelegations, current.Add(d.Amount.Amount), consumer, d.Validator); err != nil {
		return nil, err
	}
	return simnet.NewResponse().
		AddMessage(simnet.Delegate{Validator: d.Validator, Amount: d.Amount}).
		AddAttribute("action", "delegate"), nil
}

func (MetaStaking) undelegate(ctx simnet.Ctx, cfg metaStakingConfig, consumer string, d msg.Delegation) (*simnet.Response, error) {
	budget, err := loadBudget(ctx.Store, consumer)
	if err != nil {
		return nil, err
	}
	if d.Amount.Denom != cfg.LocalDenom {
		return nil, errorsmod.Wrapf(ErrIncorrectDenom, "expected %s, got %s", cfg.LocalDenom, d.Amount.Denom)
	}
	current, err := loadInt(ctx.Store, metaDelegations, consumer, d.Validator)
	if err != nil {
		return nil, err
	}
	if current.IsZero() {
		return nil, errorsmod.Wrapf(ErrNoDelegationsForValidator, "%s", d.Validator)
	}
	if current.LT(d.Amount.Amount) {
		return nil, errorsmod.Wrapf(ErrInsufficientDelegation, "delegated %s, requested %s", current, d.Amount.Amount)
	}

	if err := saveInt(ctx.Store, metaDelegations, current.Sub(d.Amount.Amount), consumer, d.Validator); err != nil {
		return nil, err
	}
	budget.AvailableFunds = budget.AvailableFunds.Add(d.Amount.Amount)
	budget.TotalStaked = budget.TotalStaked.Sub(d.Amount.Amount)
	if err := metaConsumers.Save(ctx.Store, budget, consumer); err != nil {
		return nil, err
	}
	return simnet.NewResponse().
		AddMessage(simnet.Undelegate{Validator: d.Validator, Amount: d.Amount}).
		AddAttribute("action", "undelegate"), nil
}

// withdrawToConsumer withdraws the contract's rewards on validator. The reply
// hands the full amount to the consumers delegating there.
func (MetaStaking) withdrawToConsumer(ctx simnet.Ctx, consumer, validator string) (*simnet.Response, error) {
	if _, err := loadBudget(ctx.Store, consumer); err != nil {
		return nil, err
	}
	delegated, err := loadInt(ctx.Store, metaDelegations, consumer, validator)
	if err != nil {
		return nil, err
	}
	if delegated.IsZero() {
		return nil, errorsmod.Wrapf(ErrNoDelegationsForValidator, "%s", validator)
	}
	if err := metaWithdrawItem.Save(ctx.Store, pendingWithdraw{Consumer: consumer, Validator: validator}); err != nil {
		return nil, err
	}
	return simnet.NewResponse().AddSubMessage(replyWithdrawRewards,
		simnet.WithdrawDelegatorReward{Validator: validator}, simnet.ReplySuccess), nil
}

func (MetaStaking) Reply(ctx simnet.Ctx, r simnet.Reply) (*simnet.Response, error) {
	if r.ID != replyWithdrawRewards {
		return nil, errorsmod.Wrapf(ErrUnknownReplyID, "%d", r.ID)
	}
	pending, err := metaWithdrawItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	ctx.Store.Delete(string(metaWithdrawItem))

	var withdrawn sdk.Coins
	if err := json.Unmarshal(r.Data, &withdrawn); err != nil {
		return nil, errorsmod.Wrapf(ErrInvalidMessage, "withdraw result: %s", err)
	}
	resp := simnet.NewResponse().AddAttribute("action", "withdraw_to_consumer")
	if withdrawn.Empty() {
		return resp, nil
	}

	shares, err := rewardShares(ctx.Store, pending, withdrawn)
	if err != nil {
		return nil, err
	}
	for _, consumer := range sortedConsumers(shares) {
		exec, err := encode(msg.ConsumerExecute{MeshConsumerReceiveRewards: &msg.ReceiveRewards{Validator: pending.Validator}})
		if err != nil {
			return nil, err
		}
		resp.AddMessage(simnet.WasmExecute{Contract: consumer, Msg: exec, Funds: shares[consumer]})
	}
	ctx.Logger.Debug("rewards forwarded", zap.Stringer("amount", withdrawn), zap.Int("consumers", len(shares)))
	return resp, nil
}

// rewardShares splits withdrawn among the consumers delegating to the
// validator, pro rata to their delegation. The requesting consumer receives
// the rounding remainder.
func rewardShares(store simnet.KVStore, pending pendingWithdraw, withdrawn sdk.Coins) (map[string]sdk.Coins, error) {
	delegated := make(map[string]sdkmath.Int)
	total := sdkmath.ZeroInt()
	err := metaDelegations.Range(store, func(key string, amount sdkmath.Int) (bool, error) {
		consumer, val, ok := splitPair(key)
		if ok && val == pending.Validator {
			delegated[consumer] = amount
			total = total.Add(amount)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	shares := make(map[string]sdk.Coins)
	remainder := withdrawn
	for consumer, amount := range delegated {
		if consumer == pending.Consumer {
			continue
		}
		var share sdk.Coins
		for _, c := range withdrawn {
			part := c.Amount.Mul(amount).Quo(total)
			if part.IsPositive() {
				share = share.Add(sdk.NewCoin(c.Denom, part))
			}
		}
		if share.Empty() {
			continue
		}
		shares[consumer] = share
		remainder = remainder.Sub(share...)
	}
	if !remainder.Empty() {
		shares[pending.Consumer] = remainder
	}
	return shares, nil
}

func sortedConsumers(shares map[string]sdk.Coins) []string {
	out := make([]string, 0, len(shares))
	for k := range shares {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (MetaStaking) Query(ctx simnet.Ctx, bz []byte) ([]byte, error) {
	q, err := decode[msg.MetaStakingQuery](bz)
	if err != nil {
		return nil, err
	}
	switch {
	case q.Config != nil:
		cfg, err := metaConfigItem.Load(ctx.Store)
		if err != nil {
			return nil, err
		}
		return encode(msg.MetaStakingConfigResponse{
			LocalDenom:                   cfg.LocalDenom,
			ProviderDenom:                cfg.ProviderDenom,
			ConsumerProviderExchangeRate: cfg.Rate,
		})
	case q.Consumer != nil:
		budget, err := loadBudget(ctx.Store, q.Consumer.Address)
		if err != nil {
			return nil, err
		}
		return encode(msg.ConsumerInfoResponse{
			Address:        q.Consumer.Address,
			AvailableFunds: budget.AvailableFunds,
			TotalStaked:    budget.TotalStaked,
		})
	case q.Delegation != nil:
		amount, err := loadInt(ctx.Store, metaDelegations, q.Delegation.Consumer, q.Delegation.Validator)
		if err != nil {
			return nil, err
		}
		return encode(msg.DelegationResponse{Amount: amount})
	}
	return nil, errorsmod.Wrap(ErrInvalidMessage, "unknown meta-staking query")
}
