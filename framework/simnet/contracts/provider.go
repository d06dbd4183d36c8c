package contracts

import (
	"fmt"
	"sort"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"go.uber.org/zap"

	"github.com/osmosis-labs/mesh-harness/framework/ibc"
	"github.com/osmosis-labs/mesh-harness/framework/mesh/msg"
	"github.com/osmosis-labs/mesh-harness/framework/simnet"
)

const replyInstantiateSlasher = 1

// Provider turns vault claims into stake on the consumer chain and pays out
// the rewards the consumer sends back.
type Provider struct{}

var (
	_ simnet.IBCContract = Provider{}
	_ simnet.Replier     = Provider{}
)

type providerConfig struct {
	Consumer        msg.ConsumerInfo `json:"consumer"`
	Vault           string           `json:"vault"`
	Slasher         string           `json:"slasher"`
	UnbondingPeriod uint64           `json:"unbonding_period"`
	RewardsIBCDenom string           `json:"rewards_ibc_denom"`
}

type pendingKind string

const (
	pendingStake   pendingKind = "stake"
	pendingUnstake pendingKind = "unstake"
)

// pendingOp is a stake change waiting for the consumer's acknowledgement.
type pendingOp struct {
	Kind      pendingKind `json:"kind"`
	Owner     string      `json:"owner"`
	Validator string      `json:"validator"`
	Amount    sdkmath.Int `json:"amount"`
}

var (
	providerConfigItem simnet.Item[providerConfig]   = "config"
	providerGuard      simnet.Item[ibc.ChannelGuard] = "guard"
	providerValidators simnet.Item[[]string]         = "validators"
	providerNextKey    simnet.Item[uint64]           = "next_key"
	providerPending    simnet.Map[pendingOp]         = "pending"
	providerStakes     simnet.Map[sdkmath.Int]       = "stakes"
	providerRewards    simnet.Map[sdkmath.Int]       = "rewards"
)

func pendingKey(key uint64) string {
	return fmt.Sprintf("%020d", key)
}

func (Provider) Instantiate(ctx simnet.Ctx, _ simnet.MessageInfo, bz []byte) (*simnet.Response, error) {
	m, err := decode[msg.ProviderInstantiate](bz)
	if err != nil {
		return nil, err
	}
	if m.Consumer.ConnectionID == "" {
		return nil, errorsmod.Wrap(ErrInvalidMessage, "consumer connection id is required")
	}
	if err := ctx.Querier.ValidateAddress(m.Vault); err != nil {
		return nil, err
	}

	cfg := providerConfig{
		Consumer:        m.Consumer,
		Vault:           m.Vault,
		UnbondingPeriod: m.UnbondingPeriod,
		RewardsIBCDenom: m.RewardsIBCDenom,
	}
	if err := providerConfigItem.Save(ctx.Store, cfg); err != nil {
		return nil, err
	}
	guard := ibc.NewChannelGuard(ibc.Authorization{ConnectionID: m.Consumer.ConnectionID}, msg.IBCAppVersion)
	if err := providerGuard.Save(ctx.Store, guard); err != nil {
		return nil, err
	}
	if err := providerValidators.Save(ctx.Store, []string{}); err != nil {
		return nil, err
	}

	return simnet.NewResponse().AddSubMessage(replyInstantiateSlasher, simnet.WasmInstantiate{
		CodeID: m.Slasher.CodeID,
		Msg:    m.Slasher.Msg,
		Label:  msg.ContractSlasher,
		Admin:  ctx.Env.Contract,
	}, simnet.ReplySuccess), nil
}

func (Provider) Reply(ctx simnet.Ctx, r simnet.Reply) (*simnet.Response, error) {
	if r.ID != replyInstantiateSlasher {
		return nil, errorsmod.Wrapf(ErrUnknownReplyID, "%d", r.ID)
	}
	cfg, err := providerConfigItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	cfg.Slasher = string(r.Data)
	return simnet.NewResponse().AddAttribute("slasher", cfg.Slasher), providerConfigItem.Save(ctx.Store, cfg)
}

func (p Provider) Execute(ctx simnet.Ctx, info simnet.MessageInfo, bz []byte) (*simnet.Response, error) {
	m, err := decode[msg.ProviderExecute](bz)
	if err != nil {
		return nil, err
	}
	cfg, err := providerConfigItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}

	switch {
	case m.ReceiveClaim != nil:
		return p.receiveClaim(ctx, cfg, info.Sender, *m.ReceiveClaim)
	case m.Unstake != nil:
		return p.unstake(ctx, info.Sender, *m.Unstake)
	case m.ClaimRewards != nil:
		return p.claimRewards(ctx, cfg, info.Sender, m.ClaimRewards.Validator)
	}
	return nil, errorsmod.Wrap(ErrInvalidMessage, "unknown provider message")
}

func boundChannel(store simnet.KVStore, guard simnet.Item[ibc.ChannelGuard]) (ibc.Bound, error) {
	g, err := guard.Load(store)
	if err != nil {
		return ibc.Bound{}, err
	}
	b, ok := g.Bound()
	if !ok {
		return ibc.Bound{}, ErrNoChannel
	}
	return b, nil
}

func (p Provider) sendStakePacket(ctx simnet.Ctx, op pendingOp) (*simnet.Response, error) {
	channel, err := boundChannel(ctx.Store, providerGuard)
	if err != nil {
		return nil, err
	}
	key, _, err := providerNextKey.May(ctx.Store)
	if err != nil {
		return nil, err
	}
	if err := providerNextKey.Save(ctx.Store, key+1); err != nil {
		return nil, err
	}
	if err := providerPending.Save(ctx.Store, op, pendingKey(key)); err != nil {
		return nil, err
	}

	stake := &msg.StakePacket{
		Validators: []msg.ValidatorAmount{{Validator: op.Validator, Amount: op.Amount}},
		Key:        key,
	}
	var packet msg.ProviderPacket
	if op.Kind == pendingStake {
		packet.Stake = stake
	} else {
		packet.Unstake = stake
	}
	data, err := encode(packet)
	if err != nil {
		return nil, err
	}
	return simnet.NewResponse().
		AddMessage(simnet.SendPacket{ChannelID: channel.ChannelID, Data: data}).
		AddAttribute("action", string(op.Kind)).
		AddAttribute("key", fmt.Sprint(key)), nil
}

func (p Provider) receiveClaim(ctx simnet.Ctx, cfg providerConfig, sender string, m msg.ReceiveClaim) (*simnet.Response, error) {
	if sender != cfg.Vault {
		return nil, errorsmod.Wrapf(ErrUnauthorized, "claims are only accepted from the vault")
	}
	vals, err := providerValidators.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	if !containsString(vals, m.Validator) {
		return nil, errorsmod.Wrapf(ErrUnknownValidator, "%s", m.Validator)
	}
	return p.sendStakePacket(ctx, pendingOp{Kind: pendingStake, Owner: m.Owner, Validator: m.Validator, Amount: m.Amount})
}

func (p Provider) unstake(ctx simnet.Ctx, owner string, m msg.Unstake) (*simnet.Response, error) {
	if m.Amount.IsNil() || !m.Amount.IsPositive() {
		return nil, errorsmod.Wrap(ErrInvalidMessage, "amount must be positive")
	}
	staked, err := loadInt(ctx.Store, providerStakes, owner, m.Validator)
	if err != nil {
		return nil, err
	}
	if staked.LT(m.Amount) {
		return nil, errorsmod.Wrapf(ErrInsufficientTokens, "staked %s on %s, requested %s", staked, m.Validator, m.Amount)
	}
	if err := saveInt(ctx.Store, providerStakes, staked.Sub(m.Amount), owner, m.Validator); err != nil {
		return nil, err
	}
	return p.sendStakePacket(ctx, pendingOp{Kind: pendingUnstake, Owner: owner, Validator: m.Validator, Amount: m.Amount})
}

func (Provider) claimRewards(ctx simnet.Ctx, cfg providerConfig, owner, validator string) (*simnet.Response, error) {
	amount, err := loadInt(ctx.Store, providerRewards, owner, validator)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, errorsmod.Wrapf(ErrNoRewards, "on %s", validator)
	}
	providerRewards.Remove(ctx.Store, owner, validator)
	return simnet.NewResponse().
		AddMessage(simnet.BankSend{ToAddress: owner, Amount: sdk.NewCoins(sdk.NewCoin(cfg.RewardsIBCDenom, amount))}).
		AddAttribute("action", "claim_rewards"), nil
}

func (Provider) ChannelOpen(ctx simnet.Ctx, req ibc.OpenRequest) error {
	guard, err := providerGuard.Load(ctx.Store)
	if err != nil {
		return err
	}
	return guard.CheckOpen(req)
}

// ChannelConnect binds the channel and asks the consumer for its validator set.
func (Provider) ChannelConnect(ctx simnet.Ctx, req ibc.OpenRequest) (*simnet.Response, error) {
	guard, err := providerGuard.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	guard, err = guard.Connect(req)
	if err != nil {
		return nil, err
	}
	if err := providerGuard.Save(ctx.Store, guard); err != nil {
		return nil, err
	}
	data, err := encode(msg.ProviderPacket{ListValidators: &msg.Empty{}})
	if err != nil {
		return nil, err
	}
	return simnet.NewResponse().AddMessage(simnet.SendPacket{ChannelID: req.ChannelID, Data: data}), nil
}

func (p Provider) PacketReceive(ctx simnet.Ctx, packet ibc.Packet) ([]byte, *simnet.Response, error) {
	m, err := decode[msg.ConsumerPacket](packet.Data)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case m.UpdateValidators != nil:
		if err := p.updateValidators(ctx, *m.UpdateValidators); err != nil {
			return nil, nil, err
		}
		ack, err := ibc.NewResultAck(msg.UpdateValidatorsResponse{})
		return ack, simnet.NewResponse(), err
	case m.Rewards != nil:
		if err := p.distributeRewards(ctx, m.Rewards.Validator, m.Rewards.Total); err != nil {
			return nil, nil, err
		}
		ack, err := ibc.NewResultAck(msg.RewardsResponse{})
		return ack, simnet.NewResponse(), err
	}
	return nil, nil, errorsmod.Wrap(ErrInvalidMessage, "unknown consumer packet")
}

func (Provider) updateValidators(ctx simnet.Ctx, m msg.UpdateValidators) error {
	vals, err := providerValidators.Load(ctx.Store)
	if err != nil {
		return err
	}
	for _, v := range m.Added {
		if !containsString(vals, v) {
			vals = append(vals, v)
		}
	}
	kept := vals[:0]
	for _, v := range vals {
		if !containsString(m.Removed, v) {
			kept = append(kept, v)
		}
	}
	return providerValidators.Save(ctx.Store, kept)
}

// distributeRewards credits total to the stakers on validator pro rata. The
// rounding remainder goes to the first staker so the full amount is credited.
func (Provider) distributeRewards(ctx simnet.Ctx, validator string, total sdkmath.Int) error {
	stakes := make(map[string]sdkmath.Int)
	sum := sdkmath.ZeroInt()
	err := providerStakes.Range(ctx.Store, func(key string, amount sdkmath.Int) (bool, error) {
		owner, val, ok := splitPair(key)
		if ok && val == validator && amount.IsPositive() {
			stakes[owner] = amount
			sum = sum.Add(amount)
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	if sum.IsZero() {
		return errorsmod.Wrapf(ErrUnknownValidator, "no stake on %s", validator)
	}

	owners := make([]string, 0, len(stakes))
	for o := range stakes {
		owners = append(owners, o)
	}
	sort.Strings(owners)

	shares := make(map[string]sdkmath.Int, len(owners))
	distributed := sdkmath.ZeroInt()
	for _, o := range owners {
		share := total.Mul(stakes[o]).Quo(sum)
		shares[o] = share
		distributed = distributed.Add(share)
	}
	shares[owners[0]] = shares[owners[0]].Add(total.Sub(distributed))

	for _, o := range owners {
		current, err := loadInt(ctx.Store, providerRewards, o, validator)
		if err != nil {
			return err
		}
		if err := saveInt(ctx.Store, providerRewards, current.Add(shares[o]), o, validator); err != nil {
			return err
		}
	}
	ctx.Logger.Debug("rewards distributed", zap.String("validator", validator), zap.Stringer("total", total), zap.Int("stakers", len(owners)))
	return nil
}

func (Provider) PacketAck(ctx simnet.Ctx, packet ibc.Packet, bz []byte) (*simnet.Response, error) {
	sent, err := decode[msg.ProviderPacket](packet.Data)
	if err != nil {
		return nil, err
	}
	ack, err := ibc.DecodeAck(bz)
	if err != nil {
		return nil, err
	}

	switch {
	case sent.ListValidators != nil:
		if !ack.Success() {
			ctx.Logger.Warn("list_validators rejected", zap.String("error", ack.Error))
			return simnet.NewResponse(), nil
		}
		var res msg.ListValidatorsResponse
		if err := ack.Unmarshal(&res); err != nil {
			return nil, err
		}
		return simnet.NewResponse(), providerValidators.Save(ctx.Store, res.Validators)
	case sent.Stake != nil:
		return ackStake(ctx, sent.Stake.Key, ack)
	case sent.Unstake != nil:
		return ackUnstake(ctx, sent.Unstake.Key, ack)
	}
	return nil, errorsmod.Wrap(ErrInvalidMessage, "unknown provider packet")
}

func takePending(store simnet.KVStore, key uint64) (pendingOp, error) {
	op, ok, err := providerPending.May(store, pendingKey(key))
	if err != nil {
		return op, err
	}
	if !ok {
		return op, errorsmod.Wrapf(ErrUnknownPacket, "key %d", key)
	}
	providerPending.Remove(store, pendingKey(key))
	return op, nil
}

func releaseClaimMsg(cfg providerConfig, owner string, amount sdkmath.Int, releaseAt uint64) (simnet.Msg, error) {
	bz, err := encode(msg.VaultExecute{ReleaseClaim: &msg.ReleaseClaim{Owner: owner, Amount: amount, ReleaseAt: releaseAt}})
	if err != nil {
		return nil, err
	}
	return simnet.WasmExecute{Contract: cfg.Vault, Msg: bz}, nil
}

// ackStake records the stake on success. A rejected stake hands the claim
// straight back to the vault.
func ackStake(ctx simnet.Ctx, key uint64, ack ibc.Ack) (*simnet.Response, error) {
	op, err := takePending(ctx.Store, key)
	if err != nil {
		return nil, err
	}
	if ack.Success() {
		staked, err := loadInt(ctx.Store, providerStakes, op.Owner, op.Validator)
		if err != nil {
			return nil, err
		}
		return simnet.NewResponse().AddAttribute("stake", "committed"),
			saveInt(ctx.Store, providerStakes, staked.Add(op.Amount), op.Owner, op.Validator)
	}

	ctx.Logger.Info("stake rejected by consumer, releasing claim",
		zap.String("owner", op.Owner),
		zap.Stringer("amount", op.Amount),
		zap.String("error", ack.Error))
	cfg, err := providerConfigItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	release, err := releaseClaimMsg(cfg, op.Owner, op.Amount, 0)
	if err != nil {
		return nil, err
	}
	return simnet.NewResponse().AddMessage(release).AddAttribute("stake", "rolled_back"), nil
}

// ackUnstake releases the claim after the unbonding period on success and
// restores the stake on failure.
func ackUnstake(ctx simnet.Ctx, key uint64, ack ibc.Ack) (*simnet.Response, error) {
	op, err := takePending(ctx.Store, key)
	if err != nil {
		return nil, err
	}
	if !ack.Success() {
		staked, err := loadInt(ctx.Store, providerStakes, op.Owner, op.Validator)
		if err != nil {
			return nil, err
		}
		return simnet.NewResponse().AddAttribute("unstake", "rolled_back"),
			saveInt(ctx.Store, providerStakes, staked.Add(op.Amount), op.Owner, op.Validator)
	}

	cfg, err := providerConfigItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	release, err := releaseClaimMsg(cfg, op.Owner, op.Amount, blockSeconds(ctx)+cfg.UnbondingPeriod)
	if err != nil {
		return nil, err
	}
	return simnet.NewResponse().AddMessage(release).AddAttribute("unstake", "committed"), nil
}

func (Provider) Query(ctx simnet.Ctx, bz []byte) ([]byte, error) {
	q, err := decode[msg.ProviderQuery](bz)
	if err != nil {
		return nil, err
	}
	switch {
	case q.Config != nil:
		cfg, err := providerConfigItem.Load(ctx.Store)
		if err != nil {
			return nil, err
		}
		res := msg.ProviderConfigResponse{
			Consumer:        cfg.Consumer,
			Vault:           cfg.Vault,
			Slasher:         cfg.Slasher,
			UnbondingPeriod: cfg.UnbondingPeriod,
			RewardsIBCDenom: cfg.RewardsIBCDenom,
		}
		if b, err := boundChannel(ctx.Store, providerGuard); err == nil {
			res.Channel = b.ChannelID
		}
		return encode(res)
	case q.ListValidators != nil:
		vals, err := providerValidators.Load(ctx.Store)
		if err != nil {
			return nil, err
		}
		return encode(msg.ListValidatorsResponse{Validators: vals})
	case q.Account != nil:
		staked, err := listByOwner(ctx.Store, providerStakes, q.Account.Address)
		if err != nil {
			return nil, err
		}
		rewards, err := listByOwner(ctx.Store, providerRewards, q.Account.Address)
		if err != nil {
			return nil, err
		}
		return encode(msg.ProviderAccountResponse{Staked: staked, Rewards: rewards})
	}
	return nil, errorsmod.Wrap(ErrInvalidMessage, "unknown provider query")
}

func listByOwner(store simnet.KVStore, m simnet.Map[sdkmath.Int], owner string) ([]msg.ValidatorAmount, error) {
	out := []msg.ValidatorAmount{}
	err := m.Range(store, func(key string, amount sdkmath.Int) (bool, error) {
		_, val, _ := splitPair(key)
		if amount.IsPositive() {
			out = append(out, msg.ValidatorAmount{Validator: val, Amount: amount})
		}
		return true, nil
	}, owner)
	return out, err
}
