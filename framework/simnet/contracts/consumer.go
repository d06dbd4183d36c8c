package contracts

import (
	"strings"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"go.uber.org/zap"

	"github.com/osmosis-labs/mesh-harness/framework/ibc"
	"github.com/osmosis-labs/mesh-harness/framework/mesh/msg"
	"github.com/osmosis-labs/mesh-harness/framework/simnet"
)

// contractPortPrefix is the prefix of IBC ports owned by contracts.
const contractPortPrefix = "wasm."

// Consumer executes the provider's stake changes through meta-staking and
// forwards the rewards it is given back to the provider.
type Consumer struct{}

var _ simnet.IBCContract = Consumer{}

type consumerConfig struct {
	Provider     msg.ProviderInfo  `json:"provider"`
	MetaStaking  string            `json:"meta_staking"`
	Rate         sdkmath.LegacyDec `json:"rate"`
	ICS20Channel string            `json:"ics20_channel"`
}

var (
	consumerConfigItem simnet.Item[consumerConfig]   = "config"
	consumerGuard      simnet.Item[ibc.ChannelGuard] = "guard"
)

func (Consumer) Instantiate(ctx simnet.Ctx, _ simnet.MessageInfo, bz []byte) (*simnet.Response, error) {
	m, err := decode[msg.ConsumerInstantiate](bz)
	if err != nil {
		return nil, err
	}
	if m.Provider.PortID == "" || m.Provider.ConnectionID == "" {
		return nil, errorsmod.Wrap(ErrInvalidMessage, "provider port and connection are required")
	}
	if m.RemoteToLocalExchangeRate.IsNil() || !m.RemoteToLocalExchangeRate.IsPositive() {
		return nil, errorsmod.Wrap(ErrInvalidMessage, "exchange rate must be positive")
	}
	if err := ctx.Querier.ValidateAddress(m.MetaStakingContractAddress); err != nil {
		return nil, err
	}

	cfg := consumerConfig{
		Provider:     m.Provider,
		MetaStaking:  m.MetaStakingContractAddress,
		Rate:         m.RemoteToLocalExchangeRate,
		ICS20Channel: m.ICS20Channel,
	}
	if err := consumerConfigItem.Save(ctx.Store, cfg); err != nil {
		return nil, err
	}
	guard := ibc.NewChannelGuard(ibc.Authorization{
		PortID:       m.Provider.PortID,
		ConnectionID: m.Provider.ConnectionID,
	}, msg.IBCAppVersion)
	return simnet.NewResponse(), consumerGuard.Save(ctx.Store, guard)
}

func (Consumer) Execute(ctx simnet.Ctx, info simnet.MessageInfo, bz []byte) (*simnet.Response, error) {
	m, err := decode[msg.ConsumerExecute](bz)
	if err != nil {
		return nil, err
	}
	if m.MeshConsumerReceiveRewards == nil {
		return nil, errorsmod.Wrap(ErrInvalidMessage, "unknown consumer message")
	}
	cfg, err := consumerConfigItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	if info.Sender != cfg.MetaStaking {
		return nil, errorsmod.Wrap(ErrUnauthorized, "rewards are only accepted from meta-staking")
	}
	return receiveRewards(ctx, cfg, m.MeshConsumerReceiveRewards.Validator, info.Funds)
}

// receiveRewards sends the rewards to the provider contract over ICS20 and
// tells the provider how to distribute them.
func receiveRewards(ctx simnet.Ctx, cfg consumerConfig, validator string, funds sdk.Coins) (*simnet.Response, error) {
	reward, err := singleCoin(funds, ctx.Querier.StakingDenom())
	if err != nil {
		return nil, err
	}
	channel, err := boundChannel(ctx.Store, consumerGuard)
	if err != nil {
		return nil, err
	}
	provider := strings.TrimPrefix(channel.PortID, contractPortPrefix)

	data, err := encode(msg.ConsumerPacket{Rewards: &msg.RewardsPacket{Validator: validator, Total: reward.Amount}})
	if err != nil {
		return nil, err
	}
	ctx.Logger.Debug("forwarding rewards",
		zap.String("provider", provider),
		zap.String("validator", validator),
		zap.Stringer("amount", reward))
	return simnet.NewResponse().
		AddMessage(simnet.Transfer{ChannelID: cfg.ICS20Channel, ToAddress: provider, Amount: reward}).
		AddMessage(simnet.SendPacket{ChannelID: channel.ChannelID, Data: data}).
		AddAttribute("action", "receive_rewards"), nil
}

func (Consumer) ChannelOpen(ctx simnet.Ctx, req ibc.OpenRequest) error {
	guard, err := consumerGuard.Load(ctx.Store)
	if err != nil {
		return err
	}
	return guard.CheckOpen(req)
}

func (Consumer) ChannelConnect(ctx simnet.Ctx, req ibc.OpenRequest) (*simnet.Response, error) {
	guard, err := consumerGuard.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	guard, err = guard.Connect(req)
	if err != nil {
		return nil, err
	}
	return simnet.NewResponse().AddAttribute("channel", req.ChannelID), consumerGuard.Save(ctx.Store, guard)
}

func (c Consumer) PacketReceive(ctx simnet.Ctx, packet ibc.Packet) ([]byte, *simnet.Response, error) {
	m, err := decode[msg.ProviderPacket](packet.Data)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := consumerConfigItem.Load(ctx.Store)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case m.ListValidators != nil:
		vals, err := ctx.Querier.Validators()
		if err != nil {
			return nil, nil, err
		}
		ack, err := ibc.NewResultAck(msg.ListValidatorsResponse{Validators: vals})
		return ack, simnet.NewResponse(), err
	case m.Stake != nil:
		resp, err := c.metaStake(ctx, cfg, m.Stake.Validators, true)
		if err != nil {
			return nil, nil, err
		}
		ack, err := ibc.NewResultAck(msg.StakeResponse{})
		return ack, resp, err
	case m.Unstake != nil:
		resp, err := c.metaStake(ctx, cfg, m.Unstake.Validators, false)
		if err != nil {
			return nil, nil, err
		}
		ack, err := ibc.NewResultAck(msg.UnstakeResponse{})
		return ack, resp, err
	}
	return nil, nil, errorsmod.Wrap(ErrInvalidMessage, "unknown provider packet")
}

// metaStake converts provider amounts with the exchange rate and delegates
// or undelegates them through meta-staking.
func (Consumer) metaStake(ctx simnet.Ctx, cfg consumerConfig, vals []msg.ValidatorAmount, delegate bool) (*simnet.Response, error) {
	resp := simnet.NewResponse()
	denom := ctx.Querier.StakingDenom()
	for _, va := range vals {
		local := cfg.Rate.MulInt(va.Amount).TruncateInt()
		if !local.IsPositive() {
			continue
		}
		d := &msg.Delegation{Validator: va.Validator, Amount: sdk.NewCoin(denom, local)}
		var exec msg.MetaStakingExecute
		if delegate {
			exec.Delegate = d
		} else {
			exec.Undelegate = d
		}
		bz, err := encode(exec)
		if err != nil {
			return nil, err
		}
		resp.AddMessage(simnet.WasmExecute{Contract: cfg.MetaStaking, Msg: bz})
	}
	return resp, nil
}

func (Consumer) PacketAck(ctx simnet.Ctx, _ ibc.Packet, bz []byte) (*simnet.Response, error) {
	ack, err := ibc.DecodeAck(bz)
	if err != nil {
		return nil, err
	}
	if !ack.Success() {
		ctx.Logger.Warn("packet rejected by provider", zap.String("error", ack.Error))
	}
	return simnet.NewResponse(), nil
}

func (Consumer) Query(ctx simnet.Ctx, bz []byte) ([]byte, error) {
	q, err := decode[msg.ConsumerQuery](bz)
	if err != nil {
		return nil, err
	}
	if q.Config == nil {
		return nil, errorsmod.Wrap(ErrInvalidMessage, "unknown consumer query")
	}
	cfg, err := consumerConfigItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	res := msg.ConsumerConfigResponse{
		Provider:                  cfg.Provider,
		MetaStaking:               cfg.MetaStaking,
		RemoteToLocalExchangeRate: cfg.Rate,
		ICS20Channel:              cfg.ICS20Channel,
	}
	if b, err := boundChannel(ctx.Store, consumerGuard); err == nil {
		res.Channel = b.ChannelID
	}
	return encode(res)
}
