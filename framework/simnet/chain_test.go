package simnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	sdkerrors "github.com/cosmos/cosmos-sdk/types/errors"
	transfertypes "github.com/cosmos/ibc-go/v8/modules/apps/transfer/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/osmosis-labs/mesh-harness/framework/ibc"
	"github.com/osmosis-labs/mesh-harness/framework/types"
)

const (
	counterContract = "counter"
	pingVersion     = "ping-1"
)

// counter is a minimal IBC enabled contract used to exercise the ledger.
type counter struct{}

type counterMsg struct {
	Increment *struct{} `json:"increment,omitempty"`
	Fail      *struct{} `json:"fail,omitempty"`
	Ping      *string   `json:"ping,omitempty"`
	Forward   *string   `json:"forward,omitempty"`
}

type counterState struct {
	Count int `json:"count"`
	Acks  int `json:"acks"`
}

var counterItem Item[counterState] = "state"

func (counter) Instantiate(ctx Ctx, _ MessageInfo, _ []byte) (*Response, error) {
	return NewResponse(), counterItem.Save(ctx.Store, counterState{})
}

func (counter) Execute(ctx Ctx, info MessageInfo, bz []byte) (*Response, error) {
	var msg counterMsg
	if err := json.Unmarshal(bz, &msg); err != nil {
		return nil, err
	}
	st, err := counterItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	switch {
	case msg.Increment != nil:
		st.Count++
		return NewResponse().WithData([]byte(fmt.Sprint(st.Count))), counterItem.Save(ctx.Store, st)
	case msg.Fail != nil:
		st.Count += 100
		if err := counterItem.Save(ctx.Store, st); err != nil {
			return nil, err
		}
		return nil, errors.New("told to fail")
	case msg.Ping != nil:
		return NewResponse().AddMessage(SendPacket{ChannelID: *msg.Ping, Data: []byte(`"ping"`)}), nil
	case msg.Forward != nil:
		return NewResponse().AddMessage(BankSend{ToAddress: *msg.Forward, Amount: info.Funds}), nil
	}
	return nil, errors.New("unknown message")
}

func (counter) Query(ctx Ctx, _ []byte) ([]byte, error) {
	st, err := counterItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	return json.Marshal(st)
}

func (counter) ChannelOpen(_ Ctx, req ibc.OpenRequest) error {
	if req.Version != pingVersion {
		return ibc.ErrInvalidChannelVersion
	}
	return nil
}

func (counter) ChannelConnect(Ctx, ibc.OpenRequest) (*Response, error) {
	return NewResponse(), nil
}

func (counter) PacketReceive(ctx Ctx, packet ibc.Packet) ([]byte, *Response, error) {
	st, err := counterItem.Load(ctx.Store)
	if err != nil {
		return nil, nil, err
	}
	st.Count++
	if err := counterItem.Save(ctx.Store, st); err != nil {
		return nil, nil, err
	}
	if string(packet.Data) == `"boom"` {
		return nil, nil, errors.New("boom")
	}
	ack, err := ibc.NewResultAck("pong")
	return ack, NewResponse(), err
}

func (counter) PacketAck(ctx Ctx, _ ibc.Packet, _ []byte) (*Response, error) {
	st, err := counterItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	st.Acks++
	return NewResponse(), counterItem.Save(ctx.Store, st)
}

func testConfig(name, prefix, denom string) types.ChainConfig {
	return types.ChainConfig{
		Name:         name,
		ChainID:      name + "-1",
		Bech32Prefix: prefix,
		Denom:        denom,
		StakingDenom: denom,
	}
}

func newTestNetwork(t *testing.T) (*Chain, *Chain, *Relayer) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	n, err := NewNetwork(logger, []types.ChainConfig{
		testConfig("alpha", "alpha", "ualpha"),
		testConfig("beta", "beta", "ubeta"),
	}, WithRegistry(Registry{counterContract: counter{}}), WithUnbondingTime(time.Second))
	require.NoError(t, err)
	a, err := n.Chain("alpha")
	require.NoError(t, err)
	b, err := n.Chain("beta")
	require.NoError(t, err)
	return a, b, n.relayer
}

func deployCounter(t *testing.T, ctx context.Context, c *Chain) (string, types.ContractInfo) {
	t.Helper()
	faucet := c.GetFaucetWallet()
	codeID, err := c.Upload(ctx, faucet, Wasm(counterContract))
	require.NoError(t, err)
	addr, err := c.Instantiate(ctx, faucet, codeID, "counter", map[string]any{}, nil)
	require.NoError(t, err)
	info, err := c.GetContract(ctx, addr)
	require.NoError(t, err)
	return addr, info
}

func TestSendFunds(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newTestNetwork(t)

	w, err := a.CreateWallet(ctx, "user")
	require.NoError(t, err)
	_, err = a.CreateWallet(ctx, "user")
	require.Error(t, err)

	res, err := a.SendFunds(ctx, a.GetFaucetWallet(), w.GetFormattedAddress(), sdk.NewCoins(sdk.NewInt64Coin("ualpha", 1000)))
	require.NoError(t, err)
	require.Zero(t, res.Code)

	bal, err := a.GetBalance(ctx, w.GetFormattedAddress(), "ualpha")
	require.NoError(t, err)
	require.Equal(t, int64(1000), bal.Amount.Int64())

	res, err = a.SendFunds(ctx, w, a.GetFaucetWallet().GetFormattedAddress(), sdk.NewCoins(sdk.NewInt64Coin("ualpha", 1001)))
	require.ErrorIs(t, err, sdkerrors.ErrInsufficientFunds)
	require.NotZero(t, res.Code)

	bal, err = a.GetBalance(ctx, w.GetFormattedAddress(), "ualpha")
	require.NoError(t, err)
	require.Equal(t, int64(1000), bal.Amount.Int64())
}

func TestFaucetFunds(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	shared, err := NewChain(testConfig("delta", "delta", "udelta"), logger)
	require.NoError(t, err)
	bal, err := shared.GetBalance(ctx, shared.GetFaucetWallet().GetFormattedAddress(), "udelta")
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000_000_000), bal.Amount.Int64())

	cfg := testConfig("eps", "eps", "ueps")
	cfg.StakingDenom = "stake"
	split, err := NewChain(cfg, logger)
	require.NoError(t, err)
	for _, denom := range []string{"ueps", "stake"} {
		bal, err := split.GetBalance(ctx, split.GetFaucetWallet().GetFormattedAddress(), denom)
		require.NoError(t, err)
		require.Equal(t, int64(1_000_000_000_000), bal.Amount.Int64(), denom)
	}
}

func TestHeightAdvancesPerTx(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newTestNetwork(t)

	before, err := a.Height(ctx)
	require.NoError(t, err)
	_, err = a.SendFunds(ctx, a.GetFaucetWallet(), a.GetFaucetWallet().GetFormattedAddress(), sdk.NewCoins(sdk.NewInt64Coin("ualpha", 1)))
	require.NoError(t, err)
	after, err := a.Height(ctx)
	require.NoError(t, err)
	require.Equal(t, before+1, after)
}

func TestContractExecuteRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newTestNetwork(t)
	addr, info := deployCounter(t, ctx, a)
	require.Equal(t, "wasm."+addr, info.IBCPortID)
	require.Equal(t, uint64(1), info.CodeID)

	_, err := a.Execute(ctx, a.GetFaucetWallet(), addr, counterMsg{Increment: &struct{}{}}, nil)
	require.NoError(t, err)
	_, err = a.Execute(ctx, a.GetFaucetWallet(), addr, counterMsg{Fail: &struct{}{}}, nil)
	require.ErrorContains(t, err, "told to fail")

	var st counterState
	require.NoError(t, a.QueryContractSmart(ctx, addr, map[string]any{}, &st))
	require.Equal(t, 1, st.Count)
}

func TestContractForwardsFunds(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newTestNetwork(t)
	addr, _ := deployCounter(t, ctx, a)

	w, err := a.CreateWallet(ctx, "receiver")
	require.NoError(t, err)
	target := w.GetFormattedAddress()
	funds := sdk.NewCoins(sdk.NewInt64Coin("ualpha", 42))
	_, err = a.Execute(ctx, a.GetFaucetWallet(), addr, counterMsg{Forward: &target}, funds)
	require.NoError(t, err)

	bal, err := a.GetBalance(ctx, target, "ualpha")
	require.NoError(t, err)
	require.Equal(t, int64(42), bal.Amount.Int64())
	bal, err = a.GetBalance(ctx, addr, "ualpha")
	require.NoError(t, err)
	require.True(t, bal.IsZero())
}

func TestUploadRejectsUnknownArtifact(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newTestNetwork(t)
	_, err := a.Upload(ctx, a.GetFaucetWallet(), []byte("\x00asm garbage"))
	require.Error(t, err)
	_, err = a.Upload(ctx, a.GetFaucetWallet(), Wasm("missing"))
	require.Error(t, err)
}

func TestContractChannelAndRelay(t *testing.T) {
	ctx := context.Background()
	a, b, relayer := newTestNetwork(t)
	addrA, infoA := deployCounter(t, ctx, a)
	addrB, infoB := deployCounter(t, ctx, b)

	link, err := relayer.CreateLink(ctx, a, b)
	require.NoError(t, err)
	require.NotEmpty(t, link.EndA().ConnectionID())
	require.NotEmpty(t, link.EndB().ConnectionID())

	_, err = link.CreateChannel(ctx, ibc.SideA, ibc.CreateChannelOptions{
		SourcePortName: infoA.IBCPortID,
		DestPortName:   infoB.IBCPortID,
		Order:          ibc.OrderUnordered,
		Version:        "wrong",
	})
	require.ErrorIs(t, err, ibc.ErrInvalidChannelVersion)

	ch, err := link.CreateChannel(ctx, ibc.SideA, ibc.CreateChannelOptions{
		SourcePortName: infoA.IBCPortID,
		DestPortName:   infoB.IBCPortID,
		Order:          ibc.OrderUnordered,
		Version:        pingVersion,
	})
	require.NoError(t, err)
	require.Equal(t, infoA.IBCPortID, ch.PortID)
	require.Equal(t, infoB.IBCPortID, ch.CounterpartyPort)

	chanID := ch.ChannelID
	_, err = a.Execute(ctx, a.GetFaucetWallet(), addrA, counterMsg{Ping: &chanID}, nil)
	require.NoError(t, err)

	info, err := link.RelayAll(ctx)
	require.NoError(t, err)
	require.NoError(t, ibc.AssertPacketsFromA(info, 1, true))
	require.NoError(t, ibc.AssertPacketsFromB(info, 0, true))

	var res string
	ack, err := ibc.DecodeAck(info.AcksFromB[0].Acknowledgement)
	require.NoError(t, err)
	require.NoError(t, ack.Unmarshal(&res))
	require.Equal(t, "pong", res)

	var stA, stB counterState
	require.NoError(t, a.QueryContractSmart(ctx, addrA, map[string]any{}, &stA))
	require.NoError(t, b.QueryContractSmart(ctx, addrB, map[string]any{}, &stB))
	require.Equal(t, 1, stA.Acks)
	require.Equal(t, 1, stB.Count)

	info, err = link.RelayAll(ctx)
	require.NoError(t, err)
	require.True(t, info.Empty())
}

func TestPacketReceiveErrorWritesErrorAck(t *testing.T) {
	ctx := context.Background()
	a, b, relayer := newTestNetwork(t)
	_, infoA := deployCounter(t, ctx, a)
	addrB, infoB := deployCounter(t, ctx, b)

	link, err := relayer.CreateLink(ctx, a, b)
	require.NoError(t, err)
	ch, err := link.CreateChannel(ctx, ibc.SideA, ibc.CreateChannelOptions{
		SourcePortName: infoA.IBCPortID,
		DestPortName:   infoB.IBCPortID,
		Version:        pingVersion,
	})
	require.NoError(t, err)

	_, err = a.deliverTx(ctx, func(tx *txContext) error {
		_, err := tx.sendPacket(ch.PortID, ch.ChannelID, []byte(`"boom"`))
		return err
	})
	require.NoError(t, err)

	info, err := link.RelayAll(ctx)
	require.NoError(t, err)
	require.NoError(t, ibc.AssertPacketsFromA(info, 1, false))

	var st counterState
	require.NoError(t, b.QueryContractSmart(ctx, addrB, map[string]any{}, &st))
	require.Zero(t, st.Count, "state written before the failure must be discarded")
}

func TestTransferRoundTrip(t *testing.T) {
	ctx := context.Background()
	a, b, relayer := newTestNetwork(t)

	link, err := relayer.CreateLink(ctx, a, b)
	require.NoError(t, err)
	ch, err := link.CreateChannel(ctx, ibc.SideA, ibc.CreateChannelOptions{
		SourcePortName: "transfer",
		DestPortName:   "transfer",
		Order:          ibc.OrderUnordered,
		Version:        transfertypes.Version,
	})
	require.NoError(t, err)

	receiver, err := b.CreateWallet(ctx, "receiver")
	require.NoError(t, err)
	sender := a.GetFaucetWallet()
	senderBefore, err := a.GetBalance(ctx, sender.GetFormattedAddress(), "ualpha")
	require.NoError(t, err)

	_, err = a.Transfer(ctx, sender, ch.ChannelID, receiver.GetFormattedAddress(), sdk.NewInt64Coin("ualpha", 5000))
	require.NoError(t, err)
	info, err := link.RelayAll(ctx)
	require.NoError(t, err)
	require.NoError(t, ibc.AssertPacketsFromA(info, 1, true))

	voucher := transfertypes.ParseDenomTrace(transfertypes.GetPrefixedDenom("transfer", ch.CounterpartyID, "ualpha")).IBCDenom()
	bal, err := b.GetBalance(ctx, receiver.GetFormattedAddress(), voucher)
	require.NoError(t, err)
	require.Equal(t, int64(5000), bal.Amount.Int64())

	escrow, err := a.GetBalance(ctx, a.formatAddress(transfertypes.GetEscrowAddress("transfer", ch.ChannelID)), "ualpha")
	require.NoError(t, err)
	require.Equal(t, int64(5000), escrow.Amount.Int64())

	_, err = b.Transfer(ctx, receiver, ch.CounterpartyID, sender.GetFormattedAddress(), sdk.NewInt64Coin(voucher, 5000))
	require.NoError(t, err)
	info, err = link.RelayAll(ctx)
	require.NoError(t, err)
	require.NoError(t, ibc.AssertPacketsFromB(info, 1, true))

	bal, err = b.GetBalance(ctx, receiver.GetFormattedAddress(), voucher)
	require.NoError(t, err)
	require.True(t, bal.IsZero())
	senderAfter, err := a.GetBalance(ctx, sender.GetFormattedAddress(), "ualpha")
	require.NoError(t, err)
	require.Equal(t, senderBefore.Amount, senderAfter.Amount)
}

func TestTransferToInvalidReceiverRefunds(t *testing.T) {
	ctx := context.Background()
	a, b, relayer := newTestNetwork(t)

	link, err := relayer.CreateLink(ctx, a, b)
	require.NoError(t, err)
	ch, err := link.CreateChannel(ctx, ibc.SideA, ibc.CreateChannelOptions{
		SourcePortName: "transfer",
		DestPortName:   "transfer",
		Version:        transfertypes.Version,
	})
	require.NoError(t, err)

	sender := a.GetFaucetWallet()
	before, err := a.GetBalance(ctx, sender.GetFormattedAddress(), "ualpha")
	require.NoError(t, err)

	// an alpha address is not valid on beta
	_, err = a.Transfer(ctx, sender, ch.ChannelID, sender.GetFormattedAddress(), sdk.NewInt64Coin("ualpha", 10))
	require.NoError(t, err)
	info, err := link.RelayAll(ctx)
	require.NoError(t, err)
	require.NoError(t, ibc.AssertPacketsFromA(info, 1, false))

	after, err := a.GetBalance(ctx, sender.GetFormattedAddress(), "ualpha")
	require.NoError(t, err)
	require.Equal(t, before.Amount, after.Amount)
}

func TestStakingAndRewards(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	logger := zaptest.NewLogger(t)
	c, err := NewChain(testConfig("gamma", "gamma", "ugamma"), logger,
		WithClock(func() time.Time { return now }),
		WithUnbondingTime(10*time.Second))
	require.NoError(t, err)

	vals, err := c.Validators(ctx)
	require.NoError(t, err)
	require.Len(t, vals, defaultNumValidators)

	alice, err := c.CreateWallet(ctx, "alice")
	require.NoError(t, err)
	bob, err := c.CreateWallet(ctx, "bob")
	require.NoError(t, err)
	for _, w := range []*types.Wallet{alice, bob} {
		_, err := c.SendFunds(ctx, c.GetFaucetWallet(), w.GetFormattedAddress(), sdk.NewCoins(sdk.NewInt64Coin("ugamma", 1000)))
		require.NoError(t, err)
	}

	_, err = c.deliverTx(ctx, func(tx *txContext) error {
		if err := tx.delegate(alice.GetFormattedAddress(), vals[0], sdk.NewInt64Coin("ugamma", 300)); err != nil {
			return err
		}
		return tx.delegate(bob.GetFormattedAddress(), vals[0], sdk.NewInt64Coin("ugamma", 100))
	})
	require.NoError(t, err)

	d, err := c.Delegation(ctx, alice.GetFormattedAddress(), vals[0])
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(300), d)

	require.NoError(t, c.AllocateRewards(ctx, vals[0], sdk.NewCoins(sdk.NewInt64Coin("ugamma", 101))))

	var withdrawn sdk.Coins
	_, err = c.deliverTx(ctx, func(tx *txContext) error {
		coins, err := tx.withdrawRewards(alice.GetFormattedAddress(), vals[0])
		withdrawn = coins
		return err
	})
	require.NoError(t, err)
	require.Equal(t, sdk.NewCoins(sdk.NewInt64Coin("ugamma", 75)), withdrawn)

	_, err = c.deliverTx(ctx, func(tx *txContext) error {
		return tx.undelegate(alice.GetFormattedAddress(), vals[0], sdk.NewInt64Coin("ugamma", 300))
	})
	require.NoError(t, err)

	bal, err := c.GetBalance(ctx, alice.GetFormattedAddress(), "ugamma")
	require.NoError(t, err)
	require.Equal(t, int64(775), bal.Amount.Int64())

	now = now.Add(11 * time.Second)
	_, err = c.SendFunds(ctx, c.GetFaucetWallet(), c.GetFaucetWallet().GetFormattedAddress(), sdk.NewCoins(sdk.NewInt64Coin("ugamma", 1)))
	require.NoError(t, err)

	bal, err = c.GetBalance(ctx, alice.GetFormattedAddress(), "ugamma")
	require.NoError(t, err)
	require.Equal(t, int64(1075), bal.Amount.Int64())
}
