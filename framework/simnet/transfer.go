package simnet

import (
	"fmt"
	"strings"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	transfertypes "github.com/cosmos/ibc-go/v8/modules/apps/transfer/types"
	channeltypes "github.com/cosmos/ibc-go/v8/modules/core/04-channel/types"
	"go.uber.org/zap"

	"github.com/osmosis-labs/mesh-harness/framework/ibc"
)

type denomTrace struct {
	Path      string `json:"path"`
	BaseDenom string `json:"base_denom"`
}

var denomTraces Map[denomTrace] = "transfer/denom_trace"

// transferModule is the ICS20 fungible token transfer application.
type transferModule struct{}

func (transferModule) onOpen(_ *txContext, req ibc.OpenRequest) error {
	if req.Order != ibc.OrderUnordered {
		return fmt.Errorf("invalid channel ordering: expected %s, got %s", ibc.OrderUnordered, req.Order)
	}
	if req.Version != transfertypes.Version {
		return fmt.Errorf("invalid ICS20 version: expected %s, got %s", transfertypes.Version, req.Version)
	}
	if req.CounterpartyVersion != "" && req.CounterpartyVersion != transfertypes.Version {
		return fmt.Errorf("invalid ICS20 counterparty version: expected %s, got %s", transfertypes.Version, req.CounterpartyVersion)
	}
	return nil
}

func (transferModule) onConnect(*txContext, ibc.OpenRequest) error {
	return nil
}

func (tx *txContext) escrowAddress(portID, channelID string) string {
	return tx.chain.formatAddress(transfertypes.GetEscrowAddress(portID, channelID))
}

// fullDenomPath resolves an ibc/ voucher denom back to its trace path.
func (tx *txContext) fullDenomPath(denom string) (string, error) {
	if !strings.HasPrefix(denom, transfertypes.DenomPrefix+"/") {
		return denom, nil
	}
	hash := strings.TrimPrefix(denom, transfertypes.DenomPrefix+"/")
	trace, err := denomTraces.Load(tx.store, hash)
	if err != nil {
		return "", fmt.Errorf("denomination trace %s: %w", hash, err)
	}
	return transfertypes.DenomTrace{Path: trace.Path, BaseDenom: trace.BaseDenom}.GetFullDenomPath(), nil
}

// sendTransfer escrows native tokens or burns vouchers and sends the ICS20 packet.
func (tx *txContext) sendTransfer(sender, channelID, receiver string, amount sdk.Coin) error {
	portID := tx.chain.cfg.ICS20Port
	if !amount.IsValid() || !amount.Amount.IsPositive() {
		return fmt.Errorf("invalid transfer amount %s", amount)
	}
	fullPath, err := tx.fullDenomPath(amount.Denom)
	if err != nil {
		return err
	}

	if transfertypes.SenderChainIsSource(portID, channelID, fullPath) {
		if err := tx.send(sender, tx.escrowAddress(portID, channelID), sdk.NewCoins(amount)); err != nil {
			return err
		}
	} else if err := tx.burn(sender, sdk.NewCoins(amount)); err != nil {
		return err
	}

	data := transfertypes.NewFungibleTokenPacketData(fullPath, amount.Amount.String(), sender, receiver, "")
	if err := data.ValidateBasic(); err != nil {
		return fmt.Errorf("transfer packet: %w", err)
	}
	_, err = tx.sendPacket(portID, channelID, data.GetBytes())
	return err
}

func (transferModule) onRecv(tx *txContext, packet ibc.Packet) ([]byte, error) {
	child := tx.branch()
	if err := child.receiveTransfer(packet); err != nil {
		tx.logger().Info("ics20 receive failed", zap.Uint64("sequence", packet.Sequence), zap.Error(err))
		return channeltypes.NewErrorAcknowledgement(err).Acknowledgement(), nil
	}
	child.commit()
	return channeltypes.NewResultAcknowledgement([]byte{byte(1)}).Acknowledgement(), nil
}

func decodeTransferData(bz []byte) (transfertypes.FungibleTokenPacketData, sdkmath.Int, error) {
	var data transfertypes.FungibleTokenPacketData
	if err := transfertypes.ModuleCdc.UnmarshalJSON(bz, &data); err != nil {
		return data, sdkmath.Int{}, fmt.Errorf("cannot unmarshal ICS-20 transfer packet data: %w", err)
	}
	if err := data.ValidateBasic(); err != nil {
		return data, sdkmath.Int{}, err
	}
	amount, ok := sdkmath.NewIntFromString(data.Amount)
	if !ok {
		return data, sdkmath.Int{}, fmt.Errorf("unable to parse transfer amount %s", data.Amount)
	}
	return data, amount, nil
}

func (tx *txContext) receiveTransfer(packet ibc.Packet) error {
	data, amount, err := decodeTransferData(packet.Data)
	if err != nil {
		return err
	}
	if err := tx.ValidateAddress(data.Receiver); err != nil {
		return err
	}

	if transfertypes.ReceiverChainIsSource(packet.SourcePort, packet.SourceChannel, data.Denom) {
		unprefixed := strings.TrimPrefix(data.Denom, transfertypes.GetDenomPrefix(packet.SourcePort, packet.SourceChannel))
		denom := transfertypes.ParseDenomTrace(unprefixed).IBCDenom()
		coins := sdk.NewCoins(sdk.NewCoin(denom, amount))
		return tx.send(tx.escrowAddress(packet.DestinationPort, packet.DestinationChannel), data.Receiver, coins)
	}

	prefixed := transfertypes.GetPrefixedDenom(packet.DestinationPort, packet.DestinationChannel, data.Denom)
	trace := transfertypes.ParseDenomTrace(prefixed)
	if err := denomTraces.Save(tx.store, denomTrace{Path: trace.Path, BaseDenom: trace.BaseDenom}, trace.Hash().String()); err != nil {
		return err
	}
	return tx.mint(data.Receiver, sdk.NewCoins(sdk.NewCoin(trace.IBCDenom(), amount)))
}

// onAck refunds the sender when the counterparty rejected the transfer.
func (transferModule) onAck(tx *txContext, packet ibc.Packet, bz []byte) error {
	ack, err := ibc.DecodeAck(bz)
	if err != nil {
		return err
	}
	if ack.Success() {
		return nil
	}

	data, amount, err := decodeTransferData(packet.Data)
	if err != nil {
		return err
	}
	coins := sdk.NewCoins(sdk.NewCoin(transfertypes.ParseDenomTrace(data.Denom).IBCDenom(), amount))
	tx.logger().Info("refunding rejected transfer",
		zap.String("sender", data.Sender),
		zap.Stringer("amount", coins),
		zap.String("error", ack.Error))
	if transfertypes.SenderChainIsSource(packet.SourcePort, packet.SourceChannel, data.Denom) {
		return tx.send(tx.escrowAddress(packet.SourcePort, packet.SourceChannel), data.Sender, coins)
	}
	return tx.mint(data.Sender, coins)
}
