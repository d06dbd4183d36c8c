package simnet

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/osmosis-labs/mesh-harness/framework/ibc"
	"github.com/osmosis-labs/mesh-harness/framework/types"
)

var (
	_ ibc.Relayer = &Relayer{}
	_ ibc.Link    = &Link{}
)

// Relayer connects simnet chains in process.
type Relayer struct {
	logger *zap.Logger
}

// NewRelayer returns a relayer for chains created by NewChain.
func NewRelayer(logger *zap.Logger) *Relayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relayer{logger: logger}
}

// CreateLink creates fresh clients and an open connection between a and b.
func (r *Relayer) CreateLink(ctx context.Context, a, b types.Chain) (ibc.Link, error) {
	chainA, ok := a.(*Chain)
	if !ok {
		return nil, fmt.Errorf("chain %s is not a simnet chain", a.GetChainID())
	}
	chainB, ok := b.(*Chain)
	if !ok {
		return nil, fmt.Errorf("chain %s is not a simnet chain", b.GetChainID())
	}

	var connA, connB connectionEnd
	if _, err := chainA.deliverTx(ctx, func(tx *txContext) error {
		c, err := tx.connOpenInit(chainB.GetChainID())
		connA = c
		return err
	}); err != nil {
		return nil, fmt.Errorf("connection open init: %w", err)
	}
	if _, err := chainB.deliverTx(ctx, func(tx *txContext) error {
		c, err := tx.connOpenTry(chainA.GetChainID(), connA)
		connB = c
		return err
	}); err != nil {
		return nil, fmt.Errorf("connection open try: %w", err)
	}
	if _, err := chainA.deliverTx(ctx, func(tx *txContext) error {
		c, err := tx.connOpenAck(connA.ConnectionID, connB)
		connA = c
		return err
	}); err != nil {
		return nil, fmt.Errorf("connection open ack: %w", err)
	}

	link := &Link{
		a:      chainA,
		b:      chainB,
		connA:  connA,
		connB:  connB,
		logger: r.logger.With(zap.String("chain_a", chainA.GetChainID()), zap.String("chain_b", chainB.GetChainID())),
	}
	link.logger.Info("link created",
		zap.String("connection_a", connA.ConnectionID),
		zap.String("connection_b", connB.ConnectionID))
	return link, nil
}

// Link is an open connection between two simnet chains.
type Link struct {
	a, b         *Chain
	connA, connB connectionEnd
	logger       *zap.Logger
}

// EndA returns the endpoint on chain A.
func (l *Link) EndA() ibc.Endpoint {
	return ibc.Endpoint{Chain: l.a.Config(), Connection: l.connA.toIBC()}
}

// EndB returns the endpoint on chain B.
func (l *Link) EndB() ibc.Endpoint {
	return ibc.Endpoint{Chain: l.b.Config(), Connection: l.connB.toIBC()}
}

func (l *Link) side(s ibc.Side) (*Chain, connectionEnd) {
	if s == ibc.SideA {
		return l.a, l.connA
	}
	return l.b, l.connB
}

// CreateChannel runs the four step channel handshake starting on side.
func (l *Link) CreateChannel(ctx context.Context, side ibc.Side, opts ibc.CreateChannelOptions) (*ibc.Channel, error) {
	src, srcConn := l.side(side)
	dst, dstConn := l.side(side.Other())
	order := opts.Order
	if order == "" {
		order = ibc.OrderUnordered
	}

	var srcEnd, dstEnd channelEnd
	if _, err := src.deliverTx(ctx, func(tx *txContext) error {
		ch, err := tx.chanOpenInit(opts.SourcePortName, srcConn.ConnectionID, opts.DestPortName, order, opts.Version)
		srcEnd = ch
		return err
	}); err != nil {
		return nil, fmt.Errorf("channel open init on %s: %w", src.GetChainID(), err)
	}
	if _, err := dst.deliverTx(ctx, func(tx *txContext) error {
		ch, err := tx.chanOpenTry(opts.DestPortName, dstConn.ConnectionID, srcEnd)
		dstEnd = ch
		return err
	}); err != nil {
		return nil, fmt.Errorf("channel open try on %s: %w", dst.GetChainID(), err)
	}
	if _, err := src.deliverTx(ctx, func(tx *txContext) error {
		ch, err := tx.chanOpenAck(srcEnd.PortID, srcEnd.ChannelID, dstEnd)
		srcEnd = ch
		return err
	}); err != nil {
		return nil, fmt.Errorf("channel open ack on %s: %w", src.GetChainID(), err)
	}
	if _, err := dst.deliverTx(ctx, func(tx *txContext) error {
		ch, err := tx.chanOpenConfirm(dstEnd.PortID, dstEnd.ChannelID, srcEnd)
		dstEnd = ch
		return err
	}); err != nil {
		return nil, fmt.Errorf("channel open confirm on %s: %w", dst.GetChainID(), err)
	}

	srcEnd.State = stateOpen
	channel := srcEnd.toIBC()
	l.logger.Info("channel created",
		zap.String("side", string(side)),
		zap.String("port", channel.PortID),
		zap.String("channel", channel.ChannelID),
		zap.String("counterparty_port", channel.CounterpartyPort),
		zap.String("counterparty_channel", channel.CounterpartyID))
	return &channel, nil
}

// RelayAll delivers every packet committed on either chain when called, then
// relays the acknowledgements written for them. Packets emitted while
// relaying are left for the next call.
func (l *Link) RelayAll(ctx context.Context) (ibc.RelayInfo, error) {
	var info ibc.RelayInfo

	fromA, err := l.pending(ctx, l.a, l.connA)
	if err != nil {
		return info, err
	}
	fromB, err := l.pending(ctx, l.b, l.connB)
	if err != nil {
		return info, err
	}

	acksFromB, err := l.deliver(ctx, l.b, fromA)
	if err != nil {
		return info, err
	}
	info.PacketsFromA = len(fromA)
	acksFromA, err := l.deliver(ctx, l.a, fromB)
	if err != nil {
		return info, err
	}
	info.PacketsFromB = len(fromB)

	if err := l.acknowledge(ctx, l.a, acksFromB); err != nil {
		return info, err
	}
	info.AcksFromB = acksFromB
	if err := l.acknowledge(ctx, l.b, acksFromA); err != nil {
		return info, err
	}
	info.AcksFromA = acksFromA

	if !info.Empty() {
		l.logger.Debug("relayed",
			zap.Int("packets_from_a", info.PacketsFromA),
			zap.Int("packets_from_b", info.PacketsFromB))
	}
	return info, nil
}

func (l *Link) pending(ctx context.Context, c *Chain, conn connectionEnd) ([]ibc.Packet, error) {
	var out []ibc.Packet
	err := c.query(ctx, func(tx *txContext) error {
		p, err := tx.pendingPackets(conn.ConnectionID)
		out = p
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("pending packets on %s: %w", c.GetChainID(), err)
	}
	return out, nil
}

// deliver receives packets on dst. A packet that was already received, but
// whose acknowledgement never made it back, yields its stored acknowledgement.
func (l *Link) deliver(ctx context.Context, dst *Chain, packets []ibc.Packet) ([]ibc.AckWithPacket, error) {
	acks := make([]ibc.AckWithPacket, 0, len(packets))
	for _, p := range packets {
		var written []byte
		var found bool
		if err := dst.query(ctx, func(tx *txContext) error {
			ack, ok, err := tx.writtenAck(p)
			written, found = ack, ok
			return err
		}); err != nil {
			return nil, err
		}

		if !found {
			if _, err := dst.deliverTx(ctx, func(tx *txContext) error {
				ack, err := tx.recvPacket(p)
				written = ack
				return err
			}); err != nil {
				return nil, fmt.Errorf("receive packet %d on %s: %w", p.Sequence, dst.GetChainID(), err)
			}
		}
		acks = append(acks, ibc.AckWithPacket{Acknowledgement: written, Packet: p})
	}
	return acks, nil
}

func (l *Link) acknowledge(ctx context.Context, src *Chain, acks []ibc.AckWithPacket) error {
	for _, a := range acks {
		if _, err := src.deliverTx(ctx, func(tx *txContext) error {
			return tx.acknowledgePacket(a.Packet, a.Acknowledgement)
		}); err != nil {
			return fmt.Errorf("acknowledge packet %d on %s: %w", a.Packet.Sequence, src.GetChainID(), err)
		}
	}
	return nil
}
