package simnet

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/osmosis-labs/mesh-harness/framework/ibc"
)

const (
	stateInit    = "STATE_INIT"
	stateTryOpen = "STATE_TRYOPEN"
	stateOpen    = "STATE_OPEN"
)

type connectionEnd struct {
	ConnectionID             string `json:"connection_id"`
	ClientID                 string `json:"client_id"`
	CounterpartyChainID      string `json:"counterparty_chain_id"`
	CounterpartyConnectionID string `json:"counterparty_connection_id"`
	CounterpartyClientID     string `json:"counterparty_client_id"`
	State                    string `json:"state"`
}

func (c connectionEnd) toIBC() ibc.Connection {
	return ibc.Connection{
		ConnectionID:         c.ConnectionID,
		CounterpartyID:       c.CounterpartyConnectionID,
		ClientID:             c.ClientID,
		CounterpartyClientID: c.CounterpartyClientID,
		State:                c.State,
	}
}

type channelEnd struct {
	PortID              string           `json:"port_id"`
	ChannelID           string           `json:"channel_id"`
	CounterpartyPortID  string           `json:"counterparty_port_id"`
	CounterpartyChannel string           `json:"counterparty_channel_id"`
	ConnectionID        string           `json:"connection_id"`
	Order               ibc.ChannelOrder `json:"order"`
	Version             string           `json:"version"`
	State               string           `json:"state"`
}

func (c channelEnd) toIBC() ibc.Channel {
	return ibc.Channel{
		ChannelID:        c.ChannelID,
		CounterpartyID:   c.CounterpartyChannel,
		PortID:           c.PortID,
		CounterpartyPort: c.CounterpartyPortID,
		ConnectionID:     c.ConnectionID,
		State:            c.State,
		Order:            c.Order,
		Version:          c.Version,
	}
}

var (
	connections     Map[connectionEnd] = "ibc/connection"
	channels        Map[channelEnd]    = "ibc/channel"
	portOwners      Map[string]        = "ibc/port"
	nextClientSeq   Item[uint64]       = "ibc/next_client"
	nextConnSeq     Item[uint64]       = "ibc/next_connection"
	nextChannelSeq  Item[uint64]       = "ibc/next_channel"
	nextSequenceTx  Map[uint64]        = "ibc/next_sequence_send"
	commitments     Map[ibc.Packet]    = "ibc/commitment"
	receipts        Map[bool]          = "ibc/receipt"
	acknowledgments Map[[]byte]        = "ibc/ack"
)

func seqKey(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}

// nextID increments a counter and returns its previous value.
func nextID(store KVStore, counter Item[uint64]) (uint64, error) {
	id, _, err := counter.May(store)
	if err != nil {
		return 0, err
	}
	return id, counter.Save(store, id+1)
}

// ibcModule is the application bound to a port.
type ibcModule interface {
	onOpen(tx *txContext, req ibc.OpenRequest) error
	onConnect(tx *txContext, req ibc.OpenRequest) error
	// onRecv returns the acknowledgement to write. Application failures are
	// encoded in the acknowledgement; an error aborts delivery.
	onRecv(tx *txContext, packet ibc.Packet) ([]byte, error)
	onAck(tx *txContext, packet ibc.Packet, ack []byte) error
}

func (tx *txContext) bindPort(portID, owner string) error {
	if portOwners.Has(tx.store, portID) || portID == tx.chain.cfg.ICS20Port {
		return fmt.Errorf("port %s is already bound", portID)
	}
	return portOwners.Save(tx.store, owner, portID)
}

func (tx *txContext) module(portID string) (ibcModule, error) {
	if portID == tx.chain.cfg.ICS20Port {
		return transferModule{}, nil
	}
	owner, err := portOwners.Load(tx.store, portID)
	if err != nil {
		return nil, fmt.Errorf("port %s is not bound: %w", portID, err)
	}
	return contractModule{address: owner}, nil
}

func (tx *txContext) connOpenInit(counterpartyChainID string) (connectionEnd, error) {
	clientSeq, err := nextID(tx.store, nextClientSeq)
	if err != nil {
		return connectionEnd{}, err
	}
	connSeq, err := nextID(tx.store, nextConnSeq)
	if err != nil {
		return connectionEnd{}, err
	}
	conn := connectionEnd{
		ConnectionID:        fmt.Sprintf("connection-%d", connSeq),
		ClientID:            fmt.Sprintf("07-tendermint-%d", clientSeq),
		CounterpartyChainID: counterpartyChainID,
		State:               stateInit,
	}
	return conn, connections.Save(tx.store, conn, conn.ConnectionID)
}

func (tx *txContext) connOpenTry(counterpartyChainID string, counterparty connectionEnd) (connectionEnd, error) {
	conn, err := tx.connOpenInit(counterpartyChainID)
	if err != nil {
		return connectionEnd{}, err
	}
	conn.CounterpartyConnectionID = counterparty.ConnectionID
	conn.CounterpartyClientID = counterparty.ClientID
	conn.State = stateOpen
	return conn, connections.Save(tx.store, conn, conn.ConnectionID)
}

func (tx *txContext) connOpenAck(connectionID string, counterparty connectionEnd) (connectionEnd, error) {
	conn, err := connections.Load(tx.store, connectionID)
	if err != nil {
		return connectionEnd{}, fmt.Errorf("connection %s: %w", connectionID, err)
	}
	if conn.State != stateInit {
		return connectionEnd{}, fmt.Errorf("connection %s is in state %s", connectionID, conn.State)
	}
	conn.CounterpartyConnectionID = counterparty.ConnectionID
	conn.CounterpartyClientID = counterparty.ClientID
	conn.State = stateOpen
	return conn, connections.Save(tx.store, conn, conn.ConnectionID)
}

func (tx *txContext) openConnection(connectionID string) error {
	conn, err := connections.Load(tx.store, connectionID)
	if err != nil {
		return fmt.Errorf("connection %s: %w", connectionID, err)
	}
	if conn.State != stateOpen {
		return fmt.Errorf("connection %s is in state %s", connectionID, conn.State)
	}
	return nil
}

func (tx *txContext) newChannel(portID, connectionID, counterpartyPortID string, order ibc.ChannelOrder, version string) (channelEnd, ibcModule, error) {
	if err := tx.openConnection(connectionID); err != nil {
		return channelEnd{}, nil, err
	}
	mod, err := tx.module(portID)
	if err != nil {
		return channelEnd{}, nil, err
	}
	seq, err := nextID(tx.store, nextChannelSeq)
	if err != nil {
		return channelEnd{}, nil, err
	}
	return channelEnd{
		PortID:             portID,
		ChannelID:          fmt.Sprintf("channel-%d", seq),
		CounterpartyPortID: counterpartyPortID,
		ConnectionID:       connectionID,
		Order:              order,
		Version:            version,
	}, mod, nil
}

func (tx *txContext) chanOpenInit(portID, connectionID, counterpartyPortID string, order ibc.ChannelOrder, version string) (channelEnd, error) {
	ch, mod, err := tx.newChannel(portID, connectionID, counterpartyPortID, order, version)
	if err != nil {
		return channelEnd{}, err
	}
	if err := mod.onOpen(tx, ch.openRequest("")); err != nil {
		return channelEnd{}, fmt.Errorf("channel open init on %s: %w", portID, err)
	}
	ch.State = stateInit
	return ch, channels.Save(tx.store, ch, ch.PortID, ch.ChannelID)
}

func (tx *txContext) chanOpenTry(portID, connectionID string, counterparty channelEnd) (channelEnd, error) {
	ch, mod, err := tx.newChannel(portID, connectionID, counterparty.PortID, counterparty.Order, counterparty.Version)
	if err != nil {
		return channelEnd{}, err
	}
	ch.CounterpartyChannel = counterparty.ChannelID
	if err := mod.onOpen(tx, ch.openRequest(counterparty.Version)); err != nil {
		return channelEnd{}, fmt.Errorf("channel open try on %s: %w", portID, err)
	}
	ch.State = stateTryOpen
	return ch, channels.Save(tx.store, ch, ch.PortID, ch.ChannelID)
}

func (tx *txContext) chanOpenAck(portID, channelID string, counterparty channelEnd) (channelEnd, error) {
	ch, err := channels.Load(tx.store, portID, channelID)
	if err != nil {
		return channelEnd{}, fmt.Errorf("channel %s/%s: %w", portID, channelID, err)
	}
	if ch.State != stateInit {
		return channelEnd{}, fmt.Errorf("channel %s/%s is in state %s", portID, channelID, ch.State)
	}
	ch.CounterpartyChannel = counterparty.ChannelID
	return ch, tx.connectChannel(ch, counterparty.Version)
}

func (tx *txContext) chanOpenConfirm(portID, channelID string, counterparty channelEnd) (channelEnd, error) {
	ch, err := channels.Load(tx.store, portID, channelID)
	if err != nil {
		return channelEnd{}, fmt.Errorf("channel %s/%s: %w", portID, channelID, err)
	}
	if ch.State != stateTryOpen {
		return channelEnd{}, fmt.Errorf("channel %s/%s is in state %s", portID, channelID, ch.State)
	}
	return ch, tx.connectChannel(ch, counterparty.Version)
}

// connectChannel marks the channel open before notifying the module, so the
// module can send packets on it from its connect callback.
func (tx *txContext) connectChannel(ch channelEnd, counterpartyVersion string) error {
	ch.State = stateOpen
	if err := channels.Save(tx.store, ch, ch.PortID, ch.ChannelID); err != nil {
		return err
	}
	mod, err := tx.module(ch.PortID)
	if err != nil {
		return err
	}
	if err := mod.onConnect(tx, ch.openRequest(counterpartyVersion)); err != nil {
		return fmt.Errorf("channel connect on %s: %w", ch.PortID, err)
	}
	return nil
}

func (c channelEnd) openRequest(counterpartyVersion string) ibc.OpenRequest {
	return ibc.OpenRequest{
		PortID:              c.PortID,
		ChannelID:           c.ChannelID,
		CounterpartyPortID:  c.CounterpartyPortID,
		ConnectionID:        c.ConnectionID,
		Order:               c.Order,
		Version:             c.Version,
		CounterpartyVersion: counterpartyVersion,
	}
}

func (tx *txContext) sendPacket(portID, channelID string, data []byte) (uint64, error) {
	ch, err := channels.Load(tx.store, portID, channelID)
	if err != nil {
		return 0, fmt.Errorf("channel %s/%s: %w", portID, channelID, err)
	}
	if ch.State != stateOpen {
		return 0, fmt.Errorf("channel %s/%s is not open", portID, channelID)
	}

	seq, ok, err := nextSequenceTx.May(tx.store, portID, channelID)
	if err != nil {
		return 0, err
	}
	if !ok {
		seq = 1
	}
	if err := nextSequenceTx.Save(tx.store, seq+1, portID, channelID); err != nil {
		return 0, err
	}

	packet := ibc.Packet{
		Sequence:           seq,
		SourcePort:         portID,
		SourceChannel:      channelID,
		DestinationPort:    ch.CounterpartyPortID,
		DestinationChannel: ch.CounterpartyChannel,
		Data:               data,
	}
	if err := commitments.Save(tx.store, packet, portID, channelID, seqKey(seq)); err != nil {
		return 0, err
	}
	tx.logger().Debug("packet sent",
		zap.String("port", portID),
		zap.String("channel", channelID),
		zap.Uint64("sequence", seq))
	return seq, nil
}

// recvPacket delivers packet to the destination module and writes the
// resulting acknowledgement.
func (tx *txContext) recvPacket(packet ibc.Packet) ([]byte, error) {
	ch, err := channels.Load(tx.store, packet.DestinationPort, packet.DestinationChannel)
	if err != nil {
		return nil, fmt.Errorf("channel %s/%s: %w", packet.DestinationPort, packet.DestinationChannel, err)
	}
	if ch.State != stateOpen {
		return nil, fmt.Errorf("channel %s/%s is not open", ch.PortID, ch.ChannelID)
	}
	if ch.CounterpartyPortID != packet.SourcePort || ch.CounterpartyChannel != packet.SourceChannel {
		return nil, fmt.Errorf("packet source %s/%s does not match channel counterparty", packet.SourcePort, packet.SourceChannel)
	}
	key := []string{packet.DestinationPort, packet.DestinationChannel, seqKey(packet.Sequence)}
	if receipts.Has(tx.store, key...) {
		return nil, fmt.Errorf("packet %d already received", packet.Sequence)
	}

	mod, err := tx.module(packet.DestinationPort)
	if err != nil {
		return nil, err
	}
	ack, err := mod.onRecv(tx, packet)
	if err != nil {
		return nil, err
	}
	if err := receipts.Save(tx.store, true, key...); err != nil {
		return nil, err
	}
	if err := acknowledgments.Save(tx.store, ack, key...); err != nil {
		return nil, err
	}
	return ack, nil
}

func (tx *txContext) acknowledgePacket(packet ibc.Packet, ack []byte) error {
	key := []string{packet.SourcePort, packet.SourceChannel, seqKey(packet.Sequence)}
	if !commitments.Has(tx.store, key...) {
		return fmt.Errorf("no commitment for packet %d on %s/%s", packet.Sequence, packet.SourcePort, packet.SourceChannel)
	}
	commitments.Remove(tx.store, key...)

	mod, err := tx.module(packet.SourcePort)
	if err != nil {
		return err
	}
	return mod.onAck(tx, packet, ack)
}

// pendingPackets returns the committed packets sent over channels of connectionID.
func (tx *txContext) pendingPackets(connectionID string) ([]ibc.Packet, error) {
	var out []ibc.Packet
	err := commitments.Range(tx.store, func(_ string, p ibc.Packet) (bool, error) {
		ch, err := channels.Load(tx.store, p.SourcePort, p.SourceChannel)
		if err != nil {
			return false, err
		}
		if ch.ConnectionID == connectionID {
			out = append(out, p)
		}
		return true, nil
	})
	return out, err
}

// writtenAck returns the acknowledgement written for a received packet.
func (tx *txContext) writtenAck(packet ibc.Packet) ([]byte, bool, error) {
	return acknowledgments.May(tx.store, packet.DestinationPort, packet.DestinationChannel, seqKey(packet.Sequence))
}

// contractModule routes IBC callbacks to the contract owning the port.
type contractModule struct {
	address string
}

func (m contractModule) ibcContract(tx *txContext) (IBCContract, Ctx, error) {
	impl, info, err := tx.contract(m.address)
	if err != nil {
		return nil, Ctx{}, err
	}
	c, ok := impl.(IBCContract)
	if !ok {
		return nil, Ctx{}, fmt.Errorf("contract %s does not implement ibc entry points", m.address)
	}
	return c, tx.contractCtx(m.address, info), nil
}

func (m contractModule) onOpen(tx *txContext, req ibc.OpenRequest) error {
	c, ctx, err := m.ibcContract(tx)
	if err != nil {
		return err
	}
	return c.ChannelOpen(ctx, req)
}

func (m contractModule) onConnect(tx *txContext, req ibc.OpenRequest) error {
	c, ctx, err := m.ibcContract(tx)
	if err != nil {
		return err
	}
	resp, err := c.ChannelConnect(ctx, req)
	if err != nil {
		return err
	}
	return tx.dispatch(m.address, resp)
}

func (m contractModule) onRecv(tx *txContext, packet ibc.Packet) ([]byte, error) {
	child := tx.branch()
	c, ctx, err := m.ibcContract(child)
	if err != nil {
		return nil, err
	}
	ack, resp, err := c.PacketReceive(ctx, packet)
	if err == nil {
		err = child.dispatch(m.address, resp)
	}
	if err != nil {
		tx.logger().Info("packet receive failed, writing error acknowledgement",
			zap.String("contract", m.address),
			zap.Uint64("sequence", packet.Sequence),
			zap.Error(err))
		return ibc.NewErrorAck(err.Error()), nil
	}
	child.commit()
	return ack, nil
}

func (m contractModule) onAck(tx *txContext, packet ibc.Packet, ack []byte) error {
	c, ctx, err := m.ibcContract(tx)
	if err != nil {
		return err
	}
	resp, err := c.PacketAck(ctx, packet, ack)
	if err != nil {
		return err
	}
	return tx.dispatch(m.address, resp)
}
