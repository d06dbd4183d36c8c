package ibc

import (
	"context"

	"github.com/osmosis-labs/mesh-harness/framework/types"
)

// Channel represents an IBC channel between two chains.
type Channel struct {
	ChannelID        string
	CounterpartyID   string
	PortID           string
	CounterpartyPort string
	ConnectionID     string
	State            string
	Order            ChannelOrder
	Version          string
}

// Connection represents an IBC connection between two chains.
type Connection struct {
	ConnectionID         string
	CounterpartyID       string
	ClientID             string
	CounterpartyClientID string
	State                string
}

// ChannelOrder represents the ordering of an IBC channel.
type ChannelOrder string

const (
	OrderOrdered   ChannelOrder = "ordered"
	OrderUnordered ChannelOrder = "unordered"
)

// CreateChannelOptions defines options for creating an IBC channel.
type CreateChannelOptions struct {
	SourcePortName string
	DestPortName   string
	Order          ChannelOrder
	Version        string
}

// Side names one end of a Link.
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

// Endpoint is one chain of a Link together with the connection it owns.
type Endpoint struct {
	Chain      types.ChainConfig
	Connection Connection
}

// ConnectionID returns the connection identifier on this endpoint's chain.
func (e Endpoint) ConnectionID() string {
	return e.Connection.ConnectionID
}

// Packet is a relayed packet as seen by the relayer.
type Packet struct {
	Sequence           uint64
	SourcePort         string
	SourceChannel      string
	DestinationPort    string
	DestinationChannel string
	Data               []byte
}

// AckWithPacket pairs a written acknowledgement with the packet it acknowledges.
type AckWithPacket struct {
	Acknowledgement []byte
	Packet          Packet
}

// RelayInfo is the result of a single relay pass.
// PacketsFromA counts packets sent by chain A and delivered to chain B; the
// acknowledgements B wrote for them are in AcksFromB. The reverse holds for
// PacketsFromB and AcksFromA.
type RelayInfo struct {
	PacketsFromA int
	PacketsFromB int
	AcksFromA    []AckWithPacket
	AcksFromB    []AckWithPacket
}

// Empty reports whether the pass moved nothing.
func (r RelayInfo) Empty() bool {
	return r.PacketsFromA == 0 && r.PacketsFromB == 0 && len(r.AcksFromA) == 0 && len(r.AcksFromB) == 0
}

// Relayer creates links between chains.
type Relayer interface {
	// CreateLink creates fresh clients and a fresh connection between a and b.
	CreateLink(ctx context.Context, a, b types.Chain) (Link, error)
}

// Link is a connection between two chains over which channels are opened and
// packets relayed.
type Link interface {
	// EndA returns the endpoint on chain A.
	EndA() Endpoint
	// EndB returns the endpoint on chain B.
	EndB() Endpoint
	// CreateChannel runs the channel handshake starting on the given side. The
	// returned channel is described from that side.
	CreateChannel(ctx context.Context, side Side, opts CreateChannelOptions) (*Channel, error)
	// RelayAll delivers every packet committed on either chain at call time and
	// relays the acknowledgements written for them.
	RelayAll(ctx context.Context) (RelayInfo, error)
}
