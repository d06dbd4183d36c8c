package ibc

import (
	"encoding/json"

	errorsmod "cosmossdk.io/errors"
)

// Authorization is the peer a contract accepts a channel from.
type Authorization struct {
	// PortID is the expected counterparty port. Empty accepts any port.
	PortID string `json:"port_id,omitempty"`
	// ConnectionID is the connection the channel must be opened over.
	ConnectionID string `json:"connection_id"`
}

// BindState is either Unbound or Bound.
type BindState interface {
	isBindState()
}

// Unbound is the state of a contract that has not accepted a channel yet.
type Unbound struct{}

// Bound records the channel a contract accepted.
type Bound struct {
	PortID    string `json:"port_id"`
	ChannelID string `json:"channel_id"`
}

func (Unbound) isBindState() {}
func (Bound) isBindState()   {}

// OpenRequest describes a channel-open handshake step as seen by the contract.
type OpenRequest struct {
	PortID              string
	ChannelID           string
	CounterpartyPortID  string
	ConnectionID        string
	Order               ChannelOrder
	Version             string
	CounterpartyVersion string
}

// ChannelGuard admits at most one channel, and only from its Authorization.
type ChannelGuard struct {
	Auth    Authorization
	Version string
	State   BindState
}

// NewChannelGuard returns an unbound guard.
func NewChannelGuard(auth Authorization, version string) ChannelGuard {
	return ChannelGuard{Auth: auth, Version: version, State: Unbound{}}
}

// Bound returns the bound channel, if any.
func (g ChannelGuard) Bound() (Bound, bool) {
	b, ok := g.State.(Bound)
	return b, ok
}

// CheckOpen validates an open-init or open-try step without changing state.
func (g ChannelGuard) CheckOpen(req OpenRequest) error {
	switch g.State.(type) {
	case Bound:
		return ErrAlreadyBound
	case Unbound, nil:
	}

	if req.Order != OrderUnordered {
		return errorsmod.Wrapf(ErrInvalidChannelOrder, "got %s", req.Order)
	}
	if req.Version != g.Version {
		return errorsmod.Wrapf(ErrInvalidChannelVersion, "Must be '%s'", g.Version)
	}
	if req.CounterpartyVersion != "" && req.CounterpartyVersion != g.Version {
		return errorsmod.Wrapf(ErrInvalidChannelVersion, "Counterparty version must be '%s'", g.Version)
	}
	if req.ConnectionID != g.Auth.ConnectionID {
		return errorsmod.Wrapf(ErrUnauthorized, "connection %s is not %s", req.ConnectionID, g.Auth.ConnectionID)
	}
	if g.Auth.PortID != "" && req.CounterpartyPortID != g.Auth.PortID {
		return errorsmod.Wrapf(ErrUnauthorized, "counterparty port %s is not %s", req.CounterpartyPortID, g.Auth.PortID)
	}
	return nil
}

// Connect re-validates the request and moves the guard from Unbound to Bound.
func (g ChannelGuard) Connect(req OpenRequest) (ChannelGuard, error) {
	if err := g.CheckOpen(req); err != nil {
		return g, err
	}
	g.State = Bound{PortID: req.CounterpartyPortID, ChannelID: req.ChannelID}
	return g, nil
}

type guardJSON struct {
	Auth    Authorization `json:"auth"`
	Version string        `json:"version"`
	Bound   *Bound        `json:"bound,omitempty"`
}

// MarshalJSON stores the state as an optional "bound" field.
func (g ChannelGuard) MarshalJSON() ([]byte, error) {
	out := guardJSON{Auth: g.Auth, Version: g.Version}
	if b, ok := g.Bound(); ok {
		out.Bound = &b
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (g *ChannelGuard) UnmarshalJSON(bz []byte) error {
	var in guardJSON
	if err := json.Unmarshal(bz, &in); err != nil {
		return err
	}
	g.Auth = in.Auth
	g.Version = in.Version
	g.State = Unbound{}
	if in.Bound != nil {
		g.State = *in.Bound
	}
	return nil
}
