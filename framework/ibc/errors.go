package ibc

import errorsmod "cosmossdk.io/errors"

const codespace = "meshibc"

var (
	ErrAlreadyBound             = errorsmod.Register(codespace, 2, "Contract already has a bound channel")
	ErrUnauthorized             = errorsmod.Register(codespace, 3, "Unauthorized")
	ErrInvalidChannelOrder      = errorsmod.Register(codespace, 4, "Only supports unordered channels")
	ErrInvalidChannelVersion    = errorsmod.Register(codespace, 5, "invalid channel version")
	ErrMalformedAcknowledgement = errorsmod.Register(codespace, 6, "malformed acknowledgement")
	ErrCountMismatch            = errorsmod.Register(codespace, 7, "relay count mismatch")
	ErrUnexpectedAckResult      = errorsmod.Register(codespace, 8, "unexpected acknowledgement result")
)
