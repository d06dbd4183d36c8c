package contracts

import (
	errorsmod "cosmossdk.io/errors"
)

const codespace = "meshcontracts"

var (
	ErrInsufficientTokens        = errorsmod.Register(codespace, 2, "Insufficient tokens")
	ErrUnauthorized              = errorsmod.Register(codespace, 3, "Unauthorized")
	ErrIncorrectDenom            = errorsmod.Register(codespace, 4, "Incorrect coin denom")
	ErrInsufficientDelegation    = errorsmod.Register(codespace, 5, "Cannot undelegate more than you previously delegated")
	ErrNoFundsToDelegate         = errorsmod.Register(codespace, 6, "Contract has run out of funds to delegate for consumer chain")
	ErrNoDelegationsForValidator = errorsmod.Register(codespace, 7, "Cannot undelegate from a validator that does not have delegations")
	ErrNotEnoughFunds            = errorsmod.Register(codespace, 8, "Contract does not have enough funds for consumer")
	ErrConsumerAlreadyExists     = errorsmod.Register(codespace, 9, "Consumer already exists")
	ErrNoConsumer                = errorsmod.Register(codespace, 10, "Consumer does not exists")
	ErrUnknownReplyID            = errorsmod.Register(codespace, 11, "An unknown reply ID was received")
	ErrUnknownValidator          = errorsmod.Register(codespace, 12, "Unknown validator")
	ErrInvalidMessage            = errorsmod.Register(codespace, 13, "Invalid message")
	ErrNoChannel                 = errorsmod.Register(codespace, 14, "No channel bound yet")
	ErrNoRewards                 = errorsmod.Register(codespace, 15, "No rewards to claim")
	ErrUnknownPacket             = errorsmod.Register(codespace, 16, "Unknown pending packet")
)
