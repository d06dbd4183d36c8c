// Package coin holds the coin arithmetic and denomination helpers used when
// reconciling balances across the provider and consumer chains.
package coin

import (
	"fmt"

	errorsmod "cosmossdk.io/errors"
	sdk "github.com/cosmos/cosmos-sdk/types"
	transfertypes "github.com/cosmos/ibc-go/v8/modules/apps/transfer/types"
)

const codespace = "coin"

var (
	// ErrDenomMismatch is returned when arithmetic is attempted on coins of different denominations.
	ErrDenomMismatch = errorsmod.Register(codespace, 2, "coins have different denoms")
	// ErrNegativeAmount is returned when a subtraction would produce a negative amount.
	ErrNegativeAmount = errorsmod.Register(codespace, 3, "coin subtraction would result in a negative amount")
)

// Subtract returns lhs - rhs. Both coins must carry the same denom.
func Subtract(lhs, rhs sdk.Coin) (sdk.Coin, error) {
	if lhs.Denom != rhs.Denom {
		return sdk.Coin{}, errorsmod.Wrapf(ErrDenomMismatch, "%s vs %s", lhs.Denom, rhs.Denom)
	}
	amount := lhs.Amount.Sub(rhs.Amount)
	if amount.IsNegative() {
		return sdk.Coin{}, errorsmod.Wrapf(ErrNegativeAmount, "%s - %s", lhs, rhs)
	}
	return sdk.Coin{Denom: lhs.Denom, Amount: amount}, nil
}

// MustSubtract is Subtract for callers that already checked the operands.
func MustSubtract(lhs, rhs sdk.Coin) sdk.Coin {
	c, err := Subtract(lhs, rhs)
	if err != nil {
		panic(err)
	}
	return c
}

// TracePath returns "<port>/<channel>/<baseDenom>".
func TracePath(port, channel, baseDenom string) string {
	return fmt.Sprintf("%s/%s/%s", port, channel, baseDenom)
}

// DenomHash returns the upper-case hex SHA-256 of the denomination trace
// "<port>/<channel>/<baseDenom>", identical to the hash ibc-go assigns vouchers.
func DenomHash(port, channel, baseDenom string) string {
	trace := transfertypes.ParseDenomTrace(TracePath(port, channel, baseDenom))
	return trace.Hash().String()
}

// IBCDenom returns the voucher denomination ("ibc/<hash>") that baseDenom
// receives on the chain owning the given destination port and channel.
func IBCDenom(port, channel, baseDenom string) string {
	return fmt.Sprintf("%s/%s", transfertypes.DenomPrefix, DenomHash(port, channel, baseDenom))
}
