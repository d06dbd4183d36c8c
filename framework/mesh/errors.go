package mesh

import (
	"errors"
	"strings"

	"github.com/osmosis-labs/mesh-harness/framework/ibc"
)

// Ledger errors reach the harness either as typed errors (in process) or as
// raw logs returned by a node, so both forms are matched.
const (
	insufficientTokensMsg = "insufficient tokens"
	alreadyBoundMsg       = "contract already has a bound channel"
	unauthorizedMsg       = "unauthorized"
)

// IsInsufficientTokens reports whether err is the vault refusing to release
// tokens that are still bonded, claimed or locked.
func IsInsufficientTokens(err error) bool {
	return containsFold(err, insufficientTokensMsg)
}

// IsAlreadyBound reports whether err is a contract refusing a second channel.
func IsAlreadyBound(err error) bool {
	return errors.Is(err, ibc.ErrAlreadyBound) || containsFold(err, alreadyBoundMsg)
}

// IsUnauthorized reports whether err is a contract refusing a channel or a
// message from an unexpected counterparty.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ibc.ErrUnauthorized) || containsFold(err, unauthorizedMsg)
}

func containsFold(err error, substr string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), substr)
}
