package ibc

import (
	"context"

	meshibc "github.com/osmosis-labs/mesh-harness/framework/ibc"
	"github.com/osmosis-labs/mesh-harness/framework/types"
)

// Relayer is an IBC relayer that needs its chains configured and a funded
// signing key on each of them before it can create links.
type Relayer interface {
	meshibc.Relayer

	// Init adds the chains to the relayer configuration.
	Init(ctx context.Context, chains ...types.ChainConfig) error

	// AddKey sets the wallet the relayer signs with on chainID.
	AddKey(ctx context.Context, chainID string, wallet *types.Wallet) error
}
