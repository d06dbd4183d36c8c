package wallet_test

import (
	"context"
	"strings"
	"testing"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/osmosis-labs/mesh-harness/framework/simnet"
	"github.com/osmosis-labs/mesh-harness/framework/testutil/wallet"
	"github.com/osmosis-labs/mesh-harness/framework/types"
)

func TestCreateAndFund(t *testing.T) {
	ctx := context.Background()
	chain, err := simnet.NewChain(types.ChainConfig{
		ChainID:      "wallet-1",
		Bech32Prefix: "wasm",
		Denom:        "ucosm",
		StakingDenom: "ustake",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	coins := sdk.NewCoins(sdk.NewCoin("ucosm", sdkmath.NewInt(1234)))
	w, err := wallet.CreateAndFund(ctx, "user", coins, chain)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(w.GetKeyName(), "user-"))
	require.True(t, strings.HasPrefix(w.GetFormattedAddress(), "wasm1"))

	bal, err := chain.GetBalance(ctx, w.GetFormattedAddress(), "ucosm")
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1234), bal.Amount)

	empty, err := wallet.CreateAndFund(ctx, "empty", sdk.NewCoins(), chain)
	require.NoError(t, err)
	bal, err = chain.GetBalance(ctx, empty.GetFormattedAddress(), "ucosm")
	require.NoError(t, err)
	require.True(t, bal.Amount.IsZero())

	_, err = wallet.CreateAndFund(ctx, "rich", sdk.NewCoins(sdk.NewCoin("ucosm", sdkmath.NewInt(2_000_000_000_000))), chain)
	require.Error(t, err)
}
