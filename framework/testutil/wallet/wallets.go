package wallet

import (
	"context"
	"fmt"

	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/osmosis-labs/mesh-harness/framework/testutil/random"
	"github.com/osmosis-labs/mesh-harness/framework/types"
)

// WalletCreator defines the interface for creating wallets and accessing the faucet wallet.
type WalletCreator interface {
	CreateWallet(ctx context.Context, keyName string) (*types.Wallet, error)
	GetFaucetWallet() *types.Wallet
}

// Funder moves coins from one wallet to an address.
type Funder interface {
	SendFunds(ctx context.Context, from *types.Wallet, toAddress string, amount sdk.Coins) (types.TxResult, error)
}

// Chain is satisfied by every types.Chain.
type Chain interface {
	WalletCreator
	Funder
}

// CreateAndFund creates a new test wallet, funds it using the faucet wallet, and returns the created wallet.
func CreateAndFund(ctx context.Context, keyNamePrefix string, coins sdk.Coins, chain Chain) (*types.Wallet, error) {
	keyName := fmt.Sprintf("%s-%s", keyNamePrefix, random.LowerCaseLetterString(6))
	wallet, err := chain.CreateWallet(ctx, keyName)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet %s: %w", keyName, err)
	}

	if coins.IsZero() {
		return wallet, nil
	}

	resp, err := chain.SendFunds(ctx, chain.GetFaucetWallet(), wallet.GetFormattedAddress(), coins)
	if err != nil {
		return nil, fmt.Errorf("failed to fund wallet %s: %w", keyName, err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("error in bank send response: %s", resp.RawLog)
	}

	return wallet, nil
}
