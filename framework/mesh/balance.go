package mesh

import (
	"context"
	"errors"
	"fmt"

	errorsmod "cosmossdk.io/errors"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/cosmos/cosmos-sdk/types/bech32"
	transfertypes "github.com/cosmos/ibc-go/v8/modules/apps/transfer/types"

	"github.com/osmosis-labs/mesh-harness/framework/testutil/coin"
	"github.com/osmosis-labs/mesh-harness/framework/types"
)

var (
	// ErrUnknownAccount is returned when a snapshot does not track an account.
	ErrUnknownAccount = errors.New("account not in snapshot")
	// ErrRemainder is returned when an intermediary kept part of what passed through it.
	ErrRemainder = errors.New("intermediary kept a remainder")
	// ErrImbalance is returned when a receiver did not gain what the sender lost.
	ErrImbalance = errors.New("receiver delta does not match sender delta")
)

// Account is a balance tracked by a Snapshot.
type Account struct {
	// Name identifies the account in the snapshot, e.g. "provider".
	Name    string
	Chain   types.Chain
	Address string
	Denom   string
}

// Snapshot is a set of balances read at one point in a scenario.
type Snapshot map[string]sdk.Coin

// TakeSnapshot reads the balance of every account.
func TakeSnapshot(ctx context.Context, accounts ...Account) (Snapshot, error) {
	s := make(Snapshot, len(accounts))
	for _, a := range accounts {
		if _, ok := s[a.Name]; ok {
			return nil, fmt.Errorf("duplicate account %q", a.Name)
		}
		bal, err := a.Chain.GetBalance(ctx, a.Address, a.Denom)
		if err != nil {
			return nil, fmt.Errorf("balance of %s (%s) on %s: %w", a.Name, a.Address, a.Chain.GetChainID(), err)
		}
		s[a.Name] = bal
	}
	return s, nil
}

// Gain returns how much account grew between before and after. A shrinking
// balance is reported as coin.ErrNegativeAmount.
func Gain(before, after Snapshot, account string) (sdk.Coin, error) {
	b, a, err := pair(before, after, account)
	if err != nil {
		return sdk.Coin{}, err
	}
	return coin.Subtract(a, b)
}

// Loss returns how much account shrank between before and after. A growing
// balance is reported as coin.ErrNegativeAmount.
func Loss(before, after Snapshot, account string) (sdk.Coin, error) {
	b, a, err := pair(before, after, account)
	if err != nil {
		return sdk.Coin{}, err
	}
	return coin.Subtract(b, a)
}

func pair(before, after Snapshot, account string) (sdk.Coin, sdk.Coin, error) {
	b, ok := before[account]
	if !ok {
		return sdk.Coin{}, sdk.Coin{}, errorsmod.Wrapf(ErrUnknownAccount, "%s before", account)
	}
	a, ok := after[account]
	if !ok {
		return sdk.Coin{}, sdk.Coin{}, errorsmod.Wrapf(ErrUnknownAccount, "%s after", account)
	}
	return b, a, nil
}

// Reconcile checks that every intermediary ended where it started and that
// receiver gained exactly what sender lost. Sender and receiver may hold
// different denoms, e.g. a native token and its voucher.
func Reconcile(before, after Snapshot, sender, receiver string, intermediaries ...string) error {
	for _, name := range intermediaries {
		b, a, err := pair(before, after, name)
		if err != nil {
			return err
		}
		if !a.Amount.Equal(b.Amount) {
			return errorsmod.Wrapf(ErrRemainder, "%s went from %s to %s", name, b, a)
		}
	}

	lost, err := Loss(before, after, sender)
	if err != nil {
		return fmt.Errorf("sender %s: %w", sender, err)
	}
	gained, err := Gain(before, after, receiver)
	if err != nil {
		return fmt.Errorf("receiver %s: %w", receiver, err)
	}
	if !lost.Amount.Equal(gained.Amount) {
		return errorsmod.Wrapf(ErrImbalance, "%s lost %s, %s gained %s", sender, lost, receiver, gained)
	}
	return nil
}

// EscrowAddress returns the ICS20 escrow account of a channel end, encoded
// with bech32Prefix.
func EscrowAddress(bech32Prefix, portID, channelID string) (string, error) {
	return bech32.ConvertAndEncode(bech32Prefix, transfertypes.GetEscrowAddress(portID, channelID))
}
