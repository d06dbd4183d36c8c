package simnet

import (
	"fmt"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	sdkerrors "github.com/cosmos/cosmos-sdk/types/errors"
)

var balances Map[sdkmath.Int] = "bank/balance"

func (tx *txContext) balance(addr, denom string) sdk.Coin {
	amount, ok, err := balances.May(tx.store, addr, denom)
	if err != nil || !ok {
		return sdk.NewCoin(denom, sdkmath.ZeroInt())
	}
	return sdk.NewCoin(denom, amount)
}

func (tx *txContext) allBalances(addr string) (sdk.Coins, error) {
	out := sdk.NewCoins()
	err := balances.Range(tx.store, func(key string, amount sdkmath.Int) (bool, error) {
		denom := key[len(addr)+1:]
		out = out.Add(sdk.NewCoin(denom, amount))
		return true, nil
	}, addr)
	return out, err
}

func (tx *txContext) setBalance(addr string, coin sdk.Coin) error {
	if coin.Amount.IsZero() {
		balances.Remove(tx.store, addr, coin.Denom)
		return nil
	}
	return balances.Save(tx.store, coin.Amount, addr, coin.Denom)
}

func (tx *txContext) subBalance(addr string, coins sdk.Coins) error {
	for _, c := range coins {
		have := tx.balance(addr, c.Denom)
		if have.Amount.LT(c.Amount) {
			return errorsmod.Wrapf(sdkerrors.ErrInsufficientFunds, "spendable balance %s is smaller than %s", have, c)
		}
		if err := tx.setBalance(addr, have.Sub(c)); err != nil {
			return err
		}
	}
	return nil
}

func (tx *txContext) addBalance(addr string, coins sdk.Coins) error {
	for _, c := range coins {
		if err := tx.setBalance(addr, tx.balance(addr, c.Denom).Add(c)); err != nil {
			return err
		}
	}
	return nil
}

// send moves coins between two accounts.
func (tx *txContext) send(from, to string, coins sdk.Coins) error {
	if coins.Empty() {
		return nil
	}
	if !coins.IsValid() {
		return errorsmod.Wrapf(sdkerrors.ErrInvalidCoins, "%s", coins)
	}
	if err := tx.subBalance(from, coins); err != nil {
		return fmt.Errorf("send from %s: %w", from, err)
	}
	return tx.addBalance(to, coins)
}

func (tx *txContext) mint(addr string, coins sdk.Coins) error {
	return tx.addBalance(addr, coins)
}

func (tx *txContext) burn(addr string, coins sdk.Coins) error {
	if err := tx.subBalance(addr, coins); err != nil {
		return fmt.Errorf("burn from %s: %w", addr, err)
	}
	return nil
}
