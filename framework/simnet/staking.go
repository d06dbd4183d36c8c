package simnet

import (
	"fmt"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"go.uber.org/zap"
)

const (
	bondedPoolName    = "bonded_tokens_pool"
	notBondedPoolName = "not_bonded_tokens_pool"
	distributionName  = "distribution"
)

type validator struct {
	Operator string      `json:"operator"`
	Tokens   sdkmath.Int `json:"tokens"`
}

type unbondingEntry struct {
	Delegator      string    `json:"delegator"`
	Validator      string    `json:"validator"`
	Amount         sdk.Coin  `json:"amount"`
	CompletionTime time.Time `json:"completion_time"`
}

var (
	validators   Map[validator]      = "staking/validator"
	delegations  Map[sdkmath.Int]    = "staking/delegation"
	unbondings   Map[unbondingEntry] = "staking/unbonding"
	unbondingSeq Item[uint64]        = "staking/unbonding_seq"
	rewardsByDel Map[sdk.Coins]      = "distr/rewards"
)

func (tx *txContext) delegate(delegator, valAddr string, amount sdk.Coin) error {
	if amount.Denom != tx.chain.cfg.StakingDenom {
		return fmt.Errorf("invalid coin denomination: got %s, expected %s", amount.Denom, tx.chain.cfg.StakingDenom)
	}
	if !amount.Amount.IsPositive() {
		return fmt.Errorf("delegation amount must be positive")
	}
	val, err := validators.Load(tx.store, valAddr)
	if err != nil {
		return fmt.Errorf("validator %s: %w", valAddr, err)
	}

	if err := tx.send(delegator, tx.chain.moduleAddress(bondedPoolName), sdk.NewCoins(amount)); err != nil {
		return err
	}
	current, err := tx.Delegation(delegator, valAddr)
	if err != nil {
		return err
	}
	if err := delegations.Save(tx.store, current.Add(amount.Amount), delegator, valAddr); err != nil {
		return err
	}
	val.Tokens = val.Tokens.Add(amount.Amount)
	return validators.Save(tx.store, val, valAddr)
}

func (tx *txContext) undelegate(delegator, valAddr string, amount sdk.Coin) error {
	if amount.Denom != tx.chain.cfg.StakingDenom {
		return fmt.Errorf("invalid coin denomination: got %s, expected %s", amount.Denom, tx.chain.cfg.StakingDenom)
	}
	val, err := validators.Load(tx.store, valAddr)
	if err != nil {
		return fmt.Errorf("validator %s: %w", valAddr, err)
	}
	current, err := tx.Delegation(delegator, valAddr)
	if err != nil {
		return err
	}
	if current.LT(amount.Amount) {
		return fmt.Errorf("invalid shares amount: delegation %s is smaller than %s", current, amount.Amount)
	}

	if rest := current.Sub(amount.Amount); rest.IsZero() {
		delegations.Remove(tx.store, delegator, valAddr)
	} else if err := delegations.Save(tx.store, rest, delegator, valAddr); err != nil {
		return err
	}
	val.Tokens = val.Tokens.Sub(amount.Amount)
	if err := validators.Save(tx.store, val, valAddr); err != nil {
		return err
	}

	if err := tx.send(tx.chain.moduleAddress(bondedPoolName), tx.chain.moduleAddress(notBondedPoolName), sdk.NewCoins(amount)); err != nil {
		return err
	}

	seq, _, err := unbondingSeq.May(tx.store)
	if err != nil {
		return err
	}
	seq++
	if err := unbondingSeq.Save(tx.store, seq); err != nil {
		return err
	}
	entry := unbondingEntry{
		Delegator:      delegator,
		Validator:      valAddr,
		Amount:         amount,
		CompletionTime: tx.time.Add(tx.chain.unbondingTime),
	}
	return unbondings.Save(tx.store, entry, fmt.Sprintf("%020d", entry.CompletionTime.UnixNano()), fmt.Sprintf("%020d", seq))
}

// matureUnbondings pays out every unbonding entry whose completion time has passed.
func (tx *txContext) matureUnbondings() error {
	var matured []string
	var entries []unbondingEntry
	err := unbondings.Range(tx.store, func(key string, e unbondingEntry) (bool, error) {
		if e.CompletionTime.After(tx.time) {
			return false, nil
		}
		matured = append(matured, key)
		entries = append(entries, e)
		return true, nil
	})
	if err != nil {
		return err
	}

	for i, e := range entries {
		if err := tx.send(tx.chain.moduleAddress(notBondedPoolName), e.Delegator, sdk.NewCoins(e.Amount)); err != nil {
			return err
		}
		unbondings.Remove(tx.store, matured[i])
		tx.logger().Debug("unbonding matured", zap.String("delegator", e.Delegator), zap.Stringer("amount", e.Amount))
	}
	return nil
}

// allocateRewards mints amount and credits it to the delegators of valAddr
// pro rata. Rounding dust stays in the distribution module.
func (tx *txContext) allocateRewards(valAddr string, amount sdk.Coins) error {
	val, err := validators.Load(tx.store, valAddr)
	if err != nil {
		return fmt.Errorf("validator %s: %w", valAddr, err)
	}
	if !val.Tokens.IsPositive() {
		return fmt.Errorf("validator %s has no delegations", valAddr)
	}
	if err := tx.mint(tx.chain.moduleAddress(distributionName), amount); err != nil {
		return err
	}

	shares := make(map[string]sdkmath.Int)
	err = delegations.Range(tx.store, func(key string, d sdkmath.Int) (bool, error) {
		del, val, ok := splitKey(key)
		if ok && val == valAddr {
			shares[del] = d
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	for _, del := range sortedKeys(shares) {
		var reward sdk.Coins
		for _, c := range amount {
			part := c.Amount.Mul(shares[del]).Quo(val.Tokens)
			if part.IsPositive() {
				reward = reward.Add(sdk.NewCoin(c.Denom, part))
			}
		}
		if reward.Empty() {
			continue
		}
		current, _, err := rewardsByDel.May(tx.store, del, valAddr)
		if err != nil {
			return err
		}
		if err := rewardsByDel.Save(tx.store, current.Add(reward...), del, valAddr); err != nil {
			return err
		}
	}
	return nil
}

// withdrawRewards pays out and clears the accrued rewards of a delegation.
func (tx *txContext) withdrawRewards(delegator, valAddr string) (sdk.Coins, error) {
	if !validators.Has(tx.store, valAddr) {
		return nil, fmt.Errorf("validator %s: %w", valAddr, ErrNotFound)
	}
	coins, ok, err := rewardsByDel.May(tx.store, delegator, valAddr)
	if err != nil {
		return nil, err
	}
	if !ok || coins.Empty() {
		return sdk.NewCoins(), nil
	}
	rewardsByDel.Remove(tx.store, delegator, valAddr)
	if err := tx.send(tx.chain.moduleAddress(distributionName), delegator, coins); err != nil {
		return nil, err
	}
	return coins, nil
}

// splitKey splits a two-part map key. Neither part may contain "/".
func splitKey(key string) (string, string, bool) {
	return strings.Cut(key, "/")
}
