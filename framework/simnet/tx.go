package simnet

import (
	"encoding/json"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/cosmos/cosmos-sdk/types/bech32"
	"go.uber.org/zap"
)

var _ Querier = &txContext{}

// maxCallDepth bounds contract-to-contract recursion.
const maxCallDepth = 16

// txContext is the state a single transaction executes against. Nested
// calls branch the store so a failing sub-message can be discarded alone.
type txContext struct {
	chain  *Chain
	store  KVStore
	height int64
	time   time.Time
	depth  int
}

// branch returns a child context whose writes are buffered until commit.
func (tx *txContext) branch() *txContext {
	return &txContext{
		chain:  tx.chain,
		store:  newCacheStore(tx.store),
		height: tx.height,
		time:   tx.time,
		depth:  tx.depth + 1,
	}
}

// commit flushes a branch into its parent.
func (tx *txContext) commit() {
	if cs, ok := tx.store.(*cacheStore); ok {
		cs.Write()
	}
}

func (tx *txContext) logger() *zap.Logger {
	return tx.chain.logger
}

// dispatch executes the messages a contract emitted, in order, calling the
// contract back according to each sub-message's ReplyOn.
func (tx *txContext) dispatch(contract string, resp *Response) error {
	if resp == nil {
		return nil
	}
	if tx.depth > maxCallDepth {
		return fmt.Errorf("max call depth %d exceeded", maxCallDepth)
	}

	for _, sub := range resp.Messages {
		child := tx.branch()
		data, err := child.handle(contract, sub.Msg)
		if err == nil {
			child.commit()
			if sub.ReplyOn == ReplySuccess || sub.ReplyOn == ReplyAlways {
				if err := tx.reply(contract, Reply{ID: sub.ID, Data: data}); err != nil {
					return err
				}
			}
			continue
		}

		if sub.ReplyOn == ReplyError || sub.ReplyOn == ReplyAlways {
			tx.logger().Debug("sub-message failed, replying",
				zap.String("contract", contract),
				zap.Uint64("id", sub.ID),
				zap.Error(err))
			if err := tx.reply(contract, Reply{ID: sub.ID, Err: err.Error()}); err != nil {
				return err
			}
			continue
		}
		return fmt.Errorf("dispatch %T from %s: %w", sub.Msg, contract, err)
	}
	return nil
}

// handle executes a single message on behalf of sender and returns the
// message result data.
func (tx *txContext) handle(sender string, msg Msg) ([]byte, error) {
	switch m := msg.(type) {
	case BankSend:
		return nil, tx.send(sender, m.ToAddress, m.Amount)
	case WasmExecute:
		return tx.execute(sender, m.Contract, m.Msg, m.Funds)
	case WasmInstantiate:
		addr, err := tx.instantiate(sender, m.CodeID, m.Msg, m.Funds, m.Label, m.Admin)
		if err != nil {
			return nil, err
		}
		return []byte(addr), nil
	case Delegate:
		return nil, tx.delegate(sender, m.Validator, m.Amount)
	case Undelegate:
		return nil, tx.undelegate(sender, m.Validator, m.Amount)
	case WithdrawDelegatorReward:
		coins, err := tx.withdrawRewards(sender, m.Validator)
		if err != nil {
			return nil, err
		}
		return json.Marshal(coins)
	case SendPacket:
		info, err := contractInfos.Load(tx.store, sender)
		if err != nil {
			return nil, fmt.Errorf("contract %s: %w", sender, err)
		}
		if info.IBCPortID == "" {
			return nil, fmt.Errorf("contract %s has no ibc port", sender)
		}
		seq, err := tx.sendPacket(info.IBCPortID, m.ChannelID, m.Data)
		if err != nil {
			return nil, err
		}
		return []byte(fmt.Sprintf("%d", seq)), nil
	case Transfer:
		return nil, tx.sendTransfer(sender, m.ChannelID, m.ToAddress, m.Amount)
	default:
		return nil, fmt.Errorf("unsupported message %T", msg)
	}
}

// Balance implements Querier.
func (tx *txContext) Balance(address, denom string) (sdk.Coin, error) {
	return tx.balance(address, denom), nil
}

// QueryContract implements Querier.
func (tx *txContext) QueryContract(address string, query any, out any) error {
	bz, err := toJSON(query)
	if err != nil {
		return err
	}
	res, err := tx.queryContract(address, bz)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(res, out); err != nil {
		return fmt.Errorf("decode query response from %s: %w", address, err)
	}
	return nil
}

// Validators implements Querier.
func (tx *txContext) Validators() ([]string, error) {
	var out []string
	err := validators.Range(tx.store, func(_ string, v validator) (bool, error) {
		out = append(out, v.Operator)
		return true, nil
	})
	return out, err
}

// Delegation implements Querier.
func (tx *txContext) Delegation(delegator, validator string) (sdkmath.Int, error) {
	amount, ok, err := delegations.May(tx.store, delegator, validator)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if !ok {
		return sdkmath.ZeroInt(), nil
	}
	return amount, nil
}

// StakingDenom implements Querier.
func (tx *txContext) StakingDenom() string {
	return tx.chain.cfg.StakingDenom
}

// ValidateAddress implements Querier. Only account addresses with the chain
// prefix are accepted.
func (tx *txContext) ValidateAddress(address string) error {
	hrp, _, err := bech32.DecodeAndConvert(address)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", address, err)
	}
	if hrp != tx.chain.cfg.Bech32Prefix {
		return fmt.Errorf("invalid address %q: expected prefix %s", address, tx.chain.cfg.Bech32Prefix)
	}
	return nil
}
