// Package contracts holds Go renditions of the mesh-security CosmWasm
// contracts, runnable on a simnet chain.
package contracts

import (
	"encoding/json"
	"slices"
	"strings"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/osmosis-labs/mesh-harness/framework/mesh/msg"
	"github.com/osmosis-labs/mesh-harness/framework/simnet"
)

// Registry returns every mesh contract keyed by the name it is uploaded as.
func Registry() simnet.Registry {
	return simnet.Registry{
		msg.ContractVault:       Vault{},
		msg.ContractProvider:    Provider{},
		msg.ContractSlasher:     Slasher{},
		msg.ContractConsumer:    Consumer{},
		msg.ContractMetaStaking: MetaStaking{},
	}
}

func decode[T any](bz []byte) (T, error) {
	var v T
	if err := json.Unmarshal(bz, &v); err != nil {
		return v, errorsmod.Wrapf(ErrInvalidMessage, "%s", err)
	}
	return v, nil
}

func encode(v any) ([]byte, error) {
	bz, err := json.Marshal(v)
	if err != nil {
		return nil, errorsmod.Wrapf(ErrInvalidMessage, "encode: %s", err)
	}
	return bz, nil
}

// singleCoin returns the only coin sent with a message, which must be in denom.
func singleCoin(funds sdk.Coins, denom string) (sdk.Coin, error) {
	if len(funds) != 1 || funds[0].Denom != denom {
		return sdk.Coin{}, errorsmod.Wrapf(ErrIncorrectDenom, "expected exactly one %s coin, got %s", denom, funds)
	}
	return funds[0], nil
}

func loadInt(store simnet.KVStore, m simnet.Map[sdkmath.Int], parts ...string) (sdkmath.Int, error) {
	v, ok, err := m.May(store, parts...)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if !ok {
		return sdkmath.ZeroInt(), nil
	}
	return v, nil
}

// saveInt stores v, removing the entry when it is zero.
func saveInt(store simnet.KVStore, m simnet.Map[sdkmath.Int], v sdkmath.Int, parts ...string) error {
	if v.IsZero() {
		m.Remove(store, parts...)
		return nil
	}
	return m.Save(store, v, parts...)
}

func splitPair(key string) (string, string, bool) {
	return strings.Cut(key, "/")
}

func containsString(list []string, s string) bool {
	return slices.Contains(list, s)
}
