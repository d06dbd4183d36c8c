package cosmos

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/osmosis-labs/mesh-harness/framework/types"
)

// txResponse is the proto3 JSON the CLI prints for broadcast and `query tx`.
// Integers arrive as strings.
type txResponse struct {
	Height  string  `json:"height"`
	TxHash  string  `json:"txhash"`
	Code    uint32  `json:"code"`
	RawLog  string  `json:"raw_log"`
	GasUsed string  `json:"gas_used"`
	Events  []event `json:"events"`
}

type event struct {
	Type       string      `json:"type"`
	Attributes []attribute `json:"attributes"`
}

type attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (r txResponse) result() (types.TxResult, error) {
	res := types.TxResult{TxHash: r.TxHash, Code: r.Code, RawLog: r.RawLog}
	if r.Height != "" {
		h, err := strconv.ParseInt(r.Height, 10, 64)
		if err != nil {
			return res, fmt.Errorf("parse height %q: %w", r.Height, err)
		}
		res.Height = h
	}
	if r.GasUsed != "" {
		g, err := strconv.ParseInt(r.GasUsed, 10, 64)
		if err != nil {
			return res, fmt.Errorf("parse gas used %q: %w", r.GasUsed, err)
		}
		res.GasUsed = g
	}
	for _, e := range r.Events {
		if e.Type != "tx" {
			continue
		}
		for _, a := range e.Attributes {
			if a.Key != "fee" || a.Value == "" {
				continue
			}
			fee, err := sdk.ParseCoinsNormalized(a.Value)
			if err != nil {
				return res, fmt.Errorf("parse fee %q: %w", a.Value, err)
			}
			res.Fee = res.Fee.Add(fee...)
		}
	}
	return res, nil
}

// attribute returns the first value of key in an event of type typ.
func (r txResponse) attribute(typ, key string) (string, bool) {
	for _, e := range r.Events {
		if e.Type != typ {
			continue
		}
		for _, a := range e.Attributes {
			if a.Key == key {
				return a.Value, true
			}
		}
	}
	return "", false
}

func parseTxResponse(bz []byte) (txResponse, error) {
	var res txResponse
	if err := json.Unmarshal(lastJSONLine(bz), &res); err != nil {
		return res, fmt.Errorf("decode tx response %q: %w", strings.TrimSpace(string(bz)), err)
	}
	return res, nil
}

// lastJSONLine drops anything the CLI printed before its JSON output, such as
// the gas estimate.
func lastJSONLine(bz []byte) []byte {
	lines := strings.Split(strings.TrimSpace(string(bz)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); strings.HasPrefix(l, "{") {
			return []byte(l)
		}
	}
	return bz
}

type keyOutput struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Mnemonic string `json:"mnemonic"`
}

type contractStateResponse struct {
	Data json.RawMessage `json:"data"`
}

type contractResponse struct {
	Address      string `json:"address"`
	ContractInfo struct {
		CodeID    string `json:"code_id"`
		Creator   string `json:"creator"`
		Admin     string `json:"admin"`
		Label     string `json:"label"`
		IBCPortID string `json:"ibc_port_id"`
	} `json:"contract_info"`
}

func (r contractResponse) info() (types.ContractInfo, error) {
	codeID, err := strconv.ParseUint(r.ContractInfo.CodeID, 10, 64)
	if err != nil {
		return types.ContractInfo{}, fmt.Errorf("parse code id %q: %w", r.ContractInfo.CodeID, err)
	}
	return types.ContractInfo{
		Address:   r.Address,
		CodeID:    codeID,
		Creator:   r.ContractInfo.Creator,
		Admin:     r.ContractInfo.Admin,
		Label:     r.ContractInfo.Label,
		IBCPortID: r.ContractInfo.IBCPortID,
	}, nil
}

type validatorsResponse struct {
	Validators []struct {
		OperatorAddress string `json:"operator_address"`
	} `json:"validators"`
}

type delegationResponse struct {
	DelegationResponse struct {
		Balance sdk.Coin `json:"balance"`
	} `json:"delegation_response"`
}

func encodeMsg(msg any) (string, error) {
	switch m := msg.(type) {
	case string:
		return m, nil
	case []byte:
		return string(m), nil
	case json.RawMessage:
		return string(m), nil
	}
	bz, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	return string(bz), nil
}
