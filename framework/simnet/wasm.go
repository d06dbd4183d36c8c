package simnet

import (
	"fmt"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"go.uber.org/zap"
)

const wasmPortPrefix = "wasm."

type codeInfo struct {
	Name    string `json:"name"`
	Creator string `json:"creator"`
}

type contractInfo struct {
	CodeID    uint64 `json:"code_id"`
	Creator   string `json:"creator"`
	Admin     string `json:"admin,omitempty"`
	Label     string `json:"label"`
	IBCPortID string `json:"ibc_port_id,omitempty"`
}

var (
	codes          Map[codeInfo]     = "wasm/code"
	contractInfos  Map[contractInfo] = "wasm/contract"
	lastCodeID     Item[uint64]      = "wasm/last_code_id"
	lastInstanceID Item[uint64]      = "wasm/last_instance_id"
)

func codeKey(id uint64) string {
	return fmt.Sprintf("%020d", id)
}

func contractStorePrefix(addr string) string {
	return "wasm/state/" + addr + "/"
}

// storeCode registers an artifact produced by Wasm under a new code ID.
func (tx *txContext) storeCode(sender string, wasm []byte) (uint64, error) {
	name, err := contractNameFromWasm(wasm)
	if err != nil {
		return 0, err
	}
	if _, ok := tx.chain.registry[name]; !ok {
		return 0, fmt.Errorf("no contract registered as %q", name)
	}

	id, _, err := lastCodeID.May(tx.store)
	if err != nil {
		return 0, err
	}
	id++
	if err := lastCodeID.Save(tx.store, id); err != nil {
		return 0, err
	}
	if err := codes.Save(tx.store, codeInfo{Name: name, Creator: sender}, codeKey(id)); err != nil {
		return 0, err
	}
	tx.logger().Debug("stored code", zap.String("contract", name), zap.Uint64("code_id", id))
	return id, nil
}

// instantiate creates a contract, binding a port when it speaks IBC.
func (tx *txContext) instantiate(sender string, codeID uint64, msg []byte, funds sdk.Coins, label, admin string) (string, error) {
	code, err := codes.Load(tx.store, codeKey(codeID))
	if err != nil {
		return "", fmt.Errorf("code %d: %w", codeID, err)
	}
	impl := tx.chain.registry[code.Name]

	instance, _, err := lastInstanceID.May(tx.store)
	if err != nil {
		return "", err
	}
	instance++
	if err := lastInstanceID.Save(tx.store, instance); err != nil {
		return "", err
	}

	addr := tx.chain.contractAddress(codeID, instance)
	info := contractInfo{CodeID: codeID, Creator: sender, Admin: admin, Label: label}
	if _, ok := impl.(IBCContract); ok {
		info.IBCPortID = wasmPortPrefix + addr
		if err := tx.bindPort(info.IBCPortID, addr); err != nil {
			return "", err
		}
	}
	if err := contractInfos.Save(tx.store, info, addr); err != nil {
		return "", err
	}

	if err := tx.send(sender, addr, funds); err != nil {
		return "", err
	}
	resp, err := impl.Instantiate(tx.contractCtx(addr, info), MessageInfo{Sender: sender, Funds: funds}, msg)
	if err != nil {
		return "", fmt.Errorf("instantiate %s: %w", code.Name, err)
	}
	if err := tx.dispatch(addr, resp); err != nil {
		return "", err
	}

	tx.logger().Debug("instantiated contract",
		zap.String("contract", code.Name),
		zap.String("address", addr),
		zap.String("port", info.IBCPortID))
	return addr, nil
}

// execute calls a contract and returns its response data.
func (tx *txContext) execute(sender, contract string, msg []byte, funds sdk.Coins) ([]byte, error) {
	impl, info, err := tx.contract(contract)
	if err != nil {
		return nil, err
	}
	if err := tx.send(sender, contract, funds); err != nil {
		return nil, err
	}
	resp, err := impl.Execute(tx.contractCtx(contract, info), MessageInfo{Sender: sender, Funds: funds}, msg)
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", contract, err)
	}
	if err := tx.dispatch(contract, resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// reply delivers the result of a sub-message to the contract that sent it.
func (tx *txContext) reply(contract string, r Reply) error {
	impl, info, err := tx.contract(contract)
	if err != nil {
		return err
	}
	replier, ok := impl.(Replier)
	if !ok {
		return fmt.Errorf("contract %s does not handle replies", contract)
	}
	resp, err := replier.Reply(tx.contractCtx(contract, info), r)
	if err != nil {
		return fmt.Errorf("reply %d to %s: %w", r.ID, contract, err)
	}
	return tx.dispatch(contract, resp)
}

// queryContract runs a smart query against a read-only view of the contract state.
func (tx *txContext) queryContract(contract string, msg []byte) ([]byte, error) {
	impl, info, err := tx.contract(contract)
	if err != nil {
		return nil, err
	}
	ctx := tx.contractCtx(contract, info)
	ctx.Store = readOnlyStore{ctx.Store}
	res, err := impl.Query(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", contract, err)
	}
	return res, nil
}

func (tx *txContext) contract(addr string) (Contract, contractInfo, error) {
	info, err := contractInfos.Load(tx.store, addr)
	if err != nil {
		return nil, contractInfo{}, fmt.Errorf("contract %s: %w", addr, err)
	}
	code, err := codes.Load(tx.store, codeKey(info.CodeID))
	if err != nil {
		return nil, contractInfo{}, fmt.Errorf("code %d: %w", info.CodeID, err)
	}
	impl, ok := tx.chain.registry[code.Name]
	if !ok {
		return nil, contractInfo{}, fmt.Errorf("no contract registered as %q", code.Name)
	}
	return impl, info, nil
}

func (tx *txContext) contractCtx(addr string, info contractInfo) Ctx {
	return Ctx{
		Env: Env{
			ChainID:  tx.chain.cfg.ChainID,
			Height:   tx.height,
			Time:     tx.time,
			Contract: addr,
			PortID:   info.IBCPortID,
		},
		Store:   newPrefixStore(tx.store, contractStorePrefix(addr)),
		Querier: tx,
		Logger:  tx.logger().With(zap.String("contract", addr)),
	}
}
