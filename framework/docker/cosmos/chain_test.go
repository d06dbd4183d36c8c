package cosmos

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	coretypes "github.com/cometbft/cometbft/rpc/core/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"

	"github.com/osmosis-labs/mesh-harness/framework/docker/internal"
	"github.com/osmosis-labs/mesh-harness/framework/types"
)

// fakeRunner answers commands by matching their leading positional arguments.
type fakeRunner struct {
	responses map[string][]string
	cmds      [][]string
	files     map[string][]byte
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: make(map[string][]string), files: make(map[string][]byte)}
}

// on queues stdout for the next command whose positional arguments start with prefix.
func (f *fakeRunner) on(prefix string, stdout ...string) {
	f.responses[prefix] = append(f.responses[prefix], stdout...)
}

func (f *fakeRunner) Exec(_ context.Context, cmd ...string) ([]byte, []byte, error) {
	f.cmds = append(f.cmds, cmd)
	key := strings.Join(internal.Positional(cmd), " ")
	for prefix, queue := range f.responses {
		if !strings.HasPrefix(key, prefix) || len(queue) == 0 {
			continue
		}
		out := queue[0]
		f.responses[prefix] = queue[1:]
		if out == "ERR" {
			return nil, []byte("not found"), errors.New("exit status 1")
		}
		return []byte(out), nil, nil
	}
	return nil, nil, errors.New("unexpected command: " + key)
}

func (f *fakeRunner) WriteFile(_ context.Context, dst string, content []byte) error {
	f.files[dst] = content
	return nil
}

func (f *fakeRunner) last(prefix string) []string {
	for i := len(f.cmds) - 1; i >= 0; i-- {
		if strings.HasPrefix(strings.Join(internal.Positional(f.cmds[i]), " "), prefix) {
			return f.cmds[i]
		}
	}
	return nil
}

type fakeStatus struct{ height int64 }

func (f fakeStatus) Status(context.Context) (*coretypes.ResultStatus, error) {
	return &coretypes.ResultStatus{SyncInfo: coretypes.SyncInfo{LatestBlockHeight: f.height}}, nil
}

type fakeBank struct {
	banktypes.QueryClient
	balances map[string]sdk.Coin
}

func (f fakeBank) Balance(_ context.Context, req *banktypes.QueryBalanceRequest, _ ...grpc.CallOption) (*banktypes.QueryBalanceResponse, error) {
	if c, ok := f.balances[req.Address+"/"+req.Denom]; ok {
		return &banktypes.QueryBalanceResponse{Balance: &c}, nil
	}
	return &banktypes.QueryBalanceResponse{}, nil
}

func testConfig() Config {
	return Config{
		ChainConfig: types.ChainConfig{
			Name:          "wasmd",
			ChainID:       "testing",
			Bin:           "wasmd",
			Bech32Prefix:  "wasm",
			Denom:         "ucosm",
			StakingDenom:  "ustake",
			GasPrices:     "0.025ucosm",
			GasAdjustment: 1.3,
			ICS20Port:     "transfer",
		},
		Home:      "/root/.wasmd",
		FaucetKey: "validator",
	}
}

func newTestChain(t *testing.T, runner *fakeRunner, opts ...Option) *Chain {
	t.Helper()
	runner.on("wasmd keys show validator", "wasm1faucet\n")
	opts = append([]Option{
		WithInclusionPolling(time.Millisecond, 3),
		WithStatusClient(fakeStatus{height: 42}),
		WithBankClient(fakeBank{balances: map[string]sdk.Coin{
			"wasm1faucet/ucosm": sdk.NewCoin("ucosm", sdkmath.NewInt(1000)),
		}}),
	}, opts...)
	c, err := NewChain(context.Background(), zaptest.NewLogger(t), testConfig(), runner, opts...)
	require.NoError(t, err)
	return c
}

const (
	broadcastOK = `{"height":"0","txhash":"ABC","code":0,"raw_log":""}`
	committedOK = `{"height":"17","txhash":"ABC","code":0,"raw_log":"","gas_used":"81234","events":[` +
		`{"type":"tx","attributes":[{"key":"fee","value":"2031ucosm"}]},` +
		`{"type":"store_code","attributes":[{"key":"code_id","value":"7"}]},` +
		`{"type":"instantiate","attributes":[{"key":"_contract_address","value":"wasm1contract"},{"key":"code_id","value":"7"}]}]}`
)

func TestNewChainResolvesFaucet(t *testing.T) {
	runner := newFakeRunner()
	c := newTestChain(t, runner)

	require.Equal(t, "wasm1faucet", c.GetFaucetWallet().GetFormattedAddress())
	args := internal.ParseCommandLineArgs(runner.last("wasmd keys show"))
	require.Equal(t, "/root/.wasmd", args["home"])
	require.Equal(t, "test", args["keyring-backend"])
}

func TestExecuteBuildsTxAndWaitsForInclusion(t *testing.T) {
	runner := newFakeRunner()
	c := newTestChain(t, runner)
	runner.on("wasmd tx wasm execute", broadcastOK)
	runner.on("wasmd query tx ABC", "ERR", committedOK)

	res, err := c.Execute(context.Background(), c.GetFaucetWallet(), "wasm1contract",
		map[string]any{"bond": struct{}{}}, sdk.NewCoins(sdk.NewInt64Coin("ustake", 100)))
	require.NoError(t, err)
	require.Equal(t, "ABC", res.TxHash)
	require.EqualValues(t, 17, res.Height)
	require.EqualValues(t, 81234, res.GasUsed)
	require.Equal(t, "2031ucosm", res.Fee.String())

	cmd := runner.last("wasmd tx wasm execute")
	require.Equal(t, []string{"wasmd", "tx", "wasm", "execute", "wasm1contract", `{"bond":{}}`}, internal.Positional(cmd))
	args := internal.ParseCommandLineArgs(cmd)
	require.Equal(t, "validator", args["from"])
	require.Equal(t, "testing", args["chain-id"])
	require.Equal(t, "100ustake", args["amount"])
	require.Equal(t, "0.025ucosm", args["gas-prices"])
	require.Equal(t, "1.3", args["gas-adjustment"])
	require.Equal(t, "sync", args["broadcast-mode"])
	require.Contains(t, args, "yes")
}

func TestCheckTxFailureIsNotAwaited(t *testing.T) {
	runner := newFakeRunner()
	c := newTestChain(t, runner)
	runner.on("wasmd tx bank send", `{"height":"0","txhash":"DEF","code":5,"raw_log":"insufficient funds"}`)

	res, err := c.SendFunds(context.Background(), c.GetFaucetWallet(), "wasm1dest", sdk.NewCoins(sdk.NewInt64Coin("ucosm", 5)))
	require.NoError(t, err)
	require.EqualValues(t, 5, res.Code)
	require.Equal(t, "insufficient funds", res.RawLog)
	require.Nil(t, runner.last("wasmd query tx"))
}

func TestInclusionTimeout(t *testing.T) {
	runner := newFakeRunner()
	c := newTestChain(t, runner)
	runner.on("wasmd tx ibc-transfer transfer", broadcastOK)
	runner.on("wasmd query tx ABC", "ERR", "ERR", "ERR")

	_, err := c.Transfer(context.Background(), c.GetFaucetWallet(), "channel-0", "osmo1dest", sdk.NewInt64Coin("ustake", 5))
	require.ErrorIs(t, err, ErrTxNotFound)

	cmd := runner.last("wasmd tx ibc-transfer transfer")
	require.Equal(t, []string{"wasmd", "tx", "ibc-transfer", "transfer", "transfer", "channel-0", "osmo1dest", "5ustake"}, internal.Positional(cmd))
}

func TestUploadAndInstantiate(t *testing.T) {
	ctx := context.Background()
	runner := newFakeRunner()
	c := newTestChain(t, runner)
	runner.on("wasmd tx wasm store", broadcastOK)
	runner.on("wasmd tx wasm instantiate", broadcastOK)
	runner.on("wasmd query tx ABC", committedOK, committedOK)

	codeID, err := c.Upload(ctx, c.GetFaucetWallet(), []byte("\x00asm"))
	require.NoError(t, err)
	require.EqualValues(t, 7, codeID)

	stored := internal.Positional(runner.last("wasmd tx wasm store"))
	require.Len(t, stored, 5)
	require.Equal(t, []byte("\x00asm"), runner.files[stored[4]])

	addr, err := c.Instantiate(ctx, c.GetFaucetWallet(), codeID, "mesh_vault", `{"denom":"ustake"}`, nil)
	require.NoError(t, err)
	require.Equal(t, "wasm1contract", addr)

	args := internal.ParseCommandLineArgs(runner.last("wasmd tx wasm instantiate"))
	require.Equal(t, "mesh_vault", args["label"])
	require.Equal(t, "wasm1faucet", args["admin"])
	require.NotContains(t, args, "amount")
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	runner := newFakeRunner()
	c := newTestChain(t, runner)

	runner.on("wasmd query wasm contract-state smart", `{"data":{"validators":["wasmvaloper1a","wasmvaloper1b"]}}`)
	var vals struct {
		Validators []string `json:"validators"`
	}
	require.NoError(t, c.QueryContractSmart(ctx, "wasm1provider", map[string]any{"list_validators": struct{}{}}, &vals))
	require.Equal(t, []string{"wasmvaloper1a", "wasmvaloper1b"}, vals.Validators)

	runner.on("wasmd query wasm contract wasm1consumer",
		`{"address":"wasm1consumer","contract_info":{"code_id":"4","creator":"wasm1c","admin":"wasm1a","label":"mesh_consumer","ibc_port_id":"wasm.wasm1consumer"}}`)
	info, err := c.GetContract(ctx, "wasm1consumer")
	require.NoError(t, err)
	require.EqualValues(t, 4, info.CodeID)
	require.Equal(t, "wasm.wasm1consumer", info.IBCPortID)

	runner.on("wasmd query staking validators", `{"validators":[{"operator_address":"wasmvaloper1a"}],"pagination":{}}`)
	operators, err := c.Validators(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"wasmvaloper1a"}, operators)

	runner.on("wasmd query staking delegation", `{"delegation_response":{"balance":{"denom":"ustake","amount":"150000"}}}`)
	del, err := c.Delegation(ctx, "wasm1meta", "wasmvaloper1a")
	require.NoError(t, err)
	require.True(t, del.Amount.Equal(sdkmath.NewInt(150_000)))

	h, err := c.Height(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 42, h)

	bal, err := c.GetBalance(ctx, "wasm1faucet", "ucosm")
	require.NoError(t, err)
	require.Equal(t, "1000ucosm", bal.String())

	empty, err := c.GetBalance(ctx, "wasm1nobody", "ucosm")
	require.NoError(t, err)
	require.True(t, empty.IsZero())
}

func TestCreateWallet(t *testing.T) {
	runner := newFakeRunner()
	c := newTestChain(t, runner)
	runner.on("wasmd keys add alice", `{"name":"alice","type":"local","address":"wasm1alice","mnemonic":"word word word"}`)

	w, err := c.CreateWallet(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, "wasm1alice", w.GetFormattedAddress())
	require.Equal(t, "word word word", w.Mnemonic)
}
