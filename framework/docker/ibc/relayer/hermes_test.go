package relayer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/osmosis-labs/mesh-harness/framework/docker/internal"
	"github.com/osmosis-labs/mesh-harness/framework/ibc"
	"github.com/osmosis-labs/mesh-harness/framework/simnet"
	"github.com/osmosis-labs/mesh-harness/framework/types"
)

type scriptedRunner struct {
	handle func(cmd []string) (stdout string, err error)
	cmds   [][]string
	files  map[string][]byte
}

func newScriptedRunner(handle func(cmd []string) (string, error)) *scriptedRunner {
	return &scriptedRunner{handle: handle, files: make(map[string][]byte)}
}

func (r *scriptedRunner) Exec(_ context.Context, cmd ...string) ([]byte, []byte, error) {
	r.cmds = append(r.cmds, cmd)
	out, err := r.handle(cmd)
	return []byte(out), []byte("hermes stderr"), err
}

func (r *scriptedRunner) WriteFile(_ context.Context, dst string, content []byte) error {
	r.files[dst] = content
	return nil
}

func subcommand(cmd []string) string {
	// drop the binary name
	return strings.Join(internal.Positional(cmd)[1:], " ")
}

func chainConfig(id, prefix, denom string) types.ChainConfig {
	return types.ChainConfig{
		Name:         id,
		ChainID:      id,
		Bech32Prefix: prefix,
		Denom:        denom,
		StakingDenom: denom,
		GasPrices:    "0.025" + denom,
		RPCAddress:   "http://" + id + ":26657",
		GRPCAddress:  "http://" + id + ":9090",
	}
}

func newChains(t *testing.T) (types.Chain, types.Chain) {
	t.Helper()
	a, err := simnet.NewChain(chainConfig("consumer", "wasm", "ucosm"), zaptest.NewLogger(t))
	require.NoError(t, err)
	b, err := simnet.NewChain(chainConfig("provider", "osmo", "uosmo"), zaptest.NewLogger(t))
	require.NoError(t, err)
	return a, b
}

const (
	logLine        = `{"timestamp":"Oct 17 10:00:00.000","level":"INFO","fields":{"message":"running"}}`
	connectionJSON = `{"result":{"a_side":{"client_id":"07-tendermint-0","connection_id":"connection-0"},` +
		`"b_side":{"client_id":"07-tendermint-1","connection_id":"connection-2"},"delay_period":{"secs":0,"nanos":0}},"status":"success"}`
	channelJSON = `{"result":{"ordering":"Unordered","a_side":{"client_id":"07-tendermint-1","connection_id":"connection-2",` +
		`"port_id":"wasm.osmo1provider","channel_id":"channel-5","version":"mesh-v1"},"b_side":{"client_id":"07-tendermint-0",` +
		`"connection_id":"connection-0","port_id":"wasm.wasm1consumer","channel_id":"channel-1","version":"mesh-v1"}},"status":"success"}`
)

func TestNewHermesConfig(t *testing.T) {
	cfg, err := NewHermesConfig([]types.ChainConfig{chainConfig("consumer", "wasm", "ucosm")})
	require.NoError(t, err)

	bz, err := cfg.ToTOML()
	require.NoError(t, err)

	var decoded map[string]any
	_, err = toml.Decode(string(bz), &decoded)
	require.NoError(t, err)

	chains := decoded["chains"].([]map[string]any)
	require.Len(t, chains, 1)
	chain := chains[0]
	require.Equal(t, "consumer", chain["id"])
	require.Equal(t, "relayer-consumer", chain["key_name"])
	require.Equal(t, "Test", chain["key_store_type"])
	require.Equal(t, "wasm", chain["account_prefix"])
	require.NotContains(t, chain, "key_store")
	require.NotContains(t, chain, "proof_specs")
	require.Equal(t, "ws://consumer:26657/websocket", chain["event_source"].(map[string]any)["url"])
	require.Equal(t, 0.025, chain["gas_price"].(map[string]any)["price"])

	packets := decoded["mode"].(map[string]any)["packets"].(map[string]any)
	require.Equal(t, false, packets["enabled"])
}

func TestNewHermesConfigValidation(t *testing.T) {
	free := chainConfig("free", "wasm", "ucosm")
	free.GasPrices = ""
	cfg, err := NewHermesConfig([]types.ChainConfig{free})
	require.NoError(t, err)
	require.Zero(t, cfg.Chains[0].GasPrice.Price)

	noRPC := chainConfig("nowhere", "wasm", "ucosm")
	noRPC.RPCAddress = ""
	_, err = NewHermesConfig([]types.ChainConfig{noRPC})
	require.Error(t, err)

	bad := chainConfig("bad", "wasm", "ucosm")
	bad.GasPrices = "cheapucosm"
	_, err = NewHermesConfig([]types.ChainConfig{bad})
	require.Error(t, err)
}

func TestWebsocketURL(t *testing.T) {
	require.Equal(t, "ws://wasmd:26657/websocket", websocketURL("http://wasmd:26657"))
	require.Equal(t, "wss://rpc.example.com/websocket", websocketURL("https://rpc.example.com/"))
	require.Equal(t, "ws://localhost:26657/websocket", websocketURL("tcp://localhost:26657"))
}

func TestInitAndAddKey(t *testing.T) {
	ctx := context.Background()
	runner := newScriptedRunner(func(cmd []string) (string, error) {
		return logLine + "\n" + `{"result":"Restored key 'relayer-consumer'","status":"success"}`, nil
	})
	h := NewHermes(zaptest.NewLogger(t), runner, "", "")

	require.NoError(t, h.Init(ctx, chainConfig("consumer", "wasm", "ucosm"), chainConfig("provider", "osmo", "uosmo")))
	require.NoError(t, h.Init(ctx, chainConfig("consumer", "wasm", "ucosm")))
	var cfg HermesConfig
	_, err := toml.Decode(string(runner.files["/home/hermes/.hermes/config.toml"]), &cfg)
	require.NoError(t, err)
	require.Len(t, cfg.Chains, 2)

	err = h.AddKey(ctx, "consumer", &types.Wallet{KeyName: "relayer"})
	require.Error(t, err)

	require.NoError(t, h.AddKey(ctx, "consumer", &types.Wallet{KeyName: "relayer", Mnemonic: "a b c"}))
	require.Equal(t, "a b c", string(runner.files["/home/hermes/mnemonic-consumer.txt"]))
	cmd := runner.cmds[len(runner.cmds)-1]
	require.Equal(t, []string{"hermes", "keys", "add"}, internal.Positional(cmd))
	args := internal.ParseCommandLineArgs(cmd)
	require.Equal(t, "/home/hermes/.hermes/config.toml", args["config"])
	require.Equal(t, "relayer-consumer", args["key-name"])
	require.Contains(t, args, "json")
}

func TestInitAppliesOverrides(t *testing.T) {
	runner := newScriptedRunner(func([]string) (string, error) { return "", nil })
	h := NewHermes(zaptest.NewLogger(t), runner, "", "/data",
		WithConfigOverrides(map[string]any{"global": map[string]any{"log_level": "debug"}}))

	require.NoError(t, h.Init(context.Background(), chainConfig("consumer", "wasm", "ucosm")))
	require.Equal(t, []string{"mkdir", "-p", "/data/.hermes"}, runner.cmds[0])

	var cfg HermesConfig
	_, err := toml.Decode(string(runner.files["/data/.hermes/config.toml"]), &cfg)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Global.LogLevel)
	require.Equal(t, "consumer", cfg.Chains[0].ID)
}

func TestCreateLinkAndChannel(t *testing.T) {
	ctx := context.Background()
	a, b := newChains(t)
	runner := newScriptedRunner(func(cmd []string) (string, error) {
		switch subcommand(cmd) {
		case "create connection":
			return logLine + "\n" + connectionJSON, nil
		case "create channel":
			return channelJSON, nil
		}
		return "", errors.New("unexpected")
	})
	h := NewHermes(zaptest.NewLogger(t), runner, "", "")

	link, err := h.CreateLink(ctx, a, b)
	require.NoError(t, err)
	require.Equal(t, "connection-0", link.EndA().ConnectionID())
	require.Equal(t, "connection-2", link.EndB().ConnectionID())
	require.Equal(t, "07-tendermint-1", link.EndB().Connection.ClientID)
	require.Equal(t, "provider", link.EndB().Chain.ChainID)

	ch, err := link.CreateChannel(ctx, ibc.SideB, ibc.CreateChannelOptions{
		SourcePortName: "wasm.osmo1provider",
		DestPortName:   "wasm.wasm1consumer",
		Version:        "mesh-v1",
	})
	require.NoError(t, err)
	require.Equal(t, "channel-5", ch.ChannelID)
	require.Equal(t, "channel-1", ch.CounterpartyID)
	require.Equal(t, ibc.OrderUnordered, ch.Order)
	require.Equal(t, "mesh-v1", ch.Version)

	args := internal.ParseCommandLineArgs(runner.cmds[len(runner.cmds)-1])
	require.Equal(t, "provider", args["a-chain"])
	require.Equal(t, "connection-2", args["a-connection"])
	require.Equal(t, "unordered", args["order"])

	stored := link.(*Link).channels
	require.Len(t, stored, 1)
	require.Equal(t, "channel-1", stored[0].ChannelID)
	require.Equal(t, "wasm.wasm1consumer", stored[0].PortID)
	require.Equal(t, "connection-0", stored[0].ConnectionID)
}

func TestCreateChannelRejected(t *testing.T) {
	ctx := context.Background()
	a, b := newChains(t)
	runner := newScriptedRunner(func(cmd []string) (string, error) {
		if subcommand(cmd) == "create connection" {
			return connectionJSON, nil
		}
		return `{"result":"channel open init failed: execute wasm contract failed: Unauthorized","status":"error"}`, errors.New("exit status 1")
	})
	link, err := NewHermes(zaptest.NewLogger(t), runner, "", "").CreateLink(ctx, a, b)
	require.NoError(t, err)

	_, err = link.CreateChannel(ctx, ibc.SideA, ibc.CreateChannelOptions{SourcePortName: "1", DestPortName: "wasm.osmo1provider"})
	require.ErrorIs(t, err, ErrHermes)
	require.Contains(t, err.Error(), "Unauthorized")
	require.Empty(t, link.(*Link).channels)
}

func TestRelayAll(t *testing.T) {
	ctx := context.Background()
	a, b := newChains(t)

	// consumer sent two packets, provider one
	recvOnProvider := `{"result":[` +
		`{"event":{"UpdateClient":{"common":{"client_id":"07-tendermint-1"}}},"height":"1-20"},` +
		`{"event":{"ReceivePacket":{"packet":{"sequence":"1","source_port":"wasm.wasm1consumer","source_channel":"channel-1",` +
		`"destination_port":"wasm.osmo1provider","destination_channel":"channel-5","data":"7B7D"}}},"height":"1-20"},` +
		`{"event":{"WriteAcknowledgement":{"packet":{"sequence":"1","source_port":"wasm.wasm1consumer","source_channel":"channel-1",` +
		`"destination_port":"wasm.osmo1provider","destination_channel":"channel-5","data":"7B7D"},"ack":"7B22726573756C74223A2241513D3D227D"}},"height":"1-20"},` +
		`{"event":{"WriteAcknowledgement":{"packet":{"sequence":2,"source_port":"wasm.wasm1consumer","source_channel":"channel-1",` +
		`"destination_port":"wasm.osmo1provider","destination_channel":"channel-5","data":[123,125]},"ack":"7B226572726F72223A2278227D"}},"height":"1-20"}` +
		`],"status":"success"}`
	recvOnConsumer := `{"result":[` +
		`{"WriteAcknowledgement":{"packet":{"sequence":"1","source_port":"wasm.osmo1provider","source_channel":"channel-5",` +
		`"destination_port":"wasm.wasm1consumer","destination_channel":"channel-1","data":"7B7D"},"ack":"7B22726573756C74223A2241513D3D227D"}}` +
		`],"status":"success"}`

	relayed := map[string]bool{}
	runner := newScriptedRunner(func(cmd []string) (string, error) {
		args := internal.ParseCommandLineArgs(cmd)
		switch subcommand(cmd) {
		case "create connection":
			return connectionJSON, nil
		case "create channel":
			return channelJSON, nil
		case "tx packet-recv":
			key := "recv " + args["dst-chain"]
			if relayed[key] {
				return `{"result":[],"status":"success"}`, nil
			}
			relayed[key] = true
			if args["dst-chain"] == "provider" {
				require.Equal(t, "channel-1", args["src-channel"])
				return recvOnProvider, nil
			}
			require.Equal(t, "channel-5", args["src-channel"])
			return recvOnConsumer, nil
		case "tx packet-ack":
			relayed["ack "+args["dst-chain"]] = true
			return `{"result":[{"event":{"AcknowledgePacket":{"packet":{"sequence":"1","source_port":"p","source_channel":"c",` +
				`"destination_port":"q","destination_channel":"d","data":""}}},"height":"1-21"}],"status":"success"}`, nil
		}
		return "", errors.New("unexpected")
	})

	link, err := NewHermes(zaptest.NewLogger(t), runner, "", "").CreateLink(ctx, a, b)
	require.NoError(t, err)
	_, err = link.CreateChannel(ctx, ibc.SideB, ibc.CreateChannelOptions{
		SourcePortName: "wasm.osmo1provider",
		DestPortName:   "wasm.wasm1consumer",
		Version:        "mesh-v1",
	})
	require.NoError(t, err)

	info, err := link.RelayAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, info.PacketsFromA)
	require.Equal(t, 1, info.PacketsFromB)
	require.Len(t, info.AcksFromB, 2)
	require.Len(t, info.AcksFromA, 1)
	require.Equal(t, `{"result":"AQ=="}`, string(info.AcksFromB[0].Acknowledgement))
	require.Equal(t, `{"error":"x"}`, string(info.AcksFromB[1].Acknowledgement))
	require.Equal(t, []byte("{}"), info.AcksFromB[1].Packet.Data)
	require.EqualValues(t, 2, info.AcksFromB[1].Packet.Sequence)
	require.True(t, relayed["ack consumer"])
	require.True(t, relayed["ack provider"])

	require.NoError(t, ibc.AssertPacketsFromB(info, 1, true))
	require.Error(t, ibc.AssertPacketsFromA(info, 2, true))

	again, err := link.RelayAll(ctx)
	require.NoError(t, err)
	require.True(t, again.Empty())
}

func TestRelayAllChainError(t *testing.T) {
	ctx := context.Background()
	a, b := newChains(t)
	runner := newScriptedRunner(func(cmd []string) (string, error) {
		switch subcommand(cmd) {
		case "create connection":
			return connectionJSON, nil
		case "create channel":
			return channelJSON, nil
		}
		return `{"result":[{"ChainError":"out of gas"}],"status":"success"}`, nil
	})
	link, err := NewHermes(zaptest.NewLogger(t), runner, "", "").CreateLink(ctx, a, b)
	require.NoError(t, err)
	_, err = link.CreateChannel(ctx, ibc.SideA, ibc.CreateChannelOptions{SourcePortName: "a", DestPortName: "b"})
	require.NoError(t, err)

	_, err = link.RelayAll(ctx)
	require.ErrorIs(t, err, ErrHermes)
	require.Contains(t, err.Error(), "out of gas")
}

func TestRunWithoutResultLine(t *testing.T) {
	runner := newScriptedRunner(func([]string) (string, error) {
		return logLine, errors.New("exit status 2")
	})
	h := NewHermes(zaptest.NewLogger(t), runner, "", "")
	_, err := h.run(context.Background(), "version")
	require.ErrorContains(t, err, "exit status 2")
	require.ErrorContains(t, err, "hermes stderr")
}
