package docker

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/osmosis-labs/mesh-harness/framework/config"
	"github.com/osmosis-labs/mesh-harness/framework/docker/cosmos"
	"github.com/osmosis-labs/mesh-harness/framework/docker/internal"
)

type execResult struct {
	stdout string
	exit   int
}

// routingClient runs every exec through the handler of the target container.
type routingClient struct {
	mu       sync.Mutex
	ids      map[string]string
	handlers map[string]func(cmd []string) execResult
	execs    map[string]execResult
	cmds     map[string][][]string
	files    map[string][]byte
}

func newRoutingClient() *routingClient {
	return &routingClient{
		ids:      make(map[string]string),
		handlers: make(map[string]func([]string) execResult),
		execs:    make(map[string]execResult),
		cmds:     make(map[string][][]string),
		files:    make(map[string][]byte),
	}
}

func (c *routingClient) add(name string, handler func(cmd []string) execResult) {
	id := "id-" + name
	c.ids[name] = id
	c.handlers[id] = handler
}

func (c *routingClient) ContainerID(_ context.Context, name string) (string, error) {
	id, ok := c.ids[name]
	if !ok {
		return "", fmt.Errorf("container %s is not running", name)
	}
	return id, nil
}

func (c *routingClient) ContainerExecCreate(_ context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmds[containerID] = append(c.cmds[containerID], options.Cmd)
	execID := fmt.Sprintf("exec-%d", len(c.execs))
	c.execs[execID] = c.handlers[containerID](options.Cmd)
	return container.ExecCreateResponse{ID: execID}, nil
}

func (c *routingClient) ContainerExecAttach(_ context.Context, execID string, _ container.ExecAttachOptions) (dockertypes.HijackedResponse, error) {
	c.mu.Lock()
	res := c.execs[execID]
	c.mu.Unlock()
	var buf bytes.Buffer
	if res.stdout != "" {
		if _, err := stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(res.stdout)); err != nil {
			return dockertypes.HijackedResponse{}, err
		}
	}
	conn, _ := net.Pipe()
	return dockertypes.HijackedResponse{Conn: conn, Reader: bufio.NewReader(&buf)}, nil
}

func (c *routingClient) ContainerExecInspect(_ context.Context, execID string) (container.ExecInspect, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return container.ExecInspect{ExitCode: c.execs[execID].exit}, nil
}

func (c *routingClient) CopyToContainer(_ context.Context, containerID, dstPath string, content io.Reader, _ container.CopyToContainerOptions) error {
	tr := tar.NewReader(content)
	hdr, err := tr.Next()
	if err != nil {
		return err
	}
	body, err := io.ReadAll(tr)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.files[containerID+":"+path.Join(dstPath, hdr.Name)] = body
	c.mu.Unlock()
	return nil
}

const committedSend = `{"height":"9","txhash":"AAA","code":0,"raw_log":"","gas_used":"1000","events":[]}`

// nodeHandler answers the CLI calls a cosmos.Chain makes.
func nodeHandler(bin, prefix string) func(cmd []string) execResult {
	return func(cmd []string) execResult {
		key := strings.Join(internal.Positional(cmd), " ")
		switch {
		case strings.HasPrefix(key, bin+" keys show"):
			return execResult{stdout: prefix + "1faucet\n"}
		case strings.HasPrefix(key, bin+" keys add"):
			name := internal.Positional(cmd)[3]
			return execResult{stdout: fmt.Sprintf(`{"name":%q,"address":"%s1%s","mnemonic":"abandon ability"}`, name, prefix, name)}
		case strings.HasPrefix(key, bin+" tx bank send"):
			return execResult{stdout: `{"height":"0","txhash":"AAA","code":0}`}
		case strings.HasPrefix(key, bin+" query tx"):
			return execResult{stdout: committedSend}
		}
		return execResult{stdout: "unknown command", exit: 1}
	}
}

func hermesHandler(cmd []string) execResult {
	if cmd[0] == "mkdir" {
		return execResult{}
	}
	return execResult{stdout: `{"result":"key added","status":"success"}`}
}

func newTestProvider(t *testing.T) (*Provider, *routingClient) {
	t.Helper()
	cli := newRoutingClient()
	cli.add("wasmd", nodeHandler("wasmd", "wasm"))
	cli.add("osmosis", nodeHandler("osmosisd", "osmo"))
	cli.add("hermes", hermesHandler)

	p := NewProvider(config.Default(), cli, zaptest.NewLogger(t),
		WithChainOptions(cosmos.WithInclusionPolling(time.Millisecond, 3)))
	t.Cleanup(func() { require.NoError(t, p.Close()) })
	return p, cli
}

func TestProviderGetChain(t *testing.T) {
	ctx := context.Background()
	p, cli := newTestProvider(t)

	chain, err := p.GetChain(ctx, "wasmd")
	require.NoError(t, err)
	require.Equal(t, "testing", chain.GetChainID())
	require.Equal(t, "wasm1faucet", chain.GetFaucetWallet().GetFormattedAddress())

	again, err := p.GetChain(ctx, "wasmd")
	require.NoError(t, err)
	require.Same(t, chain, again)
	require.Len(t, cli.cmds["id-wasmd"], 1)

	_, err = p.GetChain(ctx, "juno")
	require.Error(t, err)
}

func TestProviderGetChainRequiresContainer(t *testing.T) {
	cfg := config.Default()
	cfg.Chains[0].Container = ""
	p := NewProvider(cfg, newRoutingClient(), zaptest.NewLogger(t))

	_, err := p.GetChain(context.Background(), cfg.Chains[0].Name)
	require.ErrorContains(t, err, "no container")
}

func TestProviderRelayerConfig(t *testing.T) {
	ctx := context.Background()
	p, cli := newTestProvider(t)

	h, err := p.Relayer(ctx)
	require.NoError(t, err)
	again, err := p.Relayer(ctx)
	require.NoError(t, err)
	require.Same(t, h, again)

	rendered := string(cli.files["id-hermes:/home/hermes/.hermes/config.toml"])
	require.Contains(t, rendered, `rpc_addr = "http://wasmd:26657"`)
	require.Contains(t, rendered, `grpc_addr = "http://osmosis:9090"`)
	require.Contains(t, rendered, `url = "ws://osmosis:26657/websocket"`)
}

func TestProviderConnectorFundsRelayerWallets(t *testing.T) {
	ctx := context.Background()
	p, cli := newTestProvider(t)

	connector, err := p.Connector(ctx)
	require.NoError(t, err)

	a, b := connector.RelayerWallets()
	require.True(t, strings.HasPrefix(a.GetFormattedAddress(), "wasm1relayer-testing-"))
	require.True(t, strings.HasPrefix(b.GetFormattedAddress(), "osmo1relayer-osmo-testing-"))

	var send []string
	for _, cmd := range cli.cmds["id-wasmd"] {
		if strings.HasPrefix(strings.Join(internal.Positional(cmd), " "), "wasmd tx bank send") {
			send = internal.Positional(cmd)
		}
	}
	require.Equal(t, []string{"wasmd", "tx", "bank", "send", "validator", a.GetFormattedAddress(), "10000000ucosm"}, send)

	var keys [][]string
	for _, cmd := range cli.cmds["id-hermes"] {
		if cmd[0] == "hermes" {
			keys = append(keys, cmd)
		}
	}
	require.Len(t, keys, 2)
	require.Equal(t, "testing", internal.ParseCommandLineArgs(keys[0])["chain"])
	require.Equal(t, "abandon ability", string(cli.files["id-hermes:/home/hermes/mnemonic-osmo-testing.txt"]))

	rendered := string(cli.files["id-hermes:/home/hermes/.hermes/config.toml"])
	require.Contains(t, rendered, `rpc_addr = "http://wasmd:26657"`)
	require.NotContains(t, rendered, "localhost")
}
