package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/osmosis-labs/mesh-harness/framework/docker/internal"
	"github.com/osmosis-labs/mesh-harness/framework/ibc"
	"github.com/osmosis-labs/mesh-harness/framework/types"
)

const (
	hermesDefaultBin  = "hermes"
	hermesDefaultHome = "/home/hermes"
)

// Runner executes commands inside the Hermes container.
type Runner interface {
	Exec(ctx context.Context, cmd ...string) (stdout, stderr []byte, err error)
	WriteFile(ctx context.Context, dst string, content []byte) error
}

// Hermes drives an already running Hermes container through its CLI. Packets
// are relayed on demand, never by a background worker.
type Hermes struct {
	runner    Runner
	logger    *zap.Logger
	bin       string
	home      string
	overrides internal.Toml

	mu     sync.Mutex
	chains []types.ChainConfig
}

// HermesOption configures a Hermes relayer.
type HermesOption func(*Hermes)

// WithConfigOverrides merges overrides into the rendered config.toml. Tables
// are merged key by key, e.g. {"global": {"log_level": "debug"}}.
func WithConfigOverrides(overrides map[string]any) HermesOption {
	return func(h *Hermes) {
		h.overrides = overrides
	}
}

// NewHermes returns a relayer running bin with its config under home. Empty
// values fall back to the defaults of the upstream image.
func NewHermes(logger *zap.Logger, runner Runner, bin, home string, opts ...HermesOption) *Hermes {
	if bin == "" {
		bin = hermesDefaultBin
	}
	if home == "" {
		home = hermesDefaultHome
	}
	h := &Hermes{
		runner: runner,
		logger: logger,
		bin:    bin,
		home:   home,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hermes) configPath() string {
	return path.Join(h.home, ".hermes", "config.toml")
}

// Init adds chains to the Hermes config and rewrites it. A chain already
// known by ID is replaced.
func (h *Hermes) Init(ctx context.Context, chains ...types.ChainConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range chains {
		if i := h.indexOf(c.ChainID); i >= 0 {
			h.chains[i] = c
			continue
		}
		h.chains = append(h.chains, c)
	}

	cfg, err := NewHermesConfig(h.chains)
	if err != nil {
		return err
	}
	bz, err := cfg.ToTOML()
	if err != nil {
		return fmt.Errorf("failed to encode hermes config: %w", err)
	}
	if bz, err = internal.ModifyTOML(bz, h.overrides); err != nil {
		return fmt.Errorf("failed to apply hermes config overrides: %w", err)
	}
	if _, _, err := h.runner.Exec(ctx, "mkdir", "-p", path.Dir(h.configPath())); err != nil {
		return fmt.Errorf("failed to create hermes config dir: %w", err)
	}
	if err := h.runner.WriteFile(ctx, h.configPath(), bz); err != nil {
		return fmt.Errorf("failed to write hermes config: %w", err)
	}
	h.logger.Info("hermes configured", zap.Int("chains", len(h.chains)))
	return nil
}

func (h *Hermes) indexOf(chainID string) int {
	for i, c := range h.chains {
		if c.ChainID == chainID {
			return i
		}
	}
	return -1
}

// AddKey imports the wallet mnemonic as the signing key for chainID.
func (h *Hermes) AddKey(ctx context.Context, chainID string, wallet *types.Wallet) error {
	if wallet.Mnemonic == "" {
		return fmt.Errorf("wallet %s has no mnemonic to import", wallet.GetKeyName())
	}
	mnemonicPath := path.Join(h.home, fmt.Sprintf("mnemonic-%s.txt", chainID))
	if err := h.runner.WriteFile(ctx, mnemonicPath, []byte(wallet.Mnemonic)); err != nil {
		return fmt.Errorf("failed to write mnemonic for %s: %w", chainID, err)
	}
	if _, err := h.run(ctx, "keys", "add",
		"--chain", chainID,
		"--mnemonic-file", mnemonicPath,
		"--key-name", KeyName(chainID),
		"--overwrite",
	); err != nil {
		return fmt.Errorf("failed to add relayer key for %s: %w", chainID, err)
	}
	return nil
}

// CreateLink creates clients and a connection between a and b.
func (h *Hermes) CreateLink(ctx context.Context, a, b types.Chain) (ibc.Link, error) {
	stdout, err := h.run(ctx, "create", "connection",
		"--a-chain", a.GetChainID(),
		"--b-chain", b.GetChainID(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection %s <> %s: %w", a.GetChainID(), b.GetChainID(), err)
	}
	var conn connectionResult
	if err := parseResult(stdout, &conn); err != nil {
		return nil, fmt.Errorf("failed to create connection %s <> %s: %w", a.GetChainID(), b.GetChainID(), err)
	}

	l := &Link{
		hermes: h,
		endA: ibc.Endpoint{Chain: a.Config(), Connection: ibc.Connection{
			ConnectionID:         conn.ASide.ConnectionID,
			CounterpartyID:       conn.BSide.ConnectionID,
			ClientID:             conn.ASide.ClientID,
			CounterpartyClientID: conn.BSide.ClientID,
			State:                "OPEN",
		}},
		endB: ibc.Endpoint{Chain: b.Config(), Connection: ibc.Connection{
			ConnectionID:         conn.BSide.ConnectionID,
			CounterpartyID:       conn.ASide.ConnectionID,
			ClientID:             conn.BSide.ClientID,
			CounterpartyClientID: conn.ASide.ClientID,
			State:                "OPEN",
		}},
	}
	h.logger.Info("connection created",
		zap.String("chain_a", a.GetChainID()),
		zap.String("connection_a", l.endA.ConnectionID()),
		zap.String("chain_b", b.GetChainID()),
		zap.String("connection_b", l.endB.ConnectionID()))
	return l, nil
}

// run executes a Hermes subcommand with JSON output.
func (h *Hermes) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := append([]string{h.bin, "--json", "--config", h.configPath()}, args...)
	stdout, stderr, err := h.runner.Exec(ctx, cmd...)
	if err != nil {
		// Hermes exits non zero on errors but still prints its result line.
		if perr := parseResult(stdout, nil); perr != nil && !errors.Is(perr, errNoResult) {
			return stdout, perr
		}
		return stdout, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(stderr)))
	}
	return stdout, nil
}

// Link is a Hermes managed connection. Channels created over it are relayed
// by RelayAll.
type Link struct {
	hermes *Hermes
	endA   ibc.Endpoint
	endB   ibc.Endpoint

	mu       sync.Mutex
	channels []ibc.Channel // as seen from A
}

// EndA returns the endpoint on chain A.
func (l *Link) EndA() ibc.Endpoint { return l.endA }

// EndB returns the endpoint on chain B.
func (l *Link) EndB() ibc.Endpoint { return l.endB }

func (l *Link) end(s ibc.Side) ibc.Endpoint {
	if s == ibc.SideA {
		return l.endA
	}
	return l.endB
}

// CreateChannel runs the channel handshake starting on side.
func (l *Link) CreateChannel(ctx context.Context, side ibc.Side, opts ibc.CreateChannelOptions) (*ibc.Channel, error) {
	src := l.end(side)
	order := opts.Order
	if order == "" {
		order = ibc.OrderUnordered
	}
	args := []string{"create", "channel",
		"--a-chain", src.Chain.ChainID,
		"--a-connection", src.ConnectionID(),
		"--a-port", opts.SourcePortName,
		"--b-port", opts.DestPortName,
		"--order", string(order),
	}
	if opts.Version != "" {
		args = append(args, "--channel-version", opts.Version)
	}
	stdout, err := l.hermes.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create channel from %s: %w", src.Chain.ChainID, err)
	}
	var res channelResult
	if err := parseResult(stdout, &res); err != nil {
		return nil, fmt.Errorf("failed to create channel from %s: %w", src.Chain.ChainID, err)
	}

	channel := res.channel()
	if channel.Version == "" {
		channel.Version = opts.Version
	}
	if channel.Order == "" {
		channel.Order = order
	}
	fromA := channel
	if side == ibc.SideB {
		fromA = flip(channel, l.endA.ConnectionID())
	}
	l.mu.Lock()
	l.channels = append(l.channels, fromA)
	l.mu.Unlock()

	l.hermes.logger.Info("channel created",
		zap.String("side", string(side)),
		zap.String("port", channel.PortID),
		zap.String("channel", channel.ChannelID),
		zap.String("counterparty_port", channel.CounterpartyPort),
		zap.String("counterparty_channel", channel.CounterpartyID))
	return &channel, nil
}

func flip(c ibc.Channel, connectionID string) ibc.Channel {
	return ibc.Channel{
		ChannelID:        c.CounterpartyID,
		CounterpartyID:   c.ChannelID,
		PortID:           c.CounterpartyPort,
		CounterpartyPort: c.PortID,
		ConnectionID:     connectionID,
		State:            c.State,
		Order:            c.Order,
		Version:          c.Version,
	}
}

// RelayAll delivers the packets pending on every channel of the link, in
// both directions, then relays the acknowledgements written for them.
func (l *Link) RelayAll(ctx context.Context) (ibc.RelayInfo, error) {
	var info ibc.RelayInfo
	l.mu.Lock()
	channels := append([]ibc.Channel(nil), l.channels...)
	l.mu.Unlock()

	a, b := l.endA.Chain.ChainID, l.endB.Chain.ChainID
	for _, ch := range channels {
		fromA, err := l.recv(ctx, b, a, ch.PortID, ch.ChannelID)
		if err != nil {
			return info, err
		}
		fromB, err := l.recv(ctx, a, b, ch.CounterpartyPort, ch.CounterpartyID)
		if err != nil {
			return info, err
		}
		info.PacketsFromA += fromA.deliveredCount()
		info.PacketsFromB += fromB.deliveredCount()

		// acks written on B travel back to A over B's end of the channel
		if len(fromA.Acks) > 0 {
			if err := l.ack(ctx, a, b, ch.CounterpartyPort, ch.CounterpartyID); err != nil {
				return info, err
			}
		}
		info.AcksFromB = append(info.AcksFromB, fromA.Acks...)
		if len(fromB.Acks) > 0 {
			if err := l.ack(ctx, b, a, ch.PortID, ch.ChannelID); err != nil {
				return info, err
			}
		}
		info.AcksFromA = append(info.AcksFromA, fromB.Acks...)
	}

	if !info.Empty() {
		l.hermes.logger.Debug("relayed",
			zap.Int("packets_from_a", info.PacketsFromA),
			zap.Int("packets_from_b", info.PacketsFromB))
	}
	return info, nil
}

// recv delivers packets sent on srcChain over srcPort/srcChannel to dstChain.
func (l *Link) recv(ctx context.Context, dstChain, srcChain, srcPort, srcChannel string) (relayEvents, error) {
	stdout, err := l.hermes.run(ctx, "tx", "packet-recv",
		"--dst-chain", dstChain,
		"--src-chain", srcChain,
		"--src-port", srcPort,
		"--src-channel", srcChannel,
	)
	if err != nil {
		return relayEvents{}, fmt.Errorf("failed to relay packets %s -> %s: %w", srcChain, dstChain, err)
	}
	return decodeEvents(stdout, srcChain, dstChain)
}

// ack relays acknowledgements written on srcChain for packets sent over the
// counterparty of srcPort/srcChannel.
func (l *Link) ack(ctx context.Context, dstChain, srcChain, srcPort, srcChannel string) error {
	stdout, err := l.hermes.run(ctx, "tx", "packet-ack",
		"--dst-chain", dstChain,
		"--src-chain", srcChain,
		"--src-port", srcPort,
		"--src-channel", srcChannel,
	)
	if err != nil {
		return fmt.Errorf("failed to relay acks %s -> %s: %w", srcChain, dstChain, err)
	}
	_, err = decodeEvents(stdout, srcChain, dstChain)
	return err
}

func decodeEvents(stdout []byte, src, dst string) (relayEvents, error) {
	var raw json.RawMessage
	if err := parseResult(stdout, &raw); err != nil {
		return relayEvents{}, fmt.Errorf("relay %s -> %s: %w", src, dst, err)
	}
	events, err := parseEvents(raw)
	if err != nil {
		return relayEvents{}, fmt.Errorf("relay %s -> %s: %w", src, dst, err)
	}
	return events, nil
}
