package docker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/osmosis-labs/mesh-harness/framework/config"
	"github.com/osmosis-labs/mesh-harness/framework/docker/cosmos"
	dockeribc "github.com/osmosis-labs/mesh-harness/framework/docker/ibc"
	"github.com/osmosis-labs/mesh-harness/framework/docker/ibc/relayer"
	"github.com/osmosis-labs/mesh-harness/framework/types"
)

var _ types.Provider = &Provider{}

// DockerClient is the Docker API the Provider needs: exec into containers
// and resolve their names.
type DockerClient interface {
	types.DockerExecClient
	ContainerID(ctx context.Context, name string) (string, error)
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithChainOptions passes opts to every chain the Provider creates.
func WithChainOptions(opts ...cosmos.Option) ProviderOption {
	return func(p *Provider) {
		p.chainOpts = append(p.chainOpts, opts...)
	}
}

// Provider hands out chains and a relayer backed by containers that are
// already running. It never starts or removes containers.
type Provider struct {
	cfg       config.Config
	client    DockerClient
	logger    *zap.Logger
	chainOpts []cosmos.Option

	mu      sync.Mutex
	chains  map[string]*cosmos.Chain
	relayer *relayer.Hermes
}

// NewProvider creates and returns a new Provider for the chains and relayer in cfg.
func NewProvider(cfg config.Config, client DockerClient, logger *zap.Logger, opts ...ProviderOption) *Provider {
	p := &Provider{
		cfg:    cfg,
		client: client,
		logger: logger,
		chains: make(map[string]*cosmos.Chain),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetChain returns the chain registered under name, connecting to its node
// container on first use.
func (p *Provider) GetChain(ctx context.Context, name string) (types.Chain, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chain(ctx, name)
}

func (p *Provider) chain(ctx context.Context, name string) (*cosmos.Chain, error) {
	if c, ok := p.chains[name]; ok {
		return c, nil
	}
	entry, err := p.cfg.Chain(name)
	if err != nil {
		return nil, err
	}
	if entry.Container == "" {
		return nil, fmt.Errorf("chain %s has no container", name)
	}
	runner, err := p.runner(ctx, entry.Container)
	if err != nil {
		return nil, err
	}

	c, err := cosmos.NewChain(ctx, p.logger.With(zap.String("chain", name)), cosmos.Config{
		ChainConfig:    entry.ChainConfig(),
		Home:           entry.Home,
		KeyringBackend: entry.KeyringBackend,
		FaucetKey:      entry.FaucetKey,
	}, runner, p.chainOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain %s: %w", name, err)
	}
	p.chains[name] = c
	return c, nil
}

func (p *Provider) runner(ctx context.Context, container string) (*ContainerRunner, error) {
	id, err := p.client.ContainerID(ctx, container)
	if err != nil {
		return nil, err
	}
	return NewContainerRunner(p.client, id, p.logger.With(zap.String("container", container))), nil
}

// Relayer returns the Hermes relayer, configured with every chain of the registry.
func (p *Provider) Relayer(ctx context.Context) (*relayer.Hermes, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.relayer != nil {
		return p.relayer, nil
	}

	runner, err := p.runner(ctx, p.cfg.Relayer.Container)
	if err != nil {
		return nil, fmt.Errorf("failed to find relayer: %w", err)
	}
	h := relayer.NewHermes(p.logger.With(zap.String("relayer", "hermes")), runner, p.cfg.Relayer.Bin, p.cfg.Relayer.Home,
		relayer.WithConfigOverrides(p.cfg.Relayer.Overrides))

	chains := make([]types.ChainConfig, 0, len(p.cfg.Chains))
	for _, c := range p.cfg.Chains {
		if c.RelayerRPC == "" || c.RelayerGRPC == "" {
			continue
		}
		chains = append(chains, c.RelayerChainConfig())
	}
	if len(chains) == 0 {
		return nil, errors.New("no chain has relayer endpoints configured")
	}
	if err := h.Init(ctx, chains...); err != nil {
		return nil, err
	}
	p.relayer = h
	return h, nil
}

// Connector returns a connector between the configured consumer and provider
// chains whose relayer wallets are created and funded.
func (p *Provider) Connector(ctx context.Context) (*dockeribc.Connector, error) {
	consumer, err := p.GetChain(ctx, p.cfg.Mesh.Consumer)
	if err != nil {
		return nil, err
	}
	provider, err := p.GetChain(ctx, p.cfg.Mesh.Provider)
	if err != nil {
		return nil, err
	}
	r, err := p.Relayer(ctx)
	if err != nil {
		return nil, err
	}

	consumerEntry, _ := p.cfg.Chain(p.cfg.Mesh.Consumer)
	providerEntry, _ := p.cfg.Chain(p.cfg.Mesh.Provider)
	connector := dockeribc.NewConnector(consumer, provider, r, p.logger,
		dockeribc.WithRelayerChainConfigs(consumerEntry.RelayerChainConfig(), providerEntry.RelayerChainConfig()))
	if err := connector.SetupRelayerWallets(ctx, p.cfg.RelayerFunds(consumerEntry), p.cfg.RelayerFunds(providerEntry)); err != nil {
		return nil, err
	}
	return connector, nil
}

// Close releases the RPC and gRPC connections of every chain.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for _, c := range p.chains {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
