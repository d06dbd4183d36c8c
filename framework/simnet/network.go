package simnet

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/osmosis-labs/mesh-harness/framework/ibc"
	"github.com/osmosis-labs/mesh-harness/framework/types"
)

var _ types.Provider = &Network{}

// Network is a set of simnet chains addressed by name, plus the relayer that
// links them.
type Network struct {
	chains  map[string]*Chain
	relayer *Relayer
}

// NewNetwork creates one chain per config. Options apply to every chain.
func NewNetwork(logger *zap.Logger, cfgs []types.ChainConfig, opts ...Option) (*Network, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Network{chains: make(map[string]*Chain), relayer: NewRelayer(logger)}
	for _, cfg := range cfgs {
		if _, ok := n.chains[cfg.Name]; ok {
			return nil, fmt.Errorf("duplicate chain name %q", cfg.Name)
		}
		c, err := NewChain(cfg, logger, opts...)
		if err != nil {
			return nil, fmt.Errorf("create chain %s: %w", cfg.Name, err)
		}
		n.chains[cfg.Name] = c
	}
	return n, nil
}

// GetChain returns the chain registered under name.
func (n *Network) GetChain(_ context.Context, name string) (types.Chain, error) {
	c, ok := n.chains[name]
	if !ok {
		return nil, fmt.Errorf("chain %q not found", name)
	}
	return c, nil
}

// Chain is GetChain without the interface conversion.
func (n *Network) Chain(name string) (*Chain, error) {
	c, ok := n.chains[name]
	if !ok {
		return nil, fmt.Errorf("chain %q not found", name)
	}
	return c, nil
}

// Relayer returns the relayer for chains of this network.
func (n *Network) Relayer() ibc.Relayer {
	return n.relayer
}
