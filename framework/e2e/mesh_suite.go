package e2e

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/osmosis-labs/mesh-harness/framework/ibc"
	"github.com/osmosis-labs/mesh-harness/framework/mesh"
	"github.com/osmosis-labs/mesh-harness/framework/mesh/msg"
	"github.com/osmosis-labs/mesh-harness/framework/simnet"
	"github.com/osmosis-labs/mesh-harness/framework/simnet/contracts"
	"github.com/osmosis-labs/mesh-harness/framework/testutil/deploy"
	"github.com/osmosis-labs/mesh-harness/framework/types"
)

const (
	// ConsumerChainName is the name of the consumer chain (side A of every link).
	ConsumerChainName = "wasmd"
	// ProviderChainName is the name of the provider chain (side B of every link).
	ProviderChainName = "osmosis"
)

// ConsumerChainConfig is the in-process consumer chain.
func ConsumerChainConfig() types.ChainConfig {
	return types.ChainConfig{
		Name:         ConsumerChainName,
		ChainID:      "testing",
		Bin:          "wasmd",
		Bech32Prefix: "wasm",
		Denom:        "ucosm",
		StakingDenom: "ustake",
		GasPrices:    "0ucosm",
		ICS20Port:    "transfer",
		BlockTime:    time.Second,
	}
}

// ProviderChainConfig is the in-process provider chain.
func ProviderChainConfig() types.ChainConfig {
	return types.ChainConfig{
		Name:         ProviderChainName,
		ChainID:      "osmo-testing",
		Bin:          "osmosisd",
		Bech32Prefix: "osmo",
		Denom:        "uosmo",
		StakingDenom: "uosmo",
		GasPrices:    "0uosmo",
		ICS20Port:    "transfer",
		BlockTime:    time.Second,
	}
}

// Artifacts returns the simnet artifacts of every mesh contract.
func Artifacts() deploy.Artifacts {
	artifacts := deploy.Artifacts{Provider: map[string][]byte{}, Consumer: map[string][]byte{}}
	for _, name := range []string{msg.ContractVault, msg.ContractProvider, msg.ContractSlasher} {
		artifacts.Provider[name] = simnet.Wasm(name)
	}
	for _, name := range []string{msg.ContractConsumer, msg.ContractMetaStaking} {
		artifacts.Consumer[name] = simnet.Wasm(name)
	}
	return artifacts
}

// MeshTestSuite gives every test a fresh pair of in-process chains with the
// mesh contracts uploaded. Tests deploy their own stack so they never share
// accounts, links or contracts.
type MeshTestSuite struct {
	suite.Suite
	ctx    context.Context
	logger *zap.Logger

	Network  *simnet.Network
	Consumer *simnet.Chain
	Provider *simnet.Chain
	CodeIDs  deploy.CodeIDs
}

// SetupTest creates the chains and uploads the contracts.
func (s *MeshTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.logger = zaptest.NewLogger(s.T())

	network, err := simnet.NewNetwork(s.logger,
		[]types.ChainConfig{ConsumerChainConfig(), ProviderChainConfig()},
		simnet.WithRegistry(contracts.Registry()),
	)
	s.Require().NoError(err)
	s.Network = network

	s.Consumer, err = network.Chain(ConsumerChainName)
	s.Require().NoError(err)
	s.Provider, err = network.Chain(ProviderChainName)
	s.Require().NoError(err)

	s.CodeIDs, err = deploy.Upload(s.ctx, s.logger, s.Consumer, s.Provider, Artifacts())
	s.Require().NoError(err)
}

// Context returns the context of the running test.
func (s *MeshTestSuite) Context() context.Context {
	return s.ctx
}

// Logger returns the logger of the running test.
func (s *MeshTestSuite) Logger() *zap.Logger {
	return s.logger
}

// DeployConfig returns the deployment config for params on the suite chains.
func (s *MeshTestSuite) DeployConfig(params deploy.Params) deploy.Config {
	return deploy.Config{
		Consumer: s.Consumer,
		Provider: s.Provider,
		Relayer:  s.Network.Relayer(),
		CodeIDs:  s.CodeIDs,
		Params:   params,
		Logger:   s.logger,
	}
}

// Install installs the contracts on a fresh link without opening the mesh channel.
func (s *MeshTestSuite) Install(params deploy.Params) *deploy.Stack {
	stack, err := deploy.Install(s.ctx, s.DeployConfig(params))
	s.Require().NoError(err)
	return stack
}

// Deploy installs the contracts on a fresh link and opens the mesh channel.
func (s *MeshTestSuite) Deploy(params deploy.Params) *deploy.Stack {
	stack, err := deploy.Deploy(s.ctx, s.DeployConfig(params))
	s.Require().NoError(err)
	return stack
}

// NewScenario deploys a connected stack and returns a scenario over it.
func (s *MeshTestSuite) NewScenario(params deploy.Params) *mesh.Scenario {
	return mesh.NewScenario(s.Deploy(params), s.logger)
}

// ConsumerValidator returns the first validator of the consumer chain.
func (s *MeshTestSuite) ConsumerValidator() string {
	vals, err := s.Consumer.Validators(s.ctx)
	s.Require().NoError(err)
	s.Require().NotEmpty(vals)
	return vals[0]
}

// LockAndCrossStake funds a provider user with funds, locks all of it and
// cross-stakes amount on validator. The stake packet must be acknowledged
// successfully.
func (s *MeshTestSuite) LockAndCrossStake(sc *mesh.Scenario, funds, amount sdkmath.Int, validator string) *types.Wallet {
	user, err := sc.FundProviderUser(s.ctx, "staker", funds)
	s.Require().NoError(err)
	s.Require().NoError(sc.Lock(s.ctx, user, funds))

	relay, err := sc.CrossStake(s.ctx, user, validator, amount)
	s.Require().NoError(err)
	s.Require().NoError(ibc.AssertPacketsFromB(relay, 1, true))
	return user
}
