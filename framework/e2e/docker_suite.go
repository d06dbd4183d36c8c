package e2e

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/osmosis-labs/mesh-harness/framework/config"
	"github.com/osmosis-labs/mesh-harness/framework/docker"
	"github.com/osmosis-labs/mesh-harness/framework/docker/client"
	"github.com/osmosis-labs/mesh-harness/framework/mesh"
	"github.com/osmosis-labs/mesh-harness/framework/testutil/deploy"
	"github.com/osmosis-labs/mesh-harness/framework/types"
)

// ConfigEnv names the environment variable pointing at the harness config
// used by DockerMeshTestSuite.
const ConfigEnv = "MESH_HARNESS_CONFIG"

// DockerMeshTestSuite runs against chain and relayer containers that are
// already up, as described by the config file at $MESH_HARNESS_CONFIG. The
// suite is skipped when the variable is unset or in short mode.
type DockerMeshTestSuite struct {
	suite.Suite
	ctx    context.Context
	logger *zap.Logger

	Config   config.Config
	Network  *docker.Provider
	Consumer types.Chain
	Provider types.Chain
	CodeIDs  deploy.CodeIDs
}

// SetupSuite connects to the containers, prepares the relayer and uploads
// the contracts once for every test.
func (s *DockerMeshTestSuite) SetupSuite() {
	if testing.Short() {
		s.T().Skip("skipping docker e2e tests in short mode")
	}
	path := os.Getenv(ConfigEnv)
	if path == "" {
		s.T().Skipf("%s is not set", ConfigEnv)
	}

	s.ctx = context.Background()
	s.logger = zaptest.NewLogger(s.T())

	cfg, err := config.Load(path)
	s.Require().NoError(err)
	s.Config = cfg

	cli, err := client.FromEnv(s.ctx)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = cli.Close() })

	s.Network = docker.NewProvider(cfg, cli, s.logger)
	s.T().Cleanup(func() { _ = s.Network.Close() })

	s.Consumer, err = s.Network.GetChain(s.ctx, cfg.Mesh.Consumer)
	s.Require().NoError(err)
	s.Provider, err = s.Network.GetChain(s.ctx, cfg.Mesh.Provider)
	s.Require().NoError(err)

	_, err = s.Network.Connector(s.ctx)
	s.Require().NoError(err)

	artifacts, err := cfg.Artifacts()
	s.Require().NoError(err)
	s.CodeIDs, err = deploy.Upload(s.ctx, s.logger, s.Consumer, s.Provider, artifacts)
	s.Require().NoError(err)
}

// Context returns the suite context.
func (s *DockerMeshTestSuite) Context() context.Context {
	return s.ctx
}

// NewScenario deploys a connected stack with the configured mesh parameters.
func (s *DockerMeshTestSuite) NewScenario() *mesh.Scenario {
	params, err := s.Config.Params()
	s.Require().NoError(err)
	relayer, err := s.Network.Relayer(s.ctx)
	s.Require().NoError(err)

	stack, err := deploy.Deploy(s.ctx, deploy.Config{
		Consumer: s.Consumer,
		Provider: s.Provider,
		Relayer:  relayer,
		CodeIDs:  s.CodeIDs,
		Params:   params,
		Logger:   s.logger,
	})
	s.Require().NoError(err)
	return mesh.NewScenario(stack, s.logger)
}
