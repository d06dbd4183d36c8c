package e2e_test

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/suite"

	"github.com/osmosis-labs/mesh-harness/framework/e2e"
	"github.com/osmosis-labs/mesh-harness/framework/ibc"
)

type DockerMeshSuite struct {
	e2e.DockerMeshTestSuite
}

func TestDockerMeshSuite(t *testing.T) {
	suite.Run(t, new(DockerMeshSuite))
}

func (s *DockerMeshSuite) TestCrossStake() {
	ctx := s.Context()
	sc := s.NewScenario()

	validators, err := sc.Validators(ctx)
	s.Require().NoError(err)
	s.Require().NotEmpty(validators)

	funds, amount := sdkmath.NewInt(1_000_000), sdkmath.NewInt(500_000)
	user, err := sc.FundProviderUser(ctx, "staker", funds)
	s.Require().NoError(err)
	s.Require().NoError(sc.Lock(ctx, user, funds))

	relay, err := sc.CrossStake(ctx, user, validators[0], amount)
	s.Require().NoError(err)
	s.Require().NoError(ibc.AssertPacketsFromB(relay, 1, true))

	staked, err := sc.StakedAmount(ctx, user, validators[0])
	s.Require().NoError(err)
	s.Require().True(staked.Equal(amount), staked.String())

	vault, err := sc.VaultAccount(ctx, user)
	s.Require().NoError(err)
	s.Require().True(vault.Free.Equal(funds.Sub(amount)), vault.Free.String())
}
