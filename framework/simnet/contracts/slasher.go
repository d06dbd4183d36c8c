package contracts

import (
	errorsmod "cosmossdk.io/errors"

	"github.com/osmosis-labs/mesh-harness/framework/mesh/msg"
	"github.com/osmosis-labs/mesh-harness/framework/simnet"
)

// Slasher is instantiated by the provider. Slashing itself is not modelled;
// the contract only records its owner.
type Slasher struct{}

type slasherConfig struct {
	Owner string `json:"owner"`
}

var slasherConfigItem simnet.Item[slasherConfig] = "config"

func (Slasher) Instantiate(ctx simnet.Ctx, _ simnet.MessageInfo, bz []byte) (*simnet.Response, error) {
	m, err := decode[msg.SlasherInstantiate](bz)
	if err != nil {
		return nil, err
	}
	if err := ctx.Querier.ValidateAddress(m.Owner); err != nil {
		return nil, err
	}
	return simnet.NewResponse(), slasherConfigItem.Save(ctx.Store, slasherConfig{Owner: m.Owner})
}

func (Slasher) Execute(simnet.Ctx, simnet.MessageInfo, []byte) (*simnet.Response, error) {
	return nil, errorsmod.Wrap(ErrInvalidMessage, "slasher accepts no messages")
}

func (Slasher) Query(ctx simnet.Ctx, bz []byte) ([]byte, error) {
	q, err := decode[msg.SlasherQuery](bz)
	if err != nil {
		return nil, err
	}
	if q.Config == nil {
		return nil, errorsmod.Wrap(ErrInvalidMessage, "unknown slasher query")
	}
	cfg, err := slasherConfigItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}
	return encode(msg.SlasherConfigResponse{Owner: cfg.Owner})
}
