package types

import "context"

// Provider is an interface to implement chain provisioning functionality.
//
// different Providers can be implemented to enable different infrastructure / backends for the Chains to run
// on.
type Provider interface {
	// GetChain returns the chain registered under name.
	GetChain(ctx context.Context, name string) (Chain, error)
}
