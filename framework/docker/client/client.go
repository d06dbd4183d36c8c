package client

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/moby/moby/client"

	"github.com/osmosis-labs/mesh-harness/framework/types"
)

// Client wraps a Docker client connected to the daemon that runs the chain
// and relayer containers.
//
// Client implements types.DockerExecClient.
type Client struct {
	*client.Client
}

var _ types.DockerExecClient = (*Client)(nil)

// NewClient creates a new Client with the given Docker client.
func NewClient(c *client.Client) *Client {
	return &Client{Client: c}
}

// FromEnv connects to the daemon configured by the DOCKER_* environment
// variables and waits until it answers.
func FromEnv(ctx context.Context) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	err = retry.Do(func() error {
		_, err := cli.Ping(ctx)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
	)
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return NewClient(cli), nil
}

// ContainerID resolves a container name to the ID of a running container.
func (c *Client) ContainerID(ctx context.Context, name string) (string, error) {
	inspect, err := c.ContainerInspect(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	if inspect.State == nil || !inspect.State.Running {
		return "", fmt.Errorf("container %s is not running", name)
	}
	return inspect.ID, nil
}
