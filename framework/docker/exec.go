package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"github.com/osmosis-labs/mesh-harness/framework/types"
)

// ExecError is returned when a command ran but exited non-zero.
type ExecError struct {
	Cmd      []string
	ExitCode int
	Stderr   string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s exited with code %d: %s", strings.Join(e.Cmd, " "), e.ExitCode, strings.TrimSpace(e.Stderr))
}

// ContainerRunner runs commands in, and copies files into, an already running
// container.
type ContainerRunner struct {
	client      types.DockerExecClient
	containerID string
	env         []string
	logger      *zap.Logger
}

// NewContainerRunner returns a runner for containerID.
func NewContainerRunner(client types.DockerExecClient, containerID string, logger *zap.Logger, env ...string) *ContainerRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContainerRunner{
		client:      client,
		containerID: containerID,
		env:         env,
		logger:      logger.With(zap.String("container", containerID)),
	}
}

// ContainerID returns the container commands run in.
func (r *ContainerRunner) ContainerID() string {
	return r.containerID
}

// Exec runs cmd and returns its demultiplexed stdout and stderr. A non-zero
// exit code is reported as *ExecError.
func (r *ContainerRunner) Exec(ctx context.Context, cmd ...string) ([]byte, []byte, error) {
	r.logger.Debug("exec", zap.Strings("cmd", cmd))

	created, err := r.client.ContainerExecCreate(ctx, r.containerID, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
		Env:          r.env,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create exec %q: %w", strings.Join(cmd, " "), err)
	}

	attached, err := r.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("attach exec %q: %w", strings.Join(cmd, " "), err)
	}
	defer attached.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attached.Reader)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, nil, fmt.Errorf("read exec output: %w", err)
		}
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	inspect, err := r.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("inspect exec: %w", err)
	}
	if inspect.ExitCode != 0 {
		return stdout.Bytes(), stderr.Bytes(), &ExecError{Cmd: cmd, ExitCode: inspect.ExitCode, Stderr: stderr.String()}
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

// WriteFile writes content to dst inside the container.
func (r *ContainerRunner) WriteFile(ctx context.Context, dst string, content []byte) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:     path.Base(dst),
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  time.Now(),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header: %w", err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("write tar body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}

	if err := r.client.CopyToContainer(ctx, r.containerID, path.Dir(dst), &buf, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copy %s into %s: %w", dst, r.containerID, err)
	}
	r.logger.Debug("wrote file", zap.String("path", dst), zap.Int("bytes", len(content)))
	return nil
}
