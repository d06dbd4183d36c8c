package docker

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeExecClient struct {
	stdout   string
	stderr   string
	exitCode int

	cmd      []string
	copyDir  string
	copyBody []byte
}

func (f *fakeExecClient) ContainerExecCreate(_ context.Context, _ string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	f.cmd = options.Cmd
	return container.ExecCreateResponse{ID: "exec-1"}, nil
}

func (f *fakeExecClient) ContainerExecAttach(context.Context, string, container.ExecAttachOptions) (dockertypes.HijackedResponse, error) {
	var buf bytes.Buffer
	if _, err := stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout)); err != nil {
		return dockertypes.HijackedResponse{}, err
	}
	if f.stderr != "" {
		if _, err := stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr)); err != nil {
			return dockertypes.HijackedResponse{}, err
		}
	}
	conn, _ := net.Pipe()
	return dockertypes.HijackedResponse{Conn: conn, Reader: bufio.NewReader(&buf)}, nil
}

func (f *fakeExecClient) ContainerExecInspect(context.Context, string) (container.ExecInspect, error) {
	return container.ExecInspect{ExitCode: f.exitCode}, nil
}

func (f *fakeExecClient) CopyToContainer(_ context.Context, _ string, dstPath string, content io.Reader, _ container.CopyToContainerOptions) error {
	f.copyDir = dstPath
	tr := tar.NewReader(content)
	if _, err := tr.Next(); err != nil {
		return err
	}
	body, err := io.ReadAll(tr)
	f.copyBody = body
	return err
}

func TestContainerRunnerExec(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		cli := &fakeExecClient{stdout: `{"height":"5"}`, stderr: "gas estimate: 100"}
		r := NewContainerRunner(cli, "wasmd", zaptest.NewLogger(t))

		stdout, stderr, err := r.Exec(ctx, "wasmd", "status")
		require.NoError(t, err)
		require.Equal(t, `{"height":"5"}`, string(stdout))
		require.Equal(t, "gas estimate: 100", string(stderr))
		require.Equal(t, []string{"wasmd", "status"}, cli.cmd)
	})

	t.Run("non-zero exit", func(t *testing.T) {
		cli := &fakeExecClient{stderr: "key not found", exitCode: 1}
		r := NewContainerRunner(cli, "wasmd", zaptest.NewLogger(t))

		_, _, err := r.Exec(ctx, "wasmd", "keys", "show", "nope")
		var execErr *ExecError
		require.True(t, errors.As(err, &execErr))
		require.Equal(t, 1, execErr.ExitCode)
		require.Contains(t, err.Error(), "key not found")
	})
}

func TestContainerRunnerWriteFile(t *testing.T) {
	cli := &fakeExecClient{}
	r := NewContainerRunner(cli, "hermes", zaptest.NewLogger(t))

	require.NoError(t, r.WriteFile(context.Background(), "/home/hermes/.hermes/config.toml", []byte("[global]\n")))
	require.Equal(t, "/home/hermes/.hermes", cli.copyDir)
	require.Equal(t, "[global]\n", string(cli.copyBody))
}
