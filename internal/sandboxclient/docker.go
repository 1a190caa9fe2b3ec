// Package sandboxclient implements the opaque sandbox worker the Controlled
// Executor dispatches code_execution tasks to (spec.md §4.H, §1 Non-goals:
// sandbox internals are out of scope for the gateway itself — this package
// only owns the boundary, not the interpreter running inside the
// container).
package sandboxclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	networktypes "github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	defaultTimeout = 20 * time.Second
	inputEnvVar    = "PML_SANDBOX_INPUT"
)

// containerEngine is the narrow slice of *docker/client.Client the sandbox
// needs, mirroring common.DockerClient's container-lifecycle subset — kept
// as an interface (rather than the concrete client) so tests can substitute
// a fake engine instead of a live daemon.
type containerEngine interface {
	ContainerCreate(ctx context.Context, config *containertypes.Config, hostConfig *containertypes.HostConfig, networkingConfig *networktypes.NetworkingConfig, platform *ocispec.Platform, containerName string) (containertypes.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options containertypes.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition containertypes.WaitCondition) (<-chan containertypes.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options containertypes.LogsOptions) (io.ReadCloser, error)
}

// sandboxInput is the payload handed to the container: the task's static
// code span plus its resolved arguments, as the image's entrypoint expects
// on PML_SANDBOX_INPUT.
type sandboxInput struct {
	Code string         `json:"code"`
	Args map[string]any `json:"args"`
}

// DockerOptions configures a DockerSandbox.
type DockerOptions struct {
	Client  containerEngine
	Image   string
	Timeout time.Duration
}

// DockerSandbox runs a code_execution task inside a short-lived, auto-removed
// container: one container per dispatch, no reuse across tasks. Matches
// internal/executor.SandboxRunner.
type DockerSandbox struct {
	cli     containerEngine
	image   string
	timeout time.Duration
}

// NewDocker builds a DockerSandbox. Pass a *docker/client.Client as Client in
// production; it satisfies containerEngine without adaptation.
func NewDocker(opts DockerOptions) (*DockerSandbox, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("sandboxclient: docker client is required")
	}
	if opts.Image == "" {
		return nil, fmt.Errorf("sandboxclient: image is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &DockerSandbox{cli: opts.Client, image: opts.Image, timeout: timeout}, nil
}

// RunCode runs code+args in a fresh container and decodes its stdout as the
// task result. The container's environment carries the input as JSON on
// PML_SANDBOX_INPUT; the entrypoint is expected to print a single JSON value
// on stdout.
func (s *DockerSandbox) RunCode(ctx context.Context, code string, args map[string]any) (any, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	input, err := json.Marshal(sandboxInput{Code: code, Args: args})
	if err != nil {
		return nil, fmt.Errorf("sandboxclient: marshal input: %w", err)
	}

	resp, err := s.cli.ContainerCreate(
		runCtx,
		&containertypes.Config{
			Image:        s.image,
			Env:          []string{inputEnvVar + "=" + string(input)},
			AttachStdout: true,
			AttachStderr: true,
		},
		&containertypes.HostConfig{
			AutoRemove:  true,
			NetworkMode: "none",
		},
		&networktypes.NetworkingConfig{},
		&ocispec.Platform{},
		"",
	)
	if err != nil {
		return nil, fmt.Errorf("sandboxclient: create container: %w", err)
	}

	if err := s.cli.ContainerStart(runCtx, resp.ID, containertypes.StartOptions{}); err != nil {
		return nil, fmt.Errorf("sandboxclient: start container: %w", err)
	}

	statusCh, errCh := s.cli.ContainerWait(runCtx, resp.ID, containertypes.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("sandboxclient: wait: %w", err)
		}
	case status := <-statusCh:
		if status.StatusCode != 0 {
			_, stderr, _ := s.readLogs(runCtx, resp.ID)
			return nil, fmt.Errorf("sandboxclient: exit code %d: %s", status.StatusCode, stderr)
		}
	case <-runCtx.Done():
		return nil, runCtx.Err()
	}

	stdout, _, err := s.readLogs(runCtx, resp.ID)
	if err != nil {
		return nil, err
	}

	var result any
	if err := json.Unmarshal(stdout, &result); err != nil {
		return nil, fmt.Errorf("sandboxclient: decode result: %w", err)
	}
	return result, nil
}

// readLogs demultiplexes the container's combined log stream into separate
// stdout/stderr buffers. ContainerLogs against a non-TTY container returns
// Docker's framed stdcopy format, not plain bytes.
func (s *DockerSandbox) readLogs(ctx context.Context, containerID string) (stdout, stderr []byte, err error) {
	out, err := s.cli.ContainerLogs(ctx, containerID, containertypes.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, nil, fmt.Errorf("sandboxclient: read logs: %w", err)
	}
	defer out.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, out); err != nil {
		return nil, nil, fmt.Errorf("sandboxclient: demux logs: %w", err)
	}
	return bytes.TrimSpace(stdoutBuf.Bytes()), bytes.TrimSpace(stderrBuf.Bytes()), nil
}
