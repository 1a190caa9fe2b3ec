package sandboxclient

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	networktypes "github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stdcopyFrame wraps a payload in Docker's multiplexed log frame format so
// readLogs' stdcopy.StdCopy demux has something real to split.
func stdcopyFrame(stream byte, payload []byte) []byte {
	header := make([]byte, 8)
	header[0] = stream
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	return append(header, payload...)
}

type fakeEngine struct {
	createErr error
	startErr  error
	waitErr   error
	exitCode  int64
	stdout    []byte
	stderr    []byte
	logsErr   error

	createCalled bool
	startCalled  bool
	createdEnv   []string
}

func (f *fakeEngine) ContainerCreate(ctx context.Context, config *containertypes.Config, hostConfig *containertypes.HostConfig, networkingConfig *networktypes.NetworkingConfig, platform *ocispec.Platform, containerName string) (containertypes.CreateResponse, error) {
	f.createCalled = true
	if config != nil {
		f.createdEnv = config.Env
	}
	if f.createErr != nil {
		return containertypes.CreateResponse{}, f.createErr
	}
	return containertypes.CreateResponse{ID: "fake-container"}, nil
}

func (f *fakeEngine) ContainerStart(ctx context.Context, containerID string, options containertypes.StartOptions) error {
	f.startCalled = true
	return f.startErr
}

func (f *fakeEngine) ContainerWait(ctx context.Context, containerID string, condition containertypes.WaitCondition) (<-chan containertypes.WaitResponse, <-chan error) {
	statusCh := make(chan containertypes.WaitResponse, 1)
	errCh := make(chan error, 1)
	if f.waitErr != nil {
		errCh <- f.waitErr
		return statusCh, errCh
	}
	statusCh <- containertypes.WaitResponse{StatusCode: f.exitCode}
	return statusCh, errCh
}

func (f *fakeEngine) ContainerLogs(ctx context.Context, containerID string, options containertypes.LogsOptions) (io.ReadCloser, error) {
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	var buf bytes.Buffer
	if len(f.stdout) > 0 {
		buf.Write(stdcopyFrame(1, f.stdout))
	}
	if len(f.stderr) > 0 {
		buf.Write(stdcopyFrame(2, f.stderr))
	}
	return io.NopCloser(&buf), nil
}

func TestNewDocker_RequiresClientAndImage(t *testing.T) {
	_, err := NewDocker(DockerOptions{Image: "pml/sandbox:latest"})
	assert.Error(t, err)

	_, err = NewDocker(DockerOptions{Client: &fakeEngine{}})
	assert.Error(t, err)
}

func TestNewDocker_DefaultsTimeout(t *testing.T) {
	s, err := NewDocker(DockerOptions{Client: &fakeEngine{}, Image: "pml/sandbox:latest"})
	require.NoError(t, err)
	assert.Equal(t, defaultTimeout, s.timeout)
}

func TestRunCode_DecodesJSONStdout(t *testing.T) {
	eng := &fakeEngine{stdout: []byte(`{"value": 42}`)}
	s, err := NewDocker(DockerOptions{Client: eng, Image: "pml/sandbox:latest", Timeout: 5 * time.Second})
	require.NoError(t, err)

	result, err := s.RunCode(context.Background(), "return 1 + 1", map[string]any{"n": 1})
	require.NoError(t, err)
	assert.True(t, eng.createCalled)
	assert.True(t, eng.startCalled)
	assert.Equal(t, map[string]any{"value": float64(42)}, result)
}

func TestRunCode_CarriesInputOnEnv(t *testing.T) {
	eng := &fakeEngine{stdout: []byte(`null`)}
	s, err := NewDocker(DockerOptions{Client: eng, Image: "pml/sandbox:latest"})
	require.NoError(t, err)

	_, err = s.RunCode(context.Background(), "print(args['n'])", map[string]any{"n": 7})
	require.NoError(t, err)

	require.Len(t, eng.createdEnv, 1)
	assert.Contains(t, eng.createdEnv[0], inputEnvVar+"=")
	assert.Contains(t, eng.createdEnv[0], `"n":7`)
}

func TestRunCode_NonZeroExitReturnsStderr(t *testing.T) {
	eng := &fakeEngine{exitCode: 1, stderr: []byte("boom")}
	s, err := NewDocker(DockerOptions{Client: eng, Image: "pml/sandbox:latest"})
	require.NoError(t, err)

	_, err = s.RunCode(context.Background(), "raise()", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "exit code 1")
}

func TestRunCode_CreateErrorPropagates(t *testing.T) {
	eng := &fakeEngine{createErr: errors.New("daemon unreachable")}
	s, err := NewDocker(DockerOptions{Client: eng, Image: "pml/sandbox:latest"})
	require.NoError(t, err)

	_, err = s.RunCode(context.Background(), "x()", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon unreachable")
	assert.False(t, eng.startCalled)
}

func TestRunCode_WaitErrorPropagates(t *testing.T) {
	eng := &fakeEngine{waitErr: errors.New("context canceled")}
	s, err := NewDocker(DockerOptions{Client: eng, Image: "pml/sandbox:latest"})
	require.NoError(t, err)

	_, err = s.RunCode(context.Background(), "x()", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context canceled")
}

func TestRunCode_MalformedStdoutIsAResultDecodeError(t *testing.T) {
	eng := &fakeEngine{stdout: []byte("not json")}
	s, err := NewDocker(DockerOptions{Client: eng, Image: "pml/sandbox:latest"})
	require.NoError(t, err)

	_, err = s.RunCode(context.Background(), "x()", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode result")
}

func TestReadLogs_DemultiplexesStdoutAndStderr(t *testing.T) {
	eng := &fakeEngine{stdout: []byte("out-line"), stderr: []byte("err-line")}
	s, err := NewDocker(DockerOptions{Client: eng, Image: "pml/sandbox:latest"})
	require.NoError(t, err)

	stdout, stderr, err := s.readLogs(context.Background(), "fake-container")
	require.NoError(t, err)
	assert.Equal(t, "out-line", string(stdout))
	assert.Equal(t, "err-line", string(stderr))
}
