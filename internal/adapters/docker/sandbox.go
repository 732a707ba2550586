package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/switchboardhq/switchboard/internal/core/ports"
)

const defaultMemoryBytes = 256 * 1024 * 1024

// Sandbox runs untrusted code in throwaway containers: no network, read-only
// rootfs, writable /tmp only, hard memory cap. One container per execution.
type Sandbox struct {
	cli *client.Client
}

var _ ports.SandboxRunner = (*Sandbox)(nil)

func NewSandbox() (*Sandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Sandbox{cli: cli}, nil
}

func (s *Sandbox) Run(ctx context.Context, spec ports.SandboxSpec) (ports.SandboxOutput, error) {
	memory := spec.MemoryBytes
	if memory <= 0 {
		memory = defaultMemoryBytes
	}

	envSlice := []string{
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
	}
	for k, v := range spec.Env {
		envSlice = append(envSlice, fmt.Sprintf("%s=%s", k, v))
	}

	cfg := &container.Config{
		Image:     spec.Image,
		Cmd:       spec.Command,
		Env:       envSlice,
		Tty:       false,
		OpenStdin: spec.Stdin != "",
		StdinOnce: spec.Stdin != "",
		Labels: map[string]string{
			"switchboard.managed": "true",
		},
	}

	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory: memory,
		},
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=64m",
		},
		AutoRemove: false, // removed explicitly after logs are read
	}

	name := "switchboard-sandbox-" + uuid.New().String()
	resp, err := s.cli.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	if client.IsErrNotFound(err) {
		reader, pullErr := s.cli.ImagePull(ctx, spec.Image, image.PullOptions{})
		if pullErr != nil {
			return ports.SandboxOutput{}, fmt.Errorf("failed to pull image %s: %w", spec.Image, pullErr)
		}
		io.Copy(io.Discard, reader) //nolint:errcheck
		reader.Close()
		resp, err = s.cli.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	}
	if err != nil {
		return ports.SandboxOutput{}, fmt.Errorf("failed to create container: %w", err)
	}
	defer s.remove(resp.ID)

	if spec.Stdin != "" {
		hijack, err := s.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
			Stream: true,
			Stdin:  true,
		})
		if err != nil {
			return ports.SandboxOutput{}, fmt.Errorf("failed to attach stdin: %w", err)
		}
		go func() {
			defer hijack.Close()
			_, _ = hijack.Conn.Write([]byte(spec.Stdin))
			_ = hijack.CloseWrite()
		}()
	}

	if err := s.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return ports.SandboxOutput{}, fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := s.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			// ctx expiry lands here; kill the container before reporting
			_ = s.cli.ContainerKill(context.Background(), resp.ID, "KILL")
			return ports.SandboxOutput{}, fmt.Errorf("wait for container: %w", err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	stdout, stderr, err := s.collectLogs(ctx, resp.ID)
	if err != nil {
		return ports.SandboxOutput{}, err
	}

	return ports.SandboxOutput{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
	}, nil
}

func (s *Sandbox) collectLogs(ctx context.Context, containerID string) (string, string, error) {
	logs, err := s.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to read logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", "", fmt.Errorf("failed to demux logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

func (s *Sandbox) remove(containerID string) {
	// Removal shouldn't inherit a cancelled request context.
	_ = s.cli.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
}
