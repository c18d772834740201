package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/pitabwire/util"
	"github.com/rs/xid"
)

const containerWorkDir = "/app"

// languageImage maps languages to their default container images.
func languageImage(language string) string {
	switch strings.ToLower(language) {
	case LanguageGo:
		return "golang:1.25-alpine"
	default:
		return "python:3.12-slim"
	}
}

// languageEnv returns the container environment for a language.
func languageEnv(language string) []string {
	switch strings.ToLower(language) {
	case LanguageGo:
		return []string{"CGO_ENABLED=0"}
	default:
		return []string{"PYTHONDONTWRITEBYTECODE=1"}
	}
}

// DockerRunner runs the test command in a throwaway container with the
// staged directory bind-mounted as its working directory.
type DockerRunner struct {
	cfg    Config
	client *client.Client
}

// NewDockerRunner creates a container-based runner.
func NewDockerRunner(cfg Config) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	return &DockerRunner{
		cfg:    cfg,
		client: cli,
	}, nil
}

// Close closes the Docker client.
func (r *DockerRunner) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Verify implements Runner.
func (r *DockerRunner) Verify(ctx context.Context, dir string) (*Report, error) {
	log := util.Log(ctx)
	start := time.Now()

	image := r.cfg.Image
	if image == "" {
		image = languageImage(r.cfg.Language)
	}

	log.Info("starting containerized verification",
		"dir", dir,
		"image", image,
	)

	containerID, err := r.createContainer(ctx, image, dir)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	defer r.cleanupContainer(ctx, containerID)

	if startErr := r.client.ContainerStart(ctx, containerID, container.StartOptions{}); startErr != nil {
		return nil, fmt.Errorf("start container: %w", startErr)
	}

	timeout := time.Duration(r.cfg.timeoutSeconds()) * time.Second
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	statusCh, errCh := r.client.ContainerWait(timeoutCtx, containerID, container.WaitConditionNotRunning)

	var exitCode int64
	select {
	case waitErr := <-errCh:
		if waitErr != nil {
			log.Warn("container wait error, killing container", "error", waitErr)
			_ = r.client.ContainerKill(ctx, containerID, "KILL")
			return &Report{
				Passed:     false,
				Output:     fmt.Sprintf("Execution error: %v", waitErr),
				DurationMS: time.Since(start).Milliseconds(),
				Summary:    Summary{Total: 1, Failed: 1},
			}, nil
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	case <-timeoutCtx.Done():
		log.Warn("verification timeout, killing container")
		_ = r.client.ContainerKill(ctx, containerID, "KILL")
		return &Report{
			Passed:     false,
			Output:     fmt.Sprintf("Tests timed out after %d seconds", r.cfg.timeoutSeconds()),
			DurationMS: time.Since(start).Milliseconds(),
			Summary:    Summary{Total: 1, Failed: 1},
		}, nil
	}

	output, err := r.containerLogs(ctx, containerID)
	if err != nil {
		log.WithError(err).Warn("failed to get container logs")
		output = "Failed to retrieve test output"
	}

	duration := time.Since(start).Milliseconds()
	passed, summary := parseOutput(r.cfg.Language, output, int(exitCode))

	log.Info("containerized verification completed",
		"passed", passed,
		"exit_code", exitCode,
		"duration_ms", duration,
	)

	return &Report{
		Passed:     passed,
		Output:     output,
		DurationMS: duration,
		Summary:    summary,
	}, nil
}

// createContainer creates the verification container.
func (r *DockerRunner) createContainer(ctx context.Context, image, dir string) (string, error) {
	config := &container.Config{
		Image:      image,
		Cmd:        r.cfg.testCommand(),
		WorkingDir: containerWorkDir,
		Env:        languageEnv(r.cfg.Language),
		Tty:        false,
		Labels: map[string]string{
			"conveyor.managed": "true",
		},
	}

	memoryLimit := int64(r.cfg.MemoryLimitMB) * 1024 * 1024
	cpuQuota := int64(r.cfg.CPULimit * 100000)

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: dir,
				Target: containerWorkDir,
			},
		},
		Resources: container.Resources{
			Memory:   memoryLimit,
			CPUQuota: cpuQuota,
		},
		AutoRemove: false, // removed manually after log collection
	}
	if !r.cfg.NetworkEnabled {
		hostConfig.NetworkMode = "none"
	}

	containerName := "conveyor-verify-" + xid.New().String()
	resp, err := r.client.ContainerCreate(ctx, config, hostConfig, nil, nil, containerName)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}

	return resp.ID, nil
}

// containerLogs retrieves and demultiplexes the container's output.
func (r *DockerRunner) containerLogs(ctx context.Context, containerID string) (string, error) {
	reader, err := r.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "all",
	})
	if err != nil {
		return "", err
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err = io.Copy(&buf, reader); err != nil {
		return "", err
	}

	return stripDockerLogHeaders(buf.Bytes()), nil
}

// stripDockerLogHeaders removes the 8-byte frame header Docker puts on
// each multiplexed log frame.
func stripDockerLogHeaders(data []byte) string {
	var result bytes.Buffer
	for len(data) >= 8 {
		// Bytes 4-7 carry the frame size, big-endian.
		frameSize := int(data[4])<<24 | int(data[5])<<16 | int(data[6])<<8 | int(data[7])

		data = data[8:]
		if frameSize > len(data) {
			frameSize = len(data)
		}

		result.Write(data[:frameSize])
		data = data[frameSize:]
	}

	if len(data) > 0 {
		result.Write(data)
	}

	return result.String()
}

// cleanupContainer stops and removes a container.
func (r *DockerRunner) cleanupContainer(ctx context.Context, containerID string) {
	log := util.Log(ctx)

	stopTimeout := 5
	_ = r.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &stopTimeout})

	err := r.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil {
		log.WithError(err).Warn("failed to remove container", "container_id", containerID)
	} else {
		log.Debug("container cleaned up", "container_id", containerID)
	}
}
