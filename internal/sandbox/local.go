package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/pitabwire/util"
)

// LocalRunner runs the test command directly on the host in the staged
// directory. Intended for development and tests; production runs use
// the docker backend.
type LocalRunner struct {
	cfg Config
}

// NewLocalRunner creates a host-process runner.
func NewLocalRunner(cfg Config) *LocalRunner {
	return &LocalRunner{cfg: cfg}
}

// Verify implements Runner.
func (r *LocalRunner) Verify(ctx context.Context, dir string) (*Report, error) {
	log := util.Log(ctx)
	start := time.Now()

	timeout := time.Duration(r.cfg.timeoutSeconds()) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := r.cfg.testCommand()
	log.Debug("running verification",
		"dir", dir,
		"command", command,
	)

	cmd := exec.CommandContext(runCtx, command[0], command[1:]...)
	cmd.Dir = dir

	outputBytes, runErr := cmd.CombinedOutput()
	duration := time.Since(start).Milliseconds()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		log.Warn("verification timed out, process killed",
			"dir", dir,
			"timeout_seconds", r.cfg.timeoutSeconds(),
		)
		return &Report{
			Passed:     false,
			Output:     fmt.Sprintf("Tests timed out after %d seconds", r.cfg.timeoutSeconds()),
			DurationMS: duration,
			Summary:    Summary{Total: 1, Failed: 1},
		}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			// The command never ran; that is a runner failure.
			return nil, fmt.Errorf("run test command: %w", runErr)
		}
	}

	output := string(outputBytes)
	passed, summary := parseOutput(r.cfg.Language, output, exitCode)

	log.Debug("verification finished",
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
