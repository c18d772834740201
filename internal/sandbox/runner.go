// Package sandbox runs the test suite of a staged task and reports the
// outcome. A verification that times out is a failed verification, not
// an error.
package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/pitabwire/util"
)

// DefaultTimeoutSeconds bounds a single verification run.
const DefaultTimeoutSeconds = 60

// Language constants for supported test frameworks.
const (
	LanguageGo     = "go"
	LanguagePython = "python"
)

// Summary is the aggregate test count parsed from the run output.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Report is the outcome of one verification run.
type Report struct {
	Passed     bool    `json:"passed"`
	Output     string  `json:"output"`
	DurationMS int64   `json:"duration_ms"`
	Summary    Summary `json:"summary"`
}

// Runner verifies the staged code in dir by running its tests. The
// returned error reports runner breakage only; failing or timed-out
// tests come back as a Report with Passed=false.
type Runner interface {
	Verify(ctx context.Context, dir string) (*Report, error)
}

// BackendType selects the verification backend.
type BackendType string

// Backend type constants.
const (
	BackendDocker BackendType = "docker"
	BackendLocal  BackendType = "local"
)

// Config configures verification runs.
type Config struct {
	// Backend selects the runner implementation.
	Backend BackendType

	// Language selects the test command and container image.
	Language string

	// TimeoutSeconds bounds one verification run. Defaults to
	// DefaultTimeoutSeconds when zero.
	TimeoutSeconds int

	// TestCommand overrides the language's default test command.
	TestCommand []string

	// Image overrides the container image for the docker backend.
	Image string

	// MemoryLimitMB and CPULimit bound docker container resources.
	MemoryLimitMB int
	CPULimit      float64

	// NetworkEnabled allows container network access. Off by default.
	NetworkEnabled bool
}

// DefaultConfig returns a local python configuration.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendLocal,
		Language:       LanguagePython,
		TimeoutSeconds: DefaultTimeoutSeconds,
	}
}

func (c Config) timeoutSeconds() int {
	if c.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds
	}
	return c.TimeoutSeconds
}

// NewRunner creates the runner selected by the configuration.
func NewRunner(ctx context.Context, cfg Config) (Runner, error) {
	log := util.Log(ctx)

	switch cfg.Backend {
	case BackendDocker:
		runner, err := NewDockerRunner(cfg)
		if err != nil {
			return nil, err
		}
		log.Info("using docker verification runner", "language", cfg.Language)
		return runner, nil
	case BackendLocal:
		log.Info("using local verification runner", "language", cfg.Language)
		return NewLocalRunner(cfg), nil
	default:
		return nil, fmt.Errorf("unknown sandbox backend: %s", cfg.Backend)
	}
}

// testCommand returns the command used to run the task's tests.
func (c Config) testCommand() []string {
	if len(c.TestCommand) > 0 {
		return c.TestCommand
	}
	switch strings.ToLower(c.Language) {
	case LanguageGo:
		return []string{"go", "test", "-v", "./..."}
	default:
		return []string{"python", "-m", "pytest", "-v", "--tb=short"}
	}
}
