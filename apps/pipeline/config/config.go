package config

import (
	"github.com/pitabwire/frame/config"
)

// PipelineConfig defines configuration for the pipeline service.
// The pipeline turns a product requirement document into designs,
// tickets and verified pull request records.
type PipelineConfig struct {
	config.ConfigurationDefault

	// ==========================================================================
	// Engine Provider Configuration
	// ==========================================================================

	// AnthropicAPIKey is the API key for Anthropic Claude.
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`

	// OpenAIAPIKey is the API key for OpenAI.
	OpenAIAPIKey string `env:"OPENAI_API_KEY"`

	// GoogleAPIKey is the API key for Google AI.
	GoogleAPIKey string `env:"GOOGLE_API_KEY"`

	// DefaultProvider is the provider tried first.
	DefaultProvider string `envDefault:"anthropic" env:"DEFAULT_PROVIDER"`

	// EngineTimeoutSeconds is the deadline for one engine invocation.
	EngineTimeoutSeconds int `envDefault:"120" env:"ENGINE_TIMEOUT_SECONDS"`

	// EngineMaxRetries is the maximum retries per provider request.
	EngineMaxRetries int `envDefault:"3" env:"ENGINE_MAX_RETRIES"`

	// EngineRequestsPerMinute caps the shared engine request rate.
	EngineRequestsPerMinute int `envDefault:"30" env:"ENGINE_REQUESTS_PER_MINUTE"`

	// ==========================================================================
	// Workspace Configuration
	// ==========================================================================

	// WorkspaceBasePath is the base path for task staging directories.
	WorkspaceBasePath string `envDefault:"/var/lib/conveyor/workspaces" env:"WORKSPACE_BASE_PATH"`

	// ==========================================================================
	// Artifact Checkpoints
	// ==========================================================================

	// ArtifactBackend selects the checkpoint backend: memory, file or redis.
	ArtifactBackend string `envDefault:"file" env:"ARTIFACT_BACKEND"`

	// ArtifactDir is the directory for file-backed checkpoints.
	ArtifactDir string `envDefault:"/var/lib/conveyor/artifacts" env:"ARTIFACT_DIR"`

	// ArtifactRedisURL is the redis connection URL for redis-backed checkpoints.
	ArtifactRedisURL string `envDefault:"redis://localhost:6379/0" env:"ARTIFACT_REDIS_URL"`

	// ArtifactTTLSeconds expires redis-backed checkpoints. Zero keeps them.
	ArtifactTTLSeconds int `envDefault:"0" env:"ARTIFACT_TTL_SECONDS"`

	// ==========================================================================
	// Verification Sandbox
	// ==========================================================================

	// SandboxBackend selects how tests run: docker or local.
	SandboxBackend string `envDefault:"local" env:"SANDBOX_BACKEND"`

	// SandboxLanguage is the language of the generated code under test.
	SandboxLanguage string `envDefault:"python" env:"SANDBOX_LANGUAGE"`

	// SandboxTimeoutSeconds is the deadline for one verification run.
	SandboxTimeoutSeconds int `envDefault:"60" env:"SANDBOX_TIMEOUT_SECONDS"`

	// SandboxImage overrides the container image used for verification.
	SandboxImage string `env:"SANDBOX_IMAGE"`

	// SandboxMemoryLimitMB caps container memory.
	SandboxMemoryLimitMB int `envDefault:"512" env:"SANDBOX_MEMORY_LIMIT_MB"`

	// SandboxNetworkEnabled allows network access during verification.
	SandboxNetworkEnabled bool `envDefault:"false" env:"SANDBOX_NETWORK_ENABLED"`

	// ==========================================================================
	// Run Policy
	// ==========================================================================

	// MaxFixAttempts bounds the verify-and-fix loop per task.
	MaxFixAttempts int `envDefault:"5" env:"MAX_FIX_ATTEMPTS"`

	// HaltOnStageFailure aborts the run when a task stage fails instead
	// of skipping the task.
	HaltOnStageFailure bool `envDefault:"false" env:"HALT_ON_STAGE_FAILURE"`

	// DesignApprovalMode is auto_approve or require_review.
	DesignApprovalMode string `envDefault:"auto_approve" env:"DESIGN_APPROVAL_MODE"`

	// ==========================================================================
	// Run History
	// ==========================================================================

	// HistoryDatabaseDSN is the postgres DSN for run history. Empty
	// keeps history in memory only.
	HistoryDatabaseDSN string `env:"HISTORY_DATABASE_DSN"`
}
