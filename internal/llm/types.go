// Package llm drives the generative stages of the pipeline: design,
// planning, implementation, test fixing and review.
package llm

import (
	"time"

	"github.com/antinvestor/conveyor/internal/model"
)

// Provider identifies a generative engine provider.
type Provider string

// Provider constants.
const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGoogle    Provider = "google"
)

// Model identifies an engine model.
type Model string

// Anthropic model constants.
const (
	ModelClaudeSonnet Model = "claude-sonnet-4-20250514"
	ModelClaudeOpus   Model = "claude-opus-4-20250514"
	ModelClaudeHaiku  Model = "claude-3-5-haiku-20241022"
)

// OpenAI model constants.
const (
	ModelGPT4o Model = "gpt-4o"
)

// Google model constants.
const (
	ModelGeminiFlash Model = "gemini-2.0-flash"
)

// Function identifies a generative pipeline stage.
type Function string

// Stage function constants.
const (
	FunctionGenerateDesign Function = "GenerateDesign"
	FunctionGeneratePlan   Function = "GeneratePlan"
	FunctionImplementTask  Function = "ImplementTask"
	FunctionFixTests       Function = "FixTests"
	FunctionReviewCode     Function = "ReviewCode"
)

// Purpose categorizes engine invocations.
type Purpose string

// Purpose constants.
const (
	PurposeDesign         Purpose = "design"
	PurposePlanning       Purpose = "planning"
	PurposeImplementation Purpose = "implementation"
	PurposeFixing         Purpose = "fixing"
	PurposeReview         Purpose = "review"
)

// FileSpec is a single generated file: path plus full content.
type FileSpec struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	Description string `json:"description,omitempty"`
}

// ImplementationResult is the output of the implementation stage.
type ImplementationResult struct {
	Files               []FileSpec `json:"files"`
	ImplementationNotes string     `json:"implementation_notes,omitempty"`
}

// FileSet flattens the generated files into a path→content map.
func (r *ImplementationResult) FileSet() model.FileSet {
	fs := make(model.FileSet, len(r.Files))
	for _, f := range r.Files {
		fs[f.Filename] = f.Content
	}
	return fs
}

// FixResult is the output of a single test-fix attempt. Fixes carries
// full replacement contents for the files the engine chose to touch;
// every other file stays as it was.
type FixResult struct {
	Analysis string     `json:"analysis"`
	Fixes    []FileSpec `json:"fixes"`
}

// FileSet flattens the fixed files into a path→content map.
func (r *FixResult) FileSet() model.FileSet {
	fs := make(model.FileSet, len(r.Fixes))
	for _, f := range r.Fixes {
		fs[f.Filename] = f.Content
	}
	return fs
}

// Recommendation is the review stage verdict.
type Recommendation string

// Recommendation constants.
const (
	RecommendationApprove        Recommendation = "approve"
	RecommendationRequestChanges Recommendation = "request_changes"
)

// ReviewCommentSpec is a review remark as the engine emits it.
type ReviewCommentSpec struct {
	FilePath   string `json:"file_path"`
	LineNumber *int   `json:"line_number,omitempty"`
	Comment    string `json:"comment"`
	Severity   string `json:"severity"`
}

// ReviewResult is the output of the review stage.
type ReviewResult struct {
	OverallAssessment   string              `json:"overall_assessment"`
	Recommendation      Recommendation      `json:"recommendation"`
	Comments            []ReviewCommentSpec `json:"comments,omitempty"`
	PositiveAspects     []string            `json:"positive_aspects,omitempty"`
	AreasForImprovement []string            `json:"areas_for_improvement,omitempty"`
}

// planResponse is the wire shape of the planning stage output.
type planResponse struct {
	Epics []model.Epic `json:"epics"`
}

// Usage contains token usage statistics.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
}

// InvocationResult is the record of one engine invocation.
type InvocationResult struct {
	Provider    Provider  `json:"provider"`
	Model       Model     `json:"model"`
	Function    Function  `json:"function"`
	Usage       Usage     `json:"usage"`
	LatencyMS   int64     `json:"latency_ms"`
	StopReason  string    `json:"stop_reason"`
	RequestID   string    `json:"request_id,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Per-stage sampling parameters. The early stages explore more; the
// fix stage stays conservative so it does not rewrite working code.
const (
	designTemperature    = 0.5
	planTemperature      = 0.4
	implementTemperature = 0.3
	fixTemperature       = 0.2
	reviewTemperature    = 0.3

	designMaxTokens    = 4096
	planMaxTokens      = 8000
	implementMaxTokens = 8000
	fixMaxTokens       = 8000
	reviewMaxTokens    = 4096
)

// Default configuration constants.
const (
	defaultTimeoutSeconds    = 120
	defaultMaxRetries        = 3
	defaultRequestsPerMinute = 30
)

// ClientConfig contains engine client configuration.
type ClientConfig struct {
	// Provider settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string

	// Defaults
	DefaultProvider Provider
	DefaultModel    Model

	// TimeoutSeconds bounds a single engine invocation end to end.
	TimeoutSeconds int
	MaxRetries     int

	// RequestsPerMinute throttles invocations across all providers.
	RequestsPerMinute int
}

// DefaultClientConfig returns default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DefaultProvider:   ProviderAnthropic,
		DefaultModel:      ModelClaudeSonnet,
		TimeoutSeconds:    defaultTimeoutSeconds,
		MaxRetries:        defaultMaxRetries,
		RequestsPerMinute: defaultRequestsPerMinute,
	}
}
