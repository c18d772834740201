package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pitabwire/util"
	"golang.org/x/time/rate"

	"github.com/antinvestor/conveyor/internal/model"
)

// Common errors.
var (
	ErrNoAPIKey           = errors.New("no API key configured")
	ErrRateLimited        = errors.New("rate limited")
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrContextTooLong     = errors.New("context too long")
	ErrInvalidResponse    = errors.New("invalid response from engine")
	ErrEngineTimeout      = errors.New("engine invocation timed out")
	ErrAllProvidersFailed = errors.New("all providers failed")
)

// StructuralError reports an engine response that came back but could
// not be decoded into the expected artifact shape. Raw carries the
// response text for diagnosis. It matches ErrInvalidResponse under
// errors.Is.
type StructuralError struct {
	Function Function
	Raw      string
	Err      error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Function, ErrInvalidResponse, e.Err)
}

func (e *StructuralError) Unwrap() []error {
	return []error{ErrInvalidResponse, e.Err}
}

// Client is the interface the pipeline uses to run generative stages.
type Client interface {
	// GenerateDesign produces an architecture design from a PRD.
	GenerateDesign(
		ctx context.Context,
		input DesignInput,
	) (*model.Design, *InvocationResult, error)

	// GeneratePlan breaks a design into epics, stories and tasks.
	GeneratePlan(
		ctx context.Context,
		input PlanInput,
	) ([]model.Epic, *InvocationResult, error)

	// ImplementTask generates source files for a single task.
	ImplementTask(
		ctx context.Context,
		input ImplementInput,
	) (*ImplementationResult, *InvocationResult, error)

	// FixTests proposes file replacements for failing tests.
	FixTests(
		ctx context.Context,
		input FixInput,
	) (*FixResult, *InvocationResult, error)

	// ReviewCode reviews an implemented task's pull request.
	ReviewCode(
		ctx context.Context,
		input ReviewInput,
	) (*ReviewResult, *InvocationResult, error)

	// GetUsage returns cumulative usage statistics.
	GetUsage() Usage
}

// ProviderClient is the interface for a single engine provider.
type ProviderClient interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Provider returns the provider identifier.
	Provider() Provider

	// IsAvailable returns true if the provider is configured.
	IsAvailable() bool
}

// CompletionRequest is a request to the engine.
type CompletionRequest struct {
	Model        Model
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
	Function     Function
	Purpose      Purpose
}

// CompletionResponse is a response from the engine.
type CompletionResponse struct {
	Content    string
	Usage      Usage
	StopReason string
	RequestID  string
	LatencyMS  int64
}

// MultiProviderClient implements Client with provider fallback, retry
// with backoff, a shared request rate limit and a per-invocation
// deadline.
type MultiProviderClient struct {
	providers     []ProviderClient
	promptBuilder *PromptBuilder
	config        ClientConfig
	limiter       *rate.Limiter
	totalUsage    Usage
}

// NewMultiProviderClient creates a new multi-provider client.
func NewMultiProviderClient(cfg ClientConfig) (*MultiProviderClient, error) {
	pb, err := NewPromptBuilder()
	if err != nil {
		return nil, fmt.Errorf("create prompt builder: %w", err)
	}

	const numProviders = 3
	providers := make([]ProviderClient, 0, numProviders)

	if cfg.AnthropicAPIKey != "" {
		providers = append(providers, NewAnthropicClient(cfg.AnthropicAPIKey, cfg))
	}
	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, NewOpenAIClient(cfg.OpenAIAPIKey, cfg))
	}
	if cfg.GoogleAPIKey != "" {
		providers = append(providers, NewGoogleClient(cfg.GoogleAPIKey, cfg))
	}

	if len(providers) == 0 {
		return nil, ErrNoAPIKey
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRequestsPerMinute
	}
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	return &MultiProviderClient{
		providers:     providers,
		promptBuilder: pb,
		config:        cfg,
		limiter:       limiter,
	}, nil
}

// GenerateDesign implements Client.
//
//nolint:dupl // Same invocation pattern as the other stages, different types
func (c *MultiProviderClient) GenerateDesign(
	ctx context.Context,
	input DesignInput,
) (*model.Design, *InvocationResult, error) {
	log := util.Log(ctx)

	prompt, err := c.promptBuilder.Build(FunctionGenerateDesign, input)
	if err != nil {
		return nil, nil, fmt.Errorf("build prompt: %w", err)
	}

	req := &CompletionRequest{
		Model:        c.config.DefaultModel,
		SystemPrompt: "You are an expert software architect.",
		UserPrompt:   prompt,
		MaxTokens:    designMaxTokens,
		Temperature:  designTemperature,
		Function:     FunctionGenerateDesign,
		Purpose:      PurposeDesign,
	}

	resp, err := c.completeWithFallback(ctx, req)
	if err != nil {
		log.WithError(err).Error("design generation failed")
		return nil, nil, err
	}

	var result model.Design
	if parseErr := decodeArtifact(resp.Content, &result); parseErr != nil {
		log.WithError(parseErr).Error("failed to parse design")
		return nil, nil, &StructuralError{
			Function: FunctionGenerateDesign,
			Raw:      resp.Content,
			Err:      parseErr,
		}
	}
	if validErr := result.Validate(); validErr != nil {
		return nil, nil, &StructuralError{
			Function: FunctionGenerateDesign,
			Raw:      resp.Content,
			Err:      validErr,
		}
	}
	result.CreatedAt = time.Now()

	invocation := c.buildInvocationResult(resp, FunctionGenerateDesign)
	return &result, invocation, nil
}

// GeneratePlan implements Client.
func (c *MultiProviderClient) GeneratePlan(
	ctx context.Context,
	input PlanInput,
) ([]model.Epic, *InvocationResult, error) {
	log := util.Log(ctx)

	if !input.Design.HumanReviewed {
		log.Warn("planning from a design that has not been human reviewed")
	}

	prompt, err := c.promptBuilder.Build(FunctionGeneratePlan, input)
	if err != nil {
		return nil, nil, fmt.Errorf("build prompt: %w", err)
	}

	req := &CompletionRequest{
		Model:        c.config.DefaultModel,
		SystemPrompt: "You are an expert technical program manager.",
		UserPrompt:   prompt,
		MaxTokens:    planMaxTokens,
		Temperature:  planTemperature,
		Function:     FunctionGeneratePlan,
		Purpose:      PurposePlanning,
	}

	resp, err := c.completeWithFallback(ctx, req)
	if err != nil {
		log.WithError(err).Error("plan generation failed")
		return nil, nil, err
	}

	var result planResponse
	if parseErr := decodeArtifact(resp.Content, &result); parseErr != nil {
		log.WithError(parseErr).Error("failed to parse work breakdown")
		return nil, nil, &StructuralError{
			Function: FunctionGeneratePlan,
			Raw:      resp.Content,
			Err:      parseErr,
		}
	}
	for i := range result.Epics {
		if validErr := result.Epics[i].Validate(); validErr != nil {
			return nil, nil, &StructuralError{
				Function: FunctionGeneratePlan,
				Raw:      resp.Content,
				Err:      validErr,
			}
		}
	}

	invocation := c.buildInvocationResult(resp, FunctionGeneratePlan)
	return result.Epics, invocation, nil
}

// ImplementTask implements Client.
//
//nolint:dupl // Same invocation pattern as the other stages, different types
func (c *MultiProviderClient) ImplementTask(
	ctx context.Context,
	input ImplementInput,
) (*ImplementationResult, *InvocationResult, error) {
	log := util.Log(ctx)

	prompt, err := c.promptBuilder.Build(FunctionImplementTask, input)
	if err != nil {
		return nil, nil, fmt.Errorf("build prompt: %w", err)
	}

	req := &CompletionRequest{
		Model:        c.config.DefaultModel,
		SystemPrompt: "You are an expert software engineer.",
		UserPrompt:   prompt,
		MaxTokens:    implementMaxTokens,
		Temperature:  implementTemperature,
		Function:     FunctionImplementTask,
		Purpose:      PurposeImplementation,
	}

	resp, err := c.completeWithFallback(ctx, req)
	if err != nil {
		log.WithError(err).Error("task implementation failed",
			"task_id", input.Task.ID,
		)
		return nil, nil, err
	}

	var result ImplementationResult
	if parseErr := decodeArtifact(resp.Content, &result); parseErr != nil {
		log.WithError(parseErr).Error("failed to parse implementation")
		return nil, nil, &StructuralError{
			Function: FunctionImplementTask,
			Raw:      resp.Content,
			Err:      parseErr,
		}
	}
	if len(result.Files) == 0 {
		return nil, nil, &StructuralError{
			Function: FunctionImplementTask,
			Raw:      resp.Content,
			Err:      errors.New("no files generated"),
		}
	}

	invocation := c.buildInvocationResult(resp, FunctionImplementTask)
	return &result, invocation, nil
}

// FixTests implements Client.
//
//nolint:dupl // Same invocation pattern as the other stages, different types
func (c *MultiProviderClient) FixTests(
	ctx context.Context,
	input FixInput,
) (*FixResult, *InvocationResult, error) {
	log := util.Log(ctx)

	prompt, err := c.promptBuilder.Build(FunctionFixTests, input)
	if err != nil {
		return nil, nil, fmt.Errorf("build prompt: %w", err)
	}

	req := &CompletionRequest{
		Model:        c.config.DefaultModel,
		SystemPrompt: "You are an expert debugger.",
		UserPrompt:   prompt,
		MaxTokens:    fixMaxTokens,
		Temperature:  fixTemperature,
		Function:     FunctionFixTests,
		Purpose:      PurposeFixing,
	}

	resp, err := c.completeWithFallback(ctx, req)
	if err != nil {
		log.WithError(err).Error("fix generation failed",
			"task_id", input.Task.ID,
			"attempt", input.Attempt,
		)
		return nil, nil, err
	}

	var result FixResult
	if parseErr := decodeArtifact(resp.Content, &result); parseErr != nil {
		log.WithError(parseErr).Error("failed to parse fix")
		return nil, nil, &StructuralError{
			Function: FunctionFixTests,
			Raw:      resp.Content,
			Err:      parseErr,
		}
	}

	invocation := c.buildInvocationResult(resp, FunctionFixTests)
	return &result, invocation, nil
}

// ReviewCode implements Client.
//
//nolint:dupl // Same invocation pattern as the other stages, different types
func (c *MultiProviderClient) ReviewCode(
	ctx context.Context,
	input ReviewInput,
) (*ReviewResult, *InvocationResult, error) {
	log := util.Log(ctx)

	prompt, err := c.promptBuilder.Build(FunctionReviewCode, input)
	if err != nil {
		return nil, nil, fmt.Errorf("build prompt: %w", err)
	}

	req := &CompletionRequest{
		Model:        c.config.DefaultModel,
		SystemPrompt: "You are an expert code reviewer.",
		UserPrompt:   prompt,
		MaxTokens:    reviewMaxTokens,
		Temperature:  reviewTemperature,
		Function:     FunctionReviewCode,
		Purpose:      PurposeReview,
	}

	resp, err := c.completeWithFallback(ctx, req)
	if err != nil {
		log.WithError(err).Error("review failed",
			"pr_id", input.PR.ID,
		)
		return nil, nil, err
	}

	var result ReviewResult
	if parseErr := decodeArtifact(resp.Content, &result); parseErr != nil {
		log.WithError(parseErr).Error("failed to parse review")
		return nil, nil, &StructuralError{
			Function: FunctionReviewCode,
			Raw:      resp.Content,
			Err:      parseErr,
		}
	}
	if result.Recommendation != RecommendationApprove &&
		result.Recommendation != RecommendationRequestChanges {
		return nil, nil, &StructuralError{
			Function: FunctionReviewCode,
			Raw:      resp.Content,
			Err:      fmt.Errorf("unknown recommendation %q", result.Recommendation),
		}
	}

	invocation := c.buildInvocationResult(resp, FunctionReviewCode)
	return &result, invocation, nil
}

// GetUsage implements Client.
func (c *MultiProviderClient) GetUsage() Usage {
	return c.totalUsage
}

// completeWithFallback tries each provider in order until one succeeds.
// Each invocation runs under the configured engine deadline.
func (c *MultiProviderClient) completeWithFallback(
	ctx context.Context,
	req *CompletionRequest,
) (*CompletionResponse, error) {
	log := util.Log(ctx)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	deadline := time.Duration(c.config.TimeoutSeconds) * time.Second
	if deadline <= 0 {
		deadline = defaultTimeoutSeconds * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var lastErr error
	for _, provider := range c.providers {
		if !provider.IsAvailable() {
			continue
		}

		log.Debug("trying provider",
			"provider", provider.Provider(),
			"function", req.Function,
		)

		resp, err := c.completeWithRetry(callCtx, provider, req)
		if err == nil {
			c.totalUsage.InputTokens += resp.Usage.InputTokens
			c.totalUsage.OutputTokens += resp.Usage.OutputTokens
			c.totalUsage.TotalTokens += resp.Usage.TotalTokens
			c.totalUsage.CostUSD += resp.Usage.CostUSD

			return resp, nil
		}

		if callCtx.Err() != nil && ctx.Err() == nil {
			// Our deadline fired, not the caller's.
			return nil, fmt.Errorf("%w after %s: %s", ErrEngineTimeout, deadline, req.Function)
		}

		log.WithError(err).Warn("provider failed, trying next",
			"provider", provider.Provider(),
		)
		lastErr = err

		// A request that is too large for one provider is too large
		// for the rest as well.
		if errors.Is(err, ErrContextTooLong) {
			return nil, err
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
	}
	return nil, ErrAllProvidersFailed
}

// completeWithRetry retries a single provider request with exponential
// backoff.
func (c *MultiProviderClient) completeWithRetry(
	ctx context.Context,
	provider ProviderClient,
	req *CompletionRequest,
) (*CompletionResponse, error) {
	log := util.Log(ctx)
	var lastErr error

	for attempt := range c.config.MaxRetries {
		resp, err := provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		if errors.Is(err, ErrContextTooLong) ||
			errors.Is(err, ErrQuotaExceeded) {
			return nil, err
		}

		backoff := time.Duration(1<<attempt) * time.Second
		log.Debug("retrying after error",
			"provider", provider.Provider(),
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, lastErr
}

// buildInvocationResult creates an InvocationResult from a response.
func (c *MultiProviderClient) buildInvocationResult(
	resp *CompletionResponse,
	fn Function,
) *InvocationResult {
	return &InvocationResult{
		Provider:    c.config.DefaultProvider,
		Model:       c.config.DefaultModel,
		Function:    fn,
		Usage:       resp.Usage,
		LatencyMS:   resp.LatencyMS,
		StopReason:  resp.StopReason,
		RequestID:   resp.RequestID,
		CompletedAt: time.Now(),
	}
}

// decodeArtifact strictly decodes an engine response into the expected
// artifact shape. Engines sometimes wrap JSON in markdown fences even
// when told not to, so fences are stripped first. Unknown fields are
// rejected.
func decodeArtifact(content string, out any) error {
	trimmed := extractJSON(content)
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

// extractJSON strips a surrounding markdown code fence, if any.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// estimateCost estimates the cost of a request in USD.
func estimateCost(provider Provider, model Model, usage Usage) float64 {
	// Pricing per 1M tokens (as of early 2025)
	var inputPrice, outputPrice float64

	switch provider {
	case ProviderAnthropic:
		switch model {
		case ModelClaudeOpus:
			inputPrice, outputPrice = 15.0, 75.0
		case ModelClaudeSonnet:
			inputPrice, outputPrice = 3.0, 15.0
		case ModelClaudeHaiku:
			inputPrice, outputPrice = 0.25, 1.25
		case ModelGPT4o, ModelGeminiFlash:
			inputPrice, outputPrice = 3.0, 15.0
		}
	case ProviderOpenAI:
		inputPrice, outputPrice = 2.5, 10.0
	case ProviderGoogle:
		inputPrice, outputPrice = 0.075, 0.30
	}

	const tokensPerMillion = 1_000_000.0
	inputCost := float64(usage.InputTokens) / tokensPerMillion * inputPrice
	outputCost := float64(usage.OutputTokens) / tokensPerMillion * outputPrice

	return inputCost + outputCost
}
