package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/antinvestor/conveyor/internal/model"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "bare json",
			content: `{"a": 1}`,
			want:    `{"a": 1}`,
		},
		{
			name:    "json fence",
			content: "```json\n{\"a\": 1}\n```",
			want:    `{"a": 1}`,
		},
		{
			name:    "anonymous fence",
			content: "```\n{\"a\": 1}\n```",
			want:    `{"a": 1}`,
		},
		{
			name:    "surrounding whitespace",
			content: "  \n{\"a\": 1}\n  ",
			want:    `{"a": 1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractJSON(tt.content)
			if got != tt.want {
				t.Errorf("extractJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeArtifactRejectsUnknownFields(t *testing.T) {
	var result FixResult
	err := decodeArtifact(`{"analysis": "x", "fixes": [], "bogus": true}`, &result)
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestDecodeArtifactStripsFences(t *testing.T) {
	var result ImplementationResult
	content := "```json\n{\"files\": [{\"filename\": \"main.py\", \"content\": \"pass\"}]}\n```"
	if err := decodeArtifact(content, &result); err != nil {
		t.Fatalf("decodeArtifact() error = %v", err)
	}
	if len(result.Files) != 1 || result.Files[0].Filename != "main.py" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestStructuralErrorMatchesInvalidResponse(t *testing.T) {
	parseErr := errors.New("unexpected end of input")
	err := error(&StructuralError{
		Function: FunctionGenerateDesign,
		Raw:      "not json",
		Err:      parseErr,
	})

	if !errors.Is(err, ErrInvalidResponse) {
		t.Error("StructuralError should match ErrInvalidResponse")
	}
	if !errors.Is(err, parseErr) {
		t.Error("StructuralError should match its wrapped parse error")
	}

	var structural *StructuralError
	if !errors.As(err, &structural) {
		t.Fatal("errors.As should recover *StructuralError")
	}
	if structural.Raw != "not json" {
		t.Errorf("Raw = %q, want the raw response text", structural.Raw)
	}
}

func TestPromptBuilderBuildsAllFunctions(t *testing.T) {
	pb, err := NewPromptBuilder()
	if err != nil {
		t.Fatalf("NewPromptBuilder() error = %v", err)
	}

	prd := model.PRD{Title: "Calculator Service", Description: "Evaluate expressions", Level: model.PRDLevelFeature}
	design := model.Design{Title: "Calc Design", Overview: "Layered", ArchitecturePattern: "layered"}
	task := model.Task{ID: "TASK-001", Title: "Tokenizer", Description: "Tokenize input"}
	files := model.FileSet{"calc.py": "def add(a, b): return a + b"}

	tests := []struct {
		name     string
		fn       Function
		data     any
		contains []string
	}{
		{
			name:     "design",
			fn:       FunctionGenerateDesign,
			data:     DesignInput{PRD: prd},
			contains: []string{"Calculator Service", "architecture_pattern"},
		},
		{
			name:     "plan",
			fn:       FunctionGeneratePlan,
			data:     PlanInput{Design: design},
			contains: []string{"Calc Design", "epics", "TASK-NNN"},
		},
		{
			name:     "implement",
			fn:       FunctionImplementTask,
			data:     ImplementInput{Task: task, Design: design},
			contains: []string{"TASK-001", "full file content"},
		},
		{
			name: "fix",
			fn:   FunctionFixTests,
			data: FixInput{
				Task: task, Files: files,
				TestOutput: "FAILED test_add", Attempt: 2, MaxAttempts: 5,
			},
			contains: []string{"FAILED test_add", "2 of 5", "calc.py"},
		},
		{
			name: "review",
			fn:   FunctionReviewCode,
			data: ReviewInput{
				PR:   model.PullRequest{ID: "PR-TASK-001", Title: "Tokenizer", Status: model.PRStatusOpen},
				Task: task, Files: files,
			},
			contains: []string{"PR-TASK-001", "approve|request_changes"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompt, buildErr := pb.Build(tt.fn, tt.data)
			if buildErr != nil {
				t.Fatalf("Build(%s) error = %v", tt.fn, buildErr)
			}
			for _, want := range tt.contains {
				if !strings.Contains(prompt, want) {
					t.Errorf("Build(%s) missing %q", tt.fn, want)
				}
			}
		})
	}
}

func TestPromptBuilderUnknownFunction(t *testing.T) {
	pb, err := NewPromptBuilder()
	if err != nil {
		t.Fatalf("NewPromptBuilder() error = %v", err)
	}
	if _, err = pb.Build("NoSuchFunction", nil); err == nil {
		t.Error("expected error for unknown function")
	}
}

// fakeProvider is a scripted ProviderClient for fallback tests.
type fakeProvider struct {
	name     Provider
	response *CompletionResponse
	err      error
	block    bool
	calls    int
}

func (f *fakeProvider) Complete(ctx context.Context, _ *CompletionRequest) (*CompletionResponse, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakeProvider) Provider() Provider { return f.name }
func (f *fakeProvider) IsAvailable() bool  { return true }

func newTestClient(t *testing.T, providers ...ProviderClient) *MultiProviderClient {
	t.Helper()
	pb, err := NewPromptBuilder()
	if err != nil {
		t.Fatalf("NewPromptBuilder() error = %v", err)
	}
	cfg := DefaultClientConfig()
	cfg.MaxRetries = 1
	cfg.TimeoutSeconds = 1
	return &MultiProviderClient{
		providers:     providers,
		promptBuilder: pb,
		config:        cfg,
		limiter:       rate.NewLimiter(rate.Inf, 1),
	}
}

func TestCompleteWithFallbackUsesNextProvider(t *testing.T) {
	failing := &fakeProvider{name: ProviderAnthropic, err: ErrQuotaExceeded}
	working := &fakeProvider{
		name: ProviderOpenAI,
		response: &CompletionResponse{
			Content: `{"files": [{"filename": "main.py", "content": "pass"}]}`,
			Usage:   Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		},
	}
	client := newTestClient(t, failing, working)

	result, _, err := client.ImplementTask(context.Background(), ImplementInput{
		Task: model.Task{ID: "TASK-001", Title: "t", Description: "d"},
	})
	if err != nil {
		t.Fatalf("ImplementTask() error = %v", err)
	}
	if len(result.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(result.Files))
	}
	if failing.calls != 1 || working.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", failing.calls, working.calls)
	}
	if client.GetUsage().TotalTokens != 15 {
		t.Errorf("usage not accumulated: %+v", client.GetUsage())
	}
}

func TestCompleteWithFallbackAllFail(t *testing.T) {
	a := &fakeProvider{name: ProviderAnthropic, err: ErrQuotaExceeded}
	b := &fakeProvider{name: ProviderOpenAI, err: ErrQuotaExceeded}
	client := newTestClient(t, a, b)

	_, _, err := client.FixTests(context.Background(), FixInput{
		Task: model.Task{ID: "TASK-001", Title: "t", Description: "d"},
	})
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Errorf("error = %v, want ErrAllProvidersFailed", err)
	}
}

func TestZeroMaxRetriesStillCompletes(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.AnthropicAPIKey = "test-key"
	cfg.MaxRetries = 0
	cfg.TimeoutSeconds = 1

	client, err := NewMultiProviderClient(cfg)
	if err != nil {
		t.Fatalf("NewMultiProviderClient() error = %v", err)
	}
	if client.config.MaxRetries != defaultMaxRetries {
		t.Errorf("MaxRetries = %d, want floor to %d", client.config.MaxRetries, defaultMaxRetries)
	}

	provider := &fakeProvider{
		name: ProviderAnthropic,
		response: &CompletionResponse{
			Content: `{"files": [{"filename": "main.py", "content": "pass"}]}`,
		},
	}
	client.providers = []ProviderClient{provider}
	client.limiter = rate.NewLimiter(rate.Inf, 1)

	result, _, err := client.ImplementTask(context.Background(), ImplementInput{
		Task: model.Task{ID: "TASK-001", Title: "t", Description: "d"},
	})
	if err != nil {
		t.Fatalf("ImplementTask() error = %v", err)
	}
	if len(result.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(result.Files))
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls)
	}
}

func TestCompleteWithFallbackEngineDeadline(t *testing.T) {
	slow := &fakeProvider{name: ProviderAnthropic, block: true}
	client := newTestClient(t, slow)

	start := time.Now()
	_, _, err := client.ReviewCode(context.Background(), ReviewInput{
		PR:   model.PullRequest{ID: "PR-TASK-001", Title: "t", TaskID: "TASK-001"},
		Task: model.Task{ID: "TASK-001", Title: "t", Description: "d"},
	})
	if !errors.Is(err, ErrEngineTimeout) {
		t.Fatalf("error = %v, want ErrEngineTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("deadline took %s, expected about 1s", elapsed)
	}
}

func TestStageParseFailureReturnsStructuralError(t *testing.T) {
	garbled := &fakeProvider{
		name:     ProviderAnthropic,
		response: &CompletionResponse{Content: "I could not produce JSON, sorry."},
	}
	client := newTestClient(t, garbled)

	_, _, err := client.ImplementTask(context.Background(), ImplementInput{
		Task: model.Task{ID: "TASK-001", Title: "t", Description: "d"},
	})
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("error = %v, want ErrInvalidResponse", err)
	}

	var structural *StructuralError
	if !errors.As(err, &structural) {
		t.Fatal("expected *StructuralError")
	}
	if structural.Raw != "I could not produce JSON, sorry." {
		t.Errorf("Raw = %q, want original response text", structural.Raw)
	}
}

func TestReviewRejectsUnknownRecommendation(t *testing.T) {
	provider := &fakeProvider{
		name: ProviderAnthropic,
		response: &CompletionResponse{
			Content: `{"overall_assessment": "ok", "recommendation": "maybe"}`,
		},
	}
	client := newTestClient(t, provider)

	_, _, err := client.ReviewCode(context.Background(), ReviewInput{
		PR:   model.PullRequest{ID: "PR-TASK-001", Title: "t", TaskID: "TASK-001"},
		Task: model.Task{ID: "TASK-001", Title: "t", Description: "d"},
	})
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("error = %v, want ErrInvalidResponse", err)
	}
}

func TestEstimateCost(t *testing.T) {
	usage := Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	cost := estimateCost(ProviderAnthropic, ModelClaudeSonnet, usage)
	if cost != 18.0 {
		t.Errorf("estimateCost() = %v, want 18.0", cost)
	}
}
