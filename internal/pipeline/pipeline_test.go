package pipeline //nolint:testpackage // White-box testing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/conveyor/internal/artifacts"
	"github.com/antinvestor/conveyor/internal/history"
	"github.com/antinvestor/conveyor/internal/llm"
	"github.com/antinvestor/conveyor/internal/model"
	"github.com/antinvestor/conveyor/internal/sandbox"
	"github.com/antinvestor/conveyor/internal/workspace"
)

// stubEngine scripts every generative stage.
type stubEngine struct {
	design    *model.Design
	designErr error

	epics   []model.Epic
	planErr error

	implErr   error
	implCalls int

	fixErr   error
	fixCalls int

	review    *llm.ReviewResult
	reviewErr error
}

func (e *stubEngine) GenerateDesign(
	_ context.Context,
	_ llm.DesignInput,
) (*model.Design, *llm.InvocationResult, error) {
	if e.designErr != nil {
		return nil, nil, e.designErr
	}
	return e.design, &llm.InvocationResult{}, nil
}

func (e *stubEngine) GeneratePlan(
	_ context.Context,
	_ llm.PlanInput,
) ([]model.Epic, *llm.InvocationResult, error) {
	if e.planErr != nil {
		return nil, nil, e.planErr
	}
	return e.epics, &llm.InvocationResult{}, nil
}

func (e *stubEngine) ImplementTask(
	_ context.Context,
	input llm.ImplementInput,
) (*llm.ImplementationResult, *llm.InvocationResult, error) {
	e.implCalls++
	if e.implErr != nil {
		return nil, nil, e.implErr
	}
	return &llm.ImplementationResult{
		Files: []llm.FileSpec{
			{Filename: "main.py", Content: "def run():\n    pass\n"},
			{Filename: "test_main.py", Content: "def test_run():\n    pass\n"},
		},
		ImplementationNotes: "implements " + input.Task.ID,
	}, &llm.InvocationResult{}, nil
}

func (e *stubEngine) FixTests(
	_ context.Context,
	input llm.FixInput,
) (*llm.FixResult, *llm.InvocationResult, error) {
	e.fixCalls++
	if e.fixErr != nil {
		return nil, nil, e.fixErr
	}
	return &llm.FixResult{
		Analysis: "attempt " + input.Task.ID,
		Fixes: []llm.FileSpec{
			{Filename: "main.py", Content: "def run():\n    return 1\n"},
		},
	}, &llm.InvocationResult{}, nil
}

func (e *stubEngine) ReviewCode(
	_ context.Context,
	_ llm.ReviewInput,
) (*llm.ReviewResult, *llm.InvocationResult, error) {
	if e.reviewErr != nil {
		return nil, nil, e.reviewErr
	}
	if e.review != nil {
		return e.review, &llm.InvocationResult{}, nil
	}
	return &llm.ReviewResult{
		OverallAssessment: "solid implementation",
		Recommendation:    llm.RecommendationApprove,
		PositiveAspects:   []string{"clear structure"},
	}, &llm.InvocationResult{}, nil
}

func (e *stubEngine) GetUsage() llm.Usage {
	return llm.Usage{}
}

// scriptRunner passes verification from the configured call onward.
// passAfter of zero means every run fails.
type scriptRunner struct {
	calls     int
	passAfter int
}

func (r *scriptRunner) Verify(_ context.Context, _ string) (*sandbox.Report, error) {
	r.calls++
	passed := r.passAfter > 0 && r.calls >= r.passAfter
	report := &sandbox.Report{
		Passed: passed,
		Output: "1 passed in 0.01s",
		Summary: sandbox.Summary{
			Total:  1,
			Passed: 1,
		},
	}
	if !passed {
		report.Output = "1 failed in 0.01s"
		report.Summary = sandbox.Summary{Total: 1, Failed: 1}
	}
	return report, nil
}

func testTask(id string) model.Task {
	return model.Task{
		ID:                  id,
		Title:               "Implement " + id,
		Description:         "do the thing",
		FeatureRequirements: []string{"works"},
		Status:              model.TicketStatusTodo,
		Priority:            model.TicketPriorityMedium,
	}
}

func testEpics(taskIDs ...string) []model.Epic {
	tasks := make([]model.Task, 0, len(taskIDs))
	for _, id := range taskIDs {
		tasks = append(tasks, testTask(id))
	}
	return []model.Epic{
		{
			ID:          "EPIC-001",
			Title:       "Core",
			Description: "core work",
			Stories: []model.Story{
				{
					ID:          "STORY-001",
					Title:       "Basics",
					Description: "basic work",
					EpicID:      "EPIC-001",
					Tasks:       tasks,
				},
			},
		},
	}
}

func testPRD() model.PRD {
	return model.PRD{
		Title:       "Calculator Service",
		Description: "A small calculator API",
		Level:       model.PRDLevelFeature,
	}
}

func testDesign() *model.Design {
	return &model.Design{
		Title:               "Calculator Service",
		Overview:            "A stateless HTTP calculator",
		ArchitecturePattern: "layered",
	}
}

func newTestOrchestrator(
	t *testing.T,
	engine *stubEngine,
	runner sandbox.Runner,
	cfg Config,
) (*Orchestrator, artifacts.Store) {
	t.Helper()

	staging, err := workspace.NewManager(t.TempDir())
	require.NoError(t, err)

	store := artifacts.NewMemoryStore()
	runs := history.NewRunRepository(context.Background(), nil)

	return NewOrchestrator(engine, runner, staging, store, runs, cfg), store
}

func TestFlattenTasksOrder(t *testing.T) {
	epics := []model.Epic{
		{
			ID: "EPIC-001",
			Stories: []model.Story{
				{ID: "STORY-001", Tasks: []model.Task{testTask("TASK-001"), testTask("TASK-002")}},
				{ID: "STORY-002", Tasks: []model.Task{testTask("TASK-003")}},
			},
		},
		{
			ID: "EPIC-002",
			Stories: []model.Story{
				{ID: "STORY-003", Tasks: []model.Task{testTask("TASK-004")}},
			},
		},
	}

	tasks := FlattenTasks(epics)
	require.Len(t, tasks, 4)

	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"TASK-001", "TASK-002", "TASK-003", "TASK-004"}, ids)

	// Flattening is deterministic.
	again := FlattenTasks(epics)
	assert.Equal(t, tasks, again)
}

func TestCursorAdvance(t *testing.T) {
	tasks := []model.Task{testTask("TASK-001"), testTask("TASK-002")}
	cursor := Cursor{}

	task, ok := cursor.Current(tasks)
	require.True(t, ok)
	assert.Equal(t, "TASK-001", task.ID)

	assert.Equal(t, DecisionContinue, cursor.Advance(len(tasks)))
	task, ok = cursor.Current(tasks)
	require.True(t, ok)
	assert.Equal(t, "TASK-002", task.ID)

	assert.Equal(t, DecisionTerminate, cursor.Advance(len(tasks)))
	_, ok = cursor.Current(tasks)
	assert.False(t, ok)
}

func TestVerifyFixLoopPassesFirstAttempt(t *testing.T) {
	engine := &stubEngine{}
	runner := &scriptRunner{passAfter: 1}
	staging, err := workspace.NewManager(t.TempDir())
	require.NoError(t, err)

	loop := NewVerifyFixLoop(engine, runner, staging, 0)
	outcome, err := loop.Run(context.Background(), testTask("TASK-001"), model.FileSet{
		"main.py": "pass",
	})
	require.NoError(t, err)

	assert.True(t, outcome.Passed)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, 0, engine.fixCalls)
}

func TestVerifyFixLoopExhaustsAttempts(t *testing.T) {
	engine := &stubEngine{}
	runner := &scriptRunner{}
	staging, err := workspace.NewManager(t.TempDir())
	require.NoError(t, err)

	loop := NewVerifyFixLoop(engine, runner, staging, 0)
	outcome, err := loop.Run(context.Background(), testTask("TASK-001"), model.FileSet{
		"main.py": "pass",
	})
	require.NoError(t, err)

	assert.False(t, outcome.Passed)
	assert.Equal(t, DefaultMaxFixAttempts, outcome.Attempts)
	assert.Equal(t, DefaultMaxFixAttempts, runner.calls)
	// The last verification run gets no fix call after it.
	assert.Equal(t, DefaultMaxFixAttempts-1, engine.fixCalls)
	assert.False(t, outcome.FixAborted)
}

func TestVerifyFixLoopPassesAfterFixes(t *testing.T) {
	engine := &stubEngine{}
	runner := &scriptRunner{passAfter: 3}
	staging, err := workspace.NewManager(t.TempDir())
	require.NoError(t, err)

	loop := NewVerifyFixLoop(engine, runner, staging, 0)
	outcome, err := loop.Run(context.Background(), testTask("TASK-001"), model.FileSet{
		"main.py": "pass",
	})
	require.NoError(t, err)

	assert.True(t, outcome.Passed)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 2, engine.fixCalls)

	// Applied fixes land in the returned file set.
	assert.Contains(t, outcome.Files["main.py"], "return 1")
}

func TestVerifyFixLoopAcceptsNilFileSet(t *testing.T) {
	engine := &stubEngine{}
	runner := &scriptRunner{passAfter: 2}
	staging, err := workspace.NewManager(t.TempDir())
	require.NoError(t, err)

	loop := NewVerifyFixLoop(engine, runner, staging, 0)
	outcome, err := loop.Run(context.Background(), testTask("TASK-001"), nil)
	require.NoError(t, err)

	assert.True(t, outcome.Passed)
	assert.Equal(t, 1, engine.fixCalls)
	assert.Contains(t, outcome.Files["main.py"], "return 1")
}

func TestVerifyFixLoopStopsWhenFixFails(t *testing.T) {
	engine := &stubEngine{fixErr: errors.New("engine unavailable")}
	runner := &scriptRunner{}
	staging, err := workspace.NewManager(t.TempDir())
	require.NoError(t, err)

	loop := NewVerifyFixLoop(engine, runner, staging, 0)
	outcome, err := loop.Run(context.Background(), testTask("TASK-001"), model.FileSet{
		"main.py": "pass",
	})
	require.NoError(t, err)

	assert.False(t, outcome.Passed)
	assert.True(t, outcome.FixAborted)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, 1, engine.fixCalls)
	assert.Equal(t, 1, runner.calls)
}

func TestRunProducesOnePRPerTask(t *testing.T) {
	engine := &stubEngine{
		design: testDesign(),
		epics:  testEpics("TASK-001", "TASK-002"),
	}
	orch, store := newTestOrchestrator(t, engine, &scriptRunner{passAfter: 1}, Config{})

	state, err := orch.Run(context.Background(), testPRD())
	require.NoError(t, err)

	assert.Equal(t, StatusAllTasksComplete, state.Status)
	assert.Equal(t, 2, state.Cursor.Index)
	require.Len(t, state.AllPRs, 2)

	assert.Equal(t, "PR-TASK-001", state.AllPRs[0].ID)
	assert.Equal(t, "PR-TASK-002", state.AllPRs[1].ID)
	assert.Equal(t, "feature/task-001", state.AllPRs[0].BranchName)
	assert.Equal(t, model.PRStatusApproved, state.AllPRs[0].Status)
	assert.Contains(t, state.AllPRs[0].Description, "## Review Summary")
	assert.Equal(t, 2, state.ApprovedCount())

	// Checkpoints are written along the way.
	var design model.Design
	require.NoError(t, store.Load(context.Background(), artifacts.DesignKey, &design))
	assert.True(t, design.HumanReviewed)

	var pr model.PullRequest
	require.NoError(t, store.Load(context.Background(), artifacts.ReviewedPRKey("TASK-002"), &pr))
	assert.Equal(t, model.PRStatusApproved, pr.Status)
}

func TestRunFailingVerificationYieldsDraftPR(t *testing.T) {
	engine := &stubEngine{
		design: testDesign(),
		epics:  testEpics("TASK-001"),
	}
	orch, _ := newTestOrchestrator(t, engine, &scriptRunner{}, Config{})

	state, err := orch.Run(context.Background(), testPRD())
	require.NoError(t, err)

	require.Len(t, state.AllPRs, 1)
	pr := state.AllPRs[0]
	assert.Contains(t, pr.Description, "Some tests are still failing")
	assert.Contains(t, pr.TestResults, "failed")
}

func TestRunChangesRequestedLeavesTaskInReview(t *testing.T) {
	engine := &stubEngine{
		design: testDesign(),
		epics:  testEpics("TASK-001"),
		review: &llm.ReviewResult{
			OverallAssessment: "needs work",
			Recommendation:    llm.RecommendationRequestChanges,
			Comments: []llm.ReviewCommentSpec{
				{FilePath: "main.py", Comment: "missing validation", Severity: "warning"},
			},
		},
	}
	orch, _ := newTestOrchestrator(t, engine, &scriptRunner{passAfter: 1}, Config{})

	state, err := orch.Run(context.Background(), testPRD())
	require.NoError(t, err)

	require.Len(t, state.AllPRs, 1)
	pr := state.AllPRs[0]
	assert.Equal(t, model.PRStatusChangesRequested, pr.Status)
	require.Len(t, pr.ReviewComments, 1)
	assert.Equal(t, model.ReviewSeverityWarning, pr.ReviewComments[0].Severity)
	assert.Equal(t, model.TicketStatusInReview, state.Tasks[0].Status)
	assert.Equal(t, 0, state.ApprovedCount())
}

func TestRunRequireReviewHaltsAfterDesign(t *testing.T) {
	engine := &stubEngine{
		design: testDesign(),
		epics:  testEpics("TASK-001"),
	}
	orch, store := newTestOrchestrator(t, engine, &scriptRunner{passAfter: 1}, Config{
		DesignApproval: ApprovalRequireReview,
	})

	state, err := orch.Run(context.Background(), testPRD())
	require.NoError(t, err)

	assert.Equal(t, StatusAwaitingDesignReview, state.Status)
	assert.Empty(t, state.Tasks)
	assert.Equal(t, 0, engine.implCalls)

	var design model.Design
	require.NoError(t, store.Load(context.Background(), artifacts.DesignKey, &design))
	assert.False(t, design.HumanReviewed)
}

func TestRunDesignFailureIsFatal(t *testing.T) {
	engine := &stubEngine{designErr: errors.New("all providers failed")}
	orch, _ := newTestOrchestrator(t, engine, &scriptRunner{passAfter: 1}, Config{})

	state, err := orch.Run(context.Background(), testPRD())
	require.Error(t, err)
	assert.Equal(t, StatusDesignFailed, state.Status)
	assert.NotEmpty(t, state.LastError)
}

func TestRunInvalidPRDIsFatal(t *testing.T) {
	engine := &stubEngine{design: testDesign()}
	orch, _ := newTestOrchestrator(t, engine, &scriptRunner{passAfter: 1}, Config{})

	state, err := orch.Run(context.Background(), model.PRD{Title: "no description"})
	require.Error(t, err)
	assert.Equal(t, StatusDesignFailed, state.Status)
}

func TestRunSkipsTaskWhenImplementationFails(t *testing.T) {
	engine := &stubEngine{
		design:  testDesign(),
		epics:   testEpics("TASK-001"),
		implErr: errors.New("context too long"),
	}
	orch, _ := newTestOrchestrator(t, engine, &scriptRunner{passAfter: 1}, Config{})

	state, err := orch.Run(context.Background(), testPRD())
	require.NoError(t, err)

	assert.Equal(t, StatusAllTasksComplete, state.Status)
	assert.Empty(t, state.AllPRs)
	assert.NotEmpty(t, state.LastError)
}

func TestRunHaltsOnImplementationFailureWhenConfigured(t *testing.T) {
	engine := &stubEngine{
		design:  testDesign(),
		epics:   testEpics("TASK-001", "TASK-002"),
		implErr: errors.New("context too long"),
	}
	orch, _ := newTestOrchestrator(t, engine, &scriptRunner{passAfter: 1}, Config{
		HaltOnStageFailure: true,
	})

	state, err := orch.Run(context.Background(), testPRD())
	require.Error(t, err)
	assert.Equal(t, StatusImplementationFailed, state.Status)
	assert.Equal(t, 1, engine.implCalls)
}

func TestRunEmptyPlanCompletesImmediately(t *testing.T) {
	engine := &stubEngine{
		design: testDesign(),
		epics:  nil,
	}
	orch, _ := newTestOrchestrator(t, engine, &scriptRunner{passAfter: 1}, Config{})

	state, err := orch.Run(context.Background(), testPRD())
	require.NoError(t, err)
	assert.Equal(t, StatusAllTasksComplete, state.Status)
	assert.Empty(t, state.AllPRs)
}
