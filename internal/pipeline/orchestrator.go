package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/conveyor/internal/artifacts"
	"github.com/antinvestor/conveyor/internal/history"
	"github.com/antinvestor/conveyor/internal/llm"
	"github.com/antinvestor/conveyor/internal/model"
	"github.com/antinvestor/conveyor/internal/sandbox"
	"github.com/antinvestor/conveyor/internal/workspace"
)

// ApprovalMode controls what happens to a generated design before
// planning proceeds.
type ApprovalMode string

// Approval modes.
const (
	// ApprovalAuto marks generated designs as reviewed and continues.
	ApprovalAuto ApprovalMode = "auto_approve"

	// ApprovalRequireReview halts the run after design generation so a
	// human can inspect the artifact.
	ApprovalRequireReview ApprovalMode = "require_review"
)

// Config holds orchestrator policy knobs.
type Config struct {
	// HaltOnStageFailure aborts the whole run when a task stage fails.
	// When false, the failing task is skipped and the run continues.
	HaltOnStageFailure bool

	// DesignApproval selects the design approval mode. Empty selects
	// auto approval.
	DesignApproval ApprovalMode

	// MaxFixAttempts bounds the verify-and-fix loop per task.
	// Non-positive selects the default.
	MaxFixAttempts int
}

// Orchestrator drives a full pipeline run: design, planning, then one
// implement/verify/review pass per task.
type Orchestrator struct {
	engine  llm.Client
	runner  sandbox.Runner
	staging *workspace.Manager
	store   artifacts.Store
	runs    history.RunRepository
	loop    *VerifyFixLoop
	cfg     Config
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(
	engine llm.Client,
	runner sandbox.Runner,
	staging *workspace.Manager,
	store artifacts.Store,
	runs history.RunRepository,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		engine:  engine,
		runner:  runner,
		staging: staging,
		store:   store,
		runs:    runs,
		loop:    NewVerifyFixLoop(engine, runner, staging, cfg.MaxFixAttempts),
		cfg:     cfg,
	}
}

// Run executes the pipeline for one PRD and returns the final state.
// The returned state is populated as far as the run got even when an
// error is returned.
func (o *Orchestrator) Run(ctx context.Context, prd model.PRD) (*State, error) {
	log := util.Log(ctx)

	state := &State{
		RunID:  history.NewRunID(),
		PRD:    prd,
		Status: StatusPending,
	}

	o.recordCreate(ctx, state)
	o.recordStatus(ctx, state.RunID, history.RunStatusRunning, "")

	if err := o.runDesign(ctx, state); err != nil {
		o.recordStatus(ctx, state.RunID, history.RunStatusFailed, state.LastError)
		return state, err
	}
	if state.Status == StatusAwaitingDesignReview {
		o.recordStatus(ctx, state.RunID, history.RunStatusAwaitingReview, "")
		log.Info("run halted for design review", "run_id", state.RunID)
		return state, nil
	}

	if err := o.runPlan(ctx, state); err != nil {
		o.recordStatus(ctx, state.RunID, history.RunStatusFailed, state.LastError)
		return state, err
	}

	for {
		task, ok := state.Cursor.Current(state.Tasks)
		if !ok {
			break
		}

		if err := o.processTask(ctx, state, task); err != nil {
			o.recordStatus(ctx, state.RunID, history.RunStatusFailed, state.LastError)
			return state, err
		}

		if state.Cursor.Advance(len(state.Tasks)) == DecisionTerminate {
			break
		}
	}

	state.Status = StatusAllTasksComplete
	o.recordCounts(ctx, state)
	o.recordStatus(ctx, state.RunID, history.RunStatusCompleted, "")

	log.Info("run complete",
		"run_id", state.RunID,
		"tasks", len(state.Tasks),
		"prs", len(state.AllPRs),
		"approved", state.ApprovedCount(),
	)
	return state, nil
}

// runDesign validates the PRD, generates the design and checkpoints it.
func (o *Orchestrator) runDesign(ctx context.Context, state *State) error {
	log := util.Log(ctx)

	if err := state.PRD.Validate(); err != nil {
		state.Status = StatusDesignFailed
		state.LastError = err.Error()
		return fmt.Errorf("validate prd: %w", err)
	}

	log.Info("generating design", "prd", state.PRD.Title)

	design, _, err := o.engine.GenerateDesign(ctx, llm.DesignInput{PRD: state.PRD})
	if err != nil {
		state.Status = StatusDesignFailed
		state.LastError = err.Error()
		return fmt.Errorf("generate design: %w", err)
	}

	if o.cfg.DesignApproval == ApprovalRequireReview {
		state.Design = design
		if saveErr := o.store.Save(ctx, artifacts.DesignKey, design); saveErr != nil {
			state.Status = StatusDesignFailed
			state.LastError = saveErr.Error()
			return fmt.Errorf("save design: %w", saveErr)
		}
		state.Status = StatusAwaitingDesignReview
		return nil
	}

	design.HumanReviewed = true
	state.Design = design
	if saveErr := o.store.Save(ctx, artifacts.DesignKey, design); saveErr != nil {
		state.Status = StatusDesignFailed
		state.LastError = saveErr.Error()
		return fmt.Errorf("save design: %w", saveErr)
	}

	state.Status = StatusDesignComplete
	log.Info("design complete", "title", design.Title)
	return nil
}

// runPlan breaks the design into epics and flattens the worklist.
func (o *Orchestrator) runPlan(ctx context.Context, state *State) error {
	log := util.Log(ctx)

	epics, _, err := o.engine.GeneratePlan(ctx, llm.PlanInput{Design: *state.Design})
	if err != nil {
		state.Status = StatusPlanningFailed
		state.LastError = err.Error()
		return fmt.Errorf("generate plan: %w", err)
	}

	if saveErr := o.store.Save(ctx, artifacts.TicketsKey, epics); saveErr != nil {
		state.Status = StatusPlanningFailed
		state.LastError = saveErr.Error()
		return fmt.Errorf("save tickets: %w", saveErr)
	}

	state.Epics = epics
	state.Tasks = FlattenTasks(epics)
	state.Status = StatusPlanningComplete

	log.Info("planning complete",
		"epics", len(epics),
		"tasks", len(state.Tasks),
	)
	return nil
}

// processTask runs one task through implement, verify-and-fix and
// review. Stage failures abort the run only when configured to halt;
// otherwise the task is skipped or its record kept as far as it got.
func (o *Orchestrator) processTask(ctx context.Context, state *State, task *model.Task) error {
	log := util.Log(ctx)
	task.Status = model.TicketStatusInProgress

	log.Info("implementing task",
		"task_id", task.ID,
		"title", task.Title,
	)

	impl, _, err := o.engine.ImplementTask(ctx, llm.ImplementInput{
		Task:   *task,
		Design: *state.Design,
	})
	if err != nil {
		state.LastError = err.Error()
		if o.cfg.HaltOnStageFailure {
			state.Status = StatusImplementationFailed
			return fmt.Errorf("implement task %s: %w", task.ID, err)
		}
		log.WithError(err).Error("implementation failed, skipping task",
			"task_id", task.ID,
		)
		return nil
	}

	files := impl.FileSet()
	state.CurrentFiles = files

	outcome, err := o.loop.Run(ctx, *task, files)
	if err != nil {
		state.Status = StatusVerifyFailed
		state.LastError = err.Error()
		return err
	}
	state.CurrentFiles = outcome.Files
	if outcome.Passed {
		state.Status = StatusVerifyComplete
	} else {
		state.Status = StatusVerifyFailed
	}

	pr := o.buildPullRequest(task, outcome)
	if saveErr := o.store.Save(ctx, artifacts.PRKey(task.ID), pr); saveErr != nil {
		state.LastError = saveErr.Error()
		return fmt.Errorf("save pull request %s: %w", pr.ID, saveErr)
	}

	if reviewErr := o.reviewPullRequest(ctx, state, task, pr); reviewErr != nil {
		state.Status = StatusReviewFailed
		state.LastError = reviewErr.Error()
		state.AllPRs = append(state.AllPRs, *pr)
		if o.cfg.HaltOnStageFailure {
			return fmt.Errorf("review pull request %s: %w", pr.ID, reviewErr)
		}
		log.WithError(reviewErr).Error("review failed, keeping unreviewed pull request",
			"pr_id", pr.ID,
		)
		return nil
	}

	state.Status = StatusReviewComplete
	state.AllPRs = append(state.AllPRs, *pr)
	return nil
}

// buildPullRequest assembles the pull request record for a completed
// task. A failed verification still yields a pull request, as a draft
// flagged for human attention.
func (o *Orchestrator) buildPullRequest(task *model.Task, outcome *VerifyFixOutcome) *model.PullRequest {
	now := time.Now()
	pr := &model.PullRequest{
		ID:           "PR-" + task.ID,
		Title:        task.Title,
		Description:  buildPRDescription(task),
		TaskID:       task.ID,
		BranchName:   "feature/" + strings.ToLower(task.ID),
		FilesChanged: outcome.Files.Paths(),
		Status:       model.PRStatusOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if outcome.LastReport != nil {
		pr.TestResults = outcome.LastReport.Output
	}
	if !outcome.Passed {
		pr.Status = model.PRStatusDraft
		pr.Description += "\n\n**Note:** Some tests are still failing. Review needed."
	}
	return pr
}

// reviewPullRequest runs the review stage and folds its verdict into
// the pull request and task records.
func (o *Orchestrator) reviewPullRequest(
	ctx context.Context,
	state *State,
	task *model.Task,
	pr *model.PullRequest,
) error {
	log := util.Log(ctx)

	review, _, err := o.engine.ReviewCode(ctx, llm.ReviewInput{
		PR:    *pr,
		Task:  *task,
		Files: state.CurrentFiles,
	})
	if err != nil {
		return err
	}

	pr.Description += formatReviewSummary(review)
	pr.ReviewComments = make([]model.ReviewComment, 0, len(review.Comments))
	for _, c := range review.Comments {
		pr.ReviewComments = append(pr.ReviewComments, model.ReviewComment{
			FilePath:   c.FilePath,
			LineNumber: c.LineNumber,
			Comment:    c.Comment,
			Severity:   parseSeverity(c.Severity),
		})
	}

	if review.Recommendation == llm.RecommendationApprove {
		pr.Status = model.PRStatusApproved
		task.Status = model.TicketStatusDone
	} else {
		pr.Status = model.PRStatusChangesRequested
		task.Status = model.TicketStatusInReview
	}
	pr.UpdatedAt = time.Now()

	if saveErr := o.store.Save(ctx, artifacts.ReviewedPRKey(task.ID), pr); saveErr != nil {
		return fmt.Errorf("save reviewed pull request: %w", saveErr)
	}

	log.Info("review complete",
		"pr_id", pr.ID,
		"recommendation", review.Recommendation,
		"comments", len(pr.ReviewComments),
	)
	return nil
}

// buildPRDescription renders the task's requirements into the pull
// request body.
func buildPRDescription(task *model.Task) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## %s\n\n%s\n", task.Title, task.Description)

	if len(task.FeatureRequirements) > 0 {
		b.WriteString("\n### Feature Requirements\n")
		for _, r := range task.FeatureRequirements {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	if len(task.SuccessMetrics) > 0 {
		b.WriteString("\n### Success Metrics\n")
		for _, m := range task.SuccessMetrics {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}
	if len(task.PassFailCriteria) > 0 {
		b.WriteString("\n### Pass/Fail Criteria\n")
		for _, c := range task.PassFailCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	return b.String()
}

// formatReviewSummary renders the review verdict as a section appended
// to the pull request description.
func formatReviewSummary(review *llm.ReviewResult) string {
	var b strings.Builder

	b.WriteString("\n\n## Review Summary\n\n")
	b.WriteString(review.OverallAssessment)
	b.WriteString("\n")

	if len(review.PositiveAspects) > 0 {
		b.WriteString("\n### Strengths\n")
		for _, p := range review.PositiveAspects {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	if len(review.AreasForImprovement) > 0 {
		b.WriteString("\n### Areas for Improvement\n")
		for _, a := range review.AreasForImprovement {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}

	return b.String()
}

// parseSeverity maps an engine-reported severity to a known level,
// defaulting to informational.
func parseSeverity(s string) model.ReviewSeverity {
	switch model.ReviewSeverity(strings.ToLower(s)) {
	case model.ReviewSeverityWarning:
		return model.ReviewSeverityWarning
	case model.ReviewSeverityError:
		return model.ReviewSeverityError
	default:
		return model.ReviewSeverityInfo
	}
}

// recordCreate opens the run's history record. History faults are
// logged and do not affect the run.
func (o *Orchestrator) recordCreate(ctx context.Context, state *State) {
	err := o.runs.Create(ctx, &history.Run{
		ID:           state.RunID,
		PRDTitle:     state.PRD.Title,
		Status:       history.RunStatusPending,
		WorkspaceDir: o.staging.Root(),
	})
	if err != nil {
		util.Log(ctx).WithError(err).Warn("failed to record run")
	}
}

func (o *Orchestrator) recordStatus(
	ctx context.Context,
	runID string,
	status history.RunStatus,
	errorMsg string,
) {
	if err := o.runs.UpdateStatus(ctx, runID, status, errorMsg); err != nil {
		util.Log(ctx).WithError(err).Warn("failed to update run status")
	}
}

func (o *Orchestrator) recordCounts(ctx context.Context, state *State) {
	err := o.runs.UpdateCounts(
		ctx,
		state.RunID,
		len(state.Epics),
		len(state.Tasks),
		len(state.AllPRs),
		state.ApprovedCount(),
	)
	if err != nil {
		util.Log(ctx).WithError(err).Warn("failed to update run counts")
	}
}
