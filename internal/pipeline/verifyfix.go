package pipeline

import (
	"context"
	"fmt"

	"github.com/pitabwire/util"

	"github.com/antinvestor/conveyor/internal/llm"
	"github.com/antinvestor/conveyor/internal/model"
	"github.com/antinvestor/conveyor/internal/sandbox"
	"github.com/antinvestor/conveyor/internal/workspace"
)

// DefaultMaxFixAttempts bounds how many verification cycles a task gets
// before its failing state is accepted as-is.
const DefaultMaxFixAttempts = 5

// VerifyFixOutcome is the result of running a task through the bounded
// verify-and-fix loop.
type VerifyFixOutcome struct {
	// Passed reports whether the final verification run succeeded.
	Passed bool

	// Attempts is the number of verification runs performed.
	Attempts int

	// Files is the file set after all applied fixes.
	Files model.FileSet

	// LastReport is the report of the final verification run.
	LastReport *sandbox.Report

	// FixAborted is set when a fix invocation failed and the loop
	// stopped early with the files as they stood.
	FixAborted bool
}

// VerifyFixLoop stages a task's files, verifies them in the sandbox and
// asks the engine to repair failures, up to a fixed number of cycles.
type VerifyFixLoop struct {
	engine      llm.Client
	runner      sandbox.Runner
	staging     *workspace.Manager
	maxAttempts int
}

// NewVerifyFixLoop creates a verify-fix loop. A non-positive
// maxAttempts selects the default bound.
func NewVerifyFixLoop(
	engine llm.Client,
	runner sandbox.Runner,
	staging *workspace.Manager,
	maxAttempts int,
) *VerifyFixLoop {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxFixAttempts
	}
	return &VerifyFixLoop{
		engine:      engine,
		runner:      runner,
		staging:     staging,
		maxAttempts: maxAttempts,
	}
}

// Run executes the loop for one task. Each cycle verifies the staged
// files; on failure the engine proposes replacement files which are
// applied before the next cycle. The loop never performs more than the
// configured number of verification runs, and a failed fix invocation
// ends it early rather than failing the task outright. Errors are
// reserved for infrastructure faults such as staging or sandbox setup.
func (l *VerifyFixLoop) Run(
	ctx context.Context,
	task model.Task,
	files model.FileSet,
) (*VerifyFixOutcome, error) {
	log := util.Log(ctx)

	current := files.Clone()
	dir, err := l.staging.Stage(ctx, task.ID, current)
	if err != nil {
		return nil, fmt.Errorf("stage task files: %w", err)
	}

	outcome := &VerifyFixOutcome{Files: current}

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		report, verifyErr := l.runner.Verify(ctx, dir)
		if verifyErr != nil {
			return nil, fmt.Errorf("verify task %s: %w", task.ID, verifyErr)
		}

		outcome.Attempts = attempt
		outcome.LastReport = report

		if report.Passed {
			outcome.Passed = true
			log.Info("verification passed",
				"task_id", task.ID,
				"attempt", attempt,
			)
			return outcome, nil
		}

		log.Warn("verification failed",
			"task_id", task.ID,
			"attempt", attempt,
			"failed", report.Summary.Failed,
		)

		if attempt == l.maxAttempts {
			break
		}

		fix, _, fixErr := l.engine.FixTests(ctx, llm.FixInput{
			Task:        task,
			Files:       current,
			TestOutput:  report.Output,
			Attempt:     attempt,
			MaxAttempts: l.maxAttempts,
		})
		if fixErr != nil {
			log.WithError(fixErr).Error("fix generation failed, keeping last files",
				"task_id", task.ID,
				"attempt", attempt,
			)
			outcome.FixAborted = true
			return outcome, nil
		}

		fixed := fix.FileSet()
		if len(fixed) == 0 {
			log.Warn("fix produced no file changes",
				"task_id", task.ID,
				"attempt", attempt,
			)
			break
		}

		if applyErr := l.staging.ApplyFixes(ctx, task.ID, fixed); applyErr != nil {
			return nil, fmt.Errorf("apply fixes for task %s: %w", task.ID, applyErr)
		}
		current.Merge(fixed)
		outcome.Files = current
	}

	return outcome, nil
}
