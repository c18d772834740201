// Package pipeline orchestrates the end-to-end run: design, planning,
// per-task implementation, bounded verify-and-fix and review.
package pipeline

import (
	"github.com/antinvestor/conveyor/internal/model"
)

// Status tracks where a run is in its lifecycle.
type Status string

// Run status constants.
const (
	StatusPending              Status = "pending"
	StatusDesignComplete       Status = "design_complete"
	StatusDesignFailed         Status = "design_failed"
	StatusAwaitingDesignReview Status = "awaiting_design_review"
	StatusPlanningComplete     Status = "planning_complete"
	StatusPlanningFailed       Status = "planning_failed"
	StatusImplementationFailed Status = "implementation_failed"
	StatusVerifyComplete       Status = "verify_complete"
	StatusVerifyFailed         Status = "verify_failed"
	StatusReviewComplete       Status = "review_complete"
	StatusReviewFailed         Status = "review_failed"
	StatusAllTasksComplete     Status = "all_tasks_complete"
)

// State carries everything a run accumulates. It is threaded through
// the phases and returned to the caller when the run ends.
type State struct {
	RunID  string
	PRD    model.PRD
	Design *model.Design
	Epics  []model.Epic

	// Tasks is the flattened worklist; Cursor points into it.
	Tasks  []model.Task
	Cursor Cursor

	// CurrentFiles holds the latest file set of the task in progress.
	CurrentFiles model.FileSet

	// AllPRs collects one pull request per implemented task, in
	// worklist order.
	AllPRs []model.PullRequest

	Status    Status
	LastError string
}

// ApprovedCount returns how many collected pull requests were approved.
func (s *State) ApprovedCount() int {
	count := 0
	for _, pr := range s.AllPRs {
		if pr.Status == model.PRStatusApproved {
			count++
		}
	}
	return count
}
