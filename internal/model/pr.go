package model

import "time"

// PRStatus is the lifecycle state of a pull request record.
type PRStatus string

// Pull request status constants.
const (
	PRStatusDraft            PRStatus = "draft"
	PRStatusOpen             PRStatus = "open"
	PRStatusApproved         PRStatus = "approved"
	PRStatusChangesRequested PRStatus = "changes_requested"
	PRStatusMerged           PRStatus = "merged"
	PRStatusClosed           PRStatus = "closed"
)

// ReviewSeverity grades a review comment.
type ReviewSeverity string

// Review severity constants.
const (
	ReviewSeverityInfo    ReviewSeverity = "info"
	ReviewSeverityWarning ReviewSeverity = "warning"
	ReviewSeverityError   ReviewSeverity = "error"
)

// ReviewComment is a single remark attached to a pull request by the
// review stage.
type ReviewComment struct {
	FilePath   string         `json:"file_path"`
	LineNumber *int           `json:"line_number,omitempty"`
	Comment    string         `json:"comment"`
	Severity   ReviewSeverity `json:"severity"`
}

// PullRequest records one implemented task: the files it changed, the
// last verification output and the review outcome.
type PullRequest struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	TaskID         string          `json:"task_id"`
	BranchName     string          `json:"branch_name"`
	FilesChanged   []string        `json:"files_changed,omitempty"`
	TestResults    string          `json:"test_results,omitempty"`
	Status         PRStatus        `json:"status"`
	ReviewComments []ReviewComment `json:"review_comments,omitempty"`
	CreatedAt      time.Time       `json:"created_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at,omitempty"`
}

// Validate checks pull request identity fields.
func (pr *PullRequest) Validate() error {
	if pr.ID == "" {
		return fieldError("id")
	}
	if pr.TaskID == "" {
		return fieldError("task_id")
	}
	if pr.Title == "" {
		return fieldError("title")
	}
	return nil
}
