package model

import "time"

// TicketStatus tracks a work item through its lifecycle.
type TicketStatus string

// Ticket status constants.
const (
	TicketStatusTodo       TicketStatus = "todo"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusInReview   TicketStatus = "in_review"
	TicketStatusDone       TicketStatus = "done"
)

// TicketPriority ranks work items.
type TicketPriority string

// Ticket priority constants.
const (
	TicketPriorityLow      TicketPriority = "low"
	TicketPriorityMedium   TicketPriority = "medium"
	TicketPriorityHigh     TicketPriority = "high"
	TicketPriorityCritical TicketPriority = "critical"
)

// Task is the smallest unit of implementable work. Tasks are what the
// implementation, verification and review stages operate on.
type Task struct {
	ID                  string         `json:"id"`
	Title               string         `json:"title"`
	Description         string         `json:"description"`
	FeatureRequirements []string       `json:"feature_requirements,omitempty"`
	TestRequirements    []string       `json:"test_requirements,omitempty"`
	SuccessMetrics      []string       `json:"success_metrics,omitempty"`
	PassFailCriteria    []string       `json:"pass_fail_criteria,omitempty"`
	Status              TicketStatus   `json:"status"`
	Priority            TicketPriority `json:"priority"`
	StoryID             string         `json:"story_id,omitempty"`
	EstimatedEffort     string         `json:"estimated_effort,omitempty"`
	CreatedAt           time.Time      `json:"created_at,omitempty"`
}

// Validate checks the fields implementation cannot proceed without.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fieldError("id")
	}
	if t.Title == "" {
		return fieldError("title")
	}
	if t.Description == "" {
		return fieldError("description")
	}
	return nil
}

// Story groups tasks under a user-facing outcome.
type Story struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	AcceptanceCriteria []string       `json:"acceptance_criteria,omitempty"`
	Tasks              []Task         `json:"tasks,omitempty"`
	Status             TicketStatus   `json:"status"`
	Priority           TicketPriority `json:"priority"`
	EpicID             string         `json:"epic_id,omitempty"`
	CreatedAt          time.Time      `json:"created_at,omitempty"`
}

// Validate checks story identity fields.
func (s *Story) Validate() error {
	if s.ID == "" {
		return fieldError("id")
	}
	if s.Title == "" {
		return fieldError("title")
	}
	return nil
}

// Epic is the top of the work breakdown produced by the planning stage.
type Epic struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Objectives  []string       `json:"objectives,omitempty"`
	Stories     []Story        `json:"stories,omitempty"`
	Status      TicketStatus   `json:"status"`
	Priority    TicketPriority `json:"priority"`
	CreatedAt   time.Time      `json:"created_at,omitempty"`
}

// Validate checks epic identity fields.
func (e *Epic) Validate() error {
	if e.ID == "" {
		return fieldError("id")
	}
	if e.Title == "" {
		return fieldError("title")
	}
	return nil
}
