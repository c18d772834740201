// Package model defines the artifacts threaded through the pipeline:
// requirement documents, architecture designs, the epic/story/task work
// breakdown and pull request records.
package model

import (
	"errors"
	"fmt"
	"time"
)

// PRDLevel identifies the scope of a requirement document.
type PRDLevel string

// PRD level constants.
const (
	PRDLevelProduct PRDLevel = "product"
	PRDLevelFeature PRDLevel = "feature"
)

// ErrMissingField is returned when a required artifact field is absent.
var ErrMissingField = errors.New("missing required field")

func fieldError(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, name)
}

// PRD is a product requirement document, the immutable input to a
// pipeline run.
type PRD struct {
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Level          PRDLevel  `json:"level"`
	Objectives     []string  `json:"objectives,omitempty"`
	UserStories    []string  `json:"user_stories,omitempty"`
	Requirements   []string  `json:"requirements,omitempty"`
	SuccessMetrics []string  `json:"success_metrics,omitempty"`
	Constraints    []string  `json:"constraints,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

// Validate checks that the document carries the fields every
// downstream stage depends on.
func (p *PRD) Validate() error {
	if p.Title == "" {
		return fieldError("title")
	}
	if p.Description == "" {
		return fieldError("description")
	}
	if p.Level != PRDLevelProduct && p.Level != PRDLevelFeature {
		return fieldError("level")
	}
	return nil
}
