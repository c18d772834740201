// Package artifacts persists pipeline checkpoint artifacts so a run's
// intermediate outputs survive the process and can be inspected later.
package artifacts

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no artifact exists under a key.
var ErrNotFound = errors.New("artifact not found")

// Store saves and restores JSON-serializable artifacts by key.
type Store interface {
	// Save persists the artifact under key, replacing any previous value.
	Save(ctx context.Context, key string, artifact any) error

	// Load reads the artifact stored under key into out. It returns
	// ErrNotFound if the key has never been saved.
	Load(ctx context.Context, key string, out any) error
}

// Checkpoint keys used by the pipeline.
const (
	DesignKey  = "design"
	TicketsKey = "tickets"
)

// PRKey is the checkpoint key for a task's pull request record.
func PRKey(taskID string) string {
	return "pr_" + taskID
}

// ReviewedPRKey is the checkpoint key for a reviewed pull request record.
func ReviewedPRKey(taskID string) string {
	return "pr_" + taskID + "_reviewed"
}
