package pipeline

import "github.com/antinvestor/conveyor/internal/model"

// FlattenTasks linearizes the work breakdown into a stable worklist:
// epics in order, each epic's stories in order, each story's tasks in
// order. Flattening the same breakdown always yields the same list.
func FlattenTasks(epics []model.Epic) []model.Task {
	var tasks []model.Task
	for _, epic := range epics {
		for _, story := range epic.Stories {
			tasks = append(tasks, story.Tasks...)
		}
	}
	return tasks
}

// Decision is the outcome of advancing the worklist cursor.
type Decision int

// Cursor decisions.
const (
	DecisionContinue Decision = iota
	DecisionTerminate
)

// Cursor tracks the position in the flattened worklist.
type Cursor struct {
	Index int
}

// Current returns the task under the cursor, or false when the cursor
// has moved past the end of the worklist.
func (c Cursor) Current(tasks []model.Task) (*model.Task, bool) {
	if c.Index < 0 || c.Index >= len(tasks) {
		return nil, false
	}
	return &tasks[c.Index], true
}

// Advance moves the cursor to the next task and reports whether the
// run should continue or terminate.
func (c *Cursor) Advance(total int) Decision {
	c.Index++
	if c.Index >= total {
		return DecisionTerminate
	}
	return DecisionContinue
}
