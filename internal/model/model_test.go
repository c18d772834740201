package model //nolint:testpackage // White-box testing

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPRDValidate(t *testing.T) {
	prd := &PRD{
		Title:       "Calculator Service",
		Description: "A service that evaluates arithmetic expressions",
		Level:       PRDLevelFeature,
	}
	require.NoError(t, prd.Validate())

	missingTitle := &PRD{Description: "d", Level: PRDLevelProduct}
	err := missingTitle.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingField))
	assert.Contains(t, err.Error(), "title")

	badLevel := &PRD{Title: "t", Description: "d", Level: "epic"}
	err = badLevel.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingField))
}

func TestDesignValidate(t *testing.T) {
	design := &Design{
		Title:               "Calculator Service Architecture",
		Overview:            "Layered HTTP service",
		ArchitecturePattern: "layered",
	}
	require.NoError(t, design.Validate())
	assert.False(t, design.HumanReviewed)

	err := (&Design{Title: "t", Overview: "o"}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "architecture_pattern")
}

func TestTaskValidate(t *testing.T) {
	task := &Task{
		ID:          "TASK-001",
		Title:       "Implement tokenizer",
		Description: "Tokenize arithmetic expressions",
		Status:      TicketStatusTodo,
		Priority:    TicketPriorityHigh,
	}
	require.NoError(t, task.Validate())

	err := (&Task{Title: "t", Description: "d"}).Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingField))
	assert.Contains(t, err.Error(), "id")
}

func TestPullRequestValidate(t *testing.T) {
	pr := &PullRequest{
		ID:     "PR-TASK-001",
		Title:  "Implement tokenizer",
		TaskID: "TASK-001",
		Status: PRStatusOpen,
	}
	require.NoError(t, pr.Validate())

	err := (&PullRequest{ID: "PR-1", Title: "t"}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task_id")
}

func TestEpicJSONRoundTrip(t *testing.T) {
	epic := Epic{
		ID:          "EPIC-001",
		Title:       "Calculator",
		Description: "Arithmetic evaluation",
		Status:      TicketStatusTodo,
		Priority:    TicketPriorityMedium,
		Stories: []Story{{
			ID:       "STORY-001",
			Title:    "Evaluate expressions",
			Status:   TicketStatusTodo,
			Priority: TicketPriorityMedium,
			EpicID:   "EPIC-001",
			Tasks: []Task{{
				ID:          "TASK-001",
				Title:       "Tokenizer",
				Description: "Split input into tokens",
				Status:      TicketStatusTodo,
				Priority:    TicketPriorityHigh,
				StoryID:     "STORY-001",
			}},
		}},
	}

	data, err := json.Marshal(epic)
	require.NoError(t, err)

	var decoded Epic
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Stories, 1)
	require.Len(t, decoded.Stories[0].Tasks, 1)
	assert.Equal(t, "TASK-001", decoded.Stories[0].Tasks[0].ID)
	assert.Equal(t, TicketStatusTodo, decoded.Stories[0].Tasks[0].Status)
}

func TestFileSetCloneIsIndependent(t *testing.T) {
	original := FileSet{"main.py": "print('hi')"}
	clone := original.Clone()
	clone["main.py"] = "changed"
	clone["extra.py"] = "pass"

	assert.Equal(t, "print('hi')", original["main.py"])
	assert.NotContains(t, original, "extra.py")
}

func TestFileSetCloneOfNilIsWritable(t *testing.T) {
	var fs FileSet
	clone := fs.Clone()

	require.NotNil(t, clone)
	assert.Empty(t, clone)

	clone.Merge(FileSet{"main.py": "pass"})
	assert.Equal(t, "pass", clone["main.py"])
}

func TestFileSetMergeLeavesUnspecifiedPaths(t *testing.T) {
	fs := FileSet{"a.py": "a", "b.py": "b"}
	fs.Merge(FileSet{"b.py": "b2", "c.py": "c"})

	assert.Equal(t, "a", fs["a.py"])
	assert.Equal(t, "b2", fs["b.py"])
	assert.Equal(t, "c", fs["c.py"])
	assert.Equal(t, []string{"a.py", "b.py", "c.py"}, fs.Paths())
}
