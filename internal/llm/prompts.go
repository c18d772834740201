package llm

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/antinvestor/conveyor/internal/model"
)

// PromptBuilder builds prompts for the generative stage functions.
type PromptBuilder struct {
	templates map[Function]*template.Template
}

// NewPromptBuilder creates a new prompt builder.
func NewPromptBuilder() (*PromptBuilder, error) {
	pb := &PromptBuilder{
		templates: make(map[Function]*template.Template),
	}

	templates := map[Function]string{
		FunctionGenerateDesign: generateDesignTemplate,
		FunctionGeneratePlan:   generatePlanTemplate,
		FunctionImplementTask:  implementTaskTemplate,
		FunctionFixTests:       fixTestsTemplate,
		FunctionReviewCode:     reviewCodeTemplate,
	}

	for fn, tmpl := range templates {
		t, err := template.New(string(fn)).Funcs(templateFuncs).Parse(tmpl)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", fn, err)
		}
		pb.templates[fn] = t
	}

	return pb, nil
}

// Build builds a prompt for the given function and data.
func (pb *PromptBuilder) Build(fn Function, data any) (string, error) {
	t, ok := pb.templates[fn]
	if !ok {
		return "", fmt.Errorf("unknown function: %s", fn)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}

	return buf.String(), nil
}

// templateFuncs provides template helper functions.
//
//nolint:gochecknoglobals // Template functions are inherently global
var templateFuncs = template.FuncMap{
	"join": strings.Join,
	"indent": func(indent int, s string) string {
		prefix := strings.Repeat("  ", indent)
		lines := strings.Split(s, "\n")
		for i, line := range lines {
			if line != "" {
				lines[i] = prefix + line
			}
		}
		return strings.Join(lines, "\n")
	},
}

// DesignInput is the input for GenerateDesign.
type DesignInput struct {
	PRD model.PRD
}

const generateDesignTemplate = `You are an expert software architect producing a technical design.

## Task
Create a complete architecture design for the following product
requirement document.

## Requirement Document
Title: {{.PRD.Title}}
Level: {{.PRD.Level}}
Description: {{.PRD.Description}}
{{- if .PRD.Objectives}}

Objectives:
{{- range .PRD.Objectives}}
- {{.}}
{{- end}}
{{- end}}
{{- if .PRD.UserStories}}

User Stories:
{{- range .PRD.UserStories}}
- {{.}}
{{- end}}
{{- end}}
{{- if .PRD.Requirements}}

Requirements:
{{- range .PRD.Requirements}}
- {{.}}
{{- end}}
{{- end}}
{{- if .PRD.SuccessMetrics}}

Success Metrics:
{{- range .PRD.SuccessMetrics}}
- {{.}}
{{- end}}
{{- end}}
{{- if .PRD.Constraints}}

Constraints:
{{- range .PRD.Constraints}}
- {{.}}
{{- end}}
{{- end}}

## Instructions
1. Choose an appropriate architecture pattern and justify it in the overview
2. Decompose the system into components with clear responsibilities
3. Model stateful behavior as explicit state machines
4. Document the main data paths and control paths
5. Document the call stack of at least one representative operation
6. Design the API surface if the system exposes one
7. Provide concrete usage examples
8. Note security and scalability considerations

Be concrete. Every component must trace back to a requirement.

Respond with a JSON object matching this schema:
{
  "title": "string",
  "overview": "string - architecture summary and rationale",
  "architecture_pattern": "string - e.g. layered, hexagonal, event_driven",
  "components": [
    {
      "name": "string",
      "purpose": "string",
      "responsibilities": ["string"],
      "interfaces": ["string"],
      "dependencies": ["string"]
    }
  ],
  "state_machines": [
    {
      "name": "string",
      "description": "string",
      "states": ["string"],
      "initial_state": "string",
      "final_states": ["string"],
      "transitions": [
        {
          "from_state": "string",
          "to_state": "string",
          "trigger": "string",
          "condition": "string" (optional),
          "action": "string" (optional)
        }
      ],
      "example_flow": "string" (optional)
    }
  ],
  "data_paths": [
    {
      "name": "string",
      "description": "string",
      "steps": ["string"],
      "data_transformations": ["string"],
      "example": "string" (optional)
    }
  ],
  "control_paths": [
    {
      "name": "string",
      "description": "string",
      "sequence": ["string"],
      "decision_points": ["string"],
      "error_handling": ["string"],
      "example": "string" (optional)
    }
  ],
  "call_stacks": [
    {
      "operation": "string",
      "description": "string",
      "stack_frames": [
        {
          "function": "string",
          "parameters": {"name": "type"},
          "returns": "string",
          "description": "string"
        }
      ],
      "example": "string" (optional)
    }
  ],
  "api_endpoints": [
    {
      "method": "string",
      "path": "string",
      "description": "string",
      "request_body": {} (optional),
      "request_params": {} (optional),
      "response_success": {} (optional),
      "response_error": {} (optional),
      "authentication": "string" (optional),
      "example_request": "string" (optional),
      "example_response": "string" (optional)
    }
  ],
  "data_models": ["string - entity descriptions"],
  "examples": [
    {
      "title": "string",
      "description": "string",
      "scenario": "string",
      "code_example": "string",
      "expected_output": "string"
    }
  ],
  "tech_stack": {"layer": "technology"},
  "security_considerations": ["string"],
  "scalability_considerations": ["string"]
}`

// PlanInput is the input for GeneratePlan.
type PlanInput struct {
	Design model.Design
}

const generatePlanTemplate = `You are an expert technical program manager breaking a design into tickets.

## Task
Break the following architecture design into epics, stories and
implementable tasks.

## Design
Title: {{.Design.Title}}
Pattern: {{.Design.ArchitecturePattern}}

Overview:
{{.Design.Overview}}

Components:
{{- range .Design.Components}}
- {{.Name}}: {{.Purpose}}
{{- if .Responsibilities}}
  Responsibilities: {{join .Responsibilities "; "}}
{{- end}}
{{- end}}
{{- if .Design.DataModels}}

Data Models:
{{- range .Design.DataModels}}
- {{.}}
{{- end}}
{{- end}}
{{- if .Design.TechStack}}

Tech Stack:
{{- range $layer, $tech := .Design.TechStack}}
- {{$layer}}: {{$tech}}
{{- end}}
{{- end}}

## Instructions
1. Group related work into epics, each epic into stories, each story into tasks
2. Every task must be independently implementable and testable
3. Give every epic, story and task a unique uppercase id
   (EPIC-001, STORY-001, TASK-001, ...)
4. Every task needs explicit feature requirements, test requirements
   and pass/fail criteria
5. Order tasks so that dependencies come first
6. Set every status to "todo"

Respond with a JSON object matching this schema:
{
  "epics": [
    {
      "id": "string - EPIC-NNN",
      "title": "string",
      "description": "string",
      "objectives": ["string"],
      "status": "todo",
      "priority": "low|medium|high|critical",
      "stories": [
        {
          "id": "string - STORY-NNN",
          "epic_id": "string",
          "title": "string",
          "description": "string",
          "acceptance_criteria": ["string"],
          "status": "todo",
          "priority": "low|medium|high|critical",
          "tasks": [
            {
              "id": "string - TASK-NNN",
              "story_id": "string",
              "title": "string",
              "description": "string",
              "feature_requirements": ["string"],
              "test_requirements": ["string"],
              "success_metrics": ["string"],
              "pass_fail_criteria": ["string"],
              "status": "todo",
              "priority": "low|medium|high|critical",
              "estimated_effort": "string - e.g. 2h, 1d"
            }
          ]
        }
      ]
    }
  ]
}`

// ImplementInput is the input for ImplementTask.
type ImplementInput struct {
	Task   model.Task
	Design model.Design
}

const implementTaskTemplate = `You are an expert software engineer implementing a single task.

## Task
{{.Task.ID}}: {{.Task.Title}}

{{.Task.Description}}
{{- if .Task.FeatureRequirements}}

Feature Requirements:
{{- range .Task.FeatureRequirements}}
- {{.}}
{{- end}}
{{- end}}
{{- if .Task.TestRequirements}}

Test Requirements:
{{- range .Task.TestRequirements}}
- {{.}}
{{- end}}
{{- end}}
{{- if .Task.PassFailCriteria}}

Pass/Fail Criteria:
{{- range .Task.PassFailCriteria}}
- {{.}}
{{- end}}
{{- end}}

## Architecture Context
{{.Design.Title}} ({{.Design.ArchitecturePattern}})

{{.Design.Overview}}
{{- if .Design.TechStack}}

Tech Stack:
{{- range $layer, $tech := .Design.TechStack}}
- {{$layer}}: {{$tech}}
{{- end}}
{{- end}}

## Instructions
1. Implement the task completely, including tests for every test requirement
2. Emit full file contents, never fragments or diffs
3. Use relative file paths
4. The tests must be runnable as-is in the target test framework
5. Follow the architecture context; do not invent new components

Respond with a JSON object matching this schema:
{
  "files": [
    {
      "filename": "string - relative path",
      "content": "string - full file content",
      "description": "string - what this file does"
    }
  ],
  "implementation_notes": "string" (optional)
}`

// FixInput is the input for FixTests.
type FixInput struct {
	Task        model.Task
	Files       model.FileSet
	TestOutput  string
	Attempt     int
	MaxAttempts int
}

const fixTestsTemplate = `You are an expert debugger fixing failing tests.

## Task Under Fix
{{.Task.ID}}: {{.Task.Title}}

## Attempt
{{.Attempt}} of {{.MaxAttempts}}

## Current Files
{{- range $path, $content := .Files}}

### {{$path}}
` + "```" + `
{{$content}}
` + "```" + `
{{- end}}

## Test Output
` + "```" + `
{{.TestOutput}}
` + "```" + `

## Instructions
1. Diagnose the root cause of the failures from the test output
2. Fix the cause, not the symptom; do not weaken or delete tests
3. Return full replacement contents only for files that must change
4. Leave every other file untouched by omitting it

Respond with a JSON object matching this schema:
{
  "analysis": "string - root cause analysis",
  "fixes": [
    {
      "filename": "string - relative path of a file to replace",
      "content": "string - full replacement content",
      "description": "string - what changed and why"
    }
  ]
}`

// ReviewInput is the input for ReviewCode.
type ReviewInput struct {
	PR    model.PullRequest
	Task  model.Task
	Files model.FileSet
}

const reviewCodeTemplate = `You are an expert code reviewer reviewing a pull request.

## Pull Request
{{.PR.ID}}: {{.PR.Title}}
Status: {{.PR.Status}}

{{.PR.Description}}

## Task Being Delivered
{{.Task.ID}}: {{.Task.Title}}
{{- if .Task.PassFailCriteria}}

Pass/Fail Criteria:
{{- range .Task.PassFailCriteria}}
- {{.}}
{{- end}}
{{- end}}
{{- if .PR.TestResults}}

## Latest Test Results
` + "```" + `
{{.PR.TestResults}}
` + "```" + `
{{- end}}

## Files Changed
{{- range $path, $content := .Files}}

### {{$path}}
` + "```" + `
{{$content}}
` + "```" + `
{{- end}}

## Instructions
1. Check correctness against the task's pass/fail criteria
2. Identify bugs, security issues and maintainability problems
3. Grade each comment info, warning or error
4. Recommend "approve" only if the code is safe to merge as-is
5. Also note what was done well

Be thorough but constructive.

Respond with a JSON object matching this schema:
{
  "overall_assessment": "string - executive summary",
  "recommendation": "approve|request_changes",
  "comments": [
    {
      "file_path": "string",
      "line_number": number (optional),
      "comment": "string",
      "severity": "info|warning|error"
    }
  ],
  "positive_aspects": ["string"],
  "areas_for_improvement": ["string"]
}`
