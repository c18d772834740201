package model

import "time"

// ComponentDesign describes one component of the architecture.
type ComponentDesign struct {
	Name             string   `json:"name"`
	Purpose          string   `json:"purpose"`
	Responsibilities []string `json:"responsibilities,omitempty"`
	Interfaces       []string `json:"interfaces,omitempty"`
	Dependencies     []string `json:"dependencies,omitempty"`
}

// StateTransition is one edge of a state machine design.
type StateTransition struct {
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Trigger   string `json:"trigger"`
	Condition string `json:"condition,omitempty"`
	Action    string `json:"action,omitempty"`
}

// StateMachine describes a stateful component.
type StateMachine struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	States       []string          `json:"states"`
	InitialState string            `json:"initial_state"`
	FinalStates  []string          `json:"final_states,omitempty"`
	Transitions  []StateTransition `json:"transitions,omitempty"`
	ExampleFlow  string            `json:"example_flow,omitempty"`
}

// DataPath describes how data moves through the system.
type DataPath struct {
	Name                string   `json:"name"`
	Description         string   `json:"description"`
	Steps               []string `json:"steps,omitempty"`
	DataTransformations []string `json:"data_transformations,omitempty"`
	Example             string   `json:"example,omitempty"`
}

// ControlPath describes an execution flow through the system.
type ControlPath struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Sequence       []string `json:"sequence,omitempty"`
	DecisionPoints []string `json:"decision_points,omitempty"`
	ErrorHandling  []string `json:"error_handling,omitempty"`
	Example        string   `json:"example,omitempty"`
}

// CallStackFrame is a single frame in a call stack design.
type CallStackFrame struct {
	Function    string            `json:"function"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Returns     string            `json:"returns,omitempty"`
	Description string            `json:"description,omitempty"`
}

// CallStack documents the call chain of a typical operation.
type CallStack struct {
	Operation   string           `json:"operation"`
	Description string           `json:"description,omitempty"`
	StackFrames []CallStackFrame `json:"stack_frames,omitempty"`
	Example     string           `json:"example,omitempty"`
}

// APIEndpoint is a detailed endpoint design.
type APIEndpoint struct {
	Method          string            `json:"method"`
	Path            string            `json:"path"`
	Description     string            `json:"description,omitempty"`
	RequestBody     map[string]any    `json:"request_body,omitempty"`
	RequestParams   map[string]string `json:"request_params,omitempty"`
	ResponseSuccess map[string]any    `json:"response_success,omitempty"`
	ResponseError   map[string]any    `json:"response_error,omitempty"`
	Authentication  string            `json:"authentication,omitempty"`
	ExampleRequest  string            `json:"example_request,omitempty"`
	ExampleResponse string            `json:"example_response,omitempty"`
}

// DesignExample demonstrates intended usage of the design.
type DesignExample struct {
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	Scenario       string `json:"scenario,omitempty"`
	CodeExample    string `json:"code_example,omitempty"`
	ExpectedOutput string `json:"expected_output,omitempty"`
}

// Design is the architecture design artifact produced from a PRD.
type Design struct {
	Title               string            `json:"title"`
	Overview            string            `json:"overview"`
	ArchitecturePattern string            `json:"architecture_pattern"`
	Components          []ComponentDesign `json:"components,omitempty"`
	StateMachines       []StateMachine    `json:"state_machines,omitempty"`
	DataPaths           []DataPath        `json:"data_paths,omitempty"`
	ControlPaths        []ControlPath     `json:"control_paths,omitempty"`
	CallStacks          []CallStack       `json:"call_stacks,omitempty"`
	APIEndpoints        []APIEndpoint     `json:"api_endpoints,omitempty"`
	DataModels          []string          `json:"data_models,omitempty"`
	Examples            []DesignExample   `json:"examples,omitempty"`
	TechStack           map[string]string `json:"tech_stack,omitempty"`
	SecurityNotes       []string          `json:"security_considerations,omitempty"`
	ScalabilityNotes    []string          `json:"scalability_considerations,omitempty"`

	CreatedAt     time.Time `json:"created_at,omitempty"`
	HumanReviewed bool      `json:"human_reviewed"`
	ReviewNotes   string    `json:"review_notes,omitempty"`
}

// Validate checks the fields the planning stage cannot work without.
func (d *Design) Validate() error {
	if d.Title == "" {
		return fieldError("title")
	}
	if d.Overview == "" {
		return fieldError("overview")
	}
	if d.ArchitecturePattern == "" {
		return fieldError("architecture_pattern")
	}
	return nil
}
