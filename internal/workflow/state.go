package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a workflow run.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is one unit of work tracked by implementation loops.
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Implemented bool   `json:"implemented"`
}

// State is the persisted progress of one session through a workflow.
type State struct {
	SessionID           string            `json:"sessionId"`
	Workflow            Definition        `json:"workflow"`
	CurrentStepID       string            `json:"currentStepId"`
	CurrentSubStepID    string            `json:"currentSubStepId,omitempty"`
	CurrentTaskID       string            `json:"currentTaskId,omitempty"`
	TaskList            []Task            `json:"taskList"`
	LoopIterationCounts map[string]int    `json:"loopIterationCounts"`
	ContextOutputs      map[string]string `json:"contextOutputs"`
	Status              Status            `json:"status"`
	FailureReason       string            `json:"failureReason,omitempty"`
	StartedAt           time.Time         `json:"startedAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

// Binding is the step an agent should work on next.
type Binding struct {
	StepID            string `json:"stepId"`
	LoopID            string `json:"loopId,omitempty"`
	Iteration         int    `json:"iteration,omitempty"`
	MaxIterations     int    `json:"maxIterations,omitempty"`
	Agent             string `json:"agent,omitempty"`
	AgentInstructions string `json:"agentInstructions,omitempty"`
	Instructions      string `json:"instructions"`
	TaskID            string `json:"taskId,omitempty"`
	TaskDescription   string `json:"taskDescription,omitempty"`
}

// Prompt renders the binding as text an agent can act on.
func (b Binding) Prompt() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Step: %s\n", b.StepID)
	if b.LoopID != "" {
		fmt.Fprintf(&sb, "Iteration %d of at most %d\n", b.Iteration, b.MaxIterations)
	}
	if b.TaskID != "" {
		fmt.Fprintf(&sb, "\n### Task %s\n%s\n", b.TaskID, b.TaskDescription)
	}
	if b.AgentInstructions != "" {
		fmt.Fprintf(&sb, "\n### Role: %s\n%s\n", b.Agent, strings.TrimSpace(b.AgentInstructions))
	}
	if b.Instructions != "" {
		fmt.Fprintf(&sb, "\n### Instructions\n%s\n", strings.TrimSpace(b.Instructions))
	}
	return sb.String()
}

// AdvanceResult is returned by Engine.Advance.
type AdvanceResult struct {
	Completed bool     `json:"completed"`
	Next      *Binding `json:"next,omitempty"`
}

// Report summarizes a workflow run for status queries.
type Report struct {
	Workflow        string   `json:"workflow"`
	Status          Status   `json:"status"`
	CurrentStepID   string   `json:"currentStepId"`
	CurrentTaskID   string   `json:"currentTaskId,omitempty"`
	TaskList        []Task   `json:"taskList"`
	ProgressSummary string   `json:"progressSummary"`
	Current         *Binding `json:"current,omitempty"`
	FailureReason   string   `json:"failureReason,omitempty"`
}

// QualifiedID joins a loop step and a body step as "loop.sub".
func QualifiedID(stepID, subStepID string) string {
	if subStepID == "" {
		return stepID
	}
	return stepID + "." + subStepID
}

// QualifiedStepID returns the id outputs for the current position are
// recorded under.
func (s *State) QualifiedStepID() string {
	return QualifiedID(s.CurrentStepID, s.CurrentSubStepID)
}

func (s *State) clone() *State {
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("workflow state not serializable: %v", err))
	}
	var c State
	if err := json.Unmarshal(data, &c); err != nil {
		panic(fmt.Sprintf("workflow state not deserializable: %v", err))
	}
	return &c
}

// consistent reports whether the state points at steps its snapshot has.
func (s *State) consistent() bool {
	_, step := s.Workflow.Step(s.CurrentStepID)
	if step == nil {
		return false
	}
	if step.Kind != KindLoop {
		return s.CurrentSubStepID == ""
	}
	if s.CurrentSubStepID == "" {
		return s.Status.Terminal()
	}
	loop, ok := s.Workflow.Loops[step.Loop]
	if !ok {
		return false
	}
	for _, sub := range loop.Steps {
		if sub.ID == s.CurrentSubStepID {
			return true
		}
	}
	return false
}

// nextTask returns the first task not yet implemented.
func (s *State) nextTask() *Task {
	for i := range s.TaskList {
		if !s.TaskList[i].Implemented {
			return &s.TaskList[i]
		}
	}
	return nil
}

func (s *State) allTasksImplemented() bool {
	return s.nextTask() == nil
}

func (s *State) task(id string) *Task {
	for i := range s.TaskList {
		if s.TaskList[i].ID == id {
			return &s.TaskList[i]
		}
	}
	return nil
}

// enter positions the state at the top-level step with index i.
func (s *State) enter(i int) {
	step := s.Workflow.Steps[i]
	s.CurrentStepID = step.ID
	s.CurrentSubStepID = ""
	s.CurrentTaskID = ""
	if step.Kind != KindLoop {
		return
	}
	loop := s.Workflow.Loops[step.Loop]
	// A loop used by more than one step starts counting afresh each time.
	s.LoopIterationCounts[step.Loop] = 0
	s.CurrentSubStepID = loop.Steps[0].ID
	if t := s.nextTask(); t != nil {
		s.CurrentTaskID = t.ID
	}
}

// binding describes the current position. It is nil once the run is over.
func (s *State) binding() *Binding {
	if s.Status.Terminal() {
		return nil
	}
	_, step := s.Workflow.Step(s.CurrentStepID)
	if step == nil {
		return nil
	}

	b := &Binding{StepID: step.ID, Agent: step.Agent, Instructions: step.Instructions}
	if step.Kind == KindLoop {
		loop := s.Workflow.Loops[step.Loop]
		for _, sub := range loop.Steps {
			if sub.ID == s.CurrentSubStepID {
				b.StepID = QualifiedID(step.ID, sub.ID)
				b.Agent = sub.Agent
				b.Instructions = sub.Instructions
				break
			}
		}
		b.LoopID = step.Loop
		b.Iteration = s.LoopIterationCounts[step.Loop] + 1
		b.MaxIterations = loop.MaxIterations
		if t := s.task(s.CurrentTaskID); t != nil {
			b.TaskID = t.ID
			b.TaskDescription = t.Description
		}
	}
	if agent, ok := s.Workflow.Agents[b.Agent]; ok {
		b.AgentInstructions = agent.Instructions
	}
	return b
}

// progress renders a one-line summary such as
// "step 2/3 (build.test), iteration 1/10, 1/4 tasks implemented".
func (s *State) progress() string {
	i, step := s.Workflow.Step(s.CurrentStepID)
	parts := []string{}
	switch s.Status {
	case StatusCompleted:
		parts = append(parts, "completed")
	case StatusFailed:
		parts = append(parts, "failed")
	}
	if step != nil && !s.Status.Terminal() {
		parts = append(parts, fmt.Sprintf("step %d/%d (%s)", i+1, len(s.Workflow.Steps), s.QualifiedStepID()))
		if step.Kind == KindLoop {
			loop := s.Workflow.Loops[step.Loop]
			parts = append(parts, fmt.Sprintf("iteration %d/%d", s.LoopIterationCounts[step.Loop]+1, loop.MaxIterations))
		}
	}
	if len(s.TaskList) > 0 {
		done := 0
		for _, t := range s.TaskList {
			if t.Implemented {
				done++
			}
		}
		parts = append(parts, fmt.Sprintf("%d/%d tasks implemented", done, len(s.TaskList)))
	}
	return strings.Join(parts, ", ")
}
