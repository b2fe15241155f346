// Package workflow drives a session through a multi-phase workflow such as
// plan, implement, test and review.
//
// A workflow template is a YAML document with ordered steps. A step either
// hands one instruction to an agent (an action) or runs a named loop whose
// body repeats once per task until an exit condition or an iteration cap is
// reached. When a workflow starts, the template is copied into the
// session's State so later edits to the template do not affect it, and the
// State is persisted after every transition so it survives restarts.
package workflow

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/grove/internal/errors"
)

// DefaultMaxIterations caps loops that do not set max_iterations.
const DefaultMaxIterations = 10

// StepKind distinguishes single actions from loops.
type StepKind string

const (
	KindAction StepKind = "action"
	KindLoop   StepKind = "loop"
)

// ExitCondition decides when a loop stops before reaching its cap.
type ExitCondition string

const (
	// ExitAllTasksImplemented leaves the loop once every task is implemented.
	ExitAllTasksImplemented ExitCondition = "all_tasks_implemented"
	// ExitMaxIterations runs the loop exactly max_iterations times.
	ExitMaxIterations ExitCondition = "max_iterations"
)

// Definition is a parsed workflow template.
type Definition struct {
	Name        string              `yaml:"name" json:"name"`
	Description string              `yaml:"description,omitempty" json:"description,omitempty"`
	Agents      map[string]AgentDef `yaml:"agents,omitempty" json:"agents,omitempty"`
	Loops       map[string]Loop     `yaml:"loops,omitempty" json:"loops,omitempty"`
	Steps       []Step              `yaml:"steps" json:"steps"`
}

// AgentDef is a named role the steps can hand work to.
type AgentDef struct {
	Description  string `yaml:"description,omitempty" json:"description,omitempty"`
	Instructions string `yaml:"instructions,omitempty" json:"instructions,omitempty"`
}

// Loop is a named, bounded repetition of steps.
type Loop struct {
	Steps         []Step        `yaml:"steps" json:"steps"`
	ExitCondition ExitCondition `yaml:"exit_condition,omitempty" json:"exitCondition,omitempty"`
	MaxIterations int           `yaml:"max_iterations,omitempty" json:"maxIterations,omitempty"`
}

// Step is one entry of a workflow or loop body.
type Step struct {
	ID           string   `yaml:"id" json:"id"`
	Kind         StepKind `yaml:"kind,omitempty" json:"kind,omitempty"`
	Agent        string   `yaml:"agent,omitempty" json:"agent,omitempty"`
	Instructions string   `yaml:"instructions,omitempty" json:"instructions,omitempty"`
	Loop         string   `yaml:"loop,omitempty" json:"loop,omitempty"`
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Parse decodes and validates a template. Unknown fields are ignored.
// source names the template in errors.
func Parse(data []byte, source string) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, errors.NewWorkflowDefinitionError(source, "invalid YAML").WithCause(err)
	}
	def.applyDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) applyDefaults() {
	for i := range d.Steps {
		if d.Steps[i].Kind == "" {
			if d.Steps[i].Loop != "" {
				d.Steps[i].Kind = KindLoop
			} else {
				d.Steps[i].Kind = KindAction
			}
		}
	}
	for name, loop := range d.Loops {
		if loop.MaxIterations == 0 {
			loop.MaxIterations = DefaultMaxIterations
		}
		if loop.ExitCondition == "" {
			loop.ExitCondition = ExitAllTasksImplemented
		}
		for i := range loop.Steps {
			if loop.Steps[i].Kind == "" {
				loop.Steps[i].Kind = KindAction
			}
		}
		d.Loops[name] = loop
	}
}

// Validate reports every structural problem of the template at once.
func (d *Definition) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(d.Name) == "" {
		add("name is required")
	}
	if len(d.Steps) == 0 {
		add("at least one step is required")
	}

	seen := make(map[string]bool)
	for i, step := range d.Steps {
		d.validateStep(step, fmt.Sprintf("steps[%d]", i), seen, add)
		if step.Kind == KindLoop {
			if step.Loop == "" {
				add("step %q is a loop but names no loop", step.ID)
			} else if _, ok := d.Loops[step.Loop]; !ok {
				add("step %q references unknown loop %q", step.ID, step.Loop)
			}
		}
	}

	for _, name := range sortedKeys(d.Loops) {
		loop := d.Loops[name]
		if len(loop.Steps) == 0 {
			add("loop %q has no steps", name)
		}
		switch loop.ExitCondition {
		case ExitAllTasksImplemented, ExitMaxIterations:
		default:
			add("loop %q has unknown exit_condition %q", name, loop.ExitCondition)
		}
		if loop.MaxIterations < 0 {
			add("loop %q max_iterations must be positive", name)
		}
		bodySeen := make(map[string]bool)
		for i, step := range loop.Steps {
			d.validateStep(step, fmt.Sprintf("loops.%s.steps[%d]", name, i), bodySeen, add)
			if step.Kind == KindLoop {
				add("loop %q step %q: loops cannot be nested", name, step.ID)
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.NewWorkflowDefinitionError(d.Name, strings.Join(problems, "; "))
}

func (d *Definition) validateStep(step Step, where string, seen map[string]bool, add func(string, ...any)) {
	switch {
	case step.ID == "":
		add("%s: id is required", where)
	case !idPattern.MatchString(step.ID):
		add("%s: id %q may only contain letters, digits, '-' and '_'", where, step.ID)
	case seen[step.ID]:
		add("%s: duplicate step id %q", where, step.ID)
	}
	seen[step.ID] = true

	switch step.Kind {
	case KindAction, KindLoop:
	default:
		add("%s: unknown kind %q", where, step.Kind)
	}
	if step.Agent != "" {
		if _, ok := d.Agents[step.Agent]; !ok {
			add("%s: unknown agent %q", where, step.Agent)
		}
	}
}

// Step returns the top-level step with id.
func (d *Definition) Step(id string) (int, *Step) {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return i, &d.Steps[i]
		}
	}
	return -1, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
