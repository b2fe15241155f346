package workflow

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Iron-Ham/grove/internal/errors"
	"github.com/Iron-Ham/grove/internal/logging"
	"github.com/Iron-Ham/grove/internal/session"
)

// StateStore persists workflow states. session.FileStore implements it.
type StateStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Templates resolves workflow names to definitions. Catalog implements it.
type Templates interface {
	Load(name string) (*Definition, error)
}

// StateKey returns the store key of a session's workflow state.
func StateKey(sessionID string) string {
	return session.SessionsDirName + "/" + sessionID + "/" + session.WorkflowStateFile
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger.
func WithEngineLogger(logger *logging.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithTransitionHook registers a function called after every successful
// Advance with the session, the step just recorded and whether the
// workflow completed.
func WithTransitionHook(fn func(sessionID, stepID string, completed bool)) EngineOption {
	return func(e *Engine) { e.onTransition = fn }
}

// Engine runs workflow state machines, one per session. Writers on a
// session are serialized; readers wait for at most the writer in progress.
type Engine struct {
	templates    Templates
	store        StateStore
	logger       *logging.Logger
	now          func() time.Time
	onTransition func(sessionID, stepID string, completed bool)

	mu     sync.Mutex
	locks  map[string]*sync.RWMutex
	states map[string]*State
}

// NewEngine creates an Engine.
func NewEngine(templates Templates, store StateStore, opts ...EngineOption) *Engine {
	e := &Engine{
		templates: templates,
		store:     store,
		logger:    logging.NopLogger(),
		now:       time.Now,
		locks:     make(map[string]*sync.RWMutex),
		states:    make(map[string]*State),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("workflow")
	return e
}

func (e *Engine) lock(sessionID string) *sync.RWMutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[sessionID]
	if !ok {
		l = &sync.RWMutex{}
		e.locks[sessionID] = l
	}
	return l
}

// Start begins workflowName for sessionID and returns the first step. An
// unknown workflow persists nothing. A run that is still in progress must
// be cleared first.
func (e *Engine) Start(ctx context.Context, workflowName, sessionID string) (*Binding, error) {
	if sessionID == "" {
		return nil, errors.NewValidationError("session id is required").WithField("sessionId")
	}
	def, err := e.templates.Load(workflowName)
	if err != nil {
		return nil, err
	}

	l := e.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	if existing := e.load(ctx, sessionID); existing != nil && !existing.Status.Terminal() {
		return nil, errors.NewAlreadyExistsError("workflow run", sessionID)
	}

	now := e.now()
	st := &State{
		SessionID:           sessionID,
		Workflow:            *def,
		TaskList:            []Task{},
		LoopIterationCounts: make(map[string]int),
		ContextOutputs:      make(map[string]string),
		Status:              StatusInProgress,
		StartedAt:           now,
		UpdatedAt:           now,
	}
	st.enter(0)

	if err := e.persist(ctx, st); err != nil {
		return nil, err
	}
	e.logger.Info("workflow started", "session", sessionID, "workflow", def.Name, "step", st.QualifiedStepID())
	return st.binding(), nil
}

// SetTasks replaces the task list, or with merge updates tasks by id and
// appends new ones. An implementation loop without a current task picks up
// the first unimplemented one.
func (e *Engine) SetTasks(ctx context.Context, sessionID string, tasks []Task, merge bool) error {
	for i, t := range tasks {
		if t.ID == "" {
			return errors.NewValidationError("task id is required").WithField("tasks").WithValue(i)
		}
	}

	return e.mutate(ctx, sessionID, func(st *State) error {
		if merge {
			for _, t := range tasks {
				if existing := st.task(t.ID); existing != nil {
					*existing = t
				} else {
					st.TaskList = append(st.TaskList, t)
				}
			}
		} else {
			st.TaskList = append([]Task{}, tasks...)
		}

		if st.CurrentSubStepID != "" {
			if t := st.task(st.CurrentTaskID); t == nil || t.Implemented {
				st.CurrentTaskID = ""
				if next := st.nextTask(); next != nil {
					st.CurrentTaskID = next.ID
				}
			}
		}
		return nil
	})
}

// Advance records output for the current step and moves to the next one.
// At the end of a loop body the current task is marked implemented and the
// iteration counted; the loop is left when its exit condition holds or the
// iteration cap is reached.
func (e *Engine) Advance(ctx context.Context, sessionID, output string) (*AdvanceResult, error) {
	var (
		result   AdvanceResult
		recorded string
	)
	err := e.mutate(ctx, sessionID, func(st *State) error {
		recorded = st.QualifiedStepID()
		st.ContextOutputs[recorded] = output

		i, step := st.Workflow.Step(st.CurrentStepID)
		if step.Kind == KindLoop && !advanceLoop(st, step) {
			result.Next = st.binding()
			return nil
		}

		if i+1 >= len(st.Workflow.Steps) {
			st.Status = StatusCompleted
			st.CurrentSubStepID = ""
			st.CurrentTaskID = ""
			result.Completed = true
			return nil
		}
		st.enter(i + 1)
		result.Next = st.binding()
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("workflow advanced", "session", sessionID, "step", recorded, "completed", result.Completed)
	if e.onTransition != nil {
		e.onTransition(sessionID, recorded, result.Completed)
	}
	return &result, nil
}

// advanceLoop moves within the loop body of step and reports whether the
// loop is finished.
func advanceLoop(st *State, step *Step) bool {
	loop := st.Workflow.Loops[step.Loop]
	for j, sub := range loop.Steps {
		if sub.ID != st.CurrentSubStepID {
			continue
		}
		if j+1 < len(loop.Steps) {
			st.CurrentSubStepID = loop.Steps[j+1].ID
			return false
		}
		break
	}

	// End of one iteration.
	if t := st.task(st.CurrentTaskID); t != nil {
		t.Implemented = true
	}
	st.LoopIterationCounts[step.Loop]++

	done := st.LoopIterationCounts[step.Loop] >= loop.MaxIterations
	if loop.ExitCondition == ExitAllTasksImplemented && st.allTasksImplemented() {
		done = true
	}
	if done {
		return true
	}

	st.CurrentSubStepID = loop.Steps[0].ID
	st.CurrentTaskID = ""
	if t := st.nextTask(); t != nil {
		st.CurrentTaskID = t.ID
	}
	return false
}

// Fail marks the run failed.
func (e *Engine) Fail(ctx context.Context, sessionID, reason string) error {
	return e.mutate(ctx, sessionID, func(st *State) error {
		st.Status = StatusFailed
		st.FailureReason = reason
		return nil
	})
}

// Status reports the progress of a session's workflow, loading it from
// disk if needed.
func (e *Engine) Status(ctx context.Context, sessionID string) (*Report, error) {
	st, err := e.read(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Report{
		Workflow:        st.Workflow.Name,
		Status:          st.Status,
		CurrentStepID:   st.QualifiedStepID(),
		CurrentTaskID:   st.CurrentTaskID,
		TaskList:        st.TaskList,
		ProgressSummary: st.progress(),
		Current:         st.binding(),
		FailureReason:   st.FailureReason,
	}, nil
}

// Context returns the recorded step outputs, or only the output of stepID
// when it is set.
func (e *Engine) Context(ctx context.Context, sessionID, stepID string) (map[string]string, error) {
	st, err := e.read(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if stepID == "" {
		return st.ContextOutputs, nil
	}
	out, ok := st.ContextOutputs[stepID]
	if !ok {
		return nil, errors.NewNotFoundError("step output", stepID)
	}
	return map[string]string{stepID: out}, nil
}

// State returns a copy of the session's state, if it has one.
func (e *Engine) State(ctx context.Context, sessionID string) (*State, bool) {
	st, err := e.read(ctx, sessionID)
	if err != nil {
		return nil, false
	}
	return st, true
}

// Clear drops the session's state from memory and disk.
func (e *Engine) Clear(ctx context.Context, sessionID string) error {
	l := e.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	e.mu.Lock()
	delete(e.states, sessionID)
	e.mu.Unlock()

	if err := e.store.Delete(ctx, StateKey(sessionID)); err != nil && !errors.Is(err, session.ErrNotFound) {
		return errors.Wrapf(err, "failed to delete workflow state of %s", sessionID)
	}
	return nil
}

// Forget drops the in-memory copy only, e.g. after the state file was
// removed by someone else.
func (e *Engine) Forget(sessionID string) {
	e.mu.Lock()
	delete(e.states, sessionID)
	e.mu.Unlock()
}

func (e *Engine) read(ctx context.Context, sessionID string) (*State, error) {
	l := e.lock(sessionID)
	l.RLock()
	defer l.RUnlock()

	st := e.load(ctx, sessionID)
	if st == nil {
		return nil, errors.NewNotFoundError("workflow", sessionID).WithCause(errors.ErrNoActiveWorkflow)
	}
	return st.clone(), nil
}

// mutate applies fn to a copy of an in-progress state and persists it. The
// in-memory state only changes when persisting succeeds.
func (e *Engine) mutate(ctx context.Context, sessionID string, fn func(*State) error) error {
	l := e.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	current := e.load(ctx, sessionID)
	if current == nil {
		return errors.NewNotFoundError("workflow", sessionID).WithCause(errors.ErrNoActiveWorkflow)
	}
	if current.Status.Terminal() {
		return errors.Wrapf(errors.ErrWorkflowFinished, "workflow of %s is %s", sessionID, current.Status)
	}

	next := current.clone()
	if err := fn(next); err != nil {
		return err
	}
	next.UpdatedAt = e.now()
	return e.persist(ctx, next)
}

// load returns the cached state or reads it from the store. A state that
// cannot be decoded, or that points at steps its snapshot lacks, counts as
// no workflow. Callers hold the session lock.
func (e *Engine) load(ctx context.Context, sessionID string) *State {
	e.mu.Lock()
	st, ok := e.states[sessionID]
	e.mu.Unlock()
	if ok {
		return st
	}

	data, err := e.store.Load(ctx, StateKey(sessionID))
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			e.logger.Warn("failed to read workflow state", "session", sessionID, "error", err)
		}
		return nil
	}

	var loaded State
	if err := json.Unmarshal(data, &loaded); err != nil {
		e.logger.Warn("ignoring corrupted workflow state", "session", sessionID, "error", err)
		return nil
	}
	if !loaded.consistent() {
		e.logger.Warn("ignoring inconsistent workflow state", "session", sessionID, "step", loaded.QualifiedStepID())
		return nil
	}
	if loaded.LoopIterationCounts == nil {
		loaded.LoopIterationCounts = make(map[string]int)
	}
	if loaded.ContextOutputs == nil {
		loaded.ContextOutputs = make(map[string]string)
	}

	e.mu.Lock()
	e.states[sessionID] = &loaded
	e.mu.Unlock()
	return &loaded
}

func (e *Engine) persist(ctx context.Context, st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal workflow state")
	}
	if err := e.store.Save(ctx, StateKey(st.SessionID), data); err != nil {
		return errors.Wrapf(err, "failed to save workflow state of %s", st.SessionID)
	}
	e.mu.Lock()
	e.states[st.SessionID] = st
	e.mu.Unlock()
	return nil
}
