package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Iron-Ham/grove/internal/agent"
	"github.com/Iron-Ham/grove/internal/errors"
	"github.com/Iron-Ham/grove/internal/event"
	"github.com/Iron-Ham/grove/internal/workflow"
	"github.com/Iron-Ham/grove/internal/workspace"
	"github.com/Iron-Ham/grove/internal/worktree"
)

// SessionNameParams addresses one session.
type SessionNameParams struct {
	Name string `json:"name"`
}

// SessionListParams filters session.list.
type SessionListParams struct {
	IncludeInactive bool `json:"includeInactive"`
}

// SessionListResult is returned by session.list.
type SessionListResult struct {
	Sessions []workspace.SessionSummary `json:"sessions"`
}

// SessionOpenResult is returned by session.open.
type SessionOpenResult struct {
	OK bool `json:"ok"`
	workspace.OpenResult
}

// SessionDeleteParams configures session.delete.
type SessionDeleteParams struct {
	Name           string `json:"name"`
	DeleteWorktree bool   `json:"deleteWorktree"`
	KeepBranch     bool   `json:"keepBranch,omitempty"`
}

// SessionDeleteResult is returned by session.delete.
type SessionDeleteResult struct {
	OK bool `json:"ok"`
	workspace.DeleteResult
}

// ListBranchesParams configures git.listBranches.
type ListBranchesParams struct {
	IncludeRemote bool `json:"includeRemote"`
}

// ListBranchesResult is returned by git.listBranches.
type ListBranchesResult struct {
	Branches []worktree.Branch `json:"branches"`
}

// GetDiffParams configures git.getDiff.
type GetDiffParams struct {
	Name               string `json:"name"`
	IncludeUncommitted bool   `json:"includeUncommitted"`
}

// GetDiffResult is returned by git.getDiff.
type GetDiffResult struct {
	Diff string `json:"diff"`
}

// DetectBrokenResult is returned by worktree.detectBroken.
type DetectBrokenResult struct {
	Broken []worktree.BrokenRecord `json:"broken"`
}

// RepairParams configures worktree.repair.
type RepairParams struct {
	Path string `json:"path"`
}

// WorkflowListParams filters workflow.list. Omitting both flags lists
// every template.
type WorkflowListParams struct {
	IncludeBuiltin *bool `json:"includeBuiltin,omitempty"`
	IncludeCustom  *bool `json:"includeCustom,omitempty"`
}

// WorkflowListResult is returned by workflow.list.
type WorkflowListResult struct {
	Workflows []workflow.Info `json:"workflows"`
}

// WorkflowCreateParams configures workflow.create.
type WorkflowCreateParams struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// WorkflowCreateResult is returned by workflow.create.
type WorkflowCreateResult struct {
	Path string `json:"path"`
}

// WorkflowAdvanceParams configures workflow.advance.
type WorkflowAdvanceParams struct {
	Name   string `json:"name"`
	Output string `json:"output"`
}

// WorkflowSetTasksParams configures workflow.setTasks.
type WorkflowSetTasksParams struct {
	Name  string          `json:"name"`
	Tasks []workflow.Task `json:"tasks"`
	Merge bool            `json:"merge"`
}

// WorkflowContextParams configures workflow.context.
type WorkflowContextParams struct {
	Name   string `json:"name"`
	StepID string `json:"stepId,omitempty"`
}

// WorkflowContextResult is returned by workflow.context.
type WorkflowContextResult struct {
	Context map[string]string `json:"context"`
}

// AgentListParams configures agent.list.
type AgentListParams struct {
	CheckAvailability bool `json:"checkAvailability"`
}

// AgentListResult is returned by agent.list.
type AgentListResult struct {
	Agents []agent.Info `json:"agents"`
}

// SessionCreatedParams is the payload of session.created.
type SessionCreatedParams struct {
	Name         string `json:"name"`
	WorktreePath string `json:"worktreePath"`
	Branch       string `json:"branch"`
	Agent        string `json:"agent,omitempty"`
	Workflow     string `json:"workflow,omitempty"`
}

// SessionDeletedParams is the payload of session.deleted.
type SessionDeletedParams struct {
	Name           string `json:"name"`
	BranchRetained bool   `json:"branchRetained,omitempty"`
}

// SessionStatusChangedParams is the payload of session.statusChanged.
type SessionStatusChangedParams struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func notificationParams(e event.Event) any {
	switch ev := e.(type) {
	case event.SessionCreatedEvent:
		return SessionCreatedParams{
			Name:         ev.Name,
			WorktreePath: ev.WorktreePath,
			Branch:       ev.Branch,
			Agent:        ev.Agent,
			Workflow:     ev.Workflow,
		}
	case event.SessionDeletedEvent:
		return SessionDeletedParams{Name: ev.Name, BranchRetained: ev.BranchRetained}
	case event.SessionStatusChangedEvent:
		return SessionStatusChangedParams{
			Name:      ev.Name,
			Status:    ev.Status,
			Message:   ev.Message,
			Timestamp: ev.StatusTimestamp,
		}
	}
	return nil
}

// method adapts a typed handler.
func method[P any](fn func(ctx context.Context, p P) (any, error)) HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p P
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return fn(ctx, p)
	}
}

func requireName(name string) error {
	if name == "" {
		return errors.NewValidationError("name is required").WithField("name")
	}
	return nil
}

// registerWorkspace mounts the workspace operations on s.
func registerWorkspace(s *Server, svc *workspace.Service) {
	ok := OKResult{OK: true}

	s.Handle(MethodSessionCreate, method(func(ctx context.Context, p workspace.CreateRequest) (any, error) {
		return svc.CreateSession(ctx, p)
	}))
	s.Handle(MethodSessionList, method(func(ctx context.Context, p SessionListParams) (any, error) {
		sessions, err := svc.ListSessions(ctx, p.IncludeInactive)
		if err != nil {
			return nil, err
		}
		if sessions == nil {
			sessions = []workspace.SessionSummary{}
		}
		return SessionListResult{Sessions: sessions}, nil
	}))
	s.Handle(MethodSessionOpen, method(func(ctx context.Context, p SessionNameParams) (any, error) {
		if err := requireName(p.Name); err != nil {
			return nil, err
		}
		res, err := svc.OpenSession(ctx, p.Name)
		if err != nil {
			return nil, err
		}
		return SessionOpenResult{OK: true, OpenResult: *res}, nil
	}))
	s.Handle(MethodSessionDelete, method(func(ctx context.Context, p SessionDeleteParams) (any, error) {
		if err := requireName(p.Name); err != nil {
			return nil, err
		}
		res, err := svc.DeleteSession(ctx, p.Name, p.DeleteWorktree, p.KeepBranch)
		if err != nil {
			return nil, err
		}
		return SessionDeleteResult{OK: true, DeleteResult: *res}, nil
	}))
	s.Handle(MethodSessionPin, method(func(ctx context.Context, p SessionNameParams) (any, error) {
		if err := requireName(p.Name); err != nil {
			return nil, err
		}
		return ok, svc.Pin(ctx, p.Name)
	}))
	s.Handle(MethodSessionUnpin, method(func(ctx context.Context, p SessionNameParams) (any, error) {
		if err := requireName(p.Name); err != nil {
			return nil, err
		}
		return ok, svc.Unpin(ctx, p.Name)
	}))
	s.Handle(MethodSessionClear, method(func(ctx context.Context, p SessionNameParams) (any, error) {
		if err := requireName(p.Name); err != nil {
			return nil, err
		}
		return ok, svc.ClearSession(ctx, p.Name)
	}))

	s.Handle(MethodGitListBranches, method(func(ctx context.Context, p ListBranchesParams) (any, error) {
		branches, err := svc.ListBranches(ctx, p.IncludeRemote)
		if err != nil {
			return nil, err
		}
		return ListBranchesResult{Branches: branches}, nil
	}))
	s.Handle(MethodGitGetDiff, method(func(ctx context.Context, p GetDiffParams) (any, error) {
		diff, err := svc.Diff(ctx, p.Name, p.IncludeUncommitted)
		if err != nil {
			s.logger.Warn("diff failed, returning empty diff", "session", p.Name, "error", err)
			diff = ""
		}
		return GetDiffResult{Diff: diff}, nil
	}))

	s.Handle(MethodWorktreeDetectBroken, method(func(ctx context.Context, _ struct{}) (any, error) {
		broken, err := svc.DetectBroken(ctx)
		if err != nil {
			return nil, err
		}
		if broken == nil {
			broken = []worktree.BrokenRecord{}
		}
		return DetectBrokenResult{Broken: broken}, nil
	}))
	s.Handle(MethodWorktreeRepair, method(func(ctx context.Context, p RepairParams) (any, error) {
		if p.Path == "" {
			return nil, errors.NewValidationError("path is required").WithField("path")
		}
		return ok, svc.Repair(ctx, p.Path)
	}))

	s.Handle(MethodWorkflowList, method(func(_ context.Context, p WorkflowListParams) (any, error) {
		builtin, custom := true, true
		if p.IncludeBuiltin != nil || p.IncludeCustom != nil {
			builtin = p.IncludeBuiltin != nil && *p.IncludeBuiltin
			custom = p.IncludeCustom != nil && *p.IncludeCustom
		}
		workflows, err := svc.ListWorkflows(builtin, custom)
		if err != nil {
			return nil, err
		}
		if workflows == nil {
			workflows = []workflow.Info{}
		}
		return WorkflowListResult{Workflows: workflows}, nil
	}))
	s.Handle(MethodWorkflowCreate, method(func(_ context.Context, p WorkflowCreateParams) (any, error) {
		path, err := svc.CreateWorkflow(p.Name, p.Content)
		if err != nil {
			return nil, err
		}
		return WorkflowCreateResult{Path: path}, nil
	}))
	s.Handle(MethodWorkflowStatus, method(func(ctx context.Context, p SessionNameParams) (any, error) {
		if err := requireName(p.Name); err != nil {
			return nil, err
		}
		return svc.WorkflowStatus(ctx, p.Name)
	}))
	s.Handle(MethodWorkflowAdvance, method(func(ctx context.Context, p WorkflowAdvanceParams) (any, error) {
		if err := requireName(p.Name); err != nil {
			return nil, err
		}
		return svc.AdvanceWorkflow(ctx, p.Name, p.Output)
	}))
	s.Handle(MethodWorkflowSetTasks, method(func(ctx context.Context, p WorkflowSetTasksParams) (any, error) {
		if err := requireName(p.Name); err != nil {
			return nil, err
		}
		return ok, svc.SetWorkflowTasks(ctx, p.Name, p.Tasks, p.Merge)
	}))
	s.Handle(MethodWorkflowContext, method(func(ctx context.Context, p WorkflowContextParams) (any, error) {
		if err := requireName(p.Name); err != nil {
			return nil, err
		}
		values, err := svc.WorkflowContext(ctx, p.Name, p.StepID)
		if err != nil {
			return nil, err
		}
		return WorkflowContextResult{Context: values}, nil
	}))

	s.Handle(MethodAgentList, method(func(_ context.Context, p AgentListParams) (any, error) {
		return AgentListResult{Agents: svc.ListAgents(p.CheckAvailability)}, nil
	}))
}
