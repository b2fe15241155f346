package workspace

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/grove/internal/agent"
	"github.com/Iron-Ham/grove/internal/errors"
	"github.com/Iron-Ham/grove/internal/event"
	"github.com/Iron-Ham/grove/internal/host"
	"github.com/Iron-Ham/grove/internal/session"
	"github.com/Iron-Ham/grove/internal/status"
	"github.com/Iron-Ham/grove/internal/workflow"
	"github.com/Iron-Ham/grove/internal/worktree"
)

// CreateRequest describes a session to create.
type CreateRequest struct {
	Name           string   `json:"name"`
	Branch         string   `json:"branch,omitempty"`
	Workflow       string   `json:"workflow,omitempty"`
	Agent          string   `json:"agent,omitempty"`
	Prompt         string   `json:"prompt,omitempty"`
	Attachments    []string `json:"attachments,omitempty"`
	PermissionMode string   `json:"permissionMode,omitempty"`
	// BranchPolicy overrides worktree.branch_policy for this request.
	BranchPolicy string `json:"branchPolicy,omitempty"`
}

// CreateResult is returned by CreateSession.
type CreateResult struct {
	SessionName  string `json:"sessionName"`
	WorktreePath string `json:"worktreePath"`
	SessionID    string `json:"sessionId"`
	Command      string `json:"command"`
	// WorkflowWarning is set when the workflow could not be started and the
	// session was created without one.
	WorkflowWarning string `json:"workflowWarning,omitempty"`
}

// SessionSummary is one entry of ListSessions.
type SessionSummary struct {
	Name           string        `json:"name"`
	WorktreePath   string        `json:"worktreePath"`
	Branch         string        `json:"branch"`
	SourceBranch   string        `json:"sourceBranch,omitempty"`
	Agent          string        `json:"agent,omitempty"`
	Status         status.Status `json:"status"`
	StatusMessage  string        `json:"statusMessage,omitempty"`
	WorkflowStatus string        `json:"workflowStatus,omitempty"`
	IsPinned       bool          `json:"isPinned"`
	Tracked        bool          `json:"tracked"`
}

// OpenResult is returned by OpenSession.
type OpenResult struct {
	WorktreePath string `json:"worktreePath"`
	Command      string `json:"command"`
	// Opened is false when no terminal host is available; the caller is
	// expected to run Command itself.
	Opened bool `json:"opened"`
}

// CreateSession materializes a worktree for req.Name and registers the
// session. Requests for the same worktree path are serialized; a request
// that waited behind another and finds the path taken fails with a
// ConcurrencyConflictError. A workflow that cannot be started leaves an
// ad-hoc session behind and is reported in CreateResult.WorkflowWarning.
func (s *Service) CreateSession(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := worktree.ValidateName(req.Name); err != nil {
		return nil, err
	}

	agentName := req.Agent
	if agentName == "" {
		agentName = s.cfg.Agent.Default
	}
	a, err := s.agents.Get(agentName)
	if err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("unknown agent %q", agentName)).WithField("agent").WithCause(err)
	}
	mode := req.PermissionMode
	if mode == "" && s.cfg.Agent.DefaultPermissionMode != "" {
		if m, err := agent.ResolvePermissionMode(a, s.cfg.Agent.DefaultPermissionMode); err == nil {
			mode = m
		}
	}
	mode, err = agent.ResolvePermissionMode(a, mode)
	if err != nil {
		return nil, err
	}

	policy := worktree.BranchPolicy(s.cfg.Worktree.BranchPolicy)
	if req.BranchPolicy != "" {
		policy = worktree.BranchPolicy(req.BranchPolicy)
	}
	switch policy {
	case worktree.PolicyReuse, worktree.PolicyReject, worktree.PolicyPrompt:
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unknown branch policy %q (supported: reuse, reject, prompt)", policy)).
			WithField("branchPolicy").
			WithValue(string(policy))
	}

	taken, err := s.registry.NameTaken(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, errors.NewAlreadyExistsError("session", req.Name)
	}

	target := s.worktrees.Path(req.Name)
	ticket, err := s.queue.Enqueue(ctx, target)
	if err != nil {
		return nil, err
	}
	defer ticket.Release()

	if ticket.Waited() {
		if _, err := os.Stat(target); err == nil {
			return nil, errors.NewConcurrencyConflictError(target, "created by an earlier request for the same session")
		}
	}

	logger := s.logger.WithSession(req.Name)
	source := req.Branch
	if source == "" {
		if source, err = s.worktrees.CurrentBranch(ctx); err != nil {
			return nil, err
		}
	}
	path, err := s.worktrees.Create(ctx, worktree.CreateOptions{
		Name:         req.Name,
		SourceBranch: source,
		Policy:       policy,
	})
	if err != nil {
		return nil, err
	}

	d := session.Descriptor{
		Name:           req.Name,
		WorktreePath:   path,
		SourceBranch:   source,
		CreatedAt:      time.Now().UTC(),
		AgentName:      string(a.Name()),
		WorkflowName:   req.Workflow,
		SessionID:      uuid.NewString(),
		PermissionMode: mode,
	}
	if err := s.registry.Save(ctx, d); err != nil {
		if delErr := s.worktrees.Delete(ctx, path, true); delErr != nil {
			logger.Warn("failed to roll back worktree", "path", path, "error", delErr)
		}
		return nil, err
	}

	if a.StatusSource() == status.SourcePush {
		if err := agent.InstallHooks(s.fs, path, s.layout, d.Name); err != nil {
			logger.Warn("failed to install agent hooks", "agent", a.Name(), "error", err)
		}
	}

	result := &CreateResult{SessionName: d.Name, WorktreePath: path, SessionID: d.SessionID}

	var binding *workflow.Binding
	if req.Workflow != "" {
		binding, err = s.engine.Start(ctx, req.Workflow, d.Name)
		if err != nil {
			logger.Warn("workflow not started, continuing without one", "workflow", req.Workflow, "error", err)
			result.WorkflowWarning = err.Error()
			d.WorkflowName = ""
			if err := s.registry.Save(ctx, d); err != nil {
				return nil, err
			}
		}
	}

	promptFile := ""
	if text := composePrompt(req.Prompt, req.Attachments, binding); text != "" {
		promptFile, err = s.registry.SavePrompt(ctx, d.Name, text)
		if err != nil {
			return nil, err
		}
	}

	if err := s.layout.EnsureIgnoreFile(s.fs); err != nil {
		logger.Warn("failed to update ignore file", "error", err)
	}

	result.Command, err = s.command(a, d, promptFile, "")
	if err != nil {
		return nil, err
	}

	if err := s.watch(d); err != nil {
		logger.Warn("failed to watch session status", "error", err)
	}

	logger.Info("session created", "path", path, "agent", d.AgentName, "workflow", d.WorkflowName, "queued", ticket.Waited())
	s.bus.Publish(event.NewSessionCreatedEvent(d.Name, path, d.Name, d.AgentName, d.WorkflowName))
	return result, nil
}

// composePrompt joins the user prompt, the attachment list and the first
// workflow step into the initial agent prompt.
func composePrompt(prompt string, attachments []string, binding *workflow.Binding) string {
	var parts []string
	if p := strings.TrimSpace(prompt); p != "" {
		parts = append(parts, p)
	}
	if len(attachments) > 0 {
		var sb strings.Builder
		sb.WriteString("Attached files:")
		for _, a := range attachments {
			sb.WriteString("\n- " + a)
		}
		parts = append(parts, sb.String())
	}
	if binding != nil {
		parts = append(parts, strings.TrimSpace(binding.Prompt()))
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n\n") + "\n"
}

func (s *Service) command(a agent.Agent, d session.Descriptor, promptFile, resumeID string) (string, error) {
	opts := agent.LaunchOptions{
		Session:        d.Name,
		PromptFile:     promptFile,
		PermissionMode: d.PermissionMode,
		TranscriptPath: s.layout.TranscriptPath(d.Name),
		ResumeID:       resumeID,
	}
	if a.SupportsSessionID() {
		opts.SessionID = d.SessionID
	}
	return a.Command(opts)
}

// ListSessions returns the sessions in display order: pinned ones first in
// pin order, the rest by name. Untracked worktree directories are only
// included with includeInactive.
func (s *Service) ListSessions(ctx context.Context, includeInactive bool) ([]SessionSummary, error) {
	found, err := s.registry.Discover(ctx)
	if err != nil {
		return nil, err
	}
	ordered, err := s.registry.SortForDisplay(ctx, found)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	pulled := make(map[string]status.Change, len(s.pullStatus))
	for k, v := range s.pullStatus {
		pulled[k] = v
	}
	s.mu.Unlock()

	out := make([]SessionSummary, 0, len(ordered))
	for _, sess := range ordered {
		if !sess.Tracked && !includeInactive {
			continue
		}
		summary := SessionSummary{
			Name:          sess.Name,
			WorktreePath:  sess.WorktreePath,
			Branch:        sess.Branch(),
			SourceBranch:  sess.SourceBranch,
			Agent:         sess.AgentName,
			Status:        sess.Status,
			StatusMessage: sess.StatusMessage,
			IsPinned:      sess.Pinned,
			Tracked:       sess.Tracked,
		}
		if c, ok := pulled[sess.Name]; ok {
			summary.Status = c.Status
			summary.StatusMessage = c.Message
		}
		if st, ok := s.engine.State(ctx, sess.Name); ok {
			summary.WorkflowStatus = string(st.Status)
		}
		out = append(out, summary)
	}
	return out, nil
}

// OpenSession starts or focuses the session's agent terminal. Agents that
// reported a session of their own are resumed.
func (s *Service) OpenSession(ctx context.Context, name string) (*OpenResult, error) {
	sess, err := s.find(ctx, name)
	if err != nil {
		return nil, err
	}

	agentName := sess.AgentName
	if agentName == "" {
		agentName = s.cfg.Agent.Default
	}
	a, err := s.agents.Get(agentName)
	if err != nil {
		return nil, err
	}

	promptFile := ""
	if _, err := os.Stat(s.layout.PromptPath(sess.Name)); err == nil {
		promptFile = s.layout.PromptPath(sess.Name)
	}
	resumeID := s.registry.AgentSessionID(ctx, sess.Name)
	cmd, err := s.command(a, sess.Descriptor, promptFile, resumeID)
	if err != nil {
		return nil, err
	}

	result := &OpenResult{WorktreePath: sess.WorktreePath, Command: cmd}
	if err := s.terminal.OpenTerminal(ctx, sess.Name, sess.WorktreePath, cmd); err != nil {
		if errors.Is(err, host.ErrNoTerminal) {
			return result, nil
		}
		return nil, err
	}
	result.Opened = true
	return result, nil
}

// DeleteResult is returned by DeleteSession.
type DeleteResult struct {
	BranchRetained bool   `json:"branchRetained,omitempty"`
	Warning        string `json:"warning,omitempty"`
}

// DeleteSession forgets a session. With deleteWorktree its worktree is
// removed too, and its branch unless keepBranch is set; a branch that
// survives is reported, not treated as a failure.
func (s *Service) DeleteSession(ctx context.Context, name string, deleteWorktree, keepBranch bool) (*DeleteResult, error) {
	sess, err := s.find(ctx, name)
	if err != nil {
		return nil, err
	}
	logger := s.logger.WithSession(sess.Name)
	result := &DeleteResult{}

	err = s.queue.Do(ctx, sess.WorktreePath, func(bool) error {
		s.tracker.Dispose(sess.Name)
		s.forgetStatus(sess.Name)
		if closer, ok := s.terminal.(host.Closer); ok {
			if err := closer.CloseTerminal(ctx, sess.Name); err != nil {
				logger.Warn("failed to close terminal", "error", err)
			}
		}

		if deleteWorktree {
			if err := s.worktrees.Delete(ctx, sess.WorktreePath, keepBranch); err != nil {
				if !errors.IsWarning(err) {
					return err
				}
				result.BranchRetained = true
				result.Warning = err.Error()
			}
		}

		s.engine.Forget(sess.Name)
		return s.registry.Remove(ctx, sess.Name)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("session deleted", "worktreeRemoved", deleteWorktree, "branchRetained", result.BranchRetained)
	s.bus.Publish(event.NewSessionDeletedEvent(sess.Name, result.BranchRetained))
	return result, nil
}

// ClearSession wipes the session's workflow state, status descriptor and
// agent-session identifier. The worktree and branch stay.
func (s *Service) ClearSession(ctx context.Context, name string) error {
	sess, err := s.find(ctx, name)
	if err != nil {
		return err
	}

	s.tracker.Dispose(sess.Name)
	s.forgetStatus(sess.Name)
	if err := s.engine.Clear(ctx, sess.Name); err != nil {
		return err
	}
	if err := s.registry.Clear(ctx, sess.Name); err != nil {
		return err
	}
	if sess.Tracked {
		if err := s.watch(sess.Descriptor); err != nil {
			s.logger.WithSession(sess.Name).Warn("failed to watch session status", "error", err)
		}
	}

	s.bus.Publish(event.NewSessionClearedEvent(sess.Name))
	s.bus.Publish(event.NewSessionStatusChangedEvent(sess.Name, string(status.Idle), "", time.Now()))
	return nil
}

// Pin moves a session to the pinned group.
func (s *Service) Pin(ctx context.Context, name string) error {
	sess, err := s.find(ctx, name)
	if err != nil {
		return err
	}
	if err := s.registry.Pin(ctx, sess.Name); err != nil {
		return err
	}
	s.bus.Publish(event.NewSessionPinChangedEvent(sess.Name, true))
	return nil
}

// Unpin removes a session from the pinned group.
func (s *Service) Unpin(ctx context.Context, name string) error {
	sess, err := s.find(ctx, name)
	if err != nil {
		return err
	}
	if err := s.registry.Unpin(ctx, sess.Name); err != nil {
		return err
	}
	s.bus.Publish(event.NewSessionPinChangedEvent(sess.Name, false))
	return nil
}
