package workspace

import (
	"context"

	"github.com/Iron-Ham/grove/internal/agent"
	"github.com/Iron-Ham/grove/internal/workflow"
)

// ListWorkflows lists the workflow templates.
func (s *Service) ListWorkflows(includeBuiltin, includeCustom bool) ([]workflow.Info, error) {
	return s.catalog.List(includeBuiltin, includeCustom)
}

// CreateWorkflow stores a new custom workflow template and returns its path.
func (s *Service) CreateWorkflow(name, content string) (string, error) {
	path, err := s.catalog.Create(name, content)
	if err != nil {
		return "", err
	}
	s.logger.Info("workflow template created", "workflow", name, "path", path)
	return path, nil
}

// WorkflowStatus reports the workflow progress of a session.
func (s *Service) WorkflowStatus(ctx context.Context, name string) (*workflow.Report, error) {
	sess, err := s.find(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.engine.Status(ctx, sess.Name)
}

// AdvanceWorkflow records output for the session's current step and moves on.
func (s *Service) AdvanceWorkflow(ctx context.Context, name, output string) (*workflow.AdvanceResult, error) {
	sess, err := s.find(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.engine.Advance(ctx, sess.Name, output)
}

// SetWorkflowTasks replaces or merges the session's task list.
func (s *Service) SetWorkflowTasks(ctx context.Context, name string, tasks []workflow.Task, merge bool) error {
	sess, err := s.find(ctx, name)
	if err != nil {
		return err
	}
	return s.engine.SetTasks(ctx, sess.Name, tasks, merge)
}

// WorkflowContext returns the outputs recorded for a session's workflow.
func (s *Service) WorkflowContext(ctx context.Context, name, stepID string) (map[string]string, error) {
	sess, err := s.find(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.engine.Context(ctx, sess.Name, stepID)
}

// ListAgents describes the known agents.
func (s *Service) ListAgents(checkAvailability bool) []agent.Info {
	return s.agents.List(checkAvailability)
}
