package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/Iron-Ham/grove/internal/errors"
)

// ProtocolVersion is reported by initialize.
const ProtocolVersion = "1"

// Method names.
const (
	MethodInitialize = "initialize"
	MethodShutdown   = "shutdown"

	MethodSessionCreate = "session.create"
	MethodSessionList   = "session.list"
	MethodSessionOpen   = "session.open"
	MethodSessionDelete = "session.delete"
	MethodSessionPin    = "session.pin"
	MethodSessionUnpin  = "session.unpin"
	MethodSessionClear  = "session.clear"

	MethodGitListBranches = "git.listBranches"
	MethodGitGetDiff      = "git.getDiff"

	MethodWorktreeDetectBroken = "worktree.detectBroken"
	MethodWorktreeRepair       = "worktree.repair"

	MethodWorkflowList     = "workflow.list"
	MethodWorkflowCreate   = "workflow.create"
	MethodWorkflowStatus   = "workflow.status"
	MethodWorkflowAdvance  = "workflow.advance"
	MethodWorkflowSetTasks = "workflow.setTasks"
	MethodWorkflowContext  = "workflow.context"

	MethodAgentList = "agent.list"
)

// Error codes.
const (
	CodeParseError          = -32700
	CodeInvalidRequest      = -32600
	CodeMethodNotFound      = -32601
	CodeInvalidParams       = -32602
	CodeInternal            = -32000
	CodeNotInitialized      = -32002
	CodeGitError            = -32010
	CodeWorktreeBroken      = -32011
	CodeWorkflowDefinition  = -32012
	CodeConcurrencyConflict = -32013
	CodeNotFound            = -32014
	CodeAlreadyExists       = -32015
	CodeTimeout             = -32016
)

// Message is the envelope of every line on the wire. Requests carry an ID
// and a Method, responses an ID and either Result or Error, notifications
// only a Method.
type Message struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// IsRequest reports whether m expects a response.
func (m *Message) IsRequest() bool { return m.ID != "" && m.Method != "" }

// IsNotification reports whether m is a notification.
func (m *Message) IsNotification() bool { return m.ID == "" && m.Method != "" }

// IsResponse reports whether m answers a request.
func (m *Message) IsResponse() bool { return m.ID != "" && m.Method == "" }

// Error is the error object of a failed response.
type Error struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("bridge error %d: %s", e.Code, e.Message)
}

// newError builds an Error with the given code.
func newError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// toError maps a workspace error onto its protocol error code. Typed errors
// are checked before the sentinels they may wrap.
func toError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	out := &Error{Code: CodeInternal, Message: err.Error()}

	var (
		gitErr    *errors.GitError
		brokenErr *errors.WorktreeBrokenError
		wfErr     *errors.WorkflowDefinitionError
		protoErr  *errors.ProtocolError
	)
	switch {
	case errors.As(err, &protoErr):
		out.Code = CodeParseError
	case errors.Is(err, errors.ErrInvalidInput), errors.Is(err, errors.ErrWorkflowFinished):
		out.Code = CodeInvalidParams
	case errors.Is(err, &errors.ConcurrencyConflictError{}):
		out.Code = CodeConcurrencyConflict
	case errors.As(err, &brokenErr):
		out.Code = CodeWorktreeBroken
		out.Data = map[string]any{"worktree": brokenErr.Worktree, "reason": brokenErr.Reason}
	case errors.As(err, &wfErr):
		out.Code = CodeWorkflowDefinition
		out.Data = map[string]any{"workflow": wfErr.Workflow}
	case errors.Is(err, errors.ErrTimeout):
		out.Code = CodeTimeout
	case errors.Is(err, &errors.NotFoundError{}),
		errors.Is(err, errors.ErrSessionNotFound),
		errors.Is(err, errors.ErrWorkflowNotFound),
		errors.Is(err, errors.ErrNoActiveWorkflow),
		errors.Is(err, errors.ErrWorktreeNotFound),
		errors.Is(err, errors.ErrBranchNotFound):
		out.Code = CodeNotFound
	case errors.Is(err, &errors.AlreadyExistsError{}), errors.Is(err, errors.ErrBranchExists):
		out.Code = CodeAlreadyExists
	case errors.As(err, &gitErr):
		out.Code = CodeGitError
		if gitErr.GitOutput != "" {
			out.Data = map[string]any{"gitOutput": gitErr.GitOutput}
		}
	}
	return out
}

// InitializeParams opens a connection.
type InitializeParams struct {
	ClientVersion string `json:"clientVersion"`
	WorkspaceRoot string `json:"workspaceRoot"`
}

// InitializeResult describes the server.
type InitializeResult struct {
	ServerVersion   string       `json:"serverVersion"`
	ProtocolVersion string       `json:"protocolVersion"`
	WorkspaceRoot   string       `json:"workspaceRoot"`
	Capabilities    Capabilities `json:"capabilities"`
}

// Capabilities lists what the server supports.
type Capabilities struct {
	Methods       []string `json:"methods"`
	Notifications []string `json:"notifications"`
}

// ShutdownParams stops the server.
type ShutdownParams struct {
	Reason string `json:"reason,omitempty"`
}

// OKResult acknowledges a mutation.
type OKResult struct {
	OK bool `json:"ok"`
}
