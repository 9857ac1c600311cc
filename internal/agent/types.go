package agent

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/londonzade-stack/agent-seller-sub000/internal/tools"
)

var (
	// ErrStepLimit aborts a turn that used its step budget.
	ErrStepLimit = errors.New("agent step limit reached")
	// ErrTurnTimeout aborts a turn that ran past its wall-clock budget.
	ErrTurnTimeout = errors.New("agent turn timed out")
)

// Role of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one transcript entry. Assistant messages may carry tool calls;
// tool messages answer exactly one call.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCallState tracks a call through one step.
type ToolCallState string

const (
	CallPending   ToolCallState = "pending"
	CallExecuting ToolCallState = "executing"
	CallDone      ToolCallState = "done"
	CallError     ToolCallState = "error"
)

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input,omitempty"`
	State  ToolCallState   `json:"state,omitempty"`
	Output string          `json:"output,omitempty"`
}

// Request is what the model sees on each step.
type Request struct {
	System     string
	Transcript []Message
	Tools      []mcp.Tool
}

// Reply is the model's next message. No tool calls ends the turn.
type Reply struct {
	Text      string
	ToolCalls []ToolCall
}

// Model produces the next assistant message.
type Model interface {
	Next(ctx context.Context, req Request) (Reply, error)
}

// Toolbox dispatches tool calls. *tools.Registry implements it.
type Toolbox interface {
	Schemas() []mcp.Tool
	Invoke(ctx context.Context, s tools.Session, name string, input json.RawMessage) (tools.Result, error)
}

// State is the orchestrator's position in a turn.
type State string

const (
	StateIdle          State = "idle"
	StateThinking      State = "thinking"
	StateToolExecuting State = "tool_executing"
	StateDone          State = "done"
	StateAborted       State = "aborted"
	StateCanceled      State = "canceled"
)

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted || s == StateCanceled
}

// Step is one think/act round.
type Step struct {
	Index     int        `json:"index"`
	ToolCalls []ToolCall `json:"toolCalls"`
}

// Turn is the record of one Run. Transcript includes the prior transcript,
// the user message and everything the turn appended.
type Turn struct {
	ID         string    `json:"id"`
	Steps      []Step    `json:"steps"`
	Outcome    State     `json:"outcome"`
	Final      string    `json:"final,omitempty"`
	Transcript []Message `json:"transcript"`
}

// Observer receives progress as a turn runs. OnToolCall may be called from
// several goroutines at once.
type Observer interface {
	OnState(turnID string, s State)
	OnToolCall(turnID string, step int, call ToolCall)
}
