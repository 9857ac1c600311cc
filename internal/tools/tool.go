package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Tool is one catalog entry. The set of implementations is closed: tools
// are only built by this package.
type Tool interface {
	Name() string
	Description() string
	Destructive() bool
	Entitlement() Entitlement
	// Schema is the MCP tool declaration, including the input JSON schema.
	Schema() mcp.Tool

	prepare(raw json.RawMessage) (call, error)
}

// call is a decoded, validated invocation ready to run.
type call interface {
	confirmed() bool
	// canonical is a stable encoding of the decoded input.
	canonical() []byte
	approval() (description string, details []string)
	run(ctx context.Context, d *Deps, s Session) (any, error)
}

// Confirmation is embedded in the input of every destructive tool. Absent
// and false both mean the human has not approved the action.
type Confirmation struct {
	Confirmed bool `json:"confirmed,omitempty"`
}

func (c Confirmation) isConfirmed() bool { return c.Confirmed }

type confirmable interface{ isConfirmed() bool }

type validator interface{ Validate() error }

// definition binds a typed input to its handler.
type definition[In any] struct {
	name        string
	description string
	destructive bool
	entitlement Entitlement
	options     []mcp.ToolOption
	// describe renders the approval prompt for a destructive call.
	describe func(In) (string, []string)
	handle   func(ctx context.Context, d *Deps, s Session, in In) (any, error)
}

func (t *definition[In]) Name() string             { return t.name }
func (t *definition[In]) Description() string      { return t.description }
func (t *definition[In]) Destructive() bool        { return t.destructive }
func (t *definition[In]) Entitlement() Entitlement { return t.entitlement }

func (t *definition[In]) Schema() mcp.Tool {
	opts := append([]mcp.ToolOption{mcp.WithDescription(t.description)}, t.options...)
	if t.destructive {
		opts = append(opts,
			mcp.WithBoolean("confirmed",
				mcp.Description("Set to true only after the user has explicitly approved this exact action. Omit on the first call."),
			),
			mcp.WithDestructiveHintAnnotation(true),
		)
	} else {
		opts = append(opts, mcp.WithDestructiveHintAnnotation(false))
	}
	return mcp.NewTool(t.name, opts...)
}

func (t *definition[In]) prepare(raw json.RawMessage) (call, error) {
	var in In
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &in); err != nil {
			return nil, fmt.Errorf("invalid input for %s: %w", t.name, err)
		}
	}
	if v, ok := any(&in).(validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("invalid input for %s: %w", t.name, err)
		}
	}
	return &boundCall[In]{tool: t, in: in}, nil
}

type boundCall[In any] struct {
	tool *definition[In]
	in   In
}

func (c *boundCall[In]) confirmed() bool {
	if cf, ok := any(c.in).(confirmable); ok {
		return cf.isConfirmed()
	}
	return false
}

func (c *boundCall[In]) canonical() []byte {
	b, err := json.Marshal(c.in)
	if err != nil {
		return nil
	}
	return b
}

func (c *boundCall[In]) approval() (string, []string) {
	if c.tool.describe == nil {
		return c.tool.description, nil
	}
	return c.tool.describe(c.in)
}

func (c *boundCall[In]) run(ctx context.Context, d *Deps, s Session) (any, error) {
	return c.tool.handle(ctx, d, s, c.in)
}
