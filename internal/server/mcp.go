package server

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/londonzade-stack/agent-seller-sub000/internal/logging"
	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
	"github.com/londonzade-stack/agent-seller-sub000/internal/tools"
)

// ConnectionResolver picks the mailbox connection a tool call acts on.
type ConnectionResolver func(ctx context.Context) (string, error)

type connectionKey struct{}

// WithConnectionID returns ctx carrying a connection id.
func WithConnectionID(ctx context.Context, connectionID string) context.Context {
	return context.WithValue(ctx, connectionKey{}, connectionID)
}

// ConnectionFromContext resolves the id stored by WithConnectionID.
func ConnectionFromContext(ctx context.Context) (string, error) {
	id, _ := ctx.Value(connectionKey{}).(string)
	if id == "" {
		return "", mailbox.NewError(mailbox.ErrNoConnection, "resolve", "", nil)
	}
	return id, nil
}

// StaticConnection always resolves to connectionID. Used by the stdio
// transport, which serves a single mailbox.
func StaticConnection(connectionID string) ConnectionResolver {
	return func(context.Context) (string, error) {
		return connectionID, nil
	}
}

// RegisterTools adds every catalog tool to s. Each call is dispatched through
// the session registry of the resolved connection.
func RegisterTools(s *mcpserver.MCPServer, sc *ServerContext, resolve ConnectionResolver) {
	for _, t := range tools.Catalog() {
		s.AddTool(t.Schema(), toolHandler(sc, resolve, t.Name()))
	}
}

func toolHandler(sc *ServerContext, resolve ConnectionResolver, name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		connectionID, err := resolve(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		session, err := sc.Session(ctx, connectionID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
		}

		res, err := session.Registry.Invoke(ctx, session.Session, name, args)
		if err != nil {
			// Fatal: the connection needs attention before it can serve again.
			sc.Drop(connectionID)
			sc.logger.Warn("fatal tool error",
				logging.Connection(connectionID),
				logging.Tool(name),
				logging.Err(err),
			)
			return mcp.NewToolResultError(err.Error()), nil
		}
		return toolResult(res), nil
	}
}

// toolResult renders res as a text block. Approval and upgrade refusals are
// regular results so clients show them to the user instead of as failures.
func toolResult(res tools.Result) *mcp.CallToolResult {
	out := mcp.NewToolResultText(res.JSON())
	out.IsError = !res.Success && !res.ApprovalRequired && !res.UpgradeRequired
	return out
}
