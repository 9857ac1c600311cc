package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
	"github.com/londonzade-stack/agent-seller-sub000/internal/tools"
)

func callTool(t *testing.T, h mcpserver.ToolHandlerFunc, ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, tools.Result) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	out, err := h(ctx, req)
	require.NoError(t, err)
	require.Len(t, out.Content, 1)
	text, ok := out.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var res tools.Result
	if err := json.Unmarshal([]byte(text.Text), &res); err != nil {
		res.Error = text.Text
	}
	return out, res
}

func TestRegisterTools_AddsCatalog(t *testing.T) {
	env := newTestEnv(t, nil)
	s := mcpserver.NewMCPServer("mailagent", "test", mcpserver.WithToolCapabilities(true))
	RegisterTools(s, env.sc, StaticConnection(env.connID))

	registered := s.ListTools()
	assert.Len(t, registered, len(tools.Catalog()))
	for _, tool := range tools.Catalog() {
		assert.Contains(t, registered, tool.Name())
	}
}

func TestToolHandler_ApprovalThenConfirm(t *testing.T) {
	env := newTestEnv(t, nil)
	h := toolHandler(env.sc, StaticConnection(env.connID), "archive_emails")
	ctx := context.Background()

	out, res := callTool(t, h, ctx, "archive_emails", map[string]any{"messageIds": []any{"m1"}})
	assert.False(t, out.IsError, "approval refusal is not a tool error")
	assert.True(t, res.ApprovalRequired)
	assert.True(t, env.fake.HasLabel("m1", mailbox.LabelInbox))

	out, res = callTool(t, h, ctx, "archive_emails", map[string]any{"messageIds": []any{"m1"}, "confirmed": true})
	assert.False(t, out.IsError)
	assert.True(t, res.Success)
	assert.False(t, env.fake.HasLabel("m1", mailbox.LabelInbox))
}

func TestToolHandler_FailureIsError(t *testing.T) {
	env := newTestEnv(t, nil)
	h := toolHandler(env.sc, StaticConnection(env.connID), "read_email")

	out, res := callTool(t, h, context.Background(), "read_email", map[string]any{"messageId": "nope"})
	assert.True(t, out.IsError)
	assert.False(t, res.Success)
	assert.Equal(t, 1, env.sc.ActiveSessions(), "non-fatal errors keep the session")
}

func TestToolHandler_FatalErrorDropsSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fake.GetErr = func(string) error {
		return mailbox.NewError(mailbox.ErrAuthExpired, "get", "", nil)
	}
	h := toolHandler(env.sc, StaticConnection(env.connID), "read_email")

	out, _ := callTool(t, h, context.Background(), "read_email", map[string]any{"messageId": "m1"})
	assert.True(t, out.IsError)
	assert.Zero(t, env.sc.ActiveSessions())
}

func TestToolHandler_ConnectionFromContext(t *testing.T) {
	env := newTestEnv(t, nil)
	h := toolHandler(env.sc, ConnectionFromContext, "search_emails")

	out, _ := callTool(t, h, context.Background(), "search_emails", map[string]any{"query": "sale"})
	assert.True(t, out.IsError, "no connection in context")

	out, res := callTool(t, h, WithConnectionID(context.Background(), env.connID), "search_emails", map[string]any{"query": "sale"})
	assert.False(t, out.IsError)
	assert.True(t, res.Success)
}

func TestToolResult_IsError(t *testing.T) {
	tests := []struct {
		name string
		res  tools.Result
		want bool
	}{
		{name: "success", res: tools.Result{Success: true}, want: false},
		{name: "failure", res: tools.Result{Error: "boom"}, want: true},
		{name: "approval", res: tools.Result{Error: tools.ErrApprovalRequired, ApprovalRequired: true}, want: false},
		{name: "upgrade", res: tools.Result{Error: "upgrade required", UpgradeRequired: true}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toolResult(tt.res).IsError)
		})
	}
}

func TestHTTPServer_RequiresAPIKey(t *testing.T) {
	env := newTestEnv(t, nil)
	s := mcpserver.NewMCPServer("mailagent", "test", mcpserver.WithToolCapabilities(true))
	RegisterTools(s, env.sc, ConnectionFromContext)
	srv := httptest.NewServer(NewHTTPServer(s, env.sc, HTTPConfig{APIKey: "secret"}).Handler())
	defer srv.Close()

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`
	resp, err := http.Post(srv.URL+"/mcp", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set(ConnectionHeader, env.connID)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	httpSrv := NewHTTPServer(mcpserver.NewMCPServer("mailagent", "test"), env.sc, HTTPConfig{})
	srv := httptest.NewServer(httpSrv.Handler())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz", "/healthz/detailed"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	var ready HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ready))
	resp.Body.Close()
	assert.Equal(t, healthStatusOK, ready.Checks["store"])

	require.NoError(t, httpSrv.Shutdown(context.Background()))
	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
