package cmd

import (
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
)

func TestGetCategoryFromToolName(t *testing.T) {
	tests := map[string]string{
		"find_unsubscribe_candidates": "Unsubscribe Tools",
		"unsubscribe":                 "Unsubscribe Tools",
		"label_emails":                "Label Tools",
		"mark_read":                   "Label Tools",
		"trash_by_query":              "Cleanup Tools",
		"archive_emails":              "Cleanup Tools",
		"search_emails":               "Email Tools",
		"create_draft":                "Email Tools",
		"search_contacts":             "Email Tools",
		"web_research":                "Other",
	}
	for name, want := range tests {
		assert.Equal(t, want, getCategoryFromToolName(name), name)
	}
}

func TestGenerateToolMarkdown(t *testing.T) {
	tool := mcp.NewTool("archive_emails",
		mcp.WithDescription("Archive messages"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
		mcp.WithBoolean("confirmed"),
	)

	md := generateToolMarkdown(tool, true)
	assert.Contains(t, md, "### archive_emails")
	assert.Contains(t, md, "**destructive**")
	assert.Contains(t, md, "- `query` (required): Search query")
	assert.Contains(t, md, "- `confirmed` (optional): boolean parameter")
	assert.Less(t, strings.Index(md, "`confirmed`"), strings.Index(md, "`query`"), "arguments are sorted")

	assert.NotContains(t, generateToolMarkdown(mcp.NewTool("read_email"), false), "destructive")
}

func TestGenerateToolsMarkdown(t *testing.T) {
	schemas := []mcp.Tool{
		mcp.NewTool("web_research", mcp.WithDescription("Research")),
		mcp.NewTool("search_emails", mcp.WithDescription("Search")),
	}

	md := generateToolsMarkdown(schemas, map[string]bool{})
	assert.True(t, strings.HasPrefix(md, "# MCP Tools Reference"))
	assert.Contains(t, md, "- [Email Tools](#email-tools)")
	assert.Contains(t, md, "## Approval")
	assert.Less(t, strings.Index(md, "## Email Tools"), strings.Index(md, "## Other"))
}
