package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/londonzade-stack/agent-seller-sub000/internal/unsubscribe"
)

type candidatesInput struct {
	Query   string `json:"query,omitempty"`
	MaxScan int    `json:"maxScan,omitempty"`
}

func findUnsubscribeCandidates() Tool {
	return &definition[candidatesInput]{
		name:        "find_unsubscribe_candidates",
		description: "Find mailing lists the user could unsubscribe from, one entry per sender domain.",
		options: []mcp.ToolOption{
			mcp.WithString("query",
				mcp.Description(fmt.Sprintf("Gmail query selecting messages to inspect (default %q)", unsubscribe.DefaultQuery)),
			),
			mcp.WithNumber("maxScan",
				mcp.Description(fmt.Sprintf("Maximum number of messages to inspect (default %d)", unsubscribe.DefaultMaxScan)),
			),
		},
		handle: func(ctx context.Context, d *Deps, _ Session, in candidatesInput) (any, error) {
			candidates, err := d.Unsubscriber.FindCandidates(ctx, in.Query, in.MaxScan)
			if err != nil {
				return nil, err
			}
			if candidates == nil {
				candidates = []unsubscribe.Candidate{}
			}
			return map[string]any{"candidates": candidates, "count": len(candidates)}, nil
		},
	}
}

func unsubscribeEmails() Tool {
	return &definition[idsInput]{
		name:        "unsubscribe",
		description: "Unsubscribe from the mailing lists of the given messages. One-click unsubscribes are performed; link and mailto methods are returned for the user to complete. Requires explicit user approval.",
		destructive: true,
		options:     []mcp.ToolOption{messageIDsOption},
		describe:    describeIDs("Unsubscribe from the senders of"),
		handle: func(ctx context.Context, d *Deps, _ Session, in idsInput) (any, error) {
			out := d.Unsubscriber.BulkUnsubscribe(ctx, in.MessageIDs)
			return out, nil
		},
	}
}
