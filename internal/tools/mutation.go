package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/londonzade-stack/agent-seller-sub000/internal/mutation"
	"github.com/londonzade-stack/agent-seller-sub000/internal/tools/batch"
)

type idsInput struct {
	MessageIDs batch.IDs `json:"messageIds"`
	Confirmation
}

func (in *idsInput) Validate() error {
	if len(in.MessageIDs) == 0 {
		return errors.New("messageIds is required")
	}
	return nil
}

var messageIDsOption = mcp.WithString("messageIds",
	mcp.Required(),
	mcp.Description("Message ID (string) or array of message IDs"),
)

func describeIDs(verb string) func(idsInput) (string, []string) {
	return func(in idsInput) (string, []string) {
		return fmt.Sprintf("%s %d message(s)", verb, len(in.MessageIDs)),
			[]string{"Messages: " + idSummary(in.MessageIDs)}
	}
}

func archiveEmails() Tool {
	return &definition[idsInput]{
		name:        "archive_emails",
		description: "Archive messages by removing them from the inbox. Requires explicit user approval.",
		destructive: true,
		options:     []mcp.ToolOption{messageIDsOption},
		describe:    describeIDs("Archive"),
		handle: func(ctx context.Context, d *Deps, _ Session, in idsInput) (any, error) {
			return reportResult(d.Mutator.Archive(ctx, in.MessageIDs), "archivedCount")
		},
	}
}

func trashEmails() Tool {
	return &definition[idsInput]{
		name:        "trash_emails",
		description: "Move messages to the trash. Requires explicit user approval.",
		destructive: true,
		options:     []mcp.ToolOption{messageIDsOption},
		describe:    describeIDs("Move to trash"),
		handle: func(ctx context.Context, d *Deps, _ Session, in idsInput) (any, error) {
			return reportResult(d.Mutator.Trash(ctx, in.MessageIDs), "trashedCount")
		},
	}
}

func untrashEmails() Tool {
	return &definition[idsInput]{
		name:        "untrash_emails",
		description: "Restore messages from the trash to the inbox.",
		options:     []mcp.ToolOption{messageIDsOption},
		handle: func(ctx context.Context, d *Deps, _ Session, in idsInput) (any, error) {
			return reportResult(d.Mutator.Untrash(ctx, in.MessageIDs), "restoredCount")
		},
	}
}

type trashQueryInput struct {
	Query      string `json:"query"`
	MaxToTrash int    `json:"maxToTrash,omitempty"`
	Confirmation
}

func (in *trashQueryInput) Validate() error {
	if strings.TrimSpace(in.Query) == "" {
		return errors.New("query is required")
	}
	if in.MaxToTrash < 0 {
		return errors.New("maxToTrash must not be negative")
	}
	return nil
}

func trashByQuery() Tool {
	return &definition[trashQueryInput]{
		name:        "trash_by_query",
		description: "Move every message matching a Gmail query to the trash, up to maxToTrash. Requires explicit user approval.",
		destructive: true,
		options: []mcp.ToolOption{
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Gmail search query selecting the messages to trash"),
			),
			mcp.WithNumber("maxToTrash",
				mcp.Description(fmt.Sprintf("Maximum number of messages to trash (default %d, max %d)", mutation.DefaultMaxToTrash, mutation.MaxToTrashCeiling)),
			),
		},
		describe: func(in trashQueryInput) (string, []string) {
			limit := in.MaxToTrash
			if limit <= 0 {
				limit = mutation.DefaultMaxToTrash
			}
			return fmt.Sprintf("Move up to %d messages matching %q to the trash", limit, in.Query),
				[]string{"Query: " + in.Query}
		},
		handle: func(ctx context.Context, d *Deps, _ Session, in trashQueryInput) (any, error) {
			report, err := d.Mutator.TrashByQuery(ctx, in.Query, in.MaxToTrash)
			if err != nil {
				return nil, withReport(report, err)
			}
			return report, nil
		},
	}
}
