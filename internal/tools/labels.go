package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
	"github.com/londonzade-stack/agent-seller-sub000/internal/mutation"
	"github.com/londonzade-stack/agent-seller-sub000/internal/tools/batch"
)

type emptyInput struct{}

func listLabels() Tool {
	return &definition[emptyInput]{
		name:        "list_labels",
		description: "List the mailbox's system and user labels.",
		handle: func(ctx context.Context, d *Deps, _ Session, _ emptyInput) (any, error) {
			labels, err := d.Provider.ListLabels(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"labels": labels, "count": len(labels)}, nil
		},
	}
}

type createLabelInput struct {
	Name string `json:"name"`
}

func (in *createLabelInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func createLabel() Tool {
	return &definition[createLabelInput]{
		name:        "create_label",
		description: "Create a user label.",
		options: []mcp.ToolOption{
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Label name; use '/' to nest (e.g. 'Receipts/2024')"),
			),
		},
		handle: func(ctx context.Context, d *Deps, _ Session, in createLabelInput) (any, error) {
			return d.Provider.CreateLabel(ctx, in.Name)
		},
	}
}

type labelInput struct {
	MessageIDs batch.IDs `json:"messageIds"`
	Add        []string  `json:"add,omitempty"`
	Remove     []string  `json:"remove,omitempty"`
}

// UnmarshalJSON accepts a string or an array for add and remove, naming the
// offending parameter on error.
func (in *labelInput) UnmarshalJSON(data []byte) error {
	var raw struct {
		MessageIDs batch.IDs `json:"messageIds"`
		Add        any       `json:"add"`
		Remove     any       `json:"remove"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	in.MessageIDs = raw.MessageIDs
	var err error
	if raw.Add != nil {
		if in.Add, err = batch.ParseStringOrArray(raw.Add, "add"); err != nil {
			return err
		}
	}
	if raw.Remove != nil {
		if in.Remove, err = batch.ParseStringOrArray(raw.Remove, "remove"); err != nil {
			return err
		}
	}
	return nil
}

func (in *labelInput) Validate() error {
	if len(in.MessageIDs) == 0 {
		return errors.New("messageIds is required")
	}
	if len(in.Add) == 0 && len(in.Remove) == 0 {
		return errors.New("at least one of add or remove is required")
	}
	return nil
}

// resolveLabels maps label names or ids onto label ids, case-insensitively.
func resolveLabels(ctx context.Context, p mailbox.Provider, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	labels, err := p.ListLabels(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(names))
	for _, name := range names {
		id := ""
		for _, l := range labels {
			if strings.EqualFold(l.ID, name) || strings.EqualFold(l.Name, name) {
				id = l.ID
				break
			}
		}
		if id == "" {
			return nil, fmt.Errorf("unknown label %q", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func labelEmails() Tool {
	return &definition[labelInput]{
		name:        "label_emails",
		description: "Add and/or remove labels on messages. Labels may be given by name or ID.",
		options: []mcp.ToolOption{
			mcp.WithString("messageIds",
				mcp.Required(),
				mcp.Description("Message ID (string) or array of message IDs"),
			),
			mcp.WithString("add",
				mcp.Description("Label (string) or array of labels to add"),
			),
			mcp.WithString("remove",
				mcp.Description("Label (string) or array of labels to remove"),
			),
		},
		handle: func(ctx context.Context, d *Deps, _ Session, in labelInput) (any, error) {
			add, err := resolveLabels(ctx, d.Provider, in.Add)
			if err != nil {
				return nil, err
			}
			remove, err := resolveLabels(ctx, d.Provider, in.Remove)
			if err != nil {
				return nil, err
			}
			return reportResult(d.Mutator.ApplyLabelChange(ctx, in.MessageIDs, add, remove), "labeledCount")
		},
	}
}

type markReadInput struct {
	MessageIDs batch.IDs `json:"messageIds"`
	Unread     bool      `json:"unread,omitempty"`
}

func (in *markReadInput) Validate() error {
	if len(in.MessageIDs) == 0 {
		return errors.New("messageIds is required")
	}
	return nil
}

func markRead() Tool {
	return &definition[markReadInput]{
		name:        "mark_read",
		description: "Mark messages as read, or as unread when unread is true.",
		options: []mcp.ToolOption{
			mcp.WithString("messageIds",
				mcp.Required(),
				mcp.Description("Message ID (string) or array of message IDs"),
			),
			mcp.WithBoolean("unread",
				mcp.Description("Mark as unread instead of read"),
			),
		},
		handle: func(ctx context.Context, d *Deps, _ Session, in markReadInput) (any, error) {
			if in.Unread {
				return reportResult(d.Mutator.MarkUnread(ctx, in.MessageIDs), "updatedCount")
			}
			return reportResult(d.Mutator.MarkRead(ctx, in.MessageIDs), "updatedCount")
		},
	}
}

// countReport is the tool data of an id-based mutation.
type countReport map[string]any

// Incomplete reports whether any id failed.
func (r countReport) Incomplete() bool {
	failed, _ := r["failed"].(int)
	return failed > 0
}

// reportResult turns a mutation report into tool data. A connection-level
// failure, or a batch where nothing succeeded, is an error that still
// carries the counts.
func reportResult(r mutation.Report, countKey string) (any, error) {
	counts := countReport{
		countKey:    r.Succeeded,
		"attempted": r.Attempted,
		"failed":    r.Failed,
		"errors":    r.Errors,
	}
	if err := r.Err(); err != nil {
		return nil, withReport(counts, err)
	}
	if r.Succeeded == 0 && len(r.Errors) > 0 {
		return nil, withReport(counts, fmt.Errorf("%s failed for all %d messages: %s", r.Operation, r.Failed, r.Errors[0].Error))
	}
	return counts, nil
}
