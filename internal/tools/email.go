package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
	"github.com/londonzade-stack/agent-seller-sub000/internal/scan"
)

const defaultContactLimit = 10

type searchInput struct {
	Query      string `json:"query"`
	MaxResults int    `json:"maxResults,omitempty"`
}

func (in *searchInput) Validate() error {
	if strings.TrimSpace(in.Query) == "" {
		return errors.New("query is required")
	}
	return nil
}

type searchOutput struct {
	Messages []mailbox.MessageRecord `json:"messages"`
	Stats    scan.Stats              `json:"stats"`
}

func searchEmails() Tool {
	return &definition[searchInput]{
		name:        "search_emails",
		description: "Search the mailbox with a Gmail query and return matching messages. Small result sets include bodies; larger ones return headers and snippets only.",
		options: []mcp.ToolOption{
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Gmail search query (e.g. 'from:billing@example.com newer_than:30d')"),
			),
			mcp.WithNumber("maxResults",
				mcp.Description(fmt.Sprintf("Maximum number of messages to return (default %d, max %d)", scan.DefaultMaxResults, scan.MaxScanResults)),
			),
		},
		handle: func(ctx context.Context, d *Deps, _ Session, in searchInput) (any, error) {
			res, err := d.Scanner.Scan(ctx, in.Query, in.MaxResults)
			if err != nil {
				return nil, err
			}
			msgs := res.Records
			if msgs == nil {
				msgs = []mailbox.MessageRecord{}
			}
			return searchOutput{Messages: msgs, Stats: res.Stats}, nil
		},
	}
}

type readInput struct {
	MessageID string `json:"messageId"`
}

func (in *readInput) Validate() error {
	if in.MessageID == "" {
		return errors.New("messageId is required")
	}
	return nil
}

func readEmail() Tool {
	return &definition[readInput]{
		name:        "read_email",
		description: "Read one message in full, including its body and attachment list.",
		options: []mcp.ToolOption{
			mcp.WithString("messageId",
				mcp.Required(),
				mcp.Description("The ID of the message to read"),
			),
		},
		handle: func(ctx context.Context, d *Deps, _ Session, in readInput) (any, error) {
			return d.Scanner.Get(ctx, in.MessageID)
		},
	}
}

type sendInput struct {
	To      Addresses          `json:"to"`
	Cc      Addresses          `json:"cc,omitempty"`
	Bcc     Addresses          `json:"bcc,omitempty"`
	Subject string             `json:"subject"`
	Body    string             `json:"body"`
	Format  mailbox.BodyFormat `json:"format,omitempty"`
	Confirmation
}

func (in *sendInput) Validate() error {
	if len(in.To) == 0 {
		return errors.New("to is required")
	}
	if in.Subject == "" {
		return errors.New("subject is required")
	}
	if in.Body == "" {
		return errors.New("body is required")
	}
	return validFormat(in.Format)
}

func (in sendInput) message() mailbox.OutgoingMessage {
	return mailbox.OutgoingMessage{
		To:      in.To,
		Cc:      in.Cc,
		Bcc:     in.Bcc,
		Subject: in.Subject,
		Body:    in.Body,
		Format:  in.Format,
	}
}

var formatOption = mcp.WithString("format",
	mcp.Description("Body format: text (default), html or markdown"),
)

func sendEmail() Tool {
	return &definition[sendInput]{
		name:        "send_email",
		description: "Send a new email. Requires explicit user approval.",
		destructive: true,
		options: []mcp.ToolOption{
			mcp.WithString("to",
				mcp.Required(),
				mcp.Description("Recipient address(es), comma-separated or an array"),
			),
			mcp.WithString("cc",
				mcp.Description("CC address(es), comma-separated or an array"),
			),
			mcp.WithString("bcc",
				mcp.Description("BCC address(es), comma-separated or an array"),
			),
			mcp.WithString("subject",
				mcp.Required(),
				mcp.Description("Email subject"),
			),
			mcp.WithString("body",
				mcp.Required(),
				mcp.Description("Email body"),
			),
			formatOption,
		},
		describe: func(in sendInput) (string, []string) {
			details := []string{"To: " + strings.Join(in.To, ", ")}
			if len(in.Cc) > 0 {
				details = append(details, "Cc: "+strings.Join(in.Cc, ", "))
			}
			if len(in.Bcc) > 0 {
				details = append(details, "Bcc: "+strings.Join(in.Bcc, ", "))
			}
			details = append(details, "Subject: "+in.Subject, "Body: "+preview(in.Body, 200))
			return fmt.Sprintf("Send an email to %s", strings.Join(in.To, ", ")), details
		},
		handle: func(ctx context.Context, d *Deps, _ Session, in sendInput) (any, error) {
			id, err := d.Provider.Send(ctx, in.message())
			if err != nil {
				return nil, err
			}
			return map[string]any{"messageId": id, "sent": true}, nil
		},
	}
}

type replyInput struct {
	MessageID string             `json:"messageId"`
	Body      string             `json:"body"`
	Format    mailbox.BodyFormat `json:"format,omitempty"`
	Confirmation
}

func (in *replyInput) Validate() error {
	if in.MessageID == "" {
		return errors.New("messageId is required")
	}
	if in.Body == "" {
		return errors.New("body is required")
	}
	return validFormat(in.Format)
}

// replyTo builds a reply to orig that threads under it.
func replyTo(orig mailbox.MessageRecord, body string, format mailbox.BodyFormat) mailbox.OutgoingMessage {
	subject := orig.Headers.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	return mailbox.OutgoingMessage{
		To:         []string{orig.Headers.From},
		Subject:    subject,
		Body:       body,
		Format:     format,
		ThreadID:   orig.ThreadID,
		InReplyTo:  orig.Headers.MessageID,
		References: strings.TrimSpace(orig.Headers.References + " " + orig.Headers.MessageID),
	}
}

func replyToEmail() Tool {
	return &definition[replyInput]{
		name:        "reply_to_email",
		description: "Reply to the sender of a message, in the same thread. Requires explicit user approval.",
		destructive: true,
		options: []mcp.ToolOption{
			mcp.WithString("messageId",
				mcp.Required(),
				mcp.Description("The ID of the message to reply to"),
			),
			mcp.WithString("body",
				mcp.Required(),
				mcp.Description("Reply body"),
			),
			formatOption,
		},
		describe: func(in replyInput) (string, []string) {
			return fmt.Sprintf("Reply to message %s", in.MessageID), []string{"Body: " + preview(in.Body, 200)}
		},
		handle: func(ctx context.Context, d *Deps, _ Session, in replyInput) (any, error) {
			orig, err := d.Provider.GetMessage(ctx, in.MessageID, mailbox.FormatMetadata)
			if err != nil {
				return nil, err
			}
			if orig.Headers.From == "" {
				return nil, fmt.Errorf("message %s has no sender to reply to", in.MessageID)
			}
			msg := replyTo(orig, in.Body, in.Format)
			id, err := d.Provider.Send(ctx, msg)
			if err != nil {
				return nil, err
			}
			return map[string]any{"messageId": id, "threadId": msg.ThreadID, "to": msg.To[0]}, nil
		},
	}
}

type draftInput struct {
	To       Addresses          `json:"to"`
	Cc       Addresses          `json:"cc,omitempty"`
	Subject  string             `json:"subject"`
	Body     string             `json:"body"`
	Format   mailbox.BodyFormat `json:"format,omitempty"`
	ThreadID string             `json:"threadId,omitempty"`
}

func (in *draftInput) Validate() error {
	if len(in.To) == 0 {
		return errors.New("to is required")
	}
	return validFormat(in.Format)
}

func createDraft() Tool {
	return &definition[draftInput]{
		name:        "create_draft",
		description: "Save a draft for the user to review and send later.",
		options: []mcp.ToolOption{
			mcp.WithString("to",
				mcp.Required(),
				mcp.Description("Recipient address(es), comma-separated or an array"),
			),
			mcp.WithString("cc",
				mcp.Description("CC address(es), comma-separated or an array"),
			),
			mcp.WithString("subject",
				mcp.Description("Draft subject"),
			),
			mcp.WithString("body",
				mcp.Description("Draft body"),
			),
			formatOption,
			mcp.WithString("threadId",
				mcp.Description("Thread to attach the draft to"),
			),
		},
		handle: func(ctx context.Context, d *Deps, _ Session, in draftInput) (any, error) {
			return d.Provider.CreateDraft(ctx, mailbox.OutgoingMessage{
				To:       in.To,
				Cc:       in.Cc,
				Subject:  in.Subject,
				Body:     in.Body,
				Format:   in.Format,
				ThreadID: in.ThreadID,
			})
		},
	}
}

type contactsInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (in *contactsInput) Validate() error {
	if strings.TrimSpace(in.Query) == "" {
		return errors.New("query is required")
	}
	return nil
}

func searchContacts() Tool {
	return &definition[contactsInput]{
		name:        "search_contacts",
		description: "Look up contacts by name or email address.",
		options: []mcp.ToolOption{
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Name or email fragment to search for"),
			),
			mcp.WithNumber("limit",
				mcp.Description(fmt.Sprintf("Maximum number of contacts to return (default %d)", defaultContactLimit)),
			),
		},
		handle: func(ctx context.Context, d *Deps, _ Session, in contactsInput) (any, error) {
			limit := in.Limit
			if limit <= 0 {
				limit = defaultContactLimit
			}
			contacts, err := d.Provider.SearchContacts(ctx, in.Query, limit)
			if err != nil {
				return nil, err
			}
			if contacts == nil {
				contacts = []mailbox.Contact{}
			}
			return map[string]any{"contacts": contacts, "count": len(contacts)}, nil
		},
	}
}
