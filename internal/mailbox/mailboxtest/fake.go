// Package mailboxtest provides an in-memory mailbox.Provider for tests.
//
// The fake evaluates a small subset of the search syntax against its stored
// messages on every List call, so mutating a message (trashing it, removing
// INBOX) immediately changes what later searches return, the same way the
// real provider behaves.
package mailboxtest

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
)

// Provider is an in-memory mailbox.
type Provider struct {
	mu       sync.Mutex
	messages []*mailbox.MessageRecord
	labels   []mailbox.Label

	// GetErr, when set, is consulted before every GetMessage.
	GetErr func(id string) error
	// BatchErr, when set, is consulted before every BatchModify; call is 1-based.
	BatchErr func(call int, ids []string) error
	// ListErr, when set, is consulted before every List; call is 1-based.
	ListErr func(call int) error
	// SendErr fails every Send when set.
	SendErr error

	Contacts []mailbox.Contact

	listCalls  int
	getCalls   int
	batchCalls []BatchCall
	sent       []mailbox.OutgoingMessage
	drafts     []mailbox.OutgoingMessage
}

// BatchCall records one BatchModify invocation.
type BatchCall struct {
	IDs []string
	Ops mailbox.ModifyOps
}

// New returns a fake holding msgs, in provider order.
func New(msgs ...mailbox.MessageRecord) *Provider {
	p := &Provider{}
	for _, m := range msgs {
		p.Add(m)
	}
	return p
}

// Add appends a message. Messages without labels land in the inbox.
func (p *Provider) Add(m mailbox.MessageRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m.Labels == nil {
		m.Labels = []string{mailbox.LabelInbox}
	}
	m.HasBody = true
	cp := m
	p.messages = append(p.messages, &cp)
}

// Message returns a copy of the stored message.
func (p *Provider) Message(id string) (mailbox.MessageRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.messages {
		if m.ID == id {
			return *m, true
		}
	}
	return mailbox.MessageRecord{}, false
}

// HasLabel reports whether message id currently carries label.
func (p *Provider) HasLabel(id, label string) bool {
	m, ok := p.Message(id)
	return ok && slices.Contains(m.Labels, label)
}

// ListCalls returns the number of List invocations.
func (p *Provider) ListCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listCalls
}

// GetCalls returns the number of GetMessage invocations.
func (p *Provider) GetCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getCalls
}

// BatchCalls returns a copy of every BatchModify invocation.
func (p *Provider) BatchCalls() []BatchCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.batchCalls)
}

// Sent returns every message passed to Send.
func (p *Provider) Sent() []mailbox.OutgoingMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.sent)
}

// Drafts returns every message passed to CreateDraft.
func (p *Provider) Drafts() []mailbox.OutgoingMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.drafts)
}

// Count returns the number of messages currently matching query.
func (p *Provider) Count(query string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.messages {
		if Matches(query, m) {
			n++
		}
	}
	return n
}

func (p *Provider) List(ctx context.Context, query, pageToken string, pageSize int) (mailbox.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return mailbox.ListPage{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listCalls++
	if p.ListErr != nil {
		if err := p.ListErr(p.listCalls); err != nil {
			return mailbox.ListPage{}, err
		}
	}
	if pageSize <= 0 || pageSize > mailbox.MaxPageSize {
		pageSize = mailbox.MaxPageSize
	}

	var matched []mailbox.MessageRef
	for _, m := range p.messages {
		if Matches(query, m) {
			matched = append(matched, m.Ref())
		}
	}

	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return mailbox.ListPage{}, fmt.Errorf("invalid page token %q", pageToken)
		}
		offset = n
	}
	if offset > len(matched) {
		offset = len(matched)
	}
	end := min(offset+pageSize, len(matched))

	page := mailbox.ListPage{
		Refs:               matched[offset:end],
		ResultSizeEstimate: int64(len(matched)),
	}
	if end < len(matched) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (p *Provider) GetMessage(ctx context.Context, id string, format mailbox.Format) (mailbox.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return mailbox.MessageRecord{}, err
	}
	p.mu.Lock()
	p.getCalls++
	getErr := p.GetErr
	p.mu.Unlock()

	if getErr != nil {
		if err := getErr(id); err != nil {
			return mailbox.MessageRecord{}, err
		}
	}
	m, ok := p.Message(id)
	if !ok {
		return mailbox.MessageRecord{}, mailbox.NewError(mailbox.ErrNotFound, "get", id, nil)
	}
	if format == mailbox.FormatMetadata {
		m.Body = ""
		m.HasBody = false
		m.Attachments = nil
	}
	return m, nil
}

func (p *Provider) BatchModify(ctx context.Context, ids []string, ops mailbox.ModifyOps) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batchCalls = append(p.batchCalls, BatchCall{IDs: slices.Clone(ids), Ops: ops})
	if len(ids) > mailbox.BatchLimit {
		return fmt.Errorf("batch of %d exceeds limit %d", len(ids), mailbox.BatchLimit)
	}
	if p.BatchErr != nil {
		if err := p.BatchErr(len(p.batchCalls), ids); err != nil {
			return err
		}
	}
	for _, id := range ids {
		for _, m := range p.messages {
			if m.ID != id {
				continue
			}
			m.Labels = slices.DeleteFunc(m.Labels, func(l string) bool {
				return slices.Contains(ops.RemoveLabels, l)
			})
			for _, l := range ops.AddLabels {
				if !slices.Contains(m.Labels, l) {
					m.Labels = append(m.Labels, l)
				}
			}
		}
	}
	return nil
}

func (p *Provider) Send(ctx context.Context, msg mailbox.OutgoingMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SendErr != nil {
		return "", p.SendErr
	}
	p.sent = append(p.sent, msg)
	return fmt.Sprintf("sent-%d", len(p.sent)), nil
}

func (p *Provider) CreateDraft(ctx context.Context, msg mailbox.OutgoingMessage) (mailbox.Draft, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drafts = append(p.drafts, msg)
	n := len(p.drafts)
	return mailbox.Draft{ID: fmt.Sprintf("draft-%d", n), MessageID: fmt.Sprintf("draft-msg-%d", n), ThreadID: msg.ThreadID}, nil
}

func (p *Provider) ListLabels(ctx context.Context) ([]mailbox.Label, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := []mailbox.Label{
		{ID: mailbox.LabelInbox, Name: mailbox.LabelInbox, Type: "system"},
		{ID: mailbox.LabelTrash, Name: mailbox.LabelTrash, Type: "system"},
	}
	return append(out, p.labels...), nil
}

func (p *Provider) CreateLabel(ctx context.Context, name string) (mailbox.Label, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range p.labels {
		if l.Name == name {
			return mailbox.Label{}, fmt.Errorf("label %q already exists", name)
		}
	}
	l := mailbox.Label{ID: fmt.Sprintf("Label_%d", len(p.labels)+1), Name: name, Type: "user"}
	p.labels = append(p.labels, l)
	return l, nil
}

func (p *Provider) SearchContacts(ctx context.Context, query string, limit int) ([]mailbox.Contact, error) {
	q := strings.ToLower(query)
	var out []mailbox.Contact
	for _, c := range p.Contacts {
		if strings.Contains(strings.ToLower(c.DisplayName+" "+c.EmailAddress), q) {
			out = append(out, c)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (p *Provider) GetProfile(ctx context.Context) (mailbox.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return mailbox.Profile{EmailAddress: "owner@example.com", MessagesTotal: int64(len(p.messages))}, nil
}

// Matches evaluates the subset of search syntax the fake understands:
// in:inbox, in:trash, from:, to:, subject:, label:, category:, and bare words
// matched against subject, snippet and body. Other operators are ignored.
// Trashed messages only match queries containing in:trash.
func Matches(query string, m *mailbox.MessageRecord) bool {
	fields := strings.Fields(strings.ToLower(query))
	trashed := slices.Contains(m.Labels, mailbox.LabelTrash)
	if trashed && !slices.Contains(fields, "in:trash") {
		return false
	}
	for _, f := range fields {
		key, val, hasOp := strings.Cut(f, ":")
		if !hasOp {
			text := strings.ToLower(m.Headers.Subject + " " + m.Snippet + " " + m.Body)
			if !strings.Contains(text, f) {
				return false
			}
			continue
		}
		switch key {
		case "in":
			if !hasLabelFold(m.Labels, val) {
				return false
			}
		case "label":
			if !hasLabelFold(m.Labels, val) {
				return false
			}
		case "category":
			if !hasLabelFold(m.Labels, "category_"+val) {
				return false
			}
		case "from":
			if !strings.Contains(strings.ToLower(m.Headers.From), val) {
				return false
			}
		case "to":
			if !strings.Contains(strings.ToLower(m.Headers.To), val) {
				return false
			}
		case "subject":
			if !strings.Contains(strings.ToLower(m.Headers.Subject), val) {
				return false
			}
		}
	}
	return true
}

func hasLabelFold(labels []string, want string) bool {
	for _, l := range labels {
		if strings.EqualFold(l, want) {
			return true
		}
	}
	return false
}

var _ mailbox.Provider = (*Provider)(nil)
