package mailbox

// System label IDs understood by every provider implementation.
const (
	LabelInbox  = "INBOX"
	LabelTrash  = "TRASH"
	LabelUnread = "UNREAD"
	LabelSpam   = "SPAM"
)

// Fetch formats for GetMessage.
type Format string

const (
	// FormatMetadata returns headers, snippet and labels only.
	FormatMetadata Format = "metadata"
	// FormatFull additionally returns the decoded body and attachment metadata.
	FormatFull Format = "full"
)

// MessageRef is the minimal handle returned by a search.
type MessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

// Headers holds the subset of message headers the agent reasons about.
type Headers struct {
	From    string `json:"from"`
	To      string `json:"to,omitempty"`
	Cc      string `json:"cc,omitempty"`
	Subject string `json:"subject"`
	Date    string `json:"date,omitempty"`

	// List-Unsubscribe and List-Unsubscribe-Post, used by the unsubscribe resolver.
	ListUnsubscribe     string `json:"-"`
	ListUnsubscribePost string `json:"-"`

	// Threading headers, used when replying.
	MessageID  string `json:"-"`
	References string `json:"-"`
}

// Attachment describes an attachment without its content.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// MessageRecord is a read projection of one message. Body is only populated
// by a full fetch; HasBody distinguishes an empty body from a metadata fetch.
type MessageRecord struct {
	ID          string       `json:"id"`
	ThreadID    string       `json:"threadId"`
	Headers     Headers      `json:"headers"`
	Snippet     string       `json:"snippet,omitempty"`
	Body        string       `json:"body,omitempty"`
	HasBody     bool         `json:"-"`
	Labels      []string     `json:"labels,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Ref returns the message handle for the record.
func (r MessageRecord) Ref() MessageRef {
	return MessageRef{ID: r.ID, ThreadID: r.ThreadID}
}

// ListPage is one page of search results.
type ListPage struct {
	Refs          []MessageRef
	NextPageToken string
	// ResultSizeEstimate is the provider's estimate of the total match count.
	ResultSizeEstimate int64
}

// ModifyOps is a label change applied to a set of messages in one call.
type ModifyOps struct {
	AddLabels    []string
	RemoveLabels []string
}

// IsEmpty reports whether the change would be a no-op.
func (o ModifyOps) IsEmpty() bool {
	return len(o.AddLabels) == 0 && len(o.RemoveLabels) == 0
}

// BodyFormat selects how an outgoing body is rendered.
type BodyFormat string

const (
	BodyText     BodyFormat = "text"
	BodyHTML     BodyFormat = "html"
	BodyMarkdown BodyFormat = "markdown"
)

// OutgoingMessage is a message to send or save as a draft.
type OutgoingMessage struct {
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string
	Format  BodyFormat

	// ThreadID and InReplyTo are set for replies.
	ThreadID   string
	InReplyTo  string
	References string
}

// Draft is a saved, unsent message.
type Draft struct {
	ID        string `json:"id"`
	MessageID string `json:"messageId"`
	ThreadID  string `json:"threadId,omitempty"`
}

// Label is a mailbox label.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // "system" or "user"
}

// Contact is a simplified address book entry.
type Contact struct {
	DisplayName  string `json:"displayName,omitempty"`
	EmailAddress string `json:"emailAddress"`
}

// Profile identifies the mailbox owner.
type Profile struct {
	EmailAddress  string `json:"emailAddress"`
	MessagesTotal int64  `json:"messagesTotal"`
}
