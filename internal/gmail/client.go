package gmail

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
	"google.golang.org/api/people/v1"

	"github.com/londonzade-stack/agent-seller-sub000/internal/instrumentation"
	"github.com/londonzade-stack/agent-seller-sub000/internal/logging"
	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
)

// The user ID "me" addresses the authenticated mailbox.
const me = "me"

const operationSendAs = "send_as"

// Gmail quota units per method. The per-user limit is 250 units/s; the
// limiter runs at 80% of it.
// https://developers.google.com/gmail/api/reference/quota
const (
	quotaUnitsMessagesList   = 5
	quotaUnitsMessagesGet    = 5
	quotaUnitsBatchModify    = 50
	quotaUnitsMessagesSend   = 100
	quotaUnitsDraftsCreate   = 10
	quotaUnitsLabelsList     = 1
	quotaUnitsLabelsCreate   = 5
	quotaUnitsGetProfile     = 1
	quotaUnitsSendAsList     = 1
	quotaUnitsPeopleSearch   = 1
	quotaUnitsPerUserPerSec  = 250
	rateLimitPerSecond       = rate.Limit(quotaUnitsPerUserPerSec * 0.8)
	rateLimitBurst           = quotaUnitsMessagesSend
	defaultMaxTries          = 5
	defaultInitialBackoff    = 500 * time.Millisecond
	defaultMaxBackoff        = 30 * time.Second
	defaultCallTimeout       = 15 * time.Second
	defaultContactSearchSize = 10
)

// metadataHeaders are the headers requested by a metadata fetch.
var metadataHeaders = []string{
	"From", "To", "Cc", "Subject", "Date",
	"List-Unsubscribe", "List-Unsubscribe-Post",
	"Message-ID", "References",
}

// Options configures a Client. The zero value is usable.
type Options struct {
	Logger  *slog.Logger
	Metrics *instrumentation.Metrics

	// Limiter overrides the default quota limiter. Share one limiter between
	// clients of the same connection.
	Limiter *rate.Limiter

	// MaxTries bounds attempts per call including the first.
	MaxTries       uint
	InitialBackoff time.Duration
	// CallTimeout bounds each attempt. An attempt that runs out of time is
	// retried like a transient server error.
	CallTimeout time.Duration

	// ClientOptions are passed to the Gmail and People service constructors
	// after the HTTP client.
	ClientOptions []option.ClientOption
}

// Client talks to one Gmail mailbox. It is safe for concurrent use.
type Client struct {
	users   *gmail.UsersService
	people  *people.Service
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *instrumentation.Metrics

	maxTries       uint
	initialBackoff time.Duration
	callTimeout    time.Duration

	sigOnce   sync.Once
	signature string
}

// New builds a Client on an authorized HTTP client.
func New(ctx context.Context, httpClient *http.Client, opts Options) (*Client, error) {
	clientOpts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts.ClientOptions...)

	svc, err := gmail.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create Gmail service")
	}
	peopleSvc, err := people.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create People service")
	}

	c := &Client{
		users:          svc.Users,
		people:         peopleSvc,
		limiter:        opts.Limiter,
		logger:         logging.OrDefault(opts.Logger),
		metrics:        opts.Metrics,
		maxTries:       opts.MaxTries,
		initialBackoff: opts.InitialBackoff,
		callTimeout:    opts.CallTimeout,
	}
	if c.limiter == nil {
		c.limiter = NewLimiter()
	}
	if c.maxTries == 0 {
		c.maxTries = defaultMaxTries
	}
	if c.initialBackoff <= 0 {
		c.initialBackoff = defaultInitialBackoff
	}
	if c.callTimeout <= 0 {
		c.callTimeout = defaultCallTimeout
	}
	return c, nil
}

// NewLimiter returns a limiter sized for one mailbox's per-user quota.
func NewLimiter() *rate.Limiter {
	return rate.NewLimiter(rateLimitPerSecond, rateLimitBurst)
}

func (c *Client) List(ctx context.Context, query, pageToken string, pageSize int) (mailbox.ListPage, error) {
	if pageSize <= 0 || pageSize > mailbox.MaxPageSize {
		pageSize = mailbox.MaxPageSize
	}
	res, err := call(ctx, c, instrumentation.OperationList, "", quotaUnitsMessagesList, func(ctx context.Context) (*gmail.ListMessagesResponse, error) {
		req := c.users.Messages.List(me).Q(query).MaxResults(int64(pageSize))
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}
		return req.Context(ctx).Do()
	})
	if err != nil {
		return mailbox.ListPage{}, err
	}

	page := mailbox.ListPage{
		Refs:               make([]mailbox.MessageRef, 0, len(res.Messages)),
		NextPageToken:      res.NextPageToken,
		ResultSizeEstimate: res.ResultSizeEstimate,
	}
	for _, m := range res.Messages {
		page.Refs = append(page.Refs, mailbox.MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}
	return page, nil
}

func (c *Client) GetMessage(ctx context.Context, id string, format mailbox.Format) (mailbox.MessageRecord, error) {
	msg, err := call(ctx, c, instrumentation.OperationGet, id, quotaUnitsMessagesGet, func(ctx context.Context) (*gmail.Message, error) {
		req := c.users.Messages.Get(me, id)
		if format == mailbox.FormatFull {
			req = req.Format("full")
		} else {
			req = req.Format("metadata").MetadataHeaders(metadataHeaders...)
		}
		return req.Context(ctx).Do()
	})
	if err != nil {
		return mailbox.MessageRecord{}, err
	}
	return toRecord(msg, format)
}

func (c *Client) BatchModify(ctx context.Context, ids []string, ops mailbox.ModifyOps) error {
	if len(ids) == 0 || ops.IsEmpty() {
		return nil
	}
	if len(ids) > mailbox.BatchLimit {
		return errors.Errorf("batch of %d ids exceeds limit of %d", len(ids), mailbox.BatchLimit)
	}
	_, err := call(ctx, c, instrumentation.OperationBatchModify, "", quotaUnitsBatchModify, func(ctx context.Context) (struct{}, error) {
		req := &gmail.BatchModifyMessagesRequest{
			Ids:            ids,
			AddLabelIds:    ops.AddLabels,
			RemoveLabelIds: ops.RemoveLabels,
		}
		return struct{}{}, c.users.Messages.BatchModify(me, req).Context(ctx).Do()
	})
	return err
}

func (c *Client) Send(ctx context.Context, msg mailbox.OutgoingMessage) (string, error) {
	raw, err := c.compose(ctx, msg)
	if err != nil {
		return "", err
	}
	sent, err := call(ctx, c, instrumentation.OperationSend, "", quotaUnitsMessagesSend, func(ctx context.Context) (*gmail.Message, error) {
		return c.users.Messages.Send(me, &gmail.Message{Raw: raw, ThreadId: msg.ThreadID}).Context(ctx).Do()
	})
	if err != nil {
		return "", err
	}
	return sent.Id, nil
}

func (c *Client) CreateDraft(ctx context.Context, msg mailbox.OutgoingMessage) (mailbox.Draft, error) {
	raw, err := c.compose(ctx, msg)
	if err != nil {
		return mailbox.Draft{}, err
	}
	d, err := call(ctx, c, instrumentation.OperationCreateDraft, "", quotaUnitsDraftsCreate, func(ctx context.Context) (*gmail.Draft, error) {
		draft := &gmail.Draft{Message: &gmail.Message{Raw: raw, ThreadId: msg.ThreadID}}
		return c.users.Drafts.Create(me, draft).Context(ctx).Do()
	})
	if err != nil {
		return mailbox.Draft{}, err
	}
	out := mailbox.Draft{ID: d.Id}
	if d.Message != nil {
		out.MessageID = d.Message.Id
		out.ThreadID = d.Message.ThreadId
	}
	return out, nil
}

func (c *Client) GetProfile(ctx context.Context) (mailbox.Profile, error) {
	p, err := call(ctx, c, instrumentation.OperationProfile, "", quotaUnitsGetProfile, func(ctx context.Context) (*gmail.Profile, error) {
		return c.users.GetProfile(me).Context(ctx).Do()
	})
	if err != nil {
		return mailbox.Profile{}, err
	}
	return mailbox.Profile{EmailAddress: p.EmailAddress, MessagesTotal: p.MessagesTotal}, nil
}

// compose renders msg to base64url MIME, appending the account signature.
func (c *Client) compose(ctx context.Context, msg mailbox.OutgoingMessage) (string, error) {
	if len(msg.To) == 0 {
		return "", errors.New("at least one recipient is required")
	}
	raw, err := buildMIME(msg, c.getSignature(ctx), time.Now())
	if err != nil {
		return "", err
	}
	return encodeRaw(raw), nil
}

// getSignature fetches the primary send-as signature (HTML) once. A failed
// fetch leaves the signature empty and is not retried.
func (c *Client) getSignature(ctx context.Context) string {
	c.sigOnce.Do(func() {
		res, err := call(ctx, c, operationSendAs, "", quotaUnitsSendAsList, func(ctx context.Context) (*gmail.ListSendAsResponse, error) {
			return c.users.Settings.SendAs.List(me).Context(ctx).Do()
		})
		if err != nil {
			c.logger.Debug("signature unavailable", logging.Err(err))
			return
		}
		for _, sa := range res.SendAs {
			if sa.IsPrimary {
				c.signature = sa.Signature
				return
			}
		}
	})
	return c.signature
}

var _ mailbox.Provider = (*Client)(nil)
