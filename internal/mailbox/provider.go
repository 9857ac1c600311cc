package mailbox

import "context"

// Provider is the narrow mailbox surface the engines require.
//
// Implementations must be safe for concurrent use; the scan engine issues
// GetMessage calls in parallel.
type Provider interface {
	// List runs a search. An empty pageToken starts a fresh search.
	List(ctx context.Context, query, pageToken string, pageSize int) (ListPage, error)
	GetMessage(ctx context.Context, id string, format Format) (MessageRecord, error)
	// BatchModify applies ops to at most BatchLimit ids in a single call.
	BatchModify(ctx context.Context, ids []string, ops ModifyOps) error

	Send(ctx context.Context, msg OutgoingMessage) (string, error)
	CreateDraft(ctx context.Context, msg OutgoingMessage) (Draft, error)

	ListLabels(ctx context.Context) ([]Label, error)
	CreateLabel(ctx context.Context, name string) (Label, error)

	SearchContacts(ctx context.Context, query string, limit int) ([]Contact, error)
	GetProfile(ctx context.Context) (Profile, error)
}

// BatchLimit is the maximum number of ids accepted by one BatchModify call.
const BatchLimit = 1000

// MaxPageSize is the largest page a single List call returns.
const MaxPageSize = 500
