package mutation

import (
	"context"
	"fmt"
)

// Request is a mutation addressed either by ids or by a query. Confirmed must
// be set explicitly; a zero Request is never applied.
type Request struct {
	IDs          []string  `json:"ids,omitempty"`
	Query        string    `json:"query,omitempty"`
	Operation    Operation `json:"operation"`
	AddLabels    []string  `json:"addLabels,omitempty"`
	RemoveLabels []string  `json:"removeLabels,omitempty"`
	// Limit bounds how many messages a query-addressed request touches.
	Limit     int  `json:"limit,omitempty"`
	Confirmed bool `json:"confirmed"`
}

// Outcome holds the report of whichever path Apply took.
type Outcome struct {
	Report *Report      `json:"report,omitempty"`
	Trash  *TrashReport `json:"trash,omitempty"`
	// Capped is set when a query-addressed request matched more than Limit.
	Capped bool `json:"capped,omitempty"`
}

// Apply runs req. Unconfirmed requests are refused with ErrApprovalRequired
// before any provider call. A query-addressed trash uses TrashByQuery; other
// query-addressed operations list the matches first, then mutate them.
func (e *Engine) Apply(ctx context.Context, req Request) (Outcome, error) {
	if !req.Confirmed {
		return Outcome{}, ErrApprovalRequired
	}
	if (len(req.IDs) == 0) == (req.Query == "") {
		return Outcome{}, fmt.Errorf("exactly one of ids or query is required")
	}

	if req.Query != "" && req.Operation == OpTrash {
		tr, err := e.TrashByQuery(ctx, req.Query, req.Limit)
		return Outcome{Trash: &tr}, err
	}

	var out Outcome
	ids := req.IDs
	if req.Query != "" {
		limit := req.Limit
		if limit <= 0 {
			limit = e.cfg.DefaultMaxToTrash
		}
		var err error
		ids, out.Capped, err = e.collect(ctx, req.Query, min(limit, e.cfg.MaxToTrashCeiling))
		if err != nil {
			return Outcome{}, err
		}
	}

	var r Report
	switch req.Operation {
	case OpLabelAdd:
		r = e.ApplyLabelChange(ctx, ids, req.AddLabels, nil)
	case OpLabelRemove:
		r = e.ApplyLabelChange(ctx, ids, nil, req.RemoveLabels)
	case OpLabelChange:
		r = e.ApplyLabelChange(ctx, ids, req.AddLabels, req.RemoveLabels)
	case OpArchive, OpTrash, OpUntrash, OpMarkRead, OpMarkUnread:
		r = e.apply(ctx, req.Operation, ids, opsFor(req.Operation))
	default:
		return Outcome{}, fmt.Errorf("unknown operation %q", req.Operation)
	}
	out.Report = &r
	return out, r.Err()
}

// collect pages through query with continuation tokens. The set is not
// mutated while paging, so tokens are stable here.
func (e *Engine) collect(ctx context.Context, query string, limit int) ([]string, bool, error) {
	var ids []string
	pageToken := ""
	for {
		page, err := e.provider.List(ctx, query, pageToken, min(limit-len(ids), e.cfg.TrashPageSize))
		if err != nil {
			return nil, false, err
		}
		for _, ref := range page.Refs {
			ids = append(ids, ref.ID)
		}
		if page.NextPageToken == "" || len(page.Refs) == 0 {
			return ids, false, nil
		}
		if len(ids) >= limit {
			return ids[:limit], true, nil
		}
		pageToken = page.NextPageToken
	}
}
