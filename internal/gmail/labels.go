package gmail

import (
	"context"
	"strings"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/londonzade-stack/agent-seller-sub000/internal/instrumentation"
	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
)

func (c *Client) ListLabels(ctx context.Context) ([]mailbox.Label, error) {
	res, err := call(ctx, c, instrumentation.OperationListLabels, "", quotaUnitsLabelsList, func(ctx context.Context) (*gmail.ListLabelsResponse, error) {
		return c.users.Labels.List(me).Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	out := make([]mailbox.Label, 0, len(res.Labels))
	for _, l := range res.Labels {
		out = append(out, toLabel(l))
	}
	return out, nil
}

func (c *Client) CreateLabel(ctx context.Context, name string) (mailbox.Label, error) {
	l, err := call(ctx, c, instrumentation.OperationCreateLabel, "", quotaUnitsLabelsCreate, func(ctx context.Context) (*gmail.Label, error) {
		return c.users.Labels.Create(me, &gmail.Label{
			Name:                  name,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
	})
	if err != nil {
		return mailbox.Label{}, err
	}
	return toLabel(l), nil
}

func toLabel(l *gmail.Label) mailbox.Label {
	return mailbox.Label{ID: l.Id, Name: l.Name, Type: strings.ToLower(l.Type)}
}
