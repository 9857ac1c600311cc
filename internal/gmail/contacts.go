package gmail

import (
	"context"
	"strings"

	"google.golang.org/api/people/v1"

	"github.com/londonzade-stack/agent-seller-sub000/internal/instrumentation"
	"github.com/londonzade-stack/agent-seller-sub000/internal/logging"
	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
)

const contactReadMask = "names,emailAddresses"

// SearchContacts searches saved contacts first, then "other contacts"
// (addresses the owner has corresponded with). Results are deduplicated by
// address. A failing source is logged and skipped unless both fail.
func (c *Client) SearchContacts(ctx context.Context, query string, limit int) ([]mailbox.Contact, error) {
	if limit <= 0 {
		limit = defaultContactSearchSize
	}

	var out []mailbox.Contact
	seen := make(map[string]bool)
	add := func(p *people.Person) {
		contact, ok := extractContact(p)
		if !ok || seen[strings.ToLower(contact.EmailAddress)] || len(out) >= limit {
			return
		}
		seen[strings.ToLower(contact.EmailAddress)] = true
		out = append(out, contact)
	}

	saved, savedErr := call(ctx, c, instrumentation.OperationSearchPeople, "", quotaUnitsPeopleSearch, func(ctx context.Context) (*people.SearchResponse, error) {
		return c.people.People.SearchContacts().
			Query(query).
			ReadMask(contactReadMask).
			PageSize(int64(limit)).
			Context(ctx).Do()
	})
	if savedErr == nil {
		for _, r := range saved.Results {
			add(r.Person)
		}
	} else {
		c.logger.Debug("saved contact search failed", logging.Err(savedErr))
	}
	if len(out) >= limit {
		return out, nil
	}

	other, otherErr := call(ctx, c, instrumentation.OperationSearchPeople, "", quotaUnitsPeopleSearch, func(ctx context.Context) (*people.SearchResponse, error) {
		return c.people.OtherContacts.Search().
			Query(query).
			ReadMask(contactReadMask).
			PageSize(int64(limit)).
			Context(ctx).Do()
	})
	if otherErr == nil {
		for _, r := range other.Results {
			add(r.Person)
		}
	} else {
		c.logger.Debug("other contact search failed", logging.Err(otherErr))
	}

	if savedErr != nil && otherErr != nil {
		return nil, savedErr
	}
	return out, nil
}

// extractContact keeps the primary name and address. People without an
// address are dropped.
func extractContact(p *people.Person) (mailbox.Contact, bool) {
	if p == nil || len(p.EmailAddresses) == 0 || p.EmailAddresses[0].Value == "" {
		return mailbox.Contact{}, false
	}
	contact := mailbox.Contact{EmailAddress: p.EmailAddresses[0].Value}
	if len(p.Names) > 0 {
		contact.DisplayName = p.Names[0].DisplayName
	}
	return contact, true
}
