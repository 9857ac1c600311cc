package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
)

// Addresses decodes from a comma-separated string or an array of strings.
type Addresses []string

func (a *Addresses) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = splitAddresses(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("addresses must be a string or array of strings")
	}
	var out []string
	for _, s := range list {
		out = append(out, splitAddresses(s)...)
	}
	*a = out
	return nil
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validFormat(f mailbox.BodyFormat) error {
	switch f {
	case "", mailbox.BodyText, mailbox.BodyHTML, mailbox.BodyMarkdown:
		return nil
	}
	return fmt.Errorf("format must be one of text, html, markdown")
}

func preview(s string, n int) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}

func idSummary(ids []string) string {
	if len(ids) <= 5 {
		return strings.Join(ids, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(ids[:5], ", "), len(ids)-5)
}
