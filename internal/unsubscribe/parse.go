// Package unsubscribe finds newsletter senders and executes the best
// unsubscribe mechanism each message advertises.
//
// Methods are tried in priority order: a one-click POST (RFC 8058), then the
// raw link for a human to open, then a mailto address. Discovery keeps one
// candidate per sender domain.
package unsubscribe

import (
	"net/url"
	"strings"

	"github.com/emersion/go-message/mail"
	"golang.org/x/net/publicsuffix"
)

// oneClickValue is the List-Unsubscribe-Post value and the POST body defined
// for one-click unsubscribe.
const oneClickValue = "List-Unsubscribe=One-Click"

// Methods are the unsubscribe mechanisms a message advertises.
type Methods struct {
	OneClickURL string `json:"oneClickUrl,omitempty"`
	LinkURL     string `json:"linkUrl,omitempty"`
	Mailto      string `json:"mailto,omitempty"`
}

// Empty reports whether no method is available.
func (m Methods) Empty() bool {
	return m.OneClickURL == "" && m.LinkURL == "" && m.Mailto == ""
}

// ParseListUnsubscribe parses a List-Unsubscribe header of the form
// "<url-or-mailto>[, <url-or-mailto>...]". The first http(s) URL and the
// first mailto are kept. post is the List-Unsubscribe-Post header; when it
// declares one-click and the URL is https, the URL is also the one-click
// target.
func ParseListUnsubscribe(header, post string) Methods {
	var m Methods
	for _, part := range strings.Split(header, "<") {
		end := strings.Index(part, ">")
		if end == -1 {
			continue
		}
		target := strings.TrimSpace(part[:end])
		lower := strings.ToLower(target)
		switch {
		case strings.HasPrefix(lower, "mailto:"):
			if m.Mailto == "" {
				m.Mailto = target
			}
		case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
			if m.LinkURL == "" {
				m.LinkURL = target
			}
		}
	}
	if m.LinkURL != "" && isOneClick(post) && strings.HasPrefix(strings.ToLower(m.LinkURL), "https://") {
		m.OneClickURL = m.LinkURL
	}
	return m
}

func isOneClick(post string) bool {
	return strings.EqualFold(strings.ReplaceAll(strings.TrimSpace(post), " ", ""), oneClickValue)
}

// MailtoAddress returns the bare address of a mailto target.
func MailtoAddress(mailto string) string {
	u, err := url.Parse(mailto)
	if err != nil || u.Opaque == "" {
		return strings.TrimPrefix(mailto, "mailto:")
	}
	return u.Opaque
}

// SenderDomain returns the registrable domain of a From header, so
// news.shop.example and mail.shop.example collapse to shop.example.
func SenderDomain(from string) string {
	addr := from
	if parsed, err := mail.ParseAddress(from); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndex(addr, "@")
	if at == -1 {
		return ""
	}
	host := strings.ToLower(strings.Trim(addr[at+1:], "> "))
	if host == "" {
		return ""
	}
	if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return etld1
	}
	return host
}
