package gmail

import (
	"bytes"
	"io"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/emersion/go-message/mail"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"

	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
)

var utf8Params = map[string]string{"charset": "utf-8"}

// buildMIME renders msg as an RFC 5322 message. signature is the account's
// HTML signature and may be empty.
func buildMIME(msg mailbox.OutgoingMessage, signature string, now time.Time) ([]byte, error) {
	var h mail.Header
	h.Set("MIME-Version", "1.0")
	h.SetDate(now)
	for _, f := range []struct {
		key   string
		addrs []string
	}{{"To", msg.To}, {"Cc", msg.Cc}, {"Bcc", msg.Bcc}} {
		if len(f.addrs) == 0 {
			continue
		}
		list, err := parseAddresses(f.addrs)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s address", f.key)
		}
		h.SetAddressList(f.key, list)
	}
	h.SetSubject(msg.Subject)
	if msg.InReplyTo != "" {
		h.Set("In-Reply-To", msg.InReplyTo)
		refs := msg.References
		if refs == "" {
			refs = msg.InReplyTo
		}
		h.Set("References", refs)
	}

	var buf bytes.Buffer
	switch msg.Format {
	case mailbox.BodyHTML:
		body := msg.Body
		if signature != "" {
			body += "<br><br>-- <br>" + signature
		}
		if err := writeSinglePart(&buf, h, mimeTextHTML, body); err != nil {
			return nil, err
		}
	case mailbox.BodyMarkdown:
		var rendered bytes.Buffer
		if err := goldmark.Convert([]byte(msg.Body), &rendered); err != nil {
			return nil, errors.Wrap(err, "render markdown body")
		}
		htmlBody := rendered.String()
		if signature != "" {
			htmlBody += "<br><br>-- <br>" + signature
		}
		if err := writeAlternative(&buf, h, msg.Body+textSignature(signature), htmlBody); err != nil {
			return nil, err
		}
	case mailbox.BodyText, "":
		if err := writeSinglePart(&buf, h, mimeTextPlain, msg.Body+textSignature(signature)); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("unsupported body format %q", msg.Format)
	}
	return buf.Bytes(), nil
}

func parseAddresses(addrs []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		parsed, err := mail.ParseAddress(strings.TrimSpace(a))
		if err != nil {
			return nil, errors.Wrapf(err, "%q", a)
		}
		out = append(out, parsed)
	}
	return out, nil
}

// textSignature renders the HTML signature for a plain text body.
func textSignature(signature string) string {
	if signature == "" {
		return ""
	}
	text, err := htmltomarkdown.ConvertString(signature)
	if err != nil {
		text = signature
	}
	return "\n\n-- \n" + strings.TrimSpace(text)
}

func writeSinglePart(w io.Writer, h mail.Header, contentType, body string) error {
	h.SetContentType(contentType, utf8Params)
	bw, err := mail.CreateSingleInlineWriter(w, h)
	if err != nil {
		return errors.Wrap(err, "create message writer")
	}
	if _, err := io.WriteString(bw, body); err != nil {
		return errors.Wrap(err, "write body")
	}
	return bw.Close()
}

func writeAlternative(w io.Writer, h mail.Header, plain, htmlBody string) error {
	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return errors.Wrap(err, "create message writer")
	}
	iw, err := mw.CreateInline()
	if err != nil {
		return errors.Wrap(err, "create inline writer")
	}
	for _, p := range []struct{ contentType, body string }{
		{mimeTextPlain, plain},
		{mimeTextHTML, htmlBody},
	} {
		var ph mail.InlineHeader
		ph.SetContentType(p.contentType, utf8Params)
		pw, err := iw.CreatePart(ph)
		if err != nil {
			return errors.Wrap(err, "create part")
		}
		if _, err := io.WriteString(pw, p.body); err != nil {
			return errors.Wrap(err, "write part")
		}
		if err := pw.Close(); err != nil {
			return err
		}
	}
	if err := iw.Close(); err != nil {
		return err
	}
	return mw.Close()
}
