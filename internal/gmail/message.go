package gmail

import (
	"encoding/base64"
	"html"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/pkg/errors"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
)

const (
	mimeTextPlain = "text/plain"
	mimeTextHTML  = "text/html"
)

// toRecord projects an API message onto a MessageRecord. Body and
// attachments are only read for a full fetch.
func toRecord(msg *gmail.Message, format mailbox.Format) (mailbox.MessageRecord, error) {
	rec := mailbox.MessageRecord{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  html.UnescapeString(msg.Snippet),
		Labels:   msg.LabelIds,
	}
	if msg.Payload == nil {
		return rec, nil
	}
	rec.Headers = parseHeaders(msg.Payload.Headers)
	if format != mailbox.FormatFull {
		return rec, nil
	}

	body, err := extractBody(msg.Payload)
	if err != nil {
		return rec, errors.Wrapf(err, "message %s", msg.Id)
	}
	rec.Body = body
	rec.HasBody = true
	rec.Attachments = listAttachments(msg.Payload)
	return rec, nil
}

func parseHeaders(headers []*gmail.MessagePartHeader) mailbox.Headers {
	var h mailbox.Headers
	for _, hd := range headers {
		switch strings.ToLower(hd.Name) {
		case "from":
			h.From = hd.Value
		case "to":
			h.To = hd.Value
		case "cc":
			h.Cc = hd.Value
		case "subject":
			h.Subject = hd.Value
		case "date":
			h.Date = hd.Value
		case "list-unsubscribe":
			h.ListUnsubscribe = hd.Value
		case "list-unsubscribe-post":
			h.ListUnsubscribePost = hd.Value
		case "message-id":
			h.MessageID = hd.Value
		case "references":
			h.References = hd.Value
		}
	}
	return h
}

// extractBody returns the first text/plain part, or the first text/html part
// converted to markdown. Attachment parts are never treated as the body.
func extractBody(payload *gmail.MessagePart) (string, error) {
	var plain, htmlData string
	walkParts(payload, func(part *gmail.MessagePart) {
		if part.Filename != "" || part.Body == nil || part.Body.Data == "" {
			return
		}
		switch part.MimeType {
		case mimeTextPlain:
			if plain == "" {
				plain = part.Body.Data
			}
		case mimeTextHTML:
			if htmlData == "" {
				htmlData = part.Body.Data
			}
		}
	})

	if plain != "" {
		return decodeData(plain)
	}
	if htmlData == "" {
		return "", nil
	}
	raw, err := decodeData(htmlData)
	if err != nil {
		return "", err
	}
	md, err := htmltomarkdown.ConvertString(raw)
	if err != nil {
		return "", errors.Wrap(err, "convert html body")
	}
	return strings.TrimSpace(md), nil
}

func listAttachments(payload *gmail.MessagePart) []mailbox.Attachment {
	var out []mailbox.Attachment
	walkParts(payload, func(part *gmail.MessagePart) {
		if part.Filename == "" || part.Body == nil || part.Body.AttachmentId == "" {
			return
		}
		out = append(out, mailbox.Attachment{
			ID:       part.Body.AttachmentId,
			Filename: part.Filename,
			MimeType: part.MimeType,
			Size:     part.Body.Size,
		})
	})
	return out
}

// walkParts visits part and its descendants depth first.
func walkParts(part *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	if part == nil {
		return
	}
	fn(part)
	for _, sub := range part.Parts {
		walkParts(sub, fn)
	}
}

// decodeData decodes body data. The API uses base64url, padded or not;
// standard encoding is accepted as a fallback.
func decodeData(data string) (string, error) {
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.RawURLEncoding, base64.StdEncoding} {
		if b, err := enc.DecodeString(data); err == nil {
			return string(b), nil
		}
	}
	return "", errors.New("failed to decode message body")
}

func encodeRaw(raw []byte) string {
	return base64.URLEncoding.EncodeToString(raw)
}
