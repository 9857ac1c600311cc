package gmail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), srv.Client(), Options{
		Limiter:        rate.NewLimiter(rate.Inf, 0),
		MaxTries:       3,
		InitialBackoff: time.Millisecond,
		ClientOptions:  []option.ClientOption{option.WithEndpoint(srv.URL + "/")},
	})
	require.NoError(t, err)
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func writeAPIError(w http.ResponseWriter, code int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":"failed","errors":[{"reason":%q,"message":"failed"}]}}`, code, reason)
}

func b64(s string) string {
	return encodeRaw([]byte(s))
}

func TestClient_List(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "in:inbox", r.URL.Query().Get("q"))
		assert.Equal(t, "100", r.URL.Query().Get("maxResults"))
		assert.Equal(t, "tok1", r.URL.Query().Get("pageToken"))
		writeJSON(t, w, gmailapi.ListMessagesResponse{
			Messages: []*gmailapi.Message{
				{Id: "m1", ThreadId: "t1"},
				{Id: "m2", ThreadId: "t2"},
			},
			NextPageToken:      "tok2",
			ResultSizeEstimate: 42,
		})
	})
	c := newTestClient(t, mux)

	page, err := c.List(context.Background(), "in:inbox", "tok1", 100)
	require.NoError(t, err)
	assert.Equal(t, []mailbox.MessageRef{{ID: "m1", ThreadID: "t1"}, {ID: "m2", ThreadID: "t2"}}, page.Refs)
	assert.Equal(t, "tok2", page.NextPageToken)
	assert.Equal(t, int64(42), page.ResultSizeEstimate)
}

func TestClient_GetMessage(t *testing.T) {
	full := &gmailapi.Message{
		Id:       "m1",
		ThreadId: "t1",
		Snippet:  "Don&#39;t miss",
		LabelIds: []string{"INBOX", "UNREAD"},
		Payload: &gmailapi.MessagePart{
			MimeType: "multipart/mixed",
			Headers: []*gmailapi.MessagePartHeader{
				{Name: "From", Value: "News <news@shop.example>"},
				{Name: "Subject", Value: "Sale"},
				{Name: "List-Unsubscribe", Value: "<https://shop.example/u>"},
				{Name: "Message-Id", Value: "<abc@shop.example>"},
			},
			Parts: []*gmailapi.MessagePart{
				{MimeType: "text/plain", Body: &gmailapi.MessagePartBody{Data: b64("Big sale today")}},
				{MimeType: "application/pdf", Filename: "flyer.pdf", Body: &gmailapi.MessagePartBody{AttachmentId: "att1", Size: 2048}},
			},
		},
	}

	mux := http.NewServeMux()
	var formats []string
	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		formats = append(formats, r.URL.Query().Get("format"))
		if r.URL.Query().Get("format") == "metadata" {
			assert.Contains(t, r.URL.Query()["metadataHeaders"], "List-Unsubscribe")
		}
		writeJSON(t, w, full)
	})
	c := newTestClient(t, mux)

	t.Run("full", func(t *testing.T) {
		rec, err := c.GetMessage(context.Background(), "m1", mailbox.FormatFull)
		require.NoError(t, err)
		assert.Equal(t, "Big sale today", rec.Body)
		assert.True(t, rec.HasBody)
		assert.Equal(t, "Don't miss", rec.Snippet)
		assert.Equal(t, "News <news@shop.example>", rec.Headers.From)
		assert.Equal(t, "<https://shop.example/u>", rec.Headers.ListUnsubscribe)
		assert.Equal(t, "<abc@shop.example>", rec.Headers.MessageID)
		assert.Equal(t, []mailbox.Attachment{{ID: "att1", Filename: "flyer.pdf", MimeType: "application/pdf", Size: 2048}}, rec.Attachments)
	})

	t.Run("metadata", func(t *testing.T) {
		rec, err := c.GetMessage(context.Background(), "m1", mailbox.FormatMetadata)
		require.NoError(t, err)
		assert.Empty(t, rec.Body)
		assert.False(t, rec.HasBody)
		assert.Nil(t, rec.Attachments)
		assert.Equal(t, "Sale", rec.Headers.Subject)
	})

	assert.Equal(t, []string{"full", "metadata"}, formats)
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		reason    string
		wantKind  error
		wantCalls int32
	}{
		{name: "not found", code: http.StatusNotFound, reason: "notFound", wantKind: mailbox.ErrNotFound, wantCalls: 1},
		{name: "unauthorized", code: http.StatusUnauthorized, reason: "authError", wantKind: mailbox.ErrAuthExpired, wantCalls: 1},
		{name: "rate limited exhausts retries", code: http.StatusTooManyRequests, reason: "rateLimitExceeded", wantKind: mailbox.ErrRateLimited, wantCalls: 3},
		{name: "forbidden rate limit", code: http.StatusForbidden, reason: "userRateLimitExceeded", wantKind: mailbox.ErrRateLimited, wantCalls: 3},
		{name: "bad request", code: http.StatusBadRequest, reason: "invalidArgument", wantCalls: 1},
		{name: "server error", code: http.StatusServiceUnavailable, reason: "backendError", wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			mux := http.NewServeMux()
			mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				writeAPIError(w, tt.code, tt.reason)
			})
			c := newTestClient(t, mux)

			_, err := c.GetMessage(context.Background(), "m1", mailbox.FormatMetadata)
			require.Error(t, err)
			assert.Equal(t, tt.wantCalls, calls.Load())
			if tt.wantKind != nil {
				assert.ErrorIs(t, err, tt.wantKind)
			} else {
				for _, kind := range []error{mailbox.ErrNotFound, mailbox.ErrAuthExpired, mailbox.ErrRateLimited} {
					assert.NotErrorIs(t, err, kind)
				}
			}
		})
	}
}

func TestClient_BatchModifyRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	var got gmailapi.BatchModifyMessagesRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /gmail/v1/users/me/messages/batchModify", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeAPIError(w, http.StatusTooManyRequests, "rateLimitExceeded")
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, mux)

	err := c.BatchModify(context.Background(), []string{"a", "b"}, mailbox.ModifyOps{RemoveLabels: []string{mailbox.LabelInbox}})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []string{"a", "b"}, got.Ids)
	assert.Equal(t, []string{mailbox.LabelInbox}, got.RemoveLabelIds)
}

// stallingServer hangs the first stalls requests until the client gives up,
// then answers with an empty message list.
func stallingServer(t *testing.T, stalls int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var attempts atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= stalls {
			select {
			case <-r.Context().Done():
			case <-release:
			}
			return
		}
		writeJSON(t, w, gmailapi.ListMessagesResponse{})
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	return srv, &attempts
}

func newTimeoutClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(context.Background(), srv.Client(), Options{
		Limiter:        rate.NewLimiter(rate.Inf, 0),
		MaxTries:       3,
		InitialBackoff: time.Millisecond,
		CallTimeout:    50 * time.Millisecond,
		ClientOptions:  []option.ClientOption{option.WithEndpoint(srv.URL + "/")},
	})
	require.NoError(t, err)
	return c
}

func TestClient_StalledAttemptIsRetried(t *testing.T) {
	srv, attempts := stallingServer(t, 1)
	c := newTimeoutClient(t, srv)

	_, err := c.List(context.Background(), "in:inbox", "", 10)
	require.NoError(t, err)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestClient_StalledCallGivesUp(t *testing.T) {
	srv, attempts := stallingServer(t, 100)
	c := newTimeoutClient(t, srv)

	done := make(chan error, 1)
	go func() {
		_, err := c.List(context.Background(), "in:inbox", "", 10)
		done <- err
	}()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, int32(3), attempts.Load())
	case <-time.After(5 * time.Second):
		t.Fatal("List did not return after every attempt timed out")
	}
}

func TestClient_CanceledCallIsNotRetried(t *testing.T) {
	srv, attempts := stallingServer(t, 100)
	c, err := New(context.Background(), srv.Client(), Options{
		Limiter:        rate.NewLimiter(rate.Inf, 0),
		MaxTries:       3,
		InitialBackoff: time.Millisecond,
		CallTimeout:    time.Minute,
		ClientOptions:  []option.ClientOption{option.WithEndpoint(srv.URL + "/")},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.List(ctx, "in:inbox", "", 10)
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_BatchModifyLimits(t *testing.T) {
	c := newTestClient(t, http.NewServeMux())

	ids := make([]string, mailbox.BatchLimit+1)
	err := c.BatchModify(context.Background(), ids, mailbox.ModifyOps{AddLabels: []string{mailbox.LabelTrash}})
	require.Error(t, err)

	// No ids or no ops issue no request at all.
	require.NoError(t, c.BatchModify(context.Background(), nil, mailbox.ModifyOps{AddLabels: []string{mailbox.LabelTrash}}))
	require.NoError(t, c.BatchModify(context.Background(), []string{"a"}, mailbox.ModifyOps{}))
}

func TestClient_SendAppendsSignature(t *testing.T) {
	var raw string
	var threadID string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/settings/sendAs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, gmailapi.ListSendAsResponse{SendAs: []*gmailapi.SendAs{
			{SendAsEmail: "alias@example.com", Signature: "<b>alias</b>"},
			{SendAsEmail: "owner@example.com", IsPrimary: true, Signature: "<b>Owner</b>"},
		}})
	})
	mux.HandleFunc("POST /gmail/v1/users/me/messages/send", func(w http.ResponseWriter, r *http.Request) {
		var msg gmailapi.Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		raw = msg.Raw
		threadID = msg.ThreadId
		writeJSON(t, w, gmailapi.Message{Id: "sent1", ThreadId: msg.ThreadId})
	})
	c := newTestClient(t, mux)

	id, err := c.Send(context.Background(), mailbox.OutgoingMessage{
		To:       []string{"bob@example.com"},
		Subject:  "Hello",
		Body:     "Hi Bob",
		ThreadID: "t9",
	})
	require.NoError(t, err)
	assert.Equal(t, "sent1", id)
	assert.Equal(t, "t9", threadID)

	decoded, err := decodeData(raw)
	require.NoError(t, err)
	mr, err := mail.CreateReader(strings.NewReader(decoded))
	require.NoError(t, err)
	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Hello", subject)

	part, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Hi Bob")
	assert.Contains(t, string(body), "**Owner**")
}

func TestClient_SendRequiresRecipient(t *testing.T) {
	c := newTestClient(t, http.NewServeMux())
	_, err := c.Send(context.Background(), mailbox.OutgoingMessage{Subject: "x"})
	require.Error(t, err)
}

func TestClient_SearchContacts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/people:searchContacts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ali", r.URL.Query().Get("query"))
		_, _ = io.WriteString(w, `{"results":[{"person":{"names":[{"displayName":"Alice"}],"emailAddresses":[{"value":"alice@example.com"}]}}]}`)
	})
	mux.HandleFunc("GET /v1/otherContacts:search", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"results":[
			{"person":{"emailAddresses":[{"value":"ALICE@example.com"}]}},
			{"person":{"names":[{"displayName":"No address"}]}},
			{"person":{"emailAddresses":[{"value":"alina@example.com"}]}}
		]}`)
	})
	c := newTestClient(t, mux)

	contacts, err := c.SearchContacts(context.Background(), "ali", 10)
	require.NoError(t, err)
	assert.Equal(t, []mailbox.Contact{
		{DisplayName: "Alice", EmailAddress: "alice@example.com"},
		{EmailAddress: "alina@example.com"},
	}, contacts)

	limited, err := c.SearchContacts(context.Background(), "ali", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestClient_LabelsAndProfile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/labels", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, gmailapi.ListLabelsResponse{Labels: []*gmailapi.Label{
			{Id: "INBOX", Name: "INBOX", Type: "system"},
			{Id: "Label_1", Name: "Receipts", Type: "user"},
		}})
	})
	mux.HandleFunc("POST /gmail/v1/users/me/labels", func(w http.ResponseWriter, r *http.Request) {
		var l gmailapi.Label
		require.NoError(t, json.NewDecoder(r.Body).Decode(&l))
		assert.Equal(t, "labelShow", l.LabelListVisibility)
		writeJSON(t, w, gmailapi.Label{Id: "Label_2", Name: l.Name, Type: "user"})
	})
	mux.HandleFunc("GET /gmail/v1/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, gmailapi.Profile{EmailAddress: "owner@example.com", MessagesTotal: 7})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	labels, err := c.ListLabels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []mailbox.Label{
		{ID: "INBOX", Name: "INBOX", Type: "system"},
		{ID: "Label_1", Name: "Receipts", Type: "user"},
	}, labels)

	created, err := c.CreateLabel(ctx, "Travel")
	require.NoError(t, err)
	assert.Equal(t, mailbox.Label{ID: "Label_2", Name: "Travel", Type: "user"}, created)

	profile, err := c.GetProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, mailbox.Profile{EmailAddress: "owner@example.com", MessagesTotal: 7}, profile)
}
