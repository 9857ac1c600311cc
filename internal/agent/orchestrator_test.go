package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox/mailboxtest"
	"github.com/londonzade-stack/agent-seller-sub000/internal/mutation"
	"github.com/londonzade-stack/agent-seller-sub000/internal/scan"
	"github.com/londonzade-stack/agent-seller-sub000/internal/tools"
	"github.com/londonzade-stack/agent-seller-sub000/internal/unsubscribe"
)

var session = tools.Session{ConnectionID: "conn-1", OwnerID: "owner@example.com", Plan: tools.PlanFree}

type modelFunc func(call int, req Request) (Reply, error)

// scriptedModel answers with fn and records every request.
type scriptedModel struct {
	mu       sync.Mutex
	fn       modelFunc
	requests []Request
}

func (m *scriptedModel) Next(ctx context.Context, req Request) (Reply, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	call := len(m.requests)
	m.mu.Unlock()
	return m.fn(call, req)
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func toolCall(name, input string) ToolCall {
	return ToolCall{Name: name, Input: json.RawMessage(input)}
}

type recorder struct {
	mu     sync.Mutex
	states []State
	calls  []ToolCall
}

func (r *recorder) OnState(_ string, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) OnToolCall(_ string, _ int, c ToolCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func newRegistry(p mailbox.Provider) *tools.Registry {
	scanner := scan.New(p, scan.DefaultConfig(), nil)
	return tools.NewRegistry(&tools.Deps{
		Provider:     p,
		Scanner:      scanner,
		Mutator:      mutation.New(p, mutation.DefaultConfig(), nil, nil),
		Unsubscriber: unsubscribe.New(p, scanner, unsubscribe.DefaultConfig(), nil),
	}, tools.Options{})
}

func promotions(n int) *mailboxtest.Provider {
	fake := mailboxtest.New()
	for i := 0; i < n; i++ {
		fake.Add(mailbox.MessageRecord{
			ID:      "p" + string(rune('a'+i)),
			Headers: mailbox.Headers{From: "deals@shop.example", Subject: "Deal"},
			Labels:  []string{mailbox.LabelInbox, "CATEGORY_PROMOTIONS"},
		})
	}
	return fake
}

func TestRun_DoneWithoutToolCalls(t *testing.T) {
	model := &scriptedModel{fn: func(int, Request) (Reply, error) {
		return Reply{Text: "Your inbox is clear."}, nil
	}}
	rec := &recorder{}
	o := New(model, newRegistry(mailboxtest.New()), Config{}, Options{Observer: rec})

	prior := []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}}
	turn, err := o.Run(context.Background(), session, "anything new?", prior)
	require.NoError(t, err)

	assert.NotEmpty(t, turn.ID)
	assert.Equal(t, StateDone, turn.Outcome)
	assert.Equal(t, "Your inbox is clear.", turn.Final)
	assert.Empty(t, turn.Steps)
	require.Len(t, turn.Transcript, 4)
	assert.Equal(t, Message{Role: RoleUser, Content: "anything new?"}, turn.Transcript[2])
	assert.Len(t, prior, 2)

	assert.Equal(t, []State{StateIdle, StateThinking, StateDone}, rec.states)

	req := model.requests[0]
	assert.Equal(t, DefaultSystemPrompt, req.System)
	assert.Len(t, req.Tools, len(tools.Catalog()))
}

func TestRun_ToolResultsFeedBack(t *testing.T) {
	fake := promotions(3)
	model := &scriptedModel{fn: func(call int, req Request) (Reply, error) {
		if call == 1 {
			return Reply{ToolCalls: []ToolCall{toolCall("search_emails", `{"query":"category:promotions","maxResults":10}`)}}, nil
		}
		last := req.Transcript[len(req.Transcript)-1]
		if last.Role != RoleTool {
			return Reply{}, errors.New("expected a tool result")
		}
		return Reply{Text: "Found some deals."}, nil
	}}
	rec := &recorder{}
	o := New(model, newRegistry(fake), Config{}, Options{Observer: rec})

	turn, err := o.Run(context.Background(), session, "any promotions?", nil)
	require.NoError(t, err)
	assert.Equal(t, StateDone, turn.Outcome)
	require.Len(t, turn.Steps, 1)

	call := turn.Steps[0].ToolCalls[0]
	assert.NotEmpty(t, call.ID)
	assert.Equal(t, CallDone, call.State)

	var out struct {
		Success bool `json:"success"`
		Data    struct {
			Messages []mailbox.MessageRecord `json:"messages"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(call.Output), &out))
	assert.True(t, out.Success)
	assert.Len(t, out.Data.Messages, 3)

	toolMsg := turn.Transcript[2]
	assert.Equal(t, RoleTool, toolMsg.Role)
	assert.Equal(t, call.ID, toolMsg.ToolCallID)
	assert.Equal(t, "search_emails", toolMsg.Name)

	assert.Equal(t, []State{StateIdle, StateThinking, StateToolExecuting, StateThinking, StateDone}, rec.states)
	require.Len(t, rec.calls, 2)
	assert.Equal(t, CallExecuting, rec.calls[0].State)
	assert.Equal(t, CallDone, rec.calls[1].State)
}

func TestRun_StepLimitWithModelThatNeverStops(t *testing.T) {
	model := &scriptedModel{fn: func(int, Request) (Reply, error) {
		return Reply{ToolCalls: []ToolCall{toolCall("list_labels", `{}`)}}, nil
	}}
	o := New(model, newRegistry(mailboxtest.New()), Config{MaxSteps: 5}, Options{})

	turn, err := o.Run(context.Background(), session, "loop forever", nil)
	require.ErrorIs(t, err, ErrStepLimit)
	assert.Equal(t, StateAborted, turn.Outcome)
	assert.Len(t, turn.Steps, 5)
	assert.Equal(t, 5, model.calls())
}

func TestRun_ApprovalRoundTrip(t *testing.T) {
	fake := mailboxtest.New()
	reg := newRegistry(fake)
	send := `{"to":"bob@example.com","subject":"Hi","body":"Hello"}`

	model := &scriptedModel{fn: func(call int, req Request) (Reply, error) {
		if call == 1 {
			return Reply{ToolCalls: []ToolCall{toolCall("send_email", send)}}, nil
		}
		return Reply{Text: "Shall I send it?"}, nil
	}}
	turn, err := New(model, reg, Config{}, Options{}).Run(context.Background(), session, "email bob", nil)
	require.NoError(t, err)
	assert.Empty(t, fake.Sent())

	call := turn.Steps[0].ToolCalls[0]
	assert.Equal(t, CallError, call.State)
	assert.Contains(t, call.Output, `"approvalRequired":true`)

	confirmed := `{"to":"bob@example.com","subject":"Hi","body":"Hello","confirmed":true}`
	model = &scriptedModel{fn: func(call int, req Request) (Reply, error) {
		if call == 1 {
			return Reply{ToolCalls: []ToolCall{toolCall("send_email", confirmed)}}, nil
		}
		return Reply{Text: "Sent."}, nil
	}}
	o := New(model, reg, Config{}, Options{})
	_, err = o.Run(context.Background(), session, "yes, send it", turn.Transcript)
	require.NoError(t, err)
	assert.Len(t, fake.Sent(), 1)
}

func TestRun_TurnTimeout(t *testing.T) {
	model := &scriptedModel{fn: func(int, Request) (Reply, error) {
		time.Sleep(50 * time.Millisecond)
		return Reply{}, context.DeadlineExceeded
	}}
	o := New(model, newRegistry(mailboxtest.New()), Config{TurnTimeout: 10 * time.Millisecond}, Options{})

	turn, err := o.Run(context.Background(), session, "slow", nil)
	require.ErrorIs(t, err, ErrTurnTimeout)
	assert.Equal(t, StateAborted, turn.Outcome)
}

func TestRun_CancelWhileThinking(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	model := &scriptedModel{fn: func(int, Request) (Reply, error) {
		cancel()
		return Reply{}, context.Canceled
	}}
	o := New(model, newRegistry(mailboxtest.New()), Config{}, Options{})

	turn, err := o.Run(ctx, session, "stop", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateCanceled, turn.Outcome)
}

func TestRun_ModelError(t *testing.T) {
	model := &scriptedModel{fn: func(int, Request) (Reply, error) {
		return Reply{}, errors.New("backend unavailable")
	}}
	o := New(model, newRegistry(mailboxtest.New()), Config{}, Options{})

	turn, err := o.Run(context.Background(), session, "hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend unavailable")
	assert.Equal(t, StateAborted, turn.Outcome)
}

// blockingToolbox holds every Invoke until release is closed.
type blockingToolbox struct {
	started  chan struct{}
	release  chan struct{}
	finished chan error
}

func (b *blockingToolbox) Schemas() []mcp.Tool { return nil }

func (b *blockingToolbox) Invoke(ctx context.Context, _ tools.Session, _ string, _ json.RawMessage) (tools.Result, error) {
	b.started <- struct{}{}
	<-b.release
	b.finished <- ctx.Err()
	return tools.Result{Success: true}, nil
}

func TestRun_CancelDuringToolExecutionLeavesCallRunning(t *testing.T) {
	box := &blockingToolbox{
		started:  make(chan struct{}, 1),
		release:  make(chan struct{}),
		finished: make(chan error, 1),
	}
	model := &scriptedModel{fn: func(int, Request) (Reply, error) {
		return Reply{ToolCalls: []ToolCall{toolCall("trash_emails", `{"messageIds":"m1","confirmed":true}`)}}, nil
	}}
	o := New(model, box, Config{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-box.started
		cancel()
	}()

	start := time.Now()
	turn, err := o.Run(ctx, session, "trash it", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateCanceled, turn.Outcome)
	assert.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, turn.Steps, 1)
	assert.Equal(t, CallExecuting, turn.Steps[0].ToolCalls[0].State)

	close(box.release)
	select {
	case callErr := <-box.finished:
		assert.NoError(t, callErr)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatched call did not finish")
	}
}

// concurrentToolbox reports the highest number of simultaneous calls.
type concurrentToolbox struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	want     int32
}

func (c *concurrentToolbox) Schemas() []mcp.Tool { return nil }

func (c *concurrentToolbox) Invoke(ctx context.Context, _ tools.Session, _ string, _ json.RawMessage) (tools.Result, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		if p := c.peak.Load(); n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for c.peak.Load() < c.want && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	return tools.Result{Success: true}, nil
}

func TestRun_CallsInOneStepRunConcurrently(t *testing.T) {
	box := &concurrentToolbox{want: 3}
	model := &scriptedModel{fn: func(call int, _ Request) (Reply, error) {
		if call == 1 {
			return Reply{ToolCalls: []ToolCall{
				toolCall("read_email", `{"messageId":"a"}`),
				toolCall("read_email", `{"messageId":"b"}`),
				toolCall("read_email", `{"messageId":"c"}`),
			}}, nil
		}
		return Reply{Text: "done"}, nil
	}}

	turn, err := New(model, box, Config{}, Options{}).Run(context.Background(), session, "read all", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), box.peak.Load())
	require.Len(t, turn.Steps[0].ToolCalls, 3)
	// Tool messages keep the order the model asked in.
	for i, c := range turn.Steps[0].ToolCalls {
		assert.Equal(t, c.ID, turn.Transcript[2+i].ToolCallID)
	}
}

func TestRun_FatalErrorShortCircuits(t *testing.T) {
	fake := promotions(1)
	fake.GetErr = func(id string) error {
		return mailbox.NewError(mailbox.ErrAuthExpired, "get", id, nil)
	}
	model := &scriptedModel{fn: func(int, Request) (Reply, error) {
		return Reply{ToolCalls: []ToolCall{toolCall("read_email", `{"messageId":"pa"}`)}}, nil
	}}

	turn, err := New(model, newRegistry(fake), Config{}, Options{}).Run(context.Background(), session, "read it", nil)
	require.Error(t, err)
	assert.True(t, mailbox.IsFatal(err))
	assert.Equal(t, StateAborted, turn.Outcome)
	assert.Equal(t, 1, model.calls())
	require.Len(t, turn.Steps, 1)
	assert.Equal(t, CallError, turn.Steps[0].ToolCalls[0].State)
}

func TestRun_UnknownToolAndBadInputAreToolErrors(t *testing.T) {
	model := &scriptedModel{fn: func(call int, _ Request) (Reply, error) {
		if call == 1 {
			return Reply{ToolCalls: []ToolCall{
				toolCall("drop_tables", `{}`),
				toolCall("read_email", `{"messageId": 7}`),
			}}, nil
		}
		return Reply{Text: "sorry"}, nil
	}}

	turn, err := New(model, newRegistry(mailboxtest.New()), Config{}, Options{}).Run(context.Background(), session, "go", nil)
	require.NoError(t, err)
	calls := turn.Steps[0].ToolCalls
	assert.Equal(t, CallError, calls[0].State)
	assert.Contains(t, calls[0].Output, "unknown tool")
	assert.Equal(t, CallError, calls[1].State)
	assert.Contains(t, calls[1].Output, "invalid input")
}

func TestArchiveScenario(t *testing.T) {
	fake := promotions(4)
	var ids []string
	model := &scriptedModel{fn: func(call int, req Request) (Reply, error) {
		switch call {
		case 1:
			return Reply{ToolCalls: []ToolCall{toolCall("search_emails", `{"query":"category:promotions","maxResults":500}`)}}, nil
		case 2:
			var out struct {
				Data struct {
					Messages []mailbox.MessageRecord `json:"messages"`
				} `json:"data"`
			}
			if err := json.Unmarshal([]byte(req.Transcript[len(req.Transcript)-1].Content), &out); err != nil {
				return Reply{}, err
			}
			for _, m := range out.Data.Messages {
				ids = append(ids, m.ID)
			}
			input, _ := json.Marshal(map[string]any{"messageIds": ids, "confirmed": true})
			return Reply{ToolCalls: []ToolCall{{Name: "archive_emails", Input: input}}}, nil
		}
		return Reply{Text: "Archived."}, nil
	}}

	turn, err := New(model, newRegistry(fake), Config{}, Options{}).Run(context.Background(), session, "archive promotions", nil)
	require.NoError(t, err)
	assert.Len(t, ids, 4)
	assert.Contains(t, turn.Steps[1].ToolCalls[0].Output, `"archivedCount":4`)
	assert.Zero(t, fake.Count("in:inbox category:promotions"))
}
