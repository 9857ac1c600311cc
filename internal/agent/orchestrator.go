package agent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/londonzade-stack/agent-seller-sub000/internal/instrumentation"
	"github.com/londonzade-stack/agent-seller-sub000/internal/logging"
	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
	"github.com/londonzade-stack/agent-seller-sub000/internal/tools"
)

const (
	DefaultMaxSteps    = 100
	DefaultTurnTimeout = 120 * time.Second
	DefaultToolTimeout = 60 * time.Second
)

// DefaultSystemPrompt instructs the model on the approval protocol.
const DefaultSystemPrompt = `You manage the user's mailbox with the tools provided.
Tools that send, archive, trash, unsubscribe or schedule are destructive. Call them without "confirmed" first: the result describes the action. Show that description to the user and call again with "confirmed": true only after the user explicitly approves. Never set "confirmed" on your own.
Bulk results report attempted, succeeded and failed counts; tell the user about failures.`

// Config bounds a turn.
type Config struct {
	MaxSteps    int
	TurnTimeout time.Duration
	// ToolTimeout bounds each dispatched tool call independently of the turn.
	ToolTimeout time.Duration
	System      string
}

func DefaultConfig() Config {
	return Config{
		MaxSteps:    DefaultMaxSteps,
		TurnTimeout: DefaultTurnTimeout,
		ToolTimeout: DefaultToolTimeout,
		System:      DefaultSystemPrompt,
	}
}

// Options are the orchestrator's optional collaborators.
type Options struct {
	Logger   *slog.Logger
	Metrics  *instrumentation.Metrics
	Observer Observer
}

// Orchestrator runs turns. It holds no per-turn state and is safe for
// concurrent use.
type Orchestrator struct {
	model    Model
	toolbox  Toolbox
	cfg      Config
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
	observer Observer
}

// New creates an Orchestrator. Zero fields in cfg take their defaults.
func New(model Model, toolbox Toolbox, cfg Config, opts Options) *Orchestrator {
	def := DefaultConfig()
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = def.MaxSteps
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = def.TurnTimeout
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = def.ToolTimeout
	}
	if cfg.System == "" {
		cfg.System = def.System
	}
	return &Orchestrator{
		model:    model,
		toolbox:  toolbox,
		cfg:      cfg,
		logger:   logging.OrDefault(opts.Logger),
		metrics:  opts.Metrics,
		observer: opts.Observer,
	}
}

// Run drives one user turn to a terminal state. The returned Turn is never
// nil. The error is nil only for StateDone; it is ErrStepLimit or
// ErrTurnTimeout for StateAborted budgets, ctx.Err() for StateCanceled, and
// the underlying error when a connection-level failure or a model failure
// aborts the turn.
func (o *Orchestrator) Run(ctx context.Context, s tools.Session, userMessage string, transcript []Message) (*Turn, error) {
	turn := &Turn{
		ID:         uuid.NewString(),
		Outcome:    StateIdle,
		Transcript: append(slices.Clone(transcript), Message{Role: RoleUser, Content: userMessage}),
	}
	ctx, span := instrumentation.StartTurnSpan(ctx, turn.ID, s.ConnectionID)
	logger := logging.WithConnection(o.logger, s.ConnectionID).With(logging.Turn(turn.ID))
	o.transition(turn, StateIdle)

	err := o.loop(ctx, s, turn, logger)

	o.metrics.RecordAgentTurn(ctx, string(turn.Outcome))
	instrumentation.EndSpan(span, err)
	if err != nil {
		logger.Warn("turn ended", logging.Status(string(turn.Outcome)), slog.Int("steps", len(turn.Steps)), logging.Err(err))
	} else {
		logger.Info("turn ended", logging.Status(string(turn.Outcome)), slog.Int("steps", len(turn.Steps)))
	}
	return turn, err
}

func (o *Orchestrator) loop(ctx context.Context, s tools.Session, turn *Turn, logger *slog.Logger) error {
	turnCtx, cancel := context.WithTimeout(ctx, o.cfg.TurnTimeout)
	defer cancel()
	schemas := o.toolbox.Schemas()

	for {
		if len(turn.Steps) >= o.cfg.MaxSteps {
			o.transition(turn, StateAborted)
			return ErrStepLimit
		}

		o.transition(turn, StateThinking)
		reply, err := o.model.Next(turnCtx, Request{System: o.cfg.System, Transcript: turn.Transcript, Tools: schemas})
		if err != nil {
			if stop := o.interrupted(ctx, turnCtx, turn); stop != nil {
				return stop
			}
			o.transition(turn, StateAborted)
			return fmt.Errorf("model: %w", err)
		}
		if err := o.interrupted(ctx, turnCtx, turn); err != nil {
			return err
		}

		calls := make([]ToolCall, len(reply.ToolCalls))
		for i, c := range reply.ToolCalls {
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			c.State = CallPending
			c.Output = ""
			calls[i] = c
		}
		turn.Transcript = append(turn.Transcript, Message{Role: RoleAssistant, Content: reply.Text, ToolCalls: calls})

		if len(calls) == 0 {
			turn.Final = reply.Text
			o.transition(turn, StateDone)
			return nil
		}

		step := Step{Index: len(turn.Steps), ToolCalls: slices.Clone(calls)}
		for i := range step.ToolCalls {
			step.ToolCalls[i].State = CallExecuting
		}
		o.transition(turn, StateToolExecuting)
		logger.Debug("executing tool calls", logging.Step(step.Index), logging.Count(len(calls)))

		executed, fatal, finished := o.execute(turnCtx, s, turn.ID, step)
		if !finished {
			// The dispatched calls finish on their own.
			turn.Steps = append(turn.Steps, step)
			return o.interrupted(ctx, turnCtx, turn)
		}
		step.ToolCalls = executed
		turn.Steps = append(turn.Steps, step)
		o.metrics.RecordAgentStep(ctx)
		for _, c := range executed {
			turn.Transcript = append(turn.Transcript, Message{Role: RoleTool, ToolCallID: c.ID, Name: c.Name, Content: c.Output})
		}

		if fatal != nil {
			o.transition(turn, StateAborted)
			return fatal
		}
	}
}

// execute dispatches the step's calls concurrently and waits for them,
// unless turnCtx ends first, in which case finished is false and the calls
// keep running. fatal is the first connection-level failure.
func (o *Orchestrator) execute(turnCtx context.Context, s tools.Session, turnID string, step Step) (results []ToolCall, fatal error, finished bool) {
	results = slices.Clone(step.ToolCalls)
	// Dispatched calls outlive the turn's cancellation.
	base := context.WithoutCancel(turnCtx)

	var g errgroup.Group
	for i := range results {
		call := &results[i]
		o.notifyCall(turnID, step.Index, *call)
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(base, o.cfg.ToolTimeout)
			defer cancel()

			res, err := o.toolbox.Invoke(callCtx, s, call.Name, call.Input)
			call.Output = res.JSON()
			call.State = CallDone
			if !res.Success {
				call.State = CallError
			}
			o.notifyCall(turnID, step.Index, *call)
			if err != nil && mailbox.IsFatal(err) {
				return err
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case fatal = <-done:
		return results, fatal, true
	case <-turnCtx.Done():
		return nil, nil, false
	}
}

// interrupted classifies a done turn context: cancellation by the caller,
// or the turn's own timeout. It returns nil while the turn may continue.
func (o *Orchestrator) interrupted(ctx, turnCtx context.Context, turn *Turn) error {
	if turnCtx.Err() == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		o.transition(turn, StateCanceled)
		return err
	}
	o.transition(turn, StateAborted)
	return ErrTurnTimeout
}

func (o *Orchestrator) transition(turn *Turn, s State) {
	turn.Outcome = s
	if o.observer != nil {
		o.observer.OnState(turn.ID, s)
	}
}

func (o *Orchestrator) notifyCall(turnID string, step int, call ToolCall) {
	if o.observer != nil {
		o.observer.OnToolCall(turnID, step, call)
	}
}
