package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/londonzade-stack/agent-seller-sub000/internal/agent"
	"github.com/londonzade-stack/agent-seller-sub000/internal/llm"
	"github.com/londonzade-stack/agent-seller-sub000/internal/server"
	"github.com/londonzade-stack/agent-seller-sub000/internal/tools"
)

// AgentCmdConfig configures the agent command.
type AgentCmdConfig struct {
	Debug        bool
	ConnectionID string
	Message      string

	OpenAI llm.Config
	Agent  AgentConfig
	Vault  VaultConfig
}

func newAgentCmd() *cobra.Command {
	var cfg AgentCmdConfig

	cmd := &cobra.Command{
		Use:   "agent [message]",
		Short: "Talk to the mailbox agent",
		Long: `Run agent turns against a connected mailbox.

With a message argument a single turn is run and the final answer printed.
Without one, an interactive session reads one message per line from stdin
and keeps the conversation in memory until EOF, so destructive actions can
be approved in the next message.

Progress (state changes and tool calls) is written to stderr.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loadVaultEnvVars(cmd, &cfg.Vault)
			loadAgentEnvVars(cmd, &cfg.Agent)
			envString(cmd, "connection", "MAILAGENT_CONNECTION", &cfg.ConnectionID)
			envString(cmd, "openai-api-key", "OPENAI_API_KEY", &cfg.OpenAI.APIKey)
			envString(cmd, "openai-base-url", "OPENAI_BASE_URL", &cfg.OpenAI.BaseURL)
			if !cmd.Flags().Changed("model") {
				cfg.OpenAI.Model = getEnvOrDefault("OPENAI_MODEL", cfg.OpenAI.Model)
			}
			cfg.Message = strings.TrimSpace(strings.Join(args, " "))

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runAgent(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&cfg.ConnectionID, "connection", "", "Connection ID of the mailbox. Can also use MAILAGENT_CONNECTION env var.")
	cmd.Flags().StringVar(&cfg.OpenAI.APIKey, "openai-api-key", "", "OpenAI API key. Can also use OPENAI_API_KEY env var.")
	cmd.Flags().StringVar(&cfg.OpenAI.Model, "model", string(llm.DefaultModel), "Chat model. Can also use OPENAI_MODEL env var.")
	cmd.Flags().StringVar(&cfg.OpenAI.BaseURL, "openai-base-url", "", "Override the OpenAI API base URL. Can also use OPENAI_BASE_URL env var.")
	addAgentFlags(cmd, &cfg.Agent)
	addVaultFlags(cmd, &cfg.Vault)
	return cmd
}

func runAgent(ctx context.Context, cfg AgentCmdConfig, in io.Reader, out, progress io.Writer) error {
	if cfg.ConnectionID == "" {
		return errors.New("--connection or MAILAGENT_CONNECTION is required")
	}
	if cfg.OpenAI.APIKey == "" {
		return errors.New("--openai-api-key or OPENAI_API_KEY is required")
	}

	logger := newLogger(cfg.Debug)
	v, store, err := openVault(ctx, cfg.Vault, logger, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	sc, err := server.NewServerContext(ctx, server.Config{
		Vault:  v,
		Plan:   tools.ParsePlan(cfg.Agent.Plan),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer sc.Shutdown()

	session, err := sc.Session(ctx, cfg.ConnectionID)
	if err != nil {
		return err
	}

	agentCfg := agent.DefaultConfig()
	agentCfg.MaxSteps = cfg.Agent.MaxSteps
	agentCfg.TurnTimeout = cfg.Agent.TurnTimeout
	orch := agent.New(llm.NewOpenAI(cfg.OpenAI, logger), session.Registry, agentCfg, agent.Options{
		Logger:   logger,
		Observer: &progressObserver{w: progress},
	})

	if cfg.Message != "" {
		_, err := runTurn(ctx, orch, session.Session, cfg.Message, nil, out)
		return err
	}
	return repl(ctx, orch, session.Session, in, out)
}

// runTurn runs one turn and prints its answer. The returned transcript
// carries the conversation forward.
func runTurn(ctx context.Context, orch *agent.Orchestrator, s tools.Session, msg string, transcript []agent.Message, out io.Writer) ([]agent.Message, error) {
	turn, err := orch.Run(ctx, s, msg, transcript)
	if turn != nil && turn.Final != "" {
		fmt.Fprintln(out, turn.Final)
	}
	if err != nil {
		return transcript, err
	}
	return turn.Transcript, nil
}

func repl(ctx context.Context, orch *agent.Orchestrator, s tools.Session, in io.Reader, out io.Writer) error {
	var transcript []agent.Message
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		msg := strings.TrimSpace(scanner.Text())
		if msg == "" {
			continue
		}
		next, err := runTurn(ctx, orch, s, msg, transcript, out)
		switch {
		case err == nil:
			transcript = next
		case errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, agent.ErrStepLimit), errors.Is(err, agent.ErrTurnTimeout):
			fmt.Fprintf(out, "turn stopped: %v\n", err)
		default:
			return err
		}
	}
}

// progressObserver writes turn progress lines.
type progressObserver struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *progressObserver) OnState(turnID string, s agent.State) {
	if s == agent.StateIdle {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "[%s] %s\n", shortID(turnID), s)
}

func (p *progressObserver) OnToolCall(turnID string, step int, call agent.ToolCall) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "[%s] step %d %s %s\n", shortID(turnID), step, call.Name, call.State)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
