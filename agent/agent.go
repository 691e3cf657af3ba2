package agent

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpetrakis/vesper/config"
	"github.com/fpetrakis/vesper/llm"
	"github.com/fpetrakis/vesper/session"
	"github.com/fpetrakis/vesper/tools"
)

type Mode string

const (
	// ModeAuto executes every tool call without asking.
	ModeAuto Mode = "auto"
	// ModePrompt asks for confirmation before running mutating tools.
	ModePrompt Mode = "prompt"
)

type ToolVerbosity string

const (
	ToolVerbosityNone ToolVerbosity = "none"
	ToolVerbosityInfo ToolVerbosity = "info"
	ToolVerbosityAll  ToolVerbosity = "all"
)

// ConfirmFunc decides whether a mutating tool call may run. Returning false
// records a denial as the tool's result without executing it.
type ConfirmFunc func(tc llm.ToolCall) bool

// Agent drives conversation turns: it streams one model response per user
// message, executes any requested tools, and records everything in the
// session. A turn never re-queries the model after tool execution; results
// are picked up by the next turn's request.
type Agent struct {
	Config    *config.Config
	Session   *session.Session
	Client    llm.Client
	Executor  *tools.Executor
	Mode      Mode
	Verbosity ToolVerbosity
	// Confirm gates mutating tools in prompt mode. Nil means allow.
	Confirm ConfirmFunc

	registry *tools.Registry
	cwd      string
}

// New assembles an agent for the named toolset.
func New(cfg *config.Config, sess *session.Session, toolset string, mode Mode, verbosity ToolVerbosity, client llm.Client) (*Agent, error) {
	ts, err := cfg.GetToolset(toolset)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry(cfg)
	activeTools, err := registry.ActiveTools(ts)
	if err != nil {
		registry.Close()
		return nil, err
	}

	cwd, err := os.Getwd()
	if err != nil {
		registry.Close()
		return nil, err
	}

	// A resumed session keeps the prompt it was started with.
	if sess.SystemPrompt == "" {
		sess.SystemPrompt = cfg.SystemPrompt
	}

	return &Agent{
		Config:    cfg,
		Session:   sess,
		Client:    client,
		Executor:  tools.NewExecutor(activeTools),
		Mode:      mode,
		Verbosity: verbosity,
		registry:  registry,
		cwd:       cwd,
	}, nil
}

// Close releases the model client and stops MCP server subprocesses.
func (a *Agent) Close() {
	if err := a.Client.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing model client")
	}
	if a.registry != nil {
		a.registry.Close()
	}
}

// Run executes one conversation turn for the given user input. It returns
// immediately; lifecycle events arrive on the returned channel, which is
// closed after the terminal event. Cancelling ctx stops the turn.
func (a *Agent) Run(ctx context.Context, userInput string) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		a.processTurn(ctx, userInput, events)
	}()
	return events
}

// emit delivers ev unless the turn has been cancelled. Reports false on
// cancellation so the loop can unwind.
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (a *Agent) processTurn(ctx context.Context, userInput string, events chan<- Event) {
	a.Session.AddMessage(session.Message{Role: session.RoleUser, Content: userInput})
	if !emit(ctx, events, turnStarted()) {
		return
	}

	var schemas []tools.Schema
	if a.Executor.Len() > 0 {
		schemas = a.Executor.Schemas()
	}

	stream := a.Client.Stream(ctx, a.Session.Snapshot(), schemas)
	defer stream.Close()

	var text strings.Builder
	var pending []llm.ToolCall
	var usage *llm.TokenUsage

	for {
		ev, ok := stream.Recv()
		if !ok {
			break
		}
		switch ev.Type {
		case llm.StreamTextFragment:
			text.WriteString(ev.Text)
			if !emit(ctx, events, textDelta(ev.Text)) {
				return
			}
		case llm.StreamToolCallFinished:
			pending = append(pending, *ev.ToolCall)
		case llm.StreamMessageFinished:
			usage = ev.Usage
		case llm.StreamTransportError:
			// The turn dies whole: no partial assistant message is
			// recorded and no tools run.
			log.Warn().Str("error", ev.Err).Msg("turn failed on transport error")
			emit(ctx, events, turnError(ev.Err))
			return
		}
	}

	if text.Len() > 0 {
		if !emit(ctx, events, textFinished(text.String())) {
			return
		}
	}

	assistantMsg := session.Message{
		Role:    session.RoleAssistant,
		Content: text.String(),
	}
	for _, tc := range pending {
		assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, session.ToolCall{
			ToolCallID: tc.ID,
			Name:       tc.Name,
			Args:       tc.Arguments,
		})
	}
	a.Session.AddMessage(assistantMsg)

	// Execute the whole batch before recording any results, so tool
	// messages land as one contiguous block after the assistant message.
	results := make([]tools.Result, len(pending))
	for i := range pending {
		tc := &pending[i]
		if !emit(ctx, events, toolStarted(tc)) {
			return
		}
		results[i] = a.invokeTool(ctx, *tc)
		if !emit(ctx, events, toolFinished(tc, results[i])) {
			return
		}
	}
	for i := range pending {
		a.Session.AddMessage(session.Message{
			Role:       session.RoleTool,
			Content:    results[i].ModelOutput(),
			ToolCallID: pending[i].ID,
		})
	}

	if err := a.Session.Save(); err != nil {
		log.Warn().Err(err).Msg("failed to save session")
	}

	emit(ctx, events, turnFinished(text.String(), usage))
}

func (a *Agent) invokeTool(ctx context.Context, tc llm.ToolCall) tools.Result {
	if a.Mode == ModePrompt {
		if t, ok := a.Executor.Get(tc.Name); ok && t.Kind().Mutating() {
			if a.Confirm != nil && !a.Confirm(tc) {
				log.Info().Str("tool", tc.Name).Msg("tool execution denied by user")
				return tools.ErrorResult("tool execution denied by user")
			}
		}
	}
	return a.Executor.Invoke(ctx, tc.Name, tc.Arguments, a.cwd)
}
