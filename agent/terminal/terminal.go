package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fpetrakis/vesper/agent"
	"github.com/fpetrakis/vesper/llm"
)

// Terminal is the interactive CLI frontend. It renders the agent's
// lifecycle events as they arrive, streaming assistant text token by token.
type Terminal struct {
	agent *agent.Agent
	in    *bufio.Reader
	out   io.Writer
}

// New creates a Terminal reading from stdin and writing to stdout.
func New(a *agent.Agent) *Terminal {
	t := &Terminal{
		agent: a,
		in:    bufio.NewReader(os.Stdin),
		out:   os.Stdout,
	}
	a.Confirm = t.confirm
	return t
}

// Run starts the interactive session.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	if initialPrompt != "" {
		t.processTurn(ctx, initialPrompt)
	}

	for {
		fmt.Fprint(t.out, "You: ")
		line, err := t.in.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		userInput := strings.TrimSpace(line)
		if userInput == "" {
			continue
		}
		if userInput == "/quit" || userInput == "/exit" {
			return nil
		}

		t.processTurn(ctx, userInput)
	}
}

// processTurn renders one turn's event sequence.
func (t *Terminal) processTurn(ctx context.Context, userInput string) {
	streaming := false
	for ev := range t.agent.Run(ctx, userInput) {
		switch ev.Type {
		case agent.EventTextDelta:
			if !streaming {
				fmt.Fprint(t.out, "Vesper: ")
				streaming = true
			}
			fmt.Fprint(t.out, ev.Text)
		case agent.EventTextFinished:
			if streaming {
				fmt.Fprintln(t.out)
				streaming = false
			}
		case agent.EventToolInvocationStarted:
			switch t.agent.Verbosity {
			case agent.ToolVerbosityAll:
				fmt.Fprintf(t.out, "Vesper is calling tool `%s` with args: %v\n", ev.ToolCall.Name, ev.ToolCall.Arguments)
			case agent.ToolVerbosityInfo:
				fmt.Fprintf(t.out, "Vesper is calling tool `%s`\n", ev.ToolCall.Name)
			}
		case agent.EventToolInvocationFinished:
			if t.agent.Verbosity == agent.ToolVerbosityAll {
				fmt.Fprintf(t.out, "Tool `%s` output: %s\n", ev.ToolCall.Name, ev.Result.ModelOutput())
			}
		case agent.EventTurnError:
			if streaming {
				fmt.Fprintln(t.out)
				streaming = false
			}
			fmt.Fprintf(t.out, "Error: %s\n", ev.Err)
		}
	}
}

// confirm asks on stdin whether a mutating tool call may run.
func (t *Terminal) confirm(tc llm.ToolCall) bool {
	fmt.Fprintf(t.out, "Vesper wants to call tool `%s` with args: %v\n", tc.Name, tc.Arguments)
	fmt.Fprint(t.out, "Do you want to allow this? (y/n): ")
	answer, err := t.in.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(strings.ToLower(answer)) == "y"
}
