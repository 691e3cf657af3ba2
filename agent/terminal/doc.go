// Package terminal implements the interactive command-line frontend.
//
// It reads user prompts from stdin, runs one agent turn per prompt, and
// renders the turn's events as they arrive: assistant text streams to the
// terminal token by token, tool activity is shown according to the
// configured verbosity, and mutating tool calls are confirmed on stdin when
// the agent runs in prompt mode.
//
//	term := terminal.New(a)
//	err := term.Run(ctx, initialPrompt)
//
// The session ends on EOF or the /quit and /exit commands.
//
// # Verbosity
//
//   - None: tool activity is not shown
//   - Info: tool names are shown when called
//   - All: tool names, arguments, and results are shown
package terminal
