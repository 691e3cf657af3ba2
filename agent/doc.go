// Package agent implements the conversation loop shared by the interaction
// frontends (terminal CLI and ACP server).
//
// An Agent runs one turn at a time: the user's message is recorded, the
// model's response is streamed, any requested tool calls are executed, and
// everything lands in the session. Frontends observe a turn through the
// event channel Run returns:
//
//	a, err := agent.New(cfg, sess, toolset, mode, verbosity, client)
//	if err != nil {
//	    // handle error
//	}
//	defer a.Close()
//
//	for ev := range a.Run(ctx, "user message") {
//	    switch ev.Type {
//	    case agent.EventTextDelta:
//	        // render streaming text
//	    case agent.EventToolInvocationFinished:
//	        // render a tool result
//	    case agent.EventTurnError:
//	        // the turn failed; nothing was recorded
//	    }
//	}
//
// Every turn ends with exactly one terminal event, EventTurnFinished or
// EventTurnError, after which the channel is closed.
//
// A turn issues exactly one model request. Tool results are recorded in the
// session and picked up by the next turn's request instead of triggering an
// immediate follow-up call.
//
// # Modes
//
//   - ModeAuto: tools run without confirmation
//   - ModePrompt: mutating tools go through the agent's Confirm function
//
// # Subpackages
//
// agent/terminal renders events interactively on a TTY. agent/acp relays
// them as JSON-RPC session/update notifications for IDE integration.
package agent
