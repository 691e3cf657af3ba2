package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/fpetrakis/vesper/errors"
)

// ExecuteCommandTool runs OS commands matched against the configured
// allowlist of wildcard patterns.
type ExecuteCommandTool struct {
	allowedCommands []string
}

func (t *ExecuteCommandTool) Name() string { return "execute_command" }
func (t *ExecuteCommandTool) Kind() Kind   { return KindShell }

func (t *ExecuteCommandTool) Description() string {
	if len(t.allowedCommands) == 0 {
		return "Executes a shell command. No commands are currently allowed."
	}

	allowedList := "Allowed command wildcard patterns:\n"
	for _, cmd := range t.allowedCommands {
		allowedList += fmt.Sprintf("- %s\n", cmd)
	}

	return fmt.Sprintf("Executes a shell command.\n%s", allowedList)
}

func (t *ExecuteCommandTool) Parameters() map[string]interface{} {
	return ObjectSchema(map[string]interface{}{
		"command": map[string]interface{}{
			"type":        "string",
			"description": "The command line to execute",
		},
	}, "command")
}

func (t *ExecuteCommandTool) Execute(ctx context.Context, inv Invocation) (Result, error) {
	command, ok := inv.Args["command"].(string)
	if !ok {
		return ErrorResult("missing or invalid 'command' argument"), nil
	}

	allowed, err := isCommandAllowed(command, t.allowedCommands)
	if err != nil {
		return Result{}, err
	}
	if !allowed {
		return ErrorResult(fmt.Sprintf("command '%s' is not in the list of allowed commands", command)), nil
	}

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return ErrorResult("empty command"), nil
	}
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	if inv.Cwd != "" {
		cmd.Dir = inv.Cwd
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		wrapped := errors.Wrapf(err, "command execution failed")
		r := ErrorResult(wrapped.Error())
		r.Output = string(output)
		return r, nil
	}

	return SuccessResult(string(output)), nil
}
