package tools

import "fmt"

// Result is the outcome of one tool invocation. It is immutable once
// produced and is always returned, never raised: execution failures,
// unknown tools and bad arguments all become failed Results so the model
// can react to them in a later turn.
type Result struct {
	Success   bool                   `json:"success"`
	Output    string                 `json:"output"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
}

// SuccessResult builds a successful result.
func SuccessResult(output string) Result {
	return Result{Success: true, Output: output}
}

// ErrorResult builds a failed result.
func ErrorResult(err string) Result {
	return Result{Success: false, Error: err}
}

// WithMetadata returns a copy of the result carrying extra key/value
// context for observers.
func (r Result) WithMetadata(md map[string]interface{}) Result {
	r.Metadata = md
	return r
}

// ModelOutput renders the result as the content of the tool-role message
// fed back to the model.
func (r Result) ModelOutput() string {
	if r.Success {
		return r.Output
	}
	return fmt.Sprintf("Error: %s\nOutput: %s", r.Error, r.Output)
}
