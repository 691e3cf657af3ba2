package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fpetrakis/vesper/config"
	"github.com/fpetrakis/vesper/errors"
	"github.com/fpetrakis/vesper/textutil"
)

const (
	maxReadFileSize    = 10 * 1024 * 1024
	maxReadTokenOutput = 25000
)

// ReadFileTool reads a window of a text file with line numbers.
type ReadFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Kind() Kind   { return KindRead }
func (t *ReadFileTool) Description() string {
	return "Read the contents of a text file. Returns the file content with line numbers. " +
		"For large files, use offset and limit to read only a portion of the file. " +
		"Cannot read binary files (images, executables, etc.)."
}

func (t *ReadFileTool) Parameters() map[string]interface{} {
	return ObjectSchema(map[string]interface{}{
		"path": map[string]interface{}{
			"type":        "string",
			"description": "The path to the file to read (relative to working directory or absolute path)",
		},
		"offset": map[string]interface{}{
			"type":        "integer",
			"minimum":     1,
			"description": "Line number to start reading from (1-based). Defaults to 1.",
		},
		"limit": map[string]interface{}{
			"type":        "integer",
			"minimum":     1,
			"description": "Maximum number of lines to read. If not provided, all lines from the offset are read.",
		},
	}, "path")
}

func (t *ReadFileTool) Execute(ctx context.Context, inv Invocation) (Result, error) {
	rawPath, ok := inv.Args["path"].(string)
	if !ok || rawPath == "" {
		return ErrorResult("missing or invalid 'path' argument"), nil
	}
	offset := intArg(inv.Args, "offset", 1)
	if offset < 1 {
		offset = 1
	}
	limit := intArg(inv.Args, "limit", 0)

	path := textutil.ResolvePath(inv.Cwd, rawPath)

	if hidden, err := isPathRestricted(rawPath, t.fsAccess.Hidden); err != nil {
		return ErrorResult(err.Error()), nil
	} else if hidden {
		return ErrorResult(fmt.Sprintf("access denied: path '%s' is hidden", rawPath)), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrorResult(fmt.Sprintf("File not found: %s", path)), nil
		}
		return ErrorResult(fmt.Sprintf("Failed to stat file: %v", err)), nil
	}
	if info.IsDir() {
		return ErrorResult(fmt.Sprintf("Not a file: %s", path)), nil
	}
	if info.Size() > maxReadFileSize {
		return ErrorResult(fmt.Sprintf("File too large (%.1f MB): %s",
			float64(info.Size())/1024/1024, path)), nil
	}
	if textutil.IsBinaryFile(path) {
		return ErrorResult(fmt.Sprintf("Cannot read binary files: %s", path)), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Failed to read file: %v", err)), nil
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return SuccessResult("File is empty").
			WithMetadata(map[string]interface{}{"lines": 0}), nil
	}

	end := len(lines)
	if limit > 0 && offset-1+limit < end {
		end = offset - 1 + limit
	}
	if offset-1 >= len(lines) {
		return ErrorResult(fmt.Sprintf("Offset %d is past the end of the file (%d lines)", offset, len(lines))), nil
	}
	selected := lines[offset-1 : end]

	var b strings.Builder
	for i, line := range selected {
		fmt.Fprintf(&b, "%6d|%s\n", offset+i, line)
	}
	output := strings.TrimSuffix(b.String(), "\n")

	truncated := textutil.CountTokens(output) > maxReadTokenOutput
	if truncated {
		output = textutil.Truncate(output, maxReadTokenOutput,
			fmt.Sprintf("\n... [truncated. Total line count %d]", len(lines)))
	}

	if offset > 1 || end < len(lines) {
		output = fmt.Sprintf("Showing lines %d-%d of %d\n\n%s", offset, end, len(lines), output)
	}

	return Result{
		Success:   true,
		Output:    output,
		Truncated: truncated,
		Metadata: map[string]interface{}{
			"total_lines": len(lines),
			"path":        path,
			"shown_start": offset,
			"shown_end":   end,
		},
	}, nil
}

// WriteFileTool writes content to a file, replacing it entirely.
type WriteFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Kind() Kind   { return KindWrite }
func (t *WriteFileTool) Description() string {
	return "Writes content to a file, replacing it entirely. Args: path (string), content (string)."
}

func (t *WriteFileTool) Parameters() map[string]interface{} {
	return ObjectSchema(map[string]interface{}{
		"path": map[string]interface{}{
			"type":        "string",
			"description": "The path of the file to write",
		},
		"content": map[string]interface{}{
			"type":        "string",
			"description": "The full new content of the file",
		},
	}, "path", "content")
}

func (t *WriteFileTool) Execute(ctx context.Context, inv Invocation) (Result, error) {
	rawPath, pathOk := inv.Args["path"].(string)
	content, contentOk := inv.Args["content"].(string)
	if !pathOk || !contentOk {
		return ErrorResult("missing or invalid 'path' or 'content' arguments"), nil
	}

	path := textutil.ResolvePath(inv.Cwd, rawPath)

	if hidden, err := isPathRestricted(rawPath, t.fsAccess.Hidden); err != nil {
		return ErrorResult(err.Error()), nil
	} else if hidden {
		return ErrorResult(fmt.Sprintf("access denied: path '%s' is hidden", rawPath)), nil
	}
	if readOnly, err := isPathRestricted(rawPath, t.fsAccess.ReadOnly); err != nil {
		return ErrorResult(err.Error()), nil
	} else if readOnly {
		return ErrorResult(fmt.Sprintf("access denied: path '%s' is read-only", rawPath)), nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return Result{}, errors.Wrapf(err, "failed to create directory '%s'", dir)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return Result{}, errors.Wrapf(err, "failed to write to file '%s'", path)
	}
	return SuccessResult(fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path)), nil
}

// intArg reads an integer argument that JSON decoding may have produced as
// float64, int or a numeric string-less form.
func intArg(args map[string]interface{}, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return def
}
