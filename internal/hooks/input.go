package hooks

import (
	"encoding/json"
	"fmt"

	"github.com/lazypower/duro/internal/enforce"
)

// HookInput represents the JSON the agent sends on stdin to a PreToolUse
// hook.
type HookInput struct {
	SessionID      string          `json:"session_id"`
	TranscriptPath string          `json:"transcript_path"`
	CWD            string          `json:"cwd"`
	HookEventName  string          `json:"hook_event_name"`
	ToolName       string          `json:"tool_name"`
	ToolUseID      string          `json:"tool_use_id,omitempty"`
	ToolInput      json.RawMessage `json:"tool_input,omitempty"`
}

// toolArgs are the tool_input fields an operation is built from.
type toolArgs struct {
	Command      string `json:"command"`
	FilePath     string `json:"file_path"`
	NotebookPath string `json:"notebook_path"`
	Path         string `json:"path"`
	URL          string `json:"url"`
}

// metaTools never touch the workspace.
var metaTools = map[string]bool{
	"TodoRead":   true,
	"TodoWrite":  true,
	"Thinking":   true,
	"TaskList":   true,
	"TaskCreate": true,
	"TaskGet":    true,
	"TaskUpdate": true,
}

// readTools are reads that can be recorded in the change ledger.
var readTools = map[string]bool{
	"Read":         true,
	"NotebookRead": true,
}

// Operation converts the hook input into an enforcement operation.
func (h *HookInput) Operation(trackReads bool) (enforce.Operation, error) {
	if h.ToolName == "" {
		return enforce.Operation{}, fmt.Errorf("missing tool_name")
	}
	op := enforce.Operation{Tool: h.ToolName, ReadOnly: metaTools[h.ToolName]}
	if len(h.ToolInput) > 0 && string(h.ToolInput) != "null" {
		var args toolArgs
		if err := json.Unmarshal(h.ToolInput, &args); err != nil {
			return op, fmt.Errorf("decode tool_input: %w", err)
		}
		op.Command = args.Command
		for _, p := range []string{args.FilePath, args.NotebookPath, args.Path, args.URL} {
			if p != "" {
				op.Path = p
				break
			}
		}
	}
	op.Tracked = trackReads && readTools[h.ToolName] && op.Path != ""
	return op, nil
}
