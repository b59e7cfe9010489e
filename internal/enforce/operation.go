package enforce

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// PreviewMax bounds the command preview stored in audit entries and the
// scoreboard.
const PreviewMax = 120

// Operation is a proposed privileged action.
type Operation struct {
	Tool     string `json:"tool"`
	Command  string `json:"command,omitempty"`
	Path     string `json:"path,omitempty"`
	Category string `json:"category,omitempty"`
	// ReadOnly marks a pure read. It is ignored when Command is set.
	ReadOnly bool `json:"read_only,omitempty"`
	// Tracked asks for a safe operation to be recorded in the change ledger.
	Tracked bool `json:"tracked,omitempty"`
}

// Subject is the text rule patterns are matched against: the command for
// shell tools, the path otherwise.
func (op Operation) Subject() string {
	if op.Command != "" {
		return op.Command
	}
	return op.Path
}

// Preview returns the operation subject collapsed to one line and bounded to
// PreviewMax characters.
func (op Operation) Preview() string {
	s := op.Subject()
	if s == "" {
		s = op.Tool
	}
	return truncatePreview(s, PreviewMax)
}

// truncatePreview collapses whitespace and cuts s to at most max runes,
// backing up to the last space when one is close to the cut.
func truncatePreview(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	const ellipsis = "..."
	runes := []rune(s)
	cut := max - len(ellipsis)
	truncated := string(runes[:cut])
	if idx := strings.LastIndexFunc(truncated, unicode.IsSpace); idx > len(truncated)-20 && idx > 0 {
		truncated = truncated[:idx]
	}
	return strings.TrimSpace(truncated) + ellipsis
}
