package mcp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yeahnangua/claude-code-bridge/internal/rpc"
)

// ErrorWithSuggestions is an error carrying hints for the calling agent.
type ErrorWithSuggestions struct {
	Message     string
	Suggestions []string
}

// Error returns the message followed by the suggestions.
func (e *ErrorWithSuggestions) Error() string {
	if len(e.Suggestions) == 0 {
		return e.Message
	}

	var sb strings.Builder
	sb.WriteString(e.Message)
	sb.WriteString("\n\nTry:\n")
	for _, suggestion := range e.Suggestions {
		sb.WriteString("  - ")
		sb.WriteString(suggestion)
		sb.WriteString("\n")
	}
	return sb.String()
}

// NewErrorWithSuggestions creates an error with hints.
func NewErrorWithSuggestions(message string, suggestions ...string) error {
	return &ErrorWithSuggestions{
		Message:     message,
		Suggestions: suggestions,
	}
}

// daemonError explains a failed daemon call.
func daemonError(err error) error {
	switch {
	case errors.Is(err, rpc.ErrDaemonNotRunning):
		return NewErrorWithSuggestions(
			fmt.Sprintf("ask daemon is not running: %v", err),
			"askd serve - Start the daemon",
		)
	case errors.Is(err, rpc.ErrDaemonStale):
		return NewErrorWithSuggestions(
			fmt.Sprintf("ask daemon is not answering: %v", err),
			"askd serve - Restart the daemon",
			"askd ping - Check the daemon again",
		)
	}
	return fmt.Errorf("daemon call failed: %w", err)
}

// InvalidParameterError reports a bad tool argument.
func InvalidParameterError(param string, expected string) error {
	return NewErrorWithSuggestions(
		fmt.Sprintf("invalid %s: expected %s", param, expected),
		"Check the tool description for parameter requirements",
	)
}
