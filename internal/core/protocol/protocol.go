// Package protocol defines how a request is marked inside an agent prompt and
// how the agent's completion sentinel is recognised in its reply.
package protocol

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReqIDPrefix precedes the request id in the injected prompt. Its echo in the
// transcript is the anchor.
const ReqIDPrefix = "CCB_REQ_ID:"

// NewReqID returns a fresh request id such as "20261016-101502-1a2b3c4d".
func NewReqID() string {
	return fmt.Sprintf("%s-%s", time.Now().Format("20060102-150405"), uuid.New().String()[:8])
}

// Anchor is the exact text the user-echo must contain for reqID.
func Anchor(reqID string) string {
	return ReqIDPrefix + " " + reqID
}

// DoneMarker is the sentinel the agent prints as the last line of its reply.
func DoneMarker(reqID string) string {
	return "<DONE:" + reqID + ">"
}

// WrapPrompt embeds the request id marker and completion instructions into message.
func WrapPrompt(message, reqID string) string {
	message = strings.TrimRight(message, "\n")
	var b strings.Builder
	b.WriteString(Anchor(reqID))
	b.WriteString("\n\n")
	b.WriteString(message)
	b.WriteString("\n\nIMPORTANT:\n")
	b.WriteString("- Reply normally.\n")
	b.WriteString("- End your reply with this exact final line (verbatim, on its own line):\n")
	b.WriteString(DoneMarker(reqID))
	b.WriteString("\n")
	return b.String()
}

// IsDoneText reports whether the last non-empty line of text is the done marker for reqID.
func IsDoneText(text, reqID string) bool {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		return line == DoneMarker(reqID)
	}
	return false
}

// StripDoneText removes the trailing done marker line (and surrounding blank
// lines) from text. Text without the marker is only right-trimmed.
func StripDoneText(text, reqID string) string {
	lines := strings.Split(text, "\n")
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	if end > 0 && strings.TrimSpace(lines[end-1]) == DoneMarker(reqID) {
		end--
	}
	return strings.TrimRight(strings.Join(lines[:end], "\n"), " \t\r\n")
}
