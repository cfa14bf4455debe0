package registry

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// UnknownKey selects the worker for requests whose session cannot be loaded.
const UnknownKey = "codex:unknown"

// ComputeKey derives the worker key for a session from its session file,
// terminal kind and session id. The pane id and transcript binding are both
// rewritten while a request may be in flight, so neither takes part.
func ComputeKey(h *Handle) string {
	if h == nil {
		return UnknownKey
	}
	hasher := blake3.New()
	_, _ = hasher.Write([]byte(h.SessionFile()))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write([]byte(h.Kind()))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write([]byte(h.SessionID()))
	return "codex:" + hex.EncodeToString(hasher.Sum(nil))[:16]
}
