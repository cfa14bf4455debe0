package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/yeahnangua/claude-code-bridge/internal/core/registry"
	"github.com/yeahnangua/claude-code-bridge/internal/rpc"
)

// Error prints a styled error to stderr.
func Error(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ErrorIcon, ErrorStyle.Render(fmt.Sprintf(format, args...)))
}

// Success prints a styled success line.
func Success(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", SuccessIcon, SuccessStyle.Render(fmt.Sprintf(format, args...)))
}

// Info prints a styled informational line.
func Info(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", InfoIcon, InfoStyle.Render(fmt.Sprintf(format, args...)))
}

// Warning prints a styled warning to stderr.
func Warning(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", WarningIcon, WarningStyle.Render(fmt.Sprintf(format, args...)))
}

// OutputLine prints a plain formatted line.
func OutputLine(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
}

// FormatDuration formats a duration into a human-readable string
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "< 1m"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// PrintDaemonStatus renders a daemon status with its session table.
func PrintDaemonStatus(w io.Writer, st *rpc.DaemonStatus) {
	_, _ = fmt.Fprintf(w, "%s %s %s\n",
		DaemonIcon,
		BoldStyle.Render(st.Kind+"d"),
		DimStyle.Render(fmt.Sprintf("(pid %d)", st.PID)),
	)
	_, _ = fmt.Fprintf(w, "   %s %d\n", DimStyle.Render("Workers:"), st.Workers)
	if busy := busyWorkers(st.Pending); len(busy) > 0 {
		_, _ = fmt.Fprintf(w, "   %s %s\n", DimStyle.Render("Queued:"), strings.Join(busy, ", "))
	}
	_, _ = fmt.Fprintf(w, "   %s %d/%d valid\n", DimStyle.Render("Sessions:"), st.Registry.Valid, st.Registry.Total)
	PrintSessionTable(w, st.Registry.Sessions)
}

// busyWorkers lists "key (n)" for workers with queued jobs, sorted by key.
func busyWorkers(pending map[string]int) []string {
	keys := make([]string, 0, len(pending))
	for key, n := range pending {
		if n > 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, key := range keys {
		out[i] = fmt.Sprintf("%s (%d)", key, pending[key])
	}
	return out
}

// PrintSessionTable lists cached sessions.
func PrintSessionTable(w io.Writer, sessions []registry.SessionStatus) {
	if len(sessions) == 0 {
		_, _ = fmt.Fprintf(w, "%s %s\n", InfoIcon, InfoStyle.Render("No sessions cached"))
		return
	}

	tbl := NewTable("WORK DIR", "STATE", "PANE", "SESSION KEY").WithWriter(w)
	for _, s := range sessions {
		state := SuccessStyle.Render("valid")
		if !s.Valid {
			state = WarningStyle.Render("invalid")
		}
		tbl.AddRow(s.WorkDir, state, orDash(s.PaneID), orDash(s.SessionKey))
	}

	PrintSectionHeader(w, SessionIcon, "Sessions", len(sessions))
	tbl.Print()
}

// ExitLabel describes an ask exit code.
func ExitLabel(code int) string {
	switch code {
	case 0:
		return SuccessStyle.Render("ok")
	case 2:
		return WarningStyle.Render("timeout")
	default:
		return ErrorStyle.Render("error")
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
