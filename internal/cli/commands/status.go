package commands

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yeahnangua/claude-code-bridge/internal/cli/ui"
	"github.com/yeahnangua/claude-code-bridge/internal/core/git"
	"github.com/yeahnangua/claude-code-bridge/internal/core/registry"
	"github.com/yeahnangua/claude-code-bridge/internal/rpc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon workers and cached sessions",
	Long: `Show the daemon's worker count and the sessions its registry has cached,
followed by the session file and repository of the current directory.`,
	RunE: runStatus,
}

// projectInfo describes the session lookup for a directory.
type projectInfo struct {
	WorkDir     string `json:"work_dir"`
	SessionFile string `json:"session_file,omitempty"`
	RepoRoot    string `json:"repo_root,omitempty"`
	Branch      string `json:"branch,omitempty"`
}

type statusOutput struct {
	Daemon  *rpc.DaemonStatus `json:"daemon"`
	Project projectInfo       `json:"project"`
}

func describeProject(dir string) projectInfo {
	info := projectInfo{WorkDir: dir}
	if path, ok := registry.FindSessionFile(dir); ok {
		info.SessionFile = path
	}
	if repo, err := git.NewOperations(dir).GetRepositoryInfo(); err == nil {
		info.RepoRoot = repo.Root
		info.Branch = repo.CurrentBranch
	}
	return info
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := newClient(cfg).Status(cmd.Context())
	if err != nil {
		return describeDaemonError(err)
	}

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	project := describeProject(wd)

	if ui.GlobalFormatter.IsJSON() {
		return ui.GlobalFormatter.Output(statusOutput{Daemon: st, Project: project})
	}

	var buf bytes.Buffer
	ui.PrintDaemonStatus(&buf, st)
	fmt.Fprintf(&buf, "\n%s %s\n", ui.InfoIcon, ui.BoldStyle.Render(project.WorkDir))
	sessionFile := project.SessionFile
	if sessionFile == "" {
		sessionFile = ui.DimStyle.Render("none")
	}
	fmt.Fprintf(&buf, "   %s %s\n", ui.DimStyle.Render("Session file:"), sessionFile)
	if project.RepoRoot != "" {
		fmt.Fprintf(&buf, "   %s %s (%s)\n", ui.DimStyle.Render("Repository:"), project.RepoRoot, project.Branch)
	}
	return ui.GlobalFormatter.Output(buf.String())
}
