package git

// RepositoryInfo contains information about the repository enclosing a work dir
type RepositoryInfo struct {
	Root          string `json:"root"`
	CurrentBranch string `json:"current_branch,omitempty"`
	RemoteURL     string `json:"remote_url,omitempty"`
	IsClean       bool   `json:"is_clean"`
}
