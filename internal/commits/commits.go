package commits

import "context"

// CommitID identifies one commit in the external history.
type CommitID string

// CommitInfo is a commit together with its parent, enough to walk the
// history without knowing anything else about the host.
type CommitInfo struct {
	ID       CommitID `json:"id"`
	ParentID CommitID `json:"parent_id,omitempty"`
}

// Source exposes the external commit history. The host behind it is
// opaque; only ids and parent links matter here.
type Source interface {
	// LatestCommit returns the newest commit of the project's default
	// branch, or "" when the project has no commits.
	LatestCommit(ctx context.Context, projectID int64) (CommitID, error)
	// AllCommits returns the project's full commit history.
	AllCommits(ctx context.Context, projectID int64) ([]CommitInfo, error)
}
