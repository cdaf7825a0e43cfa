package scm

import (
	"context"
	"errors"
	"os"
)

// Target identifies a repository plus the credential used to reach it
type Target struct {
	Owner string
	Repo  string
	Token string
}

// PullRequestInput carries what the publish stage needs to open a PR
type PullRequestInput struct {
	Title string
	Body  string
	Head  string
	Base  string
}

// PullRequest is the provider's view of a pull request
type PullRequest struct {
	Number int
	URL    string
	State  string // "open" | "closed"
	Merged bool
}

// ErrFileNotFound is returned when a requested file does not exist at
// the given ref
var ErrFileNotFound = errors.New("file not found")

// Client is the source-control capability the pipeline consumes. One
// implementation per hosting provider; errors surface rate-limit and
// auth conditions as distinct fault kinds.
type Client interface {
	// CompareDiff fetches the unified diff between two commits
	CompareDiff(ctx context.Context, t Target, base, head string) (string, error)

	// GetFileContent fetches decoded file content at a ref
	GetFileContent(ctx context.Context, t Target, path, ref string) (string, error)

	// ListDocFiles recursively collects documentation files under the
	// given roots at a ref, returning path -> content
	ListDocFiles(ctx context.Context, t Target, roots []string, ref string) (map[string]string, error)

	// GetBranchSHA resolves a branch to its head commit
	GetBranchSHA(ctx context.Context, t Target, branch string) (string, error)

	// CreateBranch creates a branch from a commit SHA
	CreateBranch(ctx context.Context, t Target, branch, fromSHA string) error

	// PutFile creates or updates a file on a branch
	PutFile(ctx context.Context, t Target, path, content, message, branch string) error

	// CreatePull opens a pull request
	CreatePull(ctx context.Context, t Target, input PullRequestInput) (*PullRequest, error)

	// GetPull reads the current state of a pull request
	GetPull(ctx context.Context, t Target, number int) (*PullRequest, error)

	// CreateIssueComment posts a comment on a pull request
	CreateIssueComment(ctx context.Context, t Target, number int, body string) error

	// VerifyAccess checks the credential can reach the repository
	VerifyAccess(ctx context.Context, t Target) error
}

// ResolveCredential turns a project's opaque credential reference into a
// token. The reference names an environment slot; the raw secret is
// never persisted. Falls back to the service-wide token when the project
// has no credential of its own.
func ResolveCredential(ref, fallback string) string {
	if ref != "" {
		if token := os.Getenv(ref); token != "" {
			return token
		}
	}
	return fallback
}
