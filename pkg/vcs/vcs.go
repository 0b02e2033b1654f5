// Package vcs commits the generated artifacts to a git repository so
// every run leaves a durable, diffable history of the story. Pushing
// is best effort; a missing or unreachable remote never fails a run.
package vcs

import (
	"fmt"
	"time"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/odvcencio/scrivener/pkg/config"
	scrivenererrors "github.com/odvcencio/scrivener/pkg/errors"
	"github.com/odvcencio/scrivener/pkg/logging"
)

// Client wraps one repository with the pipeline's commit policy.
type Client struct {
	repo        *git.Repository
	enabled     bool
	repoPath    string
	remote      string
	authorName  string
	authorEmail string
	logger      *logging.Logger
}

// NewClient opens the configured repository, initializing it when it
// does not exist yet. A disabled config returns a client whose
// operations are no-ops.
func NewClient(cfg config.GitConfig, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if !cfg.Enabled {
		return &Client{enabled: false, logger: logger}, nil
	}

	repo, err := git.PlainOpen(cfg.RepoPath)
	if err == git.ErrRepositoryNotExists {
		repo, err = git.PlainInit(cfg.RepoPath, false)
	}
	if err != nil {
		return nil, scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "opening git repository")
	}

	return &Client{
		repo:        repo,
		enabled:     true,
		repoPath:    cfg.RepoPath,
		remote:      cfg.Remote,
		authorName:  cfg.AuthorName,
		authorEmail: cfg.AuthorEmail,
		logger:      logger,
	}, nil
}

// CommitAll stages everything and commits. An unchanged worktree is
// not an error; the returned hash is empty in that case.
func (c *Client) CommitAll(message string) (string, error) {
	if !c.enabled {
		return "", nil
	}

	wt, err := c.repo.Worktree()
	if err != nil {
		return "", scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "getting worktree")
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "staging changes")
	}

	status, err := wt.Status()
	if err != nil {
		return "", scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "reading status")
	}
	if status.IsClean() {
		c.logger.Debug(logging.CategoryVCS, "nothing_to_commit", "worktree clean, skipping commit", nil)
		return "", nil
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  c.authorName,
			Email: c.authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", scrivenererrors.Wrap(err, scrivenererrors.ErrCodePersistenceFailure, "committing")
	}

	c.logger.Info(logging.CategoryVCS, "committed", message, map[string]any{"hash": hash.String()})
	return hash.String(), nil
}

// Push pushes the current branch to the configured remote. Failures
// are logged and swallowed; history lives on locally either way.
func (c *Client) Push() {
	if !c.enabled {
		return
	}

	head, err := c.repo.Head()
	if err != nil {
		c.logger.Warn(logging.CategoryVCS, "push_skipped", "no HEAD to push", map[string]any{"error": err.Error()})
		return
	}

	rem, err := c.repo.Remote(c.remote)
	if err != nil {
		c.logger.Debug(logging.CategoryVCS, "push_skipped", "no remote configured", map[string]any{"remote": c.remote})
		return
	}

	branch := head.Name().Short()
	refSpec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err = rem.Push(&git.PushOptions{
		RemoteName: c.remote,
		RefSpecs:   []gitconfig.RefSpec{refSpec},
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		c.logger.Warn(logging.CategoryVCS, "push_failed", "continuing without push", map[string]any{
			"remote": c.remote,
			"error":  err.Error(),
		})
	}
}

// CommitAndPush commits everything, then pushes best effort.
func (c *Client) CommitAndPush(message string) (string, error) {
	hash, err := c.CommitAll(message)
	if err != nil {
		return "", err
	}
	if hash != "" {
		c.Push()
	}
	return hash, nil
}
