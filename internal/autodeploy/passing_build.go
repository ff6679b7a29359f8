package autodeploy

import (
	"context"
	"errors"
	"fmt"

	slogcontext "github.com/veqryn/slog-context"

	"github.com/reillywatson/autodeploy/internal/metadata"
	"github.com/reillywatson/autodeploy/internal/project"
	"github.com/reillywatson/autodeploy/internal/scm"
)

// maxCommitsToCheck bounds how far back a passing build is searched for.
const maxCommitsToCheck = 100

// ErrNoPassingBuild is returned when no commit on a branch has passed CI.
var ErrNoPassingBuild = errors.New("no passing build")

// PassingBuild finds the newest commit of a branch whose CI passed.
type PassingBuild struct {
	client scm.Client
	Limit  int
}

func NewPassingBuild(client scm.Client) *PassingBuild {
	return &PassingBuild{client: client, Limit: maxCommitsToCheck}
}

// Find walks the history of branch in repo, newest first, and returns the
// first commit with a successful status. The walk stops at minimum, the
// commit a previous run already deployed, which is returned as is. An empty
// minimum does not bound the walk.
func (b *PassingBuild) Find(ctx context.Context, repo, branch, minimum string) (*scm.Commit, error) {
	logger := slogcontext.FromCtx(ctx).With("project", repo, "branch", branch)

	checked := 0
	for page := 1; page > 0 && checked < b.Limit; {
		commits, err := b.client.ListCommits(ctx, repo, branch, page)
		if err != nil {
			return nil, fmt.Errorf("failed to list commits of %s: %w", branch, err)
		}

		for _, c := range commits.Commits {
			if checked == b.Limit {
				break
			}
			checked++

			if minimum != "" && c.ID == minimum {
				logger.Info("Reached the minimum commit", "commit", c.ID)
				return &c, nil
			}

			state, err := b.client.CommitStatus(ctx, repo, c.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch the status of %s: %w", c.ID, err)
			}
			if state == scm.StatusSuccess {
				logger.Info("Passing commit found", "commit", c.ID)
				return &c, nil
			}
			logger.Info("Skipping commit because the pipeline did not succeed", "commit", c.ID, "status", state)
		}
		page = commits.NextPage
	}

	return nil, fmt.Errorf("%w of %s for %s", ErrNoPassingBuild, repo, branch)
}

// minimumCommit is the core commit recorded by the previous run, if any.
func minimumCommit(md *metadata.ReleaseMetadata) string {
	r, ok := md.Release(project.CoreApp.Name)
	if !ok {
		return ""
	}
	return r.SHA
}
