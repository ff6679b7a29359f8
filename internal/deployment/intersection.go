package deployment

import (
	"context"

	slogcontext "github.com/veqryn/slog-context"

	"github.com/reillywatson/autodeploy/internal/project"
	"github.com/reillywatson/autodeploy/internal/scm"
)

// DefaultIntersectionLimit is how many commits of each history are inspected.
const DefaultIntersectionLimit = 300

// IntersectionFinder finds the newest commit of a private auto-deploy ref
// that also exists on the default branch of the public repository.
type IntersectionFinder struct {
	client scm.Client
	Limit  int
}

func NewIntersectionFinder(client scm.Client) *IntersectionFinder {
	return &IntersectionFinder{client: client, Limit: DefaultIntersectionLimit}
}

// Find returns the intersection of p's public default branch and sha in p's
// private fork. Failures, including API errors that survived retries, are
// logged and reported as no intersection.
func (f *IntersectionFinder) Find(ctx context.Context, p project.Project, sha string) (string, bool) {
	logger := slogcontext.FromCtx(ctx).With("project", p.Canonical, "sha", sha)

	canonical := make(map[string]struct{}, f.Limit)
	err := f.walk(ctx, p.Canonical, p.DefaultBranch, func(c scm.Commit) bool {
		canonical[c.ID] = struct{}{}
		return true
	})
	if err != nil {
		logger.Warn("Failed to find auto-deploy intersection", "error", err)
		return "", false
	}

	var found string
	err = f.walk(ctx, p.AutoDeployPath(), sha, func(c scm.Commit) bool {
		if _, ok := canonical[c.ID]; ok {
			found = c.ID
			return false
		}
		return true
	})
	if err != nil {
		logger.Warn("Failed to find auto-deploy intersection", "error", err)
		return "", false
	}

	if found == "" {
		logger.Warn("Failed to find auto-deploy intersection")
		return "", false
	}
	return found, true
}

// walk visits up to Limit commits of ref, newest first, until visit returns false.
func (f *IntersectionFinder) walk(ctx context.Context, repo, ref string, visit func(scm.Commit) bool) error {
	seen := 0
	page := 1
	for seen < f.Limit {
		result, err := f.client.ListCommits(ctx, repo, ref, page)
		if err != nil {
			return err
		}

		for _, c := range result.Commits {
			if seen >= f.Limit {
				return nil
			}
			seen++
			if !visit(c) {
				return nil
			}
		}

		if result.NextPage == 0 || len(result.Commits) == 0 {
			return nil
		}
		page = result.NextPage
	}
	return nil
}
