package autodeploy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	slogcontext "github.com/veqryn/slog-context"
	"golang.org/x/sync/errgroup"

	"github.com/reillywatson/autodeploy/internal/project"
	"github.com/reillywatson/autodeploy/internal/scm"
	"github.com/reillywatson/autodeploy/internal/version"
)

const (
	DefaultDaysToKeep     = 7
	DefaultCleanupWorkers = 4
	autoDeployMarker      = "-auto-deploy-"
)

// Cleanup deletes auto-deploy branches older than Days from every project.
// Workers below 1 run the projects one at a time.
type Cleanup struct {
	client  scm.Client
	Days    int
	Workers int
	DryRun  bool
	Now     func() time.Time
}

func NewCleanup(client scm.Client) *Cleanup {
	return &Cleanup{client: client, Days: DefaultDaysToKeep, Workers: DefaultCleanupWorkers, Now: time.Now}
}

// DeletedBranch is a branch removed by a cleanup.
type DeletedBranch struct {
	Repo   string
	Branch string
}

// Run cleans the canonical and security repositories of every auto-deploy
// project concurrently. Branches dated on or before the cutoff are deleted.
func (c *Cleanup) Run(ctx context.Context) ([]DeletedBranch, error) {
	minimum := c.Now().UTC().AddDate(0, 0, -c.Days)
	slogcontext.FromCtx(ctx).Info("Cleaning up auto-deploy branches", "days", c.Days, "minimum", minimum)

	var repos []string
	for _, p := range project.AutoDeployProjects {
		repos = append(repos, p.Canonical)
		if p.Security != "" {
			repos = append(repos, p.Security)
		}
	}

	var (
		mu      sync.Mutex
		deleted []DeletedBranch
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.Workers, 1))
	for _, repo := range repos {
		g.Go(func() error {
			names, err := c.cleanRepo(ctx, repo, minimum)
			mu.Lock()
			defer mu.Unlock()
			for _, name := range names {
				deleted = append(deleted, DeletedBranch{Repo: repo, Branch: name})
			}
			return err
		})
	}
	err := g.Wait()
	return deleted, err
}

func (c *Cleanup) cleanRepo(ctx context.Context, repo string, minimum time.Time) ([]string, error) {
	logger := slogcontext.FromCtx(ctx).With("project", repo)

	var outdated []string
	for page := 1; page > 0; {
		branches, err := c.client.Branches(ctx, repo, page)
		if err != nil {
			return nil, fmt.Errorf("failed to list branches of %s: %w", repo, err)
		}

		for _, b := range branches.Branches {
			if !strings.Contains(b.Name, autoDeployMarker) {
				continue
			}
			decoded, err := version.DecodeBranch(b.Name)
			if err != nil {
				logger.Error("Invalid auto-deploy branch name", "branch", b.Name, "error", err)
				continue
			}
			if !decoded.Time.After(minimum) {
				outdated = append(outdated, b.Name)
			}
		}
		page = branches.NextPage
	}

	var deleted []string
	for _, name := range outdated {
		logger.Info("Deleting outdated auto-deploy branch", "branch", name, "dry_run", c.DryRun)
		if c.DryRun {
			deleted = append(deleted, name)
			continue
		}
		if err := c.client.DeleteBranch(ctx, repo, name); err != nil {
			return deleted, fmt.Errorf("failed to delete %s from %s: %w", name, repo, err)
		}
		deleted = append(deleted, name)
	}
	return deleted, nil
}
