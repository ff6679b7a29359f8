package autodeploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	slogcontext "github.com/veqryn/slog-context"

	"github.com/reillywatson/autodeploy/internal/config"
	"github.com/reillywatson/autodeploy/internal/logging"
	"github.com/reillywatson/autodeploy/internal/metadata"
	"github.com/reillywatson/autodeploy/internal/project"
	"github.com/reillywatson/autodeploy/internal/scm"
	"github.com/reillywatson/autodeploy/internal/version"
)

// previousTagsLimit is how many coordinator tags are searched for the
// previous run.
const previousTagsLimit = 20

// MetadataStore loads and publishes the metadata of a run.
type MetadataStore interface {
	Load(ctx context.Context, ver string) (*metadata.ReleaseMetadata, error)
	Upload(ctx context.Context, ver string, md *metadata.ReleaseMetadata) error
}

// Runner runs the tagging sequence of one auto-deploy branch.
type Runner struct {
	Config  config.Config
	Client  scm.Client
	Trigger PipelineTrigger
	Store   MetadataStore
	Now     func() time.Time
}

// Result is what a run did.
type Result struct {
	Version  string
	Branch   string
	Changed  bool
	Metadata *metadata.ReleaseMetadata
}

// CurrentVersion is the version of the run on branch: the configured tag
// when there is one, a fresh version otherwise.
func CurrentVersion(cfg config.Config, branch version.Branch, now time.Time) string {
	if tag, ok := cfg.CurrentTag(); ok {
		return tag
	}
	return version.EncodeVersion(branch.Major, branch.Minor, now)
}

// Run updates and tags the packaging and image projects at the latest core
// commit that passed CI, then tags the coordinator when anything changed.
// Inside the coordinator pipeline it also writes the deploy version file and
// publishes the run metadata.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	if r.Config.AutoDeployBranch == "" {
		return nil, errors.New("AUTO_DEPLOY_BRANCH is not set")
	}
	branch, err := version.DecodeBranch(r.Config.AutoDeployBranch)
	if err != nil {
		return nil, err
	}

	ver := CurrentVersion(r.Config, branch, now())
	logger := slogcontext.FromCtx(ctx).With("version", ver, "branch", r.Config.AutoDeployBranch)
	ctx = logging.WithLogger(ctx, logger)

	md := r.prepopulate(ctx, ver)
	md.Security = r.Config.Security

	env := &Env{
		Config:   r.Config,
		Client:   r.Client,
		Trigger:  r.Trigger,
		Metadata: md,
		Version:  ver,
	}

	core, err := NewPassingBuild(r.Client).Find(ctx, project.CoreApp.AutoDeployPath(), r.Config.AutoDeployBranch, minimumCommit(md))
	if err != nil {
		return nil, fmt.Errorf("failed to find the latest known-good core commit: %w", err)
	}
	logger.Info("Building auto-deploy", "core_commit", core.ID)

	packagingChanged, err := NewPackagingBuilder(env, r.Config.AutoDeployBranch).Execute(ctx, core.ID)
	if err != nil {
		return nil, err
	}
	imageChanged, err := NewImageBuilder(env, r.Config.AutoDeployBranch).Execute(ctx, core.ID)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Version:  ver,
		Branch:   r.Config.AutoDeployBranch,
		Changed:  packagingChanged || imageChanged,
		Metadata: md,
	}

	if result.Changed {
		if _, err := NewCoordinatorTagger(env).Tag(ctx); err != nil {
			return nil, err
		}
	} else {
		logger.Info("Nothing changed, not tagging the coordinator")
	}

	if !r.Config.CoordinatorPipeline() {
		return result, nil
	}

	if err := WriteDeployVars(ctx, r.Config.DeployVarsFile, md); err != nil {
		return nil, err
	}
	if r.Store != nil {
		if err := r.Store.Upload(ctx, ver, md); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// prepopulate starts the run metadata from the metadata of the previous
// coordinator tag so components that did not change stay recorded.
func (r *Runner) prepopulate(ctx context.Context, current string) *metadata.ReleaseMetadata {
	logger := slogcontext.FromCtx(ctx)
	if r.Store == nil {
		return metadata.New()
	}

	previous, ok := r.previousVersion(ctx, current)
	if !ok {
		logger.Info("No previous auto-deploy found, starting with empty metadata")
		return metadata.New()
	}

	md, err := r.Store.Load(ctx, previous)
	if err != nil {
		logger.Warn("Failed to load previous release metadata", "previous", previous, "error", err)
		return metadata.New()
	}
	logger.Info("Starting from previous release metadata", "previous", previous)
	return md
}

// previousVersion returns the newest coordinator tag older than current.
func (r *Runner) previousVersion(ctx context.Context, current string) (string, bool) {
	tags, err := r.Client.Tags(ctx, project.Coordinator.Canonical, previousTagsLimit)
	if err != nil {
		slogcontext.FromCtx(ctx).Warn("Failed to list coordinator tags", "error", err)
		return "", false
	}

	cur, curErr := version.DecodeVersion(current)

	var (
		best     version.AutoDeployVersion
		bestName string
	)
	for _, t := range tags {
		if t.Name == current {
			continue
		}
		v, err := version.DecodeVersion(t.Name)
		if err != nil {
			continue
		}
		if curErr == nil && !v.Time().Before(cur.Time()) {
			continue
		}
		if bestName == "" || v.Time().After(best.Time()) {
			best, bestName = v, t.Name
		}
	}
	return bestName, bestName != ""
}

// DeployVersion is the packaging tag of md in the form deployments expect.
func DeployVersion(md *metadata.ReleaseMetadata) (string, bool) {
	r, ok := md.Release(project.Packaging.Name)
	if !ok || r.Ref == "" {
		return "", false
	}
	return strings.ReplaceAll(r.Ref, "+", "-"), true
}

// WriteDeployVars writes DEPLOY_VERSION to path for later pipeline jobs.
func WriteDeployVars(ctx context.Context, path string, md *metadata.ReleaseMetadata) error {
	logger := slogcontext.FromCtx(ctx)

	v, ok := DeployVersion(md)
	if !ok {
		logger.Warn("No packaging release recorded, not writing deploy version", "path", path)
		return nil
	}

	if err := os.WriteFile(path, []byte("DEPLOY_VERSION="+v+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	logger.Info("Wrote deploy version", "path", path, "deploy_version", v)
	return nil
}
