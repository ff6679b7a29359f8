// Package autodeploy coordinates component updates and tags across the
// repositories of an auto-deploy.
package autodeploy

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	slogcontext "github.com/veqryn/slog-context"

	"github.com/reillywatson/autodeploy/internal/circleci"
	"github.com/reillywatson/autodeploy/internal/config"
	"github.com/reillywatson/autodeploy/internal/logging"
	"github.com/reillywatson/autodeploy/internal/metadata"
	"github.com/reillywatson/autodeploy/internal/project"
	"github.com/reillywatson/autodeploy/internal/retry"
	"github.com/reillywatson/autodeploy/internal/scm"
	"github.com/reillywatson/autodeploy/internal/version"
)

// ChartTriggerJob selects the job of the chart pipeline that creates the tag.
const ChartTriggerJob = "tag_auto_deploy"

// PipelineTrigger starts a pipeline of a downstream project.
type PipelineTrigger interface {
	Trigger(ctx context.Context, project, token, ref string, variables map[string]string) (*circleci.Pipeline, error)
}

// Env is what every builder and tagger of one run shares.
type Env struct {
	Config   config.Config
	Client   scm.Client
	Trigger  PipelineTrigger
	Metadata *metadata.ReleaseMetadata
	// Version is the run version. It is computed once per run.
	Version string
}

// Kind identifies a tagger implementation.
type Kind int

const (
	KindCoordinator Kind = iota
	KindPackaging
	KindImage
	KindChart
)

func (k Kind) String() string {
	switch k {
	case KindCoordinator:
		return "coordinator"
	case KindPackaging:
		return "packaging"
	case KindImage:
		return "image"
	case KindChart:
		return "chart"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Tagger tags one repository for the current run.
type Tagger interface {
	Kind() Kind
	// Pending reports whether the repository still needs a tag for this run.
	Pending(ctx context.Context) (bool, error)
	// Tag creates the tag when it is pending and the run is allowed to. It
	// reports whether a tag was created, or would have been in dry-run mode.
	Tag(ctx context.Context) (bool, error)
}

var (
	_ Tagger = (*CoordinatorTagger)(nil)
	_ Tagger = (*PackagingTagger)(nil)
	_ Tagger = (*ImageTagger)(nil)
	_ Tagger = (*ChartTagger)(nil)
)

func versionLines(versions map[string]string) string {
	lines := make([]string, 0, len(versions))
	for _, k := range slices.Sorted(maps.Keys(versions)) {
		lines = append(lines, k+": "+versions[k])
	}
	return strings.Join(lines, "\n")
}

// CoordinatorTagger tags the coordinator repository with the run version,
// which starts the coordinator pipeline.
type CoordinatorTagger struct {
	env *Env
}

func NewCoordinatorTagger(env *Env) *CoordinatorTagger {
	return &CoordinatorTagger{env: env}
}

func (t *CoordinatorTagger) Kind() Kind { return KindCoordinator }

func (t *CoordinatorTagger) Name() string {
	return t.env.Version
}

func (t *CoordinatorTagger) Message() string {
	return "Created via " + t.env.Config.JobURL
}

// Pending reports whether the run version is not tagged yet. The coordinator
// always tags its default branch, so the tip is not a useful signal.
func (t *CoordinatorTagger) Pending(ctx context.Context) (bool, error) {
	_, err := t.env.Client.Tag(ctx, project.Coordinator.Canonical, t.Name())
	if scm.IsNotFound(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

func (t *CoordinatorTagger) Tag(ctx context.Context) (bool, error) {
	p := project.Coordinator
	logger := slogcontext.FromCtx(ctx).With("project", p.Canonical, "name", t.Name())

	// Tagging from inside the pipeline a tag started would loop forever.
	if t.env.Config.CoordinatorPipeline() {
		logger.Debug("Not tagging the coordinator from a coordinator pipeline")
		return false, nil
	}

	pending, err := t.Pending(ctx)
	if err != nil {
		logging.Fatal(ctx, "Failed to tag coordinator", "project", p.Canonical, "name", t.Name(), "error", err)
		return false, nil
	}
	if !pending {
		logger.Info("Coordinator already tagged, nothing to tag")
		return false, nil
	}

	logger.Info("Creating coordinator tag", "target", p.DefaultBranch)
	if t.env.Config.DryRun {
		return true, nil
	}

	_, err = t.env.Client.CreateTag(ctx, p.Canonical, t.Name(), p.DefaultBranch, t.Message())
	if errors.Is(err, scm.ErrConflict) {
		logger.Info("Coordinator tag already exists, nothing to tag")
		return false, nil
	}
	if err != nil {
		logging.Fatal(ctx, "Failed to tag coordinator",
			"project", p.Canonical, "name", t.Name(), "target", p.DefaultBranch, "error", err)
		return false, nil
	}
	return true, nil
}

// branchTagger is the part shared by the packaging and image taggers: both
// tag the tip of the auto-deploy branch of their project.
type branchTagger struct {
	env      *Env
	project  project.Project
	branch   string
	versions map[string]string
	head     *scm.Commit
}

func (b *branchTagger) repo() string {
	return b.project.AutoDeployPath()
}

func (b *branchTagger) branchHead(ctx context.Context) (*scm.Commit, error) {
	if b.head != nil {
		return b.head, nil
	}

	head, err := b.env.Client.Commit(ctx, b.repo(), b.branch)
	if err != nil {
		return nil, fmt.Errorf("failed to find head of %s: %w", b.branch, err)
	}
	b.head = head
	return head, nil
}

// tagPrefix is the name prefix shared by every tag created from the branch.
func (b *branchTagger) tagPrefix() string {
	br, err := version.DecodeBranch(b.branch)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%d.%d.", br.Major, br.Minor)
}

// pending reports whether the branch tip has no auto-deploy tag.
func (b *branchTagger) pending(ctx context.Context) (bool, error) {
	head, err := b.branchHead(ctx)
	if err != nil {
		return false, err
	}

	refs, err := b.env.Client.TagsAt(ctx, b.repo(), head.ID, b.tagPrefix())
	if err != nil {
		return false, fmt.Errorf("failed to list tags of %s: %w", head.ID, err)
	}
	for _, r := range refs {
		if r.Type == scm.RefTypeTag {
			return false, nil
		}
	}
	return true, nil
}

// tag runs the common tagging sequence and returns the tag name. name
// derives the tag name from the branch head.
func (b *branchTagger) tag(ctx context.Context, kind Kind, name func(head string) (string, error), message func(name string) string, coreRef string) (string, bool) {
	logger := slogcontext.FromCtx(ctx).With("project", b.repo(), "kind", kind.String())
	fatal := func(msg string, args ...any) {
		logging.Fatal(ctx, msg, append([]any{"project", b.repo(), "target", b.branch}, args...)...)
	}

	if !b.env.Config.CoordinatorPipeline() {
		logger.Debug("Not tagging outside a coordinator pipeline")
		return "", false
	}

	pending, err := b.pending(ctx)
	if err != nil {
		fatal("Failed to tag "+kind.String(), "error", err)
		return "", false
	}
	if !pending {
		logger.Info("No changes on branch, nothing to tag", "branch", b.branch)
		return "", false
	}

	head := b.head.ID
	tagName, err := name(head)
	if err != nil {
		fatal("Failed to tag "+kind.String(), "error", err)
		return "", false
	}

	logger.Info("Creating "+kind.String()+" tag", "name", tagName, "target", head)

	if !b.env.Config.DryRun {
		_, err = b.env.Client.CreateTag(ctx, b.repo(), tagName, head, message(tagName))
		if errors.Is(err, scm.ErrConflict) {
			logger.Info("Tag already exists, nothing to tag", "name", tagName)
			return "", false
		}
		if err != nil {
			fatal("Failed to tag "+kind.String(), "name", tagName, "error", err)
			return "", false
		}
	}

	b.record(ctx, tagName, head, coreRef)
	return tagName, true
}

// record adds this project, the packaged core commit and the components to
// the run metadata.
func (b *branchTagger) record(ctx context.Context, tagName, head, coreRef string) {
	md := b.env.Metadata
	md.AddRelease(ctx, metadata.Release{
		Name:    b.project.Name,
		Version: head,
		SHA:     head,
		Ref:     tagName,
		Tag:     true,
	})
	md.AddRelease(ctx, metadata.Release{
		Name:    project.CoreApp.Name,
		Version: coreRef,
		SHA:     coreRef,
		Ref:     b.branch,
	})
	if err := md.AddComponents(ctx, b.versions, b.env.Client); err != nil {
		slogcontext.FromCtx(ctx).Warn("Failed to record component versions",
			"project", b.repo(), "error", err)
	}
}

// PackagingTagger tags the packaging project.
type PackagingTagger struct {
	branchTagger
}

func NewPackagingTagger(env *Env, branch string, versions map[string]string) *PackagingTagger {
	return &PackagingTagger{branchTagger{env: env, project: project.Packaging, branch: branch, versions: versions}}
}

func (t *PackagingTagger) Kind() Kind { return KindPackaging }

func (t *PackagingTagger) Pending(ctx context.Context) (bool, error) {
	return t.pending(ctx)
}

func (t *PackagingTagger) coreRef() string {
	return t.versions[coreVersionKey]
}

func (t *PackagingTagger) Tag(ctx context.Context) (bool, error) {
	_, ok := t.tag(ctx, KindPackaging,
		func(head string) (string, error) {
			return version.EncodeTag(version.TagPackaging, t.env.Version, t.coreRef(), head)
		},
		func(name string) string {
			return fmt.Sprintf("Auto-deploy packaging %s\n\n%s", name, versionLines(t.versions))
		},
		t.coreRef())
	return ok, nil
}

// ImageTagger tags the image project and then has the chart tagged with the
// same name.
type ImageTagger struct {
	branchTagger
	chart func(tagName string) Tagger
}

func NewImageTagger(env *Env, branch string, versions map[string]string) *ImageTagger {
	t := &ImageTagger{branchTagger: branchTagger{env: env, project: project.Image, branch: branch, versions: versions}}
	t.chart = func(tagName string) Tagger {
		return NewChartTagger(env, branch, tagName, versions)
	}
	return t
}

func (t *ImageTagger) Kind() Kind { return KindImage }

func (t *ImageTagger) Pending(ctx context.Context) (bool, error) {
	return t.pending(ctx)
}

func (t *ImageTagger) coreRef() string {
	return t.versions[imageVersionKey]
}

func (t *ImageTagger) Tag(ctx context.Context) (bool, error) {
	name, ok := t.tag(ctx, KindImage,
		func(string) (string, error) {
			return version.EncodeTag(version.TagImage, t.env.Version, t.coreRef())
		},
		func(name string) string {
			return fmt.Sprintf("Auto-deploy image %s\n\n%s", name, versionLines(t.versions))
		},
		t.coreRef())
	if !ok {
		return false, nil
	}

	if _, err := t.chart(name).Tag(ctx); err != nil {
		logging.Fatal(ctx, "Failed to trigger chart tagging",
			"project", project.Chart.AutoDeployPath(), "name", name, "target", t.branch, "error", err)
	}
	return true, nil
}

// ChartTagger triggers the chart pipeline that tags the chart project. The
// chart is tagged by its own pipeline, so there is nothing to inspect first.
type ChartTagger struct {
	env      *Env
	branch   string
	name     string
	versions map[string]string
}

func NewChartTagger(env *Env, branch, tagName string, versions map[string]string) *ChartTagger {
	return &ChartTagger{env: env, branch: branch, name: tagName, versions: versions}
}

func (t *ChartTagger) Kind() Kind { return KindChart }

func (t *ChartTagger) Pending(context.Context) (bool, error) {
	return true, nil
}

// Variables are the pipeline parameters of the chart trigger.
func (t *ChartTagger) Variables() map[string]string {
	vars := map[string]string{
		"AUTO_DEPLOY_TAG": t.name,
		"TRIGGER_JOB":     ChartTriggerJob,
	}
	for k, v := range t.versions {
		vars["AUTO_DEPLOY_COMPONENT_"+k] = v
	}
	return vars
}

// Tag returns trigger failures instead of swallowing them.
func (t *ChartTagger) Tag(ctx context.Context) (bool, error) {
	p := project.Chart
	logger := slogcontext.FromCtx(ctx).With("project", p.AutoDeployPath(), "name", t.name)

	if !t.env.Config.CoordinatorPipeline() {
		logger.Debug("Not tagging outside a coordinator pipeline")
		return false, nil
	}

	logger.Info("Tagging chart", "target", t.branch)
	if t.env.Config.DryRun {
		return true, nil
	}
	if t.env.Trigger == nil {
		return false, errors.New("no pipeline trigger configured for the chart")
	}

	policy := retry.Write.WithRetryable(circleci.IsTransient)
	pipeline, err := retry.Value(ctx, policy, func(ctx context.Context) (*circleci.Pipeline, error) {
		return t.env.Trigger.Trigger(ctx, p.AutoDeployPath(), t.env.Config.ChartTriggerToken, t.branch, t.Variables())
	})
	if err != nil {
		return false, fmt.Errorf("failed to trigger chart pipeline: %w", err)
	}

	logger.Info("Triggered pipeline", "url", pipeline.WebURL)
	return true, nil
}
