package autodeploy

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	slogcontext "github.com/veqryn/slog-context"
	"gopkg.in/yaml.v3"

	"github.com/reillywatson/autodeploy/internal/project"
	"github.com/reillywatson/autodeploy/internal/scm"
)

const (
	updateComponentsMessage = "Update component versions"
	imageVariablesFile      = "ci_files/variables.yml"
)

// componentFiles is how a project stores its component versions.
type componentFiles interface {
	// current returns the committed value of every key in keys.
	current(ctx context.Context, keys []string) (map[string]string, error)
	// actions rewrites the committed values to next.
	actions(current, next map[string]string) ([]scm.FileAction, error)
}

// Builder commits the component versions of a core commit to the
// auto-deploy branch of a downstream project, then tags the branch tip.
type Builder struct {
	env      *Env
	project  project.Project
	branch   string
	versions func(ctx context.Context, coreCommit string) (map[string]string, error)
	files    componentFiles
	tagger   func(versions map[string]string) Tagger
}

// NewPackagingBuilder builds the packaging project: one file per component.
func NewPackagingBuilder(env *Env, branch string) *Builder {
	return &Builder{
		env:      env,
		project:  project.Packaging,
		branch:   branch,
		versions: NewComponents(env.Client).ForPackaging,
		files:    &versionFiles{client: env.Client, repo: project.Packaging.AutoDeployPath(), ref: branch},
		tagger: func(versions map[string]string) Tagger {
			return NewPackagingTagger(env, branch, versions)
		},
	}
}

// NewImageBuilder builds the image project: a single variables document.
func NewImageBuilder(env *Env, branch string) *Builder {
	return &Builder{
		env:      env,
		project:  project.Image,
		branch:   branch,
		versions: NewComponents(env.Client).ForImage,
		files:    &variablesFile{client: env.Client, repo: project.Image.AutoDeployPath(), ref: branch},
		tagger: func(versions map[string]string) Tagger {
			return NewImageTagger(env, branch, versions)
		},
	}
}

// Execute updates the components for coreCommit and tags the branch tip when
// it is untagged. It reports whether anything changed, which is what asks
// for a new coordinator tag.
func (b *Builder) Execute(ctx context.Context, coreCommit string) (bool, error) {
	logger := slogcontext.FromCtx(ctx).With("project", b.project.AutoDeployPath(), "branch", b.branch)

	versions, err := b.versions(ctx, coreCommit)
	if err != nil {
		return false, err
	}

	componentsChanged, err := b.updateComponents(ctx, versions)
	if err != nil {
		return false, err
	}

	tagger := b.tagger(versions)
	untagged, err := tagger.Pending(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check tags of %s: %w", b.project.AutoDeployPath(), err)
	}
	if untagged {
		logger.Info("Branch tip is untagged")
		if _, err := tagger.Tag(ctx); err != nil {
			return false, err
		}
	}

	return componentsChanged || untagged, nil
}

func (b *Builder) updateComponents(ctx context.Context, versions map[string]string) (bool, error) {
	logger := slogcontext.FromCtx(ctx).With("project", b.project.AutoDeployPath(), "branch", b.branch)

	keys := slices.Sorted(maps.Keys(versions))
	current, err := b.files.current(ctx, keys)
	if err != nil {
		logger.Warn("Failed to read current component versions", "error", err)
		return false, nil
	}

	var changed []string
	for _, k := range keys {
		if current[k] != versions[k] {
			changed = append(changed, k)
		}
	}
	if len(changed) == 0 {
		logger.Warn("Components are up to date, nothing to commit")
		return false, nil
	}

	logger.Info("Components changed", "keys", changed)

	if b.env.Config.DryRun || !b.env.Config.CoordinatorPipeline() {
		logger.Info("Not committing component versions",
			"dry_run", b.env.Config.DryRun, "coordinator_pipeline", b.env.Config.CoordinatorPipeline())
		return true, nil
	}

	actions, err := b.files.actions(current, versions)
	if err != nil {
		return false, err
	}

	commit, err := b.env.Client.CreateCommit(ctx, b.project.AutoDeployPath(), b.branch, updateComponentsMessage, actions)
	if err != nil {
		logger.Warn("Failed to commit component versions", "error", err)
		return false, fmt.Errorf("failed to commit component versions to %s: %w", b.project.AutoDeployPath(), err)
	}

	logger.Info("Committed component versions", "commit", commit.ID, "url", commit.WebURL)
	return true, nil
}

// versionFiles stores each version in a file named after its key.
type versionFiles struct {
	client scm.Client
	repo   string
	ref    string
}

func (f *versionFiles) current(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		content, err := f.client.FileContents(ctx, f.repo, k, f.ref)
		if scm.IsNotFound(err) {
			// New components start out empty.
			continue
		}
		if err != nil {
			return nil, err
		}
		out[k] = strings.TrimSpace(content)
	}
	return out, nil
}

func (f *versionFiles) actions(_, next map[string]string) ([]scm.FileAction, error) {
	actions := make([]scm.FileAction, 0, len(next))
	for _, k := range slices.Sorted(maps.Keys(next)) {
		actions = append(actions, scm.FileAction{
			Action:  scm.ActionUpdate,
			Path:    "/" + k,
			Content: strings.TrimSpace(next[k]) + "\n",
		})
	}
	return actions, nil
}

type variablesDocument struct {
	Variables map[string]string `yaml:"variables"`
}

// variablesFile stores the versions as variables of a single YAML document.
type variablesFile struct {
	client scm.Client
	repo   string
	ref    string
}

func (f *variablesFile) current(ctx context.Context, _ []string) (map[string]string, error) {
	content, err := f.client.FileContents(ctx, f.repo, imageVariablesFile, f.ref)
	if err != nil {
		return nil, err
	}

	var doc variablesDocument
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", imageVariablesFile, err)
	}
	if doc.Variables == nil {
		doc.Variables = map[string]string{}
	}
	return doc.Variables, nil
}

func (f *variablesFile) actions(current, next map[string]string) ([]scm.FileAction, error) {
	merged := maps.Clone(current)
	if merged == nil {
		merged = make(map[string]string, len(next))
	}
	maps.Copy(merged, next)

	content, err := yaml.Marshal(variablesDocument{Variables: merged})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", imageVariablesFile, err)
	}
	return []scm.FileAction{{Action: scm.ActionUpdate, Path: imageVariablesFile, Content: string(content)}}, nil
}
