// Package deployment turns deployed version strings back into commits of the
// repositories they were built from.
package deployment

import (
	"context"
	"fmt"

	slogcontext "github.com/veqryn/slog-context"

	"github.com/reillywatson/autodeploy/internal/metadata"
	"github.com/reillywatson/autodeploy/internal/project"
	"github.com/reillywatson/autodeploy/internal/ref"
	"github.com/reillywatson/autodeploy/internal/scm"
	"github.com/reillywatson/autodeploy/internal/version"
)

// Version is a resolved deployment.
type Version struct {
	SHA   string
	Ref   string
	IsTag bool
}

// UnresolvableVersionError is returned when no strategy understands a version.
type UnresolvableVersionError struct {
	Input   string
	Project string
}

func (e *UnresolvableVersionError) Error() string {
	return fmt.Sprintf("failed to extract %s deploy details from %q", e.Project, e.Input)
}

// Variant selects which repository a deployed version is resolved against.
type Variant int

const (
	Core Variant = iota
	Packaging
)

func (v Variant) String() string {
	if v == Packaging {
		return "packaging"
	}
	return "core"
}

func (v Variant) project() project.Project {
	if v == Packaging {
		return project.Packaging
	}
	return project.CoreApp
}

// commit picks this variant's commit out of a composite version match.
func (v Variant) commit(m []string) string {
	if v == Packaging {
		return m[5]
	}
	return m[4]
}

func (v Variant) tagName(r version.Release) string {
	if v == Packaging {
		return r.PackagingTag()
	}
	return r.CoreTag()
}

// MetadataLoader loads published release metadata. *metadata.Store satisfies it.
type MetadataLoader interface {
	Load(ctx context.Context, ver string) (*metadata.ReleaseMetadata, error)
}

// Resolver resolves deployed versions for one variant. Tagged releases are
// looked up in the security fork when Security is set.
type Resolver struct {
	variant  Variant
	client   scm.Client
	metadata MetadataLoader
	Security bool
}

func NewResolver(variant Variant, client scm.Client, md MetadataLoader) *Resolver {
	return &Resolver{variant: variant, client: client, metadata: md}
}

type strategy func(ctx context.Context, input string) (*Version, bool, error)

// Resolve returns the commit and ref deployed as input.
//
// A composite auto-deploy version is tried first, a tagged release second.
func (r *Resolver) Resolve(ctx context.Context, input string) (*Version, error) {
	for _, s := range []strategy{r.fromAutoDeploy, r.fromTag} {
		v, ok, err := s(ctx, input)
		if err != nil {
			return nil, err
		}
		if ok {
			return v, nil
		}
	}
	return nil, &UnresolvableVersionError{Input: input, Project: r.variant.project().Name}
}

func (r *Resolver) fromAutoDeploy(ctx context.Context, input string) (*Version, bool, error) {
	m := ref.AutoDeployPattern.FindStringSubmatch(input)
	if m == nil || r.variant.commit(m) == "" {
		return nil, false, nil
	}

	p := r.variant.project()
	commit, err := r.client.Commit(ctx, p.AutoDeployPath(), r.variant.commit(m))
	if err != nil {
		return nil, false, fmt.Errorf("failed to expand %s commit %s: %w", p.Name, r.variant.commit(m), err)
	}

	deployed := &Version{SHA: commit.ID, Ref: p.DefaultBranch}

	md, err := r.metadata.Load(ctx, input)
	if err != nil {
		slogcontext.FromCtx(ctx).Warn("Failed to load release metadata, using default branch",
			"project", p.Name, "version", input, "error", err)
		return deployed, true, nil
	}
	if rel, ok := md.Release(p.Name); ok && rel.Ref != "" {
		deployed.Ref = rel.Ref
	}
	return deployed, true, nil
}

func (r *Resolver) fromTag(ctx context.Context, input string) (*Version, bool, error) {
	release, ok := version.ParseRelease(input)
	if !ok {
		return nil, false, nil
	}

	p := r.variant.project()
	name := r.variant.tagName(release)
	tag, err := r.client.Tag(ctx, p.Path(r.Security), name)
	if scm.IsNotFound(err) {
		slogcontext.FromCtx(ctx).Debug("Deployed tag does not exist", "project", p.Name, "name", name)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to find %s tag %s: %w", p.Name, name, err)
	}

	return &Version{SHA: tag.Commit.ID, Ref: tag.Name, IsTag: true}, true, nil
}
