// Package ref turns loosely specified refs into refs of the core repository.
package ref

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	slogcontext "github.com/veqryn/slog-context"

	"github.com/reillywatson/autodeploy/internal/project"
	"github.com/reillywatson/autodeploy/internal/scm"
	"github.com/reillywatson/autodeploy/internal/version"
)

// EditionSuffix is appended to release tags and stable branches of the core repository.
const EditionSuffix = "-ee"

var (
	// AutoDeployPattern matches composite auto-deploy versions such as
	// 12.7.202001101501-94b8fd8d152.6fea3031ec9.
	AutoDeployPattern = regexp.MustCompile(`^\w?(\d+)\.(\d+)\.(\d+)-([0-9a-f]{11,})\.([0-9a-f]{11,})$`)
	stablePattern     = regexp.MustCompile(`^\d+-\d+-stable$`)
	// legacyWorkhorseSentinel is the content of the workhorse version file
	// after workhorse moved into the core repository.
	legacyWorkhorseSentinel = "VERSION"
)

// Normalize returns the core repository ref for input:
// the core commit of a composite version, a release tag or stable branch with
// the edition suffix, or input unchanged.
func Normalize(input string) string {
	if m := AutoDeployPattern.FindStringSubmatch(input); m != nil {
		return m[4]
	}
	if isReleaseTag(input) || stablePattern.MatchString(input) {
		return input + EditionSuffix
	}
	return input
}

func isReleaseTag(s string) bool {
	return version.ReleasePattern.MatchString(s) && !AutoDeployPattern.MatchString(s)
}

// Resolver resolves refs and component versions against the core repository.
type Resolver struct {
	client scm.Client
}

// NewResolver creates a Resolver. client is expected to retry reads.
func NewResolver(client scm.Client) *Resolver {
	return &Resolver{client: client}
}

// ForComponent returns the version of component pinned by the core repository at input.
//
// Version-looking content without a "v" prefix gets one, so the result can be
// used as a tag of the component repository.
func (r *Resolver) ForComponent(ctx context.Context, component project.Project, input string) (string, error) {
	if component.VersionFile == "" {
		return "", fmt.Errorf("%s has no version file", component.Name)
	}

	at := Normalize(input)
	// The private fork has the commits of both repositories.
	repo := project.CoreApp.AutoDeployPath()

	content, err := r.read(ctx, repo, component.VersionFile, at)
	if err != nil {
		return "", err
	}

	if component.Name == project.Workhorse.Name && content == legacyWorkhorseSentinel {
		slogcontext.FromCtx(ctx).Debug("Following legacy workhorse version file", "ref", at)
		if content, err = r.read(ctx, repo, legacyWorkhorseSentinel, at); err != nil {
			return "", err
		}
	}

	m := version.ReleasePattern.FindStringSubmatch(content)
	if m == nil || m[1] != "" {
		return content, nil
	}
	return "v" + content, nil
}

func (r *Resolver) read(ctx context.Context, repo, path, at string) (string, error) {
	content, err := r.client.FileContents(ctx, repo, path, at)
	if err != nil {
		return "", fmt.Errorf("failed to read %s at %s: %w", path, at, err)
	}
	return strings.TrimRight(content, " \t\r\n"), nil
}
