package autodeploy

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	slogcontext "github.com/veqryn/slog-context"

	"github.com/reillywatson/autodeploy/internal/project"
	"github.com/reillywatson/autodeploy/internal/scm"
)

const (
	coreVersionKey  = "VERSION"
	imageVersionKey = "GITLAB_VERSION"
	imageAssetsKey  = "GITLAB_ASSETS_TAG"
	gemfileLock     = "Gemfile.lock"
)

// taggedVersion matches versions the image project expects as "v" prefixed tags.
var taggedVersion = regexp.MustCompile(`^\d+\.\d+\.\d+(-rc\d+)?(-ee)?$`)

// Components reads the component versions pinned by a core commit.
type Components struct {
	client scm.Client
}

func NewComponents(client scm.Client) *Components {
	return &Components{client: client}
}

func (c *Components) read(ctx context.Context, path, commit string) (string, error) {
	content, err := c.client.FileContents(ctx, project.CoreApp.AutoDeployPath(), path, commit)
	if err != nil {
		return "", fmt.Errorf("failed to read %s at %s: %w", path, commit, err)
	}
	return strings.TrimSpace(content), nil
}

// ForPackaging maps the packaging project's version files to their content
// for commit: VERSION is the core commit itself.
func (c *Components) ForPackaging(ctx context.Context, commit string) (map[string]string, error) {
	versions := map[string]string{coreVersionKey: commit}

	for _, p := range project.Components {
		v, err := c.read(ctx, p.VersionFile, commit)
		if err != nil {
			return nil, err
		}
		versions[p.VersionFile] = v
	}

	slogcontext.FromCtx(ctx).Info("Packaging versions", "commit", commit, "versions", versions)
	return versions, nil
}

// ForImage maps the image project's variables to their values for commit.
func (c *Components) ForImage(ctx context.Context, commit string) (map[string]string, error) {
	versions, err := c.ForPackaging(ctx, commit)
	if err != nil {
		return nil, err
	}
	versions = normalizeImageVersions(versions)

	lock, err := c.read(ctx, gemfileLock, commit)
	if err != nil {
		return nil, err
	}
	gemfile := ParseGemfile(lock)
	for _, pattern := range slices.Sorted(maps.Keys(project.Gems)) {
		v, err := gemfile.GemVersion(regexp.MustCompile(pattern))
		if err != nil {
			return nil, err
		}
		versions[project.Gems[pattern]] = v
	}

	slogcontext.FromCtx(ctx).Info("Image versions", "commit", commit, "versions", versions)
	return versions, nil
}

// normalizeImageVersions renames the core version and prefixes versions that
// look like release tags with "v".
func normalizeImageVersions(versions map[string]string) map[string]string {
	out := make(map[string]string, len(versions)+1)
	for k, v := range versions {
		if k == coreVersionKey {
			out[imageVersionKey] = v
			out[imageAssetsKey] = v
			continue
		}
		out[k] = v
	}

	for k, v := range out {
		if taggedVersion.MatchString(v) {
			out[k] = "v" + v
		}
	}
	return out
}
