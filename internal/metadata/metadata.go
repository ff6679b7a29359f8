// Package metadata records which version of every component a coordinated
// auto-deploy run released.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	slogcontext "github.com/veqryn/slog-context"

	"github.com/reillywatson/autodeploy/internal/project"
	"github.com/reillywatson/autodeploy/internal/scm"
	"github.com/reillywatson/autodeploy/internal/version"
)

// DefaultComponentRef is the ref recorded for untagged components that are
// not in the project registry.
const DefaultComponentRef = "master"

// ignoredComponents are recorded explicitly by the taggers with the right
// auto-deploy branch, so AddComponents skips them.
var ignoredComponents = map[string]bool{
	"VERSION":        true,
	"GITLAB_VERSION": true,
}

// Release is the released version of one component.
type Release struct {
	Name    string `json:"-"`
	Version string `json:"version"`
	SHA     string `json:"sha,omitempty"`
	Ref     string `json:"ref"`
	Tag     bool   `json:"tag"`
}

// TagGetter looks up a tag. scm.Client satisfies it.
type TagGetter interface {
	Tag(ctx context.Context, repo, name string) (*scm.Tag, error)
}

// ReleaseMetadata accumulates releases for one run. It is not safe for
// concurrent use.
type ReleaseMetadata struct {
	Security bool
	releases map[string]Release
}

func New() *ReleaseMetadata {
	return &ReleaseMetadata{releases: make(map[string]Release)}
}

func (m *ReleaseMetadata) Empty() bool {
	return len(m.releases) == 0
}

func (m *ReleaseMetadata) Tracked(name string) bool {
	_, ok := m.releases[name]
	return ok
}

// Release returns the entry recorded for name.
func (m *ReleaseMetadata) Release(name string) (Release, bool) {
	r, ok := m.releases[name]
	return r, ok
}

// Releases returns a copy of all entries keyed by component name.
func (m *ReleaseMetadata) Releases() map[string]Release {
	return maps.Clone(m.releases)
}

// AddRelease records r, replacing any earlier entry with the same name.
func (m *ReleaseMetadata) AddRelease(ctx context.Context, r Release) {
	if before, ok := m.releases[r.Name]; ok {
		slogcontext.FromCtx(ctx).Info("Overwriting an existing release entry",
			"name", r.Name, "before", before, "after", r)
	}
	m.releases[r.Name] = r
}

// AddComponents records the components of an auto-deploy.
//
// versions maps version files (GITALY_SERVER_VERSION) to versions. Components
// that are already tracked are left alone. Tagged versions of registered
// projects are resolved to the commit of their tag in the security fork,
// which carries the tags of both the canonical and security repositories.
func (m *ReleaseMetadata) AddComponents(ctx context.Context, versions map[string]string, tags TagGetter) error {
	for _, file := range slices.Sorted(maps.Keys(versions)) {
		if ignoredComponents[file] {
			continue
		}

		v := versions[file]
		p, known := project.Tracked[file]

		name := strings.ReplaceAll(strings.ToLower(file), "_version", "")
		if known {
			name = p.Name
		}
		if m.Tracked(name) {
			continue
		}

		r := Release{
			Name:    name,
			Version: strings.TrimPrefix(v, "v"),
			Ref:     DefaultComponentRef,
		}
		if known {
			r.Ref = p.DefaultBranch
		}

		tagged := version.ReleasePattern.MatchString(v)
		switch {
		case known && tagged:
			r.Tag = true
			r.Ref = "v" + r.Version
			tag, err := tags.Tag(ctx, p.Path(true), r.Ref)
			if err != nil {
				return fmt.Errorf("failed to find tag %s of %s: %w", r.Ref, p.Path(true), err)
			}
			r.SHA = tag.Commit.ID
		case tagged:
			// A version we have no project for; recorded as is.
		case len(v) == 40:
			r.SHA = v
		default:
			return fmt.Errorf("the %s version %q is not supported", file, v)
		}

		m.AddRelease(ctx, r)
	}
	return nil
}

type document struct {
	Security bool               `json:"security"`
	Releases map[string]Release `json:"releases"`
}

func (m *ReleaseMetadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(document{Security: m.Security, Releases: m.releases})
}

func (m *ReleaseMetadata) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	m.Security = doc.Security
	m.releases = make(map[string]Release, len(doc.Releases))
	for name, r := range doc.Releases {
		r.Name = name
		m.releases[name] = r
	}
	return nil
}
