package autodeploy

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reillywatson/autodeploy/internal/project"
	"github.com/reillywatson/autodeploy/internal/scm"
)

func TestComponents_ForPackaging(t *testing.T) {
	f := newFixture(t)

	versions, err := NewComponents(f.fake).ForPackaging(f.ctx, coreSHA)
	require.NoError(t, err)
	assert.Equal(t, packagingVersions(), versions)
}

func TestComponents_ForImage(t *testing.T) {
	f := newFixture(t)

	versions, err := NewComponents(f.fake).ForImage(f.ctx, coreSHA)
	require.NoError(t, err)
	assert.Equal(t, imageVersions(), versions)
}

func TestComponents_MissingVersionFile(t *testing.T) {
	f := newFixture(t)
	f.fake.FailOn("FileContents", project.CoreApp.AutoDeployPath(), scm.ErrNotFound)

	_, err := NewComponents(f.fake).ForPackaging(f.ctx, coreSHA)
	require.Error(t, err)
	assert.ErrorIs(t, err, scm.ErrNotFound)
}

func TestNormalizeImageVersions(t *testing.T) {
	got := normalizeImageVersions(map[string]string{
		"VERSION":               "13.11.0-rc42-ee",
		"GITALY_SERVER_VERSION": "13.11.0-rc1",
		"GITLAB_SHELL_VERSION":  "13.17.0",
		"GITLAB_PAGES_VERSION":  "v1.38.0",
		"OTHER":                 "master",
	})

	assert.Equal(t, map[string]string{
		"GITLAB_VERSION":        "v13.11.0-rc42-ee",
		"GITLAB_ASSETS_TAG":     "v13.11.0-rc42-ee",
		"GITALY_SERVER_VERSION": "v13.11.0-rc1",
		"GITLAB_SHELL_VERSION":  "v13.17.0",
		"GITLAB_PAGES_VERSION":  "v1.38.0",
		"OTHER":                 "master",
	}, got)
}

func TestGemfile_GemVersion(t *testing.T) {
	gemfile := ParseGemfile(lockContent)

	v, err := gemfile.GemVersion(regexp.MustCompile(`^(gitlab-)?mail_room$`))
	require.NoError(t, err)
	assert.Equal(t, "0.0.9", v)

	v, err = gemfile.GemVersion(regexp.MustCompile(`^rake$`))
	require.NoError(t, err)
	assert.Equal(t, "13.0.3", v)

	// Dependencies of specs are not specs themselves.
	_, err = gemfile.GemVersion(regexp.MustCompile(`^net-imap$`))
	assert.Error(t, err)

	_, err = gemfile.GemVersion(regexp.MustCompile(`^jwt$`))
	assert.Error(t, err)
}

func TestGemfile_ReadsEverySpecsSection(t *testing.T) {
	gemfile := ParseGemfile(`GIT
  remote: https://example.com/mail_room.git
  specs:
    mail_room (1.0.0)

GEM
  specs:
    rake (13.0.3)
`)

	v, err := gemfile.GemVersion(regexp.MustCompile(`^mail_room$`))
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v)

	_, err = ParseGemfile("").GemVersion(regexp.MustCompile(`^rake$`))
	assert.Error(t, err)
}
