package ref

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reillywatson/autodeploy/internal/project"
	"github.com/reillywatson/autodeploy/internal/scm"
	"github.com/reillywatson/autodeploy/internal/scm/scmtest"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"12.7.202001101501-94b8fd8d152.6fea3031ec9", "94b8fd8d152"},
		{"v12.7.202001101501-94b8fd8d152.6fea3031ec9", "94b8fd8d152"},
		{"v13.11.0", "v13.11.0-ee"},
		{"13.11.0-rc42", "13.11.0-rc42-ee"},
		{"13-11-stable", "13-11-stable-ee"},
		{"master", "master"},
		{"13-11-auto-deploy-2021041409", "13-11-auto-deploy-2021041409"},
		{"94b8fd8d152680445ec14241f14d1e4c04b0b5ab", "94b8fd8d152680445ec14241f14d1e4c04b0b5ab"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestResolver_ForComponent(t *testing.T) {
	repo := project.CoreApp.AutoDeployPath()
	fake := scmtest.NewFake()
	fake.SetFile(repo, "v13.11.0-ee", "GITALY_SERVER_VERSION", "13.11.0\n")
	fake.SetFile(repo, "94b8fd8d152", "GITALY_SERVER_VERSION", "b7bd4ea0b4fe1f6d1efbfc6d4a6c1f0b0d6a3a4e\n")
	fake.SetFile(repo, "master", "GITLAB_SHELL_VERSION", "v13.17.0  \n")

	resolver := NewResolver(fake)
	ctx := context.Background()

	got, err := resolver.ForComponent(ctx, project.Gitaly, "v13.11.0")
	require.NoError(t, err)
	assert.Equal(t, "v13.11.0", got)

	got, err = resolver.ForComponent(ctx, project.Gitaly, "12.7.202001101501-94b8fd8d152.6fea3031ec9")
	require.NoError(t, err)
	assert.Equal(t, "b7bd4ea0b4fe1f6d1efbfc6d4a6c1f0b0d6a3a4e", got)

	got, err = resolver.ForComponent(ctx, project.Shell, "master")
	require.NoError(t, err)
	assert.Equal(t, "v13.17.0", got)
}

func TestResolver_ForComponent_LegacyWorkhorse(t *testing.T) {
	repo := project.CoreApp.AutoDeployPath()
	fake := scmtest.NewFake()
	fake.SetFile(repo, "master", "GITLAB_WORKHORSE_VERSION", "VERSION\n")
	fake.SetFile(repo, "master", "VERSION", "13.12.0-pre\n")

	got, err := NewResolver(fake).ForComponent(context.Background(), project.Workhorse, "master")
	require.NoError(t, err)

	assert.Equal(t, "v13.12.0-pre", got)
	assert.Len(t, fake.Calls("FileContents"), 2)
}

func TestResolver_ForComponent_NotFoundPropagates(t *testing.T) {
	_, err := NewResolver(scmtest.NewFake()).ForComponent(context.Background(), project.Pages, "master")

	assert.ErrorIs(t, err, scm.ErrNotFound)
}

func TestResolver_ForComponent_NoVersionFile(t *testing.T) {
	_, err := NewResolver(scmtest.NewFake()).ForComponent(context.Background(), project.Chart, "master")

	assert.Error(t, err)
}
