package autodeploy

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reillywatson/autodeploy/internal/circleci"
	"github.com/reillywatson/autodeploy/internal/project"
	"github.com/reillywatson/autodeploy/internal/scm"
)

func TestPackagingTagger_TagsBranchTip(t *testing.T) {
	f := newFixture(t)
	env := f.env(pipelineConfig())

	tagged, err := NewPackagingTagger(env, branchName, packagingVersions()).Tag(f.ctx)
	require.NoError(t, err)
	assert.True(t, tagged)

	calls := f.fake.Calls("CreateTag")
	require.Len(t, calls, 1)
	assert.Equal(t, project.Packaging.AutoDeployPath(), calls[0].Repo)
	assert.Equal(t, []string{
		"13.11.202104140915+94b8fd8d152.6fea3031ec9",
		packagingTip,
		"Auto-deploy packaging 13.11.202104140915+94b8fd8d152.6fea3031ec9\n\n" +
			"GITALY_SERVER_VERSION: " + gitalySHA + "\n" +
			"GITLAB_ELASTICSEARCH_INDEXER_VERSION: " + indexerSHA + "\n" +
			"GITLAB_PAGES_VERSION: 1.38.0\n" +
			"GITLAB_SHELL_VERSION: " + shellSHA + "\n" +
			"VERSION: " + coreSHA,
	}, calls[0].Args)

	packaging, ok := env.Metadata.Release(project.Packaging.Name)
	require.True(t, ok)
	assert.Equal(t, packagingTip, packaging.SHA)
	assert.Equal(t, "13.11.202104140915+94b8fd8d152.6fea3031ec9", packaging.Ref)
	assert.True(t, packaging.Tag)

	core, ok := env.Metadata.Release(project.CoreApp.Name)
	require.True(t, ok)
	assert.Equal(t, coreSHA, core.SHA)
	assert.Equal(t, branchName, core.Ref)
	assert.False(t, core.Tag)

	pages, ok := env.Metadata.Release(project.Pages.Name)
	require.True(t, ok)
	assert.Equal(t, pagesSHA, pages.SHA)
	assert.Equal(t, "v1.38.0", pages.Ref)

	gitaly, ok := env.Metadata.Release(project.Gitaly.Name)
	require.True(t, ok)
	assert.Equal(t, gitalySHA, gitaly.SHA)
}

func TestPackagingTagger_NothingToTagWhenTipIsTagged(t *testing.T) {
	f := newFixture(t)
	f.tagTips()

	tagged, err := NewPackagingTagger(f.env(pipelineConfig()), branchName, packagingVersions()).Tag(f.ctx)
	require.NoError(t, err)
	assert.False(t, tagged)
	assert.Empty(t, f.fake.Calls("CreateTag"))
	assert.True(t, f.logged("nothing to tag"))
}

func TestPackagingTagger_OnlyReleaseLineTagsCount(t *testing.T) {
	f := newFixture(t)
	f.fake.AddTag(project.Packaging.AutoDeployPath(), "13.10.202104010900+94b8fd8d152.6fea3031ec9", packagingTip)

	tagged, err := NewPackagingTagger(f.env(pipelineConfig()), branchName, packagingVersions()).Tag(f.ctx)
	require.NoError(t, err)
	assert.True(t, tagged)

	calls := f.fake.Calls("TagsAt")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{packagingTip, "13.11."}, calls[0].Args)
}

func TestPackagingTagger_Idempotent(t *testing.T) {
	f := newFixture(t)
	env := f.env(pipelineConfig())

	first, err := NewPackagingTagger(env, branchName, packagingVersions()).Tag(f.ctx)
	require.NoError(t, err)
	second, err := NewPackagingTagger(env, branchName, packagingVersions()).Tag(f.ctx)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.Len(t, f.fake.Calls("CreateTag"), 1)
}

func TestTaggers_CoordinatorPipelineGuard(t *testing.T) {
	t.Run("downstream taggers need the coordinator pipeline", func(t *testing.T) {
		f := newFixture(t)
		env := f.env(scheduledConfig())

		for _, tagger := range []Tagger{
			NewPackagingTagger(env, branchName, packagingVersions()),
			NewImageTagger(env, branchName, imageVersions()),
			NewChartTagger(env, branchName, "13.11.202104140915+94b8fd8d152", imageVersions()),
		} {
			tagged, err := tagger.Tag(f.ctx)
			require.NoError(t, err, tagger.Kind().String())
			assert.False(t, tagged, tagger.Kind().String())
		}
		assert.Empty(t, f.fake.Calls("CreateTag"))
		assert.Empty(t, f.trigger.calls)
		assert.True(t, env.Metadata.Empty())
	})

	t.Run("coordinator refuses to run inside its own pipeline", func(t *testing.T) {
		f := newFixture(t)

		tagged, err := NewCoordinatorTagger(f.env(pipelineConfig())).Tag(f.ctx)
		require.NoError(t, err)
		assert.False(t, tagged)
		assert.Empty(t, f.fake.Calls("Tag"))
		assert.Empty(t, f.fake.Calls("CreateTag"))
	})
}

func TestCoordinatorTagger_Tag(t *testing.T) {
	f := newFixture(t)
	env := f.env(scheduledConfig())

	tagged, err := NewCoordinatorTagger(env).Tag(f.ctx)
	require.NoError(t, err)
	assert.True(t, tagged)

	calls := f.fake.Calls("CreateTag")
	require.Len(t, calls, 1)
	assert.Equal(t, project.Coordinator.Canonical, calls[0].Repo)
	assert.Equal(t, []string{runVersion, "master", "Created via " + jobURL}, calls[0].Args)

	// The tag now exists, so a second run of the same version does nothing.
	tagged, err = NewCoordinatorTagger(env).Tag(f.ctx)
	require.NoError(t, err)
	assert.False(t, tagged)
	assert.Len(t, f.fake.Calls("CreateTag"), 1)
}

func TestCoordinatorTagger_FailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.fake.FailOn("CreateTag", project.Coordinator.Canonical, &scm.ResponseError{StatusCode: http.StatusForbidden, Err: errors.New("forbidden")})

	tagged, err := NewCoordinatorTagger(f.env(scheduledConfig())).Tag(f.ctx)
	require.NoError(t, err)
	assert.False(t, tagged)
	assert.True(t, f.logged("level=FATAL"))
	assert.True(t, f.logged("Failed to tag coordinator"))
}

func TestPackagingTagger_FailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.fake.FailOn("CreateTag", "", &scm.ResponseError{StatusCode: http.StatusForbidden, Err: errors.New("forbidden")})
	env := f.env(pipelineConfig())

	tagged, err := NewPackagingTagger(env, branchName, packagingVersions()).Tag(f.ctx)
	require.NoError(t, err)
	assert.False(t, tagged)
	assert.True(t, f.logged("level=FATAL"))
	assert.True(t, env.Metadata.Empty())
}

func TestPackagingTagger_ConflictMeansAlreadyTagged(t *testing.T) {
	f := newFixture(t)
	f.fake.AddTag(project.Packaging.AutoDeployPath(), "13.11.202104140915+94b8fd8d152.6fea3031ec9", "ffffffffffffffffffffffffffffffffffffffff")

	tagged, err := NewPackagingTagger(f.env(pipelineConfig()), branchName, packagingVersions()).Tag(f.ctx)
	require.NoError(t, err)
	assert.False(t, tagged)
	assert.False(t, f.logged("level=FATAL"))
}

func TestTaggers_DryRun(t *testing.T) {
	f := newFixture(t)
	cfg := pipelineConfig()
	cfg.DryRun = true
	env := f.env(cfg)

	tagged, err := NewImageTagger(env, branchName, imageVersions()).Tag(f.ctx)
	require.NoError(t, err)
	assert.True(t, tagged)

	assert.Empty(t, f.fake.Calls("CreateTag"))
	assert.Empty(t, f.trigger.calls)

	image, ok := env.Metadata.Release(project.Image.Name)
	require.True(t, ok)
	assert.Equal(t, "13.11.202104140915+94b8fd8d152", image.Ref)
	assert.Equal(t, imageTip, image.SHA)
}

func TestImageTagger_TriggersChart(t *testing.T) {
	f := newFixture(t)
	env := f.env(pipelineConfig())

	tagged, err := NewImageTagger(env, branchName, imageVersions()).Tag(f.ctx)
	require.NoError(t, err)
	assert.True(t, tagged)
	assert.Equal(t, []string{"13.11.202104140915+94b8fd8d152"}, f.fake.TagNames(project.Image.AutoDeployPath()))

	require.Len(t, f.trigger.calls, 1)
	call := f.trigger.calls[0]
	assert.Equal(t, project.Chart.AutoDeployPath(), call.project)
	assert.Equal(t, "chart-token", call.token)
	assert.Equal(t, branchName, call.ref)
	assert.Equal(t, "13.11.202104140915+94b8fd8d152", call.variables["AUTO_DEPLOY_TAG"])
	assert.Equal(t, "tag_auto_deploy", call.variables["TRIGGER_JOB"])
	assert.Equal(t, coreSHA, call.variables["AUTO_DEPLOY_COMPONENT_GITLAB_VERSION"])
	assert.Equal(t, "0.0.9", call.variables["AUTO_DEPLOY_COMPONENT_MAILROOM_VERSION"])
	assert.Len(t, call.variables, len(imageVersions())+2)
}

func TestImageTagger_ChartFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.trigger.err = &circleci.APIError{StatusCode: http.StatusNotFound, Message: "Project not found"}

	tagged, err := NewImageTagger(f.env(pipelineConfig()), branchName, imageVersions()).Tag(f.ctx)
	require.NoError(t, err)
	assert.True(t, tagged)
	assert.Len(t, f.trigger.calls, 1)
	assert.True(t, f.logged("Failed to trigger chart tagging"))
}

func TestChartTagger_ReturnsTriggerErrors(t *testing.T) {
	f := newFixture(t)
	f.trigger.err = &circleci.APIError{StatusCode: http.StatusBadRequest, Message: "bad parameters"}

	tagged, err := NewChartTagger(f.env(pipelineConfig()), branchName, "13.11.202104140915+94b8fd8d152", nil).Tag(f.ctx)
	require.Error(t, err)
	assert.False(t, tagged)
	assert.True(t, strings.Contains(err.Error(), "bad parameters"))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "coordinator", KindCoordinator.String())
	assert.Equal(t, "chart", KindChart.String())
	assert.Equal(t, "Kind(9)", Kind(9).String())
}
