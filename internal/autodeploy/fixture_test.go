package autodeploy

import (
	"bytes"
	"context"
	"log/slog"
	"maps"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/reillywatson/autodeploy/internal/circleci"
	"github.com/reillywatson/autodeploy/internal/config"
	"github.com/reillywatson/autodeploy/internal/logging"
	"github.com/reillywatson/autodeploy/internal/metadata"
	"github.com/reillywatson/autodeploy/internal/project"
	"github.com/reillywatson/autodeploy/internal/scm"
	"github.com/reillywatson/autodeploy/internal/scm/scmtest"
)

const (
	branchName   = "13-11-auto-deploy-2021041409"
	runVersion   = "13.11.202104140915"
	jobURL       = "https://ci.example.com/jobs/1"
	coreSHA      = "94b8fd8d152680445ec14241f14d1e4c04b0b5ab"
	gitalySHA    = "0123456789abcdef0123456789abcdef01234567"
	indexerSHA   = "89abcdef0123456789abcdef0123456789abcdef"
	shellSHA     = "fedcba9876543210fedcba9876543210fedcba98"
	pagesSHA     = "5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a"
	packagingTip = "6fea3031ec9a1b2c3d4e5f60718293a4b5c6d7e8"
	imageTip     = "c0ffee00c0ffee00c0ffee00c0ffee00c0ffee00"
	metadataTip  = "1111111111111111111111111111111111111111"
)

const lockContent = `GEM
  remote: https://rubygems.org/
  specs:
    ace-rails-ap (4.1.2)
    gitlab-mail_room (0.0.9)
      net-imap
      jwt (>= 2.0)
    rake (13.0.3)

PLATFORMS
  ruby

BUNDLED WITH
   2.1.4
`

type triggerCall struct {
	project   string
	token     string
	ref       string
	variables map[string]string
}

type fakeTrigger struct {
	calls []triggerCall
	err   error
}

func (f *fakeTrigger) Trigger(_ context.Context, project, token, ref string, variables map[string]string) (*circleci.Pipeline, error) {
	f.calls = append(f.calls, triggerCall{project: project, token: token, ref: ref, variables: variables})
	if f.err != nil {
		return nil, f.err
	}
	return &circleci.Pipeline{ID: "pipeline-1", Number: 1, WebURL: "https://app.circleci.com/pipelines/gh/" + project + "/1"}, nil
}

type fixture struct {
	fake    *scmtest.Fake
	trigger *fakeTrigger
	logs    *bytes.Buffer
	ctx     context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logs := &bytes.Buffer{}
	logger, err := logging.New(logs, "text", slog.LevelDebug)
	require.NoError(t, err)

	fake := scmtest.NewFake()

	core := project.CoreApp.AutoDeployPath()
	fake.SetHistory(core, branchName, coreSHA)
	fake.SetStatus(core, coreSHA, scm.StatusSuccess)
	fake.AddTag(project.Pages.Security, "v1.38.0", pagesSHA)

	fake.SetHistory(project.Packaging.AutoDeployPath(), branchName, packagingTip)
	fake.SetHistory(project.Image.AutoDeployPath(), branchName, imageTip)
	fake.SetHistory(project.ReleaseMetadata.Canonical, project.ReleaseMetadata.DefaultBranch, metadataTip)

	f := &fixture{
		fake:    fake,
		trigger: &fakeTrigger{},
		logs:    logs,
		ctx:     logging.WithLogger(context.Background(), logger),
	}
	f.coreFiles(branchName)
	return f
}

// coreFiles stores the component version files of the core project at ref.
func (f *fixture) coreFiles(ref string) {
	core := project.CoreApp.AutoDeployPath()
	f.fake.SetFile(core, ref, project.Gitaly.VersionFile, gitalySHA+"\n")
	f.fake.SetFile(core, ref, project.ElasticsearchIndexer.VersionFile, indexerSHA+"\n")
	f.fake.SetFile(core, ref, project.Pages.VersionFile, "1.38.0\n")
	f.fake.SetFile(core, ref, project.Shell.VersionFile, shellSHA+"\n")
	f.fake.SetFile(core, ref, gemfileLock, lockContent)
}

func (f *fixture) env(cfg config.Config) *Env {
	return &Env{
		Config:   cfg,
		Client:   f.fake,
		Trigger:  f.trigger,
		Metadata: metadata.New(),
		Version:  runVersion,
	}
}

// pipelineConfig is the configuration of a coordinator pipeline run.
func pipelineConfig() config.Config {
	return config.Config{
		AutoDeployBranch:  branchName,
		CommitTag:         runVersion,
		JobURL:            jobURL,
		ChartTriggerToken: "chart-token",
		DeployVarsFile:    "deploy_vars.env",
	}
}

// scheduledConfig is the configuration of a run that may create a coordinator tag.
func scheduledConfig() config.Config {
	return config.Config{
		AutoDeployBranch: branchName,
		JobURL:           jobURL,
		DeployVarsFile:   "deploy_vars.env",
	}
}

func packagingVersions() map[string]string {
	return map[string]string{
		"VERSION":                                coreSHA,
		project.Gitaly.VersionFile:               gitalySHA,
		project.ElasticsearchIndexer.VersionFile: indexerSHA,
		project.Pages.VersionFile:                "1.38.0",
		project.Shell.VersionFile:                shellSHA,
	}
}

func imageVersions() map[string]string {
	return map[string]string{
		"GITLAB_VERSION":                         coreSHA,
		"GITLAB_ASSETS_TAG":                      coreSHA,
		project.Gitaly.VersionFile:               gitalySHA,
		project.ElasticsearchIndexer.VersionFile: indexerSHA,
		project.Pages.VersionFile:                "v1.38.0",
		project.Shell.VersionFile:                shellSHA,
		"MAILROOM_VERSION":                       "0.0.9",
	}
}

// upToDate commits the current component versions to both downstream projects.
func (f *fixture) upToDate(t *testing.T) {
	t.Helper()

	for k, v := range packagingVersions() {
		f.fake.SetFile(project.Packaging.AutoDeployPath(), branchName, k, v+"\n")
	}
	f.setImageVariables(t, imageVersions())
}

func (f *fixture) setImageVariables(t *testing.T, vars map[string]string) {
	t.Helper()

	content, err := yaml.Marshal(variablesDocument{Variables: maps.Clone(vars)})
	require.NoError(t, err)
	f.fake.SetFile(project.Image.AutoDeployPath(), branchName, imageVariablesFile, string(content))
}

func (f *fixture) tagTips() {
	f.fake.AddTag(project.Packaging.AutoDeployPath(), "13.11.202104140815+94b8fd8d152.6fea3031ec9", packagingTip)
	f.fake.AddTag(project.Image.AutoDeployPath(), "13.11.202104140815+94b8fd8d152", imageTip)
}

func (f *fixture) logged(s string) bool {
	return strings.Contains(f.logs.String(), s)
}
