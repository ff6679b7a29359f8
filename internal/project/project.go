// Package project describes the repositories taking part in an auto-deploy.
package project

// Project is a repository and the names it goes by.
type Project struct {
	// Name identifies the project in release metadata.
	Name string
	// Canonical is the public repository.
	Canonical string
	// Security is the private fork. Auto-deploy branches live here.
	Security      string
	DefaultBranch string
	// VersionFile is the file in the core repository holding this
	// component's version. Empty for projects that are not components.
	VersionFile string
}

// Path returns the security path when security is set, the canonical one otherwise.
func (p Project) Path(security bool) string {
	if security && p.Security != "" {
		return p.Security
	}
	return p.Canonical
}

// AutoDeployPath is where auto-deploy branches and tags are created.
func (p Project) AutoDeployPath() string {
	return p.Path(true)
}

func (p Project) String() string {
	return p.Name
}

var (
	CoreApp = Project{
		Name:          "gitlab-ee",
		Canonical:     "gitlab-org/gitlab",
		Security:      "gitlab-org-security/gitlab",
		DefaultBranch: "master",
		VersionFile:   "VERSION",
	}
	Packaging = Project{
		Name:          "omnibus-gitlab-ee",
		Canonical:     "gitlab-org/omnibus-gitlab",
		Security:      "gitlab-org-security/omnibus-gitlab",
		DefaultBranch: "master",
	}
	Image = Project{
		Name:          "cng-ee",
		Canonical:     "gitlab-org/build-cng",
		Security:      "gitlab-org-security/build-cng",
		DefaultBranch: "master",
	}
	Chart = Project{
		Name:          "helm-gitlab",
		Canonical:     "gitlab-org/charts-gitlab",
		Security:      "gitlab-org-security/charts-gitlab",
		DefaultBranch: "master",
	}
	Coordinator = Project{
		Name:          "release-tools",
		Canonical:     "gitlab-org/release-tools",
		DefaultBranch: "master",
	}
	ReleaseMetadata = Project{
		Name:          "release-metadata",
		Canonical:     "gitlab-org/release-metadata",
		DefaultBranch: "master",
	}

	Gitaly = Project{
		Name:          "gitaly",
		Canonical:     "gitlab-org/gitaly",
		Security:      "gitlab-org-security/gitaly",
		DefaultBranch: "master",
		VersionFile:   "GITALY_SERVER_VERSION",
	}
	Pages = Project{
		Name:          "gitlab-pages",
		Canonical:     "gitlab-org/gitlab-pages",
		Security:      "gitlab-org-security/gitlab-pages",
		DefaultBranch: "master",
		VersionFile:   "GITLAB_PAGES_VERSION",
	}
	Shell = Project{
		Name:          "gitlab-shell",
		Canonical:     "gitlab-org/gitlab-shell",
		Security:      "gitlab-org-security/gitlab-shell",
		DefaultBranch: "main",
		VersionFile:   "GITLAB_SHELL_VERSION",
	}
	ElasticsearchIndexer = Project{
		Name:          "gitlab-elasticsearch-indexer",
		Canonical:     "gitlab-org/gitlab-elasticsearch-indexer",
		Security:      "gitlab-org-security/gitlab-elasticsearch-indexer",
		DefaultBranch: "main",
		VersionFile:   "GITLAB_ELASTICSEARCH_INDEXER_VERSION",
	}
	Workhorse = Project{
		Name:          "gitlab-workhorse",
		Canonical:     "gitlab-org/gitlab-workhorse",
		Security:      "gitlab-org-security/gitlab-workhorse",
		DefaultBranch: "master",
		VersionFile:   "GITLAB_WORKHORSE_VERSION",
	}
)

// Components are the projects whose versions the core repository pins and
// the packaging project tracks, in the order they are written.
var Components = []Project{Gitaly, ElasticsearchIndexer, Pages, Shell}

// Tracked are the components known to release metadata, keyed by version file.
var Tracked = map[string]Project{
	Gitaly.VersionFile:               Gitaly,
	ElasticsearchIndexer.VersionFile: ElasticsearchIndexer,
	Pages.VersionFile:                Pages,
	Shell.VersionFile:                Shell,
	Workhorse.VersionFile:            Workhorse,
}

// ByName finds a component by its name or its version file.
func ByName(name string) (Project, bool) {
	for _, p := range append([]Project{CoreApp, Packaging, Image, Chart, Coordinator}, Components...) {
		if p.Name == name || (p.VersionFile != "" && p.VersionFile == name) {
			return p, true
		}
	}
	if name == Workhorse.Name || name == Workhorse.VersionFile {
		return Workhorse, true
	}
	return Project{}, false
}

// Gems maps patterns of gem names pinned in the core Gemfile.lock to image
// variables. Patterns allow for gem renames.
var Gems = map[string]string{
	`^(gitlab-)?mail_room$`: "MAILROOM_VERSION",
}

// AutoDeployProjects are the projects that get auto-deploy branches.
var AutoDeployProjects = []Project{CoreApp, Packaging, Image, Chart}
