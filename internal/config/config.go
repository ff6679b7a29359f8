// Package config reads run settings from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// GetString retrieves an environment variable or returns a fallback when unset.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetBool retrieves an environment variable as bool or returns fallback.
func GetBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if strings.TrimSpace(value) == "" {
			return fallback
		}
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			slog.Warn("invalid boolean environment variable", "key", key, "error", err)
			return fallback
		}
		return parsed
	}
	return fallback
}

// GetInt retrieves an environment variable as integer or returns fallback.
func GetInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			slog.Warn("invalid integer environment variable", "key", key, "error", err)
			return fallback
		}
		return parsed
	}
	return fallback
}

// Config is everything a run reads from its environment. Components get it
// at construction and never look at the process environment themselves.
type Config struct {
	GitHubToken  string
	GitHubAPIURL string

	// AutoDeployBranch overrides the branch the run works on.
	AutoDeployBranch string
	// AutoDeployTag is a manually specified run version.
	AutoDeployTag string
	// CommitTag is set when the pipeline runs for a tag.
	CommitTag string
	JobURL    string

	ChartTriggerToken string
	CircleCIToken     string
	CircleCIBaseURL   string

	// DryRun logs mutations instead of performing them.
	DryRun bool
	// Security makes the run use private forks.
	Security bool

	DeployVarsFile string
}

// Load builds a Config from the environment.
func Load() Config {
	return Config{
		GitHubToken:       GetString("GITHUB_TOKEN", ""),
		GitHubAPIURL:      GetString("GITHUB_API_URL", ""),
		AutoDeployBranch:  GetString("AUTO_DEPLOY_BRANCH", ""),
		AutoDeployTag:     GetString("AUTO_DEPLOY_TAG", ""),
		CommitTag:         GetString("CI_COMMIT_TAG", ""),
		JobURL:            GetString("CI_JOB_URL", ""),
		ChartTriggerToken: GetString("CHART_TRIGGER_TOKEN", ""),
		CircleCIToken:     GetString("CIRCLECI_TOKEN", ""),
		CircleCIBaseURL:   GetString("CIRCLECI_API_URL", ""),
		DryRun:            GetBool("TEST", false),
		Security:          GetBool("SECURITY", false),
		DeployVarsFile:    GetString("DEPLOY_VARS_FILE", "deploy_vars.env"),
	}
}

// CoordinatorPipeline reports whether this run is the tagged pipeline started
// by a coordinator tag, as opposed to the scheduled run that creates one.
func (c Config) CoordinatorPipeline() bool {
	return c.CommitTag != "" || c.AutoDeployTag != ""
}

// CurrentTag returns the manually or pipeline provided run version, if any.
func (c Config) CurrentTag() (string, bool) {
	if c.AutoDeployTag != "" {
		return c.AutoDeployTag, true
	}
	if c.CommitTag != "" {
		return c.CommitTag, true
	}
	return "", false
}
