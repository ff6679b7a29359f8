// Command auto-deploy tags coordinated auto-deploys and inspects deployed versions.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	slogcontext "github.com/veqryn/slog-context"

	"github.com/reillywatson/autodeploy/internal/cache"
	"github.com/reillywatson/autodeploy/internal/config"
	"github.com/reillywatson/autodeploy/internal/logging"
	"github.com/reillywatson/autodeploy/internal/scm"
)

type app struct {
	cfg       config.Config
	cacheKind string
	cache     cache.Cache
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "auto-deploy",
		Short:         "Coordinate auto-deploy branches, tags and versions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.GetBaseLogger(cmd)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			cmd.SetContext(logging.WithLogger(cmd.Context(), logger))

			a.cfg = config.Load()
			a.cache, err = cache.New(a.cacheKind)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.cache == nil {
				return nil
			}
			return a.cache.Close()
		},
	}

	logging.RegisterLoggingFlags(cmd)
	cmd.PersistentFlags().StringVar(&a.cacheKind, "cache", "file", "response cache (file, memory, none)")

	cmd.AddCommand(
		newTagCmd(a),
		newResolveCmd(a),
		newRefCmd(a),
		newBranchCmd(),
		newCleanupCmd(a),
	)
	return cmd
}

// client builds the repository client: GitHub, cached, with retries.
func (a *app) client() (scm.Client, error) {
	if a.cfg.GitHubToken == "" {
		return nil, errors.New("GITHUB_TOKEN environment variable not set")
	}

	gh, err := scm.NewGitHubClient(a.cfg.GitHubToken, a.cfg.GitHubAPIURL)
	if err != nil {
		return nil, err
	}
	return scm.WithRetry(scm.NewCachedClient(gh, a.cache)), nil
}

func main() {
	ctx := context.Background()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slogcontext.FromCtx(ctx).Error("Command failed", "error", err)
		os.Exit(1)
	}
}
