package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/reillywatson/autodeploy/internal/autodeploy"
	"github.com/reillywatson/autodeploy/internal/circleci"
	"github.com/reillywatson/autodeploy/internal/deployment"
	"github.com/reillywatson/autodeploy/internal/metadata"
	"github.com/reillywatson/autodeploy/internal/project"
	"github.com/reillywatson/autodeploy/internal/ref"
	"github.com/reillywatson/autodeploy/internal/version"
)

func newTable(w io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(header)
	t.SetStyle(table.StyleLight)
	return t
}

func newTagCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tag",
		Short: "Update and tag the current auto-deploy branch",
		Long: `Update component versions on the auto-deploy branch named by
AUTO_DEPLOY_BRANCH and tag the downstream projects. Outside a coordinator
pipeline a changed branch gets a new coordinator tag instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}

			trigger := circleci.NewCircleCIClient(a.cfg.CircleCIToken, a.cfg.CircleCIBaseURL)
			defer trigger.Close()

			runner := &autodeploy.Runner{
				Config:  a.cfg,
				Client:  client,
				Trigger: trigger,
				Store:   metadata.NewStore(client, a.cfg),
				Now:     time.Now,
			}
			result, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Version %s on %s (changed: %t)\n", result.Version, result.Branch, result.Changed)

			releases := result.Metadata.Releases()
			t := newTable(cmd.OutOrStdout(), table.Row{"Component", "Version", "Ref", "Tag"})
			for _, name := range slices.Sorted(maps.Keys(releases)) {
				r := releases[name]
				t.AppendRow(table.Row{name, r.Version, r.Ref, r.Tag})
			}
			t.Render()
			return nil
		},
	}
}

func newResolveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve VERSION",
		Short: "Resolve a deployed version to core and packaging commits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.client()
			if err != nil {
				return err
			}

			store := metadata.NewStore(client, a.cfg)
			finder := deployment.NewIntersectionFinder(client)

			t := newTable(cmd.OutOrStdout(), table.Row{"Variant", "SHA", "Ref", "Tag", "Canonical"})
			for _, variant := range []deployment.Variant{deployment.Core, deployment.Packaging} {
				resolver := deployment.NewResolver(variant, client, store)
				resolver.Security = a.cfg.Security
				v, err := resolver.Resolve(ctx, args[0])
				if err != nil {
					return err
				}

				canonical := "-"
				p := project.CoreApp
				if variant == deployment.Packaging {
					p = project.Packaging
				}
				if sha, ok := finder.Find(ctx, p, v.SHA); ok {
					canonical = sha
				}
				t.AppendRow(table.Row{variant.String(), v.SHA, v.Ref, v.IsTag, canonical})
			}
			t.Render()
			return nil
		},
	}
}

func newRefCmd(a *app) *cobra.Command {
	var component string

	cmd := &cobra.Command{
		Use:   "ref REF",
		Short: "Resolve a core ref, or the ref of a component pinned by it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if component == "" {
				fmt.Fprintln(cmd.OutOrStdout(), ref.Normalize(args[0]))
				return nil
			}

			p, ok := project.ByName(component)
			if !ok {
				return fmt.Errorf("unknown component %q", component)
			}

			client, err := a.client()
			if err != nil {
				return err
			}
			r, err := ref.NewResolver(client).ForComponent(cmd.Context(), p, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), r)
			return nil
		},
	}
	cmd.Flags().StringVar(&component, "component", "", "component name or version file, e.g. gitaly")
	return cmd
}

func newBranchCmd() *cobra.Command {
	var major, minor int

	cmd := &cobra.Command{
		Use:   "branch",
		Short: "Print the auto-deploy branch name for the current hour",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.EncodeBranch(major, minor, time.Now()))
			return nil
		},
	}
	cmd.Flags().IntVar(&major, "major", 0, "major version")
	cmd.Flags().IntVar(&minor, "minor", 0, "minor version")
	_ = cmd.MarkFlagRequired("major")
	_ = cmd.MarkFlagRequired("minor")
	return cmd
}

func newCleanupCmd(a *app) *cobra.Command {
	var days, workers int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete outdated auto-deploy branches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}

			c := autodeploy.NewCleanup(client)
			c.Days = days
			c.Workers = workers
			c.DryRun = a.cfg.DryRun

			deleted, err := c.Run(cmd.Context())

			t := newTable(cmd.OutOrStdout(), table.Row{"Project", "Branch"})
			for _, d := range deleted {
				t.AppendRow(table.Row{d.Repo, d.Branch})
			}
			t.Render()
			return err
		},
	}
	cmd.Flags().IntVar(&days, "days", autodeploy.DefaultDaysToKeep, "keep branches younger than this many days")
	cmd.Flags().IntVar(&workers, "workers", autodeploy.DefaultCleanupWorkers, "projects cleaned concurrently")
	return cmd
}
