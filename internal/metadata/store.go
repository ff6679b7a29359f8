package metadata

import (
	"context"
	"encoding/json"
	"fmt"

	slogcontext "github.com/veqryn/slog-context"

	"github.com/reillywatson/autodeploy/internal/config"
	"github.com/reillywatson/autodeploy/internal/project"
	"github.com/reillywatson/autodeploy/internal/scm"
	"github.com/reillywatson/autodeploy/internal/version"
)

// Store reads and writes published release metadata in the metadata repository.
type Store struct {
	client  scm.Client
	project project.Project
	cfg     config.Config
}

func NewStore(client scm.Client, cfg config.Config) *Store {
	return &Store{client: client, project: project.ReleaseMetadata, cfg: cfg}
}

// Path is the location of the metadata of v: releases/{major}/{normalized}.json.
func Path(v version.AutoDeployVersion) string {
	return fmt.Sprintf("releases/%d/%s.json", v.Major, v.Normalized())
}

// Load returns the metadata published for ver. Metadata that was never
// published loads as empty.
func (s *Store) Load(ctx context.Context, ver string) (*ReleaseMetadata, error) {
	v, err := version.DecodeVersion(ver)
	if err != nil {
		return nil, err
	}

	path := Path(v)
	content, err := s.client.FileContents(ctx, s.project.Canonical, path, s.project.DefaultBranch)
	if scm.IsNotFound(err) {
		slogcontext.FromCtx(ctx).Debug("No release metadata published", "version", ver, "path", path)
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load release metadata for %s: %w", ver, err)
	}

	md := New()
	if err := json.Unmarshal([]byte(content), md); err != nil {
		return nil, fmt.Errorf("failed to parse release metadata %s: %w", path, err)
	}
	return md, nil
}

// Upload publishes md for ver. Nothing is written in dry-run mode or when md is empty.
func (s *Store) Upload(ctx context.Context, ver string, md *ReleaseMetadata) error {
	logger := slogcontext.FromCtx(ctx)

	if md.Empty() {
		logger.Warn("Not recording empty release data", "version", ver)
		return nil
	}

	v, err := version.DecodeVersion(ver)
	if err != nil {
		return err
	}

	md.Security = s.cfg.Security
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode release metadata: %w", err)
	}

	path := Path(v)
	logger.Info("Recording release data", "project", s.project.Canonical, "version", ver, "path", path)

	if s.cfg.DryRun {
		return nil
	}

	action := scm.ActionCreate
	message := fmt.Sprintf("Add release data for %s", v.Normalized())
	if _, err := s.client.FileContents(ctx, s.project.Canonical, path, s.project.DefaultBranch); err == nil {
		action = scm.ActionUpdate
		message = fmt.Sprintf("Update release data for %s", v.Normalized())
	} else if !scm.IsNotFound(err) {
		return fmt.Errorf("failed to check release metadata %s: %w", path, err)
	}

	_, err = s.client.CreateCommit(ctx, s.project.Canonical, s.project.DefaultBranch, message, []scm.FileAction{{
		Action:  action,
		Path:    path,
		Content: string(data) + "\n",
	}})
	if err != nil {
		return fmt.Errorf("failed to upload release metadata %s: %w", path, err)
	}
	return nil
}
