package app

import (
	"context"
	"errors"
	"fmt"

	"caseline/internal/config"
	"caseline/internal/repo"
)

const defaultFirmID = "default-firm"

// ResolveCase picks the active case: an explicit override wins, otherwise
// the single case in the workspace.
func ResolveCase(ctx context.Context, caseOverride string, r repo.Repo) (string, error) {
	if caseOverride != "" {
		return caseOverride, nil
	}
	c, err := r.SingleCase(ctx)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", fmt.Errorf("no case in this workspace; create one with cl case create")
		}
		return "", err
	}
	return c.ID, nil
}

// ResolveConfig loads the firm config: a caseline.yml in the workspace wins,
// then the stored firm config, and a default is seeded on first use so every
// later call sees the same configuration.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	cfg, err = r.GetFirmConfig(ctx, defaultFirmID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	cfg = config.Default(defaultFirmID)
	if err := r.UpsertFirmConfig(ctx, defaultFirmID, cfg); err != nil {
		return nil, fmt.Errorf("seed firm config: %w", err)
	}
	return cfg, nil
}
