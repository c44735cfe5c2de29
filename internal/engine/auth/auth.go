// Package auth answers "may this actor do this on this case". Roles come
// from case assignments; role permissions come from the firm config.
package auth

import (
	"context"
	"errors"
	"fmt"

	"caseline/internal/config"
	"caseline/internal/repo"
)

// Well-known permissions.
const (
	PermCaseRead     = "case.read"
	PermCaseWrite    = "case.write"
	PermPhaseApprove = "phase.approve"
)

type ForbiddenError struct {
	ActorID    string
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("actor %s lacks permission %s", e.ActorID, e.Permission)
}

type Service struct {
	Repo   repo.Repo
	Config *config.Config
}

// Require checks that the actor's role on the case carries the permission.
// With no RBAC roles configured everything is allowed; an unassigned actor is
// denied once roles exist.
func (s Service) Require(ctx context.Context, actorID, caseID, permission string) error {
	if s.Config == nil || len(s.Config.RBAC.Roles) == 0 {
		return nil
	}
	assignment, err := s.Repo.GetAssignment(ctx, caseID, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ForbiddenError{ActorID: actorID, Permission: permission}
		}
		return err
	}
	role, ok := s.Config.RBAC.Roles[assignment.Role]
	if !ok {
		return ForbiddenError{ActorID: actorID, Permission: permission}
	}
	for _, p := range role.Permissions {
		if p == permission {
			return nil
		}
	}
	return ForbiddenError{ActorID: actorID, Permission: permission}
}
