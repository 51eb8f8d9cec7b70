package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stratahq/strata/common/apperror"
	"github.com/stratahq/strata/common/logger"
	rediscommon "github.com/stratahq/strata/common/redis"
)

// ScopeResolver derives the organization id for a project. Lookups are
// cached in Redis; Invalidate must be called whenever a project is moved or
// deleted.
type ScopeResolver struct {
	exec  *Executor
	redis *rediscommon.Client
	ttl   time.Duration
	log   *logger.Logger
}

// NewScopeResolver creates a new resolver. redis may be nil, in which case
// every lookup hits the database.
func NewScopeResolver(exec *Executor, redisClient *rediscommon.Client, ttl time.Duration, log *logger.Logger) *ScopeResolver {
	return &ScopeResolver{
		exec:  exec,
		redis: redisClient,
		ttl:   ttl,
		log:   log,
	}
}

func scopeCacheKey(projectID uuid.UUID) string {
	return fmt.Sprintf("tenant:project_org:%s", projectID)
}

// OrgForProject resolves the owning organization of a project
func (r *ScopeResolver) OrgForProject(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error) {
	if r.redis != nil {
		if val, err := r.redis.Get(ctx, scopeCacheKey(projectID)); err == nil {
			if orgID, err := uuid.Parse(val); err == nil {
				return orgID, nil
			}
		}
	}

	// The projects table is readable under the wildcard scope only; the
	// lookup itself runs scope-less so it works before a frame is pushed.
	var orgID uuid.UUID
	err := r.exec.QueryRow(ctx,
		`SELECT organization_id FROM projects WHERE id = $1`,
		[]any{projectID},
		func(row pgx.Row) error {
			return row.Scan(&orgID)
		},
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, apperror.NewNotFound("project", projectID.String())
		}
		return uuid.Nil, apperror.ErrDatabase.WithInternal(fmt.Errorf("resolve project org: %w", err))
	}

	if r.redis != nil {
		if err := r.redis.SetWithExpiry(ctx, scopeCacheKey(projectID), orgID.String(), r.ttl); err != nil {
			r.log.Warn("failed to cache project org", "project_id", projectID, "error", err)
		}
	}

	return orgID, nil
}

// Invalidate drops the cached org for a project
func (r *ScopeResolver) Invalidate(ctx context.Context, projectID uuid.UUID) {
	if r.redis == nil {
		return
	}
	if err := r.redis.Delete(ctx, scopeCacheKey(projectID)); err != nil {
		r.log.Warn("failed to invalidate project org cache", "project_id", projectID, "error", err)
	}
}

// RunWithTenant derives the full scope for (orgID, projectID), resolving
// the org when the caller only knows the project, pushes it, and runs fn.
// The caller's context keeps whatever scope it had before.
func (r *ScopeResolver) RunWithTenant(ctx context.Context, orgID *uuid.UUID, projectID uuid.UUID, fn func(ctx context.Context) error) error {
	scope := Scope{ProjectID: projectID}

	if orgID != nil {
		scope.OrgID = *orgID
	} else if projectID != uuid.Nil {
		resolved, err := r.OrgForProject(ctx, projectID)
		if err != nil {
			return err
		}
		scope.OrgID = resolved
	}

	return RunScoped(ctx, scope, fn)
}
