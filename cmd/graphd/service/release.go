package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stratahq/strata/cmd/graphd/repository"
	"github.com/stratahq/strata/common/apperror"
	"github.com/stratahq/strata/common/logger"
	"github.com/stratahq/strata/common/models"
	"github.com/stratahq/strata/common/queue"
	"github.com/stratahq/strata/common/tenant"
)

// ReleaseService owns immutable release snapshots and their tags
type ReleaseService struct {
	releases *repository.ReleaseRepository
	branches *BranchService
	events   queue.Queue
	log      *logger.Logger
}

// NewReleaseService creates a new release service
func NewReleaseService(releases *repository.ReleaseRepository, branches *BranchService, events queue.Queue, log *logger.Logger) *ReleaseService {
	return &ReleaseService{
		releases: releases,
		branches: branches,
		events:   events,
		log:      log,
	}
}

// FreezeResult summarizes a newly frozen snapshot
type FreezeResult struct {
	ProductVersion *models.ProductVersion `json:"product_version"`
	MemberCount    int                    `json:"member_count"`
}

// Freeze captures the branch's currently visible object heads as an
// immutable named snapshot
func (s *ReleaseService) Freeze(ctx context.Context, name string, branchID *uuid.UUID) (*FreezeResult, error) {
	scope := tenant.From(ctx)
	if scope.IsWildcard() {
		return nil, apperror.ErrBadRequest.WithMessage("release freeze requires a project scope")
	}
	if name == "" {
		return nil, apperror.ErrBadRequest.WithMessage("release name is required")
	}

	branch, err := s.branches.Resolve(ctx, branchID)
	if err != nil {
		return nil, err
	}

	pv := &models.ProductVersion{
		ID:             uuid.New(),
		OrganizationID: scope.OrgID,
		ProjectID:      scope.ProjectID,
		BranchID:       branch.ID,
		Name:           name,
		FrozenAt:       time.Now(),
	}

	members, err := s.releases.Freeze(ctx, pv)
	if err != nil {
		if tenant.IsUniqueViolation(err) {
			return nil, apperror.ErrConflict.WithMessage(fmt.Sprintf("release %q already exists", name))
		}
		return nil, err
	}

	if err := queue.PublishJSON(ctx, s.events, queue.TopicReleaseFrozen, pv.ID.String(), pv); err != nil {
		s.log.Warn("failed to publish release event", "error", err)
	}

	s.log.Info("froze release snapshot",
		"product_version_id", pv.ID,
		"name", pv.Name,
		"branch_id", pv.BranchID,
		"members", members,
	)
	return &FreezeResult{ProductVersion: pv, MemberCount: members}, nil
}

// Get retrieves a snapshot by id
func (s *ReleaseService) Get(ctx context.Context, id uuid.UUID) (*models.ProductVersion, error) {
	pv, err := s.releases.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.ErrNotFound.WithMessage("release not found")
		}
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return pv, nil
}

// List returns the project's snapshots, newest first
func (s *ReleaseService) List(ctx context.Context) ([]*models.ProductVersion, error) {
	scope := tenant.From(ctx)
	if scope.IsWildcard() {
		return nil, apperror.ErrBadRequest.WithMessage("release listing requires a project scope")
	}

	versions, err := s.releases.List(ctx, scope.ProjectID)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return versions, nil
}

// Members returns a snapshot's pinned object versions
func (s *ReleaseService) Members(ctx context.Context, id uuid.UUID) ([]*models.ProductVersionMember, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	members, err := s.releases.ListMembers(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return members, nil
}

// Diff classifies every canonical object across two snapshots without
// touching version history
func (s *ReleaseService) Diff(ctx context.Context, fromID, toID uuid.UUID) ([]*models.SnapshotDiffEntry, error) {
	if _, err := s.Get(ctx, fromID); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, toID); err != nil {
		return nil, err
	}

	entries, err := s.releases.Diff(ctx, fromID, toID)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return entries, nil
}

// TagRelease points a named tag at a snapshot, moving it if it exists
func (s *ReleaseService) TagRelease(ctx context.Context, name string, productVersionID uuid.UUID) (*models.Tag, error) {
	scope := tenant.From(ctx)
	if scope.IsWildcard() {
		return nil, apperror.ErrBadRequest.WithMessage("tagging requires a project scope")
	}
	if name == "" {
		return nil, apperror.ErrBadRequest.WithMessage("tag name is required")
	}

	if _, err := s.Get(ctx, productVersionID); err != nil {
		return nil, err
	}

	tag := &models.Tag{
		OrganizationID:   scope.OrgID,
		ProjectID:        scope.ProjectID,
		Name:             name,
		ProductVersionID: productVersionID,
	}
	if err := s.releases.UpsertTag(ctx, tag); err != nil {
		return nil, err
	}

	return s.releases.GetTag(ctx, scope.ProjectID, name)
}

// GetTag retrieves a tag by name
func (s *ReleaseService) GetTag(ctx context.Context, name string) (*models.Tag, error) {
	scope := tenant.From(ctx)
	tag, err := s.releases.GetTag(ctx, scope.ProjectID, name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.ErrNotFound.WithMessage("tag not found")
		}
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return tag, nil
}

// ListTags returns the project's tags
func (s *ReleaseService) ListTags(ctx context.Context) ([]*models.Tag, error) {
	scope := tenant.From(ctx)
	tags, err := s.releases.ListTags(ctx, scope.ProjectID)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return tags, nil
}

// DeleteTag removes a tag; the snapshot it pointed to survives
func (s *ReleaseService) DeleteTag(ctx context.Context, name string) error {
	scope := tenant.From(ctx)
	if err := s.releases.DeleteTag(ctx, scope.ProjectID, name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperror.ErrNotFound.WithMessage("tag not found")
		}
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}
