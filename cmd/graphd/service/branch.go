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

// BranchService owns branch lifecycle and lineage. Branching is lazy:
// creating a branch copies lineage rows only, never object versions.
type BranchService struct {
	repo   *repository.BranchRepository
	events queue.Queue
	log    *logger.Logger
}

// NewBranchService creates a new branch service
func NewBranchService(repo *repository.BranchRepository, events queue.Queue, log *logger.Logger) *BranchService {
	return &BranchService{
		repo:   repo,
		events: events,
		log:    log,
	}
}

// Create creates a branch under the current project. A nil parent forks
// from the project's default branch; the first branch ever created in a
// project becomes its default.
func (s *BranchService) Create(ctx context.Context, name string, parentBranchID *uuid.UUID) (*models.Branch, error) {
	scope := tenant.From(ctx)
	if scope.IsWildcard() {
		return nil, apperror.ErrBadRequest.WithMessage("branch creation requires a project scope")
	}
	if name == "" {
		return nil, apperror.ErrBadRequest.WithMessage("branch name is required")
	}

	if parentBranchID != nil {
		parent, err := s.repo.GetByID(ctx, *parentBranchID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, apperror.ErrNotFound.WithMessage("parent branch not found")
			}
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
		if !parent.Active {
			return nil, apperror.ErrBadRequest.WithMessage("cannot branch from an inactive branch")
		}
	} else {
		def, err := s.repo.GetDefault(ctx, scope.ProjectID)
		switch {
		case err == nil:
			parentBranchID = &def.ID
		case errors.Is(err, pgx.ErrNoRows):
			// First branch in the project becomes the root.
		default:
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
	}

	branch := &models.Branch{
		ID:             uuid.New(),
		OrganizationID: scope.OrgID,
		ProjectID:      scope.ProjectID,
		Name:           name,
		ParentBranchID: parentBranchID,
		IsDefault:      parentBranchID == nil,
		Active:         true,
		CreatedAt:      time.Now(),
	}

	if err := s.repo.Create(ctx, branch); err != nil {
		if tenant.IsUniqueViolation(err) {
			return nil, apperror.ErrConflict.WithMessage(fmt.Sprintf("branch %q already exists", name))
		}
		return nil, err
	}

	if err := queue.PublishJSON(ctx, s.events, queue.TopicBranchCreated, branch.ID.String(), branch); err != nil {
		s.log.Warn("failed to publish branch event", "error", err)
	}

	s.log.Info("created branch",
		"branch_id", branch.ID,
		"name", branch.Name,
		"default", branch.IsDefault,
	)
	return branch, nil
}

// EnsureDefault returns the project's default branch, creating "main" on
// first use
func (s *BranchService) EnsureDefault(ctx context.Context) (*models.Branch, error) {
	scope := tenant.From(ctx)
	if scope.IsWildcard() {
		return nil, apperror.ErrBadRequest.WithMessage("default branch resolution requires a project scope")
	}

	branch, err := s.repo.GetDefault(ctx, scope.ProjectID)
	if err == nil {
		return branch, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	branch, err = s.Create(ctx, models.DefaultBranchName, nil)
	if err != nil {
		// Lost the bootstrap race; the winner's branch is the default.
		var appErr *apperror.Error
		if errors.As(err, &appErr) && appErr.Code == apperror.ErrConflict.Code {
			return s.repo.GetDefault(ctx, scope.ProjectID)
		}
		return nil, err
	}
	return branch, nil
}

// Resolve maps an optional branch id to a branch, falling back to the
// project default
func (s *BranchService) Resolve(ctx context.Context, branchID *uuid.UUID) (*models.Branch, error) {
	if branchID == nil {
		return s.EnsureDefault(ctx)
	}

	branch, err := s.repo.GetByID(ctx, *branchID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.ErrNotFound.WithMessage("branch not found")
		}
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return branch, nil
}

// Get retrieves a branch by id
func (s *BranchService) Get(ctx context.Context, id uuid.UUID) (*models.Branch, error) {
	return s.Resolve(ctx, &id)
}

// List returns the project's branches
func (s *BranchService) List(ctx context.Context, includeInactive bool) ([]*models.Branch, error) {
	scope := tenant.From(ctx)
	if scope.IsWildcard() {
		return nil, apperror.ErrBadRequest.WithMessage("branch listing requires a project scope")
	}

	branches, err := s.repo.List(ctx, scope.ProjectID, includeInactive)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return branches, nil
}

// Lineage returns the branch's ancestor closure, self row first
func (s *BranchService) Lineage(ctx context.Context, branchID uuid.UUID) ([]*models.BranchLineage, error) {
	lineage, err := s.repo.Lineage(ctx, branchID)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	if len(lineage) == 0 {
		return nil, apperror.ErrNotFound.WithMessage("branch not found")
	}
	return lineage, nil
}

// Archive marks a branch inactive. History stays queryable through
// descendant lineage; the branch stops accepting new work.
func (s *BranchService) Archive(ctx context.Context, id uuid.UUID) error {
	branch, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if branch.IsDefault {
		return apperror.ErrBadRequest.WithMessage("cannot archive the default branch")
	}

	if err := s.repo.SetActive(ctx, id, false); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperror.ErrNotFound.WithMessage("branch not found")
		}
		return apperror.ErrDatabase.WithInternal(err)
	}

	s.log.Info("archived branch", "branch_id", id, "name", branch.Name)
	return nil
}
