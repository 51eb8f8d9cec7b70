package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stratahq/strata/cmd/graphd/repository"
	"github.com/stratahq/strata/common/apperror"
	"github.com/stratahq/strata/common/logger"
	"github.com/stratahq/strata/common/models"
	"github.com/stratahq/strata/common/queue"
	"github.com/stratahq/strata/common/tenant"
)

// ObjectService owns the versioned object lifecycle: create, append
// versions, patch, soft delete, restore. Versions are never mutated in
// place.
type ObjectService struct {
	objects  *repository.ObjectRepository
	branches *BranchService
	registry *SchemaRegistry
	exec     *tenant.Executor
	events   queue.Queue
	log      *logger.Logger
}

// NewObjectService creates a new object service
func NewObjectService(
	objects *repository.ObjectRepository,
	branches *BranchService,
	registry *SchemaRegistry,
	exec *tenant.Executor,
	events queue.Queue,
	log *logger.Logger,
) *ObjectService {
	return &ObjectService{
		objects:  objects,
		branches: branches,
		registry: registry,
		exec:     exec,
		events:   events,
		log:      log,
	}
}

// objectEvent is the payload published on object mutation topics
type objectEvent struct {
	ObjectID    uuid.UUID `json:"object_id"`
	CanonicalID uuid.UUID `json:"canonical_id"`
	BranchID    uuid.UUID `json:"branch_id"`
	Type        string    `json:"type"`
	Version     int       `json:"version"`
}

// Create validates the properties against the type's schema and inserts
// version 1, with canonical_id equal to the new row id
func (s *ObjectService) Create(ctx context.Context, objectType string, properties map[string]any, branchID *uuid.UUID) (*models.VersionedObject, error) {
	scope := tenant.From(ctx)
	if scope.IsWildcard() {
		return nil, apperror.ErrBadRequest.WithMessage("object creation requires a project scope")
	}
	if objectType == "" {
		return nil, apperror.ErrBadRequest.WithMessage("object type is required")
	}

	branch, err := s.branches.Resolve(ctx, branchID)
	if err != nil {
		return nil, err
	}

	if err := s.registry.ValidateObject(ctx, objectType, properties); err != nil {
		return nil, err
	}

	id := uuid.New()
	obj := &models.VersionedObject{
		ID:             id,
		OrganizationID: scope.OrgID,
		ProjectID:      scope.ProjectID,
		BranchID:       branch.ID,
		CanonicalID:    id,
		Version:        1,
		Type:           objectType,
		Properties:     properties,
		CreatedAt:      time.Now(),
	}

	if err := s.objects.Insert(ctx, obj); err != nil {
		return nil, err
	}

	s.publish(ctx, queue.TopicObjectCreated, obj)

	s.log.Info("created object",
		"canonical_id", obj.CanonicalID,
		"type", obj.Type,
		"branch_id", obj.BranchID,
	)
	return obj, nil
}

// CreateVersion appends a new version on the branch. The HEAD lookup and
// the insert share one transaction; a losing race on the version slot is
// retried once with a fresh HEAD.
func (s *ObjectService) CreateVersion(ctx context.Context, canonicalID uuid.UUID, properties map[string]any, branchID *uuid.UUID) (*models.VersionedObject, error) {
	branch, err := s.branches.Resolve(ctx, branchID)
	if err != nil {
		return nil, err
	}

	var created *models.VersionedObject
	err = tenant.WithVersionRetry(ctx, func(ctx context.Context) error {
		obj, err := s.newVersion(ctx, branch.ID, canonicalID, func(head *models.VersionedObject) (map[string]any, error) {
			if err := s.registry.ValidateObject(ctx, head.Type, properties); err != nil {
				return nil, err
			}
			return properties, nil
		})
		if err != nil {
			return err
		}
		created = obj
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, queue.TopicObjectVersioned, created)
	return created, nil
}

// Patch applies an RFC 7386 merge patch to the HEAD properties and
// appends the result as a new version
func (s *ObjectService) Patch(ctx context.Context, canonicalID uuid.UUID, patch json.RawMessage, branchID *uuid.UUID) (*models.VersionedObject, error) {
	branch, err := s.branches.Resolve(ctx, branchID)
	if err != nil {
		return nil, err
	}

	var created *models.VersionedObject
	err = tenant.WithVersionRetry(ctx, func(ctx context.Context) error {
		obj, err := s.newVersion(ctx, branch.ID, canonicalID, func(head *models.VersionedObject) (map[string]any, error) {
			current, err := json.Marshal(head.Properties)
			if err != nil {
				return nil, apperror.ErrInternal.WithInternal(fmt.Errorf("marshal head properties: %w", err))
			}
			merged, err := jsonpatch.MergePatch(current, patch)
			if err != nil {
				return nil, apperror.ErrBadRequest.WithMessage(fmt.Sprintf("invalid merge patch: %v", err))
			}
			var properties map[string]any
			if err := json.Unmarshal(merged, &properties); err != nil {
				return nil, apperror.ErrBadRequest.WithMessage("merge patch must produce an object")
			}
			if err := s.registry.ValidateObject(ctx, head.Type, properties); err != nil {
				return nil, err
			}
			return properties, nil
		})
		if err != nil {
			return err
		}
		created = obj
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, queue.TopicObjectVersioned, created)
	return created, nil
}

// Get resolves the branch-visible HEAD. Tombstoned heads surface as not
// found unless includeDeleted is set.
func (s *ObjectService) Get(ctx context.Context, canonicalID uuid.UUID, branchID *uuid.UUID, includeDeleted bool) (*models.VersionedObject, error) {
	branch, err := s.branches.Resolve(ctx, branchID)
	if err != nil {
		return nil, err
	}

	head, err := s.objects.GetHead(ctx, branch.ID, canonicalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.ErrNotFound.WithMessage("object not found on branch lineage")
		}
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	if head.IsDeleted() && !includeDeleted {
		return nil, apperror.ErrNotFound.WithMessage("object is deleted")
	}
	return head, nil
}

// History returns every version visible from the branch, closest branch
// and newest version first
func (s *ObjectService) History(ctx context.Context, canonicalID uuid.UUID, branchID *uuid.UUID) ([]*models.VersionedObject, error) {
	branch, err := s.branches.Resolve(ctx, branchID)
	if err != nil {
		return nil, err
	}

	history, err := s.objects.ListHistory(ctx, branch.ID, canonicalID)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	if len(history) == 0 {
		return nil, apperror.ErrNotFound.WithMessage("object not found on branch lineage")
	}
	return history, nil
}

// ListByType returns the live HEADs of every object of the type
func (s *ObjectService) ListByType(ctx context.Context, objectType string, branchID *uuid.UUID, limit int) ([]*models.VersionedObject, error) {
	branch, err := s.branches.Resolve(ctx, branchID)
	if err != nil {
		return nil, err
	}

	objects, err := s.objects.ListHeadsByType(ctx, branch.ID, objectType, limit)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return objects, nil
}

// SoftDelete tombstones the object on the branch. A HEAD owned by the
// branch is tombstoned in place; a HEAD inherited from an ancestor gets a
// tombstone version on this branch so the ancestor's row is untouched.
func (s *ObjectService) SoftDelete(ctx context.Context, canonicalID uuid.UUID, branchID *uuid.UUID) error {
	branch, err := s.branches.Resolve(ctx, branchID)
	if err != nil {
		return err
	}

	err = tenant.WithVersionRetry(ctx, func(ctx context.Context) error {
		return s.exec.WithTransaction(ctx, func(tx pgx.Tx) error {
			head, err := s.objects.GetHeadTx(ctx, tx, branch.ID, canonicalID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return apperror.ErrNotFound.WithMessage("object not found on branch lineage")
				}
				return apperror.ErrDatabase.WithInternal(err)
			}
			if head.IsDeleted() {
				return apperror.ErrNotFound.WithMessage("object is already deleted")
			}

			if head.BranchID == branch.ID {
				if _, err := tx.Exec(ctx, `UPDATE objects SET deleted_at = NOW() WHERE id = $1`, head.ID); err != nil {
					return fmt.Errorf("failed to soft delete object: %w", err)
				}
				return nil
			}

			now := time.Now()
			tombstone := &models.VersionedObject{
				ID:             uuid.New(),
				OrganizationID: head.OrganizationID,
				ProjectID:      head.ProjectID,
				BranchID:       branch.ID,
				CanonicalID:    head.CanonicalID,
				SupersedesID:   &head.ID,
				Version:        head.Version + 1,
				Type:           head.Type,
				Properties:     head.Properties,
				CreatedAt:      now,
				DeletedAt:      &now,
			}
			return s.objects.InsertTx(ctx, tx, tombstone)
		})
	})
	if err != nil {
		return err
	}

	s.publishKey(ctx, queue.TopicObjectDeleted, canonicalID, branch.ID)
	return nil
}

// Restore appends a new HEAD whose properties are copied from an earlier
// version on the branch
func (s *ObjectService) Restore(ctx context.Context, canonicalID uuid.UUID, version int, branchID *uuid.UUID) (*models.VersionedObject, error) {
	branch, err := s.branches.Resolve(ctx, branchID)
	if err != nil {
		return nil, err
	}

	target, err := s.objects.GetVersion(ctx, branch.ID, canonicalID, version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.ErrNotFound.WithMessage(fmt.Sprintf("version %d not found on branch", version))
		}
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	var created *models.VersionedObject
	err = tenant.WithVersionRetry(ctx, func(ctx context.Context) error {
		obj, err := s.newVersion(ctx, branch.ID, canonicalID, func(head *models.VersionedObject) (map[string]any, error) {
			return target.Properties, nil
		})
		if err != nil {
			return err
		}
		created = obj
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, queue.TopicObjectVersioned, created)

	s.log.Info("restored object version",
		"canonical_id", canonicalID,
		"from_version", version,
		"new_version", created.Version,
	)
	return created, nil
}

// newVersion resolves HEAD and inserts its successor in one transaction.
// The properties for the new version are computed from the resolved HEAD
// by next, so patch-style writers see a consistent base.
func (s *ObjectService) newVersion(ctx context.Context, branchID, canonicalID uuid.UUID, next func(head *models.VersionedObject) (map[string]any, error)) (*models.VersionedObject, error) {
	var created *models.VersionedObject
	err := s.exec.WithTransaction(ctx, func(tx pgx.Tx) error {
		head, err := s.objects.GetHeadTx(ctx, tx, branchID, canonicalID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperror.ErrNotFound.WithMessage("object not found on branch lineage")
			}
			return apperror.ErrDatabase.WithInternal(err)
		}
		if head.IsDeleted() {
			return apperror.ErrNotFound.WithMessage("object is deleted")
		}

		properties, err := next(head)
		if err != nil {
			return err
		}

		created = &models.VersionedObject{
			ID:             uuid.New(),
			OrganizationID: head.OrganizationID,
			ProjectID:      head.ProjectID,
			BranchID:       branchID,
			CanonicalID:    head.CanonicalID,
			SupersedesID:   &head.ID,
			Version:        head.Version + 1,
			Type:           head.Type,
			Properties:     properties,
			CreatedAt:      time.Now(),
		}
		return s.objects.InsertTx(ctx, tx, created)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *ObjectService) publish(ctx context.Context, topic string, obj *models.VersionedObject) {
	event := objectEvent{
		ObjectID:    obj.ID,
		CanonicalID: obj.CanonicalID,
		BranchID:    obj.BranchID,
		Type:        obj.Type,
		Version:     obj.Version,
	}
	if err := queue.PublishJSON(ctx, s.events, topic, obj.CanonicalID.String(), event); err != nil {
		s.log.Warn("failed to publish object event", "topic", topic, "error", err)
	}
}

func (s *ObjectService) publishKey(ctx context.Context, topic string, canonicalID, branchID uuid.UUID) {
	event := objectEvent{
		CanonicalID: canonicalID,
		BranchID:    branchID,
	}
	if err := queue.PublishJSON(ctx, s.events, topic, canonicalID.String(), event); err != nil {
		s.log.Warn("failed to publish object event", "topic", topic, "error", err)
	}
}
