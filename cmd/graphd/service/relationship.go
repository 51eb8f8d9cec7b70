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

// RelationshipService owns typed edges between canonical objects
type RelationshipService struct {
	relationships *repository.RelationshipRepository
	objects       *repository.ObjectRepository
	branches      *BranchService
	registry      *SchemaRegistry
	exec          *tenant.Executor
	events        queue.Queue
	log           *logger.Logger
}

// NewRelationshipService creates a new relationship service
func NewRelationshipService(
	relationships *repository.RelationshipRepository,
	objects *repository.ObjectRepository,
	branches *BranchService,
	registry *SchemaRegistry,
	exec *tenant.Executor,
	events queue.Queue,
	log *logger.Logger,
) *RelationshipService {
	return &RelationshipService{
		relationships: relationships,
		objects:       objects,
		branches:      branches,
		registry:      registry,
		exec:          exec,
		events:        events,
		log:           log,
	}
}

// CreateRelationshipRequest carries the inputs for a new edge
type CreateRelationshipRequest struct {
	Type        string
	SrcObjectID uuid.UUID
	DstObjectID uuid.UUID
	Properties  map[string]any
	ValidFrom   *time.Time
	ValidTo     *time.Time
	BranchID    *uuid.UUID
}

// Create validates and inserts an edge. Endpoints must resolve on the
// branch and live in the same project; the type schema's endpoint types
// and multiplicity are enforced, the count check and insert sharing one
// transaction.
func (s *RelationshipService) Create(ctx context.Context, req CreateRelationshipRequest) (*models.Relationship, error) {
	scope := tenant.From(ctx)
	if scope.IsWildcard() {
		return nil, apperror.ErrBadRequest.WithMessage("relationship creation requires a project scope")
	}
	if req.Type == "" {
		return nil, apperror.ErrBadRequest.WithMessage("relationship type is required")
	}
	if req.SrcObjectID == req.DstObjectID {
		return nil, apperror.ErrBadRequest.WithMessage("relationship endpoints must differ")
	}

	branch, err := s.branches.Resolve(ctx, req.BranchID)
	if err != nil {
		return nil, err
	}

	heads, err := s.objects.GetHeads(ctx, branch.ID, []uuid.UUID{req.SrcObjectID, req.DstObjectID})
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	src, ok := heads[req.SrcObjectID]
	if !ok {
		return nil, apperror.ErrNotFound.WithMessage("source object not found on branch lineage")
	}
	dst, ok := heads[req.DstObjectID]
	if !ok {
		return nil, apperror.ErrNotFound.WithMessage("destination object not found on branch lineage")
	}
	if src.ProjectID != dst.ProjectID {
		return nil, apperror.ErrCrossProject.WithMessage("relationship endpoints belong to different projects")
	}

	schema, err := s.registry.ValidateRelationship(ctx, req.Type, src.Type, dst.Type, req.Properties)
	if err != nil {
		return nil, err
	}

	rel := &models.Relationship{
		ID:             uuid.New(),
		OrganizationID: scope.OrgID,
		ProjectID:      scope.ProjectID,
		Type:           req.Type,
		SrcObjectID:    req.SrcObjectID,
		DstObjectID:    req.DstObjectID,
		Properties:     req.Properties,
		ValidFrom:      req.ValidFrom,
		ValidTo:        req.ValidTo,
		CreatedAt:      time.Now(),
	}

	err = s.exec.WithTransaction(ctx, func(tx pgx.Tx) error {
		if schema != nil {
			if err := s.checkMultiplicity(ctx, tx, schema, rel); err != nil {
				return err
			}
		}
		return s.relationships.InsertTx(ctx, tx, rel)
	})
	if err != nil {
		return nil, err
	}

	if err := queue.PublishJSON(ctx, s.events, queue.TopicRelationshipCreated, rel.ID.String(), rel); err != nil {
		s.log.Warn("failed to publish relationship event", "error", err)
	}

	s.log.Info("created relationship",
		"relationship_id", rel.ID,
		"type", rel.Type,
		"src", rel.SrcObjectID,
		"dst", rel.DstObjectID,
	)
	return rel, nil
}

// checkMultiplicity enforces the declared cardinality: the "one" side of
// a relationship type admits at most one live edge per endpoint.
func (s *RelationshipService) checkMultiplicity(ctx context.Context, tx pgx.Tx, schema *models.RelationshipTypeSchema, rel *models.Relationship) error {
	srcBounded := schema.Multiplicity == models.MultiplicityOneToOne || schema.Multiplicity == models.MultiplicityManyToOne
	dstBounded := schema.Multiplicity == models.MultiplicityOneToOne || schema.Multiplicity == models.MultiplicityOneToMany

	if srcBounded {
		count, err := s.relationships.CountActiveTx(ctx, tx, rel.Type, rel.SrcObjectID, true)
		if err != nil {
			return apperror.ErrDatabase.WithInternal(err)
		}
		if count > 0 {
			return apperror.ErrRelationshipType.WithMessage(
				fmt.Sprintf("multiplicity %s forbids a second %q edge from the source object", schema.Multiplicity, rel.Type))
		}
	}
	if dstBounded {
		count, err := s.relationships.CountActiveTx(ctx, tx, rel.Type, rel.DstObjectID, false)
		if err != nil {
			return apperror.ErrDatabase.WithInternal(err)
		}
		if count > 0 {
			return apperror.ErrRelationshipType.WithMessage(
				fmt.Sprintf("multiplicity %s forbids a second %q edge into the destination object", schema.Multiplicity, rel.Type))
		}
	}
	return nil
}

// Get retrieves one edge
func (s *RelationshipService) Get(ctx context.Context, id uuid.UUID) (*models.Relationship, error) {
	rel, err := s.relationships.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.ErrNotFound.WithMessage("relationship not found")
		}
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return rel, nil
}

// ListForObject returns live edges touching a canonical object
func (s *RelationshipService) ListForObject(ctx context.Context, canonicalID uuid.UUID) ([]*models.Relationship, error) {
	rels, err := s.relationships.ListForObject(ctx, canonicalID)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return rels, nil
}

// SoftDelete tombstones an edge. Deleting an object never cascades here;
// historical edges stay queryable for audit.
func (s *RelationshipService) SoftDelete(ctx context.Context, id uuid.UUID) error {
	if err := s.relationships.SoftDelete(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperror.ErrNotFound.WithMessage("relationship not found")
		}
		return apperror.ErrDatabase.WithInternal(err)
	}

	if err := s.events.Publish(ctx, queue.TopicRelationshipDeleted, id.String(), nil); err != nil {
		s.log.Warn("failed to publish relationship event", "error", err)
	}
	return nil
}
