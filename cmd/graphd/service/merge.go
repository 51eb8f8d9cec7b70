package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
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

// ancestorWalkLimit bounds the provenance walk during common-ancestor
// search. A chain deeper than this is pathological.
const ancestorWalkLimit = 10000

// MergeService performs three-way merges of a canonical object between
// branches
type MergeService struct {
	objects  *repository.ObjectRepository
	branches *BranchService
	registry *SchemaRegistry
	exec     *tenant.Executor
	events   queue.Queue
	log      *logger.Logger
}

// NewMergeService creates a new merge service
func NewMergeService(
	objects *repository.ObjectRepository,
	branches *BranchService,
	registry *SchemaRegistry,
	exec *tenant.Executor,
	events queue.Queue,
	log *logger.Logger,
) *MergeService {
	return &MergeService{
		objects:  objects,
		branches: branches,
		registry: registry,
		exec:     exec,
		events:   events,
		log:      log,
	}
}

// MergeRequest carries the inputs for one object merge
type MergeRequest struct {
	CanonicalID       uuid.UUID
	TargetBranchID    uuid.UUID
	SourceBranchID    uuid.UUID
	StrategyOverrides map[string]models.MergeStrategy
}

// MergeObject resolves the target HEAD (T) and source HEAD (S), finds
// their nearest common ancestor (A) through supersedes and merge-parent
// edges, and merges field by field under the schema-declared strategies.
// Any divergent fail-on-divergence field aborts the whole merge; nothing
// partial is ever committed. On success a new version lands on the target
// branch with merge-parent rows for both T and S.
func (s *MergeService) MergeObject(ctx context.Context, req MergeRequest) (*models.VersionedObject, error) {
	if req.TargetBranchID == req.SourceBranchID {
		return nil, apperror.ErrBadRequest.WithMessage("source and target branch must differ")
	}
	for field, strategy := range req.StrategyOverrides {
		if !strategy.Valid() {
			return nil, apperror.ErrBadRequest.WithMessage(fmt.Sprintf("unknown merge strategy %q for field %q", strategy, field))
		}
	}
	if _, err := s.branches.Get(ctx, req.TargetBranchID); err != nil {
		return nil, err
	}
	if _, err := s.branches.Get(ctx, req.SourceBranchID); err != nil {
		return nil, err
	}

	var merged *models.VersionedObject
	err := tenant.WithVersionRetry(ctx, func(ctx context.Context) error {
		return s.exec.WithTransaction(ctx, func(tx pgx.Tx) error {
			target, err := s.headTx(ctx, tx, req.TargetBranchID, req.CanonicalID, "target")
			if err != nil {
				return err
			}
			source, err := s.headTx(ctx, tx, req.SourceBranchID, req.CanonicalID, "source")
			if err != nil {
				return err
			}

			if source.ID == target.ID {
				merged = target
				return nil
			}

			ancestor, err := s.commonAncestor(ctx, tx, target, source)
			if err != nil {
				return err
			}

			properties, conflicts, err := s.mergeProperties(ctx, target, source, ancestor, req.StrategyOverrides)
			if err != nil {
				return err
			}
			if len(conflicts) > 0 {
				sort.Strings(conflicts)
				return apperror.ErrMergeConflict.
					WithMessage(fmt.Sprintf("merge of %s diverges on %d field(s)", req.CanonicalID, len(conflicts))).
					WithDetails(map[string]any{"fields": conflicts})
			}

			merged = &models.VersionedObject{
				ID:             uuid.New(),
				OrganizationID: target.OrganizationID,
				ProjectID:      target.ProjectID,
				BranchID:       req.TargetBranchID,
				CanonicalID:    req.CanonicalID,
				SupersedesID:   &target.ID,
				Version:        target.Version + 1,
				Type:           target.Type,
				Properties:     properties,
				CreatedAt:      time.Now(),
			}
			if err := s.objects.InsertTx(ctx, tx, merged); err != nil {
				return err
			}

			for _, parent := range []uuid.UUID{target.ID, source.ID} {
				mp := &models.MergeParent{
					ObjectID:       merged.ID,
					ParentObjectID: parent,
					OrganizationID: merged.OrganizationID,
					ProjectID:      merged.ProjectID,
				}
				if err := s.objects.InsertMergeParentTx(ctx, tx, mp); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if err := queue.PublishJSON(ctx, s.events, queue.TopicBranchMerged, req.CanonicalID.String(), merged); err != nil {
		s.log.Warn("failed to publish merge event", "error", err)
	}

	s.log.Info("merged object",
		"canonical_id", req.CanonicalID,
		"target_branch", req.TargetBranchID,
		"source_branch", req.SourceBranchID,
		"version", merged.Version,
	)
	return merged, nil
}

func (s *MergeService) headTx(ctx context.Context, tx pgx.Tx, branchID, canonicalID uuid.UUID, side string) (*models.VersionedObject, error) {
	head, err := s.objects.GetHeadTx(ctx, tx, branchID, canonicalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.ErrNotFound.WithMessage(fmt.Sprintf("object not found on %s branch lineage", side))
		}
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	if head.IsDeleted() {
		return nil, apperror.ErrNotFound.WithMessage(fmt.Sprintf("object is deleted on %s branch", side))
	}
	return head, nil
}

// commonAncestor finds the nearest shared version by breadth-first walks
// over supersedes and merge-parent edges from both heads. A nil result
// means the chains share no history (distinct version-1 roots cannot
// occur for one canonical id, but a defensive nil keeps the merge total).
func (s *MergeService) commonAncestor(ctx context.Context, tx pgx.Tx, target, source *models.VersionedObject) (*models.VersionedObject, error) {
	targetSeen := map[uuid.UUID]bool{target.ID: true}
	sourceSeen := map[uuid.UUID]bool{source.ID: true}
	targetFrontier := []uuid.UUID{target.ID}
	sourceFrontier := []uuid.UUID{source.ID}

	visited := 0
	for len(targetFrontier) > 0 || len(sourceFrontier) > 0 {
		if visited > ancestorWalkLimit {
			return nil, apperror.ErrInternal.WithInternal(
				fmt.Errorf("ancestor walk exceeded %d versions for canonical %s", ancestorWalkLimit, target.CanonicalID))
		}

		var err error
		var meet *uuid.UUID
		targetFrontier, meet, err = s.step(ctx, tx, targetFrontier, targetSeen, sourceSeen)
		if err != nil {
			return nil, err
		}
		if meet != nil {
			return s.objects.GetByIDTx(ctx, tx, *meet)
		}

		sourceFrontier, meet, err = s.step(ctx, tx, sourceFrontier, sourceSeen, targetSeen)
		if err != nil {
			return nil, err
		}
		if meet != nil {
			return s.objects.GetByIDTx(ctx, tx, *meet)
		}

		visited += len(targetFrontier) + len(sourceFrontier)
	}

	return nil, nil
}

// step expands one BFS level: for every frontier version, its supersedes
// parent and merge parents. Returns the id at which the walk met the
// other side, if any.
func (s *MergeService) step(ctx context.Context, tx pgx.Tx, frontier []uuid.UUID, seen, other map[uuid.UUID]bool) ([]uuid.UUID, *uuid.UUID, error) {
	var next []uuid.UUID
	for _, id := range frontier {
		obj, err := s.objects.GetByIDTx(ctx, tx, id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return nil, nil, apperror.ErrDatabase.WithInternal(err)
		}

		parents, err := s.objects.MergeParentsTx(ctx, tx, id)
		if err != nil {
			return nil, nil, apperror.ErrDatabase.WithInternal(err)
		}
		if obj.SupersedesID != nil {
			parents = append(parents, *obj.SupersedesID)
		}

		for _, parent := range parents {
			if other[parent] {
				p := parent
				return nil, &p, nil
			}
			if !seen[parent] {
				seen[parent] = true
				next = append(next, parent)
			}
		}
	}
	return next, nil, nil
}

// mergeProperties computes the merged document field by field against the
// common ancestor. Fields changed on only one side adopt that side; both
// sides changed resolves through the field's strategy.
func (s *MergeService) mergeProperties(
	ctx context.Context,
	target, source, ancestor *models.VersionedObject,
	overrides map[string]models.MergeStrategy,
) (map[string]any, []string, error) {
	var base map[string]any
	if ancestor != nil {
		base = ancestor.Properties
	}

	fields := map[string]bool{}
	for f := range target.Properties {
		fields[f] = true
	}
	for f := range source.Properties {
		fields[f] = true
	}
	for f := range base {
		fields[f] = true
	}

	merged := make(map[string]any, len(fields))
	var conflicts []string

	for field := range fields {
		baseVal, inBase := base[field]
		targetVal, inTarget := target.Properties[field]
		sourceVal, inSource := source.Properties[field]

		changedTarget := inTarget != inBase || !jsonEqual(targetVal, baseVal)
		changedSource := inSource != inBase || !jsonEqual(sourceVal, baseVal)

		switch {
		case !changedTarget && !changedSource:
			if inBase {
				merged[field] = baseVal
			}
		case changedTarget && !changedSource:
			if inTarget {
				merged[field] = targetVal
			}
		case !changedTarget && changedSource:
			if inSource {
				merged[field] = sourceVal
			}
		default:
			// Both sides changed.
			if inTarget == inSource && jsonEqual(targetVal, sourceVal) {
				if inTarget {
					merged[field] = targetVal
				}
				continue
			}

			strategy, ok := overrides[field]
			if !ok {
				strategy = s.registry.MergeStrategyFor(ctx, target.Type, field)
			}

			switch strategy {
			case models.MergeSourceWins:
				if inSource {
					merged[field] = sourceVal
				}
			case models.MergeTargetWins:
				if inTarget {
					merged[field] = targetVal
				}
			case models.MergeUnion:
				union, err := unionValues(targetVal, sourceVal)
				if err != nil {
					conflicts = append(conflicts, field)
					continue
				}
				merged[field] = union
			default:
				conflicts = append(conflicts, field)
			}
		}
	}

	return merged, conflicts, nil
}

// unionValues merges two array values, preserving target order and
// appending source elements not already present. Non-array values cannot
// union.
func unionValues(targetVal, sourceVal any) (any, error) {
	targetArr, ok1 := targetVal.([]any)
	sourceArr, ok2 := sourceVal.([]any)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("union strategy requires array values")
	}

	out := make([]any, 0, len(targetArr)+len(sourceArr))
	out = append(out, targetArr...)
	for _, sv := range sourceArr {
		found := false
		for _, tv := range out {
			if jsonEqual(tv, sv) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, sv)
		}
	}
	return out, nil
}

// jsonEqual compares two property values through their canonical JSON
// encoding, so values read back from jsonb compare equal to in-process
// ones regardless of numeric type
func jsonEqual(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}
