package container

import (
	"fmt"

	"github.com/stratahq/strata/cmd/graphd/repository"
	"github.com/stratahq/strata/cmd/graphd/service"
	"github.com/stratahq/strata/common/bootstrap"
	"github.com/stratahq/strata/common/ratelimit"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	Components *bootstrap.Components

	// Repositories
	BranchRepo       *repository.BranchRepository
	ObjectRepo       *repository.ObjectRepository
	RelationshipRepo *repository.RelationshipRepository
	SchemaRepo       *repository.SchemaRepository
	ReleaseRepo      *repository.ReleaseRepository

	// Services
	Registry      *service.SchemaRegistry
	Branches      *service.BranchService
	Objects       *service.ObjectService
	Relationships *service.RelationshipService
	Merges        *service.MergeService
	Releases      *service.ReleaseService
	Traversal     *service.TraversalService

	// Rate limiter is nil when Redis is disabled
	RateLimiter *ratelimit.RateLimiter
}

// NewContainer initializes all repositories and services once, bottom-up
func NewContainer(components *bootstrap.Components) (*Container, error) {
	if components.Executor == nil {
		return nil, fmt.Errorf("container requires a tenant executor; database is not configured")
	}

	branchRepo := repository.NewBranchRepository(components.Executor)
	objectRepo := repository.NewObjectRepository(components.Executor)
	relationshipRepo := repository.NewRelationshipRepository(components.Executor)
	schemaRepo := repository.NewSchemaRepository(components.Executor)
	releaseRepo := repository.NewReleaseRepository(components.Executor)

	registry := service.NewSchemaRegistry(
		schemaRepo,
		components.Cache,
		components.Config.Cache.DefaultTTL,
		components.Logger,
	)
	branches := service.NewBranchService(branchRepo, components.Queue, components.Logger)
	objects := service.NewObjectService(
		objectRepo,
		branches,
		registry,
		components.Executor,
		components.Queue,
		components.Logger,
	)
	relationships := service.NewRelationshipService(
		relationshipRepo,
		objectRepo,
		branches,
		registry,
		components.Executor,
		components.Queue,
		components.Logger,
	)
	merges := service.NewMergeService(
		objectRepo,
		branches,
		registry,
		components.Executor,
		components.Queue,
		components.Logger,
	)
	releases := service.NewReleaseService(releaseRepo, branches, components.Queue, components.Logger)
	traversal := service.NewTraversalService(
		objectRepo,
		relationshipRepo,
		branches,
		components.Config.Traversal,
		components.Logger,
	)

	var limiter *ratelimit.RateLimiter
	if components.Redis != nil {
		limiter = ratelimit.NewRateLimiter(components.Redis.GetUnderlying(), components.Logger)
	}

	return &Container{
		Components:       components,
		BranchRepo:       branchRepo,
		ObjectRepo:       objectRepo,
		RelationshipRepo: relationshipRepo,
		SchemaRepo:       schemaRepo,
		ReleaseRepo:      releaseRepo,
		Registry:         registry,
		Branches:         branches,
		Objects:          objects,
		Relationships:    relationships,
		Merges:           merges,
		Releases:         releases,
		Traversal:        traversal,
		RateLimiter:      limiter,
	}, nil
}
