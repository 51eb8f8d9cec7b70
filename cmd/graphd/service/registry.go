package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stratahq/strata/cmd/graphd/repository"
	"github.com/stratahq/strata/common/apperror"
	"github.com/stratahq/strata/common/cache"
	"github.com/stratahq/strata/common/logger"
	"github.com/stratahq/strata/common/models"
	"github.com/stratahq/strata/common/tenant"
)

// SchemaRegistry resolves and applies type definitions. Lookups are
// cache-aside; validation failures carry every violated field back to the
// caller. Registry reads are the one place a database outage degrades to
// "no schema, skip validation" instead of failing the write.
type SchemaRegistry struct {
	repo  *repository.SchemaRepository
	cache cache.Cache
	ttl   time.Duration
	log   *logger.Logger

	// compiled schema documents keyed by schema row id
	compiled sync.Map
}

// NewSchemaRegistry creates a new schema registry
func NewSchemaRegistry(repo *repository.SchemaRepository, c cache.Cache, ttl time.Duration, log *logger.Logger) *SchemaRegistry {
	return &SchemaRegistry{
		repo:  repo,
		cache: c,
		ttl:   ttl,
		log:   log,
	}
}

// PublishObjectSchema registers a new version of an object type
// definition
func (s *SchemaRegistry) PublishObjectSchema(ctx context.Context, schema *models.ObjectTypeSchema) error {
	if schema.Type == "" {
		return apperror.ErrBadRequest.WithMessage("schema type is required")
	}
	if _, err := compileSchema(schema.Schema); err != nil {
		return apperror.ErrBadRequest.WithMessage(fmt.Sprintf("invalid json schema: %v", err))
	}
	for field, strategy := range schema.MergeStrategies {
		if !strategy.Valid() {
			return apperror.ErrBadRequest.WithMessage(fmt.Sprintf("unknown merge strategy %q for field %q", strategy, field))
		}
	}

	schema.ID = uuid.New()
	schema.CreatedAt = time.Now()

	if err := s.repo.CreateObjectSchema(ctx, schema); err != nil {
		return err
	}

	s.invalidate(ctx, objectSchemaKey(ctx, schema.Type))

	s.log.Info("published object type schema",
		"type", schema.Type,
		"version", schema.Version,
	)
	return nil
}

// PublishRelationshipSchema registers a new version of a relationship
// type definition
func (s *SchemaRegistry) PublishRelationshipSchema(ctx context.Context, schema *models.RelationshipTypeSchema) error {
	if schema.Type == "" {
		return apperror.ErrBadRequest.WithMessage("schema type is required")
	}
	if schema.Multiplicity == "" {
		schema.Multiplicity = models.MultiplicityManyToMany
	}
	if !schema.Multiplicity.Valid() {
		return apperror.ErrBadRequest.WithMessage(fmt.Sprintf("unknown multiplicity %q", schema.Multiplicity))
	}
	if len(schema.Schema) > 0 {
		if _, err := compileSchema(schema.Schema); err != nil {
			return apperror.ErrBadRequest.WithMessage(fmt.Sprintf("invalid json schema: %v", err))
		}
	}

	schema.ID = uuid.New()
	schema.CreatedAt = time.Now()

	if err := s.repo.CreateRelationshipSchema(ctx, schema); err != nil {
		return err
	}

	s.invalidate(ctx, relationshipSchemaKey(ctx, schema.Type))

	s.log.Info("published relationship type schema",
		"type", schema.Type,
		"version", schema.Version,
		"multiplicity", schema.Multiplicity,
	)
	return nil
}

// ObjectSchema resolves the active definition for an object type. A nil
// result with nil error means no schema is registered and validation is
// skipped (schemas are optional during migration windows).
func (s *SchemaRegistry) ObjectSchema(ctx context.Context, objectType string) (*models.ObjectTypeSchema, error) {
	key := objectSchemaKey(ctx, objectType)

	cached := &models.ObjectTypeSchema{}
	if ok, err := cache.GetJSON(ctx, s.cache, key, cached); err == nil && ok {
		return cached, nil
	}

	schema, err := s.repo.GetObjectSchema(ctx, objectType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		// Degraded mode: registry lookups may fail open, object data
		// reads never do.
		s.log.Warn("object schema lookup failed, skipping validation",
			"type", objectType,
			"error", err,
		)
		return nil, nil
	}

	if err := cache.SetJSON(ctx, s.cache, key, schema, s.ttl); err != nil {
		s.log.Warn("failed to cache object schema", "type", objectType, "error", err)
	}
	return schema, nil
}

// RelationshipSchema resolves the active definition for a relationship
// type, nil when none is registered
func (s *SchemaRegistry) RelationshipSchema(ctx context.Context, relType string) (*models.RelationshipTypeSchema, error) {
	key := relationshipSchemaKey(ctx, relType)

	cached := &models.RelationshipTypeSchema{}
	if ok, err := cache.GetJSON(ctx, s.cache, key, cached); err == nil && ok {
		return cached, nil
	}

	schema, err := s.repo.GetRelationshipSchema(ctx, relType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		s.log.Warn("relationship schema lookup failed, skipping validation",
			"type", relType,
			"error", err,
		)
		return nil, nil
	}

	if err := cache.SetJSON(ctx, s.cache, key, schema, s.ttl); err != nil {
		s.log.Warn("failed to cache relationship schema", "type", relType, "error", err)
	}
	return schema, nil
}

// ListObjectSchemas returns the active definition of every visible object
// type
func (s *SchemaRegistry) ListObjectSchemas(ctx context.Context) ([]*models.ObjectTypeSchema, error) {
	return s.repo.ListObjectSchemas(ctx)
}

// ListRelationshipSchemas returns the active definition of every visible
// relationship type
func (s *SchemaRegistry) ListRelationshipSchemas(ctx context.Context) ([]*models.RelationshipTypeSchema, error) {
	return s.repo.ListRelationshipSchemas(ctx)
}

// ValidateObject checks properties against the active schema for the
// type. No registered schema means no validation.
func (s *SchemaRegistry) ValidateObject(ctx context.Context, objectType string, properties map[string]any) error {
	schema, err := s.ObjectSchema(ctx, objectType)
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}

	compiled, err := s.resolve(schema.ID, schema.Schema)
	if err != nil {
		return apperror.ErrInternal.WithInternal(fmt.Errorf("compile schema for type %s: %w", objectType, err))
	}

	if err := compiled.document.Validate(properties); err != nil {
		return apperror.ErrSchemaValidation.
			WithMessage(fmt.Sprintf("properties do not satisfy schema for type %q", objectType)).
			WithDetails(map[string]any{
				"type":       objectType,
				"violations": compiled.violations(properties, err),
			})
	}
	return nil
}

// ValidateRelationship checks the edge against the active relationship
// type definition: endpoint types, then edge properties. The schema is
// returned so the caller can enforce multiplicity inside its own
// transaction.
func (s *SchemaRegistry) ValidateRelationship(ctx context.Context, relType, srcType, dstType string, properties map[string]any) (*models.RelationshipTypeSchema, error) {
	schema, err := s.RelationshipSchema(ctx, relType)
	if err != nil {
		return nil, err
	}
	if schema == nil {
		return nil, nil
	}

	if !schema.AllowsSource(srcType) {
		return nil, apperror.ErrRelationshipType.WithMessage(
			fmt.Sprintf("type %q does not allow source objects of type %q", relType, srcType))
	}
	if !schema.AllowsDestination(dstType) {
		return nil, apperror.ErrRelationshipType.WithMessage(
			fmt.Sprintf("type %q does not allow destination objects of type %q", relType, dstType))
	}

	if len(schema.Schema) > 0 && properties != nil {
		compiled, err := s.resolve(schema.ID, schema.Schema)
		if err != nil {
			return nil, apperror.ErrInternal.WithInternal(fmt.Errorf("compile schema for relationship type %s: %w", relType, err))
		}
		if err := compiled.document.Validate(properties); err != nil {
			return nil, apperror.ErrSchemaValidation.
				WithMessage(fmt.Sprintf("properties do not satisfy schema for relationship type %q", relType)).
				WithDetails(map[string]any{
					"type":       relType,
					"violations": compiled.violations(properties, err),
				})
		}
	}

	return schema, nil
}

// MergeStrategyFor returns the declared strategy for a field, falling
// back to fail-on-divergence
func (s *SchemaRegistry) MergeStrategyFor(ctx context.Context, objectType, field string) models.MergeStrategy {
	schema, err := s.ObjectSchema(ctx, objectType)
	if err != nil || schema == nil {
		return models.MergeFailOnDivergence
	}
	if strategy, ok := schema.MergeStrategies[field]; ok && strategy.Valid() {
		return strategy
	}
	return models.MergeFailOnDivergence
}

func (s *SchemaRegistry) resolve(id uuid.UUID, raw json.RawMessage) (*compiledSchema, error) {
	if cached, ok := s.compiled.Load(id); ok {
		return cached.(*compiledSchema), nil
	}

	compiled, err := compileSchema(raw)
	if err != nil {
		return nil, err
	}

	s.compiled.Store(id, compiled)
	return compiled, nil
}

func (s *SchemaRegistry) invalidate(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		s.log.Warn("failed to invalidate schema cache", "key", key, "error", err)
	}
}

// compiledSchema pairs the resolved document with standalone per-field
// resolvers. Document validation stops at the first failure, so the
// per-field resolvers are what let a rejection name every violated
// field.
type compiledSchema struct {
	document *jsonschema.Resolved
	required []string
	fields   map[string]*jsonschema.Resolved
}

func compileSchema(raw json.RawMessage) (*compiledSchema, error) {
	schema := &jsonschema.Schema{}
	if err := json.Unmarshal(raw, schema); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	document, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}

	compiled := &compiledSchema{document: document, required: schema.Required}

	// Resolution is per tree, so the property schemas come from a second
	// unmarshal. Properties that reference the enclosing document cannot
	// stand alone; the document-level error covers those.
	if len(schema.Properties) > 0 {
		fresh := &jsonschema.Schema{}
		if err := json.Unmarshal(raw, fresh); err == nil {
			compiled.fields = make(map[string]*jsonschema.Resolved, len(fresh.Properties))
			for name, sub := range fresh.Properties {
				if resolved, err := sub.Resolve(nil); err == nil {
					compiled.fields[name] = resolved
				}
			}
		}
	}
	return compiled, nil
}

// violations reports one entry per violated field: missing required
// properties first, then each present property that fails its own
// schema. When no violation is attributable to a single field the
// document-level error is returned instead.
func (cs *compiledSchema) violations(properties map[string]any, docErr error) []map[string]any {
	var out []map[string]any
	for _, field := range cs.required {
		if _, ok := properties[field]; !ok {
			out = append(out, map[string]any{"field": field, "error": "required property is missing"})
		}
	}

	names := make([]string, 0, len(cs.fields))
	for name := range cs.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value, ok := properties[name]
		if !ok {
			continue
		}
		if err := cs.fields[name].Validate(value); err != nil {
			out = append(out, map[string]any{"field": name, "error": err.Error()})
		}
	}

	if len(out) == 0 {
		out = append(out, map[string]any{"error": docErr.Error()})
	}
	return out
}

// Cache keys carry the tenant scope: the same type name can resolve to
// different definitions in different projects.
func objectSchemaKey(ctx context.Context, objectType string) string {
	scope := tenant.From(ctx)
	return fmt.Sprintf("schema:object:%s:%s:%s", scope.OrgValue(), scope.ProjectValue(), objectType)
}

func relationshipSchemaKey(ctx context.Context, relType string) string {
	scope := tenant.From(ctx)
	return fmt.Sprintf("schema:relationship:%s:%s:%s", scope.OrgValue(), scope.ProjectValue(), relType)
}
