package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/stratahq/strata/common/models"
	"github.com/stratahq/strata/common/tenant"
)

// SchemaRepository handles database operations for the type registry.
// Definitions resolve with project scope first, then organization scope,
// then global rows (NULL scoping columns).
type SchemaRepository struct {
	exec *tenant.Executor
}

// NewSchemaRepository creates a new schema repository
func NewSchemaRepository(exec *tenant.Executor) *SchemaRepository {
	return &SchemaRepository{exec: exec}
}

const objectSchemaColumns = `id, organization_id, project_id, type, version, schema, merge_strategies, created_at`
const relationshipSchemaColumns = `id, organization_id, project_id, type, version, source_types, destination_types, multiplicity, schema, created_at`

// CreateObjectSchema inserts a new schema version for the type, one above
// the current highest version in the same scope
func (r *SchemaRepository) CreateObjectSchema(ctx context.Context, s *models.ObjectTypeSchema) error {
	return r.exec.WithTransaction(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(version), 0) + 1
			FROM object_type_schemas
			WHERE type = $1 AND organization_id IS NOT DISTINCT FROM $2 AND project_id IS NOT DISTINCT FROM $3
		`, s.Type, s.OrganizationID, s.ProjectID).Scan(&s.Version)
		if err != nil {
			return fmt.Errorf("failed to allocate schema version: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO object_type_schemas (id, organization_id, project_id, type, version, schema, merge_strategies, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, s.ID, s.OrganizationID, s.ProjectID, s.Type, s.Version, s.Schema, s.MergeStrategies, s.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create object type schema: %w", err)
		}
		return nil
	})
}

// GetObjectSchema resolves the active definition for an object type,
// narrowest visible scope first, highest version within the scope
func (r *SchemaRepository) GetObjectSchema(ctx context.Context, objectType string) (*models.ObjectTypeSchema, error) {
	query := `
		SELECT ` + objectSchemaColumns + `
		FROM object_type_schemas
		WHERE type = $1
		ORDER BY (project_id IS NOT NULL) DESC, (organization_id IS NOT NULL) DESC, version DESC
		LIMIT 1
	`

	s := &models.ObjectTypeSchema{}
	err := r.exec.QueryRow(ctx, query, []any{objectType}, func(row pgx.Row) error {
		return row.Scan(&s.ID, &s.OrganizationID, &s.ProjectID, &s.Type, &s.Version, &s.Schema, &s.MergeStrategies, &s.CreatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get object type schema: %w", err)
	}
	return s, nil
}

// ListObjectSchemas returns the active definition of every visible object
// type
func (r *SchemaRepository) ListObjectSchemas(ctx context.Context) ([]*models.ObjectTypeSchema, error) {
	query := `
		SELECT DISTINCT ON (type) ` + objectSchemaColumns + `
		FROM object_type_schemas
		ORDER BY type, (project_id IS NOT NULL) DESC, (organization_id IS NOT NULL) DESC, version DESC
	`

	var schemas []*models.ObjectTypeSchema
	err := r.exec.Query(ctx, query, nil, func(rows pgx.Rows) error {
		for rows.Next() {
			s := &models.ObjectTypeSchema{}
			if err := rows.Scan(&s.ID, &s.OrganizationID, &s.ProjectID, &s.Type, &s.Version, &s.Schema, &s.MergeStrategies, &s.CreatedAt); err != nil {
				return fmt.Errorf("failed to scan object type schema: %w", err)
			}
			schemas = append(schemas, s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list object type schemas: %w", err)
	}
	return schemas, nil
}

// CreateRelationshipSchema inserts a new schema version for the
// relationship type
func (r *SchemaRepository) CreateRelationshipSchema(ctx context.Context, s *models.RelationshipTypeSchema) error {
	return r.exec.WithTransaction(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(version), 0) + 1
			FROM relationship_type_schemas
			WHERE type = $1 AND organization_id IS NOT DISTINCT FROM $2 AND project_id IS NOT DISTINCT FROM $3
		`, s.Type, s.OrganizationID, s.ProjectID).Scan(&s.Version)
		if err != nil {
			return fmt.Errorf("failed to allocate schema version: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO relationship_type_schemas (id, organization_id, project_id, type, version, source_types, destination_types, multiplicity, schema, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, s.ID, s.OrganizationID, s.ProjectID, s.Type, s.Version, s.SourceTypes, s.DestinationTypes, s.Multiplicity, s.Schema, s.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create relationship type schema: %w", err)
		}
		return nil
	})
}

// GetRelationshipSchema resolves the active definition for a relationship
// type
func (r *SchemaRepository) GetRelationshipSchema(ctx context.Context, relType string) (*models.RelationshipTypeSchema, error) {
	query := `
		SELECT ` + relationshipSchemaColumns + `
		FROM relationship_type_schemas
		WHERE type = $1
		ORDER BY (project_id IS NOT NULL) DESC, (organization_id IS NOT NULL) DESC, version DESC
		LIMIT 1
	`

	s := &models.RelationshipTypeSchema{}
	err := r.exec.QueryRow(ctx, query, []any{relType}, func(row pgx.Row) error {
		return row.Scan(&s.ID, &s.OrganizationID, &s.ProjectID, &s.Type, &s.Version, &s.SourceTypes, &s.DestinationTypes, &s.Multiplicity, &s.Schema, &s.CreatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get relationship type schema: %w", err)
	}
	return s, nil
}

// ListRelationshipSchemas returns the active definition of every visible
// relationship type
func (r *SchemaRepository) ListRelationshipSchemas(ctx context.Context) ([]*models.RelationshipTypeSchema, error) {
	query := `
		SELECT DISTINCT ON (type) ` + relationshipSchemaColumns + `
		FROM relationship_type_schemas
		ORDER BY type, (project_id IS NOT NULL) DESC, (organization_id IS NOT NULL) DESC, version DESC
	`

	var schemas []*models.RelationshipTypeSchema
	err := r.exec.Query(ctx, query, nil, func(rows pgx.Rows) error {
		for rows.Next() {
			s := &models.RelationshipTypeSchema{}
			if err := rows.Scan(&s.ID, &s.OrganizationID, &s.ProjectID, &s.Type, &s.Version, &s.SourceTypes, &s.DestinationTypes, &s.Multiplicity, &s.Schema, &s.CreatedAt); err != nil {
				return fmt.Errorf("failed to scan relationship type schema: %w", err)
			}
			schemas = append(schemas, s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list relationship type schemas: %w", err)
	}
	return schemas, nil
}
