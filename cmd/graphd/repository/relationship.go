package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stratahq/strata/common/models"
	"github.com/stratahq/strata/common/tenant"
)

// Direction selects which endpoint of an edge a traversal step follows
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
	DirectionBoth     Direction = "both"
)

// Valid reports whether d is a recognised direction
func (d Direction) Valid() bool {
	switch d {
	case DirectionOutbound, DirectionInbound, DirectionBoth:
		return true
	}
	return false
}

// RelationshipRepository handles database operations for relationships
type RelationshipRepository struct {
	exec *tenant.Executor
}

// NewRelationshipRepository creates a new relationship repository
func NewRelationshipRepository(exec *tenant.Executor) *RelationshipRepository {
	return &RelationshipRepository{exec: exec}
}

const relationshipColumns = `id, organization_id, project_id, type, src_object_id, dst_object_id, properties, valid_from, valid_to, created_at, deleted_at`

// InsertTx inserts an edge inside the caller's transaction
func (r *RelationshipRepository) InsertTx(ctx context.Context, tx pgx.Tx, rel *models.Relationship) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO relationships (id, organization_id, project_id, type, src_object_id, dst_object_id, properties, valid_from, valid_to, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		rel.ID, rel.OrganizationID, rel.ProjectID, rel.Type, rel.SrcObjectID, rel.DstObjectID, rel.Properties, rel.ValidFrom, rel.ValidTo, rel.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert relationship: %w", err)
	}
	return nil
}

// CountActiveTx counts live edges of a type touching an endpoint, used
// for multiplicity enforcement in the same transaction as the insert
func (r *RelationshipRepository) CountActiveTx(ctx context.Context, tx pgx.Tx, relType string, endpoint uuid.UUID, asSource bool) (int, error) {
	col := "src_object_id"
	if !asSource {
		col = "dst_object_id"
	}
	query := fmt.Sprintf(
		`SELECT COUNT(*) FROM relationships WHERE type = $1 AND %s = $2 AND deleted_at IS NULL`, col,
	)

	var count int
	if err := tx.QueryRow(ctx, query, relType, endpoint).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count relationships: %w", err)
	}
	return count, nil
}

// GetByID retrieves one edge
func (r *RelationshipRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Relationship, error) {
	query := `SELECT ` + relationshipColumns + ` FROM relationships WHERE id = $1`

	rel := &models.Relationship{}
	err := r.exec.QueryRow(ctx, query, []any{id}, func(row pgx.Row) error {
		return scanRelationship(row, rel)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get relationship: %w", err)
	}
	return rel, nil
}

// ListForObject returns live edges touching a canonical object in either
// direction
func (r *RelationshipRepository) ListForObject(ctx context.Context, canonicalID uuid.UUID) ([]*models.Relationship, error) {
	query := `
		SELECT ` + relationshipColumns + `
		FROM relationships
		WHERE (src_object_id = $1 OR dst_object_id = $1) AND deleted_at IS NULL
		ORDER BY created_at ASC
	`

	var rels []*models.Relationship
	err := r.exec.Query(ctx, query, []any{canonicalID}, func(rows pgx.Rows) error {
		return collectRelationships(rows, &rels)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}
	return rels, nil
}

// ListNeighbors returns live edges reachable from the frontier set in one
// traversal step. The limit caps a single level's fan-out; hitting it is
// reported to the caller as edge overflow, not an error.
func (r *RelationshipRepository) ListNeighbors(ctx context.Context, frontier []uuid.UUID, direction Direction, edgeTypes []string, limit int) ([]*models.Relationship, error) {
	if len(frontier) == 0 {
		return nil, nil
	}

	var cond string
	switch direction {
	case DirectionOutbound:
		cond = `src_object_id = ANY($1)`
	case DirectionInbound:
		cond = `dst_object_id = ANY($1)`
	default:
		cond = `(src_object_id = ANY($1) OR dst_object_id = ANY($1))`
	}

	query := `SELECT ` + relationshipColumns + ` FROM relationships WHERE ` + cond + ` AND deleted_at IS NULL`
	args := []any{frontier}
	if len(edgeTypes) > 0 {
		query += ` AND type = ANY($2)`
		args = append(args, edgeTypes)
	}
	query += fmt.Sprintf(` ORDER BY created_at ASC LIMIT %d`, limit)

	var rels []*models.Relationship
	err := r.exec.Query(ctx, query, args, func(rows pgx.Rows) error {
		return collectRelationships(rows, &rels)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list neighbor relationships: %w", err)
	}
	return rels, nil
}

// SoftDelete tombstones an edge
func (r *RelationshipRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.exec.Exec(ctx, `UPDATE relationships SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to soft delete relationship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func collectRelationships(rows pgx.Rows, out *[]*models.Relationship) error {
	for rows.Next() {
		rel := &models.Relationship{}
		if err := scanRelationship(rows, rel); err != nil {
			return fmt.Errorf("failed to scan relationship: %w", err)
		}
		*out = append(*out, rel)
	}
	return nil
}

func scanRelationship(row pgx.Row, rel *models.Relationship) error {
	return row.Scan(
		&rel.ID,
		&rel.OrganizationID,
		&rel.ProjectID,
		&rel.Type,
		&rel.SrcObjectID,
		&rel.DstObjectID,
		&rel.Properties,
		&rel.ValidFrom,
		&rel.ValidTo,
		&rel.CreatedAt,
		&rel.DeletedAt,
	)
}
