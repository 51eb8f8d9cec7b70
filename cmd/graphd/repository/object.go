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

// ObjectRepository handles database operations for versioned objects
type ObjectRepository struct {
	exec *tenant.Executor
}

// NewObjectRepository creates a new object repository
func NewObjectRepository(exec *tenant.Executor) *ObjectRepository {
	return &ObjectRepository{exec: exec}
}

const objectColumns = `id, organization_id, project_id, branch_id, canonical_id, supersedes_id, version, type, properties, created_at, deleted_at`

// InsertTx inserts one object version inside the caller's transaction
func (r *ObjectRepository) InsertTx(ctx context.Context, tx pgx.Tx, o *models.VersionedObject) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO objects (id, organization_id, project_id, branch_id, canonical_id, supersedes_id, version, type, properties, created_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		o.ID, o.OrganizationID, o.ProjectID, o.BranchID, o.CanonicalID, o.SupersedesID, o.Version, o.Type, o.Properties, o.CreatedAt, o.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert object version: %w", err)
	}
	return nil
}

// Insert inserts one object version in its own transaction
func (r *ObjectRepository) Insert(ctx context.Context, o *models.VersionedObject) error {
	return r.exec.WithTransaction(ctx, func(tx pgx.Tx) error {
		return r.InsertTx(ctx, tx, o)
	})
}

// headQuery resolves HEAD for a canonical id as seen from a branch: walk
// the branch's lineage closest-first, and within a branch take the highest
// version. Tombstones are returned so a delete on a child branch shadows a
// live ancestor version; callers decide how to surface them.
const headQuery = `
	SELECT o.id, o.organization_id, o.project_id, o.branch_id, o.canonical_id, o.supersedes_id, o.version, o.type, o.properties, o.created_at, o.deleted_at
	FROM objects o
	JOIN branch_lineage bl ON bl.branch_id = $1 AND bl.ancestor_branch_id = o.branch_id
	WHERE o.canonical_id = $2
	ORDER BY bl.depth ASC, o.version DESC
	LIMIT 1
`

// GetHead resolves the branch-visible HEAD for a canonical id
func (r *ObjectRepository) GetHead(ctx context.Context, branchID, canonicalID uuid.UUID) (*models.VersionedObject, error) {
	o := &models.VersionedObject{}
	err := r.exec.QueryRow(ctx, headQuery, []any{branchID, canonicalID}, func(row pgx.Row) error {
		return scanObject(row, o)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to resolve head: %w", err)
	}
	return o, nil
}

// GetHeadTx resolves HEAD inside the caller's transaction, so a version
// insert can follow the lookup without a scope rebind in between
func (r *ObjectRepository) GetHeadTx(ctx context.Context, tx pgx.Tx, branchID, canonicalID uuid.UUID) (*models.VersionedObject, error) {
	o := &models.VersionedObject{}
	if err := scanObject(tx.QueryRow(ctx, headQuery, branchID, canonicalID), o); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to resolve head: %w", err)
	}
	return o, nil
}

// GetHeads resolves branch-visible HEADs for a batch of canonical ids.
// Missing and tombstoned canonicals are simply absent from the result.
func (r *ObjectRepository) GetHeads(ctx context.Context, branchID uuid.UUID, canonicalIDs []uuid.UUID) (map[uuid.UUID]*models.VersionedObject, error) {
	if len(canonicalIDs) == 0 {
		return map[uuid.UUID]*models.VersionedObject{}, nil
	}

	query := `
		SELECT DISTINCT ON (o.canonical_id)
			o.id, o.organization_id, o.project_id, o.branch_id, o.canonical_id, o.supersedes_id, o.version, o.type, o.properties, o.created_at, o.deleted_at
		FROM objects o
		JOIN branch_lineage bl ON bl.branch_id = $1 AND bl.ancestor_branch_id = o.branch_id
		WHERE o.canonical_id = ANY($2)
		ORDER BY o.canonical_id, bl.depth ASC, o.version DESC
	`

	heads := make(map[uuid.UUID]*models.VersionedObject, len(canonicalIDs))
	err := r.exec.Query(ctx, query, []any{branchID, canonicalIDs}, func(rows pgx.Rows) error {
		for rows.Next() {
			o := &models.VersionedObject{}
			if err := scanObject(rows, o); err != nil {
				return fmt.Errorf("failed to scan head: %w", err)
			}
			if o.DeletedAt == nil {
				heads[o.CanonicalID] = o
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve heads: %w", err)
	}

	return heads, nil
}

// GetByID retrieves one exact version row
func (r *ObjectRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.VersionedObject, error) {
	query := `SELECT ` + objectColumns + ` FROM objects WHERE id = $1`

	o := &models.VersionedObject{}
	err := r.exec.QueryRow(ctx, query, []any{id}, func(row pgx.Row) error {
		return scanObject(row, o)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return o, nil
}

// GetVersion retrieves one exact version of a canonical id on a branch
func (r *ObjectRepository) GetVersion(ctx context.Context, branchID, canonicalID uuid.UUID, version int) (*models.VersionedObject, error) {
	query := `SELECT ` + objectColumns + ` FROM objects WHERE canonical_id = $1 AND branch_id = $2 AND version = $3`

	o := &models.VersionedObject{}
	err := r.exec.QueryRow(ctx, query, []any{canonicalID, branchID, version}, func(row pgx.Row) error {
		return scanObject(row, o)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get object version: %w", err)
	}
	return o, nil
}

// ListHistory returns every version of a canonical id visible from the
// branch, newest and closest first
func (r *ObjectRepository) ListHistory(ctx context.Context, branchID, canonicalID uuid.UUID) ([]*models.VersionedObject, error) {
	query := `
		SELECT o.id, o.organization_id, o.project_id, o.branch_id, o.canonical_id, o.supersedes_id, o.version, o.type, o.properties, o.created_at, o.deleted_at
		FROM objects o
		JOIN branch_lineage bl ON bl.branch_id = $1 AND bl.ancestor_branch_id = o.branch_id
		WHERE o.canonical_id = $2
		ORDER BY bl.depth ASC, o.version DESC
	`

	var history []*models.VersionedObject
	err := r.exec.Query(ctx, query, []any{branchID, canonicalID}, func(rows pgx.Rows) error {
		for rows.Next() {
			o := &models.VersionedObject{}
			if err := scanObject(rows, o); err != nil {
				return fmt.Errorf("failed to scan object: %w", err)
			}
			history = append(history, o)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	return history, nil
}

// ListHeadsByType returns the branch-visible, non-deleted HEADs of every
// canonical object of the given type
func (r *ObjectRepository) ListHeadsByType(ctx context.Context, branchID uuid.UUID, objectType string, limit int) ([]*models.VersionedObject, error) {
	query := `
		SELECT id, organization_id, project_id, branch_id, canonical_id, supersedes_id, version, type, properties, created_at, deleted_at
		FROM (
			SELECT DISTINCT ON (o.canonical_id)
				o.id, o.organization_id, o.project_id, o.branch_id, o.canonical_id, o.supersedes_id, o.version, o.type, o.properties, o.created_at, o.deleted_at
			FROM objects o
			JOIN branch_lineage bl ON bl.branch_id = $1 AND bl.ancestor_branch_id = o.branch_id
			WHERE o.type = $2
			ORDER BY o.canonical_id, bl.depth ASC, o.version DESC
		) h
		WHERE h.deleted_at IS NULL
		ORDER BY h.created_at DESC
		LIMIT $3
	`

	var objects []*models.VersionedObject
	err := r.exec.Query(ctx, query, []any{branchID, objectType, limit}, func(rows pgx.Rows) error {
		for rows.Next() {
			o := &models.VersionedObject{}
			if err := scanObject(rows, o); err != nil {
				return fmt.Errorf("failed to scan object: %w", err)
			}
			objects = append(objects, o)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects by type: %w", err)
	}

	return objects, nil
}

// SoftDelete tombstones one exact version row
func (r *ObjectRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.exec.Exec(ctx, `UPDATE objects SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to soft delete object: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// InsertMergeParentTx records one provenance edge inside the caller's
// transaction
func (r *ObjectRepository) InsertMergeParentTx(ctx context.Context, tx pgx.Tx, mp *models.MergeParent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO object_merge_parents (object_id, parent_object_id, organization_id, project_id)
		VALUES ($1, $2, $3, $4)
	`, mp.ObjectID, mp.ParentObjectID, mp.OrganizationID, mp.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to insert merge parent: %w", err)
	}
	return nil
}

// MergeParents returns the merge-parent object ids recorded for a version
func (r *ObjectRepository) MergeParents(ctx context.Context, objectID uuid.UUID) ([]uuid.UUID, error) {
	query := `SELECT parent_object_id FROM object_merge_parents WHERE object_id = $1`

	var parents []uuid.UUID
	err := r.exec.Query(ctx, query, []any{objectID}, func(rows pgx.Rows) error {
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("failed to scan merge parent: %w", err)
			}
			parents = append(parents, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get merge parents: %w", err)
	}

	return parents, nil
}

// MergeParentsTx is MergeParents inside the caller's transaction
func (r *ObjectRepository) MergeParentsTx(ctx context.Context, tx pgx.Tx, objectID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, `SELECT parent_object_id FROM object_merge_parents WHERE object_id = $1`, objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get merge parents: %w", err)
	}
	defer rows.Close()

	var parents []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan merge parent: %w", err)
		}
		parents = append(parents, id)
	}
	return parents, rows.Err()
}

// GetByIDTx retrieves one exact version row inside the caller's transaction
func (r *ObjectRepository) GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.VersionedObject, error) {
	query := `SELECT ` + objectColumns + ` FROM objects WHERE id = $1`

	o := &models.VersionedObject{}
	if err := scanObject(tx.QueryRow(ctx, query, id), o); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return o, nil
}

func scanObject(row pgx.Row, o *models.VersionedObject) error {
	return row.Scan(
		&o.ID,
		&o.OrganizationID,
		&o.ProjectID,
		&o.BranchID,
		&o.CanonicalID,
		&o.SupersedesID,
		&o.Version,
		&o.Type,
		&o.Properties,
		&o.CreatedAt,
		&o.DeletedAt,
	)
}
