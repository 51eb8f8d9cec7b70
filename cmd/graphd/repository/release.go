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

// ReleaseRepository handles database operations for release snapshots and
// tags
type ReleaseRepository struct {
	exec *tenant.Executor
}

// NewReleaseRepository creates a new release repository
func NewReleaseRepository(exec *tenant.Executor) *ReleaseRepository {
	return &ReleaseRepository{exec: exec}
}

const productVersionColumns = `id, organization_id, project_id, branch_id, name, frozen_at`

// Freeze inserts the snapshot row and captures every branch-visible,
// non-deleted HEAD as a membership row in the same transaction. Cost is
// proportional to the number of distinct logical objects on the branch,
// not to edit history length.
func (r *ReleaseRepository) Freeze(ctx context.Context, pv *models.ProductVersion) (int, error) {
	var members int
	err := r.exec.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO product_versions (id, organization_id, project_id, branch_id, name, frozen_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, pv.ID, pv.OrganizationID, pv.ProjectID, pv.BranchID, pv.Name, pv.FrozenAt)
		if err != nil {
			return fmt.Errorf("failed to create product version: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO product_version_members (product_version_id, canonical_id, object_id, organization_id, project_id)
			SELECT $1, h.canonical_id, h.id, h.organization_id, h.project_id
			FROM (
				SELECT DISTINCT ON (o.canonical_id)
					o.id, o.canonical_id, o.organization_id, o.project_id, o.deleted_at
				FROM objects o
				JOIN branch_lineage bl ON bl.branch_id = $2 AND bl.ancestor_branch_id = o.branch_id
				ORDER BY o.canonical_id, bl.depth ASC, o.version DESC
			) h
			WHERE h.deleted_at IS NULL
		`, pv.ID, pv.BranchID)
		if err != nil {
			return fmt.Errorf("failed to freeze members: %w", err)
		}

		members = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return members, nil
}

// GetByID retrieves a product version
func (r *ReleaseRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ProductVersion, error) {
	query := `SELECT ` + productVersionColumns + ` FROM product_versions WHERE id = $1`

	pv := &models.ProductVersion{}
	err := r.exec.QueryRow(ctx, query, []any{id}, func(row pgx.Row) error {
		return scanProductVersion(row, pv)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get product version: %w", err)
	}
	return pv, nil
}

// GetByName retrieves a product version by its per-project unique name
func (r *ReleaseRepository) GetByName(ctx context.Context, projectID uuid.UUID, name string) (*models.ProductVersion, error) {
	query := `SELECT ` + productVersionColumns + ` FROM product_versions WHERE project_id = $1 AND name = $2`

	pv := &models.ProductVersion{}
	err := r.exec.QueryRow(ctx, query, []any{projectID, name}, func(row pgx.Row) error {
		return scanProductVersion(row, pv)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get product version by name: %w", err)
	}
	return pv, nil
}

// List retrieves all product versions in the project, newest first
func (r *ReleaseRepository) List(ctx context.Context, projectID uuid.UUID) ([]*models.ProductVersion, error) {
	query := `SELECT ` + productVersionColumns + ` FROM product_versions WHERE project_id = $1 ORDER BY frozen_at DESC`

	var versions []*models.ProductVersion
	err := r.exec.Query(ctx, query, []any{projectID}, func(rows pgx.Rows) error {
		for rows.Next() {
			pv := &models.ProductVersion{}
			if err := scanProductVersion(rows, pv); err != nil {
				return fmt.Errorf("failed to scan product version: %w", err)
			}
			versions = append(versions, pv)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list product versions: %w", err)
	}
	return versions, nil
}

// ListMembers retrieves a snapshot's membership rows
func (r *ReleaseRepository) ListMembers(ctx context.Context, productVersionID uuid.UUID) ([]*models.ProductVersionMember, error) {
	query := `
		SELECT product_version_id, canonical_id, object_id, organization_id, project_id
		FROM product_version_members
		WHERE product_version_id = $1
		ORDER BY canonical_id
	`

	var members []*models.ProductVersionMember
	err := r.exec.Query(ctx, query, []any{productVersionID}, func(rows pgx.Rows) error {
		for rows.Next() {
			m := &models.ProductVersionMember{}
			if err := rows.Scan(&m.ProductVersionID, &m.CanonicalID, &m.ObjectID, &m.OrganizationID, &m.ProjectID); err != nil {
				return fmt.Errorf("failed to scan member: %w", err)
			}
			members = append(members, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// Diff classifies every canonical id present in either snapshot with a
// full outer join over the membership sets. No version history is read.
func (r *ReleaseRepository) Diff(ctx context.Context, fromID, toID uuid.UUID) ([]*models.SnapshotDiffEntry, error) {
	query := `
		SELECT COALESCE(a.canonical_id, b.canonical_id), a.object_id, b.object_id
		FROM (SELECT canonical_id, object_id FROM product_version_members WHERE product_version_id = $1) a
		FULL OUTER JOIN (SELECT canonical_id, object_id FROM product_version_members WHERE product_version_id = $2) b
			ON a.canonical_id = b.canonical_id
		ORDER BY 1
	`

	var entries []*models.SnapshotDiffEntry
	err := r.exec.Query(ctx, query, []any{fromID, toID}, func(rows pgx.Rows) error {
		for rows.Next() {
			e := &models.SnapshotDiffEntry{}
			if err := rows.Scan(&e.CanonicalID, &e.FromObjectID, &e.ToObjectID); err != nil {
				return fmt.Errorf("failed to scan diff row: %w", err)
			}
			switch {
			case e.FromObjectID == nil:
				e.Kind = models.DiffAdded
			case e.ToObjectID == nil:
				e.Kind = models.DiffRemoved
			case *e.FromObjectID != *e.ToObjectID:
				e.Kind = models.DiffModified
			default:
				e.Kind = models.DiffUnchanged
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to diff snapshots: %w", err)
	}
	return entries, nil
}

// UpsertTag creates a tag or moves an existing one to a new snapshot
func (r *ReleaseRepository) UpsertTag(ctx context.Context, t *models.Tag) error {
	_, err := r.exec.Exec(ctx, `
		INSERT INTO tags (organization_id, project_id, name, product_version_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (project_id, name)
		DO UPDATE SET product_version_id = EXCLUDED.product_version_id, updated_at = NOW()
	`, t.OrganizationID, t.ProjectID, t.Name, t.ProductVersionID)
	if err != nil {
		return fmt.Errorf("failed to upsert tag: %w", err)
	}
	return nil
}

// GetTag retrieves a tag by name
func (r *ReleaseRepository) GetTag(ctx context.Context, projectID uuid.UUID, name string) (*models.Tag, error) {
	query := `
		SELECT organization_id, project_id, name, product_version_id, created_at, updated_at
		FROM tags
		WHERE project_id = $1 AND name = $2
	`

	t := &models.Tag{}
	err := r.exec.QueryRow(ctx, query, []any{projectID, name}, func(row pgx.Row) error {
		return row.Scan(&t.OrganizationID, &t.ProjectID, &t.Name, &t.ProductVersionID, &t.CreatedAt, &t.UpdatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get tag: %w", err)
	}
	return t, nil
}

// ListTags retrieves all tags in the project
func (r *ReleaseRepository) ListTags(ctx context.Context, projectID uuid.UUID) ([]*models.Tag, error) {
	query := `
		SELECT organization_id, project_id, name, product_version_id, created_at, updated_at
		FROM tags
		WHERE project_id = $1
		ORDER BY name ASC
	`

	var tags []*models.Tag
	err := r.exec.Query(ctx, query, []any{projectID}, func(rows pgx.Rows) error {
		for rows.Next() {
			t := &models.Tag{}
			if err := rows.Scan(&t.OrganizationID, &t.ProjectID, &t.Name, &t.ProductVersionID, &t.CreatedAt, &t.UpdatedAt); err != nil {
				return fmt.Errorf("failed to scan tag: %w", err)
			}
			tags = append(tags, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	return tags, nil
}

// DeleteTag removes a tag. The snapshot it pointed to is untouched.
func (r *ReleaseRepository) DeleteTag(ctx context.Context, projectID uuid.UUID, name string) error {
	tag, err := r.exec.Exec(ctx, `DELETE FROM tags WHERE project_id = $1 AND name = $2`, projectID, name)
	if err != nil {
		return fmt.Errorf("failed to delete tag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanProductVersion(row pgx.Row, pv *models.ProductVersion) error {
	return row.Scan(
		&pv.ID,
		&pv.OrganizationID,
		&pv.ProjectID,
		&pv.BranchID,
		&pv.Name,
		&pv.FrozenAt,
	)
}
