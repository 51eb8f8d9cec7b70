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

// BranchRepository handles database operations for branches and their
// lineage closure
type BranchRepository struct {
	exec *tenant.Executor
}

// NewBranchRepository creates a new branch repository
func NewBranchRepository(exec *tenant.Executor) *BranchRepository {
	return &BranchRepository{exec: exec}
}

const branchColumns = `id, organization_id, project_id, name, parent_branch_id, is_default, active, created_at`

// Create inserts the branch row and populates its lineage closure in a
// single transaction: a self row at depth 0, a copy of the parent's
// lineage shifted one level down, and the direct parent row at depth 1.
func (r *BranchRepository) Create(ctx context.Context, b *models.Branch) error {
	return r.exec.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO branches (id, organization_id, project_id, name, parent_branch_id, is_default, active, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			b.ID, b.OrganizationID, b.ProjectID, b.Name, b.ParentBranchID, b.IsDefault, b.Active, b.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create branch: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO branch_lineage (branch_id, ancestor_branch_id, depth, organization_id, project_id)
			VALUES ($1, $1, 0, $2, $3)
		`, b.ID, b.OrganizationID, b.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to create lineage self row: %w", err)
		}

		if b.ParentBranchID == nil {
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO branch_lineage (branch_id, ancestor_branch_id, depth, organization_id, project_id)
			SELECT $1, ancestor_branch_id, depth + 1, $3, $4
			FROM branch_lineage
			WHERE branch_id = $2
		`, b.ID, *b.ParentBranchID, b.OrganizationID, b.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to copy parent lineage: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO branch_lineage (branch_id, ancestor_branch_id, depth, organization_id, project_id)
			VALUES ($1, $2, 1, $3, $4)
			ON CONFLICT (branch_id, ancestor_branch_id) DO NOTHING
		`, b.ID, *b.ParentBranchID, b.OrganizationID, b.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to create direct parent lineage row: %w", err)
		}

		return nil
	})
}

// GetByID retrieves a branch by id
func (r *BranchRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Branch, error) {
	query := `SELECT ` + branchColumns + ` FROM branches WHERE id = $1`

	b := &models.Branch{}
	err := r.exec.QueryRow(ctx, query, []any{id}, func(row pgx.Row) error {
		return scanBranch(row, b)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get branch: %w", err)
	}

	return b, nil
}

// GetByName retrieves a branch by its per-project unique name
func (r *BranchRepository) GetByName(ctx context.Context, projectID uuid.UUID, name string) (*models.Branch, error) {
	query := `SELECT ` + branchColumns + ` FROM branches WHERE project_id = $1 AND name = $2`

	b := &models.Branch{}
	err := r.exec.QueryRow(ctx, query, []any{projectID, name}, func(row pgx.Row) error {
		return scanBranch(row, b)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get branch by name: %w", err)
	}

	return b, nil
}

// GetDefault retrieves the project's default branch
func (r *BranchRepository) GetDefault(ctx context.Context, projectID uuid.UUID) (*models.Branch, error) {
	query := `SELECT ` + branchColumns + ` FROM branches WHERE project_id = $1 AND is_default = true`

	b := &models.Branch{}
	err := r.exec.QueryRow(ctx, query, []any{projectID}, func(row pgx.Row) error {
		return scanBranch(row, b)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get default branch: %w", err)
	}

	return b, nil
}

// List retrieves all branches in the project, default branch first
func (r *BranchRepository) List(ctx context.Context, projectID uuid.UUID, includeInactive bool) ([]*models.Branch, error) {
	query := `SELECT ` + branchColumns + ` FROM branches WHERE project_id = $1`
	if !includeInactive {
		query += ` AND active = true`
	}
	query += ` ORDER BY is_default DESC, created_at ASC`

	var branches []*models.Branch
	err := r.exec.Query(ctx, query, []any{projectID}, func(rows pgx.Rows) error {
		for rows.Next() {
			b := &models.Branch{}
			if err := scanBranch(rows, b); err != nil {
				return fmt.Errorf("failed to scan branch: %w", err)
			}
			branches = append(branches, b)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}

	return branches, nil
}

// SetActive marks a branch active or inactive
func (r *BranchRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.exec.Exec(ctx, `UPDATE branches SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update branch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Lineage returns the branch's ancestor closure ordered by ascending
// depth, self row first
func (r *BranchRepository) Lineage(ctx context.Context, branchID uuid.UUID) ([]*models.BranchLineage, error) {
	query := `
		SELECT branch_id, ancestor_branch_id, depth, organization_id, project_id
		FROM branch_lineage
		WHERE branch_id = $1
		ORDER BY depth ASC
	`

	var lineage []*models.BranchLineage
	err := r.exec.Query(ctx, query, []any{branchID}, func(rows pgx.Rows) error {
		for rows.Next() {
			l := &models.BranchLineage{}
			if err := rows.Scan(&l.BranchID, &l.AncestorBranchID, &l.Depth, &l.OrganizationID, &l.ProjectID); err != nil {
				return fmt.Errorf("failed to scan lineage row: %w", err)
			}
			lineage = append(lineage, l)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get branch lineage: %w", err)
	}

	return lineage, nil
}

func scanBranch(row pgx.Row, b *models.Branch) error {
	return row.Scan(
		&b.ID,
		&b.OrganizationID,
		&b.ProjectID,
		&b.Name,
		&b.ParentBranchID,
		&b.IsDefault,
		&b.Active,
		&b.CreatedAt,
	)
}
