package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultBranchName is the branch every project starts with.
const DefaultBranchName = "main"

// Branch is an isolated line of object history inside a project.
// Maps to: branches table
type Branch struct {
	ID uuid.UUID `db:"id" json:"id"`

	OrganizationID uuid.UUID `db:"organization_id" json:"organization_id"`
	ProjectID      uuid.UUID `db:"project_id" json:"project_id"`

	// Unique per project
	Name string `db:"name" json:"name"`

	// Nil for the root branch
	ParentBranchID *uuid.UUID `db:"parent_branch_id" json:"parent_branch_id,omitempty"`

	IsDefault bool `db:"is_default" json:"is_default"`

	// Inactive branches are hidden from reads but keep their history
	Active bool `db:"active" json:"active"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// BranchLineage is one row of the transitive ancestor closure.
// Every branch has a self row at depth 0; its parent sits at depth 1,
// grandparent at depth 2, and so on.
// Maps to: branch_lineage table
type BranchLineage struct {
	BranchID         uuid.UUID `db:"branch_id" json:"branch_id"`
	AncestorBranchID uuid.UUID `db:"ancestor_branch_id" json:"ancestor_branch_id"`
	Depth            int       `db:"depth" json:"depth"`
	OrganizationID   uuid.UUID `db:"organization_id" json:"organization_id"`
	ProjectID        uuid.UUID `db:"project_id" json:"project_id"`
}
