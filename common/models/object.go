package models

import (
	"time"

	"github.com/google/uuid"
)

// VersionedObject is one immutable version of a graph object.
// Maps to: objects table
type VersionedObject struct {
	// Row ID, unique per version (UUID v4)
	ID uuid.UUID `db:"id" json:"id"`

	OrganizationID uuid.UUID `db:"organization_id" json:"organization_id"`
	ProjectID      uuid.UUID `db:"project_id" json:"project_id"`

	// Branch this version was written on
	BranchID uuid.UUID `db:"branch_id" json:"branch_id"`

	// Stable identity across versions and branches.
	// Equals ID for version 1.
	CanonicalID uuid.UUID `db:"canonical_id" json:"canonical_id"`

	// Row ID of the version this one replaced, nil for version 1
	// and for the first version written on a new branch.
	SupersedesID *uuid.UUID `db:"supersedes_id" json:"supersedes_id,omitempty"`

	// Monotonic per (canonical_id, branch_id), starting at 1
	Version int `db:"version" json:"version"`

	// Object type, resolved against the schema registry
	Type string `db:"type" json:"type"`

	// Arbitrary JSON document validated by the type's schema
	Properties map[string]any `db:"properties" json:"properties"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// IsDeleted reports whether this version is a tombstone.
func (o *VersionedObject) IsDeleted() bool {
	return o.DeletedAt != nil
}

// MergeParent records the second linear-history parent of a version
// produced by a branch merge.
// Maps to: object_merge_parents table
type MergeParent struct {
	ObjectID       uuid.UUID `db:"object_id" json:"object_id"`
	ParentObjectID uuid.UUID `db:"parent_object_id" json:"parent_object_id"`
	OrganizationID uuid.UUID `db:"organization_id" json:"organization_id"`
	ProjectID      uuid.UUID `db:"project_id" json:"project_id"`
}
