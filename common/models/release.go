package models

import (
	"time"

	"github.com/google/uuid"
)

// ProductVersion is an immutable snapshot of a branch's visible heads
// at freeze time.
// Maps to: product_versions table
type ProductVersion struct {
	ID uuid.UUID `db:"id" json:"id"`

	OrganizationID uuid.UUID `db:"organization_id" json:"organization_id"`
	ProjectID      uuid.UUID `db:"project_id" json:"project_id"`

	// Branch whose visible state was captured
	BranchID uuid.UUID `db:"branch_id" json:"branch_id"`

	// Unique per project
	Name string `db:"name" json:"name"`

	FrozenAt time.Time `db:"frozen_at" json:"frozen_at"`
}

// ProductVersionMember pins one canonical object to the exact version
// row that was visible when the snapshot froze.
// Maps to: product_version_members table
type ProductVersionMember struct {
	ProductVersionID uuid.UUID `db:"product_version_id" json:"product_version_id"`
	CanonicalID      uuid.UUID `db:"canonical_id" json:"canonical_id"`
	ObjectID         uuid.UUID `db:"object_id" json:"object_id"`
	OrganizationID   uuid.UUID `db:"organization_id" json:"organization_id"`
	ProjectID        uuid.UUID `db:"project_id" json:"project_id"`
}

// Tag is a mutable named pointer to a product version.
// Maps to: tags table
type Tag struct {
	OrganizationID uuid.UUID `db:"organization_id" json:"organization_id"`
	ProjectID      uuid.UUID `db:"project_id" json:"project_id"`

	Name             string    `db:"name" json:"name"`
	ProductVersionID uuid.UUID `db:"product_version_id" json:"product_version_id"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// DiffEntryKind classifies one canonical object in a snapshot diff.
type DiffEntryKind string

const (
	DiffAdded     DiffEntryKind = "added"
	DiffRemoved   DiffEntryKind = "removed"
	DiffModified  DiffEntryKind = "modified"
	DiffUnchanged DiffEntryKind = "unchanged"
)

// SnapshotDiffEntry is one canonical object's classification when two
// product versions are compared.
type SnapshotDiffEntry struct {
	CanonicalID uuid.UUID     `json:"canonical_id"`
	Kind        DiffEntryKind `json:"kind"`

	// Object row IDs on each side, nil when absent
	FromObjectID *uuid.UUID `json:"from_object_id,omitempty"`
	ToObjectID   *uuid.UUID `json:"to_object_id,omitempty"`
}
