package models

import (
	"time"

	"github.com/google/uuid"
)

// Relationship is a typed, directed edge between two objects.
// Endpoints are canonical IDs, so an edge survives new versions of
// either endpoint.
// Maps to: relationships table
type Relationship struct {
	ID uuid.UUID `db:"id" json:"id"`

	OrganizationID uuid.UUID `db:"organization_id" json:"organization_id"`
	ProjectID      uuid.UUID `db:"project_id" json:"project_id"`

	// Relationship type, resolved against the schema registry
	Type string `db:"type" json:"type"`

	// Canonical IDs of the endpoints, both in the same project
	SrcObjectID uuid.UUID `db:"src_object_id" json:"src_object_id"`
	DstObjectID uuid.UUID `db:"dst_object_id" json:"dst_object_id"`

	Properties map[string]any `db:"properties" json:"properties,omitempty"`

	// Optional validity window
	ValidFrom *time.Time `db:"valid_from" json:"valid_from,omitempty"`
	ValidTo   *time.Time `db:"valid_to" json:"valid_to,omitempty"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// IsDeleted reports whether this edge has been soft deleted.
func (r *Relationship) IsDeleted() bool {
	return r.DeletedAt != nil
}
