package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MergeStrategy controls how a single property is reconciled when a
// three-way branch merge finds divergent values.
type MergeStrategy string

const (
	MergeSourceWins       MergeStrategy = "source-wins"
	MergeTargetWins       MergeStrategy = "target-wins"
	MergeUnion            MergeStrategy = "union"
	MergeFailOnDivergence MergeStrategy = "fail-on-divergence"
)

// Valid reports whether s is a recognised strategy.
func (s MergeStrategy) Valid() bool {
	switch s {
	case MergeSourceWins, MergeTargetWins, MergeUnion, MergeFailOnDivergence:
		return true
	}
	return false
}

// Multiplicity constrains how many edges of a relationship type may
// touch a given endpoint.
type Multiplicity string

const (
	MultiplicityOneToOne   Multiplicity = "one-to-one"
	MultiplicityOneToMany  Multiplicity = "one-to-many"
	MultiplicityManyToOne  Multiplicity = "many-to-one"
	MultiplicityManyToMany Multiplicity = "many-to-many"
)

// Valid reports whether m is a recognised multiplicity.
func (m Multiplicity) Valid() bool {
	switch m {
	case MultiplicityOneToOne, MultiplicityOneToMany, MultiplicityManyToOne, MultiplicityManyToMany:
		return true
	}
	return false
}

// ObjectTypeSchema declares an object type and the JSON Schema its
// properties must satisfy. A nil org/project pair marks a global type
// visible to every tenant.
// Maps to: object_type_schemas table
type ObjectTypeSchema struct {
	ID uuid.UUID `db:"id" json:"id"`

	OrganizationID *uuid.UUID `db:"organization_id" json:"organization_id,omitempty"`
	ProjectID      *uuid.UUID `db:"project_id" json:"project_id,omitempty"`

	Type    string `db:"type" json:"type"`
	Version int    `db:"version" json:"version"`

	// JSON Schema document applied to object properties
	Schema json.RawMessage `db:"schema" json:"schema"`

	// Per-property merge strategies, keyed by property name.
	// Properties without an entry fall back to fail-on-divergence.
	MergeStrategies map[string]MergeStrategy `db:"merge_strategies" json:"merge_strategies,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RelationshipTypeSchema declares a relationship type, the object
// types it may connect, and its multiplicity.
// Maps to: relationship_type_schemas table
type RelationshipTypeSchema struct {
	ID uuid.UUID `db:"id" json:"id"`

	OrganizationID *uuid.UUID `db:"organization_id" json:"organization_id,omitempty"`
	ProjectID      *uuid.UUID `db:"project_id" json:"project_id,omitempty"`

	Type    string `db:"type" json:"type"`
	Version int    `db:"version" json:"version"`

	// Allowed endpoint object types; empty means any type
	SourceTypes      []string `db:"source_types" json:"source_types,omitempty"`
	DestinationTypes []string `db:"destination_types" json:"destination_types,omitempty"`

	Multiplicity Multiplicity `db:"multiplicity" json:"multiplicity"`

	// Optional JSON Schema applied to edge properties
	Schema json.RawMessage `db:"schema" json:"schema,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AllowsSource reports whether objects of type t may be the source of
// this relationship type.
func (s *RelationshipTypeSchema) AllowsSource(t string) bool {
	return containsType(s.SourceTypes, t)
}

// AllowsDestination reports whether objects of type t may be the
// destination of this relationship type.
func (s *RelationshipTypeSchema) AllowsDestination(t string) bool {
	return containsType(s.DestinationTypes, t)
}

func containsType(allowed []string, t string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == t {
			return true
		}
	}
	return false
}
