package service

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stratahq/strata/common/apperror"
	"github.com/stratahq/strata/common/cache"
	"github.com/stratahq/strata/common/models"
)

func newRegistryFixture() (*SchemaRegistry, *cache.MemoryCache) {
	mem := cache.NewMemoryCache(testLogger())
	return NewSchemaRegistry(nil, mem, time.Minute, testLogger()), mem
}

func TestValidateObjectAgainstCachedSchema(t *testing.T) {
	ctx := scopedCtx()
	registry, mem := newRegistryFixture()

	schema := &models.ObjectTypeSchema{
		ID:      uuid.New(),
		Type:    "decision",
		Version: 1,
		Schema:  json.RawMessage(`{"type":"object","required":["title"],"properties":{"title":{"type":"string"}}}`),
	}
	if err := cache.SetJSON(ctx, mem, objectSchemaKey(ctx, "decision"), schema, time.Minute); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	if err := registry.ValidateObject(ctx, "decision", map[string]any{"title": "go"}); err != nil {
		t.Fatalf("valid properties rejected: %v", err)
	}

	err := registry.ValidateObject(ctx, "decision", map[string]any{"other": true})
	if err == nil {
		t.Fatal("missing required property accepted")
	}
	var appErr *apperror.Error
	if !errors.As(err, &appErr) || appErr.Code != apperror.ErrSchemaValidation.Code {
		t.Fatalf("expected schema_validation_failed, got %v", err)
	}
	if appErr.Details["type"] != "decision" {
		t.Fatalf("details missing type: %v", appErr.Details)
	}
}

func TestValidateRelationshipEndpointTypes(t *testing.T) {
	ctx := scopedCtx()
	registry, mem := newRegistryFixture()

	schema := &models.RelationshipTypeSchema{
		ID:               uuid.New(),
		Type:             "influences",
		Version:          1,
		SourceTypes:      []string{"driver"},
		DestinationTypes: []string{"decision"},
		Multiplicity:     models.MultiplicityManyToMany,
	}
	if err := cache.SetJSON(ctx, mem, relationshipSchemaKey(ctx, "influences"), schema, time.Minute); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	got, err := registry.ValidateRelationship(ctx, "influences", "driver", "decision", nil)
	if err != nil {
		t.Fatalf("valid endpoints rejected: %v", err)
	}
	if got == nil || got.Multiplicity != models.MultiplicityManyToMany {
		t.Fatalf("schema not returned: %+v", got)
	}

	if _, err := registry.ValidateRelationship(ctx, "influences", "decision", "decision", nil); err == nil {
		t.Fatal("disallowed source type accepted")
	}
	if _, err := registry.ValidateRelationship(ctx, "influences", "driver", "market", nil); err == nil {
		t.Fatal("disallowed destination type accepted")
	}
}

func TestPublishObjectSchemaRejectsInvalidInput(t *testing.T) {
	ctx := scopedCtx()
	registry, _ := newRegistryFixture()

	err := registry.PublishObjectSchema(ctx, &models.ObjectTypeSchema{
		Schema: json.RawMessage(`{"type":"object"}`),
	})
	if err == nil {
		t.Fatal("empty type accepted")
	}

	err = registry.PublishObjectSchema(ctx, &models.ObjectTypeSchema{
		Type:   "decision",
		Schema: json.RawMessage(`{not json`),
	})
	if err == nil {
		t.Fatal("malformed schema document accepted")
	}

	err = registry.PublishObjectSchema(ctx, &models.ObjectTypeSchema{
		Type:   "decision",
		Schema: json.RawMessage(`{"type":"object"}`),
		MergeStrategies: map[string]models.MergeStrategy{
			"x": "coin-flip",
		},
	})
	if err == nil {
		t.Fatal("unknown merge strategy accepted")
	}
}

func TestPublishRelationshipSchemaRejectsInvalidMultiplicity(t *testing.T) {
	ctx := scopedCtx()
	registry, _ := newRegistryFixture()

	err := registry.PublishRelationshipSchema(ctx, &models.RelationshipTypeSchema{
		Type:         "influences",
		Multiplicity: "some-to-any",
	})
	if err == nil {
		t.Fatal("unknown multiplicity accepted")
	}
}

func TestEndpointTypeLists(t *testing.T) {
	open := &models.RelationshipTypeSchema{}
	if !open.AllowsSource("anything") || !open.AllowsDestination("anything") {
		t.Fatal("empty lists should allow any type")
	}

	closed := &models.RelationshipTypeSchema{
		SourceTypes:      []string{"driver"},
		DestinationTypes: []string{"decision"},
	}
	if !closed.AllowsSource("driver") || closed.AllowsSource("decision") {
		t.Fatal("source list not enforced")
	}
	if !closed.AllowsDestination("decision") || closed.AllowsDestination("driver") {
		t.Fatal("destination list not enforced")
	}
}

func TestValidationNamesEveryViolatedField(t *testing.T) {
	ctx := scopedCtx()
	registry, mem := newRegistryFixture()

	schema := &models.ObjectTypeSchema{
		ID:      uuid.New(),
		Type:    "decision",
		Version: 1,
		Schema: json.RawMessage(`{
			"type": "object",
			"required": ["status"],
			"properties": {
				"title":  {"type": "string"},
				"status": {"type": "string"}
			}
		}`),
	}
	if err := cache.SetJSON(ctx, mem, objectSchemaKey(ctx, "decision"), schema, time.Minute); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	err := registry.ValidateObject(ctx, "decision", map[string]any{"title": 42})
	if err == nil {
		t.Fatal("object violating two fields accepted")
	}
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperror.Error, got %v", err)
	}
	violations, ok := appErr.Details["violations"].([]map[string]any)
	if !ok {
		t.Fatalf("violations not a list: %v", appErr.Details["violations"])
	}

	fields := map[string]bool{}
	for _, v := range violations {
		if field, ok := v["field"].(string); ok {
			fields[field] = true
		}
	}
	if !fields["status"] {
		t.Fatalf("missing required field not reported: %v", violations)
	}
	if !fields["title"] {
		t.Fatalf("type violation not reported alongside the missing field: %v", violations)
	}
}
