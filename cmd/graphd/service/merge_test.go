package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stratahq/strata/common/cache"
	"github.com/stratahq/strata/common/logger"
	"github.com/stratahq/strata/common/models"
	"github.com/stratahq/strata/common/tenant"
)

func testLogger() *logger.Logger {
	return logger.New("error", "json")
}

func scopedCtx() context.Context {
	return tenant.With(context.Background(), tenant.Scope{
		OrgID:     uuid.New(),
		ProjectID: uuid.New(),
	})
}

// seedSchema plants an object type schema in the registry cache so merge
// strategy lookups resolve without a database.
func seedSchema(t *testing.T, ctx context.Context, c cache.Cache, objectType string, strategies map[string]models.MergeStrategy) {
	t.Helper()
	schema := &models.ObjectTypeSchema{
		ID:              uuid.New(),
		Type:            objectType,
		Version:         1,
		Schema:          json.RawMessage(`{"type":"object"}`),
		MergeStrategies: strategies,
	}
	if err := cache.SetJSON(ctx, c, objectSchemaKey(ctx, objectType), schema, time.Minute); err != nil {
		t.Fatalf("failed to seed schema cache: %v", err)
	}
}

func newMergeFixture(t *testing.T, ctx context.Context, strategies map[string]models.MergeStrategy) *MergeService {
	t.Helper()
	mem := cache.NewMemoryCache(testLogger())
	registry := NewSchemaRegistry(nil, mem, time.Minute, testLogger())
	seedSchema(t, ctx, mem, "document", strategies)
	return NewMergeService(nil, nil, registry, nil, nil, testLogger())
}

func obj(props map[string]any) *models.VersionedObject {
	return &models.VersionedObject{
		ID:          uuid.New(),
		CanonicalID: uuid.New(),
		Type:        "document",
		Properties:  props,
	}
}

func TestMergePropertiesBothDivergedConflicts(t *testing.T) {
	ctx := scopedCtx()
	svc := newMergeFixture(t, ctx, nil)

	ancestor := obj(map[string]any{"x": float64(1)})
	target := obj(map[string]any{"x": float64(2)})
	source := obj(map[string]any{"x": float64(3)})

	_, conflicts, err := svc.mergeProperties(ctx, target, source, ancestor, nil)
	if err != nil {
		t.Fatalf("mergeProperties: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0] != "x" {
		t.Fatalf("conflicts = %v, want [x]", conflicts)
	}
}

func TestMergePropertiesOneSideChangedAdopts(t *testing.T) {
	ctx := scopedCtx()
	svc := newMergeFixture(t, ctx, nil)

	ancestor := obj(map[string]any{"x": float64(1), "y": "base"})
	target := obj(map[string]any{"x": float64(1), "y": "base"})
	source := obj(map[string]any{"x": float64(3), "y": "base"})

	merged, conflicts, err := svc.mergeProperties(ctx, target, source, ancestor, nil)
	if err != nil {
		t.Fatalf("mergeProperties: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %v", conflicts)
	}
	if merged["x"] != float64(3) {
		t.Fatalf("merged x = %v, want 3", merged["x"])
	}
	if merged["y"] != "base" {
		t.Fatalf("merged y = %v, want base", merged["y"])
	}
}

func TestMergePropertiesBothChangedToSameValue(t *testing.T) {
	ctx := scopedCtx()
	svc := newMergeFixture(t, ctx, nil)

	ancestor := obj(map[string]any{"x": float64(1)})
	target := obj(map[string]any{"x": float64(7)})
	source := obj(map[string]any{"x": float64(7)})

	merged, conflicts, err := svc.mergeProperties(ctx, target, source, ancestor, nil)
	if err != nil {
		t.Fatalf("mergeProperties: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("identical edits should not conflict: %v", conflicts)
	}
	if merged["x"] != float64(7) {
		t.Fatalf("merged x = %v, want 7", merged["x"])
	}
}

func TestMergePropertiesDeclaredStrategies(t *testing.T) {
	ctx := scopedCtx()
	svc := newMergeFixture(t, ctx, map[string]models.MergeStrategy{
		"status": models.MergeSourceWins,
		"owner":  models.MergeTargetWins,
		"labels": models.MergeUnion,
	})

	ancestor := obj(map[string]any{
		"status": "draft",
		"owner":  "alice",
		"labels": []any{"a"},
	})
	target := obj(map[string]any{
		"status": "review",
		"owner":  "bob",
		"labels": []any{"a", "b"},
	})
	source := obj(map[string]any{
		"status": "published",
		"owner":  "carol",
		"labels": []any{"a", "c"},
	})

	merged, conflicts, err := svc.mergeProperties(ctx, target, source, ancestor, nil)
	if err != nil {
		t.Fatalf("mergeProperties: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %v", conflicts)
	}
	if merged["status"] != "published" {
		t.Fatalf("source-wins status = %v", merged["status"])
	}
	if merged["owner"] != "bob" {
		t.Fatalf("target-wins owner = %v", merged["owner"])
	}
	labels, ok := merged["labels"].([]any)
	if !ok || len(labels) != 3 {
		t.Fatalf("union labels = %v", merged["labels"])
	}
	if labels[0] != "a" || labels[1] != "b" || labels[2] != "c" {
		t.Fatalf("union order = %v, want target order then new source elements", labels)
	}
}

func TestMergePropertiesOverrideBeatsSchema(t *testing.T) {
	ctx := scopedCtx()
	svc := newMergeFixture(t, ctx, map[string]models.MergeStrategy{
		"x": models.MergeFailOnDivergence,
	})

	ancestor := obj(map[string]any{"x": float64(1)})
	target := obj(map[string]any{"x": float64(2)})
	source := obj(map[string]any{"x": float64(3)})

	merged, conflicts, err := svc.mergeProperties(ctx, target, source, ancestor, map[string]models.MergeStrategy{
		"x": models.MergeSourceWins,
	})
	if err != nil {
		t.Fatalf("mergeProperties: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("override should have resolved: %v", conflicts)
	}
	if merged["x"] != float64(3) {
		t.Fatalf("merged x = %v, want source value 3", merged["x"])
	}
}

func TestMergePropertiesFieldRemoval(t *testing.T) {
	ctx := scopedCtx()
	svc := newMergeFixture(t, ctx, nil)

	ancestor := obj(map[string]any{"x": float64(1), "gone": "yes"})
	target := obj(map[string]any{"x": float64(1)})
	source := obj(map[string]any{"x": float64(1), "gone": "yes"})

	merged, conflicts, err := svc.mergeProperties(ctx, target, source, ancestor, nil)
	if err != nil {
		t.Fatalf("mergeProperties: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %v", conflicts)
	}
	if _, exists := merged["gone"]; exists {
		t.Fatal("field deleted on one side should stay deleted")
	}
}

func TestMergePropertiesNoAncestor(t *testing.T) {
	ctx := scopedCtx()
	svc := newMergeFixture(t, ctx, nil)

	target := obj(map[string]any{"x": float64(2), "t": "only"})
	source := obj(map[string]any{"x": float64(2), "s": "only"})

	merged, conflicts, err := svc.mergeProperties(ctx, target, source, nil, nil)
	if err != nil {
		t.Fatalf("mergeProperties: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("equal values without ancestor should not conflict: %v", conflicts)
	}
	if merged["t"] != "only" || merged["s"] != "only" {
		t.Fatalf("one-sided fields lost: %v", merged)
	}
}

func TestUnionValues(t *testing.T) {
	out, err := unionValues([]any{"a", "b"}, []any{"b", "c"})
	if err != nil {
		t.Fatalf("unionValues: %v", err)
	}
	arr := out.([]any)
	if len(arr) != 3 || arr[0] != "a" || arr[1] != "b" || arr[2] != "c" {
		t.Fatalf("union = %v", arr)
	}

	if _, err := unionValues("not-array", []any{"a"}); err == nil {
		t.Fatal("union of non-arrays should fail")
	}
}

func TestJSONEqual(t *testing.T) {
	if !jsonEqual(map[string]any{"a": float64(1)}, map[string]any{"a": float64(1)}) {
		t.Fatal("equal maps reported unequal")
	}
	if jsonEqual(float64(1), float64(2)) {
		t.Fatal("different scalars reported equal")
	}
	if !jsonEqual(nil, nil) {
		t.Fatal("nils should be equal")
	}
}
