package tenant

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestFromEmptyContextIsWildcard(t *testing.T) {
	scope := From(context.Background())
	if !scope.IsWildcard() {
		t.Fatalf("expected wildcard scope, got %+v", scope)
	}
	if HasScope(context.Background()) {
		t.Fatal("empty context should not report an active scope")
	}
	if scope.OrgValue() != "" || scope.ProjectValue() != "" {
		t.Fatalf("wildcard scope should bind empty session values, got %q/%q", scope.OrgValue(), scope.ProjectValue())
	}
}

func TestWithPushesScope(t *testing.T) {
	org := uuid.New()
	project := uuid.New()

	ctx := With(context.Background(), Scope{OrgID: org, ProjectID: project})

	scope := From(ctx)
	if scope.OrgID != org || scope.ProjectID != project {
		t.Fatalf("unexpected scope: %+v", scope)
	}
	if scope.OrgValue() != org.String() {
		t.Fatalf("OrgValue = %q, want %q", scope.OrgValue(), org.String())
	}
	if !HasScope(ctx) {
		t.Fatal("HasScope should report true after With")
	}
}

func TestScopeStackNesting(t *testing.T) {
	outer := Scope{OrgID: uuid.New(), ProjectID: uuid.New()}
	inner := Scope{OrgID: uuid.New(), ProjectID: uuid.New()}

	ctx := With(context.Background(), outer)
	nested := With(ctx, inner)

	if got := From(nested); got != inner {
		t.Fatalf("nested scope = %+v, want %+v", got, inner)
	}
	// The outer context must be untouched by the nested push.
	if got := From(ctx); got != outer {
		t.Fatalf("outer scope = %+v, want %+v", got, outer)
	}
	if Depth(ctx) != 1 || Depth(nested) != 2 {
		t.Fatalf("depths = %d/%d, want 1/2", Depth(ctx), Depth(nested))
	}
}

func TestRunScopedLeavesCallerUntouched(t *testing.T) {
	base := With(context.Background(), Scope{OrgID: uuid.New(), ProjectID: uuid.New()})
	elevated := Scope{OrgID: uuid.New(), ProjectID: uuid.New()}

	err := RunScoped(base, elevated, func(ctx context.Context) error {
		if From(ctx) != elevated {
			t.Fatalf("callback scope = %+v, want %+v", From(ctx), elevated)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunScoped returned error: %v", err)
	}

	if From(base) == elevated {
		t.Fatal("caller context scope leaked")
	}
}
