package rls

import (
	"strings"
	"testing"

	"github.com/stratahq/strata/common/config"
	"github.com/stratahq/strata/common/logger"
)

// objectPolicies is the canonical set for the objects table under the
// default session variable names.
func objectPolicies() []Policy {
	var out []Policy
	for _, p := range CanonicalSet("app.current_org_id", "app.current_project_id") {
		if p.Table == "objects" {
			out = append(out, p)
		}
	}
	return out
}

// asStored renders a policy the way pg_policies reports it after the
// planner's rewrite: extra parens and ::text casts on both operands.
func asStored(p Policy) ExistingPolicy {
	rewritten := strings.ReplaceAll(p.Predicate, ", true)", ", true))::text")
	e := ExistingPolicy{Table: p.Table, Name: p.Name, Command: p.Command}
	if p.UsesUsing() {
		e.Using = "(" + rewritten + ")"
	}
	if p.UsesCheck() {
		e.WithCheck = "(" + rewritten + ")"
	}
	return e
}

func TestBuildPlanConvergedTableIsEmpty(t *testing.T) {
	desired := objectPolicies()

	existing := make([]ExistingPolicy, 0, len(desired))
	for _, p := range desired {
		existing = append(existing, asStored(p))
	}

	plan := BuildPlan(desired, existing)
	if !plan.Empty() {
		t.Fatalf("converged table produced work: create=%d drop=%d recreate=%d",
			len(plan.Create), len(plan.Drop), len(plan.Recreate))
	}
}

func TestBuildPlanCreatesMissingPolicies(t *testing.T) {
	desired := objectPolicies()

	// Live table has everything except the DELETE policy.
	var existing []ExistingPolicy
	for _, p := range desired {
		if p.Command != "DELETE" {
			existing = append(existing, asStored(p))
		}
	}

	plan := BuildPlan(desired, existing)
	if len(plan.Create) != 1 || plan.Create[0].Command != "DELETE" {
		t.Fatalf("create = %v, want the missing DELETE policy", plan.Create)
	}
	if len(plan.Drop) != 0 || len(plan.Recreate) != 0 {
		t.Fatalf("unexpected drop=%v recreate=%v", plan.Drop, plan.Recreate)
	}
}

func TestBuildPlanDropsUnknownPolicies(t *testing.T) {
	desired := objectPolicies()

	existing := make([]ExistingPolicy, 0, len(desired)+1)
	for _, p := range desired {
		existing = append(existing, asStored(p))
	}
	existing = append(existing, ExistingPolicy{
		Table:   "objects",
		Name:    "legacy_objects_all",
		Command: "ALL",
		Using:   "true",
	})

	plan := BuildPlan(desired, existing)
	if len(plan.Drop) != 1 || plan.Drop[0].Name != "legacy_objects_all" {
		t.Fatalf("drop = %v, want the stray legacy policy", plan.Drop)
	}
	if len(plan.Create) != 0 || len(plan.Recreate) != 0 {
		t.Fatalf("unexpected create=%v recreate=%v", plan.Create, plan.Recreate)
	}
}

func TestBuildPlanRecreatesDivergentPredicate(t *testing.T) {
	desired := objectPolicies()

	existing := make([]ExistingPolicy, 0, len(desired))
	for _, p := range desired {
		e := asStored(p)
		if p.Command == "SELECT" {
			e.Using = "(organization_id IS NOT NULL)"
		}
		existing = append(existing, e)
	}

	plan := BuildPlan(desired, existing)
	if len(plan.Recreate) != 1 || plan.Recreate[0].Command != "SELECT" {
		t.Fatalf("recreate = %v, want the divergent SELECT policy", plan.Recreate)
	}
	if len(plan.Create) != 0 || len(plan.Drop) != 0 {
		t.Fatalf("unexpected create=%v drop=%v", plan.Create, plan.Drop)
	}
}

func TestBuildPlanRecreatesWrongCommand(t *testing.T) {
	desired := objectPolicies()

	existing := make([]ExistingPolicy, 0, len(desired))
	for _, p := range desired {
		e := asStored(p)
		if p.Command == "UPDATE" {
			e.Command = "SELECT"
			e.WithCheck = ""
		}
		existing = append(existing, e)
	}

	plan := BuildPlan(desired, existing)
	if len(plan.Recreate) != 1 || plan.Recreate[0].Command != "UPDATE" {
		t.Fatalf("recreate = %v, want the wrong-command UPDATE policy", plan.Recreate)
	}
}

func TestSynchronizerStatusCarriesFingerprint(t *testing.T) {
	cfg := config.TenantConfig{OrgVar: "app.current_org_id", ProjectVar: "app.current_project_id"}
	sync := NewSynchronizer(nil, cfg, logger.New("error", "json"))

	status := sync.Status()
	if status.OK {
		t.Fatal("status should not report OK before verification")
	}
	if status.Fingerprint == "" {
		t.Fatal("fingerprint should be set at construction")
	}

	want := Fingerprint(CanonicalSet("app.current_org_id", "app.current_project_id"))
	if status.Fingerprint != want {
		t.Fatalf("fingerprint = %s, want the canonical-set hash", status.Fingerprint)
	}
}
