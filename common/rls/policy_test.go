package rls

import (
	"strings"
	"testing"
)

func TestCanonicalSetCoversEveryTableAndCommand(t *testing.T) {
	policies := CanonicalSet("app.current_org_id", "app.current_project_id")

	want := len(VersionedTables) * len(Commands)
	if len(policies) != want {
		t.Fatalf("got %d policies, want %d", len(policies), want)
	}

	seen := map[string]bool{}
	for _, p := range policies {
		key := p.Table + "/" + p.Command
		if seen[key] {
			t.Fatalf("duplicate policy for %s", key)
		}
		seen[key] = true

		if !strings.HasPrefix(p.Name, "strata_") {
			t.Errorf("policy name %q missing prefix", p.Name)
		}
		if !strings.Contains(p.Predicate, "app.current_org_id") ||
			!strings.Contains(p.Predicate, "app.current_project_id") {
			t.Errorf("predicate for %s does not reference both session variables", key)
		}
	}
}

func TestGlobalScopedTablesAcceptNullColumns(t *testing.T) {
	policies := CanonicalSet("app.current_org_id", "app.current_project_id")

	for _, p := range policies {
		hasNullClause := strings.Contains(p.Predicate, "organization_id IS NULL")
		if globalScoped[p.Table] && !hasNullClause {
			t.Errorf("%s is global-scoped but predicate rejects NULL columns", p.Table)
		}
		if !globalScoped[p.Table] && hasNullClause {
			t.Errorf("%s is tenant-only but predicate accepts NULL columns", p.Table)
		}
	}
}

func TestPolicyClauses(t *testing.T) {
	p := Policy{Command: "INSERT"}
	if !p.UsesCheck() || p.UsesUsing() {
		t.Error("INSERT should use WITH CHECK only")
	}
	p = Policy{Command: "SELECT"}
	if p.UsesCheck() || !p.UsesUsing() {
		t.Error("SELECT should use USING only")
	}
	p = Policy{Command: "UPDATE"}
	if !p.UsesCheck() || !p.UsesUsing() {
		t.Error("UPDATE should use both clauses")
	}
}

func TestFingerprintStability(t *testing.T) {
	a := CanonicalSet("app.current_org_id", "app.current_project_id")
	b := CanonicalSet("app.current_org_id", "app.current_project_id")

	if Fingerprint(a) != Fingerprint(b) {
		t.Fatal("identical sets must fingerprint equally")
	}

	c := CanonicalSet("app.other_org", "app.current_project_id")
	if Fingerprint(a) == Fingerprint(c) {
		t.Fatal("different session variables must change the fingerprint")
	}
}

func TestNormalizeExprIgnoresPostgresRewrites(t *testing.T) {
	ours := "(current_setting('app.current_org_id', true) IS NULL OR organization_id::text = current_setting('app.current_org_id', true))"
	// pg_policies stores a re-quoted, re-spaced rendering of the same
	// expression.
	theirs := "((current_setting('app.current_org_id'::text, true) IS NULL) OR ((organization_id)::text = current_setting('app.current_org_id'::text, true)))"

	if NormalizeExpr(ours) != NormalizeExpr(theirs) {
		t.Fatalf("normalized forms diverge:\n%s\n%s", NormalizeExpr(ours), NormalizeExpr(theirs))
	}
}
