package rls

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// VersionedTables are all tables carrying tenant scoping columns and a full
// canonical policy set.
var VersionedTables = []string{
	"objects",
	"relationships",
	"object_type_schemas",
	"relationship_type_schemas",
	"branches",
	"branch_lineage",
	"object_merge_parents",
	"product_versions",
	"product_version_members",
	"tags",
}

// Commands is the set of SQL commands each table gets one policy for
var Commands = []string{"SELECT", "INSERT", "UPDATE", "DELETE"}

// globalScoped marks tables whose rows may carry NULL scoping columns to
// mean "visible to every tenant" (global schema definitions).
var globalScoped = map[string]bool{
	"object_type_schemas":       true,
	"relationship_type_schemas": true,
}

// Policy is one canonical row-level-security policy definition
type Policy struct {
	Table     string
	Command   string
	Name      string
	Predicate string
}

// UsesCheck reports whether the policy needs a WITH CHECK clause
func (p Policy) UsesCheck() bool {
	return p.Command == "INSERT" || p.Command == "UPDATE"
}

// UsesUsing reports whether the policy needs a USING clause
func (p Policy) UsesUsing() bool {
	return p.Command != "INSERT"
}

// predicate builds the tenant visibility expression: a row is visible when
// the session variable is unset/empty (wildcard scope) or matches the row's
// scoping column. Both the org and project variables must pass.
// Tables in globalScoped additionally accept a NULL scoping column, so a
// global schema row stays visible under any tenant scope.
func predicate(orgVar, projectVar string, allowNull bool) string {
	clause := func(v, col string) string {
		if allowNull {
			return fmt.Sprintf(
				"(%s IS NULL OR current_setting('%s', true) IS NULL OR current_setting('%s', true) = '' OR %s::text = current_setting('%s', true))",
				col, v, v, col, v,
			)
		}
		return fmt.Sprintf(
			"(current_setting('%s', true) IS NULL OR current_setting('%s', true) = '' OR %s::text = current_setting('%s', true))",
			v, v, col, v,
		)
	}
	return clause(orgVar, "organization_id") + " AND " + clause(projectVar, "project_id")
}

// CanonicalSet returns the full desired policy set for the given session
// variable names, sorted by (table, command).
func CanonicalSet(orgVar, projectVar string) []Policy {
	policies := make([]Policy, 0, len(VersionedTables)*len(Commands))
	for _, table := range VersionedTables {
		pred := predicate(orgVar, projectVar, globalScoped[table])
		for _, cmd := range Commands {
			policies = append(policies, Policy{
				Table:     table,
				Command:   cmd,
				Name:      fmt.Sprintf("strata_%s_%s", table, strings.ToLower(cmd)),
				Predicate: pred,
			})
		}
	}

	sort.Slice(policies, func(i, j int) bool {
		if policies[i].Table != policies[j].Table {
			return policies[i].Table < policies[j].Table
		}
		return policies[i].Command < policies[j].Command
	})

	return policies
}

// Fingerprint returns a stable hash of the canonical set, exposed by the
// health status so external monitors can detect definition changes.
func Fingerprint(policies []Policy) string {
	lines := make([]string, 0, len(policies))
	for _, p := range policies {
		lines = append(lines, fmt.Sprintf("%s:%s:%s:%s", p.Table, p.Command, p.Name, p.Predicate))
	}
	sort.Strings(lines)

	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// NormalizeExpr reduces a policy expression to a comparable form. Postgres
// rewrites stored policy expressions (quoting, spacing, added casts), so a
// byte-for-byte comparison against pg_policies would always diverge.
func NormalizeExpr(expr string) string {
	replacer := strings.NewReplacer(
		" ", "",
		"\t", "",
		"\n", "",
		"(", "",
		")", "",
		"\"", "",
		"'", "",
		"::text", "",
	)
	return strings.ToLower(replacer.Replace(expr))
}
