package rls

import (
	"context"
	"fmt"
	"sync"

	"github.com/stratahq/strata/common/apperror"
	"github.com/stratahq/strata/common/config"
	"github.com/stratahq/strata/common/db"
	"github.com/stratahq/strata/common/logger"
)

// ExistingPolicy is a policy row read back from pg_policies
type ExistingPolicy struct {
	Table     string
	Name      string
	Command   string
	Using     string
	WithCheck string
}

// Plan is the set of DDL actions needed to converge a table's live policies
// onto the canonical set
type Plan struct {
	Create   []Policy
	Drop     []ExistingPolicy
	Recreate []Policy
}

// Empty reports whether the plan has no work
func (p Plan) Empty() bool {
	return len(p.Create) == 0 && len(p.Drop) == 0 && len(p.Recreate) == 0
}

// Status is the cheap health snapshot exposed to external reporting
type Status struct {
	OK          bool   `json:"ok"`
	PolicyCount int    `json:"policy_count"`
	Fingerprint string `json:"fingerprint"`
}

// Synchronizer converges the live policy set on the versioned tables onto
// the canonical definition at startup, and re-verifies on demand.
type Synchronizer struct {
	db       *db.DB
	cfg      config.TenantConfig
	log      *logger.Logger
	policies []Policy

	mu     sync.RWMutex
	status Status
}

// NewSynchronizer creates a new policy synchronizer
func NewSynchronizer(database *db.DB, cfg config.TenantConfig, log *logger.Logger) *Synchronizer {
	policies := CanonicalSet(cfg.OrgVar, cfg.ProjectVar)
	return &Synchronizer{
		db:       database,
		cfg:      cfg,
		log:      log,
		policies: policies,
		status: Status{
			OK:          false,
			Fingerprint: Fingerprint(policies),
		},
	}
}

// BuildPlan diffs the live policies of one table against the canonical set.
// Unknown policies are dropped, missing ones created, and divergent ones
// (wrong command or predicate) dropped and recreated.
func BuildPlan(desired []Policy, existing []ExistingPolicy) Plan {
	var plan Plan

	byName := make(map[string]ExistingPolicy, len(existing))
	for _, e := range existing {
		byName[e.Name] = e
	}

	seen := make(map[string]bool, len(desired))
	for _, want := range desired {
		seen[want.Name] = true

		have, ok := byName[want.Name]
		if !ok {
			plan.Create = append(plan.Create, want)
			continue
		}

		if !matches(want, have) {
			plan.Recreate = append(plan.Recreate, want)
		}
	}

	for _, e := range existing {
		if !seen[e.Name] {
			plan.Drop = append(plan.Drop, e)
		}
	}

	return plan
}

func matches(want Policy, have ExistingPolicy) bool {
	if have.Command != want.Command && have.Command != "ALL" {
		return false
	}

	wantPred := NormalizeExpr(want.Predicate)
	if want.UsesUsing() && NormalizeExpr(have.Using) != wantPred {
		return false
	}
	if want.UsesCheck() && NormalizeExpr(have.WithCheck) != wantPred {
		return false
	}
	return true
}

// Sync converges every versioned table and re-verifies the result. In
// strict mode a failed verification is fatal; otherwise it only logs.
func (s *Synchronizer) Sync(ctx context.Context) error {
	for _, table := range VersionedTables {
		if err := s.syncTable(ctx, table); err != nil {
			return err
		}
	}

	return s.Verify(ctx)
}

func (s *Synchronizer) syncTable(ctx context.Context, table string) error {
	if _, err := s.db.Exec(ctx, fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", table)); err != nil {
		return apperror.ErrDatabase.WithInternal(fmt.Errorf("enable RLS on %s: %w", table, err))
	}

	existing, err := s.listPolicies(ctx, table)
	if err != nil {
		return err
	}

	desired := make([]Policy, 0, len(Commands))
	for _, p := range s.policies {
		if p.Table == table {
			desired = append(desired, p)
		}
	}

	plan := BuildPlan(desired, existing)
	if plan.Empty() {
		return nil
	}

	s.log.Info("converging RLS policies",
		"table", table,
		"create", len(plan.Create),
		"drop", len(plan.Drop),
		"recreate", len(plan.Recreate),
	)

	for _, e := range plan.Drop {
		if err := s.dropPolicy(ctx, e.Table, e.Name); err != nil {
			return err
		}
	}
	for _, p := range plan.Recreate {
		if err := s.dropPolicy(ctx, p.Table, p.Name); err != nil {
			return err
		}
		if err := s.createPolicy(ctx, p); err != nil {
			return err
		}
	}
	for _, p := range plan.Create {
		if err := s.createPolicy(ctx, p); err != nil {
			return err
		}
	}

	return nil
}

// Verify checks that the full canonical set exists after convergence and
// updates the cached status. Missing policies are fatal in strict mode.
func (s *Synchronizer) Verify(ctx context.Context) error {
	missing := []string{}
	count := 0

	for _, table := range VersionedTables {
		existing, err := s.listPolicies(ctx, table)
		if err != nil {
			return err
		}

		byName := make(map[string]bool, len(existing))
		for _, e := range existing {
			byName[e.Name] = true
		}

		for _, p := range s.policies {
			if p.Table != table {
				continue
			}
			if byName[p.Name] {
				count++
			} else {
				missing = append(missing, p.Name)
			}
		}
	}

	ok := len(missing) == 0

	s.mu.Lock()
	s.status.OK = ok
	s.status.PolicyCount = count
	s.mu.Unlock()

	if !ok {
		if s.cfg.StrictPolicies {
			return apperror.ErrPolicyDrift.WithDetails(map[string]any{"missing": missing})
		}
		s.log.Warn("RLS policies missing after sync; continuing in non-strict mode",
			"missing", missing,
		)
	}

	return nil
}

// Status returns the cached verification snapshot
func (s *Synchronizer) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Synchronizer) listPolicies(ctx context.Context, table string) ([]ExistingPolicy, error) {
	rows, err := s.db.Query(ctx, `
		SELECT policyname, cmd, COALESCE(qual, ''), COALESCE(with_check, '')
		FROM pg_policies
		WHERE schemaname = current_schema() AND tablename = $1
	`, table)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(fmt.Errorf("list policies for %s: %w", table, err))
	}
	defer rows.Close()

	var policies []ExistingPolicy
	for rows.Next() {
		p := ExistingPolicy{Table: table}
		if err := rows.Scan(&p.Name, &p.Command, &p.Using, &p.WithCheck); err != nil {
			return nil, apperror.ErrDatabase.WithInternal(fmt.Errorf("scan policy row: %w", err))
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return policies, nil
}

func (s *Synchronizer) createPolicy(ctx context.Context, p Policy) error {
	stmt := fmt.Sprintf("CREATE POLICY %s ON %s FOR %s", p.Name, p.Table, p.Command)
	if p.UsesUsing() {
		stmt += fmt.Sprintf(" USING (%s)", p.Predicate)
	}
	if p.UsesCheck() {
		stmt += fmt.Sprintf(" WITH CHECK (%s)", p.Predicate)
	}

	if _, err := s.db.Exec(ctx, stmt); err != nil {
		return apperror.ErrDatabase.WithInternal(fmt.Errorf("create policy %s: %w", p.Name, err))
	}
	return nil
}

func (s *Synchronizer) dropPolicy(ctx context.Context, table, name string) error {
	stmt := fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s", name, table)
	if _, err := s.db.Exec(ctx, stmt); err != nil {
		return apperror.ErrDatabase.WithInternal(fmt.Errorf("drop policy %s: %w", name, err))
	}
	return nil
}
