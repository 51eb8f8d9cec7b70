package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stratahq/strata/common/apperror"
	"github.com/stratahq/strata/common/config"
	"github.com/stratahq/strata/common/db"
	"github.com/stratahq/strata/common/logger"
)

// Executor runs statements against the database with the current tenant
// scope bound to the enclosing transaction.
//
// Every call opens its own transaction, issues a transaction-scoped
// set_config for the org and project session variables, runs the caller's
// statements, and commits. Because the assignment is transaction-scoped
// (`is_local = true`), the scope is discarded at commit/rollback and a
// pooled connection can never leak a stale tenant into a later query.
type Executor struct {
	db  *db.DB
	cfg config.TenantConfig
	log *logger.Logger
}

// NewExecutor creates a new tenant-scoped executor
func NewExecutor(database *db.DB, cfg config.TenantConfig, log *logger.Logger) *Executor {
	return &Executor{
		db:  database,
		cfg: cfg,
		log: log,
	}
}

// bind assigns the scope variables inside tx. Bind failure is fatal for the
// operation: the transaction is rolled back by the caller and the statement
// never runs scope-less.
func (e *Executor) bind(ctx context.Context, tx pgx.Tx) error {
	scope := From(ctx)

	_, err := tx.Exec(ctx,
		`SELECT set_config($1, $2, true), set_config($3, $4, true)`,
		e.cfg.OrgVar, scope.OrgValue(),
		e.cfg.ProjectVar, scope.ProjectValue(),
	)
	if err != nil {
		e.log.Error("tenant context bind failed",
			"org_id", scope.OrgValue(),
			"project_id", scope.ProjectValue(),
			"error", err,
		)
		return apperror.ErrTenantBind.WithInternal(err)
	}

	return nil
}

// WithTransaction runs fn inside a single tenant-bound transaction
func (e *Executor) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	defer tx.Rollback(ctx)

	if err := e.bind(ctx, tx); err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return apperror.ErrDatabase.WithInternal(fmt.Errorf("commit transaction: %w", err))
	}

	return nil
}

// Exec runs a single statement in its own tenant-bound transaction
func (e *Executor) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	var tag pgconn.CommandTag
	err := e.WithTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		tag, err = tx.Exec(ctx, sql, args...)
		return err
	})
	return tag, err
}

// Query runs a single query in its own tenant-bound transaction. Rows must
// be fully consumed inside fn; they are invalid once the transaction
// commits and the connection returns to the pool.
func (e *Executor) Query(ctx context.Context, sql string, args []any, fn func(rows pgx.Rows) error) error {
	return e.WithTransaction(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		if err := fn(rows); err != nil {
			return err
		}
		return rows.Err()
	})
}

// QueryRow runs a single-row query in its own tenant-bound transaction
func (e *Executor) QueryRow(ctx context.Context, sql string, args []any, fn func(row pgx.Row) error) error {
	return e.WithTransaction(ctx, func(tx pgx.Tx) error {
		return fn(tx.QueryRow(ctx, sql, args...))
	})
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505)
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// WithVersionRetry runs fn and, if it fails with a unique violation (two
// writers racing for the same (canonical_id, branch_id, version) slot),
// retries exactly once so the loser can re-resolve the head. A second
// failure surfaces as a retryable conflict to the caller.
func WithVersionRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil || !IsUniqueViolation(err) {
		return err
	}

	if err := fn(ctx); err != nil {
		if IsUniqueViolation(err) {
			return apperror.ErrVersionRace.WithInternal(err)
		}
		return err
	}
	return nil
}
