package tenant

import (
	"context"

	"github.com/google/uuid"
)

// Scope is an immutable (organization, project) pair. The zero value is the
// wildcard scope used by system/bootstrap operations; RLS policies treat it
// as visible-to-all.
type Scope struct {
	OrgID     uuid.UUID
	ProjectID uuid.UUID
}

// IsWildcard reports whether the scope carries no tenant at all
func (s Scope) IsWildcard() bool {
	return s.OrgID == uuid.Nil && s.ProjectID == uuid.Nil
}

// OrgValue returns the org id as a session-variable value ("" when unset)
func (s Scope) OrgValue() string {
	if s.OrgID == uuid.Nil {
		return ""
	}
	return s.OrgID.String()
}

// ProjectValue returns the project id as a session-variable value ("" when unset)
func (s Scope) ProjectValue() string {
	if s.ProjectID == uuid.Nil {
		return ""
	}
	return s.ProjectID.String()
}

type ctxKey struct{}

// frame is one entry of the scope stack. Frames link to their parent, so a
// derived context carries the whole chain and the caller's context keeps the
// prior top untouched. Unwinding is automatic when the callee returns.
type frame struct {
	scope  Scope
	parent *frame
}

// With pushes a scope frame onto the stack carried by ctx
func With(ctx context.Context, scope Scope) context.Context {
	parent, _ := ctx.Value(ctxKey{}).(*frame)
	return context.WithValue(ctx, ctxKey{}, &frame{scope: scope, parent: parent})
}

// From returns the scope on top of the stack, or the wildcard scope when no
// frame has been pushed
func From(ctx context.Context) Scope {
	if f, ok := ctx.Value(ctxKey{}).(*frame); ok {
		return f.scope
	}
	return Scope{}
}

// HasScope reports whether any frame is active on ctx
func HasScope(ctx context.Context) bool {
	_, ok := ctx.Value(ctxKey{}).(*frame)
	return ok
}

// Depth returns the number of frames on the stack. Mostly useful in tests
// and diagnostics.
func Depth(ctx context.Context) int {
	n := 0
	for f, _ := ctx.Value(ctxKey{}).(*frame); f != nil; f = f.parent {
		n++
	}
	return n
}

// RunScoped pushes scope, runs fn, and leaves the caller's context untouched
func RunScoped(ctx context.Context, scope Scope, fn func(ctx context.Context) error) error {
	return fn(With(ctx, scope))
}
