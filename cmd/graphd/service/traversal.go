package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"
	"github.com/stratahq/strata/cmd/graphd/repository"
	"github.com/stratahq/strata/common/apperror"
	"github.com/stratahq/strata/common/config"
	"github.com/stratahq/strata/common/logger"
	"github.com/stratahq/strata/common/models"
)

// Dedupe selects how revisits are suppressed during expansion
type Dedupe string

const (
	DedupeNode Dedupe = "node"
	DedupeEdge Dedupe = "edge"
	DedupePath Dedupe = "path"
)

// ExpandPhase is one stage of a phased expansion; its discovered nodes
// seed the next phase's roots
type ExpandPhase struct {
	EdgeTypes []string             `json:"edgeTypes,omitempty"`
	Direction repository.Direction `json:"direction,omitempty"`
	NodeTypes []string             `json:"nodeTypes,omitempty"`
}

// ExpandFilters carries optional CEL predicates applied to candidate
// nodes and edges. Expressions see `node` / `edge` with `type` and
// `properties` fields.
type ExpandFilters struct {
	Node string `json:"node,omitempty"`
	Edge string `json:"edge,omitempty"`
}

// ExpandRequest describes one bounded breadth-first expansion
type ExpandRequest struct {
	Roots      []uuid.UUID          `json:"roots"`
	Direction  repository.Direction `json:"direction,omitempty"`
	MaxDepth   int                  `json:"maxDepth,omitempty"`
	EdgeTypes  []string             `json:"edgeTypes,omitempty"`
	NodeTypes  []string             `json:"nodeTypes,omitempty"`
	Filters    ExpandFilters        `json:"filters,omitempty"`
	LimitNodes int                  `json:"limitNodes,omitempty"`
	Dedupe     Dedupe               `json:"dedupe,omitempty"`
	Phases     []ExpandPhase        `json:"phases,omitempty"`
	BranchID   *uuid.UUID           `json:"branchId,omitempty"`
}

// ExpandMeta reports how the expansion terminated. Truncation is a
// normal outcome, never an error.
type ExpandMeta struct {
	DepthReached  int    `json:"depthReached"`
	Truncated     bool   `json:"truncated"`
	OverflowType  string `json:"overflowType,omitempty"`
	NodesReturned int    `json:"nodesReturned"`
	EdgesReturned int    `json:"edgesReturned"`
}

// ExpandResult is the materialized subgraph
type ExpandResult struct {
	Nodes []*models.VersionedObject `json:"nodes"`
	Edges []*models.Relationship    `json:"edges"`
	Meta  ExpandMeta                `json:"meta"`
}

const (
	overflowNodes = "nodes"
	overflowEdges = "edges"
)

// headResolver is the slice of the object repository the traversal
// needs: branch-visible heads for a canonical set.
type headResolver interface {
	GetHeads(ctx context.Context, branchID uuid.UUID, canonicalIDs []uuid.UUID) (map[uuid.UUID]*models.VersionedObject, error)
}

// neighborLister yields the active edges touching a frontier.
type neighborLister interface {
	ListNeighbors(ctx context.Context, frontier []uuid.UUID, direction repository.Direction, edgeTypes []string, limit int) ([]*models.Relationship, error)
}

// branchResolver maps an optional branch id onto a concrete branch.
type branchResolver interface {
	Resolve(ctx context.Context, branchID *uuid.UUID) (*models.Branch, error)
}

// TraversalService performs bounded breadth-first graph expansion in
// application code, one relationship query per depth level, so no
// engine-specific recursive SQL is required.
type TraversalService struct {
	objects       headResolver
	relationships neighborLister
	branches      branchResolver
	cfg           config.TraversalConfig
	filters       *filterEvaluator
	log           *logger.Logger
}

// NewTraversalService creates a new traversal service
func NewTraversalService(
	objects headResolver,
	relationships neighborLister,
	branches branchResolver,
	cfg config.TraversalConfig,
	log *logger.Logger,
) *TraversalService {
	return &TraversalService{
		objects:       objects,
		relationships: relationships,
		branches:      branches,
		cfg:           cfg,
		filters:       newFilterEvaluator(),
		log:           log,
	}
}

// Expand runs a bounded expansion, or a sequence of them in phased mode.
// Caps clamp to configured maxima; hitting a cap sets meta.truncated and
// records whether nodes or edges overflowed.
func (s *TraversalService) Expand(ctx context.Context, req ExpandRequest) (*ExpandResult, error) {
	if len(req.Roots) == 0 {
		return nil, apperror.ErrBadRequest.WithMessage("at least one root object is required")
	}
	if len(req.Roots) > s.cfg.MaxRoots {
		return nil, apperror.ErrBadRequest.WithMessage(fmt.Sprintf("at most %d roots are allowed", s.cfg.MaxRoots))
	}
	if len(req.Phases) > s.cfg.MaxPhases {
		return nil, apperror.ErrBadRequest.WithMessage(fmt.Sprintf("at most %d phases are allowed", s.cfg.MaxPhases))
	}
	if req.Direction == "" {
		req.Direction = repository.DirectionOutbound
	}
	if !req.Direction.Valid() {
		return nil, apperror.ErrBadRequest.WithMessage(fmt.Sprintf("unknown direction %q", req.Direction))
	}
	switch req.Dedupe {
	case "":
		req.Dedupe = DedupeNode
	case DedupeNode, DedupeEdge, DedupePath:
	default:
		return nil, apperror.ErrBadRequest.WithMessage(fmt.Sprintf("unknown dedupe mode %q", req.Dedupe))
	}

	maxDepth := clamp(req.MaxDepth, s.cfg.DefaultDepth, s.cfg.MaxDepth)
	limitNodes := clamp(req.LimitNodes, s.cfg.DefaultNodes, s.cfg.MaxNodes)

	nodeFilter, err := s.filters.compile("node", req.Filters.Node)
	if err != nil {
		return nil, apperror.ErrBadRequest.WithMessage(fmt.Sprintf("invalid node filter: %v", err))
	}
	edgeFilter, err := s.filters.compile("edge", req.Filters.Edge)
	if err != nil {
		return nil, apperror.ErrBadRequest.WithMessage(fmt.Sprintf("invalid edge filter: %v", err))
	}

	branch, err := s.branches.Resolve(ctx, req.BranchID)
	if err != nil {
		return nil, err
	}

	state := newExpandState(req.Dedupe, limitNodes, s.cfg.MaxEdges)

	roots, err := s.seedRoots(ctx, branch.ID, req.Roots, req.NodeTypes, nodeFilter, state)
	if err != nil {
		return nil, err
	}

	if len(req.Phases) > 0 {
		frontier := roots
		for _, phase := range req.Phases {
			if len(frontier) == 0 || state.truncated {
				break
			}
			direction := phase.Direction
			if direction == "" {
				direction = req.Direction
			}
			if !direction.Valid() {
				return nil, apperror.ErrBadRequest.WithMessage(fmt.Sprintf("unknown phase direction %q", direction))
			}
			frontier, err = s.expandLevels(ctx, branch.ID, frontier, direction, 1, phase.EdgeTypes, phase.NodeTypes, nodeFilter, edgeFilter, state)
			if err != nil {
				return nil, err
			}
		}
	} else {
		frontier := roots
		for depth := 1; depth <= maxDepth; depth++ {
			if len(frontier) == 0 || state.truncated {
				break
			}
			frontier, err = s.expandLevels(ctx, branch.ID, frontier, req.Direction, depth, req.EdgeTypes, req.NodeTypes, nodeFilter, edgeFilter, state)
			if err != nil {
				return nil, err
			}
		}
	}

	return state.result(), nil
}

// seedRoots materializes the branch-visible heads of the root set and
// admits those passing the node filters
func (s *TraversalService) seedRoots(ctx context.Context, branchID uuid.UUID, roots []uuid.UUID, nodeTypes []string, nodeFilter cel.Program, state *expandState) ([]uuid.UUID, error) {
	heads, err := s.objects.GetHeads(ctx, branchID, roots)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	var frontier []uuid.UUID
	for _, root := range roots {
		head, ok := heads[root]
		if !ok {
			continue
		}
		admitted, err := s.admitNode(head, nodeTypes, nodeFilter, state)
		if err != nil {
			return nil, err
		}
		if admitted {
			frontier = append(frontier, head.CanonicalID)
		}
		if state.truncated {
			break
		}
	}
	return frontier, nil
}

// expandLevels runs one breadth-first level: fetch the frontier's edges,
// admit matching edges and their far endpoints, and return the newly
// discovered canonicals as the next frontier
func (s *TraversalService) expandLevels(
	ctx context.Context,
	branchID uuid.UUID,
	frontier []uuid.UUID,
	direction repository.Direction,
	depth int,
	edgeTypes, nodeTypes []string,
	nodeFilter, edgeFilter cel.Program,
	state *expandState,
) ([]uuid.UUID, error) {
	edgeBudget := state.edgeBudget()
	if edgeBudget <= 0 {
		state.overflow(overflowEdges)
		return nil, nil
	}

	edges, err := s.relationships.ListNeighbors(ctx, frontier, direction, edgeTypes, edgeBudget+1)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	if len(edges) > edgeBudget {
		edges = edges[:edgeBudget]
		state.overflow(overflowEdges)
	}

	inFrontier := make(map[uuid.UUID]bool, len(frontier))
	for _, id := range frontier {
		inFrontier[id] = true
	}

	// Collect candidate far endpoints, then materialize heads in one
	// batch before filtering.
	var candidates []uuid.UUID
	candidateSet := map[uuid.UUID]bool{}
	for _, edge := range edges {
		for _, endpoint := range farEndpoints(edge, direction, inFrontier) {
			if !candidateSet[endpoint] {
				candidateSet[endpoint] = true
				candidates = append(candidates, endpoint)
			}
		}
	}

	heads, err := s.objects.GetHeads(ctx, branchID, candidates)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	var next []uuid.UUID
	for _, edge := range edges {
		keep, err := s.filters.evalEdge(edgeFilter, edge)
		if err != nil {
			return nil, apperror.ErrBadRequest.WithMessage(fmt.Sprintf("edge filter failed: %v", err))
		}
		if !keep {
			continue
		}

		endpoints := farEndpoints(edge, direction, inFrontier)
		edgeAdmitted := false
		for _, endpoint := range endpoints {
			head, ok := heads[endpoint]
			if !ok {
				continue
			}
			if !state.shouldVisit(edge, head.CanonicalID) {
				// Seen before under this dedupe mode; still record the
				// connecting edge once.
				if state.nodeKnown(head.CanonicalID) {
					edgeAdmitted = true
				}
				continue
			}
			admitted, err := s.admitNode(head, nodeTypes, nodeFilter, state)
			if err != nil {
				return nil, err
			}
			if admitted {
				edgeAdmitted = true
				next = append(next, head.CanonicalID)
				state.markDepth(depth)
			}
			if state.truncated {
				break
			}
		}

		if edgeAdmitted {
			state.addEdge(edge)
		}
		if state.truncated {
			break
		}
	}

	return next, nil
}

// admitNode applies type and CEL filters and accumulates the node,
// reporting node-cap overflow through the state
func (s *TraversalService) admitNode(node *models.VersionedObject, nodeTypes []string, nodeFilter cel.Program, state *expandState) (bool, error) {
	if len(nodeTypes) > 0 && !containsString(nodeTypes, node.Type) {
		return false, nil
	}
	keep, err := s.filters.evalNode(nodeFilter, node)
	if err != nil {
		return false, apperror.ErrBadRequest.WithMessage(fmt.Sprintf("node filter failed: %v", err))
	}
	if !keep {
		return false, nil
	}
	return state.addNode(node), nil
}

// farEndpoints returns the endpoints a traversal step reaches through an
// edge, honoring direction. In "both" mode any endpoint outside the
// frontier counts.
func farEndpoints(edge *models.Relationship, direction repository.Direction, inFrontier map[uuid.UUID]bool) []uuid.UUID {
	switch direction {
	case repository.DirectionOutbound:
		return []uuid.UUID{edge.DstObjectID}
	case repository.DirectionInbound:
		return []uuid.UUID{edge.SrcObjectID}
	default:
		var out []uuid.UUID
		if !inFrontier[edge.DstObjectID] {
			out = append(out, edge.DstObjectID)
		}
		if !inFrontier[edge.SrcObjectID] {
			out = append(out, edge.SrcObjectID)
		}
		if len(out) == 0 {
			// Both endpoints in the frontier; keep the destination so
			// the connecting edge is still reported.
			out = append(out, edge.DstObjectID)
		}
		return out
	}
}

// expandState accumulates the subgraph and enforces the node/edge caps
type expandState struct {
	dedupe     Dedupe
	limitNodes int
	limitEdges int

	nodes []*models.VersionedObject
	edges []*models.Relationship

	seenNodes map[uuid.UUID]bool
	seenEdges map[uuid.UUID]bool
	seenPaths map[string]bool

	depthReached int
	truncated    bool
	overflowType string
}

func newExpandState(dedupe Dedupe, limitNodes, limitEdges int) *expandState {
	return &expandState{
		dedupe:     dedupe,
		limitNodes: limitNodes,
		limitEdges: limitEdges,
		seenNodes:  map[uuid.UUID]bool{},
		seenEdges:  map[uuid.UUID]bool{},
		seenPaths:  map[string]bool{},
	}
}

// shouldVisit reports whether the endpoint reached through edge is new
// under the active dedupe mode
func (st *expandState) shouldVisit(edge *models.Relationship, canonical uuid.UUID) bool {
	switch st.dedupe {
	case DedupePath:
		key := edge.ID.String() + ":" + canonical.String()
		if st.seenPaths[key] {
			return false
		}
		st.seenPaths[key] = true
		return true
	case DedupeEdge:
		return !st.seenEdges[edge.ID]
	default:
		return !st.seenNodes[canonical]
	}
}

func (st *expandState) nodeKnown(canonical uuid.UUID) bool {
	return st.seenNodes[canonical]
}

// addNode accumulates a node, reporting false when the node cap blocks it
func (st *expandState) addNode(node *models.VersionedObject) bool {
	if st.seenNodes[node.CanonicalID] {
		return true
	}
	if len(st.nodes) >= st.limitNodes {
		st.overflow(overflowNodes)
		return false
	}
	st.seenNodes[node.CanonicalID] = true
	st.nodes = append(st.nodes, node)
	return true
}

func (st *expandState) addEdge(edge *models.Relationship) {
	if st.seenEdges[edge.ID] {
		return
	}
	st.seenEdges[edge.ID] = true
	st.edges = append(st.edges, edge)
}

func (st *expandState) edgeBudget() int {
	return st.limitEdges - len(st.edges)
}

func (st *expandState) overflow(kind string) {
	if !st.truncated {
		st.truncated = true
		st.overflowType = kind
	}
}

func (st *expandState) markDepth(depth int) {
	if depth > st.depthReached {
		st.depthReached = depth
	}
}

func (st *expandState) result() *ExpandResult {
	nodes := st.nodes
	if nodes == nil {
		nodes = []*models.VersionedObject{}
	}
	edges := st.edges
	if edges == nil {
		edges = []*models.Relationship{}
	}
	return &ExpandResult{
		Nodes: nodes,
		Edges: edges,
		Meta: ExpandMeta{
			DepthReached:  st.depthReached,
			Truncated:     st.truncated,
			OverflowType:  st.overflowType,
			NodesReturned: len(nodes),
			EdgesReturned: len(edges),
		},
	}
}

// filterEvaluator compiles and caches CEL filter programs
type filterEvaluator struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

func newFilterEvaluator() *filterEvaluator {
	return &filterEvaluator{cache: make(map[string]cel.Program)}
}

// compile returns a cached program for expr, or nil for an empty filter
func (f *filterEvaluator) compile(variable, expr string) (cel.Program, error) {
	if expr == "" {
		return nil, nil
	}

	key := variable + ":" + expr
	f.mu.RLock()
	prg, exists := f.cache[key]
	f.mu.RUnlock()
	if exists {
		return prg, nil
	}

	env, err := cel.NewEnv(cel.Variable(variable, cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}
	prg, err = env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build program: %w", err)
	}

	f.mu.Lock()
	f.cache[key] = prg
	f.mu.Unlock()
	return prg, nil
}

func (f *filterEvaluator) evalNode(prg cel.Program, node *models.VersionedObject) (bool, error) {
	if prg == nil {
		return true, nil
	}
	return f.eval(prg, map[string]any{
		"node": map[string]any{
			"type":       node.Type,
			"properties": node.Properties,
		},
	})
}

func (f *filterEvaluator) evalEdge(prg cel.Program, edge *models.Relationship) (bool, error) {
	if prg == nil {
		return true, nil
	}
	props := edge.Properties
	if props == nil {
		props = map[string]any{}
	}
	return f.eval(prg, map[string]any{
		"edge": map[string]any{
			"type":       edge.Type,
			"properties": props,
		},
	})
}

func (f *filterEvaluator) eval(prg cel.Program, input map[string]any) (bool, error) {
	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter did not return a boolean, got %T", out.Value())
	}
	return result, nil
}

func clamp(v, def, max int) int {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
