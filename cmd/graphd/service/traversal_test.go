package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stratahq/strata/cmd/graphd/repository"
	"github.com/stratahq/strata/common/apperror"
	"github.com/stratahq/strata/common/config"
	"github.com/stratahq/strata/common/models"
)

func testTraversalConfig() config.TraversalConfig {
	return config.TraversalConfig{
		MaxDepth:     6,
		DefaultDepth: 2,
		MaxNodes:     10000,
		DefaultNodes: 1000,
		MaxEdges:     50000,
		MaxPhases:    5,
		MaxRoots:     100,
	}
}

func newTraversalFixture() *TraversalService {
	return NewTraversalService(nil, nil, nil, testTraversalConfig(), testLogger())
}

func TestExpandRejectsBadRequests(t *testing.T) {
	svc := newTraversalFixture()
	ctx := scopedCtx()
	root := uuid.New()

	cases := []struct {
		name string
		req  ExpandRequest
	}{
		{"no roots", ExpandRequest{}},
		{"too many roots", ExpandRequest{Roots: make([]uuid.UUID, 101)}},
		{"too many phases", ExpandRequest{Roots: []uuid.UUID{root}, Phases: make([]ExpandPhase, 6)}},
		{"bad direction", ExpandRequest{Roots: []uuid.UUID{root}, Direction: "sideways"}},
		{"bad dedupe", ExpandRequest{Roots: []uuid.UUID{root}, Dedupe: "never"}},
		{"bad node filter", ExpandRequest{Roots: []uuid.UUID{root}, Filters: ExpandFilters{Node: "node.type ==="}}},
		{"bad edge filter", ExpandRequest{Roots: []uuid.UUID{root}, Filters: ExpandFilters{Edge: "edge..type"}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Expand(ctx, tc.req)
			if err == nil {
				t.Fatal("expected error")
			}
			var appErr *apperror.Error
			if !errors.As(err, &appErr) || appErr.HTTPStatus != 400 {
				t.Fatalf("expected bad request, got %v", err)
			}
		})
	}
}

func TestClamp(t *testing.T) {
	if got := clamp(0, 2, 6); got != 2 {
		t.Fatalf("zero should take default, got %d", got)
	}
	if got := clamp(10, 2, 6); got != 6 {
		t.Fatalf("over-max should clamp, got %d", got)
	}
	if got := clamp(4, 2, 6); got != 4 {
		t.Fatalf("in-range should pass through, got %d", got)
	}
	if got := clamp(-1, 2, 6); got != 2 {
		t.Fatalf("negative should take default, got %d", got)
	}
}

func TestExpandStateNodeCapSetsOverflow(t *testing.T) {
	st := newExpandState(DedupeNode, 2, 100)

	for i := 0; i < 3; i++ {
		st.addNode(&models.VersionedObject{ID: uuid.New(), CanonicalID: uuid.New()})
	}

	result := st.result()
	if len(result.Nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(result.Nodes))
	}
	if !result.Meta.Truncated || result.Meta.OverflowType != "nodes" {
		t.Fatalf("meta = %+v, want truncated with nodes overflow", result.Meta)
	}
}

func TestExpandStateNodeDedupe(t *testing.T) {
	st := newExpandState(DedupeNode, 100, 100)
	canonical := uuid.New()
	node := &models.VersionedObject{ID: uuid.New(), CanonicalID: canonical}

	st.addNode(node)
	st.addNode(node)

	if len(st.result().Nodes) != 1 {
		t.Fatalf("duplicate canonical admitted twice")
	}

	edge := &models.Relationship{ID: uuid.New()}
	if st.shouldVisit(edge, canonical) {
		t.Fatal("node dedupe should suppress revisits")
	}
}

func TestExpandStatePathDedupe(t *testing.T) {
	st := newExpandState(DedupePath, 100, 100)
	canonical := uuid.New()
	st.seenNodes[canonical] = true

	edgeA := &models.Relationship{ID: uuid.New()}
	edgeB := &models.Relationship{ID: uuid.New()}

	if !st.shouldVisit(edgeA, canonical) {
		t.Fatal("first visit through edge A should pass")
	}
	if st.shouldVisit(edgeA, canonical) {
		t.Fatal("repeat visit through edge A should be suppressed")
	}
	if !st.shouldVisit(edgeB, canonical) {
		t.Fatal("visit through a different edge should pass in path mode")
	}
}

func TestExpandStateEdgeDedupe(t *testing.T) {
	st := newExpandState(DedupeNode, 100, 100)
	edge := &models.Relationship{ID: uuid.New()}

	st.addEdge(edge)
	st.addEdge(edge)

	if len(st.result().Edges) != 1 {
		t.Fatal("duplicate edge accumulated twice")
	}
}

func TestFarEndpoints(t *testing.T) {
	src, dst := uuid.New(), uuid.New()
	edge := &models.Relationship{SrcObjectID: src, DstObjectID: dst}

	if got := farEndpoints(edge, repository.DirectionOutbound, nil); len(got) != 1 || got[0] != dst {
		t.Fatalf("outbound endpoints = %v", got)
	}
	if got := farEndpoints(edge, repository.DirectionInbound, nil); len(got) != 1 || got[0] != src {
		t.Fatalf("inbound endpoints = %v", got)
	}

	frontier := map[uuid.UUID]bool{src: true}
	if got := farEndpoints(edge, repository.DirectionBoth, frontier); len(got) != 1 || got[0] != dst {
		t.Fatalf("both-direction endpoints = %v, want far side only", got)
	}
}

func TestFilterEvaluator(t *testing.T) {
	f := newFilterEvaluator()

	prg, err := f.compile("node", `node.type == "decision"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	keep, err := f.evalNode(prg, &models.VersionedObject{Type: "decision"})
	if err != nil || !keep {
		t.Fatalf("matching node rejected: keep=%v err=%v", keep, err)
	}
	keep, err = f.evalNode(prg, &models.VersionedObject{Type: "market"})
	if err != nil || keep {
		t.Fatalf("non-matching node kept: keep=%v err=%v", keep, err)
	}

	// Empty filter compiles to nil and admits everything.
	prg, err = f.compile("node", "")
	if err != nil || prg != nil {
		t.Fatalf("empty filter: prg=%v err=%v", prg, err)
	}
	keep, err = f.evalNode(nil, &models.VersionedObject{Type: "anything"})
	if err != nil || !keep {
		t.Fatalf("nil program should admit: keep=%v err=%v", keep, err)
	}
}

func TestFilterEvaluatorPropertiesAccess(t *testing.T) {
	f := newFilterEvaluator()

	prg, err := f.compile("edge", `edge.properties.weight > 0.5`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	keep, err := f.evalEdge(prg, &models.Relationship{
		Type:       "influences",
		Properties: map[string]any{"weight": 0.9},
	})
	if err != nil || !keep {
		t.Fatalf("matching edge rejected: keep=%v err=%v", keep, err)
	}
}

func TestExpandStateEdgeDedupeAllowsRevisitThroughNewEdge(t *testing.T) {
	st := newExpandState(DedupeEdge, 100, 100)
	canonical := uuid.New()
	st.seenNodes[canonical] = true

	edgeA := &models.Relationship{ID: uuid.New()}
	edgeB := &models.Relationship{ID: uuid.New()}

	if !st.shouldVisit(edgeA, canonical) {
		t.Fatal("seen node should be revisitable through an unseen edge")
	}
	st.addEdge(edgeA)
	if st.shouldVisit(edgeA, canonical) {
		t.Fatal("revisit through an already-seen edge should be suppressed")
	}
	if !st.shouldVisit(edgeB, canonical) {
		t.Fatal("a second fresh edge should still pass")
	}
}

// fakeGraph backs the traversal with an in-memory head map and edge
// list, standing in for the object and relationship repositories.
type fakeGraph struct {
	branch *models.Branch
	heads  map[uuid.UUID]*models.VersionedObject
	edges  []*models.Relationship
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		branch: &models.Branch{ID: uuid.New(), Name: "main"},
		heads:  map[uuid.UUID]*models.VersionedObject{},
	}
}

func (g *fakeGraph) node(objectType string) uuid.UUID {
	canonical := uuid.New()
	g.heads[canonical] = &models.VersionedObject{
		ID:          uuid.New(),
		CanonicalID: canonical,
		BranchID:    g.branch.ID,
		Type:        objectType,
		Version:     1,
		Properties:  map[string]any{},
	}
	return canonical
}

func (g *fakeGraph) edge(relType string, src, dst uuid.UUID) {
	g.edges = append(g.edges, &models.Relationship{
		ID:          uuid.New(),
		Type:        relType,
		SrcObjectID: src,
		DstObjectID: dst,
	})
}

func (g *fakeGraph) GetHeads(_ context.Context, _ uuid.UUID, canonicalIDs []uuid.UUID) (map[uuid.UUID]*models.VersionedObject, error) {
	out := map[uuid.UUID]*models.VersionedObject{}
	for _, id := range canonicalIDs {
		if head, ok := g.heads[id]; ok {
			out[id] = head
		}
	}
	return out, nil
}

func (g *fakeGraph) ListNeighbors(_ context.Context, frontier []uuid.UUID, direction repository.Direction, edgeTypes []string, limit int) ([]*models.Relationship, error) {
	in := map[uuid.UUID]bool{}
	for _, id := range frontier {
		in[id] = true
	}

	var out []*models.Relationship
	for _, e := range g.edges {
		if len(edgeTypes) > 0 && !containsString(edgeTypes, e.Type) {
			continue
		}
		var touches bool
		switch direction {
		case repository.DirectionOutbound:
			touches = in[e.SrcObjectID]
		case repository.DirectionInbound:
			touches = in[e.DstObjectID]
		default:
			touches = in[e.SrcObjectID] || in[e.DstObjectID]
		}
		if !touches {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (g *fakeGraph) Resolve(context.Context, *uuid.UUID) (*models.Branch, error) {
	return g.branch, nil
}

func newFakeTraversal(g *fakeGraph) *TraversalService {
	return NewTraversalService(g, g, g, testTraversalConfig(), testLogger())
}

func TestExpandInboundDecidesEdge(t *testing.T) {
	g := newFakeGraph()
	decision := g.node("decision")
	meeting := g.node("meeting")
	g.edge("decides", meeting, decision)

	svc := newFakeTraversal(g)
	result, err := svc.Expand(scopedCtx(), ExpandRequest{
		Roots:     []uuid.UUID{decision},
		Direction: repository.DirectionInbound,
		EdgeTypes: []string{"decides"},
		MaxDepth:  1,
	})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}

	if result.Meta.Truncated {
		t.Fatal("two-node expansion should not truncate")
	}
	if result.Meta.NodesReturned != 2 || result.Meta.EdgesReturned != 1 {
		t.Fatalf("nodes=%d edges=%d, want 2 and 1", result.Meta.NodesReturned, result.Meta.EdgesReturned)
	}

	got := map[uuid.UUID]bool{}
	for _, n := range result.Nodes {
		got[n.CanonicalID] = true
	}
	if !got[decision] || !got[meeting] {
		t.Fatalf("expected decision and meeting, got %v", got)
	}
	if result.Edges[0].Type != "decides" {
		t.Fatalf("edge type = %q", result.Edges[0].Type)
	}
}

func TestExpandNodeCapTruncates(t *testing.T) {
	g := newFakeGraph()
	root := g.node("decision")
	for i := 0; i < 10; i++ {
		child := g.node("driver")
		g.edge("influenced_by", root, child)
	}

	svc := newFakeTraversal(g)
	result, err := svc.Expand(scopedCtx(), ExpandRequest{
		Roots:      []uuid.UUID{root},
		Direction:  repository.DirectionOutbound,
		MaxDepth:   2,
		LimitNodes: 5,
	})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}

	if result.Meta.NodesReturned > 5 {
		t.Fatalf("node cap exceeded: %d", result.Meta.NodesReturned)
	}
	if !result.Meta.Truncated || result.Meta.OverflowType != "nodes" {
		t.Fatalf("meta = %+v, want node-bound truncation", result.Meta)
	}
}

func TestExpandCycleTerminates(t *testing.T) {
	g := newFakeGraph()
	a := g.node("decision")
	b := g.node("decision")
	g.edge("relates_to", a, b)
	g.edge("relates_to", b, a)

	svc := newFakeTraversal(g)
	result, err := svc.Expand(scopedCtx(), ExpandRequest{
		Roots:     []uuid.UUID{a},
		Direction: repository.DirectionOutbound,
		MaxDepth:  6,
	})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}

	if result.Meta.NodesReturned != 2 {
		t.Fatalf("cycle admitted %d nodes, want 2", result.Meta.NodesReturned)
	}
	if result.Meta.Truncated {
		t.Fatal("cycle should terminate without truncation")
	}
}

func TestExpandPhases(t *testing.T) {
	g := newFakeGraph()
	decision := g.node("decision")
	meeting := g.node("meeting")
	alice := g.node("person")
	bob := g.node("person")
	g.edge("decides", meeting, decision)
	g.edge("attended", alice, meeting)
	g.edge("attended", bob, meeting)

	svc := newFakeTraversal(g)
	result, err := svc.Expand(scopedCtx(), ExpandRequest{
		Roots:     []uuid.UUID{decision},
		Direction: repository.DirectionInbound,
		Phases: []ExpandPhase{
			{EdgeTypes: []string{"decides"}},
			{EdgeTypes: []string{"attended"}},
		},
	})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}

	got := map[uuid.UUID]bool{}
	for _, n := range result.Nodes {
		got[n.CanonicalID] = true
	}
	for _, want := range []uuid.UUID{decision, meeting, alice, bob} {
		if !got[want] {
			t.Fatalf("phased expansion missing a node, got %d of 4", len(got))
		}
	}
}

func TestExpandPhasesShortCircuitOnEmptyFrontier(t *testing.T) {
	g := newFakeGraph()
	decision := g.node("decision")
	alice := g.node("person")
	g.edge("attended", alice, decision)

	svc := newFakeTraversal(g)
	result, err := svc.Expand(scopedCtx(), ExpandRequest{
		Roots:     []uuid.UUID{decision},
		Direction: repository.DirectionInbound,
		Phases: []ExpandPhase{
			{EdgeTypes: []string{"decides"}},
			{EdgeTypes: []string{"attended"}},
		},
	})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}

	if result.Meta.NodesReturned != 1 {
		t.Fatalf("empty first phase should stop the sequence, got %d nodes", result.Meta.NodesReturned)
	}
}
