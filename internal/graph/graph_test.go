package graph

import (
	"errors"
	"math"
	"testing"

	"github.com/automesh/meshheal/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(id string, kind domain.NodeKind) domain.Node {
	return domain.Node{ID: id, Kind: kind}
}

func link(id, src, dst string) domain.Link {
	return domain.Link{ID: id, Source: src, Target: dst, Kind: domain.LinkCore, Weight: 1}
}

// diamond: R-A and R-B both reach S-C and S-D, with S-C - S-D cross link
func diamond(t *testing.T) *Graph {
	t.Helper()
	g, err := New(
		[]domain.Node{
			node("R-A", domain.KindRouter), node("R-B", domain.KindRouter),
			node("S-C", domain.KindSwitch), node("S-D", domain.KindSwitch),
		},
		[]domain.Link{
			link("l1", "R-A", "S-C"), link("l2", "R-A", "S-D"),
			link("l3", "R-B", "S-C"), link("l4", "R-B", "S-D"),
			link("l5", "S-C", "S-D"),
		},
	)
	require.NoError(t, err)
	return g
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		nodes   []domain.Node
		links   []domain.Link
		wantErr error
	}{
		{
			name:    "dangling target",
			nodes:   []domain.Node{node("a", domain.KindRouter)},
			links:   []domain.Link{link("l1", "a", "ghost")},
			wantErr: domain.ErrUnknownNode,
		},
		{
			name:    "dangling source",
			nodes:   []domain.Node{node("a", domain.KindRouter)},
			links:   []domain.Link{link("l1", "ghost", "a")},
			wantErr: domain.ErrUnknownNode,
		},
		{
			name:    "duplicate node",
			nodes:   []domain.Node{node("a", domain.KindRouter), node("a", domain.KindSwitch)},
			wantErr: domain.ErrDuplicateID,
		},
		{
			name:    "duplicate link",
			nodes:   []domain.Node{node("a", domain.KindRouter), node("b", domain.KindRouter)},
			links:   []domain.Link{link("l1", "a", "b"), link("l1", "b", "a")},
			wantErr: domain.ErrDuplicateID,
		},
		{
			name:  "negative weight",
			nodes: []domain.Node{node("a", domain.KindRouter), node("b", domain.KindRouter)},
			links: []domain.Link{{ID: "l1", Source: "a", Target: "b", Weight: -1}},
			wantErr: domain.ErrNegativeWeight,
		},
		{
			name:  "nan weight",
			nodes: []domain.Node{node("a", domain.KindRouter), node("b", domain.KindRouter)},
			links: []domain.Link{{ID: "l1", Source: "a", Target: "b", Weight: math.NaN()}},
			wantErr: domain.ErrNegativeWeight,
		},
		{
			name:  "valid",
			nodes: []domain.Node{node("a", domain.KindRouter), node("b", domain.KindRouter)},
			links: []domain.Link{link("l1", "a", "b")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.nodes, tt.links)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Nil(t, g)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.nodes), g.Len())
		})
	}
}

func TestDefaultStatuses(t *testing.T) {
	g := diamond(t)
	n, ok := g.Node("R-A")
	require.True(t, ok)
	assert.Equal(t, domain.StatusNormal, n.Status)

	l, ok := g.Link("l1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusNormal, l.Status)
}

func TestNeighborsOrderAndFilter(t *testing.T) {
	g := diamond(t)

	adj := g.Neighbors("S-C", NeighborFilter{})
	ids := make([]string, 0, len(adj))
	for _, a := range adj {
		ids = append(ids, a.Neighbor)
	}
	assert.Equal(t, []string{"R-A", "R-B", "S-D"}, ids)

	require.NoError(t, g.SetNodeStatus("R-A", domain.StatusFailed))
	require.NoError(t, g.SetLinkStatus("l5", domain.StatusFailed))

	adj = g.Neighbors("S-C", NeighborFilter{ExcludeFailed: true})
	require.Len(t, adj, 1)
	assert.Equal(t, "R-B", adj[0].Neighbor)
	assert.Equal(t, "l3", adj[0].Link.ID)

	// without the filter failed entries are still listed
	assert.Len(t, g.Neighbors("S-C", NeighborFilter{}), 3)
	assert.Nil(t, g.Neighbors("ghost", NeighborFilter{}), "unknown id")
}

func TestFailNodeFailsIncidentLinks(t *testing.T) {
	g := diamond(t)
	require.NoError(t, g.SetLinkStatus("l2", domain.StatusFailed))

	changed, err := g.FailNode("R-A")
	require.NoError(t, err)
	assert.Equal(t, []string{"l1"}, changed, "l2 was already failed")

	for _, l := range g.IncidentLinks("R-A") {
		assert.True(t, l.Failed(), l.ID)
	}
	n, _ := g.Node("R-A")
	assert.True(t, n.Failed())

	_, err = g.FailNode("ghost")
	assert.ErrorIs(t, err, domain.ErrUnknownNode)
}

func TestSetStatusUnknown(t *testing.T) {
	g := diamond(t)
	assert.ErrorIs(t, g.SetNodeStatus("ghost", domain.StatusFailed), domain.ErrUnknownNode)
	assert.ErrorIs(t, g.SetLinkStatus("ghost", domain.StatusFailed), domain.ErrUnknownLink)
}

func TestCloneIsIndependent(t *testing.T) {
	g := diamond(t)
	c := g.Clone()

	_, err := c.FailNode("R-A")
	require.NoError(t, err)

	n, _ := g.Node("R-A")
	assert.False(t, n.Failed(), "original must not change")
	l, _ := g.Link("l1")
	assert.False(t, l.Failed())
	assert.Equal(t, g.NodeIDs(), c.NodeIDs())
}

func TestResetStatuses(t *testing.T) {
	g := diamond(t)
	_, err := g.FailNode("S-C")
	require.NoError(t, err)
	require.NoError(t, g.SetLinkStatus("l4", domain.StatusHealing))

	g.ResetStatuses()
	for _, n := range g.Nodes() {
		assert.Equal(t, domain.StatusNormal, n.Status, n.ID)
	}
	for _, l := range g.Links() {
		assert.Equal(t, domain.StatusNormal, l.Status, l.ID)
	}
}

func TestKindQueries(t *testing.T) {
	g := diamond(t)
	assert.Len(t, g.NodesOfKind(domain.KindRouter), 2)
	assert.Equal(t, 2, g.CountActive(domain.KindRouter))

	_, err := g.FailNode("R-B")
	require.NoError(t, err)
	assert.Equal(t, 1, g.CountActive(domain.KindRouter))
	assert.Equal(t, 0, g.CountActive(domain.KindGateway))
}

func TestTopologyRoundTrip(t *testing.T) {
	g := diamond(t)
	g2, err := FromTopology(g.Topology())
	require.NoError(t, err)
	assert.Equal(t, g.Nodes(), g2.Nodes())
	assert.Equal(t, g.Links(), g2.Links())
}

func TestTopologyKeepsName(t *testing.T) {
	g, err := FromTopology(domain.Topology{
		Name:  "lab",
		Nodes: []domain.Node{node("a", domain.KindRouter)},
	})
	require.NoError(t, err)
	assert.Equal(t, "lab", g.Name())
	assert.Equal(t, "lab", g.Clone().Topology().Name)
}

func TestSetPrimaryUplink(t *testing.T) {
	g := diamond(t)
	require.NoError(t, g.SetPrimaryUplink("S-C", "R-B"))
	n, _ := g.Node("S-C")
	assert.Equal(t, "R-B", n.PrimaryUplink)

	assert.ErrorIs(t, g.SetPrimaryUplink("ghost", "R-B"), domain.ErrUnknownNode)
	assert.ErrorIs(t, g.SetPrimaryUplink("S-C", "ghost"), domain.ErrUnknownNode)
	require.NoError(t, g.SetPrimaryUplink("S-C", ""))
}

func TestLinkBetween(t *testing.T) {
	heavy := link("l1-heavy", "R-A", "S-C")
	heavy.Weight = 5
	g, err := New(
		[]domain.Node{node("R-A", domain.KindRouter), node("S-C", domain.KindSwitch), node("S-D", domain.KindSwitch)},
		[]domain.Link{heavy, link("l1", "R-A", "S-C"), link("l2", "R-A", "S-D")},
	)
	require.NoError(t, err)

	l, ok := g.LinkBetween("S-C", "R-A")
	require.True(t, ok)
	assert.Equal(t, "l1", l.ID, "cheapest parallel link wins")

	require.NoError(t, g.SetLinkStatus("l1", domain.StatusFailed))
	l, ok = g.LinkBetween("R-A", "S-C")
	require.True(t, ok)
	assert.Equal(t, "l1-heavy", l.ID, "failed links are skipped")

	_, ok = g.LinkBetween("S-C", "S-D")
	assert.False(t, ok)
}
