package topology

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/automesh/meshheal/internal/domain"
	"github.com/automesh/meshheal/internal/fallback"
	"github.com/automesh/meshheal/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countKinds(t domain.Topology) map[domain.NodeKind]int {
	out := map[domain.NodeKind]int{}
	for _, n := range t.Nodes {
		out[n.Kind]++
	}
	return out
}

func TestAutomesh(t *testing.T) {
	topo := Automesh()
	require.NoError(t, Validate(topo))

	kinds := countKinds(topo)
	assert.Equal(t, 2, kinds[domain.KindRouter])
	assert.Equal(t, 2, kinds[domain.KindSwitch])
	assert.Equal(t, 30, kinds[domain.KindAccessPoint])
	assert.Equal(t, 100, kinds[domain.KindDevice])

	redundant := 0
	for _, l := range topo.Links {
		if l.Redundant {
			redundant++
			assert.Equal(t, domain.LinkCore, l.Kind)
		}
	}
	assert.Equal(t, 4, redundant)

	g, err := graph.FromTopology(topo)
	require.NoError(t, err)
	for _, dev := range g.NodesOfKind(domain.KindDevice) {
		require.NotEmpty(t, dev.PrimaryUplink, dev.ID)
		path := fallback.BuildFallbackPath(g, dev.ID)
		assert.True(t, fallback.IsComplete(g, path), "%s: %v", dev.ID, path)
	}
	assert.True(t, g.Health().Connected)
}

func TestCampus(t *testing.T) {
	topo := Campus(CampusSeed)
	require.NoError(t, Validate(topo))

	kinds := countKinds(topo)
	assert.Equal(t, 1, kinds[domain.KindGateway])
	assert.Equal(t, 1, kinds[domain.KindFirewall])
	assert.Equal(t, 2, kinds[domain.KindRouter])
	assert.Equal(t, 4, kinds[domain.KindSwitch])
	assert.Equal(t, 24, kinds[domain.KindAccessPoint])
	assert.GreaterOrEqual(t, kinds[domain.KindDevice], 24*4)
	assert.LessOrEqual(t, kinds[domain.KindDevice], 24*5)

	g, err := graph.FromTopology(topo)
	require.NoError(t, err)
	assert.True(t, g.Health().Connected)

	_, ok := g.Link("cross-mesh-0")
	assert.True(t, ok)
}

func TestCampusDeterministic(t *testing.T) {
	assert.Equal(t, Campus(7), Campus(7))
	assert.Equal(t, Campus(CampusSeed), Campus(CampusSeed))
}

func TestPreset(t *testing.T) {
	for _, name := range Presets() {
		topo, ok := Preset(name)
		require.True(t, ok)
		assert.Equal(t, name, topo.Name)
	}
	_, ok := Preset("nope")
	assert.False(t, ok)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, topo domain.Topology)
	}{
		{
			name: "weight defaults to one",
			yaml: `
name: tiny
nodes:
  - {id: a, kind: router}
  - {id: b, kind: switch}
  - {id: c, kind: switch}
links:
  - {id: ab, source: a, target: b, kind: distribution}
  - {id: bc, source: b, target: c, kind: mesh, weight: 0}
`,
			check: func(t *testing.T, topo domain.Topology) {
				assert.Equal(t, "tiny", topo.Name)
				assert.Equal(t, 1.0, topo.Links[0].Weight)
				assert.Equal(t, 0.0, topo.Links[1].Weight)
			},
		},
		{
			name:    "unknown node kind",
			yaml:    "nodes:\n  - {id: a, kind: satellite}\n",
			wantErr: true,
		},
		{
			name:    "no nodes",
			yaml:    "name: empty\n",
			wantErr: true,
		},
		{
			name: "self loop",
			yaml: `
nodes:
  - {id: a, kind: router}
links:
  - {id: aa, source: a, target: a, kind: mesh}
`,
			wantErr: true,
		},
		{
			name: "dangling endpoint",
			yaml: `
nodes:
  - {id: a, kind: router}
links:
  - {id: ax, source: a, target: x, kind: mesh}
`,
			wantErr: true,
		},
		{
			name: "negative weight",
			yaml: `
nodes:
  - {id: a, kind: router}
  - {id: b, kind: router}
links:
  - {id: ab, source: a, target: b, kind: mesh, weight: -2}
`,
			wantErr: true,
		},
		{
			name:    "malformed yaml",
			yaml:    "nodes: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo, err := Parse([]byte(tt.yaml))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTopology)
				return
			}
			require.NoError(t, err)
			tt.check(t, topo)
		})
	}
}

func TestLoad(t *testing.T) {
	topo, err := Load(PresetAutomesh)
	require.NoError(t, err)
	assert.Equal(t, PresetAutomesh, topo.Name)

	path := filepath.Join(t.TempDir(), "net.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nodes:\n  - {id: solo, kind: gateway}\n"), 0o600))
	topo, err = Load(path)
	require.NoError(t, err)
	assert.Len(t, topo.Nodes, 1)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
