package safety

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/automesh/meshheal/internal/domain"
	"github.com/automesh/meshheal/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// core is the dual-router, dual-switch diamond
func core(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.New(
		[]domain.Node{
			{ID: "R-A", Kind: domain.KindRouter},
			{ID: "R-B", Kind: domain.KindRouter},
			{ID: "S-C", Kind: domain.KindSwitch},
			{ID: "S-D", Kind: domain.KindSwitch},
		},
		[]domain.Link{
			{ID: "l1", Source: "R-A", Target: "S-C", Kind: domain.LinkCore, Weight: 1},
			{ID: "l2", Source: "R-A", Target: "S-D", Kind: domain.LinkCore, Weight: 1},
			{ID: "l3", Source: "R-B", Target: "S-C", Kind: domain.LinkCore, Weight: 1},
			{ID: "l4", Source: "R-B", Target: "S-D", Kind: domain.LinkCore, Weight: 1},
		},
	)
	require.NoError(t, err)
	return g
}

func TestEmergencyStopManager(t *testing.T) {
	esm := NewEmergencyStopManager(nil)

	assert.False(t, esm.IsTriggered())
	assert.NoError(t, esm.CheckEmergencyStop())

	esm.Trigger()
	assert.True(t, esm.IsTriggered())
	assert.ErrorIs(t, esm.CheckEmergencyStop(), domain.ErrEmergencyStop)

	esm.Reset()
	assert.False(t, esm.IsTriggered())
	assert.NoError(t, esm.CheckEmergencyStop())
}

func TestEmergencyStopConcurrency(t *testing.T) {
	esm := NewEmergencyStopManager(nil)

	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		go func() {
			esm.Trigger()
			_ = esm.IsTriggered()
			esm.Reset()
			_ = esm.CheckEmergencyStop()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 100; i++ {
		<-done
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), time.Second, func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)

	boom := errors.New("boom")
	err = WithTimeout(context.Background(), time.Second, func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestValidateBlastRadius(t *testing.T) {
	tests := []struct {
		name     string
		failed   int
		total    int
		maxRatio float64
		wantErr  bool
	}{
		{"within limit", 1, 4, 0.5, false},
		{"at limit", 2, 4, 0.5, false},
		{"over limit", 3, 4, 0.5, true},
		{"empty topology", 0, 0, 0.5, false},
		{"full allowed", 4, 4, 1.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBlastRadius(tt.failed, tt.total, tt.maxRatio)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrBlastRadiusExceeded)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateNodeBlastRadius(t *testing.T) {
	g := core(t)
	assert.NoError(t, ValidateNodeBlastRadius(g, "S-C", 0.25))

	_, err := g.FailNode("R-A")
	require.NoError(t, err)
	assert.ErrorIs(t, ValidateNodeBlastRadius(g, "S-C", 0.25), domain.ErrBlastRadiusExceeded)
	assert.NoError(t, ValidateNodeBlastRadius(g, "S-C", 0.5))
}

func TestRequireConfirmation(t *testing.T) {
	tests := []struct {
		name      string
		nodeID    string
		pattern   string
		confirmed bool
		wantErr   bool
	}{
		{"no pattern protects nothing", "R-A", "", false, false},
		{"match unconfirmed", "R-A", "R-*", false, true},
		{"match confirmed", "R-A", "R-*", true, false},
		{"no match", "S-C", "R-*", false, false},
		{"exact", "gateway", "gateway", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RequireConfirmation(tt.nodeID, tt.pattern, tt.confirmed)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrProtectedNode)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRouterQuorum(t *testing.T) {
	g := core(t)

	assert.NoError(t, ValidateRouterQuorum(g, "R-A"))
	assert.NoError(t, ValidateRouterQuorum(g, "S-C"))
	assert.ErrorIs(t, ValidateRouterQuorum(g, "ghost"), domain.ErrUnknownNode)

	_, err := g.FailNode("R-A")
	require.NoError(t, err)

	assert.ErrorIs(t, ValidateRouterQuorum(g, "R-B"), domain.ErrRouterQuorum)
	assert.NoError(t, ValidateRouterQuorum(g, "R-A"), "already failed router does not count twice")
	assert.NoError(t, ValidateRouterQuorum(g, "S-D"))
}
