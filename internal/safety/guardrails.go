package safety

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/automesh/meshheal/internal/domain"
	"github.com/automesh/meshheal/internal/graph"
	"github.com/automesh/meshheal/internal/logging"
)

// MaxTimeout caps WithTimeout
const MaxTimeout = 2 * time.Minute

// EmergencyStopManager manages the global emergency stop flag. While it is
// triggered no new failure may be injected.
type EmergencyStopManager struct {
	triggered atomic.Bool
	log       logging.Logger
}

// NewEmergencyStopManager creates a new EmergencyStopManager
func NewEmergencyStopManager(log logging.Logger) *EmergencyStopManager {
	if log == nil {
		log = logging.Noop()
	}
	return &EmergencyStopManager{log: log}
}

// Trigger activates the emergency stop
func (esm *EmergencyStopManager) Trigger() {
	esm.triggered.Store(true)
	esm.log.Warn(context.Background(), "emergency stop triggered")
}

// Reset clears the emergency stop, allowing new failures
func (esm *EmergencyStopManager) Reset() {
	esm.triggered.Store(false)
	esm.log.Info(context.Background(), "emergency stop reset")
}

// IsTriggered returns whether emergency stop is active
func (esm *EmergencyStopManager) IsTriggered() bool {
	return esm.triggered.Load()
}

// CheckEmergencyStop returns ErrEmergencyStop if triggered
func (esm *EmergencyStopManager) CheckEmergencyStop() error {
	if esm.triggered.Load() {
		return domain.ErrEmergencyStop
	}
	return nil
}

// WithTimeout runs fn under a deadline clamped to [1ms, MaxTimeout] and
// returns ErrTimeout if fn has not returned by then.
func WithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	d = max(d, time.Millisecond)
	d = min(d, MaxTimeout)

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return domain.ErrTimeout
	}
}

// ValidateBlastRadius checks that the failed ratio does not exceed the limit
func ValidateBlastRadius(failed, total int, maxRatio float64) error {
	if total == 0 {
		return nil
	}
	ratio := float64(failed) / float64(total)
	if ratio > maxRatio {
		return fmt.Errorf("%w: %.1f%% of nodes would be down, max %.1f%%",
			domain.ErrBlastRadiusExceeded, ratio*100, maxRatio*100)
	}
	return nil
}

// ValidateNodeBlastRadius checks that failing nodeID keeps the share of
// failed nodes in g within maxRatio
func ValidateNodeBlastRadius(g *graph.Graph, nodeID string, maxRatio float64) error {
	failed := 0
	for _, n := range g.Nodes() {
		if n.Failed() || n.ID == nodeID {
			failed++
		}
	}
	return ValidateBlastRadius(failed, g.Len(), maxRatio)
}

// RequireConfirmation rejects an unconfirmed failure of a node whose id
// matches pattern. An empty pattern protects nothing.
func RequireConfirmation(nodeID, pattern string, confirmed bool) error {
	if pattern == "" || confirmed {
		return nil
	}
	if matched, _ := filepath.Match(pattern, nodeID); matched {
		return fmt.Errorf("%w: %s matches %q", domain.ErrProtectedNode, nodeID, pattern)
	}
	return nil
}

// ValidateRouterQuorum rejects failing nodeID when it is the last router
// still up. Non-router nodes always pass.
func ValidateRouterQuorum(g *graph.Graph, nodeID string) error {
	n, ok := g.Node(nodeID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownNode, nodeID)
	}
	if n.Kind != domain.KindRouter || n.Failed() {
		return nil
	}
	if g.CountActive(domain.KindRouter) <= 1 {
		return domain.ErrRouterQuorum
	}
	return nil
}
