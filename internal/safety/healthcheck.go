package safety

import (
	"context"
	"sync"
	"time"

	"github.com/automesh/meshheal/internal/logging"
)

// DefaultProbeTimeout bounds a single probe execution inside the loop
const DefaultProbeTimeout = 5 * time.Second

// HealthProbe is the interface health check probes must implement
type HealthProbe interface {
	Execute(ctx context.Context) (passed bool, err error)
	Name() string
}

// HealthCheckLoop polls probes while a run is active and triggers rollback
// once consecutive failures reach the threshold
type HealthCheckLoop struct {
	runID            string
	probes           []HealthProbe
	interval         time.Duration
	failureThreshold int
	onFailure        func(runID string)
	rollbackMgr      *RollbackManager
	log              logging.Logger

	mu                  sync.Mutex
	consecutiveFailures int
	running             bool
	cancel              context.CancelFunc
	done                chan struct{}
}

// NewHealthCheckLoop creates a new health check loop
func NewHealthCheckLoop(
	runID string,
	probes []HealthProbe,
	interval time.Duration,
	failureThreshold int,
	rollbackMgr *RollbackManager,
	log logging.Logger,
) *HealthCheckLoop {
	if log == nil {
		log = logging.Noop()
	}
	return &HealthCheckLoop{
		runID:            runID,
		probes:           probes,
		interval:         interval,
		failureThreshold: max(failureThreshold, 1),
		rollbackMgr:      rollbackMgr,
		log:              log.With(logging.String("run_id", runID)),
	}
}

// OnFailure replaces the default rollback with fn
func (hc *HealthCheckLoop) OnFailure(fn func(runID string)) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.onFailure = fn
}

// Start begins polling in a goroutine
func (hc *HealthCheckLoop) Start() {
	hc.mu.Lock()
	if hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = true
	hc.consecutiveFailures = 0

	ctx, cancel := context.WithCancel(context.Background())
	hc.cancel = cancel
	hc.done = make(chan struct{})
	done := hc.done
	hc.mu.Unlock()

	hc.log.Info(ctx, "health check loop started",
		logging.Duration("interval", hc.interval),
		logging.Int("threshold", hc.failureThreshold))

	go func() {
		defer close(done)
		hc.run(ctx)
	}()
}

// Stop halts the loop and waits for it to exit
func (hc *HealthCheckLoop) Stop() {
	hc.mu.Lock()
	if !hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = false
	hc.cancel()
	done := hc.done
	hc.mu.Unlock()

	<-done
	hc.log.Info(context.Background(), "health check loop stopped")
}

// IsRunning returns whether the loop is currently active
func (hc *HealthCheckLoop) IsRunning() bool {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.running
}

// ConsecutiveFailures returns the current failure streak
func (hc *HealthCheckLoop) ConsecutiveFailures() int {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.consecutiveFailures
}

func (hc *HealthCheckLoop) run(ctx context.Context) {
	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if hc.Tick(ctx) {
				return
			}
		}
	}
}

// Tick runs one round of probes and reports whether the threshold was
// reached, in which case the failure action has run and the loop is done
func (hc *HealthCheckLoop) Tick(ctx context.Context) bool {
	passed := hc.checkProbes(ctx)

	hc.mu.Lock()
	if passed {
		hc.consecutiveFailures = 0
		hc.mu.Unlock()
		return false
	}
	hc.consecutiveFailures++
	streak := hc.consecutiveFailures
	onFailure := hc.onFailure
	hc.mu.Unlock()

	hc.log.Warn(ctx, "health check failed",
		logging.Int("streak", streak),
		logging.Int("threshold", hc.failureThreshold))

	if streak < hc.failureThreshold {
		return false
	}

	// Mark stopped first so a failure action that calls Stop returns
	// immediately instead of waiting on this goroutine.
	hc.mu.Lock()
	hc.running = false
	if hc.cancel != nil {
		hc.cancel()
	}
	hc.mu.Unlock()

	hc.log.Error(ctx, "health check threshold reached, rolling back")
	switch {
	case onFailure != nil:
		onFailure(hc.runID)
	case hc.rollbackMgr != nil:
		hc.rollbackMgr.Rollback(hc.runID)
	}
	return true
}

func (hc *HealthCheckLoop) checkProbes(ctx context.Context) bool {
	for _, probe := range hc.probes {
		var passed bool
		err := WithTimeout(ctx, DefaultProbeTimeout, func(ctx context.Context) error {
			var err error
			passed, err = probe.Execute(ctx)
			return err
		})
		if err != nil || !passed {
			hc.log.Debug(ctx, "probe did not pass", logging.String("probe", probe.Name()))
			return false
		}
	}
	return true
}
