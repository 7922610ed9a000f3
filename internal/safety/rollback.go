package safety

import (
	"context"
	"slices"
	"sync"

	"github.com/automesh/meshheal/internal/domain"
	"github.com/automesh/meshheal/internal/logging"
)

// Rollback outcome statuses
const (
	RollbackSuccess = "success"
	RollbackFailed  = "failed"
)

type undo struct {
	description string
	fn          domain.RollbackFunc
}

// RollbackResult describes the outcome of a single undo
type RollbackResult struct {
	Description string         `json:"description"`
	Status      string         `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// RollbackManager keeps a LIFO undo stack per healing run. Every injected
// failure pushes the function that reverts it.
type RollbackManager struct {
	mu     sync.Mutex
	stacks map[string][]undo
	log    logging.Logger
}

// NewRollbackManager creates a new RollbackManager
func NewRollbackManager(log logging.Logger) *RollbackManager {
	if log == nil {
		log = logging.Noop()
	}
	return &RollbackManager{
		stacks: make(map[string][]undo),
		log:    log,
	}
}

// Push adds an undo function to the run's stack
func (rm *RollbackManager) Push(runID string, fn domain.RollbackFunc, description string) {
	rm.mu.Lock()
	rm.stacks[runID] = append(rm.stacks[runID], undo{description: description, fn: fn})
	size := len(rm.stacks[runID])
	rm.mu.Unlock()

	rm.log.Debug(context.Background(), "rollback pushed",
		logging.String("run_id", runID),
		logging.String("description", description),
		logging.Int("stack_size", size))
}

// Rollback pops and runs every undo for runID, newest first. A failing
// undo does not stop the ones beneath it.
func (rm *RollbackManager) Rollback(runID string) []RollbackResult {
	rm.mu.Lock()
	stack := rm.stacks[runID]
	delete(rm.stacks, runID)
	rm.mu.Unlock()

	results := make([]RollbackResult, 0, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		entry := stack[i]
		out, err := entry.fn()
		if err != nil {
			results = append(results, RollbackResult{
				Description: entry.description,
				Status:      RollbackFailed,
				Error:       err.Error(),
			})
			rm.log.Error(context.Background(), "rollback failed",
				logging.String("run_id", runID),
				logging.String("description", entry.description),
				logging.Err(err))
			continue
		}
		results = append(results, RollbackResult{
			Description: entry.description,
			Status:      RollbackSuccess,
			Result:      out,
		})
	}
	return results
}

// RollbackAll rolls back every run with pending undos
func (rm *RollbackManager) RollbackAll() map[string][]RollbackResult {
	all := make(map[string][]RollbackResult)
	for _, id := range rm.ActiveRuns() {
		all[id] = rm.Rollback(id)
	}
	return all
}

// StackSize returns the number of pending undos for a run
func (rm *RollbackManager) StackSize(runID string) int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.stacks[runID])
}

// Discard drops a run's undos without running them
func (rm *RollbackManager) Discard(runID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.stacks, runID)
}

// ActiveRuns returns the sorted IDs of runs with pending undos
func (rm *RollbackManager) ActiveRuns() []string {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	ids := make([]string, 0, len(rm.stacks))
	for id := range rm.stacks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
