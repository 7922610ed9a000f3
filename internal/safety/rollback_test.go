package safety

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopUndo() (map[string]any, error) { return nil, nil }

func TestRollbackManagerPushAndSize(t *testing.T) {
	rm := NewRollbackManager(nil)

	assert.Equal(t, 0, rm.StackSize("run-1"))

	rm.Push("run-1", noopUndo, "fail R-A")
	rm.Push("run-1", noopUndo, "fail l1")

	assert.Equal(t, 2, rm.StackSize("run-1"))
	assert.Equal(t, 0, rm.StackSize("run-2"))
}

func TestRollbackManagerLIFOOrder(t *testing.T) {
	rm := NewRollbackManager(nil)
	var order []string

	for _, step := range []string{"first", "second", "third"} {
		rm.Push("run-1", func() (map[string]any, error) {
			order = append(order, step)
			return map[string]any{"step": step}, nil
		}, step)
	}

	results := rm.Rollback("run-1")

	require.Len(t, results, 3)
	assert.Equal(t, []string{"third", "second", "first"}, order)
	assert.Equal(t, "third", results[0].Description)
	assert.Equal(t, RollbackSuccess, results[0].Status)
	assert.Equal(t, "third", results[0].Result["step"])
	assert.Equal(t, 0, rm.StackSize("run-1"))
}

func TestRollbackManagerContinuesPastFailure(t *testing.T) {
	rm := NewRollbackManager(nil)
	ran := false

	rm.Push("run-1", func() (map[string]any, error) {
		ran = true
		return nil, nil
	}, "bottom")
	rm.Push("run-1", func() (map[string]any, error) {
		return nil, errors.New("node vanished")
	}, "top")

	results := rm.Rollback("run-1")

	require.Len(t, results, 2)
	assert.Equal(t, RollbackFailed, results[0].Status)
	assert.Equal(t, "node vanished", results[0].Error)
	assert.Equal(t, RollbackSuccess, results[1].Status)
	assert.True(t, ran)
}

func TestRollbackManagerEmpty(t *testing.T) {
	rm := NewRollbackManager(nil)
	assert.Empty(t, rm.Rollback("nothing"))
}

func TestRollbackAllAndActiveRuns(t *testing.T) {
	rm := NewRollbackManager(nil)
	rm.Push("run-b", noopUndo, "b")
	rm.Push("run-a", noopUndo, "a1")
	rm.Push("run-a", noopUndo, "a2")

	assert.Equal(t, []string{"run-a", "run-b"}, rm.ActiveRuns())

	all := rm.RollbackAll()
	assert.Len(t, all["run-a"], 2)
	assert.Len(t, all["run-b"], 1)
	assert.Empty(t, rm.ActiveRuns())
}

func TestRollbackDiscard(t *testing.T) {
	rm := NewRollbackManager(nil)
	called := false
	rm.Push("run-1", func() (map[string]any, error) {
		called = true
		return nil, nil
	}, "x")

	rm.Discard("run-1")
	assert.Empty(t, rm.Rollback("run-1"))
	assert.False(t, called)
}
