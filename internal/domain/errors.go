package domain

import "errors"

var (
	// ErrUnknownNode is returned when a node ID does not exist in the graph
	ErrUnknownNode = errors.New("unknown node")

	// ErrUnknownLink is returned when a link ID does not exist in the graph
	ErrUnknownLink = errors.New("unknown link")

	// ErrDuplicateID is returned when two nodes or two links share an ID
	ErrDuplicateID = errors.New("duplicate id")

	// ErrNegativeWeight is returned when a link carries a negative weight
	ErrNegativeWeight = errors.New("negative link weight")

	// ErrEmergencyStop is returned when the emergency stop is active
	ErrEmergencyStop = errors.New("emergency stop is active")

	// ErrBlastRadiusExceeded is returned when too much of the topology would be failed
	ErrBlastRadiusExceeded = errors.New("blast radius exceeded")

	// ErrRouterQuorum is returned when a failure would leave no active router
	ErrRouterQuorum = errors.New("cannot fail the last active router")

	// ErrAlreadyFailed is returned when failing a node or link that is already failed
	ErrAlreadyFailed = errors.New("already failed")

	// ErrNotStarted is returned when the simulation has not been started
	ErrNotStarted = errors.New("simulation not started")

	// ErrInvalidTransition is returned for illegal orchestrator state changes
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrProtectedNode is returned when a protected node is failed without confirmation
	ErrProtectedNode = errors.New("protected node requires confirmation")

	// ErrTimeout is returned when a guarded operation exceeds its deadline
	ErrTimeout = errors.New("operation timed out")

	// ErrRunNotFound is returned when a healing run ID is not found
	ErrRunNotFound = errors.New("healing run not found")
)
