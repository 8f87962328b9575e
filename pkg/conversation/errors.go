package conversation

import "github.com/pkg/errors"

// Error taxonomy shared by the store, the navigator and the orchestrator.
// All of these are sentinels meant to be matched with errors.Is; callers wrap
// them with additional context.
var (
	// ErrNotFound indicates a referenced session or node does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState indicates an operation that is illegal for the node's
	// current lifecycle state, e.g. appending content to a sealed node.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidRole indicates a structurally wrong node type for an
	// operation, e.g. regenerating a user node.
	ErrInvalidRole = errors.New("invalid role")

	// ErrConflict indicates racing seal attempts with divergent content.
	ErrConflict = errors.New("conflicting seal")

	// ErrCorruptTree indicates a cycle or dangling parent reference. This
	// must never occur under correct operation and is surfaced loudly.
	ErrCorruptTree = errors.New("corrupt conversation tree")

	// ErrEmptyTree indicates a session without any nodes.
	ErrEmptyTree = errors.New("empty tree")

	// ErrBackendFailure indicates a model backend error or disconnect
	// mid-stream.
	ErrBackendFailure = errors.New("backend failure")
)
