package graph

import "errors"

var (
	// ErrNotConfigured means the backend has no usable storage handle.
	ErrNotConfigured = errors.New("graph: backend not configured")

	// ErrNotFound is returned where an edge or record is expected to exist.
	ErrNotFound = errors.New("graph: not found")

	// ErrIntegrity wraps constraint violations from the storage layer so
	// callers can tell them apart from generic storage failures.
	ErrIntegrity = errors.New("graph: integrity constraint violated")

	// ErrStorageUnavailable wraps connection-level failures. The calling
	// operation fails; callers may retry with backoff.
	ErrStorageUnavailable = errors.New("graph: storage unavailable")

	// ErrMissingInstance means a uid resolved to no entity.
	ErrMissingInstance = errors.New("graph: instance missing")
)
