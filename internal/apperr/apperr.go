// Package apperr defines the sentinel error classes shared across services
// and mapped to HTTP statuses at the server boundary.
package apperr

import "errors"

var (
	// ErrValidation covers bad input shape or an empty required field.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a session, message, or setting is absent.
	ErrNotFound = errors.New("not found")

	// ErrNotARepository is returned when a directory is not a git repository.
	ErrNotARepository = errors.New("not a git repository")

	// ErrNoCommits is returned for branch operations against a repository
	// with zero commits. Callers must not conflate this with ErrNotARepository.
	ErrNoCommits = errors.New("repository has no commits")

	// ErrBranchExists is returned when a branch name is already taken.
	ErrBranchExists = errors.New("branch already exists")

	// ErrWorkspaceMissing signals that a session's workspace directory no
	// longer exists on disk.
	ErrWorkspaceMissing = errors.New("session workspace is missing")

	// ErrMergeConflict is returned when a merge cannot complete cleanly.
	ErrMergeConflict = errors.New("merge conflict detected")

	// ErrBackendCapacity means the model backend rate-limited the request.
	// Callers may retry later; the service never retries internally.
	ErrBackendCapacity = errors.New("model backend is rate limited")

	// ErrBackendTransport means the model backend was unreachable or the
	// stream broke mid-generation.
	ErrBackendTransport = errors.New("model backend transport failure")

	// ErrBackendRejected means the model backend rejected the request as
	// malformed, distinct from transport failures.
	ErrBackendRejected = errors.New("model backend rejected the request")
)
