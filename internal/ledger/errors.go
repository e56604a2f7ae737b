package ledger

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a ServiceError for callers.
type ErrorKind string

const (
	// KindNotFound marks a missing game, player or audit entry.
	KindNotFound ErrorKind = "not_found"
	// KindValidation marks malformed input rejected before any write.
	KindValidation ErrorKind = "validation"
	// KindConflict marks a state transition that is no longer allowed.
	KindConflict ErrorKind = "conflict"
	// KindInternal marks storage or programming failures.
	KindInternal ErrorKind = "internal"
)

const internalErrorMessage = "internal error"

var (
	// ErrGameNotFound indicates that no game matches the identifier.
	ErrGameNotFound = errors.New("game not found")
	// ErrPlayerNotFound indicates that the player does not exist in the game.
	ErrPlayerNotFound = errors.New("player not found in game")
	// ErrEntryNotFound indicates that no audit entry matches the identifier in the game.
	ErrEntryNotFound = errors.New("audit entry not found")
	// ErrGameCompleted indicates that the game already reached its terminal state.
	ErrGameCompleted = errors.New("game already completed")
	// ErrWinnerNotInGame indicates that the declared winner is not a player of the game.
	ErrWinnerNotInGame = errors.New("winner player not found in game")
	// ErrNoChanges indicates that an audit entry would record no changed field.
	ErrNoChanges = errors.New("audit entry has no changed fields")
	// ErrInvalidAuditEntry indicates that an audit entry violates the ledger schema.
	ErrInvalidAuditEntry = errors.New("invalid audit entry")
	// ErrInvalidGame indicates that a game creation request is malformed.
	ErrInvalidGame = errors.New("invalid game")
	// ErrInvalidComment indicates that a winner comment exceeds its bound.
	ErrInvalidComment = errors.New("invalid winner comment")
)

// ServiceError carries a stable kind and code together with the underlying cause.
type ServiceError struct {
	kind ErrorKind
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the "<operation>.<reason>" identifier.
func (e *ServiceError) Code() string {
	return e.code
}

// Kind returns the error classification.
func (e *ServiceError) Kind() ErrorKind {
	return e.kind
}

// Message returns text that is safe to show to a caller. Internal failures never
// expose their cause.
func (e *ServiceError) Message() string {
	if e.kind == KindInternal || e.err == nil {
		return internalErrorMessage
	}
	return e.err.Error()
}

func newServiceError(kind ErrorKind, operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{kind: kind, code: code, err: cause}
}

// KindOf reports the kind of err, treating anything that is not a ServiceError as internal.
func KindOf(err error) ErrorKind {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.kind
	}
	return KindInternal
}
