package registry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned on lookups that match no row or instance.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when an insert violates a uniqueness
	// constraint.
	ErrAlreadyExists = errors.New("already exists")

	ErrNotSaved            = errors.New("integration has not been persisted")
	ErrAlreadySaved        = errors.New("integration was already persisted")
	ErrDuplicateID         = errors.New("integration id is already registered")
	ErrUnknownKind         = errors.New("unknown integration kind")
	ErrAlreadyEnabled      = errors.New("integration is already enabled")
	ErrAlreadyDisabled     = errors.New("integration is already disabled")
	ErrTooManyIntegrations = errors.New("community integration limit reached")
)

// ValidationError means an integration's config or credentials are unusable.
// It is fatal to enabling but never to a running process.
type ValidationError struct {
	Reason string
	// MissingScopes is set when the remote credentials lack required
	// permission scopes.
	MissingScopes []string
	Err           error
}

func (e *ValidationError) Error() string {
	if len(e.MissingScopes) > 0 {
		return fmt.Sprintf("%s: missing scopes: %s", e.Reason, strings.Join(e.MissingScopes, ", "))
	}
	return e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

// BanError is a single-player remote ban failure.
type BanError struct {
	PlayerID string
	Err      error
}

func (e *BanError) Error() string {
	return fmt.Sprintf("ban player %s: %v", e.PlayerID, e.Err)
}

func (e *BanError) Unwrap() error { return e.Err }

// UnbanError is a single-player remote unban failure.
type UnbanError struct {
	PlayerID string
	Err      error
}

func (e *UnbanError) Error() string {
	return fmt.Sprintf("unban player %s: %v", e.PlayerID, e.Err)
}

func (e *UnbanError) Unwrap() error { return e.Err }

// BulkBanError aggregates the players that failed in a bulk ban. Successes in
// the same batch are kept.
type BulkBanError struct {
	PlayerIDs []string
	Err       error
}

func (e *BulkBanError) Error() string {
	return fmt.Sprintf("ban %d players (%s): %v", len(e.PlayerIDs), strings.Join(e.PlayerIDs, ", "), e.Err)
}

func (e *BulkBanError) Unwrap() error { return e.Err }

// BulkUnbanError aggregates the players that failed in a bulk unban.
type BulkUnbanError struct {
	PlayerIDs []string
	Err       error
}

func (e *BulkUnbanError) Error() string {
	return fmt.Sprintf("unban %d players (%s): %v", len(e.PlayerIDs), strings.Join(e.PlayerIDs, ", "), e.Err)
}

func (e *BulkUnbanError) Unwrap() error { return e.Err }

// AlreadyBannedError signals the ban precondition: a BanRecord already exists
// for the player. Callers treat it as a benign idempotency signal.
type AlreadyBannedError struct {
	PlayerID string
}

func (e *AlreadyBannedError) Error() string {
	return fmt.Sprintf("player %s is already banned", e.PlayerID)
}

// TypeMismatchError means a persisted integration was loaded with a different
// kind than the registered instance. That implies data corruption and is
// never retried.
type TypeMismatchError struct {
	ID         int64
	Registered Kind
	Requested  Kind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("integration %d is registered as %q, cannot load as %q", e.ID, e.Registered, e.Requested)
}

// IsPreconditionError reports whether err is one of the benign idempotency
// signals (already banned, no ban record) that mean the desired state already
// holds.
func IsPreconditionError(err error) bool {
	var already *AlreadyBannedError
	return errors.As(err, &already) || errors.Is(err, ErrNotFound)
}
